package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/elocute/elocute/internal/config"
	"github.com/elocute/elocute/internal/detector"
	"github.com/elocute/elocute/internal/gaze"
	"github.com/elocute/elocute/internal/observe"
	"github.com/elocute/elocute/internal/score"
	"github.com/elocute/elocute/internal/session"
	"github.com/elocute/elocute/internal/voice"
	"github.com/elocute/elocute/pkg/capture"
)

// CaptureFactory produces a fresh capture source pair for one session. The
// sources belong to the session afterwards; it closes them on Stop.
type CaptureFactory func() (capture.VideoSource, capture.AudioSource, error)

// SessionManagerConfig holds the dependencies of a [SessionManager].
type SessionManagerConfig struct {
	// Config supplies the pipeline thresholds and cadence. Nil means all
	// engine defaults.
	Config *config.Config

	// Detector is the initialized landmark manager, shared across sessions.
	Detector *detector.Manager

	// Capture produces the capture pair for each new session.
	Capture CaptureFactory

	// Metrics receives pipeline instrumentation. When nil,
	// [observe.DefaultMetrics] is used.
	Metrics *observe.Metrics
}

// SessionManager manages the lifecycle of practice sessions. Only one session
// can be active at a time. All exported methods are safe for concurrent use.
type SessionManager struct {
	cfg     *config.Config
	det     *detector.Manager
	capture CaptureFactory
	met     *observe.Metrics

	mu            sync.Mutex
	current       *session.Session
	lastRecording voice.Recording
	haveRecording bool
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	met := cfg.Metrics
	if met == nil {
		met = observe.DefaultMetrics()
	}
	return &SessionManager{
		cfg:     cfg.Config,
		det:     cfg.Detector,
		capture: cfg.Capture,
		met:     met,
	}
}

// Start begins a new practice session: it obtains a capture pair from the
// factory, builds the session pipeline and starts the sampling loops. ctx
// bounds only the setup work — the session itself runs until [Stop].
//
// Returns [session.ErrSessionActive] if a session is already running.
func (sm *SessionManager) Start(ctx context.Context) (session.Info, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.current != nil {
		return session.Info{}, fmt.Errorf("%w (id=%s)", session.ErrSessionActive, sm.current.ID())
	}
	if sm.capture == nil {
		return session.Info{}, errors.New("app: no capture factory configured")
	}
	if err := ctx.Err(); err != nil {
		return session.Info{}, err
	}

	video, audio, err := sm.capture()
	if err != nil {
		return session.Info{}, fmt.Errorf("app: open capture: %w", err)
	}

	sess, err := session.New(sessionConfig(sm.cfg, video, audio, sm.det, sm.met))
	if err != nil {
		_ = video.Close()
		_ = audio.Close()
		return session.Info{}, fmt.Errorf("app: create session: %w", err)
	}

	// The session outlives the calling request; its lifetime is bounded by
	// Stop, not by ctx.
	sess.Start(context.Background())
	sm.current = sess

	info := sess.Info()
	slog.Info("practice session started",
		"session_id", info.ID,
		"detector", info.Detector,
		"detector_state", info.DetectorState,
	)
	return info, nil
}

// Stop ends the active session and returns its finalized recording.
//
// Returns [session.ErrNoSession] if nothing is running.
func (sm *SessionManager) Stop() (voice.Recording, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.current == nil {
		return voice.Recording{}, session.ErrNoSession
	}

	sess := sm.current
	rec := sess.Stop()
	sm.current = nil
	sm.lastRecording = rec
	sm.haveRecording = true

	slog.Info("practice session stopped",
		"session_id", sess.ID(),
		"duration", rec.Duration,
	)
	return rec, nil
}

// Current returns the active session, or ok=false when none is running.
func (sm *SessionManager) Current() (*session.Session, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.current, sm.current != nil
}

// IsActive reports whether a session is currently running.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.current != nil
}

// Info returns metadata about the active session, with ok=false when none is
// running.
func (sm *SessionManager) Info() (session.Info, bool) {
	sm.mu.Lock()
	sess := sm.current
	sm.mu.Unlock()

	if sess == nil {
		return session.Info{}, false
	}
	return sess.Info(), true
}

// Recording returns the most recent finalized recording: the current
// session's once it ends, kept available until the next session starts
// producing one. ok is false while a session is still running.
func (sm *SessionManager) Recording() (voice.Recording, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.current != nil {
		return sm.current.Recording()
	}
	return sm.lastRecording, sm.haveRecording
}

// Calibrate adapts the active session's fixation clustering to the gaze
// samples observed so far. Returns [session.ErrNoSession] when nothing is
// running.
func (sm *SessionManager) Calibrate() error {
	sm.mu.Lock()
	sess := sm.current
	sm.mu.Unlock()

	if sess == nil {
		return session.ErrNoSession
	}
	sess.Calibrate()
	return nil
}

// LastSample reports the timestamp of the most recent committed sample on
// either modality and whether a session is active. The readiness staleness
// check uses it to catch a wedged pipeline.
func (sm *SessionManager) LastSample() (time.Time, bool) {
	sm.mu.Lock()
	sess := sm.current
	sm.mu.Unlock()

	if sess == nil {
		return time.Time{}, false
	}

	var last time.Time
	if g, ok := sess.LatestGaze(); ok {
		last = g.Timestamp
	}
	if v, ok := sess.LatestVoice(); ok && v.Timestamp.After(last) {
		last = v.Timestamp
	}
	return last, true
}

// sessionConfig maps the file configuration onto a session.Config. Zero
// values fall through to the engine defaults.
func sessionConfig(cfg *config.Config, video capture.VideoSource, audio capture.AudioSource, det *detector.Manager, met *observe.Metrics) session.Config {
	sc := session.Config{
		Video:    video,
		Audio:    audio,
		Detector: det,
		Metrics:  met,
	}
	if cfg == nil {
		return sc
	}

	sc.VideoHz = cfg.Session.VideoSampleHz
	sc.AudioHz = cfg.Session.AudioSampleHz
	sc.ScoreInterval = msDuration(cfg.Session.ScoreIntervalMS)
	sc.GazeWindow = cfg.Session.GazeWindow
	sc.VoiceWindow = cfg.Session.VoiceWindow

	sc.Gaze = gaze.EngineConfig{
		BlinkEARThreshold:   cfg.Gaze.BlinkEARThreshold,
		BlinkDebounce:       msDuration(cfg.Gaze.BlinkDebounceMS),
		GazeCenterThreshold: cfg.Gaze.GazeCenterThreshold,
		PoseCenterThreshold: cfg.Gaze.PoseCenterThreshold,
	}
	sc.Pattern = gaze.AnalyzerConfig{
		FixationRadius:      cfg.Gaze.FixationRadius,
		MinFixationDuration: msDuration(cfg.Gaze.MinFixationMS),
	}
	sc.Voice = voice.EngineConfig{
		SpeakingThreshold: cfg.Voice.SpeakingThreshold,
		PitchMinHz:        cfg.Voice.PitchMinHz,
		PitchMaxHz:        cfg.Voice.PitchMaxHz,
		FillerDebounce:    msDuration(cfg.Voice.FillerDebounceMS),
	}
	sc.Recorder = voice.RecorderConfig{
		PeakVolume:   cfg.Voice.PeakVolume,
		ValleyVolume: cfg.Voice.ValleyVolume,
	}
	sc.Score = score.Config{
		HistorySize: cfg.Score.HistorySize,
		TrendDelta:  cfg.Score.TrendDelta,
	}
	return sc
}

// msDuration converts a millisecond count from the config file.
func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
