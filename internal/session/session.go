// Package session drives one live practice run: it owns the sampling loops
// that pull camera frames and audio analysis windows from the capture
// collaborators, push them through the detection and metric engines, and keep
// bounded windows of results for the web surface to snapshot.
//
// A [Session] runs two loops, one per modality, each on its own goroutine
// with a time.Ticker. The video loop feeds the detector manager and the gaze
// engine and pattern analyzer; the audio loop feeds the voice engine and the
// recorder, and folds both modalities into an engagement score at a fixed
// cadence. The engines themselves are single-owner and touched only from
// their loop goroutine; everything the rest of the process may read lives
// behind the session mutex and is handed out as copies.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/elocute/elocute/internal/detector"
	"github.com/elocute/elocute/internal/gaze"
	"github.com/elocute/elocute/internal/observe"
	"github.com/elocute/elocute/internal/score"
	"github.com/elocute/elocute/internal/voice"
	"github.com/elocute/elocute/pkg/capture"
	"github.com/elocute/elocute/pkg/landmark"
	"github.com/elocute/elocute/pkg/ring"
)

// Default sampling parameters.
const (
	defaultVideoHz       = 12
	maxVideoHz           = 15
	defaultAudioHz       = 20
	defaultScoreInterval = 1 * time.Second
	defaultGazeWindow    = 100
	defaultVoiceWindow   = 100
)

var (
	// ErrSessionActive is returned by lifecycle managers when a caller tries
	// to start a session while one is already running.
	ErrSessionActive = errors.New("session: already active")

	// ErrNoSession is returned by operations that need a running session.
	ErrNoSession = errors.New("session: no active session")
)

// Config configures a [Session]. Video, Audio and Detector are required; the
// detector manager must already be initialized.
type Config struct {
	// Video supplies camera frames for the video loop.
	Video capture.VideoSource

	// Audio supplies analysis windows for the audio loop.
	Audio capture.AudioSource

	// Detector runs landmark detection with health-gated fallback.
	Detector *detector.Manager

	// VideoHz is the video sampling rate. Defaults to 12, capped at 15 —
	// detection latency above that rate starves the rest of the tick.
	VideoHz int

	// AudioHz is the audio sampling rate. Defaults to 20.
	AudioHz int

	// ScoreInterval is how often the audio loop folds both modalities into an
	// engagement score. Defaults to 1s, which also sets the trend resolution.
	ScoreInterval time.Duration

	// GazeWindow and VoiceWindow bound the retained per-tick samples.
	// Defaults: 100 each.
	GazeWindow  int
	VoiceWindow int

	// Gaze, Pattern, Voice, Recorder and Score configure the owned engines.
	// Zero values select the engine defaults.
	Gaze     gaze.EngineConfig
	Pattern  gaze.AnalyzerConfig
	Voice    voice.EngineConfig
	Recorder voice.RecorderConfig
	Score    score.Config

	// Metrics receives pipeline instrumentation. When nil,
	// [observe.DefaultMetrics] is used.
	Metrics *observe.Metrics
}

func (c Config) withDefaults() Config {
	if c.VideoHz <= 0 {
		c.VideoHz = defaultVideoHz
	}
	if c.VideoHz > maxVideoHz {
		c.VideoHz = maxVideoHz
	}
	if c.AudioHz <= 0 {
		c.AudioHz = defaultAudioHz
	}
	if c.ScoreInterval <= 0 {
		c.ScoreInterval = defaultScoreInterval
	}
	if c.GazeWindow <= 0 {
		c.GazeWindow = defaultGazeWindow
	}
	if c.VoiceWindow <= 0 {
		c.VoiceWindow = defaultVoiceWindow
	}
	if c.Metrics == nil {
		c.Metrics = observe.DefaultMetrics()
	}
	return c
}

// Info is a point-in-time description of a session for API responses.
type Info struct {
	ID            uuid.UUID `json:"id"`
	StartedAt     time.Time `json:"startedAt"`
	Active        bool      `json:"active"`
	Detector      string    `json:"detector"`
	DetectorState string    `json:"detectorState"`
}

// Session owns one live practice run.
//
// Create with [New], begin sampling with [Session.Start], and end the run
// with [Session.Stop]. The snapshot accessors are safe to call from any
// goroutine at any point in the lifecycle and always return copies.
type Session struct {
	cfg Config
	id  uuid.UUID
	met *observe.Metrics

	detector *detector.Manager
	gazeEng  *gaze.Engine
	voiceEng *voice.Engine

	videoInterval time.Duration
	audioInterval time.Duration

	started  time.Time
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	mu sync.Mutex
	// gen is the generation token. Ticks capture it before running the
	// pipeline and commits compare it; Stop clears it, so a tick that was in
	// flight when the session ended discards its result instead of mutating
	// a finalized session.
	gen         uuid.UUID
	pattern     *gaze.Analyzer
	recorder    *voice.Recorder
	scorer      *score.Engine
	gazeWindow  *ring.Buffer[gaze.Sample]
	voiceWindow *ring.Buffer[voice.Sample]
	latestGaze  gaze.Sample
	haveGaze    bool
	latestVoice voice.Sample
	haveVoice   bool
	features    voice.Features
	engagement  score.Engagement
	haveScore   bool
	lastScoreAt time.Time
	recording   voice.Recording
	finalized   bool
}

// New creates a [Session] with the given configuration. The session does not
// sample until [Session.Start] is called.
func New(cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()
	if cfg.Video == nil || cfg.Audio == nil {
		return nil, errors.New("session: video and audio sources are required")
	}
	if cfg.Detector == nil {
		return nil, errors.New("session: detector manager is required")
	}

	return &Session{
		cfg:           cfg,
		id:            uuid.New(),
		met:           cfg.Metrics,
		detector:      cfg.Detector,
		gazeEng:       gaze.NewEngine(cfg.Gaze),
		voiceEng:      voice.NewEngine(cfg.Voice),
		videoInterval: time.Second / time.Duration(cfg.VideoHz),
		audioInterval: time.Second / time.Duration(cfg.AudioHz),
		gen:           uuid.New(),
		pattern:       gaze.NewAnalyzer(cfg.Pattern),
		recorder:      voice.NewRecorder(cfg.Recorder),
		scorer:        score.NewEngine(cfg.Score),
		gazeWindow:    ring.New[gaze.Sample](cfg.GazeWindow),
		voiceWindow:   ring.New[voice.Sample](cfg.VoiceWindow),
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Start begins both sampling loops. Must be called once; the loops run until
// [Session.Stop] is called or ctx is cancelled.
func (s *Session) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.mu.Lock()
	s.started = time.Now()
	s.recorder.Start(s.started)
	s.mu.Unlock()

	s.met.ActiveSessions.Add(ctx, 1)

	s.wg.Add(2)
	go s.videoLoop(ctx)
	go s.audioLoop(ctx)

	slog.Info("session started",
		"session_id", s.id,
		"video_hz", s.cfg.VideoHz,
		"audio_hz", s.cfg.AudioHz,
		"detector", s.detector.ActiveSource(),
	)
}

// Stop halts both loops, finalizes the recording and releases the capture
// sources. It blocks until any in-flight tick has drained; results that
// complete after the token was cleared are discarded. Safe to call multiple
// times; every call returns the finalized recording.
func (s *Session) Stop() voice.Recording {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.gen = uuid.Nil
		s.mu.Unlock()

		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()

		end := time.Now()
		s.mu.Lock()
		s.recording = s.recorder.Stop(end)
		s.finalized = true
		started := s.started
		s.mu.Unlock()

		if err := s.cfg.Video.Close(); err != nil {
			slog.Warn("video source close failed", "session_id", s.id, "error", err)
		}
		if err := s.cfg.Audio.Close(); err != nil {
			slog.Warn("audio source close failed", "session_id", s.id, "error", err)
		}
		s.met.ActiveSessions.Add(context.Background(), -1)

		slog.Info("session stopped",
			"session_id", s.id,
			"duration", end.Sub(started),
		)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

// Info describes the session for API responses.
func (s *Session) Info() Info {
	s.mu.Lock()
	started := s.started
	active := s.gen != uuid.Nil && !started.IsZero()
	s.mu.Unlock()

	return Info{
		ID:            s.id,
		StartedAt:     started,
		Active:        active,
		Detector:      s.detector.ActiveSource(),
		DetectorState: s.detector.State().String(),
	}
}

// Calibrate re-derives the fixation radius from the gaze samples currently
// in the window. Call it after the subject has looked at the screen for a
// couple of seconds; [gaze.Analyzer.Calibrate] describes the adaptation.
func (s *Session) Calibrate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pattern.Calibrate(s.gazeWindow.Snapshot())
}

// LatestGaze returns the most recent gaze sample. ok is false before the
// first processed video tick.
func (s *Session) LatestGaze() (gaze.Sample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestGaze, s.haveGaze
}

// GazeWindow returns a copy of the retained gaze samples, oldest first.
func (s *Session) GazeWindow() []gaze.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gazeWindow.Snapshot()
}

// GazeMetrics returns the current pattern metrics (fixations, saccades,
// heatmap aggregates).
func (s *Session) GazeMetrics() gaze.PatternMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pattern.Metrics()
}

// LatestVoice returns the most recent voice sample. ok is false before the
// first processed audio tick.
func (s *Session) LatestVoice() (voice.Sample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestVoice, s.haveVoice
}

// VoiceWindow returns a copy of the retained voice samples, oldest first.
func (s *Session) VoiceWindow() []voice.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voiceWindow.Snapshot()
}

// VoiceFeatures returns the aggregate features as of the last audio tick.
func (s *Session) VoiceFeatures() voice.Features {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.features
}

// Engagement returns the most recent fused engagement score. ok is false
// until the first scoring pass has run.
func (s *Session) Engagement() (score.Engagement, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engagement, s.haveScore
}

// Recording returns the finalized recording. ok is false while the session
// is still running.
func (s *Session) Recording() (voice.Recording, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording, s.finalized
}

// generation returns the current token, or uuid.Nil once the session has
// been stopped.
func (s *Session) generation() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// videoLoop runs the video sampling ticker.
func (s *Session) videoLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.videoInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.videoTick(ctx)
		}
	}
}

// audioLoop runs the audio sampling ticker.
func (s *Session) audioLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.audioInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.audioTick(ctx)
		}
	}
}

// videoTick pulls one frame and runs detection and gaze analysis. A source
// with no new frame skips the tick and the previous results hold.
func (s *Session) videoTick(ctx context.Context) {
	gen := s.generation()
	if gen == uuid.Nil {
		return
	}

	start := time.Now()
	defer func() {
		elapsed := time.Since(start)
		s.met.VideoTickDuration.Record(ctx, elapsed.Seconds())
		if elapsed > s.videoInterval {
			s.met.RecordTickOverrun(ctx, "video")
		}
	}()

	frame, err := s.cfg.Video.ReadFrame()
	if err != nil {
		if !errors.Is(err, capture.ErrNoData) {
			slog.Warn("video frame read failed", "session_id", s.id, "error", err)
		}
		return
	}

	sample := s.processFrame(ctx, frame)
	s.commitVideo(gen, sample)
}

// processFrame runs the video pipeline stages with panic containment. A
// panicking stage yields the canonical undetected sample for this tick;
// panics inside detection itself are already contained (and counted) by the
// detector manager, so a panic here says nothing about detector health.
func (s *Session) processFrame(ctx context.Context, frame capture.VideoFrame) (sample gaze.Sample) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("video tick panicked",
				"session_id", s.id,
				"panic", r,
			)
			sample = gaze.Undetected(frame.Timestamp, s.activeProvenance())
		}
	}()

	return s.gazeEng.Process(s.detector.Detect(ctx, frame))
}

// commitVideo publishes one video tick's results unless the session stopped
// while the tick was in flight.
func (s *Session) commitVideo(gen uuid.UUID, sample gaze.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return
	}

	s.pattern.Observe(sample)
	s.gazeWindow.Push(sample)
	s.latestGaze = sample
	s.haveGaze = true
}

// audioTick pulls one analysis window and runs the voice pipeline, folding
// in an engagement score at the configured cadence. A source with no new
// window skips the tick and the previous sample stays stale.
func (s *Session) audioTick(ctx context.Context) {
	gen := s.generation()
	if gen == uuid.Nil {
		return
	}

	start := time.Now()
	defer func() {
		elapsed := time.Since(start)
		s.met.AudioTickDuration.Record(ctx, elapsed.Seconds())
		if elapsed > s.audioInterval {
			s.met.RecordTickOverrun(ctx, "audio")
		}
	}()

	buf, err := s.cfg.Audio.ReadBuffer()
	if err != nil {
		if !errors.Is(err, capture.ErrNoData) {
			slog.Warn("audio buffer read failed", "session_id", s.id, "error", err)
		}
		return
	}

	sample, feats, ok := s.processBuffer(buf)
	if !ok {
		return
	}
	s.commitAudio(ctx, gen, start, sample, feats)
}

// processBuffer runs the audio pipeline stages with panic containment. A
// panicking stage drops the tick.
func (s *Session) processBuffer(buf capture.AudioBuffer) (sample voice.Sample, feats voice.Features, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("audio tick panicked",
				"session_id", s.id,
				"panic", r,
			)
			ok = false
		}
	}()

	sample = s.voiceEng.Process(buf)
	return sample, s.voiceEng.Features(), true
}

// commitAudio publishes one audio tick's results unless the session stopped
// while the tick was in flight.
func (s *Session) commitAudio(ctx context.Context, gen uuid.UUID, now time.Time, sample voice.Sample, feats voice.Features) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return
	}

	s.recorder.Observe(sample)
	s.voiceWindow.Push(sample)
	s.latestVoice = sample
	s.haveVoice = true
	s.features = feats

	for _, f := range sample.Fillers {
		s.met.RecordFiller(ctx, f.Word)
	}

	if now.Sub(s.lastScoreAt) >= s.cfg.ScoreInterval {
		s.lastScoreAt = now
		g := score.GazeInput{
			Attention: s.meanAttentionLocked(),
			Metrics:   s.pattern.Metrics(),
		}
		s.engagement = s.scorer.Compute(g, feats, sample.Timestamp)
		s.haveScore = true
		s.met.RecordEngagement(ctx, s.engagement.OverallScore)
	}
}

// meanAttentionLocked averages attention over the detected samples in the
// gaze window. Must be called with s.mu held.
func (s *Session) meanAttentionLocked() float64 {
	var sum float64
	var n int
	for _, g := range s.gazeWindow.Snapshot() {
		if !g.FaceDetected {
			continue
		}
		sum += g.Attention
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// activeProvenance maps the detector state to the provenance to stamp on
// samples produced without a detection result.
func (s *Session) activeProvenance() landmark.Provenance {
	if s.detector.State() == detector.StateFallback {
		return landmark.ProvenanceFallback
	}
	return landmark.ProvenancePrimary
}
