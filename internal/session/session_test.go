package session

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/elocute/elocute/internal/detector"
	"github.com/elocute/elocute/internal/gaze"
	"github.com/elocute/elocute/pkg/capture"
	capmock "github.com/elocute/elocute/pkg/capture/mock"
	"github.com/elocute/elocute/pkg/landmark"
	lmmock "github.com/elocute/elocute/pkg/landmark/mock"
)

var testBase = time.Unix(4000, 0)

func at(ms int) time.Time { return testBase.Add(time.Duration(ms) * time.Millisecond) }

// frontalPoints returns a refined mesh of a frontal face with open, centered
// eyes, enough for the gaze engine to report a detected face.
func frontalPoints() []landmark.Point {
	pts := make([]landmark.Point, landmark.RefinedMeshPointCount)
	for i := range pts {
		pts[i] = landmark.Point{X: 0.5, Y: 0.5}
	}
	set := func(i int, x, y float64) { pts[i] = landmark.Point{X: x, Y: y} }

	set(landmark.NoseTip, 0.5, 0.51)
	set(landmark.Forehead, 0.5, 0.30)
	set(landmark.Chin, 0.5, 0.72)

	set(landmark.LeftEyeOuter, 0.38, 0.45)
	set(landmark.LeftEyeInner, 0.46, 0.45)
	set(landmark.LeftEyeTop, 0.42, 0.438)
	set(landmark.LeftEyeBottom, 0.42, 0.462)
	set(landmark.LeftEyeRing[1], 0.40, 0.440)
	set(landmark.LeftEyeRing[2], 0.44, 0.440)
	set(landmark.LeftEyeRing[4], 0.44, 0.460)
	set(landmark.LeftEyeRing[5], 0.40, 0.460)
	set(landmark.LeftIrisCenter, 0.42, 0.45)

	set(landmark.RightEyeInner, 0.54, 0.45)
	set(landmark.RightEyeOuter, 0.62, 0.45)
	set(landmark.RightEyeTop, 0.58, 0.438)
	set(landmark.RightEyeBottom, 0.58, 0.462)
	set(landmark.RightEyeRing[1], 0.56, 0.440)
	set(landmark.RightEyeRing[2], 0.60, 0.440)
	set(landmark.RightEyeRing[4], 0.60, 0.460)
	set(landmark.RightEyeRing[5], 0.56, 0.460)
	set(landmark.RightIrisCenter, 0.58, 0.45)

	return pts
}

func videoFrameAt(ms int) capture.VideoFrame {
	return capture.VideoFrame{
		Pixels:    make([]byte, 2*2*4),
		Width:     2,
		Height:    2,
		Timestamp: at(ms),
	}
}

// audioBufferAt builds a steady time-domain buffer whose every sample sits
// offset above the 128 midpoint, giving volume = offset/128*100.
func audioBufferAt(ms int, offset byte) capture.AudioBuffer {
	td := make([]byte, 1024)
	for i := range td {
		td[i] = 128 + offset
	}
	return capture.AudioBuffer{TimeDomain: td, SampleRate: 44100, Timestamp: at(ms)}
}

// gazeSampleAt builds a detected gaze sample for direct commits.
func gazeSampleAt(ms int, x float64) gaze.Sample {
	return gaze.Sample{
		FaceDetected: true,
		Gaze:         gaze.Vector2{X: x},
		Attention:    0.8,
		Confidence:   0.9,
		Source:       landmark.ProvenancePrimary,
		Timestamp:    at(ms),
	}
}

func newDetector(t *testing.T, src landmark.Source) *detector.Manager {
	t.Helper()
	m := detector.New(detector.Config{}, src)
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("detector init: %v", err)
	}
	return m
}

func newSession(t *testing.T, cfg Config) *Session {
	t.Helper()
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

// frontalSession wires a session whose detector always sees a frontal face.
func frontalSession(t *testing.T, videoFrames []capture.VideoFrame, audio capture.AudioSource) *Session {
	t.Helper()
	det := newDetector(t, &lmmock.Source{
		Frames: []landmark.Frame{{Points: frontalPoints(), Confidence: 0.9}},
	})
	if audio == nil {
		audio = &capmock.AudioSource{}
	}
	return newSession(t, Config{
		Video:         &capmock.VideoSource{Frames: videoFrames},
		Audio:         audio,
		Detector:      det,
		ScoreInterval: time.Nanosecond,
	})
}

// panicSource panics on every Detect call.
type panicSource struct {
	lmmock.Source
}

func (p *panicSource) Detect(context.Context, capture.VideoFrame) (landmark.Frame, error) {
	panic("detector exploded")
}

// New requires all three collaborators.
func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New with no collaborators: want error")
	}

	det := newDetector(t, &lmmock.Source{})
	if _, err := New(Config{Video: &capmock.VideoSource{}, Audio: &capmock.AudioSource{}}); err == nil {
		t.Error("New without detector: want error")
	}

	s := newSession(t, Config{
		Video:    &capmock.VideoSource{},
		Audio:    &capmock.AudioSource{},
		Detector: det,
	})
	if s.ID() == uuid.Nil {
		t.Error("session ID is nil")
	}
}

// A video tick flows frame -> detection -> gaze sample -> window.
func TestVideoTick_PipelineFlow(t *testing.T) {
	s := frontalSession(t, []capture.VideoFrame{videoFrameAt(0)}, nil)

	s.videoTick(context.Background())

	got, ok := s.LatestGaze()
	if !ok {
		t.Fatal("LatestGaze ok = false after a processed tick")
	}
	if !got.FaceDetected {
		t.Fatal("FaceDetected = false for frontal face")
	}
	if got.Source != landmark.ProvenancePrimary {
		t.Errorf("source = %q, want primary", got.Source)
	}
	if got.EyeAspectRatio < 0.2 || got.EyeAspectRatio > 0.3 {
		t.Errorf("EyeAspectRatio = %v, want ~0.25", got.EyeAspectRatio)
	}
	if !got.Timestamp.Equal(at(0)) {
		t.Errorf("timestamp = %v, want frame timestamp", got.Timestamp)
	}
	if n := len(s.GazeWindow()); n != 1 {
		t.Errorf("gaze window length = %d, want 1", n)
	}
}

// A source with nothing new this tick leaves the previous results standing.
func TestVideoTick_NoDataHoldsPrevious(t *testing.T) {
	src := &capmock.VideoSource{Frames: []capture.VideoFrame{videoFrameAt(0)}}
	det := newDetector(t, &lmmock.Source{
		Frames: []landmark.Frame{{Points: frontalPoints(), Confidence: 0.9}},
	})
	s := newSession(t, Config{Video: src, Audio: &capmock.AudioSource{}, Detector: det})

	s.videoTick(context.Background())
	first, ok := s.LatestGaze()
	if !ok {
		t.Fatal("LatestGaze ok = false after first tick")
	}

	src.ReadErr = capture.ErrNoData
	s.videoTick(context.Background())

	held, ok := s.LatestGaze()
	if !ok || !held.Timestamp.Equal(first.Timestamp) {
		t.Errorf("skipped tick changed the latest sample: got %v, want %v", held.Timestamp, first.Timestamp)
	}
	if n := len(s.GazeWindow()); n != 1 {
		t.Errorf("gaze window length = %d after skipped tick, want 1", n)
	}
}

// A detector backend that panics still yields a committed undetected sample,
// and the panic counts toward the manager's failure threshold.
func TestVideoTick_PanickingDetectorYieldsUndetected(t *testing.T) {
	det := newDetector(t, &panicSource{})
	s := newSession(t, Config{
		Video:    &capmock.VideoSource{Frames: []capture.VideoFrame{videoFrameAt(0)}},
		Audio:    &capmock.AudioSource{},
		Detector: det,
	})

	s.videoTick(context.Background())

	got, ok := s.LatestGaze()
	if !ok {
		t.Fatal("LatestGaze ok = false; panicking tick should commit an undetected sample")
	}
	if got.FaceDetected {
		t.Error("FaceDetected = true for a panicking detector")
	}
	if det.Stats().Failures == 0 {
		t.Error("detector failure count = 0, want the panic counted")
	}
}

// An audio tick flows buffer -> voice sample -> window, features and score.
func TestAudioTick_PipelineFlow(t *testing.T) {
	audio := &capmock.AudioSource{Buffers: []capture.AudioBuffer{audioBufferAt(0, 32)}}
	s := frontalSession(t, nil, audio)

	s.audioTick(context.Background())

	got, ok := s.LatestVoice()
	if !ok {
		t.Fatal("LatestVoice ok = false after a processed tick")
	}
	if !got.Speaking {
		t.Fatal("Speaking = false for a loud buffer")
	}
	if got.Volume != 25 {
		t.Errorf("volume = %v, want 25", got.Volume)
	}

	feats := s.VoiceFeatures()
	if feats.SpeakingRatio != 1 {
		t.Errorf("speaking ratio = %v, want 1", feats.SpeakingRatio)
	}

	eng, ok := s.Engagement()
	if !ok {
		t.Fatal("Engagement ok = false; the first audio tick should score")
	}
	if eng.Voice.Score <= 0 {
		t.Errorf("voice score = %v, want > 0", eng.Voice.Score)
	}
	if eng.Voice.Confidence != 1 {
		t.Errorf("voice confidence = %v, want speaking ratio 1", eng.Voice.Confidence)
	}
	if eng.EyeContact.Score != 0 || eng.EyeContact.GazePattern != "none" {
		t.Errorf("eye side = %+v, want zero score and pattern none without gaze data", eng.EyeContact)
	}
	if !eng.Timestamp.Equal(at(0)) {
		t.Errorf("engagement timestamp = %v, want buffer timestamp", eng.Timestamp)
	}
}

// Scoring runs at its own cadence, not on every audio tick.
func TestAudioTick_ScoreCadence(t *testing.T) {
	audio := &capmock.AudioSource{Buffers: []capture.AudioBuffer{
		audioBufferAt(0, 32),
		audioBufferAt(50, 32),
	}}
	det := newDetector(t, &lmmock.Source{})
	s := newSession(t, Config{
		Video:         &capmock.VideoSource{},
		Audio:         audio,
		Detector:      det,
		ScoreInterval: time.Hour,
	})

	s.audioTick(context.Background())
	s.audioTick(context.Background())

	if n := len(s.VoiceWindow()); n != 2 {
		t.Errorf("voice window length = %d, want 2", n)
	}
	eng, ok := s.Engagement()
	if !ok {
		t.Fatal("Engagement ok = false")
	}
	if !eng.Timestamp.Equal(at(0)) {
		t.Errorf("engagement timestamp = %v, want the first tick's; the second should not rescore", eng.Timestamp)
	}
	if n := len(s.scorer.History()); n != 1 {
		t.Errorf("score history length = %d, want 1", n)
	}
}

// An exhausted audio source skips ticks without disturbing committed state.
func TestAudioTick_NoDataKeepsLastSample(t *testing.T) {
	audio := &capmock.AudioSource{Buffers: []capture.AudioBuffer{audioBufferAt(0, 32)}}
	s := frontalSession(t, nil, audio)

	s.audioTick(context.Background())
	s.audioTick(context.Background()) // source exhausted

	if n := len(s.VoiceWindow()); n != 1 {
		t.Errorf("voice window length = %d, want 1", n)
	}
	got, ok := s.LatestVoice()
	if !ok || !got.Timestamp.Equal(at(0)) {
		t.Error("skipped tick changed the latest voice sample")
	}
}

// Results completing after Stop are discarded by the generation token check.
func TestStop_DiscardsLateResults(t *testing.T) {
	video := &capmock.VideoSource{Frames: []capture.VideoFrame{videoFrameAt(0)}}
	det := newDetector(t, &lmmock.Source{
		Frames: []landmark.Frame{{Points: frontalPoints(), Confidence: 0.9}},
	})
	s := newSession(t, Config{Video: video, Audio: &capmock.AudioSource{}, Detector: det})

	s.videoTick(context.Background())
	gen := s.generation()

	s.Stop()

	s.commitVideo(gen, gazeSampleAt(100, 0.5))
	if n := len(s.GazeWindow()); n != 1 {
		t.Errorf("gaze window length = %d, want 1; the late commit must be discarded", n)
	}
	got, _ := s.LatestGaze()
	if !got.Timestamp.Equal(at(0)) {
		t.Errorf("latest sample timestamp = %v, want the pre-stop tick", got.Timestamp)
	}

	// Ticks after Stop return before touching the source.
	calls := video.ReadCalls
	s.videoTick(context.Background())
	if video.ReadCalls != calls {
		t.Error("videoTick read from the source after Stop")
	}
}

// Stop closes both capture sources and finalizes the recording exactly once.
func TestStop_ReleasesCapture(t *testing.T) {
	video := &capmock.VideoSource{}
	audio := &capmock.AudioSource{}
	det := newDetector(t, &lmmock.Source{})
	s := newSession(t, Config{Video: video, Audio: audio, Detector: det})

	s.Stop()
	s.Stop()

	if video.CloseCalls != 1 || audio.CloseCalls != 1 {
		t.Errorf("close calls = %d video, %d audio; want 1 each", video.CloseCalls, audio.CloseCalls)
	}
	if _, ok := s.Recording(); !ok {
		t.Error("Recording ok = false after Stop")
	}
	if s.Info().Active {
		t.Error("Info().Active = true after Stop")
	}
}

// The recorder sees every committed audio sample and survives into the
// finalized recording.
func TestAudioTicks_FeedRecorder(t *testing.T) {
	audio := &capmock.AudioSource{Buffers: []capture.AudioBuffer{
		audioBufferAt(0, 8),    // silent
		audioBufferAt(100, 32), // speaking
		audioBufferAt(200, 32), // speaking
		audioBufferAt(300, 8),  // silent
	}}
	s := frontalSession(t, nil, audio)
	s.recorder.Start(at(0))

	for range audio.Buffers {
		s.audioTick(context.Background())
	}
	rec := s.recorder.Stop(at(400))

	if len(rec.VoiceMetrics) != 4 {
		t.Fatalf("recorded samples = %d, want 4", len(rec.VoiceMetrics))
	}
	if len(rec.SpeechSegments) != 1 {
		t.Fatalf("speech segments = %d, want 1", len(rec.SpeechSegments))
	}
	if got := rec.SpeakingTime; got != 200*time.Millisecond {
		t.Errorf("speaking time = %v, want 200ms", got)
	}
}

// Calibrate re-derives the fixation radius from the live gaze window: steps
// that broke clusters before calibration extend one fixation afterwards.
func TestCalibrate_AdaptsToWindowJitter(t *testing.T) {
	s := frontalSession(t, nil, nil)
	gen := s.generation()

	for i := 0; i < 4; i++ {
		s.commitVideo(gen, gazeSampleAt(i*100, float64(i%2)*0.2))
	}
	before := s.GazeMetrics()
	if before.SaccadeCount == 0 {
		t.Fatal("expected saccades before calibration")
	}

	s.Calibrate() // mean displacement 0.2 -> radius 0.3

	for i := 4; i < 8; i++ {
		s.commitVideo(gen, gazeSampleAt(i*100, float64(i%2)*0.2))
	}
	after := s.GazeMetrics()
	if after.SaccadeCount != before.SaccadeCount {
		t.Errorf("saccade count grew after calibration: %d -> %d", before.SaccadeCount, after.SaccadeCount)
	}
	if after.FixationCount == 0 {
		t.Error("no fixation formed after calibration widened the radius")
	}
}

// The gaze window is bounded and hands out isolated copies.
func TestGazeWindow_BoundedSnapshots(t *testing.T) {
	det := newDetector(t, &lmmock.Source{})
	s := newSession(t, Config{
		Video:      &capmock.VideoSource{},
		Audio:      &capmock.AudioSource{},
		Detector:   det,
		GazeWindow: 3,
	})
	gen := s.generation()

	for i := 0; i < 5; i++ {
		s.commitVideo(gen, gazeSampleAt(i*100, 0))
	}

	w := s.GazeWindow()
	if len(w) != 3 {
		t.Fatalf("window length = %d, want 3", len(w))
	}
	if !w[0].Timestamp.Equal(at(200)) {
		t.Errorf("oldest retained = %v, want the third sample", w[0].Timestamp)
	}

	w[0].Attention = 99
	if s.GazeWindow()[0].Attention == 99 {
		t.Error("window snapshot aliases internal state")
	}
}

// A full start/stop cycle over real tickers: both loops sample, the score
// engine runs, and Stop drains cleanly and finalizes a recording.
func TestLifecycle_StartStop(t *testing.T) {
	det := newDetector(t, &lmmock.Source{
		Frames: []landmark.Frame{{Points: frontalPoints(), Confidence: 0.9}},
	})
	s := newSession(t, Config{
		Video:    &capmock.VideoSource{Frames: []capture.VideoFrame{videoFrameAt(0)}},
		Audio:    &capmock.SineAudioSource{Frequency: 220, Amplitude: 0.5},
		Detector: det,
		VideoHz:  15,
		AudioHz:  50,
	})

	s.Start(context.Background())
	if !s.Info().Active {
		t.Error("Info().Active = false while running")
	}
	time.Sleep(250 * time.Millisecond)
	rec := s.Stop()

	if _, ok := s.LatestGaze(); !ok {
		t.Error("no gaze sample after 250ms of sampling")
	}
	if _, ok := s.Engagement(); !ok {
		t.Error("no engagement score after 250ms of sampling")
	}
	if rec.Duration <= 0 {
		t.Fatalf("recording duration = %v, want > 0", rec.Duration)
	}
	if rec.SpeakingTime <= 0 || rec.SpeakingTime > rec.Duration {
		t.Errorf("speaking time = %v, want within (0, %v]", rec.SpeakingTime, rec.Duration)
	}

	again := s.Stop()
	if again.Duration != rec.Duration {
		t.Errorf("second Stop returned a different recording: %v != %v", again.Duration, rec.Duration)
	}
}
