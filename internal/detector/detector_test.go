package detector_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/elocute/elocute/internal/detector"
	"github.com/elocute/elocute/pkg/capture"
	"github.com/elocute/elocute/pkg/landmark"
	"github.com/elocute/elocute/pkg/landmark/mock"
)

var errBroken = errors.New("model exploded")

// faceFrame returns a populated frame with the given confidence.
func faceFrame(conf landmark.Confidence) landmark.Frame {
	return landmark.Frame{
		Points:     make([]landmark.Point, landmark.RefinedMeshPointCount),
		Confidence: conf,
	}
}

func frame() capture.VideoFrame {
	return capture.VideoFrame{Width: 2, Height: 2, Pixels: make([]byte, 16), Timestamp: time.Unix(7, 0)}
}

// panicSource is a landmark.Source whose Detect always panics.
type panicSource struct{}

func (panicSource) Name() string               { return "panicky" }
func (panicSource) Init(context.Context) error { return nil }
func (panicSource) Close() error               { return nil }

func (panicSource) Detect(context.Context, capture.VideoFrame) (landmark.Frame, error) {
	panic("detector crashed")
}

func TestInit_PrimaryHealthy(t *testing.T) {
	primary := &mock.Source{SourceName: "primary-mock"}
	m := detector.New(detector.Config{}, primary, &mock.Source{SourceName: "fallback-mock"})

	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if got := m.State(); got != detector.StatePrimary {
		t.Errorf("State() = %v, want %v", got, detector.StatePrimary)
	}
	if got := m.ActiveSource(); got != "primary-mock" {
		t.Errorf("ActiveSource() = %q, want %q", got, "primary-mock")
	}
	if primary.InitCalls != 1 {
		t.Errorf("primary InitCalls = %d, want 1", primary.InitCalls)
	}
}

func TestInit_PrimaryFailsFallbackServes(t *testing.T) {
	primary := &mock.Source{SourceName: "primary-mock", InitErr: errBroken}
	fallback := &mock.Source{SourceName: "fallback-mock"}
	m := detector.New(detector.Config{}, primary, fallback)

	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if got := m.State(); got != detector.StateFallback {
		t.Errorf("State() = %v, want %v", got, detector.StateFallback)
	}
	if got := m.ActiveSource(); got != "fallback-mock" {
		t.Errorf("ActiveSource() = %q, want %q", got, "fallback-mock")
	}
	if primary.CloseCalls != 1 {
		t.Errorf("failed primary CloseCalls = %d, want 1", primary.CloseCalls)
	}
}

func TestInit_TimeoutAdvances(t *testing.T) {
	// Primary blocks in Init until its context expires.
	primary := &mock.Source{SourceName: "primary-mock", InitDelay: make(chan struct{})}
	fallback := &mock.Source{SourceName: "fallback-mock"}
	m := detector.New(detector.Config{InitTimeout: 30 * time.Millisecond}, primary, fallback)

	start := time.Now()
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Init took %v, timeout did not fire", elapsed)
	}
	if got := m.State(); got != detector.StateFallback {
		t.Errorf("State() = %v, want %v", got, detector.StateFallback)
	}
}

func TestInit_AllFail(t *testing.T) {
	m := detector.New(detector.Config{},
		&mock.Source{SourceName: "a", InitErr: errBroken},
		&mock.Source{SourceName: "b", InitErr: errBroken})

	err := m.Init(context.Background())
	if !errors.Is(err, detector.ErrAllFailed) {
		t.Fatalf("Init error = %v, want ErrAllFailed", err)
	}
	if got := m.State(); got != detector.StateFailed {
		t.Errorf("State() = %v, want %v", got, detector.StateFailed)
	}

	// Failed manager still answers with empty frames, never panics.
	got := m.Detect(context.Background(), frame())
	if got.FaceDetected() {
		t.Error("failed manager produced a face frame")
	}
}

func TestInit_Twice(t *testing.T) {
	m := detector.New(detector.Config{}, &mock.Source{})
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := m.Init(context.Background()); err == nil {
		t.Fatal("second Init succeeded, want error")
	}
}

func TestDetect_StampsPrimaryProvenance(t *testing.T) {
	// The source claims fallback provenance; the manager overrides it with
	// the tier it actually occupies.
	primary := &mock.Source{Frames: []landmark.Frame{
		{Points: make([]landmark.Point, 478), Source: landmark.ProvenanceFallback, Confidence: 0.9},
	}}
	m := detector.New(detector.Config{}, primary)
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	got := m.Detect(context.Background(), frame())
	if got.Source != landmark.ProvenancePrimary {
		t.Errorf("source = %q, want %q", got.Source, landmark.ProvenancePrimary)
	}
	if got.Confidence != 0.9 {
		t.Errorf("confidence = %v, want 0.9 (uncapped on primary)", got.Confidence)
	}
}

func TestDetect_FallbackCapsConfidence(t *testing.T) {
	primary := &mock.Source{SourceName: "primary-mock", InitErr: errBroken}
	fallback := &mock.Source{SourceName: "fallback-mock", Frames: []landmark.Frame{faceFrame(0.9)}}
	m := detector.New(detector.Config{}, primary, fallback)
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	got := m.Detect(context.Background(), frame())
	if got.Source != landmark.ProvenanceFallback {
		t.Errorf("source = %q, want %q", got.Source, landmark.ProvenanceFallback)
	}
	if got.Confidence != landmark.FallbackConfidenceCeiling {
		t.Errorf("confidence = %v, want capped at %v", got.Confidence, landmark.FallbackConfidenceCeiling)
	}
}

func TestDetect_ConsecutiveFailuresAdvance(t *testing.T) {
	primary := &mock.Source{
		SourceName: "primary-mock",
		DetectErrs: []error{errBroken, errBroken, errBroken},
	}
	fallback := &mock.Source{SourceName: "fallback-mock", Frames: []landmark.Frame{faceFrame(0.4)}}
	m := detector.New(detector.Config{}, primary, fallback)
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	// Failures 1 and 2: empty frames, still primary.
	for i := 0; i < 2; i++ {
		got := m.Detect(context.Background(), frame())
		if got.FaceDetected() {
			t.Fatalf("call %d: got face frame during failure run", i+1)
		}
		if st := m.State(); st != detector.StatePrimary {
			t.Fatalf("call %d: state = %v, want primary", i+1, st)
		}
	}

	// Failure 3 crosses the threshold: this tick is empty and the manager
	// transitions.
	got := m.Detect(context.Background(), frame())
	if got.FaceDetected() {
		t.Fatal("transition tick produced a face frame")
	}
	if st := m.State(); st != detector.StateFallback {
		t.Fatalf("state after threshold = %v, want fallback", st)
	}
	if primary.CloseCalls != 1 {
		t.Errorf("demoted primary CloseCalls = %d, want 1", primary.CloseCalls)
	}

	// Subsequent ticks serve from the fallback; the primary is never retried.
	got = m.Detect(context.Background(), frame())
	if !got.FaceDetected() || got.Source != landmark.ProvenanceFallback {
		t.Errorf("post-transition frame = %+v, want fallback face frame", got)
	}
	if primary.DetectCalls != 3 {
		t.Errorf("primary DetectCalls = %d, want 3 (no retry after demotion)", primary.DetectCalls)
	}
}

func TestDetect_SuccessResetsFailureCount(t *testing.T) {
	primary := &mock.Source{
		SourceName: "primary-mock",
		DetectErrs: []error{errBroken, errBroken, nil, errBroken, errBroken, nil},
	}
	m := detector.New(detector.Config{}, primary, &mock.Source{SourceName: "fallback-mock"})
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	for i := 0; i < 6; i++ {
		m.Detect(context.Background(), frame())
	}
	if st := m.State(); st != detector.StatePrimary {
		t.Errorf("state = %v, want primary (failure run never reached 3)", st)
	}
	if got := m.Stats().ConsecutiveFailures; got != 0 {
		t.Errorf("ConsecutiveFailures = %d, want 0 after success", got)
	}
}

func TestDetect_NoFaceIsNotFailure(t *testing.T) {
	// A source with no scripted frames answers with valid empty frames.
	primary := &mock.Source{SourceName: "primary-mock"}
	m := detector.New(detector.Config{}, primary)
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	for i := 0; i < 5; i++ {
		got := m.Detect(context.Background(), frame())
		if got.FaceDetected() {
			t.Fatal("unexpected face frame")
		}
	}
	stats := m.Stats()
	if stats.Failures != 0 {
		t.Errorf("Failures = %d, want 0 (no face is a valid result)", stats.Failures)
	}
	if stats.State != detector.StatePrimary {
		t.Errorf("state = %v, want primary", stats.State)
	}
}

func TestDetect_PanicCountsAsFailure(t *testing.T) {
	fallback := &mock.Source{SourceName: "fallback-mock", Frames: []landmark.Frame{faceFrame(0.4)}}
	m := detector.New(detector.Config{}, panicSource{}, fallback)
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	for i := 0; i < 3; i++ {
		m.Detect(context.Background(), frame())
	}
	if st := m.State(); st != detector.StateFallback {
		t.Errorf("state after 3 panics = %v, want fallback", st)
	}
}

func TestDetect_ContextCancellationIsNeutral(t *testing.T) {
	primary := &mock.Source{
		SourceName: "primary-mock",
		DetectErrs: []error{context.Canceled, context.Canceled, context.Canceled, context.Canceled},
	}
	m := detector.New(detector.Config{}, primary)
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	for i := 0; i < 4; i++ {
		m.Detect(context.Background(), frame())
	}
	stats := m.Stats()
	if stats.Failures != 0 {
		t.Errorf("Failures = %d, want 0 (cancellation is not a detector fault)", stats.Failures)
	}
	if stats.State != detector.StatePrimary {
		t.Errorf("state = %v, want primary", stats.State)
	}
}

func TestDetect_ExhaustionIsTerminal(t *testing.T) {
	primary := &mock.Source{
		SourceName: "primary-mock",
		DetectErrs: []error{errBroken, errBroken, errBroken},
	}
	fallback := &mock.Source{
		SourceName: "fallback-mock",
		DetectErrs: []error{errBroken, errBroken, errBroken},
	}
	m := detector.New(detector.Config{}, primary, fallback)
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	for i := 0; i < 6; i++ {
		m.Detect(context.Background(), frame())
	}
	if st := m.State(); st != detector.StateFailed {
		t.Fatalf("state = %v, want failed", st)
	}

	// Terminal state keeps answering empty frames without touching sources.
	before := fallback.DetectCalls
	for i := 0; i < 3; i++ {
		got := m.Detect(context.Background(), frame())
		if got.FaceDetected() {
			t.Fatal("failed manager produced a face frame")
		}
	}
	if fallback.DetectCalls != before {
		t.Errorf("failed manager still calls sources: %d -> %d", before, fallback.DetectCalls)
	}
}

func TestStats_CountsFrames(t *testing.T) {
	primary := &mock.Source{SourceName: "primary-mock", Frames: []landmark.Frame{faceFrame(0.8)}}
	m := detector.New(detector.Config{}, primary)
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	for i := 0; i < 7; i++ {
		m.Detect(context.Background(), frame())
	}
	stats := m.Stats()
	if stats.FramesTotal != 7 {
		t.Errorf("FramesTotal = %d, want 7", stats.FramesTotal)
	}
	if stats.ActiveSource != "primary-mock" {
		t.Errorf("ActiveSource = %q, want %q", stats.ActiveSource, "primary-mock")
	}
}

func TestClose_ClosesAllTiers(t *testing.T) {
	primary := &mock.Source{SourceName: "primary-mock"}
	fallback := &mock.Source{SourceName: "fallback-mock"}
	m := detector.New(detector.Config{}, primary, fallback)
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if primary.CloseCalls != 1 {
		t.Errorf("primary CloseCalls = %d, want 1", primary.CloseCalls)
	}
	if fallback.CloseCalls != 1 {
		t.Errorf("fallback CloseCalls = %d, want 1", fallback.CloseCalls)
	}
	if st := m.State(); st != detector.StateFailed {
		t.Errorf("state after Close = %v, want failed", st)
	}
}
