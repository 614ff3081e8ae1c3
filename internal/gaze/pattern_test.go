package gaze

import (
	"math"
	"testing"
	"time"
)

func gazeSample(ms int, x, y float64) Sample {
	return Sample{FaceDetected: true, Gaze: Vector2{X: x, Y: y}, Timestamp: at(ms)}
}

func undetectedSample(ms int) Sample {
	return Sample{Timestamp: at(ms)}
}

func TestObserve_SteadyGazeIsOneFixation(t *testing.T) {
	a := NewAnalyzer(AnalyzerConfig{})
	for i := 0; i < 5; i++ {
		a.Observe(gazeSample(i*100, 0, 0))
	}

	fixations := a.Fixations()
	if len(fixations) != 1 {
		t.Fatalf("fixations: got %d, want 1 (open cluster past the dwell minimum)", len(fixations))
	}
	f := fixations[0]
	if f.Duration != 400*time.Millisecond {
		t.Errorf("duration = %v, want 400ms", f.Duration)
	}
	if f.Center.X != 0 || f.Center.Y != 0 {
		t.Errorf("center = %+v, want origin", f.Center)
	}
	if got := a.Saccades(); len(got) != 0 {
		t.Errorf("saccades: got %d, want 0", len(got))
	}
}

func TestObserve_JumpRecordsSaccade(t *testing.T) {
	a := NewAnalyzer(AnalyzerConfig{})
	for i := 0; i < 4; i++ {
		a.Observe(gazeSample(i*100, -0.5, 0))
	}
	a.Observe(gazeSample(400, 0.5, 0))

	fixations := a.Fixations()
	if len(fixations) != 1 {
		t.Fatalf("fixations: got %d, want 1", len(fixations))
	}
	if fixations[0].Duration != 300*time.Millisecond {
		t.Errorf("fixation duration = %v, want 300ms", fixations[0].Duration)
	}
	if fixations[0].Center.X != -0.5 {
		t.Errorf("fixation center.X = %v, want -0.5", fixations[0].Center.X)
	}

	saccades := a.Saccades()
	if len(saccades) != 1 {
		t.Fatalf("saccades: got %d, want 1", len(saccades))
	}
	s := saccades[0]
	if s.From.X != -0.5 || s.To.X != 0.5 {
		t.Errorf("saccade endpoints = %+v -> %+v, want -0.5 -> 0.5", s.From, s.To)
	}
	if math.Abs(s.Amplitude-1.0) > 1e-9 {
		t.Errorf("amplitude = %v, want 1.0", s.Amplitude)
	}
	if math.Abs(s.Velocity-10.0) > 1e-6 {
		t.Errorf("velocity = %v, want 10 units/s over 100ms", s.Velocity)
	}
}

func TestObserve_AlternatingGazeNeverFixates(t *testing.T) {
	a := NewAnalyzer(AnalyzerConfig{})
	for i := 0; i < 30; i++ {
		x := 0.8
		if i%2 == 0 {
			x = -0.8
		}
		a.Observe(gazeSample(i*83, x, 0))
	}

	m := a.Metrics()
	if m.FixationCount != 0 {
		t.Errorf("FixationCount = %d, want 0 (no dwell ever reaches the minimum)", m.FixationCount)
	}
	if m.SaccadeCount != 29 {
		t.Errorf("SaccadeCount = %d, want 29 (every point breaks the cluster)", m.SaccadeCount)
	}
	if m.AvgSaccadeVelocity <= 0 {
		t.Errorf("AvgSaccadeVelocity = %v, want > 0", m.AvgSaccadeVelocity)
	}
}

func TestHeatmap_DecayAndPrune(t *testing.T) {
	a := NewAnalyzer(AnalyzerConfig{})
	a.Observe(gazeSample(0, -0.9, -0.9))

	weightAt := func(x, y int) (float64, bool) {
		for _, c := range a.Heatmap() {
			if c.X == x && c.Y == y {
				return c.Weight, true
			}
		}
		return 0, false
	}

	first, ok := weightAt(1, 1)
	if !ok || first != 1 {
		t.Fatalf("initial cell weight = %v (present %v), want 1", first, ok)
	}

	// Each later point decays the old cell by 5%; after 45 points it falls
	// below the prune floor and disappears.
	prev := first
	for i := 1; i <= 45; i++ {
		a.Observe(gazeSample(i*83, 0.9, 0.9))
		w, present := weightAt(1, 1)
		if i < 45 {
			if !present {
				t.Fatalf("cell pruned after %d points, want survival until 45", i)
			}
			if w >= prev {
				t.Fatalf("weight did not decay: %v -> %v at point %d", prev, w, i)
			}
			prev = w
		} else if present {
			t.Errorf("cell weight = %v after 45 points, want pruned (< 0.1)", w)
		}
	}

	cells := a.Heatmap()
	if len(cells) != 1 {
		t.Fatalf("heatmap cells: got %d, want 1", len(cells))
	}
	if cells[0].X != 30 || cells[0].Y != 30 {
		t.Errorf("hottest cell = (%d,%d), want (30,30)", cells[0].X, cells[0].Y)
	}
	if cells[0].Weight <= 1 {
		t.Errorf("hottest cell weight = %v, want accumulation > 1", cells[0].Weight)
	}
}

func TestCalibrate_AdaptsFixationRadius(t *testing.T) {
	// A jittery subject: steps of 0.15 break fixations at the default radius.
	jitter := func(a *Analyzer) {
		for i := 0; i < 6; i++ {
			a.Observe(gazeSample(i*100, float64(i%2)*0.15, 0))
		}
	}

	uncalibrated := NewAnalyzer(AnalyzerConfig{})
	jitter(uncalibrated)
	if got := len(uncalibrated.Saccades()); got == 0 {
		t.Fatal("uncalibrated: want saccades for 0.15 steps at default radius")
	}

	// A calibration sequence with mean displacement 0.12 widens the radius
	// to 0.18, so the same jitter reads as one fixation.
	cal := make([]Sample, 0, 6)
	for i := 0; i < 6; i++ {
		cal = append(cal, gazeSample(i*100, float64(i%2)*0.12, 0))
	}
	calibrated := NewAnalyzer(AnalyzerConfig{})
	calibrated.Calibrate(cal)
	jitter(calibrated)
	if got := len(calibrated.Saccades()); got != 0 {
		t.Errorf("calibrated: got %d saccades, want 0", got)
	}
	if got := len(calibrated.Fixations()); got != 1 {
		t.Errorf("calibrated: got %d fixations, want 1", got)
	}
}

func TestCalibrate_ClampsRadius(t *testing.T) {
	a := NewAnalyzer(AnalyzerConfig{})
	// Mean displacement 2.0 would give radius 3.0; the clamp holds it at 0.3.
	a.Calibrate([]Sample{
		gazeSample(0, -1, 0),
		gazeSample(100, 1, 0),
		gazeSample(200, -1, 0),
	})

	a.Observe(gazeSample(300, 0, 0))
	a.Observe(gazeSample(400, 0.4, 0))
	if got := len(a.Saccades()); got != 1 {
		t.Errorf("saccades: got %d, want 1 (0.4 jump exceeds the clamped radius)", got)
	}
}

func TestCalibrate_IgnoresUndetected(t *testing.T) {
	a := NewAnalyzer(AnalyzerConfig{})
	a.Calibrate([]Sample{undetectedSample(0), undetectedSample(100)})

	// Radius unchanged: a 0.15 step still breaks the fixation.
	a.Observe(gazeSample(200, 0, 0))
	a.Observe(gazeSample(300, 0.15, 0))
	if got := len(a.Saccades()); got != 1 {
		t.Errorf("saccades: got %d, want 1 (empty calibration leaves radius alone)", got)
	}
}

func TestObserve_SkipsUndetected(t *testing.T) {
	a := NewAnalyzer(AnalyzerConfig{})
	a.Observe(gazeSample(0, 0, 0))
	a.Observe(undetectedSample(83))
	a.Observe(gazeSample(166, 0, 0))
	a.Observe(undetectedSample(249))
	a.Observe(gazeSample(332, 0.01, 0))

	m := a.Metrics()
	if m.FixationCount != 1 {
		t.Fatalf("FixationCount = %d, want 1 (dropouts do not break the fixation)", m.FixationCount)
	}
	if m.SaccadeCount != 0 {
		t.Errorf("SaccadeCount = %d, want 0", m.SaccadeCount)
	}
	if got := a.Fixations()[0].Duration; got != 332*time.Millisecond {
		t.Errorf("fixation duration = %v, want 332ms spanning the dropouts", got)
	}

	// Three detected points on the same cell, two decays: 0.95² + 0.95 + 1.
	cells := a.Heatmap()
	if len(cells) != 1 {
		t.Fatalf("heatmap cells: got %d, want 1", len(cells))
	}
	want := 0.95*0.95 + 0.95 + 1
	if math.Abs(cells[0].Weight-want) > 1e-9 {
		t.Errorf("cell weight = %v, want %v (undetected samples must not decay)", cells[0].Weight, want)
	}
}

func TestMetrics_EmptyAnalyzer(t *testing.T) {
	a := NewAnalyzer(AnalyzerConfig{})
	m := a.Metrics()
	if m.FixationCount != 0 || m.SaccadeCount != 0 ||
		m.AvgFixationDuration != 0 || m.AvgSaccadeVelocity != 0 {
		t.Errorf("metrics = %+v, want zero value", m)
	}
	if len(m.Heatmap) != 0 {
		t.Errorf("heatmap: got %d cells, want 0", len(m.Heatmap))
	}
}

func TestReset_ClearsPatternState(t *testing.T) {
	a := NewAnalyzer(AnalyzerConfig{})
	a.Calibrate([]Sample{gazeSample(0, -1, 0), gazeSample(100, 1, 0)}) // radius → 0.3
	for i := 0; i < 10; i++ {
		a.Observe(gazeSample(i*100, float64(i%2)*0.8, 0))
	}
	a.Reset()

	m := a.Metrics()
	if m.FixationCount != 0 || m.SaccadeCount != 0 || len(m.Heatmap) != 0 {
		t.Errorf("metrics after Reset = %+v, want zero value", m)
	}

	// The configured radius is restored: a 0.15 step breaks fixations again.
	a.Observe(gazeSample(2000, 0, 0))
	a.Observe(gazeSample(2100, 0.15, 0))
	if got := len(a.Saccades()); got != 1 {
		t.Errorf("saccades after Reset = %d, want 1 (default radius restored)", got)
	}
}
