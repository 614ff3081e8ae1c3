package synthetic

import (
	"context"
	"testing"
	"time"

	lmsynthetic "github.com/elocute/elocute/pkg/landmark/synthetic"
)

func TestVideoSource_FrameShape(t *testing.T) {
	src := &VideoSource{}
	f, err := src.ReadFrame()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Width != 320 || f.Height != 240 {
		t.Errorf("frame size = %dx%d, want 320x240", f.Width, f.Height)
	}
	if len(f.Pixels) != f.Width*f.Height*4 {
		t.Errorf("pixel buffer = %d bytes, want %d", len(f.Pixels), f.Width*f.Height*4)
	}
	if f.Timestamp.IsZero() {
		t.Error("timestamp should be set")
	}
}

func TestVideoSource_DetectableByHeuristicTier(t *testing.T) {
	src := &VideoSource{}
	det := lmsynthetic.New()

	f, err := src.ReadFrame()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	lm, err := det.Detect(context.Background(), f)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if !lm.FaceDetected() {
		t.Error("heuristic tier should resolve the generated subject into a face")
	}
}

func TestVideoSource_SubjectDrifts(t *testing.T) {
	src := &VideoSource{Period: 40}
	det := lmsynthetic.New()

	first, err := src.ReadFrame()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	// Advance a quarter orbit.
	for i := 0; i < 9; i++ {
		if _, err := src.ReadFrame(); err != nil {
			t.Fatalf("read frame %d: %v", i, err)
		}
	}
	later, err := src.ReadFrame()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}

	a, err := det.Detect(context.Background(), first)
	if err != nil {
		t.Fatalf("detect first: %v", err)
	}
	b, err := det.Detect(context.Background(), later)
	if err != nil {
		t.Fatalf("detect later: %v", err)
	}
	if !a.FaceDetected() || !b.FaceDetected() {
		t.Fatal("both frames should contain a subject")
	}

	dx := a.Points[0].X - b.Points[0].X
	dy := a.Points[0].Y - b.Points[0].Y
	if dx*dx+dy*dy < 1e-6 {
		t.Error("subject position should drift between distant frames")
	}
}

func TestAudioSource_BurstAndPauseWindows(t *testing.T) {
	src := &AudioSource{
		SpeechDuration: 100 * time.Millisecond,
		PauseDuration:  100 * time.Millisecond,
		SampleRate:     8000,
		WindowSize:     400, // 50ms windows, so each half-cycle spans two
	}

	var loud, silent int
	for i := 0; i < 8; i++ {
		buf, err := src.ReadBuffer()
		if err != nil {
			t.Fatalf("read buffer %d: %v", i, err)
		}
		if len(buf.TimeDomain) != 400 {
			t.Fatalf("window = %d samples, want 400", len(buf.TimeDomain))
		}

		max := 0
		for _, b := range buf.TimeDomain {
			d := int(b) - 128
			if d < 0 {
				d = -d
			}
			if d > max {
				max = d
			}
		}
		switch {
		case max > 20:
			loud++
		case max == 0:
			silent++
		}
	}

	if loud == 0 {
		t.Error("expected some windows inside a tone burst")
	}
	if silent == 0 {
		t.Error("expected some windows inside a pause")
	}
}

func TestAudioSource_Defaults(t *testing.T) {
	src := &AudioSource{}
	buf, err := src.ReadBuffer()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.SampleRate != 44100 {
		t.Errorf("sample rate = %d, want 44100", buf.SampleRate)
	}
	if len(buf.TimeDomain) != 2048 {
		t.Errorf("window = %d samples, want 2048", len(buf.TimeDomain))
	}
}
