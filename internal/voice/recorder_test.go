package voice

import (
	"sort"
	"testing"
	"time"
)

func voiceSample(ms int, vol float64) Sample {
	return Sample{Volume: vol, Speaking: vol > 15, Timestamp: at(ms)}
}

func TestRecorder_SingleSpeechSegment(t *testing.T) {
	r := NewRecorder(RecorderConfig{})
	r.Start(at(0))

	for i, vol := range []float64{5, 5, 5, 40, 40, 40, 40, 5, 5} {
		r.Observe(voiceSample(i*50, vol))
	}
	rec := r.Stop(at(400))

	if len(rec.SpeechSegments) != 1 {
		t.Fatalf("segments: got %d, want 1", len(rec.SpeechSegments))
	}
	seg := rec.SpeechSegments[0]
	if !seg.Start.Equal(at(150)) || !seg.End.Equal(at(350)) {
		t.Errorf("segment span = %v..%v, want 150ms..350ms", seg.Start, seg.End)
	}
	if seg.Duration != 200*time.Millisecond {
		t.Errorf("segment duration = %v, want 200ms", seg.Duration)
	}
	if seg.AverageVolume != 40 {
		t.Errorf("segment average volume = %v, want 40", seg.AverageVolume)
	}

	if rec.SpeakingTime != 200*time.Millisecond {
		t.Errorf("speaking time = %v, want 200ms", rec.SpeakingTime)
	}
	if rec.SilenceTime != 200*time.Millisecond {
		t.Errorf("silence time = %v, want 200ms", rec.SilenceTime)
	}
	if rec.Duration != 400*time.Millisecond {
		t.Errorf("duration = %v, want 400ms", rec.Duration)
	}
}

func TestRecorder_OpenSegmentClosedAtStop(t *testing.T) {
	r := NewRecorder(RecorderConfig{})
	r.Start(at(0))
	r.Observe(voiceSample(0, 5))
	r.Observe(voiceSample(50, 40))
	r.Observe(voiceSample(100, 40))
	rec := r.Stop(at(150))

	if len(rec.SpeechSegments) != 1 {
		t.Fatalf("segments: got %d, want 1", len(rec.SpeechSegments))
	}
	seg := rec.SpeechSegments[0]
	if !seg.End.Equal(at(150)) {
		t.Errorf("segment end = %v, want the stop time", seg.End)
	}
	if seg.Duration != 100*time.Millisecond {
		t.Errorf("segment duration = %v, want 100ms", seg.Duration)
	}
	if rec.SpeakingTime != 100*time.Millisecond {
		t.Errorf("speaking time = %v, want 100ms (tail interval counted)", rec.SpeakingTime)
	}
}

func TestRecorder_VolumeExcursionsEdgeTriggered(t *testing.T) {
	r := NewRecorder(RecorderConfig{})
	r.Start(at(0))

	for i, vol := range []float64{30, 70, 65, 30, 10, 15, 30} {
		r.Observe(voiceSample(i*50, vol))
	}
	rec := r.Stop(at(350))

	if len(rec.VolumeVariations) != 2 {
		t.Fatalf("events: got %d, want 2 (sustained excursions fire once)", len(rec.VolumeVariations))
	}
	peak, valley := rec.VolumeVariations[0], rec.VolumeVariations[1]
	if peak.Kind != "peak" || peak.Volume != 70 || !peak.Timestamp.Equal(at(50)) {
		t.Errorf("first event = %+v, want peak at 70 / 50ms", peak)
	}
	if valley.Kind != "valley" || valley.Volume != 10 || !valley.Timestamp.Equal(at(200)) {
		t.Errorf("second event = %+v, want valley at 10 / 200ms", valley)
	}
}

func TestRecorder_FillersSortedChronologically(t *testing.T) {
	r := NewRecorder(RecorderConfig{})
	r.Start(at(0))

	s1 := voiceSample(0, 40)
	s1.Fillers = []FillerWord{{Word: "um", Timestamp: at(500), Confidence: 0.8}}
	s2 := voiceSample(50, 40)
	s2.Fillers = []FillerWord{{Word: "like", Timestamp: at(100), Confidence: 0.4}}
	r.Observe(s1)
	r.Observe(s2)
	rec := r.Stop(at(600))

	if len(rec.FillerWords) != 2 {
		t.Fatalf("fillers: got %d, want 2", len(rec.FillerWords))
	}
	if !sort.SliceIsSorted(rec.FillerWords, func(i, j int) bool {
		return rec.FillerWords[i].Timestamp.Before(rec.FillerWords[j].Timestamp)
	}) {
		t.Errorf("fillers not sorted by timestamp: %+v", rec.FillerWords)
	}
	if rec.FillerWords[0].Word != "like" {
		t.Errorf("first filler = %q, want like (earliest timestamp)", rec.FillerWords[0].Word)
	}
	for _, f := range rec.FillerWords {
		if f.Confidence < 0 || f.Confidence > 1 {
			t.Errorf("confidence = %v, want in [0,1]", f.Confidence)
		}
	}
}

func TestRecorder_BoundsRetainedMetrics(t *testing.T) {
	r := NewRecorder(RecorderConfig{MaxSamples: 4})
	r.Start(at(0))
	for i := 0; i < 6; i++ {
		r.Observe(voiceSample(i*50, 40))
	}
	rec := r.Stop(at(300))

	if len(rec.VoiceMetrics) != 4 {
		t.Fatalf("retained metrics: got %d, want 4", len(rec.VoiceMetrics))
	}
	if !rec.VoiceMetrics[0].Timestamp.Equal(at(100)) {
		t.Errorf("oldest retained = %v, want 100ms (older samples evicted)", rec.VoiceMetrics[0].Timestamp)
	}
	// Aggregates stay exact despite eviction.
	if rec.SpeakingTime != 300*time.Millisecond {
		t.Errorf("speaking time = %v, want 300ms", rec.SpeakingTime)
	}
}

func TestRecorder_InactiveIsInert(t *testing.T) {
	r := NewRecorder(RecorderConfig{})
	if r.Active() {
		t.Fatal("recorder active before Start")
	}
	r.Observe(voiceSample(0, 40))
	if rec := r.Stop(at(100)); !rec.Start.IsZero() || len(rec.VoiceMetrics) != 0 {
		t.Errorf("Stop without Start = %+v, want zero Recording", rec)
	}

	r.Start(at(0))
	if !r.Active() {
		t.Error("recorder inactive after Start")
	}
	r.Stop(at(100))
	if r.Active() {
		t.Error("recorder still active after Stop")
	}
}

func TestRecorder_RestartDiscardsPreviousState(t *testing.T) {
	r := NewRecorder(RecorderConfig{})
	r.Start(at(0))
	s := voiceSample(0, 70)
	s.Fillers = []FillerWord{{Word: "um", Timestamp: at(0), Confidence: 0.5}}
	r.Observe(s)
	r.Stop(at(100))

	r.Start(at(1000))
	r.Observe(voiceSample(1000, 30))
	rec := r.Stop(at(1100))

	if len(rec.FillerWords) != 0 || len(rec.VolumeVariations) != 0 {
		t.Errorf("restarted recording carries old state: %+v", rec)
	}
	if !rec.Start.Equal(at(1000)) {
		t.Errorf("start = %v, want the second Start time", rec.Start)
	}
	if len(rec.VoiceMetrics) != 1 {
		t.Errorf("retained metrics: got %d, want 1", len(rec.VoiceMetrics))
	}
}
