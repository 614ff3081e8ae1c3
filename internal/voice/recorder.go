package voice

import (
	"sort"
	"time"

	"github.com/elocute/elocute/pkg/ring"
)

// SpeechSegment is one contiguous run of speaking, closed when a
// speaking→silence transition is observed (or at recording stop).
type SpeechSegment struct {
	Start         time.Time     `json:"startTime"`
	End           time.Time     `json:"endTime"`
	Duration      time.Duration `json:"duration"`
	AverageVolume float64       `json:"averageVolume"`
	Clarity       float64       `json:"clarity"`
}

// VolumeEvent flags a volume excursion: a crossing into the peak zone
// (above 60) or the valley zone (below 20). Edge-triggered, so a sustained
// shout or lull produces one event.
type VolumeEvent struct {
	Kind      string    `json:"kind"` // "peak" or "valley"
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// Recording is the immutable session aggregate produced by [Recorder.Stop].
type Recording struct {
	Start            time.Time       `json:"startTime"`
	End              time.Time       `json:"endTime"`
	Duration         time.Duration   `json:"duration"`
	VoiceMetrics     []Sample        `json:"voiceMetrics"`
	FillerWords      []FillerWord    `json:"fillerWords"`
	SpeakingTime     time.Duration   `json:"speakingTime"`
	SilenceTime      time.Duration   `json:"silenceTime"`
	VolumeVariations []VolumeEvent   `json:"volumeVariations"`
	SpeechSegments   []SpeechSegment `json:"speechSegments"`
}

// RecorderConfig holds the aggregation thresholds. The zero value maps to
// the defaults used by the session pipeline.
type RecorderConfig struct {
	// PeakVolume and ValleyVolume bound the normal zone for excursion
	// events. Defaults: 60 and 20.
	PeakVolume   float64
	ValleyVolume float64

	// MaxSamples bounds the retained per-tick metrics; older samples are
	// evicted while the aggregate counters stay exact. Default: 7200.
	MaxSamples int
}

func (c RecorderConfig) withDefaults() RecorderConfig {
	if c.PeakVolume <= 0 {
		c.PeakVolume = 60
	}
	if c.ValleyVolume <= 0 {
		c.ValleyVolume = 20
	}
	if c.MaxSamples <= 0 {
		c.MaxSamples = 7200
	}
	return c
}

const (
	zoneValley = -1
	zoneNormal = 0
	zonePeak   = 1
)

type openSegment struct {
	start      time.Time
	volSum     float64
	claritySum float64
	n          int
}

// Recorder accumulates voice samples into a session recording. Owned by the
// session's audio loop; not safe for concurrent use.
type Recorder struct {
	cfg RecorderConfig

	active bool
	start  time.Time

	samples  *ring.Buffer[Sample]
	fillers  []FillerWord
	events   []VolumeEvent
	segments []SpeechSegment
	seg      *openSegment

	speakingTime time.Duration
	prev         Sample
	hasPrev      bool
	zone         int
}

// NewRecorder returns a Recorder with cfg applied over defaults.
func NewRecorder(cfg RecorderConfig) *Recorder {
	cfg = cfg.withDefaults()
	return &Recorder{
		cfg:     cfg,
		samples: ring.New[Sample](cfg.MaxSamples),
	}
}

// Start begins a recording at ts, discarding any previous state.
func (r *Recorder) Start(ts time.Time) {
	r.active = true
	r.start = ts
	r.samples.Clear()
	r.fillers = nil
	r.events = nil
	r.segments = nil
	r.seg = nil
	r.speakingTime = 0
	r.prev, r.hasPrev = Sample{}, false
	r.zone = zoneNormal
}

// Active reports whether a recording is in progress.
func (r *Recorder) Active() bool {
	return r.active
}

// Observe feeds one sample into the active recording. Samples observed while
// no recording is active are dropped.
func (r *Recorder) Observe(s Sample) {
	if !r.active {
		return
	}
	r.samples.Push(s)
	r.fillers = append(r.fillers, s.Fillers...)

	// Time between consecutive samples is attributed to the state that held
	// during the interval.
	if r.hasPrev && s.Timestamp.After(r.prev.Timestamp) && r.prev.Speaking {
		r.speakingTime += s.Timestamp.Sub(r.prev.Timestamp)
	}

	// The first sample establishes the baseline zone without an event.
	zone := r.zoneOf(s.Volume)
	if r.hasPrev && zone != r.zone && zone != zoneNormal {
		kind := "peak"
		if zone == zoneValley {
			kind = "valley"
		}
		r.events = append(r.events, VolumeEvent{Kind: kind, Volume: s.Volume, Timestamp: s.Timestamp})
	}
	r.zone = zone

	switch {
	case s.Speaking && r.seg == nil:
		r.seg = &openSegment{start: s.Timestamp}
	case !s.Speaking && r.seg != nil:
		r.closeSegment(s.Timestamp)
	}
	if s.Speaking && r.seg != nil {
		r.seg.volSum += s.Volume
		r.seg.claritySum += s.Clarity
		r.seg.n++
	}

	r.prev, r.hasPrev = s, true
}

// Stop finalizes the recording at ts and returns the immutable aggregate.
// Any open speech segment is closed at the stop time; fillers are sorted
// ascending by timestamp. Stopping an inactive recorder returns the zero
// Recording.
func (r *Recorder) Stop(ts time.Time) Recording {
	if !r.active {
		return Recording{}
	}
	r.active = false
	r.closeSegment(ts)

	if r.hasPrev && ts.After(r.prev.Timestamp) && r.prev.Speaking {
		r.speakingTime += ts.Sub(r.prev.Timestamp)
	}

	fillers := make([]FillerWord, len(r.fillers))
	copy(fillers, r.fillers)
	sort.SliceStable(fillers, func(i, j int) bool {
		return fillers[i].Timestamp.Before(fillers[j].Timestamp)
	})

	duration := ts.Sub(r.start)
	silence := duration - r.speakingTime
	if silence < 0 {
		silence = 0
	}

	return Recording{
		Start:            r.start,
		End:              ts,
		Duration:         duration,
		VoiceMetrics:     r.samples.Snapshot(),
		FillerWords:      fillers,
		SpeakingTime:     r.speakingTime,
		SilenceTime:      silence,
		VolumeVariations: append([]VolumeEvent(nil), r.events...),
		SpeechSegments:   append([]SpeechSegment(nil), r.segments...),
	}
}

func (r *Recorder) closeSegment(end time.Time) {
	seg := r.seg
	if seg == nil {
		return
	}
	r.seg = nil
	s := SpeechSegment{Start: seg.start, End: end, Duration: end.Sub(seg.start)}
	if seg.n > 0 {
		s.AverageVolume = seg.volSum / float64(seg.n)
		s.Clarity = seg.claritySum / float64(seg.n)
	}
	r.segments = append(r.segments, s)
}

func (r *Recorder) zoneOf(vol float64) int {
	switch {
	case vol > r.cfg.PeakVolume:
		return zonePeak
	case vol < r.cfg.ValleyVolume:
		return zoneValley
	}
	return zoneNormal
}
