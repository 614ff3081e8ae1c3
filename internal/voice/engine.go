// Package voice derives vocal delivery metrics from streaming analyser
// buffers.
//
// [Engine] turns one audio analysis window per tick into a [Sample]: volume,
// pitch, clarity, pace, speaking state and heuristic filler-word candidates.
// [Recorder] aggregates samples into an immutable session [Recording].
//
// Both are owned by the session's audio loop and are not safe for concurrent
// use; consumers receive value snapshots.
package voice

import (
	"math"
	"math/cmplx"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/stat"

	"github.com/elocute/elocute/pkg/capture"
	"github.com/elocute/elocute/pkg/ring"
)

// FillerWord is a heuristic disfluency candidate. Detection is a statistical
// signature match on the volume envelope, not speech recognition; treat it as
// advisory.
type FillerWord struct {
	Word       string    `json:"word"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence"`
}

// Sample is the per-tick vocal feature set. All scalar metrics are on a
// 0–100 scale.
type Sample struct {
	Volume    float64      `json:"volume"`
	Pitch     float64      `json:"pitch"`
	Clarity   float64      `json:"clarity"`
	Pace      float64      `json:"pace"`
	Speaking  bool         `json:"isSpeaking"`
	Fillers   []FillerWord `json:"fillerWords,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// Features is the rolling summary the scoring engine consumes. Rates and
// intensities are normalized to [0,1]; SpeechRate is a words-per-minute
// equivalent derived from cadence, not lexical counting.
type Features struct {
	Attention         float64   `json:"attention"`
	SpeechRate        float64   `json:"speechRate"`
	FillerRate        float64   `json:"fillerRate"`
	Tremor            float64   `json:"tremor"`
	EmotionConfidence float64   `json:"emotionConfidence"`
	SpeakingRatio     float64   `json:"speakingRatio"`
	LastUpdate        time.Time `json:"lastUpdate"`
}

// EngineConfig holds the audio thresholds. The zero value maps to the
// defaults used by the session pipeline.
type EngineConfig struct {
	// SpeakingThreshold is the volume above which the subject counts as
	// speaking. Default: 15.
	SpeakingThreshold float64

	// PitchMinHz and PitchMaxHz bound the fundamental search band.
	// Defaults: 85 and 400.
	PitchMinHz float64
	PitchMaxHz float64

	// FillerDebounce is the minimum spacing between emitted filler
	// candidates. Default: 600ms.
	FillerDebounce time.Duration

	// DeltaWindow is the number of trailing volume deltas the pace and
	// filler heuristics inspect. Default: 8.
	DeltaWindow int

	// PaceDelta is the volume change that counts as a cadence event.
	// Default: 5.
	PaceDelta float64

	// SpeechWindow is the number of trailing speaking flags behind the
	// attention estimate. Default: 16.
	SpeechWindow int

	// PitchWindow is the number of trailing voiced pitch values behind the
	// tremor estimate. Default: 32.
	PitchWindow int
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.SpeakingThreshold <= 0 {
		c.SpeakingThreshold = 15
	}
	if c.PitchMinHz <= 0 {
		c.PitchMinHz = 85
	}
	if c.PitchMaxHz <= c.PitchMinHz {
		c.PitchMaxHz = 400
	}
	if c.FillerDebounce <= 0 {
		c.FillerDebounce = 600 * time.Millisecond
	}
	if c.DeltaWindow <= 0 {
		c.DeltaWindow = 8
	}
	if c.PaceDelta <= 0 {
		c.PaceDelta = 5
	}
	if c.SpeechWindow <= 0 {
		c.SpeechWindow = 16
	}
	if c.PitchWindow <= 0 {
		c.PitchWindow = 32
	}
	return c
}

const (
	// Filler signatures over the trailing volume deltas: a sustained flat
	// tone reads as an "um"-style interjection, a jumpy rising envelope as a
	// "like"-style discourse marker.
	umMaxMeanAbs  = 1.5
	umMaxStdDev   = 2.0
	likeMinMean   = 2.0
	likeMinStdDev = 5.0

	// minFillerDeltas is how much history the signatures need before they
	// are evaluated at all.
	minFillerDeltas = 4

	// fillerSaturationPerMin is the per-speaking-minute rate at which the
	// normalized filler rate reaches 1.
	fillerSaturationPerMin = 10.0

	// centroidCeilingHz normalizes the spectral centroid for the clarity
	// metric; energy above it no longer raises the score.
	centroidCeilingHz = 4000.0

	// tremorStdDevCap is the pitch standard deviation (0–100 scale) that
	// counts as fully tremulous.
	tremorStdDevCap = 20.0

	// minPeakMagnitude gates the pitch search so spectral noise floor bins
	// do not register as a fundamental.
	minPeakMagnitude = 1.0
)

// Engine converts analyser buffers into vocal metrics. Owned by the
// session's audio loop; not safe for concurrent use.
type Engine struct {
	cfg EngineConfig

	fft     *fourier.FFT
	fftN    int
	scratch []float64

	deltas  *ring.Buffer[float64]
	pitches *ring.Buffer[float64]
	speech  *ring.Buffer[bool]

	last       Sample
	hasLast    bool
	lastFiller time.Time

	speakingDur time.Duration
	fillerCount int
}

// NewEngine returns an Engine with cfg applied over defaults.
func NewEngine(cfg EngineConfig) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:     cfg,
		deltas:  ring.New[float64](cfg.DeltaWindow),
		pitches: ring.New[float64](cfg.PitchWindow),
		speech:  ring.New[bool](cfg.SpeechWindow),
	}
}

// Process computes one sample from an analysis window. When the buffer
// carries no frequency data the spectrum is derived from the time domain via
// a Hann-windowed FFT.
func (e *Engine) Process(buf capture.AudioBuffer) Sample {
	vol := volumeOf(buf.TimeDomain)
	speaking := vol > e.cfg.SpeakingThreshold

	mags, width := e.spectrum(buf)

	var pitch float64
	if speaking {
		pitch = e.pitch(mags, width)
	}
	clarity := clarityOf(mags, width, vol)

	if e.hasLast {
		e.deltas.Push(vol - e.last.Volume)
	}
	fillers := e.detectFillers(speaking, buf.Timestamp)

	if speaking && pitch > 0 {
		e.pitches.Push(pitch)
	}
	e.speech.Push(speaking)

	if e.hasLast && buf.Timestamp.After(e.last.Timestamp) && e.last.Speaking {
		e.speakingDur += buf.Timestamp.Sub(e.last.Timestamp)
	}

	s := Sample{
		Volume:    vol,
		Pitch:     pitch,
		Clarity:   clarity,
		Pace:      e.pace(),
		Speaking:  speaking,
		Fillers:   fillers,
		Timestamp: buf.Timestamp,
	}
	e.last, e.hasLast = s, true
	return s
}

// Last returns the most recent sample. On audio starvation the session holds
// this sample rather than fabricating one; consumers detect staleness by its
// timestamp.
func (e *Engine) Last() (Sample, bool) {
	return e.last, e.hasLast
}

// Features returns the rolling summary for the scorer. Before any buffer
// has been processed it is the zero value.
func (e *Engine) Features() Features {
	if !e.hasLast {
		return Features{}
	}

	sr := e.speakingRatio()
	tremor := e.tremor()
	vol01 := e.last.Volume / 100

	var rate float64
	if sr > 0 {
		rate = 60 + 1.8*e.pace()
	}

	return Features{
		Attention:         clamp01(0.6*sr + 0.4*vol01),
		SpeechRate:        rate,
		FillerRate:        e.fillerRate(),
		Tremor:            tremor,
		EmotionConfidence: clamp01(0.5*sr + 0.3*vol01 + 0.2*(1-tremor)),
		SpeakingRatio:     sr,
		LastUpdate:        e.last.Timestamp,
	}
}

// Reset clears the rolling state, for reuse across sessions.
func (e *Engine) Reset() {
	e.deltas.Clear()
	e.pitches.Clear()
	e.speech.Clear()
	e.last, e.hasLast = Sample{}, false
	e.lastFiller = time.Time{}
	e.speakingDur = 0
	e.fillerCount = 0
}

// volumeOf is the mean absolute deviation from the analyser midpoint (128),
// scaled to 0–100.
func volumeOf(td []byte) float64 {
	if len(td) == 0 {
		return 0
	}
	var sum float64
	for _, b := range td {
		d := float64(b) - 128
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return sum / float64(len(td)) / 128 * 100
}

// spectrum returns per-bin magnitudes on the analyser's 0–255 scale and the
// bin width in Hz. Supplied frequency data is used as-is; otherwise the
// spectrum is derived from the time domain.
func (e *Engine) spectrum(buf capture.AudioBuffer) ([]float64, float64) {
	if n := len(buf.FrequencyDomain); n > 0 {
		mags := make([]float64, n)
		for i, b := range buf.FrequencyDomain {
			mags[i] = float64(b)
		}
		return mags, binWidth(buf.SampleRate, n)
	}

	n := len(buf.TimeDomain)
	if n < 2 || buf.SampleRate <= 0 {
		return nil, 0
	}
	if e.fft == nil || e.fftN != n {
		e.fft = fourier.NewFFT(n)
		e.fftN = n
		e.scratch = make([]float64, n)
	}
	for i, b := range buf.TimeDomain {
		e.scratch[i] = (float64(b) - 128) / 128
	}
	window.Hann(e.scratch)

	coeffs := e.fft.Coefficients(nil, e.scratch)
	bins := n / 2
	mags := make([]float64, bins)
	// A full-scale sine maps to 255 at its bin, matching the byte scale of
	// analyser-supplied spectra.
	scale := 510.0 / float64(n)
	for i := 0; i < bins; i++ {
		m := cmplx.Abs(coeffs[i]) * scale
		if m > 255 {
			m = 255
		}
		mags[i] = m
	}
	return mags, binWidth(buf.SampleRate, bins)
}

func binWidth(sampleRate, bins int) float64 {
	if sampleRate <= 0 || bins <= 0 {
		return 0
	}
	return float64(sampleRate) / float64(2*bins)
}

// pitch finds the strongest bin inside the fundamental band and log-maps its
// frequency onto 0–100.
func (e *Engine) pitch(mags []float64, width float64) float64 {
	if width <= 0 || len(mags) == 0 {
		return 0
	}
	lo := int(math.Ceil(e.cfg.PitchMinHz / width))
	if lo < 1 {
		lo = 1
	}
	hi := int(math.Floor(e.cfg.PitchMaxHz / width))
	if hi > len(mags)-1 {
		hi = len(mags) - 1
	}

	best, bestMag := -1, minPeakMagnitude
	for i := lo; i <= hi; i++ {
		if mags[i] > bestMag {
			best, bestMag = i, mags[i]
		}
	}
	if best < 0 {
		return 0
	}
	f := float64(best) * width
	return 100 * math.Log(f/e.cfg.PitchMinHz) / math.Log(e.cfg.PitchMaxHz/e.cfg.PitchMinHz)
}

// clarityOf multiplies the normalized spectral centroid, total spectral
// energy and current volume; the cube root keeps the product on a readable
// 0–100 scale. Low energy or an off-center spectrum both pull it down.
func clarityOf(mags []float64, width, vol float64) float64 {
	if len(mags) == 0 || vol <= 0 || width <= 0 {
		return 0
	}
	var sum, weighted float64
	for i, m := range mags {
		sum += m
		weighted += float64(i) * width * m
	}
	if sum == 0 {
		return 0
	}
	centroid := math.Min(1, weighted/sum/centroidCeilingHz)
	energy := sum / (255 * float64(len(mags)))
	return 100 * math.Cbrt(centroid*energy*vol/100)
}

// pace is the fraction of trailing volume deltas large enough to count as
// cadence events, scaled to 0–100.
func (e *Engine) pace() float64 {
	ds := e.deltas.Snapshot()
	if len(ds) == 0 {
		return 0
	}
	var n int
	for _, d := range ds {
		if math.Abs(d) > e.cfg.PaceDelta {
			n++
		}
	}
	return 100 * float64(n) / float64(len(ds))
}

// detectFillers matches the trailing volume-delta window against the two
// disfluency signatures. At most one candidate is emitted per debounce
// interval.
func (e *Engine) detectFillers(speaking bool, ts time.Time) []FillerWord {
	if !speaking {
		return nil
	}
	ds := e.deltas.Snapshot()
	if len(ds) < minFillerDeltas {
		return nil
	}
	if !e.lastFiller.IsZero() && ts.Sub(e.lastFiller) < e.cfg.FillerDebounce {
		return nil
	}

	mean, variance := stat.MeanVariance(ds, nil)
	sd := math.Sqrt(variance)

	var w FillerWord
	switch {
	case mean > likeMinMean && sd > likeMinStdDev:
		w = FillerWord{
			Word:       "like",
			Timestamp:  ts,
			Confidence: clamp01(0.3 + 0.5*math.Min(1, (mean-likeMinMean)/10)),
		}
	case math.Abs(mean) < umMaxMeanAbs && sd < umMaxStdDev:
		w = FillerWord{
			Word:       "um",
			Timestamp:  ts,
			Confidence: clamp01(0.3 + 0.5*(1-sd/umMaxStdDev)),
		}
	default:
		return nil
	}

	e.lastFiller = ts
	e.fillerCount++
	return []FillerWord{w}
}

// fillerRate normalizes fillers per speaking minute into [0,1].
func (e *Engine) fillerRate() float64 {
	if e.fillerCount == 0 || e.speakingDur <= 0 {
		return 0
	}
	perMin := float64(e.fillerCount) / e.speakingDur.Minutes()
	return math.Min(1, perMin/fillerSaturationPerMin)
}

// tremor is the normalized standard deviation of recent voiced pitch values.
func (e *Engine) tremor() float64 {
	ps := e.pitches.Snapshot()
	if len(ps) < 2 {
		return 0
	}
	sd := math.Sqrt(stat.Variance(ps, nil))
	return math.Min(1, sd/tremorStdDevCap)
}

func (e *Engine) speakingRatio() float64 {
	ss := e.speech.Snapshot()
	if len(ss) == 0 {
		return 0
	}
	var n int
	for _, s := range ss {
		if s {
			n++
		}
	}
	return float64(n) / float64(len(ss))
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
