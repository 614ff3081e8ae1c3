// Package score fuses the latest gaze and voice feature views into one
// engagement estimate with fixed, explainable weights.
package score

import (
	"time"

	"github.com/elocute/elocute/internal/gaze"
	"github.com/elocute/elocute/internal/voice"
	"github.com/elocute/elocute/pkg/ring"
)

// Fusion weights. Fixed so every score is explainable from its inputs.
const (
	eyeFixationWeight = 0.4
	eyeSaccadeWeight  = 0.3
	eyeHeatmapWeight  = 0.3

	voiceFillerWeight  = 0.3
	voiceRateWeight    = 0.3
	voiceTremorWeight  = 0.2
	voiceEmotionWeight = 0.2

	overallEyeWeight         = 0.4
	overallVoiceWeight       = 0.4
	overallConsistencyWeight = 0.2
)

const (
	// fixationSaturation is the average fixation length that earns a full
	// fixation sub-score.
	fixationSaturation = 300 * time.Millisecond

	// saccadeVelocityCap is the average saccade velocity (normalized units
	// per second) that zeroes the steadiness sub-score.
	saccadeVelocityCap = 20.0

	// The speech-rate band considered conversational, with linear falloff
	// to the floor and ceiling.
	optimalRateLow  = 120.0
	optimalRateHigh = 180.0
	rateFloor       = 60.0
	rateCeiling     = 240.0
)

// GazeInput is the gaze-side view the scorer consumes: the latest per-frame
// attention plus the windowed pattern metrics.
type GazeInput struct {
	Attention float64
	Metrics   gaze.PatternMetrics
}

// EyeContact is the gaze sub-score breakdown.
type EyeContact struct {
	Score          float64 `json:"score"`
	AttentionLevel float64 `json:"attentionLevel"`
	GazePattern    string  `json:"gazePattern"` // none, steady, scanning or erratic
}

// Voice is the vocal sub-score breakdown.
type Voice struct {
	Score      float64        `json:"score"`
	Confidence float64        `json:"confidence"`
	Metrics    voice.Features `json:"metrics"`
}

// Combined carries the cross-channel view.
type Combined struct {
	AttentionConsistency float64  `json:"attentionConsistency"`
	EngagementTrend      string   `json:"engagementTrend"` // rising, stable or declining
	Recommendations      []string `json:"recommendations"`
}

// Engagement is the fused output.
type Engagement struct {
	OverallScore float64    `json:"overallScore"`
	EyeContact   EyeContact `json:"eyeContact"`
	Voice        Voice      `json:"voice"`
	Combined     Combined   `json:"combined"`
	Timestamp    time.Time  `json:"timestamp"`
}

// Config holds the trend parameters. The zero value maps to the defaults
// used by the session pipeline.
type Config struct {
	// HistorySize bounds the retained overall-score history. Default: 30.
	HistorySize int

	// TrendMinSamples is the history needed before a trend other than
	// "stable" is reported. Default: 6.
	TrendMinSamples int

	// TrendDelta is the half-window mean difference that counts as a rising
	// or declining trend. Default: 0.05.
	TrendDelta float64
}

func (c Config) withDefaults() Config {
	if c.HistorySize <= 0 {
		c.HistorySize = 30
	}
	if c.TrendMinSamples <= 0 {
		c.TrendMinSamples = 6
	}
	if c.TrendDelta <= 0 {
		c.TrendDelta = 0.05
	}
	return c
}

// Engine computes engagement scores. It keeps only the overall-score history
// for the trend; everything else is derived from the inputs, so identical
// inputs always produce identical scores. Owned by the session; not safe for
// concurrent use.
type Engine struct {
	cfg     Config
	history *ring.Buffer[float64]
}

// NewEngine returns an Engine with cfg applied over defaults.
func NewEngine(cfg Config) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{cfg: cfg, history: ring.New[float64](cfg.HistorySize)}
}

// Compute fuses the two views at ts and records the overall score in the
// trend history.
func (e *Engine) Compute(g GazeInput, v voice.Features, ts time.Time) Engagement {
	eye := eyeContactScore(g)
	vs := voiceScore(v)
	consistency := 1 - abs(clamp01(g.Attention)-clamp01(v.Attention))

	overall := overallEyeWeight*eye.Score + overallVoiceWeight*vs.Score +
		overallConsistencyWeight*consistency
	e.history.Push(overall)

	return Engagement{
		OverallScore: overall,
		EyeContact:   eye,
		Voice:        vs,
		Combined: Combined{
			AttentionConsistency: consistency,
			EngagementTrend:      e.trend(),
			Recommendations:      recommendations(overall, v),
		},
		Timestamp: ts,
	}
}

// History returns the retained overall scores, oldest first.
func (e *Engine) History() []float64 {
	return e.history.Snapshot()
}

// Reset clears the trend history, for reuse across sessions.
func (e *Engine) Reset() {
	e.history.Clear()
}

// eyeContactScore blends fixation dwell, saccade steadiness and heatmap
// concentration. A window with no gaze events at all scores zero.
func eyeContactScore(g GazeInput) EyeContact {
	m := g.Metrics
	out := EyeContact{
		AttentionLevel: clamp01(g.Attention),
		GazePattern:    classifyPattern(m),
	}
	if m.FixationCount == 0 && m.SaccadeCount == 0 {
		return out
	}

	fix := clamp01(float64(m.AvgFixationDuration) / float64(fixationSaturation))
	steadiness := clamp01(1 - m.AvgSaccadeVelocity/saccadeVelocityCap)
	conc := heatmapConcentration(m.Heatmap)

	out.Score = eyeFixationWeight*fix + eyeSaccadeWeight*steadiness + eyeHeatmapWeight*conc
	return out
}

// voiceScore applies the fixed vocal weights. A view that never saw audio
// scores zero.
func voiceScore(v voice.Features) Voice {
	out := Voice{Confidence: clamp01(v.SpeakingRatio), Metrics: v}
	if v.LastUpdate.IsZero() {
		return out
	}
	out.Score = voiceFillerWeight*(1-clamp01(v.FillerRate)) +
		voiceRateWeight*speechRateScore(v.SpeechRate) +
		voiceTremorWeight*(1-clamp01(v.Tremor)) +
		voiceEmotionWeight*clamp01(v.EmotionConfidence)
	return out
}

// speechRateScore is 1 inside the conversational band and falls off linearly
// to zero at the floor and ceiling.
func speechRateScore(rate float64) float64 {
	switch {
	case rate <= rateFloor:
		return 0
	case rate < optimalRateLow:
		return (rate - rateFloor) / (optimalRateLow - rateFloor)
	case rate <= optimalRateHigh:
		return 1
	case rate < rateCeiling:
		return (rateCeiling - rate) / (rateCeiling - optimalRateHigh)
	}
	return 0
}

// heatmapConcentration is the hottest cell's share of the total weight.
func heatmapConcentration(cells []gaze.HeatCell) float64 {
	var top, total float64
	for _, c := range cells {
		total += c.Weight
		if c.Weight > top {
			top = c.Weight
		}
	}
	if total <= 0 {
		return 0
	}
	return top / total
}

func classifyPattern(m gaze.PatternMetrics) string {
	switch {
	case m.FixationCount == 0 && m.SaccadeCount == 0:
		return "none"
	case m.AvgSaccadeVelocity > saccadeVelocityCap/2:
		return "erratic"
	case m.AvgFixationDuration >= 200*time.Millisecond && m.AvgSaccadeVelocity <= 5:
		return "steady"
	}
	return "scanning"
}

// trend compares the mean of the newer half of the history with the older
// half.
func (e *Engine) trend() string {
	hist := e.history.Snapshot()
	if len(hist) < e.cfg.TrendMinSamples {
		return "stable"
	}
	mid := len(hist) / 2
	older := mean(hist[:mid])
	newer := mean(hist[mid:])
	switch {
	case newer-older > e.cfg.TrendDelta:
		return "rising"
	case older-newer > e.cfg.TrendDelta:
		return "declining"
	}
	return "stable"
}

// Recommendation texts, evaluated in fixed order.
const (
	recEyeContact = "Try to maintain eye contact with the camera to build connection."
	recFillers    = "Watch for filler words; a brief pause sounds more confident."
	recSteadiness = "Your pitch is wavering. Slow, steady breathing will level it out."
	recPacing     = "Slow down a little; aim for a conversational pace."
	recPositive   = "Great engagement! Keep up the natural delivery."
)

const (
	lowOverallThreshold = 0.5
	highFillerThreshold = 0.3
	highTremorThreshold = 0.5
	fastRateThreshold   = 180.0
)

func recommendations(overall float64, v voice.Features) []string {
	var recs []string
	if overall < lowOverallThreshold {
		recs = append(recs, recEyeContact)
	}
	if v.FillerRate > highFillerThreshold {
		recs = append(recs, recFillers)
	}
	if v.Tremor > highTremorThreshold {
		recs = append(recs, recSteadiness)
	}
	if v.SpeechRate > fastRateThreshold {
		recs = append(recs, recPacing)
	}
	if len(recs) == 0 {
		recs = append(recs, recPositive)
	}
	return recs
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
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

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
