// Package gaze turns facial landmark frames into engagement metrics.
//
// [Engine] computes per-frame eye metrics (aspect ratio, blinks, gaze
// direction, head pose, attention) from the refined face mesh. [Analyzer]
// aggregates gaze points over time into fixations, saccades and an
// attention heatmap.
//
// Both types keep small rolling windows of internal state and are owned by a
// single pipeline goroutine; they are not safe for concurrent use.
package gaze

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/elocute/elocute/pkg/landmark"
	"github.com/elocute/elocute/pkg/ring"
)

// Vector2 is a normalized 2D direction or position.
type Vector2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// HeadPose holds normalized head orientation offsets. Zero means frontal;
// yaw is positive when the head turns toward the subject's right, pitch is
// positive when tilted down, roll when tilted clockwise in the image.
type HeadPose struct {
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
}

// Sample is one video tick's worth of gaze metrics. When FaceDetected is
// false every numeric field is zero — the canonical undetected sample.
type Sample struct {
	FaceDetected    bool                `json:"faceDetected"`
	EyeAspectRatio  float64             `json:"eyeAspectRatio"`
	Blinking        bool                `json:"blinking"`
	BlinkRate       float64             `json:"blinkRate"` // blinks per minute
	Gaze            Vector2             `json:"gaze"`
	HeadPose        HeadPose            `json:"headPose"`
	Attention       float64             `json:"attention"` // [0,1]
	LookingAtCamera bool                `json:"lookingAtCamera"`
	Confidence      float64             `json:"confidence"`
	Source          landmark.Provenance `json:"source"`
	Timestamp       time.Time           `json:"timestamp"`
}

// EngineConfig holds the metric thresholds. The zero value maps to the
// defaults used by the session pipeline.
type EngineConfig struct {
	// MinAnchorVisibility is the fraction of anchor landmarks that must fall
	// inside the frame for the face to count as detected. Default: 0.8.
	MinAnchorVisibility float64

	// BlinkEARThreshold is the eye aspect ratio below which the eyes count as
	// closed. Default: 0.2.
	BlinkEARThreshold float64

	// BlinkDebounce is the minimum spacing between counted blink onsets.
	// Default: 100ms.
	BlinkDebounce time.Duration

	// BlinkRateWindow is the rolling window for the blinks-per-minute rate.
	// Default: 60s.
	BlinkRateWindow time.Duration

	// GazeCenterThreshold bounds |gaze| per axis for the looking-at-camera
	// judgment. Default: 0.35.
	GazeCenterThreshold float64

	// PoseCenterThreshold bounds |yaw| and |pitch| for the looking-at-camera
	// judgment. Default: 0.3.
	PoseCenterThreshold float64

	// StabilityWindow is the number of recent gaze points used for the
	// attention stability term. Default: 12 (one second at the video rate).
	StabilityWindow int
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.MinAnchorVisibility <= 0 {
		c.MinAnchorVisibility = 0.8
	}
	if c.BlinkEARThreshold <= 0 {
		c.BlinkEARThreshold = 0.2
	}
	if c.BlinkDebounce <= 0 {
		c.BlinkDebounce = 100 * time.Millisecond
	}
	if c.BlinkRateWindow <= 0 {
		c.BlinkRateWindow = time.Minute
	}
	if c.GazeCenterThreshold <= 0 {
		c.GazeCenterThreshold = 0.35
	}
	if c.PoseCenterThreshold <= 0 {
		c.PoseCenterThreshold = 0.3
	}
	if c.StabilityWindow <= 0 {
		c.StabilityWindow = 12
	}
	return c
}

// Engine computes gaze metrics from landmark frames.
type Engine struct {
	cfg EngineConfig

	eyesClosed bool
	lastOnset  time.Time
	blinks     *ring.Buffer[time.Time]
	recent     *ring.Buffer[Vector2]
}

// NewEngine returns an Engine with cfg applied over defaults.
func NewEngine(cfg EngineConfig) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:    cfg,
		blinks: ring.New[time.Time](256),
		recent: ring.New[Vector2](cfg.StabilityWindow),
	}
}

// Undetected returns the canonical sample for a frame with no usable face.
func Undetected(ts time.Time, src landmark.Provenance) Sample {
	return Sample{Source: src, Timestamp: ts}
}

// Process computes one sample from a landmark frame. Frames without a face,
// or with too many anchors out of view, yield the canonical undetected sample
// and leave the rolling blink and stability state untouched.
func (e *Engine) Process(f landmark.Frame) Sample {
	if !f.FaceDetected() || landmark.AnchorVisibility(f.Points) < e.cfg.MinAnchorVisibility {
		return Undetected(f.Timestamp, f.Source)
	}

	pts := f.Points
	ear := (eyeAspectRatio(pts, landmark.LeftEyeRing) + eyeAspectRatio(pts, landmark.RightEyeRing)) / 2
	blinking := ear < e.cfg.BlinkEARThreshold
	e.trackBlink(blinking, f.Timestamp)

	gaze := e.gazeDirection(pts)
	pose := headPose(pts)

	e.recent.Push(gaze)
	attention := e.attention(gaze)

	looking := math.Abs(gaze.X) <= e.cfg.GazeCenterThreshold &&
		math.Abs(gaze.Y) <= e.cfg.GazeCenterThreshold &&
		math.Abs(pose.Yaw) <= e.cfg.PoseCenterThreshold &&
		math.Abs(pose.Pitch) <= e.cfg.PoseCenterThreshold

	return Sample{
		FaceDetected:    true,
		EyeAspectRatio:  ear,
		Blinking:        blinking,
		BlinkRate:       e.blinkRate(f.Timestamp),
		Gaze:            gaze,
		HeadPose:        pose,
		Attention:       attention,
		LookingAtCamera: looking,
		Confidence:      f.Confidence.Float64(),
		Source:          f.Source,
		Timestamp:       f.Timestamp,
	}
}

// Reset clears the rolling blink and stability state, for reuse across
// sessions.
func (e *Engine) Reset() {
	e.eyesClosed = false
	e.lastOnset = time.Time{}
	e.blinks.Clear()
	e.recent.Clear()
}

// trackBlink counts an onset on the open→closed edge, debounced so lid
// flutter around the threshold is not counted as multiple blinks.
func (e *Engine) trackBlink(closed bool, ts time.Time) {
	if closed && !e.eyesClosed {
		if e.lastOnset.IsZero() || ts.Sub(e.lastOnset) >= e.cfg.BlinkDebounce {
			e.blinks.Push(ts)
			e.lastOnset = ts
		}
	}
	e.eyesClosed = closed
}

// blinkRate returns blinks per minute over the rolling window ending at ts.
func (e *Engine) blinkRate(ts time.Time) float64 {
	cutoff := ts.Add(-e.cfg.BlinkRateWindow)
	var n int
	for _, onset := range e.blinks.Snapshot() {
		if onset.After(cutoff) {
			n++
		}
	}
	return float64(n) * float64(time.Minute) / float64(e.cfg.BlinkRateWindow)
}

// gazeDirection locates each iris within its eye box and averages the two
// eyes into a direction in [-1,1] per axis. Meshes without refined iris
// points use the eye box center as the iris proxy, which reads as a centered
// gaze.
func (e *Engine) gazeDirection(pts []landmark.Point) Vector2 {
	hasIris := len(pts) > landmark.RightIrisCenter

	left := irisOffset(pts, landmark.LeftEyeOuter, landmark.LeftEyeInner,
		landmark.LeftEyeTop, landmark.LeftEyeBottom, landmark.LeftIrisCenter, hasIris)
	right := irisOffset(pts, landmark.RightEyeInner, landmark.RightEyeOuter,
		landmark.RightEyeTop, landmark.RightEyeBottom, landmark.RightIrisCenter, hasIris)

	return Vector2{
		X: clampUnit((left.X + right.X) / 2),
		Y: clampUnit((left.Y + right.Y) / 2),
	}
}

// irisOffset returns the iris position relative to the eye box, [-1,1] per
// axis with 0 at the box center.
func irisOffset(pts []landmark.Point, cornerA, cornerB, lidTop, lidBottom, iris int, hasIris bool) Vector2 {
	if !hasIris {
		return Vector2{}
	}
	cx := (pts[cornerA].X + pts[cornerB].X) / 2
	cy := (pts[lidTop].Y + pts[lidBottom].Y) / 2
	halfW := math.Abs(pts[cornerB].X-pts[cornerA].X) / 2
	halfH := math.Abs(pts[lidBottom].Y-pts[lidTop].Y) / 2
	if halfW < 1e-6 || halfH < 1e-6 {
		return Vector2{}
	}
	return Vector2{
		X: (pts[iris].X - cx) / halfW,
		Y: (pts[iris].Y - cy) / halfH,
	}
}

// headPose derives normalized orientation offsets from the nose position
// relative to the face extremes and the tilt of the eye line.
func headPose(pts []landmark.Point) HeadPose {
	leftOuter := pts[landmark.LeftEyeOuter]
	rightOuter := pts[landmark.RightEyeOuter]
	nose := pts[landmark.NoseTip]
	forehead := pts[landmark.Forehead]
	chin := pts[landmark.Chin]

	var yaw float64
	if span := math.Abs(rightOuter.X-leftOuter.X) / 2; span > 1e-6 {
		midX := (leftOuter.X + rightOuter.X) / 2
		yaw = (nose.X - midX) / span
	}

	var pitch float64
	if span := math.Abs(chin.Y-forehead.Y) / 2; span > 1e-6 {
		midY := (forehead.Y + chin.Y) / 2
		pitch = (nose.Y - midY) / span
	}

	// Roll from the eye line angle, normalized so ±45° maps to ±1.
	roll := math.Atan2(rightOuter.Y-leftOuter.Y, rightOuter.X-leftOuter.X) / (math.Pi / 4)

	return HeadPose{
		Yaw:   clampUnit(yaw),
		Pitch: clampUnit(pitch),
		Roll:  clampUnit(roll),
	}
}

// attention blends how centered the gaze is with how stable it has been over
// the recent window: 0.6·centered + 0.4·stability.
func (e *Engine) attention(g Vector2) float64 {
	centered := 1 - math.Min(1, math.Hypot(g.X, g.Y)/math.Sqrt2)

	stability := 1.0
	if pts := e.recent.Snapshot(); len(pts) >= 2 {
		xs := make([]float64, len(pts))
		ys := make([]float64, len(pts))
		for i, p := range pts {
			xs[i] = p.X
			ys[i] = p.Y
		}
		sd := (math.Sqrt(stat.Variance(xs, nil)) + math.Sqrt(stat.Variance(ys, nil))) / 2
		// A gaze wandering with σ ≥ 0.25 per axis counts as fully unstable.
		stability = 1 - math.Min(1, sd/0.25)
	}

	return 0.6*centered + 0.4*stability
}

// eyeAspectRatio computes the (vertical/horizontal) openness ratio over a
// six-point eye ring.
func eyeAspectRatio(pts []landmark.Point, ringIdx [6]int) float64 {
	for _, i := range ringIdx {
		if i >= len(pts) {
			return 0
		}
	}
	p := func(i int) landmark.Point { return pts[ringIdx[i]] }
	horiz := dist(p(0), p(3))
	if horiz < 1e-9 {
		return 0
	}
	return (dist(p(1), p(5)) + dist(p(2), p(4))) / (2 * horiz)
}

func dist(a, b landmark.Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

func clampUnit(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}
