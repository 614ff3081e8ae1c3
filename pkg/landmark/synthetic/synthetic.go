// Package synthetic implements a heuristic landmark source that needs no
// model runtime.
//
// It estimates the face position from the luminance centroid of the frame and
// lays out a canonical face template around it, jittered slightly per frame so
// downstream stability metrics see realistic micro-movement. Fidelity is far
// below a learned detector; it exists as the fallback tier so a session can
// keep producing engagement metrics when the primary detector is unavailable.
package synthetic

import (
	"context"
	"math"
	"sync"

	"github.com/elocute/elocute/pkg/capture"
	"github.com/elocute/elocute/pkg/landmark"
)

// Minimum luminance spread for a frame to count as containing a subject. A
// covered or blank camera produces a nearly flat image.
const minLuminanceSpread = 6.0

// Source is a heuristic landmark.Source. The zero value is ready to use.
type Source struct {
	mu      sync.Mutex
	counter uint64
}

// New returns a ready Source.
func New() *Source { return &Source{} }

// Name implements landmark.Source.
func (s *Source) Name() string { return "synthetic" }

// Init implements landmark.Source. The heuristic has no model to load.
func (s *Source) Init(ctx context.Context) error { return nil }

// Close implements landmark.Source.
func (s *Source) Close() error { return nil }

// Detect estimates a face template from the frame's luminance distribution.
// Frames with no discernible subject produce an empty result.
func (s *Source) Detect(ctx context.Context, frame capture.VideoFrame) (landmark.Frame, error) {
	s.mu.Lock()
	n := s.counter
	s.counter++
	s.mu.Unlock()

	cx, cy, spread := luminanceCentroid(frame)
	if spread < minLuminanceSpread {
		return landmark.Empty(frame.Timestamp, landmark.ProvenanceFallback), nil
	}

	// Small periodic jitter stands in for natural head micro-movement.
	t := float64(n)
	jx := 0.004 * math.Sin(t/7)
	jy := 0.003 * math.Cos(t/11)

	pts := faceTemplate(cx+jx, cy+jy)
	conf := landmark.Confidence(0.2 + spread/255.0).Clamp()

	return landmark.Frame{
		Points:     pts,
		Timestamp:  frame.Timestamp,
		Source:     landmark.ProvenanceFallback,
		Confidence: conf.Cap(landmark.FallbackConfidenceCeiling),
	}, nil
}

// luminanceCentroid returns the brightness-weighted centroid in normalized
// coordinates plus the luminance standard deviation. The frame is subsampled
// on a coarse grid to keep the cost negligible next to a model inference.
func luminanceCentroid(frame capture.VideoFrame) (cx, cy, spread float64) {
	if frame.Width <= 0 || frame.Height <= 0 || len(frame.Pixels) < frame.Width*frame.Height*4 {
		return 0.5, 0.5, 0
	}

	const grid = 32
	stepX := frame.Width / grid
	stepY := frame.Height / grid
	if stepX == 0 {
		stepX = 1
	}
	if stepY == 0 {
		stepY = 1
	}

	var sum, sumSq, wx, wy, count float64
	for y := 0; y < frame.Height; y += stepY {
		for x := 0; x < frame.Width; x += stepX {
			i := (y*frame.Width + x) * 4
			r := float64(frame.Pixels[i])
			g := float64(frame.Pixels[i+1])
			b := float64(frame.Pixels[i+2])
			lum := 0.299*r + 0.587*g + 0.114*b
			sum += lum
			sumSq += lum * lum
			wx += lum * float64(x)
			wy += lum * float64(y)
			count++
		}
	}
	if count == 0 || sum == 0 {
		return 0.5, 0.5, 0
	}

	mean := sum / count
	variance := sumSq/count - mean*mean
	if variance < 0 {
		variance = 0
	}
	cx = wx / sum / float64(frame.Width)
	cy = wy / sum / float64(frame.Height)
	return cx, cy, math.Sqrt(variance)
}

// faceTemplate lays out the refined mesh around a normalized face center.
// Named indices carry the geometry the metric engine reads; the remainder fill
// an ellipse so visibility checks see a dense, in-bounds mesh.
func faceTemplate(cx, cy float64) []landmark.Point {
	pts := make([]landmark.Point, landmark.RefinedMeshPointCount)

	// Half extents of the template face in normalized coordinates.
	const w, h = 0.16, 0.22

	// Filler points on concentric ellipses. Named indices overwrite below.
	for i := range pts {
		a := float64(i) * 2.399963 // golden angle keeps neighbors spread out
		r := 0.3 + 0.7*float64(i%7)/6.0
		pts[i] = landmark.Point{
			X: clamp01(cx + w*r*math.Cos(a)),
			Y: clamp01(cy + h*r*math.Sin(a)),
			Z: -0.02 * r,
		}
	}

	set := func(idx int, dx, dy, z float64) {
		pts[idx] = landmark.Point{X: clamp01(cx + dx), Y: clamp01(cy + dy), Z: z}
	}

	set(landmark.NoseTip, 0, 0.02, -0.06)
	set(landmark.Forehead, 0, -h*0.9, -0.02)
	set(landmark.Chin, 0, h*0.95, -0.01)

	// Left eye (subject's left, image-right mirrored layout kept simple).
	const eyeY = -0.045
	set(landmark.LeftEyeOuter, -w*0.75, eyeY, -0.02)
	set(landmark.LeftEyeInner, -w*0.25, eyeY, -0.025)
	set(landmark.LeftEyeTop, -w*0.5, eyeY-0.016, -0.02)
	set(landmark.LeftEyeBottom, -w*0.5, eyeY+0.016, -0.02)
	set(landmark.LeftIrisCenter, -w*0.5, eyeY, -0.03)

	// Right eye.
	set(landmark.RightEyeInner, w*0.25, eyeY, -0.025)
	set(landmark.RightEyeOuter, w*0.75, eyeY, -0.02)
	set(landmark.RightEyeTop, w*0.5, eyeY-0.016, -0.02)
	set(landmark.RightEyeBottom, w*0.5, eyeY+0.016, -0.02)
	set(landmark.RightIrisCenter, w*0.5, eyeY, -0.03)

	// Remaining ring points between the named lid extremes.
	set(landmark.LeftEyeRing[1], -w*0.62, eyeY-0.012, -0.02)
	set(landmark.LeftEyeRing[2], -w*0.38, eyeY-0.012, -0.02)
	set(landmark.LeftEyeRing[4], -w*0.38, eyeY+0.012, -0.02)
	set(landmark.LeftEyeRing[5], -w*0.62, eyeY+0.012, -0.02)
	set(landmark.RightEyeRing[1], w*0.38, eyeY-0.012, -0.02)
	set(landmark.RightEyeRing[2], w*0.62, eyeY-0.012, -0.02)
	set(landmark.RightEyeRing[4], w*0.62, eyeY+0.012, -0.02)
	set(landmark.RightEyeRing[5], w*0.38, eyeY+0.012, -0.02)

	return pts
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

var _ landmark.Source = (*Source)(nil)
