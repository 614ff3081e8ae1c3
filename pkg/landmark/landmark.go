// Package landmark defines the Source interface for facial landmark detection
// backends and the frame type they produce.
//
// A landmark source wraps a face-mesh detector (an ONNX model, a remote
// detection service, or a synthetic heuristic) and surfaces it through a
// single Detect call. "No face in this frame" is a valid result — an empty
// [Frame] — not an error; errors are reserved for detector failures and feed
// the detector manager's fallback accounting.
//
// Implementations must be safe for concurrent use unless documented otherwise.
// A source's Detect must not block past the deadline on the supplied context.
package landmark

import (
	"context"
	"time"

	"github.com/elocute/elocute/pkg/capture"
)

// Point is a single detected landmark in normalized image coordinates.
// X and Y lie in [0,1] with the origin at the top-left corner; Z is a relative
// depth with 0 at the reference plane (negative toward the camera).
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Provenance identifies which detection strategy produced a [Frame].
type Provenance string

const (
	// ProvenancePrimary marks frames from the model-backed detector.
	ProvenancePrimary Provenance = "primary"

	// ProvenanceFallback marks frames from the lightweight fallback detector.
	// Downstream consumers cap the confidence of fallback frames.
	ProvenanceFallback Provenance = "fallback"
)

// Frame is one detection result: the full landmark set for a single video
// frame, or an empty point set when no face was found. A Frame is immutable
// once produced; the detector manager owns it for the duration of one tick
// and hands it to the gaze engine by value.
type Frame struct {
	// Points holds the detected mesh in MediaPipe face-mesh index order.
	// Empty means no face was detected in this frame.
	Points []Point

	// Timestamp is when the source frame was captured.
	Timestamp time.Time

	// Source records which detection strategy produced this frame.
	Source Provenance

	// Confidence is the detector's own estimate of result quality.
	Confidence Confidence
}

// FaceDetected reports whether the frame carries a landmark set.
func (f Frame) FaceDetected() bool {
	return len(f.Points) > 0
}

// Empty returns the canonical "no face" frame for the given timestamp and
// provenance: zero points, zero confidence. Sources and the detector manager
// return this instead of nil so that callers always receive a well-formed
// result.
func Empty(ts time.Time, src Provenance) Frame {
	return Frame{Timestamp: ts, Source: src}
}

// Source is the interface implemented by each landmark detection backend.
type Source interface {
	// Name returns a short identifier used in logs and metrics ("onnx",
	// "remote", "synthetic").
	Name() string

	// Init prepares the backend (loads the model, probes the remote service).
	// It must respect ctx cancellation; the detector manager imposes a
	// deadline and treats expiry as initialization failure.
	Init(ctx context.Context) error

	// Detect runs landmark detection on one captured video frame. A frame
	// with no visible face yields an empty [Frame] and a nil error. A non-nil
	// error counts toward the manager's consecutive-failure threshold.
	Detect(ctx context.Context, frame capture.VideoFrame) (Frame, error)

	// Close releases backend resources. Calling Close more than once is safe.
	Close() error
}
