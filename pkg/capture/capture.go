// Package capture defines the contracts for the frame and audio collaborators
// that feed the engagement pipeline.
//
// The pipeline never owns a camera or microphone. A host application (browser
// bridge, desktop recorder, test harness) implements [VideoSource] and
// [AudioSource]; the session's sampling loops pull from them at their own
// cadence. Sources decide what "the current frame" means — they may return
// the same frame twice if the device is slower than the sampling rate.
//
// Implementations must be safe for concurrent use.
package capture

import (
	"errors"
	"time"
)

// ErrNoData is returned by sources when nothing new is available for this
// tick. The pipeline treats it as a skipped tick, not a failure: video holds
// the previous detection, audio keeps the last sample stale.
var ErrNoData = errors.New("capture: no data available")

// VideoFrame is one decoded camera frame. Pixels are tightly packed RGBA,
// row-major, so len(Pixels) == Width*Height*4.
type VideoFrame struct {
	Pixels    []byte
	Width     int
	Height    int
	Timestamp time.Time
}

// AudioBuffer is one analysis window of microphone audio in the byte-oriented
// analyser format: TimeDomain samples are unsigned bytes centered at 128, and
// FrequencyDomain holds per-bin magnitudes scaled to 0–255 for a window of
// len(TimeDomain) samples. FrequencyDomain may be empty, in which case the
// audio engine derives the spectrum itself via FFT.
type AudioBuffer struct {
	TimeDomain      []byte
	FrequencyDomain []byte
	SampleRate      int
	Timestamp       time.Time
}

// VideoSource supplies decoded camera frames on demand.
type VideoSource interface {
	// ReadFrame returns the most recent frame. It must return promptly —
	// when no frame has arrived yet it returns [ErrNoData] rather than
	// waiting for the device.
	ReadFrame() (VideoFrame, error)

	// Close releases the underlying capture handle. Safe to call twice.
	Close() error
}

// AudioSource supplies periodic audio analysis buffers.
type AudioSource interface {
	// ReadBuffer returns the current analysis window, or [ErrNoData] when the
	// device has not produced a new window since the last call.
	ReadBuffer() (AudioBuffer, error)

	// Close releases the underlying capture handle. Safe to call twice.
	Close() error
}
