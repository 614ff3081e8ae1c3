// Package mock provides test doubles for the capture package interfaces.
//
// Use [VideoSource] to script a sequence of frames and [AudioSource] to
// script analysis buffers. [SineAudioSource] synthesizes a steady tone in the
// analyser byte format, which gives the audio engine a deterministic,
// speech-like input without a real microphone.
package mock

import (
	"math"
	"sync"
	"time"

	"github.com/elocute/elocute/pkg/capture"
)

// VideoSource is a scripted implementation of capture.VideoSource. Frames are
// returned in order; after the script is exhausted the last frame repeats.
type VideoSource struct {
	mu sync.Mutex

	// Frames is the scripted sequence. When empty, ReadFrame returns
	// capture.ErrNoData.
	Frames []capture.VideoFrame

	// ReadErr, if non-nil, is returned by every ReadFrame call.
	ReadErr error

	// ReadCalls counts ReadFrame invocations.
	ReadCalls int

	// CloseCalls counts Close invocations.
	CloseCalls int

	next int
}

// ReadFrame returns the next scripted frame.
func (s *VideoSource) ReadFrame() (capture.VideoFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ReadCalls++
	if s.ReadErr != nil {
		return capture.VideoFrame{}, s.ReadErr
	}
	if len(s.Frames) == 0 {
		return capture.VideoFrame{}, capture.ErrNoData
	}
	f := s.Frames[s.next]
	if s.next < len(s.Frames)-1 {
		s.next++
	}
	return f, nil
}

// Close records the call.
func (s *VideoSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	return nil
}

var _ capture.VideoSource = (*VideoSource)(nil)

// AudioSource is a scripted implementation of capture.AudioSource.
type AudioSource struct {
	mu sync.Mutex

	// Buffers is the scripted sequence. When exhausted, ReadBuffer returns
	// capture.ErrNoData (simulating buffer starvation).
	Buffers []capture.AudioBuffer

	// ReadErr, if non-nil, is returned by every ReadBuffer call.
	ReadErr error

	// ReadCalls counts ReadBuffer invocations.
	ReadCalls int

	// CloseCalls counts Close invocations.
	CloseCalls int

	next int
}

// ReadBuffer returns the next scripted buffer.
func (s *AudioSource) ReadBuffer() (capture.AudioBuffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ReadCalls++
	if s.ReadErr != nil {
		return capture.AudioBuffer{}, s.ReadErr
	}
	if s.next >= len(s.Buffers) {
		return capture.AudioBuffer{}, capture.ErrNoData
	}
	b := s.Buffers[s.next]
	s.next++
	return b, nil
}

// Close records the call.
func (s *AudioSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	return nil
}

var _ capture.AudioSource = (*AudioSource)(nil)

// SineAudioSource synthesizes an endless tone at a fixed frequency and
// amplitude in the analyser byte format. Amplitude is in [0,1]; 0 produces
// silence (all samples at the 128 midpoint).
type SineAudioSource struct {
	// Frequency of the tone in Hz.
	Frequency float64

	// Amplitude in [0,1].
	Amplitude float64

	// SampleRate in Hz. Defaults to 44100 when zero.
	SampleRate int

	// WindowSize is the analysis window length in samples. Defaults to 2048.
	WindowSize int

	mu    sync.Mutex
	phase float64
}

// ReadBuffer synthesizes the next analysis window, advancing the tone phase
// so consecutive windows are continuous.
func (s *SineAudioSource) ReadBuffer() (capture.AudioBuffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rate := s.SampleRate
	if rate == 0 {
		rate = 44100
	}
	size := s.WindowSize
	if size == 0 {
		size = 2048
	}

	td := make([]byte, size)
	step := 2 * math.Pi * s.Frequency / float64(rate)
	for i := range td {
		v := 128 + 127*s.Amplitude*math.Sin(s.phase)
		td[i] = byte(math.Round(v))
		s.phase += step
	}
	// Keep the phase bounded.
	s.phase = math.Mod(s.phase, 2*math.Pi)

	return capture.AudioBuffer{
		TimeDomain: td,
		SampleRate: rate,
		Timestamp:  time.Now(),
	}, nil
}

// Close is a no-op.
func (s *SineAudioSource) Close() error { return nil }

var _ capture.AudioSource = (*SineAudioSource)(nil)
