// Package synthetic provides self-contained capture sources for running the
// pipeline without real devices.
//
// [VideoSource] renders a bright elliptical subject drifting slowly over a
// dark background, which the heuristic landmark tier resolves into a moving
// face. [AudioSource] alternates speech-like tone bursts with pauses so the
// audio engine sees volume dynamics, segments and cadence. Together they let
// the server run end to end in demo mode; a host application replaces them
// with its own capture collaborators.
package synthetic

import (
	"math"
	"sync"
	"time"

	"github.com/elocute/elocute/pkg/capture"
)

// VideoSource generates frames with a bright subject whose position orbits
// the frame center. The zero value is ready to use.
type VideoSource struct {
	// Width and Height of generated frames. Defaults: 320 x 240.
	Width  int
	Height int

	// Period is the orbit length in frames. Defaults to 240 (20s at 12 Hz).
	Period int

	mu    sync.Mutex
	frame uint64
}

// ReadFrame renders the next frame. It never returns capture.ErrNoData; the
// generator always has a current frame.
func (s *VideoSource) ReadFrame() (capture.VideoFrame, error) {
	s.mu.Lock()
	n := s.frame
	s.frame++
	s.mu.Unlock()

	w, h := s.Width, s.Height
	if w <= 0 {
		w = 320
	}
	if h <= 0 {
		h = 240
	}
	period := float64(s.Period)
	if period <= 0 {
		period = 240
	}

	// Subject center drifts on two incommensurate axes so the path never
	// repeats exactly within one orbit.
	t := float64(n)
	cx := (0.5 + 0.06*math.Sin(2*math.Pi*t/period)) * float64(w)
	cy := (0.5 + 0.04*math.Cos(2*math.Pi*t/(period*1.3))) * float64(h)
	rx := 0.18 * float64(w)
	ry := 0.24 * float64(h)

	px := make([]byte, w*h*4)
	for y := 0; y < h; y++ {
		dy := (float64(y) - cy) / ry
		for x := 0; x < w; x++ {
			dx := (float64(x) - cx) / rx
			i := (y*w + x) * 4
			if dx*dx+dy*dy <= 1 {
				px[i], px[i+1], px[i+2] = 210, 185, 170
			} else {
				px[i], px[i+1], px[i+2] = 24, 24, 28
			}
			px[i+3] = 255
		}
	}

	return capture.VideoFrame{
		Pixels:    px,
		Width:     w,
		Height:    h,
		Timestamp: time.Now(),
	}, nil
}

// Close implements capture.VideoSource. The generator holds no device handle.
func (s *VideoSource) Close() error { return nil }

var _ capture.VideoSource = (*VideoSource)(nil)

// AudioSource synthesizes speech-like audio: tone bursts with gentle
// amplitude modulation, separated by pauses. The zero value is ready to use.
type AudioSource struct {
	// Frequency of the voiced tone in Hz. Defaults to 170.
	Frequency float64

	// Amplitude in [0,1] during bursts. Defaults to 0.6.
	Amplitude float64

	// SampleRate in Hz. Defaults to 44100.
	SampleRate int

	// WindowSize is the analysis window length in samples. Defaults to 2048.
	WindowSize int

	// SpeechDuration and PauseDuration shape the burst cycle.
	// Defaults: 1800ms speech, 600ms pause.
	SpeechDuration time.Duration
	PauseDuration  time.Duration

	mu    sync.Mutex
	phase float64
	pos   float64 // playback position in seconds
}

// ReadBuffer synthesizes the next analysis window, advancing the burst cycle
// and tone phase so consecutive windows are continuous.
func (s *AudioSource) ReadBuffer() (capture.AudioBuffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	freq := s.Frequency
	if freq <= 0 {
		freq = 170
	}
	amp := s.Amplitude
	if amp <= 0 {
		amp = 0.6
	}
	rate := s.SampleRate
	if rate <= 0 {
		rate = 44100
	}
	size := s.WindowSize
	if size <= 0 {
		size = 2048
	}
	speech := s.SpeechDuration.Seconds()
	if speech <= 0 {
		speech = 1.8
	}
	pause := s.PauseDuration.Seconds()
	if pause <= 0 {
		pause = 0.6
	}
	cycle := speech + pause

	td := make([]byte, size)
	step := 2 * math.Pi * freq / float64(rate)
	dt := 1 / float64(rate)
	for i := range td {
		v := 128.0
		if math.Mod(s.pos, cycle) < speech {
			// Slow amplitude modulation stands in for syllable-level
			// loudness variation.
			env := 0.85 + 0.15*math.Sin(2*math.Pi*3*s.pos)
			v = 128 + 127*amp*env*math.Sin(s.phase)
		}
		td[i] = byte(math.Round(v))
		s.phase += step
		s.pos += dt
	}
	s.phase = math.Mod(s.phase, 2*math.Pi)

	return capture.AudioBuffer{
		TimeDomain: td,
		SampleRate: rate,
		Timestamp:  time.Now(),
	}, nil
}

// Close implements capture.AudioSource. The generator holds no device handle.
func (s *AudioSource) Close() error { return nil }

var _ capture.AudioSource = (*AudioSource)(nil)
