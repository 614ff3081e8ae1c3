// Package mock provides a scriptable landmark.Source for tests.
//
// The zero value detects nothing (every Detect returns an empty frame). Tests
// configure behavior through the exported fields, and assert on the recorded
// call counts afterwards.
package mock

import (
	"context"
	"sync"

	"github.com/elocute/elocute/pkg/capture"
	"github.com/elocute/elocute/pkg/landmark"
)

// Source is a call-recording implementation of landmark.Source.
type Source struct {
	mu sync.Mutex

	// SourceName is returned by Name. Defaults to "mock".
	SourceName string

	// InitErr, if non-nil, is returned by Init.
	InitErr error

	// InitDelay, when non-nil, blocks Init until the channel is closed or the
	// context expires. Used to exercise initialization timeouts.
	InitDelay chan struct{}

	// Frames is the scripted Detect sequence; after it is exhausted the last
	// entry repeats. When empty, Detect returns an empty frame.
	Frames []landmark.Frame

	// DetectErrs is consulted per call before Frames: call i fails with
	// DetectErrs[i] when that entry is non-nil. Calls beyond the slice
	// succeed.
	DetectErrs []error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// InitCalls, DetectCalls and CloseCalls record invocations.
	InitCalls   int
	DetectCalls int
	CloseCalls  int

	next int
}

// Name implements landmark.Source.
func (s *Source) Name() string {
	if s.SourceName == "" {
		return "mock"
	}
	return s.SourceName
}

// Init implements landmark.Source.
func (s *Source) Init(ctx context.Context) error {
	s.mu.Lock()
	s.InitCalls++
	delay := s.InitDelay
	err := s.InitErr
	s.mu.Unlock()

	if delay != nil {
		select {
		case <-delay:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// Detect implements landmark.Source.
func (s *Source) Detect(ctx context.Context, frame capture.VideoFrame) (landmark.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	call := s.DetectCalls
	s.DetectCalls++

	if call < len(s.DetectErrs) && s.DetectErrs[call] != nil {
		return landmark.Frame{}, s.DetectErrs[call]
	}
	if len(s.Frames) == 0 {
		return landmark.Empty(frame.Timestamp, landmark.ProvenancePrimary), nil
	}
	f := s.Frames[s.next]
	if s.next < len(s.Frames)-1 {
		s.next++
	}
	if f.Timestamp.IsZero() {
		f.Timestamp = frame.Timestamp
	}
	return f, nil
}

// Close implements landmark.Source.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	return s.CloseErr
}

var _ landmark.Source = (*Source)(nil)
