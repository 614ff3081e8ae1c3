// Package detector provides the health-gated landmark detector manager.
//
// The central type is [Manager], which owns an ordered list of
// [landmark.Source] tiers: a primary detector followed by progressively
// cheaper fallbacks. Initialization walks the tiers until one comes up inside
// the configured timeout; at runtime, a run of consecutive per-frame failures
// advances to the next tier. Transitions are one-way — a demoted tier is
// closed and never retried for the lifetime of the manager, so metric
// consumers see a stable provenance rather than flapping.
//
// Detect never returns an error: when every tier is exhausted the manager is
// failed and produces empty (no face) frames, keeping the session pipeline
// alive.
package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/elocute/elocute/internal/observe"
	"github.com/elocute/elocute/pkg/capture"
	"github.com/elocute/elocute/pkg/landmark"
)

// ErrAllFailed is returned by [Manager.Init] when no tier could be
// initialized.
var ErrAllFailed = errors.New("detector: all sources failed to initialize")

// State represents the current operating mode of a [Manager].
type State int

const (
	// StateUninitialized is the state before Init is called.
	StateUninitialized State = iota

	// StateInitializing indicates a tier is currently being brought up.
	StateInitializing

	// StatePrimary indicates the first tier is serving detections.
	StatePrimary

	// StateFallback indicates a fallback tier is serving detections.
	StateFallback

	// StateFailed is terminal: every tier has been exhausted and Detect
	// produces empty frames.
	StateFailed
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StatePrimary:
		return "primary"
	case StateFallback:
		return "fallback"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config holds tuning knobs for a [Manager].
type Config struct {
	// InitTimeout bounds each tier's Init call. Default: 5s.
	InitTimeout time.Duration

	// MaxConsecutiveFailures is the number of consecutive per-frame failures
	// before the manager advances to the next tier. Default: 3.
	MaxConsecutiveFailures int

	// Metrics receives detector instrumentation. When nil,
	// [observe.DefaultMetrics] is used.
	Metrics *observe.Metrics
}

// Stats is a point-in-time snapshot of manager counters.
type Stats struct {
	State               State
	ActiveSource        string
	FramesTotal         int64
	Failures            int64
	Transitions         int64
	ConsecutiveFailures int
}

// tier pairs a source with its lifecycle bookkeeping.
type tier struct {
	source landmark.Source
	inited bool
	closed bool
}

// Manager drives an ordered list of landmark sources with one-way failover.
//
// Detect must be called from a single pipeline goroutine. State, ActiveSource
// and Stats are safe to call from any goroutine.
type Manager struct {
	cfg Config
	met *observe.Metrics

	mu          sync.Mutex
	tiers       []tier
	active      int // index into tiers, -1 before Init
	state       State
	consecutive int
	provenance  landmark.Provenance

	framesTotal int64
	failures    int64
	transitions int64
}

// New creates a [Manager] with primary as the first tier. Zero-value config
// fields are replaced with sensible defaults.
func New(cfg Config, primary landmark.Source, fallbacks ...landmark.Source) *Manager {
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = 5 * time.Second
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = 3
	}
	met := cfg.Metrics
	if met == nil {
		met = observe.DefaultMetrics()
	}

	tiers := make([]tier, 0, 1+len(fallbacks))
	tiers = append(tiers, tier{source: primary})
	for _, f := range fallbacks {
		tiers = append(tiers, tier{source: f})
	}

	return &Manager{
		cfg:        cfg,
		met:        met,
		tiers:      tiers,
		active:     -1,
		state:      StateUninitialized,
		provenance: landmark.ProvenancePrimary,
	}
}

// Init brings up the first tier that initializes within the configured
// timeout, in order. Tiers that fail to initialize are closed and skipped
// permanently. Returns [ErrAllFailed] when no tier came up; the manager is
// then failed but still usable — Detect produces empty frames.
func (m *Manager) Init(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateUninitialized {
		return fmt.Errorf("detector: Init called in state %s", m.state)
	}
	return m.advanceLocked(ctx)
}

// Detect runs one detection against the active tier, stamping provenance and
// applying the fallback confidence ceiling. Failures are counted toward a
// tier transition; the transitioning tick itself yields an empty frame.
// Detect never returns an error.
func (m *Manager) Detect(ctx context.Context, frame capture.VideoFrame) landmark.Frame {
	m.mu.Lock()
	if m.state != StatePrimary && m.state != StateFallback {
		prov := m.provenance
		m.mu.Unlock()
		return landmark.Empty(frame.Timestamp, prov)
	}
	src := m.tiers[m.active].source
	m.framesTotal++
	m.mu.Unlock()

	start := time.Now()
	result, err := detectOnce(ctx, src, frame)
	m.met.DetectDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("source", src.Name())))

	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case err == nil:
		m.consecutive = 0
		return m.stampLocked(result)

	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		// The pipeline is shutting down or skipped the tick; not the
		// detector's fault, so it does not count toward a transition.
		return landmark.Empty(frame.Timestamp, m.provenance)

	default:
		m.failures++
		m.consecutive++
		m.met.RecordDetectorFailure(ctx, src.Name())
		slog.Warn("detector frame failure",
			"source", src.Name(),
			"consecutive", m.consecutive,
			"error", err)

		if m.consecutive >= m.cfg.MaxConsecutiveFailures {
			if err := m.advanceLocked(ctx); err != nil {
				slog.Error("detector exhausted all tiers", "error", err)
			}
		}
		return landmark.Empty(frame.Timestamp, m.provenance)
	}
}

// detectOnce calls src.Detect with panic containment. A panicking detector is
// reported as an ordinary failure.
func detectOnce(ctx context.Context, src landmark.Source, frame capture.VideoFrame) (f landmark.Frame, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("detector: %s panicked: %v", src.Name(), r)
		}
	}()
	return src.Detect(ctx, frame)
}

// stampLocked overwrites the frame's provenance with the active tier's and
// caps fallback confidence. Must be called with m.mu held.
func (m *Manager) stampLocked(f landmark.Frame) landmark.Frame {
	f.Source = m.provenance
	if m.provenance == landmark.ProvenanceFallback {
		f.Confidence = f.Confidence.Cap(landmark.FallbackConfidenceCeiling)
	}
	return f
}

// advanceLocked moves to the next tier that initializes successfully, closing
// the outgoing tier and any that fail to come up. Must be called with m.mu
// held; the lock is released around each Init call so accessors stay
// responsive during a slow model load.
func (m *Manager) advanceLocked(ctx context.Context) error {
	from := m.state
	if m.active >= 0 {
		m.closeTierLocked(m.active)
	}

	for next := m.active + 1; next < len(m.tiers); next++ {
		src := m.tiers[next].source
		m.state = StateInitializing
		m.mu.Unlock()

		initCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.InitTimeout)
		err := src.Init(initCtx)
		cancel()

		m.mu.Lock()
		if err != nil {
			slog.Warn("detector tier failed to initialize, skipping",
				"source", src.Name(), "error", err)
			m.closeTierLocked(next)
			continue
		}

		m.tiers[next].inited = true
		m.active = next
		m.consecutive = 0
		if next == 0 {
			m.state = StatePrimary
			m.provenance = landmark.ProvenancePrimary
		} else {
			m.state = StateFallback
			m.provenance = landmark.ProvenanceFallback
		}
		m.transitions++
		m.met.RecordDetectorTransition(ctx, from.String(), m.state.String(), int64(m.state))
		slog.Info("detector tier active",
			"source", src.Name(),
			"state", m.state.String(),
			"from", from.String())
		return nil
	}

	m.active = len(m.tiers)
	m.state = StateFailed
	m.transitions++
	m.met.RecordDetectorTransition(ctx, from.String(), m.state.String(), int64(m.state))
	return ErrAllFailed
}

// closeTierLocked closes a tier once, logging close errors. Must be called
// with m.mu held.
func (m *Manager) closeTierLocked(i int) {
	t := &m.tiers[i]
	if t.closed {
		return
	}
	t.closed = true
	if err := t.source.Close(); err != nil {
		slog.Warn("detector tier close failed",
			"source", t.source.Name(), "error", err)
	}
}

// State returns the current manager state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ActiveSource returns the name of the serving tier, or "" when none is
// active.
func (m *Manager) ActiveSource() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StatePrimary && m.state != StateFallback {
		return ""
	}
	return m.tiers[m.active].source.Name()
}

// Stats returns a snapshot of the manager's counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		State:               m.state,
		FramesTotal:         m.framesTotal,
		Failures:            m.failures,
		Transitions:         m.transitions,
		ConsecutiveFailures: m.consecutive,
	}
	if m.state == StatePrimary || m.state == StateFallback {
		s.ActiveSource = m.tiers[m.active].source.Name()
	}
	return s
}

// Close shuts down every tier that is still open. The manager must not be
// used afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for i := range m.tiers {
		t := &m.tiers[i]
		if t.closed {
			continue
		}
		t.closed = true
		if err := t.source.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", t.source.Name(), err))
		}
	}
	m.state = StateFailed
	return errors.Join(errs...)
}
