// Package app wires all elocute subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the HTTP API until the context ends, and Shutdown
// tears everything down in reverse-init order.
//
// For testing, inject doubles via functional options (WithSources,
// WithCaptureFactory, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/elocute/elocute/internal/config"
	"github.com/elocute/elocute/internal/detector"
	"github.com/elocute/elocute/internal/health"
	"github.com/elocute/elocute/internal/observe"
	"github.com/elocute/elocute/internal/session"
	"github.com/elocute/elocute/internal/web"
	"github.com/elocute/elocute/pkg/capture"
	capsynthetic "github.com/elocute/elocute/pkg/capture/synthetic"
	"github.com/elocute/elocute/pkg/landmark"
	"github.com/elocute/elocute/pkg/landmark/onnx"
	"github.com/elocute/elocute/pkg/landmark/remote"
	lmsynthetic "github.com/elocute/elocute/pkg/landmark/synthetic"
)

const (
	// defaultListenAddr is used when the config leaves server.listen_addr
	// empty.
	defaultListenAddr = ":8080"

	// defaultStreamMS is the websocket push cadence when the config leaves
	// server.stream_interval_ms unset.
	defaultStreamMS = 250

	// staleAfter is how old the newest committed sample may get before
	// /readyz flags a wedged pipeline.
	staleAfter = 10 * time.Second

	// drainTimeout bounds the graceful HTTP listener drain in Run.
	drainTimeout = 5 * time.Second
)

// App owns all subsystem lifetimes for the elocute engagement server.
type App struct {
	cfg      *config.Config
	metrics  *observe.Metrics
	det      *detector.Manager
	sessions *SessionManager
	httpSrv  *http.Server
	watcher  *config.Watcher

	// logLevel is shared with the cmd logger so a config reload can adjust
	// verbosity at runtime.
	logLevel *slog.LevelVar

	// streamMS is the websocket push cadence in milliseconds, swapped by the
	// config watcher while connections are live.
	streamMS atomic.Int64

	// configPath is where the config was loaded from; empty disables the
	// watcher.
	configPath string

	// sources overrides the config-built detector tier chain.
	sources []landmark.Source

	// capture produces the per-session capture pair.
	capture CaptureFactory

	// closers are run in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSources injects the detector tier chain instead of building it from
// the config.
func WithSources(sources ...landmark.Source) Option {
	return func(a *App) { a.sources = sources }
}

// WithCaptureFactory injects the capture pair factory used for new sessions.
// The default factory hands out the built-in synthetic sources.
func WithCaptureFactory(f CaptureFactory) Option {
	return func(a *App) { a.capture = f }
}

// WithLogLevel shares the cmd logger's level var so config reloads can
// adjust verbosity.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithConfigFile records where the config was loaded from so the watcher can
// poll it when server.watch_config is enabled.
func WithConfigFile(path string) Option {
	return func(a *App) { a.configPath = path }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together: telemetry providers,
// the detector tier chain, the session manager, the HTTP surface and the
// optional config watcher. All initialisation is synchronous; the detector
// tiers are probed before New returns.
//
// A detector whose every tier fails to initialize does not abort the boot:
// the server comes up degraded, /readyz reports the failure, and sessions
// produce no-face samples until a restart.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.logLevel == nil {
		a.logLevel = &slog.LevelVar{}
	}

	ms := cfg.Server.StreamIntervalMS
	if ms <= 0 {
		ms = defaultStreamMS
	}
	a.streamMS.Store(int64(ms))

	// ── 1. Observability ─────────────────────────────────────────────────
	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		return shutdown(ctx)
	})
	a.metrics = observe.DefaultMetrics()

	// ── 2. Detector manager ──────────────────────────────────────────────
	if err := a.initDetector(ctx); err != nil {
		return nil, fmt.Errorf("app: init detector: %w", err)
	}

	// ── 3. Session manager ───────────────────────────────────────────────
	if a.capture == nil {
		// The built-in synthetic pair makes the binary runnable without any
		// camera or microphone plumbing; embedding applications override it
		// with real capture.
		a.capture = func() (capture.VideoSource, capture.AudioSource, error) {
			return &capsynthetic.VideoSource{}, &capsynthetic.AudioSource{}, nil
		}
	}
	a.sessions = NewSessionManager(SessionManagerConfig{
		Config:   cfg,
		Detector: a.det,
		Capture:  a.capture,
		Metrics:  a.metrics,
	})

	// ── 4. HTTP surface ──────────────────────────────────────────────────
	checks := health.New(
		health.Detector(a.det),
		health.Staleness("session", a.sessions.LastSample, staleAfter),
	)
	router := web.New(web.Config{
		Sessions:       a.sessions,
		Detector:       a.det,
		Health:         checks,
		Metrics:        a.metrics,
		MetricsHandler: promhttp.Handler(),
		StreamInterval: a.streamInterval,
	})
	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = defaultListenAddr
	}
	a.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// ── 5. Config watcher ────────────────────────────────────────────────
	if err := a.initWatcher(); err != nil {
		return nil, fmt.Errorf("app: init config watcher: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initDetector builds the tier chain and probes it. Tier construction errors
// abort the boot; initialization failures only degrade it.
func (a *App) initDetector(ctx context.Context) error {
	sources := a.sources
	if len(sources) == 0 {
		var err error
		sources, err = buildSources(a.cfg.Detector.Tiers)
		if err != nil {
			return err
		}
	}

	a.det = detector.New(detector.Config{
		InitTimeout:            msDuration(a.cfg.Detector.InitTimeoutMS),
		MaxConsecutiveFailures: a.cfg.Detector.MaxConsecutiveFailures,
		Metrics:                a.metrics,
	}, sources[0], sources[1:]...)
	a.closers = append(a.closers, a.det.Close)

	if err := a.det.Init(ctx); err != nil {
		if ctx.Err() != nil {
			return err
		}
		slog.Warn("no detector tier initialized; sessions will report no face", "error", err)
		return nil
	}

	slog.Info("detector initialized",
		"state", a.det.State().String(),
		"source", a.det.ActiveSource(),
	)
	return nil
}

// buildSources constructs the landmark source chain from the configured
// tiers. An empty tier list yields the synthetic source alone, so a bare
// config still boots a working (if approximate) pipeline.
func buildSources(tiers []config.TierConfig) ([]landmark.Source, error) {
	if len(tiers) == 0 {
		slog.Info("no detector tiers configured; using the synthetic source")
		return []landmark.Source{lmsynthetic.New()}, nil
	}

	sources := make([]landmark.Source, 0, len(tiers))
	for i, tier := range tiers {
		var (
			src landmark.Source
			err error
		)
		switch tier.Type {
		case config.SourceONNX:
			src, err = onnx.New(onnx.Config{ModelPath: tier.ModelPath})
		case config.SourceRemote:
			src, err = remote.New(remote.Config{
				BaseURL:        tier.URL,
				RequestTimeout: msDuration(tier.TimeoutMS),
			})
		case config.SourceSynthetic:
			src = lmsynthetic.New()
		default:
			err = fmt.Errorf("unknown source type %q", tier.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("tier %d (%s): %w", i, tier.Type, err)
		}
		sources = append(sources, src)
	}
	return sources, nil
}

// initWatcher starts polling the config file when watching is enabled and a
// path is known.
func (a *App) initWatcher() error {
	if !a.cfg.Server.WatchConfig || a.configPath == "" {
		return nil
	}

	w, err := config.NewWatcher(a.configPath, a.applyConfig)
	if err != nil {
		return err
	}
	a.watcher = w
	slog.Info("config watcher started", "path", a.configPath)
	return nil
}

// applyConfig applies the hot-reloadable subset of a config change and warns
// when the rest needs a restart. It runs on the watcher's poll goroutine.
func (a *App) applyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}

	if d.LogLevelChanged {
		a.logLevel.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.StreamIntervalChanged {
		ms := d.NewStreamIntervalMS
		if ms <= 0 {
			ms = defaultStreamMS
		}
		a.streamMS.Store(int64(ms))
		slog.Info("stream cadence changed", "interval_ms", ms)
	}
	if d.RestartRequired {
		slog.Warn("config change affects fixed settings; restart to apply")
	}
}

// streamInterval is handed to the web layer; it reads the current cadence on
// every tick so watcher swaps reach live websocket connections.
func (a *App) streamInterval() time.Duration {
	return time.Duration(a.streamMS.Load()) * time.Millisecond
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the HTTP API and blocks until ctx is cancelled or the server
// fails. On cancellation the listener drains gracefully before Run returns
// the context error.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			slog.Info("server listening", "addr", a.httpSrv.Addr, "tls", true)
			err = a.httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			slog.Info("server listening", "addr", a.httpSrv.Addr, "tls", false)
			err = a.httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})

	g.Go(func() error {
		<-ctx.Done()
		drain, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if err := a.httpSrv.Shutdown(drain); err != nil {
			return fmt.Errorf("app: drain http server: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the active session, the config watcher and every subsystem
// in reverse-init order. It respects the context deadline: when ctx expires
// before all closers finish, the remaining ones are skipped and the context
// error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// End the active session first so its recording is finalized and the
		// capture sources are released.
		if a.sessions != nil {
			if _, err := a.sessions.Stop(); err != nil && !errors.Is(err, session.ErrNoSession) {
				slog.Warn("stop session during shutdown", "error", err)
			}
		}

		if a.watcher != nil {
			a.watcher.Stop()
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "error", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager {
	return a.sessions
}

// Detector returns the landmark detector manager.
func (a *App) Detector() *detector.Manager {
	return a.det
}

// Addr returns the address the HTTP server binds.
func (a *App) Addr() string {
	return a.httpSrv.Addr
}

// Handler returns the HTTP handler, mainly so tests can drive the API
// without a listener.
func (a *App) Handler() http.Handler {
	return a.httpSrv.Handler
}
