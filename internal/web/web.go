// Package web exposes the HTTP and WebSocket surface of the engagement
// pipeline: session lifecycle, metric snapshot endpoints, a periodic
// WebSocket metric stream, health probes and the Prometheus scrape endpoint.
//
// The package is a consumer of the pipeline, not part of it. Handlers only
// ever read point-in-time snapshots from the active session; nothing here
// holds references into live pipeline state, and the pipeline itself never
// pushes — the stream handler polls snapshots on its own cadence.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/elocute/elocute/internal/detector"
	"github.com/elocute/elocute/internal/health"
	"github.com/elocute/elocute/internal/observe"
	"github.com/elocute/elocute/internal/session"
	"github.com/elocute/elocute/internal/voice"
)

// defaultStreamInterval is the WebSocket push cadence when none is configured.
const defaultStreamInterval = 250 * time.Millisecond

// Sessions is the slice of the session manager the route handlers need. It
// is satisfied by the application's session manager.
type Sessions interface {
	// Start launches a new practice session and reports its descriptor. When
	// one is already running the error wraps [session.ErrSessionActive].
	Start(ctx context.Context) (session.Info, error)

	// Stop ends the active session and returns its finalized recording.
	// Returns [session.ErrNoSession] when nothing is running.
	Stop() (voice.Recording, error)

	// Current returns the live session, if any.
	Current() (*session.Session, bool)

	// Info describes the active session.
	Info() (session.Info, bool)

	// Recording returns the most recent finalized recording.
	Recording() (voice.Recording, bool)

	// Calibrate adapts fixation clustering to the gaze spread observed so
	// far. Returns [session.ErrNoSession] when nothing is running.
	Calibrate() error
}

// Config carries the dependencies for [New]. Sessions is required; everything
// else is optional and the corresponding routes are simply not mounted when
// absent.
type Config struct {
	// Sessions drives the practice session lifecycle.
	Sessions Sessions

	// Detector reports tier state in the session info response.
	Detector *detector.Manager

	// Health mounts /healthz and /readyz when set.
	Health *health.Handler

	// Metrics instruments requests. When nil, [observe.DefaultMetrics] is
	// used.
	Metrics *observe.Metrics

	// MetricsHandler is mounted on /metrics when set (Prometheus scrape).
	MetricsHandler http.Handler

	// StreamInterval returns the cadence of WebSocket snapshot pushes. It is
	// consulted on every tick, so a config reload takes effect on live
	// connections. When nil, a fixed 250ms cadence is used.
	StreamInterval func() time.Duration
}

// New assembles the gin router for the engagement API:
//
//	POST   /v1/sessions                       start a practice session
//	GET    /v1/sessions/current               session info + detector state
//	DELETE /v1/sessions/current               stop, returns the recording
//	GET    /v1/sessions/current/recording     most recent finalized recording
//	POST   /v1/sessions/current/calibrate     adapt fixation clustering
//	GET    /v1/metrics/gaze                   latest gaze sample + pattern metrics
//	GET    /v1/metrics/voice                  latest voice sample + features
//	GET    /v1/metrics/engagement             latest engagement score
//	GET    /v1/stream                         WebSocket snapshot push
//	GET    /healthz, /readyz                  probes (when Health is set)
//	GET    /metrics                           Prometheus (when MetricsHandler is set)
func New(cfg Config) *gin.Engine {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.StreamInterval == nil {
		cfg.StreamInterval = func() time.Duration { return defaultStreamInterval }
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), observe.Middleware(cfg.Metrics))

	h := &handlers{
		sessions: cfg.Sessions,
		detector: cfg.Detector,
		interval: cfg.StreamInterval,
	}

	api := r.Group("/v1")
	api.POST("/sessions", h.startSession)
	api.GET("/sessions/current", h.sessionInfo)
	api.DELETE("/sessions/current", h.stopSession)
	api.GET("/sessions/current/recording", h.recording)
	api.POST("/sessions/current/calibrate", h.calibrate)
	api.GET("/metrics/gaze", h.gazeMetrics)
	api.GET("/metrics/voice", h.voiceMetrics)
	api.GET("/metrics/engagement", h.engagement)
	api.GET("/stream", h.stream)

	if cfg.Health != nil {
		r.GET("/healthz", gin.WrapF(cfg.Health.Healthz))
		r.GET("/readyz", gin.WrapF(cfg.Health.Readyz))
	}
	if cfg.MetricsHandler != nil {
		r.GET("/metrics", gin.WrapH(cfg.MetricsHandler))
	}
	return r
}
