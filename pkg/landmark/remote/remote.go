// Package remote implements a landmark source backed by an HTTP detector
// service.
//
// The service contract is small: GET /health answers 200 when the model is
// loaded, POST /detect accepts a raw RGBA frame and answers the landmark set
// as JSON. Running the detector out of process keeps heavyweight model
// runtimes (and their crashes) away from the session loop; a failing sidecar
// surfaces as Detect errors, which the detector manager turns into a fallback
// transition.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/elocute/elocute/pkg/capture"
	"github.com/elocute/elocute/pkg/landmark"
)

// ErrUnhealthy is returned by Init when the service answers the health probe
// with a non-200 status.
var ErrUnhealthy = errors.New("remote: detector service unhealthy")

// Config holds the connection settings for the detector service.
type Config struct {
	// BaseURL is the service root, e.g. "http://127.0.0.1:9021".
	BaseURL string `yaml:"base_url"`

	// APIKey is sent as a bearer token when non-empty.
	APIKey string `yaml:"api_key"`

	// RequestTimeout bounds a single Detect call. Defaults to 2s.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Validate checks the configuration for structural problems.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base_url must be set")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("base_url invalid: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base_url scheme %q not supported", u.Scheme)
	}
	if c.RequestTimeout < 0 {
		return errors.New("request_timeout must not be negative")
	}
	return nil
}

// Source talks to a remote detector service. Create it with [New].
type Source struct {
	cfg    Config
	client *http.Client
}

// Option customizes a Source.
type Option func(*Source)

// WithHTTPClient replaces the default HTTP client, mainly for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Source) { s.client = c }
}

// New builds a Source from cfg.
func New(cfg Config, opts ...Option) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("remote: %w", err)
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 2 * time.Second
	}
	s := &Source{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Name implements landmark.Source.
func (s *Source) Name() string { return "remote" }

// Init probes the service health endpoint. The context carries the
// initialization deadline.
func (s *Source) Init(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("remote: build health request: %w", err)
	}
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("remote: health probe: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUnhealthy, resp.StatusCode)
	}
	return nil
}

// detectResponse is the service's answer to a detect call.
type detectResponse struct {
	Points     []landmark.Point `json:"points"`
	Confidence float64          `json:"confidence"`
}

// Detect posts the frame and decodes the landmark set. A 200 with an empty
// point list means no face; transport and server errors are returned so the
// caller can count them toward a fallback transition.
func (s *Source) Detect(ctx context.Context, frame capture.VideoFrame) (landmark.Frame, error) {
	u := fmt.Sprintf("%s/detect?width=%d&height=%d",
		s.cfg.BaseURL, frame.Width, frame.Height)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(frame.Pixels))
	if err != nil {
		return landmark.Frame{}, fmt.Errorf("remote: build detect request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Content-Length", strconv.Itoa(len(frame.Pixels)))
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return landmark.Frame{}, fmt.Errorf("remote: detect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return landmark.Frame{}, fmt.Errorf("remote: detect status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var dr detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return landmark.Frame{}, fmt.Errorf("remote: decode detect response: %w", err)
	}
	if len(dr.Points) == 0 {
		return landmark.Empty(frame.Timestamp, landmark.ProvenancePrimary), nil
	}

	return landmark.Frame{
		Points:     dr.Points,
		Timestamp:  frame.Timestamp,
		Source:     landmark.ProvenancePrimary,
		Confidence: landmark.Confidence(dr.Confidence).Clamp(),
	}, nil
}

// Close releases idle connections.
func (s *Source) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *Source) authorize(req *http.Request) {
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}
}

var _ landmark.Source = (*Source)(nil)
