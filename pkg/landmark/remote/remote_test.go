package remote_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/elocute/elocute/pkg/capture"
	"github.com/elocute/elocute/pkg/landmark"
	"github.com/elocute/elocute/pkg/landmark/remote"
)

// mockDetectorServer starts a test HTTP server implementing the detector
// contract: GET /health answers healthStatus, POST /detect answers points and
// confidence as JSON after verifying the frame payload.
func mockDetectorServer(t *testing.T, healthStatus int, points []landmark.Point, confidence float64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			if r.Method != http.MethodGet {
				t.Errorf("health method: got %q, want GET", r.Method)
			}
			w.WriteHeader(healthStatus)
		case "/detect":
			if r.Method != http.MethodPost {
				t.Errorf("detect method: got %q, want POST", r.Method)
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			if ct := r.Header.Get("Content-Type"); ct != "application/octet-stream" {
				t.Errorf("content type: got %q, want application/octet-stream", ct)
			}
			body, err := io.ReadAll(r.Body)
			if err != nil {
				t.Errorf("read body: %v", err)
			}
			if len(body) == 0 {
				t.Error("detect received empty body")
			}
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(map[string]any{
				"points":     points,
				"confidence": confidence,
			}); err != nil {
				t.Errorf("encode response: %v", err)
			}
		default:
			t.Errorf("unexpected path: %q", r.URL.Path)
			http.Error(w, "not found", http.StatusNotFound)
		}
	}))
}

func testFrame() capture.VideoFrame {
	return capture.VideoFrame{
		Pixels:    make([]byte, 4*4*4),
		Width:     4,
		Height:    4,
		Timestamp: time.Unix(100, 0),
	}
}

// TestNew_MissingBaseURL verifies that an empty base URL is rejected at
// construction time.
func TestNew_MissingBaseURL(t *testing.T) {
	_, err := remote.New(remote.Config{})
	if err == nil {
		t.Fatal("expected error for empty base_url, got nil")
	}
}

// TestNew_BadScheme verifies that non-HTTP schemes are rejected.
func TestNew_BadScheme(t *testing.T) {
	_, err := remote.New(remote.Config{BaseURL: "ftp://example.com"})
	if err == nil {
		t.Fatal("expected error for ftp scheme, got nil")
	}
}

// TestInit_Healthy verifies that a 200 health response passes initialization.
func TestInit_Healthy(t *testing.T) {
	srv := mockDetectorServer(t, http.StatusOK, nil, 0)
	defer srv.Close()

	s, err := remote.New(remote.Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
}

// TestInit_Unhealthy verifies that a non-200 health response fails
// initialization with ErrUnhealthy.
func TestInit_Unhealthy(t *testing.T) {
	srv := mockDetectorServer(t, http.StatusServiceUnavailable, nil, 0)
	defer srv.Close()

	s, err := remote.New(remote.Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = s.Init(context.Background())
	if !errors.Is(err, remote.ErrUnhealthy) {
		t.Fatalf("Init error: got %v, want ErrUnhealthy", err)
	}
}

// TestDetect_Face verifies that a populated response is decoded into a frame
// with primary provenance and clamped confidence.
func TestDetect_Face(t *testing.T) {
	pts := []landmark.Point{{X: 0.5, Y: 0.5, Z: -0.1}, {X: 0.4, Y: 0.6, Z: 0}}
	srv := mockDetectorServer(t, http.StatusOK, pts, 0.93)
	defer srv.Close()

	s, err := remote.New(remote.Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := s.Detect(context.Background(), testFrame())
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if !got.FaceDetected() {
		t.Fatal("FaceDetected() = false, want true")
	}
	if len(got.Points) != len(pts) {
		t.Fatalf("points: got %d, want %d", len(got.Points), len(pts))
	}
	if got.Points[0] != pts[0] {
		t.Errorf("points[0]: got %+v, want %+v", got.Points[0], pts[0])
	}
	if got.Source != landmark.ProvenancePrimary {
		t.Errorf("source: got %q, want %q", got.Source, landmark.ProvenancePrimary)
	}
	if got.Confidence != 0.93 {
		t.Errorf("confidence: got %v, want 0.93", got.Confidence)
	}
	if !got.Timestamp.Equal(time.Unix(100, 0)) {
		t.Errorf("timestamp: got %v, want frame timestamp", got.Timestamp)
	}
}

// TestDetect_NoFace verifies that an empty point list is a valid no-face
// result, not an error.
func TestDetect_NoFace(t *testing.T) {
	srv := mockDetectorServer(t, http.StatusOK, nil, 0)
	defer srv.Close()

	s, err := remote.New(remote.Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := s.Detect(context.Background(), testFrame())
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if got.FaceDetected() {
		t.Fatal("FaceDetected() = true, want false")
	}
}

// TestDetect_ServerError verifies that a 500 response surfaces as an error so
// the detector manager can count it toward a fallback transition.
func TestDetect_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s, err := remote.New(remote.Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = s.Detect(context.Background(), testFrame())
	if err == nil {
		t.Fatal("expected error for 500 response, got nil")
	}
}

// TestDetect_ServerDown verifies that an unreachable service returns an error
// promptly instead of blocking.
func TestDetect_ServerDown(t *testing.T) {
	s, err := remote.New(remote.Config{
		BaseURL:        "http://127.0.0.1:19999",
		RequestTimeout: 500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = s.Detect(context.Background(), testFrame())
	if err == nil {
		t.Fatal("expected error for unreachable server, got nil")
	}
}

// TestDetect_APIKey verifies that a configured key is sent as a bearer token.
func TestDetect_APIKey(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"points":[],"confidence":0}`))
	}))
	defer srv.Close()

	s, err := remote.New(remote.Config{BaseURL: srv.URL, APIKey: "secret"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.Detect(context.Background(), testFrame()); err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization: got %q, want %q", gotAuth, "Bearer secret")
	}
}
