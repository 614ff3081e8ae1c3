// Package onnx implements a landmark source that runs a face-mesh model
// in-process through ONNX Runtime.
//
// The source loads a MediaPipe-style face landmark model: a square RGB crop
// in, a flat landmark tensor and a face presence score out. It is the highest
// fidelity tier and is typically configured as the primary detector, with
// [github.com/elocute/elocute/pkg/landmark/synthetic] behind it.
package onnx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/elocute/elocute/pkg/capture"
	"github.com/elocute/elocute/pkg/landmark"
)

// ErrLibraryNotFound is returned by Init when no ONNX Runtime shared library
// could be located.
var ErrLibraryNotFound = errors.New("onnx: runtime shared library not found")

// Config holds the model settings.
type Config struct {
	// ModelPath is the face-mesh ONNX file.
	ModelPath string `yaml:"model_path"`

	// LibraryPath overrides the ONNX Runtime shared library location. When
	// empty, the ONNXRUNTIME_SHARED_LIBRARY_PATH environment variable and a
	// set of conventional install locations are searched.
	LibraryPath string `yaml:"library_path"`

	// InputSize is the square side length the model expects. Defaults to 192.
	InputSize int `yaml:"input_size"`

	// ScoreThreshold is the minimum face presence score. Frames scoring below
	// it produce a no-face result. Defaults to 0.5.
	ScoreThreshold float32 `yaml:"score_threshold"`
}

// Validate checks the configuration for structural problems.
func (c Config) Validate() error {
	if c.ModelPath == "" {
		return errors.New("model_path must be set")
	}
	if c.InputSize < 0 {
		return errors.New("input_size must not be negative")
	}
	if c.ScoreThreshold < 0 || c.ScoreThreshold > 1 {
		return errors.New("score_threshold must be within [0,1]")
	}
	return nil
}

// Model tensor names for the face-mesh graph.
var (
	inputNames  = []string{"input_1"}
	outputNames = []string{"conv2d_21", "conv2d_31"}
)

// Source runs the face-mesh model. Create it with [New] and call Init before
// the first Detect.
type Source struct {
	cfg Config

	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
}

// New builds a Source from cfg. The model is not loaded until Init.
func New(cfg Config) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("onnx: %w", err)
	}
	if cfg.InputSize == 0 {
		cfg.InputSize = 192
	}
	if cfg.ScoreThreshold == 0 {
		cfg.ScoreThreshold = 0.5
	}
	return &Source{cfg: cfg}, nil
}

// Name implements landmark.Source.
func (s *Source) Name() string { return "onnx" }

// Init loads the runtime and creates the inference session. The runtime
// environment is process-global and initialized once.
func (s *Source) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil {
		return nil
	}
	if _, err := os.Stat(s.cfg.ModelPath); err != nil {
		return fmt.Errorf("onnx: model file: %w", err)
	}
	if err := ensureRuntime(s.cfg.LibraryPath); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return fmt.Errorf("onnx: create session options: %w", err)
	}
	defer opts.Destroy()

	session, err := ort.NewDynamicAdvancedSession(s.cfg.ModelPath, inputNames, outputNames, opts)
	if err != nil {
		return fmt.Errorf("onnx: create session: %w", err)
	}
	s.session = session

	slog.Info("face-mesh model loaded",
		"model", s.cfg.ModelPath,
		"input_size", s.cfg.InputSize)
	return nil
}

// Detect runs one inference. A face presence score below the threshold is a
// valid no-face result; runtime failures are returned as errors.
func (s *Source) Detect(ctx context.Context, frame capture.VideoFrame) (landmark.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return landmark.Frame{}, errors.New("onnx: source not initialized")
	}
	if err := ctx.Err(); err != nil {
		return landmark.Frame{}, err
	}

	input, err := s.preprocess(frame)
	if err != nil {
		return landmark.Frame{}, err
	}

	size := int64(s.cfg.InputSize)
	inputTensor, err := ort.NewTensor(ort.NewShape(1, size, size, 3), input)
	if err != nil {
		return landmark.Frame{}, fmt.Errorf("onnx: create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputs := []ort.Value{nil, nil}
	if err := s.session.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return landmark.Frame{}, fmt.Errorf("onnx: run inference: %w", err)
	}
	defer func() {
		for _, out := range outputs {
			if out != nil {
				out.Destroy()
			}
		}
	}()

	coords := outputs[0].(*ort.Tensor[float32]).GetData()
	scores := outputs[1].(*ort.Tensor[float32]).GetData()

	var score float32
	if len(scores) > 0 {
		score = scores[0]
	}
	if score < s.cfg.ScoreThreshold {
		return landmark.Empty(frame.Timestamp, landmark.ProvenancePrimary), nil
	}
	if len(coords)%3 != 0 || len(coords)/3 < landmark.MeshPointCount {
		return landmark.Frame{}, fmt.Errorf("onnx: unexpected landmark tensor length %d", len(coords))
	}

	// Model coordinates are in crop pixels; normalize to [0,1].
	scale := float64(s.cfg.InputSize)
	pts := make([]landmark.Point, len(coords)/3)
	for i := range pts {
		pts[i] = landmark.Point{
			X: float64(coords[i*3]) / scale,
			Y: float64(coords[i*3+1]) / scale,
			Z: float64(coords[i*3+2]) / scale,
		}
	}

	return landmark.Frame{
		Points:     pts,
		Timestamp:  frame.Timestamp,
		Source:     landmark.ProvenancePrimary,
		Confidence: landmark.Confidence(score).Clamp(),
	}, nil
}

// Close destroys the inference session. The process-global runtime stays up
// for other sources.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil {
		s.session.Destroy()
		s.session = nil
	}
	return nil
}

// preprocess resizes the RGBA frame to the model's square input with nearest
// neighbor sampling and scales channels to [0,1] in NHWC order.
func (s *Source) preprocess(frame capture.VideoFrame) ([]float32, error) {
	if frame.Width <= 0 || frame.Height <= 0 {
		return nil, errors.New("onnx: empty frame")
	}
	if len(frame.Pixels) < frame.Width*frame.Height*4 {
		return nil, fmt.Errorf("onnx: short pixel buffer: %d for %dx%d", len(frame.Pixels), frame.Width, frame.Height)
	}

	size := s.cfg.InputSize
	out := make([]float32, size*size*3)
	for y := 0; y < size; y++ {
		srcY := y * frame.Height / size
		for x := 0; x < size; x++ {
			srcX := x * frame.Width / size
			si := (srcY*frame.Width + srcX) * 4
			di := (y*size + x) * 3
			out[di] = float32(frame.Pixels[si]) / 255
			out[di+1] = float32(frame.Pixels[si+1]) / 255
			out[di+2] = float32(frame.Pixels[si+2]) / 255
		}
	}
	return out, nil
}

// ── Runtime bootstrap ──

var (
	runtimeMu    sync.Mutex
	runtimeReady bool
)

// ensureRuntime points ONNX Runtime at a shared library and initializes the
// process-global environment exactly once.
func ensureRuntime(override string) error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if runtimeReady {
		return nil
	}

	libPath := override
	if libPath == "" {
		libPath = os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")
	}
	if libPath == "" {
		for _, p := range defaultLibraryPaths() {
			if _, err := os.Stat(p); err == nil {
				libPath = p
				break
			}
		}
	}
	if libPath == "" {
		return ErrLibraryNotFound
	}

	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("onnx: initialize runtime: %w", err)
	}

	runtimeReady = true
	slog.Info("onnx runtime initialized", "library", libPath)
	return nil
}

func defaultLibraryPaths() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{
			"/opt/homebrew/lib/libonnxruntime.dylib",
			"/usr/local/lib/libonnxruntime.dylib",
		}
	case "windows":
		return []string{`C:\onnxruntime\lib\onnxruntime.dll`}
	default:
		return []string{
			"/usr/lib/libonnxruntime.so",
			"/usr/local/lib/libonnxruntime.so",
			"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
		}
	}
}

var _ landmark.Source = (*Source)(nil)
