package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Environment variables applied over the file values before validation.
// Secrets and machine-specific paths belong here rather than in the YAML.
const (
	EnvListenAddr = "ELOCUTE_LISTEN_ADDR"
	EnvRemoteURL  = "ELOCUTE_REMOTE_URL"
	EnvONNXModel  = "ELOCUTE_ONNX_MODEL"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment overrides
// and validates the result. Useful in tests where configs are constructed
// from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overwrites the env-overridable fields from the process
// environment. Remote URLs and model paths apply to every tier of the
// matching type.
func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvListenAddr); v != "" {
		cfg.Server.ListenAddr = v
	}
	for i := range cfg.Detector.Tiers {
		t := &cfg.Detector.Tiers[i]
		switch t.Type {
		case SourceRemote:
			if v := os.Getenv(EnvRemoteURL); v != "" {
				t.URL = v
			}
		case SourceONNX:
			if v := os.Getenv(EnvONNXModel); v != "" {
				t.ModelPath = v
			}
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.StreamIntervalMS < 0 {
		errs = append(errs, fmt.Errorf("server.stream_interval_ms %d is negative", cfg.Server.StreamIntervalMS))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" || tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Detector tiers
	if len(cfg.Detector.Tiers) == 0 {
		slog.Warn("detector.tiers is empty; the server will run on the synthetic source alone")
	}
	for i, tier := range cfg.Detector.Tiers {
		prefix := fmt.Sprintf("detector.tiers[%d]", i)
		switch {
		case tier.Type == "":
			errs = append(errs, fmt.Errorf("%s.type is required", prefix))
		case !tier.Type.IsValid():
			errs = append(errs, fmt.Errorf("%s.type %q is invalid; valid values: onnx, remote, synthetic", prefix, tier.Type))
		case tier.Type == SourceONNX && tier.ModelPath == "":
			errs = append(errs, fmt.Errorf("%s.model_path is required when type is onnx (or set %s)", prefix, EnvONNXModel))
		case tier.Type == SourceRemote && tier.URL == "":
			errs = append(errs, fmt.Errorf("%s.url is required when type is remote (or set %s)", prefix, EnvRemoteURL))
		}
		if tier.TimeoutMS < 0 {
			errs = append(errs, fmt.Errorf("%s.timeout_ms %d is negative", prefix, tier.TimeoutMS))
		}
	}
	if ms := cfg.Detector.InitTimeoutMS; ms != 0 && (ms < 3000 || ms > 10000) {
		errs = append(errs, fmt.Errorf("detector.init_timeout_ms %d is out of range [3000, 10000]", ms))
	}
	if cfg.Detector.MaxConsecutiveFailures < 0 {
		errs = append(errs, fmt.Errorf("detector.max_consecutive_failures %d is negative", cfg.Detector.MaxConsecutiveFailures))
	}

	// Session cadence
	if hz := cfg.Session.VideoSampleHz; hz != 0 && (hz < 1 || hz > 15) {
		errs = append(errs, fmt.Errorf("session.video_sample_hz %d is out of range [1, 15]", hz))
	}
	if hz := cfg.Session.AudioSampleHz; hz != 0 && (hz < 1 || hz > 100) {
		errs = append(errs, fmt.Errorf("session.audio_sample_hz %d is out of range [1, 100]", hz))
	}
	if cfg.Session.ScoreIntervalMS < 0 {
		errs = append(errs, fmt.Errorf("session.score_interval_ms %d is negative", cfg.Session.ScoreIntervalMS))
	}
	if cfg.Session.GazeWindow < 0 || cfg.Session.VoiceWindow < 0 {
		errs = append(errs, errors.New("session window sizes must not be negative"))
	}

	// Gaze thresholds
	if v := cfg.Gaze.BlinkEARThreshold; v != 0 && (v <= 0 || v >= 1) {
		errs = append(errs, fmt.Errorf("gaze.blink_ear_threshold %.2f is out of range (0, 1)", v))
	}
	if v := cfg.Gaze.GazeCenterThreshold; v != 0 && (v <= 0 || v > 1) {
		errs = append(errs, fmt.Errorf("gaze.gaze_center_threshold %.2f is out of range (0, 1]", v))
	}
	if v := cfg.Gaze.PoseCenterThreshold; v != 0 && (v <= 0 || v > 1) {
		errs = append(errs, fmt.Errorf("gaze.pose_center_threshold %.2f is out of range (0, 1]", v))
	}
	if v := cfg.Gaze.FixationRadius; v != 0 && (v <= 0 || v > 1) {
		errs = append(errs, fmt.Errorf("gaze.fixation_radius %.2f is out of range (0, 1]", v))
	}
	if cfg.Gaze.BlinkDebounceMS < 0 || cfg.Gaze.MinFixationMS < 0 {
		errs = append(errs, errors.New("gaze debounce and dwell durations must not be negative"))
	}

	// Voice thresholds
	if v := cfg.Voice.SpeakingThreshold; v < 0 || v > 100 {
		errs = append(errs, fmt.Errorf("voice.speaking_threshold %.1f is out of range [0, 100]", v))
	}
	if cfg.Voice.PitchMinHz < 0 || cfg.Voice.PitchMaxHz < 0 {
		errs = append(errs, errors.New("voice pitch bounds must not be negative"))
	}
	if cfg.Voice.PitchMinHz != 0 && cfg.Voice.PitchMaxHz != 0 && cfg.Voice.PitchMinHz >= cfg.Voice.PitchMaxHz {
		errs = append(errs, fmt.Errorf("voice.pitch_min_hz %.0f must be below voice.pitch_max_hz %.0f", cfg.Voice.PitchMinHz, cfg.Voice.PitchMaxHz))
	}
	if v := cfg.Voice.PeakVolume; v < 0 || v > 100 {
		errs = append(errs, fmt.Errorf("voice.peak_volume %.1f is out of range [0, 100]", v))
	}
	if v := cfg.Voice.ValleyVolume; v < 0 || v > 100 {
		errs = append(errs, fmt.Errorf("voice.valley_volume %.1f is out of range [0, 100]", v))
	}
	if cfg.Voice.PeakVolume != 0 && cfg.Voice.ValleyVolume != 0 && cfg.Voice.PeakVolume <= cfg.Voice.ValleyVolume {
		errs = append(errs, fmt.Errorf("voice.peak_volume %.1f must be above voice.valley_volume %.1f", cfg.Voice.PeakVolume, cfg.Voice.ValleyVolume))
	}
	if cfg.Voice.FillerDebounceMS < 0 {
		errs = append(errs, fmt.Errorf("voice.filler_debounce_ms %d is negative", cfg.Voice.FillerDebounceMS))
	}

	// Score
	if cfg.Score.HistorySize < 0 {
		errs = append(errs, fmt.Errorf("score.history_size %d is negative", cfg.Score.HistorySize))
	}
	if v := cfg.Score.TrendDelta; v != 0 && (v <= 0 || v >= 1) {
		errs = append(errs, fmt.Errorf("score.trend_delta %.3f is out of range (0, 1)", v))
	}

	return errors.Join(errs...)
}
