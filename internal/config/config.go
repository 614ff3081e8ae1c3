// Package config provides the configuration schema, loader, and file watcher
// for the elocute engagement server.
package config

import "log/slog"

// LogLevel controls log verbosity for the elocute server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l onto the corresponding slog level. Unknown and empty values
// map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SourceType selects a landmark detection backend for one detector tier.
type SourceType string

const (
	// SourceONNX runs the bundled face-mesh model through onnxruntime.
	SourceONNX SourceType = "onnx"

	// SourceRemote calls an HTTP detection service.
	SourceRemote SourceType = "remote"

	// SourceSynthetic is the dependency-free approximation used as the last
	// fallback tier.
	SourceSynthetic SourceType = "synthetic"
)

// IsValid reports whether s is a recognised source type.
func (s SourceType) IsValid() bool {
	switch s {
	case SourceONNX, SourceRemote, SourceSynthetic:
		return true
	}
	return false
}

// Config is the root configuration structure for elocute.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Detector DetectorConfig `yaml:"detector"`
	Session  SessionConfig  `yaml:"session"`
	Gaze     GazeConfig     `yaml:"gaze"`
	Voice    VoiceConfig    `yaml:"voice"`
	Score    ScoreConfig    `yaml:"score"`
}

// ServerConfig holds network and logging settings for the elocute server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFile, when non-empty, adds a size-rotated log file alongside stderr.
	LogFile string `yaml:"log_file"`

	// LogFileMaxSizeMB caps the log file size before rotation. Defaults to
	// the rotation library's default when zero.
	LogFileMaxSizeMB int `yaml:"log_file_max_size_mb"`

	// LogFileMaxBackups caps how many rotated files are kept.
	LogFileMaxBackups int `yaml:"log_file_max_backups"`

	// StreamIntervalMS is the websocket snapshot push cadence in
	// milliseconds. Defaults to 250 when zero.
	StreamIntervalMS int `yaml:"stream_interval_ms"`

	// WatchConfig enables polling the config file for changes and applying
	// the hot-reloadable subset (log level, stream cadence) at runtime.
	WatchConfig bool `yaml:"watch_config"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// DetectorConfig describes the ordered landmark detection tiers and the
// failover thresholds of the detector manager.
type DetectorConfig struct {
	// Tiers lists the detection backends in preference order. The manager
	// falls back one way through this list. When empty, the server runs on
	// the synthetic source alone.
	Tiers []TierConfig `yaml:"tiers"`

	// InitTimeoutMS bounds each tier's initialization in milliseconds.
	// Defaults to 5000; valid range 3000–10000.
	InitTimeoutMS int `yaml:"init_timeout_ms"`

	// MaxConsecutiveFailures is how many per-frame failures in a row advance
	// the manager to the next tier. Defaults to 3.
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures"`
}

// TierConfig describes a single detection backend.
type TierConfig struct {
	// Type selects the backend implementation.
	Type SourceType `yaml:"type"`

	// ModelPath is the ONNX model file, required when Type is "onnx".
	ModelPath string `yaml:"model_path"`

	// URL is the detection endpoint, required when Type is "remote".
	URL string `yaml:"url"`

	// TimeoutMS bounds a single remote detection call in milliseconds.
	// Ignored for other types.
	TimeoutMS int `yaml:"timeout_ms"`
}

// SessionConfig holds the sampling cadence and retention of a live session.
type SessionConfig struct {
	// VideoSampleHz is the video loop rate. Defaults to 12; capped at 15.
	VideoSampleHz int `yaml:"video_sample_hz"`

	// AudioSampleHz is the audio loop rate. Defaults to 20.
	AudioSampleHz int `yaml:"audio_sample_hz"`

	// ScoreIntervalMS is how often the engagement score is recomputed, in
	// milliseconds. Defaults to 1000.
	ScoreIntervalMS int `yaml:"score_interval_ms"`

	// GazeWindow and VoiceWindow bound the retained per-tick samples.
	GazeWindow  int `yaml:"gaze_window"`
	VoiceWindow int `yaml:"voice_window"`
}

// GazeConfig holds the gaze metric and pattern thresholds.
type GazeConfig struct {
	// BlinkEARThreshold is the eye aspect ratio below which the eyes count
	// as closed. Defaults to 0.2.
	BlinkEARThreshold float64 `yaml:"blink_ear_threshold"`

	// BlinkDebounceMS is the minimum spacing between counted blink onsets in
	// milliseconds. Defaults to 100.
	BlinkDebounceMS int `yaml:"blink_debounce_ms"`

	// GazeCenterThreshold bounds |gaze| per axis for the looking-at-camera
	// judgment. Defaults to 0.35.
	GazeCenterThreshold float64 `yaml:"gaze_center_threshold"`

	// PoseCenterThreshold bounds |yaw| and |pitch| for the looking-at-camera
	// judgment. Defaults to 0.3.
	PoseCenterThreshold float64 `yaml:"pose_center_threshold"`

	// FixationRadius is the starting fixation cluster radius in normalized
	// gaze units. Defaults to 0.1; calibration adapts it per subject.
	FixationRadius float64 `yaml:"fixation_radius"`

	// MinFixationMS is the dwell required before a cluster counts as a
	// fixation, in milliseconds. Defaults to 100.
	MinFixationMS int `yaml:"min_fixation_ms"`
}

// VoiceConfig holds the audio feature thresholds.
type VoiceConfig struct {
	// SpeakingThreshold is the volume (0–100) above which the subject counts
	// as speaking. Defaults to 15.
	SpeakingThreshold float64 `yaml:"speaking_threshold"`

	// PitchMinHz and PitchMaxHz bound the pitch search band. Defaults: 85
	// and 400.
	PitchMinHz float64 `yaml:"pitch_min_hz"`
	PitchMaxHz float64 `yaml:"pitch_max_hz"`

	// FillerDebounceMS is the minimum spacing between reported filler words
	// in milliseconds. Defaults to 600.
	FillerDebounceMS int `yaml:"filler_debounce_ms"`

	// PeakVolume and ValleyVolume are the edge-triggered excursion
	// thresholds recorded by the session aggregator. Defaults: 60 and 20.
	PeakVolume   float64 `yaml:"peak_volume"`
	ValleyVolume float64 `yaml:"valley_volume"`
}

// ScoreConfig holds the engagement fusion parameters that are tunable. The
// fusion weights themselves are fixed.
type ScoreConfig struct {
	// HistorySize bounds the overall-score history used for the trend.
	// Defaults to 30.
	HistorySize int `yaml:"history_size"`

	// TrendDelta is the half-window mean difference above which the trend
	// reads rising or declining. Defaults to 0.05.
	TrendDelta float64 `yaml:"trend_delta"`
}
