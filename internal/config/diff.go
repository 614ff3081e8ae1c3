package config

import "slices"

// ConfigDiff describes what changed between two configs. Fields that can be
// applied to a running server (log level, stream cadence) are tracked
// individually; any other change sets RestartRequired, since detector tiers
// and pipeline thresholds are fixed for the lifetime of the process.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	StreamIntervalChanged bool
	NewStreamIntervalMS   int

	RestartRequired bool
}

// Empty reports whether the diff carries no change at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.StreamIntervalChanged && !d.RestartRequired
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Server.StreamIntervalMS != new.Server.StreamIntervalMS {
		d.StreamIntervalChanged = true
		d.NewStreamIntervalMS = new.Server.StreamIntervalMS
	}
	d.RestartRequired = restartRequired(old, new)

	return d
}

// restartRequired reports whether anything outside the hot-reloadable subset
// differs between the two configs.
func restartRequired(old, new *Config) bool {
	if old.Session != new.Session ||
		old.Gaze != new.Gaze ||
		old.Voice != new.Voice ||
		old.Score != new.Score {
		return true
	}

	if old.Detector.InitTimeoutMS != new.Detector.InitTimeoutMS ||
		old.Detector.MaxConsecutiveFailures != new.Detector.MaxConsecutiveFailures ||
		!slices.Equal(old.Detector.Tiers, new.Detector.Tiers) {
		return true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		old.Server.LogFile != new.Server.LogFile ||
		old.Server.LogFileMaxSizeMB != new.Server.LogFileMaxSizeMB ||
		old.Server.LogFileMaxBackups != new.Server.LogFileMaxBackups ||
		old.Server.WatchConfig != new.Server.WatchConfig ||
		!tlsEqual(old.Server.TLS, new.Server.TLS) {
		return true
	}

	return false
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
