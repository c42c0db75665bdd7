package config

import "reflect"

// ConfigDiff describes what changed between two configs, split by how the
// change can be applied at runtime.
type ConfigDiff struct {
	// LogLevelChanged is applied in place by swapping the slog level.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PipelineChanged means a lexicon, resolver, safety, or recognizer
	// setting changed: the orchestrator must be rebuilt (components are
	// read-only after construction).
	PipelineChanged bool

	// StorageChanged means the persistence target changed and the store
	// connection must be re-established.
	StorageChanged bool

	// ServerChanged means listen address or TLS changed; requires restart.
	ServerChanged bool
}

// Any reports whether the diff carries any change at all.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.PipelineChanged || d.StorageChanged || d.ServerChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Server.ListenAddr != new.Server.ListenAddr ||
		!reflect.DeepEqual(old.Server.TLS, new.Server.TLS) {
		d.ServerChanged = true
	}

	if !reflect.DeepEqual(old.Recognizer, new.Recognizer) ||
		!reflect.DeepEqual(old.Pipeline, new.Pipeline) ||
		!reflect.DeepEqual(old.Resolver, new.Resolver) ||
		!reflect.DeepEqual(old.Lexicons, new.Lexicons) ||
		!reflect.DeepEqual(old.Safety, new.Safety) {
		d.PipelineChanged = true
	}

	if old.Storage.PostgresDSN != new.Storage.PostgresDSN {
		d.StorageChanged = true
	}

	return d
}
