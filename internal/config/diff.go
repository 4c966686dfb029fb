package config

import "reflect"

// ConfigDiff describes what changed between two configs. Log level, assistant
// and VAD settings apply to new sessions without a restart; everything listed
// in RestartRequired only takes effect after one.
type ConfigDiff struct {
	LogLevelChanged  bool
	NewLogLevel      LogLevel
	AssistantChanged bool
	VADChanged       bool
	AudioChanged     bool

	// RestartRequired names the top-level sections that changed but cannot
	// be applied to a running server.
	RestartRequired []string
}

// HotReloadable reports whether d contains changes that can be applied live.
func (d ConfigDiff) HotReloadable() bool {
	return d.LogLevelChanged || d.AssistantChanged || d.VADChanged || d.AudioChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.AssistantChanged = old.Assistant != new.Assistant
	d.VADChanged = old.VAD != new.VAD
	d.AudioChanged = old.Audio != new.Audio

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	if !reflect.DeepEqual(oldServer, newServer) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Model != new.Model || !reflect.DeepEqual(old.Fallbacks, new.Fallbacks) {
		d.RestartRequired = append(d.RestartRequired, "model")
	}
	if !reflect.DeepEqual(old.Tools, new.Tools) {
		d.RestartRequired = append(d.RestartRequired, "tools")
	}
	if old.Resilience != new.Resilience {
		d.RestartRequired = append(d.RestartRequired, "resilience")
	}
	return d
}
