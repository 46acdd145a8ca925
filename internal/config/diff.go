package config

// ConfigDiff describes what changed between two configs. Log level changes
// apply live; everything else requires a daemon restart and is reported so
// the operator can be told.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired names the changed settings that only take effect on
	// restart, in a stable order.
	RestartRequired []string
}

// Changed reports whether the diff contains any change at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Daemon.LogLevel != new.Daemon.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Daemon.LogLevel
	}

	restart := func(name string) {
		d.RestartRequired = append(d.RestartRequired, name)
	}
	if old.Daemon.SocketPath != new.Daemon.SocketPath {
		restart("daemon.socket_path")
	}
	if old.Daemon.PIDFile != new.Daemon.PIDFile {
		restart("daemon.pid_file")
	}
	if old.Daemon.InitialState != new.Daemon.InitialState {
		restart("daemon.initial_state")
	}
	if old.Daemon.MetricsAddr != new.Daemon.MetricsAddr {
		restart("daemon.metrics_addr")
	}
	if old.Models != new.Models {
		restart("models")
	}
	if old.VAD != new.VAD {
		restart("vad")
	}
	if old.Audio != new.Audio {
		restart("audio")
	}
	return d
}
