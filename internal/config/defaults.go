package config

// ApplyDefaults fills in zero-value fields with their default values.
func ApplyDefaults(cfg *Config) {
	if cfg.Runner.LogLevel == "" {
		cfg.Runner.LogLevel = "info"
	}
	if cfg.Runner.LogFormat == "" {
		cfg.Runner.LogFormat = "json"
	}
	if cfg.Runner.ShutdownTimeout == 0 {
		cfg.Runner.ShutdownTimeout = 30
	}
	if cfg.Runner.StatusInterval == 0 {
		cfg.Runner.StatusInterval = 10
	}
	if cfg.Runner.MaxEvents == 0 {
		cfg.Runner.MaxEvents = 256
	}

	for name, p := range cfg.Programs {
		if p.Stdin == "" {
			p.Stdin = "null"
		}
		if p.Stdout == "" {
			p.Stdout = "pipe"
		}
		if p.Stderr == "" {
			p.Stderr = "pipe"
		}
		if len(p.Exitcodes) == 0 {
			p.Exitcodes = []int{0}
		}
		if p.Stopsignal == "" {
			p.Stopsignal = "TERM"
		}
		if p.Stopwaitsecs == 0 {
			p.Stopwaitsecs = 10
		}
		if p.StdoutLogfileMaxbytes == "" {
			p.StdoutLogfileMaxbytes = "50MB"
		}
		if p.StdoutLogfileBackups == 0 {
			p.StdoutLogfileBackups = 10
		}
		if p.StderrLogfileMaxbytes == "" {
			p.StderrLogfileMaxbytes = "50MB"
		}
		if p.StderrLogfileBackups == 0 {
			p.StderrLogfileBackups = 10
		}
		if p.CaptureMaxbytes == "" {
			p.CaptureMaxbytes = "64KB"
		}
		cfg.Programs[name] = p
	}
}
