package config

import (
	"fmt"
	"strings"

	"github.com/kahiteam/ioloop/internal/logging"
)

// validSignals lists the supported stop signals.
var validSignals = map[string]bool{
	"TERM": true, "HUP": true, "INT": true, "QUIT": true,
	"KILL": true, "USR1": true, "USR2": true,
}

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

var validLogFormats = map[string]bool{
	"json": true, "text": true, "auto": true,
}

// Validate checks the config for semantic errors and returns all of them.
func Validate(cfg *Config) []error {
	var errs []error

	if !validLogLevels[strings.ToLower(cfg.Runner.LogLevel)] {
		errs = append(errs, fmt.Errorf("runner: invalid log_level %q", cfg.Runner.LogLevel))
	}
	if !validLogFormats[strings.ToLower(cfg.Runner.LogFormat)] {
		errs = append(errs, fmt.Errorf("runner: log_format must be json, text, or auto, got %q", cfg.Runner.LogFormat))
	}
	if cfg.Runner.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("runner: shutdown_timeout must be >= 0, got %d", cfg.Runner.ShutdownTimeout))
	}
	if cfg.Runner.StatusInterval < 0 {
		errs = append(errs, fmt.Errorf("runner: status_interval must be >= 0, got %d", cfg.Runner.StatusInterval))
	}

	for name, p := range cfg.Programs {
		prefix := fmt.Sprintf("programs.%s", name)

		if strings.TrimSpace(p.Command) == "" {
			errs = append(errs, fmt.Errorf("%s: command is required", prefix))
		}

		for _, s := range []struct{ key, val string }{
			{"stdin", p.Stdin}, {"stdout", p.Stdout}, {"stderr", p.Stderr},
		} {
			if _, err := ParseStream(s.val); err != nil {
				errs = append(errs, fmt.Errorf("%s: %s: %w", prefix, s.key, err))
			}
		}

		sig := strings.TrimPrefix(strings.ToUpper(p.Stopsignal), "SIG")
		if !validSignals[sig] {
			errs = append(errs, fmt.Errorf("%s: invalid stopsignal %q", prefix, p.Stopsignal))
		}

		if p.Stopwaitsecs < 0 {
			errs = append(errs, fmt.Errorf("%s: stopwaitsecs must be >= 0, got %d", prefix, p.Stopwaitsecs))
		}

		for _, s := range []struct{ key, val string }{
			{"stdout_logfile_maxbytes", p.StdoutLogfileMaxbytes},
			{"stderr_logfile_maxbytes", p.StderrLogfileMaxbytes},
			{"capture_maxbytes", p.CaptureMaxbytes},
		} {
			if _, err := logging.ParseSize(s.val); err != nil {
				errs = append(errs, fmt.Errorf("%s: %s: %w", prefix, s.key, err))
			}
		}

		for _, c := range p.Exitcodes {
			if c < 0 || c > 255 {
				errs = append(errs, fmt.Errorf("%s: exit code %d out of range 0-255", prefix, c))
			}
		}
	}

	return errs
}
