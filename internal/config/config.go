// Package config handles loading and validating ioloop runner configuration.
package config

// Config is the top-level runner configuration.
type Config struct {
	Runner   RunnerConfig             `toml:"runner"`
	Programs map[string]ProgramConfig `toml:"programs"`
	Include  []string                 `toml:"include"`
}

// RunnerConfig holds settings for the runner itself.
type RunnerConfig struct {
	LogLevel        string `toml:"log_level"`
	LogFormat       string `toml:"log_format"`
	MetricsListen   string `toml:"metrics_listen"`
	ShutdownTimeout int    `toml:"shutdown_timeout"`
	StatusInterval  int    `toml:"status_interval"`
	MaxEvents       int    `toml:"max_events"`
}

// ProgramConfig holds per-program settings.
type ProgramConfig struct {
	Command               string   `toml:"command"`
	Args                  []string `toml:"args,omitempty"`
	Argv0                 string   `toml:"argv0,omitempty"`
	Stdin                 string   `toml:"stdin"`
	Stdout                string   `toml:"stdout"`
	Stderr                string   `toml:"stderr"`
	StdoutLogfile         string   `toml:"stdout_logfile,omitempty"`
	StdoutLogfileMaxbytes string   `toml:"stdout_logfile_maxbytes"`
	StdoutLogfileBackups  int      `toml:"stdout_logfile_backups"`
	StderrLogfile         string   `toml:"stderr_logfile,omitempty"`
	StderrLogfileMaxbytes string   `toml:"stderr_logfile_maxbytes"`
	StderrLogfileBackups  int      `toml:"stderr_logfile_backups"`
	CaptureMaxbytes       string   `toml:"capture_maxbytes"`
	StripAnsi             bool     `toml:"strip_ansi,omitempty"`
	Stopsignal            string   `toml:"stopsignal"`
	Stopwaitsecs          int      `toml:"stopwaitsecs"`
	Exitcodes             []int    `toml:"exitcodes"`
	Description           string   `toml:"description,omitempty"`
}

// Argv returns the argument vector the program is started with.
func (p ProgramConfig) Argv() []string {
	argv0 := p.Argv0
	if argv0 == "" {
		argv0 = p.Command
	}
	return append([]string{argv0}, p.Args...)
}

// ExpectedExit reports whether code is one of the program's exit codes.
func (p ProgramConfig) ExpectedExit(code int) bool {
	for _, c := range p.Exitcodes {
		if c == code {
			return true
		}
	}
	return false
}
