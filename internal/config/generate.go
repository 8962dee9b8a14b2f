package config

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// DefaultConfigTOML is a complete, commented sample ioloop.toml.
const DefaultConfigTOML = `# ioloop runner configuration file

# include = ["conf.d/*.toml"]  # extra files whose [programs] are merged in

[runner]
# log_level = "info"            # debug, info, warn, error
# log_format = "json"           # json, text, auto (text on a terminal)
# metrics_listen = ""           # e.g. "127.0.0.1:9102" to serve /metrics
# shutdown_timeout = 30         # seconds to wait for children on shutdown
# status_interval = 10          # seconds between status ticks (0 = off)
# max_events = 256              # ready descriptors handled per wakeup

# Process definitions
# [programs.example]
# command = "/usr/bin/example"  # REQUIRED: absolute path of the executable
# args = ["--flag", "value"]   # arguments after argv[0]
# argv0 = ""                   # argv[0] (default: command)
# stdin = "null"               # inherit, null, pipe, pty, file:<path>, fd:<n>
# stdout = "pipe"              # pipe and pty output is captured and logged
# stderr = "pipe"
# stdout_logfile = ""          # captured stdout also goes to this file
# stdout_logfile_maxbytes = "50MB"
# stdout_logfile_backups = 10
# stderr_logfile = ""
# stderr_logfile_maxbytes = "50MB"
# stderr_logfile_backups = 10
# capture_maxbytes = "64KB"    # in-memory tail kept per stream
# strip_ansi = false           # remove ANSI escape sequences
# stopsignal = "TERM"          # TERM, HUP, INT, QUIT, KILL, USR1, USR2
# stopwaitsecs = 10            # seconds to wait before SIGKILL
# exitcodes = [0]              # expected exit codes
# description = ""
`

// Generate returns DefaultConfigTOML followed by a real [programs.<name>]
// table for prog, with every default filled in. name defaults to the base
// name of prog.Command. The result is loaded back before it is returned,
// so a bad stream spec or signal fails here rather than at run time.
func Generate(name string, prog ProgramConfig) (string, error) {
	if strings.TrimSpace(prog.Command) == "" {
		return "", fmt.Errorf("generate: command is required")
	}
	if name == "" {
		name = filepath.Base(prog.Command)
	}
	cfg := &Config{Programs: map[string]ProgramConfig{name: prog}}
	ApplyDefaults(cfg)

	var buf bytes.Buffer
	buf.WriteString(DefaultConfigTOML)
	buf.WriteString("\n")
	enc := toml.NewEncoder(&buf)
	enc.Indent = ""
	if err := enc.Encode(struct {
		Programs map[string]ProgramConfig `toml:"programs"`
	}{cfg.Programs}); err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	out := buf.String()
	if _, _, err := LoadBytes([]byte(out), "generated"); err != nil {
		return "", err
	}
	return out, nil
}
