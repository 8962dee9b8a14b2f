package config

import (
	"strings"
	"testing"
)

func TestParseValidConfig(t *testing.T) {
	tomlData := `
[runner]
log_level = "debug"
log_format = "text"
metrics_listen = "127.0.0.1:9102"
status_interval = 5

[programs.web]
command = "/usr/bin/python3"
args = ["-m", "http.server"]
stdin = "null"
stdout = "pty"
stderr = "file:/var/log/web.err"
exitcodes = [0, 2]
stopsignal = "INT"
stopwaitsecs = 15
description = "web server"
`
	cfg, warnings, err := LoadBytes([]byte(tomlData), "test.toml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(warnings) > 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}

	if cfg.Runner.LogLevel != "debug" {
		t.Errorf("log_level = %q, want debug", cfg.Runner.LogLevel)
	}
	if cfg.Runner.MetricsListen != "127.0.0.1:9102" {
		t.Errorf("metrics_listen = %q", cfg.Runner.MetricsListen)
	}
	if cfg.Runner.StatusInterval != 5 {
		t.Errorf("status_interval = %d, want 5", cfg.Runner.StatusInterval)
	}

	web, ok := cfg.Programs["web"]
	if !ok {
		t.Fatal("missing programs.web")
	}
	argv := web.Argv()
	if strings.Join(argv, " ") != "/usr/bin/python3 -m http.server" {
		t.Errorf("argv = %q", argv)
	}
	if web.Stdout != "pty" || web.Stderr != "file:/var/log/web.err" {
		t.Errorf("streams = %q %q", web.Stdout, web.Stderr)
	}
	if !web.ExpectedExit(2) || web.ExpectedExit(1) {
		t.Errorf("exitcodes = %v", web.Exitcodes)
	}
	if web.Stopwaitsecs != 15 {
		t.Errorf("stopwaitsecs = %d, want 15", web.Stopwaitsecs)
	}
}

func TestEmptyConfigGetsDefaults(t *testing.T) {
	cfg, _, err := LoadBytes([]byte(""), "empty.toml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Runner.LogLevel != "info" {
		t.Errorf("default log_level = %q, want info", cfg.Runner.LogLevel)
	}
	if cfg.Runner.LogFormat != "json" {
		t.Errorf("default log_format = %q, want json", cfg.Runner.LogFormat)
	}
	if cfg.Runner.ShutdownTimeout != 30 {
		t.Errorf("default shutdown_timeout = %d, want 30", cfg.Runner.ShutdownTimeout)
	}
	if cfg.Runner.StatusInterval != 10 {
		t.Errorf("default status_interval = %d, want 10", cfg.Runner.StatusInterval)
	}
	if cfg.Runner.MaxEvents != 256 {
		t.Errorf("default max_events = %d, want 256", cfg.Runner.MaxEvents)
	}
}

func TestProgramDefaults(t *testing.T) {
	cfg, _, err := LoadBytes([]byte("[programs.a]\ncommand = \"/bin/true\"\n"), "test.toml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := cfg.Programs["a"]
	if p.Stdin != "null" || p.Stdout != "pipe" || p.Stderr != "pipe" {
		t.Errorf("streams = %q %q %q, want null pipe pipe", p.Stdin, p.Stdout, p.Stderr)
	}
	if p.Stopsignal != "TERM" || p.Stopwaitsecs != 10 {
		t.Errorf("stop = %s/%d, want TERM/10", p.Stopsignal, p.Stopwaitsecs)
	}
	if len(p.Exitcodes) != 1 || p.Exitcodes[0] != 0 {
		t.Errorf("exitcodes = %v, want [0]", p.Exitcodes)
	}
	if p.CaptureMaxbytes != "64KB" {
		t.Errorf("capture_maxbytes = %q", p.CaptureMaxbytes)
	}
	if argv := p.Argv(); len(argv) != 1 || argv[0] != "/bin/true" {
		t.Errorf("argv = %q", argv)
	}
}

func TestArgv0Override(t *testing.T) {
	p := ProgramConfig{Command: "/bin/sh", Argv0: "-sh", Args: []string{"-c", "true"}}
	if got := strings.Join(p.Argv(), " "); got != "-sh -c true" {
		t.Errorf("argv = %q", got)
	}
}

func TestValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		toml string
		want string
	}{
		{"missing command", "[programs.web]\nstdout = \"pipe\"\n", "command is required"},
		{"bad stopsignal", "[programs.web]\ncommand = \"/bin/true\"\nstopsignal = \"STOP\"\n", "invalid stopsignal"},
		{"bad stream", "[programs.web]\ncommand = \"/bin/true\"\nstdout = \"socket\"\n", "unknown stream"},
		{"file without path", "[programs.web]\ncommand = \"/bin/true\"\nstdout = \"file:\"\n", "needs a path"},
		{"bad fd", "[programs.web]\ncommand = \"/bin/true\"\nstdin = \"fd:x\"\n", "needs a descriptor number"},
		{"bad exit code", "[programs.web]\ncommand = \"/bin/true\"\nexitcodes = [256]\n", "out of range"},
		{"bad capture size", "[programs.web]\ncommand = \"/bin/true\"\ncapture_maxbytes = \"lots\"\n", "capture_maxbytes: invalid size"},
		{"bad log level", "[runner]\nlog_level = \"loud\"\n", "invalid log_level"},
		{"bad log format", "[runner]\nlog_format = \"xml\"\n", "log_format must be"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := LoadBytes([]byte(tt.toml), "test.toml")
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want %q", err.Error(), tt.want)
			}
		})
	}
}

func TestAllValidationErrorsReported(t *testing.T) {
	tomlData := `
[programs.a]
stopsignal = "NOPE"

[programs.b]
command = "/bin/true"
stderr = "tcp"
`
	_, _, err := LoadBytes([]byte(tomlData), "test.toml")
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"programs.a: command is required", "programs.a: invalid stopsignal", "programs.b: stderr"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%s", want, err)
		}
	}
}

func TestUnknownFieldsProduceWarnings(t *testing.T) {
	tomlData := `
[runner]
log_level = "info"
unknown_field = "value"
`
	cfg, warnings, err := LoadBytes([]byte(tomlData), "test.toml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg == nil {
		t.Fatal("config is nil")
	}
	found := false
	for _, w := range warnings {
		if strings.Contains(w, "runner.unknown_field") {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("warnings = %v, want mention of runner.unknown_field", warnings)
	}
}

func TestParseError(t *testing.T) {
	_, _, err := LoadBytes([]byte("[runner\n"), "broken.toml")
	if err == nil || !strings.Contains(err.Error(), "config parse error in broken.toml") {
		t.Fatalf("err = %v", err)
	}
}

func TestParseStream(t *testing.T) {
	tests := []struct {
		in   string
		want StreamSpec
	}{
		{"inherit", StreamSpec{Kind: StreamInherit}},
		{"null", StreamSpec{Kind: StreamNull}},
		{"pipe", StreamSpec{Kind: StreamPipe}},
		{"pty", StreamSpec{Kind: StreamPty}},
		{"file:/tmp/a:b", StreamSpec{Kind: StreamFile, Path: "/tmp/a:b"}},
		{"fd:3", StreamSpec{Kind: StreamFD, FD: 3}},
	}
	for _, tt := range tests {
		got, err := ParseStream(tt.in)
		if err != nil {
			t.Errorf("ParseStream(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseStream(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}

	for _, bad := range []string{"", "pipe:x", "fd:-1", "fd:", "file:", "tcp"} {
		if _, err := ParseStream(bad); err == nil {
			t.Errorf("ParseStream(%q) succeeded, want error", bad)
		}
	}
}

func TestStreamCaptured(t *testing.T) {
	for kind, want := range map[StreamKind]bool{
		StreamPipe: true, StreamPty: true, StreamNull: false, StreamFile: false, StreamInherit: false, StreamFD: false,
	} {
		if got := (StreamSpec{Kind: kind}).Captured(); got != want {
			t.Errorf("%s.Captured() = %v, want %v", kind, got, want)
		}
	}
}
