package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// expandVars are the %(name)s variables available to a program's fields.
type expandVars struct {
	here        string
	programName string
}

func (v expandVars) lookup(name string) (string, bool) {
	switch name {
	case "here":
		return v.here, true
	case "program_name":
		return v.programName, true
	}
	return "", false
}

// ExpandVariables expands %(here)s, %(program_name)s and ${ENV} references
// in the path and argument fields of every program. %% and $$ escape a
// literal percent or dollar sign.
func ExpandVariables(cfg *Config, configPath string) error {
	here := filepath.Dir(configPath)
	for name, p := range cfg.Programs {
		vars := expandVars{here: here, programName: name}
		fields := []struct {
			key string
			val *string
		}{
			{"command", &p.Command},
			{"argv0", &p.Argv0},
			{"stdin", &p.Stdin},
			{"stdout", &p.Stdout},
			{"stderr", &p.Stderr},
			{"stdout_logfile", &p.StdoutLogfile},
			{"stderr_logfile", &p.StderrLogfile},
		}
		for _, f := range fields {
			s, err := expandString(*f.val, vars)
			if err != nil {
				return fmt.Errorf("programs.%s.%s: %w", name, f.key, err)
			}
			*f.val = s
		}

		args := make([]string, len(p.Args))
		for i, a := range p.Args {
			s, err := expandString(a, vars)
			if err != nil {
				return fmt.Errorf("programs.%s.args[%d]: %w", name, i, err)
			}
			args[i] = s
		}
		p.Args = args
		cfg.Programs[name] = p
	}
	return nil
}

func expandString(s string, vars expandVars) (string, error) {
	if !strings.ContainsAny(s, "%$") {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); {
		rest := s[i:]
		switch {
		case strings.HasPrefix(rest, "%%"), strings.HasPrefix(rest, "$$"):
			b.WriteByte(s[i])
			i += 2

		case strings.HasPrefix(rest, "%("):
			end := strings.Index(rest, ")s")
			if end < 0 {
				return "", fmt.Errorf("unclosed template variable at position %d in %q", i, s)
			}
			name := rest[2:end]
			val, ok := vars.lookup(name)
			if !ok {
				return "", fmt.Errorf("unknown template variable: %%(%s)s", name)
			}
			b.WriteString(val)
			i += end + 2

		case strings.HasPrefix(rest, "${"):
			end := strings.IndexByte(rest, '}')
			if end < 0 {
				return "", fmt.Errorf("unclosed environment variable reference at position %d in %q", i, s)
			}
			name := rest[2:end]
			val, ok := os.LookupEnv(name)
			if !ok {
				return "", fmt.Errorf("undefined environment variable: ${%s}", name)
			}
			b.WriteString(val)
			i += end + 1

		default:
			b.WriteByte(s[i])
			i++
		}
	}
	return b.String(), nil
}
