package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Load reads a TOML config file, expands variables, resolves includes,
// applies defaults, validates, and returns the config along with any
// warnings (e.g. unknown fields).
func Load(path string) (*Config, []string, error) {
	return load(path, map[string]bool{})
}

func load(path string, seen map[string]bool) (*Config, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot read config: %s: %w", path, err)
	}
	if abs, err := filepath.Abs(path); err == nil {
		seen[abs] = true
	}

	cfg, warnings, err := decode(data, path)
	if err != nil {
		return nil, warnings, err
	}
	// Expand before merging so included programs are expanded exactly once,
	// relative to their own file.
	if err := ExpandVariables(cfg, path); err != nil {
		return nil, warnings, fmt.Errorf("config expansion failed in %s: %w", path, err)
	}
	incWarnings, err := resolveIncludes(cfg, filepath.Dir(path), seen)
	warnings = append(warnings, incWarnings...)
	if err != nil {
		return nil, warnings, err
	}
	return finish(cfg, warnings, path)
}

// LoadBytes parses TOML from raw bytes. The path argument is used only for
// error messages and %(here)s. Includes are not followed.
func LoadBytes(data []byte, path string) (*Config, []string, error) {
	cfg, warnings, err := decode(data, path)
	if err != nil {
		return nil, warnings, err
	}
	if err := ExpandVariables(cfg, path); err != nil {
		return nil, warnings, fmt.Errorf("config expansion failed in %s: %w", path, err)
	}
	return finish(cfg, warnings, path)
}

// LoadReader reads a whole config from r, as for `run -c -`. name labels
// errors; %(here)s is the working directory and includes are not followed.
func LoadReader(r io.Reader, name string) (*Config, []string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot read config: %s: %w", name, err)
	}
	cfg, warnings, err := LoadBytes(data, name)
	if err == nil && len(cfg.Include) > 0 {
		warnings = append(warnings, fmt.Sprintf("include ignored for config read from %s", name))
	}
	return cfg, warnings, err
}

func decode(data []byte, path string) (*Config, []string, error) {
	var cfg Config
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("config parse error in %s: %w", path, err)
	}

	// Collect warnings for unknown fields.
	var warnings []string
	for _, key := range md.Undecoded() {
		warnings = append(warnings, fmt.Sprintf("unknown config key: %s", strings.Join(key, ".")))
	}
	return &cfg, warnings, nil
}

func finish(cfg *Config, warnings []string, path string) (*Config, []string, error) {
	ApplyDefaults(cfg)

	if errs := Validate(cfg); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, warnings, fmt.Errorf("config validation failed in %s:\n  %s",
			path, strings.Join(msgs, "\n  "))
	}

	return cfg, warnings, nil
}
