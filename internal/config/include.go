package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// resolveIncludes loads every file matched by cfg.Include and merges its
// programs into cfg. Relative patterns are resolved against dir. Each
// included file is expanded against its own location before merging.
func resolveIncludes(cfg *Config, dir string, seen map[string]bool) ([]string, error) {
	var warnings []string
	for _, pattern := range cfg.Include {
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(dir, pattern)
		}
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return warnings, fmt.Errorf("invalid include pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			warnings = append(warnings, fmt.Sprintf("include pattern %q matched no files", pattern))
			continue
		}
		sort.Strings(matches)

		for _, path := range matches {
			abs, err := filepath.Abs(path)
			if err != nil {
				return warnings, fmt.Errorf("cannot resolve include path %q: %w", path, err)
			}
			if seen[abs] {
				return warnings, fmt.Errorf("circular include detected: %s", abs)
			}
			seen[abs] = true

			data, err := os.ReadFile(abs)
			if err != nil {
				return warnings, fmt.Errorf("cannot read include: %w", err)
			}
			inc, w, err := decode(data, abs)
			warnings = append(warnings, w...)
			if err != nil {
				return warnings, err
			}
			if err := ExpandVariables(inc, abs); err != nil {
				return warnings, fmt.Errorf("include %s: %w", abs, err)
			}
			w, err = resolveIncludes(inc, filepath.Dir(abs), seen)
			warnings = append(warnings, w...)
			if err != nil {
				return warnings, err
			}
			if err := mergePrograms(cfg, inc, abs); err != nil {
				return warnings, err
			}
		}
	}
	cfg.Include = nil
	return warnings, nil
}

func mergePrograms(dst, src *Config, srcPath string) error {
	for name, prog := range src.Programs {
		if _, ok := dst.Programs[name]; ok {
			return fmt.Errorf("duplicate program name %q: also defined in %s", name, srcPath)
		}
		if dst.Programs == nil {
			dst.Programs = make(map[string]ProgramConfig)
		}
		dst.Programs[name] = prog
	}
	return nil
}
