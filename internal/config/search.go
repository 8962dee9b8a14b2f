package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// EnvVar names the environment variable that points at a config file.
const EnvVar = "IOLOOP_CONFIG"

// Stdin is the config path that makes the caller read the config from
// standard input. Resolve passes it through untouched.
const Stdin = "-"

// DefaultSearchPaths are tried when neither -c nor IOLOOP_CONFIG is set.
// Relative entries come first, then the per-user config, then the
// absolute (system) entries.
var DefaultSearchPaths = []string{
	"./ioloop.toml",
	"/etc/ioloop/ioloop.toml",
}

// Candidate is one location Resolve considered.
type Candidate struct {
	Path   string
	Origin string // "flag", EnvVar, "user" or "default"
	Err    error  // why the path was rejected
}

// SearchError lists every candidate Resolve rejected, in the order tried.
type SearchError struct {
	Tried []Candidate
}

func (e *SearchError) Error() string {
	if len(e.Tried) == 1 && e.Tried[0].Origin != "default" && e.Tried[0].Origin != "user" {
		c := e.Tried[0]
		return fmt.Sprintf("cannot read config: %s (%s): %v", c.Path, c.Origin, c.Err)
	}
	var b strings.Builder
	b.WriteString("no config file found; tried:")
	for _, c := range e.Tried {
		fmt.Fprintf(&b, "\n  %s (%s): %v", c.Path, c.Origin, c.Err)
	}
	return b.String()
}

// Unwrap exposes the per-candidate errors, so errors.Is(err, fs.ErrNotExist)
// holds when every candidate was missing.
func (e *SearchError) Unwrap() []error {
	errs := make([]error, len(e.Tried))
	for i, c := range e.Tried {
		errs[i] = c.Err
	}
	return errs
}

// Candidates returns the locations Resolve would try for explicit, in order.
// An explicit path or IOLOOP_CONFIG disables the search.
func Candidates(explicit string) []Candidate {
	if explicit != "" {
		return []Candidate{{Path: explicit, Origin: "flag"}}
	}
	if env := os.Getenv(EnvVar); env != "" {
		return []Candidate{{Path: env, Origin: EnvVar}}
	}

	var out []Candidate
	for _, p := range DefaultSearchPaths {
		if !filepath.IsAbs(p) {
			out = append(out, Candidate{Path: p, Origin: "default"})
		}
	}
	if dir, err := os.UserConfigDir(); err == nil {
		out = append(out, Candidate{Path: filepath.Join(dir, "ioloop", "ioloop.toml"), Origin: "user"})
	}
	for _, p := range DefaultSearchPaths {
		if filepath.IsAbs(p) {
			out = append(out, Candidate{Path: p, Origin: "default"})
		}
	}
	return out
}

// Resolve returns the first usable config file among Candidates(explicit).
// Stdin is returned as is. The error is a *SearchError naming every path
// that was tried and why it was skipped.
func Resolve(explicit string) (string, error) {
	if explicit == Stdin {
		return Stdin, nil
	}
	var tried []Candidate
	for _, c := range Candidates(explicit) {
		if c.Err = checkConfigFile(c.Path); c.Err == nil {
			return c.Path, nil
		}
		tried = append(tried, c)
	}
	return "", &SearchError{Tried: tried}
}

func checkConfigFile(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		// The path is already in the message.
		var pe *fs.PathError
		if errors.As(err, &pe) {
			return pe.Err
		}
		return err
	}
	if fi.IsDir() {
		return errors.New("is a directory")
	}
	return nil
}
