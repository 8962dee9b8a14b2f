package config

import (
	"fmt"
	"strconv"
	"strings"
)

// StreamKind is the policy named by a stdin/stdout/stderr setting.
type StreamKind string

const (
	StreamInherit StreamKind = "inherit"
	StreamNull    StreamKind = "null"
	StreamPipe    StreamKind = "pipe"
	StreamPty     StreamKind = "pty"
	StreamFile    StreamKind = "file"
	StreamFD      StreamKind = "fd"
)

// StreamSpec is a parsed stream setting such as "pipe" or "file:/tmp/out".
type StreamSpec struct {
	Kind StreamKind
	Path string // StreamFile
	FD   int    // StreamFD
}

// ParseStream parses a stream setting.
func ParseStream(s string) (StreamSpec, error) {
	kind, arg, hasArg := strings.Cut(s, ":")
	switch k := StreamKind(kind); k {
	case StreamInherit, StreamNull, StreamPipe, StreamPty:
		if hasArg {
			return StreamSpec{}, fmt.Errorf("stream %q takes no argument", kind)
		}
		return StreamSpec{Kind: k}, nil
	case StreamFile:
		if arg == "" {
			return StreamSpec{}, fmt.Errorf("stream %q needs a path", s)
		}
		return StreamSpec{Kind: k, Path: arg}, nil
	case StreamFD:
		n, err := strconv.Atoi(arg)
		if err != nil || n < 0 {
			return StreamSpec{}, fmt.Errorf("stream %q needs a descriptor number", s)
		}
		return StreamSpec{Kind: k, FD: n}, nil
	default:
		return StreamSpec{}, fmt.Errorf("unknown stream %q (want inherit, null, pipe, pty, file:<path> or fd:<n>)", s)
	}
}

// Captured reports whether the runner reads this stream itself.
func (s StreamSpec) Captured() bool {
	return s.Kind == StreamPipe || s.Kind == StreamPty
}
