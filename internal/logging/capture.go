package logging

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

const (
	// DefaultTailBytes is the ring buffer size when none is configured.
	DefaultTailBytes = 64 * 1024
	// maxLine bounds a line held back while waiting for its newline.
	maxLine = 16 * 1024
)

// CaptureConfig configures capture of one child output stream.
type CaptureConfig struct {
	Program   string
	Stream    string // "stdout" or "stderr"
	Logfile   string // empty disables the logfile
	MaxBytes  int64  // logfile size that triggers rotation; 0 is unlimited
	Backups   int
	TailBytes int // ring buffer size
	StripAnsi bool
	// Logger receives one record per complete line. Nil disables line
	// logging.
	Logger *slog.Logger
}

// CaptureWriter receives raw bytes read from a child's stream. It keeps the
// most recent output in a ring buffer, appends to an optional rotating
// logfile and logs complete lines.
type CaptureWriter struct {
	mu      sync.Mutex
	cfg     CaptureConfig
	file    *os.File
	size    int64
	ring    *RingBuffer
	partial []byte
	logger  *slog.Logger
}

// NewCaptureWriter creates a capture writer, opening the logfile if one is
// configured.
func NewCaptureWriter(cfg CaptureConfig) (*CaptureWriter, error) {
	if cfg.TailBytes <= 0 {
		cfg.TailBytes = DefaultTailBytes
	}
	cw := &CaptureWriter{
		cfg:  cfg,
		ring: NewRingBuffer(cfg.TailBytes),
	}
	if cfg.Logger != nil {
		cw.logger = cfg.Logger.With("program", cfg.Program, "stream", cfg.Stream)
	}
	if cfg.Logfile != "" {
		if err := cw.openLocked(); err != nil {
			return nil, err
		}
	}
	return cw, nil
}

// Write implements io.Writer. It never fails; logfile errors are logged.
func (cw *CaptureWriter) Write(p []byte) (int, error) {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	data := p
	if cw.cfg.StripAnsi {
		data = StripANSI(data)
	}
	cw.ring.Write(data)
	cw.writeFileLocked(data)
	cw.emitLinesLocked(data)
	return len(p), nil
}

// Flush logs a trailing line that never received its newline.
func (cw *CaptureWriter) Flush() {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.flushLocked()
}

// Tail returns the last n captured bytes.
func (cw *CaptureWriter) Tail(n int) []byte {
	return cw.ring.Tail(n)
}

// Reopen closes and reopens the logfile, for external rotation tools.
func (cw *CaptureWriter) Reopen() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if cw.cfg.Logfile == "" {
		return nil
	}
	if cw.file != nil {
		_ = cw.file.Close()
		cw.file = nil
	}
	return cw.openLocked()
}

// Close flushes any partial line and closes the logfile.
func (cw *CaptureWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.flushLocked()
	if cw.file == nil {
		return nil
	}
	err := cw.file.Close()
	cw.file = nil
	return err
}

func (cw *CaptureWriter) openLocked() error {
	f, err := os.OpenFile(cw.cfg.Logfile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("cannot open log file: %s: %w", cw.cfg.Logfile, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("cannot stat log file: %s: %w", cw.cfg.Logfile, err)
	}
	cw.file = f
	cw.size = info.Size()
	return nil
}

func (cw *CaptureWriter) writeFileLocked(data []byte) {
	if cw.file == nil {
		return
	}
	n, err := cw.file.Write(data)
	cw.size += int64(n)
	if err != nil {
		cw.warn("log write failed", err)
	}
	if cw.cfg.MaxBytes <= 0 || cw.size < cw.cfg.MaxBytes {
		return
	}

	_ = cw.file.Close()
	cw.file = nil
	if err := rotateFile(cw.cfg.Logfile, cw.cfg.Backups); err != nil {
		cw.warn("log rotation failed", err)
	}
	if err := cw.openLocked(); err != nil {
		cw.warn("log reopen failed", err)
	}
}

func (cw *CaptureWriter) emitLinesLocked(data []byte) {
	if cw.logger == nil {
		return
	}
	cw.partial = append(cw.partial, data...)
	for {
		i := bytes.IndexByte(cw.partial, '\n')
		if i < 0 {
			break
		}
		cw.logLine(cw.partial[:i])
		cw.partial = cw.partial[i+1:]
	}
	for len(cw.partial) >= maxLine {
		cw.logLine(cw.partial[:maxLine])
		cw.partial = cw.partial[maxLine:]
	}
	// Compact so the backing array does not grow without bound.
	cw.partial = append([]byte(nil), cw.partial...)
}

func (cw *CaptureWriter) flushLocked() {
	if cw.logger == nil || len(cw.partial) == 0 {
		return
	}
	cw.logLine(cw.partial)
	cw.partial = nil
}

func (cw *CaptureWriter) logLine(line []byte) {
	line = bytes.TrimSuffix(line, []byte{'\r'})
	cw.logger.Info(string(line))
}

func (cw *CaptureWriter) warn(msg string, err error) {
	if cw.cfg.Logger != nil {
		cw.cfg.Logger.Error(msg, "program", cw.cfg.Program, "file", cw.cfg.Logfile, "error", err)
	}
}
