package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// logLines decodes the JSON records a capture writer produced.
func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("bad record %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestCaptureWriterToFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")

	cw, err := NewCaptureWriter(CaptureConfig{Program: "test", Stream: "stdout", Logfile: logPath})
	if err != nil {
		t.Fatal(err)
	}
	defer cw.Close()

	if _, err := cw.Write([]byte("hello world\n")); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello world\n" {
		t.Fatalf("log content = %q, want 'hello world\\n'", string(data))
	}
}

func TestCaptureWriterStripAnsi(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")

	cw, err := NewCaptureWriter(CaptureConfig{Program: "test", Stream: "stdout", Logfile: logPath, StripAnsi: true})
	if err != nil {
		t.Fatal(err)
	}
	defer cw.Close()

	if _, err := cw.Write([]byte("\033[31mERROR\033[0m: something failed\n")); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "ERROR: something failed\n" {
		t.Fatalf("log content = %q", string(data))
	}
	if tail := string(cw.Tail(100)); tail != "ERROR: something failed\n" {
		t.Fatalf("tail = %q", tail)
	}
}

func TestCaptureWriterTail(t *testing.T) {
	cw, err := NewCaptureWriter(CaptureConfig{Program: "test", Stream: "stdout", TailBytes: 8})
	if err != nil {
		t.Fatal(err)
	}
	defer cw.Close()

	_, _ = cw.Write([]byte("line 1\n"))
	_, _ = cw.Write([]byte("line 2\n"))

	if tail := string(cw.Tail(100)); tail != "\nline 2\n" {
		t.Fatalf("tail = %q, want last 8 bytes", tail)
	}
}

func TestCaptureWriterLogsLines(t *testing.T) {
	var buf bytes.Buffer
	cw, err := NewCaptureWriter(CaptureConfig{
		Program: "web",
		Stream:  "stderr",
		Logger:  New(LogConfig{Output: &buf}),
	})
	if err != nil {
		t.Fatal(err)
	}

	_, _ = cw.Write([]byte("first\r\nsec"))
	_, _ = cw.Write([]byte("ond\nthird"))
	if got := len(logLines(t, &buf)); got != 2 {
		t.Fatalf("records before close = %d, want 2", got)
	}
	if err := cw.Close(); err != nil {
		t.Fatal(err)
	}

	recs := logLines(t, &buf)
	want := []string{"first", "second", "third"}
	if len(recs) != len(want) {
		t.Fatalf("records = %d, want %d", len(recs), len(want))
	}
	for i, rec := range recs {
		if rec["msg"] != want[i] {
			t.Errorf("record %d msg = %v, want %q", i, rec["msg"], want[i])
		}
		if rec["program"] != "web" || rec["stream"] != "stderr" {
			t.Errorf("record %d attrs = %v", i, rec)
		}
	}
}

func TestCaptureWriterLongLineSplit(t *testing.T) {
	var buf bytes.Buffer
	cw, err := NewCaptureWriter(CaptureConfig{Program: "p", Stream: "stdout", Logger: New(LogConfig{Output: &buf})})
	if err != nil {
		t.Fatal(err)
	}
	defer cw.Close()

	_, _ = cw.Write(bytes.Repeat([]byte("x"), maxLine+10))
	recs := logLines(t, &buf)
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	if msg, _ := recs[0]["msg"].(string); len(msg) != maxLine {
		t.Fatalf("first chunk = %d bytes, want %d", len(msg), maxLine)
	}
}

func TestCaptureWriterRotates(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")
	cw, err := NewCaptureWriter(CaptureConfig{Program: "p", Stream: "stdout", Logfile: logPath, MaxBytes: 10, Backups: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer cw.Close()

	_, _ = cw.Write([]byte("0123456789"))
	_, _ = cw.Write([]byte("abc"))

	backup, err := os.ReadFile(logPath + ".1")
	if err != nil {
		t.Fatalf("expected backup: %v", err)
	}
	if string(backup) != "0123456789" {
		t.Fatalf("backup = %q", backup)
	}
	cur, _ := os.ReadFile(logPath)
	if string(cur) != "abc" {
		t.Fatalf("current = %q, want %q", cur, "abc")
	}
}

func TestCaptureWriterReopen(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")

	cw, err := NewCaptureWriter(CaptureConfig{Program: "test", Stream: "stdout", Logfile: logPath})
	if err != nil {
		t.Fatal(err)
	}
	defer cw.Close()

	_, _ = cw.Write([]byte("before\n"))
	if err := os.Rename(logPath, logPath+".1"); err != nil {
		t.Fatal(err)
	}
	if err := cw.Reopen(); err != nil {
		t.Fatal(err)
	}
	_, _ = cw.Write([]byte("after\n"))

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "after\n" {
		t.Fatalf("new file content = %q, want 'after\\n'", string(data))
	}
}

func TestCaptureWriterNonWritablePath(t *testing.T) {
	_, err := NewCaptureWriter(CaptureConfig{Program: "test", Stream: "stdout", Logfile: "/nonexistent/dir/test.log"})
	if err == nil {
		t.Fatal("expected error for non-writable log path")
	}
	if !strings.Contains(err.Error(), "cannot open log file") {
		t.Fatalf("err = %v", err)
	}
}
