//go:build e2e

package e2e

import (
	"os/exec"
	"strings"
	"testing"
)

func TestSpawnInheritsStdout(t *testing.T) {
	out, err := exec.Command(ioloopBinary, "spawn", "--", lookPath(t, "echo"), "echo", "a", "b c").Output()
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if string(out) != "a b c\n" {
		t.Fatalf("stdout = %q", out)
	}
}

func TestSpawnEmptyEnvironment(t *testing.T) {
	cmd := exec.Command(ioloopBinary, "spawn", "--", lookPath(t, "env"))
	cmd.Env = []string{"IOLOOP_E2E_MARKER=1"}
	out, err := cmd.Output()
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if strings.TrimSpace(string(out)) != "" {
		t.Fatalf("child saw environment %q", out)
	}
}

func TestSpawnExitCodes(t *testing.T) {
	sh := lookPath(t, "sh")
	tests := []struct {
		args []string
		want int
	}{
		{[]string{"spawn", "--", sh, "sh", "-c", "exit 9"}, 9},
		{[]string{"spawn", "--", sh, "sh", "-c", "kill -TERM $$"}, 128 + 15},
		{[]string{"spawn", "--", "/nonexistent/prog"}, 127},
	}
	for _, tt := range tests {
		err := exec.Command(ioloopBinary, tt.args...).Run()
		if got := exitStatus(err); got != tt.want {
			t.Errorf("%v: exit = %d, want %d", tt.args, got, tt.want)
		}
	}
}

func TestSpawnPty(t *testing.T) {
	out, err := exec.Command(ioloopBinary, "spawn", "--stdout", "pty", "--log-format", "text", "--log-level", "info",
		"--", lookPath(t, "sh"), "sh", "-c", "test -t 1 && echo on-a-tty").CombinedOutput()
	if err != nil {
		t.Fatalf("spawn: %v\n%s", err, out)
	}
	if !strings.Contains(string(out), "msg=on-a-tty") {
		t.Fatalf("output = %q", out)
	}
}
