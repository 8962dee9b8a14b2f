package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kahiteam/ioloop/internal/config"
	"github.com/kahiteam/ioloop/internal/subprocess"
)

var spawnFlags struct {
	stdin, stdout, stderr string
	stopsignal            string
	stopwait              int
	logLevel              string
	logFormat             string
}

var spawnCmd = &cobra.Command{
	Use:   "spawn [flags] -- path [argv...]",
	Short: "Run one program with explicit stdio wiring and exit with its status",
	Long: `Run one program and exit with its status.

argv is passed verbatim, including argv[0]; without it the program sees
[path]. The child starts with an empty environment. Stream specs are
inherit, null, pipe, pty, file:<path> and fd:<n>.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := spawnConfig(args)
		if err != nil {
			return err
		}
		logger := newLogger(cfg.Runner, cmd.ErrOrStderr())
		results, err := runPrograms(cfg, logger)
		if err != nil {
			return err
		}
		if len(results) != 1 {
			return fmt.Errorf("spawn: no result")
		}
		return spawnExit(results[0].Err, results[0].Status)
	},
}

// spawnConfig builds a one-program config from the command line.
func spawnConfig(args []string) (*config.Config, error) {
	prog := config.ProgramConfig{
		Command:      args[0],
		Stdin:        spawnFlags.stdin,
		Stdout:       spawnFlags.stdout,
		Stderr:       spawnFlags.stderr,
		Stopsignal:   spawnFlags.stopsignal,
		Stopwaitsecs: spawnFlags.stopwait,
	}
	if len(args) > 1 {
		prog.Argv0 = args[1]
		prog.Args = args[2:]
	}
	cfg := &config.Config{
		Runner: config.RunnerConfig{
			LogLevel:  spawnFlags.logLevel,
			LogFormat: spawnFlags.logFormat,
		},
		Programs: map[string]config.ProgramConfig{"spawn": prog},
	}
	config.ApplyDefaults(cfg)
	// One child needs no status ticks.
	cfg.Runner.StatusInterval = 0
	if errs := config.Validate(cfg); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = strings.TrimPrefix(e.Error(), "programs.spawn: ")
		}
		return nil, errors.New(strings.Join(msgs, "; "))
	}
	return cfg, nil
}

// spawnExit maps a child's status to the shell's conventions: 127 when it
// could not be started, 128+n when killed by signal n.
func spawnExit(spawnErr error, st subprocess.Status) error {
	if spawnErr != nil {
		return &exitError{code: 127, err: spawnErr}
	}
	if code, err := st.ExitCode(); err == nil {
		if code == 0 {
			return nil
		}
		return &exitError{code: code}
	}
	if raw, err := st.ExitCodeRaw(); err == nil && st.Signaled() {
		return &exitError{code: 128 + raw}
	}
	return &exitError{code: 1}
}

func init() {
	f := spawnCmd.Flags()
	f.StringVar(&spawnFlags.stdin, "stdin", "inherit", "stdin stream spec")
	f.StringVar(&spawnFlags.stdout, "stdout", "inherit", "stdout stream spec")
	f.StringVar(&spawnFlags.stderr, "stderr", "inherit", "stderr stream spec")
	f.StringVar(&spawnFlags.stopsignal, "stopsignal", "TERM", "signal sent on SIGINT/SIGTERM")
	f.IntVar(&spawnFlags.stopwait, "stopwaitsecs", 10, "seconds before escalating to SIGKILL")
	f.StringVar(&spawnFlags.logLevel, "log-level", "warn", "runner log level")
	f.StringVar(&spawnFlags.logFormat, "log-format", "auto", "runner log format (json, text, auto)")
	rootCmd.AddCommand(spawnCmd)
}
