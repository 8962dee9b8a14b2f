package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/kahiteam/ioloop/internal/config"
	"github.com/kahiteam/ioloop/internal/logging"
	"github.com/kahiteam/ioloop/internal/metrics"
	"github.com/kahiteam/ioloop/internal/runner"
	"github.com/kahiteam/ioloop/internal/version"
)

var runConfigPath string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start every program in the config and wait for them to exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.Resolve(runConfigPath)
		if err != nil {
			return err
		}
		cfg, warnings, err := loadConfig(cmd, path)
		if err != nil {
			return err
		}
		logger := newLogger(cfg.Runner, cmd.ErrOrStderr())
		for _, w := range warnings {
			logger.Warn("config warning", "warning", w)
		}
		logger.Info("loaded config", "path", path, "programs", len(cfg.Programs))

		results, err := runPrograms(cfg, logger)
		if err != nil {
			return err
		}
		failed := 0
		for _, res := range results {
			if res.Err != nil || !res.Expected {
				failed++
			}
		}
		if failed > 0 {
			return &exitError{code: 1, err: fmt.Errorf("%d of %d programs failed", failed, len(results))}
		}
		return nil
	},
}

func loadConfig(cmd *cobra.Command, path string) (*config.Config, []string, error) {
	if path == config.Stdin {
		return config.LoadReader(cmd.InOrStdin(), "<stdin>")
	}
	return config.Load(path)
}

func newLogger(rc config.RunnerConfig, out io.Writer) *slog.Logger {
	return logging.New(logging.LogConfig{Level: rc.LogLevel, Format: rc.LogFormat, Output: out})
}

func runPrograms(cfg *config.Config, logger *slog.Logger) ([]runner.Result, error) {
	collector := metrics.New()
	collector.SetBuildInfo(version.Version, version.GoVersion())
	r, err := runner.New(runner.Config{Config: cfg, Logger: logger, Metrics: collector})
	if err != nil {
		return nil, err
	}
	if err := r.Run(); err != nil {
		return r.Results(), err
	}
	return r.Results(), nil
}

func init() {
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "", "config file, or - for stdin (default: $"+config.EnvVar+", ./ioloop.toml, $XDG_CONFIG_HOME/ioloop/ioloop.toml, /etc/ioloop/ioloop.toml)")
	rootCmd.AddCommand(runCmd)
}
