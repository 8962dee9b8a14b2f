package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kahiteam/ioloop/internal/version"
)

var rootCmd = &cobra.Command{
	Use:           "ioloop",
	Short:         "ioloop -- run child processes on a single event loop",
	Long:          "ioloop spawns programs with explicit stdio wiring and watches them from one epoll loop.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// exitError carries a process exit status out of a command. A nil err
// exits quietly.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func init() {
	rootCmd.Version = version.Version
	rootCmd.SetVersionTemplate(version.Detail())
}

func main() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(os.Stderr, ee.err)
		}
		os.Exit(ee.code)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
