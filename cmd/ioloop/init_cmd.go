package main

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kahiteam/ioloop/internal/config"
)

var initFlags struct {
	output     string
	stdout     bool
	force      bool
	name       string
	stdinSpec  string
	stdoutSpec string
	stderrSpec string
}

var initCmd = &cobra.Command{
	Use:   "init [flags] [-- command [args...]]",
	Short: "Generate an ioloop.toml config file",
	Long: `Generate an ioloop.toml config file.

Without a command the file holds only the commented reference. With one, a
runnable [programs.<name>] table is appended, using the --program-stdin,
--program-stdout and --program-stderr stream specs (inherit, null, pipe, pty, file:<path>, fd:<n>). A bare
command name is resolved on $PATH.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := initContent(args)
		if err != nil {
			return err
		}

		if initFlags.stdout {
			_, err := fmt.Fprint(cmd.OutOrStdout(), content)
			return err
		}

		outPath := initFlags.output
		if outPath == "" {
			outPath = "ioloop.toml"
		}
		flag := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		if !initFlags.force {
			flag |= os.O_EXCL
		}
		f, err := os.OpenFile(outPath, flag, 0o644)
		if os.IsExist(err) {
			return fmt.Errorf("file %s already exists; use --force to overwrite", outPath)
		}
		if err != nil {
			return fmt.Errorf("cannot write config: %w", err)
		}
		if _, err := f.WriteString(content); err != nil {
			_ = f.Close()
			return fmt.Errorf("cannot write config: %w", err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("cannot write config: %w", err)
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", outPath)
		return err
	},
}

func initContent(args []string) (string, error) {
	if len(args) == 0 {
		return config.DefaultConfigTOML, nil
	}
	command := args[0]
	if !strings.Contains(command, "/") {
		resolved, err := exec.LookPath(command)
		if err != nil {
			return "", fmt.Errorf("init: %w", err)
		}
		command = resolved
	}
	return config.Generate(initFlags.name, config.ProgramConfig{
		Command: command,
		Args:    args[1:],
		Stdin:   initFlags.stdinSpec,
		Stdout:  initFlags.stdoutSpec,
		Stderr:  initFlags.stderrSpec,
	})
}

func init() {
	f := initCmd.Flags()
	f.StringVarP(&initFlags.output, "output", "o", "", "write config to file (default: ioloop.toml)")
	f.BoolVar(&initFlags.stdout, "stdout", false, "print config to stdout instead of writing a file")
	f.BoolVar(&initFlags.force, "force", false, "overwrite existing file")
	f.StringVar(&initFlags.name, "name", "", "program name (default: base name of the command)")
	f.StringVar(&initFlags.stdinSpec, "program-stdin", "", "program stdin stream spec (default: null)")
	f.StringVar(&initFlags.stdoutSpec, "program-stdout", "", "program stdout stream spec (default: pipe)")
	f.StringVar(&initFlags.stderrSpec, "program-stderr", "", "program stderr stream spec (default: pipe)")
	rootCmd.AddCommand(initCmd)
}
