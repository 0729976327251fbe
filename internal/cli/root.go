// Package cli implements the dehusk command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"dehusk/internal/exitcodes"
)

const defaultConfigPath = "/etc/dehusk/config.yaml"

var errNoDirectory = errors.New("no directory given")

// usageError marks bad arguments or configuration
type usageError struct{ error }

func (e usageError) Unwrap() error { return e.error }

type rootOptions struct {
	configPath      string
	depth           int
	silent          bool
	lock            bool
	recursiveRemove bool
	dryRun          bool

	stdout io.Writer
	stderr io.Writer
}

// NewRootCmd builds the dehusk command tree writing to stdout and stderr.
func NewRootCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd, _ := newRootCmd(stdout, stderr)
	return cmd
}

func newRootCmd(stdout, stderr io.Writer) (*cobra.Command, *rootOptions) {
	o := &rootOptions{stdout: stdout, stderr: stderr}

	cmd := &cobra.Command{
		Use:   "dehusk [DIR...]",
		Short: "Collapse single-child wrapper directories in place",
		Long: `dehusk replaces each DIR with the contents of its innermost wrapper.

A wrapper is a directory whose only entry is another directory, as left
behind by archives that pack everything under "name-version/". The seed is
swapped into place through a temporary sibling, then the emptied wrappers
are removed. The resulting path is printed for every DIR.

Environment:
  EDEHUSKDIR_DEPTH   default for --depth
  EDEHUSKDIR_SILENT  default for --silent

Exit Codes:
  0  - Success
  1  - Dehusk failed
  2  - Invalid arguments or configuration
  3  - Refused by the safety validator
  4  - Runtime error
  5  - Target is locked by another dehusk
  6  - Swap interrupted; payload left in a temporary sibling (see "dehusk recover")`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.runDehusk(cmd, args)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	pf := cmd.PersistentFlags()
	pf.StringVar(&o.configPath, "config", "", "Path to configuration file (YAML, or TOML with a .toml extension)")
	pf.IntVarP(&o.depth, "depth", "d", -1, "Maximum wrapper levels to collapse (negative: unbounded)")
	pf.BoolVar(&o.silent, "silent", false, "Print -1 instead of an error message on failure")
	pf.BoolVar(&o.lock, "lock", false, "Hold an exclusive lock file next to each target")
	pf.BoolVar(&o.recursiveRemove, "recursive-remove", false, "Remove the emptied wrapper chain recursively instead of one directory at a time")

	cmd.Flags().BoolVar(&o.dryRun, "dry-run", false, "Report what would be collapsed without changing anything")

	cmd.AddCommand(
		newRecoverCmd(o),
		newExtractCmd(o),
		newWatchCmd(o),
	)
	return cmd, o
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, os.Args[1:], os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd, o := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return exitcodes.Success
	}

	if o.silent || envSilent() {
		fmt.Fprintln(stdout, -1)
	} else {
		fmt.Fprintf(stderr, "error: %v\n", err)
	}

	var ue usageError
	if errors.As(err, &ue) {
		return exitcodes.InvalidConfig
	}
	return exitcodes.ForError(err)
}
