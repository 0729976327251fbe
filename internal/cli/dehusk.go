package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"dehusk/internal/runner"
)

// usageArgs marks positional argument errors as usage errors
func usageArgs(fn cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := fn(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}

// runDehusk collapses every DIR in order and stops at the first failure.
func (o *rootOptions) runDehusk(cmd *cobra.Command, args []string) error {
	a, err := o.setup(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if len(args) == 0 {
		return usageError{errNoDirectory}
	}

	r := a.runner(runner.SourceCLI, runner.WithDryRun(o.dryRun))
	for _, dir := range args {
		out := r.Dehusk(cmd.Context(), dir, a.cfg.Depth)
		if out.Err != nil {
			return out.Err
		}
		if out.DryRun {
			fmt.Fprintf(o.stdout, "%s -> %s\n", out.Result.Seed, out.Result.Path)
			continue
		}
		fmt.Fprintln(o.stdout, out.Result.Path)
	}
	return nil
}
