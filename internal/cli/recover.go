package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"dehusk/internal/runner"
)

func newRecoverCmd(o *rootOptions) *cobra.Command {
	var unlock bool

	cmd := &cobra.Command{
		Use:   "recover DIR...",
		Short: "Finish or roll back a swap that was interrupted",
		Long: `recover looks for a "DIR.dehusk-*" temporary sibling left by an interrupted
dehusk and puts its payload back at DIR when that can be done without
losing anything. Prints the action taken for every DIR.`,
		Args: usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.setup(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			d := a.dehusker(a.cfg.AllowedRoots)
			r := a.runnerFor(d, runner.SourceRecover)
			for _, dir := range args {
				res, err := r.Recover(dir)
				if err != nil {
					return err
				}
				fmt.Fprintf(o.stdout, "%s\t%s\n", res.Action, res.Path)

				if res.StaleLock && unlock {
					if err := d.Unlock(dir); err != nil {
						return err
					}
					a.logger.Infow("removed stale lock", "path", dir)
					fmt.Fprintf(o.stdout, "unlocked\t%s\n", res.Path)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&unlock, "unlock", false, "Also remove a stale lock file left by a dead process")
	return cmd
}
