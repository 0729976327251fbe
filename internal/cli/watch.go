package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"dehusk/internal/metrics"
	"dehusk/internal/runner"
	"dehusk/internal/scheduler"
)

var errNoWatchPaths = errors.New("no watch paths configured (watch.paths)")

func newWatchCmd(o *rootOptions) *cobra.Command {
	var (
		once   bool
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Dehusk settled directories under the watch paths periodically",
		Long: `watch scans the immediate child directories of every watch path and
dehusks those that have not been modified for the settle period. Targets are
locked while they are processed. Unless --once is given, a Prometheus
endpoint serves /metrics, /health and /trigger on the configured port.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.setup(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			if len(a.cfg.Watch.Paths) == 0 {
				return usageError{errNoWatchPaths}
			}
			a.cfg.Lock = true
			allowed := a.cfg.AllowedRoots
			if len(allowed) == 0 {
				allowed = a.cfg.Watch.Paths
			}

			r := a.runnerFor(a.dehusker(allowed), runner.SourceWatch,
				runner.WithoutNoopRecords(),
				runner.WithDryRun(dryRun),
			)
			sched := scheduler.New(a.cfg, r, a.logger)
			ctx := cmd.Context()

			if once {
				report, err := sched.RunOnce(ctx)
				if err != nil {
					return err
				}
				if report.Failed > 0 {
					return fmt.Errorf("%d of %d watch candidates failed", report.Failed, report.Candidates)
				}
				return nil
			}

			if a.db != nil {
				metrics.SetHealthCheck(a.db.Ping)
			}
			trigger := make(chan struct{}, 1)
			metrics.StartServer(a.cfg.PrometheusAddress(), trigger, a.logger)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				metrics.Shutdown(shutdownCtx, a.logger)
			}()

			a.logger.Infow("watching",
				"paths", a.cfg.Watch.Paths,
				"interval", a.cfg.Interval(),
				"settle", a.cfg.Settle(),
			)
			if err := sched.Run(ctx, trigger); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			a.logger.Infow("watch stopped")
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Run a single watch cycle and exit")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would be collapsed without changing anything")
	return cmd
}
