package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"dehusk/internal/archive"
	"dehusk/internal/runner"
)

func newExtractCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "extract ARCHIVE DEST",
		Short: "Unpack an archive into DEST, then dehusk DEST",
		Long: `extract unpacks a tar, tar.gz, tar.zst or zip archive into DEST, which must
be missing or empty, and collapses the wrapper directories it contained.
The format is detected from content, with the file name as fallback.`,
		Args: usageArgs(cobra.ExactArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.setup(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			src, dest := args[0], args[1]
			stats, err := archive.Extract(cmd.Context(), src, dest)
			if err != nil {
				a.logger.Errorw("extraction failed", "archive", src, "dest", dest, "error", err)
				return err
			}
			a.logger.Infow("extracted",
				"archive", src,
				"dest", dest,
				"files", stats.Files,
				"dirs", stats.Dirs,
				"links", stats.Links,
				"bytes", stats.Bytes,
			)
			if stats.Skipped > 0 {
				a.logger.Warnw("special entries not unpacked", "archive", src, "skipped", stats.Skipped)
			}

			out := a.runner(runner.SourceExtract).Dehusk(cmd.Context(), dest, a.cfg.Depth)
			if out.Err != nil {
				return out.Err
			}
			fmt.Fprintln(o.stdout, out.Result.Path)
			return nil
		},
	}
}
