package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dehusk/internal/config"
	"dehusk/internal/database"
	"dehusk/internal/dehusk"
	"dehusk/internal/logging"
	"dehusk/internal/runner"
	"dehusk/internal/safety"
)

// app is the state shared by every subcommand once flags are resolved
type app struct {
	cfg      *config.Config
	logger   *zap.SugaredLogger
	closeLog func() error
	db       *database.HistoryDB
	stderr   io.Writer
}

// setup loads the configuration, lets explicitly set flags override it,
// then opens the logger and the history database.
func (o *rootOptions) setup(cmd *cobra.Command) (*app, error) {
	if err := config.LoadEnvFile(".env"); err != nil {
		return nil, usageError{err}
	}

	path := o.configPath
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			path = defaultConfigPath
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, usageError{err}
	}

	flags := cmd.Flags()
	if flags.Changed("depth") {
		cfg.Depth = o.depth
	}
	if o.silent {
		cfg.Silent = true
	}
	o.silent = cfg.Silent
	if o.lock {
		cfg.Lock = true
	}
	if o.recursiveRemove {
		cfg.Removal = config.RemovalRecursive
	}

	var console io.Writer = o.stderr
	if cfg.Silent {
		console = io.Discard
	}
	a := &app{cfg: cfg, stderr: o.stderr}
	a.logger, a.closeLog = logging.FromConfig(cfg, console)

	if cfg.DatabasePath != "" {
		a.db, err = database.NewHistoryDB(cfg.DatabasePath)
		if err != nil {
			a.logger.Errorw("failed to open history database", "path", cfg.DatabasePath, "error", err)
			a.close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Errorw("failed to close history database", "error", err)
		}
	}
	if err := a.closeLog(); err != nil {
		fmt.Fprintf(a.stderr, "close log file: %v\n", err)
	}
}

func (a *app) dehusker(allowed []string) *dehusk.Dehusker {
	return dehusk.New(nil, dehusk.Options{
		Lock:      a.cfg.Lock,
		Removal:   dehusk.RemovalMode(a.cfg.Removal),
		Validator: safety.NewValidator(allowed, a.cfg.ProtectedPaths),
	})
}

func (a *app) runner(source string, opts ...runner.Option) *runner.Runner {
	return a.runnerFor(a.dehusker(a.cfg.AllowedRoots), source, opts...)
}

func (a *app) runnerFor(d *dehusk.Dehusker, source string, opts ...runner.Option) *runner.Runner {
	if a.db != nil {
		opts = append(opts, runner.WithRecorder(a.db))
	}
	return runner.New(d, a.logger, source, opts...)
}

// envSilent reports EDEHUSKDIR_SILENT for errors raised before the
// configuration could be loaded.
func envSilent() bool {
	v, ok := os.LookupEnv(config.EnvPrefix + "_SILENT")
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
