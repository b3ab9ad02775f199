package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/zjregee/deepthread/internal/config"
	"github.com/zjregee/deepthread/internal/models"
)

type rootOptions struct {
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
}

// Execute runs the deepthread CLI and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", describeError(err))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "deepthread",
		Short: "Plan-driven agent threads with durable notes and context",
		Long: `deepthread runs a coordinating agent over persistent conversation threads.

Each thread keeps its own message log, plan, notes and context values in a
local database, so work can be resumed across sessions. The coordinator can
hand self-contained subtasks to specialist sub-agents.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := zapcore.InfoLevel
			if opts.verbose {
				level = zapcore.DebugLevel
			}

			path := opts.configPath
			if path == "" {
				path = config.DefaultPath()
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			opts.cfg = cfg

			if !opts.verbose {
				if err := level.Set(cfg.Logging.Level); err != nil {
					return fmt.Errorf("invalid log level: %w", err)
				}
			}

			zcfg := zap.NewProductionConfig()
			if cfg.Logging.Development {
				zcfg = zap.NewDevelopmentConfig()
			}
			zcfg.Level = zap.NewAtomicLevelAt(level)
			zcfg.OutputPaths = []string{"stderr"}
			logger, err := zcfg.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			opts.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default ~/.deepthread/config.yaml)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(
		newThreadsCmd(opts),
		newChatCmd(opts),
		newPlanCmd(opts),
		newNotesCmd(opts),
		newContextCmd(opts),
		newAgentsCmd(opts),
		newModelsCmd(opts),
	)
	return cmd
}

// open builds an App for one command. Only chat needs the model.
func (o *rootOptions) open(ctx context.Context, withModel bool) (*App, error) {
	if o.cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	return newApp(ctx, o.cfg, o.logger, withModel)
}

// withApp opens the app, runs fn and closes the app again.
func (o *rootOptions) withApp(cmd *cobra.Command, withModel bool, fn func(a *App) error) (err error) {
	a, err := o.open(cmd.Context(), withModel)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(a)
}

func describeError(err error) string {
	switch {
	case errors.Is(err, models.ErrThreadBusy):
		return fmt.Sprintf("%v (another turn is still running on this thread)", err)
	case errors.Is(err, models.ErrNotFound):
		return fmt.Sprintf("%v (use `deepthread threads list` to see existing threads)", err)
	default:
		return err.Error()
	}
}
