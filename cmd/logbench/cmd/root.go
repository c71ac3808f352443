package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"logbench/pkg/config"
	"logbench/pkg/exp"
	"logbench/pkg/loadtest"
)

// App holds what every sub-command needs once flags are parsed.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// RootCmd is the root Cobra command that gets called from the main func.
// All other sub-commands should be registered here.
func RootCmd() *cobra.Command {
	app := &App{}

	cmd := &cobra.Command{
		Use:   "logbench",
		Short: "logbench load tests a log ingestion service.",
		Long: `logbench load tests a log ingestion service.

It sends synthetic device logs in paced iterations, reports per-iteration
throughput and latency, corrects the aggregate rates for the pauses between
iterations and exports the service's own metrics for the test window.

Settings are read from a YAML file (--config, default ./configs/logbench.yaml)
and LOGBENCH_ environment variables, e.g. LOGBENCH_LOADTEST_CONCURRENCY=50.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initApp(cmd, app)
		},
	}

	cmd.PersistentFlags().String("config", "", "Config file (default ./configs/logbench.yaml if present)")
	cmd.PersistentFlags().String("log-level", "", "Override log.level (debug, info, warn, error)")

	cmd.AddCommand(
		runCmd(app),
		exportCmd(app),
		reportsCmd(app),
	)
	return cmd
}

func initApp(cmd *cobra.Command, app *App) error {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	level, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return err
	}
	if level != "" {
		if cfg.Log.Level, err = zerolog.ParseLevel(level); err != nil {
			return err
		}
	}

	var logger zerolog.Logger
	if cfg.Log.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	app.Config = cfg
	app.Logger = logger.Level(cfg.Log.Level).With().Timestamp().Logger()
	return nil
}

func (app *App) storage() (*exp.FileStorage[*loadtest.TestReport], error) {
	return exp.NewFileStorage[*loadtest.TestReport](app.Config.Server.StoragePath)
}

// signalContext is cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
