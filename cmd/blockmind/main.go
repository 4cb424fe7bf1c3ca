// blockmind is the task execution spine of an autonomous Minecraft agent:
// it finalizes tasks, reconciles them with their goals, and dispatches one
// guarded step per tick to the bot endpoint.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"blockmind/internal/bot"
	"blockmind/internal/config"
	"blockmind/internal/executor"
	"blockmind/internal/gateway"
	"blockmind/internal/integration"
	"blockmind/internal/logging"
	"blockmind/internal/solver"
	"blockmind/internal/sterling"
	"blockmind/internal/task"
)

const version = "0.3.0"

var (
	verbose    bool
	configPath string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "blockmind",
	Short: "blockmind - autonomous Minecraft agent task executor",
	Long: `blockmind runs the task execution spine of an autonomous Minecraft agent.

Tasks arrive from goals, planners, and Sterling IR envelopes; blockmind
finalizes them, resolves each step to a bot action, and dispatches at most one
guarded step per tick. Execution defaults to shadow mode: guards evaluate and
audits emit, but nothing reaches the bot until live mode is explicitly
confirmed with EXECUTOR_LIVE_CONFIRM=YES.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the autonomous executor loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		if err := logging.Initialize(cfg.DataDir); err != nil {
			logger.Warn("file logging unavailable", zap.Error(err))
		}
		defer logging.CloseAll()
		if err := logging.InitAudit(); err != nil {
			logger.Warn("audit log unavailable", zap.Error(err))
		}
		defer logging.CloseAudit()

		mode, downgraded := cfg.ResolveMode()
		if downgraded {
			logger.Warn("live mode requested without EXECUTOR_LIVE_CONFIRM=YES; running in shadow")
		}
		logger.Info("starting blockmind",
			zap.String("version", version),
			zap.String("mode", mode),
			zap.Bool("executorEnabled", cfg.Executor.Enabled),
		)

		store := task.NewStore()
		store.SetStrictFinalize(cfg.Planning.StrictFinalize)

		botClient := bot.NewClient(cfg.Gateway.BotEndpoint, 0)
		botClient.SetBreakerWindow(time.Duration(cfg.Executor.BreakerOpenMs) * time.Millisecond)
		sterlingClient := sterling.NewClient(cfg.Sterling.Endpoint, 0)

		integ := integration.New(integration.Options{
			Store:    store,
			Config:   cfg,
			Sterling: sterlingClient,
			Solvers:  solver.NewRegistry(),
		})
		defer integ.Close()

		gw := gateway.New(cfg, botClient)
		sup := executor.New(cfg, integ, gw, botClient, botClient)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		g, ctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			err := sup.Start(ctx)
			if err == context.Canceled {
				return nil
			}
			return err
		})

		if configPath != "" {
			watcher, err := config.NewWatcher(configPath, func(next *config.Config) {
				*cfg = *next
				logger.Info("configuration reloaded",
					zap.Bool("executorEnabled", cfg.Executor.Enabled),
					zap.String("mode", cfg.Executor.Mode),
				)
			})
			if err != nil {
				logger.Warn("config hot-reload unavailable", zap.Error(err))
			} else {
				if err := watcher.Start(ctx); err != nil {
					logger.Warn("config hot-reload unavailable", zap.Error(err))
				} else {
					defer watcher.Stop()
				}
			}
		}

		if err := g.Wait(); err != nil && err != context.Canceled {
			return err
		}
		logger.Info("blockmind stopped")
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the blockmind version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("blockmind %s\n", version)
	},
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to yaml config file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
