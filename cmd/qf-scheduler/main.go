// Package main provides the QuantFlow task scheduler daemon.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	cli "github.com/urfave/cli/v3"

	"github.com/quantbench/quantflow/pkg/cmd"
	"github.com/quantbench/quantflow/pkg/log"
	"github.com/quantbench/quantflow/pkg/scheduler"
	"github.com/quantbench/quantflow/pkg/services"
)

const stopTimeout = 30 * time.Second

func main() {
	_ = godotenv.Load()

	logger := log.WithModule("scheduler")

	command := &cli.Command{
		Name:                  "qf-scheduler",
		Usage:                 "Run flows on their cron schedules",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "meta-db",
				Usage:   "Path to the metadata SQLite database",
				Value:   "./data/common.sqlite",
				Sources: cli.EnvVars("QF_META_DB"),
			},
			&cli.StringFlag{
				Name:    "data-dir",
				Usage:   "Directory holding per-user sink databases",
				Value:   "./data",
				Sources: cli.EnvVars("QF_DATA_DIR"),
			},
			&cli.StringFlag{
				Name:    "sources-file",
				Usage:   "Path to the YAML data source catalog",
				Sources: cli.EnvVars("QF_SOURCES_FILE"),
			},
			&cli.DurationFlag{
				Name:    "scan-interval",
				Usage:   "Period between task reconciliation scans",
				Value:   scheduler.DefaultScanInterval,
				Sources: cli.EnvVars("QF_SCAN_INTERVAL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing QuantFlow scheduler")

			cmd.NewTracer(ctx, logger, "qf-scheduler")

			registry := cmd.NewRegistry(logger)
			persistence := cmd.NewPersistence(ctx, logger, command.String("meta-db"))

			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			catalog := cmd.NewCatalog(logger, command.String("sources-file"), command.String("data-dir"))
			flowService := services.NewFlowService(logger, persistence, registry, catalog)

			sched := scheduler.New(logger, persistence, flowService, command.Duration("scan-interval"))

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()

			err := sched.Start(runCtx)
			if err != nil {
				return err
			}

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			logger.Info("Shutting down scheduler")
			cancel()

			stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
			defer stopCancel()

			return sched.Stop(stopCtx)
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		logger.Error("Scheduler failed", "error", err)
		os.Exit(1)
	}
}
