// Package main provides the QuantFlow API server.
package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	cli "github.com/urfave/cli/v3"

	"github.com/quantbench/quantflow/pkg/cmd"
	"github.com/quantbench/quantflow/pkg/log"
	"github.com/quantbench/quantflow/pkg/services"
	"github.com/quantbench/quantflow/pkg/web"
)

const defaultPort = 9080

func main() {
	_ = godotenv.Load()

	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "qf-api",
		Usage:                 "Create, edit, run and schedule dataflows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
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
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing QuantFlow API")

			cmd.NewTracer(ctx, logger, "qf-api")

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
			taskService := services.NewTaskService(logger, persistence)

			api := web.NewAPI(logger, flowService, taskService, registry)

			return api.Start(command.Int("port"))
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		logger.Error("API server failed", "error", err)
		os.Exit(1)
	}
}
