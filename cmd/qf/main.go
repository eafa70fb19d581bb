// Package main provides the qf command-line tool for one-off flow runs.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	cli "github.com/urfave/cli/v3"

	"github.com/quantbench/quantflow/pkg/cmd"
	"github.com/quantbench/quantflow/pkg/log"
	"github.com/quantbench/quantflow/pkg/protocol"
	"github.com/quantbench/quantflow/pkg/services"
)

func main() {
	_ = godotenv.Load()

	logger := log.WithModule("qf")

	command := &cli.Command{
		Name:                  "qf",
		Usage:                 "QuantFlow command-line tool",
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
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "warn",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "Run a flow once and print its progress",
				ArgsUsage: "<flow-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "username",
						Aliases: []string{"u"},
						Usage:   "Run the flow as this user (defaults to the flow owner)",
					},
					&cli.BoolFlag{
						Name:  "outputs",
						Usage: "Print node outputs as JSON after the run",
					},
				},
				Action: runFlow,
			},
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		logger.Error("qf failed", "error", err)
		os.Exit(1)
	}
}

func runFlow(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	flowID := command.Args().First()
	if flowID == "" {
		return cli.Exit("flow id is required", 2)
	}

	logger := log.WithModule("qf")

	cmd.NewTracer(ctx, logger, "qf")

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

	progress := func(message string, severity protocol.Severity) {
		fmt.Printf("[%s] %s\n", severity, message)
	}

	outputs, err := flowService.RunFlow(ctx, flowID, command.String("username"), progress)
	if err != nil {
		return cli.Exit(fmt.Sprintf("flow run failed: %v", err), 1)
	}

	if command.Bool("outputs") {
		encoded, err := json.MarshalIndent(outputs, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode outputs: %w", err)
		}

		fmt.Println(string(encoded))
	}

	return nil
}
