// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/quantbench/quantflow/pkg/datasource"
	"github.com/quantbench/quantflow/pkg/otelhelper"
	"github.com/quantbench/quantflow/pkg/persistence"
	"github.com/quantbench/quantflow/pkg/persistence/sqlitedb"
	"github.com/quantbench/quantflow/pkg/registry"
)

// NewTracer installs the process-wide OTLP tracer provider. Setup failure
// is logged, not fatal; the process runs without exported spans.
func NewTracer(ctx context.Context, logger *slog.Logger, serviceName string) {
	_, err := otelhelper.NewTracer(ctx, serviceName)
	if err != nil {
		logger.WarnContext(ctx, "Failed to initialize tracer, spans will not be exported", "error", err)
	}
}

// NewRegistry builds the node registry with all built-in node kinds.
func NewRegistry(logger *slog.Logger) *registry.Registry {
	reg := registry.NewRegistry(logger)
	reg.RegisterDefaultNodes()

	return reg
}

// NewPersistence opens the metadata database and runs migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, metaDBPath string) persistence.Persistence {
	p, err := sqlitedb.NewPersistence(ctx, logger, metaDBPath)
	if err != nil {
		panic(fmt.Errorf("failed to initialize persistence: %w", err))
	}

	return p
}

// NewCatalog loads the data source catalog.
func NewCatalog(logger *slog.Logger, sourcesFile, dataDir string) *datasource.Catalog {
	catalog, err := datasource.Load(logger, sourcesFile, dataDir)
	if err != nil {
		panic(fmt.Errorf("failed to load data source catalog: %w", err))
	}

	return catalog
}
