// Package datasource resolves named data sources from a YAML catalog and
// owns the per-user sink databases.
package datasource

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/quantbench/quantflow/pkg/storage"
)

// UserDataSource is the reserved source name resolving to the calling
// user's own sink database. UserDataAlias is accepted interchangeably.
const (
	UserDataSource = "用户自定义数据"
	UserDataAlias  = "user_data"
)

// sourceEntry is one named source in the catalog file.
type sourceEntry struct {
	Name   string `yaml:"name"`
	Engine string `yaml:"engine"` // duckdb or sqlite
	Path   string `yaml:"path"`
}

type catalogFile struct {
	Sources []sourceEntry `yaml:"sources"`
}

// Catalog resolves data source names to embedded databases. Per-user sink
// databases live at <dataDir>/<username>_data.db on the analytical engine.
type Catalog struct {
	logger  *slog.Logger
	dataDir string
	sources map[string]sourceEntry
}

// Load reads the catalog file. A missing file yields a catalog with only
// the reserved user-data source.
func Load(logger *slog.Logger, path, dataDir string) (*Catalog, error) {
	catalog := &Catalog{
		logger:  logger,
		dataDir: dataDir,
		sources: make(map[string]sourceEntry),
	}

	if path == "" {
		return catalog, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("data source catalog file not found", "path", path)

			return catalog, nil
		}

		return nil, fmt.Errorf("failed to read data source catalog %s: %w", path, err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse data source catalog: %w", err)
	}

	for _, entry := range file.Sources {
		if entry.Engine == "" {
			entry.Engine = string(storage.EngineDuckDB)
		}

		catalog.sources[entry.Name] = entry
	}

	logger.Info("loaded data source catalog", "path", path, "sources", len(catalog.sources))

	return catalog, nil
}

// OpenSource opens a read-only handle to a named data source. The reserved
// user-data name (and its alias) resolves to the user's sink database.
func (c *Catalog) OpenSource(ctx context.Context, name, user string) (*storage.Store, error) {
	if name == UserDataSource || name == UserDataAlias {
		return c.OpenSink(ctx, user)
	}

	entry, ok := c.sources[name]
	if !ok {
		return nil, fmt.Errorf("unknown data source: %s", name)
	}

	return storage.Open(ctx, c.logger, storage.Engine(entry.Engine), entry.Path)
}

// OpenSink opens the user's writable sink database, creating it on first
// use.
func (c *Catalog) OpenSink(ctx context.Context, user string) (*storage.Store, error) {
	return storage.Open(ctx, c.logger, storage.EngineDuckDB, c.SinkDBPath(user))
}

// SinkDBName returns the logical name of the user's sink database.
func (c *Catalog) SinkDBName(user string) string {
	return user + "_data"
}

// SinkDBPath returns the filesystem path of the user's sink database.
func (c *Catalog) SinkDBPath(user string) string {
	return filepath.Join(c.dataDir, user+"_data.db")
}
