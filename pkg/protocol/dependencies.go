package protocol

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/quantbench/quantflow/pkg/models"
	"github.com/quantbench/quantflow/pkg/storage"
)

// SourceResolver opens read-only handles to named data sources. The
// reserved user-data source name resolves to the calling user's sink
// database.
type SourceResolver interface {
	OpenSource(ctx context.Context, name, user string) (*storage.Store, error)
}

// SinkDatabase opens a user's writable sink database and names it.
type SinkDatabase interface {
	OpenSink(ctx context.Context, user string) (*storage.Store, error)
	SinkDBName(user string) string
	SinkDBPath(user string) string
}

// TableMetaStore records sink table schema versions.
type TableMetaStore interface {
	// LatestUserTableMeta returns the greatest-version meta row, or nil
	// when the table has none.
	LatestUserTableMeta(ctx context.Context, user, dbName, tableName string) (*models.UserTableMeta, error)

	// SaveUserTableMeta inserts a new schema version (max version + 1).
	SaveUserTableMeta(ctx context.Context, meta *models.UserTableMeta) error
}

// Dependencies carries the collaborators node factories may need. User is
// the owner of the flow being executed.
type Dependencies struct {
	Logger     *slog.Logger
	User       string
	Sources    SourceResolver
	Sink       SinkDatabase
	TableMeta  TableMetaStore
	HTTPClient *http.Client
}
