// Package storage wraps the embedded analytical and relational engines
// behind one Store type: table introspection, dynamic table creation,
// schema evolution and batched upsert.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb" // analytical engine driver
	_ "modernc.org/sqlite"              // relational engine driver

	"github.com/quantbench/quantflow/pkg/models"
)

// Engine selects the embedded database engine backing a Store.
type Engine string

const (
	EngineDuckDB Engine = "duckdb" // embedded analytical
	EngineSQLite Engine = "sqlite" // embedded relational
)

// Audit columns appended to every created table (epoch milliseconds).
const (
	ColCreateTime = "create_time"
	ColUpdateTime = "update_time"
)

// Store is one open embedded database.
type Store struct {
	db     *sql.DB
	engine Engine
	path   string
	logger *slog.Logger
}

// Open opens (creating if needed) an embedded database at path. An empty
// path opens an in-memory database.
func Open(ctx context.Context, logger *slog.Logger, engine Engine, path string) (*Store, error) {
	dsn := path

	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	if engine == EngineSQLite {
		if path == "" {
			dsn = ":memory:"
		} else {
			dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
		}
	}

	database, err := sql.Open(string(engine), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", engine, err)
	}

	// temporary tables registered by RegisterFrame are per-connection
	database.SetMaxOpenConns(1)

	if err := database.PingContext(ctx); err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to ping %s database: %w", engine, err)
	}

	return &Store{db: database, engine: engine, path: path, logger: logger}, nil
}

// Engine returns the engine kind backing this store.
func (s *Store) Engine() Engine {
	return s.engine
}

// Path returns the filesystem path of the database ("" for in-memory).
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return fmt.Errorf("failed to close %s database: %w", s.engine, err)
		}
	}

	return nil
}

// TableExists reports whether a table with the given name exists.
func (s *Store) TableExists(ctx context.Context, name string) (bool, error) {
	var query string

	switch s.engine {
	case EngineSQLite:
		query = `SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`
	default:
		query = `SELECT count(*) FROM information_schema.tables WHERE table_name = ?`
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, name).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", name, err)
	}

	return count > 0, nil
}

// Columns returns the live columns of a table, in definition order.
func (s *Store) Columns(ctx context.Context, name string) ([]ColumnMeta, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(name)))
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", name, err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.Error("failed to close rows", "error", err)
		}
	}()

	columns := make([]ColumnMeta, 0)

	for rows.Next() {
		var (
			cid      any
			colName  string
			colType  string
			notNull  any
			dfltExpr any
			pk       any
		)

		if err := rows.Scan(&cid, &colName, &colType, &notNull, &dfltExpr, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column of %s: %w", name, err)
		}

		columns = append(columns, ColumnMeta{
			Name:       colName,
			DataType:   colType,
			PrimaryKey: truthy(pk),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating columns of %s: %w", name, err)
	}

	return columns, nil
}

// PrimaryKeys returns the primary key column names of a table.
func (s *Store) PrimaryKeys(ctx context.Context, name string) ([]string, error) {
	columns, err := s.Columns(ctx, name)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0)

	for _, col := range columns {
		if col.PrimaryKey {
			keys = append(keys, col.Name)
		}
	}

	return keys, nil
}

// CreateTable creates a table from an ordered field list. When addAuditCols
// is set, create_time and update_time (epoch ms) are appended if absent. A
// composite primary key is emitted when more than one field is flagged
// primary.
func (s *Store) CreateTable(ctx context.Context, name string, fields []FieldConfig, addAuditCols bool) error {
	if len(fields) == 0 {
		return &SchemaError{Reason: ReasonUnsupportedType, Table: name}
	}

	fields = withAuditCols(fields, addAuditCols)

	var (
		defs []string
		pks  []string
	)

	for _, field := range fields {
		if err := validateField(name, field); err != nil {
			return err
		}

		colType := columnTypes[field.FieldType]
		if field.FieldName == ColCreateTime || field.FieldName == ColUpdateTime {
			// audit columns hold epoch milliseconds
			colType = "BIGINT"
		}

		def := quoteIdent(field.FieldName) + " " + colType
		if !field.IsNullable && !field.IsPrimaryKey {
			// primary key columns are implicitly not null
			def += " NOT NULL"
		}

		defs = append(defs, def)

		if field.IsPrimaryKey {
			pks = append(pks, quoteIdent(field.FieldName))
		}
	}

	if len(pks) > 0 {
		defs = append(defs, "PRIMARY KEY ("+strings.Join(pks, ", ")+")")
	}

	stmt := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(name), strings.Join(defs, ", "))

	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create table %s: %w", name, err)
	}

	s.logger.Info("created table", "table", name, "columns", len(fields))

	return nil
}

// AddColumns evolves a table by adding new columns. It fails with a
// SchemaError when any new field already exists or uses a reserved keyword.
func (s *Store) AddColumns(ctx context.Context, name string, newFields []FieldConfig) error {
	existing, err := s.Columns(ctx, name)
	if err != nil {
		return err
	}

	present := make(map[string]struct{}, len(existing))
	for _, col := range existing {
		present[strings.ToLower(col.Name)] = struct{}{}
	}

	for _, field := range newFields {
		if err := validateField(name, field); err != nil {
			return err
		}

		if _, ok := present[strings.ToLower(field.FieldName)]; ok {
			return &SchemaError{Reason: ReasonColumnExists, Table: name, Field: field.FieldName}
		}
	}

	for _, field := range newFields {
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
			quoteIdent(name), quoteIdent(field.FieldName), columnTypes[field.FieldType])

		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to add column %s to %s: %w", field.FieldName, name, err)
		}

		s.logger.Info("added column", "table", name, "column", field.FieldName)
	}

	return nil
}

// Query runs a single SELECT and returns the result as a frame.
func (s *Store) Query(ctx context.Context, query string) (*models.Frame, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.Error("failed to close rows", "error", err)
		}
	}()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read result columns: %w", err)
	}

	frame := models.NewFrame(cols...)

	for rows.Next() {
		values := make([]any, len(cols))
		scans := make([]any, len(cols))

		for i := range values {
			scans[i] = &values[i]
		}

		if err := rows.Scan(scans...); err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}

		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}

		if err := frame.AppendRow(values); err != nil {
			return nil, err
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating result rows: %w", err)
	}

	return frame, nil
}

// RegisterFrame materializes a frame as a temporary table under the given
// name, so subsequent queries can reference it.
func (s *Store) RegisterFrame(ctx context.Context, name string, frame *models.Frame) error {
	if len(frame.Columns) == 0 {
		return fmt.Errorf("cannot register empty frame as %s", name)
	}

	defs := make([]string, 0, len(frame.Columns))
	for i, col := range frame.Columns {
		defs = append(defs, quoteIdent(col)+" "+inferColumnType(frame, i))
	}

	stmt := fmt.Sprintf("CREATE TEMPORARY TABLE %s (%s)", quoteIdent(name), strings.Join(defs, ", "))
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to register %s: %w", name, err)
	}

	if frame.Len() == 0 {
		return nil
	}

	placeholders := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(frame.Columns)), ", ") + ")"
	insert := fmt.Sprintf("INSERT INTO %s VALUES %s", quoteIdent(name), placeholders)

	stmtPrepared, err := s.db.PrepareContext(ctx, insert)
	if err != nil {
		return fmt.Errorf("failed to prepare insert into %s: %w", name, err)
	}

	defer func() {
		if err := stmtPrepared.Close(); err != nil {
			s.logger.Error("failed to close statement", "error", err)
		}
	}()

	for _, row := range frame.Rows {
		args := make([]any, len(row))
		for i, v := range row {
			args[i] = encodeValue(v)
		}

		if _, err := stmtPrepared.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to insert into %s: %w", name, err)
		}
	}

	return nil
}

// inferColumnType picks a column type from the first non-nil value in a
// column, defaulting to VARCHAR.
func inferColumnType(frame *models.Frame, col int) string {
	for _, row := range frame.Rows {
		switch row[col].(type) {
		case nil:
			continue
		case int, int32, int64:
			return "BIGINT"
		case float32, float64:
			return "DOUBLE"
		case bool:
			return "BOOLEAN"
		case time.Time:
			return "TIMESTAMP"
		default:
			return "VARCHAR"
		}
	}

	return "VARCHAR"
}

// withAuditCols appends create_time/update_time fields if requested and
// absent.
func withAuditCols(fields []FieldConfig, add bool) []FieldConfig {
	if !add {
		return fields
	}

	present := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		present[strings.ToLower(f.FieldName)] = struct{}{}
	}

	out := append([]FieldConfig(nil), fields...)

	for _, audit := range []string{ColCreateTime, ColUpdateTime} {
		if _, ok := present[audit]; !ok {
			out = append(out, FieldConfig{FieldName: audit, FieldType: "int", IsNullable: true})
		}
	}

	return out
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int64:
		return t > 0
	case int:
		return t > 0
	case float64:
		return t > 0
	default:
		return false
	}
}
