package sqlitedb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantbench/quantflow/pkg/models"
)

// UserTableRepository handles versioned user sink table schema records.
// Rows are insert-only so schema history survives.
type UserTableRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewUserTableRepository creates a new user table meta repository.
func NewUserTableRepository(db *sql.DB, logger *slog.Logger) *UserTableRepository {
	return &UserTableRepository{db: db, logger: logger}
}

// Save inserts a new schema version at max version + 1.
func (r *UserTableRepository) Save(ctx context.Context, meta *models.UserTableMeta) error {
	now := time.Now().Unix()

	columnsInfo, err := json.Marshal(meta.ColumnsInfo)
	if err != nil {
		return fmt.Errorf("failed to marshal columns info: %w", err)
	}

	transaction, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	var maxVersion int

	err = transaction.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0)
		FROM user_table_meta
		WHERE username = ? AND db_name = ? AND table_name = ?
	`, meta.User, meta.DBName, meta.TableName).Scan(&maxVersion)
	if err != nil {
		_ = transaction.Rollback()

		return fmt.Errorf("failed to query max schema version: %w", err)
	}

	meta.Version = maxVersion + 1
	meta.CreateTime = now
	meta.UpdateTime = now

	_, err = transaction.ExecContext(ctx, `
		INSERT INTO user_table_meta (username, db_name, table_name, db_path, version, columns_info, create_time, update_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, meta.User, meta.DBName, meta.TableName, meta.DBPath, meta.Version, string(columnsInfo), meta.CreateTime, meta.UpdateTime)
	if err != nil {
		_ = transaction.Rollback()

		return fmt.Errorf("failed to insert table schema version: %w", err)
	}

	err = transaction.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit schema version: %w", err)
	}

	return nil
}

const userTableColumns = `
	username
  , db_name
  , table_name
  , db_path
  , version
  , columns_info
  , create_time
  , update_time
`

// Latest returns the greatest schema version, or nil when the table has no
// recorded schema.
func (r *UserTableRepository) Latest(ctx context.Context, user, dbName, tableName string) (*models.UserTableMeta, error) {
	query := `
		SELECT ` + userTableColumns + `
		FROM user_table_meta
		WHERE username = ? AND db_name = ? AND table_name = ?
		ORDER BY version DESC
		LIMIT 1
	`

	meta, err := r.scanMeta(r.db.QueryRowContext(ctx, query, user, dbName, tableName))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, err
	}

	return meta, nil
}

// History returns all recorded schema versions, oldest first.
func (r *UserTableRepository) History(ctx context.Context, user, dbName, tableName string) ([]*models.UserTableMeta, error) {
	query := `
		SELECT ` + userTableColumns + `
		FROM user_table_meta
		WHERE username = ? AND db_name = ? AND table_name = ?
		ORDER BY version ASC
	`

	rows, err := r.db.QueryContext(ctx, query, user, dbName, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to query schema history: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	history := make([]*models.UserTableMeta, 0)

	for rows.Next() {
		meta, err := r.scanMeta(rows)
		if err != nil {
			return nil, err
		}

		history = append(history, meta)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating schema history: %w", err)
	}

	return history, nil
}

func (r *UserTableRepository) scanMeta(row rowScanner) (*models.UserTableMeta, error) {
	var (
		meta        models.UserTableMeta
		columnsInfo string
	)

	err := row.Scan(&meta.User, &meta.DBName, &meta.TableName, &meta.DBPath,
		&meta.Version, &columnsInfo, &meta.CreateTime, &meta.UpdateTime)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("failed to scan table schema: %w", err)
	}

	if err := json.Unmarshal([]byte(columnsInfo), &meta.ColumnsInfo); err != nil {
		return nil, fmt.Errorf("failed to unmarshal columns info: %w", err)
	}

	return &meta, nil
}
