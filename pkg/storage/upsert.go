package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/quantbench/quantflow/pkg/models"
)

// DefaultBatchSize is used when Upsert is called with batchSize <= 0.
const DefaultBatchSize = 500

// Upsert inserts the frame's rows into the named table in batches. On a
// primary key conflict every non-primary, non-create_time column is
// overwritten with the incoming value. The target table must declare a
// primary key. progress, when non-nil, receives a monotone percentage at
// least once per batch. List and map values are JSON-encoded.
func (s *Store) Upsert(ctx context.Context, name string, frame *models.Frame, batchSize int, progress func(percent int)) error {
	if frame == nil || frame.Len() == 0 {
		return nil
	}

	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	pks, err := s.PrimaryKeys(ctx, name)
	if err != nil {
		return err
	}

	if len(pks) == 0 {
		return &SchemaError{Reason: ReasonMissingPrimaryKey, Table: name}
	}

	stmt := buildUpsertStatement(name, frame.Columns, pks)

	total := frame.Len()
	done := 0

	for start := 0; start < total; start += batchSize {
		end := min(start+batchSize, total)

		if err := s.upsertBatch(ctx, stmt, frame.Rows[start:end]); err != nil {
			return err
		}

		done = end
		if progress != nil {
			progress(done * 100 / total)
		}
	}

	s.logger.Info("upserted rows", "table", name, "rows", done)

	return nil
}

// upsertBatch runs one batch inside a single transaction using a prepared
// statement.
func (s *Store) upsertBatch(ctx context.Context, stmt string, rows [][]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	prepared, err := tx.PrepareContext(ctx, stmt)
	if err != nil {
		_ = tx.Rollback()

		return fmt.Errorf("failed to prepare upsert: %w", err)
	}

	for _, row := range rows {
		args := make([]any, len(row))
		for i, v := range row {
			args[i] = encodeValue(v)
		}

		if _, err := prepared.ExecContext(ctx, args...); err != nil {
			_ = prepared.Close()
			_ = tx.Rollback()

			return fmt.Errorf("upsert failed: %w", err)
		}
	}

	if err := prepared.Close(); err != nil {
		_ = tx.Rollback()

		return fmt.Errorf("failed to close statement: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}

	return nil
}

// buildUpsertStatement emits INSERT ... ON CONFLICT (pks) DO UPDATE SET,
// excluding primary key and create_time columns from the update list. Both
// embedded engines share this dialect.
func buildUpsertStatement(name string, columns, pks []string) string {
	pkSet := make(map[string]struct{}, len(pks))
	for _, pk := range pks {
		pkSet[strings.ToLower(pk)] = struct{}{}
	}

	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	updates := make([]string, 0, len(columns))

	for i, col := range columns {
		quoted[i] = quoteIdent(col)
		placeholders[i] = "?"

		if _, isPK := pkSet[strings.ToLower(col)]; isPK || strings.EqualFold(col, ColCreateTime) {
			continue
		}

		updates = append(updates, quoteIdent(col)+" = excluded."+quoteIdent(col))
	}

	conflictCols := make([]string, len(pks))
	for i, pk := range pks {
		conflictCols[i] = quoteIdent(pk)
	}

	action := "NOTHING"
	if len(updates) > 0 {
		action = "UPDATE SET " + strings.Join(updates, ", ")
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO %s",
		quoteIdent(name),
		strings.Join(quoted, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(conflictCols, ", "),
		action,
	)
}

// encodeValue JSON-encodes list and map values so they can be stored in
// VARCHAR columns; scalars pass through.
func encodeValue(v any) any {
	switch v.(type) {
	case []any, map[string]any, []string, []map[string]any:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}

		return string(encoded)
	default:
		return v
	}
}
