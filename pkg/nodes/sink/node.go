// Package sink provides the DB sink node: writes tabular input into a
// user sink table, creating or evolving the schema as needed.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/quantbench/quantflow/pkg/models"
	"github.com/quantbench/quantflow/pkg/protocol"
	"github.com/quantbench/quantflow/pkg/storage"
)

// SinkField is one target column. InputFieldMapping names the upstream
// column renamed into FieldName; when empty the upstream column is assumed
// to share the target name.
type SinkField struct {
	FieldName         string `json:"field_name"`
	FieldType         string `json:"field_type"`
	Description       string `json:"description"`
	IsPrimaryKey      bool   `json:"is_primary_key"`
	IsNullable        bool   `json:"is_nullable"`
	InputFieldMapping string `json:"input_field_mapping"`
}

// SinkConfig is the node configuration.
type SinkConfig struct {
	IsCreateTable bool        `json:"is_create_table"`
	TableName     string      `json:"table_name"`
	FieldConfig   []SinkField `json:"field_config"`
}

// ErrTableMissing is returned when the target table does not exist and the
// node is not configured to create it.
var ErrTableMissing = errors.New("target table does not exist")

// SinkNode upserts every input frame into the configured table. Writes are
// at-least-once; the upsert keyed on the table's primary key makes replays
// idempotent.
type SinkNode struct {
	id        string
	cfg       SinkConfig
	user      string
	sink      protocol.SinkDatabase
	tableMeta protocol.TableMetaStore
	batchSize int
}

func NewSinkNode(id string, config map[string]any, deps protocol.Dependencies) (*SinkNode, error) {
	encoded, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("invalid sink config: %w", err)
	}

	var cfg SinkConfig
	if err := json.Unmarshal(encoded, &cfg); err != nil {
		return nil, fmt.Errorf("invalid sink config: %w", err)
	}

	if cfg.TableName == "" {
		return nil, errors.New("missing required field 'table_name'")
	}

	if len(cfg.FieldConfig) == 0 {
		return nil, errors.New("missing required field 'field_config'")
	}

	// reject reserved column names before touching the database
	for _, field := range cfg.FieldConfig {
		if storage.IsReservedKeyword(field.FieldName) {
			return nil, &storage.SchemaError{
				Reason: storage.ReasonReservedKeyword,
				Table:  cfg.TableName,
				Field:  field.FieldName,
			}
		}
	}

	if deps.Sink == nil || deps.TableMeta == nil {
		return nil, errors.New("sink node requires sink database and table meta store")
	}

	return &SinkNode{
		id:        id,
		cfg:       cfg,
		user:      deps.User,
		sink:      deps.Sink,
		tableMeta: deps.TableMeta,
		batchSize: storage.DefaultBatchSize,
	}, nil
}

func (n *SinkNode) ID() string {
	return n.id
}

func (n *SinkNode) Type() string {
	return "db_sink"
}

func (n *SinkNode) Execute(ctx context.Context, inputs map[string]any, progress protocol.ProgressFunc) (any, error) {
	store, err := n.sink.OpenSink(ctx, n.user)
	if err != nil {
		return nil, fmt.Errorf("failed to open sink database: %w", err)
	}

	defer func() { _ = store.Close() }()

	if err := n.ensureTable(ctx, store, progress); err != nil {
		return nil, err
	}

	if err := n.recordSchemaVersion(ctx, store); err != nil {
		return nil, err
	}

	total := 0

	labels := make([]string, 0, len(inputs))
	for label := range inputs {
		labels = append(labels, label)
	}

	sort.Strings(labels)

	for _, label := range labels {
		frame, err := models.FrameOf(inputs[label])
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", label, err)
		}

		projected, err := n.project(frame)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", label, err)
		}

		if projected.Len() == 0 {
			continue
		}

		err = store.Upsert(ctx, n.cfg.TableName, projected, n.batchSize, func(percent int) {
			progress(fmt.Sprintf("sink %s: %s %d%%", n.id, n.cfg.TableName, percent), protocol.SeverityInfo)
		})
		if err != nil {
			return nil, err
		}

		total += projected.Len()
	}

	progress(fmt.Sprintf("sink %s wrote %d rows to %s", n.id, total, n.cfg.TableName), protocol.SeveritySuccess)

	return map[string]any{"table": n.cfg.TableName, "rows": total}, nil
}

// ensureTable creates the target table on first use or evolves it by
// adding columns present in field_config but absent live.
func (n *SinkNode) ensureTable(ctx context.Context, store *storage.Store, progress protocol.ProgressFunc) error {
	exists, err := store.TableExists(ctx, n.cfg.TableName)
	if err != nil {
		return err
	}

	if !exists {
		if !n.cfg.IsCreateTable {
			return fmt.Errorf("%w: %s", ErrTableMissing, n.cfg.TableName)
		}

		progress(fmt.Sprintf("creating table %s", n.cfg.TableName), protocol.SeverityInfo)

		return store.CreateTable(ctx, n.cfg.TableName, n.storageFields(), true)
	}

	live, err := store.Columns(ctx, n.cfg.TableName)
	if err != nil {
		return err
	}

	liveNames := make(map[string]struct{}, len(live))
	for _, col := range live {
		liveNames[col.Name] = struct{}{}
	}

	var added []storage.FieldConfig

	for _, field := range n.storageFields() {
		if _, ok := liveNames[field.FieldName]; !ok {
			added = append(added, field)
		}
	}

	if len(added) == 0 {
		return nil
	}

	for _, field := range added {
		progress(fmt.Sprintf("adding column %s to %s", field.FieldName, n.cfg.TableName), protocol.SeverityInfo)
	}

	return store.AddColumns(ctx, n.cfg.TableName, added)
}

// recordSchemaVersion inserts a new meta-schema version when the incoming
// field_config differs from the latest recorded one.
func (n *SinkNode) recordSchemaVersion(ctx context.Context, store *storage.Store) error {
	cols := make([]models.ColumnInfo, 0, len(n.cfg.FieldConfig))
	for _, field := range n.cfg.FieldConfig {
		cols = append(cols, models.ColumnInfo{
			FieldName:    field.FieldName,
			FieldType:    field.FieldType,
			Description:  field.Description,
			IsPrimaryKey: field.IsPrimaryKey,
		})
	}

	dbName := n.sink.SinkDBName(n.user)

	latest, err := n.tableMeta.LatestUserTableMeta(ctx, n.user, dbName, n.cfg.TableName)
	if err != nil {
		return err
	}

	if latest != nil && latest.SameColumns(cols) {
		return nil
	}

	return n.tableMeta.SaveUserTableMeta(ctx, &models.UserTableMeta{
		User:        n.user,
		DBName:      dbName,
		TableName:   n.cfg.TableName,
		DBPath:      n.sink.SinkDBPath(n.user),
		ColumnsInfo: cols,
	})
}

// project renames upstream columns to their target names and injects audit
// values. Fields whose source column is absent from the frame are left to
// the database defaults, except primary keys which must be present.
func (n *SinkNode) project(frame *models.Frame) (*models.Frame, error) {
	type mapping struct {
		target string
		source int
	}

	var mappings []mapping

	for _, field := range n.cfg.FieldConfig {
		source := field.InputFieldMapping
		if source == "" {
			source = field.FieldName
		}

		idx := frame.Column(source)
		if idx < 0 {
			if field.IsPrimaryKey {
				return nil, fmt.Errorf("primary key column %s not found in input (looked for %s)", field.FieldName, source)
			}

			continue
		}

		mappings = append(mappings, mapping{target: field.FieldName, source: idx})
	}

	targets := make([]string, 0, len(mappings)+2)
	for _, m := range mappings {
		targets = append(targets, m.target)
	}

	// only mapped columns survive projection, so presence is judged on the
	// targets, not the raw input
	now := time.Now().UnixMilli()
	withCreate := !containsFold(targets, storage.ColCreateTime)
	withUpdate := !containsFold(targets, storage.ColUpdateTime)

	if withCreate {
		targets = append(targets, storage.ColCreateTime)
	}

	if withUpdate {
		targets = append(targets, storage.ColUpdateTime)
	}

	out := models.NewFrame(targets...)

	for _, row := range frame.Rows {
		values := make([]any, 0, len(targets))
		for _, m := range mappings {
			values = append(values, row[m.source])
		}

		if withCreate {
			values = append(values, now)
		}

		if withUpdate {
			values = append(values, now)
		}

		if err := out.AppendRow(values); err != nil {
			return nil, err
		}
	}

	return out, nil
}

func (n *SinkNode) storageFields() []storage.FieldConfig {
	fields := make([]storage.FieldConfig, 0, len(n.cfg.FieldConfig))
	for _, field := range n.cfg.FieldConfig {
		fields = append(fields, storage.FieldConfig{
			FieldName:    field.FieldName,
			FieldType:    field.FieldType,
			IsPrimaryKey: field.IsPrimaryKey,
			IsNullable:   field.IsNullable,
		})
	}

	return fields
}

func containsFold(list []string, s string) bool {
	for _, e := range list {
		if strings.EqualFold(e, s) {
			return true
		}
	}

	return false
}
