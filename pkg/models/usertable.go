package models

// ColumnInfo describes one column of a user sink table as recorded in the
// versioned meta schema.
type ColumnInfo struct {
	FieldName    string `json:"field_name"  validate:"required"`
	FieldType    string `json:"field_type"  validate:"required,oneof=string float int bool datetime"`
	Description  string `json:"description"`
	IsPrimaryKey bool   `json:"is_primary_key"`
}

// UserTableMeta is one version of a user sink table's schema. Versions are
// strictly increasing per (User, DBName, TableName); the current schema is
// the row with the greatest version. Rows are insert-only so schema history
// survives for audit and change detection.
type UserTableMeta struct {
	User        string       `json:"user"       validate:"required"`
	DBName      string       `json:"db_name"    validate:"required"`
	TableName   string       `json:"table_name" validate:"required"`
	DBPath      string       `json:"db_path"`
	Version     int          `json:"version"`
	ColumnsInfo []ColumnInfo `json:"columns_info"`
	CreateTime  int64        `json:"create_time"` // epoch seconds
	UpdateTime  int64        `json:"update_time"` // epoch seconds
}

// SameColumns reports whether the recorded columns equal the given list,
// order included.
func (m *UserTableMeta) SameColumns(cols []ColumnInfo) bool {
	if len(m.ColumnsInfo) != len(cols) {
		return false
	}

	for i, c := range m.ColumnsInfo {
		if c != cols[i] {
			return false
		}
	}

	return true
}
