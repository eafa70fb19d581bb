package storage

import (
	"errors"
	"fmt"
	"strings"
)

// FieldConfig describes one column of a table to create or evolve.
type FieldConfig struct {
	FieldName    string `json:"field_name"     validate:"required"`
	FieldType    string `json:"field_type"     validate:"required"`
	IsPrimaryKey bool   `json:"is_primary_key"`
	IsNullable   bool   `json:"is_nullable"`
}

// ColumnMeta describes one live column of a table.
type ColumnMeta struct {
	Name       string `json:"name"`
	DataType   string `json:"data_type"`
	PrimaryKey bool   `json:"primary_key"`
}

// SchemaReason classifies schema failures.
type SchemaReason string

const (
	ReasonReservedKeyword   SchemaReason = "reserved_keyword"
	ReasonUnsupportedType   SchemaReason = "unsupported_type"
	ReasonColumnExists      SchemaReason = "column_exists"
	ReasonMissingPrimaryKey SchemaReason = "missing_primary_key"
)

// SchemaError reports an invalid table or column definition.
type SchemaError struct {
	Reason SchemaReason
	Table  string
	Field  string
}

func (e *SchemaError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("schema error on %s.%s: %s", e.Table, e.Field, e.Reason)
	}

	return fmt.Sprintf("schema error on %s: %s", e.Table, e.Reason)
}

// IsSchemaError reports whether err is (or wraps) a SchemaError.
func IsSchemaError(err error) bool {
	var se *SchemaError

	return errors.As(err, &se)
}

// columnTypes maps the accepted field types to SQL column types. Both
// embedded engines accept every type name on the right-hand side.
var columnTypes = map[string]string{
	"string":   "VARCHAR",
	"float":    "FLOAT",
	"int":      "INTEGER",
	"bool":     "BOOLEAN",
	"datetime": "DATETIME",
}

// reservedKeywords are column names rejected before any DDL or DML is
// issued: the SQL standard set plus analytical-engine specifics.
var reservedKeywords = map[string]struct{}{}

func init() {
	for _, kw := range strings.Fields(`add all alter and any as asc between by
		case cast check column commit copy create cross current default delete
		desc distinct drop else end escape except exists extract false filter
		following foreign from full group having if in inner insert intersect
		into is join left like limit natural not null offset on or order outer
		over primary references right rollback select set table then true
		union unique update using values when where window with`) {
		reservedKeywords[kw] = struct{}{}
	}
}

// IsReservedKeyword reports whether name may not be used as a column name.
func IsReservedKeyword(name string) bool {
	_, ok := reservedKeywords[strings.ToLower(name)]

	return ok
}

// validateField checks a single field definition against the reserved set
// and the supported type map.
func validateField(table string, field FieldConfig) error {
	if IsReservedKeyword(field.FieldName) {
		return &SchemaError{Reason: ReasonReservedKeyword, Table: table, Field: field.FieldName}
	}

	if _, ok := columnTypes[field.FieldType]; !ok {
		return &SchemaError{Reason: ReasonUnsupportedType, Table: table, Field: field.FieldName}
	}

	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
