package models

import (
	"errors"
	"fmt"
)

// Frame is the tabular value exchanged between nodes: an ordered column list
// and row-major data. It is the only structured shape the SQL and sink nodes
// accept; script nodes may emit plain records which are coerced via FrameOf.
type Frame struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// ErrNotTabular is returned when a node input cannot be interpreted as
// tabular data.
var ErrNotTabular = errors.New("value is not tabular")

// NewFrame creates an empty frame with the given column order.
func NewFrame(columns ...string) *Frame {
	return &Frame{Columns: columns, Rows: make([][]any, 0)}
}

// AppendRow appends one row. The row length must match the column count.
func (f *Frame) AppendRow(row []any) error {
	if len(row) != len(f.Columns) {
		return fmt.Errorf("row has %d values, frame has %d columns", len(row), len(f.Columns))
	}

	f.Rows = append(f.Rows, row)

	return nil
}

// AppendRecord appends one record, filling absent columns with nil and
// adding columns on first sight.
func (f *Frame) AppendRecord(rec map[string]any) {
	idx := f.columnIndex()

	for k := range rec {
		if _, ok := idx[k]; !ok {
			idx[k] = len(f.Columns)
			f.Columns = append(f.Columns, k)

			for i := range f.Rows {
				f.Rows[i] = append(f.Rows[i], nil)
			}
		}
	}

	row := make([]any, len(f.Columns))
	for k, v := range rec {
		row[idx[k]] = v
	}

	f.Rows = append(f.Rows, row)
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	return len(f.Rows)
}

// Record returns row i as a column-keyed map.
func (f *Frame) Record(i int) map[string]any {
	rec := make(map[string]any, len(f.Columns))
	for j, c := range f.Columns {
		rec[c] = f.Rows[i][j]
	}

	return rec
}

// Records returns every row as a column-keyed map, in row order.
func (f *Frame) Records() []map[string]any {
	out := make([]map[string]any, 0, len(f.Rows))
	for i := range f.Rows {
		out = append(out, f.Record(i))
	}

	return out
}

// Column returns the index of the named column, or -1.
func (f *Frame) Column(name string) int {
	for i, c := range f.Columns {
		if c == name {
			return i
		}
	}

	return -1
}

func (f *Frame) columnIndex() map[string]int {
	idx := make(map[string]int, len(f.Columns))
	for i, c := range f.Columns {
		idx[c] = i
	}

	return idx
}

// FrameFromRecords builds a frame from records, preserving first-seen column
// order.
func FrameFromRecords(recs []map[string]any) *Frame {
	f := NewFrame()
	for _, rec := range recs {
		f.AppendRecord(rec)
	}

	return f
}

// FrameOf coerces a node output into a frame. Accepted shapes: *Frame,
// Frame, []map[string]any, []any whose elements are maps, and a single
// map[string]any (one-row frame).
func FrameOf(v any) (*Frame, error) {
	switch t := v.(type) {
	case *Frame:
		return t, nil
	case Frame:
		return &t, nil
	case []map[string]any:
		return FrameFromRecords(t), nil
	case map[string]any:
		return FrameFromRecords([]map[string]any{t}), nil
	case []any:
		recs := make([]map[string]any, 0, len(t))

		for _, e := range t {
			rec, ok := e.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: list element is %T", ErrNotTabular, e)
			}

			recs = append(recs, rec)
		}

		return FrameFromRecords(recs), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrNotTabular, v)
	}
}
