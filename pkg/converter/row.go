package converter

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/ajitpratap0/xmppconv/pkg/errors"
)

// Row is one result row keyed by lower-case column name.
type Row struct {
	values map[string]any
}

// NewRow builds a row from column values.
func NewRow(values map[string]any) Row {
	r := Row{values: make(map[string]any, len(values))}
	for col, v := range values {
		r.values[strings.ToLower(col)] = v
	}
	return r
}

// ScanRow reads the current row of rows. cols are the result columns, as
// returned by rows.Columns.
func ScanRow(rows *sql.Rows, cols []string) (Row, error) {
	raw := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return Row{}, errors.Wrap(err, errors.ErrorTypeData, "failed to scan row")
	}

	r := Row{values: make(map[string]any, len(cols))}
	for i, col := range cols {
		v := raw[i]
		// drivers may reuse the buffer on the next Scan
		if b, ok := v.([]byte); ok {
			v = append([]byte(nil), b...)
		}
		r.values[strings.ToLower(col)] = v
	}
	return r, nil
}

// Value returns the raw value of col. Missing columns and SQL NULL both
// report false.
func (r Row) Value(col string) (any, bool) {
	v, ok := r.values[strings.ToLower(col)]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// String returns col as text. Missing columns and SQL NULL report false.
func (r Row) String(col string) (string, bool) {
	v, ok := r.Value(col)
	if !ok {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	default:
		return fmt.Sprint(s), true
	}
}

// Columns returns the number of columns in the row.
func (r Row) Columns() int {
	return len(r.values)
}
