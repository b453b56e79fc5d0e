// Package tabular is the durable table abstraction behind history, daily
// stats and the workbook exports. A table is an ordered list of string rows
// under a fixed header; backends decide how it reaches disk.
package tabular

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"slices"
	"time"

	"github.com/okian/worldwatch/pkg/metrics"
)

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendXLSX   = "xlsx"
	BackendCSV    = "csv"
	BackendNone   = "none"
)

// Table is an ordered set of rows under a fixed header. Rows always have
// exactly len(Columns()) cells. A Table is not safe for concurrent use.
type Table interface {
	Name() string
	Columns() []string
	Len() int
	// Rows returns a copy of every row.
	Rows() [][]string
	// Append adds a row, padding or truncating it to the header width.
	Append(row []string)
	// Set replaces row i.
	Set(i int, row []string) error
	// Save persists pending changes.
	Save(ctx context.Context) error
	Close() error
}

// Store opens tables. Open creates a missing table and migrates one whose
// stored header differs from columns, rewriting it at once: cells are kept
// by position, padded with "" or truncated.
type Store interface {
	Open(ctx context.Context, name string, columns []string) (Table, error)
	Close() error
}

// Open returns the Store for backend rooted at dir.
func Open(ctx context.Context, backend, dir string) (Store, error) {
	switch backend {
	case BackendNone:
		return NewNopStore(), nil
	case BackendCSV, BackendXLSX, BackendSQLite:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, unavailable("create data dir", err)
	}
	switch backend {
	case BackendCSV:
		return NewCSVStore(dir), nil
	case BackendXLSX:
		return NewXLSXStore(dir), nil
	default:
		return NewSQLiteStore(ctx, dir)
	}
}

var unsafeName = regexp.MustCompile(`[^\p{L}\p{N}_\-]+`)

// SanitizeName maps a free-form source name onto a file and table safe
// identifier: path separators, spaces and other punctuation become "_".
func SanitizeName(name string) string {
	s := unsafeName.ReplaceAllString(name, "_")
	if s == "" {
		return "_"
	}
	return s
}

// memTable is the in-memory part shared by every backend.
type memTable struct {
	name    string
	columns []string
	rows    [][]string
}

func newMemTable(name string, columns []string) memTable {
	return memTable{name: name, columns: slices.Clone(columns)}
}

func (t *memTable) Name() string      { return t.name }
func (t *memTable) Columns() []string { return slices.Clone(t.columns) }
func (t *memTable) Len() int          { return len(t.rows) }

func (t *memTable) Rows() [][]string {
	out := make([][]string, len(t.rows))
	for i, r := range t.rows {
		out[i] = slices.Clone(r)
	}
	return out
}

func (t *memTable) Append(row []string) {
	t.rows = append(t.rows, fit(row, len(t.columns)))
}

func (t *memTable) Set(i int, row []string) error {
	if i < 0 || i >= len(t.rows) {
		return fmt.Errorf("%w: %d of %d", ErrRowIndex, i, len(t.rows))
	}
	t.rows[i] = fit(row, len(t.columns))
	return nil
}

// fit pads with "" or truncates to width.
func fit(row []string, width int) []string {
	out := make([]string, width)
	copy(out, row)
	return out
}

// migrate conforms stored rows to columns. It reports whether the stored
// layout differs, in which case the caller must rewrite. Short rows are
// only padded: readers drop trailing empty cells, so they carry no layout
// change.
func migrate(stored []string, rows [][]string, columns []string) ([][]string, bool) {
	changed := !slices.Equal(stored, columns)
	out := make([][]string, len(rows))
	for i, r := range rows {
		if len(r) > len(columns) {
			changed = true
		}
		out[i] = fit(r, len(columns))
	}
	return out, changed
}

func observeSave(name string, start time.Time) {
	metrics.RecordStoreSave(name, time.Since(start))
}
