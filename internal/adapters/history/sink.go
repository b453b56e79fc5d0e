package history

import (
	"context"

	"github.com/okian/worldwatch/internal/adapters/tabular"
	"github.com/okian/worldwatch/internal/domain/derive"
)

// TableSink appends metrics rows to a table and saves it. Opened on a csv
// store it is the append-only log; on an xlsx store, the workbook.
type TableSink struct {
	table tabular.Table
}

// NewTableSink opens name on tables with the derive column layout.
func NewTableSink(ctx context.Context, tables tabular.Store, name string) (*TableSink, error) {
	t, err := tables.Open(ctx, name, derive.Columns)
	if err != nil {
		return nil, err
	}
	return &TableSink{table: t}, nil
}

// Emit appends rows and saves.
func (s *TableSink) Emit(ctx context.Context, rows []derive.Row) error {
	for _, r := range rows {
		s.table.Append(r.Cells())
	}
	return s.table.Save(ctx)
}
