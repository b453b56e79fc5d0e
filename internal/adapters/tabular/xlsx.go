package tabular

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"
)

const maxSheetName = 31

// XLSXStore keeps one workbook per table, data on the first sheet.
type XLSXStore struct {
	dir string
}

// NewXLSXStore returns a store writing under dir.
func NewXLSXStore(dir string) *XLSXStore { return &XLSXStore{dir: dir} }

// Open loads name.xlsx, creating or migrating it as needed.
func (s *XLSXStore) Open(_ context.Context, name string, columns []string) (Table, error) {
	t := &xlsxTable{
		memTable: newMemTable(name, columns),
		path:     filepath.Join(s.dir, SanitizeName(name)+".xlsx"),
	}

	header, rows, err := readWorkbook(t.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		t.dirty = true
		return t, nil
	case err != nil:
		return nil, unavailable("read "+t.path, err)
	}

	var changed bool
	t.rows, changed = migrate(header, rows, t.columns)
	if changed {
		if err := t.write(); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Close is a no-op; workbooks are opened per load and save.
func (*XLSXStore) Close() error { return nil }

type xlsxTable struct {
	memTable
	path  string
	dirty bool
}

func (t *xlsxTable) Append(row []string) {
	t.memTable.Append(row)
	t.dirty = true
}

func (t *xlsxTable) Set(i int, row []string) error {
	if err := t.memTable.Set(i, row); err != nil {
		return err
	}
	t.dirty = true
	return nil
}

// Save rewrites the workbook when anything changed.
func (t *xlsxTable) Save(_ context.Context) error {
	if !t.dirty {
		return nil
	}
	defer observeSave(t.name, time.Now())
	return t.write()
}

func (*xlsxTable) Close() error { return nil }

func (t *xlsxTable) write() error {
	if err := writeWorkbook(t.path, sheetName(t.name), t.columns, t.rows); err != nil {
		return unavailable("write "+t.path, err)
	}
	t.dirty = false
	return nil
}

// readWorkbook returns the first row of the active sheet as header and the
// rest as data. Trailing empty cells are dropped by the reader; migrate pads
// them back.
func readWorkbook(path string) ([]string, [][]string, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, nil, err
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows(f.GetSheetName(f.GetActiveSheetIndex()))
	if err != nil {
		return nil, nil, err
	}
	if len(rows) == 0 {
		return []string{}, nil, nil
	}
	return rows[0], rows[1:], nil
}

func writeWorkbook(path, sheet string, header []string, rows [][]string) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return err
	}
	if err := setRow(f, sheet, 1, header); err != nil {
		return err
	}
	for i, r := range rows {
		if err := setRow(f, sheet, i+2, r); err != nil {
			return err
		}
	}

	tmp := path + ".tmp.xlsx"
	if err := f.SaveAs(tmp); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func setRow(f *excelize.File, sheet string, n int, row []string) error {
	cell, err := excelize.CoordinatesToCellName(1, n)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &row)
}

func sheetName(name string) string {
	r := []rune(SanitizeName(name))
	if len(r) > maxSheetName {
		r = r[:maxSheetName]
	}
	return string(r)
}
