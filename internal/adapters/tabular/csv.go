package tabular

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CSVStore keeps one BOM-prefixed CSV file per table.
type CSVStore struct {
	dir string
}

// NewCSVStore returns a store writing under dir.
func NewCSVStore(dir string) *CSVStore { return &CSVStore{dir: dir} }

// Open loads name.csv, creating or migrating it as needed.
func (s *CSVStore) Open(_ context.Context, name string, columns []string) (Table, error) {
	t := &csvTable{
		memTable: newMemTable(name, columns),
		path:     filepath.Join(s.dir, SanitizeName(name)+".csv"),
	}

	header, rows, err := readCSV(t.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return t, nil
	case err != nil:
		return nil, unavailable("read "+t.path, err)
	case header == nil:
		return t, nil
	}

	var changed bool
	t.rows, changed = migrate(header, rows, t.columns)
	if changed {
		if err := t.rewrite(); err != nil {
			return nil, err
		}
		return t, nil
	}
	t.persisted = len(t.rows)
	t.hasHeader = true
	return t, nil
}

// Close is a no-op; files are opened per save.
func (*CSVStore) Close() error { return nil }

type csvTable struct {
	memTable
	path      string
	persisted int  // rows already on disk
	hasHeader bool // file exists with the current header
	edited    bool // a persisted row was replaced
}

func (t *csvTable) Set(i int, row []string) error {
	if err := t.memTable.Set(i, row); err != nil {
		return err
	}
	if i < t.persisted {
		t.edited = true
	}
	return nil
}

// Save appends new rows when the file only grew and rewrites it otherwise.
func (t *csvTable) Save(_ context.Context) error {
	defer observeSave(t.name, time.Now())
	if !t.hasHeader || t.edited {
		return t.rewrite()
	}
	if t.persisted == len(t.rows) {
		return nil
	}
	if err := appendCSV(t.path, t.rows[t.persisted:]); err != nil {
		return unavailable("append "+t.path, err)
	}
	t.persisted = len(t.rows)
	return nil
}

func (*csvTable) Close() error { return nil }

func (t *csvTable) rewrite() error {
	if err := writeCSV(t.path, t.columns, t.rows); err != nil {
		return unavailable("write "+t.path, err)
	}
	t.persisted = len(t.rows)
	t.hasHeader = true
	t.edited = false
	return nil
}

// readCSV returns the header and data rows. An empty file has a nil header.
func readCSV(path string) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = f.Close() }()

	br := bufio.NewReader(f)
	if b, err := br.Peek(len(utf8BOM)); err == nil && string(b) == string(utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	r := csv.NewReader(br)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	rows, err := r.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	return header, rows, nil
}

// writeCSV replaces path atomically with BOM, header and rows.
func writeCSV(path string, header []string, rows [][]string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	_ = tmp.Chmod(0o644)

	bw := bufio.NewWriter(tmp)
	if _, err := bw.Write(utf8BOM); err != nil {
		_ = tmp.Close()
		return err
	}
	w := csv.NewWriter(bw)
	if err := w.Write(header); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func appendCSV(path string, rows [][]string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	bw := bufio.NewWriter(f)
	w := csv.NewWriter(bw)
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	return bw.Flush()
}
