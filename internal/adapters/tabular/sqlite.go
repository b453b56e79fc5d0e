package tabular

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// DatabaseFile is the SQLite file created under the data dir.
const DatabaseFile = "worldwatch.db"

// posColumn keeps row order; it is not part of the logical header.
const posColumn = "pos"

// SQLiteStore keeps every table in one SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens dir/worldwatch.db.
func NewSQLiteStore(ctx context.Context, dir string) (*SQLiteStore, error) {
	db, err := openDB(ctx, filepath.Join(dir, DatabaseFile))
	if err != nil {
		return nil, unavailable("open database", err)
	}
	return &SQLiteStore{db: db}, nil
}

func openDB(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer; keeps read-modify-write sequences ordered.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=10000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Open loads table name, creating or migrating it as needed.
func (s *SQLiteStore) Open(ctx context.Context, name string, columns []string) (Table, error) {
	t := &sqliteTable{
		memTable: newMemTable(name, columns),
		db:       s.db,
		ident:    quoteIdent(SanitizeName(name)),
		dirty:    map[int]struct{}{},
	}

	stored, err := t.storedColumns(ctx)
	if err != nil {
		return nil, unavailable("inspect "+name, err)
	}
	if stored == nil {
		if _, err := s.db.ExecContext(ctx, t.createSQL()); err != nil {
			return nil, unavailable("create "+name, err)
		}
		return t, nil
	}

	rows, err := t.load(ctx, len(stored))
	if err != nil {
		return nil, unavailable("load "+name, err)
	}
	var changed bool
	t.rows, changed = migrate(stored, rows, t.columns)
	if changed {
		if err := t.rewrite(ctx); err != nil {
			return nil, err
		}
	}
	return t, nil
}

type sqliteTable struct {
	memTable
	db    *sql.DB
	ident string
	dirty map[int]struct{}
}

func (t *sqliteTable) Append(row []string) {
	t.memTable.Append(row)
	t.dirty[len(t.rows)-1] = struct{}{}
}

func (t *sqliteTable) Set(i int, row []string) error {
	if err := t.memTable.Set(i, row); err != nil {
		return err
	}
	t.dirty[i] = struct{}{}
	return nil
}

// Save upserts changed rows by position in one transaction.
func (t *sqliteTable) Save(ctx context.Context) error {
	if len(t.dirty) == 0 {
		return nil
	}
	defer observeSave(t.name, time.Now())

	idx := make([]int, 0, len(t.dirty))
	for i := range t.dirty {
		idx = append(idx, i)
	}
	slices.Sort(idx)

	err := t.tx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, t.upsertSQL())
		if err != nil {
			return err
		}
		defer func() { _ = stmt.Close() }()
		for _, i := range idx {
			if _, err := stmt.ExecContext(ctx, rowArgs(i, t.rows[i])...); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return unavailable("save "+t.name, err)
	}
	clear(t.dirty)
	return nil
}

func (*sqliteTable) Close() error { return nil }

func (t *sqliteTable) storedColumns(ctx context.Context) ([]string, error) {
	rows, err := t.db.QueryContext(ctx, "PRAGMA table_info("+t.ident+")")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var cols []string
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		if name == posColumn {
			continue
		}
		cols = append(cols, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if cols == nil {
		// A table with only the position column still exists.
		var n int
		err := t.db.QueryRowContext(ctx,
			"SELECT count(*) FROM sqlite_master WHERE type='table' AND name=?",
			strings.Trim(t.ident, `"`)).Scan(&n)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			return []string{}, nil
		}
	}
	return cols, nil
}

func (t *sqliteTable) load(ctx context.Context, width int) ([][]string, error) {
	rows, err := t.db.QueryContext(ctx, "SELECT * FROM "+t.ident+" ORDER BY "+posColumn)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out [][]string
	for rows.Next() {
		var pos int64
		cells := make([]sql.NullString, width)
		dest := make([]any, 0, width+1)
		dest = append(dest, &pos)
		for i := range cells {
			dest = append(dest, &cells[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		row := make([]string, width)
		for i, c := range cells {
			row[i] = c.String
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// rewrite recreates the table with the current header and every row.
func (t *sqliteTable) rewrite(ctx context.Context) error {
	err := t.tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+t.ident); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, t.createSQL()); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, t.upsertSQL())
		if err != nil {
			return err
		}
		defer func() { _ = stmt.Close() }()
		for i, r := range t.rows {
			if _, err := stmt.ExecContext(ctx, rowArgs(i, r)...); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return unavailable("migrate "+t.name, err)
	}
	clear(t.dirty)
	return nil
}

func (t *sqliteTable) tx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (t *sqliteTable) createSQL() string {
	defs := make([]string, 0, len(t.columns)+1)
	defs = append(defs, posColumn+" INTEGER PRIMARY KEY")
	for _, c := range t.columns {
		defs = append(defs, quoteIdent(c)+" TEXT NOT NULL DEFAULT ''")
	}
	return "CREATE TABLE IF NOT EXISTS " + t.ident + " (" + strings.Join(defs, ", ") + ")"
}

func (t *sqliteTable) upsertSQL() string {
	names := make([]string, 0, len(t.columns)+1)
	names = append(names, posColumn)
	for _, c := range t.columns {
		names = append(names, quoteIdent(c))
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")
	return "INSERT OR REPLACE INTO " + t.ident + " (" + strings.Join(names, ", ") + ") VALUES (" + marks + ")"
}

func rowArgs(pos int, row []string) []any {
	args := make([]any, 0, len(row)+1)
	args = append(args, pos)
	for _, c := range row {
		args = append(args, c)
	}
	return args
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
