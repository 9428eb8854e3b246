package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"salesetl/internal/storage"
)

// Repo implements storage.Repository for SQLite.
//
// Key design points vs Postgres:
//   - SQLite has no serial type. "INTEGER PRIMARY KEY" is special: it aliases
//     the rowid and auto-generates values, so the DDL builder maps serial-ish
//     primary key types onto it.
//   - Dimension inserts use INSERT OR IGNORE, which relies on the UNIQUE
//     constraint over the natural key rather than an explicit conflict list.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

// maxStatementParams caps bind variables per statement. SQLite builds can be
// compiled with limits as low as 999, so multi-row inserts and IN lookups
// are chunked to stay under that.
const maxStatementParams = 900

// EnsureSchema creates the warehouse tables when they do not exist yet.
// All DDL runs in one transaction so a half-created schema never survives.
func (r *Repo) EnsureSchema(ctx context.Context, tables []storage.TableSpec) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, t := range tables {
		ddl, err := buildCreateTableSQL(t)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return tx.Commit()
}

// InsertDimensionRows appends dimension rows that do not yet exist.
//
// SQLite does not support ON CONFLICT (...) DO NOTHING the way Postgres
// spells it, but INSERT OR IGNORE behaves the same when the target has a
// UNIQUE constraint over the natural key.
func (r *Repo) InsertDimensionRows(ctx context.Context, table string, columns []string, rows [][]any, conflictColumns []string) error {
	if len(rows) == 0 {
		return nil
	}
	// conflictColumns is unused here: OR IGNORE relies on the table's own
	// UNIQUE/PK constraints.
	_ = conflictColumns

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := execInsertChunked(ctx, tx, table, columns, rows, true); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *Repo) SelectAllKeyValue(ctx context.Context, table, keyColumn, valueColumn string) (map[string]int64, error) {
	q := fmt.Sprintf(`SELECT %s, %s FROM %s`, sqlIdent(keyColumn), sqlIdent(valueColumn), table)
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int64{}
	if err := scanKeyValue(rows, table, valueColumn, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) SelectKeyValueByKeys(ctx context.Context, table, keyColumn, valueColumn string, keys []any) (map[string]int64, error) {
	out := map[string]int64{}
	if len(keys) == 0 {
		return out, nil
	}

	for start := 0; start < len(keys); start += maxStatementParams {
		end := start + maxStatementParams
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[start:end]

		ph := strings.TrimRight(strings.Repeat("?,", len(batch)), ",")
		q := fmt.Sprintf(
			`SELECT %s, %s FROM %s WHERE %s IN (%s)`,
			sqlIdent(keyColumn), sqlIdent(valueColumn), table, sqlIdent(keyColumn), ph,
		)

		rows, err := r.db.QueryContext(ctx, q, batch...)
		if err != nil {
			return nil, err
		}
		err = scanKeyValue(rows, table, valueColumn, out)
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// InsertFactRows appends fact rows in one transaction and reports how many
// were written.
func (r *Repo) InsertFactRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	n, err := execInsertChunked(ctx, tx, table, columns, rows, false)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

func execInsertChunked(ctx context.Context, tx *sql.Tx, table string, columns []string, rows [][]any, orIgnore bool) (int64, error) {
	per := rowsPerStatement(len(columns))

	var total int64
	for start := 0; start < len(rows); start += per {
		end := start + per
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]

		args := make([]any, 0, len(batch)*len(columns))
		for _, row := range batch {
			if len(row) != len(columns) {
				return total, fmt.Errorf("sqlite: %s: row length %d != columns length %d", table, len(row), len(columns))
			}
			args = append(args, row...)
		}

		res, err := tx.ExecContext(ctx, buildInsertSQL(table, columns, len(batch), orIgnore), args...)
		if err != nil {
			return total, fmt.Errorf("insert into %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func scanKeyValue(rows *sql.Rows, table, valueColumn string, out map[string]int64) error {
	for rows.Next() {
		var k any
		var id sql.NullInt64
		if err := rows.Scan(&k, &id); err != nil {
			return err
		}
		if !id.Valid {
			return fmt.Errorf(
				"sqlite: %s.%s is NULL; surrogate key not auto-generated (check primary key type mapping, e.g. serial->INTEGER PRIMARY KEY)",
				table, valueColumn,
			)
		}
		out[storage.NormalizeKey(k)] = id.Int64
	}
	return rows.Err()
}

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// rowsPerStatement bounds multi-row inserts by bind-variable budget.
func rowsPerStatement(nCols int) int {
	if nCols <= 0 {
		return 1
	}
	n := maxStatementParams / nCols
	if n < 1 {
		return 1
	}
	return n
}

func buildInsertSQL(table string, columns []string, nRows int, orIgnore bool) string {
	verb := "INSERT INTO "
	if orIgnore {
		verb = "INSERT OR IGNORE INTO "
	}

	cols := make([]string, 0, len(columns))
	for _, c := range columns {
		cols = append(cols, sqlIdent(c))
	}
	rowPH := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)), ",") + ")"

	var b strings.Builder
	b.WriteString(verb)
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(") VALUES ")
	for i := 0; i < nRows; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(rowPH)
	}
	return b.String()
}

// buildCreateTableSQL generates idempotent DDL for one table.
func buildCreateTableSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("table name is empty")
	}

	var parts []string

	if t.PrimaryKey != nil {
		pkType := strings.TrimSpace(strings.ToLower(t.PrimaryKey.Type))

		// Translate common postgres/mssql-ish pk types into sqlite semantics.
		// "INTEGER PRIMARY KEY" is special in sqlite: it becomes the rowid and
		// auto-generates values.
		switch pkType {
		case "serial", "bigserial":
			parts = append(parts, fmt.Sprintf(`%s INTEGER PRIMARY KEY AUTOINCREMENT`, sqlIdent(t.PrimaryKey.Name)))
		case "int identity", "integer identity", "identity":
			parts = append(parts, fmt.Sprintf(`%s INTEGER PRIMARY KEY AUTOINCREMENT`, sqlIdent(t.PrimaryKey.Name)))
		default:
			parts = append(parts, fmt.Sprintf(`%s %s PRIMARY KEY`, sqlIdent(t.PrimaryKey.Name), t.PrimaryKey.Type))
		}
	}

	for _, c := range t.Columns {
		col := fmt.Sprintf("%s %s", sqlIdent(c.Name), c.Type)
		nullable := true
		if c.Nullable != nil {
			nullable = *c.Nullable
		}
		if !nullable {
			col += " NOT NULL"
		}
		// SQLite supports REFERENCES, but enforcement depends on PRAGMA foreign_keys=ON.
		if c.References != "" {
			col += " REFERENCES " + c.References
		}
		parts = append(parts, col)
	}

	for _, con := range t.Constraints {
		if con.Kind != "unique" {
			return "", fmt.Errorf("%s unsupported constraint kind: %s", t.Name, con.Kind)
		}
		var cols []string
		for _, c := range con.Columns {
			cols = append(cols, sqlIdent(c))
		}
		parts = append(parts, fmt.Sprintf("UNIQUE (%s)", strings.Join(cols, ", ")))
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", t.Name, strings.Join(parts, ",\n  ")), nil
}
