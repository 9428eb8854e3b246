package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"salesetl/internal/storage"
)

// Repo implements storage.Repository for Microsoft SQL Server.
//
// SQL Server has no ON CONFLICT clause, so idempotent dimension inserts use
// INSERT ... SELECT over a VALUES derived table guarded by NOT EXISTS.
// NOT EXISTS only protects against rows already present in the table, not
// against duplicates inside one VALUES list, so each batch is deduplicated
// on the conflict columns before the statement is built.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("mssql", New)
}

// New opens a SQL Server connection pool and validates connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}

	// Conservative defaults for bursty batch loads.
	db.SetMaxOpenConns(64)
	db.SetMaxIdleConns(64)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

// Close releases the connection pool.
func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

// SQL Server rejects statements with more than 2100 parameters. Staying at
// 2000 leaves headroom for parameters the driver adds on its own.
const maxStatementParams = 2000

// EnsureSchema creates the warehouse tables when they are missing.
//
// SQL Server has no CREATE TABLE IF NOT EXISTS, so each statement wraps the
// CREATE in an OBJECT_ID guard. Safe to run on every invocation.
func (r *Repo) EnsureSchema(ctx context.Context, tables []storage.TableSpec) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mssql: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, t := range tables {
		stmt, err := buildCreateTableSQL(t)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("mssql: create table %s: %w", t.Name, err)
		}
	}
	return tx.Commit()
}

// InsertDimensionRows appends dimension rows, skipping natural keys that are
// already present.
func (r *Repo) InsertDimensionRows(ctx context.Context, table string, columns []string, rows [][]any, conflictColumns []string) error {
	if table == "" || len(columns) == 0 {
		return fmt.Errorf("InsertDimensionRows: table and columns are required")
	}
	if len(rows) == 0 {
		return nil
	}
	if err := checkRowWidths(table, columns, rows); err != nil {
		return err
	}

	insert := rows
	if len(conflictColumns) > 0 {
		var err error
		insert, err = dedupeRowsByColumns(rows, columns, conflictColumns)
		if err != nil {
			return fmt.Errorf("InsertDimensionRows: %w", err)
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("InsertDimensionRows: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := execInsertChunked(ctx, tx, table, columns, insert, conflictColumns); err != nil {
		return fmt.Errorf("InsertDimensionRows: insert %s: %w", table, err)
	}
	return tx.Commit()
}

// SelectAllKeyValue returns normalized key -> surrogate id for the whole
// table. Used to prewarm dimension caches.
func (r *Repo) SelectAllKeyValue(ctx context.Context, table, keyColumn, valueColumn string) (map[string]int64, error) {
	if table == "" || keyColumn == "" || valueColumn == "" {
		return nil, fmt.Errorf("SelectAllKeyValue: table, keyColumn, valueColumn required")
	}

	q := fmt.Sprintf(
		"SELECT %s, %s FROM %s",
		mssqlIdent(keyColumn),
		mssqlIdent(valueColumn),
		mssqlTableIdent(table),
	)

	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var k any
		var id int64
		if err := rows.Scan(&k, &id); err != nil {
			return nil, err
		}
		out[storage.NormalizeKey(k)] = id
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// SelectKeyValueByKeys returns normalized key -> surrogate id for the given
// keys only. The IN list is chunked to stay under the parameter limit.
func (r *Repo) SelectKeyValueByKeys(ctx context.Context, table, keyColumn, valueColumn string, keys []any) (map[string]int64, error) {
	if len(keys) == 0 {
		return map[string]int64{}, nil
	}
	if table == "" || keyColumn == "" || valueColumn == "" {
		return nil, fmt.Errorf("SelectKeyValueByKeys: table, keyColumn, valueColumn required")
	}

	const chunk = 1000
	out := make(map[string]int64, len(keys))

	for start := 0; start < len(keys); start += chunk {
		end := start + chunk
		if end > len(keys) {
			end = len(keys)
		}

		q, args := buildSelectKeyValueByKeysSQL(table, keyColumn, valueColumn, keys[start:end])

		rows, err := r.db.QueryContext(ctx, q, args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var k any
			var id int64
			if err := rows.Scan(&k, &id); err != nil {
				_ = rows.Close()
				return nil, err
			}
			out[storage.NormalizeKey(k)] = id
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, err
		}
		_ = rows.Close()
	}

	return out, nil
}

// InsertFactRows appends fact rows in one transaction and reports how many
// landed.
func (r *Repo) InsertFactRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if table == "" || len(columns) == 0 {
		return 0, fmt.Errorf("InsertFactRows: table and columns are required")
	}
	if len(rows) == 0 {
		return 0, nil
	}
	if err := checkRowWidths(table, columns, rows); err != nil {
		return 0, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("InsertFactRows: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	total, err := execInsertChunked(ctx, tx, table, columns, rows, nil)
	if err != nil {
		return 0, fmt.Errorf("InsertFactRows: insert %s: %w", table, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}

// execInsertChunked splits rows into statements that stay under the parameter
// limit. With conflictColumns set, each statement is a NOT EXISTS anti-join
// insert; otherwise a plain bulk insert.
//
// Earlier chunks are visible to later NOT EXISTS checks because everything
// runs in the same transaction.
func execInsertChunked(ctx context.Context, tx *sql.Tx, table string, columns []string, rows [][]any, conflictColumns []string) (int64, error) {
	per := rowsPerStatement(len(columns))

	var total int64
	for start := 0; start < len(rows); start += per {
		end := start + per
		if end > len(rows) {
			end = len(rows)
		}

		var q string
		var args []any
		if len(conflictColumns) > 0 {
			q, args = buildInsertNotExistsSQL(table, columns, rows[start:end], conflictColumns)
		} else {
			q, args = buildInsertSQL(table, columns, rows[start:end])
		}

		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// checkRowWidths rejects ragged batches before any SQL is built.
func checkRowWidths(table string, columns []string, rows [][]any) error {
	for _, row := range rows {
		if len(row) != len(columns) {
			return fmt.Errorf("mssql: %s: row length %d != columns length %d", table, len(row), len(columns))
		}
	}
	return nil
}

// dedupeRowsByColumns keeps the first row for each distinct conflict-column
// tuple, preserving input order. Rows must already be width-checked.
func dedupeRowsByColumns(rows [][]any, columns []string, conflictColumns []string) ([][]any, error) {
	idx := make([]int, 0, len(conflictColumns))
	for _, cc := range conflictColumns {
		found := -1
		for i, c := range columns {
			if c == cc {
				found = i
				break
			}
		}
		if found < 0 {
			return nil, fmt.Errorf("conflict column %q not present in columns", cc)
		}
		idx = append(idx, found)
	}

	seen := make(map[string]bool, len(rows))
	out := make([][]any, 0, len(rows))
	parts := make([]string, len(idx))
	for _, row := range rows {
		for j, i := range idx {
			parts[j] = storage.NormalizeKey(row[i])
		}
		k := strings.Join(parts, "\x1f")
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, row)
	}
	return out, nil
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

// buildInsertSQL builds one multi-row INSERT ... VALUES statement with @pN
// parameters.
func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString("@p")
			b.WriteString(strconv.Itoa(p))
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	return b.String(), args
}

// buildInsertNotExistsSQL materializes the batch as a VALUES derived table v
// and inserts only rows whose conflict-column tuple is absent from the
// target table.
func buildInsertNotExistsSQL(table string, columns []string, rows [][]any, conflictColumns []string) (string, []any) {
	var b strings.Builder

	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(") SELECT ")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("v.")
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(" FROM (VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString("@p")
			b.WriteString(strconv.Itoa(p))
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	b.WriteString(") AS v(")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(") WHERE NOT EXISTS (SELECT 1 FROM ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" t WHERE ")
	for i, cc := range conflictColumns {
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString("t.")
		b.WriteString(mssqlIdent(cc))
		b.WriteString(" = v.")
		b.WriteString(mssqlIdent(cc))
	}
	b.WriteString(")")

	return b.String(), args
}

// buildSelectKeyValueByKeysSQL returns the SELECT ... IN (...) query and args
// for one key chunk.
func buildSelectKeyValueByKeysSQL(table, keyColumn, valueColumn string, keys []any) (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(mssqlIdent(keyColumn))
	b.WriteString(", ")
	b.WriteString(mssqlIdent(valueColumn))
	b.WriteString(" FROM ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" WHERE ")
	b.WriteString(mssqlIdent(keyColumn))
	b.WriteString(" IN (")

	args := make([]any, 0, len(keys))
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("@p")
		b.WriteString(strconv.Itoa(i + 1))
		args = append(args, k)
	}
	b.WriteString(")")

	return b.String(), args
}

// buildCreateTableSQL generates idempotent DDL for one table, wrapped in an
// OBJECT_ID guard.
func buildCreateTableSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("mssql: table name is empty")
	}

	var parts []string

	if t.PrimaryKey != nil {
		pkDef, err := mssqlPrimaryKeyDef(*t.PrimaryKey)
		if err != nil {
			return "", err
		}
		parts = append(parts, pkDef)
	}

	for _, c := range t.Columns {
		def, err := mssqlColumnDef(c)
		if err != nil {
			return "", err
		}
		parts = append(parts, def)
	}

	for _, con := range t.Constraints {
		if !strings.EqualFold(con.Kind, "unique") {
			return "", fmt.Errorf("%s unsupported constraint kind: %s", t.Name, con.Kind)
		}
		if len(con.Columns) == 0 {
			return "", fmt.Errorf("%s unique constraint has no columns", t.Name)
		}
		cols := make([]string, len(con.Columns))
		for i, c := range con.Columns {
			cols[i] = mssqlIdent(c)
		}
		parts = append(parts, fmt.Sprintf("UNIQUE (%s)", strings.Join(cols, ", ")))
	}

	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		strings.ReplaceAll(t.Name, "'", "''"),
		mssqlTableIdent(t.Name),
		strings.Join(parts, ", "),
	), nil
}

// mssqlPrimaryKeyDef returns a column definition for an identity primary key.
//
// "serial"-style types map onto INT IDENTITY(1,1); anything else is used
// verbatim with PRIMARY KEY appended.
func mssqlPrimaryKeyDef(pk storage.PrimaryKeySpec) (string, error) {
	if strings.TrimSpace(pk.Name) == "" {
		return "", fmt.Errorf("mssql: primary key name is empty")
	}
	switch strings.ToLower(strings.TrimSpace(pk.Type)) {
	case "serial", "int identity", "integer identity", "identity":
		return fmt.Sprintf("%s INT IDENTITY(1,1) PRIMARY KEY", mssqlIdent(pk.Name)), nil
	case "bigserial":
		return fmt.Sprintf("%s BIGINT IDENTITY(1,1) PRIMARY KEY", mssqlIdent(pk.Name)), nil
	default:
		return fmt.Sprintf("%s %s PRIMARY KEY", mssqlIdent(pk.Name), pk.Type), nil
	}
}

// mssqlColumnDef builds a column definition from storage.ColumnSpec.
//
// A nil Nullable means nullable. A raw REFERENCES clause is attached when
// configured.
func mssqlColumnDef(c storage.ColumnSpec) (string, error) {
	if strings.TrimSpace(c.Name) == "" {
		return "", fmt.Errorf("mssql: column name is empty")
	}
	if strings.TrimSpace(c.Type) == "" {
		return "", fmt.Errorf("mssql: column %s type is empty", c.Name)
	}

	var b strings.Builder
	b.WriteString(mssqlIdent(c.Name))
	b.WriteString(" ")
	b.WriteString(c.Type)

	nullable := true
	if c.Nullable != nil {
		nullable = *c.Nullable
	}
	if !nullable {
		b.WriteString(" NOT NULL")
	}
	if strings.TrimSpace(c.References) != "" {
		b.WriteString(" REFERENCES ")
		b.WriteString(c.References)
	}

	return b.String(), nil
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent bracket-quotes each part of a schema-qualified name.
//
// Example:
//
//	"dbo.fact_sales" -> [dbo].[fact_sales]
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}
