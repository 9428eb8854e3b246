package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"salesetl/internal/storage"
)

/*
Repo implements storage.Repository for Postgres.

It provides:
  - Idempotent schema creation (CREATE SCHEMA / CREATE TABLE IF NOT EXISTS)
  - Dimension inserts via INSERT ... ON CONFLICT (...) DO NOTHING
  - Chunked fact inserts inside a single transaction

Behavior matches the SQLite and SQL Server implementations.
*/
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new Postgres-backed Repo.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

// maxStatementParams keeps multi-row statements well below Postgres's 65535
// bind-parameter ceiling; smaller statements also keep the SQL readable in
// slow-query logs.
const maxStatementParams = 2000

// EnsureSchema creates schemas and tables that do not exist yet. All DDL for
// a call runs in one transaction, so a half-created warehouse never survives
// a failed run.
func (r *Repo) EnsureSchema(ctx context.Context, tables []storage.TableSpec) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, t := range tables {
		schemaSQL, tableSQL, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if schemaSQL != "" {
			if _, err := tx.Exec(ctx, schemaSQL); err != nil {
				return fmt.Errorf("create schema for %s: %w", t.Name, err)
			}
		}
		if _, err := tx.Exec(ctx, tableSQL); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return tx.Commit(ctx)
}

// InsertDimensionRows inserts missing dimension rows.
//
// The insert is idempotent: ON CONFLICT (...) DO NOTHING over the natural
// key columns means an existing key is left untouched, including when a
// concurrent writer lands the same key between lookup and insert. Rows are
// chunked to stay below the parameter limit, all chunks in one transaction.
func (r *Repo) InsertDimensionRows(
	ctx context.Context,
	table string,
	columns []string,
	rows [][]any,
	conflictColumns []string,
) error {
	if len(rows) == 0 {
		return nil
	}
	if table == "" || len(columns) == 0 {
		return fmt.Errorf("InsertDimensionRows: table and columns are required")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := execChunked(ctx, tx, table, columns, rows, conflictColumns); err != nil {
		return fmt.Errorf("InsertDimensionRows: insert into %s: %w", table, err)
	}
	return tx.Commit(ctx)
}

// SelectAllKeyValue returns a mapping from normalized key -> surrogate id for
// the whole dimension table.
//
// The returned map key is storage.NormalizeKey(original_key_value) so callers
// can reliably match string/int/etc key inputs.
func (r *Repo) SelectAllKeyValue(
	ctx context.Context,
	table string,
	keyColumn string,
	valueColumn string,
) (map[string]int64, error) {
	if table == "" || keyColumn == "" || valueColumn == "" {
		return nil, fmt.Errorf("SelectAllKeyValue: table, keyColumn, valueColumn are required")
	}

	q := fmt.Sprintf(
		`SELECT %s, %s FROM %s`,
		pgIdent(keyColumn),
		pgIdent(valueColumn),
		table,
	)

	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("SelectAllKeyValue: query %s: %w", table, err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var k any
		var id int64
		if err := rows.Scan(&k, &id); err != nil {
			return nil, fmt.Errorf("SelectAllKeyValue: scan %s: %w", table, err)
		}
		out[storage.NormalizeKey(k)] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("SelectAllKeyValue: rows %s: %w", table, err)
	}
	return out, nil
}

// SelectKeyValueByKeys returns a mapping from normalized key -> surrogate id
// for a set of keys.
//
// This uses a parameterized IN (...) list (chunked) instead of ANY($1) arrays
// to avoid driver array-typing edge cases and to avoid needing
// type-classification helpers.
func (r *Repo) SelectKeyValueByKeys(
	ctx context.Context,
	table string,
	keyColumn string,
	valueColumn string,
	keys []any,
) (map[string]int64, error) {
	if len(keys) == 0 {
		return map[string]int64{}, nil
	}
	if table == "" || keyColumn == "" || valueColumn == "" {
		return nil, fmt.Errorf("SelectKeyValueByKeys: table, keyColumn, valueColumn are required")
	}

	out := make(map[string]int64, len(keys))

	for start := 0; start < len(keys); start += maxStatementParams {
		end := start + maxStatementParams
		if end > len(keys) {
			end = len(keys)
		}
		part := keys[start:end]

		var b strings.Builder
		b.WriteString("SELECT ")
		b.WriteString(pgIdent(keyColumn))
		b.WriteString(", ")
		b.WriteString(pgIdent(valueColumn))
		b.WriteString(" FROM ")
		b.WriteString(table)
		b.WriteString(" WHERE ")
		b.WriteString(pgIdent(keyColumn))
		b.WriteString(" IN (")

		args := make([]any, 0, len(part))
		for i, k := range part {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(fmt.Sprintf("$%d", i+1))
			args = append(args, k)
		}
		b.WriteString(")")

		rows, err := r.pool.Query(ctx, b.String(), args...)
		if err != nil {
			return nil, fmt.Errorf("SelectKeyValueByKeys: query %s: %w", table, err)
		}

		for rows.Next() {
			var k any
			var id int64
			if err := rows.Scan(&k, &id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("SelectKeyValueByKeys: scan %s: %w", table, err)
			}
			out[storage.NormalizeKey(k)] = id
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("SelectKeyValueByKeys: rows %s: %w", table, err)
		}
		rows.Close()
	}

	return out, nil
}

// InsertFactRows appends fact rows in one transaction and reports how many
// were written.
func (r *Repo) InsertFactRows(
	ctx context.Context,
	table string,
	columns []string,
	rows [][]any,
) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	total, err := execChunked(ctx, tx, table, columns, rows, nil)
	if err != nil {
		return 0, fmt.Errorf("InsertFactRows: insert into %s: %w", table, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return total, nil
}

// execChunked splits rows into parameter-bounded statements on one
// transaction and sums the affected counts.
func execChunked(
	ctx context.Context,
	tx pgx.Tx,
	table string,
	columns []string,
	rows [][]any,
	conflictColumns []string,
) (int64, error) {
	per := maxStatementParams / len(columns)
	if per < 1 {
		per = 1
	}

	var total int64
	for start := 0; start < len(rows); start += per {
		end := start + per
		if end > len(rows) {
			end = len(rows)
		}

		sql, args := buildInsertSQL(table, columns, rows[start:end], conflictColumns)
		cmd, err := tx.Exec(ctx, sql, args...)
		if err != nil {
			return total, err
		}
		total += cmd.RowsAffected()
	}
	return total, nil
}

// buildInsertSQL constructs a single INSERT statement and its args.
//
// Why this exists:
//   - It is pure and deterministic, so we can unit test correctness
//     (especially ON CONFLICT behavior and placeholder numbering) without a
//     database.
//
// Constraints:
//   - rows must have the same length as columns for every row.
//   - columns must be non-empty.
func buildInsertSQL(table string, columns []string, rows [][]any, conflictColumns []string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")

	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
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
			b.WriteString(fmt.Sprintf("$%d", p))
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	// The conflict clause makes the statement idempotent: duplicates within
	// the batch and keys inserted by anyone else are skipped, not errors.
	if len(conflictColumns) > 0 {
		b.WriteString(" ON CONFLICT (")
		for i, c := range conflictColumns {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(pgIdent(c))
		}
		b.WriteString(") DO NOTHING")
	}

	b.WriteString(";")
	return b.String(), args
}

// buildCreateSQL generates idempotent DDL for one table.
//
// Outputs:
//   - schemaSQL: optional CREATE SCHEMA statement when t.Name is
//     schema-qualified (e.g. "warehouse.dim_material").
//   - tableSQL:  CREATE TABLE IF NOT EXISTS for the table itself.
func buildCreateSQL(t storage.TableSpec) (schemaSQL, tableSQL string, err error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", "", fmt.Errorf("table name is empty")
	}

	if schema, _ := splitQualifiedName(t.Name); schema != "" {
		schemaSQL = fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s;`, pgIdent(schema))
	}

	cols, err := buildColumnDefs(t)
	if err != nil {
		return "", "", err
	}

	constraints, err := buildConstraints(t)
	if err != nil {
		return "", "", err
	}
	cols = append(cols, constraints...)

	tableSQL = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s);`,
		t.Name, strings.Join(cols, ", "))
	return schemaSQL, tableSQL, nil
}

// buildColumnDefs returns the list of "<col> <type> ..." definitions.
//
// Primary key handling:
//   - If PrimaryKeySpec is provided, it becomes the first column.
//   - The primary key column is not expected to be present in t.Columns.
func buildColumnDefs(t storage.TableSpec) ([]string, error) {
	cols := make([]string, 0, len(t.Columns)+1)

	if t.PrimaryKey != nil {
		pk := strings.TrimSpace(t.PrimaryKey.Name)
		pkType := strings.TrimSpace(t.PrimaryKey.Type)
		if pk == "" || pkType == "" {
			return nil, fmt.Errorf("buildColumnDefs: table %s: primary key name and type are required", t.Name)
		}
		// Postgres supports inline PRIMARY KEY constraints; "serial" is native.
		cols = append(cols, fmt.Sprintf(`%s %s PRIMARY KEY`, pgIdent(pk), pkType))
	}

	for _, c := range t.Columns {
		def, err := buildColumnDef(c)
		if err != nil {
			return nil, fmt.Errorf("buildColumnDefs: table %s: %w", t.Name, err)
		}
		cols = append(cols, def)
	}

	if len(cols) == 0 {
		return nil, fmt.Errorf("buildColumnDefs: table %s: no columns", t.Name)
	}
	return cols, nil
}

// buildColumnDef renders a single column definition. A nil Nullable means
// nullable, matching the storage.ColumnSpec contract.
func buildColumnDef(c storage.ColumnSpec) (string, error) {
	name := strings.TrimSpace(c.Name)
	typ := strings.TrimSpace(c.Type)
	if name == "" || typ == "" {
		return "", fmt.Errorf("column name/type must be set")
	}

	var b strings.Builder
	b.WriteString(pgIdent(name))
	b.WriteString(" ")
	b.WriteString(typ)

	nullable := true
	if c.Nullable != nil {
		nullable = *c.Nullable
	}
	if !nullable {
		b.WriteString(" NOT NULL")
	}

	// Foreign key references are expressed inline in the column definition.
	// This keeps CreateTable DDL self-contained and matches typical Postgres
	// style.
	if ref := strings.TrimSpace(c.References); ref != "" {
		b.WriteString(" REFERENCES ")
		b.WriteString(ref)
	}

	return b.String(), nil
}

// buildConstraints generates table-level constraints.
//
// Today we only support UNIQUE constraints because that's the only
// constraint kind exposed by storage.ConstraintSpec.
func buildConstraints(t storage.TableSpec) ([]string, error) {
	if len(t.Constraints) == 0 {
		return nil, nil
	}

	out := make([]string, 0, len(t.Constraints))
	for _, c := range t.Constraints {
		kind := strings.ToLower(strings.TrimSpace(c.Kind))
		switch kind {
		case "unique":
			if len(c.Columns) == 0 {
				return nil, fmt.Errorf("table %s: unique constraint requires columns", t.Name)
			}
			var b strings.Builder
			b.WriteString("UNIQUE (")
			for i, col := range c.Columns {
				if i > 0 {
					b.WriteString(", ")
				}
				b.WriteString(pgIdent(strings.TrimSpace(col)))
			}
			b.WriteString(")")
			out = append(out, b.String())
		default:
			return nil, fmt.Errorf("table %s: unsupported constraint kind %q", t.Name, c.Kind)
		}
	}
	return out, nil
}

// splitQualifiedName splits a schema-qualified name into (schema, table).
//
// Examples:
//   - "warehouse.dim_material" => ("warehouse", "dim_material")
//   - "dim_material"           => ("", "dim_material")
//
// This helper is intentionally conservative: it only handles a single dot.
// If callers pass a more complex expression, we treat it as unqualified.
func splitQualifiedName(name string) (schema string, table string) {
	name = strings.TrimSpace(name)
	parts := strings.Split(name, ".")
	if len(parts) != 2 {
		return "", name
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}

// pgIdent renders a quoted Postgres identifier.
func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
