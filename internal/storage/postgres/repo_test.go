package postgres

import (
	"strings"
	"testing"

	"salesetl/internal/storage"
)

// boolPtr is a tiny helper to avoid repeating &[]bool literals in tests.
func boolPtr(v bool) *bool { return &v }

func TestBuildInsertSQL_NoConflict_NoOnConflict(t *testing.T) {
	t.Parallel()

	sql, args := buildInsertSQL(
		"fact_sales",
		[]string{"material_id", "time_id", "net_sales"},
		[][]any{
			{int64(1), int64(1), 90.0},
			{int64(2), int64(3), 10.5},
		},
		nil,
	)

	if strings.Contains(sql, "ON CONFLICT") {
		t.Fatalf("expected no ON CONFLICT clause, got: %q", sql)
	}

	// 2 rows * 3 columns = 6 args
	if len(args) != 6 {
		t.Fatalf("expected 6 args, got %d", len(args))
	}

	// Spot-check placeholder numbering (must be stable for Exec()).
	if !strings.Contains(sql, "VALUES ($1, $2, $3), ($4, $5, $6)") {
		t.Fatalf("unexpected VALUES placeholders: %q", sql)
	}
}

func TestBuildInsertSQL_WithConflict_AddsOnConflictDoNothing(t *testing.T) {
	t.Parallel()

	sql, args := buildInsertSQL(
		"dim_time",
		[]string{"period", "year"},
		[][]any{
			{"202301", 2023},
			// Intentional duplicate natural key to simulate input duplicates.
			{"202301", 2023},
		},
		[]string{"period"},
	)

	// The critical behavior: idempotent insert for duplicates.
	if !strings.Contains(sql, `ON CONFLICT ("period") DO NOTHING`) {
		t.Fatalf("expected ON CONFLICT DO NOTHING, got: %q", sql)
	}
	if len(args) != 4 {
		t.Fatalf("expected 4 args, got %d", len(args))
	}
}

func TestBuildCreateSQL_CreatesTable(t *testing.T) {
	t.Parallel()

	spec := storage.TableSpec{
		Name:       "dim_material",
		PrimaryKey: &storage.PrimaryKeySpec{Name: "material_id", Type: "serial"},
		Columns: []storage.ColumnSpec{
			{Name: "material_number", Type: "varchar(8)", Nullable: boolPtr(false)},
		},
		Constraints: []storage.ConstraintSpec{{Kind: "unique", Columns: []string{"material_number"}}},
	}

	schemaSQL, tableSQL, err := buildCreateSQL(spec)
	if err != nil {
		t.Fatalf("buildCreateSQL: %v", err)
	}
	if schemaSQL != "" {
		t.Fatalf("expected no schemaSQL for unqualified table, got %q", schemaSQL)
	}
	if !strings.Contains(tableSQL, "CREATE TABLE IF NOT EXISTS dim_material") {
		t.Fatalf("tableSQL missing CREATE TABLE: %q", tableSQL)
	}
	if !strings.Contains(tableSQL, `"material_id" serial PRIMARY KEY`) {
		t.Fatalf("tableSQL missing primary key: %q", tableSQL)
	}
	if !strings.Contains(tableSQL, `"material_number" varchar(8) NOT NULL`) {
		t.Fatalf("tableSQL missing column definition: %q", tableSQL)
	}
	if !strings.Contains(tableSQL, `UNIQUE ("material_number")`) {
		t.Fatalf("tableSQL missing UNIQUE constraint: %q", tableSQL)
	}
}

func TestBuildCreateSQL_SchemaQualified(t *testing.T) {
	t.Parallel()

	spec := storage.TableSpec{
		Name: "warehouse.fact_forecast",
		Columns: []storage.ColumnSpec{
			{Name: "material_id", Type: "integer", References: "warehouse.dim_material(material_id)", Nullable: boolPtr(false)},
			{Name: "forecast_value", Type: "double precision"},
		},
	}

	schemaSQL, tableSQL, err := buildCreateSQL(spec)
	if err != nil {
		t.Fatalf("buildCreateSQL: %v", err)
	}
	if !strings.Contains(schemaSQL, `CREATE SCHEMA IF NOT EXISTS "warehouse"`) {
		t.Fatalf("unexpected schemaSQL: %q", schemaSQL)
	}
	if !strings.Contains(tableSQL, "REFERENCES warehouse.dim_material(material_id)") {
		t.Fatalf("tableSQL missing foreign key: %q", tableSQL)
	}
	if strings.Contains(tableSQL, `"forecast_value" double precision NOT NULL`) {
		t.Fatalf("nullable column gained NOT NULL: %q", tableSQL)
	}
}

func TestBuildCreateSQL_Rejections(t *testing.T) {
	t.Parallel()

	if _, _, err := buildCreateSQL(storage.TableSpec{Name: " "}); err == nil {
		t.Fatalf("expected error for empty name")
	}

	spec := storage.TableSpec{
		Name:        "t",
		Columns:     []storage.ColumnSpec{{Name: "a", Type: "int"}},
		Constraints: []storage.ConstraintSpec{{Kind: "check"}},
	}
	if _, _, err := buildCreateSQL(spec); err == nil {
		t.Fatalf("expected error for unsupported constraint kind")
	}
}

func TestSplitQualifiedName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in         string
		wantSchema string
		wantTable  string
	}{
		{"warehouse.dim_time", "warehouse", "dim_time"},
		{"dim_time", "", "dim_time"},
		{"a.b.c", "", "a.b.c"},
	}
	for _, tc := range tests {
		schema, table := splitQualifiedName(tc.in)
		if schema != tc.wantSchema || table != tc.wantTable {
			t.Errorf("splitQualifiedName(%q) = (%q, %q), want (%q, %q)",
				tc.in, schema, table, tc.wantSchema, tc.wantTable)
		}
	}
}

func TestPgIdentEscapesQuotes(t *testing.T) {
	t.Parallel()

	if got := pgIdent(`na"me`); got != `"na""me"` {
		t.Fatalf("pgIdent = %q, want doubled quotes", got)
	}
}
