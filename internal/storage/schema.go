// The schema spec types live in the storage package so backends and the
// warehouse schema definition can share them without circular imports.
package storage

// TableSpec describes one warehouse table for EnsureSchema.
type TableSpec struct {
	Name        string
	PrimaryKey  *PrimaryKeySpec
	Columns     []ColumnSpec
	Constraints []ConstraintSpec
}

// PrimaryKeySpec is a surrogate-key column. Type "serial" maps to each
// backend's auto-increment integer flavor.
type PrimaryKeySpec struct {
	Name string
	Type string
}

// ColumnSpec is one plain column. References names a "table(column)"
// foreign-key target; a nil Nullable means nullable.
type ColumnSpec struct {
	Name       string
	Type       string
	References string
	Nullable   *bool
}

// ConstraintSpec is a table-level constraint. Kind "unique" is the only
// kind backends implement.
type ConstraintSpec struct {
	Kind    string
	Columns []string
}
