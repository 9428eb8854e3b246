package extract

import "strings"

// Row is one extracted record: source column name (after header
// standardization) to cell value. Empty cells are nil. Values are strings as
// read, except the sheet-derived YEAR column which is injected as int.
type Row map[string]any

// Table is an extracted tabular dataset. Columns preserves source order and
// is the authority on which columns exist; Rows may omit keys for cells that
// were empty.
type Table struct {
	Columns []string
	Rows    []Row
}

// Empty reports whether the table carries no rows. A nil table is empty.
func (t *Table) Empty() bool { return t == nil || len(t.Rows) == 0 }

// Len returns the number of rows. A nil table has zero rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// HasColumn reports whether name is one of the table's columns.
func (t *Table) HasColumn(name string) bool {
	if t == nil {
		return false
	}
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

func (t *Table) ensureColumn(name string) {
	if !t.HasColumn(name) {
		t.Columns = append(t.Columns, name)
	}
}

// columnAliases maps legacy source spellings to the canonical extraction
// names. Applied after trimming and uppercasing.
var columnAliases = map[string]string{
	"MATERIAL":        "MATERIAL_NBR",
	"MATERIAL_NO":     "MATERIAL_NBR",
	"MATERIAL_NUMBER": "MATERIAL_NBR",
	"SALES_GROSS":     "GROSS_SALES",
	"SALES_NET":       "NET_SALES",
	"REGION":          "REGION_CODE",
	"REGION_CD":       "REGION_CODE",
}

// standardizeColumns trims, uppercases and alias-maps a raw header.
//
// Aliasing never clobbers: when the canonical name is already taken by
// another column in the same header, the source column keeps its original
// name (and is dropped later by projection). Applying the function to its own
// output is a no-op.
func standardizeColumns(header []string) []string {
	out := make([]string, len(header))
	taken := make(map[string]bool, len(header))

	for i, h := range header {
		h = strings.ToUpper(strings.TrimSpace(h))
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		out[i] = h
		taken[h] = true
	}

	for i, h := range out {
		target, ok := columnAliases[h]
		if !ok {
			continue
		}
		if taken[target] {
			continue
		}
		out[i] = target
		taken[target] = true
	}
	return out
}
