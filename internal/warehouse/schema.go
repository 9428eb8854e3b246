package warehouse

import "salesetl/internal/storage"

// Table and column names of the star schema. The layout is a fixed contract:
// callers configure where the warehouse lives, never what it looks like.
const (
	tableMaterial = "dim_material"
	tableTime     = "dim_time"
	tableSales    = "fact_sales"
	tableForecast = "fact_forecast"

	colMaterialID     = "material_id"
	colMaterialNumber = "material_number"
	colTimeID         = "time_id"
	colPeriod         = "period"
	colYear           = "year"
)

func boolPtr(b bool) *bool { return &b }

// Tables returns the star schema in creation order: dimensions first so the
// fact tables' REFERENCES clauses resolve.
//
// All tables are idempotently creatable; EnsureSchema is safe on every run.
func Tables() []storage.TableSpec {
	return []storage.TableSpec{
		{
			Name:       tableMaterial,
			PrimaryKey: &storage.PrimaryKeySpec{Name: colMaterialID, Type: "serial"},
			Columns: []storage.ColumnSpec{
				{Name: colMaterialNumber, Type: "varchar(8)", Nullable: boolPtr(false)},
			},
			Constraints: []storage.ConstraintSpec{
				{Kind: "unique", Columns: []string{colMaterialNumber}},
			},
		},
		{
			Name:       tableTime,
			PrimaryKey: &storage.PrimaryKeySpec{Name: colTimeID, Type: "serial"},
			Columns: []storage.ColumnSpec{
				{Name: colPeriod, Type: "varchar(16)", Nullable: boolPtr(false)},
				{Name: colYear, Type: "int", Nullable: boolPtr(false)},
			},
			Constraints: []storage.ConstraintSpec{
				{Kind: "unique", Columns: []string{colPeriod}},
			},
		},
		{
			Name: tableSales,
			Columns: []storage.ColumnSpec{
				{Name: colMaterialID, Type: "int", Nullable: boolPtr(false), References: "dim_material (material_id)"},
				{Name: colTimeID, Type: "int", Nullable: boolPtr(false), References: "dim_time (time_id)"},
				{Name: "region_code", Type: "varchar(8)", Nullable: boolPtr(false)},
				{Name: "gross_sales", Type: "double precision"},
				{Name: "net_sales", Type: "double precision"},
			},
		},
		{
			Name: tableForecast,
			Columns: []storage.ColumnSpec{
				{Name: colMaterialID, Type: "int", Nullable: boolPtr(false), References: "dim_material (material_id)"},
				{Name: colTimeID, Type: "int", Nullable: boolPtr(false), References: "dim_time (time_id)"},
				{Name: "forecast_value", Type: "double precision"},
			},
		},
	}
}

// regionNames is the fixed region reference data. Region is deliberately not
// a warehouse table: the code set is closed and fact_sales stores the code
// itself. An input code outside this set means unstandardized or corrupt
// data, which fails the whole sales batch.
var regionNames = map[string]string{
	"1": "EMEA",
	"2": "Americas",
	"4": "Asia Pacific",
}

// RegionName resolves a region code to its display name.
func RegionName(code string) (string, bool) {
	name, ok := regionNames[code]
	return name, ok
}
