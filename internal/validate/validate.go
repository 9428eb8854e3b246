// Package validate screens extracted tables against each category's
// required-column and row-quality rules.
//
// Both entry points are total: they never fail the caller. They return a
// cleaned (possibly empty) table plus a Report describing every rejection,
// and the caller decides whether an empty result fails the run.
package validate

import (
	"math"
	"strconv"
	"strings"

	"salesetl/internal/extract"
)

// salesRequired is the exact post-extraction column set for sales input.
// Any absent member fails the pass before row-level checks.
var salesRequired = []string{"PERIOD", "MATERIAL_NBR", "GROSS_SALES", "NET_SALES", "REGION_CODE"}

// forecastGroups lists the alternation groups for forecast input. At least
// one column of each group must be present.
var forecastGroups = [][]string{
	{"MATERIAL_NUMBER", "MATERIAL_NBR"},
	{"YEAR", "PERIOD"},
	{"FORECAST_VAL", "FORECAST_VALUE"},
}

// forecastValueColumns are coerced to numeric when present.
var forecastValueColumns = []string{"FORECAST_VAL", "FORECAST_VALUE"}

// netOverGrossTolerance allows net sales to exceed gross by 1% before the
// row is rejected as implausible.
const netOverGrossTolerance = 0.01

// Sales validates a sales table.
//
// If any required column is absent the result is empty and the report names
// the missing columns. Otherwise rows are dropped for a null in a required
// column, a gross or net value that does not coerce to a number, or net
// exceeding gross by more than the tolerance. Kept rows carry gross and net
// as float64.
func Sales(t *extract.Table) (*extract.Table, Report) {
	if t == nil {
		t = &extract.Table{}
	}
	rep := Report{Category: "sales", Input: len(t.Rows)}

	for _, c := range salesRequired {
		if !t.HasColumn(c) {
			rep.MissingColumns = append(rep.MissingColumns, c)
		}
	}
	if len(rep.MissingColumns) > 0 {
		return &extract.Table{}, rep
	}

	out := &extract.Table{Columns: append([]string(nil), t.Columns...)}
	for _, row := range t.Rows {
		if anyNull(row, salesRequired) {
			rep.DroppedNull++
			continue
		}
		gross, gok := toFloat(row["GROSS_SALES"])
		net, nok := toFloat(row["NET_SALES"])
		if !gok || !nok {
			rep.DroppedNumeric++
			continue
		}
		if net > gross*(1+netOverGrossTolerance) {
			rep.DroppedRule++
			continue
		}
		kept := copyRow(row)
		kept["GROSS_SALES"] = gross
		kept["NET_SALES"] = net
		out.Rows = append(out.Rows, kept)
	}
	rep.Output = len(out.Rows)
	return out, rep
}

// Forecast validates a forecast table.
//
// Column names vary between source systems, so requirements are alternation
// groups rather than exact names. Forecast values are coerced to float64;
// rows with a null in any present group column, or a value that does not
// coerce, are dropped.
func Forecast(t *extract.Table) (*extract.Table, Report) {
	if t == nil {
		t = &extract.Table{}
	}
	rep := Report{Category: "forecast", Input: len(t.Rows)}

	var checked []string
	for _, group := range forecastGroups {
		present := presentColumns(t, group)
		if len(present) == 0 {
			rep.MissingColumns = append(rep.MissingColumns, strings.Join(group, "|"))
			continue
		}
		checked = append(checked, present...)
	}
	if len(rep.MissingColumns) > 0 {
		return &extract.Table{}, rep
	}

	valueCols := presentColumns(t, forecastValueColumns)

	out := &extract.Table{Columns: append([]string(nil), t.Columns...)}
	for _, row := range t.Rows {
		if anyNull(row, checked) {
			rep.DroppedNull++
			continue
		}
		kept := copyRow(row)
		coerced := true
		for _, c := range valueCols {
			f, ok := toFloat(row[c])
			if !ok {
				coerced = false
				break
			}
			kept[c] = f
		}
		if !coerced {
			rep.DroppedNumeric++
			continue
		}
		out.Rows = append(out.Rows, kept)
	}
	rep.Output = len(out.Rows)
	return out, rep
}

func anyNull(row extract.Row, cols []string) bool {
	for _, c := range cols {
		if row[c] == nil {
			return true
		}
	}
	return false
}

func presentColumns(t *extract.Table, cols []string) []string {
	var present []string
	for _, c := range cols {
		if t.HasColumn(c) {
			present = append(present, c)
		}
	}
	return present
}

func copyRow(row extract.Row) extract.Row {
	kept := make(extract.Row, len(row))
	for k, v := range row {
		kept[k] = v
	}
	return kept
}

// toFloat coerces a cell to float64. Strings are parsed after trimming.
// NaN counts as non-numeric so it cannot reach the store as a value.
func toFloat(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) {
		return 0, false
	}
	return f, true
}
