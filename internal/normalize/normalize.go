// Package normalize turns validated tables into canonical typed records.
//
// Each entry point is a pure function over its input table: column names
// collapse to canonical form, region codes are resolved, periods are
// canonicalized, and material numbers pass through the standardizer. Rows
// that cannot be coerced are dropped and counted, never fatal.
package normalize

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"salesetl/internal/extract"
	"salesetl/internal/material"
)

// regionHints maps source-path tokens to fixed region codes. The first
// token found in the lowercased hint wins and overrides every row's own
// region code.
var regionHints = []struct {
	Token string
	Code  string
}{
	{"asia", "4"},
	{"emea", "1"},
	{"americas", "2"},
}

// regionVariants collapses legacy region codes onto their canonical code.
// Several retired Asia feeds kept their own codes, so most variants land on
// Asia Pacific.
var regionVariants = map[string]string{
	"0": "4",
	"5": "4",
	"6": "4",
	"7": "4",
	"1": "1",
	"2": "2",
	"4": "4",
}

// salesSource is the column set Sales reads from its input table.
var salesSource = []string{"PERIOD", "MATERIAL_NBR", "GROSS_SALES", "NET_SALES", "REGION_CODE"}

// HintRegion returns the region code forced by a source hint (usually a
// file path), or "" when the hint contains no recognized token.
func HintRegion(sourceHint string) string {
	h := strings.ToLower(sourceHint)
	for _, rh := range regionHints {
		if strings.Contains(h, rh.Token) {
			return rh.Code
		}
	}
	return ""
}

// Sales converts a validated sales table into canonical records.
//
// Region precedence: a recognized token in sourceHint forces that region
// onto every row; otherwise each row's own code is remapped through the
// variant table. Unmapped codes yield records with an empty RegionCode,
// which the fact load later rejects as a hard error rather than silently
// skipping.
func Sales(t *extract.Table, sourceHint string) ([]SalesRecord, Report) {
	if t == nil {
		t = &extract.Table{}
	}
	rep := Report{Category: "sales", Input: len(t.Rows)}

	for _, c := range salesSource {
		if !t.HasColumn(c) {
			rep.MissingColumns = append(rep.MissingColumns, c)
		}
	}
	if len(rep.MissingColumns) > 0 {
		return nil, rep
	}

	rep.ForcedRegion = HintRegion(sourceHint)

	recs := make([]SalesRecord, 0, len(t.Rows))
	for _, row := range t.Rows {
		period := strings.ReplaceAll(asString(row["PERIOD"]), ".", "")
		year, ok := yearOf(period)
		if !ok {
			rep.DroppedYear++
			continue
		}
		gross, gok := asFloat(row["GROSS_SALES"])
		net, nok := asFloat(row["NET_SALES"])
		if !gok || !nok {
			rep.DroppedValue++
			continue
		}

		region := rep.ForcedRegion
		if region == "" {
			mapped, known := regionVariants[asString(row["REGION_CODE"])]
			if !known {
				rep.UnmappedRegions++
			}
			region = mapped
		}

		recs = append(recs, SalesRecord{
			Period:         period,
			MaterialNumber: material.StandardizeNumber(row["MATERIAL_NBR"]),
			GrossSales:     gross,
			NetSales:       net,
			RegionCode:     region,
			Year:           year,
		})
	}
	rep.Output = len(recs)
	return recs, rep
}

// Forecast converts a validated forecast table into canonical records.
//
// An explicit YEAR column wins; year is derived from PERIOD's first 4
// characters only when YEAR is absent.
func Forecast(t *extract.Table) ([]ForecastRecord, Report) {
	if t == nil {
		t = &extract.Table{}
	}
	rep := Report{Category: "forecast", Input: len(t.Rows)}

	materialCol := firstColumn(t, "MATERIAL_NUMBER", "MATERIAL_NBR")
	valueCol := firstColumn(t, "FORECAST_VAL", "FORECAST_VALUE")
	hasYear := t.HasColumn("YEAR")
	hasPeriod := t.HasColumn("PERIOD")

	if materialCol == "" {
		rep.MissingColumns = append(rep.MissingColumns, "MATERIAL_NUMBER|MATERIAL_NBR")
	}
	if !hasYear && !hasPeriod {
		rep.MissingColumns = append(rep.MissingColumns, "YEAR|PERIOD")
	}
	if valueCol == "" {
		rep.MissingColumns = append(rep.MissingColumns, "FORECAST_VAL|FORECAST_VALUE")
	}
	if len(rep.MissingColumns) > 0 {
		return nil, rep
	}

	recs := make([]ForecastRecord, 0, len(t.Rows))
	for _, row := range t.Rows {
		var year int
		var ok bool
		if hasYear {
			year, ok = asInt(row["YEAR"])
		} else {
			year, ok = yearOf(asString(row["PERIOD"]))
		}
		if !ok {
			rep.DroppedYear++
			continue
		}

		value, ok := asFloat(row[valueCol])
		if !ok {
			rep.DroppedValue++
			continue
		}

		recs = append(recs, ForecastRecord{
			MaterialNumber: material.StandardizeNumber(row[materialCol]),
			Year:           year,
			ForecastValue:  value,
		})
	}
	rep.Output = len(recs)
	return recs, rep
}

// yearOf parses the leading 4 characters of a period string as the year.
func yearOf(period string) (int, bool) {
	if len(period) < 4 {
		return 0, false
	}
	y, err := strconv.Atoi(period[:4])
	if err != nil {
		return 0, false
	}
	return y, true
}

func firstColumn(t *extract.Table, names ...string) string {
	for _, n := range names {
		if t.HasColumn(n) {
			return n
		}
	}
	return ""
}

func asString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case float64:
		if x != math.Trunc(x) {
			return 0, false
		}
		return int(x), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func asFloat(v any) (float64, bool) {
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
