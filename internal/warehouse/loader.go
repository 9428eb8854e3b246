// Package warehouse owns the star schema: surrogate key assignment,
// append-only dimension loads and all-or-nothing fact loads. Upstream
// stages deal only in natural keys (material_number, period) and never see
// surrogate ids.
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"strconv"
	"time"

	"salesetl/internal/material"
	"salesetl/internal/normalize"
	"salesetl/internal/storage"
)

// ErrNoForecastRows reports a forecast load whose input was non-empty but
// produced zero loadable fact rows. Distinct from an empty input, which is
// not an error.
var ErrNoForecastRows = errors.New("warehouse: no loadable forecast rows after dimension resolution")

// Logger is the minimal logging interface used by the loader.
// *log.Logger satisfies it.
type Logger interface {
	Printf(format string, v ...any)
}

var _ Logger = (*log.Logger)(nil)

// Loader loads canonical sales and forecast records into the star schema.
//
// Dimensions are append-only: a natural key goes absent -> present exactly
// once and is never updated or removed. The loader diffs against the store
// before inserting, and the backends additionally treat natural-key
// conflicts as "already exists, ignore", so reruns cannot duplicate a
// dimension row.
type Loader struct {
	Repo   storage.Repository
	Logger Logger
}

// Stats describes what one fact load wrote.
type Stats struct {
	Category          string
	Facts             int64
	NewMaterials      int
	NewPeriods        int
	Healed            int
	Dropped           int
	DistinctMaterials int
	DistinctPeriods   int
}

// Summary renders the stats as one key=value log line fragment.
func (s Stats) Summary() string {
	return fmt.Sprintf("category=%s facts=%d new_materials=%d new_periods=%d healed=%d dropped=%d",
		s.Category, s.Facts, s.NewMaterials, s.NewPeriods, s.Healed, s.Dropped)
}

func (l *Loader) logf(format string, v ...any) {
	if l.Logger == nil {
		return
	}
	l.Logger.Printf(format, v...)
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }

// EnsureSchema creates the star schema tables when missing. Safe on every run.
func (l *Loader) EnsureSchema(ctx context.Context) error {
	start := time.Now()
	if err := l.Repo.EnsureSchema(ctx, Tables()); err != nil {
		return err
	}
	l.logf("stage=ddl ok duration=%s", durMS(start))
	return nil
}

// LoadSalesFacts loads one combined batch of canonical sales records:
// refresh both dimensions from the batch's natural keys, resolve surrogate
// ids, then append every row to fact_sales in a single all-or-nothing
// insert.
//
// An unknown or empty region code fails the whole batch before anything is
// written: region codes are fixed reference data, and an unmapped code
// means the input escaped normalization.
func (l *Loader) LoadSalesFacts(ctx context.Context, recs []normalize.SalesRecord) (Stats, error) {
	stats := Stats{Category: "sales"}
	if len(recs) == 0 {
		return stats, nil
	}
	start := time.Now()

	if err := checkRegions(recs); err != nil {
		return stats, err
	}

	numbers := make([]string, len(recs))
	times := make([]timeRow, len(recs))
	for i, rec := range recs {
		numbers[i] = material.StandardizeNumber(rec.MaterialNumber)
		times[i] = timeRow{period: rec.Period, year: rec.Year}
	}

	var err error
	if stats.NewMaterials, err = l.loadMaterialDim(ctx, numbers); err != nil {
		return stats, err
	}
	if stats.NewPeriods, err = l.loadTimeDim(ctx, times); err != nil {
		return stats, err
	}

	mats, err := l.ResolveMaterialIDs(ctx, numbers)
	if err != nil {
		return stats, err
	}
	stats.Healed = mats.Healed

	periods := make([]string, len(recs))
	for i, rec := range recs {
		periods[i] = rec.Period
	}
	timeIDs, err := l.resolveTimeIDs(ctx, periods)
	if err != nil {
		return stats, err
	}

	columns := []string{"material_id", "time_id", "region_code", "gross_sales", "net_sales"}
	rows := make([][]any, len(recs))
	for i, rec := range recs {
		rows[i] = []any{
			mats.IDs[numbers[i]],
			timeIDs[rec.Period],
			rec.RegionCode,
			rec.GrossSales,
			rec.NetSales,
		}
	}

	if stats.Facts, err = l.Repo.InsertFactRows(ctx, tableSales, columns, rows); err != nil {
		return stats, err
	}
	stats.DistinctMaterials = len(mats.IDs)
	stats.DistinctPeriods = len(timeIDs)

	l.logf("stage=fact_sales rows=%d new_materials=%d new_periods=%d healed=%d duration=%s",
		stats.Facts, stats.NewMaterials, stats.NewPeriods, stats.Healed, durMS(start))
	return stats, nil
}

// LoadForecastFacts loads canonical forecast records. Time rows are
// synthesized from the distinct years, ascending, as "<year>.01" periods;
// the facts resolve their time_id against the same synthesized period.
func (l *Loader) LoadForecastFacts(ctx context.Context, recs []normalize.ForecastRecord) (Stats, error) {
	stats := Stats{Category: "forecast"}
	if len(recs) == 0 {
		return stats, nil
	}
	start := time.Now()

	numbers := make([]string, len(recs))
	for i, rec := range recs {
		numbers[i] = material.StandardizeNumber(rec.MaterialNumber)
	}

	years := make([]int, 0, len(recs))
	seenYear := make(map[int]bool, len(recs))
	for _, rec := range recs {
		if seenYear[rec.Year] {
			continue
		}
		seenYear[rec.Year] = true
		years = append(years, rec.Year)
	}
	sort.Ints(years)

	times := make([]timeRow, len(years))
	for i, y := range years {
		times[i] = timeRow{period: forecastPeriod(y), year: y}
	}

	var err error
	if stats.NewMaterials, err = l.loadMaterialDim(ctx, numbers); err != nil {
		return stats, err
	}
	if stats.NewPeriods, err = l.loadTimeDim(ctx, times); err != nil {
		return stats, err
	}

	mats, err := l.ResolveMaterialIDs(ctx, numbers)
	if err != nil {
		return stats, err
	}
	stats.Healed = mats.Healed

	periods := make([]string, len(recs))
	for i, rec := range recs {
		periods[i] = forecastPeriod(rec.Year)
	}
	timeIDs, err := l.resolveTimeIDs(ctx, periods)
	if err != nil {
		return stats, err
	}

	columns := []string{"material_id", "time_id", "forecast_value"}
	rows := make([][]any, 0, len(recs))
	for i, rec := range recs {
		if math.IsNaN(rec.ForecastValue) {
			stats.Dropped++
			continue
		}
		rows = append(rows, []any{mats.IDs[numbers[i]], timeIDs[periods[i]], rec.ForecastValue})
	}
	if len(rows) == 0 {
		return stats, fmt.Errorf("%w (input=%d dropped=%d)", ErrNoForecastRows, len(recs), stats.Dropped)
	}

	if stats.Facts, err = l.Repo.InsertFactRows(ctx, tableForecast, columns, rows); err != nil {
		return stats, err
	}
	stats.DistinctMaterials = len(mats.IDs)
	stats.DistinctPeriods = len(timeIDs)

	l.logf("stage=fact_forecast rows=%d unique_materials=%d unique_periods=%d dropped=%d duration=%s",
		stats.Facts, stats.DistinctMaterials, stats.DistinctPeriods, stats.Dropped, durMS(start))
	return stats, nil
}

// MaterialResolution reports one resolution pass over a set of material
// numbers. IDs is keyed by canonical number; Healed counts numbers that had
// to be inserted by the retry step.
type MaterialResolution struct {
	IDs    map[string]int64
	Healed int
}

// resolveState tracks the bounded self-heal protocol for material lookups:
// one resolution attempt, at most one insert of the missing keys, one
// retry. There is no loop.
type resolveState int

const (
	stateResolved resolveState = iota
	stateNeedsInsert
	stateFailed
)

// ResolveMaterialIDs maps every material number to its surrogate id,
// standardizing before lookup. Numbers absent from dim_material are
// inserted once and the lookup retried; numbers still unresolved after the
// retry fail the call.
func (l *Loader) ResolveMaterialIDs(ctx context.Context, numbers []string) (MaterialResolution, error) {
	var res MaterialResolution

	canonical := make([]string, len(numbers))
	for i, n := range numbers {
		canonical[i] = material.StandardizeNumber(n)
	}

	ids, missing, err := l.materialAttempt(ctx, canonical)
	if err != nil {
		return res, err
	}

	state := stateResolved
	if len(missing) > 0 {
		state = stateNeedsInsert
	}

	if state == stateNeedsInsert {
		if _, err := l.loadMaterialDim(ctx, missing); err != nil {
			return res, err
		}
		res.Healed = len(missing)
		l.logf("stage=resolve_materials healed=%d sample=%v", len(missing), sample(missing, 5))

		if ids, missing, err = l.materialAttempt(ctx, canonical); err != nil {
			return res, err
		}
		state = stateResolved
		if len(missing) > 0 {
			state = stateFailed
		}
	}

	if state == stateFailed {
		return res, fmt.Errorf("dim_material: %d material numbers unresolved after insert retry (sample %v)",
			len(missing), sample(missing, 5))
	}

	res.IDs = ids
	return res, nil
}

// materialAttempt builds the canonical number -> id map from the full
// dimension contents. Stored values are standardized exactly like lookup
// values: canonical form is the only form material identity is compared in.
func (l *Loader) materialAttempt(ctx context.Context, canonical []string) (ids map[string]int64, missing []string, err error) {
	all, err := l.Repo.SelectAllKeyValue(ctx, tableMaterial, colMaterialNumber, colMaterialID)
	if err != nil {
		return nil, nil, err
	}

	byCanonical := make(map[string]int64, len(all))
	for k, id := range all {
		byCanonical[material.StandardizeNumber(k)] = id
	}

	ids = make(map[string]int64, len(canonical))
	seenMissing := map[string]bool{}
	for _, n := range canonical {
		if id, ok := byCanonical[n]; ok {
			ids[n] = id
			continue
		}
		if !seenMissing[n] {
			seenMissing[n] = true
			missing = append(missing, n)
		}
	}
	return ids, missing, nil
}

// resolveTimeIDs maps each distinct period to its surrogate id. A period
// missing from dim_time is a hard error; time has no self-heal path.
func (l *Loader) resolveTimeIDs(ctx context.Context, periods []string) (map[string]int64, error) {
	distinct := make([]any, 0, len(periods))
	seen := make(map[string]bool, len(periods))
	for _, p := range periods {
		if seen[p] {
			continue
		}
		seen[p] = true
		distinct = append(distinct, p)
	}

	ids, err := l.Repo.SelectKeyValueByKeys(ctx, tableTime, colPeriod, colTimeID, distinct)
	if err != nil {
		return nil, err
	}

	var missing []string
	for p := range seen {
		if _, ok := ids[p]; !ok {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("dim_time: missing period mappings (sample %v)", sample(missing, 5))
	}
	return ids, nil
}

// timeRow is one candidate dim_time row.
type timeRow struct {
	period string
	year   int
}

// loadMaterialDim appends material numbers absent from dim_material and
// reports how many were new. Input order decides insert order.
func (l *Loader) loadMaterialDim(ctx context.Context, numbers []string) (int, error) {
	start := time.Now()

	existing, err := l.Repo.SelectAllKeyValue(ctx, tableMaterial, colMaterialNumber, colMaterialID)
	if err != nil {
		return 0, err
	}
	present := make(map[string]bool, len(existing))
	for k := range existing {
		present[material.StandardizeNumber(k)] = true
	}

	var rows [][]any
	for _, n := range numbers {
		canonical := material.StandardizeNumber(n)
		if present[canonical] {
			continue
		}
		present[canonical] = true
		rows = append(rows, []any{canonical})
	}
	if len(rows) == 0 {
		return 0, nil
	}

	if err := l.Repo.InsertDimensionRows(ctx, tableMaterial, []string{colMaterialNumber}, rows, []string{colMaterialNumber}); err != nil {
		return 0, err
	}
	l.logf("stage=dim_material new=%d duration=%s", len(rows), durMS(start))
	return len(rows), nil
}

// loadTimeDim appends periods absent from dim_time. Uniqueness is on period
// alone; the first row wins when the batch repeats a period.
func (l *Loader) loadTimeDim(ctx context.Context, rows []timeRow) (int, error) {
	start := time.Now()

	existing, err := l.Repo.SelectAllKeyValue(ctx, tableTime, colPeriod, colTimeID)
	if err != nil {
		return 0, err
	}
	present := make(map[string]bool, len(existing))
	for k := range existing {
		present[k] = true
	}

	var insert [][]any
	for _, tr := range rows {
		if present[tr.period] {
			continue
		}
		present[tr.period] = true
		insert = append(insert, []any{tr.period, tr.year})
	}
	if len(insert) == 0 {
		return 0, nil
	}

	if err := l.Repo.InsertDimensionRows(ctx, tableTime, []string{colPeriod, colYear}, insert, []string{colPeriod}); err != nil {
		return 0, err
	}
	l.logf("stage=dim_time new=%d duration=%s", len(insert), durMS(start))
	return len(insert), nil
}

// checkRegions rejects the batch when any record carries a region code
// outside the fixed registry. An empty code is an unmapped legacy variant
// that survived normalization.
func checkRegions(recs []normalize.SalesRecord) error {
	var bad []string
	seen := map[string]bool{}
	for _, rec := range recs {
		if _, ok := RegionName(rec.RegionCode); ok {
			continue
		}
		code := rec.RegionCode
		if code == "" {
			code = "(empty)"
		}
		if !seen[code] {
			seen[code] = true
			bad = append(bad, code)
		}
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return fmt.Errorf("fact_sales: invalid region codes %v", bad)
	}
	return nil
}

// forecastPeriod synthesizes the dim_time period for a forecast year. The
// dotted form keeps forecast periods alongside the stripped sales periods
// ("202401" vs "2024.01") without colliding.
func forecastPeriod(year int) string { return strconv.Itoa(year) + ".01" }

// sample bounds slice content in error and log messages.
func sample(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[:n]
}
