// Package pipeline sequences a warehouse run: extract, validate and
// normalize each configured input file, then load the survivors into the
// star schema. Problems stay as local as the data they belong to: a broken
// region file skips that file, a broken category fails that category, and
// only run-scope errors (config, store open, schema init) stop everything.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"salesetl/internal/config"
	"salesetl/internal/extract"
	"salesetl/internal/metrics"
	"salesetl/internal/normalize"
	"salesetl/internal/storage"
	"salesetl/internal/validate"
	"salesetl/internal/warehouse"
)

// Logger is the minimal logging interface used by the runner.
// *log.Logger satisfies it.
type Logger interface {
	Printf(format string, v ...any)
}

// Runner wires the pipeline stages together.
type Runner struct {
	// NewRepository is the storage factory seam; tests swap it for a fake.
	NewRepository func(ctx context.Context, cfg storage.Config) (storage.Repository, error)

	// ExpandEnv expands environment references in the configured DSN.
	ExpandEnv func(string) string

	// Logger may be nil to discard diagnostics.
	Logger Logger

	// Metrics may be nil to disable metrics.
	Metrics metrics.Backend
}

// NewDefaultRunner returns a Runner wired to the real storage factory.
// Callers set Logger and Metrics after construction.
func NewDefaultRunner() *Runner {
	return &Runner{
		NewRepository: storage.New,
		ExpandEnv:     os.ExpandEnv,
	}
}

func (r *Runner) logf(format string, v ...any) {
	if r.Logger == nil {
		return
	}
	r.Logger.Printf(format, v...)
}

func (r *Runner) metric() metrics.Backend {
	if r.Metrics == nil {
		return metrics.Nop()
	}
	return r.Metrics
}

const (
	statusOK    = "ok"
	statusError = "error"
)

// step records one step execution and its duration since start.
func (r *Runner) step(name, status string, start time.Time) {
	labels := metrics.Labels{"step": name, "status": status}
	m := r.metric()
	m.IncCounter(metrics.StepTotal, 1, labels)
	m.ObserveHistogram(metrics.StepDurationSeconds, time.Since(start).Seconds(), labels)
}

func (r *Runner) countRecords(kind string, n int64) {
	if n <= 0 {
		return
	}
	r.metric().IncCounter(metrics.RecordsTotal, float64(n), metrics.Labels{"kind": kind})
}

// Run executes one warehouse run for cfg.
//
// The report carries one outcome per category. Sales and forecast are
// attempted independently; a failure in one never stops the other.
func (r *Runner) Run(ctx context.Context, cfg *config.Config) RunReport {
	rep := RunReport{
		Sales:    CategoryOutcome{Status: StatusSkipped},
		Forecast: CategoryOutcome{Status: StatusSkipped},
	}

	if err := cfg.Validate(); err != nil {
		rep.Err = fmt.Errorf("config: %w", err)
		return rep
	}

	dsn := cfg.Database.StorageDSN()
	if r.ExpandEnv != nil {
		dsn = r.ExpandEnv(dsn)
	}

	repo, err := r.NewRepository(ctx, storage.Config{Kind: cfg.Database.Kind, DSN: dsn})
	if err != nil {
		rep.Err = fmt.Errorf("open warehouse: %w", err)
		return rep
	}
	defer repo.Close()

	loader := &warehouse.Loader{Repo: repo, Logger: r.Logger}

	start := time.Now()
	if err := loader.EnsureSchema(ctx); err != nil {
		r.step("schema", statusError, start)
		rep.Err = fmt.Errorf("ensure schema: %w", err)
		return rep
	}
	r.step("schema", statusOK, start)

	rep.Sales = r.runSales(ctx, cfg, loader)
	rep.Forecast = r.runForecast(ctx, loader, cfg.InputFiles.Forecast)
	return rep
}

// runSales accumulates normalized records across every configured region
// file and loads them in one pass, so cross-file material and period
// dimensions are diffed exactly once.
func (r *Runner) runSales(ctx context.Context, cfg *config.Config, loader *warehouse.Loader) CategoryOutcome {
	if !cfg.InputFiles.HasSales() {
		return CategoryOutcome{Status: StatusSkipped}
	}

	ex := &extract.Extractor{Logger: r.Logger}
	var all []normalize.SalesRecord

	for _, region := range cfg.InputFiles.SalesRegions() {
		path := cfg.InputFiles.Sales[region]
		recs := r.salesFromFile(ex, region, path)
		if len(recs) > 0 {
			r.logf("stage=sales region=%s file=%s rows=%d", region, path, len(recs))
			all = append(all, recs...)
		}
	}

	if len(all) == 0 {
		return CategoryOutcome{Status: StatusEmpty, Err: errors.New("no loadable sales records in any configured region")}
	}
	r.countRecords("sales_normalized", int64(len(all)))

	start := time.Now()
	stats, err := loader.LoadSalesFacts(ctx, all)
	if err != nil {
		r.step("load", statusError, start)
		return CategoryOutcome{Status: StatusFailed, Err: fmt.Errorf("load sales: %w", err)}
	}
	r.step("load", statusOK, start)
	r.metric().IncCounter(metrics.BatchesTotal, 1, nil)
	r.countRecords("sales_inserted", stats.Facts)
	return CategoryOutcome{Status: StatusLoaded, Loaded: stats.Facts}
}

// salesFromFile runs extract/validate/normalize for one region file. The
// file path doubles as the region hint for normalization. Problems are
// logged and reduce the result to zero records; they never abort the
// other regions.
func (r *Runner) salesFromFile(ex *extract.Extractor, region, path string) []normalize.SalesRecord {
	start := time.Now()
	t, err := ex.ReadFile(path)
	if err != nil {
		r.step("extract", statusError, start)
		r.logf("stage=extract category=sales region=%s file=%s err=%v", region, path, err)
		return nil
	}
	r.step("extract", statusOK, start)

	start = time.Now()
	vt, vrep := validate.Sales(t)
	r.step("validate", statusOK, start)
	r.logf("stage=validate region=%s %s", region, vrep.Summary())
	if vt.Empty() {
		return nil
	}

	start = time.Now()
	recs, nrep := normalize.Sales(vt, path)
	r.step("normalize", statusOK, start)
	r.logf("stage=normalize region=%s %s", region, nrep.Summary())
	return recs
}

func (r *Runner) runForecast(ctx context.Context, loader *warehouse.Loader, path string) CategoryOutcome {
	if path == "" {
		return CategoryOutcome{Status: StatusSkipped}
	}

	ex := &extract.Extractor{Logger: r.Logger}

	start := time.Now()
	t, err := ex.ReadFile(path)
	if err != nil {
		r.step("extract", statusError, start)
		r.logf("stage=extract category=forecast file=%s err=%v", path, err)
		return CategoryOutcome{Status: StatusEmpty, Err: fmt.Errorf("read forecast: %w", err)}
	}
	r.step("extract", statusOK, start)

	start = time.Now()
	vt, vrep := validate.Forecast(t)
	r.step("validate", statusOK, start)
	r.logf("stage=validate %s", vrep.Summary())
	if vt.Empty() {
		return CategoryOutcome{Status: StatusEmpty, Err: errors.New("no forecast rows survived validation")}
	}

	start = time.Now()
	recs, nrep := normalize.Forecast(vt)
	r.step("normalize", statusOK, start)
	r.logf("stage=normalize %s", nrep.Summary())
	if len(recs) == 0 {
		return CategoryOutcome{Status: StatusEmpty, Err: errors.New("no forecast rows survived normalization")}
	}
	r.countRecords("forecast_normalized", int64(len(recs)))

	start = time.Now()
	stats, err := loader.LoadForecastFacts(ctx, recs)
	if err != nil {
		r.step("load", statusError, start)
		return CategoryOutcome{Status: StatusFailed, Err: fmt.Errorf("load forecast: %w", err)}
	}
	r.step("load", statusOK, start)
	r.metric().IncCounter(metrics.BatchesTotal, 1, nil)
	r.countRecords("forecast_inserted", stats.Facts)
	return CategoryOutcome{Status: StatusLoaded, Loaded: stats.Facts}
}
