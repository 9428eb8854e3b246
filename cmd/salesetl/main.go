// Command salesetl runs the sales and forecast warehouse pipeline: it loads
// the YAML config, opens the configured backend, and extracts, validates,
// normalizes and loads every configured input file in one run.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"salesetl/internal/config"
	"salesetl/internal/metrics"
	"salesetl/internal/metrics/datadog"
	"salesetl/internal/pipeline"

	// register all backends with the storage factory.
	// config specifies which to use but we need to build in support for all of them.
	_ "salesetl/internal/storage/all"
)

func main() {
	os.Exit(runMain(context.Background(), os.Args[1:], os.Stdout, os.Stderr, defaultDeps()))
}

// runner is the minimal pipeline surface the CLI needs; tests swap it.
type runner interface {
	Run(ctx context.Context, cfg *config.Config) pipeline.RunReport
}

// appDeps are the seams runMain needs. Production wiring lives in
// defaultDeps; tests substitute deterministic fakes.
type appDeps struct {
	loadConfig  func(path string) (*config.Config, error)
	openLogFile func(path string) (io.WriteCloser, error)
	initMetrics func(ctx context.Context, cfg config.Metrics, logf func(format string, v ...any)) (metrics.Backend, func(), error)
	newRunner   func(logger pipeline.Logger, m metrics.Backend) runner
}

func defaultDeps() appDeps {
	return appDeps{
		loadConfig:  config.Load,
		openLogFile: openLogFile,
		initMetrics: initMetrics,
		newRunner: func(logger pipeline.Logger, m metrics.Backend) runner {
			r := pipeline.NewDefaultRunner()
			r.Logger = logger
			r.Metrics = m
			return r
		},
	}
}

func openLogFile(path string) (io.WriteCloser, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

// runMain is the testable body of main. Usage errors exit 2, runtime errors
// exit 1.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fs := flag.NewFlagSet("salesetl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		cfgPath        = fs.String("config", "config/dev.yaml", "pipeline config YAML path")
		dbDSN          = fs.String("db", "", "override database DSN (or sqlite path)")
		dbKind         = fs.String("db-kind", "", "override database kind (sqlite|postgres|mssql)")
		metricsBackend = fs.String("metrics", "", "override metrics backend (none|datadog)")
		logFile        = fs.String("log-file", "", "append logs to this file as well as stderr")
	)

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(*cfgPath) == "" {
		fmt.Fprintln(stderr, "usage: salesetl -config path/to/config.yaml")
		return 2
	}

	logDst := io.Writer(stderr)
	if *logFile != "" {
		f, err := deps.openLogFile(*logFile)
		if err != nil {
			fmt.Fprintf(stderr, "open log file: %v\n", err)
			return 1
		}
		defer f.Close()
		logDst = io.MultiWriter(stderr, f)
	}
	logger := log.New(logDst, "", log.LstdFlags)

	cfg, err := deps.loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}

	// Flag overrides land before validation so what runs is what was checked.
	if *dbDSN != "" {
		cfg.Database.DSN = *dbDSN
	}
	if *dbKind != "" {
		cfg.Database.Kind = *dbKind
	}
	if *metricsBackend != "" {
		cfg.Metrics.Backend = *metricsBackend
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "invalid config: %v\n", err)
		return 1
	}

	m, cleanup, err := deps.initMetrics(ctx, cfg.Metrics, logger.Printf)
	if err != nil {
		fmt.Fprintf(stderr, "init metrics: %v\n", err)
		return 1
	}
	defer cleanup()

	r := deps.newRunner(logger, m)
	rep := r.Run(ctx, cfg)

	fmt.Fprintf(stdout, "sales: %s\nforecast: %s\n", rep.Sales.Summary(), rep.Forecast.Summary())
	if rep.Err != nil {
		fmt.Fprintf(stderr, "run: %v\n", rep.Err)
		return 1
	}
	if !rep.OK() {
		fmt.Fprintln(stderr, "run finished with failures")
		return 1
	}
	fmt.Fprintln(stdout, "ok")
	return 0
}

// closableBackend is what initMetrics needs from a constructed exporter:
// the metric surface plus a shutdown hook.
type closableBackend interface {
	metrics.Backend
	Close() error
}

// newDatadogBackend is a seam so tests can avoid constructing a real client.
var newDatadogBackend = func(ctx context.Context, opts datadog.Options) (closableBackend, error) {
	return datadog.NewBackend(ctx, opts)
}

// initMetrics builds the configured metrics backend. The returned cleanup
// stops the exporter and performs its final flush; it is always non-nil on
// success and safe to call once.
func initMetrics(ctx context.Context, cfg config.Metrics, logf func(format string, v ...any)) (metrics.Backend, func(), error) {
	switch cfg.Backend {
	case "", "none":
		return metrics.Nop(), func() {}, nil

	case "datadog":
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName:    cfg.Job,
			Tags:       datadog.ParseTagsCSV(cfg.Tags),
			FlushEvery: cfg.FlushEvery(),
		})
		if err != nil {
			return nil, nil, err
		}
		logf("metrics: backend=datadog job=%s tags=%q flush=%s", cfg.Job, cfg.Tags, cfg.FlushEvery())
		cleanup := func() {
			// Close stops the periodic flush loop and then performs a final
			// Flush; this is the clean shutdown path for the exporter.
			if err := b.Close(); err != nil {
				logf("metrics: datadog close/flush error: %v", err)
			}
		}
		return b, cleanup, nil

	default:
		return nil, nil, fmt.Errorf("unknown metrics backend %q (none|datadog)", cfg.Backend)
	}
}
