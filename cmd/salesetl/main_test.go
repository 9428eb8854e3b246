package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"salesetl/internal/config"
	"salesetl/internal/metrics"
	"salesetl/internal/metrics/datadog"
	"salesetl/internal/pipeline"
)

// fakeRunner is a deterministic runner used by CLI tests. It records the
// number of calls and the last config it received, and returns a
// configurable report.
type fakeRunner struct {
	rep   pipeline.RunReport
	calls atomic.Int64

	mu      sync.Mutex
	lastCfg *config.Config
}

func (r *fakeRunner) Run(ctx context.Context, cfg *config.Config) pipeline.RunReport {
	_ = ctx // contract is "ctx is passed through"; not asserted here
	r.calls.Add(1)
	r.mu.Lock()
	r.lastCfg = cfg
	r.mu.Unlock()
	return r.rep
}

func (r *fakeRunner) config() *config.Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastCfg
}

// fakeBackend is a closable metrics backend for initMetrics tests.
type fakeBackend struct {
	closeErr error
	closed   atomic.Int64
}

func (b *fakeBackend) IncCounter(string, float64, metrics.Labels)       {}
func (b *fakeBackend) ObserveHistogram(string, float64, metrics.Labels) {}
func (b *fakeBackend) Flush() error                                     { return nil }
func (b *fakeBackend) Close() error {
	b.closed.Add(1)
	return b.closeErr
}

type fakeWriteCloser struct {
	bytes.Buffer
	closed atomic.Int64
}

func (f *fakeWriteCloser) Close() error {
	f.closed.Add(1)
	return nil
}

func validConfig() *config.Config {
	cfg, err := config.Parse([]byte("database:\n  path: wh.db\n"))
	if err != nil {
		panic(err)
	}
	return cfg
}

// passiveDeps returns deps whose seams fail the test when called, for
// proving short-circuit paths have no side effects.
func passiveDeps(t *testing.T) appDeps {
	t.Helper()
	return appDeps{
		loadConfig: func(string) (*config.Config, error) {
			t.Fatalf("loadConfig must not be called")
			return nil, nil
		},
		openLogFile: func(string) (io.WriteCloser, error) {
			t.Fatalf("openLogFile must not be called")
			return nil, nil
		},
		initMetrics: func(context.Context, config.Metrics, func(string, ...any)) (metrics.Backend, func(), error) {
			t.Fatalf("initMetrics must not be called")
			return nil, nil, nil
		},
		newRunner: func(pipeline.Logger, metrics.Backend) runner {
			t.Fatalf("newRunner must not be called")
			return nil
		},
	}
}

func TestRunMain_UsageErrors(t *testing.T) {
	t.Parallel()

	// Usage errors exit 2 before any side effects occur.
	tests := []struct {
		name          string
		args          []string
		wantStderrSub string
	}{
		{
			name:          "empty_config_value",
			args:          []string{"-config", "   "},
			wantStderrSub: "usage: salesetl -config",
		},
		{
			name:          "unknown_flag",
			args:          []string{"-nope"},
			wantStderrSub: "flag provided but not defined",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var stdout, stderr bytes.Buffer
			code := runMain(context.Background(), tc.args, &stdout, &stderr, passiveDeps(t))

			if code != 2 {
				t.Fatalf("exit code=%d, want 2; stderr=%q", code, stderr.String())
			}
			if !strings.Contains(stderr.String(), tc.wantStderrSub) {
				t.Fatalf("stderr=%q, want contains %q", stderr.String(), tc.wantStderrSub)
			}
			if stdout.Len() != 0 {
				t.Fatalf("stdout=%q, want empty", stdout.String())
			}
		})
	}
}

func TestRunMain_FullFlow(t *testing.T) {
	t.Parallel()

	// Validates error precedence (load -> validate -> initMetrics -> run),
	// that the runner only executes after metrics init succeeds, and that
	// cleanup runs exactly once when initMetrics succeeded.
	tests := []struct {
		name             string
		args             []string
		loadErr          error
		initMetricsErr   error
		rep              pipeline.RunReport
		wantCode         int
		wantStderrSub    string
		wantStdoutSub    string
		wantRunnerCalls  int64
		wantCleanupCalls int64
	}{
		{
			name:          "load_config_error",
			args:          []string{"-config", "cfg.yaml"},
			loadErr:       errors.New("no such file"),
			wantCode:      1,
			wantStderrSub: "load config:",
		},
		{
			name:          "invalid_after_override",
			args:          []string{"-config", "cfg.yaml", "-db-kind", "oracle"},
			wantCode:      1,
			wantStderrSub: "invalid config:",
		},
		{
			name:           "init_metrics_error",
			args:           []string{"-config", "cfg.yaml"},
			initMetricsErr: errors.New("metrics unavailable"),
			wantCode:       1,
			wantStderrSub:  "init metrics:",
		},
		{
			name:             "run_scope_error",
			args:             []string{"-config", "cfg.yaml"},
			rep:              pipeline.RunReport{Err: errors.New("open warehouse: boom")},
			wantCode:         1,
			wantStderrSub:    "run: open warehouse: boom",
			wantRunnerCalls:  1,
			wantCleanupCalls: 1,
		},
		{
			name: "category_failure",
			args: []string{"-config", "cfg.yaml"},
			rep: pipeline.RunReport{
				Sales:    pipeline.CategoryOutcome{Status: pipeline.StatusFailed, Err: errors.New("disk full")},
				Forecast: pipeline.CategoryOutcome{Status: pipeline.StatusSkipped},
			},
			wantCode:         1,
			wantStderrSub:    "run finished with failures",
			wantStdoutSub:    "sales: failed err=disk full",
			wantRunnerCalls:  1,
			wantCleanupCalls: 1,
		},
		{
			name: "success",
			args: []string{"-config", "cfg.yaml"},
			rep: pipeline.RunReport{
				Sales:    pipeline.CategoryOutcome{Status: pipeline.StatusLoaded, Loaded: 3},
				Forecast: pipeline.CategoryOutcome{Status: pipeline.StatusSkipped},
			},
			wantCode:         0,
			wantStdoutSub:    "sales: loaded rows=3\nforecast: skipped\nok\n",
			wantRunnerCalls:  1,
			wantCleanupCalls: 1,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var stdout, stderr bytes.Buffer
			fr := &fakeRunner{rep: tc.rep}
			fb := &fakeBackend{}

			var cleanupCalls atomic.Int64
			var gotBackend metrics.Backend

			deps := appDeps{
				loadConfig: func(path string) (*config.Config, error) {
					if path != "cfg.yaml" {
						t.Fatalf("loadConfig path=%q, want cfg.yaml", path)
					}
					if tc.loadErr != nil {
						return nil, tc.loadErr
					}
					return validConfig(), nil
				},
				openLogFile: func(string) (io.WriteCloser, error) {
					t.Fatalf("openLogFile must not be called without -log-file")
					return nil, nil
				},
				initMetrics: func(ctx context.Context, mc config.Metrics, logf func(string, ...any)) (metrics.Backend, func(), error) {
					if tc.initMetricsErr != nil {
						return nil, nil, tc.initMetricsErr
					}
					return fb, func() { cleanupCalls.Add(1) }, nil
				},
				newRunner: func(logger pipeline.Logger, m metrics.Backend) runner {
					if logger == nil {
						t.Fatalf("newRunner got nil logger")
					}
					gotBackend = m
					return fr
				},
			}

			code := runMain(context.Background(), tc.args, &stdout, &stderr, deps)

			if code != tc.wantCode {
				t.Fatalf("exit code=%d, want %d; stderr=%q", code, tc.wantCode, stderr.String())
			}
			if tc.wantStderrSub != "" && !strings.Contains(stderr.String(), tc.wantStderrSub) {
				t.Fatalf("stderr=%q, want contains %q", stderr.String(), tc.wantStderrSub)
			}
			if tc.wantStdoutSub != "" && !strings.Contains(stdout.String(), tc.wantStdoutSub) {
				t.Fatalf("stdout=%q, want contains %q", stdout.String(), tc.wantStdoutSub)
			}
			if got := fr.calls.Load(); got != tc.wantRunnerCalls {
				t.Fatalf("runner calls=%d, want %d", got, tc.wantRunnerCalls)
			}
			if got := cleanupCalls.Load(); got != tc.wantCleanupCalls {
				t.Fatalf("cleanup calls=%d, want %d", got, tc.wantCleanupCalls)
			}
			if tc.wantRunnerCalls > 0 && gotBackend != metrics.Backend(fb) {
				t.Fatalf("runner got backend %T, want the initMetrics backend", gotBackend)
			}
		})
	}
}

func TestRunMain_FlagOverridesReachRunner(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	fr := &fakeRunner{rep: pipeline.RunReport{
		Sales:    pipeline.CategoryOutcome{Status: pipeline.StatusSkipped},
		Forecast: pipeline.CategoryOutcome{Status: pipeline.StatusSkipped},
	}}

	var gotMetricsCfg config.Metrics
	deps := appDeps{
		loadConfig: func(string) (*config.Config, error) { return validConfig(), nil },
		initMetrics: func(ctx context.Context, mc config.Metrics, logf func(string, ...any)) (metrics.Backend, func(), error) {
			gotMetricsCfg = mc
			return metrics.Nop(), func() {}, nil
		},
		newRunner: func(logger pipeline.Logger, m metrics.Backend) runner { return fr },
	}

	args := []string{
		"-config", "cfg.yaml",
		"-db", "postgres://wh",
		"-db-kind", "postgres",
		"-metrics", "datadog",
	}
	if code := runMain(context.Background(), args, &stdout, &stderr, deps); code != 0 {
		t.Fatalf("exit code=%d, want 0; stderr=%q", code, stderr.String())
	}

	cfg := fr.config()
	if cfg == nil {
		t.Fatalf("runner never received a config")
	}
	if cfg.Database.DSN != "postgres://wh" || cfg.Database.Kind != "postgres" {
		t.Fatalf("Database=%+v, want flag overrides applied", cfg.Database)
	}
	if cfg.Metrics.Backend != "datadog" || gotMetricsCfg.Backend != "datadog" {
		t.Fatalf("Metrics.Backend=%q (initMetrics saw %q), want datadog", cfg.Metrics.Backend, gotMetricsCfg.Backend)
	}
}

func TestRunMain_LogFile(t *testing.T) {
	t.Parallel()

	t.Run("opens_and_closes", func(t *testing.T) {
		t.Parallel()

		var stdout, stderr bytes.Buffer
		fw := &fakeWriteCloser{}
		var openedPath string

		fr := &fakeRunner{rep: pipeline.RunReport{
			Sales:    pipeline.CategoryOutcome{Status: pipeline.StatusSkipped},
			Forecast: pipeline.CategoryOutcome{Status: pipeline.StatusSkipped},
		}}
		deps := appDeps{
			loadConfig:  func(string) (*config.Config, error) { return validConfig(), nil },
			openLogFile: func(path string) (io.WriteCloser, error) { openedPath = path; return fw, nil },
			initMetrics: func(ctx context.Context, mc config.Metrics, logf func(string, ...any)) (metrics.Backend, func(), error) {
				// Route a line through the CLI logger to prove the log file
				// receives a copy.
				logf("metrics: backend=none")
				return metrics.Nop(), func() {}, nil
			},
			newRunner: func(logger pipeline.Logger, m metrics.Backend) runner { return fr },
		}

		args := []string{"-config", "cfg.yaml", "-log-file", "run.log"}
		if code := runMain(context.Background(), args, &stdout, &stderr, deps); code != 0 {
			t.Fatalf("exit code=%d, want 0; stderr=%q", code, stderr.String())
		}
		if openedPath != "run.log" {
			t.Fatalf("openLogFile path=%q, want run.log", openedPath)
		}
		if fw.closed.Load() != 1 {
			t.Fatalf("log file closed %d times, want 1", fw.closed.Load())
		}
		if !strings.Contains(fw.String(), "metrics: backend=none") {
			t.Fatalf("log file missing logger output: %q", fw.String())
		}
		if !strings.Contains(stderr.String(), "metrics: backend=none") {
			t.Fatalf("stderr missing logger output: %q", stderr.String())
		}
	})

	t.Run("open_error_exits_1", func(t *testing.T) {
		t.Parallel()

		var stdout, stderr bytes.Buffer
		deps := passiveDeps(t)
		deps.openLogFile = func(string) (io.WriteCloser, error) { return nil, errors.New("permission denied") }

		args := []string{"-config", "cfg.yaml", "-log-file", "/var/log/denied.log"}
		if code := runMain(context.Background(), args, &stdout, &stderr, deps); code != 1 {
			t.Fatalf("exit code=%d, want 1; stderr=%q", code, stderr.String())
		}
		if !strings.Contains(stderr.String(), "open log file:") {
			t.Fatalf("stderr=%q, want open log file error", stderr.String())
		}
	})
}

func TestInitMetrics_None(t *testing.T) {
	t.Parallel()

	oldNew := newDatadogBackend
	defer func() { newDatadogBackend = oldNew }()
	newDatadogBackend = func(context.Context, datadog.Options) (closableBackend, error) {
		t.Fatalf("newDatadogBackend must not be called for backend=none")
		return nil, nil
	}

	for _, backend := range []string{"", "none"} {
		b, cleanup, err := initMetrics(context.Background(), config.Metrics{Backend: backend}, func(string, ...any) {})
		if err != nil {
			t.Fatalf("initMetrics(%q) err=%v, want nil", backend, err)
		}
		if b == nil || cleanup == nil {
			t.Fatalf("initMetrics(%q) returned nil backend or cleanup", backend)
		}
		cleanup()
	}
}

func TestInitMetrics_Datadog(t *testing.T) {
	t.Parallel()

	fb := &fakeBackend{}
	var gotOpts datadog.Options

	oldNew := newDatadogBackend
	defer func() { newDatadogBackend = oldNew }()
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (closableBackend, error) {
		gotOpts = opts
		return fb, nil
	}

	var logged bytes.Buffer
	logf := func(format string, v ...any) { fmt.Fprintf(&logged, format+"\n", v...) }

	cfg := config.Metrics{Backend: "datadog", Job: "nightly", Tags: "env:dev,team:data", FlushSeconds: 30}
	b, cleanup, err := initMetrics(context.Background(), cfg, logf)
	if err != nil {
		t.Fatalf("initMetrics err=%v, want nil", err)
	}
	if b == nil {
		t.Fatalf("initMetrics returned nil backend")
	}

	if gotOpts.JobName != "nightly" {
		t.Fatalf("JobName=%q, want nightly", gotOpts.JobName)
	}
	if len(gotOpts.Tags) != 2 || gotOpts.Tags[0] != "env:dev" || gotOpts.Tags[1] != "team:data" {
		t.Fatalf("Tags=%v, want parsed CSV", gotOpts.Tags)
	}
	if gotOpts.FlushEvery != 30*time.Second {
		t.Fatalf("FlushEvery=%s, want 30s", gotOpts.FlushEvery)
	}

	cleanup()
	if fb.closed.Load() != 1 {
		t.Fatalf("Close calls=%d, want 1", fb.closed.Load())
	}
	if strings.Contains(logged.String(), "close/flush error") {
		t.Fatalf("unexpected close error log: %q", logged.String())
	}
}

func TestInitMetrics_DatadogCloseErrorIsLogged(t *testing.T) {
	t.Parallel()

	fb := &fakeBackend{closeErr: errors.New("intake timeout")}

	oldNew := newDatadogBackend
	defer func() { newDatadogBackend = oldNew }()
	newDatadogBackend = func(context.Context, datadog.Options) (closableBackend, error) { return fb, nil }

	var logged bytes.Buffer
	logf := func(format string, v ...any) { fmt.Fprintf(&logged, format+"\n", v...) }

	_, cleanup, err := initMetrics(context.Background(), config.Metrics{Backend: "datadog"}, logf)
	if err != nil {
		t.Fatalf("initMetrics err=%v, want nil", err)
	}
	cleanup()

	if !strings.Contains(logged.String(), "close/flush error") || !strings.Contains(logged.String(), "intake timeout") {
		t.Fatalf("close error not logged: %q", logged.String())
	}
}

func TestInitMetrics_UnknownBackend(t *testing.T) {
	t.Parallel()

	_, _, err := initMetrics(context.Background(), config.Metrics{Backend: "statsd"}, func(string, ...any) {})
	if err == nil || !strings.Contains(err.Error(), "unknown metrics backend") {
		t.Fatalf("err=%v, want unknown backend error", err)
	}
}
