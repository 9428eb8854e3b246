// Package metrics defines the backend-agnostic metric surface the pipeline
// emits through. Concrete exporters (Datadog) live in subpackages; callers
// that run without a metrics destination use Nop.
package metrics

// Labels carries metric dimensions such as step or record kind. A nil map is
// valid and means "no labels".
type Labels map[string]string

// Metric names shared between emitters and backends. Backends switch on
// these names and are free to ignore names they do not recognize.
const (
	// StepTotal counts pipeline step executions. Labels: step, status.
	StepTotal = "etl_step_total"

	// StepDurationSeconds samples step wall time. Labels: step, status.
	StepDurationSeconds = "etl_step_duration_seconds"

	// RecordsTotal counts records flowing through the pipeline. Labels: kind.
	RecordsTotal = "etl_records_total"

	// BatchesTotal counts fact-table bulk inserts.
	BatchesTotal = "etl_batches_total"
)

// Backend buffers and exports metrics. Implementations must be safe for
// concurrent use; the pipeline itself is single-threaded but exporters flush
// from their own goroutine.
type Backend interface {
	// IncCounter adds delta to a counter. Non-positive deltas are ignored.
	IncCounter(name string, delta float64, labels Labels)

	// ObserveHistogram records one sample. Negative values are ignored.
	ObserveHistogram(name string, value float64, labels Labels)

	// Flush submits everything buffered so far. Safe to call at any time.
	Flush() error
}

// Nop returns a Backend that discards everything. Use it when metrics are
// disabled so callers never have to nil-check.
func Nop() Backend { return nopBackend{} }

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }
