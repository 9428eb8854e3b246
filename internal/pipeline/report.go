package pipeline

import "fmt"

// Status classifies one input category's outcome for a run.
type Status string

const (
	// StatusSkipped means the category was not configured. Not a failure.
	StatusSkipped Status = "skipped"

	// StatusEmpty means the category was configured but produced no loadable
	// records. Distinct from StatusFailed so operators can tell "the store
	// broke" from "the inputs were all rejected", but both fail the run:
	// configured input is expected to produce data.
	StatusEmpty Status = "empty"

	// StatusLoaded means facts were written.
	StatusLoaded Status = "loaded"

	// StatusFailed means a store or load error stopped the category.
	StatusFailed Status = "failed"
)

// CategoryOutcome is the per-category result of a run.
type CategoryOutcome struct {
	Status Status

	// Loaded is the number of fact rows written. Only meaningful for
	// StatusLoaded.
	Loaded int64

	// Err explains StatusEmpty and StatusFailed outcomes.
	Err error
}

func (o CategoryOutcome) ok() bool {
	return o.Status == StatusSkipped || o.Status == StatusLoaded
}

// Summary renders the outcome as one log/console line fragment.
func (o CategoryOutcome) Summary() string {
	switch o.Status {
	case StatusLoaded:
		return fmt.Sprintf("%s rows=%d", o.Status, o.Loaded)
	case StatusEmpty, StatusFailed:
		if o.Err != nil {
			return fmt.Sprintf("%s err=%v", o.Status, o.Err)
		}
	}
	return string(o.Status)
}

// RunReport is the outcome of one pipeline run, one outcome per category.
// The old single collapsed boolean hid which half broke; this does not.
type RunReport struct {
	Sales    CategoryOutcome
	Forecast CategoryOutcome

	// Err is a run-scope failure (bad config, store open, schema init) that
	// stopped the run before any category was attempted. The category
	// outcomes stay StatusSkipped in that case.
	Err error
}

// OK reports whether the run succeeded: no run-scope error and every
// configured category loaded. Skipped categories do not fail a run; Empty
// and Failed ones do.
func (r RunReport) OK() bool {
	return r.Err == nil && r.Sales.ok() && r.Forecast.ok()
}
