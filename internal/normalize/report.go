package normalize

import (
	"fmt"
	"strings"
)

// Report describes one normalization pass. UnmappedRegions counts rows kept
// with an empty region code; those fail later at the fact load, so the
// count here is the early warning.
type Report struct {
	Category        string
	Input           int
	Output          int
	MissingColumns  []string
	ForcedRegion    string
	UnmappedRegions int
	DroppedYear     int
	DroppedValue    int
}

// Rejected is the total number of rows the pass dropped.
func (r Report) Rejected() int { return r.Input - r.Output }

// Summary renders the report as log-friendly key=value text.
func (r Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "category=%s in=%d out=%d year=%d value=%d",
		r.Category, r.Input, r.Output, r.DroppedYear, r.DroppedValue)
	if r.ForcedRegion != "" {
		fmt.Fprintf(&b, " region_forced=%s", r.ForcedRegion)
	}
	if r.UnmappedRegions > 0 {
		fmt.Fprintf(&b, " region_unmapped=%d", r.UnmappedRegions)
	}
	if len(r.MissingColumns) > 0 {
		fmt.Fprintf(&b, " missing=%s", strings.Join(r.MissingColumns, ","))
	}
	return b.String()
}
