package validate

import (
	"fmt"
	"strings"
)

// Report describes one validation pass: how many rows came in, how many
// survived, and why the rest were rejected.
//
// A non-empty MissingColumns means the pass failed fast before any row-level
// checks; for forecast input each entry names a whole alternation group
// ("YEAR|PERIOD").
type Report struct {
	Category       string
	Input          int
	Output         int
	MissingColumns []string
	DroppedNull    int
	DroppedNumeric int
	DroppedRule    int
}

// Rejected is the total number of rows the pass dropped.
func (r Report) Rejected() int { return r.Input - r.Output }

// Summary renders the report as log-friendly key=value text.
func (r Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "category=%s in=%d out=%d null=%d numeric=%d rule=%d",
		r.Category, r.Input, r.Output, r.DroppedNull, r.DroppedNumeric, r.DroppedRule)
	if len(r.MissingColumns) > 0 {
		fmt.Fprintf(&b, " missing=%s", strings.Join(r.MissingColumns, ","))
	}
	return b.String()
}
