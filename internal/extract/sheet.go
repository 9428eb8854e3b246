package extract

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// isYearSheet reports whether a sheet name is exactly 4 ASCII digits.
func isYearSheet(name string) bool {
	if len(name) != 4 {
		return false
	}
	for i := 0; i < len(name); i++ {
		if name[i] < '0' || name[i] > '9' {
			return false
		}
	}
	return true
}

// readWorkbook reads every year-named sheet of an .xlsx/.xlsm workbook and
// concatenates them, in workbook sheet order, into one table.
//
// Per included sheet:
//   - the header is standardized like any delimited header,
//   - PERIOD is set to "<sheet>.01" on every row, overriding source data,
//   - YEAR is injected as the sheet year (int) only when the sheet has no
//     YEAR column of its own.
//
// A sheet that fails to read is logged and skipped; only a workbook with zero
// usable year sheets is an error (ErrNoYearSheets).
func (e *Extractor) readWorkbook(path string) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("extract: open workbook %s: %w", path, err)
	}
	defer f.Close()

	t := &Table{}
	included := 0

	for _, sheet := range f.GetSheetList() {
		if !isYearSheet(sheet) {
			continue
		}

		rows, err := f.GetRows(sheet)
		if err != nil {
			e.logf("stage=extract file=%s sheet=%s status=error err=%v", path, sheet, err)
			continue
		}
		if len(rows) == 0 {
			e.logf("stage=extract file=%s sheet=%s status=skip reason=empty", path, sheet)
			continue
		}

		header := standardizeColumns(rows[0])
		for _, c := range header {
			t.ensureColumn(c)
		}

		hasYear := false
		for _, c := range header {
			if c == "YEAR" {
				hasYear = true
				break
			}
		}

		period := sheet + ".01"
		year, _ := strconv.Atoi(sheet)

		t.ensureColumn("PERIOD")
		if !hasYear {
			t.ensureColumn("YEAR")
		}

		for _, rec := range rows[1:] {
			row := make(Row, len(header)+2)
			for i, c := range header {
				if i >= len(rec) {
					row[c] = nil
					continue
				}
				v := strings.TrimSpace(rec[i])
				if v == "" {
					row[c] = nil
					continue
				}
				row[c] = v
			}
			row["PERIOD"] = period
			if !hasYear {
				row["YEAR"] = year
			}
			t.Rows = append(t.Rows, row)
		}

		included++
		e.logf("stage=extract file=%s sheet=%s rows=%d", path, sheet, len(rows)-1)
	}

	if included == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoYearSheets, path)
	}

	e.logf("stage=extract file=%s sheets=%d rows=%d", path, included, len(t.Rows))
	return t, nil
}
