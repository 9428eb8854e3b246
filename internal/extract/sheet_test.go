package extract

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestIsYearSheet(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want bool
	}{
		{"2023", true},
		{"1999", true},
		{"202", false},
		{"20233", false},
		{"20a3", false},
		{"abcd", false},
		{"", false},
	}
	for _, tc := range tests {
		if got := isYearSheet(tc.name); got != tc.want {
			t.Errorf("isYearSheet(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func setSheetRow(t *testing.T, f *excelize.File, sheet string, rowIdx int, cells []any) {
	t.Helper()
	for i, v := range cells {
		cell, err := excelize.CoordinatesToCellName(i+1, rowIdx)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			t.Fatalf("set cell %s!%s: %v", sheet, cell, err)
		}
	}
}

func TestReadWorkbook(t *testing.T) {
	t.Parallel()

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", "notes"); err != nil {
		t.Fatalf("rename sheet: %v", err)
	}
	setSheetRow(t, f, "notes", 1, []any{"this sheet is ignored"})

	if _, err := f.NewSheet("2023"); err != nil {
		t.Fatalf("new sheet: %v", err)
	}
	setSheetRow(t, f, "2023", 1, []any{"MATERIAL_NUMBER", "FORECAST_VAL"})
	setSheetRow(t, f, "2023", 2, []any{"1001", 500})

	// Empty year sheet is skipped without failing the workbook.
	if _, err := f.NewSheet("2022"); err != nil {
		t.Fatalf("new sheet: %v", err)
	}

	if _, err := f.NewSheet("2024"); err != nil {
		t.Fatalf("new sheet: %v", err)
	}
	setSheetRow(t, f, "2024", 1, []any{"MATERIAL_NUMBER", "FORECAST_VAL", "YEAR"})
	setSheetRow(t, f, "2024", 2, []any{"1002", 750, "2010"})

	path := filepath.Join(t.TempDir(), "forecast.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save workbook: %v", err)
	}

	tab, err := discardExtractor().ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if len(tab.Rows) != 2 {
		t.Fatalf("rows = %d, want 2 (one per year sheet)", len(tab.Rows))
	}
	for _, want := range []string{"MATERIAL_NBR", "FORECAST_VAL", "PERIOD", "YEAR"} {
		if !tab.HasColumn(want) {
			t.Fatalf("columns = %v, missing %s", tab.Columns, want)
		}
	}

	r0 := tab.Rows[0]
	if r0["PERIOD"] != "2023.01" {
		t.Errorf("sheet 2023 PERIOD = %v, want 2023.01", r0["PERIOD"])
	}
	if r0["YEAR"] != 2023 {
		t.Errorf("sheet 2023 injected YEAR = %v (%T), want int 2023", r0["YEAR"], r0["YEAR"])
	}
	if r0["MATERIAL_NBR"] != "1001" {
		t.Errorf("sheet 2023 MATERIAL_NBR = %v, want 1001", r0["MATERIAL_NBR"])
	}
	if r0["FORECAST_VAL"] != "500" {
		t.Errorf("sheet 2023 FORECAST_VAL = %v (%T), want string %q", r0["FORECAST_VAL"], r0["FORECAST_VAL"], "500")
	}

	r1 := tab.Rows[1]
	if r1["PERIOD"] != "2024.01" {
		t.Errorf("sheet 2024 PERIOD = %v, want override 2024.01", r1["PERIOD"])
	}
	if r1["YEAR"] != "2010" {
		t.Errorf("sheet 2024 YEAR = %v, want source value 2010 kept", r1["YEAR"])
	}
}

func TestReadWorkbookNoYearSheets(t *testing.T) {
	t.Parallel()

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", "summary"); err != nil {
		t.Fatalf("rename sheet: %v", err)
	}
	setSheetRow(t, f, "summary", 1, []any{"MATERIAL_NUMBER", "FORECAST_VAL"})

	path := filepath.Join(t.TempDir(), "summary.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save workbook: %v", err)
	}

	_, err := discardExtractor().ReadFile(path)
	if !errors.Is(err, ErrNoYearSheets) {
		t.Fatalf("err = %v, want ErrNoYearSheets", err)
	}
}
