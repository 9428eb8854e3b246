// Package extract reads delimited-text and spreadsheet sources into in-memory
// tables with standardized column names.
//
// Formats are dispatched on file extension. Delimited text goes through an
// ordered text-encoding fallback (spreadsheet exports are a reliable source of
// Latin-1 and Windows-1252 bytes); spreadsheets contribute only sheets whose
// name is a 4-digit year.
package extract

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrUnsupportedFormat is returned for extensions the extractor does not
	// handle. Legacy .xls (OLE) workbooks fall under this too.
	ErrUnsupportedFormat = errors.New("extract: unsupported file format")

	// ErrUndecodable is returned when a delimited file decodes under none of
	// the configured text encodings.
	ErrUndecodable = errors.New("extract: undecodable text data")

	// ErrNoYearSheets is returned when a workbook contains no sheet named as
	// a 4-digit year.
	ErrNoYearSheets = errors.New("extract: no year-named sheets")
)

// Logger is the minimal logging interface the extractor needs.
// *log.Logger satisfies it.
type Logger interface {
	Printf(format string, v ...any)
}

// Extractor reads source files into Tables.
//
// A zero Extractor is usable; Logger may be nil to discard per-file and
// per-sheet diagnostics.
type Extractor struct {
	Logger Logger
}

// ReadFile reads one source file, dispatching on its extension.
//
// Errors:
//   - A missing file surfaces the os error (errors.Is(err, fs.ErrNotExist)).
//   - Unknown extensions return ErrUnsupportedFormat.
//   - Delimited files that decode under no encoding return ErrUndecodable.
//   - Workbooks without year-named sheets return ErrNoYearSheets.
//
// Edge cases:
//   - A file with a valid header but zero data rows returns an empty table
//     and no error; the caller decides whether that matters.
func (e *Extractor) ReadFile(path string) (*Table, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv", ".txt":
		return e.readDelimited(path)
	case ".xlsx", ".xlsm":
		return e.readWorkbook(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

func (e *Extractor) logf(format string, v ...any) {
	if e.Logger == nil {
		return
	}
	e.Logger.Printf(format, v...)
}

var _ Logger = (*log.Logger)(nil)
