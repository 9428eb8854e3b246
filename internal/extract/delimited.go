package extract

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// textEncodings is the ordered decode fallback for delimited files. The first
// encoding that decodes the whole file wins. Latin-1 is the same table as
// ISO 8859-1, so one entry covers both legacy names.
var textEncodings = []struct {
	name   string
	decode func([]byte) (string, error)
}{
	{"utf-8", decodeUTF8},
	{"iso-8859-1", charmapDecode(charmap.ISO8859_1)},
	{"windows-1252", charmapDecode(charmap.Windows1252)},
}

func decodeUTF8(b []byte) (string, error) {
	if !utf8.Valid(b) {
		return "", fmt.Errorf("invalid utf-8 byte sequence")
	}
	return string(b), nil
}

func charmapDecode(cm *charmap.Charmap) func([]byte) (string, error) {
	return func(b []byte) (string, error) {
		out, err := cm.NewDecoder().Bytes(b)
		if err != nil {
			return "", err
		}
		return string(out), nil
	}
}

// decodeText runs the fallback chain and returns the decoded text plus the
// name of the encoding that succeeded.
func decodeText(raw []byte) (text, encoding string, err error) {
	for _, enc := range textEncodings {
		s, derr := enc.decode(raw)
		if derr != nil {
			err = derr
			continue
		}
		return s, enc.name, nil
	}
	return "", "", fmt.Errorf("%w: %v", ErrUndecodable, err)
}

// readDelimited reads a comma-delimited file into a Table.
//
// The first record is the header; it is standardized via standardizeColumns.
// Cell values are trimmed; empty cells become nil. Ragged records are
// tolerated (missing cells are nil, extra cells are ignored).
func (e *Extractor) readDelimited(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}

	text, encName, err := decodeText(raw)
	if err != nil {
		return nil, fmt.Errorf("extract: %s: %w", path, err)
	}

	cr := csv.NewReader(strings.NewReader(text))
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	hdr, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("extract: %s: read header: %w", path, err)
	}

	t := &Table{Columns: standardizeColumns(hdr)}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("extract: %s: read row: %w", path, err)
		}

		row := make(Row, len(t.Columns))
		for i, c := range t.Columns {
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
		t.Rows = append(t.Rows, row)
	}

	e.logf("stage=extract file=%s encoding=%s rows=%d", path, encName, len(t.Rows))
	return t, nil
}
