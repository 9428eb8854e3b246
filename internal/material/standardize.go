// Package material canonicalizes material identifiers.
//
// Every comparison of material identity anywhere in the pipeline goes through
// StandardizeNumber first. Dimension deduplication depends on that: the loader
// standardizes both the incoming keys and the stored keys before diffing, so
// "123", "00000123" and 123.0 all collapse to one dimension row.
package material

import (
	"fmt"
	"strconv"
	"strings"
)

// StandardizeNumber converts a raw material identifier to its canonical
// 8-digit zero-padded form.
//
// Steps, in order:
//  1. Stringify the input (ints and floats format without an exponent).
//  2. Trim surrounding whitespace.
//  3. Strip one trailing ".0" (the float-export artifact from spreadsheet
//     tools that read numeric columns as floating point).
//  4. Drop every non-digit character.
//  5. If nothing remains, return the stringified input unchanged. This is a
//     deliberate lossy fallback; callers that care should check IsStandard
//     and log.
//  6. Truncate to the first 8 digits, then left-pad with zeros to 8.
//
// When to use:
//   - Before inserting into or looking up the material dimension.
//   - Before comparing two material identifiers for equality.
//
// Edge cases:
//   - nil stringifies to "" and comes back as "" (step 5 fallback).
//   - Truncation happens before padding, so a 9-digit input keeps its first
//     8 digits.
//
// The function is pure and idempotent: applying it to its own output returns
// the same string.
func StandardizeNumber(v any) string {
	raw := stringify(v)
	raw = strings.TrimSpace(raw)

	cleaned := strings.TrimSuffix(raw, ".0")

	var digits strings.Builder
	digits.Grow(len(cleaned))
	for _, r := range cleaned {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}

	s := digits.String()
	if s == "" {
		return raw
	}
	if len(s) > 8 {
		s = s[:8]
	}
	if len(s) < 8 {
		s = strings.Repeat("0", 8-len(s)) + s
	}
	return s
}

// IsStandard reports whether s is already in canonical form: exactly 8 ASCII
// digits. StandardizeNumber output fails this check only when the lossy
// fallback fired, which is the signal callers use to log an invalid source
// value.
func IsStandard(s string) bool {
	if len(s) != 8 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	default:
		return fmt.Sprint(v)
	}
}
