package storage

import (
	"fmt"
	"strings"
)

// NormalizeKey converts a dimension key value to a canonical string form,
// suitable for in-memory lookup maps (e.g. "00000123" or "202301").
//
// Backends must not assume a particular underlying type for keys; drivers
// hand back string, []byte or int64 depending on column affinity, and this
// helper keeps lookup maps consistent across backends.
func NormalizeKey(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case int64:
		return fmt.Sprintf("%d", t)
	case []byte:
		return strings.TrimSpace(string(t))
	case int:
		return fmt.Sprintf("%d", t)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
