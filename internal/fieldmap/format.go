// internal/fieldmap/format.go
package fieldmap

import (
	"fmt"
	"strings"

	"github.com/ezmig/formpilot/api/schemas"
)

// FormatValue renders a raw data value into the string entered on the page,
// applying the per-type coercions.
func FormatValue(t schemas.FieldType, raw any) string {
	switch t {
	case schemas.FieldDate:
		return FormatWebDate(ValueToString(raw))
	case schemas.FieldSSN, schemas.FieldAlienNumber:
		return DigitsOnly(ValueToString(raw), 9)
	case schemas.FieldPhone:
		return DigitsOnly(ValueToString(raw), 10)
	case schemas.FieldCheckbox:
		if IsTruthy(raw) {
			return "true"
		}
		return "false"
	default:
		return ValueToString(raw)
	}
}

// ValueToString renders any raw value as a string; slices join on ", ".
func ValueToString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []string:
		return strings.Join(t, ", ")
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, ValueToString(item))
		}
		return strings.Join(parts, ", ")
	case float64:
		// JSON numbers decode as float64; render integers without the
		// trailing ".0".
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", t)
	}
}

// FormatWebDate normalizes an ISO YYYY-MM-DD date to MM/DD/YYYY. Anything
// else passes through unchanged.
func FormatWebDate(s string) string {
	if len(s) < 10 {
		return s
	}
	head := s[:10]
	if head[4] != '-' || head[7] != '-' || !allDigits(head[:4]) || !allDigits(head[5:7]) || !allDigits(head[8:10]) {
		return s
	}
	return head[5:7] + "/" + head[8:10] + "/" + head[:4]
}

// DigitsOnly strips every non-digit character and truncates to max digits.
func DigitsOnly(s string, max int) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
			if b.Len() == max {
				break
			}
		}
	}
	return b.String()
}

// IsTruthy accepts boolean true and the string variants used across stored
// form data.
func IsTruthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		return s == "true" || s == "yes"
	default:
		return false
	}
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
