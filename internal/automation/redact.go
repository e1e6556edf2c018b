// internal/automation/redact.go
package automation

import "strings"

var sensitiveMarkers = []string{"ssn", "password", "secret"}

// redactValue replaces the value with *** when the field path names sensitive
// data. The event stream may be observed by parties who must not see raw
// values even transiently, so redaction applies regardless of fill outcome.
func redactValue(fieldPath, value string) string {
	lower := strings.ToLower(fieldPath)
	for _, marker := range sensitiveMarkers {
		if strings.Contains(lower, marker) {
			return "***"
		}
	}
	return value
}
