// internal/llmutil/parser.go
package llmutil

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// Regex definitions use \x60 (hex representation) for backticks because Go
// raw strings cannot contain backticks.
var (
	// jsonArrayRegex extracts a JSON array wrapped in a markdown code fence.
	jsonArrayRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*(\\[.*\\])\\s*\x60\x60\x60")
)

// DecodeError reports a response that did not contain a decodable JSON array.
// It is a typed result of the decode step, not an exception: strategy
// boundaries convert it into an explicit empty result.
type DecodeError struct {
	Snippet string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode LLM JSON array: %v (extracted: %s)", e.Err, e.Snippet)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ExtractJSONArray locates the JSON array inside a model response, handling
// the common formatting issues: markdown code fences and conversational prose
// surrounding the payload. The second return is false when no array-shaped
// span exists at all.
func ExtractJSONArray(response string) (string, bool) {
	response = strings.TrimSpace(response)

	// 1. Markdown wrapping (most common case).
	if strings.HasPrefix(response, "```") {
		if matches := jsonArrayRegex.FindStringSubmatch(response); len(matches) > 1 {
			return matches[1], true
		}
	}

	// 2. Already bare.
	if strings.HasPrefix(response, "[") {
		return response, true
	}

	// 3. Array embedded in conversational text ("Here is the result: [...]").
	first := strings.Index(response, "[")
	last := strings.LastIndex(response, "]")
	if first != -1 && last > first {
		return response[first : last+1], true
	}

	return "", false
}

// DecodeArray parses a model response into a typed slice. It never panics;
// malformed input yields a *DecodeError.
func DecodeArray[T any](response string) ([]T, error) {
	extracted, ok := ExtractJSONArray(response)
	if !ok {
		return nil, &DecodeError{Snippet: truncate(response, 200), Err: fmt.Errorf("no JSON array found in response")}
	}

	var result []T
	if err := json.Unmarshal([]byte(extracted), &result); err != nil {
		return nil, &DecodeError{Snippet: truncate(extracted, 500), Err: err}
	}
	return result, nil
}

// DecodeArrayLenient degrades a failed decode to an empty slice. A failed AI
// pass means "no mappings from this strategy", never a crash; upstream logic
// falls back to whatever coverage earlier tiers achieved.
func DecodeArrayLenient[T any](response string, logger *zap.Logger) []T {
	result, err := DecodeArray[T](response)
	if err != nil {
		if logger != nil {
			logger.Warn("Unparseable LLM response, degrading to empty result", zap.Error(err))
		}
		return nil
	}
	return result
}

// truncate shortens a string for error logging.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
