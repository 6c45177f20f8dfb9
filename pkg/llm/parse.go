package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrParseFailed is returned when a model response contains no parseable JSON.
var ErrParseFailed = errors.New("failed to parse response")

// Parse extracts the first {...} span from a model response and unmarshals it
// into T. When key is non-empty and the span is an object containing that
// top-level key, parsing descends into it; an absent key falls back to the
// whole object. Callers treat a parse failure as "unscored"; this layer
// never retries.
func Parse[T any](content, key string) (T, error) {
	var result T

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return result, fmt.Errorf("%w: no JSON object in %q", ErrParseFailed, truncate(content))
	}

	raw := []byte(content[start : end+1])

	if key != "" {
		var outer map[string]json.RawMessage
		if err := json.Unmarshal(raw, &outer); err != nil {
			return result, fmt.Errorf("%w: %v", ErrParseFailed, err)
		}
		if sub, ok := outer[key]; ok {
			raw = sub
		}
	}

	if err := json.Unmarshal(raw, &result); err != nil {
		return result, fmt.Errorf("%w: %v", ErrParseFailed, err)
	}

	return result, nil
}

func truncate(s string) string {
	const limit = 120
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
