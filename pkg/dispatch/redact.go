package dispatch

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const maxLoggedResult = 200

var sensitiveKeys = []string{"api_key", "apikey", "token", "secret", "password"}

// summarize renders a value for logging: flattened and truncated to a
// fixed length.
func summarize(v any) string {
	var text string
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		text = val
	case error:
		text = val.Error()
	default:
		text = fmt.Sprintf("%v", val)
	}
	text = strings.ReplaceAll(text, "\n", " ")
	if len(text) > maxLoggedResult {
		// Back off to a rune boundary so the cut never emits invalid UTF-8.
		cut := maxLoggedResult
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + "..."
	}
	return text
}

// redactArgs copies args with sensitive values masked.
func redactArgs(args map[string]any) map[string]any {
	if len(args) == 0 {
		return nil
	}
	out := make(map[string]any, len(args))
	for key, value := range args {
		if isSensitive(key) {
			out[key] = "***"
			continue
		}
		out[key] = summarize(value)
	}
	return out
}

func isSensitive(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
