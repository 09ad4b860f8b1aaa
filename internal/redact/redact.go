// Package redact scrubs secret-bearing fields and value patterns from
// arbitrary nested values before they leave the process (audit details,
// error messages, successful operation results). It walks a structured
// value and replaces matches in place, preserving container shape.
package redact

import (
	"regexp"

	"github.com/opal-lang/tenantctl/internal/controlerr"
)

const masked = "[REDACTED]"

var (
	keyPattern   = regexp.MustCompile(`(?i)(token|secret|api[_-]?key|password|credential|authorization)`)
	valuePattern = regexp.MustCompile(`(?i)(sk_[a-z0-9]{8,}|bearer\s+[a-z0-9._-]+)`)
)

// Value walks v and returns a structurally identical copy with every
// secret-bearing mapping value or secret-shaped string replaced by
// "[REDACTED]". Map keys, slice lengths, and scalar types other than
// string are left untouched.
func Value(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, sub := range val {
			if keyPattern.MatchString(k) {
				out[k] = masked
				continue
			}
			out[k] = Value(sub)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, sub := range val {
			if keyPattern.MatchString(k) {
				out[k] = masked
				continue
			}
			out[k] = String(sub)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, el := range val {
			out[i] = Value(el)
		}
		return out
	case []string:
		out := make([]string, len(val))
		for i, el := range val {
			out[i] = String(el)
		}
		return out
	case string:
		return String(val)
	case *controlerr.Error:
		if val == nil {
			return val
		}
		copied := *val
		copied.Message = String(copied.Message)
		return &copied
	default:
		return val
	}
}

// String replaces every secret-shaped substring of s with "[REDACTED]".
func String(s string) string {
	return valuePattern.ReplaceAllString(s, masked)
}
