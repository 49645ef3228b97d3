// Package sanitization keeps record payloads and failure reasons safe to log: line breaks
// are stripped against log forging and sensitive fields are redacted or masked.
package sanitization

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

const redactedValue = "[REDACTED]"

// Rule is the treatment of a sensitive field.
type Rule int

const (
	// Redact replaces the value entirely.
	Redact Rule = iota
	// Mask keeps the last four digits or characters.
	Mask
)

// Rules is keyed by lowercased field name.
var Rules = map[string]Rule{
	"password":      Redact,
	"secret":        Redact,
	"secret_key":    Redact,
	"private_key":   Redact,
	"authorization": Redact,
	"credentials":   Redact,

	"ssn":            Mask,
	"tax_id":         Mask,
	"account_number": Mask,
	"card_number":    Mask,
	"phone":          Mask,
	"email":          Mask,
}

// redactedWords redact any field whose name contains them.
var redactedWords = []string{"secret", "token", "password", "private_key", "api_key", "authorization"}

var lineBreaks = strings.NewReplacer("\r", "", "\n", "")

func SanitizeLogString(value string) string {
	return lineBreaks.Replace(value)
}

func ruleFor(key string) (Rule, bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return 0, false
	}
	if rule, ok := Rules[key]; ok {
		return rule, true
	}
	for _, word := range redactedWords {
		if strings.Contains(key, word) {
			return Redact, true
		}
	}
	return 0, false
}

// SanitizeFieldValue applies the rule for key, if any, and otherwise cleans value: numbers
// and booleans pass through, strings lose line breaks, maps and slices are walked.
func SanitizeFieldValue(key string, value any) any {
	rule, sensitive := ruleFor(key)
	switch {
	case !sensitive:
		return clean(value)
	case rule == Mask:
		return mask(value)
	default:
		return redactedValue
	}
}

// SanitizeFields returns a sanitized copy of fields.
func SanitizeFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = SanitizeFieldValue(k, v)
	}
	return out
}

func clean(value any) any {
	switch v := value.(type) {
	case nil, bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
		return v
	case string:
		return SanitizeLogString(v)
	case []byte:
		return SanitizeLogString(string(v))
	case error:
		return SanitizeLogString(v.Error())
	case map[string]any:
		return SanitizeFields(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = clean(item)
		}
		return out
	case []string:
		out := make([]string, len(v))
		for i, item := range v {
			out[i] = SanitizeLogString(item)
		}
		return out
	default:
		return SanitizeLogString(fmt.Sprint(v))
	}
}

// mask shows the last four digits of mostly-numeric values and the last four characters of
// anything else long enough.
func mask(value any) string {
	var s string
	switch v := value.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	case json.Number:
		s = v.String()
	default:
		return redactedValue
	}
	s = strings.TrimSpace(s)

	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
	switch n := len(digits); {
	case n == 4 && 2*n >= len(s):
		return "****"
	case n > 4 && 2*n >= len(s):
		return strings.Repeat("*", n-4) + digits[n-4:]
	case len(s) > 4:
		return "..." + s[len(s)-4:]
	default:
		return redactedValue
	}
}
