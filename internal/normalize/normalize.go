// Package normalize provides tolerant type coercion and key canonicalization
// for raw marketplace captures. Every converter returns nil rather than an
// error for unusable input: a malformed attribute must never fail a batch.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
)

// Str trims a value to a non-empty string, or nil.
func Str(v any) *string {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// Int coerces numbers and numeric strings (grouping separators allowed) to an int.
func Int(v any) *int {
	switch n := v.(type) {
	case int:
		return &n
	case int64:
		i := int(n)
		return &i
	case float64:
		i := int(n)
		return &i
	case float32:
		i := int(n)
		return &i
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(n), ",", "")
		s = strings.ReplaceAll(s, ".", "")
		i, err := strconv.Atoi(s)
		if err != nil {
			return nil
		}
		return &i
	default:
		return nil
	}
}

// Float coerces numbers and plain numeric strings to a float64.
func Float(v any) *float64 {
	switch n := v.(type) {
	case float64:
		return &n
	case float32:
		f := float64(n)
		return &f
	case int:
		f := float64(n)
		return &f
	case int64:
		f := float64(n)
		return &f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return nil
		}
		return &f
	default:
		return nil
	}
}

// Bool coerces booleans and their common string/numeric spellings.
func Bool(v any) *bool {
	switch b := v.(type) {
	case bool:
		return &b
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "1", "yes":
			t := true
			return &t
		case "false", "0", "no":
			f := false
			return &f
		}
		return nil
	case float64:
		t := b != 0
		return &t
	case int:
		t := b != 0
		return &t
	default:
		return nil
	}
}

var nonPrice = regexp.MustCompile(`[^0-9.,]`)

// Price extracts a numeric amount from a formatted price string such as
// "1.234,56 €", "$1,234.56" or "12,99". Decimal convention is inferred from
// the last separator. Returns nil when no digits survive.
func Price(v any) *float64 {
	if f := Float(v); f != nil {
		return f
	}
	s, ok := v.(string)
	if !ok {
		return nil
	}
	s = nonPrice.ReplaceAllString(s, "")
	if s == "" {
		return nil
	}

	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	switch {
	case lastComma > lastDot:
		// comma-decimal: dots are grouping
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	default:
		// dot-decimal (or no separator): commas are grouping
		s = strings.ReplaceAll(s, ",", "")
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

// CanonicalURL strips the query string, fragment, and surrounding whitespace
// from a URL-like value so tracking-parameter variants collapse to one form.
// The same canonicalization runs at bootstrap and on every incremental pass;
// keys must never drift between runs.
func CanonicalURL(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.IndexByte(s, '?'); i >= 0 {
		s = s[:i]
	}
	if i := strings.IndexByte(s, '#'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimRight(s, "/")
}

// HashKey derives a fixed-width surrogate entity key from an already
// canonicalized value.
func HashKey(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
