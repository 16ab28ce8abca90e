// Package payload extracts typed values from decoded provider JSON, where
// numbers frequently arrive as strings, "None" or "NA".
package payload

import (
	"fmt"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/shopspring/decimal"
)

// Get evaluates path against obj. A single-element list result is unwrapped.
func Get(obj any, path string) (any, error) {
	val, err := jsonpath.Get(path, obj)
	if err != nil {
		return nil, err
	}
	// jsonpath returns a list for wildcard and slice expressions
	if list, ok := val.([]any); ok && len(list) == 1 {
		val = list[0]
	}
	return val, nil
}

// Number converts a decoded JSON value to a decimal.
// ok is false for nulls, empty strings and provider placeholders.
func Number(val any) (decimal.Decimal, bool) {
	switch v := val.(type) {
	case float64:
		return decimal.NewFromFloat(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	case string:
		s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(v), "%"))
		switch strings.ToLower(s) {
		case "", "none", "na", "n/a", "null", "-":
			return decimal.Zero, false
		}
		d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	}
	return decimal.Zero, false
}

// Float evaluates path and converts the result to float64.
func Float(obj any, path string) (float64, bool) {
	val, err := Get(obj, path)
	if err != nil {
		return 0, false
	}
	d, ok := Number(val)
	if !ok {
		return 0, false
	}
	f, _ := d.Float64()
	return f, true
}

// FloatOr is Float with a zero default.
func FloatOr(obj any, path string) float64 {
	f, _ := Float(obj, path)
	return f
}

// Int evaluates path and truncates the result to int64.
func Int(obj any, path string) (int64, bool) {
	val, err := Get(obj, path)
	if err != nil {
		return 0, false
	}
	d, ok := Number(val)
	if !ok {
		return 0, false
	}
	return d.IntPart(), true
}

// String evaluates path and returns the result if it is a string.
func String(obj any, path string) (string, bool) {
	val, err := Get(obj, path)
	if err != nil {
		return "", false
	}
	s, ok := val.(string)
	return s, ok
}

// Date parses a YYYY-MM-DD value, ignoring any time suffix.
// Empty and placeholder values yield the zero time without error.
func Date(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "None" || raw == "0000-00-00" {
		return time.Time{}, nil
	}
	if len(raw) > 10 {
		raw = raw[:10]
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", raw, err)
	}
	return t, nil
}

// FieldFloat reads key from a decoded object as float64.
func FieldFloat(obj map[string]any, key string) (float64, bool) {
	d, ok := Number(obj[key])
	if !ok {
		return 0, false
	}
	f, _ := d.Float64()
	return f, true
}
