// Package numeric converts the heterogeneous value representations reported
// by market data sources into plain floats.
package numeric

import (
	"math"
	"strconv"
	"strings"
)

var suffixMultipliers = map[byte]float64{
	'K': 1e3,
	'M': 1e6,
	'B': 1e9,
	'T': 1e12,
}

var currencyReplacer = strings.NewReplacer("$", "", "€", "", "£", "", "%", "", ",", "")

// Parse normalizes a raw value into a float64. Accepted inputs are nil,
// any Go numeric type, and strings such as "$1,234.50", "2.5B", or "3.2%".
// The second return value is false when no usable number could be
// extracted. Parse never panics.
func Parse(value any) (float64, bool) {
	switch v := value.(type) {
	case nil:
		return 0, false
	case float64:
		return finite(v)
	case float32:
		return finite(float64(v))
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case string:
		return parseString(v)
	default:
		return 0, false
	}
}

func parseString(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false
	}

	s = strings.TrimSpace(currencyReplacer.Replace(s))
	if s == "" {
		return 0, false
	}

	multiplier := 1.0
	last := s[len(s)-1]
	if m, ok := suffixMultipliers[upperByte(last)]; ok {
		multiplier = m
		s = strings.TrimSpace(s[:len(s)-1])
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return finite(f * multiplier)
	}

	// Second chance: drop everything that cannot be part of a float literal
	// and try once more.
	stripped := stripNonNumeric(s)
	if stripped == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(stripped, 64)
	if err != nil {
		return 0, false
	}
	return finite(f * multiplier)
}

func stripNonNumeric(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			b.WriteByte(c)
		case c == '.' || c == '-' || c == '+' || c == 'e' || c == 'E':
			b.WriteByte(c)
		}
	}
	return b.String()
}

func upperByte(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}

// finite rejects NaN and infinities so downstream comparisons stay
// well-defined.
func finite(f float64) (float64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
