// internal/rules/predicates.go
package rules

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

/*
 * Value predicates shared by check tables.
 *
 * Pure functions over raw field text. Numeric predicates take the already
 * parsed value; callers guarantee ParseNumber succeeded by ordering the
 * "valid number" check before any numeric check in the table.
 *
 * Email syntax: RE2 has no lookahead, so the leading-dot and double-dot
 * restrictions are checked outside the regexp.
 */

// decimalRX is plain decimal notation. ParseFloat alone also accepts
// underscores, hex floats, Inf and NaN.
var decimalRX = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

var emailRX = regexp.MustCompile(`^[A-Za-z0-9_'+\-.]*[A-Za-z0-9_+\-]@([A-Za-z0-9][A-Za-z0-9\-]*\.)+[A-Za-z]{2,}$`)

// IsEmail reports whether s is a syntactically valid email address.
func IsEmail(s string) bool {
	if strings.HasPrefix(s, ".") || strings.Contains(s, "..") {
		return false
	}
	return emailRX.MatchString(s)
}

// EmailDomain returns the text after the first '@', or "" when there is none.
func EmailDomain(s string) string {
	_, domain, found := strings.Cut(s, "@")
	if !found {
		return ""
	}
	return domain
}

// ParseNumber parses decimal text, trimming surrounding whitespace.
// Empty text, non-decimal syntax and non-finite results are rejected.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if !decimalRX.MatchString(s) {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// IsWhole reports whether f has no fractional part.
func IsWhole(f float64) bool {
	return f == math.Trunc(f)
}

// IsMultipleOf reports whether f mod n is zero.
func IsMultipleOf(f, n float64) bool {
	return math.Mod(f, n) == 0
}

// IsAllDigits reports whether s is non-empty and made only of ASCII digits.
func IsAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// ContainsDigit reports whether s contains any ASCII digit.
func ContainsDigit(s string) bool {
	return strings.ContainsAny(s, "0123456789")
}

// HasEdgeUnderscore reports whether s starts or ends with '_'.
func HasEdgeUnderscore(s string) bool {
	return strings.HasPrefix(s, "_") || strings.HasSuffix(s, "_")
}

// Length counts code points, not bytes.
func Length(s string) int {
	return utf8.RuneCountInString(s)
}

// FormatNumber renders bounds in messages without trailing zeros ("1", "2.5").
func FormatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
