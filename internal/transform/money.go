package transform

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseMoney converts a raw cell value into an exact decimal amount.
//
// Source files mix Chilean/European grouping (1.234.567 / 1.234,56) with US
// grouping (1,234.56) and plain decimals, so the separators are disambiguated
// with fixed rules applied in order:
//
//  1. strip currency symbols and whitespace
//  2. both '.' and ',' present: the one occurring last is the decimal
//     separator, the other is a thousands separator
//  3. exactly one ',': decimal separator
//  4. multiple '.': all thousands separators
//  5. exactly one '.' followed by exactly 3 digits: thousands separator
//     (Chilean convention, 12.345 means twelve thousand)
//  6. otherwise parse as a plain decimal literal
//
// A value that still fails to parse is an error naming the raw input; it is
// never silently coerced to zero.
func ParseMoney(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return decimal.Decimal{}, fmt.Errorf("invalid amount: %q", raw)
	}

	hasDot := strings.Contains(s, ".")
	hasComma := strings.Contains(s, ",")

	switch {
	case hasDot && hasComma:
		if strings.LastIndex(s, ".") > strings.LastIndex(s, ",") {
			// 1,234.56, US grouping
			s = strings.ReplaceAll(s, ",", "")
		} else {
			// 1.234,56, Chilean/European grouping
			s = strings.ReplaceAll(s, ".", "")
			s = strings.ReplaceAll(s, ",", ".")
		}
	case hasComma && strings.Count(s, ",") == 1:
		s = strings.ReplaceAll(s, ",", ".")
	case strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s, ".", "")
	case strings.Count(s, ".") == 1:
		parts := strings.SplitN(s, ".", 2)
		if len(parts[1]) == 3 {
			s = strings.ReplaceAll(s, ".", "")
		}
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid amount: %q", raw)
	}
	return d, nil
}
