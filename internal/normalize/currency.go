// Package normalize converts source-format field values (dollar strings,
// auction timestamps, free text) into canonical typed values.
package normalize

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MissingMarker is the literal the dataset uses for an absent value.
const MissingMarker = "NULL"

// ErrMalformedCurrency is returned when a dollar string cannot be converted
// to minor units.
var ErrMalformedCurrency = errors.New("malformed currency")

// Dollars converts "$1,234.56" to 123456 minor units by dropping the currency
// symbol, the thousands separators and the decimal point.
//
// Edge cases:
//   - "" and "NULL" return the missing marker (Valid=false), never zero.
//   - Input without a "$" is taken as already normalized: "123456" -> 123456.
//   - A "$" amount without a point is whole dollars: "$7" -> 700.
//   - One fraction digit is right-padded ("$5.1" -> 510); a trailing point
//     counts as zero fraction digits ("$5." -> 500).
//   - More than two fraction digits, more than one point, a sign or any other
//     character returns ErrMalformedCurrency.
func Dollars(s string) (sql.NullInt64, error) {
	t := strings.TrimSpace(s)
	if t == "" || t == MissingMarker {
		return sql.NullInt64{}, nil
	}

	dollars := strings.HasPrefix(t, "$")
	t = strings.TrimPrefix(t, "$")
	t = strings.ReplaceAll(t, ",", "")

	whole, frac, hasPoint := strings.Cut(t, ".")
	switch {
	case hasPoint:
		if strings.Contains(frac, ".") || len(frac) > 2 {
			return sql.NullInt64{}, fmt.Errorf("%w: %q", ErrMalformedCurrency, s)
		}
		frac += strings.Repeat("0", 2-len(frac))
	case dollars && whole != "":
		frac = "00"
	}
	if whole == "" && frac == "" {
		return sql.NullInt64{}, fmt.Errorf("%w: %q", ErrMalformedCurrency, s)
	}
	if !allDigits(whole) || !allDigits(frac) {
		return sql.NullInt64{}, fmt.Errorf("%w: %q", ErrMalformedCurrency, s)
	}

	n, err := strconv.ParseInt(whole+frac, 10, 64)
	if err != nil {
		return sql.NullInt64{}, fmt.Errorf("%w: %q: %v", ErrMalformedCurrency, s, err)
	}
	return sql.NullInt64{Int64: n, Valid: true}, nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
