package storage

import (
	"fmt"
	"strconv"
	"strings"
)

// Text converts a row value to its canonical string form.
//
// Used for in-memory identity keys and for delimited output. Unlike key
// normalization for lookups, strings are NOT trimmed: "abc" and "abc " are
// distinct identities in every relational backend, so they must stay distinct
// here too. nil maps to "".
func Text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case *string:
		if t == nil {
			return ""
		}
		return *t
	default:
		return fmt.Sprint(v)
	}
}

// IdentityKey joins the values at idx into a single map key.
func IdentityKey(row []any, idx []int) string {
	if len(idx) == 1 {
		return Text(row[idx[0]])
	}
	var b strings.Builder
	for i, j := range idx {
		if i > 0 {
			b.WriteByte(0)
		}
		b.WriteString(Text(row[j]))
	}
	return b.String()
}
