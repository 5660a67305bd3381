package normalize

import "strings"

// EscapeQuote wraps s in double quotes and doubles every embedded quote, the
// quoting used by delimited output. nil passes through.
func EscapeQuote(s *string) *string {
	if s == nil {
		return nil
	}
	out := `"` + strings.ReplaceAll(*s, `"`, `""`) + `"`
	return &out
}
