package normalize

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/unicode/norm"
)

// PlainText flattens an HTML fragment to its text content with whitespace
// runs collapsed. Input without markup is returned unchanged.
func PlainText(s string) string {
	if !strings.ContainsRune(s, '<') {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// CanonicalName returns the NFC form of s without surrounding whitespace, so
// that visually equal names share one dedup key.
func CanonicalName(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
