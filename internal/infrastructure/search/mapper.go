package search

import (
	"regexp"

	"github.com/sheetlens/backend/internal/domain"
)

// eanPattern matches a run of exactly 12 or 13 digits not touching other digits
var eanPattern = regexp.MustCompile(`(?:^|\D)(\d{12,13})(?:\D|$)`)

// BuildQuery formats the search query used to look up a product code
func BuildQuery(title string) string {
	return `"` + title + `" EAN code OR UPC code`
}

// ExtractEAN returns the first 12 or 13 digit token in text
func ExtractEAN(text string) (string, bool) {
	m := eanPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// FindEAN scans search items in order and returns the first code found in
// an item's snippet followed by its title
func FindEAN(items []domain.SearchItem) (string, bool) {
	for _, item := range items {
		if code, ok := ExtractEAN(item.Snippet + " " + item.Title); ok {
			return code, true
		}
	}
	return "", false
}
