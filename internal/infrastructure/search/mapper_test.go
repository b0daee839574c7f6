package search

import (
	"testing"

	"github.com/sheetlens/backend/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestBuildQuery(t *testing.T) {
	assert.Equal(t, `"Cordless Drill" EAN code OR UPC code`, BuildQuery("Cordless Drill"))
}

func TestExtractEAN(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		want  string
		found bool
	}{
		{"thirteen digits", "ean: 0123456789012 extra", "0123456789012", true},
		{"twelve digits", "UPC 036000291452", "036000291452", true},
		{"at string start", "4006381333931 is the code", "4006381333931", true},
		{"at string end", "code:4006381333931", "4006381333931", true},
		{"fourteen digits rejected", "00012345678905 gtin", "", false},
		{"eleven digits rejected", "12345678901", "", false},
		{"first of two", "a 111111111111 b 2222222222222", "111111111111", true},
		{"skips long run then finds valid", "99999999999999 then 036000291452", "036000291452", true},
		{"digits with dashes", "978-3-16-148410-0", "", false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractEAN(tt.text)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFindEAN(t *testing.T) {
	t.Run("snippet before title", func(t *testing.T) {
		items := []domain.SearchItem{
			{Title: "Product 111111111111", Snippet: "EAN 2222222222222"},
		}
		code, ok := FindEAN(items)
		assert.True(t, ok)
		assert.Equal(t, "2222222222222", code)
	})

	t.Run("falls through to later items", func(t *testing.T) {
		items := []domain.SearchItem{
			{Title: "No code here", Snippet: "nothing"},
			{Title: "Drill", Snippet: "UPC 036000291452"},
		}
		code, ok := FindEAN(items)
		assert.True(t, ok)
		assert.Equal(t, "036000291452", code)
	})

	t.Run("snippet and title are not glued together", func(t *testing.T) {
		items := []domain.SearchItem{
			{Title: "123456", Snippet: "123456"},
		}
		_, ok := FindEAN(items)
		assert.False(t, ok)
	})

	t.Run("no items", func(t *testing.T) {
		_, ok := FindEAN(nil)
		assert.False(t, ok)
	})
}
