package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProductID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewProductID()
		assert.Len(t, id, 36)
		assert.False(t, seen[id], "duplicate product id %s", id)
		seen[id] = true
	}
}

func TestNewFinalRecord(t *testing.T) {
	structured := StructuredRecord{
		ProductID:    "p-1",
		ProductTitle: "Cordless Drill",
		Color:        "Yellow",
	}

	t.Run("carries image url and ean", func(t *testing.T) {
		rec := NewFinalRecord(structured, "https://img/1.png", "0123456789012")
		require.NotNil(t, rec.ImageURL1)
		assert.Equal(t, "https://img/1.png", *rec.ImageURL1)
		assert.Equal(t, "0123456789012", rec.EANUPC)
		assert.Equal(t, "p-1", rec.ProductID)
		assert.Equal(t, "Cordless Drill", rec.ProductTitle)
	})

	t.Run("missing image url serializes as null", func(t *testing.T) {
		rec := NewFinalRecord(structured, "", EANNotFound)
		assert.Nil(t, rec.ImageURL1)

		body, err := json.Marshal(rec)
		require.NoError(t, err)

		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal(body, &decoded))
		assert.Contains(t, decoded, "image_url_1")
		assert.Nil(t, decoded["image_url_1"])
		assert.Equal(t, EANNotFound, decoded["ean_upc"])
	})
}

func TestLookupRequestTitles(t *testing.T) {
	var req LookupRequest
	err := json.Unmarshal([]byte(`{"calls":[["Drill"],[],[null],[42],["Saw","extra"]]}`), &req)
	require.NoError(t, err)

	assert.Equal(t, []string{"Drill", "", "", "", "Saw"}, req.Titles())
}

func TestIsClientError(t *testing.T) {
	assert.True(t, IsClientError(ErrMissingFile))
	assert.True(t, IsClientError(ErrInvalidFileType))
	assert.False(t, IsClientError(ErrNoStructuredData))
	assert.False(t, IsClientError(nil))
}

func TestStructuredFromFields(t *testing.T) {
	fields := map[string]string{
		"product_title": "Lamp",
		"color":         "White",
		"dimensions":    "10x20 cm",
		"unexpected":    "ignored",
	}

	rec := StructuredFromFields("p-9", fields)

	assert.Equal(t, StructuredRecord{
		ProductID:    "p-9",
		ProductTitle: "Lamp",
		Color:        "White",
		Dimensions:   "10x20 cm",
	}, rec)
}
