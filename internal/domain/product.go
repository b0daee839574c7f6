package domain

import "github.com/google/uuid"

// StagingRecord is the raw extraction result appended to the staging table
type StagingRecord struct {
	ProductID string `json:"product_id"`
	RawText   string `json:"raw_text"`
	ImageURL1 string `json:"image_url_1,omitempty"` // empty when the document has no images
}

// StructuredRecord holds the fields the hosted model derives from raw text
type StructuredRecord struct {
	ProductID    string `json:"product_id"`
	ProductTitle string `json:"product_title"`
	Description  string `json:"description"`
	Color        string `json:"color"`
	Material     string `json:"material"`
	Battery      string `json:"battery"`
	Power        string `json:"power"`
	Dimensions   string `json:"dimensions"`
}

// FinalRecord is the enriched product returned to the client
type FinalRecord struct {
	ProductID    string  `json:"product_id"`
	ProductTitle string  `json:"product_title"`
	Description  string  `json:"description"`
	Color        string  `json:"color"`
	Material     string  `json:"material"`
	Battery      string  `json:"battery"`
	Power        string  `json:"power"`
	Dimensions   string  `json:"dimensions"`
	ImageURL1    *string `json:"image_url_1"`
	EANUPC       string  `json:"ean_upc"`
}

// StructuredFields lists the model output schema in column order
var StructuredFields = []string{
	"product_title",
	"description",
	"color",
	"material",
	"battery",
	"power",
	"dimensions",
}

// ExtractedImage is one embedded image found in an uploaded document
type ExtractedImage struct {
	Page        int // 1-based page number
	Index       int // 0-based position on the page
	Data        []byte
	ContentType string
	Ext         string
}

// ExtractedDocument is the text and images of a parsed document
type ExtractedDocument struct {
	Text   string
	Pages  int
	Images []ExtractedImage
}

// NewProductID returns a fresh product identifier.
// Identifiers are never reused; two uploads of the same file get two ids.
func NewProductID() string {
	return uuid.NewString()
}

// NewFinalRecord joins a structured record with the staged image URL and EAN.
func NewFinalRecord(s StructuredRecord, imageURL string, ean string) *FinalRecord {
	rec := &FinalRecord{
		ProductID:    s.ProductID,
		ProductTitle: s.ProductTitle,
		Description:  s.Description,
		Color:        s.Color,
		Material:     s.Material,
		Battery:      s.Battery,
		Power:        s.Power,
		Dimensions:   s.Dimensions,
		EANUPC:       ean,
	}
	if imageURL != "" {
		rec.ImageURL1 = &imageURL
	}
	return rec
}

// StructuredFromFields builds a structured record from model output keyed by
// StructuredFields names. Missing fields are left empty.
func StructuredFromFields(productID string, fields map[string]string) StructuredRecord {
	return StructuredRecord{
		ProductID:    productID,
		ProductTitle: fields["product_title"],
		Description:  fields["description"],
		Color:        fields["color"],
		Material:     fields["material"],
		Battery:      fields["battery"],
		Power:        fields["power"],
		Dimensions:   fields["dimensions"],
	}
}
