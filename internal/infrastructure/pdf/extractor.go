// Package pdf extracts text and embedded images from uploaded PDF documents.
package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rs/zerolog"
	"github.com/sheetlens/backend/internal/domain"
	"github.com/sheetlens/backend/internal/observability"
)

func init() {
	// pdfcpu otherwise creates a config directory under the user's home
	api.DisableConfigDir()
}

// Recognizer turns a rendered page image into text
type Recognizer interface {
	Recognize(ctx context.Context, png []byte) (string, error)
}

// Options configures the extractor
type Options struct {
	// OCRFallback rasterizes pages without a text layer and runs OCR on them
	OCRFallback bool
	OCRDPI      float64
}

// Extractor implements domain.DocumentExtractor with go-fitz for text and
// pdfcpu for embedded images
type Extractor struct {
	opts       Options
	recognizer Recognizer
	logger     zerolog.Logger
}

// NewExtractor creates a new extractor. recognizer may be nil when OCR is off.
func NewExtractor(opts Options, recognizer Recognizer, logger zerolog.Logger) *Extractor {
	if opts.OCRDPI <= 0 {
		opts.OCRDPI = 300
	}
	if recognizer == nil {
		opts.OCRFallback = false
	}
	return &Extractor{
		opts:       opts,
		recognizer: recognizer,
		logger:     observability.Component(logger, "pdf"),
	}
}

// Extract returns the concatenated page text and every embedded image.
// Images are ordered by page, then by their order within the page.
func (e *Extractor) Extract(ctx context.Context, data []byte) (*domain.ExtractedDocument, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty document", domain.ErrDocumentUnreadable)
	}

	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDocumentUnreadable, err)
	}
	defer doc.Close()

	pages := doc.NumPage()
	var text strings.Builder
	for n := 0; n < pages; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		pageText, err := doc.Text(n)
		if err != nil {
			return nil, fmt.Errorf("%w: page %d text: %v", domain.ErrDocumentUnreadable, n+1, err)
		}

		if strings.TrimSpace(pageText) == "" && e.opts.OCRFallback {
			pageText = e.ocrPage(ctx, doc, n)
		}
		text.WriteString(pageText)
	}

	images, err := extractImages(data)
	if err != nil {
		// go-fitz is more lenient than pdfcpu; keep the text when only image parsing fails
		e.logger.Warn().Err(err).Msg("embedded image extraction failed")
		images = nil
	}

	e.logger.Debug().
		Int("pages", pages).
		Int("chars", text.Len()).
		Int("images", len(images)).
		Msg("document extracted")

	return &domain.ExtractedDocument{
		Text:   text.String(),
		Pages:  pages,
		Images: images,
	}, nil
}

func (e *Extractor) ocrPage(ctx context.Context, doc *fitz.Document, n int) string {
	png, err := doc.ImagePNG(n, e.opts.OCRDPI)
	if err != nil {
		e.logger.Warn().Err(err).Int("page", n+1).Msg("page render failed")
		return ""
	}
	text, err := e.recognizer.Recognize(ctx, png)
	if err != nil {
		e.logger.Warn().Err(err).Int("page", n+1).Msg("OCR failed")
		return ""
	}
	return text
}

// rawImage is an embedded image as reported by pdfcpu
type rawImage struct {
	page     int
	objNr    int
	fileType string
	data     []byte
}

func extractImages(data []byte) ([]domain.ExtractedImage, error) {
	var raw []rawImage
	digest := func(img model.Image, _ bool, _ int) error {
		if img.Thumb {
			return nil
		}
		b, err := io.ReadAll(img)
		if err != nil {
			return fmt.Errorf("reading image %s on page %d: %w", img.Name, img.PageNr, err)
		}
		raw = append(raw, rawImage{page: img.PageNr, objNr: img.ObjNr, fileType: img.FileType, data: b})
		return nil
	}

	if err := api.ExtractImages(bytes.NewReader(data), nil, digest, model.NewDefaultConfiguration()); err != nil {
		return nil, err
	}

	return orderImages(raw), nil
}

// orderImages sorts images by page then object number and numbers them per page
func orderImages(raw []rawImage) []domain.ExtractedImage {
	sort.SliceStable(raw, func(i, j int) bool {
		if raw[i].page != raw[j].page {
			return raw[i].page < raw[j].page
		}
		return raw[i].objNr < raw[j].objNr
	})

	images := make([]domain.ExtractedImage, 0, len(raw))
	index, page := 0, -1
	for _, r := range raw {
		if r.page != page {
			page, index = r.page, 0
		}
		contentType, ext := imageType(r.fileType, r.data)
		images = append(images, domain.ExtractedImage{
			Page:        r.page,
			Index:       index,
			Data:        r.data,
			ContentType: contentType,
			Ext:         ext,
		})
		index++
	}
	return images
}

// imageType maps a pdfcpu file type to a content type and file extension,
// sniffing the bytes when the type is unknown
func imageType(fileType string, data []byte) (string, string) {
	switch strings.ToLower(fileType) {
	case "png":
		return "image/png", "png"
	case "jpg", "jpeg":
		return "image/jpeg", "jpg"
	case "tif", "tiff":
		return "image/tiff", "tif"
	case "jpx", "jp2":
		return "image/jp2", "jp2"
	}

	switch http.DetectContentType(data) {
	case "image/png":
		return "image/png", "png"
	case "image/jpeg":
		return "image/jpeg", "jpg"
	case "image/gif":
		return "image/gif", "gif"
	case "image/webp":
		return "image/webp", "webp"
	case "image/bmp":
		return "image/bmp", "bmp"
	}
	return "application/octet-stream", "bin"
}
