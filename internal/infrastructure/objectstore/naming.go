// Package objectstore persists extracted images and returns their public URLs.
package objectstore

import (
	"fmt"
	"net/url"
	"strings"
)

// ImageObjectName builds the object name for one extracted image.
// page is 1-based and index is the 0-based position of the image on the page.
func ImageObjectName(productID string, page, index int, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = "png"
	}
	return fmt.Sprintf("%s_page%d_img%d.%s", productID, page, index, ext)
}

// joinURL appends an escaped object name to a base URL
func joinURL(base, name string) string {
	parts := strings.Split(name, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.TrimRight(base, "/") + "/" + strings.Join(parts, "/")
}
