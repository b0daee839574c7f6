// Package web holds the upload page served at the site root.
package web

import (
	"embed"
	"io/fs"
)

//go:embed index.html static
var content embed.FS

// IndexHTML returns the upload page
func IndexHTML() ([]byte, error) {
	return content.ReadFile("index.html")
}

// Static returns the page assets rooted at the static directory
func Static() fs.FS {
	sub, err := fs.Sub(content, "static")
	if err != nil {
		// static is embedded above; Sub only fails on an invalid path
		panic(err)
	}
	return sub
}
