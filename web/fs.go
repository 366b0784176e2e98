package web

import (
	"embed"
	"io/fs"
)

//go:embed static templates
var embeddedFS embed.FS

// Assets holds the page template under templates/ and the client files
// under static/
var Assets fs.FS = embeddedFS

// GetAssets returns the asset filesystem
func GetAssets() fs.FS {
	return Assets
}
