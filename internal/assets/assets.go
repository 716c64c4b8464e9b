// Package assets embeds the viewer page.
package assets

import (
	"embed"
	"io/fs"
)

//go:embed static
var static embed.FS

// Static returns the page files rooted at the static directory.
func Static() fs.FS {
	sub, err := fs.Sub(static, "static")
	if err != nil {
		panic(err)
	}
	return sub
}
