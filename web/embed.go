// Package web provides embedded view templates for the subscription
// site.
package web

import (
	"embed"
	"io/fs"
)

//go:embed all:views
var viewsFS embed.FS

// ViewsFS returns the embedded view templates as a filesystem. The
// returned FS has "views" as the root, so templates are accessed
// directly (e.g., "index.html" not "views/index.html").
func ViewsFS() (fs.FS, error) {
	return fs.Sub(viewsFS, "views")
}
