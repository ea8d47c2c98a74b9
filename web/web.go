// web/web.go

// Package web bundles the page template and its static assets into the binary.
package web

import (
	"embed"
	"html/template"
	"io/fs"

	"github.com/Corphon/FlagLens/internal/models"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// FuncMap exposes segment helpers to the template.
func FuncMap() template.FuncMap {
	return template.FuncMap{
		"isHeader":  func(s models.Segment) bool { return s.Kind == models.SegmentSectionHeader },
		"isField":   func(s models.Segment) bool { return s.Kind == models.SegmentLabeledField },
		"isBullet":  func(s models.Segment) bool { return s.Kind == models.SegmentBulletItem },
		"isLoading": func(status models.SessionStatus) bool { return status == models.StatusLoading },
		"isFailed":  func(status models.SessionStatus) bool { return status == models.StatusFailed },
		"safeURL":   func(s string) template.URL { return template.URL(s) },
	}
}

// Templates parses the embedded page templates.
func Templates() (*template.Template, error) {
	return template.New("").Funcs(FuncMap()).ParseFS(templateFS, "templates/*.html")
}

// Static returns the embedded assets rooted at static/.
func Static() fs.FS {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return sub
}
