// Package markdown renders organizer-authored markdown into safe HTML.
package markdown

import (
	"bytes"
	"html/template"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Raw HTML in the source is dropped (goldmark's default); links and
// line breaks follow GitHub-flavoured conventions.
var md = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// Render converts src to HTML safe to embed in templates.
func Render(src string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(src), &buf); err != nil {
		return "", err
	}
	// goldmark escapes text and omits raw HTML unless WithUnsafe is set
	return template.HTML(buf.String()), nil //nolint:gosec
}

// MustRender is Render for callers that prefer an empty fragment on failure.
func MustRender(src string) template.HTML {
	out, err := Render(src)
	if err != nil {
		return template.HTML(template.HTMLEscapeString(src)) //nolint:gosec
	}
	return out
}
