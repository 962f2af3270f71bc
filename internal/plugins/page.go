package plugins

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/a-h/templ"
)

// Page is a complete HTML document around pre-rendered body markup.
type Page struct {
	Title       string
	Stylesheets []string
	// Style is inline CSS placed in the head
	Style string
	Body  []byte
	// Scripts are loaded at the end of the body
	Scripts []string
}

// Component renders the page
func (p Page) Component() templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
		b.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">\n")
		b.WriteString("<title>")
		b.WriteString(templ.EscapeString(p.Title))
		b.WriteString("</title>\n")
		for _, href := range p.Stylesheets {
			if href == "" {
				continue
			}
			b.WriteString(`<link rel="stylesheet" href="`)
			b.WriteString(templ.EscapeString(string(templ.URL(href))))
			b.WriteString("\">\n")
		}
		if p.Style != "" {
			b.WriteString("<style>\n")
			b.WriteString(p.Style)
			b.WriteString("</style>\n")
		}
		b.WriteString("</head>\n<body>\n")
		b.Write(p.Body)
		b.WriteString("\n")
		for _, src := range p.Scripts {
			b.WriteString(`<script src="`)
			b.WriteString(templ.EscapeString(string(templ.URL(src))))
			b.WriteString("\"></script>\n")
		}
		b.WriteString("</body>\n</html>\n")

		_, err := io.WriteString(w, b.String())
		return err
	})
}

// Render returns the page markup
func (p Page) Render(ctx context.Context) ([]byte, error) {
	var buf bytes.Buffer
	if err := p.Component().Render(ctx, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
