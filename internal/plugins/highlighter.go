package plugins

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"

	"github.com/conneroisu/servedir/internal/config"
	"github.com/conneroisu/servedir/internal/fstree"
	"github.com/conneroisu/servedir/internal/mimetype"
	"github.com/conneroisu/servedir/internal/source"
)

// subtype captures the part of a MIME type between "/" and any parameters.
var subtype = regexp.MustCompile(`.*/([^;]+);?.*`)

// Highlighter serves source files as syntax highlighted HTML pages. The
// language comes from the MIME subtype, so text/x-go is highlighted as Go.
// HTML, plain text and types without a known language are left alone.
type Highlighter struct {
	fstree.Base

	style     *chroma.Style
	formatter *chromahtml.Formatter
	css       string
}

// NewHighlighter creates a highlighter using the named chroma style.
func NewHighlighter(cfg config.HighlighterConfig) (*Highlighter, error) {
	style := styles.Get(cfg.Style)
	if cfg.Style != "" && style == styles.Fallback && !strings.EqualFold(cfg.Style, styles.Fallback.Name) {
		return nil, fmt.Errorf("unknown highlighter style %q", cfg.Style)
	}

	formatter := chromahtml.New(
		chromahtml.WithClasses(true),
		chromahtml.WithLineNumbers(cfg.LineNumbers),
		chromahtml.TabWidth(4),
	)

	var css bytes.Buffer
	if err := formatter.WriteCSS(&css, style); err != nil {
		return nil, fmt.Errorf("writing %s stylesheet: %w", style.Name, err)
	}

	return &Highlighter{style: style, formatter: formatter, css: css.String()}, nil
}

// Name implements fstree.Named
func (h *Highlighter) Name() string {
	return config.PluginHighlighter
}

// LoadFile highlights the file when its type names a known language.
func (h *Highlighter) LoadFile(ctx context.Context, file *fstree.File) (*source.Source, error) {
	language, lexer := languageFor(file.Type())
	if lexer == nil {
		return nil, nil
	}

	code, err := os.ReadFile(file.Path())
	if err != nil {
		return nil, err
	}

	iterator, err := chroma.Coalesce(lexer).Tokenise(nil, string(code))
	if err != nil {
		return nil, fmt.Errorf("tokenising as %s: %w", language, err)
	}

	var body bytes.Buffer
	fmt.Fprintf(&body, "<div data-language=%q>\n", language)
	if err := h.formatter.Format(&body, h.style, iterator); err != nil {
		return nil, fmt.Errorf("formatting as %s: %w", language, err)
	}
	body.WriteString("</div>")

	page, err := Page{Title: file.Name(), Style: h.css, Body: body.Bytes(), Scripts: file.Tree().Scripts()}.Render(ctx)
	if err != nil {
		return nil, err
	}
	return source.FromBuffer(page, source.Props{Name: file.Name(), Type: mimetype.HTML}), nil
}

// languageFor maps a MIME type to a chroma lexer. Subtypes are tried as
// given and without an "x-" prefix.
func languageFor(contentType string) (string, chroma.Lexer) {
	match := subtype.FindStringSubmatch(contentType)
	if match == nil {
		return "", nil
	}

	language := strings.TrimSpace(match[1])
	if language == "html" || strings.HasPrefix(contentType, "inode/") {
		return language, nil
	}

	for _, name := range []string{language, strings.TrimPrefix(language, "x-")} {
		lexer := lexers.Get(name)
		if lexer == nil {
			continue
		}
		if lexer.Config().Name == "plaintext" {
			return name, nil
		}
		return name, lexer
	}
	return language, nil
}
