package plugins

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"

	"github.com/conneroisu/servedir/internal/config"
	"github.com/conneroisu/servedir/internal/fstree"
	"github.com/conneroisu/servedir/internal/mimetype"
	"github.com/conneroisu/servedir/internal/source"
)

// Markdown renders text/markdown files as complete HTML documents.
type Markdown struct {
	fstree.Base

	md         goldmark.Markdown
	stylesheet string
}

// NewMarkdown creates the plugin. Raw HTML in documents is passed
// through and links open in a new window.
func NewMarkdown(cfg config.MarkdownConfig) *Markdown {
	rendererOptions := []renderer.Option{html.WithUnsafe()}
	if cfg.HardWraps {
		rendererOptions = append(rendererOptions, html.WithHardWraps())
	}

	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			extension.DefinitionList,
			extension.Footnote,
			extension.Typographer,
		),
		goldmark.WithParserOptions(
			parser.WithASTTransformers(util.Prioritized(externalLinks{}, 500)),
		),
		goldmark.WithRendererOptions(rendererOptions...),
	)

	return &Markdown{md: md, stylesheet: cfg.Stylesheet}
}

// Name implements fstree.Named
func (m *Markdown) Name() string {
	return config.PluginMarkdown
}

// LoadFile renders Markdown files and defers on everything else.
func (m *Markdown) LoadFile(ctx context.Context, file *fstree.File) (*source.Source, error) {
	if !strings.HasPrefix(file.Type(), "text/markdown") {
		return nil, nil
	}

	markdown, err := os.ReadFile(file.Path())
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	if err := m.md.Convert(markdown, &body); err != nil {
		return nil, fmt.Errorf("converting markdown: %w", err)
	}

	page, err := Page{
		Title:       file.Name(),
		Stylesheets: []string{m.stylesheet},
		Body:        body.Bytes(),
		Scripts:     file.Tree().Scripts(),
	}.Render(ctx)
	if err != nil {
		return nil, err
	}
	return source.FromBuffer(page, source.Props{Name: file.Name(), Type: mimetype.HTML}), nil
}

// externalLinks makes every link open in a new browsing context.
type externalLinks struct{}

func (externalLinks) Transform(doc *ast.Document, reader text.Reader, pc parser.Context) {
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case ast.KindLink, ast.KindAutoLink:
			n.SetAttributeString("target", []byte("_blank"))
			n.SetAttributeString("rel", []byte("noopener"))
		}
		return ast.WalkContinue, nil
	})
}
