package plugins

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/servedir/internal/config"
	"github.com/conneroisu/servedir/internal/fstree"
	"github.com/conneroisu/servedir/internal/mimetype"
)

// newTree mirrors a directory holding files, without plugins, and waits
// for the initial load.
func newTree(t *testing.T, files map[string]string) *fstree.Tree {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	tree, err := fstree.New(root, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tree.Close()
		_ = tree.Wait(ctx)
	})
	return tree
}

func file(t *testing.T, tree *fstree.Tree, rel string) *fstree.File {
	t.Helper()
	node, err := tree.Traverse(rel)
	require.NoError(t, err)
	f, ok := node.(*fstree.File)
	require.True(t, ok, "%s is not a file", rel)
	return f
}

func TestHighlighter(t *testing.T) {
	tree := newTree(t, map[string]string{
		"main.go":    "package main\n\nfunc main() {}\n",
		"app.js":     "const answer = 42;\n",
		"notes.txt":  "just text\n",
		"index.html": "<p>hi</p>\n",
		"blob.bin":   "\x00\x01\x02",
	})
	h, err := NewHighlighter(config.HighlighterConfig{Style: "github"})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("go source", func(t *testing.T) {
		src, err := h.LoadFile(ctx, file(t, tree, "main.go"))
		require.NoError(t, err)
		require.NotNil(t, src)

		assert.Equal(t, mimetype.HTML, src.Type())
		assert.Equal(t, "main.go", src.Name())
		page := string(src.Bytes())
		assert.Contains(t, page, "<!DOCTYPE html>")
		assert.Contains(t, page, `data-language="go"`)
		assert.Contains(t, page, `class="chroma"`)
		assert.Contains(t, page, "<style>")
		assert.Contains(t, page, "main")
	})

	t.Run("javascript", func(t *testing.T) {
		src, err := h.LoadFile(ctx, file(t, tree, "app.js"))
		require.NoError(t, err)
		require.NotNil(t, src)
		assert.Contains(t, string(src.Bytes()), `data-language="javascript"`)
	})

	for _, name := range []string{"notes.txt", "index.html", "blob.bin"} {
		t.Run("defers on "+name, func(t *testing.T) {
			src, err := h.LoadFile(ctx, file(t, tree, name))
			require.NoError(t, err)
			assert.Nil(t, src)
		})
	}

	t.Run("passes directories through", func(t *testing.T) {
		src, err := h.LoadDirectory(ctx, tree.Root())
		require.NoError(t, err)
		require.NotNil(t, src)
		assert.Contains(t, string(src.Bytes()), "Index of")
	})

	t.Run("unknown style", func(t *testing.T) {
		_, err := NewHighlighter(config.HighlighterConfig{Style: "no-such-style"})
		assert.Error(t, err)
	})
}

func TestLanguageFor(t *testing.T) {
	tests := []struct {
		contentType string
		language    string
		found       bool
	}{
		{"text/x-go; charset=utf-8", "go", true},
		{"application/javascript; charset=utf-8", "javascript", true},
		{"application/json", "json", true},
		{"text/markdown; charset=utf-8", "markdown", true},
		{"text/html; charset=utf-8", "html", false},
		{"text/plain; charset=utf-8", "plain", false},
		{mimetype.Directory, "directory", false},
		{"image/png", "png", false},
		{"nonsense", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			language, lexer := languageFor(tt.contentType)
			assert.Equal(t, tt.language, language)
			assert.Equal(t, tt.found, lexer != nil)
		})
	}
}

func TestMarkdown(t *testing.T) {
	tree := newTree(t, map[string]string{
		"README.md": "# Title\n\nfirst line\nsecond line\n\n- [x] done\n\n| a | b |\n|---|---|\n| 1 | 2 |\n\n[link](https://example.com) <em>raw</em>\n",
		"notes.txt": "not markdown\n",
	})
	ctx := context.Background()

	m := NewMarkdown(config.MarkdownConfig{Stylesheet: "https://example.com/md.css", HardWraps: true})

	t.Run("renders document", func(t *testing.T) {
		src, err := m.LoadFile(ctx, file(t, tree, "README.md"))
		require.NoError(t, err)
		require.NotNil(t, src)

		assert.Equal(t, mimetype.HTML, src.Type())
		assert.Equal(t, "README.md", src.Name())

		page := string(src.Bytes())
		head, body, ok := strings.Cut(page, "</head>")
		require.True(t, ok)
		assert.Contains(t, head, `<link rel="stylesheet" href="https://example.com/md.css">`)
		assert.Contains(t, head, "<title>README.md</title>")
		assert.Contains(t, body, "<h1>Title</h1>")
		assert.Contains(t, body, "first line<br>")
		assert.Contains(t, body, "<table>")
		assert.Contains(t, body, `type="checkbox"`)
		assert.Contains(t, body, `target="_blank"`)
		assert.Contains(t, body, "<em>raw</em>")
	})

	t.Run("defers on other types", func(t *testing.T) {
		src, err := m.LoadFile(ctx, file(t, tree, "notes.txt"))
		require.NoError(t, err)
		assert.Nil(t, src)
	})

	t.Run("soft wraps", func(t *testing.T) {
		soft := NewMarkdown(config.MarkdownConfig{})
		src, err := soft.LoadFile(ctx, file(t, tree, "README.md"))
		require.NoError(t, err)
		assert.NotContains(t, string(src.Bytes()), "<br>")
		assert.NotContains(t, string(src.Bytes()), "stylesheet")
	})
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()

	t.Run("builds in configured order", func(t *testing.T) {
		r := NewRegistry(nil)
		plugins, err := r.Build(ctx, &config.PluginsConfig{
			Enabled:     []string{config.PluginMarkdown, config.PluginHighlighter},
			Highlighter: config.HighlighterConfig{Style: "github"},
		})
		require.NoError(t, err)
		require.Len(t, plugins, 2)
		assert.IsType(t, &Markdown{}, plugins[0])
		assert.IsType(t, &Highlighter{}, plugins[1])
		assert.Equal(t, "markdown", fstree.PluginName(plugins[0]))
	})

	t.Run("nothing enabled", func(t *testing.T) {
		plugins, err := NewRegistry(nil).Build(ctx, &config.PluginsConfig{})
		require.NoError(t, err)
		assert.Empty(t, plugins)
	})

	t.Run("unknown plugin", func(t *testing.T) {
		_, err := NewRegistry(nil).Build(ctx, &config.PluginsConfig{Enabled: []string{"tailwind"}})
		assert.ErrorContains(t, err, "not found")
	})

	t.Run("duplicate plugin", func(t *testing.T) {
		_, err := NewRegistry(nil).Build(ctx, &config.PluginsConfig{
			Enabled: []string{config.PluginMarkdown, config.PluginMarkdown},
		})
		assert.ErrorContains(t, err, "more than once")
	})

	t.Run("factory failure", func(t *testing.T) {
		_, err := NewRegistry(nil).Build(ctx, &config.PluginsConfig{
			Enabled:     []string{config.PluginHighlighter},
			Highlighter: config.HighlighterConfig{Style: "no-such-style"},
		})
		assert.ErrorContains(t, err, "failed to initialize plugin highlighter")
	})

	t.Run("register and list", func(t *testing.T) {
		r := NewRegistry(nil)
		require.NoError(t, r.Register("identity", "Serves content unchanged", func(*config.PluginsConfig) (fstree.Plugin, error) {
			return fstree.Base{}, nil
		}))
		assert.Error(t, r.Register("identity", "again", nil))

		infos := r.ListPlugins(&config.PluginsConfig{Enabled: []string{"identity"}})
		require.Len(t, infos, 3)
		assert.Equal(t, "highlighter", infos[0].Name)
		assert.Equal(t, "markdown", infos[1].Name)
		assert.Equal(t, "identity", infos[2].Name)
		assert.True(t, infos[2].Enabled)
		assert.False(t, infos[0].Enabled)
	})
}

// The tree consults plugins in order; with both enabled the Markdown
// renderer gets the last word on .md files.
func TestPluginsInTree(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "doc.md"), []byte("# Doc\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n"), 0o644))

	plugins, err := NewRegistry(nil).Build(context.Background(), &config.PluginsConfig{
		Enabled:     []string{config.PluginHighlighter, config.PluginMarkdown},
		Highlighter: config.HighlighterConfig{Style: "github"},
	})
	require.NoError(t, err)

	tree, err := fstree.New(root, plugins, fstree.WithScripts("/live.js"))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tree.Wait(ctx))

	const script = `<script src="/live.js"></script>`

	doc, err := tree.Traverse("doc.md")
	require.NoError(t, err)
	page := string(fstree.Resolve(ctx, doc, tree.Plugins()).Bytes())
	assert.Contains(t, page, "<h1>Doc</h1>")
	assert.NotContains(t, page, "chroma")
	assert.Contains(t, page, script)

	code, err := tree.Traverse("main.go")
	require.NoError(t, err)
	highlighted := string(fstree.Resolve(ctx, code, tree.Plugins()).Bytes())
	assert.Contains(t, highlighted, `class="chroma"`)
	assert.Contains(t, highlighted, script)
}
