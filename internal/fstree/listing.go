package fstree

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/a-h/templ"

	serrors "github.com/conneroisu/servedir/internal/errors"
	"github.com/conneroisu/servedir/internal/mimetype"
	"github.com/conneroisu/servedir/internal/source"
)

// listingEntry is one row of a directory index.
type listingEntry struct {
	Label string
	Href  string
	Type  string
	// NewWindow opens the entry in a new browsing context
	NewWindow bool
}

// renderListing builds the HTML index of the directory at f.path.
func (f *File) renderListing(ctx context.Context) (*source.Source, error) {
	entries, err := os.ReadDir(f.path)
	if err != nil {
		return nil, serrors.NewListingError(f.path, err)
	}

	names := make([]string, 0, len(entries)+1)
	names = append(names, "..")
	for _, entry := range entries {
		names = append(names, entry.Name())
	}

	rows := make([]listingEntry, 0, len(names))
	for _, name := range names {
		rows = append(rows, listingRow(f.path, name))
	}

	var buf bytes.Buffer
	if err := listingPage(f.name, f.tree.stylesheet, f.tree.scripts, rows).Render(ctx, &buf); err != nil {
		return nil, serrors.NewListingError(f.path, err)
	}

	return source.FromBuffer(buf.Bytes(), source.Props{Name: f.name + "/", Type: mimetype.HTML}), nil
}

func listingRow(dir, name string) listingEntry {
	full := filepath.Join(dir, name)
	contentType := mimetype.Detect(full)

	row := listingEntry{Label: name, Href: name, Type: contentType, NewWindow: true}
	switch {
	case mimetype.IsDirectory(contentType):
		row.Label += "/"
		row.Href = row.Label
		row.NewWindow = false
	case mimetype.IsSymlink(contentType):
		row.Href = symlinkHref(dir, full)
	}
	return row
}

// symlinkHref links to the target of the symlink at full, with a trailing
// slash when the target is a directory. Unreadable links fall back to the
// link's own name.
func symlinkHref(dir, full string) string {
	target, err := os.Readlink(full)
	if err != nil {
		return filepath.Base(full)
	}

	resolved := target
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(dir, target)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return filepath.Base(full)
	}

	href := filepath.ToSlash(target)
	if info.IsDir() && !strings.HasSuffix(href, "/") {
		href += "/"
	}
	return href
}

// escapeHref percent-encodes each segment of a relative link. A first
// segment containing a colon is prefixed with "./" so it is not read as a
// URL scheme.
func escapeHref(href string) string {
	segments := strings.Split(href, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	escaped := strings.Join(segments, "/")
	if !strings.HasPrefix(escaped, "/") && strings.Contains(segments[0], ":") {
		escaped = "./" + escaped
	}
	return escaped
}

func listingPage(title, stylesheet string, scripts []string, rows []listingEntry) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		if stylesheet != "" {
			b.WriteString(`<link rel="stylesheet" href="`)
			b.WriteString(templ.EscapeString(string(templ.URL(stylesheet))))
			b.WriteString(`">`)
		}
		b.WriteString("<h1>Index of ")
		b.WriteString(templ.EscapeString(title))
		b.WriteString("/</h1><table>")

		for _, row := range rows {
			b.WriteString(`<tr><td><a href="`)
			b.WriteString(templ.EscapeString(string(templ.URL(escapeHref(row.Href)))))
			b.WriteString(`"`)
			if row.NewWindow {
				b.WriteString(` target="_blank"`)
			}
			b.WriteString(">")
			b.WriteString(templ.EscapeString(row.Label))
			b.WriteString("</a></td><td>")
			b.WriteString(templ.EscapeString(row.Type))
			b.WriteString("</td></tr>")
		}

		b.WriteString("</table>")
		for _, src := range scripts {
			b.WriteString(`<script src="`)
			b.WriteString(templ.EscapeString(string(templ.URL(src))))
			b.WriteString(`"></script>`)
		}
		_, err := io.WriteString(w, b.String())
		return err
	})
}
