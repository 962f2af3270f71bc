package fstree

import (
	"context"
	"fmt"

	serrors "github.com/conneroisu/servedir/internal/errors"
	"github.com/conneroisu/servedir/internal/source"
)

// Plugin transforms the content served for nodes. A hook returns nil to
// defer to earlier plugins. Errors are logged and treated like nil.
type Plugin interface {
	LoadFile(ctx context.Context, file *File) (*source.Source, error)
	LoadDirectory(ctx context.Context, dir *Directory) (*source.Source, error)
}

// FileUpdater is implemented by plugins that handle a modified file
// differently from a first load. Plugins without it get LoadFile.
type FileUpdater interface {
	UpdateFile(ctx context.Context, file *File) (*source.Source, error)
}

// Named plugins report a stable name for logs and metrics
type Named interface {
	Name() string
}

// Base implements every hook as the identity transformation. Embed it to
// override only the hooks a plugin cares about.
type Base struct{}

// LoadFile returns the file's current source
func (Base) LoadFile(ctx context.Context, file *File) (*source.Source, error) {
	return file.Source(ctx), nil
}

// LoadDirectory returns the directory's current source
func (Base) LoadDirectory(ctx context.Context, dir *Directory) (*source.Source, error) {
	return dir.Source(ctx), nil
}

type hook int

const (
	hookLoad hook = iota
	hookUpdate
)

// PluginName returns the name a plugin reports, or its type
func PluginName(p Plugin) string {
	if named, ok := p.(Named); ok {
		return named.Name()
	}
	return fmt.Sprintf("%T", p)
}

// fold offers node to every plugin in order. Each non-nil result replaces
// the node's content before the next plugin runs, so the last one wins
// and later plugins observe earlier results. During a reload the results
// stay staged until the reload publishes them. It returns the winning
// source, or nil if every plugin deferred.
func (t *Tree) fold(ctx context.Context, node Node, plugins []Plugin, h hook) *source.Source {
	var winner *source.Source
	for _, p := range plugins {
		name := PluginName(p)
		src, hookName, err := invoke(ctx, p, node, h)

		switch {
		case err != nil:
			t.logger.Warn(ctx, serrors.NewPluginError(name, hookName, node.Path(), err), "plugin hook failed")
			t.metrics.ObservePlugin(name, hookName, "error")
		case src == nil:
			t.metrics.ObservePlugin(name, hookName, "deferred")
		default:
			winner = src
			node.base().put(ctx, src)
			t.metrics.ObservePlugin(name, hookName, "produced")
		}
	}
	return winner
}

// invoke calls the hook matching node and h. Directories always get
// LoadDirectory since there is no separate update hook for them.
func invoke(ctx context.Context, p Plugin, node Node, h hook) (*source.Source, string, error) {
	if dir, ok := node.(*Directory); ok {
		src, err := p.LoadDirectory(ctx, dir)
		return src, "LoadDirectory", err
	}

	if h == hookUpdate {
		if updater, ok := p.(FileUpdater); ok {
			src, err := updater.UpdateFile(ctx, node.base())
			return src, "UpdateFile", err
		}
		src, err := p.LoadFile(ctx, node.base())
		return src, "UpdateFile", err
	}

	src, err := p.LoadFile(ctx, node.base())
	return src, "LoadFile", err
}
