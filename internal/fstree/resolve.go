package fstree

import (
	"context"
	"os"

	"github.com/conneroisu/servedir/internal/source"
)

// Resolve returns the content to serve for node. A node that already has
// a cached source is returned as is. Otherwise every plugin is offered
// the node in order, each non-nil result replacing the cache, and the
// node's final source is returned. Without plugins this is node.Source.
func Resolve(ctx context.Context, node Node, plugins []Plugin) *source.Source {
	if node.Loaded() {
		return node.Source(ctx)
	}

	// Plugins transform what is on disk now, so a successful fold counts as
	// a refresh at the current modification time.
	f := node.base()
	info, err := os.Stat(f.path)
	if f.tree.fold(ctx, node, plugins, hookLoad) != nil && err == nil {
		f.noteModTime(info.ModTime())
	}
	return node.Source(ctx)
}
