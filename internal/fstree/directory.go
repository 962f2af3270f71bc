package fstree

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	serrors "github.com/conneroisu/servedir/internal/errors"
)

// Directory is a node for a directory. It shares the caching behaviour of
// File and additionally memoizes its children.
type Directory struct {
	*File

	// childMu protects children and serializes child creation
	childMu  sync.Mutex
	children map[string]Node
}

// newDirectory creates the node and schedules a recursive load of its
// subtree on the directory queue.
func (t *Tree) newDirectory(ctx context.Context, path string) *Directory {
	d := &Directory{
		File:     t.newFile(path),
		children: make(map[string]Node),
	}
	d.File.self = d

	err := t.dirs.Go(ctx, func(ctx context.Context) error {
		return d.Lazyload(ctx, t.plugins)
	})
	if err != nil {
		t.logger.Debug(ctx, "lazy load not scheduled", "path", path, "error", err.Error())
	}
	return d
}

func (d *Directory) lookup(name string) (Node, bool) {
	d.childMu.Lock()
	defer d.childMu.Unlock()
	child, ok := d.children[name]
	return child, ok
}

// Children returns the children materialized so far, keyed by name.
func (d *Directory) Children() map[string]Node {
	d.childMu.Lock()
	defer d.childMu.Unlock()

	children := make(map[string]Node, len(d.children))
	for name, child := range d.children {
		children[name] = child
	}
	return children
}

// Child returns the node for the entry called name, creating it on first
// use. Repeated calls return the same node. The entry is stat'ed through
// symlinks to decide whether it becomes a File or a Directory.
func (d *Directory) Child(name string) (Node, error) {
	if name == ".." || strings.ContainsRune(name, '/') || strings.ContainsRune(name, filepath.Separator) {
		return nil, serrors.NewStatError("child", filepath.Join(d.path, name), fs.ErrInvalid)
	}
	if name == "" || name == "." {
		return d, nil
	}

	d.childMu.Lock()
	defer d.childMu.Unlock()

	if child, ok := d.children[name]; ok {
		return child, nil
	}

	full := filepath.Join(d.path, name)
	info, err := os.Stat(full)
	if err != nil {
		return nil, serrors.NewStatError("child", full, err)
	}

	var child Node
	if info.IsDir() {
		child = d.tree.newDirectory(context.Background(), full)
	} else {
		child = d.tree.newFile(full)
	}
	d.children[filepath.Base(full)] = child
	return child, nil
}

// Traverse walks rel one segment at a time. Empty and "." segments are
// ignored and ".." cannot climb above d. Walking into a File with
// segments left fails with a not-traversable error; a missing entry fails
// with an error matching fs.ErrNotExist.
func (d *Directory) Traverse(rel string) (Node, error) {
	cleaned := strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(rel)), "/")
	if cleaned == "" {
		return d, nil
	}

	parts := strings.Split(cleaned, "/")
	var node Node = d
	for i, part := range parts {
		dir, ok := node.(*Directory)
		if !ok {
			return nil, serrors.NewNotTraversableError(node.Path(), strings.Join(parts[i:], "/"))
		}

		child, err := dir.Child(part)
		if err != nil {
			return nil, err
		}
		node = child
	}
	return node, nil
}

// Lazyload reads every entry of the directory, offers each to plugins and
// finally reads the directory's own listing. It runs on the directory
// queue. Subdirectories discovered here schedule their own loads.
func (d *Directory) Lazyload(ctx context.Context, plugins []Plugin) error {
	return d.tree.dirs.Do(ctx, func(ctx context.Context) error {
		entries, err := os.ReadDir(d.path)
		if err != nil {
			d.tree.logger.Warn(ctx, serrors.NewListingError(d.path, err), "lazy load failed")
		}

		for _, entry := range entries {
			child, err := d.Child(entry.Name())
			if err != nil {
				d.tree.logger.Debug(ctx, "skipping entry", "path", filepath.Join(d.path, entry.Name()), "error", err.Error())
				continue
			}

			if err := d.tree.io.Do(ctx, func(ctx context.Context) error {
				child.base().reload(ctx, plugins, hookLoad)
				return nil
			}); err != nil {
				return err
			}
		}

		d.Read(ctx)
		d.tree.logger.Debug(ctx, "directory loaded", "path", d.path, "entries", len(entries))
		return nil
	})
}

// String implements fmt.Stringer
func (d *Directory) String() string {
	return fmt.Sprintf("%s/", d.path)
}
