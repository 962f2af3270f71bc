// Package fstree mirrors a directory on disk as an in-memory tree of nodes,
// each caching the content it serves.
//
// # Nodes
//
// A Node is either a *File or a *Directory (which embeds *File). Nodes are
// created the first time a path is referenced and live as long as the
// tree. Each node caches one *source.Source and the modification time it
// was loaded at; a background refresh compares that time with the file on
// disk and reloads only when the file is newer.
//
// # Queues
//
// Every file-level read or refresh runs on the tree's I/O queue and every
// whole-directory scan runs on its directory queue. Both are FIFO and run
// one task at a time, so two refreshes never race to replace a node's
// cached source.
//
// # Plugins
//
// Plugins are offered every node in the order they were supplied. The last
// plugin to return a non-nil source wins, so a later plugin can override
// an earlier one.
package fstree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/singleflight"

	serrors "github.com/conneroisu/servedir/internal/errors"
	"github.com/conneroisu/servedir/internal/logging"
	"github.com/conneroisu/servedir/internal/metrics"
	"github.com/conneroisu/servedir/internal/queue"
)

// Tree owns the root directory, the serialization queues and the plugins
// shared by every node.
type Tree struct {
	io      *queue.Queue
	dirs    *queue.Queue
	logger  logging.Logger
	metrics *metrics.Metrics

	plugins    []Plugin
	stylesheet string
	scripts    []string

	// reads collapses concurrent first reads of the same node
	reads singleflight.Group

	root *Directory
}

// Option configures a Tree
type Option func(*Tree)

// WithLogger sets the logger used by the tree and its queues
func WithLogger(logger logging.Logger) Option {
	return func(t *Tree) {
		t.logger = logger
	}
}

// WithMetrics records tree activity into m
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tree) {
		t.metrics = m
	}
}

// WithStylesheet links the given stylesheet from generated listings
func WithStylesheet(href string) Option {
	return func(t *Tree) {
		t.stylesheet = href
	}
}

// WithScripts loads the given scripts from generated listings and from
// plugin pages that ask the tree for them.
func WithScripts(srcs ...string) Option {
	return func(t *Tree) {
		t.scripts = append(t.scripts, srcs...)
	}
}

// New mirrors the directory at root. The root directory immediately
// schedules a recursive load of its subtree on the directory queue; use
// Wait to block until it has finished.
func New(root string, plugins []Plugin, opts ...Option) (*Tree, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root %s: %w", root, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, serrors.NewStatError("open", abs, err)
	}
	if !info.IsDir() {
		return nil, serrors.NewNotTraversableError(abs, "")
	}

	t := &Tree{
		logger:  logging.NewNopLogger(),
		plugins: append([]Plugin(nil), plugins...),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.WithComponent("fstree")
	t.io = queue.New("io", t.logger)
	t.dirs = queue.New("dirs", t.logger)

	t.root = t.newDirectory(context.Background(), abs)
	return t, nil
}

// Root returns the root directory node
func (t *Tree) Root() *Directory {
	return t.root
}

// Plugins returns the plugins in the order they are consulted
func (t *Tree) Plugins() []Plugin {
	return append([]Plugin(nil), t.plugins...)
}

// Scripts returns the scripts generated pages should load
func (t *Tree) Scripts() []string {
	return append([]string(nil), t.scripts...)
}

// Traverse resolves rel below the root directory
func (t *Tree) Traverse(rel string) (Node, error) {
	return t.root.Traverse(rel)
}

// Lookup returns the node already materialized for the absolute path, if
// any. It never touches the filesystem.
func (t *Tree) Lookup(path string) (Node, bool) {
	rel, err := filepath.Rel(t.root.path, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, false
	}
	if rel == "." {
		return t.root, true
	}

	var node Node = t.root
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		dir, ok := node.(*Directory)
		if !ok {
			return nil, false
		}
		child, ok := dir.lookup(part)
		if !ok {
			return nil, false
		}
		node = child
	}
	return node, true
}

// Refresh schedules a staleness check for the node at path and for its
// parent directory, whose listing may have changed. It reports whether
// any materialized node was affected.
func (t *Tree) Refresh(ctx context.Context, path string) bool {
	affected := false
	if node, ok := t.Lookup(path); ok {
		node.base().scheduleRefresh(ctx)
		affected = true
	}
	if parent, ok := t.Lookup(filepath.Dir(path)); ok && parent.Path() != path {
		parent.base().scheduleRefresh(ctx)
		affected = true
	}
	return affected
}

// Wait blocks until scheduled directory loads and refreshes have finished.
func (t *Tree) Wait(ctx context.Context) error {
	for {
		if err := t.dirs.Wait(ctx); err != nil {
			return err
		}
		if err := t.io.Wait(ctx); err != nil {
			return err
		}
		if t.dirs.Stats().Idle() && t.io.Stats().Idle() {
			return nil
		}
	}
}

// Close stops scheduling background work. Work already queued still runs.
func (t *Tree) Close() {
	t.dirs.Close()
	t.io.Close()
}

// Stats reports the state of both queues
func (t *Tree) Stats() Stats {
	return Stats{
		Root: t.root.path,
		IO:   t.io.Stats(),
		Dirs: t.dirs.Stats(),
	}
}

// Stats describes a tree for health reporting
type Stats struct {
	Root string      `json:"root"`
	IO   queue.Stats `json:"io_queue"`
	Dirs queue.Stats `json:"dir_queue"`
}
