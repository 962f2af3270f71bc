package fstree

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	serrors "github.com/conneroisu/servedir/internal/errors"
	"github.com/conneroisu/servedir/internal/mimetype"
	"github.com/conneroisu/servedir/internal/source"
)

// epoch marks a node that has never been refreshed, or whose last refresh
// failed.
var epoch = time.Unix(0, 0)

// Node is a *File or a *Directory.
type Node interface {
	// Path is the absolute filesystem path
	Path() string
	// Name is the base name
	Name() string
	// Type is the MIME type derived from the name, or probed from disk
	Type() string
	// Loaded reports whether a source has been cached
	Loaded() bool
	// Cached returns the cached source without any I/O
	Cached() *source.Source
	// LastUpdate is the modification time the cache was loaded at
	LastUpdate() time.Time
	// Source schedules a staleness check and returns the cached source,
	// reading it first if nothing is cached yet.
	Source(ctx context.Context) *source.Source
	// Read loads content from disk. It never fails; problems are reported
	// through a text/plain fallback source.
	Read(ctx context.Context) *source.Source
	// LazyUpdate reloads the node if its file was modified since the last
	// refresh.
	LazyUpdate(ctx context.Context) error

	base() *File
}

// File is a node for any non-directory path.
type File struct {
	tree *Tree
	path string
	name string
	// self is the outermost node embedding this File
	self Node

	// mu protects cached, lastUpdate and the staging fields
	mu         sync.Mutex
	cached     *source.Source
	lastUpdate time.Time

	// staged collects a reload's result until it is published. Only code
	// holding the I/O queue sees it.
	staging bool
	staged  *source.Source

	refreshQueued atomic.Bool
}

func (t *Tree) newFile(path string) *File {
	t.metrics.NodeCreated()
	f := &File{
		tree:       t,
		path:       path,
		name:       filepath.Base(path),
		lastUpdate: epoch,
	}
	f.self = f
	return f
}

func (f *File) base() *File {
	return f
}

// Path returns the absolute path
func (f *File) Path() string {
	return f.path
}

// Name returns the base name
func (f *File) Name() string {
	return f.name
}

// Type returns the MIME type of the file.
func (f *File) Type() string {
	return mimetype.Detect(f.path)
}

// Loaded reports whether a source has been cached
func (f *File) Loaded() bool {
	return f.Cached() != nil
}

// Cached returns the cached source, or nil
func (f *File) Cached() *source.Source {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cached
}

// LastUpdate returns the modification time of the last successful refresh
func (f *File) LastUpdate() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastUpdate
}

// Tree returns the tree the node belongs to
func (f *File) Tree() *Tree {
	return f.tree
}

// put stores src as the node's content. While a reload is staging, code
// on the I/O queue writes to the staged result instead.
func (f *File) put(ctx context.Context, src *source.Source) {
	held := f.tree.io.Held(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.staging && held {
		f.staged = src
		return
	}
	f.cached = src
}

// current is what a caller sees as the node's content: the staged result
// on the I/O queue during a reload, the cache otherwise.
func (f *File) current(ctx context.Context) *source.Source {
	held := f.tree.io.Held(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.staging && held && f.staged != nil {
		return f.staged
	}
	return f.cached
}

func (f *File) beginStage(src *source.Source) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.staging = true
	f.staged = src
}

// publish ends staging and replaces the cache with the staged result, if
// there is one.
func (f *File) publish() *source.Source {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.staged != nil {
		f.cached = f.staged
	}
	f.staging = false
	f.staged = nil
	return f.cached
}

func (f *File) markUpdated(modTime time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastUpdate = modTime
}

// noteModTime advances lastUpdate to modTime, never moving it back.
func (f *File) noteModTime(modTime time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if modTime.After(f.lastUpdate) {
		f.lastUpdate = modTime
	}
}

// invalidate forgets the cached source so the next access reads again.
func (f *File) invalidate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cached = nil
	f.lastUpdate = epoch
}

// Source returns the cached source, reading it if needed. Every call also
// schedules a background staleness check.
func (f *File) Source(ctx context.Context) *source.Source {
	f.scheduleRefresh(ctx)

	if src := f.current(ctx); src != nil {
		f.tree.metrics.ObserveLookup(true)
		return src
	}
	f.tree.metrics.ObserveLookup(false)
	return f.Read(ctx)
}

// scheduleRefresh queues at most one pending LazyUpdate per node.
func (f *File) scheduleRefresh(ctx context.Context) {
	if !f.refreshQueued.CompareAndSwap(false, true) {
		return
	}
	if err := f.tree.io.Go(ctx, f.LazyUpdate); err != nil {
		f.refreshQueued.Store(false)
	}
}

// Read loads the node's content from disk on the I/O queue and caches it.
// Concurrent first reads of the same node share one load, which runs
// detached from any single caller; a cancelled caller stops waiting
// without affecting the others.
func (f *File) Read(ctx context.Context) *source.Source {
	if f.tree.io.Held(ctx) {
		return f.load(ctx)
	}

	shared := f.tree.io.Detach(ctx)
	ch := f.tree.reads.DoChan(f.path, func() (interface{}, error) {
		var src *source.Source
		err := f.tree.io.Do(shared, func(ctx context.Context) error {
			src = f.load(ctx)
			return nil
		})
		if err != nil {
			return f.fallback(err), nil
		}
		return src, nil
	})

	select {
	case res := <-ch:
		return res.Val.(*source.Source)
	case <-ctx.Done():
		return f.fallback(ctx.Err())
	}
}

// load reads the node assuming the I/O queue is held. Successful loads are
// stored; fallbacks are not.
func (f *File) load(ctx context.Context) *source.Source {
	src, info, err := f.readDisk(ctx)
	if err != nil {
		return f.fallback(err)
	}
	f.put(ctx, src)
	f.noteModTime(info.ModTime())
	return src
}

// readDisk reads the node's current content without storing it.
func (f *File) readDisk(ctx context.Context) (*source.Source, fs.FileInfo, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		f.tree.logger.Warn(ctx, err, "stat failed", "path", f.path)
		return nil, nil, serrors.NewStatError("read", f.path, err)
	}

	var src *source.Source
	switch {
	case info.Mode().IsRegular():
		src, err = f.readRegular()
		f.tree.metrics.ObserveRead("file")
	case info.IsDir():
		src, err = f.renderListing(ctx)
		f.tree.metrics.ObserveRead("directory")
	default:
		src, err = f.describe(info)
		f.tree.metrics.ObserveRead("special")
	}
	if err != nil {
		f.tree.logger.Warn(ctx, err, "read failed", "path", f.path)
		return nil, nil, err
	}
	return src, info, nil
}

// reload reads the node from disk and folds plugins over the fresh
// content. Nothing is visible outside the I/O queue until the final
// result is published. The I/O queue must be held.
func (f *File) reload(ctx context.Context, plugins []Plugin, h hook) *source.Source {
	raw, info, err := f.readDisk(ctx)
	if err != nil {
		raw = f.Cached()
	}

	f.beginStage(raw)
	f.tree.fold(ctx, f.self, plugins, h)
	src := f.publish()

	if err == nil {
		f.noteModTime(info.ModTime())
	}
	if src == nil {
		return f.fallback(err)
	}
	return src
}

func (f *File) readRegular() (*source.Source, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, serrors.NewStatError("open", f.path, err)
	}
	defer file.Close()

	return source.FromStream(file, source.Props{Name: f.name, Type: f.Type()})
}

type statRecord struct {
	Name    string      `json:"name"`
	Size    int64       `json:"size"`
	Mode    string      `json:"mode"`
	Perm    uint32      `json:"perm"`
	ModTime time.Time   `json:"mtime"`
	IsDir   bool        `json:"is_dir"`
	Sys     interface{} `json:"sys,omitempty"`
}

// describe renders the stat record of a path that is neither a regular
// file nor a directory.
func (f *File) describe(info fs.FileInfo) (*source.Source, error) {
	record := statRecord{
		Name:    info.Name(),
		Size:    info.Size(),
		Mode:    info.Mode().String(),
		Perm:    uint32(info.Mode().Perm()),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
		Sys:     info.Sys(),
	}

	data, err := json.MarshalIndent(record, "", "\t")
	if err != nil {
		record.Sys = nil
		if data, err = json.MarshalIndent(record, "", "\t"); err != nil {
			return nil, err
		}
	}
	data = append(data, '\n')

	return source.FromBuffer(data, source.Props{Name: f.name, Type: mimetype.JSON}), nil
}

func (f *File) fallback(err error) *source.Source {
	f.tree.metrics.ObserveRead("fallback")
	return source.FromBuffer([]byte(err.Error()), source.Props{Name: f.name, Type: mimetype.Plain})
}

// LazyUpdate reloads the node when the file on disk is newer than the last
// refresh, then lets every plugin update the fresh content. A node whose
// file disappeared is dropped from the cache; any other stat failure
// leaves the cache alone but forces a retry on the next check.
func (f *File) LazyUpdate(ctx context.Context) error {
	return f.tree.io.Do(ctx, func(ctx context.Context) error {
		f.refreshQueued.Store(false)

		info, err := os.Stat(f.path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				f.invalidate()
				f.tree.metrics.ObserveRefresh("removed")
			} else {
				f.markUpdated(epoch)
				f.tree.metrics.ObserveRefresh("error")
			}
			f.tree.logger.Debug(ctx, "refresh stat failed", "path", f.path, "error", err.Error())
			return nil
		}

		if !info.ModTime().After(f.LastUpdate()) {
			f.tree.metrics.ObserveRefresh("fresh")
			return nil
		}

		f.markUpdated(info.ModTime())
		f.reload(ctx, f.tree.plugins, hookUpdate)
		f.tree.metrics.ObserveRefresh("updated")
		f.tree.logger.Debug(ctx, "refreshed", "path", f.path)
		return nil
	})
}
