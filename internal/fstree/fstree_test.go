package fstree

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/conneroisu/servedir/internal/errors"
	"github.com/conneroisu/servedir/internal/metrics"
	"github.com/conneroisu/servedir/internal/mimetype"
	"github.com/conneroisu/servedir/internal/source"
)

// stubPlugin returns a fixed body for every file, or defers when body is
// empty.
type stubPlugin struct {
	Base
	name string
	body string
	err  error

	mu    sync.Mutex
	calls map[string]int
}

func newStub(name, body string) *stubPlugin {
	return &stubPlugin{name: name, body: body, calls: make(map[string]int)}
}

func (p *stubPlugin) Name() string {
	return p.name
}

func (p *stubPlugin) record(hook string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[hook]++
}

func (p *stubPlugin) count(hook string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[hook]
}

func (p *stubPlugin) result(name string) (*source.Source, error) {
	if p.err != nil {
		return nil, p.err
	}
	if p.body == "" {
		return nil, nil
	}
	return source.FromBuffer([]byte(p.body), source.Props{Name: name, Type: mimetype.HTML}), nil
}

func (p *stubPlugin) LoadFile(ctx context.Context, file *File) (*source.Source, error) {
	p.record("LoadFile")
	return p.result(file.Name())
}

func (p *stubPlugin) LoadDirectory(ctx context.Context, dir *Directory) (*source.Source, error) {
	p.record("LoadDirectory")
	return nil, nil
}

func (p *stubPlugin) UpdateFile(ctx context.Context, file *File) (*source.Source, error) {
	p.record("UpdateFile")
	return p.result(file.Name())
}

// writeFixture lays out:
//
//	a.txt
//	sub/b.txt
func writeFixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("alpha"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "b.txt"), []byte("beta"), 0o644))
	return root
}

func newTestTree(t *testing.T, root string, plugins []Plugin, opts ...Option) *Tree {
	t.Helper()
	tree, err := New(root, plugins, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		tree.Close()
		waitIdle(t, tree)
	})
	waitIdle(t, tree)
	return tree
}

func waitIdle(t *testing.T, tree *Tree) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tree.Wait(ctx))
}

func body(src *source.Source) string {
	return string(src.Bytes())
}

func TestNew(t *testing.T) {
	t.Run("missing root", func(t *testing.T) {
		_, err := New(filepath.Join(t.TempDir(), "nope"), nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, fs.ErrNotExist))
	})

	t.Run("file root", func(t *testing.T) {
		root := writeFixture(t)
		_, err := New(filepath.Join(root, "a.txt"), nil)
		require.Error(t, err)
		assert.True(t, serrors.IsNotTraversable(err))
	})

	t.Run("loads whole subtree", func(t *testing.T) {
		tree := newTestTree(t, writeFixture(t), nil)

		assert.True(t, tree.Root().Loaded())
		node, ok := tree.Lookup(filepath.Join(tree.Root().Path(), "sub", "b.txt"))
		require.True(t, ok)
		assert.True(t, node.Loaded())
		assert.Equal(t, "beta", body(node.Cached()))
	})
}

func TestTraverse(t *testing.T) {
	tree := newTestTree(t, writeFixture(t), nil)
	root := tree.Root()

	t.Run("nested file", func(t *testing.T) {
		node, err := root.Traverse("sub/b.txt")
		require.NoError(t, err)
		assert.IsType(t, &File{}, node)
		assert.Equal(t, "b.txt", node.Name())
		assert.Equal(t, filepath.Join(root.Path(), "sub", "b.txt"), node.Path())
	})

	t.Run("same instance", func(t *testing.T) {
		first, err := root.Traverse("sub/b.txt")
		require.NoError(t, err)
		second, err := root.Traverse("/sub//./b.txt")
		require.NoError(t, err)
		assert.Same(t, first, second)
	})

	t.Run("directory", func(t *testing.T) {
		node, err := root.Traverse("sub")
		require.NoError(t, err)
		assert.IsType(t, &Directory{}, node)
	})

	t.Run("empty path is root", func(t *testing.T) {
		node, err := root.Traverse("")
		require.NoError(t, err)
		assert.Same(t, root, node)
	})

	t.Run("cannot climb above root", func(t *testing.T) {
		node, err := root.Traverse("../../a.txt")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(root.Path(), "a.txt"), node.Path())
	})

	t.Run("missing entry", func(t *testing.T) {
		_, err := root.Traverse("sub/missing")
		require.Error(t, err)
		assert.True(t, errors.Is(err, fs.ErrNotExist))
		assert.False(t, serrors.IsNotTraversable(err))
	})

	t.Run("through a file", func(t *testing.T) {
		_, err := root.Traverse("a.txt/x")
		require.Error(t, err)
		assert.True(t, serrors.IsNotTraversable(err))
	})
}

func TestChild(t *testing.T) {
	tree := newTestTree(t, writeFixture(t), nil)
	root := tree.Root()

	self, err := root.Child(".")
	require.NoError(t, err)
	assert.Same(t, root, self)

	_, err = root.Child("..")
	assert.True(t, errors.Is(err, fs.ErrInvalid))

	_, err = root.Child("sub/b.txt")
	assert.True(t, errors.Is(err, fs.ErrInvalid))

	children := root.Children()
	assert.Contains(t, children, "a.txt")
	assert.Contains(t, children, "sub")
}

func TestRead(t *testing.T) {
	root := writeFixture(t)
	tree := newTestTree(t, root, nil)

	t.Run("regular file", func(t *testing.T) {
		node, err := tree.Traverse("a.txt")
		require.NoError(t, err)

		src := node.Read(context.Background())
		assert.Equal(t, "alpha", body(src))
		assert.Equal(t, "a.txt", src.Name())
		assert.True(t, strings.HasPrefix(src.Type(), "text/plain"))
		assert.Equal(t, node.Type(), src.Type())
	})

	t.Run("fallback is not cached", func(t *testing.T) {
		path := filepath.Join(root, "gone.txt")
		require.NoError(t, os.WriteFile(path, []byte("soon gone"), 0o644))
		node, err := tree.Traverse("gone.txt")
		require.NoError(t, err)
		require.Equal(t, "soon gone", body(node.Read(context.Background())))

		require.NoError(t, os.Remove(path))
		src := node.Read(context.Background())
		assert.Equal(t, mimetype.Plain, src.Type())
		assert.Contains(t, body(src), "no such file or directory")
		assert.Equal(t, "soon gone", body(node.Cached()))
	})

	t.Run("concurrent first reads agree", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(root, "late.txt"), []byte("late"), 0o644))
		node, err := tree.Traverse("late.txt")
		require.NoError(t, err)
		require.False(t, node.Loaded())

		var wg sync.WaitGroup
		results := make([]*source.Source, 8)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = node.Read(context.Background())
			}(i)
		}
		wg.Wait()

		for _, src := range results {
			assert.Equal(t, "late", body(src))
		}
		assert.True(t, node.Loaded())
	})

	t.Run("cancelled reader does not fail shared read", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(root, "shared.txt"), []byte("shared"), 0o644))
		node, err := tree.Traverse("shared.txt")
		require.NoError(t, err)

		held := make(chan struct{})
		release := make(chan struct{})
		go func() {
			_ = tree.io.Do(context.Background(), func(ctx context.Context) error {
				close(held)
				<-release
				return nil
			})
		}()
		<-held

		cancelled, cancel := context.WithCancel(context.Background())
		first := make(chan *source.Source, 1)
		go func() { first <- node.Read(cancelled) }()
		require.Eventually(t, func() bool {
			return tree.Stats().IO.Waiting == 1
		}, 5*time.Second, 5*time.Millisecond)

		second := make(chan *source.Source, 1)
		go func() { second <- node.Read(context.Background()) }()

		cancel()
		src := <-first
		assert.Equal(t, mimetype.Plain, src.Type())
		assert.Contains(t, body(src), context.Canceled.Error())

		close(release)
		select {
		case src := <-second:
			assert.Equal(t, "shared", body(src))
		case <-time.After(5 * time.Second):
			t.Fatal("shared read never finished")
		}
		assert.Equal(t, "shared", body(node.Cached()))
	})
}

func TestSource(t *testing.T) {
	root := writeFixture(t)
	m := metrics.New()
	tree := newTestTree(t, root, nil, WithMetrics(m))

	require.NoError(t, os.WriteFile(filepath.Join(root, "c.txt"), []byte("gamma"), 0o644))
	node, err := tree.Traverse("c.txt")
	require.NoError(t, err)

	first := node.Source(context.Background())
	assert.Equal(t, "gamma", body(first))
	waitIdle(t, tree)

	second := node.Source(context.Background())
	assert.Same(t, first, second)

	count, err := testutil.GatherAndCount(m.Registry(), "servedir_cache_lookups_total", "servedir_nodes")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestLazyUpdate(t *testing.T) {
	root := writeFixture(t)
	ctx := context.Background()

	t.Run("staleness gate", func(t *testing.T) {
		tree := newTestTree(t, root, nil)
		node, err := tree.Traverse("a.txt")
		require.NoError(t, err)
		cached := node.Cached()
		require.NotNil(t, cached)

		future := time.Now().Add(time.Hour)
		node.base().markUpdated(future)
		require.NoError(t, os.WriteFile(node.Path(), []byte("changed"), 0o644))

		require.NoError(t, node.LazyUpdate(ctx))
		assert.Same(t, cached, node.Cached())
		assert.Equal(t, future, node.LastUpdate())
	})

	t.Run("newer file is reloaded and updated by plugins", func(t *testing.T) {
		upper := newStub("upper", "UPDATED")
		tree := newTestTree(t, root, []Plugin{upper})
		node, err := tree.Traverse("sub/b.txt")
		require.NoError(t, err)

		modTime := node.LastUpdate().Add(time.Minute)
		require.NoError(t, os.WriteFile(node.Path(), []byte("new beta"), 0o644))
		require.NoError(t, os.Chtimes(node.Path(), modTime, modTime))

		before := upper.count("UpdateFile")
		require.NoError(t, node.LazyUpdate(ctx))
		assert.Equal(t, "UPDATED", body(node.Cached()))
		assert.Equal(t, before+1, upper.count("UpdateFile"))
		assert.True(t, node.LastUpdate().Equal(modTime))
	})

	t.Run("raw content refreshes without plugins", func(t *testing.T) {
		tree := newTestTree(t, root, nil)
		node, err := tree.Traverse("a.txt")
		require.NoError(t, err)

		modTime := node.LastUpdate().Add(time.Minute)
		require.NoError(t, os.WriteFile(node.Path(), []byte("alpha two"), 0o644))
		require.NoError(t, os.Chtimes(node.Path(), modTime, modTime))

		require.NoError(t, node.LazyUpdate(ctx))
		assert.Equal(t, "alpha two", body(node.Cached()))
	})

	t.Run("removed file drops its cached source", func(t *testing.T) {
		tree := newTestTree(t, root, nil)
		path := filepath.Join(root, "doomed.txt")
		require.NoError(t, os.WriteFile(path, []byte("doomed"), 0o644))
		node, err := tree.Traverse("doomed.txt")
		require.NoError(t, err)
		node.Read(ctx)
		require.True(t, node.Loaded())

		require.NoError(t, os.Remove(path))
		require.NoError(t, node.LazyUpdate(ctx))
		assert.False(t, node.Loaded())
		assert.Equal(t, epoch, node.LastUpdate())
	})

	t.Run("refreshed directory is offered to LoadDirectory", func(t *testing.T) {
		stub := newStub("stub", "")
		tree := newTestTree(t, writeFixture(t), []Plugin{stub})
		dir, err := tree.Traverse("sub")
		require.NoError(t, err)

		require.NoError(t, os.WriteFile(filepath.Join(dir.Path(), "c.txt"), []byte("gamma"), 0o644))
		modTime := dir.LastUpdate().Add(time.Minute)
		require.NoError(t, os.Chtimes(dir.Path(), modTime, modTime))

		before := stub.count("LoadDirectory")
		require.NoError(t, dir.LazyUpdate(ctx))
		assert.Equal(t, before+1, stub.count("LoadDirectory"))
		assert.Zero(t, stub.count("UpdateFile"))
		assert.Contains(t, body(dir.Cached()), "c.txt")
	})

	t.Run("refresh publishes only the final result", func(t *testing.T) {
		gate := &gatedPlugin{entered: make(chan struct{}), release: make(chan struct{})}
		tree := newTestTree(t, root, []Plugin{gate})
		node, err := tree.Traverse("a.txt")
		require.NoError(t, err)
		rendered := source.FromBuffer([]byte("<html>rendered</html>"), source.Props{Name: "a.txt", Type: mimetype.HTML})
		node.base().put(ctx, rendered)

		modTime := node.LastUpdate().Add(3 * time.Minute)
		require.NoError(t, os.WriteFile(node.Path(), []byte("# raw"), 0o644))
		require.NoError(t, os.Chtimes(node.Path(), modTime, modTime))

		done := make(chan error, 1)
		go func() { done <- node.LazyUpdate(ctx) }()
		<-gate.entered

		assert.Same(t, rendered, node.Cached())
		assert.Same(t, rendered, node.Source(ctx))

		close(gate.release)
		require.NoError(t, <-done)
		assert.Equal(t, "gated: # raw", body(node.Cached()))
	})

	t.Run("plugin reading through the tree", func(t *testing.T) {
		reader := &readBackPlugin{}
		tree := newTestTree(t, root, []Plugin{reader})
		node, err := tree.Traverse("a.txt")
		require.NoError(t, err)

		modTime := node.LastUpdate().Add(2 * time.Minute)
		require.NoError(t, os.Chtimes(node.Path(), modTime, modTime))

		done := make(chan error, 1)
		go func() { done <- node.LazyUpdate(ctx) }()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("lazy update deadlocked")
		}
		assert.True(t, strings.HasPrefix(body(node.Cached()), "read back: "))
	})
}

// gatedPlugin blocks inside UpdateFile until released, then wraps the
// content staged for the node.
type gatedPlugin struct {
	Base
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *gatedPlugin) UpdateFile(ctx context.Context, file *File) (*source.Source, error) {
	p.once.Do(func() { close(p.entered) })
	<-p.release
	current := file.Source(ctx)
	return source.FromBuffer(append([]byte("gated: "), current.Bytes()...), current.Props()), nil
}

// readBackPlugin wraps whatever the node currently serves.
type readBackPlugin struct {
	Base
}

func (readBackPlugin) UpdateFile(ctx context.Context, file *File) (*source.Source, error) {
	current := file.Read(ctx)
	return source.FromBuffer(append([]byte("read back: "), current.Bytes()...), current.Props()), nil
}

func TestResolve(t *testing.T) {
	root := writeFixture(t)
	ctx := context.Background()

	// Files created after the initial load stay unloaded until resolved.
	fresh := func(t *testing.T, tree *Tree, name string) Node {
		t.Helper()
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte("raw "+name), 0o644))
		node, err := tree.Traverse(name)
		require.NoError(t, err)
		require.False(t, node.Loaded())
		return node
	}

	t.Run("last non-empty plugin wins", func(t *testing.T) {
		tree := newTestTree(t, root, nil)
		a, b := newStub("a", "from a"), newStub("b", "from b")

		src := Resolve(ctx, fresh(t, tree, "ab.txt"), []Plugin{a, b})
		assert.Equal(t, "from b", body(src))
		assert.Equal(t, 1, a.count("LoadFile"))
		assert.Equal(t, 1, b.count("LoadFile"))
	})

	t.Run("deferring plugin keeps earlier result", func(t *testing.T) {
		tree := newTestTree(t, root, nil)
		a, quiet := newStub("a", "from a"), newStub("quiet", "")

		src := Resolve(ctx, fresh(t, tree, "aq.txt"), []Plugin{a, quiet})
		assert.Equal(t, "from a", body(src))
	})

	t.Run("failing plugin defers", func(t *testing.T) {
		tree := newTestTree(t, root, nil)
		a, broken := newStub("a", "from a"), newStub("broken", "x")
		broken.err = errors.New("boom")

		src := Resolve(ctx, fresh(t, tree, "broken.txt"), []Plugin{a, broken})
		assert.Equal(t, "from a", body(src))
	})

	t.Run("no plugins reads from disk", func(t *testing.T) {
		tree := newTestTree(t, root, nil)
		src := Resolve(ctx, fresh(t, tree, "plain.txt"), nil)
		assert.Equal(t, "raw plain.txt", body(src))
	})

	t.Run("loaded node skips plugins", func(t *testing.T) {
		tree := newTestTree(t, root, nil)
		a := newStub("a", "from a")
		node := fresh(t, tree, "idem.txt")

		first := Resolve(ctx, node, []Plugin{a})
		waitIdle(t, tree)
		calls := a.count("LoadFile")

		second := Resolve(ctx, node, []Plugin{a})
		third := Resolve(ctx, node, []Plugin{a})
		waitIdle(t, tree)

		assert.Same(t, first, second)
		assert.Same(t, second, third)
		assert.Equal(t, "from a", body(first))
		assert.Equal(t, calls, a.count("LoadFile"))
	})

	t.Run("directories use LoadDirectory", func(t *testing.T) {
		tree := newTestTree(t, root, nil)
		require.NoError(t, os.Mkdir(filepath.Join(root, "later"), 0o755))
		node, err := tree.Traverse("later")
		require.NoError(t, err)
		waitIdle(t, tree)

		a := newStub("a", "from a")
		node.base().invalidate()
		src := Resolve(ctx, node, []Plugin{a})
		assert.Equal(t, 1, a.count("LoadDirectory"))
		assert.Equal(t, 0, a.count("LoadFile"))
		assert.Equal(t, mimetype.HTML, src.Type())
	})
}

func TestLazyloadOffersEntriesToPlugins(t *testing.T) {
	stub := newStub("stub", "")
	newTestTree(t, writeFixture(t), []Plugin{stub})

	assert.Equal(t, 2, stub.count("LoadFile"))
	assert.Equal(t, 1, stub.count("LoadDirectory"))
}

func TestLookupAndRefresh(t *testing.T) {
	root := writeFixture(t)
	tree := newTestTree(t, root, nil)
	ctx := context.Background()

	_, ok := tree.Lookup(filepath.Dir(root))
	assert.False(t, ok)
	_, ok = tree.Lookup(filepath.Join(root, "unknown"))
	assert.False(t, ok)

	node, ok := tree.Lookup(filepath.Join(root, "sub", "b.txt"))
	require.True(t, ok)

	modTime := node.LastUpdate().Add(time.Minute)
	require.NoError(t, os.WriteFile(node.Path(), []byte("refreshed"), 0o644))
	require.NoError(t, os.Chtimes(node.Path(), modTime, modTime))

	assert.True(t, tree.Refresh(ctx, node.Path()))
	waitIdle(t, tree)
	assert.Equal(t, "refreshed", body(node.Cached()))

	// A new file in a known directory refreshes the parent listing.
	assert.True(t, tree.Refresh(ctx, filepath.Join(root, "sub", "new.txt")))
	assert.False(t, tree.Refresh(ctx, filepath.Join(root, "elsewhere", "x.txt")))
}

func TestStats(t *testing.T) {
	tree := newTestTree(t, writeFixture(t), nil)
	stats := tree.Stats()
	assert.Equal(t, tree.Root().Path(), stats.Root)
	assert.Equal(t, "io", stats.IO.Name)
	assert.Equal(t, "dirs", stats.Dirs.Name)
	assert.Positive(t, stats.Dirs.Completed)
}

func TestWaitCoversLoadsStartedWhileWaiting(t *testing.T) {
	tree := newTestTree(t, writeFixture(t), nil)
	started := make(chan struct{})
	release := make(chan struct{})

	require.NoError(t, tree.io.Go(context.Background(), func(ctx context.Context) error {
		if err := tree.dirs.Go(ctx, func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		}); err != nil {
			return err
		}
		<-started
		return nil
	}))

	done := make(chan error, 1)
	go func() { done <- tree.Wait(context.Background()) }()

	<-started
	select {
	case <-done:
		t.Fatal("Wait returned while a directory load was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Wait never returned")
	}
}
