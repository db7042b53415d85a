package adapter

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filterfs/filterfs/internal/config"
	"github.com/filterfs/filterfs/pkg/errors"
	"github.com/filterfs/filterfs/pkg/health"
	"github.com/filterfs/filterfs/pkg/types"
)

func currentUser() types.Credentials {
	return types.Credentials{UID: uint32(os.Getuid()), GID: uint32(os.Getgid())}
}

// newTree builds:
//
//	notes.txt        "hello filterfs"
//	secret.bin
//	docs/readme.md
//	abs -> /notes.txt
//	loop -> /loop
func newTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("hello filterfs"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "secret.bin"), []byte{0, 1, 2}, 0644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "docs"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "readme.md"), []byte("# docs\n"), 0644))
	require.NoError(t, os.Symlink("/notes.txt", filepath.Join(root, "abs")))
	require.NoError(t, os.Symlink("/loop", filepath.Join(root, "loop")))
	return root
}

func newEngine(t *testing.T, root string, mutate func(*config.Configuration)) *Engine {
	t.Helper()
	cfg := config.NewDefault()
	cfg.Filter.Command = `case {} in *.bin) exit 1;; esac`
	if mutate != nil {
		mutate(cfg)
	}
	e, err := NewEngine(context.Background(), root, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestNewEngineValidation(t *testing.T) {
	t.Parallel()
	root := newTree(t)

	tests := []struct {
		name string
		root string
		cfg  func(*config.Configuration)
		code errors.ErrorCode
	}{
		{"empty root", "", nil, errors.ErrCodePathInvalid},
		{"missing root", filepath.Join(root, "missing"), nil, errors.ErrCodeNotFound},
		{"file root", filepath.Join(root, "notes.txt"), nil, errors.ErrCodeNotDirectory},
		{"negative cache", root, func(c *config.Configuration) { c.Cache.MaxNodes = -1 }, errors.ErrCodeConfigValidation},
		{"bad filter", root, func(c *config.Configuration) { c.Filter.Command = `test -e '{}` }, errors.ErrCodeFilterTemplate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.NewDefault()
			if tt.cfg != nil {
				tt.cfg(cfg)
			}
			_, err := NewEngine(context.Background(), tt.root, cfg)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, tt.code), "got %v", err)
		})
	}
}

func TestNewEngineDefaults(t *testing.T) {
	t.Parallel()
	root := newTree(t)

	e, err := NewEngine(context.Background(), root, nil)
	require.NoError(t, err)
	defer e.Close()

	assert.Equal(t, root, e.Resolver.RootPath())
	assert.False(t, e.Metrics.Enabled())
	assert.False(t, e.Predicate.Enabled())
	assert.Equal(t, 256, e.Cache.Stats().Capacity)
}

func TestNewEngineRelativeRoot(t *testing.T) {
	root := newTree(t)
	wd, err := os.Getwd()
	require.NoError(t, err)
	rel, err := filepath.Rel(wd, root)
	require.NoError(t, err)

	e := newEngine(t, rel, nil)
	assert.Equal(t, root, e.Resolver.RootPath())
}

func TestEngineList(t *testing.T) {
	t.Parallel()
	e := newEngine(t, newTree(t), nil)

	entries, err := e.List(context.Background(), "/", currentUser())
	require.NoError(t, err)

	var names []string
	for _, ent := range entries {
		names = append(names, ent.Name)
	}
	assert.Equal(t, []string{"abs", "docs", "loop", "notes.txt"}, names)

	entries, err = e.List(context.Background(), "docs", currentUser())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "readme.md", entries[0].Name)

	_, err = e.List(context.Background(), "notes.txt", currentUser())
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotDirectory), "got %v", err)
}

func TestEngineStat(t *testing.T) {
	t.Parallel()
	e := newEngine(t, newTree(t), nil)
	ctx := context.Background()

	md, err := e.Stat(ctx, "/docs/readme.md", currentUser(), true)
	require.NoError(t, err)
	assert.True(t, md.IsRegular())
	assert.Equal(t, int64(len("# docs\n")), md.Size)

	md, err = e.Stat(ctx, "abs", currentUser(), false)
	require.NoError(t, err)
	assert.True(t, md.IsSymlink())

	md, err = e.Stat(ctx, "abs", currentUser(), true)
	require.NoError(t, err)
	assert.True(t, md.IsRegular())

	_, err = e.Stat(ctx, "secret.bin", currentUser(), true)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound), "got %v", err)
}

func TestEngineLookupAbsoluteSymlinkLoop(t *testing.T) {
	t.Parallel()
	e := newEngine(t, newTree(t), nil)

	_, err := e.Lookup(context.Background(), "loop", currentUser(), true)
	assert.True(t, errors.IsCode(err, errors.ErrCodeSymlinkLoop), "got %v", err)

	res, err := e.Lookup(context.Background(), "loop", currentUser(), false)
	require.NoError(t, err)
	require.NotNil(t, res.Node)
	e.Resolver.Release(res.Node)
}

func TestEngineCat(t *testing.T) {
	t.Parallel()
	e := newEngine(t, newTree(t), nil)
	ctx := context.Background()

	var buf bytes.Buffer
	n, err := e.Cat(ctx, "abs", currentUser(), &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(len("hello filterfs")), n)
	assert.Equal(t, "hello filterfs", buf.String())

	buf.Reset()
	_, err = e.Cat(ctx, "docs", currentUser(), &buf)
	assert.True(t, errors.IsCode(err, errors.ErrCodeIsDirectory), "got %v", err)

	_, err = e.Cat(ctx, "secret.bin", currentUser(), &buf)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound), "got %v", err)
}

func TestEngineCatLargeFile(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	content := strings.Repeat("0123456789abcdef", 10000)
	require.NoError(t, os.WriteFile(filepath.Join(root, "big"), []byte(content), 0644))
	e := newEngine(t, root, nil)

	var buf bytes.Buffer
	n, err := e.Cat(context.Background(), "big", currentUser(), &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), n)
	assert.Equal(t, content, buf.String())
}

func TestEngineMetricsWiring(t *testing.T) {
	t.Parallel()
	e := newEngine(t, newTree(t), func(c *config.Configuration) {
		// NewEngine never binds the listener, so the default port is safe
		c.Monitoring.Metrics.Enabled = true
	})

	_, err := e.Stat(context.Background(), "notes.txt", currentUser(), true)
	require.NoError(t, err)

	ops := e.Metrics.GetMetrics()
	assert.Contains(t, ops, "resolve")
	assert.NotZero(t, e.Backend.Counts().Open)
}

func TestEngineReload(t *testing.T) {
	t.Parallel()
	e := newEngine(t, newTree(t), func(c *config.Configuration) {
		c.Monitoring.Metrics.Enabled = true
	})
	ctx := context.Background()

	_, err := e.Stat(ctx, "notes.txt", currentUser(), true)
	require.NoError(t, err)

	ops := e.Reload()
	require.Contains(t, ops, "resolve")
	assert.NotZero(t, ops["resolve"].Count)
	assert.Empty(t, e.Metrics.GetMetrics(), "a reload starts a new window")
	assert.Empty(t, e.Reload())
}

func TestEngineHealthTracksFilter(t *testing.T) {
	t.Parallel()
	e := newEngine(t, newTree(t), func(c *config.Configuration) {
		c.Filter.Command = "/nonexistent/filter {}"
	})

	assert.True(t, e.Health.IsHealthy(health.ComponentFilter))
	entries, err := e.List(context.Background(), "/", currentUser())
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.False(t, e.Health.IsHealthy(health.ComponentFilter))
	assert.True(t, e.Health.IsHealthy(health.ComponentBackend))
}

func TestEngineCloseIsIdempotent(t *testing.T) {
	t.Parallel()
	e, err := NewEngine(context.Background(), newTree(t), nil)
	require.NoError(t, err)

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
	assert.Zero(t, e.Cache.Stats().Resident)
}

func TestNewAdapter(t *testing.T) {
	t.Parallel()
	root := newTree(t)

	a, err := New(context.Background(), root, t.TempDir(), nil)
	require.NoError(t, err)
	assert.Nil(t, a.Engine())
	// stopping an adapter that never started is a no-op
	assert.NoError(t, a.Stop(context.Background()))
	a.Wait()

	_, err = New(context.Background(), root, "", nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeMountFailed), "got %v", err)

	_, err = New(context.Background(), filepath.Join(root, "missing"), t.TempDir(), nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound), "got %v", err)

	cfg := config.NewDefault()
	cfg.Filter.MaxConcurrency = 0
	_, err = New(context.Background(), root, t.TempDir(), cfg)
	assert.True(t, errors.IsCode(err, errors.ErrCodeConfigValidation), "got %v", err)
}

func TestStartFailsOnMissingMountPoint(t *testing.T) {
	t.Parallel()
	a, err := New(context.Background(), newTree(t), filepath.Join(t.TempDir(), "absent"), nil)
	require.NoError(t, err)

	err = a.Start(context.Background())
	assert.True(t, errors.IsCode(err, errors.ErrCodeMountFailed), "got %v", err)
	assert.Nil(t, a.Engine())
	assert.NoError(t, a.Stop(context.Background()))
}
