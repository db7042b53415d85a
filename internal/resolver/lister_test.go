package resolver

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filterfs/filterfs/pkg/errors"
)

func TestDirentSize(t *testing.T) {
	assert.Equal(t, 24, DirentSize("."))
	assert.Equal(t, 24, DirentSize("abcd"))
	assert.Equal(t, 32, DirentSize("abcde"))
	assert.Equal(t, 0, DirentSize("a.txt")%8)
}

func listFixture(t *testing.T) *engine {
	t.Helper()
	root := t.TempDir()
	for _, name := range []string{"c", "a", "e", "b", "d"} {
		writeFile(t, filepath.Join(root, name), name, 0644)
	}
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0755))
	require.NoError(t, os.Symlink("a", filepath.Join(root, "link")))
	return newEngine(t, root)
}

func TestListDirectoryOrderAndTypes(t *testing.T) {
	e := listFixture(t)

	entries, err := e.ListDirectory(context.Background(), e.Root(), 0, -1, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{".", "..", "a", "b", "c", "d", "e", "link", "sub"}, names(entries))

	byName := make(map[string]Entry)
	for _, en := range entries {
		byName[en.Name] = en
	}
	assert.Equal(t, uint64(SyntheticIno), byName["."].Ino)
	assert.Equal(t, uint64(SyntheticIno), byName[".."].Ino)
	assert.Equal(t, uint32(syscall.S_IFDIR), byName["."].Type)
	assert.Equal(t, uint32(syscall.S_IFDIR), byName["sub"].Type)
	assert.Equal(t, uint32(syscall.S_IFLNK), byName["link"].Type)
	assert.Equal(t, uint32(syscall.S_IFREG), byName["a"].Type)
	assert.NotEqual(t, uint64(SyntheticIno), byName["a"].Ino)
}

func TestListDirectoryEntryCap(t *testing.T) {
	e := listFixture(t)
	ctx := context.Background()

	entries, err := e.ListDirectory(ctx, e.Root(), 0, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{".", "..", "a"}, names(entries))

	// continuation from the next index
	entries, err = e.ListDirectory(ctx, e.Root(), 3, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "d"}, names(entries))

	entries, err = e.ListDirectory(ctx, e.Root(), 9, 3, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)

	entries, err = e.ListDirectory(ctx, e.Root(), 0, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestListDirectoryByteCap(t *testing.T) {
	e := listFixture(t)
	ctx := context.Background()

	entries, err := e.ListDirectory(ctx, e.Root(), 0, -1, 2*DirentSize("."))
	require.NoError(t, err)
	assert.Equal(t, []string{".", ".."}, names(entries))

	// one byte short of the third entry
	entries, err = e.ListDirectory(ctx, e.Root(), 0, -1, 3*DirentSize(".")-1)
	require.NoError(t, err)
	assert.Equal(t, []string{".", ".."}, names(entries))

	// nothing fits
	entries, err = e.ListDirectory(ctx, e.Root(), 0, -1, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestListDirectoryTouchesAtime(t *testing.T) {
	e := listFixture(t)
	before := e.Root().Metadata().Atime

	time.Sleep(10 * time.Millisecond)
	_, err := e.ListDirectory(context.Background(), e.Root(), 0, -1, 0)
	require.NoError(t, err)
	assert.True(t, e.Root().Metadata().Atime.After(before))
}

func TestListDirectoryRejectsFiles(t *testing.T) {
	e := listFixture(t)
	n := e.mustResolve(t, "a")
	defer e.Release(n)

	_, err := e.ListDirectory(context.Background(), n, 0, -1, 0)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotDirectory))
}

func TestListDirectoryManyFilteredEntries(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 3*filterWindow+5; i++ {
		name := string(rune('a'+i%26)) + string(rune('a'+i/26))
		writeFile(t, filepath.Join(root, name), "", 0644)
	}
	// keep only names ending in "a"
	e := newEngine(t, root, withFilter("case {} in *a) exit 0;; esac; exit 1"))

	entries, err := e.ListDirectory(context.Background(), e.Root(), 0, -1, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2+26)
	for _, en := range entries[2:] {
		assert.Equal(t, byte('a'), en.Name[len(en.Name)-1], en.Name)
	}
}
