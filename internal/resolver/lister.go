package resolver

import (
	"context"
	"sort"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/filterfs/filterfs/internal/cache"
	"github.com/filterfs/filterfs/internal/filesystem"
	"github.com/filterfs/filterfs/pkg/errors"
	"github.com/filterfs/filterfs/pkg/utils"
)

// SyntheticIno is the inode number reported for "." and "..".
const SyntheticIno = 2

// number of candidate entries whose filter runs concurrently
const filterWindow = 16

// Entry is one directory listing entry.
type Entry struct {
	Name string
	Ino  uint64
	Type uint32 // S_IFMT bits
}

// DirentSize is the space an entry with this name occupies in a listing
// reply: a dirent64 header, the name and its NUL, 8-byte aligned.
func DirentSize(name string) int {
	return (19 + len(name) + 1 + 7) &^ 7
}

// ListDirectory returns visible entries of dir starting at index start.
// Indices 0 and 1 are "." and ".."; entries hidden by the filter take no
// index. maxEntries < 0 and maxBytes == 0 mean unlimited. Listing stops as
// soon as the next entry would exceed either cap.
func (r *Resolver) ListDirectory(ctx context.Context, dir *cache.Node, start, maxEntries, maxBytes int) ([]Entry, error) {
	began := time.Now()
	entries, err := r.list(ctx, dir, start, maxEntries, maxBytes)
	r.recorder.RecordOperation("readdir", time.Since(began), err)
	return entries, err
}

func (r *Resolver) list(ctx context.Context, dir *cache.Node, start, maxEntries, maxBytes int) ([]Entry, error) {
	if md := dir.Metadata(); !md.IsDir() {
		return nil, errors.NewError(errors.ErrCodeNotDirectory, "not a directory").
			WithContext("path", dir.Path())
	}

	raw, err := r.backend.ReadDir(ctx, dir.Handle())
	if err != nil {
		return nil, err
	}
	sort.Slice(raw, func(i, j int) bool { return raw[i].Name < raw[j].Name })

	var (
		out   []Entry
		index int
		used  int
	)
	// add reports false once a cap is reached.
	add := func(e Entry) bool {
		if index < start {
			index++
			return true
		}
		if maxEntries >= 0 && len(out) >= maxEntries {
			return false
		}
		size := DirentSize(e.Name)
		if maxBytes > 0 && used+size > maxBytes {
			return false
		}
		out = append(out, e)
		used += size
		index++
		return true
	}

	full := !add(Entry{Name: ".", Ino: SyntheticIno, Type: syscall.S_IFDIR}) ||
		!add(Entry{Name: "..", Ino: SyntheticIno, Type: syscall.S_IFDIR})

	for lo := 0; lo < len(raw) && !full; lo += filterWindow {
		hi := lo + filterWindow
		if hi > len(raw) {
			hi = len(raw)
		}
		visible, err := r.visibleWindow(ctx, dir.Path(), raw[lo:hi])
		if err != nil {
			return nil, err
		}
		for i, e := range raw[lo:hi] {
			if !visible[i] {
				continue
			}
			if !add(Entry{Name: e.Name, Ino: e.Ino, Type: e.Type}) {
				full = true
				break
			}
		}
	}

	dir.TouchAtime(time.Now())
	r.cache.Touch(dir)
	return out, nil
}

// visibleWindow runs the filter for a window of entries concurrently.
func (r *Resolver) visibleWindow(ctx context.Context, dirPath string, window []filesystem.RawEntry) ([]bool, error) {
	visible := make([]bool, len(window))
	if !r.pred.Enabled() {
		for i := range visible {
			visible[i] = true
		}
		return visible, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range window {
		i := i
		g.Go(func() error {
			ok, err := r.pred.Visible(gctx, utils.JoinPath(dirPath, window[i].Name))
			visible[i] = ok
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return visible, nil
}
