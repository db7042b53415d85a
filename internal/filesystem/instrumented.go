package filesystem

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/filterfs/filterfs/pkg/types"
)

// Backend operation names as reported to the metrics recorder.
const (
	OpLstat    = "backend_lstat"
	OpOpen     = "backend_open"
	OpStat     = "backend_stat"
	OpReadDir  = "backend_readdir"
	OpReadlink = "backend_readlink"
	OpRead     = "backend_read"
	OpStatfs   = "backend_statfs"
)

// OpCounts is a snapshot of calls made through an Instrumented backend.
type OpCounts struct {
	Lstat    uint64
	Open     uint64
	Stat     uint64
	ReadDir  uint64
	Readlink uint64
	Read     uint64
	Statfs   uint64
}

// Instrumented counts and times every call made to the wrapped backend.
type Instrumented struct {
	inner    Backend
	recorder types.MetricsRecorder

	lstat, open, stat, readDir, readlink, read, statfs atomic.Uint64
}

var _ Backend = (*Instrumented)(nil)

// NewInstrumented wraps inner. A nil recorder only counts.
func NewInstrumented(inner Backend, recorder types.MetricsRecorder) *Instrumented {
	if recorder == nil {
		recorder = types.NopRecorder{}
	}
	return &Instrumented{inner: inner, recorder: recorder}
}

// Counts returns the number of calls per operation so far.
func (b *Instrumented) Counts() OpCounts {
	return OpCounts{
		Lstat:    b.lstat.Load(),
		Open:     b.open.Load(),
		Stat:     b.stat.Load(),
		ReadDir:  b.readDir.Load(),
		Readlink: b.readlink.Load(),
		Read:     b.read.Load(),
		Statfs:   b.statfs.Load(),
	}
}

func (b *Instrumented) observe(op string, counter *atomic.Uint64, start time.Time, err error) {
	counter.Add(1)
	b.recorder.RecordOperation(op, time.Since(start), err)
}

func (b *Instrumented) Lstat(ctx context.Context, path string) (*Metadata, error) {
	start := time.Now()
	md, err := b.inner.Lstat(ctx, path)
	b.observe(OpLstat, &b.lstat, start, err)
	return md, err
}

func (b *Instrumented) Open(ctx context.Context, path string, mode OpenMode) (Handle, error) {
	start := time.Now()
	h, err := b.inner.Open(ctx, path, mode)
	b.observe(OpOpen, &b.open, start, err)
	return h, err
}

func (b *Instrumented) Stat(ctx context.Context, h Handle) (*Metadata, error) {
	start := time.Now()
	md, err := b.inner.Stat(ctx, h)
	b.observe(OpStat, &b.stat, start, err)
	return md, err
}

func (b *Instrumented) ReadDir(ctx context.Context, h Handle) ([]RawEntry, error) {
	start := time.Now()
	entries, err := b.inner.ReadDir(ctx, h)
	b.observe(OpReadDir, &b.readDir, start, err)
	return entries, err
}

func (b *Instrumented) Readlink(ctx context.Context, h Handle) (string, error) {
	start := time.Now()
	target, err := b.inner.Readlink(ctx, h)
	b.observe(OpReadlink, &b.readlink, start, err)
	return target, err
}

func (b *Instrumented) ReadAt(ctx context.Context, h Handle, dest []byte, off int64) (int, error) {
	start := time.Now()
	n, err := b.inner.ReadAt(ctx, h, dest, off)
	b.observe(OpRead, &b.read, start, err)
	return n, err
}

func (b *Instrumented) Statfs(ctx context.Context, path string) (*StatfsInfo, error) {
	start := time.Now()
	info, err := b.inner.Statfs(ctx, path)
	b.observe(OpStatfs, &b.statfs, start, err)
	return info, err
}
