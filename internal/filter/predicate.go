// Package filter implements the visibility predicate: an external command run
// once per candidate path, where exit status 0 means the entry is visible.
package filter

import (
	"context"
	stderrors "errors"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/bluele/gcache"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/filterfs/filterfs/internal/config"
	"github.com/filterfs/filterfs/pkg/errors"
	"github.com/filterfs/filterfs/pkg/types"
	"github.com/filterfs/filterfs/pkg/utils"
)

// Verdict labels reported to the metrics recorder.
const (
	VerdictAccept  = types.VerdictAccept
	VerdictReject  = types.VerdictReject
	VerdictTimeout = types.VerdictTimeout
	VerdictError   = types.VerdictError
)

// exit statuses the shell uses for "not executable" and "not found"
const (
	exitNotExecutable = 126
	exitNotFound      = 127
)

// Predicate decides whether a path is visible through the overlay.
// The zero command accepts everything.
type Predicate struct {
	command     string
	placeholder string
	shell       string
	quote       bool
	timeout     time.Duration

	sem      *semaphore.Weighted
	group    singleflight.Group
	verdicts gcache.Cache

	misconfigured sync.Once
	logger        *zap.SugaredLogger
	recorder      types.MetricsRecorder
}

// New validates the command template and builds a Predicate.
func New(cfg config.FilterConfig, recorder types.MetricsRecorder) (*Predicate, error) {
	if recorder == nil {
		recorder = types.NopRecorder{}
	}
	p := &Predicate{
		command:     strings.TrimSpace(cfg.Command),
		placeholder: cfg.Placeholder,
		shell:       cfg.Shell,
		quote:       cfg.QuotePaths,
		timeout:     cfg.Timeout,
		logger:      utils.NewLogger("filter"),
		recorder:    recorder,
	}
	if p.command == "" {
		if cfg.Command != "" {
			return nil, templateError("filter command is blank", cfg.Command)
		}
		return p, nil
	}

	if p.placeholder == "" {
		return nil, templateError("filter placeholder is empty", cfg.Command)
	}
	if err := checkQuotes(p.command); err != nil {
		return nil, err
	}
	if p.shell == "" {
		return nil, templateError("filter shell is empty", cfg.Command)
	}
	if _, err := exec.LookPath(p.shell); err != nil {
		return nil, templateError("filter shell not found", cfg.Command).
			WithContext("shell", p.shell).WithCause(err)
	}

	concurrency := cfg.MaxConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	p.sem = semaphore.NewWeighted(int64(concurrency))

	if cfg.VerdictTTL > 0 && cfg.VerdictCacheSize > 0 {
		p.verdicts = gcache.New(cfg.VerdictCacheSize).LRU().
			Expiration(cfg.VerdictTTL).Build()
	}
	return p, nil
}

func templateError(msg, command string) *errors.FilterFSError {
	return errors.NewError(errors.ErrCodeFilterTemplate, msg).
		WithComponent("filter").
		WithContext("command", command)
}

func checkQuotes(command string) error {
	var quote rune
	escaped := false
	for _, r := range command {
		switch {
		case escaped:
			escaped = false
		case quote == '\'':
			if r == '\'' {
				quote = 0
			}
		case r == '\\':
			escaped = true
		case quote == '"':
			if r == '"' {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		}
	}
	if quote != 0 || escaped {
		return templateError("unterminated quote in filter command", command)
	}
	return nil
}

// Enabled reports whether a filter command is configured.
func (p *Predicate) Enabled() bool { return p.command != "" }

// Command returns the shell command evaluated for path.
func (p *Predicate) Command(path string) string {
	if p.quote {
		path = shellQuote(path)
	}
	return strings.ReplaceAll(p.command, p.placeholder, path)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Accepts runs the filter for path. A FilterTemplate error means the command
// itself cannot run; callers treat it as a rejection.
//
// Concurrent callers for one path share a single run. The run is detached
// from any caller's cancellation: a canceled caller returns at once while
// the others keep waiting for the verdict.
func (p *Predicate) Accepts(ctx context.Context, path string) (bool, error) {
	if p.command == "" {
		return true, nil
	}
	if p.verdicts != nil {
		if v, err := p.verdicts.Get(path); err == nil {
			return v.(bool), nil
		}
	}
	if err := ctx.Err(); err != nil {
		return false, errors.FromSyscall("filter", path, err)
	}

	ch := p.group.DoChan(path, func() (interface{}, error) {
		ok, err := p.run(context.WithoutCancel(ctx), path)
		if err == nil && p.verdicts != nil {
			_ = p.verdicts.Set(path, ok)
		}
		return ok, err
	})
	select {
	case <-ctx.Done():
		return false, errors.FromSyscall("filter", path, ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return false, r.Err
		}
		return r.Val.(bool), nil
	}
}

func (p *Predicate) run(ctx context.Context, path string) (bool, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return false, errors.FromSyscall("filter", path, err)
	}
	defer p.sem.Release(1)

	runCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	cmd := exec.CommandContext(runCtx, p.shell, "-c", p.Command(path))
	err := cmd.Run()
	elapsed := time.Since(start)

	if err == nil {
		p.recorder.RecordPredicate(VerdictAccept, elapsed)
		return true, nil
	}

	if runCtx.Err() != nil {
		p.recorder.RecordPredicate(VerdictTimeout, elapsed)
		p.logger.Debugw("filter timed out", "path", path, "timeout", p.timeout)
		return false, nil
	}

	var exitErr *exec.ExitError
	if !stderrors.As(err, &exitErr) {
		p.recorder.RecordPredicate(VerdictError, elapsed)
		return false, errors.NewError(errors.ErrCodeIO, "failed to start filter").
			WithComponent("filter").WithContext("path", path).WithCause(err)
	}

	switch exitErr.ExitCode() {
	case exitNotExecutable, exitNotFound:
		p.recorder.RecordPredicate(VerdictError, elapsed)
		p.misconfigured.Do(func() {
			p.logger.Errorw("filter command cannot be executed, hiding every entry",
				"command", p.command, "status", exitErr.ExitCode())
		})
		return false, templateError("filter command cannot be executed", p.command).
			WithDetail("exit_status", exitErr.ExitCode())
	}

	p.recorder.RecordPredicate(VerdictReject, elapsed)
	return false, nil
}

// Visible folds Accepts into a single verdict. Template errors hide the entry;
// any other error is returned.
func (p *Predicate) Visible(ctx context.Context, path string) (bool, error) {
	ok, err := p.Accepts(ctx, path)
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeFilterTemplate) {
			return false, nil
		}
		return false, err
	}
	return ok, nil
}

// Purge drops every cached verdict.
func (p *Predicate) Purge() {
	if p.verdicts != nil {
		p.verdicts.Purge()
	}
}
