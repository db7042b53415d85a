package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"syscall"
	"testing"
)

func TestNewError(t *testing.T) {
	t.Parallel()

	t.Run("creates error with all defaults", func(t *testing.T) {
		err := NewError(ErrCodeInvalidConfig, "configuration is invalid")
		if err == nil {
			t.Fatal("NewError returned nil")
		}
		if err.Code != ErrCodeInvalidConfig {
			t.Errorf("Code = %v, want %v", err.Code, ErrCodeInvalidConfig)
		}
		if err.Category != CategoryConfiguration {
			t.Errorf("Category = %v, want %v", err.Category, CategoryConfiguration)
		}
		if err.Details == nil || err.Context == nil {
			t.Error("Details/Context maps must be initialized")
		}
		if err.Timestamp.IsZero() {
			t.Error("Timestamp not set")
		}
		if !err.UserFacing {
			t.Error("InvalidConfig should be user-facing by default")
		}
	})

	t.Run("internal errors are not user facing", func(t *testing.T) {
		if NewError(ErrCodeInternalError, "boom").UserFacing {
			t.Error("InternalError should not be user-facing by default")
		}
	})
}

func TestGetCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code ErrorCode
		want ErrorCategory
	}{
		{ErrCodeFilterTemplate, CategoryConfiguration},
		{ErrCodeConfigLoad, CategoryConfiguration},
		{ErrCodeIO, CategoryStorage},
		{ErrCodeNotFound, CategoryFilesystem},
		{ErrCodeNotDirectory, CategoryFilesystem},
		{ErrCodeSymlinkLoop, CategoryFilesystem},
		{ErrCodeAlreadyExists, CategoryFilesystem},
		{ErrCodeResourceExhausted, CategoryResource},
		{ErrCodeNotSupported, CategoryOperation},
		{ErrCodeRetryAcrossBoundary, CategoryOperation},
		{ErrCodeInternalError, CategoryInternal},
	}

	for _, tt := range tests {
		if got := GetCategory(tt.code); got != tt.want {
			t.Errorf("GetCategory(%s) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestErrorFormatting(t *testing.T) {
	t.Parallel()

	err := NewError(ErrCodeNotFound, "no such entry").
		WithComponent("resolver").
		WithOperation("lookup").
		WithContext("path", "a/b").
		WithDetail("component", "b").
		WithCause(syscall.ENOENT)

	msg := err.Error()
	for _, want := range []string{"[resolver:lookup]", "FILE_NOT_FOUND", "no such entry", "no such file"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}

	s := err.String()
	if !strings.HasPrefix(s, "FilterFSError{") {
		t.Errorf("String() = %q", s)
	}
	if !strings.Contains(s, `"path":"a/b"`) {
		t.Errorf("String() missing context: %q", s)
	}
}

func TestIsAndUnwrap(t *testing.T) {
	t.Parallel()

	base := NewError(ErrCodeSymlinkLoop, "too many levels of symbolic links").WithCause(syscall.ELOOP)
	wrapped := fmt.Errorf("resolve: %w", base)

	if !IsCode(wrapped, ErrCodeSymlinkLoop) {
		t.Error("IsCode should see through fmt wrapping")
	}
	if IsCode(wrapped, ErrCodeNotFound) {
		t.Error("IsCode matched the wrong code")
	}
	if GetCode(wrapped) != ErrCodeSymlinkLoop {
		t.Errorf("GetCode = %s", GetCode(wrapped))
	}
	if !errors.Is(wrapped, syscall.ELOOP) {
		t.Error("errors.Is should reach the syscall cause")
	}
	if GetCode(errors.New("plain")) != "" {
		t.Error("plain errors have no code")
	}
}

func TestFromSyscall(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   error
		want ErrorCode
	}{
		{syscall.ENOENT, ErrCodeNotFound},
		{syscall.ENOTDIR, ErrCodeNotDirectory},
		{syscall.EISDIR, ErrCodeIsDirectory},
		{syscall.ELOOP, ErrCodeSymlinkLoop},
		{syscall.EACCES, ErrCodePermissionDenied},
		{syscall.EPERM, ErrCodePermissionDenied},
		{syscall.EEXIST, ErrCodeAlreadyExists},
		{syscall.EMFILE, ErrCodeResourceExhausted},
		{syscall.EIO, ErrCodeIO},
		{fmt.Errorf("wrapped: %w", syscall.ENOENT), ErrCodeNotFound},
		{context.Canceled, ErrCodeOperationCanceled},
		{errors.New("opaque"), ErrCodeIO},
	}

	for _, tt := range tests {
		err := FromSyscall("open", "/x", tt.in)
		if got := GetCode(err); got != tt.want {
			t.Errorf("FromSyscall(%v) code = %s, want %s", tt.in, got, tt.want)
		}
	}

	if FromSyscall("open", "/x", nil) != nil {
		t.Error("nil error must stay nil")
	}

	classified := NewError(ErrCodeRetryAcrossBoundary, "retry")
	if FromSyscall("open", "/x", classified) != error(classified) {
		t.Error("classified errors must pass through unchanged")
	}
}

func TestToErrno(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code ErrorCode
		want syscall.Errno
	}{
		{ErrCodeNotFound, syscall.ENOENT},
		{ErrCodeNotDirectory, syscall.ENOTDIR},
		{ErrCodeSymlinkLoop, syscall.ELOOP},
		{ErrCodePermissionDenied, syscall.EACCES},
		{ErrCodeAlreadyExists, syscall.EEXIST},
		{ErrCodeNotSupported, syscall.ENOTSUP},
		{ErrCodeIO, syscall.EIO},
		{ErrCodeFilterTemplate, syscall.EIO},
	}
	for _, tt := range tests {
		if got := ToErrno(NewError(tt.code, "x")); got != tt.want {
			t.Errorf("ToErrno(%s) = %v, want %v", tt.code, got, tt.want)
		}
	}

	if ToErrno(nil) != 0 {
		t.Error("nil maps to 0")
	}
	if ToErrno(syscall.EBUSY) != syscall.EBUSY {
		t.Error("raw errno passes through")
	}
	if ToErrno(errors.New("opaque")) != syscall.EIO {
		t.Error("opaque errors map to EIO")
	}
}

func TestGetRecommendation(t *testing.T) {
	t.Parallel()

	rec := NewError(ErrCodeFilterTemplate, "bad").GetRecommendation()
	if !strings.Contains(rec, "filter command") {
		t.Errorf("unexpected recommendation %q", rec)
	}
	if NewError(ErrCodeInternalError, "x").GetRecommendation() == "" {
		t.Error("fallback recommendation must not be empty")
	}
}
