package errors

import (
	"context"
	stderrors "errors"
	"syscall"
)

// FromSyscall classifies an error returned by the underlying filesystem
// into a FilterFSError. Errors that are already classified pass through.
func FromSyscall(op, path string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := As(err); ok {
		return err
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return NewError(ErrCodeOperationCanceled, "operation canceled").
			WithOperation(op).WithContext("path", path).WithCause(err)
	}

	code := ErrCodeIO
	var errno syscall.Errno
	if stderrors.As(err, &errno) {
		switch errno {
		case syscall.ENOENT:
			code = ErrCodeNotFound
		case syscall.ENOTDIR:
			code = ErrCodeNotDirectory
		case syscall.EISDIR:
			code = ErrCodeIsDirectory
		case syscall.ELOOP:
			code = ErrCodeSymlinkLoop
		case syscall.EACCES, syscall.EPERM:
			code = ErrCodePermissionDenied
		case syscall.EEXIST:
			code = ErrCodeAlreadyExists
		case syscall.ENOMEM, syscall.EMFILE, syscall.ENFILE:
			code = ErrCodeResourceExhausted
		case syscall.ENOTSUP, syscall.EROFS:
			code = ErrCodeNotSupported
		case syscall.ENAMETOOLONG:
			code = ErrCodePathInvalid
		}
	}
	return NewError(code, op+" failed").
		WithOperation(op).
		WithContext("path", path).
		WithCause(err)
}

// ToErrno maps an error to the errno reported to kernel clients.
func ToErrno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	var errno syscall.Errno
	fe, ok := As(err)
	if !ok {
		if stderrors.As(err, &errno) {
			return errno
		}
		return syscall.EIO
	}
	switch fe.Code {
	case ErrCodeNotFound:
		return syscall.ENOENT
	case ErrCodeNotDirectory:
		return syscall.ENOTDIR
	case ErrCodeIsDirectory:
		return syscall.EISDIR
	case ErrCodeSymlinkLoop:
		return syscall.ELOOP
	case ErrCodePermissionDenied:
		return syscall.EACCES
	case ErrCodeAlreadyExists:
		return syscall.EEXIST
	case ErrCodeResourceExhausted:
		return syscall.ENOMEM
	case ErrCodeNotSupported:
		return syscall.ENOTSUP
	case ErrCodePathInvalid:
		return syscall.ENAMETOOLONG
	case ErrCodeOperationCanceled:
		return syscall.EINTR
	case ErrCodeRetryAcrossBoundary:
		return syscall.EXDEV
	}
	return syscall.EIO
}
