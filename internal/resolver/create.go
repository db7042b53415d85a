package resolver

import (
	"context"

	"github.com/filterfs/filterfs/pkg/errors"
	"github.com/filterfs/filterfs/pkg/types"
)

// Creator creates a missing final path component on behalf of Resolve.
// Returning an AlreadyExists error is not fatal: the component is resolved
// again unless exclusive creation was requested.
type Creator interface {
	Create(ctx context.Context, dirPath, name string, mode uint32, cred types.Credentials) error
}

// ReadOnly refuses every creation request.
type ReadOnly struct{}

func (ReadOnly) Create(ctx context.Context, dirPath, name string, mode uint32, cred types.Credentials) error {
	return errors.NewError(errors.ErrCodeNotSupported, "filterfs is read-only").
		WithOperation("create").
		WithContext("name", name)
}
