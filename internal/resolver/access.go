package resolver

import (
	"github.com/filterfs/filterfs/internal/filesystem"
	"github.com/filterfs/filterfs/pkg/errors"
	"github.com/filterfs/filterfs/pkg/types"
)

// Access is the set of rights a user holds on a resolved node. Write is
// never granted.
type Access uint8

const (
	AccessRead Access = 1 << iota
	AccessWrite
	AccessExec
)

// Can reports whether every right in want is held.
func (a Access) Can(want Access) bool { return a&want == want }

func (a Access) String() string {
	b := []byte("---")
	if a.Can(AccessRead) {
		b[0] = 'r'
	}
	if a.Can(AccessWrite) {
		b[1] = 'w'
	}
	if a.Can(AccessExec) {
		b[2] = 'x'
	}
	return string(b)
}

// AccessFor computes the rights cred holds on an object with metadata md.
func AccessFor(md *filesystem.Metadata, cred types.Credentials) Access {
	perm := md.Perm()

	if cred.IsRoot() {
		a := AccessRead
		if md.IsDir() || perm&0111 != 0 {
			a |= AccessExec
		}
		return a
	}

	var bits uint32
	switch {
	case cred.UID == md.UID:
		bits = perm >> 6
	case cred.InGroup(md.GID):
		bits = perm >> 3
	default:
		bits = perm
	}

	var a Access
	if bits&04 != 0 {
		a |= AccessRead
	}
	if bits&01 != 0 {
		a |= AccessExec
	}
	return a
}

// CheckAccess fails with PermissionDenied unless cred holds want on md.
func CheckAccess(md *filesystem.Metadata, cred types.Credentials, want Access) error {
	if want.Can(AccessWrite) {
		return errors.NewError(errors.ErrCodeNotSupported, "filterfs is read-only")
	}
	if !AccessFor(md, cred).Can(want) {
		return errors.NewError(errors.ErrCodePermissionDenied, "permission denied").
			WithContext("want", want.String())
	}
	return nil
}
