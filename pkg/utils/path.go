package utils

import (
	"fmt"
	"strings"
)

// Separator is the path component separator understood by the resolver.
const Separator = '/'

// MaxNameLength is the longest single path component accepted.
const MaxNameLength = 255

// TrimLeadingSeparators strips every leading separator from p.
func TrimLeadingSeparators(p string) string {
	return strings.TrimLeft(p, string(Separator))
}

// NextComponent splits p (without leading separators) into its first
// component and the remainder following the separator. mustBeDir is set when
// the component is followed by a separator and nothing else, which requires
// the component to resolve to a directory.
//
//	NextComponent("a/b/c") == ("a", "b/c", false)
//	NextComponent("a/")    == ("a", "", true)
//	NextComponent("a")     == ("a", "", false)
func NextComponent(p string) (name, rest string, mustBeDir bool) {
	i := strings.IndexByte(p, Separator)
	if i < 0 {
		return p, "", false
	}
	name = p[:i]
	rest = TrimLeadingSeparators(p[i+1:])
	return name, rest, rest == ""
}

// JoinPath joins a directory path and a child name without cleaning.
func JoinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	if strings.HasSuffix(dir, string(Separator)) {
		return dir + name
	}
	return dir + string(Separator) + name
}

// ValidateName checks that name is a single usable path component.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("name cannot be empty")
	case len(name) > MaxNameLength:
		return fmt.Errorf("name exceeds %d bytes", MaxNameLength)
	case strings.ContainsRune(name, Separator):
		return fmt.Errorf("name contains a path separator: %q", name)
	case strings.IndexByte(name, 0) >= 0:
		return fmt.Errorf("name contains a NUL byte")
	}
	return nil
}
