package utils

import (
	"strings"
	"testing"
)

func TestNextComponent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in        string
		name      string
		rest      string
		mustBeDir bool
	}{
		{"a/b/c", "a", "b/c", false},
		{"a", "a", "", false},
		{"a/", "a", "", true},
		{"a//", "a", "", true},
		{"a//b", "a", "b", false},
		{"..", "..", "", false},
		{"../x", "..", "x", false},
	}

	for _, tt := range tests {
		name, rest, dir := NextComponent(tt.in)
		if name != tt.name || rest != tt.rest || dir != tt.mustBeDir {
			t.Errorf("NextComponent(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.in, name, rest, dir, tt.name, tt.rest, tt.mustBeDir)
		}
	}
}

func TestTrimLeadingSeparators(t *testing.T) {
	t.Parallel()

	if got := TrimLeadingSeparators("///a/b"); got != "a/b" {
		t.Errorf("got %q", got)
	}
	if got := TrimLeadingSeparators("/"); got != "" {
		t.Errorf("got %q", got)
	}
}

func TestJoinPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		dir, name, want string
	}{
		{"", "a", "a"},
		{"/srv", "a", "/srv/a"},
		{"/", "a", "/a"},
		{"x/y", "z", "x/y/z"},
	}
	for _, tt := range tests {
		if got := JoinPath(tt.dir, tt.name); got != tt.want {
			t.Errorf("JoinPath(%q, %q) = %q, want %q", tt.dir, tt.name, got, tt.want)
		}
	}
}

func TestValidateName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		in          string
		errContains string
	}{
		{"plain", "file.txt", ""},
		{"empty", "", "cannot be empty"},
		{"separator", "a/b", "separator"},
		{"nul", "a\x00b", "NUL"},
		{"too long", strings.Repeat("x", MaxNameLength+1), "exceeds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.in)
			if tt.errContains == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errContains) {
				t.Fatalf("error = %v, want containing %q", err, tt.errContains)
			}
		})
	}
}
