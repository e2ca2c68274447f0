package models

import (
	"path"
	"strings"

	"github.com/dmitrijs2005/gophvault/internal/common"
)

// RootPath is the canonical path of the vault root.
const RootPath = "/"

// JoinPath appends name to a canonical folder path.
func JoinPath(parent, name string) string {
	return path.Join(parent, name)
}

// ParentPath returns the canonical path of p's parent. The root is its own parent.
func ParentPath(p string) string {
	return path.Dir(p)
}

// BaseName returns the last element of p.
func BaseName(p string) string {
	return path.Base(p)
}

// LowerPath is the lookup key for case-insensitive path comparison.
func LowerPath(p string) string {
	return strings.ToLower(p)
}

// IsDescendantPath reports whether p is strictly below ancestor.
func IsDescendantPath(p, ancestor string) bool {
	if ancestor == RootPath {
		return p != RootPath && strings.HasPrefix(p, RootPath)
	}
	return strings.HasPrefix(LowerPath(p), LowerPath(ancestor)+"/")
}

// RebasePath moves p from under oldPrefix to under newPrefix.
func RebasePath(p, oldPrefix, newPrefix string) string {
	if len(p) < len(oldPrefix) {
		return p
	}
	return newPrefix + p[len(oldPrefix):]
}

// ValidateName rejects names that cannot be stored as a single path element.
func ValidateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return common.ErrInvalidName
	case strings.ContainsAny(name, "/\x00"):
		return common.ErrInvalidName
	case strings.HasSuffix(name, " "), strings.HasSuffix(name, "."):
		return common.ErrInvalidName
	}
	return nil
}
