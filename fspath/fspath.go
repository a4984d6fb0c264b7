// Package fspath implements the path algebra of blockfs.
//
// A path is a sequence of non-empty segments separated by forward slashes.
// Every public blockfs operation normalizes its path arguments first;
// equality is byte-for-byte on the normalized form and case-sensitive.
package fspath

import "strings"

// Separator is the sole separator of a normalized path.
const Separator = "/"

// Normalize converts p to canonical form: backslashes become forward
// slashes, runs of slashes collapse to one, and leading and trailing
// slashes are stripped. The empty string is the root path.
func Normalize(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	p = strings.TrimPrefix(p, "/")
	p = strings.TrimSuffix(p, "/")
	return p
}

// CutFirst splits a normalized path at its first separator. If p contains
// no separator, first is p, rest is empty and ok is false.
func CutFirst(p string) (first, rest string, ok bool) {
	i := strings.Index(p, Separator)
	if i < 0 {
		return p, "", false
	}
	return p[:i], p[i+1:], true
}

// CutLast splits a normalized path at its last separator into parent and
// leaf. If p contains no separator, parent is empty, leaf is p and ok is
// false.
func CutLast(p string) (parent, leaf string, ok bool) {
	i := strings.LastIndex(p, Separator)
	if i < 0 {
		return "", p, false
	}
	return p[:i], p[i+1:], true
}

// Segments returns the segments of a normalized path, or nil for the root
// path.
func Segments(p string) []string {
	if p == "" {
		return nil
	}
	return strings.Split(p, Separator)
}

// Join concatenates segments with the separator, skipping empty ones.
func Join(segments ...string) string {
	parts := segments[:0:0]
	for _, s := range segments {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, Separator)
}
