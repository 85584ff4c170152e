package fileio

import (
	"path/filepath"
	"strings"
)

// ContainsTraversal reports whether any component of path is "..".
// Forward slashes are treated as separators on every platform.
func ContainsTraversal(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return true
		}
	}
	return false
}
