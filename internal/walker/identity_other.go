//go:build !unix

package walker

import "path/filepath"

// fileID identifies a file by its symlink-free path where inodes are not
// available.
type fileID struct {
	path string
}

func identify(abs string) (fileID, bool) {
	p, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return fileID{}, false
	}
	return fileID{path: p}, true
}
