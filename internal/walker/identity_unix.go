//go:build unix

package walker

import "golang.org/x/sys/unix"

// fileID identifies a file by device and inode.
type fileID struct {
	dev uint64
	ino uint64
}

// identify stats abs, following symlinks.
func identify(abs string) (fileID, bool) {
	var st unix.Stat_t
	if err := unix.Stat(abs, &st); err != nil {
		return fileID{}, false
	}
	return fileID{dev: uint64(st.Dev), ino: uint64(st.Ino)}, true
}
