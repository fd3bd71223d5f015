//go:build !windows

package hostrt

import (
	"os"

	"golang.org/x/sys/unix"
)

// syncAdvise hints the OS page cache to drop pages for f after a sync, the
// way a database that owns its durability wants after fsync: reads that
// follow should come back through the file's own page buffer (C7), not
// linger doubly-cached in the OS.
func syncAdvise(f *os.File) {
	_ = unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_DONTNEED)
}
