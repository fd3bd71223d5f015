//go:build windows

package hostrt

import "os"

// syncAdvise is a no-op on platforms without fadvise; os.File.Sync alone
// carries the durability contract there.
func syncAdvise(_ *os.File) {}
