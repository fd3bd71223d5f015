package pagebuffer

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// pageKey identifies one page-sized region of one file.
type pageKey struct {
	fileID uint32
	pageNo uint64
}

// hash folds a pageKey into a single uint64, used to order flush_file's
// write-back sweep deterministically (independent of Go's randomized map
// iteration).
func (k pageKey) hash() uint64 {
	var b [12]byte
	binary.LittleEndian.PutUint32(b[0:4], k.fileID)
	binary.LittleEndian.PutUint64(b[4:12], k.pageNo)
	return xxhash.Sum64(b[:])
}
