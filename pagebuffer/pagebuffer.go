// Package pagebuffer implements the bounded, page-granular cache (C7)
// sitting between the buffered filesystem adapter and each file's backing
// store: exact LRU eviction with pin protection, dirty write-back, and a
// bypass path for the rare case where every frame is pinned.
//
// The eviction order here must be exactly deterministic (§8's testable
// property), which rules out an admission-policy cache like the one used
// for filereg's soft accelerator — this stays a plain map plus a
// container/list recency queue, generalizing the teacher's bufferpool.go.
package pagebuffer

import (
	"container/list"
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	webdbcore "github.com/duckdb-wasm-go/webdbcore"
)

// Intent distinguishes a read fetch from a write fetch. GetPage does not act
// on it; a frame becomes dirty only through Unpin's dirty argument.
type Intent int

const (
	Read Intent = iota
	Write
)

// Backend is what pagebuffer needs from a file's backing store: enough to
// load and write back one page at a time. bufferedfs implements this over
// a webfile.WebFileHandle per open file.
type Backend interface {
	ReadPageAt(ctx context.Context, fileID uint32, buf []byte, offset int64) (int, error)
	WritePageAt(ctx context.Context, fileID uint32, buf []byte, offset int64) (int, error)
}

type frame struct {
	key     pageKey
	data    []byte
	valid   int // number of leading valid bytes (short last page)
	dirty   bool
	pinned  int
	elem    *list.Element
}

// Buffer is a fixed-capacity pool of PageSize-byte frames shared across
// every file routed through it.
type Buffer struct {
	mu       sync.Mutex
	pageSize int
	capacity int
	frames   map[pageKey]*frame
	lru      *list.List // front = most recently used
	backend  Backend

	freeData [][]byte // recycled frame buffers, avoids per-evict allocation
}

// New returns an empty Buffer with room for capacity pages of pageSize
// bytes each.
func New(pageSize, capacity int, backend Backend) *Buffer {
	return &Buffer{
		pageSize: pageSize,
		capacity: capacity,
		frames:   make(map[pageKey]*frame, capacity),
		lru:      list.New(),
		backend:  backend,
	}
}

// PinnedPage is a caller's handle on a resident, pinned frame. The bytes in
// Data are shared with the pool; a caller with Read intent must not modify
// them, and a caller with Write intent must call Unpin(dirty=true) to
// persist writes made in place.
type PinnedPage struct {
	buf     *Buffer // nil for a bypass page never inserted into the pool
	key     pageKey
	Data    []byte
	Bypass  bool
}

// GetPage resolves page pageNo of fileID, pinning it in memory. length is
// the number of meaningful bytes at this page (< pageSize only for a
// file's last page); it must not exceed pageSize.
func (b *Buffer) GetPage(ctx context.Context, fileID uint32, pageNo uint64, length int, intent Intent) (*PinnedPage, error) {
	key := pageKey{fileID: fileID, pageNo: pageNo}

	b.mu.Lock()
	if fr, ok := b.frames[key]; ok {
		fr.pinned++
		b.lru.MoveToFront(fr.elem)
		// A page can grow between calls (file extended past this page's
		// old valid length). A grow always truncates the backing file
		// first, and truncate-extend zero-fills on every protocol this pool
		// serves, so the newly exposed frame bytes (which a recycled frame
		// may still fill with an earlier page's contents) are zeroed to match.
		if length > fr.valid {
			for i := fr.valid; i < length; i++ {
				fr.data[i] = 0
			}
			fr.valid = length
		}
		data := fr.data[:length]
		b.mu.Unlock()
		return &PinnedPage{buf: b, key: key, Data: data}, nil
	}

	fr, evictErr := b.reserveFrameLocked()
	if evictErr != nil {
		b.mu.Unlock()
		return nil, evictErr
	}
	if fr == nil {
		// No unpinned victim anywhere in the pool: bypass straight to the
		// caller's own buffer rather than block indefinitely.
		b.mu.Unlock()
		buf := make([]byte, length)
		if length > 0 {
			if _, err := b.backend.ReadPageAt(ctx, fileID, buf, int64(pageNo)*int64(b.pageSize)); err != nil {
				return nil, webdbcore.IoError(err, "bypass read fileID=%d pageNo=%d", fileID, pageNo)
			}
		}
		return &PinnedPage{Data: buf, Bypass: true}, nil
	}
	b.mu.Unlock()

	buf := fr.data[:length]
	if length > 0 {
		if _, err := b.backend.ReadPageAt(ctx, fileID, buf, int64(pageNo)*int64(b.pageSize)); err != nil {
			b.mu.Lock()
			b.abandonFrameLocked(fr)
			b.mu.Unlock()
			return nil, webdbcore.IoError(err, "read fileID=%d pageNo=%d", fileID, pageNo)
		}
	}

	b.mu.Lock()
	fr.key = key
	fr.valid = length
	fr.dirty = false
	fr.pinned = 1
	b.frames[key] = fr
	fr.elem = b.lru.PushFront(fr)
	b.mu.Unlock()

	_ = intent // reserved: write intent marks dirty only on Unpin, per §4.7
	return &PinnedPage{buf: b, key: key, Data: buf}, nil
}

// reserveFrameLocked returns a frame ready to receive a fresh page, either
// by recycling a freed buffer, allocating a new one under capacity, or
// evicting the least-recently-used unpinned frame. It returns (nil, nil)
// when every resident frame is pinned — the caller must bypass.
func (b *Buffer) reserveFrameLocked() (*frame, error) {
	if len(b.frames) < b.capacity {
		var data []byte
		if n := len(b.freeData); n > 0 {
			data = b.freeData[n-1]
			b.freeData = b.freeData[:n-1]
		} else {
			data = make([]byte, b.pageSize)
		}
		return &frame{data: data}, nil
	}

	for e := b.lru.Back(); e != nil; e = e.Prev() {
		fr := e.Value.(*frame)
		if fr.pinned > 0 {
			continue
		}
		if fr.dirty {
			if err := b.writeBackLocked(fr); err != nil {
				return nil, err
			}
		}
		if len(b.frames) >= b.capacity {
			log.Debug().Uint32("fileID", fr.key.fileID).Uint64("pageNo", fr.key.pageNo).
				Msg("pagebuffer: pool at capacity, evicting LRU frame")
		}
		delete(b.frames, fr.key)
		b.lru.Remove(e)
		fr.elem = nil
		fr.dirty = false
		return fr, nil
	}
	return nil, nil
}

func (b *Buffer) abandonFrameLocked(fr *frame) {
	b.freeData = append(b.freeData, fr.data)
}

// writeBackLocked flushes a dirty frame's contents through the backend.
// Called with b.mu held; the backend call itself does not need the pool
// lock, only the frame's own bytes, which no other goroutine can touch
// while it's being evicted.
func (b *Buffer) writeBackLocked(fr *frame) error {
	ctx := context.Background()
	offset := int64(fr.key.pageNo) * int64(b.pageSize)
	if _, err := b.backend.WritePageAt(ctx, fr.key.fileID, fr.data[:fr.valid], offset); err != nil {
		return webdbcore.IoError(err, "write-back fileID=%d pageNo=%d", fr.key.fileID, fr.key.pageNo)
	}
	return nil
}

// Unpin releases the caller's pin on p. dirty marks the frame for
// write-back if intent was Write and the caller actually modified Data.
// Unpin on a bypass page is a no-op besides the caller discarding Data.
func (p *PinnedPage) Unpin(dirty bool) {
	if p.buf == nil {
		return
	}
	b := p.buf
	b.mu.Lock()
	defer b.mu.Unlock()
	fr, ok := b.frames[p.key]
	if !ok {
		return
	}
	if fr.pinned > 0 {
		fr.pinned--
	}
	if dirty {
		fr.dirty = true
	}
}

// FlushFile writes back every dirty frame belonging to fileID, in a
// deterministic order (sorted by page key hash) so repeated flushes of the
// same dirty set issue writes in the same sequence.
func (b *Buffer) FlushFile(fileID uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushMatchingLocked(func(k pageKey) bool { return k.fileID == fileID })
}

// FlushFiles writes back every dirty frame in the pool.
func (b *Buffer) FlushFiles() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushMatchingLocked(func(pageKey) bool { return true })
}

func (b *Buffer) flushMatchingLocked(match func(pageKey) bool) error {
	var dirty []*frame
	for k, fr := range b.frames {
		if fr.dirty && match(k) {
			dirty = append(dirty, fr)
		}
	}
	sort.Slice(dirty, func(i, j int) bool { return dirty[i].key.hash() < dirty[j].key.hash() })
	for _, fr := range dirty {
		if err := b.writeBackLocked(fr); err != nil {
			return err
		}
		fr.dirty = false
	}
	return nil
}

// TryDropFile invalidates every frame for fileID and returns true, unless
// one of them is pinned, in which case it refuses and leaves the pool
// untouched (§4.7's try_drop_file).
func (b *Buffer) TryDropFile(fileID uint32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	var victims []*frame
	for k, fr := range b.frames {
		if k.fileID != fileID {
			continue
		}
		if fr.pinned > 0 {
			return false
		}
		victims = append(victims, fr)
	}
	for _, fr := range victims {
		delete(b.frames, fr.key)
		b.lru.Remove(fr.elem)
		fr.elem = nil
		b.abandonFrameLocked(fr)
	}
	return true
}

// Resident reports whether (fileID, pageNo) is currently cached, for tests
// that assert on the exact-LRU eviction order.
func (b *Buffer) Resident(fileID uint32, pageNo uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.frames[pageKey{fileID: fileID, pageNo: pageNo}]
	return ok
}
