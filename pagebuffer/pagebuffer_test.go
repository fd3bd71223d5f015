package pagebuffer

import (
	"context"
	"sync"
	"testing"
)

// memBackend is an in-memory stand-in for a webfile-backed file, sized to
// enough pages that eviction has somewhere real to write back to.
type memBackend struct {
	mu    sync.Mutex
	pages map[uint32]map[int64][]byte
	pageSize int
}

func newMemBackend(pageSize int) *memBackend {
	return &memBackend{pages: make(map[uint32]map[int64][]byte), pageSize: pageSize}
}

func (m *memBackend) ReadPageAt(_ context.Context, fileID uint32, buf []byte, offset int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.pages[fileID][offset]
	if !ok {
		return len(buf), nil // unwritten page reads as zero
	}
	return copy(buf, data), nil
}

func (m *memBackend) WritePageAt(_ context.Context, fileID uint32, buf []byte, offset int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pages[fileID] == nil {
		m.pages[fileID] = make(map[int64][]byte)
	}
	cp := make([]byte, len(buf))
	copy(cp, buf)
	m.pages[fileID][offset] = cp
	return len(buf), nil
}

func TestGetPageMissThenHit(t *testing.T) {
	backend := newMemBackend(16)
	buf := New(16, 4, backend)
	backend.WritePageAt(context.Background(), 1, []byte("0123456789abcdef"), 0)

	pp, err := buf.GetPage(context.Background(), 1, 0, 16, Read)
	if err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	if string(pp.Data) != "0123456789abcdef" {
		t.Errorf("got %q", pp.Data)
	}
	pp.Unpin(false)

	if !buf.Resident(1, 0) {
		t.Errorf("page should remain resident after unpin")
	}
}

func TestExactLRUEvictsOldestFirst(t *testing.T) {
	backend := newMemBackend(16)
	pool := 3
	buf := New(16, pool, backend)

	n := pool + 2
	for i := 0; i < n; i++ {
		pp, err := buf.GetPage(context.Background(), 1, uint64(i), 16, Read)
		if err != nil {
			t.Fatalf("GetPage(%d): %v", i, err)
		}
		pp.Unpin(false)
	}

	if buf.Resident(1, 0) {
		t.Errorf("page 0 should have been evicted first")
	}
	if !buf.Resident(1, uint64(n-1)) {
		t.Errorf("most recently read page should still be resident")
	}
}

func TestPinPreventsEviction(t *testing.T) {
	backend := newMemBackend(16)
	buf := New(16, 2, backend)

	pinned, err := buf.GetPage(context.Background(), 1, 0, 16, Read)
	if err != nil {
		t.Fatalf("GetPage: %v", err)
	}

	// Fill the rest of the pool and one more, forcing an eviction attempt.
	for i := 1; i <= 2; i++ {
		pp, err := buf.GetPage(context.Background(), 1, uint64(i), 16, Read)
		if err != nil {
			t.Fatalf("GetPage(%d): %v", i, err)
		}
		pp.Unpin(false)
	}

	if !buf.Resident(1, 0) {
		t.Errorf("pinned page 0 must not be evicted")
	}
	pinned.Unpin(false)
}

func TestDirtyWriteBackOnEvict(t *testing.T) {
	backend := newMemBackend(16)
	buf := New(16, 1, backend)

	pp, err := buf.GetPage(context.Background(), 1, 0, 16, Write)
	if err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	copy(pp.Data, []byte("dirtydirtydirty!"))
	pp.Unpin(true)

	// Force eviction of the only frame by requesting a different page.
	pp2, err := buf.GetPage(context.Background(), 1, 1, 16, Read)
	if err != nil {
		t.Fatalf("GetPage(1): %v", err)
	}
	pp2.Unpin(false)

	readback := make([]byte, 16)
	backend.ReadPageAt(context.Background(), 1, readback, 0)
	if string(readback) != "dirtydirtydirty!" {
		t.Errorf("dirty page was not written back on eviction, got %q", readback)
	}
}

func TestFlushFileWritesBackWithoutEviction(t *testing.T) {
	backend := newMemBackend(16)
	buf := New(16, 4, backend)

	pp, _ := buf.GetPage(context.Background(), 1, 0, 16, Write)
	copy(pp.Data, []byte("flushmeflushme!!"))
	pp.Unpin(true)

	if err := buf.FlushFile(1); err != nil {
		t.Fatalf("FlushFile: %v", err)
	}

	readback := make([]byte, 16)
	backend.ReadPageAt(context.Background(), 1, readback, 0)
	if string(readback) != "flushmeflushme!!" {
		t.Errorf("FlushFile didn't write back, got %q", readback)
	}
	if !buf.Resident(1, 0) {
		t.Errorf("FlushFile must leave the page resident")
	}
}

func TestTryDropFileRefusesWhilePinned(t *testing.T) {
	backend := newMemBackend(16)
	buf := New(16, 4, backend)

	pp, _ := buf.GetPage(context.Background(), 1, 0, 16, Read)
	if buf.TryDropFile(1) {
		t.Errorf("TryDropFile should refuse while a page is pinned")
	}
	pp.Unpin(false)
	if !buf.TryDropFile(1) {
		t.Errorf("TryDropFile should succeed once unpinned")
	}
	if buf.Resident(1, 0) {
		t.Errorf("page should no longer be resident after TryDropFile")
	}
}

func TestBypassWhenEveryFrameIsPinned(t *testing.T) {
	backend := newMemBackend(16)
	buf := New(16, 1, backend)
	backend.WritePageAt(context.Background(), 1, []byte("aaaaaaaaaaaaaaaa"), 0)
	backend.WritePageAt(context.Background(), 1, []byte("bbbbbbbbbbbbbbbb"), 16)

	held, err := buf.GetPage(context.Background(), 1, 0, 16, Read)
	if err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	defer held.Unpin(false)

	bypass, err := buf.GetPage(context.Background(), 1, 1, 16, Read)
	if err != nil {
		t.Fatalf("GetPage bypass: %v", err)
	}
	if !bypass.Bypass {
		t.Errorf("expected a bypass page when the only frame is pinned")
	}
	if string(bypass.Data) != "bbbbbbbbbbbbbbbb" {
		t.Errorf("bypass page has wrong contents: %q", bypass.Data)
	}
}
