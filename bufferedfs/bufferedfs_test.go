package bufferedfs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/duckdb-wasm-go/webdbcore/hostrt"
	"github.com/duckdb-wasm-go/webdbcore/pagebuffer"
)

func newTestFilesystem() *Filesystem {
	return New(hostrt.NewNativeRuntime(), 4096, 4096*4)
}

func TestOpenWriteReadPagedFile(t *testing.T) {
	ctx := context.Background()
	hctx := hostrt.NewContext()
	fs := newTestFilesystem()

	path := "file://" + filepath.Join(t.TempDir(), "data.db")
	h, err := fs.Open(ctx, hctx, "data.db", path, 0, nil, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close(ctx)

	payload := make([]byte, 10000)
	for i := range payload {
		payload[i] = byte(i)
	}
	n, err := h.WriteAt(ctx, payload, 0)
	if err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("expected %d bytes written, got %d", len(payload), n)
	}

	readBack := make([]byte, len(payload))
	rn, err := h.ReadAt(ctx, readBack, 0)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if rn != len(payload) {
		t.Fatalf("expected %d bytes read, got %d", len(payload), rn)
	}
	for i := range payload {
		if readBack[i] != payload[i] {
			t.Fatalf("mismatch at byte %d", i)
			break
		}
	}
}

func TestOpenBufferIsAlwaysDirectIO(t *testing.T) {
	ctx := context.Background()
	hctx := hostrt.NewContext()
	fs := newTestFilesystem()

	h, err := fs.OpenBuffer(ctx, hctx, "b.csv", []byte("id,label\n1,x\n"))
	if err != nil {
		t.Fatalf("OpenBuffer: %v", err)
	}
	defer h.Close(ctx)

	if h.paged {
		t.Fatalf("expected a buffer file to bypass paging")
	}
	if !h.OnDiskFile() {
		t.Fatalf("expected OnDiskFile to be true for every handle, including a BUFFER file")
	}
}

func TestTruncateDropsPagedCache(t *testing.T) {
	ctx := context.Background()
	hctx := hostrt.NewContext()
	fs := newTestFilesystem()

	path := "file://" + filepath.Join(t.TempDir(), "grow.db")
	h, err := fs.Open(ctx, hctx, "grow.db", path, 0, nil, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close(ctx)

	if _, err := h.WriteAt(ctx, []byte("abcdefgh"), 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if !fs.pages.Resident(uint32(h.wh.File.ID), 0) {
		t.Fatalf("expected page 0 to be resident after a write")
	}
	if err := h.Truncate(ctx, 0); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if fs.pages.Resident(uint32(h.wh.File.ID), 0) {
		t.Fatalf("expected truncate to drop the cached page")
	}
}

func TestFlushFileByName(t *testing.T) {
	ctx := context.Background()
	hctx := hostrt.NewContext()
	fs := newTestFilesystem()

	nativePath := filepath.Join(t.TempDir(), "flush.db")
	path := "file://" + nativePath
	h, err := fs.Open(ctx, hctx, "flush.db", path, 0, nil, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close(ctx)

	if _, err := h.WriteAt(ctx, []byte("payload"), 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if err := fs.FlushFile(ctx, "flush.db"); err != nil {
		t.Fatalf("FlushFile: %v", err)
	}

	on, err := os.ReadFile(nativePath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(on[:len("payload")]) != "payload" {
		t.Fatalf("expected FlushFile to sync the write through to the host file, got %q", on)
	}
}

func TestTryDropFileRefusesWhilePagePinned(t *testing.T) {
	ctx := context.Background()
	hctx := hostrt.NewContext()
	fs := newTestFilesystem()

	path := "file://" + filepath.Join(t.TempDir(), "pinned.db")
	h, err := fs.Open(ctx, hctx, "pinned.db", path, 0, nil, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close(ctx)

	if _, err := h.WriteAt(ctx, []byte("abcdefgh"), 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	fileID := h.wh.File.ID
	pinned, err := fs.pages.GetPage(ctx, uint32(fileID), 0, 8, pagebuffer.Read)
	if err != nil {
		t.Fatalf("GetPage: %v", err)
	}

	if fs.TryDropFile(fileID) {
		t.Fatalf("expected TryDropFile to refuse while a page is pinned")
	}

	pinned.Unpin(false)
	if !fs.TryDropFile(fileID) {
		t.Fatalf("expected TryDropFile to succeed once the page is unpinned")
	}
}

func TestMkdirRmdirFileExists(t *testing.T) {
	ctx := context.Background()
	hctx := hostrt.NewContext()
	fs := newTestFilesystem()

	dir := filepath.Join(t.TempDir(), "sub")
	if err := fs.Mkdir(ctx, hctx, dir); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if !fs.FileExists(ctx, hctx, dir) {
		t.Fatalf("expected the directory to exist")
	}
	if err := fs.Rmdir(ctx, hctx, dir); err != nil {
		t.Fatalf("Rmdir: %v", err)
	}
	if fs.FileExists(ctx, hctx, dir) {
		t.Fatalf("expected the directory to be gone")
	}
}
