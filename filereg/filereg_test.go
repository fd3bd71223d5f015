package filereg

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/duckdb-wasm-go/webdbcore/hostrt"
	"github.com/duckdb-wasm-go/webdbcore/readahead"
)

func newTestRegistry() *Registry {
	return New(hostrt.NewNativeRuntime(), readahead.NewRegistry())
}

func TestRegisterURLReusesExactMatch(t *testing.T) {
	ctx := context.Background()
	hctx := hostrt.NewContext()
	r := newTestRegistry()

	h1, err := r.RegisterURL(ctx, hctx, "a", "file:///tmp/a.db", nil)
	if err != nil {
		t.Fatalf("RegisterURL: %v", err)
	}
	defer h1.Close(ctx)

	h2, err := r.RegisterURL(ctx, hctx, "a", "file:///tmp/a.db", nil)
	if err != nil {
		t.Fatalf("second RegisterURL: %v", err)
	}
	defer h2.Close(ctx)

	if h1.File != h2.File {
		t.Fatalf("expected the same underlying file on an exact url match")
	}
}

func TestRegisterURLNameCollisionDifferentURLFails(t *testing.T) {
	ctx := context.Background()
	hctx := hostrt.NewContext()
	r := newTestRegistry()

	h, err := r.RegisterURL(ctx, hctx, "a", "file:///tmp/a.db", nil)
	if err != nil {
		t.Fatalf("RegisterURL: %v", err)
	}
	defer h.Close(ctx)

	if _, err := r.RegisterURL(ctx, hctx, "a", "file:///tmp/b.db", nil); err == nil {
		t.Fatalf("expected an error registering a different url under the same name")
	}
}

func TestRegisterBufferThenTryDrop(t *testing.T) {
	ctx := context.Background()
	hctx := hostrt.NewContext()
	r := newTestRegistry()

	h, err := r.RegisterBuffer(ctx, hctx, "b", []byte("hello"))
	if err != nil {
		t.Fatalf("RegisterBuffer: %v", err)
	}

	if r.TryDrop("b") {
		t.Fatalf("expected TryDrop to refuse while a handle is open")
	}
	if err := h.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !r.TryDrop("b") {
		t.Fatalf("expected TryDrop to succeed once the handle count reaches zero")
	}
}

func TestFileInfoByNameRoundTrips(t *testing.T) {
	ctx := context.Background()
	hctx := hostrt.NewContext()
	r := newTestRegistry()

	h, err := r.RegisterBuffer(ctx, hctx, "info.csv", []byte("1,2,3"))
	if err != nil {
		t.Fatalf("RegisterBuffer: %v", err)
	}
	defer h.Close(ctx)

	blob, err := r.FileInfoByName("info.csv")
	if err != nil {
		t.Fatalf("FileInfoByName: %v", err)
	}
	var info FileInfo
	if err := json.Unmarshal(blob, &info); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if info.FileName != "info.csv" || info.FileSize != 5 {
		t.Fatalf("unexpected file info: %+v", info)
	}
}

func TestGlobMatchesInMemoryNames(t *testing.T) {
	ctx := context.Background()
	hctx := hostrt.NewContext()
	r := newTestRegistry()

	h1, _ := r.RegisterBuffer(ctx, hctx, "x.csv", []byte("a"))
	h2, _ := r.RegisterBuffer(ctx, hctx, "y.csv", []byte("b"))
	h3, _ := r.RegisterBuffer(ctx, hctx, "z.json", []byte("c"))
	defer h1.Close(ctx)
	defer h2.Close(ctx)
	defer h3.Close(ctx)

	matches, err := r.Glob(ctx, hctx, "*.csv")
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %v", matches)
	}
}

func TestDropDanglingSweepsZeroHandleFiles(t *testing.T) {
	ctx := context.Background()
	hctx := hostrt.NewContext()
	r := newTestRegistry()

	h, err := r.RegisterBuffer(ctx, hctx, "dangling", []byte("x"))
	if err != nil {
		t.Fatalf("RegisterBuffer: %v", err)
	}
	if err := h.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Closing the last handle of a BUFFER file leaves it registered;
	// DropDangling is what sweeps it.
	r.DropDangling()
	if _, err := r.ResolveID("dangling"); err == nil {
		t.Fatalf("expected the file to already be gone")
	}
}

func TestResolveIDUnknownNameFails(t *testing.T) {
	r := newTestRegistry()
	if _, err := r.ResolveID("nope"); err == nil {
		t.Fatalf("expected an error resolving an unregistered name")
	}
}
