package hostrt

import (
	"context"
	"path/filepath"
	"testing"
)

func TestNativeRuntimeOpenReadWrite(t *testing.T) {
	ctx := context.Background()
	hctx := NewContext()
	rt := NewNativeRuntime()

	path := filepath.Join(t.TempDir(), "data.bin")
	d, res, err := rt.Open(ctx, hctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if res.FileSize != 0 {
		t.Fatalf("expected a fresh file to be empty, got size %d", res.FileSize)
	}

	if _, err := rt.Write(ctx, hctx, d, []byte("hello"), 0); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := rt.Sync(ctx, hctx, d); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	buf := make([]byte, 5)
	n, err := rt.Read(ctx, hctx, d, buf, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("expected %q, got %q", "hello", buf[:n])
	}

	if err := rt.Truncate(ctx, hctx, d, 2); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if size, err := rt.LastModified(ctx, hctx, d); err != nil || size == 0 {
		t.Fatalf("LastModified: %v (%d)", err, size)
	}
	if err := rt.Close(ctx, hctx, d); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestNativeRuntimeReadPastEOFIsNotAnError(t *testing.T) {
	ctx := context.Background()
	hctx := NewContext()
	rt := NewNativeRuntime()

	path := filepath.Join(t.TempDir(), "empty.bin")
	d, _, err := rt.Open(ctx, hctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rt.Close(ctx, hctx, d)

	buf := make([]byte, 8)
	n, err := rt.Read(ctx, hctx, d, buf, 0)
	if err != nil {
		t.Fatalf("expected no error reading past EOF, got %v", err)
	}
	if n != 0 {
		t.Fatalf("expected zero bytes, got %d", n)
	}
}

func TestNativeRuntimeMkdirRmdirExists(t *testing.T) {
	ctx := context.Background()
	hctx := NewContext()
	rt := NewNativeRuntime()

	dir := filepath.Join(t.TempDir(), "sub")
	if err := rt.Mkdir(ctx, hctx, dir); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if ok, err := rt.Exists(ctx, hctx, dir); err != nil || !ok {
		t.Fatalf("expected Exists to report the directory, got %v/%v", ok, err)
	}
	if err := rt.Rmdir(ctx, hctx, dir); err != nil {
		t.Fatalf("Rmdir: %v", err)
	}
	if ok, err := rt.Exists(ctx, hctx, dir); err != nil || ok {
		t.Fatalf("expected Exists to report gone, got %v/%v", ok, err)
	}
}

func TestNativeRuntimeGlob(t *testing.T) {
	ctx := context.Background()
	hctx := NewContext()
	rt := NewNativeRuntime()

	dir := t.TempDir()
	for _, name := range []string{"a.csv", "b.csv", "c.json"} {
		p := filepath.Join(dir, name)
		if _, _, err := rt.Open(ctx, hctx, p); err != nil {
			t.Fatalf("Open %s: %v", name, err)
		}
	}

	matches, err := rt.Glob(ctx, hctx, filepath.Join(dir, "*.csv"))
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d: %v", len(matches), matches)
	}
	if len(hctx.GlobResults) != 2 {
		t.Fatalf("expected GlobResults to mirror the return value, got %v", hctx.GlobResults)
	}
}
