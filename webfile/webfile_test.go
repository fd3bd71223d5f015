package webfile

import (
	"context"
	"testing"

	webdbcore "github.com/duckdb-wasm-go/webdbcore"
	"github.com/duckdb-wasm-go/webdbcore/databuf"
)

func newBufferFile(id FileID, data []byte) *WebFile {
	f := &WebFile{ID: id, Name: "buf", Protocol: Buffer, DataBuffer: databuf.NewFromBytes(data)}
	f.SetFileSize(uint64(len(data)))
	return f
}

func TestHandleReadWriteAdvancesPosition(t *testing.T) {
	ctx := context.Background()
	f := newBufferFile(1, []byte("hello world"))
	h := NewHandle(f, nil, nil, nil, nil)
	defer h.Close(ctx)

	buf := make([]byte, 5)
	n, err := h.Read(ctx, buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 5 || string(buf) != "hello" {
		t.Fatalf("expected %q, got %q", "hello", buf[:n])
	}
	if h.Position() != 5 {
		t.Fatalf("expected position 5, got %d", h.Position())
	}
}

func TestHandleWriteGrowsFileSize(t *testing.T) {
	ctx := context.Background()
	f := newBufferFile(2, []byte("abc"))
	h := NewHandle(f, nil, nil, nil, nil)
	defer h.Close(ctx)

	n, err := h.WriteAt(ctx, []byte("xyz"), 3)
	if err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 bytes written, got %d", n)
	}
	if f.FileSize() != 6 {
		t.Fatalf("expected file to grow to 6, got %d", f.FileSize())
	}
}

func TestHandleZeroLengthReadIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newBufferFile(3, []byte("data"))
	h := NewHandle(f, nil, nil, nil, nil)
	defer h.Close(ctx)

	n, err := h.Read(ctx, nil)
	if err != nil || n != 0 {
		t.Fatalf("expected (0, nil), got (%d, %v)", n, err)
	}
}

func TestHandleReadPastEOFReturnsZero(t *testing.T) {
	ctx := context.Background()
	f := newBufferFile(4, []byte("abc"))
	h := NewHandle(f, nil, nil, nil, nil)
	defer h.Close(ctx)

	buf := make([]byte, 4)
	n, err := h.ReadAt(ctx, buf, 100)
	if err != nil || n != 0 {
		t.Fatalf("expected (0, nil) reading past EOF, got (%d, %v)", n, err)
	}
}

func TestHandleCloseIsIdempotentAndDrivesDangling(t *testing.T) {
	ctx := context.Background()
	f := &WebFile{ID: 5, Name: "native", Protocol: Native}
	drops := 0
	h := NewHandle(f, nil, nil, func(*WebFile) { drops++ }, nil)

	if err := h.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := h.Close(ctx); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if drops != 1 {
		t.Fatalf("expected exactly one dangling callback, got %d", drops)
	}
	if f.HandleCount() != 0 {
		t.Fatalf("expected handle count 0, got %d", f.HandleCount())
	}
}

func TestWriteToHTTPFileFails(t *testing.T) {
	ctx := context.Background()
	f := &WebFile{ID: 6, Name: "remote", Protocol: HTTP}
	h := NewHandle(f, nil, nil, nil, nil)
	defer h.Close(ctx)

	_, err := h.WriteAt(ctx, []byte("x"), 0)
	if err == nil {
		t.Fatalf("expected an error writing to an HTTP file")
	}
	if !webdbcore.Is(err, webdbcore.KindNotSupported) {
		t.Fatalf("expected KindNotSupported, got %v", err)
	}
}

func TestProtocolString(t *testing.T) {
	cases := map[Protocol]string{Buffer: "BUFFER", Native: "NATIVE", HTTP: "HTTP"}
	for p, want := range cases {
		if got := p.String(); got != want {
			t.Fatalf("Protocol(%d).String() = %q, want %q", p, got, want)
		}
	}
}
