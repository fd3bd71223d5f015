package hostrt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	webdbcore "github.com/duckdb-wasm-go/webdbcore"
)

func TestHTTPRuntimeOpenRangeCapableThenRead(t *testing.T) {
	ctx := context.Background()
	hctx := NewContext()
	body := []byte("0123456789")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", "10")
		if r.Method == http.MethodHead {
			return
		}
		rangeHdr := r.Header.Get("Range")
		if rangeHdr == "" {
			w.Write(body)
			return
		}
		w.WriteHeader(http.StatusPartialContent)
		w.Write(body[3:6])
	}))
	defer srv.Close()

	rt := NewHTTPRuntime()
	d, res, err := rt.Open(ctx, hctx, srv.URL)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if res.FileSize != 10 || res.Inline != nil {
		t.Fatalf("expected a range-capable open with no inline promotion, got %+v", res)
	}

	buf := make([]byte, 3)
	n, err := rt.Read(ctx, hctx, d, buf, 3)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "345" {
		t.Fatalf("expected %q, got %q", "345", buf[:n])
	}
}

func TestHTTPRuntimeWriteAndTruncateAreNotSupported(t *testing.T) {
	ctx := context.Background()
	hctx := NewContext()
	rt := NewHTTPRuntime()

	if _, err := rt.Write(ctx, hctx, nil, []byte("x"), 0); !webdbcore.Is(err, webdbcore.KindNotSupported) {
		t.Fatalf("expected KindNotSupported writing over HTTP, got %v", err)
	}
	if err := rt.Truncate(ctx, hctx, nil, 0); !webdbcore.Is(err, webdbcore.KindNotSupported) {
		t.Fatalf("expected KindNotSupported truncating over HTTP, got %v", err)
	}
	if err := rt.Mkdir(ctx, hctx, "x"); !webdbcore.Is(err, webdbcore.KindNotSupported) {
		t.Fatalf("expected KindNotSupported for Mkdir over HTTP, got %v", err)
	}
}
