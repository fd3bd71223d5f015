package hostrt

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	webdbcore "github.com/duckdb-wasm-go/webdbcore"
)

// httpDescriptor tracks whether the remote server honored our probe for
// range support, and the URL to re-request against.
type httpDescriptor struct {
	mu         sync.Mutex
	url        string
	size       int64
	rangeCapab bool
}

func (d *httpDescriptor) protocol() Protocol { return ProtocolHTTP }

// HTTPRuntime fetches remote sources with range GETs when the server
// supports them, falling back to a single full-body GET (which triggers
// promotion to BUFFER at the WebFile layer) otherwise.
type HTTPRuntime struct {
	Client *http.Client
}

func NewHTTPRuntime() *HTTPRuntime {
	return &HTTPRuntime{Client: http.DefaultClient}
}

// Open issues a HEAD to discover size and range support. If the HEAD answers
// with a status of 300 or above, or the server can't do ranges, it reads the
// full body with a plain GET
// immediately and reports it as OpenResult.Inline so the caller promotes
// the file to BUFFER, matching §4.4's "non-range HTTP forces inline".
func (h *HTTPRuntime) Open(ctx context.Context, hctx *Context, source string) (Descriptor, OpenResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, source, nil)
	if err != nil {
		return nil, OpenResult{}, webdbcore.Invalid("bad url %q: %v", source, err)
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		hctx.LastError = err
		return nil, OpenResult{}, webdbcore.HTTPError(0, "HEAD %q: %v", source, err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return h.openViaFullGet(ctx, hctx, source)
	}

	d := &httpDescriptor{
		url:        source,
		size:       resp.ContentLength,
		rangeCapab: resp.Header.Get("Accept-Ranges") == "bytes",
	}
	if !d.rangeCapab || d.size < 0 {
		return h.openViaFullGet(ctx, hctx, source)
	}
	return d, OpenResult{FileSize: d.size}, nil
}

func (h *HTTPRuntime) openViaFullGet(ctx context.Context, hctx *Context, source string) (Descriptor, OpenResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, OpenResult{}, webdbcore.Invalid("bad url %q: %v", source, err)
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		hctx.LastError = err
		return nil, OpenResult{}, webdbcore.HTTPError(0, "GET %q: %v", source, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, OpenResult{}, webdbcore.HTTPError(resp.StatusCode, "GET %q returned %d", source, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, OpenResult{}, webdbcore.HTTPError(resp.StatusCode, "reading %q: %v", source, err)
	}
	d := &httpDescriptor{url: source, size: int64(len(body)), rangeCapab: false}
	return d, OpenResult{FileSize: int64(len(body)), Inline: body}, nil
}

func (h *HTTPRuntime) Close(context.Context, *Context, Descriptor) error { return nil }
func (h *HTTPRuntime) Sync(context.Context, *Context, Descriptor) error  { return nil }

func (h *HTTPRuntime) Truncate(context.Context, *Context, Descriptor, int64) error {
	return webdbcore.NotSupported("HTTP sources do not support truncate")
}

func (h *HTTPRuntime) LastModified(ctx context.Context, _ *Context, d Descriptor) (int64, error) {
	hd := d.(*httpDescriptor)
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, hd.url, nil)
	if err != nil {
		return 0, webdbcore.Invalid("bad url: %v", err)
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return 0, webdbcore.HTTPError(0, "HEAD %q: %v", hd.url, err)
	}
	resp.Body.Close()
	lm, err := http.ParseTime(resp.Header.Get("Last-Modified"))
	if err != nil {
		return 0, nil
	}
	return lm.UnixMilli(), nil
}

func (h *HTTPRuntime) Read(ctx context.Context, hctx *Context, d Descriptor, buf []byte, offset int64) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	hd := d.(*httpDescriptor)
	if !hd.rangeCapab {
		return 0, webdbcore.Invalid("descriptor is not range-capable; file should have been promoted to BUFFER")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hd.url, nil)
	if err != nil {
		return 0, webdbcore.Invalid("bad url: %v", err)
	}
	end := offset + int64(len(buf)) - 1
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, end))
	resp, err := h.Client.Do(req)
	if err != nil {
		hctx.LastError = err
		return 0, webdbcore.HTTPError(0, "GET range %q: %v", hd.url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return 0, webdbcore.HTTPError(resp.StatusCode, "range GET %q returned %d", hd.url, resp.StatusCode)
	}
	n, err := io.ReadFull(resp.Body, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return n, webdbcore.HTTPError(resp.StatusCode, "reading range body: %v", err)
	}
	return n, nil
}

func (h *HTTPRuntime) Write(context.Context, *Context, Descriptor, []byte, int64) (int, error) {
	return 0, webdbcore.NotSupported("HTTP sources do not support write")
}

func (h *HTTPRuntime) Mkdir(context.Context, *Context, string) error { return webdbcore.NotSupported("not supported over HTTP") }
func (h *HTTPRuntime) Rmdir(context.Context, *Context, string) error { return webdbcore.NotSupported("not supported over HTTP") }
func (h *HTTPRuntime) Exists(context.Context, *Context, string) (bool, error) {
	return false, webdbcore.NotSupported("not supported over HTTP")
}
func (h *HTTPRuntime) ListFiles(context.Context, *Context, string) ([]string, error) {
	return nil, webdbcore.NotSupported("not supported over HTTP")
}
func (h *HTTPRuntime) Glob(context.Context, *Context, string) ([]string, error) {
	return nil, webdbcore.NotSupported("not supported over HTTP")
}
func (h *HTTPRuntime) Move(context.Context, *Context, string, string) error {
	return webdbcore.NotSupported("not supported over HTTP")
}
func (h *HTTPRuntime) FileExists(context.Context, *Context, string) bool { return false }
