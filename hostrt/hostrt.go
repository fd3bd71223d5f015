// Package hostrt is the boundary to the real world: opening/reading/writing
// native files and HTTP URLs on the host's behalf (C1). It replaces the
// source's global mutex-guarded thread-local map with an explicit Context
// object threaded through every call (see SPEC_FULL.md §9).
package hostrt

import "context"

// Protocol tags which concrete runtime a Descriptor belongs to.
type Protocol int

const (
	ProtocolNative Protocol = iota
	ProtocolHTTP
)

// Descriptor is an opaque per-source handle returned by Open. Callers pass
// it back into every subsequent call for that source.
type Descriptor interface {
	protocol() Protocol
}

// OpenResult reports what Open discovered about a source.
type OpenResult struct {
	FileSize int64
	// Inline is set when the host had to read the whole source up front
	// (e.g. a non-range-capable HTTP server); the caller promotes the
	// file to BUFFER using these bytes and never calls Read again.
	Inline []byte
}

// Context is per-execution-context scratch state for the host runtime
// boundary: the Go analogue of the source's thread-local LocalState. One is
// created per goroutine that talks to the host and threaded explicitly
// through every call — never stashed in a package-level map keyed by
// goroutine identity, which Go does not expose anyway.
type Context struct {
	// GlobResults accumulates paths pushed back by a Glob call, mirroring
	// the source's glob_add_path host callback.
	GlobResults []string
	// LastError records the most recent host-side failure for diagnostic
	// surfaces that want it without threading it through every return.
	LastError error
}

// NewContext returns a fresh, empty Context.
func NewContext() *Context { return &Context{} }

func (c *Context) reset() {
	c.GlobResults = c.GlobResults[:0]
	c.LastError = nil
}

// Runtime is the host runtime ABI from SPEC_FULL.md §6, expressed as Go
// methods against an opaque Descriptor instead of a numeric file_id crossing
// a real language boundary.
type Runtime interface {
	// Open resolves source (a native path or an http(s) URL) and returns a
	// Descriptor plus size/inline-promotion information.
	Open(ctx context.Context, hctx *Context, source string) (Descriptor, OpenResult, error)
	Close(ctx context.Context, hctx *Context, d Descriptor) error
	Sync(ctx context.Context, hctx *Context, d Descriptor) error
	Truncate(ctx context.Context, hctx *Context, d Descriptor, newSize int64) error
	LastModified(ctx context.Context, hctx *Context, d Descriptor) (int64, error)
	Read(ctx context.Context, hctx *Context, d Descriptor, buf []byte, offset int64) (int, error)
	Write(ctx context.Context, hctx *Context, d Descriptor, buf []byte, offset int64) (int, error)

	Mkdir(ctx context.Context, hctx *Context, path string) error
	Rmdir(ctx context.Context, hctx *Context, path string) error
	Exists(ctx context.Context, hctx *Context, path string) (bool, error)
	ListFiles(ctx context.Context, hctx *Context, path string) ([]string, error)
	// Glob deposits matches into hctx.GlobResults, mirroring the source's
	// push-callback style, and also returns them for convenience.
	Glob(ctx context.Context, hctx *Context, pattern string) ([]string, error)
	Move(ctx context.Context, hctx *Context, from, to string) error
	FileExists(ctx context.Context, hctx *Context, path string) bool
}

// Composite dispatches to a NativeRuntime or HTTPRuntime by protocol,
// inferred from the source string the way §4.3 infers DataProtocol.
type Composite struct {
	Native *NativeRuntime
	HTTP   *HTTPRuntime
}

// NewComposite builds a Composite with default Native/HTTP runtimes.
func NewComposite() *Composite {
	return &Composite{Native: NewNativeRuntime(), HTTP: NewHTTPRuntime()}
}

func (c *Composite) runtimeFor(d Descriptor) Runtime {
	if d != nil && d.protocol() == ProtocolHTTP {
		return c.HTTP
	}
	return c.Native
}

func (c *Composite) Open(ctx context.Context, hctx *Context, source string) (Descriptor, OpenResult, error) {
	hctx.reset()
	if isHTTPSource(source) {
		return c.HTTP.Open(ctx, hctx, source)
	}
	return c.Native.Open(ctx, hctx, source)
}

func (c *Composite) Close(ctx context.Context, hctx *Context, d Descriptor) error {
	return c.runtimeFor(d).Close(ctx, hctx, d)
}
func (c *Composite) Sync(ctx context.Context, hctx *Context, d Descriptor) error {
	return c.runtimeFor(d).Sync(ctx, hctx, d)
}
func (c *Composite) Truncate(ctx context.Context, hctx *Context, d Descriptor, n int64) error {
	return c.runtimeFor(d).Truncate(ctx, hctx, d, n)
}
func (c *Composite) LastModified(ctx context.Context, hctx *Context, d Descriptor) (int64, error) {
	return c.runtimeFor(d).LastModified(ctx, hctx, d)
}
func (c *Composite) Read(ctx context.Context, hctx *Context, d Descriptor, buf []byte, offset int64) (int, error) {
	return c.runtimeFor(d).Read(ctx, hctx, d, buf, offset)
}
func (c *Composite) Write(ctx context.Context, hctx *Context, d Descriptor, buf []byte, offset int64) (int, error) {
	return c.runtimeFor(d).Write(ctx, hctx, d, buf, offset)
}
func (c *Composite) Mkdir(ctx context.Context, hctx *Context, path string) error {
	return c.Native.Mkdir(ctx, hctx, path)
}
func (c *Composite) Rmdir(ctx context.Context, hctx *Context, path string) error {
	return c.Native.Rmdir(ctx, hctx, path)
}
func (c *Composite) Exists(ctx context.Context, hctx *Context, path string) (bool, error) {
	return c.Native.Exists(ctx, hctx, path)
}
func (c *Composite) ListFiles(ctx context.Context, hctx *Context, path string) ([]string, error) {
	return c.Native.ListFiles(ctx, hctx, path)
}
func (c *Composite) Glob(ctx context.Context, hctx *Context, pattern string) ([]string, error) {
	return c.Native.Glob(ctx, hctx, pattern)
}
func (c *Composite) Move(ctx context.Context, hctx *Context, from, to string) error {
	return c.Native.Move(ctx, hctx, from, to)
}
func (c *Composite) FileExists(ctx context.Context, hctx *Context, path string) bool {
	return c.Native.FileExists(ctx, hctx, path)
}

func isHTTPSource(source string) bool {
	return len(source) >= 7 && (source[:7] == "http://" || (len(source) >= 8 && source[:8] == "https://"))
}
