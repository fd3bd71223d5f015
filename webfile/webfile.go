// Package webfile implements per-file state and reference-counted open
// handles (C4): one WebFile per registered/opened file, and any number of
// WebFileHandles borrowing it alive.
package webfile

import (
	"context"
	"sync"
	"sync/atomic"

	webdbcore "github.com/duckdb-wasm-go/webdbcore"
	"github.com/duckdb-wasm-go/webdbcore/databuf"
	"github.com/duckdb-wasm-go/webdbcore/filestats"
	"github.com/duckdb-wasm-go/webdbcore/hostrt"
	"github.com/duckdb-wasm-go/webdbcore/readahead"
)

// Protocol is the three-way tagged variant from the data model.
type Protocol int

const (
	Buffer Protocol = iota
	Native
	HTTP
)

func (p Protocol) String() string {
	switch p {
	case Buffer:
		return "BUFFER"
	case Native:
		return "NATIVE"
	case HTTP:
		return "HTTP"
	default:
		return "UNKNOWN"
	}
}

// OpenFlags mirror the CREATE_NEW bit the source's Open flow checks.
type OpenFlags uint8

const CreateNew OpenFlags = 1 << 0

// FileID is an opaque, monotonically assigned, process-lifetime-stable
// identifier. Reuse after drop is permitted.
type FileID uint32

// WebFile is one record per registered/opened file. Its zero value is not
// usable; filereg's RegisterURL and RegisterBuffer construct and register it.
type WebFile struct {
	ID       FileID
	Name     string // unique key
	Protocol Protocol

	// DataURL is the historical registration URL/path. It survives a
	// promotion to BUFFER (invariant I5).
	DataURL string
	// DataFD is a prebound native descriptor, if the caller preset one via
	// SetFileDescriptor.
	DataFD     uint32
	HasDataFD  bool
	ForceDirectIO bool

	sizeMu   sync.RWMutex
	fileSize uint64

	// DataBuffer is present iff Protocol == Buffer or an HTTP source was
	// promoted inline (invariant I2).
	DataBuffer *databuf.DataBuffer

	Stats *filestats.Collector

	handleCount atomic.Int32

	// FileLock protects protocol switches, size changes, and truncation.
	// There is no upgrade primitive: callers that hold RLock and need
	// exclusive access must RUnlock, Lock, and recheck preconditions
	// (§9's "shared-then-exclusive lock upgrade" design note).
	FileLock sync.RWMutex

	// hostDescriptor is the runtime's opaque per-source handle, set once
	// Open has talked to the host (nil for pure BUFFER files).
	hostDescriptor hostrt.Descriptor
}

// HandleCount returns the number of live handles referencing this file.
func (f *WebFile) HandleCount() int32 { return f.handleCount.Load() }

// FileSize returns the authoritative size under a shared read.
func (f *WebFile) FileSize() uint64 {
	f.sizeMu.RLock()
	defer f.sizeMu.RUnlock()
	return f.fileSize
}

// SetFileSize updates the authoritative size. Callers must already hold
// FileLock exclusively per the data model ("updated under exclusive lock").
func (f *WebFile) SetFileSize(n uint64) {
	f.sizeMu.Lock()
	f.fileSize = n
	f.sizeMu.Unlock()
}

// IsBuffer reports whether the file's content lives entirely in memory.
func (f *WebFile) IsBuffer() bool { return f.Protocol == Buffer }

// WebFileHandle is a borrow of a WebFile that keeps it alive. Go has no
// destructors, so callers must call Close explicitly (typically via
// defer) when done; Close is idempotent.
type WebFileHandle struct {
	File     *WebFile
	position atomic.Uint64

	closeOnce sync.Once
	closeErr  error

	// readAhead is this handle's thread-local-equivalent sequential-read
	// cache, lazily created on first read (§4.5). It is per-handle here
	// rather than per-goroutine because a handle already IS the natural
	// Go-idiomatic per-execution-context object; sharing one across
	// goroutines would defeat the purpose of a private read window anyway.
	readAhead *readahead.Buffer

	runtime    hostrt.Runtime
	hctx       *hostrt.Context
	onDangling DanglingFunc // callback into filereg for the unregister step
	raRegistry *readahead.Registry
}

// DanglingFunc is the minimal callback surface WebFileHandle needs from its
// owning registry to complete the close flow (§4.4) without importing
// filereg, which would create an import cycle (filereg already imports
// webfile to hold *WebFile records).
type DanglingFunc func(f *WebFile)

// NewHandle constructs a handle over f, incrementing its handle count.
// runtime/hctx are used for the eventual host.Close in the close flow.
// raRegistry may be nil for handles that never read (e.g. write-only
// ingestion paths); it is required for invalidate_readaheads to reach this
// handle's window.
func NewHandle(f *WebFile, runtime hostrt.Runtime, hctx *hostrt.Context, onDangling DanglingFunc, raRegistry *readahead.Registry) *WebFileHandle {
	f.handleCount.Add(1)
	return &WebFileHandle{File: f, runtime: runtime, hctx: hctx, onDangling: onDangling, raRegistry: raRegistry}
}

// Position returns the handle-local cursor.
func (h *WebFileHandle) Position() uint64 { return h.position.Load() }

// Seek sets the handle-local cursor; seeking is always supported (§4.8's
// can_seek = true).
func (h *WebFileHandle) Seek(pos uint64) { h.position.Store(pos) }

// ReadAheadBuffer lazily resolves this handle's read-ahead window.
func (h *WebFileHandle) ReadAheadBuffer() *readahead.Buffer {
	if h.readAhead == nil {
		h.readAhead = readahead.New()
		if h.raRegistry != nil {
			h.raRegistry.Track(h.readAhead)
		}
	}
	return h.readAhead
}

// Close implements the close flow from §4.4: try (non-blocking) to take
// FileLock exclusively, decrement handle_count, and if it reached zero and
// the file isn't BUFFER, ask the host to close it and unregister the file.
// Idempotent: a second Close returns the same result and does no work.
func (h *WebFileHandle) Close(ctx context.Context) error {
	h.closeOnce.Do(func() {
		h.closeErr = h.closeLocked(ctx)
	})
	return h.closeErr
}

func (h *WebFileHandle) closeLocked(ctx context.Context) error {
	if h.readAhead != nil && h.raRegistry != nil {
		h.raRegistry.Untrack(h.readAhead)
	}
	f := h.File
	locked := f.FileLock.TryLock()
	remaining := f.handleCount.Add(-1)
	if remaining > 0 {
		if locked {
			f.FileLock.Unlock()
		}
		return nil
	}
	if !locked {
		// Another operation is mid-flight; it will observe the zero
		// count when it releases and this handle's job is done.
		return nil
	}
	defer f.FileLock.Unlock()

	if f.IsBuffer() {
		return nil
	}
	if f.hostDescriptor != nil && h.runtime != nil {
		if err := h.runtime.Close(ctx, h.hctx, f.hostDescriptor); err != nil {
			return err
		}
	}
	if h.onDangling != nil {
		h.onDangling(f)
	}
	return nil
}

// Read services a read at the handle's current position via buf, honoring
// the boundary cases from §8: zero-length reads and reads past EOF return 0
// without touching the host, and the position never advances past the read.
func (h *WebFileHandle) Read(ctx context.Context, buf []byte) (int, error) {
	n, err := h.ReadAt(ctx, buf, h.position.Load())
	if err != nil {
		return n, err
	}
	h.position.Add(uint64(n))
	return n, nil
}

// ReadAt reads at an explicit offset without moving the handle's cursor.
func (h *WebFileHandle) ReadAt(ctx context.Context, buf []byte, offset uint64) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	f := h.File
	f.FileLock.RLock()
	defer f.FileLock.RUnlock()

	size := f.FileSize()
	if offset >= size {
		return 0, nil
	}
	if remain := size - offset; uint64(len(buf)) > remain {
		buf = buf[:remain]
	}

	if f.IsBuffer() {
		n := f.DataBuffer.ReadAt(buf, int(offset))
		if f.Stats != nil {
			f.Stats.RecordCached(offset, uint64(n))
		}
		return n, nil
	}

	if h.runtime == nil || f.hostDescriptor == nil {
		return 0, webdbcore.Invalid("file %q has no open host descriptor", f.Name)
	}

	refill := func(dst []byte, at uint64) (int, error) {
		return h.runtime.Read(ctx, h.hctx, f.hostDescriptor, dst, int64(at))
	}
	window, cached, err := h.ReadAheadBuffer().Read(uint64(f.ID), offset, uint64(len(buf)), size, refill)
	if err != nil {
		return 0, err
	}
	n := copy(buf, window)
	if f.Stats != nil {
		if cached {
			f.Stats.RecordCached(offset, uint64(n))
		} else {
			f.Stats.RecordCold(offset, uint64(n))
		}
	}
	return n, nil
}

// Write services a positional write, advancing the handle's cursor by
// exactly the number of bytes written and terminating once len(p) bytes are
// consumed — the fix for the source's non-advancing while-loop bug
// documented as an Open Question in SPEC_FULL.md §9.
func (h *WebFileHandle) Write(ctx context.Context, p []byte) (int, error) {
	n, err := h.WriteAt(ctx, p, h.position.Load())
	h.position.Add(uint64(n))
	return n, err
}

// WriteAt writes at an explicit offset, growing the file if needed, and
// terminates deterministically: it never loops on a stationary offset.
func (h *WebFileHandle) WriteAt(ctx context.Context, p []byte, offset uint64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	f := h.File
	if f.Protocol == HTTP {
		return 0, webdbcore.NotSupported("HTTP files are read-only")
	}

	f.FileLock.RLock()
	if f.IsBuffer() {
		n := f.DataBuffer.WriteAt(p, int(offset))
		newSize := uint64(f.DataBuffer.Size())
		f.FileLock.RUnlock()

		f.FileLock.Lock()
		f.SetFileSize(newSize)
		f.FileLock.Unlock()

		if f.Stats != nil {
			f.Stats.Resize(newSize)
			f.Stats.RecordWrite(offset, uint64(n))
		}
		return n, nil
	}

	if h.runtime == nil || f.hostDescriptor == nil {
		f.FileLock.RUnlock()
		return 0, webdbcore.Invalid("file %q has no open host descriptor", f.Name)
	}
	n, err := h.runtime.Write(ctx, h.hctx, f.hostDescriptor, p, int64(offset))
	f.FileLock.RUnlock()
	if err != nil {
		return n, err
	}

	end := offset + uint64(n)
	if end > f.FileSize() {
		// Extend: drop shared, reacquire exclusive, recheck (§9's
		// lock-upgrade design note — no upgrade primitive exists).
		f.FileLock.Lock()
		if end > f.FileSize() {
			f.SetFileSize(end)
		}
		f.FileLock.Unlock()
		if f.Stats != nil {
			f.Stats.Resize(end)
		}
	}
	if f.Stats != nil {
		f.Stats.RecordWrite(offset, uint64(n))
	}
	if h.raRegistry != nil {
		h.raRegistry.InvalidateFile(uint64(f.ID))
	}
	return n, nil
}

// Sync asks the host runtime to persist a NATIVE/HTTP file's writes; a
// no-op for BUFFER files, which have no host source to flush to.
func (h *WebFileHandle) Sync(ctx context.Context) error {
	f := h.File
	f.FileLock.RLock()
	defer f.FileLock.RUnlock()

	if f.IsBuffer() || h.runtime == nil || f.hostDescriptor == nil {
		return nil
	}
	return h.runtime.Sync(ctx, h.hctx, f.hostDescriptor)
}

// Truncate resizes the file, invalidating every handle's read-ahead window
// for it (§4.5's invalidate_readaheads) since any cached window may now
// point past the new end of file.
func (h *WebFileHandle) Truncate(ctx context.Context, newSize uint64) error {
	f := h.File
	f.FileLock.Lock()
	defer f.FileLock.Unlock()

	if f.IsBuffer() {
		f.DataBuffer.Resize(int(newSize))
		f.SetFileSize(newSize)
	} else {
		if h.runtime == nil || f.hostDescriptor == nil {
			return webdbcore.Invalid("file %q has no open host descriptor", f.Name)
		}
		if err := h.runtime.Truncate(ctx, h.hctx, f.hostDescriptor, int64(newSize)); err != nil {
			return err
		}
		f.SetFileSize(newSize)
	}
	if f.Stats != nil {
		f.Stats.Resize(newSize)
	}
	if h.raRegistry != nil {
		h.raRegistry.InvalidateFile(uint64(f.ID))
	}
	return nil
}

// AttachHostDescriptor records the descriptor the host runtime returned
// from Open, and switches protocol/DataBuffer if the host promoted the
// file to inline BUFFER content.
func (f *WebFile) AttachHostDescriptor(d hostrt.Descriptor, result hostrt.OpenResult) {
	f.hostDescriptor = d
	if result.Inline != nil {
		f.Protocol = Buffer
		f.DataBuffer = databuf.NewFromBytes(result.Inline)
		f.SetFileSize(uint64(len(result.Inline)))
		return
	}
	f.SetFileSize(uint64(result.FileSize))
}

// HasHostDescriptor reports whether a host runtime descriptor is already
// attached, so a caller opening the same file twice doesn't reopen it.
func (f *WebFile) HasHostDescriptor() bool {
	f.FileLock.Lock()
	defer f.FileLock.Unlock()
	return f.hostDescriptor != nil
}

// DetachHostDescriptor clears and returns the file's host descriptor, so a
// caller switching the file away from NATIVE/HTTP (register_buffer replacing
// an open native file) can close it without holding FileLock across the
// host call.
func (f *WebFile) DetachHostDescriptor() hostrt.Descriptor {
	f.FileLock.Lock()
	defer f.FileLock.Unlock()
	d := f.hostDescriptor
	f.hostDescriptor = nil
	return d
}
