// Package bufferedfs implements the filesystem adapter (C8) the engine
// sees: open/read/write/seek/truncate/glob/mkdir/…, routing each file
// either straight to webfile (BUFFER protocol and force-direct-io files)
// or through pagebuffer's cache (everything else).
package bufferedfs

import (
	"context"
	"sync"

	webdbcore "github.com/duckdb-wasm-go/webdbcore"
	"github.com/duckdb-wasm-go/webdbcore/filereg"
	"github.com/duckdb-wasm-go/webdbcore/filestats"
	"github.com/duckdb-wasm-go/webdbcore/hostrt"
	"github.com/duckdb-wasm-go/webdbcore/pagebuffer"
	"github.com/duckdb-wasm-go/webdbcore/readahead"
	"github.com/duckdb-wasm-go/webdbcore/webfile"
)

// DefaultPageSize is 16 KiB, the size §3 recommends for PageFrame.
const DefaultPageSize = 16 * 1024

// DefaultPoolBytes is the default page-buffer pool budget (16 MiB, per §3).
const DefaultPoolBytes = 16 * 1024 * 1024

// Filesystem is the engine-facing entry point: one per open WebDB instance.
type Filesystem struct {
	Registry *filereg.Registry
	Stats    *filestats.Registry
	raReg    *readahead.Registry
	pages    *pagebuffer.Buffer
	runtime  hostrt.Runtime
	hctx     *hostrt.Context // internal context for the page buffer's own backing handles
	pageSize int

	mu       sync.Mutex
	backing  map[webfile.FileID]*webfile.WebFileHandle
}

// New builds a Filesystem with poolBytes worth of pageSize-byte frames,
// backed by runtime for host I/O.
func New(runtime hostrt.Runtime, pageSize, poolBytes int) *Filesystem {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if poolBytes <= 0 {
		poolBytes = DefaultPoolBytes
	}
	raReg := readahead.NewRegistry()
	fs := &Filesystem{
		Registry: filereg.New(runtime, raReg),
		Stats:    filestats.NewRegistry(uint64(pageSize)),
		raReg:    raReg,
		runtime:  runtime,
		hctx:     hostrt.NewContext(),
		pageSize: pageSize,
		backing:  make(map[webfile.FileID]*webfile.WebFileHandle),
	}
	fs.pages = pagebuffer.New(pageSize, poolBytes/pageSize, fs)
	return fs
}

// ReadPageAt and WritePageAt implement pagebuffer.Backend by routing
// through a lazily-opened backing WebFileHandle for fileID, keeping page
// misses on the C4→C1 path the control-flow diagram specifies.
func (fs *Filesystem) ReadPageAt(ctx context.Context, fileID uint32, buf []byte, offset int64) (int, error) {
	h, err := fs.backingHandle(webfile.FileID(fileID))
	if err != nil {
		return 0, err
	}
	return h.ReadAt(ctx, buf, uint64(offset))
}

func (fs *Filesystem) WritePageAt(ctx context.Context, fileID uint32, buf []byte, offset int64) (int, error) {
	h, err := fs.backingHandle(webfile.FileID(fileID))
	if err != nil {
		return 0, err
	}
	return h.WriteAt(ctx, buf, uint64(offset))
}

func (fs *Filesystem) backingHandle(id webfile.FileID) (*webfile.WebFileHandle, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if h, ok := fs.backing[id]; ok {
		return h, nil
	}
	h, err := fs.Registry.HandleByID(id, fs.hctx)
	if err != nil {
		return nil, err
	}
	fs.backing[id] = h
	return h, nil
}

// Handle is the engine's opaque per-open-file object.
type Handle struct {
	fs    *Filesystem
	wh    *webfile.WebFileHandle
	paged bool
}

// Open registers/opens name against url (empty for a pure in-memory file
// the caller populates via write), applying flags and an optional preset
// size. forceDirectIO routes the file straight to webfile, bypassing C7 —
// set for raw buffer uploads per §4.7's direct-I/O bypass.
func (fs *Filesystem) Open(ctx context.Context, hctx *hostrt.Context, name, url string, flags webfile.OpenFlags, size *uint64, forceDirectIO bool) (*Handle, error) {
	wh, err := fs.Registry.RegisterURL(ctx, hctx, name, url, size)
	if err != nil {
		return nil, err
	}
	if forceDirectIO {
		wh.File.FileLock.Lock()
		wh.File.ForceDirectIO = true
		wh.File.FileLock.Unlock()
	}
	if c := fs.Stats.Get(name); c != nil {
		wh.File.FileLock.Lock()
		wh.File.Stats = c
		wh.File.FileLock.Unlock()
	}
	if flags&webfile.CreateNew != 0 {
		if err := wh.Truncate(ctx, 0); err != nil {
			_ = wh.Close(ctx)
			return nil, err
		}
	}
	paged := !wh.File.IsBuffer() && !wh.File.ForceDirectIO
	return &Handle{fs: fs, wh: wh, paged: paged}, nil
}

// OpenBuffer registers/opens an in-memory file, always direct-I/O.
func (fs *Filesystem) OpenBuffer(ctx context.Context, hctx *hostrt.Context, name string, data []byte) (*Handle, error) {
	wh, err := fs.Registry.RegisterBuffer(ctx, hctx, name, data)
	if err != nil {
		return nil, err
	}
	return &Handle{fs: fs, wh: wh, paged: false}, nil
}

// Close releases the engine's own reference to the file. Cached pages, if
// any, remain resident for the next opener.
func (h *Handle) Close(ctx context.Context) error { return h.wh.Close(ctx) }

// CanSeek and OnDiskFile are always true (§4.8): every handle supports
// random-access seek, and every file, BUFFER included, is reported as an
// on-disk file.
func (h *Handle) CanSeek() bool    { return true }
func (h *Handle) OnDiskFile() bool { return true }

func (h *Handle) FileSize() uint64      { return h.wh.File.FileSize() }
func (h *Handle) Position() uint64      { return h.wh.Position() }
func (h *Handle) Seek(pos uint64)       { h.wh.Seek(pos) }

// Read services a read at the handle's current position, advancing it by
// the number of bytes actually read.
func (h *Handle) Read(ctx context.Context, buf []byte) (int, error) {
	n, err := h.ReadAt(ctx, buf, h.wh.Position())
	if err != nil {
		return n, err
	}
	h.wh.Seek(h.wh.Position() + uint64(n))
	return n, nil
}

// ReadAt reads at an explicit offset without moving the cursor.
func (h *Handle) ReadAt(ctx context.Context, buf []byte, offset uint64) (int, error) {
	if !h.paged {
		return h.wh.ReadAt(ctx, buf, offset)
	}
	return h.fs.readPaged(ctx, uint32(h.wh.File.ID), h.wh.File.FileSize(), buf, offset)
}

// Write services a positional write at the handle's current position,
// advancing it by exactly the number of bytes written.
func (h *Handle) Write(ctx context.Context, p []byte) (int, error) {
	n, err := h.WriteAt(ctx, p, h.wh.Position())
	h.wh.Seek(h.wh.Position() + uint64(n))
	return n, err
}

// WriteAt writes at an explicit offset, growing the file first if needed.
func (h *Handle) WriteAt(ctx context.Context, p []byte, offset uint64) (int, error) {
	if !h.paged {
		return h.wh.WriteAt(ctx, p, offset)
	}
	return h.fs.writePaged(ctx, h.wh, p, offset)
}

// Truncate resizes the file. For paged files, every cached page is
// dropped afterward rather than reconciled piecemeal — simpler and safe,
// since a shrink or grow can move page boundaries around arbitrarily.
func (h *Handle) Truncate(ctx context.Context, newSize uint64) error {
	if err := h.wh.Truncate(ctx, newSize); err != nil {
		return err
	}
	if h.paged {
		h.fs.pages.TryDropFile(uint32(h.wh.File.ID))
	}
	return nil
}

func (fs *Filesystem) readPaged(ctx context.Context, fileID uint32, fileSize uint64, buf []byte, offset uint64) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	if offset >= fileSize {
		return 0, nil
	}
	if remain := fileSize - offset; uint64(len(buf)) > remain {
		buf = buf[:remain]
	}

	total := 0
	for total < len(buf) {
		abs := offset + uint64(total)
		pageNo := abs / uint64(fs.pageSize)
		pageStart := pageNo * uint64(fs.pageSize)
		pageLen := fs.pageSize
		if pageStart+uint64(pageLen) > fileSize {
			pageLen = int(fileSize - pageStart)
		}
		pp, err := fs.pages.GetPage(ctx, fileID, pageNo, pageLen, pagebuffer.Read)
		if err != nil {
			return total, err
		}
		inPage := int(abs - pageStart)
		n := copy(buf[total:], pp.Data[inPage:])
		pp.Unpin(false)
		total += n
		if n == 0 {
			break
		}
	}
	return total, nil
}

func (fs *Filesystem) writePaged(ctx context.Context, wh *webfile.WebFileHandle, p []byte, offset uint64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	end := offset + uint64(len(p))
	if end > wh.File.FileSize() {
		if err := wh.Truncate(ctx, end); err != nil {
			return 0, webdbcore.IoError(err, "grow for write")
		}
	}
	fileID := uint32(wh.File.ID)
	fileSize := wh.File.FileSize()

	total := 0
	for total < len(p) {
		abs := offset + uint64(total)
		pageNo := abs / uint64(fs.pageSize)
		pageStart := pageNo * uint64(fs.pageSize)
		pageLen := fs.pageSize
		if pageStart+uint64(pageLen) > fileSize {
			pageLen = int(fileSize - pageStart)
		}
		pp, err := fs.pages.GetPage(ctx, fileID, pageNo, pageLen, pagebuffer.Write)
		if err != nil {
			return total, err
		}
		inPage := int(abs - pageStart)
		n := copy(pp.Data[inPage:], p[total:])
		if pp.Bypass {
			if _, werr := fs.WritePageAt(ctx, fileID, pp.Data, int64(pageStart)); werr != nil {
				return total, werr
			}
		} else {
			pp.Unpin(true)
		}
		total += n
		if n == 0 {
			break
		}
	}
	fs.raReg.InvalidateFile(uint64(fileID))
	if wh.File.Stats != nil {
		wh.File.Stats.RecordWrite(offset, uint64(total))
	}
	return total, nil
}

// Sync flushes fileID's dirty pages (if paged) then asks the host to sync
// per §4.1's sync(file_id) host ABI entry.
func (fs *Filesystem) Sync(ctx context.Context, h *Handle) error {
	if h.paged {
		if err := fs.pages.FlushFile(uint32(h.wh.File.ID)); err != nil {
			return err
		}
	}
	return h.wh.Sync(ctx)
}

// FlushFile writes back every dirty page belonging to name, if resident,
// then syncs the underlying host descriptor per §4.1's sync(file_id).
func (fs *Filesystem) FlushFile(ctx context.Context, name string) error {
	id, err := fs.Registry.ResolveID(name)
	if err != nil {
		return err
	}
	if err := fs.pages.FlushFile(uint32(id)); err != nil {
		return err
	}
	wh, err := fs.backingHandle(id)
	if err != nil {
		return err
	}
	return wh.Sync(ctx)
}

// FlushFiles writes back every dirty page in the pool, then syncs every
// backing host descriptor opened so far.
func (fs *Filesystem) FlushFiles(ctx context.Context) error {
	if err := fs.pages.FlushFiles(); err != nil {
		return err
	}
	fs.mu.Lock()
	handles := make([]*webfile.WebFileHandle, 0, len(fs.backing))
	for _, wh := range fs.backing {
		handles = append(handles, wh)
	}
	fs.mu.Unlock()
	for _, wh := range handles {
		if err := wh.Sync(ctx); err != nil {
			return err
		}
	}
	return nil
}

// TryDropFile invalidates fileID's cached pages, refusing if any are
// pinned (§4.7's try_drop_file), and returns whether it succeeded.
func (fs *Filesystem) TryDropFile(fileID webfile.FileID) bool {
	return fs.pages.TryDropFile(uint32(fileID))
}

// Glob passes through to the registry (§4.3's glob, unioned with the host).
func (fs *Filesystem) Glob(ctx context.Context, hctx *hostrt.Context, pattern string) ([]string, error) {
	return fs.Registry.Glob(ctx, hctx, pattern)
}

func (fs *Filesystem) Mkdir(ctx context.Context, hctx *hostrt.Context, path string) error {
	return fs.runtime.Mkdir(ctx, hctx, path)
}

func (fs *Filesystem) Rmdir(ctx context.Context, hctx *hostrt.Context, path string) error {
	return fs.runtime.Rmdir(ctx, hctx, path)
}

func (fs *Filesystem) FileExists(ctx context.Context, hctx *hostrt.Context, path string) bool {
	return fs.runtime.FileExists(ctx, hctx, path)
}
