package hostrt

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	webdbcore "github.com/duckdb-wasm-go/webdbcore"
)

// nativeDescriptor wraps an *os.File the way the teacher's DiskManager
// wraps one inside a FileDescriptor, minus the page-table bookkeeping that
// now lives in pagebuffer.
type nativeDescriptor struct {
	mu   sync.RWMutex
	path string
	file *os.File
}

func (d *nativeDescriptor) protocol() Protocol { return ProtocolNative }

// NativeRuntime opens real files on the host filesystem.
type NativeRuntime struct{}

func NewNativeRuntime() *NativeRuntime { return &NativeRuntime{} }

func (n *NativeRuntime) Open(_ context.Context, hctx *Context, source string) (Descriptor, OpenResult, error) {
	path := strings.TrimPrefix(source, "file://")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		// Fall back to read-only for sources the caller can't write
		// (e.g. a read-only mounted database path).
		f, err = os.Open(path)
		if err != nil {
			hctx.LastError = err
			return nil, OpenResult{}, webdbcore.IoError(err, "open %q", path)
		}
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, OpenResult{}, webdbcore.IoError(err, "stat %q", path)
	}
	return &nativeDescriptor{path: path, file: f}, OpenResult{FileSize: info.Size()}, nil
}

func (n *NativeRuntime) Close(_ context.Context, _ *Context, d Descriptor) error {
	nd := d.(*nativeDescriptor)
	nd.mu.Lock()
	defer nd.mu.Unlock()
	if err := nd.file.Close(); err != nil {
		return webdbcore.IoError(err, "close %q", nd.path)
	}
	return nil
}

func (n *NativeRuntime) Sync(_ context.Context, _ *Context, d Descriptor) error {
	nd := d.(*nativeDescriptor)
	nd.mu.RLock()
	defer nd.mu.RUnlock()
	if err := nd.file.Sync(); err != nil {
		return webdbcore.IoError(err, "sync %q", nd.path)
	}
	syncAdvise(nd.file)
	return nil
}

func (n *NativeRuntime) Truncate(_ context.Context, _ *Context, d Descriptor, newSize int64) error {
	nd := d.(*nativeDescriptor)
	nd.mu.Lock()
	defer nd.mu.Unlock()
	if err := nd.file.Truncate(newSize); err != nil {
		return webdbcore.IoError(err, "truncate %q to %d", nd.path, newSize)
	}
	return nil
}

func (n *NativeRuntime) LastModified(_ context.Context, _ *Context, d Descriptor) (int64, error) {
	nd := d.(*nativeDescriptor)
	nd.mu.RLock()
	defer nd.mu.RUnlock()
	info, err := nd.file.Stat()
	if err != nil {
		return 0, webdbcore.IoError(err, "stat %q", nd.path)
	}
	return info.ModTime().UnixMilli(), nil
}

func (n *NativeRuntime) Read(_ context.Context, _ *Context, d Descriptor, buf []byte, offset int64) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	nd := d.(*nativeDescriptor)
	nd.mu.RLock()
	defer nd.mu.RUnlock()
	nr, err := nd.file.ReadAt(buf, offset)
	if err != nil && nr == 0 {
		// EOF with zero bytes read is not an error at this layer; callers
		// (readahead, pagebuffer) decide what a short read means.
		if err.Error() == "EOF" {
			return 0, nil
		}
		return 0, webdbcore.IoError(err, "read %q at %d", nd.path, offset)
	}
	return nr, nil
}

func (n *NativeRuntime) Write(_ context.Context, _ *Context, d Descriptor, buf []byte, offset int64) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	nd := d.(*nativeDescriptor)
	nd.mu.Lock()
	defer nd.mu.Unlock()
	nw, err := nd.file.WriteAt(buf, offset)
	if err != nil {
		return nw, webdbcore.IoError(err, "write %q at %d", nd.path, offset)
	}
	return nw, nil
}

func (n *NativeRuntime) Mkdir(_ context.Context, _ *Context, path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return webdbcore.IoError(err, "mkdir %q", path)
	}
	return nil
}

func (n *NativeRuntime) Rmdir(_ context.Context, _ *Context, path string) error {
	if err := os.RemoveAll(path); err != nil {
		return webdbcore.IoError(err, "rmdir %q", path)
	}
	return nil
}

func (n *NativeRuntime) Exists(_ context.Context, _ *Context, path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, webdbcore.IoError(err, "stat %q", path)
	}
	return info.IsDir(), nil
}

func (n *NativeRuntime) ListFiles(_ context.Context, _ *Context, path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, webdbcore.IoError(err, "readdir %q", path)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (n *NativeRuntime) Glob(_ context.Context, hctx *Context, pattern string) ([]string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, webdbcore.Invalid("bad glob pattern %q: %v", pattern, err)
	}
	sort.Strings(matches)
	hctx.GlobResults = append(hctx.GlobResults, matches...)
	return matches, nil
}

func (n *NativeRuntime) Move(_ context.Context, _ *Context, from, to string) error {
	if err := os.Rename(from, to); err != nil {
		return webdbcore.IoError(err, "move %q to %q", from, to)
	}
	return nil
}

func (n *NativeRuntime) FileExists(_ context.Context, _ *Context, path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
