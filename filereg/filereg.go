// Package filereg implements the virtual file registry (C3): the mapping
// from logical file names to WebFile records, id allocation, and protocol
// inference.
package filereg

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/rs/zerolog/log"

	webdbcore "github.com/duckdb-wasm-go/webdbcore"
	"github.com/duckdb-wasm-go/webdbcore/databuf"
	"github.com/duckdb-wasm-go/webdbcore/hostrt"
	"github.com/duckdb-wasm-go/webdbcore/readahead"
	"github.com/duckdb-wasm-go/webdbcore/webfile"
)

// Registry owns files_by_id and files_by_name under a single non-reentrant
// mutex, matching the teacher's single-mutex bufferpool/disk-manager style.
type Registry struct {
	mu        sync.Mutex
	byID      map[webfile.FileID]*webfile.WebFile
	byName    map[string]*webfile.WebFile
	nextID    webfile.FileID
	runtime   hostrt.Runtime
	raReg     *readahead.Registry

	// accel is a soft, non-authoritative lookup accelerator for read-mostly
	// file_info/glob workloads (SPEC_FULL.md §4.3 [FULL]). It is never
	// consulted for anything that must be exact — see FileInfoByName, which
	// always reads byName under mu.
	accel *ristretto.Cache[string, *webfile.WebFile]
}

// New returns an empty Registry backed by runtime for host operations.
func New(runtime hostrt.Runtime, raReg *readahead.Registry) *Registry {
	accel, err := ristretto.NewCache(&ristretto.Config[string, *webfile.WebFile]{
		NumCounters: 1e4,
		MaxCost:     1 << 16,
		BufferItems: 64,
	})
	if err != nil {
		// The accelerator is an optimization, not a correctness
		// requirement; degrade to "no cache" rather than fail Registry
		// construction over it.
		accel = nil
	}
	return &Registry{
		byID:    make(map[webfile.FileID]*webfile.WebFile),
		byName:  make(map[string]*webfile.WebFile),
		nextID:  1,
		runtime: runtime,
		raReg:   raReg,
		accel:   accel,
	}
}

// InferProtocol implements §4.3's protocol inference from a URL string.
func InferProtocol(url string) webfile.Protocol {
	switch {
	case strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
		return webfile.HTTP
	default:
		return webfile.Native
	}
}

func stripNativePrefix(url string) string {
	return strings.TrimPrefix(url, "file://")
}

func (r *Registry) invalidateAccel(name string) {
	if r.accel != nil {
		r.accel.Del(name)
	}
}

// RegisterURL implements §4.3's register_url: reuse on an exact url match,
// AlreadyRegistered on a name collision with a different url, else allocate
// a fresh WebFile.
func (r *Registry) RegisterURL(ctx context.Context, hctx *hostrt.Context, name, url string, size *uint64) (*webfile.WebFileHandle, error) {
	protocol := InferProtocol(url)
	dataURL := url
	if protocol == webfile.Native {
		dataURL = stripNativePrefix(url)
	}

	r.mu.Lock()
	if existing, ok := r.byName[name]; ok {
		if existing.DataURL != dataURL {
			r.mu.Unlock()
			return nil, webdbcore.AlreadyRegistered(name)
		}
		h := webfile.NewHandle(existing, r.runtime, hctx, r.unregisterIfDangling, r.raReg)
		r.mu.Unlock()
		return h, nil
	}

	f := &webfile.WebFile{
		ID:       r.nextID,
		Name:     name,
		Protocol: protocol,
		DataURL:  dataURL,
	}
	if size != nil {
		f.SetFileSize(*size)
	}
	r.nextID++
	r.byID[f.ID] = f
	r.byName[name] = f
	r.invalidateAccel(name)
	r.mu.Unlock()

	if r.runtime != nil && url != "" {
		// §4.4 steps 3-4: open the host source outside fs_mutex and attach
		// the descriptor, promoting to BUFFER if the host had to read the
		// whole source inline (e.g. a range-incapable HTTP endpoint).
		d, res, err := r.runtime.Open(ctx, hctx, url)
		if err != nil {
			r.mu.Lock()
			delete(r.byID, f.ID)
			delete(r.byName, name)
			r.invalidateAccel(name)
			r.mu.Unlock()
			return nil, err
		}
		f.AttachHostDescriptor(d, res)
	}

	return webfile.NewHandle(f, r.runtime, hctx, r.unregisterIfDangling, r.raReg), nil
}

// RegisterBuffer implements §4.3's register_buffer: replaces contents of an
// existing file (switching its protocol to BUFFER) or creates a new one.
func (r *Registry) RegisterBuffer(ctx context.Context, hctx *hostrt.Context, name string, data []byte) (*webfile.WebFileHandle, error) {
	r.mu.Lock()
	existing, had := r.byName[name]
	r.mu.Unlock()

	if had {
		existing.FileLock.Lock()
		hadHostSource := existing.Protocol == webfile.Native || existing.Protocol == webfile.HTTP
		existing.Protocol = webfile.Buffer
		existing.DataBuffer = databuf.NewFromBytes(data)
		existing.SetFileSize(uint64(len(data)))
		existing.FileLock.Unlock()

		if hadHostSource {
			// Close the underlying host handle after releasing fs_mutex
			// (already released above) — §4.3's replace semantics.
			if d := existing.DetachHostDescriptor(); d != nil && r.runtime != nil {
				_ = r.runtime.Close(ctx, hctx, d)
			}
		}
		if r.raReg != nil {
			r.raReg.InvalidateFile(uint64(existing.ID))
		}
		r.invalidateAccel(name)
		return webfile.NewHandle(existing, r.runtime, hctx, r.unregisterIfDangling, r.raReg), nil
	}

	r.mu.Lock()
	f := &webfile.WebFile{
		ID:         r.nextID,
		Name:       name,
		Protocol:   webfile.Buffer,
		DataBuffer: databuf.NewFromBytes(data),
	}
	f.SetFileSize(uint64(len(data)))
	r.nextID++
	r.byID[f.ID] = f
	r.byName[name] = f
	r.invalidateAccel(name)
	r.mu.Unlock()

	return webfile.NewHandle(f, r.runtime, hctx, r.unregisterIfDangling, r.raReg), nil
}

// TryDrop removes name iff its handle_count is zero; returns false without
// error otherwise (§4.3's try_drop).
func (r *Registry) TryDrop(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.byName[name]
	if !ok {
		return false
	}
	if f.HandleCount() > 0 {
		return false
	}
	delete(r.byName, name)
	delete(r.byID, f.ID)
	r.invalidateAccel(name)
	return true
}

// DropDangling removes every file with handle_count == 0.
func (r *Registry) DropDangling() {
	r.mu.Lock()
	defer r.mu.Unlock()
	dropped := 0
	for name, f := range r.byName {
		if f.HandleCount() == 0 {
			delete(r.byName, name)
			delete(r.byID, f.ID)
			r.invalidateAccel(name)
			dropped++
		}
	}
	if dropped > 0 {
		log.Debug().Int("dropped", dropped).Msg("filereg: swept dangling files")
	}
}

// unregisterIfDangling is the callback WebFileHandle.Close invokes once a
// file's handle count reaches zero (§4.4's close flow step 5).
func (r *Registry) unregisterIfDangling(f *webfile.WebFile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f.HandleCount() != 0 {
		return
	}
	if cur, ok := r.byName[f.Name]; ok && cur == f {
		delete(r.byName, f.Name)
		delete(r.byID, f.ID)
		r.invalidateAccel(f.Name)
	}
}

// HandleByID returns a fresh handle over an already-registered file, for
// callers (bufferedfs's page-buffer backend) that only know the numeric id.
func (r *Registry) HandleByID(id webfile.FileID, hctx *hostrt.Context) (*webfile.WebFileHandle, error) {
	r.mu.Lock()
	f, ok := r.byID[id]
	r.mu.Unlock()
	if !ok {
		return nil, webdbcore.KeyErr("unknown file id %d", id)
	}
	return webfile.NewHandle(f, r.runtime, hctx, r.unregisterIfDangling, r.raReg), nil
}

// SetFD sets a prebound native descriptor id on fileID.
func (r *Registry) SetFD(fileID webfile.FileID, fd uint32) error {
	r.mu.Lock()
	f, ok := r.byID[fileID]
	r.mu.Unlock()
	if !ok {
		return webdbcore.KeyErr("unknown file id %d", fileID)
	}
	f.FileLock.Lock()
	f.DataFD = fd
	f.HasDataFD = true
	f.FileLock.Unlock()
	return nil
}

// FileInfo is the JSON shape from §6.
type FileInfo struct {
	FileID             uint32  `json:"fileId"`
	FileName           string  `json:"fileName"`
	FileSize           float64 `json:"fileSize"`
	DataProtocol       int     `json:"dataProtocol"`
	DataURL            *string `json:"dataUrl,omitempty"`
	DataNativeFd       *uint32 `json:"dataNativeFd,omitempty"`
	AllowFullHTTPReads *bool   `json:"allowFullHttpReads,omitempty"`
}

func infoFor(f *webfile.WebFile) FileInfo {
	info := FileInfo{
		FileID:       uint32(f.ID),
		FileName:     f.Name,
		FileSize:     float64(f.FileSize()),
		DataProtocol: int(f.Protocol),
	}
	if f.DataURL != "" {
		u := f.DataURL
		info.DataURL = &u
	}
	if f.HasDataFD {
		fd := f.DataFD
		info.DataNativeFd = &fd
	}
	return info
}

// ResolveID looks up the file id registered under name. This is the hot,
// read-mostly path the soft accelerator (§4.3 [FULL]) targets: a cache hit
// skips fs_mutex entirely, and a stale hit is harmless since invalidateAccel
// drops the entry the moment name stops resolving to it.
func (r *Registry) ResolveID(name string) (webfile.FileID, error) {
	if r.accel != nil {
		if f, ok := r.accel.Get(name); ok {
			return f.ID, nil
		}
	}
	r.mu.Lock()
	f, ok := r.byName[name]
	r.mu.Unlock()
	if !ok {
		return 0, webdbcore.Invalid("file %q is not registered", name)
	}
	if r.accel != nil {
		r.accel.Set(name, f, 1)
	}
	return f.ID, nil
}

// FileInfoByName always consults the authoritative map, never the
// accelerator, since callers may rely on FileSize being current.
func (r *Registry) FileInfoByName(name string) ([]byte, error) {
	r.mu.Lock()
	f, ok := r.byName[name]
	r.mu.Unlock()
	if !ok {
		return nil, webdbcore.Invalid("file %q is not registered", name)
	}
	return json.Marshal(infoFor(f))
}

// FileInfoByID looks up by id, populating the soft accelerator on hit so
// repeated lookups of a hot, unchanged file skip the map+mutex.
func (r *Registry) FileInfoByID(id webfile.FileID) ([]byte, error) {
	r.mu.Lock()
	f, ok := r.byID[id]
	r.mu.Unlock()
	if !ok {
		return nil, webdbcore.KeyErr("unknown file id %d", id)
	}
	if r.accel != nil {
		r.accel.Set(f.Name, f, 1)
	}
	return json.Marshal(infoFor(f))
}

// Glob matches in-memory names by pattern (glob-to-regex, anchored), unions
// with host-runtime glob results, sorts and dedupes (§4.3's glob).
func (r *Registry) Glob(ctx context.Context, hctx *hostrt.Context, pattern string) ([]string, error) {
	re, err := globToRegexp(pattern)
	if err != nil {
		return nil, webdbcore.Invalid("bad glob pattern %q: %v", pattern, err)
	}

	r.mu.Lock()
	var inMemory []string
	for name := range r.byName {
		if re.MatchString(name) {
			inMemory = append(inMemory, name)
		}
	}
	r.mu.Unlock()

	var hostMatches []string
	if r.runtime != nil {
		hostMatches, _ = r.runtime.Glob(ctx, hctx, pattern)
	}

	seen := make(map[string]struct{}, len(inMemory)+len(hostMatches))
	all := make([]string, 0, len(inMemory)+len(hostMatches))
	for _, n := range append(inMemory, hostMatches...) {
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		all = append(all, n)
	}
	sort.Strings(all)
	return all, nil
}

func globToRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteByte('^')
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteByte('$')
	return regexp.Compile(b.String())
}
