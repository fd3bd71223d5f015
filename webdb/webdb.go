// Package webdb is the facade (C9) a host embeds: one WebDB per database,
// any number of Connections against it, and the file-registration, file
// statistics and flush operations that sit above the buffered filesystem
// rather than inside any one connection.
package webdb

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	webdbcore "github.com/duckdb-wasm-go/webdbcore"
	"github.com/duckdb-wasm-go/webdbcore/engine"
	"github.com/duckdb-wasm-go/webdbcore/hostrt"
	"github.com/duckdb-wasm-go/webdbcore/webfile"
)

// WebDB owns one engine (and therefore one bufferedfs.Filesystem) plus the
// bookkeeping the facade layer adds on top: pinned files and live
// connections. A zero-length or ":memory:" Config.Path runs against a
// throwaway directory that behaves like an in-memory database for as long
// as the process lives; anything else is treated as a durable path.
type WebDB struct {
	config Config
	eng    *engine.Engine
	hctx   *hostrt.Context

	mu     sync.Mutex
	pinned map[string]*webfile.WebFileHandle
	conns  map[uuid.UUID]*Connection
}

// Open parses configJSON and constructs a WebDB rooted at its path (or a
// scratch directory for in-memory mode).
func Open(ctx context.Context, configJSON []byte) (*WebDB, error) {
	cfg, err := parseConfig(configJSON)
	if err != nil {
		return nil, webdbcore.Invalid("bad config: %v", err)
	}

	dir := cfg.Path
	if cfg.isMemory() {
		dir, err = os.MkdirTemp("", "webdb-mem-*")
		if err != nil {
			return nil, webdbcore.IoError(err, "allocating in-memory store")
		}
	}

	eng, err := engine.Open(ctx, dir, hostrt.NewNativeRuntime())
	if err != nil {
		return nil, err
	}

	return &WebDB{
		config: cfg,
		eng:    eng,
		hctx:   hostrt.NewContext(),
		pinned: make(map[string]*webfile.WebFileHandle),
		conns:  make(map[uuid.UUID]*Connection),
	}, nil
}

// Reset drops every pinned file and re-opens the engine against the same
// configuration, as if the process had just started.
func (db *WebDB) Reset(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for name, h := range db.pinned {
		_ = h.Close(ctx)
		delete(db.pinned, name)
	}
	db.conns = make(map[uuid.UUID]*Connection)

	dir := db.config.Path
	if db.config.isMemory() {
		var err error
		dir, err = os.MkdirTemp("", "webdb-mem-*")
		if err != nil {
			return webdbcore.IoError(err, "allocating in-memory store")
		}
	}
	eng, err := engine.Open(ctx, dir, hostrt.NewNativeRuntime())
	if err != nil {
		return err
	}
	db.eng = eng
	return nil
}

// Connect allocates a new Connection bound to this database.
func (db *WebDB) Connect() *Connection {
	db.mu.Lock()
	defer db.mu.Unlock()
	id := uuid.New()
	c := newConnection(id, db)
	db.conns[id] = c
	log.Debug().Str("connection", id.String()).Int("live", len(db.conns)).Msg("webdb: connection opened")
	return c
}

// Disconnect drops a connection's server-side state.
func (db *WebDB) Disconnect(id uuid.UUID) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.conns, id)
	log.Debug().Str("connection", id.String()).Int("live", len(db.conns)).Msg("webdb: connection closed")
}

func (db *WebDB) emitBigint() bool { return db.config.EmitBigint }

// RegisterFileURL pins name to url, refusing to replace a still-buffered
// prior registration under the same name (§4.10's re-registration flow).
func (db *WebDB) RegisterFileURL(ctx context.Context, name, url string, size *uint64) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.unpinLocked(ctx, name); err != nil {
		return err
	}
	h, err := db.eng.Filesystem().Registry.RegisterURL(ctx, db.hctx, name, url, size)
	if err != nil {
		return err
	}
	db.pinned[name] = h
	return nil
}

// RegisterFileBuffer pins name to an in-memory buffer.
func (db *WebDB) RegisterFileBuffer(ctx context.Context, name string, data []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.unpinLocked(ctx, name); err != nil {
		return err
	}
	h, err := db.eng.Filesystem().Registry.RegisterBuffer(ctx, db.hctx, name, data)
	if err != nil {
		return err
	}
	db.pinned[name] = h
	return nil
}

func (db *WebDB) unpinLocked(ctx context.Context, name string) error {
	existing, ok := db.pinned[name]
	if !ok {
		return nil
	}
	id, err := db.eng.Filesystem().Registry.ResolveID(name)
	if err == nil && !db.eng.Filesystem().TryDropFile(id) {
		return webdbcore.Invalid("File is already registered and is still buffered")
	}
	_ = existing.Close(ctx)
	delete(db.pinned, name)
	return nil
}

// DropFile unpins name (if pinned) and removes it from the registry iff
// nothing else holds it open.
func (db *WebDB) DropFile(ctx context.Context, name string) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	if h, ok := db.pinned[name]; ok {
		_ = h.Close(ctx)
		delete(db.pinned, name)
	}
	return db.eng.Filesystem().Registry.TryDrop(name)
}

// DropFiles unpins and attempts to drop every currently pinned file.
func (db *WebDB) DropFiles(ctx context.Context) {
	db.mu.Lock()
	names := make([]string, 0, len(db.pinned))
	for name := range db.pinned {
		names = append(names, name)
	}
	db.mu.Unlock()
	for _, name := range names {
		db.DropFile(ctx, name)
	}
}

// GetFileInfo returns the FileInfo JSON blob for a single registered file.
func (db *WebDB) GetFileInfo(name string) ([]byte, error) {
	return db.eng.Filesystem().Registry.FileInfoByName(name)
}

// GlobFileInfos matches pattern against every registered (and host-visible)
// file name and returns the FileInfo blob for each match.
func (db *WebDB) GlobFileInfos(ctx context.Context, pattern string) ([][]byte, error) {
	names, err := db.eng.Filesystem().Registry.Glob(ctx, db.hctx, pattern)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(names))
	for _, n := range names {
		info, err := db.eng.Filesystem().Registry.FileInfoByName(n)
		if err != nil {
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

// SetFileDescriptor prebinds a native descriptor id for an already
// registered file, matching the host runtime ABI's set_file_descriptor.
func (db *WebDB) SetFileDescriptor(name string, fd uint32) error {
	id, err := db.eng.Filesystem().Registry.ResolveID(name)
	if err != nil {
		return err
	}
	return db.eng.Filesystem().Registry.SetFD(id, fd)
}

// CollectFileStatistics turns page-access accounting on or off for name.
func (db *WebDB) CollectFileStatistics(name string, enable bool) error {
	info, err := db.eng.Filesystem().Registry.FileInfoByName(name)
	if err != nil {
		return err
	}
	var parsed struct {
		FileSize float64 `json:"fileSize"`
	}
	if err := json.Unmarshal(info, &parsed); err != nil {
		return webdbcore.Invalid("decoding file info for %q: %v", name, err)
	}
	db.eng.Filesystem().Stats.Enable(name, enable, uint64(parsed.FileSize))
	return nil
}

// ExportFileStatistics serializes the collected page counters for name in
// the §4.6 binary layout.
func (db *WebDB) ExportFileStatistics(name string) ([]byte, error) {
	c := db.eng.Filesystem().Stats.Get(name)
	if c == nil {
		return nil, webdbcore.Invalid("file statistics are not enabled for %q", name)
	}
	return c.Export(), nil
}

// CopyFileToBuffer reads the entirety of a registered file into memory.
func (db *WebDB) CopyFileToBuffer(ctx context.Context, name string) ([]byte, error) {
	id, err := db.eng.Filesystem().Registry.ResolveID(name)
	if err != nil {
		return nil, err
	}
	h, err := db.eng.Filesystem().Registry.HandleByID(id, db.hctx)
	if err != nil {
		return nil, err
	}
	defer h.Close(ctx)

	size := h.File.FileSize()
	buf := make([]byte, size)
	if size == 0 {
		return buf, nil
	}
	n, err := h.ReadAt(ctx, buf, 0)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// CopyFileToPath writes a registered file's contents to destPath on the
// host filesystem. The source implementation this facade descends from
// opens the *source* path a second time here, silently overwriting the
// wrong file when source and destination differ; this copies into destPath.
func (db *WebDB) CopyFileToPath(ctx context.Context, name, destPath string) error {
	data, err := db.CopyFileToBuffer(ctx, name)
	if err != nil {
		return err
	}
	if err := os.WriteFile(destPath, data, 0o644); err != nil {
		return webdbcore.IoError(err, "writing %q", destPath)
	}
	return nil
}

// FlushFile and FlushFiles push dirty buffered pages to the host runtime and
// sync the affected host descriptors.
func (db *WebDB) FlushFile(ctx context.Context, name string) error {
	return db.eng.Filesystem().FlushFile(ctx, name)
}
func (db *WebDB) FlushFiles(ctx context.Context) error { return db.eng.Filesystem().FlushFiles(ctx) }

// Tokenize exposes the SQL lexer for host-side syntax highlighting.
func (db *WebDB) Tokenize(sql string) ([]byte, error) {
	offsets, kinds := engine.Tokenize(sql)
	return json.Marshal(struct {
		Offsets []uint32 `json:"offsets"`
		Types   []uint8  `json:"types"`
	}{Offsets: offsets, Types: kinds})
}
