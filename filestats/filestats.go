// Package filestats implements the per-file page access histogram (C6):
// counts of cold reads, cached reads, and writes per page, exportable in a
// stable binary layout.
package filestats

import (
	"encoding/binary"
	"sync"
)

const (
	exportMagic   uint32 = 0x57444253 // "WDBS"
	exportVersion uint16 = 1
)

// PageCounters holds the three counters the data model assigns to a page.
type PageCounters struct {
	ReadsCold   uint32
	ReadsCached uint32
	Writes      uint32
}

// Collector is a per-file statistics collector, sized to
// ceil(file_size/PageSize) pages, resizable on truncate/grow without
// losing counts for pages that remain in range.
type Collector struct {
	mu       sync.Mutex
	pageSize uint64
	pages    []PageCounters
}

// NewCollector returns a Collector sized for a file of fileSize bytes.
func NewCollector(pageSize uint64, fileSize uint64) *Collector {
	c := &Collector{pageSize: pageSize}
	c.resizeLocked(fileSize)
	return c
}

func (c *Collector) pageCount(fileSize uint64) int {
	if fileSize == 0 {
		return 0
	}
	return int((fileSize + c.pageSize - 1) / c.pageSize)
}

// Resize reshapes the page table for a new file size, preserving counts for
// pages that remain in range and zeroing any newly added pages.
func (c *Collector) Resize(newSize uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resizeLocked(newSize)
}

func (c *Collector) resizeLocked(newSize uint64) {
	n := c.pageCount(newSize)
	if n == len(c.pages) {
		return
	}
	grown := make([]PageCounters, n)
	copy(grown, c.pages)
	c.pages = grown
}

func (c *Collector) forEachPage(offset, length uint64, fn func(idx int)) {
	if length == 0 || c.pageSize == 0 {
		return
	}
	first := offset / c.pageSize
	last := (offset + length - 1) / c.pageSize
	for p := first; p <= last; p++ {
		if int(p) >= len(c.pages) {
			break
		}
		fn(int(p))
	}
}

// RecordCold marks a byte range as served by a cold (host) read.
func (c *Collector) RecordCold(offset, length uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forEachPage(offset, length, func(i int) { c.pages[i].ReadsCold++ })
}

// RecordCached marks a byte range as served from an in-memory cache.
func (c *Collector) RecordCached(offset, length uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forEachPage(offset, length, func(i int) { c.pages[i].ReadsCached++ })
}

// RecordWrite marks a byte range as written.
func (c *Collector) RecordWrite(offset, length uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forEachPage(offset, length, func(i int) { c.pages[i].Writes++ })
}

// Export serializes the counters in the stable binary layout:
// magic(4) || version(u16) || page_size(u32) || n_pages(u64) || triples[...]
func (c *Collector) Export() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	buf := make([]byte, 4+2+4+8+len(c.pages)*12)
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], exportMagic)
	off += 4
	binary.LittleEndian.PutUint16(buf[off:], exportVersion)
	off += 2
	binary.LittleEndian.PutUint32(buf[off:], uint32(c.pageSize))
	off += 4
	binary.LittleEndian.PutUint64(buf[off:], uint64(len(c.pages)))
	off += 8
	for _, p := range c.pages {
		binary.LittleEndian.PutUint32(buf[off:], p.ReadsCold)
		off += 4
		binary.LittleEndian.PutUint32(buf[off:], p.ReadsCached)
		off += 4
		binary.LittleEndian.PutUint32(buf[off:], p.Writes)
		off += 4
	}
	return buf
}

// Registry maps registered file paths to their (possibly nil-disabled)
// statistics collectors (§4.6's enable_collector/CollectFileStatistics).
type Registry struct {
	mu         sync.Mutex
	pageSize   uint64
	collectors map[string]*Collector
}

// NewRegistry returns an empty Registry using pageSize for new collectors.
func NewRegistry(pageSize uint64) *Registry {
	return &Registry{pageSize: pageSize, collectors: make(map[string]*Collector)}
}

// Enable is idempotent: enabling an already-enabled path returns the
// existing collector; disabling returns nil and drops it.
func (r *Registry) Enable(path string, enable bool, fileSize uint64) *Collector {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !enable {
		delete(r.collectors, path)
		return nil
	}
	if c, ok := r.collectors[path]; ok {
		return c
	}
	c := NewCollector(r.pageSize, fileSize)
	r.collectors[path] = c
	return c
}

// Get returns the collector for path, or nil if statistics aren't enabled
// for it.
func (r *Registry) Get(path string) *Collector {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.collectors[path]
}
