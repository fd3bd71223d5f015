package engine

import (
	"context"
	"encoding/binary"
	"fmt"

	webdbcore "github.com/duckdb-wasm-go/webdbcore"
	"github.com/duckdb-wasm-go/webdbcore/bufferedfs"
	"github.com/duckdb-wasm-go/webdbcore/hostrt"
)

// Slotted heap-page layout, carried over from the teacher's own heap-page
// package byte for byte: header fields packed at fixed offsets, records
// growing forward from the header, slot directory growing backward from
// the page's last byte.
//
//	Offset  Size  Field
//	0       8     LastAppliedLSN (unused here, kept for layout parity)
//	8       1     PageType
//	9       4     FileID
//	13      4     PageNo
//	17      2     RecordEndPtr
//	19      2     SlotRegionStart
//	21      2     NumRows
//	23      2     NumRowsFree
//	25      2     IsPageFull
//	27      2     SlotCount
//	29            heapHeaderSize
//
// A slot is 4 bytes: [Offset uint16][Length uint16]; slot i sits at
// heapPageSize - (i+1)*slotSize. The teacher's own generic page-size
// constant disagreed with this package's local header-size constant (32
// vs. 29) — this engine settles on 29, since that's the value the actual
// slot arithmetic here was built around.
const (
	heapOffLSN             = 0
	heapOffPageType        = 8
	heapOffFileID          = 9
	heapOffPageNo          = 13
	heapOffRecordEndPtr    = 17
	heapOffSlotRegionStart = 19
	heapOffNumRows         = 21
	heapOffNumRowsFree     = 23
	heapOffIsPageFull      = 25
	heapOffSlotCount       = 27

	heapHeaderSize = 29
	heapPageSize   = 4096
	slotSize       = 4
)

func initHeapPage(buf []byte, fileID uint32, pageNo uint32) {
	for i := range buf {
		buf[i] = 0
	}
	binary.LittleEndian.PutUint64(buf[heapOffLSN:], 0)
	buf[heapOffPageType] = 1
	binary.LittleEndian.PutUint32(buf[heapOffFileID:], fileID)
	binary.LittleEndian.PutUint32(buf[heapOffPageNo:], pageNo)
	binary.LittleEndian.PutUint16(buf[heapOffRecordEndPtr:], heapHeaderSize)
	binary.LittleEndian.PutUint16(buf[heapOffSlotRegionStart:], heapPageSize)
	binary.LittleEndian.PutUint16(buf[heapOffNumRows:], 0)
	binary.LittleEndian.PutUint16(buf[heapOffNumRowsFree:], 0)
	binary.LittleEndian.PutUint16(buf[heapOffIsPageFull:], 0)
	binary.LittleEndian.PutUint16(buf[heapOffSlotCount:], 0)
}

func getRecordEndPtr(buf []byte) uint16    { return binary.LittleEndian.Uint16(buf[heapOffRecordEndPtr:]) }
func setRecordEndPtr(buf []byte, v uint16) { binary.LittleEndian.PutUint16(buf[heapOffRecordEndPtr:], v) }

func getSlotRegionStart(buf []byte) uint16 {
	return binary.LittleEndian.Uint16(buf[heapOffSlotRegionStart:])
}
func setSlotRegionStart(buf []byte, v uint16) {
	binary.LittleEndian.PutUint16(buf[heapOffSlotRegionStart:], v)
}

func getNumRows(buf []byte) uint16    { return binary.LittleEndian.Uint16(buf[heapOffNumRows:]) }
func setNumRows(buf []byte, v uint16) { binary.LittleEndian.PutUint16(buf[heapOffNumRows:], v) }

func getNumRowsFree(buf []byte) uint16 { return binary.LittleEndian.Uint16(buf[heapOffNumRowsFree:]) }
func setNumRowsFree(buf []byte, v uint16) {
	binary.LittleEndian.PutUint16(buf[heapOffNumRowsFree:], v)
}

func setIsPageFull(buf []byte, full bool) {
	v := uint16(0)
	if full {
		v = 1
	}
	binary.LittleEndian.PutUint16(buf[heapOffIsPageFull:], v)
}

func getSlotCount(buf []byte) uint16    { return binary.LittleEndian.Uint16(buf[heapOffSlotCount:]) }
func setSlotCount(buf []byte, v uint16) { binary.LittleEndian.PutUint16(buf[heapOffSlotCount:], v) }

func slotAt(idx uint16) int { return heapPageSize - int(idx+1)*slotSize }

func readSlot(buf []byte, idx uint16) (offset, length uint16) {
	pos := slotAt(idx)
	return binary.LittleEndian.Uint16(buf[pos:]), binary.LittleEndian.Uint16(buf[pos+2:])
}

func writeSlot(buf []byte, idx uint16, offset, length uint16) {
	pos := slotAt(idx)
	binary.LittleEndian.PutUint16(buf[pos:], offset)
	binary.LittleEndian.PutUint16(buf[pos+2:], length)
}

func freeSpace(buf []byte) int {
	return int(getSlotRegionStart(buf)) - int(getRecordEndPtr(buf))
}

// insertRecord writes data into buf and returns its slot index, reusing a
// tombstoned slot when one exists.
func insertRecord(buf []byte, data []byte) (uint16, error) {
	recordLen := uint16(len(data))
	if recordLen == 0 {
		return 0, webdbcore.Invalid("cannot insert an empty record")
	}
	slotIdx := getSlotCount(buf)
	reused := false
	for i := uint16(0); i < getSlotCount(buf); i++ {
		if _, l := readSlot(buf, i); l == 0 {
			slotIdx = i
			reused = true
			break
		}
	}
	needed := int(recordLen)
	if !reused {
		needed += slotSize
	}
	if freeSpace(buf) < needed {
		return 0, webdbcore.Invalid("page full: need %d bytes, have %d", needed, freeSpace(buf))
	}

	recordOffset := getRecordEndPtr(buf)
	copy(buf[recordOffset:], data)
	setRecordEndPtr(buf, recordOffset+recordLen)
	writeSlot(buf, slotIdx, recordOffset, recordLen)

	if reused {
		setNumRowsFree(buf, getNumRowsFree(buf)-1)
	} else {
		setSlotRegionStart(buf, getSlotRegionStart(buf)-slotSize)
		setSlotCount(buf, getSlotCount(buf)+1)
	}
	setNumRows(buf, getNumRows(buf)+1)
	if freeSpace(buf) <= 0 {
		setIsPageFull(buf, true)
	}
	return slotIdx, nil
}

func getRecord(buf []byte, slotIdx uint16) ([]byte, bool) {
	if slotIdx >= getSlotCount(buf) {
		return nil, false
	}
	offset, length := readSlot(buf, slotIdx)
	if length == 0 {
		return nil, false
	}
	out := make([]byte, length)
	copy(out, buf[offset:offset+length])
	return out, true
}

// heapFile stores one table's rows as a sequence of fixed-size slotted
// pages behind a bufferedfs handle, so every byte a row ever touches routes
// through the page buffer (C7) the way SPEC_FULL.md's supplemented storage
// feature requires.
type heapFile struct {
	handle *bufferedfs.Handle
	fileID uint32
}

// openHeapFile opens (creating if missing) the native on-disk file backing
// one table's rows, named after its catalog-assigned heap file id so table
// renames never require moving row data.
func openHeapFile(ctx context.Context, fs *bufferedfs.Filesystem, hctx *hostrt.Context, root string, fileID uint32) (*heapFile, error) {
	name := fmt.Sprintf("heap-%d", fileID)
	url := fmt.Sprintf("file://%s/heap-%d.dat", root, fileID)
	h, err := fs.Open(ctx, hctx, name, url, 0, nil, false)
	if err != nil {
		return nil, err
	}
	return &heapFile{handle: h, fileID: fileID}, nil
}

func (hf *heapFile) pageCount() uint32 {
	return uint32(hf.handle.FileSize() / heapPageSize)
}

func (hf *heapFile) readPage(ctx context.Context, pageNo uint32) ([]byte, error) {
	buf := make([]byte, heapPageSize)
	if _, err := hf.handle.ReadAt(ctx, buf, uint64(pageNo)*heapPageSize); err != nil {
		return nil, err
	}
	return buf, nil
}

func (hf *heapFile) writePage(ctx context.Context, pageNo uint32, buf []byte) error {
	_, err := hf.handle.WriteAt(ctx, buf, uint64(pageNo)*heapPageSize)
	return err
}

// appendRow inserts data as a new record, allocating a fresh page when the
// current last page has no room, and returns the pointer identifying it.
func (hf *heapFile) appendRow(ctx context.Context, data []byte) (rowPointer, error) {
	pages := hf.pageCount()

	if pages > 0 {
		lastPage := pages - 1
		buf, err := hf.readPage(ctx, lastPage)
		if err != nil {
			return rowPointer{}, err
		}
		if freeSpace(buf) >= len(data)+slotSize {
			slot, err := insertRecord(buf, data)
			if err != nil {
				return rowPointer{}, err
			}
			if err := hf.writePage(ctx, lastPage, buf); err != nil {
				return rowPointer{}, err
			}
			return rowPointer{PageNo: lastPage, SlotIdx: slot}, nil
		}
	}

	buf := make([]byte, heapPageSize)
	initHeapPage(buf, hf.fileID, pages)
	slot, err := insertRecord(buf, data)
	if err != nil {
		return rowPointer{}, err
	}
	if err := hf.writePage(ctx, pages, buf); err != nil {
		return rowPointer{}, err
	}
	return rowPointer{PageNo: pages, SlotIdx: slot}, nil
}

// scan calls fn for every live record across every page, in page/slot order.
func (hf *heapFile) scan(ctx context.Context, fn func(rowPointer, []byte) error) error {
	pages := hf.pageCount()
	for pageNo := uint32(0); pageNo < pages; pageNo++ {
		buf, err := hf.readPage(ctx, pageNo)
		if err != nil {
			return err
		}
		count := getSlotCount(buf)
		for slot := uint16(0); slot < count; slot++ {
			rec, ok := getRecord(buf, slot)
			if !ok {
				continue
			}
			if err := fn(rowPointer{PageNo: pageNo, SlotIdx: slot}, rec); err != nil {
				return err
			}
		}
	}
	return nil
}

type rowPointer struct {
	PageNo  uint32
	SlotIdx uint16
}
