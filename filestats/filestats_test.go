package filestats

import (
	"encoding/binary"
	"testing"
)

func TestRecordAndExportLayout(t *testing.T) {
	c := NewCollector(4096, 4096*3)
	c.RecordCold(0, 100)
	c.RecordCached(4096, 200)
	c.RecordWrite(8192, 10)

	blob := c.Export()
	if len(blob) != 4+2+4+8+3*12 {
		t.Fatalf("unexpected export length %d", len(blob))
	}
	if magic := binary.LittleEndian.Uint32(blob[0:4]); magic != exportMagic {
		t.Fatalf("bad magic %x", magic)
	}
	if version := binary.LittleEndian.Uint16(blob[4:6]); version != exportVersion {
		t.Fatalf("bad version %d", version)
	}
	if pageSize := binary.LittleEndian.Uint32(blob[6:10]); pageSize != 4096 {
		t.Fatalf("bad page size %d", pageSize)
	}
	if nPages := binary.LittleEndian.Uint64(blob[10:18]); nPages != 3 {
		t.Fatalf("bad page count %d", nPages)
	}

	page0 := blob[18:30]
	if cold := binary.LittleEndian.Uint32(page0[0:4]); cold != 1 {
		t.Fatalf("expected page 0 to record one cold read, got %d", cold)
	}
	page1 := blob[30:42]
	if cached := binary.LittleEndian.Uint32(page1[4:8]); cached != 1 {
		t.Fatalf("expected page 1 to record one cached read, got %d", cached)
	}
	page2 := blob[42:54]
	if writes := binary.LittleEndian.Uint32(page2[8:12]); writes != 1 {
		t.Fatalf("expected page 2 to record one write, got %d", writes)
	}
}

func TestResizePreservesInRangeCounts(t *testing.T) {
	c := NewCollector(4096, 4096*2)
	c.RecordCold(0, 10)
	c.Resize(4096 * 4)
	blob := c.Export()
	if nPages := binary.LittleEndian.Uint64(blob[10:18]); nPages != 4 {
		t.Fatalf("expected 4 pages after growing, got %d", nPages)
	}
	if cold := binary.LittleEndian.Uint32(blob[18:22]); cold != 1 {
		t.Fatalf("expected page 0's count to survive the resize, got %d", cold)
	}

	c.Resize(4096)
	blob2 := c.Export()
	if nPages := binary.LittleEndian.Uint64(blob2[10:18]); nPages != 1 {
		t.Fatalf("expected 1 page after shrinking, got %d", nPages)
	}
}

func TestSpanCrossingTwoPagesRecordsBoth(t *testing.T) {
	c := NewCollector(4096, 4096*2)
	c.RecordCold(4090, 20)
	blob := c.Export()
	if cold0 := binary.LittleEndian.Uint32(blob[18:22]); cold0 != 1 {
		t.Fatalf("expected page 0 to record the crossing read, got %d", cold0)
	}
	if cold1 := binary.LittleEndian.Uint32(blob[30:34]); cold1 != 1 {
		t.Fatalf("expected page 1 to record the crossing read, got %d", cold1)
	}
}

func TestRegistryEnableIsIdempotentAndDisableDrops(t *testing.T) {
	r := NewRegistry(4096)
	if r.Get("a") != nil {
		t.Fatalf("expected no collector before Enable")
	}
	c1 := r.Enable("a", true, 4096)
	c2 := r.Enable("a", true, 4096)
	if c1 != c2 {
		t.Fatalf("expected Enable to return the same collector on repeat calls")
	}
	r.Enable("a", false, 0)
	if r.Get("a") != nil {
		t.Fatalf("expected disable to drop the collector")
	}
}
