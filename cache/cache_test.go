package cache

import (
	"bytes"
	"testing"

	"github.com/scsiemu/scsiemu/fileio"
)

func newTestCache(blocks uint64) (*Cache, *fileio.FakeFile) {
	f := fileio.NewFakeFile(int64(blocks) * 512)
	return New(f, 0, 9, blocks), f
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	c, _ := newTestCache(100)
	want := bytes.Repeat([]byte{0xAB}, 512)
	if err := c.Write(want, 5); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got := make([]byte, 512)
	if err := c.Read(got, 5); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("round trip mismatch")
	}
}

func TestNoDuplicateSlotForSameTrack(t *testing.T) {
	c, _ := newTestCache(1000)
	buf := make([]byte, 512)
	for i := 0; i < 50; i++ {
		if err := c.Read(buf, uint64(i%BlocksPerTrack)); err != nil {
			t.Fatalf("Read: %v", err)
		}
	}
	occupied := 0
	for _, s := range c.slots {
		if s.index == 0 {
			occupied++
		}
	}
	if occupied != 1 {
		t.Fatalf("track 0 occupies %d slots, want 1", occupied)
	}
}

func TestIdenticalWriteDoesNotDirty(t *testing.T) {
	c, _ := newTestCache(100)
	buf := make([]byte, 512) // all zero, matches the fake file's zero-filled backing
	if err := c.Write(buf, 0); err != nil {
		t.Fatalf("Write: %v", err)
	}
	s, err := c.assign(0)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if s.changed {
		t.Errorf("track marked changed after writing identical content")
	}
}

func TestFlushThenFlushIsNoOp(t *testing.T) {
	c, f := newTestCache(100)
	buf := bytes.Repeat([]byte{0x42}, 512)
	if err := c.Write(buf, 0); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := c.Save(); err != nil {
		t.Fatalf("first Save: %v", err)
	}
	sizeBefore, _ := f.Size()
	if err := c.Save(); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	sizeAfter, _ := f.Size()
	if sizeBefore != sizeAfter {
		t.Errorf("second Save changed file size: %d -> %d", sizeBefore, sizeAfter)
	}
}

func TestEvictionReplacesLeastRecentlyUsedTrack(t *testing.T) {
	c, _ := newTestCache(uint64(SlotCount+1) * BlocksPerTrack)
	buf := make([]byte, 512)
	for i := 0; i <= SlotCount; i++ {
		block := uint64(i * BlocksPerTrack)
		if err := c.Read(buf, block); err != nil {
			t.Fatalf("Read track %d: %v", i, err)
		}
	}
	// The (SlotCount+1)th track access must have evicted the
	// least-recently-touched track (track 0) without error.
	var occupied int
	for _, s := range c.slots {
		if s.index >= 0 {
			occupied++
		}
	}
	if occupied != SlotCount {
		t.Fatalf("occupied slots = %d, want %d", occupied, SlotCount)
	}
	for i, s := range c.slots {
		if s.index == 0 {
			t.Fatalf("slot %d still holds track 0, want it evicted", i)
		}
	}
}

func TestRawTrackRejectsWrite(t *testing.T) {
	c, _ := newTestCache(1000)
	c.sectorExp = 11
	if err := c.SetRaw(true); err != nil {
		t.Fatalf("SetRaw: %v", err)
	}
	if err := c.Write(make([]byte, 2048), 0); err != ErrRawReadOnly {
		t.Fatalf("err = %v, want ErrRawReadOnly", err)
	}
}

func TestSetRawRequiresSectorExp11(t *testing.T) {
	c, _ := newTestCache(100)
	if err := c.SetRaw(true); err != ErrRawRequiresSectorExp11 {
		t.Fatalf("err = %v, want ErrRawRequiresSectorExp11", err)
	}
}
