// Package cache implements the track-level write-back cache fronting a
// disk image: a fixed number of track slots, an assignment algorithm that
// evicts the least-recently-touched slot, and maximal-run positioned
// writes on save.
//
// Modeled in the teacher's style (small struct, explicit fixed-capacity
// slice, methods returning (..., error), doc comments only on exported
// entry points) since the teacher itself has no analogue of a write-back
// cache — see pkg/locking/range.go for the density this mirrors.
package cache

import (
	"errors"

	"github.com/scsiemu/scsiemu/fileio"
)

// BlocksPerTrack is the fixed number of logical blocks grouped per cache
// slot.
const BlocksPerTrack = 32

// rawSectorStride is the frame-to-frame distance of a RAW CD-ROM sector's
// user-data field.
const rawSectorStride = 0x930

// rawSectorOffset is the offset of the user-data field within a RAW frame.
const rawSectorOffset = 0x10

var (
	ErrNotLoaded   = errors.New("cache: track not loaded")
	ErrRawReadOnly = errors.New("cache: raw track does not accept writes")
)

// track holds one cache slot's state: which disk track it mirrors, its
// sector buffer, a per-sector dirty bitmap, and the serial used by the
// cache's eviction algorithm.
type track struct {
	index     int64 // disk track number; -1 means the slot is empty
	sectorExp uint
	blocks    int // number of valid blocks in this track (< BlocksPerTrack only for the last track)
	raw       bool
	buf       []byte
	dirty     []bool
	changed   bool
	serial    uint32
}

func newTrack() *track {
	return &track{index: -1}
}

func (t *track) sectorSize() int { return 1 << t.sectorExp }

// load (re)populates the track buffer from file for disk track index,
// which holds blocks logical blocks (normally BlocksPerTrack, fewer for
// a short final track). The buffer is reallocated when its size disagrees
// with the previous load, per the track-load rule.
func (t *track) load(f fileio.File, imageOffset int64, sectorExp uint, raw bool, index int64, blocks int) error {
	size := blocks << sectorExp
	if len(t.buf) != size {
		t.buf = make([]byte, size)
		t.dirty = make([]bool, blocks)
	} else {
		for i := range t.dirty {
			t.dirty[i] = false
		}
	}
	t.index = index
	t.sectorExp = sectorExp
	t.raw = raw
	t.blocks = blocks
	t.changed = false

	sectorSize := 1 << sectorExp
	if !raw {
		base := index*BlocksPerTrack<<sectorExp + imageOffset
		if err := f.Seek(base); err != nil {
			return err
		}
		if _, err := f.Read(t.buf); err != nil {
			return err
		}
		return nil
	}

	base := index*BlocksPerTrack*rawSectorStride + imageOffset + rawSectorOffset
	for i := 0; i < blocks; i++ {
		pos := base + int64(i)*rawSectorStride
		if err := f.Seek(pos); err != nil {
			return err
		}
		if _, err := f.Read(t.buf[i*sectorSize : (i+1)*sectorSize]); err != nil {
			return err
		}
	}
	return nil
}

// readBlock copies this track's copy of block-within-track n into buf.
func (t *track) readBlock(buf []byte, n int) error {
	if t.index < 0 {
		return ErrNotLoaded
	}
	sz := t.sectorSize()
	copy(buf, t.buf[n*sz:(n+1)*sz])
	return nil
}

// writeBlock stores buf as block-within-track n. If the incoming bytes
// match what is already there, the call is a no-op; otherwise the bytes
// are copied in, the sector's dirty bit is set, and the track is marked
// changed.
func (t *track) writeBlock(buf []byte, n int) error {
	if t.index < 0 {
		return ErrNotLoaded
	}
	if t.raw {
		return ErrRawReadOnly
	}
	sz := t.sectorSize()
	existing := t.buf[n*sz : (n+1)*sz]
	same := true
	for i := range existing {
		if existing[i] != buf[i] {
			same = false
			break
		}
	}
	if same {
		return nil
	}
	copy(existing, buf)
	t.dirty[n] = true
	t.changed = true
	return nil
}

// save writes back every maximal run of consecutive dirty sectors as one
// positioned write. Raw tracks are never saved. A no-op if the track was
// never marked changed.
func (t *track) save(f fileio.File, imageOffset int64) error {
	if t.raw || !t.changed || t.index < 0 {
		return nil
	}
	sz := t.sectorSize()
	base := t.index*BlocksPerTrack<<t.sectorExp + imageOffset

	i := 0
	for i < t.blocks {
		if !t.dirty[i] {
			i++
			continue
		}
		runStart := i
		for i < t.blocks && t.dirty[i] {
			i++
		}
		runLen := i - runStart
		pos := base + int64(runStart*sz)
		if err := f.Seek(pos); err != nil {
			return err
		}
		if _, err := f.Write(t.buf[runStart*sz : (runStart+runLen)*sz]); err != nil {
			return err
		}
		for j := runStart; j < runStart+runLen; j++ {
			t.dirty[j] = false
		}
	}
	t.changed = false
	return nil
}
