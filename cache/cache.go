package cache

import (
	"errors"

	"github.com/scsiemu/scsiemu/fileio"
)

// SlotCount is the number of track slots the cache holds simultaneously.
const SlotCount = 16

var ErrRawRequiresSectorExp11 = errors.New("cache: raw mode requires a sector size exponent of 11")

// Cache fronts a disk image with SlotCount track-sized write-back slots.
// Reads and writes resolve to a track, ensure it is loaded (assigning a
// slot per the eviction algorithm below), and delegate to it.
type Cache struct {
	file        fileio.File
	imageOffset int64
	sectorExp   uint
	totalBlocks uint64
	raw         bool

	slots  [SlotCount]*track
	serial uint32
}

// New constructs a Cache over file, whose logical blocks are sectorExp
// bytes each, totalBlocks of them, starting at imageOffset.
func New(file fileio.File, imageOffset int64, sectorExp uint, totalBlocks uint64) *Cache {
	c := &Cache{
		file:        file,
		imageOffset: imageOffset,
		sectorExp:   sectorExp,
		totalBlocks: totalBlocks,
	}
	for i := range c.slots {
		c.slots[i] = newTrack()
	}
	return c
}

// SetRaw toggles RAW framing, only permitted when the sector size
// exponent is 11 (2048-byte logical sectors over 2352-byte RAW frames).
func (c *Cache) SetRaw(raw bool) error {
	if raw && c.sectorExp != 11 {
		return ErrRawRequiresSectorExp11
	}
	c.raw = raw
	return nil
}

func (c *Cache) trackBlocks(t int64) int {
	start := uint64(t) * BlocksPerTrack
	remaining := c.totalBlocks - start
	if remaining > BlocksPerTrack {
		return BlocksPerTrack
	}
	return int(remaining)
}

// assign resolves track index t to a loaded slot, following the
// assignment algorithm: reuse if already resident, else an empty slot,
// else evict the slot with the smallest serial (saving it first if
// dirty). Every access bumps the cache's serial counter; on wraparound
// every slot serial resets to zero.
func (c *Cache) assign(t int64) (*track, error) {
	c.serial++
	if c.serial == 0 {
		for _, s := range c.slots {
			s.serial = 0
		}
		c.serial++
	}

	for _, s := range c.slots {
		if s.index == t {
			s.serial = c.serial
			return s, nil
		}
	}

	for _, s := range c.slots {
		if s.index < 0 {
			if err := s.load(c.file, c.imageOffset, c.sectorExp, c.raw, t, c.trackBlocks(t)); err != nil {
				return nil, err
			}
			s.serial = c.serial
			return s, nil
		}
	}

	victim := c.slots[0]
	for _, s := range c.slots[1:] {
		if s.serial < victim.serial {
			victim = s
		}
	}
	if err := victim.save(c.file, c.imageOffset); err != nil {
		return nil, err
	}
	if err := victim.load(c.file, c.imageOffset, c.sectorExp, c.raw, t, c.trackBlocks(t)); err != nil {
		return nil, err
	}
	victim.serial = c.serial
	return victim, nil
}

// Read loads logical block into buf.
func (c *Cache) Read(buf []byte, block uint64) error {
	t := int64(block / BlocksPerTrack)
	s, err := c.assign(t)
	if err != nil {
		return err
	}
	return s.readBlock(buf, int(block%BlocksPerTrack))
}

// Write stores buf as logical block. Raw-mode tracks reject writes.
func (c *Cache) Write(buf []byte, block uint64) error {
	t := int64(block / BlocksPerTrack)
	s, err := c.assign(t)
	if err != nil {
		return err
	}
	return s.writeBlock(buf, int(block%BlocksPerTrack))
}

// Save writes back every dirty track.
func (c *Cache) Save() error {
	for _, s := range c.slots {
		if err := s.save(c.file, c.imageOffset); err != nil {
			return err
		}
	}
	return nil
}

// Clear releases all tracks without saving.
func (c *Cache) Clear() {
	for _, s := range c.slots {
		s.index = -1
		s.changed = false
	}
}
