package lun

import "errors"

// CDROM wraps a LUN attached to a CD image, adding READ TOC.
type CDROM struct {
	*LUN
}

var ErrNotCDROM = errors.New("lun: not a CD-ROM")

const (
	tocADRAudio        = 0x10
	tocADRData         = 0x14
	tocLastTrackNumber = 0xaa
)

// msfFromLBA converts lba to (minute, second, frame) using base M=0,S=2,
// F=0 (i.e. lba+150 frames from the start of the disc).
func msfFromLBA(lba uint64) (m, s, f byte) {
	total := lba + 150
	f = byte(total % 75)
	s = byte((total / 75) % 60)
	m = byte(total / (75 * 60))
	return
}

// ReadTOC renders the track descriptor for trackNumber: a single data
// track spanning LBA 0..blocks-1, or (for track 0xAA, "lead-out") a
// record at last-LBA+1. msf selects MSF-form addressing (CDB byte 1 bit
// 0x02) instead of LBA.
func (c *CDROM) ReadTOC(trackNumber byte, msf bool) []byte {
	var start uint64
	if trackNumber == tocLastTrackNumber {
		start = c.Image.Blocks()
	}
	// Track 1 (or any other requested track number) is the single data
	// track starting at LBA 0; this emulator only ever creates one.

	buf := make([]byte, 8)
	buf[1] = tocADRData
	if trackNumber == tocLastTrackNumber {
		buf[2] = tocLastTrackNumber
	} else {
		buf[2] = 1
	}
	if msf {
		m, s, f := msfFromLBA(start)
		buf[5], buf[6], buf[7] = m, s, f
	} else {
		buf[4] = byte(start >> 24)
		buf[5] = byte(start >> 16)
		buf[6] = byte(start >> 8)
		buf[7] = byte(start)
	}
	return buf
}
