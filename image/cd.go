package image

import (
	"github.com/scsiemu/scsiemu/fileio"
	"github.com/scsiemu/scsiemu/scsi"
)

const (
	cdFrameBytes  = 2352
	cdDataOffset  = 16
	cdSectorBytes = 2048
)

// cdSyncPattern is the 12-byte sync field every RAW CD-ROM sector starts
// with: 00h, ten FFh bytes, 00h.
var cdSyncPattern = [12]byte{0x00, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x00}

type cdImage struct {
	base
}

// openCDISO distinguishes a RAW image (2352-byte frames, sync-patterned)
// from a plain ISO (2048-byte sectors) by checking for the sync pattern
// at the start of the first frame. A RAW image's size must be an exact
// multiple of the frame size.
func openCDISO(path string, f fileio.File) (Image, error) {
	if err := f.Open(path, fileModeFor(path)); err != nil {
		return nil, err
	}
	size, err := f.Size()
	if err != nil {
		return nil, err
	}
	if size < cdFrameBytes {
		return nil, ErrImageTooSmall
	}

	head := make([]byte, 12)
	if err := f.Seek(0); err != nil {
		return nil, err
	}
	if _, err := f.Read(head); err != nil {
		return nil, ErrHeaderTooShort
	}

	raw := true
	for i, b := range head {
		if b != cdSyncPattern[i] {
			raw = false
			break
		}
	}

	var blocks uint64
	if raw {
		if size%cdFrameBytes != 0 {
			return nil, ErrImageSizeMismatch
		}
		blocks = uint64(size) / cdFrameBytes
	} else {
		if size%cdSectorBytes != 0 {
			return nil, ErrImageSizeMismatch
		}
		blocks = uint64(size) / cdSectorBytes
	}

	return &cdImage{base: base{
		kind:          scsi.MediaCD,
		sectorSizeExp: 11, // 2048-byte logical sectors regardless of RAW framing
		blocks:        blocks,
		rawCD:         raw,
		removable:     true,
		readOnly:      true,
		path:          path,
		file:          f,
		vendor:        "RASCSI",
		product:       "CD-ROM",
		revision:      revisionFromVersion(BuildVersion),
		devType:       0x05,
	}}, nil
}

// openEmptyCD models a drive with no disc loaded.
func openEmptyCD() Image {
	return &cdImage{base: base{
		kind:      scsi.MediaCD,
		removable: true,
		readOnly:  true,
		vendor:    "RASCSI",
		product:   "CD-ROM",
		revision:  revisionFromVersion(BuildVersion),
		devType:   0x05,
	}}
}
