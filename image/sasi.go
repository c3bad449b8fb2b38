package image

import (
	"github.com/scsiemu/scsiemu/fileio"
	"github.com/scsiemu/scsiemu/scsi"
)

const sasiSectorBytes = 256

// openSASI accepts files whose size is a multiple of 256 bytes and at
// least 10 MiB, plus one fixed exception: a 22,437,888-byte image uses a
// 1024-byte sector instead.
func openSASI(path string, f fileio.File) (Image, error) {
	if err := f.Open(path, fileModeFor(path)); err != nil {
		return nil, err
	}
	size, err := f.Size()
	if err != nil {
		return nil, err
	}

	b := &base{
		kind:       scsi.MediaSASI,
		path:       path,
		file:       f,
		vendor:     "RASCSI",
		product:    "SASI HD",
		revision:   revisionFromVersion(BuildVersion),
		devType:    0x00,
		shortSense: true, // SASI responses are short-form (non-extended)
	}

	if size == 22437888 {
		b.sectorSizeExp = 10
		b.blocks = uint64(size) / 1024
		return b, nil
	}

	if size%sasiSectorBytes != 0 {
		return nil, ErrImageSizeMismatch
	}
	if size < 10*MiB {
		return nil, ErrImageTooSmall
	}
	b.sectorSizeExp = 8
	b.blocks = uint64(size) / sasiSectorBytes
	return b, nil
}
