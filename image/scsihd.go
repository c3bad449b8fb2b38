package image

import (
	"github.com/scsiemu/scsiemu/fileio"
	"github.com/scsiemu/scsiemu/scsi"
)

const (
	scsiHDSectorBytes = 512
	scsiHDFloor       = 10 * MiB
	scsiHDCeiling     = 2 * 1024 * GiB // 2 TiB
)

// openSCSIHDGeneric accepts files whose size is a multiple of 512 bytes,
// at least 10 MiB and at most 2 TiB.
func openSCSIHDGeneric(path string, f fileio.File, apple bool) (Image, error) {
	if err := f.Open(path, fileModeFor(path)); err != nil {
		return nil, err
	}
	size, err := f.Size()
	if err != nil {
		return nil, err
	}
	if size%scsiHDSectorBytes != 0 {
		return nil, ErrImageSizeMismatch
	}
	if size < scsiHDFloor {
		return nil, ErrImageTooSmall
	}
	if size > scsiHDCeiling {
		return nil, ErrImageTooLarge
	}

	b := &base{
		kind:          scsi.MediaSCSIHD,
		sectorSizeExp: 9,
		blocks:        uint64(size) / scsiHDSectorBytes,
		path:          path,
		file:          f,
		revision:      revisionFromVersion(BuildVersion),
		devType:       0x00,
	}
	if apple {
		b.vendor = "SEAGATE"
		b.product = "ST225N"
	} else {
		b.vendor = "RASCSI"
		b.product = productWithCapacity("PRODRIVE LPS", size)
	}
	return b, nil
}

func openSCSIHDApple(path string, f fileio.File) (Image, error) {
	return openSCSIHDGeneric(path, f, true)
}

// productWithCapacity renders e.g. "PRODRIVE LPS20" for a 20 MiB image,
// matching the scenario-1 INQUIRY example in spec.md §8.
func productWithCapacity(prefix string, sizeBytes int64) string {
	mb := sizeBytes / MiB
	return prefix + itoa(mb)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
