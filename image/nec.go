package image

import (
	"encoding/binary"
	"strings"

	"github.com/scsiemu/scsiemu/fileio"
	"github.com/scsiemu/scsiemu/scsi"
)

const nhdMagic = "T98HDDIMAGE.R0\x00"

// openSCSIHDNEC discriminates .HDN, .HDI (Anex86), and .NHD (T98Next)
// headers and extracts geometry and image offset from the little-endian
// header each format carries.
func openSCSIHDNEC(path string, f fileio.File) (Image, error) {
	if err := f.Open(path, fileModeFor(path)); err != nil {
		return nil, err
	}
	fileSize, err := f.Size()
	if err != nil {
		return nil, err
	}

	lower := strings.ToLower(path)
	var imageOffset int64
	var sectorSize uint64
	var imageSize int64

	switch {
	case strings.HasSuffix(lower, ".hdn"):
		// Bare 256-byte-sector image, no header.
		imageOffset = 0
		sectorSize = 256
		imageSize = fileSize

	case strings.HasSuffix(lower, ".hdi"):
		hdr := make([]byte, 0x110)
		if err := f.Seek(0); err != nil {
			return nil, err
		}
		if _, err := f.Read(hdr); err != nil {
			return nil, ErrHeaderTooShort
		}
		imageOffset = int64(binary.LittleEndian.Uint32(hdr[0x04:]))
		imageSize = int64(binary.LittleEndian.Uint32(hdr[0x08:]))
		sectorSize = uint64(binary.LittleEndian.Uint32(hdr[0x0c:]))

	case strings.HasSuffix(lower, ".nhd"):
		hdr := make([]byte, 0x200)
		if err := f.Seek(0); err != nil {
			return nil, err
		}
		if _, err := f.Read(hdr); err != nil {
			return nil, ErrHeaderTooShort
		}
		if string(hdr[:15]) != nhdMagic {
			return nil, ErrImageSizeMismatch
		}
		imageOffset = int64(binary.LittleEndian.Uint32(hdr[0x110:]))
		sectorSize = uint64(binary.LittleEndian.Uint16(hdr[0x11c:]))
		sectorsPerTrack := uint64(binary.LittleEndian.Uint16(hdr[0x11e:]))
		surfaces := uint64(binary.LittleEndian.Uint16(hdr[0x120:]))
		cylinders := uint64(binary.LittleEndian.Uint32(hdr[0x118:]))
		imageSize = int64(sectorSize * sectorsPerTrack * surfaces * cylinders)

	default:
		return nil, ErrUnknownExtension
	}

	if sectorSize != 256 && sectorSize != 512 {
		return nil, ErrImageSizeMismatch
	}
	if imageOffset+imageSize > fileSize {
		return nil, ErrImageSizeMismatch
	}
	if imageSize%int64(sectorSize) != 0 {
		return nil, ErrImageSizeMismatch
	}

	sectorExp := uint(8)
	if sectorSize == 512 {
		sectorExp = 9
	}

	return &base{
		kind:          scsi.MediaSCSIHD,
		sectorSizeExp: sectorExp,
		blocks:        uint64(imageSize) / sectorSize,
		imageOffset:   imageOffset,
		path:          path,
		file:          f,
		vendor:        "NEC",
		product:       productWithCapacity("PRODRIVE LPS", imageSize),
		revision:      revisionFromVersion(BuildVersion),
		devType:       0x00,
		ansiVersion:   0x01, // NEC downgrades the standards revision to 1
	}, nil
}
