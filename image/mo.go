package image

import (
	"github.com/scsiemu/scsiemu/fileio"
	"github.com/scsiemu/scsiemu/scsi"
)

// moGeometry pairs a fixed MO capacity with its (sector size exponent,
// block count), keyed by total image size in bytes. An MO image must
// match exactly one of these four capacities; there is no generic range.
type moGeometry struct {
	sizeBytes     int64
	sectorSizeExp uint
	blocks        uint64
}

var moGeometries = []moGeometry{
	{128 * MiB, 9, 248826},
	{230 * MiB, 9, 446325},
	{540 * MiB, 9, 1041500},
	{640 * MiB, 11, 310352},
}

// Fixed band-layout constants for vendor page 20h's last two fields: every
// MO capacity this emulator supports lays user data out as 1025 bands of
// 10 spare sectors each (spec.md §8 scenario 3's 230 MiB example pins
// these two numbers; nothing in the geometry table makes them vary per
// capacity, so they are constants rather than a fourth lookup column).
const (
	moBandsPerUserArea = 1025
	moSparesPerBand    = 10
)

type moImage struct {
	base
}

// VendorModePage renders page 20h's 8-byte body: bytes 0..3 the block
// count big-endian, bytes 4..5 moBandsPerUserArea, bytes 6..7
// moSparesPerBand (spec.md §8 scenario 3, full-page byte offsets 4..11
// once mode's vendor page encoder places it after two reserved bytes and
// the 2-byte page header).
func (m *moImage) VendorModePage(page byte, changeable bool) []byte {
	if page != 0x20 {
		return nil
	}
	out := make([]byte, 8)
	if changeable {
		return out
	}
	out[0] = byte(m.blocks >> 24)
	out[1] = byte(m.blocks >> 16)
	out[2] = byte(m.blocks >> 8)
	out[3] = byte(m.blocks)
	out[4] = byte(moBandsPerUserArea >> 8)
	out[5] = byte(moBandsPerUserArea & 0xff)
	out[6] = byte(moSparesPerBand >> 8)
	out[7] = byte(moSparesPerBand)
	return out
}

// openMO accepts files whose size matches exactly one of the four fixed
// MO capacities; anything else is rejected rather than rounded.
func openMO(path string, f fileio.File) (Image, error) {
	if err := f.Open(path, fileModeFor(path)); err != nil {
		return nil, err
	}
	size, err := f.Size()
	if err != nil {
		return nil, err
	}
	for _, g := range moGeometries {
		if size == g.sizeBytes {
			return &moImage{base: base{
				kind:          scsi.MediaMO,
				sectorSizeExp: g.sectorSizeExp,
				blocks:        g.blocks,
				removable:     true,
				path:          path,
				file:          f,
				vendor:        "RASCSI",
				product:       "MO-DISK",
				revision:      revisionFromVersion(BuildVersion),
				devType:       0x07,
			}}, nil
		}
	}
	return nil, ErrImageSizeMismatch
}

// openEmptyMO models a drive with no medium loaded: present as removable
// but Blocks() == 0, so a caller must REQUEST SENSE "not ready" rather
// than try to read/write it.
func openEmptyMO() Image {
	return &moImage{base: base{
		kind:      scsi.MediaMO,
		removable: true,
		vendor:    "RASCSI",
		product:   "MO-DISK",
		revision:  revisionFromVersion(BuildVersion),
		devType:   0x07,
	}}
}
