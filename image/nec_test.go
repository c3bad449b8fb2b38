package image

import (
	"encoding/binary"
	"testing"

	"github.com/scsiemu/scsiemu/fileio"
)

func TestOpenSCSIHDNECBare(t *testing.T) {
	f := fileio.NewFakeFile(256 * 100)
	img, err := openSCSIHDNEC("disk.hdn", f)
	if err != nil {
		t.Fatalf("openSCSIHDNEC: %v", err)
	}
	if img.SectorSizeExp() != 8 {
		t.Errorf("SectorSizeExp() = %d, want 8", img.SectorSizeExp())
	}
	if img.Blocks() != 100 {
		t.Errorf("Blocks() = %d, want 100", img.Blocks())
	}
}

func TestOpenSCSIHDNECAnex86(t *testing.T) {
	const imageOffset = 0x110
	const sectorSize = 512
	const sectors = 200
	buf := make([]byte, imageOffset+sectorSize*sectors)
	binary.LittleEndian.PutUint32(buf[0x04:], uint32(imageOffset))
	binary.LittleEndian.PutUint32(buf[0x08:], uint32(sectorSize*sectors))
	binary.LittleEndian.PutUint32(buf[0x0c:], uint32(sectorSize))

	f := fileio.NewFakeFileFromBytes(buf)
	img, err := openSCSIHDNEC("disk.hdi", f)
	if err != nil {
		t.Fatalf("openSCSIHDNEC: %v", err)
	}
	if img.SectorSizeExp() != 9 {
		t.Errorf("SectorSizeExp() = %d, want 9", img.SectorSizeExp())
	}
	if img.Blocks() != sectors {
		t.Errorf("Blocks() = %d, want %d", img.Blocks(), sectors)
	}
	if img.ImageOffset() != imageOffset {
		t.Errorf("ImageOffset() = %d, want %d", img.ImageOffset(), imageOffset)
	}
}

func TestOpenSCSIHDNECT98Next(t *testing.T) {
	const imageOffset = 0x200
	const sectorSize = 512
	const sectorsPerTrack = 33
	const surfaces = 8
	const cylinders = 10
	imageSize := sectorSize * sectorsPerTrack * surfaces * cylinders

	buf := make([]byte, imageOffset+imageSize)
	copy(buf[:15], nhdMagic)
	binary.LittleEndian.PutUint32(buf[0x110:], uint32(imageOffset))
	binary.LittleEndian.PutUint32(buf[0x118:], uint32(cylinders))
	binary.LittleEndian.PutUint16(buf[0x11c:], uint16(sectorSize))
	binary.LittleEndian.PutUint16(buf[0x11e:], uint16(sectorsPerTrack))
	binary.LittleEndian.PutUint16(buf[0x120:], uint16(surfaces))

	f := fileio.NewFakeFileFromBytes(buf)
	img, err := openSCSIHDNEC("disk.nhd", f)
	if err != nil {
		t.Fatalf("openSCSIHDNEC: %v", err)
	}
	if img.Blocks() != uint64(imageSize)/sectorSize {
		t.Errorf("Blocks() = %d, want %d", img.Blocks(), imageSize/sectorSize)
	}
}

func TestOpenSCSIHDNECBadMagic(t *testing.T) {
	buf := make([]byte, 0x200+512)
	f := fileio.NewFakeFileFromBytes(buf)
	if _, err := openSCSIHDNEC("disk.nhd", f); err != ErrImageSizeMismatch {
		t.Fatalf("err = %v, want ErrImageSizeMismatch", err)
	}
}

func TestOpenSCSIHDNECDowngradesANSIVersion(t *testing.T) {
	f := fileio.NewFakeFile(256 * 100)
	img, err := openSCSIHDNEC("disk.hdn", f)
	if err != nil {
		t.Fatalf("openSCSIHDNEC: %v", err)
	}
	inq := img.Inquiry()
	if inq[2] != 0x01 {
		t.Errorf("ANSI version byte = %#x, want 0x01", inq[2])
	}
	revision := string(inq[32:36])
	if revision == "1   " {
		t.Errorf("revision field should not be downgraded, got %q", revision)
	}
}
