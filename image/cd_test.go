package image

import (
	"testing"

	"github.com/scsiemu/scsiemu/fileio"
)

func TestOpenCDISOPlain(t *testing.T) {
	f := fileio.NewFakeFile(cdSectorBytes * 10)
	img, err := openCDISO("disk.iso", f)
	if err != nil {
		t.Fatalf("openCDISO: %v", err)
	}
	if img.RawCD() {
		t.Errorf("RawCD() = true, want false")
	}
	if img.Blocks() != 10 {
		t.Errorf("Blocks() = %d, want 10", img.Blocks())
	}
	if !img.ReadOnly() {
		t.Errorf("ReadOnly() = false, want true")
	}
}

func TestOpenCDISORaw(t *testing.T) {
	buf := make([]byte, cdFrameBytes*10)
	copy(buf[:12], cdSyncPattern[:])
	f := fileio.NewFakeFileFromBytes(buf)
	img, err := openCDISO("disk.iso", f)
	if err != nil {
		t.Fatalf("openCDISO: %v", err)
	}
	if !img.RawCD() {
		t.Errorf("RawCD() = false, want true")
	}
	if img.Blocks() != 10 {
		t.Errorf("Blocks() = %d, want 10", img.Blocks())
	}
}

func TestOpenCDISORawSizeNotMultipleOfFrame(t *testing.T) {
	buf := make([]byte, cdFrameBytes*10+1)
	copy(buf[:12], cdSyncPattern[:])
	f := fileio.NewFakeFileFromBytes(buf)
	if _, err := openCDISO("disk.iso", f); err != ErrImageSizeMismatch {
		t.Fatalf("err = %v, want ErrImageSizeMismatch", err)
	}
}

func TestOpenEmptyCD(t *testing.T) {
	img := openEmptyCD()
	if img.Blocks() != 0 {
		t.Errorf("Blocks() = %d, want 0", img.Blocks())
	}
	if !img.ReadOnly() {
		t.Errorf("ReadOnly() = false, want true")
	}
}
