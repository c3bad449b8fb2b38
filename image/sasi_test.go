package image

import (
	"testing"

	"github.com/scsiemu/scsiemu/fileio"
)

func TestOpenSASI(t *testing.T) {
	cases := []struct {
		name       string
		size       int64
		wantBlocks uint64
		wantExp    uint
		wantErr    error
	}{
		{"ten MiB floor", 10 * MiB, (10 * MiB) / sasiSectorBytes, 8, nil},
		{"one sector below floor", 10*MiB - sasiSectorBytes, 0, 0, ErrImageTooSmall},
		{"not a multiple of 256", 10*MiB + 1, 0, 0, ErrImageSizeMismatch},
		{"1024-sector special case", 22437888, 22437888 / 1024, 10, nil},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f := fileio.NewFakeFile(c.size)
			img, err := openSASI("disk.hdf", f)
			if c.wantErr != nil {
				if err != c.wantErr {
					t.Fatalf("err = %v, want %v", err, c.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if img.Blocks() != c.wantBlocks {
				t.Errorf("Blocks() = %d, want %d", img.Blocks(), c.wantBlocks)
			}
			if img.SectorSizeExp() != c.wantExp {
				t.Errorf("SectorSizeExp() = %d, want %d", img.SectorSizeExp(), c.wantExp)
			}
		})
	}
}

func TestSASIInquiryIsShortForm(t *testing.T) {
	f := fileio.NewFakeFile(10 * MiB)
	img, err := openSASI("disk.hdf", f)
	if err != nil {
		t.Fatalf("openSASI: %v", err)
	}
	inq := img.Inquiry()
	if len(inq) != 8 {
		t.Fatalf("len(Inquiry()) = %d, want 8 (short-form)", len(inq))
	}
}
