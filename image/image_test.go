package image

import (
	"errors"
	"testing"

	"github.com/scsiemu/scsiemu/fileio"
	"github.com/scsiemu/scsiemu/scsi"
)

func TestOpenDispatchesByExtension(t *testing.T) {
	cases := []struct {
		path string
		size int64
		kind scsi.MediaKind
	}{
		{"disk.hdf", 10 * MiB, scsi.MediaSASI},
		{"disk.hds", scsiHDFloor, scsi.MediaSCSIHD},
		{"disk.hda", scsiHDFloor, scsi.MediaSCSIHD},
		{"disk.hdn", 256 * 10, scsi.MediaSCSIHD},
		{"disk.mos", 128 * MiB, scsi.MediaMO},
		{"disk.iso", cdSectorBytes * 4, scsi.MediaCD},
	}
	for _, c := range cases {
		f := fileio.NewFakeFile(c.size)
		img, err := Open(c.path, f)
		if err != nil {
			t.Fatalf("Open(%q): %v", c.path, err)
		}
		if img.Kind() != c.kind {
			t.Errorf("Open(%q).Kind() = %v, want %v", c.path, img.Kind(), c.kind)
		}
	}
}

func TestOpenKeywords(t *testing.T) {
	if img, err := Open("bridge", nil); err != nil || img.Kind() != scsi.MediaBridge {
		t.Errorf("Open(bridge) = %v, %v", img, err)
	}
	if img, err := Open("MO", nil); err != nil || img.Kind() != scsi.MediaMO {
		t.Errorf("Open(MO) = %v, %v", img, err)
	}
	if img, err := Open("cd", nil); err != nil || img.Kind() != scsi.MediaCD {
		t.Errorf("Open(cd) = %v, %v", img, err)
	}
}

func TestOpenUnknownExtension(t *testing.T) {
	if _, err := Open("disk.xyz", fileio.NewFakeFile(0)); !errors.Is(err, ErrUnknownExtension) {
		t.Fatalf("err = %v, want ErrUnknownExtension", err)
	}
}
