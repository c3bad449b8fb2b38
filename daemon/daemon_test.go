package daemon

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/scsiemu/scsiemu/bus/testbus"
	"github.com/scsiemu/scsiemu/scsi"
)

// serveRequests drains d.requests without driving the full bus/selection
// loop, standing in for the relevant half of Run for tests that only
// exercise the monitor-facing Submit/apply path.
func serveRequests(t *testing.T, d *Daemon) (stop func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case r := <-d.requests:
				r.result <- d.apply(r)
			}
		}
	}()
	return func() { close(done) }
}

func hdsImage(t *testing.T) string {
	t.Helper()
	return sparseFile(t, "disk.hds", 10*1024*1024)
}

// moImage creates a sparse 128 MiB .mos file, one of the four fixed MO
// geometries image.Open recognizes (248826 blocks, ready — unlike the
// empty "mo" keyword image, which always reports Blocks() == 0).
func moImage(t *testing.T) string {
	t.Helper()
	return sparseFile(t, "disk.mos", 128*1024*1024)
}

func sparseFile(t *testing.T, name string, size int64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := f.Truncate(size); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestAttachListDetach(t *testing.T) {
	d := New(testbus.New(), nil)
	stop := serveRequests(t, d)
	defer stop()

	path := hdsImage(t)
	if _, err := d.Submit(opAttach, 0, 0, path); err != nil {
		t.Fatalf("attach: %v", err)
	}

	text, err := d.Submit(opList, 0, 0, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(text, "0 0 SCHD READY") {
		t.Fatalf("list output = %q, want a line for 0 0 SCHD READY", text)
	}

	if _, err := d.Submit(opDetach, 0, 0, ""); err != nil {
		t.Fatalf("detach: %v", err)
	}
	text, err = d.Submit(opList, 0, 0, "")
	if err != nil {
		t.Fatalf("list after detach: %v", err)
	}
	if text != "" {
		t.Fatalf("list after detach = %q, want empty", text)
	}
	if d.controllers[0] != nil {
		t.Fatal("controller slot should be freed once its last LUN is detached")
	}
}

func TestAttachUnknownExtensionFails(t *testing.T) {
	d := New(testbus.New(), nil)
	stop := serveRequests(t, d)
	defer stop()

	if _, err := d.Submit(opAttach, 0, 0, "disk.bin"); err == nil {
		t.Fatal("want error attaching an unrecognized extension")
	}
}

func TestInsertRequiresRemovableLUN(t *testing.T) {
	d := New(testbus.New(), nil)
	stop := serveRequests(t, d)
	defer stop()

	path := hdsImage(t)
	if _, err := d.Submit(opAttach, 1, 0, path); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if _, err := d.Submit(opInsert, 1, 0, "mo"); !errors.Is(err, ErrNotRemovable) {
		t.Fatalf("insert on a fixed HD: err = %v, want ErrNotRemovable", err)
	}
}

func TestInsertMO(t *testing.T) {
	d := New(testbus.New(), nil)
	stop := serveRequests(t, d)
	defer stop()

	if _, err := d.Submit(opAttach, 2, 0, "mo"); err != nil {
		t.Fatalf("attach mo: %v", err)
	}
	if _, err := d.Submit(opInsert, 2, 0, moImage(t)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	l := d.controllers[2].LUNAt(0)
	if l.Image.Blocks() == 0 {
		t.Fatal("insert should have replaced the empty MO image with the loaded one")
	}
}

func TestEjectMO(t *testing.T) {
	d := New(testbus.New(), nil)
	stop := serveRequests(t, d)
	defer stop()

	if _, err := d.Submit(opAttach, 2, 0, moImage(t)); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if _, err := d.Submit(opEject, 2, 0, ""); err != nil {
		t.Fatalf("eject: %v", err)
	}
	if d.controllers[2].LUNAt(0) != nil {
		t.Fatal("eject should detach the LUN")
	}
}

func TestEjectEmptyMORefused(t *testing.T) {
	d := New(testbus.New(), nil)
	stop := serveRequests(t, d)
	defer stop()

	if _, err := d.Submit(opAttach, 2, 0, "mo"); err != nil {
		t.Fatalf("attach mo: %v", err)
	}
	if _, err := d.Submit(opEject, 2, 0, ""); !errors.Is(err, ErrEjectRefused) {
		t.Fatalf("eject on a not-ready drive: err = %v, want ErrEjectRefused", err)
	}
}

func TestProtectToggleRequiresMO(t *testing.T) {
	d := New(testbus.New(), nil)
	stop := serveRequests(t, d)
	defer stop()

	path := hdsImage(t)
	if _, err := d.Submit(opAttach, 3, 0, path); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if _, err := d.Submit(opProtectToggle, 3, 0, ""); !errors.Is(err, ErrNotMO) {
		t.Fatalf("protect-toggle on an HD: err = %v, want ErrNotMO", err)
	}

	if _, err := d.Submit(opAttach, 4, 0, "mo"); err != nil {
		t.Fatalf("attach mo: %v", err)
	}
	if _, err := d.Submit(opProtectToggle, 4, 0, ""); err != nil {
		t.Fatalf("protect-toggle on mo: %v", err)
	}
	l := d.controllers[4].LUNAt(0)
	if !l.WriteProtected() {
		t.Fatal("protect-toggle should have set write-protect")
	}
	if l.Image.Kind() != scsi.MediaMO {
		t.Fatalf("kind = %v, want MediaMO", l.Image.Kind())
	}
}

func TestProtectSetClearAndEjectRefusal(t *testing.T) {
	d := New(testbus.New(), nil)
	stop := serveRequests(t, d)
	defer stop()

	if _, err := d.Submit(opAttach, 5, 0, moImage(t)); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if _, err := d.Submit(opProtectSet, 5, 0, "hunter2"); err != nil {
		t.Fatalf("protect-set: %v", err)
	}
	if _, err := d.Submit(opProtectSet, 5, 0, "hunter2"); !errors.Is(err, ErrAlreadyProtected) {
		t.Fatalf("protect-set twice: err = %v, want ErrAlreadyProtected", err)
	}
	if _, err := d.Submit(opEject, 5, 0, ""); !errors.Is(err, ErrProtectedMedia) {
		t.Fatalf("eject while protected: err = %v, want ErrProtectedMedia", err)
	}
	if _, err := d.Submit(opProtectClear, 5, 0, "wrong"); !errors.Is(err, ErrWrongPassword) {
		t.Fatalf("protect-clear wrong password: err = %v, want ErrWrongPassword", err)
	}
	if _, err := d.Submit(opProtectClear, 5, 0, "hunter2"); err != nil {
		t.Fatalf("protect-clear: %v", err)
	}
	if _, err := d.Submit(opProtectClear, 5, 0, "hunter2"); !errors.Is(err, ErrNotProtected) {
		t.Fatalf("protect-clear again: err = %v, want ErrNotProtected", err)
	}
	if _, err := d.Submit(opEject, 5, 0, ""); err != nil {
		t.Fatalf("eject after clearing protection: %v", err)
	}
}

func TestProtectSetRequiresMO(t *testing.T) {
	d := New(testbus.New(), nil)
	stop := serveRequests(t, d)
	defer stop()

	path := hdsImage(t)
	if _, err := d.Submit(opAttach, 6, 0, path); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if _, err := d.Submit(opProtectSet, 6, 0, "hunter2"); !errors.Is(err, ErrNotMO) {
		t.Fatalf("protect-set on an HD: err = %v, want ErrNotMO", err)
	}
}

func TestOutOfRangeIDRejected(t *testing.T) {
	d := New(testbus.New(), nil)
	stop := serveRequests(t, d)
	defer stop()

	if _, err := d.Submit(opAttach, 8, 0, "mo"); err == nil {
		t.Fatal("want error for out-of-range target id")
	}
}

