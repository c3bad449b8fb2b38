package fileio

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpenWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "image.bin")

	var f OSFile
	if err := f.Open(path, ReadWrite); err != nil {
		// ReadWrite requires the file to exist on some platforms; create it first.
		if err := os.WriteFile(path, nil, 0644); err != nil {
			t.Fatal(err)
		}
		if err := f.Open(path, ReadWrite); err != nil {
			t.Fatalf("Open: %v", err)
		}
	}
	if _, err := f.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Seek(0); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	buf := make([]byte, 5)
	if _, err := f.Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf) != "hello" {
		t.Errorf("Read = %q, want %q", buf, "hello")
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if f.Pos() != 0 {
		t.Errorf("Pos() after Close = %d, want 0", f.Pos())
	}
}

func TestSeekToCurrentIsNoOp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "image.bin")
	if err := os.WriteFile(path, []byte("0123456789"), 0644); err != nil {
		t.Fatal(err)
	}
	var f OSFile
	if err := f.Open(path, ReadOnly); err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	buf := make([]byte, 4)
	if _, err := f.Read(buf); err != nil {
		t.Fatal(err)
	}
	if err := f.Seek(4); err != nil {
		t.Fatalf("Seek(current): %v", err)
	}
	if f.Pos() != 4 {
		t.Errorf("Pos() = %d, want 4", f.Pos())
	}
}

func TestReopenSamePathModeIsNoOp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "image.bin")
	if err := os.WriteFile(path, []byte("abcdef"), 0644); err != nil {
		t.Fatal(err)
	}
	var f OSFile
	if err := f.Open(path, ReadOnly); err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	buf := make([]byte, 2)
	f.Read(buf)
	if err := f.Open(path, ReadOnly); err != nil {
		t.Fatalf("re-Open: %v", err)
	}
	if f.Pos() != 2 {
		t.Errorf("Pos() after re-Open = %d, want 2 (position preserved)", f.Pos())
	}
}

func TestSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "image.bin")
	if err := os.WriteFile(path, make([]byte, 1024), 0644); err != nil {
		t.Fatal(err)
	}
	var f OSFile
	if err := f.Open(path, ReadOnly); err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	sz, err := f.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if sz != 1024 {
		t.Errorf("Size() = %d, want 1024", sz)
	}
}
