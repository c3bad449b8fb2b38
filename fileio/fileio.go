// Package fileio is the minimal file-access shim the disk-image layer is
// built on: open-mode semantics, positioned read/write, seek, and size.
// Modeled on the teacher's drive.FdIntf (pkg/drive/fd_nix.go), which wraps
// a platform file descriptor behind a narrow interface so the rest of the
// library never imports os directly.
package fileio

import (
	"errors"
	"io"
	"os"
)

// Mode is the open mode requested of a File.
type Mode int

const (
	ReadOnly Mode = iota
	WriteOnly
	ReadWrite
	Append
)

var ErrNotOpen = errors.New("fileio: file not open")

// File is a minimal positioned file handle.
type File interface {
	Open(path string, mode Mode) error
	Seek(offset int64) error
	Read(buf []byte) (int, error)
	Write(buf []byte) (int, error)
	Size() (int64, error)
	Pos() int64
	Close() error
}

// OSFile is the default File backed by *os.File.
type OSFile struct {
	f        *os.File
	path     string
	mode     Mode
	pos      int64
	isClosed bool
}

// Open opens path in mode. A repeated Open of the same path in the same
// mode on an already-open handle is a no-op that leaves the position
// intact, per the shim's contract.
func (o *OSFile) Open(path string, mode Mode) error {
	if o.f != nil && !o.isClosed && o.path == path && o.mode == mode {
		return nil
	}
	var flag int
	switch mode {
	case ReadOnly:
		flag = os.O_RDONLY
	case WriteOnly:
		flag = os.O_WRONLY | os.O_CREATE
	case ReadWrite:
		flag = os.O_RDWR
	case Append:
		flag = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}
	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return err
	}
	o.f = f
	o.path = path
	o.mode = mode
	o.pos = 0
	o.isClosed = false
	return nil
}

// Seek moves to offset. Seeking to the current position is a no-op.
func (o *OSFile) Seek(offset int64) error {
	if o.f == nil {
		return ErrNotOpen
	}
	if offset == o.pos {
		return nil
	}
	n, err := o.f.Seek(offset, io.SeekStart)
	if err != nil {
		return err
	}
	o.pos = n
	return nil
}

func (o *OSFile) Read(buf []byte) (int, error) {
	if o.f == nil {
		return 0, ErrNotOpen
	}
	n, err := io.ReadFull(o.f, buf)
	o.pos += int64(n)
	return n, err
}

func (o *OSFile) Write(buf []byte) (int, error) {
	if o.f == nil {
		return 0, ErrNotOpen
	}
	n, err := o.f.Write(buf)
	o.pos += int64(n)
	return n, err
}

func (o *OSFile) Size() (int64, error) {
	if o.f == nil {
		return 0, ErrNotOpen
	}
	fi, err := o.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (o *OSFile) Pos() int64 { return o.pos }

// Close releases the handle. Every close rewinds the position to zero, so
// the next Open starts from a clean slate even if the same *OSFile value
// is reused.
func (o *OSFile) Close() error {
	if o.f == nil || o.isClosed {
		return nil
	}
	err := o.f.Close()
	o.isClosed = true
	o.pos = 0
	return err
}

var _ File = (*OSFile)(nil)
