// Package image implements the disk-image layer: media-specific openers
// that establish (sector size exponent, block count, image offset) and a
// uniform logical-block read/write contract, plus the INQUIRY and
// vendor-mode-page data each media kind contributes.
//
// Modeled on the teacher's pkg/core/feature package: one decoder function
// per variant, dispatched from a code switch (there: feature.FeatureCode
// in dev.go's Discovery0; here: extension/keyword in Open), each returning
// a small struct of the fields that variant cares about.
package image

import (
	"errors"
	"fmt"
	"strings"

	"github.com/scsiemu/scsiemu/fileio"
	"github.com/scsiemu/scsiemu/scsi"
)

var (
	ErrImageTooSmall     = errors.New("image: file smaller than the media kind's floor")
	ErrImageTooLarge     = errors.New("image: file larger than the media kind's ceiling")
	ErrImageSizeMismatch = errors.New("image: file size is not a valid geometry for this media kind")
	ErrUnknownExtension  = errors.New("image: no media kind recognized for this path")
	ErrHeaderTooShort    = errors.New("image: header truncated")
)

const (
	MiB = 1024 * 1024
	GiB = 1024 * MiB
)

// Image is the uniform contract the disk-image layer exposes to lun.LUN
// and cache.Cache.
type Image interface {
	Kind() scsi.MediaKind
	SectorSizeExp() uint
	Blocks() uint64
	ImageOffset() int64
	RawCD() bool
	Removable() bool
	ReadOnly() bool
	Path() string
	File() fileio.File

	// Inquiry renders the 36-byte standard INQUIRY response (or the
	// 8-byte extension appended for host-bridge, handled by the caller).
	Inquiry() []byte

	// VendorModePage returns this variant's vendor-specific MODE SENSE
	// page body (without the 2-byte page header), or nil if it has
	// nothing to add for page. changeable requests the "changeable
	// values" mask form instead of current values.
	VendorModePage(page byte, changeable bool) []byte

	// FormatPage overrides the page 03h (format device) body; returning
	// nil requests the generic body from mode.FormatPage.
	FormatPage(changeable bool) []byte
}

// base is embedded by every concrete variant and implements the parts of
// Image that don't vary (or that a variant overrides individually).
type base struct {
	kind          scsi.MediaKind
	sectorSizeExp uint
	blocks        uint64
	imageOffset   int64
	rawCD         bool
	removable     bool
	readOnly      bool
	path          string
	file          fileio.File

	vendor      string
	product     string
	revision    string
	devType     byte // INQUIRY peripheral device type
	ansiVersion byte // INQUIRY byte 2; 0 means "use the SCSI-2 default"
	shortSense  bool // SASI: short-form (non-extended) INQUIRY
}

func (b *base) Kind() scsi.MediaKind   { return b.kind }
func (b *base) SectorSizeExp() uint    { return b.sectorSizeExp }
func (b *base) Blocks() uint64         { return b.blocks }
func (b *base) ImageOffset() int64     { return b.imageOffset }
func (b *base) RawCD() bool            { return b.rawCD }
func (b *base) Removable() bool        { return b.removable }
func (b *base) ReadOnly() bool         { return b.readOnly }
func (b *base) Path() string           { return b.path }
func (b *base) File() fileio.File      { return b.file }

func (b *base) FormatPage(changeable bool) []byte { return nil }

func (b *base) VendorModePage(page byte, changeable bool) []byte { return nil }

// Inquiry renders the common 36-byte standard INQUIRY layout; byte 1's
// removable bit and the ANSI version fields come from the embedding
// variant's fields.
func (b *base) Inquiry() []byte {
	if b.shortSense {
		// SASI responses are short-form (non-extended), 8 bytes: device
		// type in byte 0 and the first 4 product characters in bytes
		// 4..7; no vendor, revision or extended fields.
		buf := make([]byte, 8)
		buf[0] = b.devType
		copy(buf[4:], padRight(b.product, 4))
		return buf
	}
	buf := make([]byte, 36)
	buf[0] = b.devType
	if b.removable {
		buf[1] = 0x80
	}
	ansi := b.ansiVersion
	if ansi == 0 {
		ansi = 0x02 // ANSI version: SCSI-2
	}
	buf[2] = ansi
	buf[3] = 0x02 // response data format
	buf[4] = 31   // additional length (36 - 5)
	copy(buf[8:16], padRight(b.vendor, 8))
	copy(buf[16:32], padRight(b.product, 16))
	copy(buf[32:36], padRight(b.revision, 4))
	return buf
}

func padRight(s string, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = ' '
	}
	copy(out, s)
	if len(s) > n {
		copy(out, s[:n])
	}
	return out
}

// revisionFromVersion encodes a build-version string into the 4-byte
// INQUIRY revision field, e.g. "1.42" -> "0142".
func revisionFromVersion(v string) string {
	v = strings.TrimPrefix(v, "v")
	v = strings.ReplaceAll(v, ".", "")
	if len(v) > 4 {
		v = v[:4]
	}
	for len(v) < 4 {
		v = "0" + v
	}
	return v
}

// BuildVersion is the emulator build string baked into every INQUIRY
// response's revision field; overridden in cmd/scsid at link time in
// spirit, kept as a plain var here since this library has no build-info
// injection of its own.
var BuildVersion = "1.00"

// Open inspects path's extension/keyword and opens the corresponding media
// kind, as described in spec.md §6. Keywords "bridge", "mo", and "cd"
// (case-insensitive) request an image-less bridge, empty MO, or empty CD
// respectively.
func Open(path string, f fileio.File) (Image, error) {
	lower := strings.ToLower(path)
	switch {
	case lower == "bridge":
		return openBridge(), nil
	case lower == "mo":
		return openEmptyMO(), nil
	case lower == "cd":
		return openEmptyCD(), nil
	case strings.HasSuffix(lower, ".hdf"):
		return openSASI(path, f)
	case strings.HasSuffix(lower, ".hds"):
		return openSCSIHDGeneric(path, f, false)
	case strings.HasSuffix(lower, ".hda"):
		return openSCSIHDApple(path, f)
	case strings.HasSuffix(lower, ".hdn"), strings.HasSuffix(lower, ".hdi"), strings.HasSuffix(lower, ".nhd"):
		return openSCSIHDNEC(path, f)
	case strings.HasSuffix(lower, ".mos"):
		return openMO(path, f)
	case strings.HasSuffix(lower, ".iso"):
		return openCDISO(path, f)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExtension, path)
	}
}
