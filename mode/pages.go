// Package mode implements the MODE SENSE / MODE SELECT page table: one
// encoder per supported page code, dispatched from a code-keyed table.
//
// Grounded on the teacher's pkg/core/table package: GetPartialRow builds a
// response up column-by-column from a table of known fields; here each
// page encoder builds its body up field-by-field from the table in
// spec.md §4.4, dispatched the same way method.go dispatches on a TCG
// method's invoking-uid rather than hand-rolling a giant switch inline.
package mode

import (
	"errors"

	"github.com/scsiemu/scsiemu/scsi"
)

var ErrUnsupportedPage = errors.New("mode: unsupported page code")

// Context carries the fields a page encoder needs that come from the
// attached image rather than from the page table itself.
type Context struct {
	Blocks         uint64
	SectorSizeExp  uint
	Removable      bool
	WriteProtected bool
	Kind           scsi.MediaKind
	AppleVendor    bool
	VendorPage     func(code byte, changeable bool) []byte
	FormatPage     func(changeable bool) []byte
}

type pageFunc func(ctx Context, changeable bool) []byte

var pageTable = map[byte]pageFunc{
	0x01: errorRecoveryPage,
	0x03: formatDevicePage,
	0x04: driveParameterPage,
	0x06: opticalPage,
	0x08: cachingPage,
	0x0d: cdromPage,
	0x0e: cddaPage,
	0x20: vendorMOPage,
	0x30: vendorApplePage,
}

// allPageCodes lists the table's codes in ascending order, the order
// page 3Fh ("all supported pages") concatenates them in.
var allPageCodes = []byte{0x01, 0x03, 0x04, 0x06, 0x08, 0x0d, 0x0e, 0x20, 0x30}

// applicable reports whether page code belongs on ctx's media kind.
func applicable(code byte, ctx Context) bool {
	switch code {
	case 0x06, 0x20:
		return ctx.Kind == scsi.MediaMO
	case 0x0d, 0x0e:
		return ctx.Kind == scsi.MediaCD
	case 0x30:
		return ctx.AppleVendor
	default:
		return true
	}
}

// Page renders page code as a complete page (2-byte header: code, body
// length, followed by the body). changeable requests the "changeable
// values" mask form. Page 0x3F concatenates every page applicable to
// ctx.Kind. An unsupported or inapplicable page returns ErrUnsupportedPage.
func Page(code byte, ctx Context, changeable bool) ([]byte, error) {
	if code == 0x3f {
		var out []byte
		for _, c := range allPageCodes {
			if !applicable(c, ctx) {
				continue
			}
			p, err := Page(c, ctx, changeable)
			if err != nil {
				return nil, err
			}
			out = append(out, p...)
		}
		return out, nil
	}

	fn, ok := pageTable[code]
	if !ok || !applicable(code, ctx) {
		return nil, ErrUnsupportedPage
	}
	body := fn(ctx, changeable)
	out := make([]byte, 2+len(body))
	out[0] = code & 0x3f
	out[1] = byte(len(body))
	copy(out[2:], body)
	return out, nil
}

func errorRecoveryPage(ctx Context, changeable bool) []byte {
	body := make([]byte, 10)
	if changeable {
		body[1] = 0xff // retry count is editable
		body[6] = 0xff
		body[7] = 0xff // recovery time limit is editable
		return body
	}
	body[1] = 0x01 // retry count
	return body
}

func formatDevicePage(ctx Context, changeable bool) []byte {
	if ctx.FormatPage != nil {
		if override := ctx.FormatPage(changeable); override != nil {
			return override
		}
	}
	body := make([]byte, 22)
	if changeable {
		return body
	}
	const tracksPerZone = 8
	const sectorsPerTrack = 25
	sectorBytes := uint16(1 << ctx.SectorSizeExp)

	body[0], body[1] = 0, tracksPerZone
	body[8], body[9] = byte(sectorsPerTrack>>8), byte(sectorsPerTrack)
	body[10], body[11] = byte(sectorBytes>>8), byte(sectorBytes)
	if ctx.Removable {
		body[20] |= 0x20 // RMB
	}
	return body
}

func driveParameterPage(ctx Context, changeable bool) []byte {
	body := make([]byte, 22)
	if changeable {
		return body
	}
	const tracksPerZone = 8
	const sectorsPerTrack = 25
	cylinders := ctx.Blocks / (tracksPerZone * sectorsPerTrack)
	body[0] = byte(cylinders >> 16)
	body[1] = byte(cylinders >> 8)
	body[2] = byte(cylinders)
	body[4] = tracksPerZone // heads
	return body
}

func opticalPage(ctx Context, changeable bool) []byte {
	return make([]byte, 2)
}

func cachingPage(ctx Context, changeable bool) []byte {
	body := make([]byte, 10)
	if changeable {
		return body
	}
	// Read cache enabled, write cache disabled, no read-ahead.
	body[0] = 0x00
	return body
}

func cdromPage(ctx Context, changeable bool) []byte {
	body := make([]byte, 6)
	if changeable {
		return body
	}
	const inactivityMultiplier = 2
	const secondsPerMSFMinute = 60
	const framesPerMSFSecond = 75
	body[1] = inactivityMultiplier
	body[2], body[3] = byte(secondsPerMSFMinute>>8), byte(secondsPerMSFMinute)
	body[4], body[5] = byte(framesPerMSFSecond>>8), byte(framesPerMSFSecond)
	return body
}

func cddaPage(ctx Context, changeable bool) []byte {
	return make([]byte, 14)
}

func vendorMOPage(ctx Context, changeable bool) []byte {
	body := make([]byte, 10)
	if ctx.VendorPage == nil {
		return body
	}
	band := ctx.VendorPage(0x20, changeable)
	copy(body[2:], band)
	return body
}

func vendorApplePage(ctx Context, changeable bool) []byte {
	body := make([]byte, 28)
	if changeable {
		return body
	}
	copy(body, "APPLE COMPUTER, INC.")
	return body
}
