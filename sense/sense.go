// Package sense implements the packed SCSI/SASI sense code used to latch
// the reason the last command failed, and REQUEST SENSE's wire formats.
package sense

import "errors"

// Key is the SCSI sense key (low nibble of byte 2 of extended sense data).
type Key uint8

const (
	KeyNoSense        Key = 0x00
	KeyRecoveredError Key = 0x01
	KeyNotReady       Key = 0x02
	KeyMediumError    Key = 0x03
	KeyHardwareError  Key = 0x04
	KeyIllegalRequest Key = 0x05
	KeyUnitAttention  Key = 0x06
	KeyDataProtect    Key = 0x07
	KeyMiscompare     Key = 0x0e
)

// Code is a packed 32-bit sense code: (reserved:8, key:8, asc:8, ascq:8).
// A zero Code means "no error".
type Code uint32

func pack(key Key, asc, ascq uint8) Code {
	return Code(uint32(key)<<16 | uint32(asc)<<8 | uint32(ascq))
}

// Key returns the sense key embedded in c.
func (c Code) Key() Key { return Key((c >> 16) & 0xff) }

// ASC returns the additional sense code embedded in c.
func (c Code) ASC() uint8 { return uint8((c >> 8) & 0xff) }

// ASCQ returns the additional sense code qualifier embedded in c.
func (c Code) ASCQ() uint8 { return uint8(c & 0xff) }

// IsError reports whether c represents a latched failure.
func (c Code) IsError() bool { return c != NoError }

// The fixed enumerated set named in the data model, each packed with an
// SPC-style sense key and ASC/ASCQ; only NoError is all zero.
var (
	NoError             = Code(0)
	DeviceReset         = pack(KeyUnitAttention, 0x29, 0x00)
	NotReady            = pack(KeyNotReady, 0x04, 0x00)
	MediaNotPresent     = pack(KeyNotReady, 0x3a, 0x00)
	Attention           = pack(KeyUnitAttention, 0x28, 0x00)
	Prevented           = pack(KeyIllegalRequest, 0x53, 0x02)
	ReadFault           = pack(KeyMediumError, 0x11, 0x00)
	WriteFault          = pack(KeyHardwareError, 0x03, 0x00)
	WriteProtect        = pack(KeyDataProtect, 0x27, 0x00)
	Miscompare          = pack(KeyMiscompare, 0x29, 0x00)
	InvalidCommand      = pack(KeyIllegalRequest, 0x20, 0x00)
	InvalidLBA          = pack(KeyIllegalRequest, 0x21, 0x00)
	InvalidCDB          = pack(KeyIllegalRequest, 0x24, 0x00)
	InvalidLUN          = pack(KeyIllegalRequest, 0x25, 0x00)
	InvalidParameter    = pack(KeyIllegalRequest, 0x26, 0x00)
	ParameterLength     = pack(KeyIllegalRequest, 0x1a, 0x00)
	ParameterNotSupport = pack(KeyIllegalRequest, 0x26, 0x01)
	ParameterSaveNotSup = pack(KeyIllegalRequest, 0x39, 0x00)
	DefectListNotFound  = pack(KeyMediumError, 0x1c, 0x00)
)

// errs maps each enumerated code to a stable error for logging, the same
// shape as method.MethodStatusCodeMap in the teacher library: the packed
// Code is what actually gets reported on the wire, the error is for the
// operator-facing log line.
var errs = map[Code]error{
	DeviceReset:         errors.New("sense: device reset"),
	NotReady:            errors.New("sense: logical unit not ready"),
	MediaNotPresent:     errors.New("sense: medium not present"),
	Attention:           errors.New("sense: unit attention"),
	Prevented:           errors.New("sense: medium removal prevented"),
	ReadFault:           errors.New("sense: unrecovered read error"),
	WriteFault:          errors.New("sense: write fault"),
	WriteProtect:        errors.New("sense: write protected"),
	Miscompare:          errors.New("sense: miscompare during verify"),
	InvalidCommand:      errors.New("sense: invalid command operation code"),
	InvalidLBA:          errors.New("sense: logical block address out of range"),
	InvalidCDB:          errors.New("sense: invalid field in CDB"),
	InvalidLUN:          errors.New("sense: logical unit not supported"),
	InvalidParameter:    errors.New("sense: invalid field in parameter list"),
	ParameterLength:     errors.New("sense: parameter list length error"),
	ParameterNotSupport: errors.New("sense: parameter not supported"),
	ParameterSaveNotSup: errors.New("sense: parameter saving not supported"),
	DefectListNotFound:  errors.New("sense: defect list not found"),
}

// Error returns the message of the stable error associated with c,
// "sense: no error" for NoError, or "sense: unknown" for an unlisted code.
func (c Code) Error() string {
	if c == NoError {
		return "sense: no error"
	}
	if err, ok := errs[c]; ok {
		return err.Error()
	}
	return "sense: unknown"
}

// ExtendedBytes renders the 18-byte extended (SCSI) REQUEST SENSE payload.
// alloc is the CDB's allocation length; 0 requests the SCSI-1-compatible
// 4-byte short form.
func (c Code) ExtendedBytes(alloc int) []byte {
	buf := make([]byte, 18)
	buf[0] = 0x70
	buf[2] = byte(c.Key())
	buf[7] = 10
	buf[12] = c.ASC()
	buf[13] = c.ASCQ()
	if alloc == 0 {
		alloc = 4
	}
	if alloc > len(buf) {
		alloc = len(buf)
	}
	return buf[:alloc]
}

// SASIBytes renders the 4-byte non-extended SASI REQUEST SENSE payload.
func (c Code) SASIBytes(lun int) []byte {
	buf := make([]byte, 4)
	buf[0] = byte(c.Key()) & 0x0f
	buf[1] = byte((lun & 0x07) << 5)
	return buf
}
