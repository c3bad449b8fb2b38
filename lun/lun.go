// Package lun implements the logical-unit command surface: REQUEST
// SENSE, the READ/WRITE/SEEK/VERIFY family, START/STOP UNIT,
// PREVENT/ALLOW MEDIUM REMOVAL, READ CAPACITY, READ DEFECT DATA, and
// MODE SENSE/SELECT dispatch, fronting one image.Image through one
// cache.Cache.
//
// LUN is the structural analogue of the teacher's locking.LockingSP /
// core.Session: one struct owning a resource (there a TCG Locking SP
// session, here a disk image plus cache) exposing named operations that
// build a response and report failure through a latched sense code
// instead of an ad hoc bool. Per-media-class extensions live on wrapper
// types embedding *LUN (CDROM, MO, Bridge), mirroring how
// locking.LockingSP and locking.Range layer SSC-specific behavior over
// the generic core.Session.
package lun

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/scsiemu/scsiemu/cache"
	"github.com/scsiemu/scsiemu/image"
	"github.com/scsiemu/scsiemu/mode"
	"github.com/scsiemu/scsiemu/scsi"
	"github.com/scsiemu/scsiemu/sense"
)

var (
	ErrNotReady       = errors.New("lun: not ready")
	ErrInvalidLBA     = errors.New("lun: logical block address out of range")
	ErrWriteProtected = errors.New("lun: write protected")
	ErrMiscompare     = errors.New("lun: verify miscompare")
)

// LUN owns one attached image and the cache fronting it.
type LUN struct {
	ID    int
	Image image.Image
	Cache *cache.Cache

	sense            sense.Code
	resetPending     bool
	attentionPending bool
	locked           bool
	writeProtect     bool
}

// New attaches img as lun id. The cache is built only when img has a
// backing file (bridge images have none).
func New(id int, img image.Image) *LUN {
	l := &LUN{ID: id, Image: img}
	if img != nil && img.File() != nil {
		l.Cache = cache.New(img.File(), img.ImageOffset(), img.SectorSizeExp(), img.Blocks())
		if img.RawCD() {
			l.Cache.SetRaw(true)
		}
	}
	return l
}

func (l *LUN) setSense(c sense.Code) { l.sense = c }

// Fail latches code directly, for protocol-layer failures (unsupported
// opcode, handshake timeout) that don't originate from one of this LUN's
// own command methods but must still surface as CHECK CONDITION at
// status time per §7.
func (l *LUN) Fail(code sense.Code) { l.setSense(code) }

// RaiseReset latches a bus-reset for the next ReadyCheck.
func (l *LUN) RaiseReset() { l.resetPending = true }

// RaiseAttention latches a unit-attention for the next ReadyCheck.
func (l *LUN) RaiseAttention() { l.attentionPending = true }

// ResetState is what a bus RST does to this LUN: the lock and
// in-flight attention flags are cleared (RST is a hard reset of target
// state), and a fresh reset-pending flag is latched so the next
// ReadyCheck reports sense.DeviceReset.
func (l *LUN) ResetState() {
	l.attentionPending = false
	l.locked = false
	l.resetPending = true
}

// IsReady reports media presence without consuming any latched
// reset/attention flag, for read-only status queries like the control
// channel's `list` verb (ReadyCheck is for command preconditions and has
// side effects this must not have).
func (l *LUN) IsReady() bool { return l.ready() }

func (l *LUN) ready() bool {
	if l.Image == nil {
		return false
	}
	if l.Image.Removable() && l.Image.Blocks() == 0 {
		return false
	}
	return true
}

// ReadyCheck runs every command's common precondition: reset-pending,
// then attention-pending, then not-ready, each latching its sense code
// and clearing the flag it consumed.
func (l *LUN) ReadyCheck() bool {
	if l.resetPending {
		l.setSense(sense.DeviceReset)
		l.resetPending = false
		return false
	}
	if l.attentionPending {
		l.setSense(sense.Attention)
		l.attentionPending = false
		return false
	}
	if !l.ready() {
		l.setSense(sense.NotReady)
		return false
	}
	return true
}

// WriteCheck runs ReadyCheck plus write-enable and range checks for a
// write targeting lba.
func (l *LUN) WriteCheck(lba uint64) bool {
	if !l.ReadyCheck() {
		return false
	}
	if l.writeProtect || l.Image.ReadOnly() {
		l.setSense(sense.WriteProtect)
		return false
	}
	if lba >= l.Image.Blocks() {
		l.setSense(sense.InvalidLBA)
		return false
	}
	return true
}

// RequestSense returns the latched sense code's wire payload and clears
// it. alloc is the CDB's allocation length (SCSI only; ignored for
// SASI, which is always the 4-byte non-extended form).
func (l *LUN) RequestSense(alloc int) []byte {
	code := l.sense
	l.sense = sense.NoError
	if l.Image != nil && l.Image.Kind() == scsi.MediaSASI {
		return code.SASIBytes(l.ID)
	}
	return code.ExtendedBytes(alloc)
}

// BlockSize is 2^SectorSizeExp, the per-block byte count the protocol
// engine's Xfer hooks transfer.
func (l *LUN) BlockSize() int {
	return 1 << l.Image.SectorSizeExp()
}

// ReadPrepare validates a READ(6)/READ(10) starting at lba for blocks
// logical blocks and returns the per-block byte count the engine should
// transfer; it does not itself move any data — the engine drives
// transfer through ReadBlock via the XferIn hook.
func (l *LUN) ReadPrepare(lba uint64, blocks uint32) (int, error) {
	if !l.ReadyCheck() {
		return 0, ErrNotReady
	}
	if blocks > 0 && lba+uint64(blocks) > l.Image.Blocks() {
		l.setSense(sense.InvalidLBA)
		return 0, ErrInvalidLBA
	}
	return l.BlockSize(), nil
}

// ReadBlock reads logical block lba into buf.
func (l *LUN) ReadBlock(buf []byte, lba uint64) error {
	if l.Cache == nil {
		return ErrNotReady
	}
	if err := l.Cache.Read(buf, lba); err != nil {
		l.setSense(sense.ReadFault)
		return err
	}
	return nil
}

// WritePrepare validates a WRITE(6)/WRITE(10)/WRITE AND VERIFY starting
// at lba for blocks logical blocks.
func (l *LUN) WritePrepare(lba uint64, blocks uint32) (int, error) {
	if !l.WriteCheck(lba) {
		return 0, ErrWriteProtected
	}
	if blocks > 0 && lba+uint64(blocks) > l.Image.Blocks() {
		l.setSense(sense.InvalidLBA)
		return 0, ErrInvalidLBA
	}
	return l.BlockSize(), nil
}

// WriteBlock writes buf as logical block lba.
func (l *LUN) WriteBlock(buf []byte, lba uint64) error {
	if l.Cache == nil {
		return ErrNotReady
	}
	if err := l.Cache.Write(buf, lba); err != nil {
		l.setSense(sense.WriteFault)
		return err
	}
	return nil
}

// Flush writes back every dirty cache track; the controller calls it at
// the end of every WRITE transfer (there is no write-back-only mode).
func (l *LUN) Flush() error {
	if l.Cache == nil {
		return nil
	}
	return l.Cache.Save()
}

// Seek validates lba is in range; it moves nothing, there being no head
// position to model.
func (l *LUN) Seek(lba uint64) bool {
	if !l.ReadyCheck() {
		return false
	}
	if lba >= l.Image.Blocks() {
		l.setSense(sense.InvalidLBA)
		return false
	}
	return true
}

// Verify validates the lba/blocks range for a VERIFY command.
func (l *LUN) Verify(lba uint64, blocks uint32) bool {
	if !l.ReadyCheck() {
		return false
	}
	if blocks > 0 && lba+uint64(blocks) > l.Image.Blocks() {
		l.setSense(sense.InvalidLBA)
		return false
	}
	return true
}

// VerifyBlock compares received against the stored copy of logical block
// lba, used when BytChk=1 requests a true byte-for-byte compare (see
// SPEC_FULL.md §9.1's resolution of the BytChk Open Question).
func (l *LUN) VerifyBlock(received []byte, lba uint64) error {
	if l.Cache == nil {
		return ErrNotReady
	}
	stored := make([]byte, len(received))
	if err := l.Cache.Read(stored, lba); err != nil {
		l.setSense(sense.ReadFault)
		return err
	}
	if !bytes.Equal(stored, received) {
		l.setSense(sense.Miscompare)
		return ErrMiscompare
	}
	return nil
}

// StartStopUnit handles the "load eject" bit: forces an eject unless the
// medium is locked, in which case it is refused with sense Prevented.
// ejectFn performs the actual detach and is supplied by the caller (the
// daemon owns reattachment); a nil ejectFn is a safe no-op for
// non-removable media.
func (l *LUN) StartStopUnit(loadEject bool, ejectFn func()) bool {
	if !l.ReadyCheck() {
		return false
	}
	if !loadEject {
		return true
	}
	if l.locked {
		l.setSense(sense.Prevented)
		return false
	}
	if ejectFn != nil {
		ejectFn()
	}
	return true
}

// Format validates FORMAT UNIT's precondition (ready and writable) and
// accepts the command as a no-op: this emulator carries no defect list to
// rebuild, consistent with ReadDefectData10 always reporting no defects.
func (l *LUN) Format() bool {
	if !l.ReadyCheck() {
		return false
	}
	if l.writeProtect || l.Image.ReadOnly() {
		l.setSense(sense.WriteProtect)
		return false
	}
	return true
}

// PreventAllowRemoval sets or clears the medium-removal lock.
func (l *LUN) PreventAllowRemoval(lock bool) {
	l.locked = lock
}

// ToggleWriteProtect flips the control-channel write-protect flag (the
// "protect-toggle" verb, MO units only — see daemon's dispatch of it).
// This is independent of Image.ReadOnly, which reflects the backing file's
// own permissions.
func (l *LUN) ToggleWriteProtect() {
	l.writeProtect = !l.writeProtect
}

// WriteProtected reports whether the control-channel write-protect flag is
// set or the image itself is read-only, for the control channel's `list`
// response.
func (l *LUN) WriteProtected() bool {
	return l.writeProtect || l.Image.ReadOnly()
}

// ReadCapacity returns the 8-byte READ CAPACITY payload: last LBA then
// block length, both big-endian.
func (l *LUN) ReadCapacity() []byte {
	buf := make([]byte, 8)
	var last uint32
	if l.Image.Blocks() > 0 {
		last = uint32(l.Image.Blocks() - 1)
	}
	binary.BigEndian.PutUint32(buf[0:4], last)
	binary.BigEndian.PutUint32(buf[4:8], uint32(l.BlockSize()))
	return buf
}

// ReadDefectData10 always reports no defects.
func (l *LUN) ReadDefectData10() []byte {
	return make([]byte, 4)
}

// modeContext builds the mode.Context this LUN's image implies.
func (l *LUN) modeContext() mode.Context {
	return mode.Context{
		Blocks:         l.Image.Blocks(),
		SectorSizeExp:  l.Image.SectorSizeExp(),
		Removable:      l.Image.Removable(),
		WriteProtected: l.writeProtect || l.Image.ReadOnly(),
		Kind:           l.Image.Kind(),
		VendorPage:     l.Image.VendorModePage,
		FormatPage:     l.Image.FormatPage,
	}
}

// ModeSense renders a full MODE SENSE(6)/MODE SENSE(10) response for
// page, honoring dbd (disable block descriptor) and changeable.
func (l *LUN) ModeSense(cdb10 bool, page byte, changeable bool, dbd bool) ([]byte, error) {
	body, err := mode.Page(page, l.modeContext(), changeable)
	if err != nil {
		l.setSense(sense.InvalidCDB)
		return nil, err
	}
	var bd *mode.BlockDescriptor
	bdLen := 0
	if !dbd {
		bd = &mode.BlockDescriptor{
			Blocks:      uint32(l.Image.Blocks()),
			BlockLength: uint32(l.BlockSize()),
		}
		bdLen = 8
	}
	// dataLen is everything after the length field itself: the rest of
	// the fixed header, the block descriptor, and the pages.
	fixedHeaderRemainder := 3
	if cdb10 {
		fixedHeaderRemainder = 6
	}
	dataLen := fixedHeaderRemainder + bdLen + len(body)
	header := mode.BuildHeader(cdb10, dataLen, l.writeProtect || l.Image.ReadOnly(), bd)
	return append(header, body...), nil
}

// ModeSelect parses and applies a MODE SELECT payload; any attempt to
// change sector size is rejected with InvalidParameter.
func (l *LUN) ModeSelect(cdb10 bool, data []byte) error {
	_, err := mode.ParseSelect(data, cdb10, uint32(l.BlockSize()))
	if err != nil {
		if err == mode.ErrSectorSizeChange {
			l.setSense(sense.InvalidParameter)
		} else {
			l.setSense(sense.ParameterLength)
		}
		return err
	}
	return nil
}
