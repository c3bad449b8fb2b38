package controller

import (
	"encoding/binary"
	"time"

	"github.com/scsiemu/scsiemu/bus"
	"github.com/scsiemu/scsiemu/lun"
	"github.com/scsiemu/scsiemu/scsi"
	"github.com/scsiemu/scsiemu/sense"
)

// enableTimingFloors is the package-level switch gating §4.7's timing
// floors. It is false and nothing in this repository sets it, so the
// floors are not applied.
var enableTimingFloors = false

const (
	minExecTime   = 100 * time.Microsecond
	minStatusTime = 20 * time.Microsecond
	minDataTime   = 200 * time.Microsecond
)

func (c *Controller) enforceFloor(floor time.Duration) {
	if !enableTimingFloors {
		return
	}
	elapsed := time.Since(c.execStart)
	if elapsed < floor {
		time.Sleep(floor - elapsed)
	}
}

// stepExecute dispatches the just-received CDB to the current LUN and
// decides the next phase: status (no data), data-in, or data-out.
func (c *Controller) stepExecute() error {
	c.execStart = time.Now()

	c.currentLUN = int(c.cdb[1] >> 5) // top 3 bits of byte 1 carry the LUN in both SCSI and SASI CDBs
	slot := c.currentLUNSlot()
	if slot == nil {
		c.enforceFloor(minExecTime)
		c.toStatusCheckCondition()
		return nil
	}
	l := slot.base

	switch scsi.Opcode(c.opcode) {
	case scsi.OpTestUnitReady:
		c.finishBool(l.ReadyCheck())

	case scsi.OpFormatUnit:
		c.finishBool(l.Format())

	case scsi.OpRequestSense:
		alloc := int(c.cdb[4])
		data := l.RequestSense(alloc)
		c.beginDataIn(data)

	case scsi.OpInquiry:
		data := c.buildInquiry(slot)
		c.beginDataIn(data)

	case scsi.OpRead6:
		lba := uint64(c.cdb[1]&0x1f)<<16 | uint64(c.cdb[2])<<8 | uint64(c.cdb[3])
		blocks := uint32(c.cdb[4])
		if blocks == 0 {
			blocks = 256
		}
		c.beginRead(l, lba, blocks)

	case scsi.OpRead10:
		lba := uint64(binary.BigEndian.Uint32(c.cdb[2:6]))
		blocks := uint32(binary.BigEndian.Uint16(c.cdb[7:9]))
		c.beginRead(l, lba, blocks)

	case scsi.OpWrite6:
		lba := uint64(c.cdb[1]&0x1f)<<16 | uint64(c.cdb[2])<<8 | uint64(c.cdb[3])
		blocks := uint32(c.cdb[4])
		if blocks == 0 {
			blocks = 256
		}
		c.beginWrite(l, lba, blocks)

	case scsi.OpWrite10, scsi.OpWriteAndVerify10:
		lba := uint64(binary.BigEndian.Uint32(c.cdb[2:6]))
		blocks := uint32(binary.BigEndian.Uint16(c.cdb[7:9]))
		c.beginWrite(l, lba, blocks)

	case scsi.OpSeek6, scsi.OpSeek10:
		var lba uint64
		if scsi.Opcode(c.opcode) == scsi.OpSeek6 {
			lba = uint64(c.cdb[1]&0x1f)<<16 | uint64(c.cdb[2])<<8 | uint64(c.cdb[3])
		} else {
			lba = uint64(binary.BigEndian.Uint32(c.cdb[2:6]))
		}
		c.finishBool(l.Seek(lba))

	case scsi.OpVerify10:
		lba := uint64(binary.BigEndian.Uint32(c.cdb[2:6]))
		blocks := uint32(binary.BigEndian.Uint16(c.cdb[7:9]))
		bytChk := c.cdb[1]&0x02 != 0
		if !l.Verify(lba, blocks) {
			c.toStatusCheckCondition()
			break
		}
		if !bytChk || blocks == 0 {
			c.finishBool(true)
			break
		}
		c.beginVerify(lba, blocks)

	case scsi.OpStartStopUnit:
		loadEject := c.cdb[4]&0x02 != 0
		c.finishBool(l.StartStopUnit(loadEject, nil))

	case scsi.OpPreventAllowRemove:
		l.PreventAllowRemoval(c.cdb[4]&0x01 != 0)
		c.finishBool(true)

	case scsi.OpReadCapacity10:
		if !l.ReadyCheck() {
			c.toStatusCheckCondition()
			break
		}
		c.beginDataIn(l.ReadCapacity())

	case scsi.OpReadDefectData10:
		if !l.ReadyCheck() {
			c.toStatusCheckCondition()
			break
		}
		c.beginDataIn(l.ReadDefectData10())

	case scsi.OpModeSense6, scsi.OpModeSense10:
		cdb10 := scsi.Opcode(c.opcode) == scsi.OpModeSense10
		page := c.cdb[2] & 0x3f
		changeable := c.cdb[2]&0xc0 == 0x40
		dbd := c.cdb[1]&0x08 != 0
		data, err := l.ModeSense(cdb10, page, changeable, dbd)
		if err != nil {
			c.toStatusCheckCondition()
			break
		}
		c.beginDataIn(data)

	case scsi.OpModeSelect6, scsi.OpModeSelect10:
		cdb10 := scsi.Opcode(c.opcode) == scsi.OpModeSelect10
		length := int(c.cdb[4])
		if cdb10 {
			length = int(binary.BigEndian.Uint16(c.cdb[7:9]))
		}
		c.beginModeSelect(cdb10, length)

	case scsi.OpReadTOC:
		if slot.cdrom == nil {
			c.toStatusCheckCondition()
			break
		}
		trackNumber := c.cdb[6]
		msf := c.cdb[1]&0x02 != 0
		c.beginDataIn(slot.cdrom.ReadTOC(trackNumber, msf))

	case scsi.OpGetMessage10:
		if slot.bridge == nil {
			c.toStatusCheckCondition()
			break
		}
		data, err := slot.bridge.GetMessage10(c.cdb)
		if err != nil {
			c.toStatusCheckCondition()
			break
		}
		c.beginDataIn(data)

	case scsi.OpSendMessage10:
		if slot.bridge == nil {
			c.toStatusCheckCondition()
			break
		}
		length := int(c.cdb[6])<<16 | int(c.cdb[7])<<8 | int(c.cdb[8])
		c.beginBridgeSend(length)

	case scsi.OpSpecify:
		// SASI-only SPECIFY: accepted and ignored, no data phase.
		c.finishBool(true)

	default:
		// Unsupported opcode: §4.6's catch-all is InvalidCommand, but
		// ReadyCheck's own sense takes priority if the LUN isn't ready.
		if l.ReadyCheck() {
			l.Fail(sense.InvalidCommand)
		}
		c.toStatusCheckCondition()
	}

	c.enforceFloor(minExecTime)
	return nil
}

func (c *Controller) finishBool(ok bool) {
	if ok {
		c.toStatusGood()
	} else {
		c.toStatusCheckCondition()
	}
}

func (c *Controller) buildInquiry(slot *lunSlot) []byte {
	base := slot.base.Image.Inquiry()
	if slot.bridge == nil {
		return base
	}
	return append(append([]byte(nil), base...), slot.bridge.RegisteredTypes()...)
}

func (c *Controller) beginDataIn(data []byte) {
	c.xferBuf = data
	c.xferLength = len(data)
	c.blocksRemaining = 1
	c.enforceFloor(minDataTime)
	c.phase = bus.PhaseDataIn
}

func (c *Controller) beginRead(l *lun.LUN, lba uint64, blocks uint32) {
	blockLen, err := l.ReadPrepare(lba, blocks)
	if err != nil {
		c.toStatusCheckCondition()
		return
	}
	if blocks == 0 {
		c.toStatusGood()
		return
	}
	c.xferLength = blockLen
	c.xferBuf = make([]byte, blockLen)
	c.nextLBA = lba
	c.blocksRemaining = blocks
	if err := l.ReadBlock(c.xferBuf, c.nextLBA); err != nil {
		c.toStatusCheckCondition()
		return
	}
	c.nextLBA++
	c.enforceFloor(minDataTime)
	c.phase = bus.PhaseDataIn
}

func (c *Controller) beginWrite(l *lun.LUN, lba uint64, blocks uint32) {
	blockLen, err := l.WritePrepare(lba, blocks)
	if err != nil {
		c.toStatusCheckCondition()
		return
	}
	if blocks == 0 {
		c.toStatusGood()
		return
	}
	c.xferLength = blockLen
	c.xferBuf = make([]byte, blockLen)
	c.nextLBA = lba
	c.blocksRemaining = blocks
	c.enforceFloor(minDataTime)
	c.phase = bus.PhaseDataOut
}

func (c *Controller) beginVerify(lba uint64, blocks uint32) {
	blockLen := 1 << c.currentLUNSlot().base.Image.SectorSizeExp()
	c.xferLength = blockLen
	c.xferBuf = make([]byte, blockLen)
	c.nextLBA = lba
	c.blocksRemaining = blocks
	c.enforceFloor(minDataTime)
	c.phase = bus.PhaseDataOut
}

func (c *Controller) beginModeSelect(cdb10 bool, length int) {
	c.modeSelectCDB = append([]byte(nil), c.cdb...)
	c.xferLength = length
	c.xferBuf = make([]byte, length)
	c.blocksRemaining = 1
	c.enforceFloor(minDataTime)
	c.phase = bus.PhaseDataOut
}

func (c *Controller) beginBridgeSend(length int) {
	c.bridgeOutCDB = append([]byte(nil), c.cdb...)
	c.xferLength = length
	c.xferBuf = make([]byte, length)
	c.blocksRemaining = 1
	c.enforceFloor(minDataTime)
	c.phase = bus.PhaseDataOut
}
