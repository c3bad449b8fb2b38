package controller

import (
	"github.com/scsiemu/scsiemu/bus"
	"github.com/scsiemu/scsiemu/scsi"
)

func (c *Controller) syncOffsetOrZero() int {
	if c.syncEnabled {
		return int(c.syncOffset)
	}
	return 0
}

// stepDataIn implements the XferIn hook (§4.8): after each block is sent,
// if more remain, the next is loaded via the current LUN's ReadBlock.
// Non-block data-in responses (INQUIRY, MODE SENSE, READ CAPACITY, ...)
// start with blocksRemaining == 1 and so never reach the refill branch.
func (c *Controller) stepDataIn() error {
	c.Bus.SetSignal(bus.MSG, false)
	c.Bus.SetSignal(bus.CD, false)
	c.Bus.SetSignal(bus.IO, true)

	if c.blocksRemaining == 0 {
		c.toStatusGood()
		return nil
	}

	if _, err := c.Bus.SendHandshake(c.xferBuf, c.xferLength, c.syncOffsetOrZero()); err != nil {
		c.phase = bus.PhaseBusFree
		return nil
	}
	c.blocksRemaining--
	if c.blocksRemaining == 0 {
		c.toStatusGood()
		return nil
	}

	l := c.currentLUNSlot().base
	if err := l.ReadBlock(c.xferBuf, c.nextLBA); err != nil {
		c.toStatusCheckCondition()
		return nil
	}
	c.nextLBA++
	return nil
}

// stepDataOut implements the XferOut hook (§4.8): each received block is
// dispatched by the in-flight CDB's opcode to the LUN's write, verify, or
// MODE SELECT/SEND MESSAGE(10) path.
func (c *Controller) stepDataOut() error {
	c.Bus.SetSignal(bus.MSG, false)
	c.Bus.SetSignal(bus.CD, false)
	c.Bus.SetSignal(bus.IO, false)

	if c.blocksRemaining == 0 {
		c.toStatusGood()
		return nil
	}

	buf := make([]byte, c.xferLength)
	if _, err := c.Bus.ReceiveHandshake(buf, c.xferLength, c.syncOffsetOrZero()); err != nil {
		c.phase = bus.PhaseBusFree
		return nil
	}

	slot := c.currentLUNSlot()
	l := slot.base

	switch scsi.Opcode(c.opcode) {
	case scsi.OpWrite6, scsi.OpWrite10, scsi.OpWriteAndVerify10:
		if err := l.WriteBlock(buf, c.nextLBA); err != nil {
			c.toStatusCheckCondition()
			return nil
		}
		c.nextLBA++
		c.blocksRemaining--
		if c.blocksRemaining == 0 {
			if err := l.Flush(); err != nil {
				c.toStatusCheckCondition()
				return nil
			}
			c.toStatusGood()
		}

	case scsi.OpVerify10:
		if err := l.VerifyBlock(buf, c.nextLBA); err != nil {
			c.toStatusCheckCondition()
			return nil
		}
		c.nextLBA++
		c.blocksRemaining--
		if c.blocksRemaining == 0 {
			c.toStatusGood()
		}

	case scsi.OpModeSelect6, scsi.OpModeSelect10:
		copy(c.xferBuf, buf)
		c.blocksRemaining = 0
		cdb10 := scsi.Opcode(c.opcode) == scsi.OpModeSelect10
		if err := l.ModeSelect(cdb10, c.xferBuf); err != nil {
			c.toStatusCheckCondition()
			return nil
		}
		c.toStatusGood()

	case scsi.OpSendMessage10:
		copy(c.xferBuf, buf)
		c.blocksRemaining = 0
		if slot.bridge == nil {
			c.toStatusCheckCondition()
			return nil
		}
		if err := slot.bridge.SendMessage10(c.bridgeOutCDB, c.xferBuf); err != nil {
			c.toStatusCheckCondition()
			return nil
		}
		c.toStatusGood()

	default:
		c.blocksRemaining = 0
		c.toStatusGood()
	}
	return nil
}
