package controller

import (
	"github.com/scsiemu/scsiemu/bus"
	"github.com/scsiemu/scsiemu/scsi"
)

// stepMessageOut implements §4.7's message-out phase: one byte is
// received per entry (ATN-phase messages are handled as they arrive
// rather than buffered up front, since ABORT/BUS DEVICE RESET take
// effect immediately). The phase is re-entered from selection or from
// itself as long as ATN remains asserted; it falls through to command
// once ATN deasserts.
func (c *Controller) stepMessageOut() error {
	c.Bus.SetSignal(bus.MSG, true)
	c.Bus.SetSignal(bus.CD, true)
	c.Bus.SetSignal(bus.IO, false)

	var b byte
	if err := c.readByte(&b); err != nil {
		c.phase = bus.PhaseBusFree
		return nil
	}

	switch {
	case b == scsi.MsgAbort:
		c.phase = bus.PhaseBusFree
		return nil

	case b == scsi.MsgBusDeviceReset:
		c.reset()
		return nil

	case scsi.IsIdentify(b):
		// LUN selection via IDENTIFY is noted but never overrides the
		// CDB's own LUN field.

	case b == scsi.MsgExtended:
		c.handleExtendedMessage()
		return nil

	default:
		c.message = scsi.MsgMessageReject
		c.phase = bus.PhaseMessageIn
		return nil
	}

	if c.Bus.Acquire().Get(bus.ATN) {
		return nil // stay in message-out for the next ATN-phase byte
	}
	c.phase = bus.PhaseCommand
	return nil
}

// handleExtendedMessage reads an EXTENDED MESSAGE's length byte, sub-code,
// and parameters. Only SDTR (sub-code 0x01) is understood; anything else
// replies with MESSAGE REJECT in message-in.
func (c *Controller) handleExtendedMessage() {
	var length byte
	if err := c.readByte(&length); err != nil {
		c.phase = bus.PhaseBusFree
		return
	}
	params := make([]byte, length)
	for i := range params {
		if err := c.readByte(&params[i]); err != nil {
			c.phase = bus.PhaseBusFree
			return
		}
	}

	if length < 3 || params[0] != scsi.ExtMsgSDTR || !c.syncEnabled {
		c.message = scsi.MsgMessageReject
		c.phase = bus.PhaseMessageIn
		return
	}

	c.negotiateSDTR(params[1], params[2])
	c.phase = bus.PhaseMessageIn
}

// negotiateSDTR clamps the initiator's requested period to the floor
// (50, i.e. 200 ns units) and offset to the cap (16), per §4.7.1, and
// queues the five-byte SDTR reply for message-in.
func (c *Controller) negotiateSDTR(period, offset byte) {
	if period < sdtrPeriodFloor {
		period = sdtrPeriodFloor
	}
	if offset > sdtrOffsetCap {
		offset = sdtrOffsetCap
	}
	c.syncPeriod = period
	c.syncOffset = offset

	c.sdtrReply = []byte{scsi.MsgExtended, 0x03, scsi.ExtMsgSDTR, period, offset}
}
