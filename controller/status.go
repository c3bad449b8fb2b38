package controller

import (
	"github.com/scsiemu/scsiemu/bus"
	"github.com/scsiemu/scsiemu/scsi"
)

// toStatusCheckCondition surfaces a failure at status time: any operation
// that fails has already latched its sense code on the LUN; here we only
// set the status byte and transition, per the error-surfacing contract in
// §7. SASI reports CHECK CONDITION with the LUN packed into the top bits;
// SCSI reports the plain status byte.
func (c *Controller) toStatusCheckCondition() {
	slot := c.currentLUNSlot()
	if slot != nil && slot.base.Image.Kind() == scsi.MediaSASI {
		c.status = scsi.SASICheckConditionStatus(c.currentLUN)
	} else {
		c.status = scsi.StatusCheckCondition
	}
	c.phase = bus.PhaseStatus
}

func (c *Controller) toStatusGood() {
	c.status = 0x00
	c.phase = bus.PhaseStatus
}

func (c *Controller) currentLUNSlot() *lunSlot {
	return c.LUNs[c.currentLUN&0x07]
}

func (c *Controller) stepStatus() error {
	c.Bus.SetSignal(bus.MSG, false)
	c.Bus.SetSignal(bus.CD, true)
	c.Bus.SetSignal(bus.IO, true)

	if err := c.writeByte(c.status); err != nil {
		c.phase = bus.PhaseBusFree
		return nil
	}
	c.phase = bus.PhaseMessageIn
	return nil
}

func (c *Controller) stepMessageIn() error {
	c.Bus.SetSignal(bus.MSG, true)
	c.Bus.SetSignal(bus.CD, true)
	c.Bus.SetSignal(bus.IO, true)

	if len(c.sdtrReply) > 0 {
		reply := c.sdtrReply
		c.sdtrReply = nil
		for _, b := range reply {
			if err := c.writeByte(b); err != nil {
				c.phase = bus.PhaseBusFree
				return nil
			}
		}
		// An SDTR exchange negotiates mid-selection, before the command
		// has even been read; return to command rather than bus-free.
		c.phase = bus.PhaseCommand
		return nil
	}

	if err := c.writeByte(c.message); err != nil {
		c.phase = bus.PhaseBusFree
		return nil
	}
	c.message = 0
	c.phase = bus.PhaseBusFree
	return nil
}
