package controller

import (
	"time"

	"github.com/scsiemu/scsiemu/bus"
	"github.com/scsiemu/scsiemu/scsi"
)

func (c *Controller) stepCommand() error {
	c.Bus.SetSignal(bus.MSG, false)
	c.Bus.SetSignal(bus.CD, true)
	c.Bus.SetSignal(bus.IO, false)

	buf := make([]byte, 10)
	n, err := c.Bus.CommandHandshake(buf)
	if err == bus.ErrBurstNotSupported {
		n, err = c.commandHandshakeBytewise(buf)
	}
	if err != nil {
		c.toStatusCheckCondition()
		return nil
	}
	if n == 0 {
		c.toStatusCheckCondition()
		return nil
	}

	cdbLen := scsi.CDBLen(buf[0])
	if n < cdbLen {
		cdbLen = n
	}
	c.cdb = append([]byte(nil), buf[:cdbLen]...)
	c.opcode = c.cdb[0]
	c.phase = bus.PhaseExecute
	return nil
}

func (c *Controller) commandHandshakeBytewise(buf []byte) (int, error) {
	if err := c.readByte(&buf[0]); err != nil {
		return 0, err
	}
	cdbLen := scsi.CDBLen(buf[0])
	for i := 1; i < cdbLen; i++ {
		if err := c.readByte(&buf[i]); err != nil {
			return i, err
		}
	}
	return cdbLen, nil
}

func (c *Controller) readByte(out *byte) error {
	c.Bus.SetSignal(bus.REQ, true)
	if !c.waitSignal(bus.ACK, true) {
		return ErrHandshakeTimeout
	}
	*out = c.Bus.GetData()
	c.Bus.SetSignal(bus.REQ, false)
	if !c.waitSignal(bus.ACK, false) {
		return ErrHandshakeTimeout
	}
	return nil
}

func (c *Controller) writeByte(b byte) error {
	c.Bus.SetData(b)
	c.Bus.SetSignal(bus.REQ, true)
	if !c.waitSignal(bus.ACK, true) {
		return ErrHandshakeTimeout
	}
	c.Bus.SetSignal(bus.REQ, false)
	if !c.waitSignal(bus.ACK, false) {
		return ErrHandshakeTimeout
	}
	return nil
}

func (c *Controller) waitSignal(sig bus.Signal, want bool) bool {
	deadline := time.Now().Add(handshakeWatchdog)
	for time.Now().Before(deadline) {
		if c.Bus.GetSignal(sig) == want {
			return true
		}
	}
	return false
}
