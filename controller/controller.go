// Package controller implements the per-target phase state machine: the
// bus-free/selection/command/execute/data/status/message-in/message-out
// loop that drives one or more attached logical units against a bus.Bus.
//
// Controller is the direct structural analogue of the teacher's
// core.Session: a struct holding wire-protocol state (there ComID/TSN/HSN,
// here TargetID/phase/CDB), a terminal reset transition, and one big
// dispatch method per phase the way Session.ExecuteMethod is one big
// dispatch function for the TCG method-call wire format. The phase loop
// (Run/Step) is grounded on core.Session.ExecuteMethod's send/wait/retry
// loop: write request, poll for a response with a bounded retry and sleep,
// decode, dispatch on success/failure — here, REQ/ACK bus signals replace
// the ComPacket wire format.
package controller

import (
	"context"
	"errors"
	"time"

	"github.com/scsiemu/scsiemu/bus"
	"github.com/scsiemu/scsiemu/lun"
	"github.com/scsiemu/scsiemu/scsi"
)

// handshakeWatchdog bounds every per-byte REQ/ACK wait (waitSignal), per
// §5's GPIO_TIMEOUT_MAX ≈ 3s. The bus's burst handshake calls are not
// bounded by it.
const handshakeWatchdog = 3 * time.Second

var (
	ErrHandshakeTimeout = errors.New("controller: handshake watchdog expired")
	ErrNoLUN            = errors.New("controller: no logical unit attached at this address")
)

// lunSlot holds the base LUN plus whichever media-class wrapper applies,
// so that CD-ROM/MO/bridge-specific operations are available without
// re-wrapping (and losing wrapper-local state like Bridge's registered
// handlers) on every command.
type lunSlot struct {
	base   *lun.LUN
	cdrom  *lun.CDROM
	mo     *lun.MO
	bridge *lun.Bridge
}

// Controller owns one target id's phase state and its attached LUNs.
type Controller struct {
	TargetID int
	Bus      bus.Bus
	LUNs     [8]*lunSlot

	phase      bus.Phase
	cdb        []byte
	currentLUN int
	status     byte
	message    byte

	// Xfer transfer state.
	opcode          byte
	nextLBA         uint64
	blocksRemaining uint32
	xferLength      int
	xferBuf         []byte
	bridgeOutCDB    []byte

	// MODE SELECT accumulation (data-out delivers the whole payload
	// before the LUN can parse it).
	modeSelectBuf []byte
	modeSelectCDB []byte

	// SDTR negotiation state, §4.7.1.
	syncEnabled bool
	syncPeriod  byte
	syncOffset  byte
	sdtrReply   []byte

	execStart time.Time
}

const (
	sdtrPeriodFloor byte = 50 // 200 ns units
	sdtrOffsetCap   byte = 16
)

// New returns a Controller for targetID driving b, with sync negotiation
// enabled by default (as a real initiator would request it).
func New(targetID int, b bus.Bus) *Controller {
	return &Controller{TargetID: targetID, Bus: b, phase: bus.PhaseBusFree, syncEnabled: true}
}

// Attach installs l at logical unit id, building whatever media-class
// wrapper its image kind calls for.
func (c *Controller) Attach(id int, l *lun.LUN) {
	slot := &lunSlot{base: l}
	switch l.Image.Kind() {
	case scsi.MediaCD:
		slot.cdrom = &lun.CDROM{LUN: l}
	case scsi.MediaMO:
		slot.mo = &lun.MO{LUN: l}
	case scsi.MediaBridge:
		slot.bridge = &lun.Bridge{LUN: l}
	}
	c.LUNs[id&0x07] = slot
}

// Detach removes whatever is attached at id.
func (c *Controller) Detach(id int) {
	c.LUNs[id&0x07] = nil
}

// LUNAt returns the base LUN attached at id, or nil.
func (c *Controller) LUNAt(id int) *lun.LUN {
	slot := c.LUNs[id&0x07]
	if slot == nil {
		return nil
	}
	return slot.base
}

// MOAt returns the MO wrapper attached at id, or nil if nothing is
// attached there or the attached image isn't MO media. Used by the
// control channel's password-protect verbs (§4.6.1's supplemented
// vendor "protect" hashing), which need lun.MO's CheckProtect/
// SetProtectHash beyond what the base LUN exposes.
func (c *Controller) MOAt(id int) *lun.MO {
	slot := c.LUNs[id&0x07]
	if slot == nil {
		return nil
	}
	return slot.mo
}

// AnyLUNAttached reports whether this controller has at least one LUN
// attached at any id, the condition under which it should exist at all
// per §4's controller lifecycle note.
func (c *Controller) AnyLUNAttached() bool { return c.anyLUNAttached() }

// Phase reports the controller's current phase, chiefly for tests.
func (c *Controller) Phase() bus.Phase { return c.phase }

// Run drives Step in a loop until ctx is cancelled or a phase handler
// returns a non-nil error.
func (c *Controller) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := c.Step(); err != nil {
			return err
		}
	}
}

// Step executes exactly one phase handler and applies its transition.
func (c *Controller) Step() error {
	switch c.phase {
	case bus.PhaseBusFree:
		return c.stepBusFree()
	case bus.PhaseSelection:
		return c.stepSelection()
	case bus.PhaseCommand:
		return c.stepCommand()
	case bus.PhaseExecute:
		return c.stepExecute()
	case bus.PhaseDataIn:
		return c.stepDataIn()
	case bus.PhaseDataOut:
		return c.stepDataOut()
	case bus.PhaseStatus:
		return c.stepStatus()
	case bus.PhaseMessageIn:
		return c.stepMessageIn()
	case bus.PhaseMessageOut:
		return c.stepMessageOut()
	default:
		c.phase = bus.PhaseBusFree
		return nil
	}
}

// reset implements the RST cancellation contract from §5: clear phase to
// bus-free, drop signals, zero transfer state, reset each attached LUN's
// lock/attention flags and latch reset-pending.
func (c *Controller) reset() {
	c.phase = bus.PhaseBusFree
	c.Bus.SetSignal(bus.BSY, false)
	c.Bus.SetSignal(bus.REQ, false)
	c.Bus.SetSignal(bus.MSG, false)
	c.Bus.SetSignal(bus.CD, false)
	c.Bus.SetSignal(bus.IO, false)
	c.cdb = nil
	c.status = 0
	c.message = 0
	c.blocksRemaining = 0
	c.xferLength = 0
	c.xferBuf = nil
	c.modeSelectBuf = nil
	c.modeSelectCDB = nil
	c.sdtrReply = nil
	for _, s := range c.LUNs {
		if s != nil {
			s.base.ResetState()
		}
	}
}

func (c *Controller) stepBusFree() error {
	c.Bus.SetSignal(bus.REQ, false)
	c.Bus.SetSignal(bus.MSG, false)
	c.Bus.SetSignal(bus.CD, false)
	c.Bus.SetSignal(bus.IO, false)
	c.status = 0
	c.message = 0

	ev := c.Bus.PollSelectEvent()
	if ev&bus.EventReset != 0 {
		c.reset()
		c.Bus.ClearSelectEvent()
		return nil
	}
	if ev&bus.EventSelected == 0 {
		c.Bus.ClearSelectEvent()
		return nil
	}

	snap := c.Bus.Acquire()
	c.Bus.ClearSelectEvent()
	c.TrySelect(snap)
	return nil
}

// TrySelect checks whether snap's data bus selects this controller's target
// id and, if so and at least one LUN is attached, asserts BSY and
// transitions to Selection, reporting whether it did.
//
// This is split out of stepBusFree so that daemon.Daemon's single shared
// worker (§5: one dedicated worker polling one physical bus for every
// attached target id) can own the bus-free PollSelectEvent/ClearSelectEvent
// call itself and hand the resulting snapshot to whichever target's
// Controller the data bus selected, without that Controller polling the
// shared event channel a second time.
func (c *Controller) TrySelect(snap bus.Snapshot) bool {
	targetBit := byte(1) << uint(c.TargetID)
	if snap.Data&targetBit == 0 || !c.anyLUNAttached() {
		return false
	}
	c.Bus.SetSignal(bus.BSY, true)
	c.phase = bus.PhaseSelection
	return true
}

// HandleReset applies a bus RST to this controller, for a caller (such as
// daemon.Daemon) that owns the shared bus's event poll directly instead of
// going through Run/Step's own stepBusFree.
func (c *Controller) HandleReset() { c.reset() }

func (c *Controller) anyLUNAttached() bool {
	for _, s := range c.LUNs {
		if s != nil {
			return true
		}
	}
	return false
}

func (c *Controller) stepSelection() error {
	// Models the initiator deasserting SEL once BSY is observed asserted.
	c.Bus.ClearSelectEvent()
	snap := c.Bus.Acquire()
	if snap.Get(bus.ATN) {
		c.phase = bus.PhaseMessageOut
	} else {
		c.phase = bus.PhaseCommand
	}
	return nil
}
