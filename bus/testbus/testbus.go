// Package testbus implements an in-memory bus.Bus used to drive the
// controller and lun packages' tests without real GPIO hardware. It plays
// the "initiator" side programmatically: a test pushes a selection event
// and a CDB, then reads back whatever the controller deposits in its
// data-in/status/message-in queues.
package testbus

import (
	"sync"

	"github.com/scsiemu/scsiemu/bus"
)

// Bus is a single-target, burst-mode-only fake.
type Bus struct {
	mu  sync.Mutex
	sig [9]bool
	data byte

	events chan bus.SelectEvent

	cdb     chan []byte
	dataOut chan []byte
	dataIn  chan []byte
}

// New returns a fresh Bus with no pending events.
func New() *Bus {
	return &Bus{
		events:  make(chan bus.SelectEvent, 4),
		cdb:     make(chan []byte, 4),
		dataOut: make(chan []byte, 16),
		dataIn:  make(chan []byte, 16),
	}
}

// Select queues a selection event carrying targetID on the data bus and the
// CDB bytes the controller should receive in the command phase.
func (b *Bus) Select(targetID int, cdb []byte) {
	b.mu.Lock()
	b.data = 1 << uint(targetID)
	b.sig[bus.SEL] = true
	b.mu.Unlock()
	b.cdb <- cdb
	b.events <- bus.EventSelected
}

// Reset queues a bus reset event.
func (b *Bus) Reset() {
	b.mu.Lock()
	b.sig[bus.RST] = true
	b.mu.Unlock()
	b.events <- bus.EventReset
}

// PushDataOut queues one block for a data-out ReceiveHandshake call.
func (b *Bus) PushDataOut(block []byte) { b.dataOut <- block }

// PopDataIn blocks until the controller has sent one data-in block and
// returns it; used by tests to assert on READ payloads.
func (b *Bus) PopDataIn() []byte { return <-b.dataIn }

func (b *Bus) Acquire() bus.Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := bus.Snapshot{Data: b.data}
	copy(s.Signals[:], b.sig[:])
	return s
}

func (b *Bus) GetSignal(sig bus.Signal) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sig[sig]
}

func (b *Bus) SetSignal(sig bus.Signal, asserted bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sig[sig] = asserted
}

func (b *Bus) SetData(v byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = v
}

func (b *Bus) GetData() byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data
}

func (b *Bus) PollSelectEvent() bus.SelectEvent {
	return <-b.events
}

func (b *Bus) ClearSelectEvent() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sig[bus.SEL] = false
	b.sig[bus.RST] = false
}

func (b *Bus) CommandHandshake(buf []byte) (int, error) {
	cdb := <-b.cdb
	n := copy(buf, cdb)
	return n, nil
}

func (b *Bus) SendHandshake(buf []byte, length int, _ int) (int, error) {
	block := make([]byte, length)
	copy(block, buf[:length])
	b.dataIn <- block
	return length, nil
}

func (b *Bus) ReceiveHandshake(buf []byte, length int, _ int) (int, error) {
	block := <-b.dataOut
	n := copy(buf, block)
	if n < length {
		return n, nil
	}
	return length, nil
}

var _ bus.Bus = (*Bus)(nil)
