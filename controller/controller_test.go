package controller

import (
	"context"
	"testing"
	"time"

	"github.com/scsiemu/scsiemu/bus"
	"github.com/scsiemu/scsiemu/bus/testbus"
	"github.com/scsiemu/scsiemu/fileio"
	"github.com/scsiemu/scsiemu/image"
	"github.com/scsiemu/scsiemu/lun"
)

func newAttachedController(t *testing.T) (*Controller, *testbus.Bus) {
	t.Helper()
	f := fileio.NewFakeFile(10 * image.MiB)
	img, err := image.Open("disk.hds", f)
	if err != nil {
		t.Fatalf("image.Open: %v", err)
	}
	b := testbus.New()
	c := New(0, b)
	c.Attach(0, lun.New(0, img))
	return c, b
}

// runUntilBusFree drives Step in a loop until the controller returns to
// bus-free, bounded so a protocol bug hangs the test instead of the suite.
func runUntilBusFree(t *testing.T, c *Controller) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	// Step out of the initial bus-free once before checking for return.
	if err := c.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	for c.Phase() != bus.PhaseBusFree {
		if time.Now().After(deadline) {
			t.Fatalf("controller stuck in phase %s", c.Phase())
		}
		if err := c.Step(); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}
}

func TestInquiryRoundTrip(t *testing.T) {
	c, b := newAttachedController(t)
	cdb := []byte{0x12, 0, 0, 0, 36, 0}
	b.Select(0, cdb)

	done := make(chan []byte, 1)
	go func() { done <- b.PopDataIn() }()

	runUntilBusFree(t, c)

	select {
	case data := <-done:
		if len(data) != 36 {
			t.Fatalf("want 36-byte INQUIRY, got %d bytes", len(data))
		}
		if data[0] != 0x00 {
			t.Fatalf("want devType 0x00, got %#x", data[0])
		}
	case <-time.After(time.Second):
		t.Fatal("no data-in received")
	}
	if c.status != 0x00 {
		t.Fatalf("want GOOD status, got %#x", c.status)
	}
}

func TestTestUnitReadyGood(t *testing.T) {
	c, b := newAttachedController(t)
	b.Select(0, []byte{0x00, 0, 0, 0, 0, 0})
	runUntilBusFree(t, c)
	if c.status != 0x00 {
		t.Fatalf("want GOOD status, got %#x", c.status)
	}
}

func TestFormatUnitGood(t *testing.T) {
	c, b := newAttachedController(t)
	b.Select(0, []byte{0x04, 0, 0, 0, 0, 0})
	runUntilBusFree(t, c)
	if c.status != 0x00 {
		t.Fatalf("want GOOD status, got %#x", c.status)
	}
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	c, b := newAttachedController(t)

	payload := make([]byte, 512)
	for i := range payload {
		payload[i] = 0x5a
	}
	writeCDB := []byte{0x0a, 0, 0, 0, 1, 0} // WRITE(6), LBA 0, 1 block
	b.Select(0, writeCDB)
	b.PushDataOut(payload)
	runUntilBusFree(t, c)
	if c.status != 0x00 {
		t.Fatalf("write: want GOOD status, got %#x", c.status)
	}

	readCDB := []byte{0x08, 0, 0, 0, 1, 0} // READ(6), LBA 0, 1 block
	b.Select(0, readCDB)
	got := make(chan []byte, 1)
	go func() { got <- b.PopDataIn() }()
	runUntilBusFree(t, c)
	if c.status != 0x00 {
		t.Fatalf("read: want GOOD status, got %#x", c.status)
	}
	select {
	case data := <-got:
		for i, v := range data {
			if v != 0x5a {
				t.Fatalf("byte %d: want 0x5a, got %#x", i, v)
			}
		}
	case <-time.After(time.Second):
		t.Fatal("no data-in received")
	}
}

func TestReadOutOfRangeReportsCheckCondition(t *testing.T) {
	c, b := newAttachedController(t)
	// 10 MiB / 512 = 20480 blocks; LBA far past the end.
	cdb := []byte{0x28, 0, 0xff, 0xff, 0xff, 0xff, 0, 0, 1, 0}
	b.Select(0, cdb)
	runUntilBusFree(t, c)
	if c.status == 0x00 {
		t.Fatal("want CHECK CONDITION for out-of-range LBA, got GOOD")
	}
}

func TestBusResetReturnsToBusFreeAndClearsLUNs(t *testing.T) {
	c, _ := newAttachedController(t)
	b := testbus.New()
	c.Bus = b
	b.Reset()

	if err := c.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if c.Phase() != bus.PhaseBusFree {
		t.Fatalf("want bus-free after reset, got %s", c.Phase())
	}
	// RST latches reset-pending on every attached LUN; the first
	// ReadyCheck after it must fail and consume the flag.
	if c.LUNs[0].base.ReadyCheck() {
		t.Fatal("want ReadyCheck to report the latched reset, got ready")
	}
	if !c.LUNs[0].base.ReadyCheck() {
		t.Fatal("want ReadyCheck to succeed once the reset flag is consumed")
	}
}

func TestSDTRNegotiationClampsToFloorAndCap(t *testing.T) {
	c, b := newAttachedController(t)
	cdb := []byte{0x00, 0, 0, 0, 0, 0}
	b.Select(0, cdb)
	b.SetSignal(bus.ATN, true)

	// Drive bus-free -> selection -> message-out manually so we can
	// inject the EXTENDED MESSAGE/SDTR bytes at the right moment.
	if err := c.Step(); err != nil { // bus-free -> selection
		t.Fatalf("Step: %v", err)
	}
	if c.Phase() != bus.PhaseSelection {
		t.Fatalf("want Selection, got %s", c.Phase())
	}
	if err := c.Step(); err != nil { // selection -> message-out
		t.Fatalf("Step: %v", err)
	}
	if c.Phase() != bus.PhaseMessageOut {
		t.Fatalf("want MessageOut, got %s", c.Phase())
	}

	sdtr := []byte{0x01, 0x03, 0x01, 25, 32} // EXTENDED, len 3, SDTR, period 25, offset 32
	go feedBytes(b, sdtr)

	if err := c.Step(); err != nil { // message-out consumes EXTENDED + params
		t.Fatalf("Step: %v", err)
	}
	if c.Phase() != bus.PhaseMessageIn {
		t.Fatalf("want MessageIn after SDTR negotiation, got %s", c.Phase())
	}
	if c.syncPeriod != sdtrPeriodFloor {
		t.Fatalf("want period clamped to floor %d, got %d", sdtrPeriodFloor, c.syncPeriod)
	}
	if c.syncOffset != sdtrOffsetCap {
		t.Fatalf("want offset clamped to cap %d, got %d", sdtrOffsetCap, c.syncOffset)
	}
}

// feedBytes plays the initiator side of a byte-at-a-time REQ/ACK handshake
// for the bytes in data, as consumed by Controller.readByte.
func feedBytes(b *testbus.Bus, data []byte) {
	for _, want := range data {
		for !b.GetSignal(bus.REQ) {
			time.Sleep(time.Microsecond)
		}
		b.SetData(want)
		b.SetSignal(bus.ACK, true)
		for b.GetSignal(bus.REQ) {
			time.Sleep(time.Microsecond)
		}
		b.SetSignal(bus.ACK, false)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	c, _ := newAttachedController(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Run(ctx); err == nil {
		t.Fatal("want context error from Run after cancel")
	}
}
