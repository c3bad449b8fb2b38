// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Copyright 2021 Christian Svensson. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Reference bus.Bus backed by the Linux gpio-cdev character device, the
// GPIO-over-ribbon-cable wiring a real target adapter uses. Gated to linux
// since /dev/gpiochipN and its ioctls are Linux-only.

//go:build linux

package gpiobus

import (
	"fmt"
	"os"
	"sync"
	"time"
	"unsafe"

	"github.com/dswarbrick/smart/ioctl"

	"github.com/scsiemu/scsiemu/bus"
)

// pollInterval paces pollLoop's SEL/RST sampling; gpio-cdev line-handles
// have no blocking-edge wait, so without a pause pollLoop would spin a core
// at 100% between edges.
const pollInterval = 100 * time.Microsecond

// gpio-cdev ioctl numbers and request layouts, from <linux/gpio.h>. The
// request/response struct marshalling here plays the same role the
// teacher's sgIoHdr/execGenericIO pair plays for SG_IO: build a fixed
// C-layout struct, hand its pointer to ioctl.Ioctl, then read the result
// back out of the same struct.
const (
	gpioGetLineHandleIoctl  = 0xc16cb403
	gpioHandleGetLineValues = 0xc040b408
	gpioHandleSetLineValues = 0xc040b409

	gpiohandleRequestInput  = 1 << 0
	gpiohandleRequestOutput = 1 << 1
)

type gpiohandleRequest struct {
	lineOffsets   [64]uint32
	flags         uint32
	defaultValues [64]uint8
	consumerLabel [32]byte
	lines         uint32
	fd            int32
}

type gpiohandleData struct {
	values [64]uint8
}

// lineHandle is one gpio-cdev line-handle fd covering a fixed set of
// offsets, opened once at Open and read/written for the life of the Bus.
type lineHandle struct {
	fd      int
	offsets []uint32
}

func requestLineHandle(chipFd int, offsets []uint32, output bool, label string) (*lineHandle, error) {
	req := gpiohandleRequest{lines: uint32(len(offsets))}
	copy(req.lineOffsets[:], offsets)
	if output {
		req.flags = gpiohandleRequestOutput
	} else {
		req.flags = gpiohandleRequestInput
	}
	copy(req.consumerLabel[:], label)

	if err := ioctl.Ioctl(uintptr(chipFd), gpioGetLineHandleIoctl, uintptr(unsafe.Pointer(&req))); err != nil {
		return nil, fmt.Errorf("gpiobus: GPIO_GET_LINEHANDLE_IOCTL: %w", err)
	}
	return &lineHandle{fd: int(req.fd), offsets: offsets}, nil
}

func (h *lineHandle) get() ([]uint8, error) {
	var data gpiohandleData
	if err := ioctl.Ioctl(uintptr(h.fd), gpioHandleGetLineValues, uintptr(unsafe.Pointer(&data))); err != nil {
		return nil, fmt.Errorf("gpiobus: GPIOHANDLE_GET_LINE_VALUES_IOCTL: %w", err)
	}
	return data.values[:len(h.offsets)], nil
}

func (h *lineHandle) set(values []uint8) error {
	var data gpiohandleData
	copy(data.values[:], values)
	return ioctl.Ioctl(uintptr(h.fd), gpioHandleSetLineValues, uintptr(unsafe.Pointer(&data)))
}

func (h *lineHandle) close() error {
	return os.NewFile(uintptr(h.fd), "gpio-line").Close()
}

// Pinout assigns a GPIO offset on the chip to each control signal plus the
// 8 data-bus lines, the way a real RaSCSI-style ribbon-cable adapter is
// wired. The zero value is not usable; callers must supply every field.
type Pinout struct {
	Data [8]uint32
	BSY  uint32
	SEL  uint32
	ATN  uint32
	ACK  uint32
	RST  uint32
	MSG  uint32
	CD   uint32
	IO   uint32
	REQ  uint32
	PRTY uint32 // data parity, output-only, not modeled as a Signal
}

// Bus drives a real SCSI/SASI ribbon cable through /dev/gpiochipN.
// TransferIntf is deliberately unimplemented (always ErrBurstNotSupported):
// gpio-cdev line-handle I/O is one syscall per read/write, far too slow for
// bulk transfer, so the controller always falls back to the byte-at-a-time
// REQ/ACK path over this Bus.
type Bus struct {
	mu       sync.Mutex
	chipFd   int
	data     *lineHandle
	dataOut  *lineHandle // data lines re-requested as outputs during IO=1 (target drives)
	signal   [9]*lineHandle
	pins     Pinout
	selEvent chan bus.SelectEvent
	stopPoll chan struct{}
}

// Open requests line handles for every pin in pins from the chip at
// chipPath (typically "/dev/gpiochip0") and starts a background poller
// watching SEL and RST for PollSelectEvent.
func Open(chipPath string, pins Pinout) (*Bus, error) {
	f, err := os.OpenFile(chipPath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("gpiobus: open %s: %w", chipPath, err)
	}
	chipFd := int(f.Fd())

	b := &Bus{chipFd: chipFd, pins: pins, selEvent: make(chan bus.SelectEvent, 4), stopPoll: make(chan struct{})}

	dataIn, err := requestLineHandle(chipFd, pins.Data[:], false, "scsiemu-data")
	if err != nil {
		return nil, err
	}
	b.data = dataIn

	inputs := []uint32{pins.SEL, pins.ATN, pins.ACK, pins.RST}
	for _, off := range inputs {
		h, err := requestLineHandle(chipFd, []uint32{off}, false, "scsiemu-ctl")
		if err != nil {
			return nil, err
		}
		b.signal[signalForOffset(pins, off)] = h
	}
	outputs := []uint32{pins.BSY, pins.MSG, pins.CD, pins.IO, pins.REQ}
	for _, off := range outputs {
		h, err := requestLineHandle(chipFd, []uint32{off}, true, "scsiemu-ctl")
		if err != nil {
			return nil, err
		}
		b.signal[signalForOffset(pins, off)] = h
	}

	go b.pollLoop()
	return b, nil
}

func signalForOffset(p Pinout, off uint32) bus.Signal {
	switch off {
	case p.BSY:
		return bus.BSY
	case p.SEL:
		return bus.SEL
	case p.ATN:
		return bus.ATN
	case p.ACK:
		return bus.ACK
	case p.RST:
		return bus.RST
	case p.MSG:
		return bus.MSG
	case p.CD:
		return bus.CD
	case p.IO:
		return bus.IO
	case p.REQ:
		return bus.REQ
	}
	return bus.Signal(-1)
}

func (b *Bus) Close() error {
	close(b.stopPoll)
	for _, h := range b.signal {
		if h != nil {
			h.close()
		}
	}
	if b.data != nil {
		b.data.close()
	}
	return nil
}

func (b *Bus) Acquire() bus.Snapshot {
	var s bus.Snapshot
	for sig := bus.BSY; sig <= bus.REQ; sig++ {
		s.Signals[sig] = b.GetSignal(sig)
	}
	s.Data = b.GetData()
	return s
}

func (b *Bus) GetSignal(sig bus.Signal) bool {
	h := b.signal[sig]
	if h == nil {
		return false
	}
	v, err := h.get()
	return err == nil && len(v) > 0 && v[0] != 0
}

func (b *Bus) SetSignal(sig bus.Signal, asserted bool) {
	h := b.signal[sig]
	if h == nil {
		return
	}
	var v uint8
	if asserted {
		v = 1
	}
	h.set([]uint8{v})
}

func (b *Bus) GetData() byte {
	vals, err := b.data.get()
	if err != nil {
		return 0
	}
	var out byte
	for i, v := range vals {
		if v != 0 {
			out |= 1 << uint(i)
		}
	}
	return out
}

func (b *Bus) SetData(v byte) {
	if b.dataOut == nil {
		return // data lines are inputs until a write-side Open variant re-requests them
	}
	vals := make([]uint8, 8)
	for i := range vals {
		if v&(1<<uint(i)) != 0 {
			vals[i] = 1
		}
	}
	b.dataOut.set(vals)
}

// pollLoop watches SEL/RST at a fixed rate and surfaces edges through
// PollSelectEvent, since gpio-cdev line-handles (unlike the newer
// line-event fd) have no native blocking-edge wait.
func (b *Bus) pollLoop() {
	var lastSEL, lastRST bool
	for {
		select {
		case <-b.stopPoll:
			return
		default:
		}
		sel := b.GetSignal(bus.SEL)
		rst := b.GetSignal(bus.RST)
		if rst && !lastRST {
			b.selEvent <- bus.EventReset
		} else if sel && !lastSEL {
			b.selEvent <- bus.EventSelected
		}
		lastSEL, lastRST = sel, rst
		time.Sleep(pollInterval)
	}
}

func (b *Bus) PollSelectEvent() bus.SelectEvent {
	return <-b.selEvent
}

func (b *Bus) ClearSelectEvent() {}

func (b *Bus) CommandHandshake(buf []byte) (int, error) {
	return 0, bus.ErrBurstNotSupported
}

func (b *Bus) SendHandshake(buf []byte, length int, syncOffset int) (int, error) {
	return 0, bus.ErrBurstNotSupported
}

func (b *Bus) ReceiveHandshake(buf []byte, length int, syncOffset int) (int, error) {
	return 0, bus.ErrBurstNotSupported
}

var _ bus.Bus = (*Bus)(nil)
