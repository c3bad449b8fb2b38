// Command scsid is the daemon entry point: it attaches whatever images are
// named on the command line, opens the physical bus, and runs the single
// worker loop until the control channel (or a signal) asks it to stop.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/scsiemu/scsiemu/bus"
	"github.com/scsiemu/scsiemu/bus/testbus"
	"github.com/scsiemu/scsiemu/daemon"
	"github.com/scsiemu/scsiemu/internal/gpiobus"
	"github.com/scsiemu/scsiemu/pkg/cmdutil"
)

const (
	programName = "scsid"
	programDesc = "SCSI/SASI target-device emulator daemon"
)

// cli's -id0=path .. -id7=path flags are the attach-argument contract
// spec.md §6 leaves to the bootstrap/monitor; one flag per target id rather
// than a repeated flag keeps "which id did this path attach to" unambiguous
// without inventing a sub-grammar kong doesn't already have a mapper for.
var cli struct {
	ID0 string `name:"id0" type:"accessiblefile" optional:"" help:"Image to attach at target id 0"`
	ID1 string `name:"id1" type:"accessiblefile" optional:"" help:"Image to attach at target id 1"`
	ID2 string `name:"id2" type:"accessiblefile" optional:"" help:"Image to attach at target id 2"`
	ID3 string `name:"id3" type:"accessiblefile" optional:"" help:"Image to attach at target id 3"`
	ID4 string `name:"id4" type:"accessiblefile" optional:"" help:"Image to attach at target id 4"`
	ID5 string `name:"id5" type:"accessiblefile" optional:"" help:"Image to attach at target id 5"`
	ID6 string `name:"id6" type:"accessiblefile" optional:"" help:"Image to attach at target id 6"`
	ID7 string `name:"id7" type:"accessiblefile" optional:"" help:"Image to attach at target id 7"`

	GPIOChip    string `default:"/dev/gpiochip0" help:"gpio-cdev character device for the physical bus"`
	ControlAddr string `default:"localhost:6868" help:"Control-channel listen address"`
	MetricsAddr string `default:"localhost:6869" help:"Prometheus /metrics listen address"`
	SimulateBus bool   `help:"Run against an in-memory bus instead of real GPIO hardware (development/test)"`
}

func main() {
	kong.Parse(&cli,
		kong.Name(programName),
		kong.Description(programDesc),
		kong.UsageOnError(),
		kong.NamedMapper("accessiblefile", cmdutil.AccessibleFileMapper()),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true, Summary: true}))

	err := run()
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return // normal shutdown: exit 0
	case isAttachArgError(err):
		log.Printf("scsid: %v", err)
		os.Exit(int(syscall.EINVAL))
	default:
		log.Printf("scsid: %v", err)
		os.Exit(int(syscall.EPERM))
	}
}

type attachArgError struct{ error }

func isAttachArgError(err error) bool {
	_, ok := err.(attachArgError)
	return ok
}

func run() error {
	b, err := openBus()
	if err != nil {
		return err
	}

	d := daemon.New(b, log.Default())

	attachArgs := []string{cli.ID0, cli.ID1, cli.ID2, cli.ID3, cli.ID4, cli.ID5, cli.ID6, cli.ID7}
	for id, path := range attachArgs {
		if path == "" {
			continue
		}
		if err := d.Attach(id, 0, path); err != nil {
			return attachArgError{fmt.Errorf("attach id %d: %w", id, err)}
		}
	}

	sigCtx, stopSig := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSig()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	if err := d.ListenAndServeControl(cli.ControlAddr, cancel); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", d.Metrics.Handler())
	go func() {
		if err := http.ListenAndServe(cli.MetricsAddr, mux); err != nil {
			log.Printf("scsid: metrics server: %v", err)
		}
	}()

	return d.Run(ctx)
}

func openBus() (bus.Bus, error) {
	if cli.SimulateBus {
		return testbus.New(), nil
	}
	return gpiobus.Open(cli.GPIOChip, standardPinout)
}

// standardPinout is RaSCSI's "STANDARD" connect type pin assignment
// (original_source/raspberrypi/gpiobus.h, CONNECT_TYPE_STANDARD).
var standardPinout = gpiobus.Pinout{
	Data: [8]uint32{10, 11, 12, 13, 14, 15, 16, 17},
	PRTY: 18,
	ATN:  19,
	RST:  20,
	ACK:  21,
	REQ:  22,
	MSG:  23,
	CD:   24,
	IO:   25,
	BSY:  26,
	SEL:  27,
}
