package main

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/davecgh/go-spew/spew"
	"github.com/prometheus/common/expfmt"
)

// context is the context struct required by kong command line parser.
type context struct{}

// controlAddr is the flag embedded in every subcommand that talks to the
// control channel, grounded on cmd/gosedctl's per-command Device flag (there
// a SED device path; here a TCP address) rather than a single top-level
// flag, matching the teacher's "each subcommand repeats what it needs"
// layout.
type controlAddr struct {
	Addr string `flag:"" default:"localhost:6868" short:"a" help:"scsid control-channel address"`
}

// doControl dials addr, writes line, reads and returns exactly one response
// line, and closes the connection — the control channel is one line in, one
// line out per §6's grammar.
func doControl(addr, line string) (string, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()
	if _, err := fmt.Fprintln(conn, line); err != nil {
		return "", fmt.Errorf("write: %w", err)
	}
	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read reply: %w", err)
	}
	return strings.TrimRight(reply, "\n"), nil
}

type listCmd struct {
	controlAddr
}

func (c *listCmd) Run(ctx *context) error {
	reply, err := fetchList(c.Addr)
	if err != nil {
		return err
	}
	fmt.Println(strings.TrimRight(reply, "\n"))
	return nil
}

// typeArg maps the spec.md §6 type field onto a readable flag; accepted
// values are the lowercase media-kind names, translated to the numeric
// code the wire grammar carries.
type typeArg string

func (t typeArg) code() (int, error) {
	switch strings.ToLower(string(t)) {
	case "hdf":
		return 0, nil
	case "hds", "hda", "hdn", "hdi", "nhd":
		return 1, nil
	case "mo":
		return 2, nil
	case "cd":
		return 3, nil
	case "bridge":
		return 4, nil
	default:
		return 0, fmt.Errorf("unknown device type %q (want hdf, hds, mo, cd, bridge)", t)
	}
}

type attachCmd struct {
	controlAddr
	ID   int    `arg:"" help:"Target id (0..7)"`
	LUN  int    `arg:"" help:"Logical unit number (0..7)"`
	Type string `arg:"" help:"Device type: hdf, hds, mo, cd, bridge"`
	Path string `arg:"" help:"Path to the image file (resolved by scsid, not locally), or a bare type keyword for removable media"`
}

func (c *attachCmd) Run(ctx *context) error {
	typ, err := typeArg(c.Type).code()
	if err != nil {
		return err
	}
	reply, err := doControl(c.Addr, fmt.Sprintf("%d %d 0 %d %s", c.ID, c.LUN, typ, c.Path))
	if err != nil {
		return err
	}
	fmt.Println(reply)
	return nil
}

type detachCmd struct {
	controlAddr
	ID  int `arg:"" help:"Target id (0..7)"`
	LUN int `arg:"" help:"Logical unit number (0..7)"`
}

func (c *detachCmd) Run(ctx *context) error {
	reply, err := doControl(c.Addr, fmt.Sprintf("%d %d 1 0 -", c.ID, c.LUN))
	if err != nil {
		return err
	}
	fmt.Println(reply)
	return nil
}

type insertCmd struct {
	controlAddr
	ID   int    `arg:"" help:"Target id (0..7)"`
	LUN  int    `arg:"" help:"Logical unit number (0..7)"`
	Path string `arg:"" help:"Path to the image file to load into an already-attached removable unit (resolved by scsid, not locally)"`
}

func (c *insertCmd) Run(ctx *context) error {
	reply, err := doControl(c.Addr, fmt.Sprintf("%d %d 2 0 %s", c.ID, c.LUN, c.Path))
	if err != nil {
		return err
	}
	fmt.Println(reply)
	return nil
}

type ejectCmd struct {
	controlAddr
	ID  int `arg:"" help:"Target id (0..7)"`
	LUN int `arg:"" help:"Logical unit number (0..7)"`
}

func (c *ejectCmd) Run(ctx *context) error {
	reply, err := doControl(c.Addr, fmt.Sprintf("%d %d 3 0 -", c.ID, c.LUN))
	if err != nil {
		return err
	}
	fmt.Println(reply)
	return nil
}

// protectCmd defaults to spec.md §6's literal write-protect toggle (command
// code 4); passing a password instead drives the §4.6.1 password-hash
// supplement's "protect"/"unprotect" verbs, which need their own grammar
// since the toggle command has no field for one.
type protectCmd struct {
	controlAddr
	ID        int    `arg:"" help:"Target id (0..7)"`
	LUN       int    `arg:"" help:"Logical unit number (0..7)"`
	Password  string `optional:"" type:"password" help:"Set (or check, with --unprotect) a vendor password lock instead of toggling the plain write-protect bit"`
	Unprotect bool   `help:"Clear a password lock set by a previous protect --password"`
}

func (c *protectCmd) Run(ctx *context) error {
	var line string
	switch {
	case c.Unprotect:
		line = fmt.Sprintf("unprotect %d %d %s", c.ID, c.LUN, c.Password)
	case c.Password != "":
		line = fmt.Sprintf("protect %d %d %s", c.ID, c.LUN, c.Password)
	default:
		line = fmt.Sprintf("%d %d 4 0 -", c.ID, c.LUN)
	}
	reply, err := doControl(c.Addr, line)
	if err != nil {
		return err
	}
	fmt.Println(reply)
	return nil
}

type stopCmd struct {
	controlAddr
}

func (c *stopCmd) Run(ctx *context) error {
	reply, err := doControl(c.Addr, "stop")
	if err != nil {
		return err
	}
	fmt.Println(reply)
	return nil
}

// dumpCmd prints the parsed device table via go-spew, the same
// structure-dump idiom cmd/tcgsdiag uses for protocol-level diagnostics.
type dumpCmd struct {
	controlAddr
}

type deviceRow struct {
	ID, LUN        int
	Kind           string
	Status         string
	WriteProtected bool
}

func (c *dumpCmd) Run(ctx *context) error {
	reply, err := fetchList(c.Addr)
	if err != nil {
		return err
	}
	var rows []deviceRow
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var row deviceRow
		var wp string
		n, _ := fmt.Sscanf(line, "%d %d %s %s %s", &row.ID, &row.LUN, &row.Kind, &row.Status, &wp)
		if n < 4 {
			continue
		}
		row.WriteProtected = strings.Contains(wp, "WRITEPROTECT")
		rows = append(rows, row)
	}
	spew.Config.Indent = "  "
	spew.Dump(rows)
	return nil
}

// fetchList sends "list" on its own connection; the reply can span
// multiple lines, so after sending it closes its write side (the server
// ends the connection once the client does) and reads until the peer
// closes, rather than stopping at the first newline the way doControl does
// for single-line replies.
func fetchList(addr string) (string, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()
	if _, err := fmt.Fprintln(conn, "list"); err != nil {
		return "", fmt.Errorf("write: %w", err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.CloseWrite()
	}
	b, err := io.ReadAll(conn)
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read reply: %w", err)
	}
	return string(b), nil
}

// statsCmd fetches scsid's Prometheus endpoint, grounded on
// cmd/tcgdiskstat's table/openmetrics dual output.
type statsCmd struct {
	MetricsAddr string `flag:"" default:"localhost:6869" help:"scsid metrics HTTP address"`
	Output      string `flag:"" default:"table" enum:"table,openmetrics" help:"Output format"`
}

func (c *statsCmd) Run(ctx *context) error {
	resp, err := http.Get(fmt.Sprintf("http://%s/metrics", c.MetricsAddr))
	if err != nil {
		return fmt.Errorf("fetch metrics: %w", err)
	}
	defer resp.Body.Close()

	if c.Output == "openmetrics" {
		_, err := io.Copy(os.Stdout, resp.Body)
		return err
	}

	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return fmt.Errorf("parse metrics: %w", err)
	}

	names := make([]string, 0, len(mfs))
	for name := range mfs {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintf(w, "METRIC\tVALUE\n")
	for _, name := range names {
		for _, m := range mfs[name].GetMetric() {
			switch {
			case m.Counter != nil:
				fmt.Fprintf(w, "%s\t%g\n", name, m.Counter.GetValue())
			case m.Gauge != nil:
				fmt.Fprintf(w, "%s\t%g\n", name, m.Gauge.GetValue())
			}
		}
	}
	return w.Flush()
}

// cli is the main command line interface struct required by kong,
// structured the same way cmd/gosedctl's cli struct is: one embedded
// subcommand type per verb, a help string, and a Run method each.
var cli struct {
	List    listCmd    `cmd:"" help:"Print the attached device table"`
	Attach  attachCmd  `cmd:"" help:"Attach an image at id:lun"`
	Detach  detachCmd  `cmd:"" help:"Detach whatever is attached at id:lun"`
	Insert  insertCmd  `cmd:"" help:"Load media into an already-attached removable unit"`
	Eject   ejectCmd   `cmd:"" help:"Eject media from a removable unit"`
	Protect protectCmd `cmd:"" help:"Toggle write-protect, or set/clear a password lock"`
	Stop    stopCmd    `cmd:"" help:"Shut down the daemon"`
	Dump    dumpCmd    `cmd:"" help:"Dump the device table via go-spew"`
	Stats   statsCmd   `cmd:"" help:"Print daemon metrics"`
}
