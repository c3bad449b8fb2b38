package daemon

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// cmdCode is the third field of an attach-family control line.
type cmdCode int

const (
	cmdAttach cmdCode = iota
	cmdDetach
	cmdInsert
	cmdEject
	cmdProtectToggle
)

// typeCode is the fourth field of an attach-family control line. image.Open
// already determines media kind from the path's extension or keyword, so
// typeCode is only range-checked here, not otherwise consulted — it exists
// in the wire grammar for a monitor program's own bookkeeping.
const (
	typeHDF = iota
	typeHDSFamily
	typeMO
	typeCD
	typeBridge
)

// ListenAndServeControl accepts connections on addr (e.g. "localhost:6868")
// and serves the control-channel grammar on each: one line in, one line out,
// until the peer closes the connection or sends "shutdown"/"stop", which
// cancels stop. Each connection is handled on its own goroutine; every verb
// is applied by calling Submit, so the actual table mutation still happens
// only on the single worker goroutine running Run.
func (d *Daemon) ListenAndServeControl(addr string, stop func()) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("daemon: control channel listen: %w", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go d.serveControlConn(conn, stop)
		}
	}()
	return nil
}

func (d *Daemon) serveControlConn(conn net.Conn, stop func()) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		reply, shutdown := d.dispatchControlLine(line, stop)
		if !strings.HasSuffix(reply, "\n") {
			reply += "\n"
		}
		if _, err := conn.Write([]byte(reply)); err != nil {
			return
		}
		if shutdown {
			return
		}
	}
}

// dispatchControlLine parses and applies one control-channel line, per
// spec.md §6's grammar: "list", "<id> <lun> <cmd> <type> <file>", and
// "shutdown"/"stop".
func (d *Daemon) dispatchControlLine(line string, stop func()) (reply string, shutdown bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "error: empty command", false
	}

	switch strings.ToLower(fields[0]) {
	case "list":
		text, err := d.Submit(opList, 0, 0, "")
		if err != nil {
			return fmt.Sprintf("error: %v", err), false
		}
		if text == "" {
			text = "(no devices attached)"
		}
		return text, false
	case "shutdown", "stop":
		if stop != nil {
			stop()
		}
		return "ok: shutting down", true
	case "protect", "unprotect":
		return d.dispatchPasswordLine(fields), false
	}

	return d.dispatchAttachLine(fields), false
}

// dispatchPasswordLine handles the "protect"/"unprotect" <id> <lun>
// <password> verbs, §4.6.1's supplemented vendor password-lock feature on
// top of spec.md §6's literal five-field grammar.
func (d *Daemon) dispatchPasswordLine(fields []string) string {
	if len(fields) != 4 {
		return "error: invalid command"
	}

	id, errID := strconv.Atoi(fields[1])
	lun, errLUN := strconv.Atoi(fields[2])
	if errID != nil || errLUN != nil || id < 0 || id > 7 || lun < 0 || lun > 7 {
		return "error: invalid id/lun"
	}
	password := fields[3]

	op := opProtectSet
	if strings.EqualFold(fields[0], "unprotect") {
		op = opProtectClear
	}
	if _, err := d.Submit(op, id, lun, password); err != nil {
		return "error: " + classifyAttachError(err)
	}
	return fmt.Sprintf("ok: %d %d", id, lun)
}

func (d *Daemon) dispatchAttachLine(fields []string) string {
	if len(fields) != 5 {
		return "error: invalid command"
	}

	id, errID := strconv.Atoi(fields[0])
	lun, errLUN := strconv.Atoi(fields[1])
	if errID != nil || errLUN != nil || id < 0 || id > 7 || lun < 0 || lun > 7 {
		return "error: invalid id/lun"
	}

	cmd, err := strconv.Atoi(fields[2])
	if err != nil || cmd < int(cmdAttach) || cmd > int(cmdProtectToggle) {
		return "error: invalid command"
	}

	typ, err := strconv.Atoi(fields[3])
	if err != nil || typ < typeHDF || typ > typeBridge {
		return "error: invalid command"
	}

	path := fields[4]

	var op requestOp
	switch cmdCode(cmd) {
	case cmdAttach:
		op = opAttach
	case cmdDetach:
		op = opDetach
	case cmdInsert:
		op = opInsert
	case cmdEject:
		op = opEject
	case cmdProtectToggle:
		op = opProtectToggle
	}

	if _, err := d.Submit(op, id, lun, path); err != nil {
		return "error: " + classifyAttachError(err)
	}
	return fmt.Sprintf("ok: %d %d", id, lun)
}

// classifyAttachError renders an apply() error in the vocabulary spec.md §6
// names, using errors.Is against the sentinels apply()'s helpers wrap rather
// than sniffing error text.
func classifyAttachError(err error) string {
	switch {
	case errors.Is(err, ErrNotRemovable), errors.Is(err, ErrNotMO), errors.Is(err, ErrEjectRefused),
		errors.Is(err, ErrAlreadyProtected), errors.Is(err, ErrNotProtected), errors.Is(err, ErrProtectedMedia):
		return "operation denied: " + err.Error()
	case errors.Is(err, ErrWrongPassword):
		return "incorrect password: " + err.Error()
	case errors.Is(err, ErrImageOpenFail):
		return "file open error: " + err.Error()
	case errors.Is(err, ErrNoController), errors.Is(err, ErrNoLUN):
		return "invalid id/lun: " + err.Error()
	default:
		return err.Error()
	}
}
