// SPDX-License-Identifier: MIT

package control

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/tomtom215/svctl/internal/engine"
)

// idleTimeout and maxLine implement spec §4.3: "Idle timeout: 30s. Read
// and write buffers capped at 64 bytes each; oversize input closes the
// connection with an error."
const (
	idleTimeout = 30 * time.Second
	maxLine     = 64
)

// Logger is the leveled sink session logs connection-level debug/error
// events to.
type Logger interface {
	Debugf(format string, args ...any)
	Errorf(format string, args ...any)
}

// serveSession drives one accepted connection to completion: read a
// line, dispatch it, write the response, repeat until quit/EOF/timeout.
// Every state-mutating call goes through sup's public API, which itself
// funnels onto the single loop goroutine — sessions never touch service
// records directly, per spec §9's "mutable records shared by reference"
// design note.
func serveSession(conn net.Conn, sup *engine.Supervisor, logger Logger) {
	defer conn.Close()

	for {
		line, err := readLine(conn, idleTimeout)
		if err != nil {
			if logger != nil {
				logger.Debugf("control session %s: %v", conn.RemoteAddr(), err)
			}
			return
		}

		trimmed := strings.TrimSpace(line)
		if trimmed == "quit" || trimmed == "." {
			return
		}

		response := handleLine(sup, trimmed)

		// Spec §4.3: every accepted line is echoed back with a leading
		// newline before the response line.
		if err := writeLine(conn, idleTimeout, "\n"+response); err != nil {
			if logger != nil {
				logger.Debugf("control session %s: write failed: %v", conn.RemoteAddr(), err)
			}
			return
		}
	}
}

// handleLine implements the request grammar: bare "status", "<verb>
// <svc>", or anything else is "unknown".
func handleLine(sup *engine.Supervisor, line string) string {
	if line == "status" {
		return renderAllStatuses(sup)
	}

	fields := strings.Fields(line)
	if len(fields) != 2 {
		return line + " unknown\n"
	}

	verb, name := fields[0], fields[1]
	if !sup.HasService(name) {
		return line + " unknown\n"
	}

	result, ok := dispatch(sup, verb, name)
	if !ok {
		return line + " unknown\n"
	}
	return fmt.Sprintf("%s %s\n", line, renderResult(result))
}

// renderAllStatuses implements the bare `status` command: one line per
// declared service, "<name> <status_tuple>".
func renderAllStatuses(sup *engine.Supervisor) string {
	var sb strings.Builder
	for _, ns := range sup.AllStatuses() {
		fmt.Fprintf(&sb, "%s %s\n", ns.Name, renderStatus(ns.Status))
	}
	return sb.String()
}

// readLine reads up to maxLine bytes terminated by '\n', enforcing
// idleTimeout and the hard size cap: bufio.Reader.ReadString has no
// length limit of its own, so the cap is enforced byte-at-a-time here.
func readLine(conn net.Conn, timeout time.Duration) (string, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return "", err
	}

	buf := make([]byte, 0, maxLine)
	one := make([]byte, 1)
	for {
		n, err := conn.Read(one)
		if n == 1 {
			if one[0] == '\n' {
				return string(buf), nil
			}
			if len(buf) >= maxLine {
				return "", fmt.Errorf("line exceeds %d byte cap", maxLine)
			}
			buf = append(buf, one[0])
		}
		if err != nil {
			return "", err
		}
	}
}

// writeLine writes s to conn under a write deadline, enforcing the
// 64-byte write buffer cap per line by chunking.
func writeLine(conn net.Conn, timeout time.Duration, s string) error {
	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	data := []byte(s)
	for len(data) > 0 {
		n := maxLine
		if n > len(data) {
			n = len(data)
		}
		written, err := conn.Write(data[:n])
		if err != nil {
			return err
		}
		data = data[written:]
	}
	return nil
}
