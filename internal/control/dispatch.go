// SPDX-License-Identifier: MIT

package control

import (
	"fmt"
	"strconv"
	"syscall"

	"github.com/tomtom215/svctl/internal/engine"
)

// operation is one verb's handler: dispatch from verb to function is a
// plain map, per spec §9's "dynamic command table" design note (a typed
// enum with a switch would be equally correct; the map is what reads
// closest to the original's dispatch-table idiom).
type operation func(sup *engine.Supervisor, name string) (engine.Result, error)

var verbTable = map[string]operation{
	"up":   func(s *engine.Supervisor, n string) (engine.Result, error) { return s.Up(n) },
	"once": func(s *engine.Supervisor, n string) (engine.Result, error) { return s.Once(n) },
	"down": func(s *engine.Supervisor, n string) (engine.Result, error) { return s.Down(n) },

	"pause": signalOp(syscall.SIGSTOP),
	"cont":  signalOp(syscall.SIGCONT),
	"hup":   signalOp(syscall.SIGHUP),
	"alarm": signalOp(syscall.SIGALRM),
	"int":   signalOp(syscall.SIGINT),
	"quit":  signalOp(syscall.SIGQUIT),
	"usr1":  signalOp(syscall.SIGUSR1),
	"usr2":  signalOp(syscall.SIGUSR2),
	"term":  signalOp(syscall.SIGTERM),
	"kill":  signalOp(syscall.SIGKILL),
}

func signalOp(sig syscall.Signal) operation {
	return func(s *engine.Supervisor, n string) (engine.Result, error) {
		return s.SignalService(n, sig)
	}
}

// dispatch looks up verb and applies it to name. ok is false for an
// unknown verb or an unknown service, in which case the session writes
// the "<line> unknown" wire response rather than a result line.
func dispatch(sup *engine.Supervisor, verb, name string) (result engine.Result, ok bool) {
	op, known := verbTable[verb]
	if !known {
		return nil, false
	}
	res, err := op(sup, name)
	if err != nil {
		return nil, false
	}
	return res, true
}

// renderResult implements spec §4.3's "arrays space-joined, and the
// literal 'fail' when the op returns a falsy value" wire rendering.
func renderResult(r engine.Result) string {
	if isFalsy(r) {
		return "fail"
	}
	switch v := r.(type) {
	case []string:
		out := ""
		for i, s := range v {
			if i > 0 {
				out += " "
			}
			out += s
		}
		return out
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case bool:
		if v {
			return "1"
		}
		return "fail"
	default:
		return fmt.Sprintf("%v", v)
	}
}

// isFalsy reports whether r renders as the wire protocol's literal
// "fail": nil, zero int, empty string, false, or an empty slice.
func isFalsy(r engine.Result) bool {
	switch v := r.(type) {
	case nil:
		return true
	case int:
		return v == 0
	case string:
		return v == ""
	case bool:
		return !v
	case []string:
		return len(v) == 0
	default:
		return false
	}
}

// renderStatus implements the status op's tuple rules: "(state, pid,
// uptime_seconds) if running; else (state, start_count) if a restart
// burst is in progress; else state."
func renderStatus(st engine.Status) string {
	switch st.State {
	case engine.StateUp:
		return fmt.Sprintf("%s %d %.0f", st.State, st.Pid, st.Uptime.Seconds())
	case engine.StateStart, engine.StateRestart:
		if st.StartCount > 0 {
			return fmt.Sprintf("%s %d", st.State, st.StartCount)
		}
		return st.State.String()
	default:
		return st.State.String()
	}
}
