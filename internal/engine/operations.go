// SPDX-License-Identifier: MIT

package engine

import "syscall"

// Up brings name to the up state: if it is down, fail, or fatal, it is
// started; if it is already running, Up is a no-op. Returns the child's
// pid (0, rendered "fail" by the control dispatch table, if spawning
// failed), matching spec §4.2's "return new pid or fail".
func (s *Supervisor) Up(name string) (Result, error) {
	var res Result
	var err error
	s.submit(func() {
		rec, ok := s.lookup(name)
		if !ok {
			err = ErrUnknownService(name)
			return
		}
		switch rec.state {
		case StateDown, StateFail, StateFatal:
			s.start(rec, false)
		}
		res = rec.pid
	})
	return res, err
}

// Once starts name if it is not already up, and marks it so its next
// exit (of any status) is never restarted. Matches the control
// protocol's `once` verb.
func (s *Supervisor) Once(name string) (Result, error) {
	var res Result
	var err error
	s.submit(func() {
		rec, ok := s.lookup(name)
		if !ok {
			err = ErrUnknownService(name)
			return
		}
		switch rec.state {
		// StateRestart has no live child either, just a pending restart
		// timer; start() cancels that timer via cancelPending, so this is
		// the only way to honor the once intent instead of letting the
		// timer eventually fire and silently reset once to false.
		case StateDown, StateFail, StateFatal, StateRestart:
			s.start(rec, true)
		default:
			rec.once = true
		}
		res = rec.pid
	})
	return res, err
}

// Down stops name: sends TERM (then KILL after stop_wait) and prevents
// any further auto-restart until a subsequent Up/Once. The returned
// Result is the kernel kill(2) outcome for the TERM delivery, matching
// the wire protocol's "down a" -> "down a <kill-result>" scenario.
func (s *Supervisor) Down(name string) (Result, error) {
	var res Result
	var err error
	s.submit(func() {
		rec, ok := s.lookup(name)
		if !ok {
			err = ErrUnknownService(name)
			return
		}
		if s.stop(rec) {
			res = 1
		} else {
			res = 0
		}
	})
	return res, err
}

// SignalService sends sig to name's live child without altering its
// supervised state, mirroring the pause/cont/hup/alarm/quit/usr1/usr2
// control verbs. The returned Result is the kernel kill(2) outcome (1
// delivered, 0 no live child or delivery failed), matching the wire
// protocol's falsy-is-fail convention.
func (s *Supervisor) SignalService(name string, sig syscall.Signal) (Result, error) {
	var res Result
	var err error
	s.submit(func() {
		rec, ok := s.lookup(name)
		if !ok {
			err = ErrUnknownService(name)
			return
		}
		if signalPid(rec.pid, sig) {
			res = 1
		} else {
			res = 0
		}
	})
	return res, err
}

// Status reports a snapshot of name's current state.
func (s *Supervisor) Status(name string) (Status, error) {
	var st Status
	var err error
	s.submit(func() {
		rec, ok := s.lookup(name)
		if !ok {
			err = ErrUnknownService(name)
			return
		}
		st = snapshotStatus(rec)
	})
	return st, err
}

// AllStatuses reports a snapshot for every declared service, in the same
// deterministic order Run uses to start them.
func (s *Supervisor) AllStatuses() []NamedStatus {
	var out []NamedStatus
	s.submit(func() {
		names := s.sortedNames()
		out = make([]NamedStatus, 0, len(names))
		for _, name := range names {
			rec := s.services[name]
			out = append(out, NamedStatus{Name: name, Status: snapshotStatus(rec)})
		}
	})
	return out
}

func snapshotStatus(rec *serviceRecord) Status {
	return Status{
		State:      rec.state,
		Pid:        rec.pid,
		Uptime:     idleDuration(rec.startTS),
		StartCount: rec.startCount,
	}
}
