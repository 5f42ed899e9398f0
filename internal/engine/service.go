// SPDX-License-Identifier: MIT

package engine

import (
	"os"
	"syscall"
	"time"

	"github.com/tomtom215/svctl/internal/util"
)

// start transitions rec from down (or fail/restart) into start and forks
// the child. once marks the record so handleChildExit never restarts it
// regardless of exit status. It must only be called from the loop
// goroutine.
func (s *Supervisor) start(rec *serviceRecord, once bool) {
	rec.cancelPending()
	rec.state = StateStart
	rec.once = once
	rec.startCount++

	cmd, pid, err := s.forkExec(rec)
	if err != nil {
		s.logf("service %s: spawn failed (attempt %d): %v", rec.cfg.Name, rec.startCount, err)
		if rec.cfg.StartRetries == 0 || (rec.cfg.StartRetries > 0 && rec.startCount >= rec.cfg.StartRetries) {
			s.enterFatal(rec)
		} else {
			s.enterFail(rec)
		}
		return
	}

	rec.cmd = cmd
	rec.pid = pid
	rec.startTS = time.Now()
	gen := rec.generation
	rec.spawnToken++
	token := rec.spawnToken
	s.logf("service %s: started pid %d (attempt %d)", rec.cfg.Name, pid, rec.startCount)

	// watchChild blocks on cmd.Wait() for the life of the child; SafeGo
	// keeps a panic there (e.g. a future refactor bug) from taking down
	// every other supervised service sharing this process. It is keyed on
	// spawnToken, not generation: stop() bumps generation to invalidate
	// the timers it isn't using, but this is the exit stop() is waiting
	// for, so delivery must not be suppressed by that bump.
	util.SafeGo("watch-child:"+rec.cfg.Name, os.Stderr, func() {
		s.watchChild(rec, token, cmd)
	}, nil)

	if rec.cfg.StartWait > 0 {
		s.armTimer(rec, rec.cfg.StartWait, func() { s.checkStartWait(rec, gen) })
	} else {
		s.promoteToUp(rec)
	}
}

// armTimer schedules fn to run on the loop goroutine after d, tagged with
// rec's current generation so a subsequent cancelPending invalidates it.
func (s *Supervisor) armTimer(rec *serviceRecord, d time.Duration, fn func()) {
	rec.pendingTimer = time.AfterFunc(d, func() {
		s.submit(fn)
	})
}

// checkStartWait fires start_wait after time out: per spec's resolution of
// the start_wait/child-exit race, child-exit wins unconditionally, so this
// is a no-op whenever the record has already left StateStart (the exit
// handler is what moved it there).
func (s *Supervisor) checkStartWait(rec *serviceRecord, gen uint64) {
	if rec.generation != gen || rec.state != StateStart {
		return
	}
	s.promoteToUp(rec)
}

// promoteToUp moves rec into up and clears start_count: surviving past
// start_wait ends the current retry burst per spec's "start_count is
// cleared by reaching up, down, or fatal."
func (s *Supervisor) promoteToUp(rec *serviceRecord) {
	rec.state = StateUp
	rec.startCount = 0
	s.logf("service %s: up (pid %d)", rec.cfg.Name, rec.pid)
}

// handleChildExit runs on the loop goroutine when watchChild reports a
// completed wait(2). It implements the restart-with-retry-budget policy
// and the stop/restart/fail/fatal transitions of spec §4.1.
func (s *Supervisor) handleChildExit(rec *serviceRecord, status int) {
	wasOnce := rec.once
	rec.lastStatus = status
	rec.pid = 0
	rec.cmd = nil

	s.logf("service %s: exited with status %d (was %s)", rec.cfg.Name, status, rec.state)

	switch rec.state {
	case StateStop:
		rec.cancelPending()
		rec.state = StateDown
		rec.startCount = 0
		return
	case StateFatal:
		return
	}

	if wasOnce {
		rec.cancelPending()
		rec.state = StateFatal
		rec.startCount = 0
		return
	}

	if rec.cfg.StartRetries == 0 {
		s.enterFatal(rec)
		return
	}

	if rec.cfg.StartRetries > 0 && rec.startCount >= rec.cfg.StartRetries {
		s.enterFatal(rec)
		return
	}

	s.enterFail(rec)
}

// enterFail moves rec into the fail/restart-pending state and arms the
// fixed restart_delay timer. Unlike the teacher's stream manager, this
// delay is never backed off exponentially: spec §4.1 mandates a constant
// restart_delay per service.
func (s *Supervisor) enterFail(rec *serviceRecord) {
	rec.cancelPending()
	rec.state = StateRestart
	gen := rec.generation
	s.logf("service %s: restarting in %s", rec.cfg.Name, rec.cfg.RestartDelay)
	s.armTimer(rec, rec.cfg.RestartDelay, func() {
		if rec.generation != gen || rec.state != StateRestart {
			return
		}
		s.start(rec, false)
	})
}

// enterFatal moves rec into fatal: the retry budget is exhausted and the
// service will never be restarted automatically again. Only an explicit
// `up` or `once` command can bring it back.
func (s *Supervisor) enterFatal(rec *serviceRecord) {
	rec.cancelPending()
	rec.state = StateFatal
	s.logf("service %s: start_retries exhausted after %d attempts, giving up", rec.cfg.Name, rec.startCount)
}

// stop transitions rec toward down: sends TERM immediately, then KILL
// after stop_wait if the child has not exited by then. If rec has no live
// child, it is simply parked in down. Returns whether the kernel accepted
// the TERM delivery (false if there was no live child to signal).
func (s *Supervisor) stop(rec *serviceRecord) bool {
	rec.cancelPending()

	if rec.pid == 0 {
		rec.state = StateDown
		return false
	}

	rec.state = StateStop
	pid := rec.pid
	delivered := signalPid(pid, syscall.SIGTERM)

	if rec.cfg.StopWait > 0 {
		gen := rec.generation
		s.armTimer(rec, rec.cfg.StopWait, func() {
			if rec.generation != gen || rec.pid != pid {
				return
			}
			s.logf("service %s: stop_wait elapsed, sending KILL to pid %d", rec.cfg.Name, pid)
			signalPid(pid, syscall.SIGKILL)
		})
	}

	return delivered
}
