// SPDX-License-Identifier: MIT

package engine

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"
)

// Logger is the leveled sink the engine emits its internal trace to. The
// engine only ever logs at its bound debug level (8); see internal/logging.
type Logger interface {
	Debugf(format string, args ...any)
}

// Config is the process-wide configuration the Supervisor needs beyond
// the per-service table: the default umask for forked children and the
// logger to trace events to.
type Config struct {
	Umask  *int
	Logger Logger
}

// Supervisor owns the service table and the single-owner event loop.
// Every field mutation on a serviceRecord happens inside a closure
// executed by the loop goroutine started from Run.
type Supervisor struct {
	cfg Config

	mu       sync.Mutex // guards only the services map itself (add/lookup), not record fields
	services map[string]*serviceRecord

	cmds      chan func()
	stopped   chan struct{}
	cancelRun context.CancelFunc
}

// New creates a Supervisor for the given declared services. Service
// records start in StateDown; Run starts every one still down.
func New(cfg Config, services []*ServiceConfig) *Supervisor {
	s := &Supervisor{
		cfg:      cfg,
		services: make(map[string]*serviceRecord, len(services)),
		cmds:     make(chan func()),
		stopped:  make(chan struct{}),
	}
	for _, sc := range services {
		sc := sc
		s.services[sc.Name] = &serviceRecord{cfg: sc, state: StateDown}
	}
	return s
}

func (s *Supervisor) logf(format string, args ...any) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.Debugf(format, args...)
	}
}

// drain is the single-owner loop goroutine: it executes every submitted
// closure to completion before picking up the next one, which is what
// makes concurrent callers (timers, child watchers, signal handler,
// control sessions) safe without locks on serviceRecord fields.
func (s *Supervisor) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-s.cmds:
			fn()
		}
	}
}

// submit posts fn to the loop goroutine and blocks until it has run to
// completion. It is safe to call from any goroutine except the loop
// goroutine itself (calling it from inside a running closure deadlocks,
// since the loop can't read its own next command while busy).
func (s *Supervisor) submit(fn func()) {
	done := make(chan struct{})
	wrapped := func() {
		fn()
		close(done)
	}
	select {
	case s.cmds <- wrapped:
	case <-s.stopped:
		return
	}
	select {
	case <-done:
	case <-s.stopped:
	}
}

// Run starts every declared service still down and blocks until a TERM is received,
// or an INT is received while no children are alive, or ctx is cancelled.
// Per spec §6, these are the only exit conditions.
func (s *Supervisor) Run(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancelRun = cancel

	drainDone := make(chan struct{})
	go func() {
		s.drain(loopCtx)
		close(drainDone)
		close(s.stopped)
	}()

	s.submit(func() {
		names := s.sortedNames()
		for _, name := range names {
			// A command that reached the loop first (e.g. once) may
			// already have started this service; never spawn a second child.
			if rec := s.services[name]; rec.state == StateDown {
				s.start(rec, false)
			}
		}
	})

	s.installSignalHandling(loopCtx)

	<-loopCtx.Done()
	<-drainDone
	return nil
}

// sortedNames returns service names in a deterministic order, used only
// for startup ordering and status enumeration; the spec does not require
// any particular order, but a stable one makes behavior reproducible.
func (s *Supervisor) sortedNames() []string {
	names := make([]string, 0, len(s.services))
	for name := range s.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Supervisor) installSignalHandling(ctx context.Context) {
	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	go func() {
		defer signal.Stop(sigCh)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigCh:
				s.submit(func() { s.handleProcessSignal(sig) })
			}
		}
	}()
}

// handleProcessSignal implements spec §4.2's supervisor-process signal
// handlers. It runs on the loop goroutine.
func (s *Supervisor) handleProcessSignal(sig os.Signal) {
	switch sig {
	case syscall.SIGTERM:
		s.logf("received TERM, signalling all children and exiting")
		s.signalAllChildren(syscall.SIGTERM)
		s.requestExit()
	case syscall.SIGINT:
		n := s.signalAllChildren(syscall.SIGINT)
		if n == 0 {
			s.logf("received INT with no live children, exiting")
			s.requestExit()
		} else {
			s.logf("received INT, signalled %d live child(ren), continuing", n)
		}
	case syscall.SIGHUP:
		s.signalAllChildren(syscall.SIGHUP)
	}
}

// signalAllChildren sends sig to every service with a live pid. Iteration
// order is unspecified; the returned count is what the INT/TERM handlers
// use to decide whether to exit.
func (s *Supervisor) signalAllChildren(sig syscall.Signal) int {
	n := 0
	for _, rec := range s.services {
		if signalPid(rec.pid, sig) {
			n++
		}
	}
	return n
}

func (s *Supervisor) requestExit() {
	if s.cancelRun != nil {
		s.cancelRun()
	}
}

// lookup resolves a service by name. Must only be called from the loop
// goroutine.
func (s *Supervisor) lookup(name string) (*serviceRecord, bool) {
	rec, ok := s.services[name]
	return rec, ok
}

// HasService reports whether name is a declared service.
func (s *Supervisor) HasService(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.services[name]
	return ok
}

// Close releases resources; Run already tears down the loop goroutine, so
// Close is only needed by callers that built a Supervisor but never
// called Run (e.g. config-validation tooling).
func (s *Supervisor) Close() {
	if s.cancelRun != nil {
		s.cancelRun()
	}
}

// idleDuration is a small helper kept for readability at call sites that
// compute uptime from a possibly-zero start time.
func idleDuration(since time.Time) time.Duration {
	if since.IsZero() {
		return 0
	}
	return time.Since(since)
}
