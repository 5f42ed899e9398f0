// SPDX-License-Identifier: MIT

// Package engine implements the supervision core: the per-service state
// machine, the restart-with-retry-budget policy, signal fan-out to live
// children, and the single-owner event loop that serializes every state
// mutation onto one goroutine.
//
// Every exported Supervisor method that touches service state is
// synchronous from the caller's point of view but executes on the loop
// goroutine internally, so concurrent control-socket sessions, timers,
// and child-exit watchers never race on the service table.
package engine

import (
	"os/exec"
	"time"
)

// State is a service's position in the supervision state machine.
type State int

const (
	StateDown State = iota
	StateStart
	StateUp
	StateRestart
	StateStop
	StateFail
	StateFatal
)

func (s State) String() string {
	switch s {
	case StateDown:
		return "down"
	case StateStart:
		return "start"
	case StateUp:
		return "up"
	case StateRestart:
		return "restart"
	case StateStop:
		return "stop"
	case StateFail:
		return "fail"
	case StateFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ServiceConfig is the immutable-after-init configuration for one declared
// command. Zero/negative timing fields are normalized to defaults by the
// config loader before the engine ever sees them (see internal/config).
type ServiceConfig struct {
	Name         string
	Cmd          string
	StartRetries int // 0 disables restart, >0 bounds attempts, <0 unbounded
	RestartDelay time.Duration
	StartWait    time.Duration
	StopWait     time.Duration
	Umask        *int
	User         string
	Group        string
}

// Default values applied by the config loader. StartRetries takes its
// default only when unset (0 and negative values are kept); the timing
// fields take theirs when unset, zero or negative.
const (
	DefaultStartRetries = 8
	DefaultRestartDelay = 1 * time.Second
	DefaultStartWait    = 1 * time.Second
	DefaultStopWait     = 0 * time.Second
)

// serviceRecord is the mutable state for one declared service. It is
// owned exclusively by the loop goroutine; every field access happens
// from inside a closure submitted to the Supervisor's command channel.
type serviceRecord struct {
	cfg *ServiceConfig

	state      State
	pid        int
	startCount int
	startTS    time.Time
	lastStatus int
	once       bool

	cmd *exec.Cmd

	// generation increments on every cancelPending call. Timer callbacks
	// capture the generation at schedule time and no-op if it has since
	// changed, guarding against a Stop() that raced with the timer firing.
	generation uint64
	pendingTimer *time.Timer

	// spawnToken increments only when start() actually forks a new child.
	// watchChild captures it instead of generation: a stop() bumps
	// generation (to invalidate the stop_wait/restart timers it's not
	// touching) but must not suppress delivery of the exit it is itself
	// waiting on, so the child watcher needs a counter that tracks spawns,
	// not timer cancellations.
	spawnToken uint64
}

// cancelPending stops any outstanding timer for this record and bumps the
// generation counter, invalidating in-flight timer callbacks. A service
// has at most one pending timer (restart_delay, start_wait, or stop_wait)
// at any time; every place that arms a new one calls this first.
func (r *serviceRecord) cancelPending() {
	if r.pendingTimer != nil {
		r.pendingTimer.Stop()
		r.pendingTimer = nil
	}
	r.generation++
}

// Status is the snapshot returned by the `status` control verb, rendered
// as a space-joined tuple by the control package.
type Status struct {
	State      State
	Pid        int  // 0 if no live child
	Uptime     time.Duration
	StartCount int
}

// NamedStatus pairs a service name with its status, used for the bare
// `status` command that reports on every declared service.
type NamedStatus struct {
	Name   string
	Status Status
}
