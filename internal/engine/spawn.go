// SPDX-License-Identifier: MIT

package engine

import (
	"os/exec"
	"os/user"
	"strconv"
	"syscall"
)

// forkExec builds and starts the child process for rec per spec §4.2's
// spawn procedure: resolve credentials, compute the effective umask,
// fork, and exec the command through the platform shell so shell syntax
// in Cmd works.
//
// The umask is process-wide in the Go runtime, so it is snapshotted and
// restored immediately around the Start() call; since forkExec only ever
// runs from inside a loop-goroutine closure, there is at most one fork in
// flight at a time and the snapshot/restore window is safe.
func (s *Supervisor) forkExec(rec *serviceRecord) (*exec.Cmd, int, error) {
	cmd := exec.Command("/bin/sh", "-c", rec.cfg.Cmd)

	attr, err := buildSysProcAttr(rec.cfg)
	if err != nil {
		return nil, 0, err
	}
	cmd.SysProcAttr = attr

	effectiveUmask := s.cfg.Umask
	if rec.cfg.Umask != nil {
		effectiveUmask = rec.cfg.Umask
	}

	var restore func()
	if effectiveUmask != nil {
		prev := syscall.Umask(*effectiveUmask)
		restore = func() { syscall.Umask(prev) }
	}

	err = cmd.Start()
	if restore != nil {
		restore()
	}
	if err != nil {
		return nil, 0, err
	}

	return cmd, cmd.Process.Pid, nil
}

// buildSysProcAttr resolves User/Group to numeric uid/gid. The Go
// runtime's forkAndExecInChild applies Gid before Uid when both are set
// on Credential, matching spec §4.2's required ordering (gid change
// happens before the uid change that would otherwise revoke permission
// to change it).
func buildSysProcAttr(cfg *ServiceConfig) (*syscall.SysProcAttr, error) {
	if cfg.User == "" && cfg.Group == "" {
		return nil, nil
	}

	cred := &syscall.Credential{}

	if cfg.Group != "" {
		g, err := user.LookupGroup(cfg.Group)
		if err != nil {
			return nil, err
		}
		gid, err := strconv.Atoi(g.Gid)
		if err != nil {
			return nil, err
		}
		cred.Gid = uint32(gid)
	}

	if cfg.User != "" {
		u, err := user.Lookup(cfg.User)
		if err != nil {
			return nil, err
		}
		uid, err := strconv.Atoi(u.Uid)
		if err != nil {
			return nil, err
		}
		cred.Uid = uint32(uid)

		if cfg.Group == "" {
			gid, err := strconv.Atoi(u.Gid)
			if err != nil {
				return nil, err
			}
			cred.Gid = uint32(gid)
		}
	}

	return &syscall.SysProcAttr{Credential: cred}, nil
}

// watchChild waits for the spawned process to exit and hands the result
// back to the loop goroutine. Delivered at most once per spawned pid.
// token is the spawnToken captured at start() time, not the generation
// counter: a stop() bumps generation to invalidate the stop_wait timer,
// but that must not also suppress the very exit stop() is waiting for, so
// staleness here is judged only against a later start() having spawned a
// new child.
func (s *Supervisor) watchChild(rec *serviceRecord, token uint64, cmd *exec.Cmd) {
	err := cmd.Wait()
	status := waitStatusCode(err)
	s.submit(func() {
		if rec.spawnToken != token {
			return // superseded by a later start before this was delivered
		}
		s.handleChildExit(rec, status)
	})
}

// waitStatusCode extracts the exit-status byte per spec §3's
// last_status definition: the exit status shifted to pull out the code
// byte, matching the classic wait(2) encoding.
func waitStatusCode(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			return int(ws) >> 8
		}
	}
	return -1
}

// signalPid sends sig to pid and reports whether the kernel accepted it,
// matching the "kernel kill result" the control protocol surfaces for
// up/down/signal verbs.
func signalPid(pid int, sig syscall.Signal) bool {
	if pid == 0 {
		return false
	}
	return syscall.Kill(pid, sig) == nil
}
