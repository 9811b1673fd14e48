// Package procsup implements the C1 supervisor: spawn a child, wait for
// it, sleep, repeat forever, with a detached child session and a parent
// that ignores termination signals (spec.md §4.1).
package procsup

import (
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/canonical/dcxfer/internal/dclog"
	"github.com/canonical/dcxfer/internal/dcsignal"
)

// Config describes the child program to supervise.
type Config struct {
	IntervalSec time.Duration
	Program     string
	Argv        []string
}

// Supervisor drives the spawn/wait/sleep loop.
type Supervisor struct {
	cfg Config
	log *dclog.Logger
}

// New builds a Supervisor for cfg. Callers must call
// dcsignal.IgnoreTerminating() before Run, per spec.md §4.1 invariant (i);
// Run does not do this itself so tests can exercise it without affecting
// the whole test binary's signal disposition.
func New(cfg Config, log *dclog.Logger) *Supervisor {
	return &Supervisor{cfg: cfg, log: log}
}

// Run spawns cfg.Program, waits for it, sleeps cfg.IntervalSec, and
// repeats indefinitely (spec.md §4.1 "repeats indefinitely"). It returns
// only if stop is non-nil and reports true between cycles; with a nil stop
// (as cmd/dcsupervisor passes) it never returns.
func (s *Supervisor) Run(stop func() bool) error {
	for {
		if stop != nil && stop() {
			return nil
		}

		if err := s.runOnce(); err != nil {
			if s.log != nil {
				s.log.WithFields(dclog.Ctx{"program": s.cfg.Program, "err": err}).Warn("procsup: child run failed")
			}
		}

		time.Sleep(s.cfg.IntervalSec)
	}
}

// runOnce spawns exactly one child, with a detached session and closed
// standard IO (spec.md §4.1 invariant iii: "the child inherits a detached
// session... so that terminal disconnects do not cascade"), and waits for
// it to exit.
func (s *Supervisor) runOnce() error {
	cmd := exec.Command(s.cfg.Program, s.cfg.Argv...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("procsup: start %s: %w", s.cfg.Program, err)
	}

	if s.log != nil {
		s.log.WithFields(dclog.Ctx{"program": s.cfg.Program, "pid": cmd.Process.Pid}).Info("procsup: child started")
	}

	err := cmd.Wait()
	if s.log != nil {
		s.log.WithFields(dclog.Ctx{"program": s.cfg.Program, "pid": cmd.Process.Pid}).Info("procsup: child exited")
	}
	if err != nil {
		return fmt.Errorf("procsup: wait %s: %w", s.cfg.Program, err)
	}
	return nil
}

// IgnoreTerminating makes the calling process immune to INT/TERM, per
// spec.md §4.1 invariant (i): "the supervisor itself ignores INT/TERM and
// all normal terminating signals". Call this once at supervisor startup.
func IgnoreTerminating() {
	dcsignal.IgnoreTerminating()
}
