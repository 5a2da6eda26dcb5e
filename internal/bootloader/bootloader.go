// Package bootloader arms, requests and detects the reboot that activates
// an installed image.
package bootloader

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/breeze-rmm/swupdate-agent/internal/logging"
	"github.com/breeze-rmm/swupdate-agent/internal/state"
)

var log = logging.L("bootloader")

// Host detects reboots by comparing the kernel boot time with the one
// recorded when the update was armed. The reboot-pending flag and the
// recorded boot time live in the agent state store.
type Host struct {
	store         *state.Store
	rebootCommand []string

	bootTime func() (uint64, error)
	run      func(name string, args ...string) error
	sync     func()
}

// NewHost returns a Host. An empty rebootCommand selects the platform
// default.
func NewHost(store *state.Store, rebootCommand string) *Host {
	cmd := strings.Fields(rebootCommand)
	if len(cmd) == 0 {
		cmd = strings.Fields(defaultRebootCommand)
	}
	return &Host{
		store:         store,
		rebootCommand: cmd,
		bootTime:      host.BootTime,
		run:           runCommand,
		sync:          syncFilesystems,
	}
}

// UpdateNotify arms reboot detection for a freshly installed image.
func (h *Host) UpdateNotify() error {
	bt, err := h.bootTime()
	if err != nil {
		return fmt.Errorf("read boot time: %w", err)
	}
	_, err = h.store.Update(func(r *state.Record) error {
		r.RebootPending = true
		r.BootTime = bt
		return nil
	})
	if err != nil {
		return fmt.Errorf("arm reboot detection: %w", err)
	}
	log.Info("reboot detection armed", "bootTime", bt)
	return nil
}

// RebootDetected reports whether the system has booted since UpdateNotify.
// It is false when no update is armed or the state cannot be read.
func (h *Host) RebootDetected() bool {
	r, err := h.store.Load()
	if err != nil {
		log.Warn("cannot read reboot state", "error", err)
		return false
	}
	if !r.RebootPending {
		return false
	}
	bt, err := h.bootTime()
	if err != nil {
		log.Warn("cannot read boot time", "error", err)
		return false
	}
	return bt != 0 && bt != r.BootTime
}

// RebootFlagClear disarms reboot detection.
func (h *Host) RebootFlagClear() error {
	_, err := h.store.Update(func(r *state.Record) error {
		r.RebootPending = false
		r.BootTime = 0
		return nil
	})
	if err != nil {
		return fmt.Errorf("clear reboot flag: %w", err)
	}
	return nil
}

// Reboot flushes filesystem buffers and runs the reboot command.
func (h *Host) Reboot() error {
	h.sync()
	log.Info("requesting reboot", "command", strings.Join(h.rebootCommand, " "))
	if err := h.run(h.rebootCommand[0], h.rebootCommand[1:]...); err != nil {
		return fmt.Errorf("reboot: %w", err)
	}
	return nil
}

func runCommand(name string, args ...string) error {
	out, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%s exited with %d: %s", name, exitErr.ExitCode(), strings.TrimSpace(string(out)))
		}
		return err
	}
	return nil
}
