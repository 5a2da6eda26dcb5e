// Package lifecycle drives an update through install, reboot and
// post-reboot verification, persisting its phase so that finalize can run
// in the process that starts after the reboot.
package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"github.com/breeze-rmm/swupdate-agent/internal/audit"
	"github.com/breeze-rmm/swupdate-agent/internal/logging"
	"github.com/breeze-rmm/swupdate-agent/internal/session"
	"github.com/breeze-rmm/swupdate-agent/internal/state"
	"github.com/breeze-rmm/swupdate-agent/pkg/api"
)

var log = logging.L("lifecycle")

// Installer runs one install attempt.
type Installer interface {
	Install(ctx context.Context, target api.Target) session.Outcome
}

// Bootloader arms, requests and detects the activating reboot.
type Bootloader interface {
	UpdateNotify() error
	Reboot() error
	RebootDetected() bool
	RebootFlagClear() error
}

// VersionSource reports the hash of the image the system is running.
type VersionSource interface {
	CurrentVersionHash() (string, error)
}

// Manager is the install lifecycle state machine:
// idle → installing → awaiting_reboot → verifying → done.
type Manager struct {
	installer Installer
	boot      Bootloader
	version   VersionSource
	store     *state.Store
	journal   *audit.Journal

	mu sync.Mutex
}

// New returns a Manager. journal may be nil.
func New(installer Installer, boot Bootloader, version VersionSource, store *state.Store, journal *audit.Journal) *Manager {
	return &Manager{
		installer: installer,
		boot:      boot,
		version:   version,
		store:     store,
		journal:   journal,
	}
}

// Status returns the persisted lifecycle record.
func (m *Manager) Status() (state.Record, error) {
	return m.store.Load()
}

// Install runs an install attempt. On success the manager waits for a
// reboot and returns NeedCompletion; any failure ends the lifecycle with
// InstallFailed.
func (m *Manager) Install(ctx context.Context, target api.Target) api.InstallationResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.store.Update(func(r *state.Record) error {
		r.Phase = state.PhaseInstalling
		r.PendingTarget = &target
		r.SessionID = ""
		return nil
	}); err != nil {
		return api.Failed(api.KindState, fmt.Sprintf("persist install state: %v", err))
	}
	m.journal.Record(audit.Entry{Event: audit.EventInstallStarted, Target: target.Filename,
		Details: map[string]any{"uri": target.URI, "length": target.Length, "hashType": string(target.Hash.Type)}})

	out := m.installer.Install(ctx, target)
	res := out.Result

	if res.Code == api.ResultNeedCompletion {
		if err := m.boot.UpdateNotify(); err != nil {
			res = api.Failed(api.KindState, fmt.Sprintf("image installed but reboot detection could not be armed: %v", err))
		}
	}

	_, err := m.store.Update(func(r *state.Record) error {
		r.SessionID = out.SessionID
		r.LastResult = &res
		if res.Code == api.ResultNeedCompletion {
			r.Phase = state.PhaseAwaitingReboot
			return nil
		}
		r.Phase = state.PhaseDone
		r.PendingTarget = nil
		return nil
	})
	if err != nil {
		log.Error("failed to persist install result", "error", err)
		if res.Success() {
			res = api.Failed(api.KindState, fmt.Sprintf("persist install result: %v", err))
		}
	}

	m.journal.Record(audit.Entry{Event: audit.EventInstallResult, SessionID: out.SessionID, Target: target.Filename,
		Result: &res, Details: map[string]any{"bytes": out.Bytes, logging.KeyDurationMs: out.Duration.Milliseconds()}})
	return res
}

// CompleteInstall asks the bootloader to reboot into the new image. The
// phase does not change here; the next process observes the reboot in
// FinalizeInstall.
func (m *Manager) CompleteInstall() error {
	m.journal.Record(audit.Entry{Event: audit.EventRebootRequested})
	return m.boot.Reboot()
}

// FinalizePending finalizes the persisted pending target. With nothing
// pending it returns Ok.
func (m *Manager) FinalizePending() (api.InstallationResult, error) {
	r, err := m.store.Load()
	if err != nil {
		return api.InstallationResult{}, err
	}
	if r.PendingTarget == nil {
		return api.NewResult(api.ResultOk, "no install pending"), nil
	}
	return m.FinalizeInstall(*r.PendingTarget), nil
}

// FinalizeInstall checks whether the system rebooted into target. Until a
// reboot is detected it returns NeedCompletion and changes nothing. Once
// detected, the running version is compared with the target hash and the
// reboot flag is cleared whatever the outcome.
func (m *Manager) FinalizeInstall(target api.Target) api.InstallationResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.boot.RebootDetected() {
		return api.NewResult(api.ResultNeedCompletion, "reboot not yet detected")
	}

	if _, err := m.store.Update(func(r *state.Record) error {
		r.Phase = state.PhaseVerifying
		return nil
	}); err != nil {
		log.Warn("failed to persist verifying phase", "error", err)
	}

	var res api.InstallationResult
	running, err := m.version.CurrentVersionHash()
	switch {
	case err != nil:
		res = api.Failed(api.KindVersionQuery, fmt.Sprintf("query running version: %v", err))
	case target.MatchesHash(running):
		res = api.NewResult(api.ResultOk, "update verified")
	default:
		res = api.Failed(api.KindWrongVersion, fmt.Sprintf("wrong version booted: expected %s, running %s", target.Hash.Value, running))
	}

	if err := m.boot.RebootFlagClear(); err != nil {
		log.Error("failed to clear reboot flag", "error", err)
	}

	if _, err := m.store.Update(func(r *state.Record) error {
		r.Phase = state.PhaseDone
		r.PendingTarget = nil
		r.LastResult = &res
		return nil
	}); err != nil {
		log.Error("failed to persist finalize result", "error", err)
	}

	m.journal.Record(audit.Entry{Event: audit.EventFinalizeResult, Target: target.Filename, Result: &res})
	if res.Success() {
		log.Info("update finalized", logging.KeyTarget, target.Filename)
	} else {
		log.Warn("update finalize failed", logging.KeyTarget, target.Filename, "kind", res.Kind, "message", res.Message)
	}
	return res
}
