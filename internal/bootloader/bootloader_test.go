package bootloader

import (
	"errors"
	"testing"

	"github.com/spf13/afero"

	"github.com/breeze-rmm/swupdate-agent/internal/state"
)

type fakeClock struct {
	boot uint64
	err  error
}

func (c *fakeClock) BootTime() (uint64, error) { return c.boot, c.err }

func newTestHost(t *testing.T, clock *fakeClock) (*Host, *state.Store) {
	t.Helper()
	store := state.NewStore(afero.NewMemMapFs(), "/state")
	h := NewHost(store, "")
	h.bootTime = clock.BootTime
	h.sync = func() {}
	return h, store
}

func TestRebootDetectedRequiresArmedFlag(t *testing.T) {
	clock := &fakeClock{boot: 100}
	h, _ := newTestHost(t, clock)

	clock.boot = 200
	if h.RebootDetected() {
		t.Fatal("reboot detected without UpdateNotify")
	}
}

func TestRebootDetectedAfterBootTimeChanges(t *testing.T) {
	clock := &fakeClock{boot: 100}
	h, store := newTestHost(t, clock)

	if err := h.UpdateNotify(); err != nil {
		t.Fatalf("UpdateNotify: %v", err)
	}
	if h.RebootDetected() {
		t.Fatal("reboot detected before the boot time changed")
	}

	clock.boot = 250
	if !h.RebootDetected() {
		t.Fatal("reboot not detected after boot time changed")
	}

	if err := h.RebootFlagClear(); err != nil {
		t.Fatalf("RebootFlagClear: %v", err)
	}
	if h.RebootDetected() {
		t.Fatal("reboot still detected after the flag was cleared")
	}
	r, _ := store.Load()
	if r.RebootPending || r.BootTime != 0 {
		t.Fatalf("state after clear = %+v", r)
	}
}

func TestRebootDetectedBootTimeError(t *testing.T) {
	clock := &fakeClock{boot: 100}
	h, _ := newTestHost(t, clock)
	h.UpdateNotify()

	clock.err = errors.New("no /proc")
	if h.RebootDetected() {
		t.Fatal("boot time error must not count as a reboot")
	}
}

func TestUpdateNotifyBootTimeError(t *testing.T) {
	h, store := newTestHost(t, &fakeClock{err: errors.New("no /proc")})
	if err := h.UpdateNotify(); err == nil {
		t.Fatal("expected error")
	}
	if r, _ := store.Load(); r.RebootPending {
		t.Fatal("flag armed despite error")
	}
}

func TestRebootSyncsThenRunsCommand(t *testing.T) {
	store := state.NewStore(afero.NewMemMapFs(), "/state")
	h := NewHost(store, "/sbin/reboot -f")

	var order []string
	h.sync = func() { order = append(order, "sync") }
	h.run = func(name string, args ...string) error {
		order = append(order, name)
		if len(args) != 1 || args[0] != "-f" {
			t.Fatalf("args = %v", args)
		}
		return nil
	}

	if err := h.Reboot(); err != nil {
		t.Fatalf("Reboot: %v", err)
	}
	if len(order) != 2 || order[0] != "sync" || order[1] != "/sbin/reboot" {
		t.Fatalf("order = %v", order)
	}

	h.run = func(string, ...string) error { return errors.New("denied") }
	if err := h.Reboot(); err == nil {
		t.Fatal("expected reboot error")
	}
}

func TestDefaultRebootCommand(t *testing.T) {
	h := NewHost(state.NewStore(afero.NewMemMapFs(), "/state"), "  ")
	if len(h.rebootCommand) == 0 || h.rebootCommand[0] == "" {
		t.Fatalf("rebootCommand = %v", h.rebootCommand)
	}
}
