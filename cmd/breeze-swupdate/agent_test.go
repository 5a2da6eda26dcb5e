package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/breeze-rmm/swupdate-agent/internal/audit"
	"github.com/breeze-rmm/swupdate-agent/internal/config"
	"github.com/breeze-rmm/swupdate-agent/internal/state"
	"github.com/breeze-rmm/swupdate-agent/pkg/api"
)

func writeConfig(t *testing.T, stateDir string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "breeze-swupdate.yaml")
	if err := os.WriteFile(path, []byte("state_dir: "+stateDir+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	old := cfgFile
	cfgFile = path
	t.Cleanup(func() { cfgFile = old })
}

func TestShowStatus(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir)

	fsys := afero.NewOsFs()
	target := api.Target{Filename: "rootfs.img", Length: 10, Hash: api.Hash{Type: api.HashSHA256, Value: "ab"}}
	if err := state.NewStore(fsys, dir).Save(state.Record{Phase: state.PhaseAwaitingReboot, PendingTarget: &target}); err != nil {
		t.Fatal(err)
	}
	j, err := audit.Open(fsys, dir, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	res := api.NewResult(api.ResultNeedCompletion, "installed, reboot required")
	j.Record(audit.Entry{Event: audit.EventInstallStarted, Target: target.Filename})
	j.Record(audit.Entry{Event: audit.EventInstallResult, Target: target.Filename, Result: &res})
	j.Close()

	var buf bytes.Buffer
	if err := showStatus(&buf); err != nil {
		t.Fatalf("showStatus: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"phase: awaiting_reboot", "rootfs.img", "2 entries, chain intact", "NeedCompletion"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestNewTransportSchemes(t *testing.T) {
	cfg := config.Default()
	cfg.RepoServer = "https://repo.example.com"
	mux := newTransport(cfg)

	dir := t.TempDir()
	path := filepath.Join(dir, "image.bin")
	if err := os.WriteFile(path, []byte("payload"), 0o600); err != nil {
		t.Fatal(err)
	}

	var got []byte
	resp, err := mux.Download(t.Context(), "file://"+filepath.ToSlash(path), func(b []byte) error {
		got = append(got, b...)
		return nil
	}, 0)
	if err != nil || !resp.OK() {
		t.Fatalf("file download: %+v, %v", resp, err)
	}
	if string(got) != "payload" {
		t.Fatalf("got %q", got)
	}

	if _, err := mux.Download(t.Context(), "ftp://example.com/x", func([]byte) error { return nil }, 0); err == nil {
		t.Fatal("expected unsupported scheme error")
	}
}

func TestFlagTarget(t *testing.T) {
	old := installFlags
	t.Cleanup(func() { installFlags = old })
	installFlags.filename = "rootfs.img"
	installFlags.uri = "s3://releases/rootfs.img"
	installFlags.length = 4096
	installFlags.hashType = "sha512"
	installFlags.hash = "ABCD"

	got := flagTarget()
	if got.Filename != "rootfs.img" || got.URI != "s3://releases/rootfs.img" || got.Length != 4096 {
		t.Fatalf("target = %+v", got)
	}
	if got.Hash.Type != api.HashSHA512 || !got.MatchesHash("abcd") {
		t.Fatalf("hash = %+v", got.Hash)
	}
}
