// Package state persists what the agent must remember across the reboot
// that completes an install.
package state

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/breeze-rmm/swupdate-agent/pkg/api"
)

// FileName is the state file's name inside the state directory.
const FileName = "swupdate-state.yaml"

// Phase is the persisted lifecycle state.
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseInstalling     Phase = "installing"
	PhaseAwaitingReboot Phase = "awaiting_reboot"
	PhaseVerifying      Phase = "verifying"
	PhaseDone           Phase = "done"
)

// Record is the persisted agent state.
type Record struct {
	Phase         Phase                   `yaml:"phase"`
	PendingTarget *api.Target             `yaml:"pendingTarget,omitempty"`
	SessionID     string                  `yaml:"sessionId,omitempty"`
	RebootPending bool                    `yaml:"rebootPending"`
	BootTime      uint64                  `yaml:"bootTime,omitempty"`
	LastResult    *api.InstallationResult `yaml:"lastResult,omitempty"`
	UpdatedAt     time.Time               `yaml:"updatedAt"`
}

// Store reads and writes the state file. Writes go to a temporary file
// that is renamed into place, so a crash leaves either the old or the new
// state.
type Store struct {
	fs   afero.Fs
	path string
	mu   sync.Mutex
}

// NewStore returns a store for dir/FileName on fsys (nil means the OS
// filesystem).
func NewStore(fsys afero.Fs, dir string) *Store {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &Store{fs: fsys, path: filepath.Join(dir, FileName)}
}

// Path returns the state file path.
func (s *Store) Path() string { return s.path }

// Load returns the stored record, or an idle record when none exists.
func (s *Store) Load() (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Save replaces the stored record.
func (s *Store) Save(r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(r)
}

// Update loads the record, applies fn and saves the result. Nothing is
// written when fn returns an error.
func (s *Store) Update(fn func(*Record) error) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.load()
	if err != nil {
		return r, err
	}
	if err := fn(&r); err != nil {
		return r, err
	}
	return r, s.save(r)
}

func (s *Store) load() (Record, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Record{Phase: PhaseIdle}, nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("read state: %w", err)
	}

	var r Record
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("parse state %s: %w", s.path, err)
	}
	if r.Phase == "" {
		r.Phase = PhaseIdle
	}
	return r, nil
}

func (s *Store) save(r Record) error {
	r.UpdatedAt = time.Now().UTC()
	data, err := yaml.Marshal(&r)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o600); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}
