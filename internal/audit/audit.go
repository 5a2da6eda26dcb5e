// Package audit keeps the install journal: a tamper-evident JSONL record of
// every lifecycle event, linked by a SHA-256 hash chain that survives
// process restarts and file rotation.
package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"

	"github.com/breeze-rmm/swupdate-agent/internal/logging"
	"github.com/breeze-rmm/swupdate-agent/pkg/api"
)

var log = logging.L("audit")

// FileName is the journal's file name inside the state directory.
const FileName = "install-journal.jsonl"

const genesisHash = "genesis"

// Event types recorded in the journal.
const (
	EventInstallStarted  = "install_started"
	EventInstallResult   = "install_result"
	EventRebootRequested = "reboot_requested"
	EventFinalizeResult  = "finalize_result"
	EventJournalRotated  = "journal_rotated"
)

// Entry is one journal record.
type Entry struct {
	Timestamp string                  `json:"timestamp"`
	Event     string                  `json:"event"`
	SessionID string                  `json:"sessionId,omitempty"`
	Target    string                  `json:"target,omitempty"`
	Result    *api.InstallationResult `json:"result,omitempty"`
	Details   map[string]any          `json:"details,omitempty"`
	PrevHash  string                  `json:"prevHash"`
	EntryHash string                  `json:"entryHash"`
}

// Journal appends entries to the install journal. A nil *Journal discards
// everything, so callers need not check whether journaling is enabled.
type Journal struct {
	fs         afero.Fs
	path       string
	maxSize    int64
	maxBackups int

	mu       sync.Mutex
	file     afero.File
	written  int64
	prevHash string
	dropped  atomic.Int64
}

// Open opens or creates the journal in dir. The chain continues from the
// last entry already on disk.
func Open(fsys afero.Fs, dir string, maxSizeMB, maxBackups int) (*Journal, error) {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	if maxBackups <= 0 {
		maxBackups = 3
	}
	if err := fsys.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}

	j := &Journal{
		fs:         fsys,
		path:       filepath.Join(dir, FileName),
		maxSize:    int64(maxSizeMB) * 1024 * 1024,
		maxBackups: maxBackups,
		prevHash:   genesisHash,
	}

	last, err := lastEntry(fsys, j.path)
	if err != nil {
		log.Warn("journal tail unreadable, starting a new chain", "path", j.path, "error", err)
	} else if last != nil {
		j.prevHash = last.EntryHash
	}

	if err := j.openFile(); err != nil {
		return nil, err
	}
	return j, nil
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	if j == nil {
		return ""
	}
	return j.path
}

// Record appends e, filling in the timestamp and hash chain. The chain only
// advances after a successful write, so a failed write leaves no gap.
func (j *Journal) Record(e Entry) {
	if j == nil {
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	e.PrevHash = j.prevHash
	if err := j.write(&e, true); err != nil {
		log.Error("failed to write journal entry", "event", e.Event, "error", err)
		j.dropped.Add(1)
	}
}

func (j *Journal) write(e *Entry, mayRotate bool) error {
	if j.file == nil {
		if err := j.openFile(); err != nil {
			return err
		}
	}

	hash, err := computeHash(*e)
	if err != nil {
		return err
	}
	e.EntryHash = hash

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	data = append(data, '\n')

	if mayRotate && j.written > 0 && j.written+int64(len(data)) > j.maxSize {
		if err := j.rotate(); err != nil {
			return fmt.Errorf("rotate journal: %w", err)
		}
		// The rotation sentinel moved the chain; relink this entry.
		e.PrevHash = j.prevHash
		return j.write(e, false)
	}

	n, err := j.file.Write(data)
	if err != nil {
		return err
	}
	j.written += int64(n)
	j.prevHash = e.EntryHash

	// Lifecycle events must survive the reboot that usually follows.
	if err := j.file.Sync(); err != nil {
		log.Warn("journal fsync failed", "error", err)
	}
	return nil
}

// Close closes the journal file.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}

// DroppedCount returns the number of entries that failed to write, or -1
// for a nil journal.
func (j *Journal) DroppedCount() int64 {
	if j == nil {
		return -1
	}
	return j.dropped.Load()
}

// computeHash hashes the entry's fields, each length-prefixed so that no
// field value can be crafted to collide with another field split.
func computeHash(e Entry) (string, error) {
	h := sha256.New()
	for _, field := range []string{e.Timestamp, e.Event, e.SessionID, e.Target, e.PrevHash} {
		fmt.Fprintf(h, "%d:%s", len(field), field)
	}
	var extra []any
	if e.Result != nil {
		extra = append(extra, e.Result)
	}
	if len(e.Details) > 0 {
		extra = append(extra, e.Details)
	}
	for _, v := range extra {
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("marshal for hash: %w", err)
		}
		fmt.Fprintf(h, "%d:", len(b))
		h.Write(b)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (j *Journal) openFile() error {
	f, err := j.fs.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat journal: %w", err)
	}
	j.file = f
	j.written = info.Size()
	return nil
}

func (j *Journal) rotate() error {
	if j.file != nil {
		j.file.Close()
		j.file = nil
	}

	// .N is dropped, .N-1 → .N, ..., current → .1
	if err := j.fs.Remove(j.backupName(j.maxBackups)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn("failed to remove oldest journal backup", "error", err)
	}
	for i := j.maxBackups; i >= 1; i-- {
		if err := j.fs.Rename(j.backupName(i-1), j.backupName(i)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Warn("failed to shift journal backup", "index", i, "error", err)
		}
	}

	if err := j.openFile(); err != nil {
		return err
	}

	sentinel := Entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Event:     EventJournalRotated,
		PrevHash:  j.prevHash,
		Details:   map[string]any{"previousFile": j.backupName(1)},
	}
	return j.write(&sentinel, false)
}

func (j *Journal) backupName(i int) string {
	if i == 0 {
		return j.path
	}
	return fmt.Sprintf("%s.%d", j.path, i)
}

// ReadAll returns the entries of the journal file at path, oldest first.
func ReadAll(fsys afero.Fs, path string) ([]Entry, error) {
	f, err := fsys.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for line := 1; sc.Scan(); line++ {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return entries, fmt.Errorf("journal line %d: %w", line, err)
		}
		entries = append(entries, e)
	}
	return entries, sc.Err()
}

// VerifyChain checks that each entry hashes to its EntryHash and links to
// the entry before it. It returns the index of the first broken entry, or
// -1 when the chain is intact.
func VerifyChain(entries []Entry) int {
	for i, e := range entries {
		want, err := computeHash(e)
		if err != nil || want != e.EntryHash {
			return i
		}
		if i > 0 && e.PrevHash != entries[i-1].EntryHash {
			return i
		}
	}
	return -1
}

func lastEntry(fsys afero.Fs, path string) (*Entry, error) {
	entries, err := ReadAll(fsys, path)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[len(entries)-1], nil
}
