package download

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/breeze-rmm/swupdate-agent/internal/transfer"
	"github.com/breeze-rmm/swupdate-agent/internal/verify"
	"github.com/breeze-rmm/swupdate-agent/pkg/api"
)

// TransferSession is the state of one install attempt's transfer: the
// target, its verifier and buffer, the byte count and the first abort cause.
// It is created per attempt and must not be reused.
type TransferSession struct {
	id       string
	target   api.Target
	verifier *verify.Verifier
	buf      *transfer.Buffer
	started  time.Time

	downloaded atomic.Uint64

	mu    sync.Mutex
	cause error
}

// NewTransferSession prepares a transfer for target. It fails when the
// target's hash type has no verifier.
func NewTransferSession(id string, target api.Target) (*TransferSession, error) {
	v, err := verify.New(target.Hash.Type)
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", target.Filename, err)
	}
	return &TransferSession{
		id:       id,
		target:   target,
		verifier: v,
		buf:      transfer.NewBuffer(),
		started:  time.Now(),
	}, nil
}

// ID identifies the install attempt.
func (ts *TransferSession) ID() string { return ts.id }

// Target returns the artifact being transferred.
func (ts *TransferSession) Target() api.Target { return ts.target }

// Buffer returns the handoff between the download and the engine.
func (ts *TransferSession) Buffer() *transfer.Buffer { return ts.buf }

// Downloaded returns the bytes verified and handed to the engine so far.
func (ts *TransferSession) Downloaded() uint64 { return ts.downloaded.Load() }

// Elapsed returns the time since the session was created.
func (ts *TransferSession) Elapsed() time.Duration { return time.Since(ts.started) }

// Verifier returns the session's digest state.
func (ts *TransferSession) Verifier() *verify.Verifier { return ts.verifier }

// N returns the bytes accepted so far. Together with Err it lets the
// session be observed by a progress ticker.
func (ts *TransferSession) N() int64 { return int64(ts.downloaded.Load()) }

// Err returns the abort cause, if any.
func (ts *TransferSession) Err() error { return ts.Cause() }

// Abort records cause if no cause has been recorded yet and aborts the
// buffer, waking the engine side. It returns the recorded cause.
func (ts *TransferSession) Abort(cause error) error {
	ts.mu.Lock()
	if ts.cause == nil {
		ts.cause = cause
	}
	recorded := ts.cause
	ts.mu.Unlock()

	ts.buf.Abort()
	return recorded
}

// Cause returns the first recorded abort cause.
func (ts *TransferSession) Cause() error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.cause
}
