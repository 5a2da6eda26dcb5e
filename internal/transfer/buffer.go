// Package transfer provides the single-slot handoff between the download
// producer and the installer engine's pull callback.
package transfer

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

// ErrAborted is returned by every Buffer operation once the buffer has been
// aborted.
var ErrAborted = errors.New("transfer aborted")

// State is the observable state of a Buffer.
type State int32

const (
	Empty State = iota
	Full
	Aborted
	Closed
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Full:
		return "full"
	case Aborted:
		return "aborted"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Buffer is a capacity-one synchronous channel between exactly one producer
// and one consumer. Push does not return until the consumer has taken the
// chunk, so the producer is never more than one chunk ahead.
//
// Once aborted, the buffer never leaves the Aborted state and every blocked
// or future Push/Pull fails with ErrAborted.
type Buffer struct {
	slot      chan []byte
	aborted   chan struct{}
	state     atomic.Int32
	abortOnce sync.Once
	closeOnce sync.Once
}

// NewBuffer returns an empty buffer. Buffers are per install attempt and
// must not be reused.
func NewBuffer() *Buffer {
	return &Buffer{
		slot:    make(chan []byte),
		aborted: make(chan struct{}),
	}
}

// Push hands chunk to the consumer. The chunk is copied, so the caller may
// reuse its slice once Push returns. Push blocks until the consumer has
// pulled the chunk or the buffer is aborted.
func (b *Buffer) Push(chunk []byte) error {
	if b.isAborted() {
		return ErrAborted
	}

	c := make([]byte, len(chunk))
	copy(c, chunk)

	b.state.CompareAndSwap(int32(Empty), int32(Full))
	select {
	case b.slot <- c:
		b.state.CompareAndSwap(int32(Full), int32(Empty))
		return nil
	case <-b.aborted:
		return ErrAborted
	}
}

// Pull blocks until a chunk is available and returns it. It returns io.EOF
// after the producer has closed the buffer and ErrAborted after an abort.
func (b *Buffer) Pull() ([]byte, error) {
	if b.isAborted() {
		return nil, ErrAborted
	}

	select {
	case c, ok := <-b.slot:
		if !ok {
			return nil, io.EOF
		}
		return c, nil
	case <-b.aborted:
		return nil, ErrAborted
	}
}

// Close marks the end of the stream. Only the producer may call it, and
// never concurrently with Push.
func (b *Buffer) Close() {
	b.closeOnce.Do(func() {
		if !b.isAborted() {
			b.state.Store(int32(Closed))
		}
		close(b.slot)
	})
}

// Abort moves the buffer to Aborted and wakes every blocked party. It is
// idempotent and safe to call from any goroutine.
func (b *Buffer) Abort() {
	b.abortOnce.Do(func() {
		b.state.Store(int32(Aborted))
		close(b.aborted)
	})
}

// Done returns a channel that is closed once the buffer is aborted. It is
// never closed by Close.
func (b *Buffer) Done() <-chan struct{} { return b.aborted }

// State returns the buffer's current state.
func (b *Buffer) State() State {
	return State(b.state.Load())
}

func (b *Buffer) isAborted() bool {
	select {
	case <-b.aborted:
		return true
	default:
		return false
	}
}
