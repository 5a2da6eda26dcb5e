// Package download drives the artifact fetch for one install attempt:
// every chunk is length-checked, hashed and handed to the engine through
// the transfer buffer, in order, one at a time.
package download

import (
	"context"
	"errors"
	"fmt"

	"github.com/breeze-rmm/swupdate-agent/internal/logging"
	"github.com/breeze-rmm/swupdate-agent/internal/transfer"
	"github.com/breeze-rmm/swupdate-agent/internal/transport"
)

// Coordinator runs transfers over a Transport.
type Coordinator struct {
	transport         transport.Transport
	maxResumeAttempts int
}

// NewCoordinator returns a Coordinator that resumes an interrupted transfer
// up to maxResumeAttempts times.
func NewCoordinator(t transport.Transport, maxResumeAttempts int) *Coordinator {
	if maxResumeAttempts < 0 {
		maxResumeAttempts = 0
	}
	return &Coordinator{transport: t, maxResumeAttempts: maxResumeAttempts}
}

// Run fetches uri into ts until the target length has been delivered and
// verified, then closes the buffer. Any failure aborts ts and is returned:
// ErrCancelled, ErrLengthExceeded, ErrIncomplete, *IntegrityError or
// *TransportError. transfer.ErrAborted is returned when the buffer was
// aborted from outside the coordinator.
func (c *Coordinator) Run(ctx context.Context, ts *TransferSession, uri string) error {
	logger := logging.FromContext(ctx)

	onChunk := c.chunkHandler(ctx, ts)
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return ts.Abort(ErrCancelled)
		}

		offset := int64(ts.Downloaded())
		if attempt > 0 {
			logger.Info("resuming transfer", "attempt", attempt, "offset", offset)
		}

		resp, err := c.transport.Download(ctx, uri, onChunk, offset)

		if cause := ts.Cause(); cause != nil {
			return cause
		}
		if errors.Is(err, transfer.ErrAborted) {
			return transfer.ErrAborted
		}
		if ctx.Err() != nil {
			return ts.Abort(ErrCancelled)
		}

		if err == nil && !resp.OK() {
			return ts.Abort(&TransportError{StatusCode: resp.StatusCode})
		}
		// The last chunk is only counted once it verified and the engine took
		// it, so an error after that point has nothing left to resume.
		complete := ts.Downloaded() == ts.Target().Length
		if err != nil && !complete {
			if attempt < c.maxResumeAttempts {
				logger.Warn("transfer interrupted", "offset", ts.Downloaded(), "error", err)
				continue
			}
			return ts.Abort(&TransportError{StatusCode: resp.StatusCode, Err: err})
		}
		if err != nil {
			logger.Debug("transport error after the last byte", "error", err)
		}

		if got, want := ts.Downloaded(), ts.Target().Length; got < want {
			return ts.Abort(&TransportError{
				StatusCode: resp.StatusCode,
				Err:        fmt.Errorf("%w: %d of %d bytes", ErrIncomplete, got, want),
			})
		}

		ts.Buffer().Close()
		logger.Info("transfer complete", "bytes", ts.Downloaded(), logging.KeyDurationMs, ts.Elapsed().Milliseconds())
		return nil
	}
}

// chunkHandler returns the per-chunk step: cancellation check, length
// check, hash update, final digest comparison and handoff.
func (c *Coordinator) chunkHandler(ctx context.Context, ts *TransferSession) transport.ChunkFunc {
	target := ts.Target()
	return func(chunk []byte) error {
		if ctx.Err() != nil {
			return ts.Abort(ErrCancelled)
		}
		if len(chunk) == 0 {
			return nil
		}

		done := ts.Downloaded()
		total := done + uint64(len(chunk))
		if total > target.Length {
			return ts.Abort(fmt.Errorf("%w: %d bytes received, target is %d", ErrLengthExceeded, total, target.Length))
		}

		if err := ts.verifier.Update(chunk); err != nil {
			return ts.Abort(err)
		}

		// The last chunk is only handed over once the whole image verifies.
		if total == target.Length {
			sum, err := ts.verifier.Sum()
			if err != nil {
				return ts.Abort(err)
			}
			if !target.MatchesHash(sum) {
				return ts.Abort(&IntegrityError{
					Algorithm: ts.verifier.Algorithm(),
					Expected:  target.Hash.Value,
					Actual:    sum,
				})
			}
		}

		if err := ts.buf.Push(chunk); err != nil {
			return err
		}
		ts.downloaded.Store(total)
		return nil
	}
}
