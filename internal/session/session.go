// Package session runs one install attempt end to end: it starts the
// installer engine, feeds it the artifact through a fresh transfer, waits
// for both sides and maps the outcome to an InstallationResult.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/machinebox/progress"

	"github.com/breeze-rmm/swupdate-agent/internal/download"
	"github.com/breeze-rmm/swupdate-agent/internal/engine"
	"github.com/breeze-rmm/swupdate-agent/internal/logging"
	"github.com/breeze-rmm/swupdate-agent/internal/transfer"
	"github.com/breeze-rmm/swupdate-agent/internal/transport"
	"github.com/breeze-rmm/swupdate-agent/internal/verify"
	"github.com/breeze-rmm/swupdate-agent/internal/workerpool"
	"github.com/breeze-rmm/swupdate-agent/pkg/api"
)

var log = logging.L("session")

// Config holds the settings shared by every install attempt.
type Config struct {
	// RepoServer is the base URL used when a target has no URI.
	RepoServer        string
	MaxResumeAttempts int
	// ProgressInterval is how often download progress is reported; zero
	// disables progress reports.
	ProgressInterval time.Duration
	Request          engine.Request
}

// Outcome describes a finished install attempt.
type Outcome struct {
	SessionID string
	Result    api.InstallationResult
	Bytes     uint64
	Duration  time.Duration
}

// Runner starts install attempts. It holds no per-attempt state, so
// attempts may run sequentially or concurrently.
type Runner struct {
	cfg         Config
	engine      engine.Engine
	coordinator *download.Coordinator
	status      *workerpool.Pool
}

// NewRunner returns a Runner. status receives engine status reports and
// progress; it may be nil, in which case reports are only logged.
func NewRunner(cfg Config, eng engine.Engine, t transport.Transport, status *workerpool.Pool) *Runner {
	return &Runner{
		cfg:         cfg,
		engine:      eng,
		coordinator: download.NewCoordinator(t, cfg.MaxResumeAttempts),
		status:      status,
	}
}

// Install runs one install attempt for target. It returns NeedCompletion
// when the engine installed a verified image, otherwise InstallFailed with
// the kind of the first failure. Cancelling ctx stops the transfer at the
// next chunk boundary.
func (r *Runner) Install(ctx context.Context, target api.Target) Outcome {
	start := time.Now()
	id := uuid.NewString()
	logger := logging.WithSession(log, id, target.Filename)
	ctx = logging.NewContext(ctx, logger)

	out := Outcome{SessionID: id}
	finish := func(res api.InstallationResult) Outcome {
		out.Result = res
		out.Duration = time.Since(start)
		if res.Success() {
			logger.Info("install attempt finished", "result", res.Code, "bytes", out.Bytes, logging.KeyDurationMs, out.Duration.Milliseconds())
		} else {
			logger.Warn("install attempt failed", "result", res.Code, "kind", res.Kind, "message", res.Message, logging.KeyDurationMs, out.Duration.Milliseconds())
		}
		return out
	}

	if err := target.Validate(); err != nil {
		return finish(api.Failed(api.KindInvalidTarget, err.Error()))
	}
	uri, err := r.resolveURI(target)
	if err != nil {
		return finish(api.Failed(api.KindInvalidTarget, err.Error()))
	}
	ts, err := download.NewTransferSession(id, target)
	if err != nil {
		if errors.Is(err, verify.ErrUnsupportedAlgorithm) {
			return finish(api.Failed(api.KindUnsupportedHash, err.Error()))
		}
		return finish(api.Failed(api.KindInvalidTarget, err.Error()))
	}

	// The engine's context ends with the transfer, so an installer that
	// stopped pulling is still torn down when the download fails.
	engCtx, stopEngine := context.WithCancel(ctx)
	defer stopEngine()
	go func() {
		select {
		case <-ts.Buffer().Done():
			stopEngine()
		case <-engCtx.Done():
		}
	}()

	f := newFeed(ts, r.status, logger)
	logger.Info("starting install", "uri", uri, "length", target.Length, "hashType", target.Hash.Type)
	if err := r.engine.Start(engCtx, r.cfg.Request, f); err != nil {
		ts.Buffer().Abort()
		return finish(api.Failed(api.KindEngineStart, err.Error()))
	}

	dlDone := make(chan error, 1)
	go func() {
		dlDone <- r.coordinator.Run(ctx, ts, uri)
	}()

	tickCtx, stopTicker := context.WithCancel(ctx)
	var ticker sync.WaitGroup
	if r.cfg.ProgressInterval > 0 {
		ticker.Add(1)
		go func() {
			defer ticker.Done()
			r.trackProgress(tickCtx, ts, f)
		}()
	}

	// A transfer blocked on a stalled engine never reaches the next chunk
	// boundary, so cancellation also aborts the buffer directly.
	select {
	case <-f.done:
	case <-ctx.Done():
		ts.Abort(download.ErrCancelled)
		<-f.done
	}

	// The engine has finished; anything still waiting on the buffer is
	// released before the download is joined.
	ts.Buffer().Abort()
	dlErr := <-dlDone
	stopTicker()
	ticker.Wait()

	out.Bytes = ts.Downloaded()
	return finish(classify(f.final, dlErr, ts.Cause()))
}

func (r *Runner) resolveURI(target api.Target) (string, error) {
	if target.URI != "" {
		return target.URI, nil
	}
	if r.cfg.RepoServer == "" {
		return "", fmt.Errorf("target %s has no uri and no repository server is configured", target.Filename)
	}
	return strings.TrimRight(r.cfg.RepoServer, "/") + "/targets/" + url.PathEscape(target.Filename), nil
}

func (r *Runner) trackProgress(ctx context.Context, ts *download.TransferSession, f *feed) {
	size := int64(ts.Target().Length)
	for p := range progress.NewTicker(ctx, ts, size, r.cfg.ProgressInterval) {
		f.ReportStatus(engine.CodeProgress, fmt.Sprintf("downloaded %d of %d bytes (%d%%), %v remaining",
			p.N(), p.Size(), int(p.Percent()), p.Remaining().Round(time.Second)))
	}
}

// classify maps the engine status, the download result and the first
// recorded abort cause to a result. The abort cause wins over everything
// else since it is what made the other side stop.
func classify(status engine.Status, dlErr, cause error) api.InstallationResult {
	switch {
	case cause != nil:
		return failure(cause)
	case dlErr != nil && !errors.Is(dlErr, transfer.ErrAborted):
		return failure(dlErr)
	case status != engine.StatusSuccess:
		return api.Failed(api.KindEngineFailure, "installer reported failure")
	case dlErr != nil:
		return api.Failed(api.KindIncompleteTransfer, "installer finished before the artifact was fully transferred")
	}
	return api.NewResult(api.ResultNeedCompletion, "installed, reboot required")
}

func failure(err error) api.InstallationResult {
	var ie *download.IntegrityError
	switch {
	case errors.Is(err, download.ErrCancelled):
		return api.Failed(api.KindCancelled, "install cancelled")
	case errors.Is(err, download.ErrLengthExceeded):
		return api.Failed(api.KindLengthExceeded, err.Error())
	case errors.As(err, &ie):
		return api.Failed(api.KindIntegrity, err.Error())
	case errors.Is(err, download.ErrIncomplete):
		return api.Failed(api.KindIncompleteTransfer, err.Error())
	}
	return api.Failed(api.KindTransport, "download failed: "+err.Error())
}

// feed adapts a transfer session to the engine's Feed.
type feed struct {
	ts     *download.TransferSession
	status *workerpool.Pool
	logger *slog.Logger

	once  sync.Once
	done  chan struct{}
	final engine.Status
}

func newFeed(ts *download.TransferSession, status *workerpool.Pool, logger *slog.Logger) *feed {
	return &feed{ts: ts, status: status, logger: logger, done: make(chan struct{}), final: engine.StatusFailure}
}

func (f *feed) Pull() ([]byte, error) {
	return f.ts.Buffer().Pull()
}

func (f *feed) ReportStatus(code int, msg string) {
	if f.status == nil {
		f.logger.Debug("install status", "code", code, "message", msg)
		return
	}
	f.status.Submit(workerpool.Event{SessionID: f.ts.ID(), Code: code, Message: msg})
}

func (f *feed) OnCompletion(s engine.Status) {
	f.once.Do(func() {
		f.final = s
		close(f.done)
	})
}
