// Package engine defines how the install session talks to the installer
// that consumes the artifact, and provides an adapter for installers run as
// an external command.
package engine

import (
	"context"
	"fmt"
)

// Status is the final outcome an engine reports through OnCompletion.
type Status int

const (
	StatusSuccess Status = iota
	StatusFailure
)

func (s Status) String() string {
	if s == StatusSuccess {
		return "success"
	}
	return "failure"
}

// Status codes passed to Feed.ReportStatus by the command adapter.
const (
	CodeProgress = 0
	CodeError    = 1
)

// Request carries the per-install settings handed to the engine.
type Request struct {
	DryRun      bool
	SoftwareSet string
	RunningMode string
	Info        string
}

// Feed is the engine's view of an install session.
//
// Pull returns the next artifact chunk, io.EOF at the end of the artifact,
// or an error once the transfer has been aborted. ReportStatus must not
// block. OnCompletion is called exactly once, after which the engine makes
// no further calls.
type Feed interface {
	Pull() ([]byte, error)
	ReportStatus(code int, msg string)
	OnCompletion(Status)
}

// Engine is an installer that consumes an artifact through a Feed.
type Engine interface {
	// Start launches the install and returns without waiting for it. When
	// Start returns an error the engine never calls the feed.
	//
	// Cancelling ctx stops the install even if the engine is not pulling;
	// OnCompletion is still called, with StatusFailure.
	Start(ctx context.Context, req Request, feed Feed) error
}

// StartError means the engine could not be started.
type StartError struct {
	Err error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("engine start failed: %v", e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }
