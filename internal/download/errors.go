package download

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/breeze-rmm/swupdate-agent/pkg/api"
)

var (
	// ErrLengthExceeded means the transport delivered more bytes than the
	// target declares.
	ErrLengthExceeded = errors.New("received more bytes than the target length")

	// ErrCancelled means the caller cancelled the download between chunks.
	ErrCancelled = errors.New("download cancelled")

	// ErrIncomplete means the transport finished before delivering the
	// declared length.
	ErrIncomplete = errors.New("transfer ended before the target length")
)

// IntegrityError is returned when the finished digest does not match the
// target hash.
type IntegrityError struct {
	Algorithm api.HashType
	Expected  string
	Actual    string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s digest mismatch: expected %s, got %s", e.Algorithm, e.Expected, e.Actual)
}

// TransportError is returned when the fetch itself failed, either with a
// non-success status or with an error that outlasted every resume attempt.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.Err != nil && e.StatusCode != 0:
		return fmt.Sprintf("transport failed (status %d): %v", e.StatusCode, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("transport failed: %v", e.Err)
	default:
		return fmt.Sprintf("transport failed with status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
}

func (e *TransportError) Unwrap() error { return e.Err }
