// Package transport fetches artifacts and delivers them as an ordered
// sequence of chunks. Backends cover HTTP(S), local files and the object
// stores the agent can be pointed at.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/breeze-rmm/swupdate-agent/internal/logging"
)

var log = logging.L("transport")

// DefaultChunkSize is used when a backend is configured without one.
const DefaultChunkSize = 64 * 1024

// ErrUnsupportedScheme is returned by Mux for a URI scheme with no backend.
var ErrUnsupportedScheme = errors.New("unsupported uri scheme")

// ChunkFunc receives each chunk in transfer order. The slice is only valid
// for the duration of the call. Returning an error stops the transfer and
// Download returns that error.
type ChunkFunc func(chunk []byte) error

// Response describes how a download finished.
type Response struct {
	// StatusCode is an HTTP status; non-HTTP backends report 200/206 on
	// success and the closest HTTP equivalent on failure when known.
	StatusCode int
	// Bytes is the number of bytes handed to the ChunkFunc.
	Bytes int64
}

// OK reports whether the transport completed successfully.
func (r Response) OK() bool {
	return r.StatusCode == http.StatusOK || r.StatusCode == http.StatusPartialContent
}

// Transport downloads uri starting at resumeOffset.
type Transport interface {
	Download(ctx context.Context, uri string, onChunk ChunkFunc, resumeOffset int64) (Response, error)
}

// Mux dispatches downloads to a backend by URI scheme.
type Mux struct {
	mu      sync.RWMutex
	schemes map[string]Transport
}

// NewMux returns an empty Mux.
func NewMux() *Mux {
	return &Mux{schemes: make(map[string]Transport)}
}

// Handle registers t for the given schemes.
func (m *Mux) Handle(t Transport, schemes ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range schemes {
		m.schemes[strings.ToLower(s)] = t
	}
}

// Download implements Transport.
func (m *Mux) Download(ctx context.Context, uri string, onChunk ChunkFunc, resumeOffset int64) (Response, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return Response{}, fmt.Errorf("parse uri %q: %w", uri, err)
	}

	m.mu.RLock()
	t, ok := m.schemes[strings.ToLower(u.Scheme)]
	m.mu.RUnlock()
	if !ok {
		return Response{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	return t.Download(ctx, uri, onChunk, resumeOffset)
}

// stream reads r until EOF and hands every non-empty read to onChunk.
func stream(ctx context.Context, r io.Reader, chunkSize int, onChunk ChunkFunc) (int64, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	buf := make([]byte, chunkSize)
	var total int64

	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := r.Read(buf)
		if n > 0 {
			if cbErr := onChunk(buf[:n]); cbErr != nil {
				return total, cbErr
			}
			total += int64(n)
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

// successStatus is the status non-HTTP backends report for a completed read.
func successStatus(resumeOffset int64) int {
	if resumeOffset > 0 {
		return http.StatusPartialContent
	}
	return http.StatusOK
}

// splitObjectURI splits scheme://bucket/key/with/slashes.
func splitObjectURI(uri string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("parse uri %q: %w", uri, err)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("uri %q must have the form %s://<bucket>/<object>", uri, u.Scheme)
	}
	return bucket, key, nil
}
