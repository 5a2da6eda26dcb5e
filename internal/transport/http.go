package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/http/httpproxy"

	"github.com/breeze-rmm/swupdate-agent/internal/httputil"
)

// HTTPConfig configures the HTTP(S) backend.
type HTTPConfig struct {
	// AuthToken is sent as a bearer token, but only to AuthHost, so that
	// redirects or third-party URIs never see it.
	AuthToken string
	AuthHost  string

	ChunkSize int
	// HeaderTimeout bounds the wait for response headers. The body has no
	// overall deadline since its pace is set by the installer.
	HeaderTimeout time.Duration

	// Proxy, when set, overrides the proxy environment variables.
	Proxy   string
	NoProxy string

	Retry httputil.Policy
}

// HTTP downloads artifacts over HTTP(S).
type HTTP struct {
	cfg    HTTPConfig
	client *http.Client
}

// NewHTTP returns an HTTP backend.
func NewHTTP(cfg HTTPConfig) *HTTP {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.HeaderTimeout > 0 {
		tr.ResponseHeaderTimeout = cfg.HeaderTimeout
	}
	if cfg.Proxy != "" {
		pc := &httpproxy.Config{HTTPProxy: cfg.Proxy, HTTPSProxy: cfg.Proxy, NoProxy: cfg.NoProxy}
		proxyFunc := pc.ProxyFunc()
		tr.Proxy = func(r *http.Request) (*url.URL, error) {
			return proxyFunc(r.URL)
		}
	}
	return &HTTP{cfg: cfg, client: &http.Client{Transport: tr}}
}

// Download implements Transport.
func (h *HTTP) Download(ctx context.Context, uri string, onChunk ChunkFunc, resumeOffset int64) (Response, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return Response{}, fmt.Errorf("parse uri %q: %w", uri, err)
	}

	header := http.Header{}
	if h.cfg.AuthToken != "" && h.cfg.AuthHost != "" && u.Host == h.cfg.AuthHost {
		header.Set("Authorization", "Bearer "+h.cfg.AuthToken)
	}
	if resumeOffset > 0 {
		header.Set("Range", fmt.Sprintf("bytes=%d-", resumeOffset))
	}

	resp, err := httputil.Get(ctx, h.client, uri, header, h.cfg.Retry)
	if err != nil {
		var se *httputil.StatusError
		if errors.As(err, &se) {
			return Response{StatusCode: se.StatusCode}, nil
		}
		return Response{}, err
	}
	defer resp.Body.Close()

	out := Response{StatusCode: resp.StatusCode}
	if !out.OK() {
		log.Warn("artifact request failed", "url", uri, "status", resp.StatusCode)
		return out, nil
	}
	if resumeOffset > 0 && resp.StatusCode != http.StatusPartialContent {
		return out, fmt.Errorf("server ignored range request at offset %d (status %d)", resumeOffset, resp.StatusCode)
	}

	n, err := stream(ctx, resp.Body, h.cfg.ChunkSize, onChunk)
	out.Bytes = n
	return out, err
}
