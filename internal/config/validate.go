package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"unicode"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// ValidationResult separates problems that prevent startup from those that
// were corrected or can be ignored.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

func (r ValidationResult) AllErrors() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	return append(all, r.Warnings...)
}

// Validate checks the config, clamping values that would break the agent
// at runtime. Warnings are logged; fatal problems are returned joined into
// one error.
func (c *Config) Validate() error {
	r := c.ValidateTiered()
	for _, err := range r.Warnings {
		slog.Warn("config validation", "error", err)
	}
	if r.HasFatals() {
		return fmt.Errorf("invalid config: %w", errors.Join(r.Fatals...))
	}
	return nil
}

// ValidateTiered is Validate without logging, split into fatal and
// non-fatal problems. Clamped values are warnings.
func (c *Config) ValidateTiered() ValidationResult {
	var r ValidationResult

	if c.RepoServer != "" {
		u, err := url.Parse(c.RepoServer)
		if err != nil {
			r.Fatals = append(r.Fatals, fmt.Errorf("repo_server %q is not a valid URL: %w", c.RepoServer, err))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			r.Fatals = append(r.Fatals, fmt.Errorf("repo_server scheme must be http or https, got %q", u.Scheme))
		}
	}

	if c.AuthToken != "" {
		for _, ch := range c.AuthToken {
			if unicode.IsControl(ch) {
				r.Fatals = append(r.Fatals, fmt.Errorf("auth_token contains control characters"))
				break
			}
		}
	}

	if c.HTTPProxy != "" {
		if u, err := url.Parse(c.HTTPProxy); err != nil || u.Host == "" {
			r.Fatals = append(r.Fatals, fmt.Errorf("http_proxy %q is not a valid proxy URL", c.HTTPProxy))
		}
	}

	if strings.TrimSpace(c.StateDir) == "" {
		r.Fatals = append(r.Fatals, fmt.Errorf("state_dir must not be empty"))
	}

	if strings.TrimSpace(c.Engine.Command) == "" {
		r.Fatals = append(r.Fatals, fmt.Errorf("engine.command must not be empty"))
	}

	c.ChunkSizeKB = clamp(&r, "chunk_size_kb", c.ChunkSizeKB, 1, 4096)
	c.MaxResumeAttempts = clamp(&r, "max_resume_attempts", c.MaxResumeAttempts, 0, 20)
	c.HTTPTimeoutSeconds = clamp(&r, "http_timeout_seconds", c.HTTPTimeoutSeconds, 1, 600)
	c.ProgressIntervalSeconds = clamp(&r, "progress_interval_seconds", c.ProgressIntervalSeconds, 0, 3600)
	c.StatusWorkers = clamp(&r, "status_workers", c.StatusWorkers, 1, 16)
	c.StatusQueueSize = clamp(&r, "status_queue_size", c.StatusQueueSize, 1, 10000)
	c.LogMaxSizeMB = clamp(&r, "log_max_size_mb", c.LogMaxSizeMB, 1, 1024)
	c.LogMaxBackups = clamp(&r, "log_max_backups", c.LogMaxBackups, 1, 100)
	c.AuditMaxSizeMB = clamp(&r, "audit_max_size_mb", c.AuditMaxSizeMB, 1, 1024)

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	if (c.S3.AccessKeyID == "") != (c.S3.SecretAccessKey == "") {
		r.Warnings = append(r.Warnings, fmt.Errorf("s3.access_key_id and s3.secret_access_key must be set together, using the default credential chain"))
		c.S3.AccessKeyID, c.S3.SecretAccessKey, c.S3.SessionToken = "", "", ""
	}

	if c.Azure.AccountKey != "" && c.Azure.AccountName == "" {
		r.Warnings = append(r.Warnings, fmt.Errorf("azure.account_key is set without azure.account_name"))
	}

	if (c.B2.AccountID == "") != (c.B2.ApplicationKey == "") {
		r.Warnings = append(r.Warnings, fmt.Errorf("b2.account_id and b2.application_key must be set together"))
	}

	return r
}

func clamp(r *ValidationResult, key string, v, lo, hi int) int {
	switch {
	case v < lo:
		r.Warnings = append(r.Warnings, fmt.Errorf("%s %d is below minimum %d, clamping", key, v, lo))
		return lo
	case v > hi:
		r.Warnings = append(r.Warnings, fmt.Errorf("%s %d exceeds maximum %d, clamping", key, v, hi))
		return hi
	}
	return v
}
