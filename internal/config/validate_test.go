package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateTieredInvalidURLSchemeIsFatal(t *testing.T) {
	cfg := Default()
	cfg.RepoServer = "ftp://example.com"
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("invalid URL scheme should be fatal")
	}
}

func TestValidateTieredControlCharsInTokenIsFatal(t *testing.T) {
	cfg := Default()
	cfg.AuthToken = "token\x00with\x01control"
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("control chars in token should be fatal")
	}
}

func TestValidateTieredEmptyEngineCommandIsFatal(t *testing.T) {
	cfg := Default()
	cfg.Engine.Command = "   "
	result := cfg.ValidateTiered()
	found := false
	for _, err := range result.Fatals {
		if strings.Contains(err.Error(), "engine.command") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected engine.command fatal, got %v", result.Fatals)
	}
}

func TestValidateTieredBadProxyIsFatal(t *testing.T) {
	cfg := Default()
	cfg.HTTPProxy = "not a url"
	if !cfg.ValidateTiered().HasFatals() {
		t.Fatal("invalid proxy should be fatal")
	}
}

func TestValidateTieredClamping(t *testing.T) {
	tests := []struct {
		name string
		set  func(*Config)
		get  func(*Config) int
		want int
	}{
		{"chunk size zero", func(c *Config) { c.ChunkSizeKB = 0 }, func(c *Config) int { return c.ChunkSizeKB }, 1},
		{"chunk size huge", func(c *Config) { c.ChunkSizeKB = 1 << 20 }, func(c *Config) int { return c.ChunkSizeKB }, 4096},
		{"negative resume", func(c *Config) { c.MaxResumeAttempts = -1 }, func(c *Config) int { return c.MaxResumeAttempts }, 0},
		{"too many resumes", func(c *Config) { c.MaxResumeAttempts = 99 }, func(c *Config) int { return c.MaxResumeAttempts }, 20},
		{"no status workers", func(c *Config) { c.StatusWorkers = 0 }, func(c *Config) int { return c.StatusWorkers }, 1},
		{"no status queue", func(c *Config) { c.StatusQueueSize = 0 }, func(c *Config) int { return c.StatusQueueSize }, 1},
		{"zero timeout", func(c *Config) { c.HTTPTimeoutSeconds = 0 }, func(c *Config) int { return c.HTTPTimeoutSeconds }, 1},
		{"negative progress", func(c *Config) { c.ProgressIntervalSeconds = -5 }, func(c *Config) int { return c.ProgressIntervalSeconds }, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.set(cfg)
			result := cfg.ValidateTiered()
			if result.HasFatals() {
				t.Fatalf("clamped value should be warning, not fatal: %v", result.Fatals)
			}
			if len(result.Warnings) == 0 {
				t.Fatal("expected warning for clamped value")
			}
			if got := tt.get(cfg); got != tt.want {
				t.Fatalf("got %d, want %d (clamped)", got, tt.want)
			}
		})
	}
}

func TestValidateTieredProgressDisabledIsAllowed(t *testing.T) {
	cfg := Default()
	cfg.ProgressIntervalSeconds = 0
	if r := cfg.ValidateTiered(); len(r.AllErrors()) != 0 {
		t.Fatalf("progress_interval_seconds 0 should be accepted: %v", r.AllErrors())
	}
}

func TestValidateTieredUnknownLogLevelIsWarning(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("unknown log level should not be fatal")
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for unknown log level")
	}
}

func TestValidateTieredInvalidLogFormatIsWarning(t *testing.T) {
	cfg := Default()
	cfg.LogFormat = "xml"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("invalid log format should not be fatal")
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for invalid log format")
	}
}

func TestValidateTieredPartialS3CredentialsDropped(t *testing.T) {
	cfg := Default()
	cfg.S3.AccessKeyID = "AKIAEXAMPLE"
	result := cfg.ValidateTiered()
	if result.HasFatals() || len(result.Warnings) == 0 {
		t.Fatalf("result = %+v", result)
	}
	if cfg.S3.AccessKeyID != "" {
		t.Fatal("partial S3 credentials should be cleared")
	}
}

func TestHasFatals(t *testing.T) {
	r := ValidationResult{}
	if r.HasFatals() {
		t.Fatal("HasFatals() on empty result should be false")
	}
	r.Fatals = append(r.Fatals, fmt.Errorf("test error"))
	if !r.HasFatals() {
		t.Fatal("HasFatals() should be true with a fatal error")
	}
}

func TestAllErrorsReturnsBoth(t *testing.T) {
	cfg := Default()
	cfg.RepoServer = "ftp://bad" // fatal
	cfg.LogFormat = "xml"        // warning
	result := cfg.ValidateTiered()

	if all := result.AllErrors(); len(all) < 2 {
		t.Fatalf("AllErrors() returned %d errors, expected at least 2 (fatals + warnings)", len(all))
	}
}

func TestValidConfigHasNoErrors(t *testing.T) {
	cfg := Default()
	cfg.RepoServer = "https://updates.example.com"
	cfg.AuthToken = "clean-token"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("valid config has fatals: %v", result.Fatals)
	}
	if len(result.Warnings) > 0 {
		t.Fatalf("valid config has warnings: %v", result.Warnings)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "breeze-swupdate.yaml")
	data := []byte(`repo_server: https://repo.example.com
chunk_size_kb: 128
engine:
  command: /usr/bin/swupdate -i -
  dry_run: true
s3:
  region: eu-west-1
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BREEZE_SWUPDATE_MAX_RESUME_ATTEMPTS", "7")
	t.Setenv("BREEZE_SWUPDATE_ENGINE_SOFTWARE_SET", "testing")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RepoServer != "https://repo.example.com" || cfg.ChunkSizeKB != 128 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Engine.Command != "/usr/bin/swupdate -i -" || !cfg.Engine.DryRun {
		t.Fatalf("engine = %+v", cfg.Engine)
	}
	if cfg.Engine.SoftwareSet != "testing" || cfg.MaxResumeAttempts != 7 {
		t.Fatalf("env overrides not applied: software_set=%q max_resume_attempts=%d", cfg.Engine.SoftwareSet, cfg.MaxResumeAttempts)
	}
	if cfg.Engine.RunningMode != "main" || cfg.StatusQueueSize != 256 {
		t.Fatal("defaults lost for keys absent from the file")
	}
	if cfg.S3.Region != "eu-west-1" {
		t.Fatalf("s3.region = %q", cfg.S3.Region)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for a missing explicit config file")
	}
}

func TestValidateReturnsOnlyFatals(t *testing.T) {
	cfg := Default()
	cfg.LogFormat = "xml"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("warnings alone should not fail: %v", err)
	}
	cfg.RepoServer = "ftp://bad"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "repo_server") {
		t.Fatalf("err = %v", err)
	}
}
