package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/breeze-rmm/swupdate-agent/internal/audit"
	"github.com/breeze-rmm/swupdate-agent/internal/bootloader"
	"github.com/breeze-rmm/swupdate-agent/internal/config"
	"github.com/breeze-rmm/swupdate-agent/internal/engine"
	"github.com/breeze-rmm/swupdate-agent/internal/httputil"
	"github.com/breeze-rmm/swupdate-agent/internal/lifecycle"
	"github.com/breeze-rmm/swupdate-agent/internal/logging"
	"github.com/breeze-rmm/swupdate-agent/internal/session"
	"github.com/breeze-rmm/swupdate-agent/internal/state"
	"github.com/breeze-rmm/swupdate-agent/internal/transport"
	"github.com/breeze-rmm/swupdate-agent/internal/workerpool"
)

var log = logging.L("main")

const statusJournalTail = 10

// agent holds the components shared by the lifecycle commands.
type agent struct {
	cfg     *config.Config
	journal *audit.Journal
	status  *workerpool.Pool
	manager *lifecycle.Manager
	logFile io.Closer
}

// loadConfig reads and validates the configuration and sets up logging.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, nil)
	return cfg, nil
}

func newAgent() (*agent, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a := &agent{cfg: cfg}
	if cfg.LogFile != "" {
		rw, err := logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		if err != nil {
			return nil, err
		}
		logging.Init(cfg.LogFormat, cfg.LogLevel, io.MultiWriter(os.Stderr, rw))
		a.logFile = rw
	}

	eng, err := engine.NewCommand(cfg.Engine.Command)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("engine.command: %w", err)
	}

	fsys := afero.NewOsFs()
	if err := fsys.MkdirAll(cfg.StateDir, 0o700); err != nil {
		a.Close()
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	store := state.NewStore(fsys, cfg.StateDir)

	a.journal, err = audit.Open(fsys, cfg.StateDir, cfg.AuditMaxSizeMB, 3)
	if err != nil {
		// Installs still proceed without a journal.
		log.Warn("install journal unavailable", "error", err)
	}

	a.status = workerpool.New(cfg.StatusWorkers, cfg.StatusQueueSize, reportStatus)

	runner := session.NewRunner(session.Config{
		RepoServer:        cfg.RepoServer,
		MaxResumeAttempts: cfg.MaxResumeAttempts,
		ProgressInterval:  time.Duration(cfg.ProgressIntervalSeconds) * time.Second,
		Request: engine.Request{
			DryRun:      cfg.Engine.DryRun,
			SoftwareSet: cfg.Engine.SoftwareSet,
			RunningMode: cfg.Engine.RunningMode,
		},
	}, eng, newTransport(cfg), a.status)

	a.manager = lifecycle.New(
		runner,
		bootloader.NewHost(store, cfg.RebootCommand),
		lifecycle.FileVersionSource{FS: fsys, Path: cfg.RunningVersionFile},
		store,
		a.journal,
	)
	return a, nil
}

// Close drains pending status reports and closes the journal and log file.
func (a *agent) Close() {
	if a.status != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		a.status.Shutdown(ctx)
		cancel()
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			log.Warn("failed to close install journal", "error", err)
		}
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
}

func reportStatus(ev workerpool.Event) {
	level := "progress"
	if ev.Code == engine.CodeError {
		level = "error"
	}
	log.Info("installer status", logging.KeySessionID, ev.SessionID, "stream", level, "message", ev.Message)
}

func newTransport(cfg *config.Config) *transport.Mux {
	chunk := cfg.ChunkSizeKB << 10

	var authHost string
	if u, err := url.Parse(cfg.RepoServer); err == nil {
		authHost = u.Host
	}

	mux := transport.NewMux()
	mux.Handle(transport.NewHTTP(transport.HTTPConfig{
		AuthToken:     cfg.AuthToken,
		AuthHost:      authHost,
		ChunkSize:     chunk,
		HeaderTimeout: time.Duration(cfg.HTTPTimeoutSeconds) * time.Second,
		Proxy:         cfg.HTTPProxy,
		NoProxy:       cfg.NoProxy,
		Retry:         httputil.DefaultPolicy(),
	}), "http", "https")
	mux.Handle(transport.NewFile(nil, chunk), "file")
	mux.Handle(transport.NewS3(transport.S3Config{
		Region:          cfg.S3.Region,
		Endpoint:        cfg.S3.Endpoint,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
		SessionToken:    cfg.S3.SessionToken,
		UsePathStyle:    cfg.S3.UsePathStyle,
		ChunkSize:       chunk,
	}), "s3")
	mux.Handle(transport.NewGCS(transport.GCSConfig{
		CredentialsFile: cfg.GCS.CredentialsFile,
		Anonymous:       cfg.GCS.Anonymous,
		ChunkSize:       chunk,
	}), "gs")
	mux.Handle(transport.NewAzure(transport.AzureConfig{
		AccountName: cfg.Azure.AccountName,
		AccountKey:  cfg.Azure.AccountKey,
		ServiceURL:  cfg.Azure.ServiceURL,
		ChunkSize:   chunk,
	}), "azblob")
	mux.Handle(transport.NewB2(transport.B2Config{
		AccountID:      cfg.B2.AccountID,
		ApplicationKey: cfg.B2.ApplicationKey,
		ChunkSize:      chunk,
	}), "b2")
	return mux
}

// showStatus prints the persisted lifecycle record followed by the tail of
// the install journal.
func showStatus(w io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	fsys := afero.NewOsFs()

	r, err := state.NewStore(fsys, cfg.StateDir).Load()
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	enc.Close()

	entries, err := audit.ReadAll(fsys, filepath.Join(cfg.StateDir, audit.FileName))
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	integrity := "intact"
	if i := audit.VerifyChain(entries); i >= 0 {
		integrity = fmt.Sprintf("broken at entry %d", i+1)
	}
	fmt.Fprintf(w, "\njournal (%d entries, chain %s):\n", len(entries), integrity)
	if len(entries) > statusJournalTail {
		entries = entries[len(entries)-statusJournalTail:]
	}
	for _, e := range entries {
		line := fmt.Sprintf("  %s  %-16s", e.Timestamp, e.Event)
		if e.Target != "" {
			line += " " + e.Target
		}
		if e.Result != nil {
			line += "  " + e.Result.String()
		}
		fmt.Fprintln(w, line)
	}
	return nil
}
