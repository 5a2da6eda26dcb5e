package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

const (
	configName = "breeze-swupdate"
	envPrefix  = "BREEZE_SWUPDATE"
)

type Config struct {
	RepoServer         string `mapstructure:"repo_server"`
	AuthToken          string `mapstructure:"auth_token"`
	PackagesFile       string `mapstructure:"packages_file"`
	StateDir           string `mapstructure:"state_dir"`
	RunningVersionFile string `mapstructure:"running_version_file"`

	ChunkSizeKB             int    `mapstructure:"chunk_size_kb"`
	MaxResumeAttempts       int    `mapstructure:"max_resume_attempts"`
	HTTPTimeoutSeconds      int    `mapstructure:"http_timeout_seconds"`
	HTTPProxy               string `mapstructure:"http_proxy"`
	NoProxy                 string `mapstructure:"no_proxy"`
	ProgressIntervalSeconds int    `mapstructure:"progress_interval_seconds"`

	StatusWorkers   int `mapstructure:"status_workers"`
	StatusQueueSize int `mapstructure:"status_queue_size"`

	Engine        EngineConfig `mapstructure:"engine"`
	RebootCommand string       `mapstructure:"reboot_command"`

	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`

	AuditMaxSizeMB int `mapstructure:"audit_max_size_mb"`

	S3    S3Config    `mapstructure:"s3"`
	GCS   GCSConfig   `mapstructure:"gcs"`
	Azure AzureConfig `mapstructure:"azure"`
	B2    B2Config    `mapstructure:"b2"`
}

// EngineConfig selects the installer command and the request it receives.
type EngineConfig struct {
	Command     string `mapstructure:"command"`
	DryRun      bool   `mapstructure:"dry_run"`
	SoftwareSet string `mapstructure:"software_set"`
	RunningMode string `mapstructure:"running_mode"`
}

type S3Config struct {
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
}

type GCSConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
	Anonymous       bool   `mapstructure:"anonymous"`
}

type AzureConfig struct {
	AccountName string `mapstructure:"account_name"`
	AccountKey  string `mapstructure:"account_key"`
	ServiceURL  string `mapstructure:"service_url"`
}

type B2Config struct {
	AccountID      string `mapstructure:"account_id"`
	ApplicationKey string `mapstructure:"application_key"`
}

func Default() *Config {
	return &Config{
		PackagesFile:            defaultPackagesFile(),
		StateDir:                defaultStateDir(),
		ChunkSizeKB:             64,
		MaxResumeAttempts:       3,
		HTTPTimeoutSeconds:      30,
		ProgressIntervalSeconds: 5,
		StatusWorkers:           1,
		StatusQueueSize:         256,
		Engine: EngineConfig{
			Command:     "swupdate -i -",
			SoftwareSet: "stable",
			RunningMode: "main",
		},
		LogLevel:       "info",
		LogFormat:      "text",
		LogMaxSizeMB:   10,
		LogMaxBackups:  3,
		AuditMaxSizeMB: 10,
	}
}

// Load reads cfgFile (or breeze-swupdate.yaml from the config directory or
// the working directory) and applies BREEZE_SWUPDATE_* environment
// overrides. Nested keys use underscores, e.g. BREEZE_SWUPDATE_ENGINE_COMMAND.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only resolves keys viper already knows about.
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

var envKeys = []string{
	"repo_server", "auth_token", "packages_file", "state_dir", "running_version_file",
	"chunk_size_kb", "max_resume_attempts", "http_timeout_seconds", "http_proxy", "no_proxy",
	"progress_interval_seconds", "status_workers", "status_queue_size",
	"engine.command", "engine.dry_run", "engine.software_set", "engine.running_mode",
	"reboot_command",
	"log_level", "log_format", "log_file", "log_max_size_mb", "log_max_backups",
	"audit_max_size_mb",
	"s3.region", "s3.endpoint", "s3.access_key_id", "s3.secret_access_key", "s3.session_token", "s3.use_path_style",
	"gcs.credentials_file", "gcs.anonymous",
	"azure.account_name", "azure.account_key", "azure.service_url",
	"b2.account_id", "b2.application_key",
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Breeze")
	case "darwin":
		return "/Library/Application Support/Breeze"
	default:
		return "/etc/breeze"
	}
}

func defaultStateDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Breeze", "swupdate")
	case "darwin":
		return "/Library/Application Support/Breeze/swupdate"
	default:
		return "/var/lib/breeze/swupdate"
	}
}

func defaultPackagesFile() string {
	return filepath.Join(defaultStateDir(), "installed-packages")
}
