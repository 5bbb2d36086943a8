package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// MailboxConfig holds the connection settings for the polled mailbox.
type MailboxConfig struct {
	// Type selects the protocol: "pop3", "pop3s", "imap", or "imaps".
	Type string `mapstructure:"type" yaml:"type"`

	// Host is the mail server hostname.
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the mail server port; 0 picks the protocol default.
	Port int `mapstructure:"port" yaml:"port"`

	// Username is the mailbox login.
	Username string `mapstructure:"username" yaml:"username"`

	// Password is the mailbox password. When empty, the password is
	// resolved from the MAILTICKET_MAILBOX_PASSWORD environment
	// variable or the OS keyring.
	Password string `mapstructure:"password" yaml:"password"`

	// Folder is the IMAP mailbox to poll. Ignored for POP3.
	Folder string `mapstructure:"folder" yaml:"folder"`

	// DeleteAfterFetch removes messages from the server once they
	// have been sealed into tickets.
	DeleteAfterFetch bool `mapstructure:"delete_after_fetch" yaml:"delete_after_fetch"`

	// WindowDays limits IMAP polling to messages received in the last
	// N days; 0 means no limit. Ignored for POP3.
	WindowDays int `mapstructure:"window_days" yaml:"window_days"`
}

// StorageConfig holds the durable storage locations.
type StorageConfig struct {
	// DatabasePath is the SQLite database file.
	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`

	// AttachmentsDir is the root directory for attachment payloads and
	// archived bodies.
	AttachmentsDir string `mapstructure:"attachments_dir" yaml:"attachments_dir"`
}

// PollConfig controls the ingestion cycle cadence.
type PollConfig struct {
	// IntervalSec is how often (in seconds) a fetch cycle runs.
	IntervalSec int `mapstructure:"interval_sec" yaml:"interval_sec"`

	// CycleTimeoutSec bounds a single fetch cycle.
	CycleTimeoutSec int `mapstructure:"cycle_timeout_sec" yaml:"cycle_timeout_sec"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Mailbox MailboxConfig `mapstructure:"mailbox" yaml:"mailbox"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Poll    PollConfig    `mapstructure:"poll" yaml:"poll"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailticket/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailticket", "config.yaml")
}

// defaultDataDir returns the default directory for durable state.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share", "mailticket")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	dataDir := defaultDataDir()
	return &AppConfig{
		Mailbox: MailboxConfig{
			Type:             "pop3s",
			Folder:           "INBOX",
			DeleteAfterFetch: true,
		},
		Storage: StorageConfig{
			DatabasePath:   filepath.Join(dataDir, "mailticket.db"),
			AttachmentsDir: filepath.Join(dataDir, "attachments"),
		},
		Poll: PollConfig{
			IntervalSec:     120,
			CycleTimeoutSec: 300,
		},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper,
// with MAILTICKET_* environment variables taking precedence over file
// values. A missing file is not an error: defaults and environment
// overrides still apply. Every key carries a default so AutomaticEnv
// resolves its MAILTICKET_* variable even when the file never mentions
// the key.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	dataDir := defaultDataDir()
	v.SetDefault("mailbox.type", "pop3s")
	v.SetDefault("mailbox.host", "")
	v.SetDefault("mailbox.port", 0)
	v.SetDefault("mailbox.username", "")
	v.SetDefault("mailbox.password", "")
	v.SetDefault("mailbox.folder", "INBOX")
	v.SetDefault("mailbox.delete_after_fetch", true)
	v.SetDefault("mailbox.window_days", 0)
	v.SetDefault("storage.database_path", filepath.Join(dataDir, "mailticket.db"))
	v.SetDefault("storage.attachments_dir", filepath.Join(dataDir, "attachments"))
	v.SetDefault("poll.interval_sec", 120)
	v.SetDefault("poll.cycle_timeout_sec", 300)

	v.SetEnvPrefix("MAILTICKET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		_, pathErr := err.(*os.PathError)
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !pathErr && !notFound {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("mailbox", cfg.Mailbox)
	v.Set("storage", cfg.Storage)
	v.Set("poll", cfg.Poll)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
