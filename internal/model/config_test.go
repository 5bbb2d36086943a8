package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, "pop3s", cfg.Mailbox.Type)
	require.Equal(t, "INBOX", cfg.Mailbox.Folder)
	require.True(t, cfg.Mailbox.DeleteAfterFetch)
	require.Equal(t, 120, cfg.Poll.IntervalSec)
	require.NotEmpty(t, cfg.Storage.DatabasePath)
}

func TestLoadConfigReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `mailbox:
  type: imaps
  host: mail.example.com
  port: 993
  username: support@example.com
  folder: Support
  delete_after_fetch: false
  window_days: 14
storage:
  database_path: /var/lib/mailticket/db.sqlite
  attachments_dir: /var/lib/mailticket/attachments
poll:
  interval_sec: 60
  cycle_timeout_sec: 90
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "imaps", cfg.Mailbox.Type)
	require.Equal(t, "mail.example.com", cfg.Mailbox.Host)
	require.Equal(t, 993, cfg.Mailbox.Port)
	require.Equal(t, "support@example.com", cfg.Mailbox.Username)
	require.Equal(t, "Support", cfg.Mailbox.Folder)
	require.False(t, cfg.Mailbox.DeleteAfterFetch)
	require.Equal(t, 14, cfg.Mailbox.WindowDays)
	require.Equal(t, "/var/lib/mailticket/db.sqlite", cfg.Storage.DatabasePath)
	require.Equal(t, 60, cfg.Poll.IntervalSec)
	require.Equal(t, 90, cfg.Poll.CycleTimeoutSec)
}

func TestLoadConfigEnvProvidesPassword(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "mailbox:\n  host: mail.example.com\n  username: support@example.com\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	t.Setenv("MAILTICKET_MAILBOX_PASSWORD", "s3cret")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "s3cret", cfg.Mailbox.Password)
	require.Equal(t, "mail.example.com", cfg.Mailbox.Host)
}

func TestLoadConfigEnvAppliesWithoutFile(t *testing.T) {
	t.Setenv("MAILTICKET_MAILBOX_HOST", "env.example.com")
	t.Setenv("MAILTICKET_MAILBOX_PORT", "995")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, "env.example.com", cfg.Mailbox.Host)
	require.Equal(t, 995, cfg.Mailbox.Port)
	// Defaults still fill the rest.
	require.Equal(t, "pop3s", cfg.Mailbox.Type)
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mailbox:\n  folder: FromFile\n"), 0o644))

	t.Setenv("MAILTICKET_MAILBOX_FOLDER", "FromEnv")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "FromEnv", cfg.Mailbox.Folder)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	in := defaultAppConfig()
	in.Mailbox.Host = "mail.example.com"
	in.Mailbox.Username = "support@example.com"
	in.Poll.IntervalSec = 45
	require.NoError(t, SaveConfig(path, in))

	out, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, in.Mailbox.Host, out.Mailbox.Host)
	require.Equal(t, in.Mailbox.Username, out.Mailbox.Username)
	require.Equal(t, 45, out.Poll.IntervalSec)
}
