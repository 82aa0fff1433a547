package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadFromBytes_Defaults(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(``))
	require.NoError(t, err)

	require.Equal(t, "info", cfg.Logging.Level)
	require.Equal(t, "text", cfg.Logging.Format)
	require.Equal(t, "none", cfg.USB.OnStart)
	require.False(t, cfg.USB.BlockMounts)

	min, err := cfg.Deadlines.Min()
	require.NoError(t, err)
	require.Equal(t, time.Second, min)
	max, err := cfg.Deadlines.Max()
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, max)
}

func TestLoadFromBytes_Full(t *testing.T) {
	data := []byte(`
logging:
  level: debug
  format: json
metrics:
  enabled: true
  addr: "127.0.0.1:9999"
usb:
  block_mounts: true
  remount_args: [noexec, rdonly]
  on_start: remount
deadlines:
  min_headroom: 250ms
  max_headroom: 2s
  fastpath_deny_kinds: [auth_exec]
`)
	cfg, err := LoadFromBytes(data)
	require.NoError(t, err)

	require.True(t, cfg.USB.BlockMounts)
	require.Equal(t, []string{"noexec", "rdonly"}, cfg.USB.RemountArgs)
	require.Equal(t, "remount", cfg.USB.OnStart)
	require.True(t, cfg.Metrics.Enabled)
	require.Equal(t, []string{"auth_exec"}, cfg.Deadlines.FastPathDenyKinds)

	min, _ := cfg.Deadlines.Min()
	require.Equal(t, 250*time.Millisecond, min)
}

func TestLoadFromBytes_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"bad log level", "logging:\n  level: verbose\n"},
		{"bad log format", "logging:\n  format: xml\n"},
		{"bad on_start", "usb:\n  on_start: eject\n"},
		{"bad min headroom", "deadlines:\n  min_headroom: fast\n"},
		{"max below min", "deadlines:\n  min_headroom: 10s\n  max_headroom: 1s\n"},
		{"unknown fast-path deny kind", "deadlines:\n  fastpath_deny_kinds: [auth_mount, auth_usb]\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tt.data))
			require.Error(t, err)
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("usb:\n  block_mounts: false\n"), 0o600))

	t.Setenv("SANTAD_BLOCK_USB", "true")
	t.Setenv("SANTAD_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.True(t, cfg.USB.BlockMounts)
	require.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
