package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "xmp3d.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTemp(t, "server_jid: localhost\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 5222, cfg.Port)
	require.Equal(t, 4096, cfg.ReceiveBufferSize)
}

func TestLoadRequiresServerJID(t *testing.T) {
	path := writeTemp(t, "port: 5222\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadFullSurface(t *testing.T) {
	path := writeTemp(t, `
bind_address: 0.0.0.0
port: 5223
server_jid: im.example.com
tls_enabled: true
cert_file: /etc/xmp3d/cert.pem
key_file: /etc/xmp3d/key.pem
receive_buffer_size: 8192
muc_subdomain: conference.im.example.com
storage:
  driver: sqlite3
  data_source: /var/lib/xmp3d/xmp3d.db
websocket:
  bind_address: 0.0.0.0
  port: 5280
modules:
  ping:
    path: /usr/lib/xmp3d/ping.so
    settings:
      interval: "30"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "im.example.com", cfg.ServerJID)
	require.True(t, cfg.TLSEnabled)
	require.Equal(t, "conference.im.example.com", cfg.MUCSubdomain)
	require.Equal(t, "sqlite3", cfg.Storage.Driver)
	require.NotNil(t, cfg.WebSocket)
	require.Equal(t, 5280, cfg.WebSocket.Port)
	require.Equal(t, "/usr/lib/xmp3d/ping.so", cfg.Modules["ping"].Path)
	require.Equal(t, "30", cfg.Modules["ping"].Settings["interval"])
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
