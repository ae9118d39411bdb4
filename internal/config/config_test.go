package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable Load reads so host settings cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"CONFIG_ADMIN_DIR", "APP_HTTP_PORT", "MS_HTTP_PORT",
		"AUDIOSERVER_IP", "AUDIOSERVER_MAC", "SQLITE_DB_PATH",
		"MEDIA_PROVIDER", "PAIRING_SOURCE",
		"AUDIOSERVER_LOG_FILE", "AUDIOSERVER_LOG_MAX_BYTES",
		"AUDIOSERVER_CONSOLE_LOG_LEVEL", "AUDIOSERVER_FILE_LOG_LEVEL",
		"BACKEND_TIMEOUT_MS", "HEARTBEAT_SPEC",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
	for _, entry := range os.Environ() {
		if len(entry) > len(providerOptionPrefix) && entry[:len(providerOptionPrefix)] == providerOptionPrefix {
			for i := range entry {
				if entry[i] == '=' {
					t.Setenv(entry[:i], "")
					break
				}
			}
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_ADMIN_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "7091", cfg.AppHTTPPort)
	require.Equal(t, "7095", cfg.MsHTTPPort)
	require.Equal(t, "50:4F:94:FF:1B:B3", cfg.AudioServerMAC)
	require.Equal(t, PairingSourceCache, cfg.PairingSource)
	require.Equal(t, 5000, cfg.BackendTimeoutMs)
	require.Equal(t, "@every 1m", cfg.HeartbeatSpec)
	require.Equal(t, filepath.Join(cfg.AdminDir, "bridge.db"), cfg.SQLiteDBPath)
}

func TestLoadFileSettings(t *testing.T) {
	clearEnv(t)
	adminDir := t.TempDir()
	t.Setenv("CONFIG_ADMIN_DIR", adminDir)

	settings := []byte("appHttpPort: \"8091\"\nmediaProvider: musicassistant\nbackendTimeoutMs: 2500\n")
	require.NoError(t, os.WriteFile(filepath.Join(adminDir, "bridge.yaml"), settings, 0o644))

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "8091", cfg.AppHTTPPort)
	require.Equal(t, "musicassistant", cfg.MediaProvider)
	require.Equal(t, 2500, cfg.BackendTimeoutMs)
	// Fields absent from the file keep their defaults.
	require.Equal(t, "7095", cfg.MsHTTPPort)
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	adminDir := t.TempDir()
	t.Setenv("CONFIG_ADMIN_DIR", adminDir)

	settings := []byte("appHttpPort: \"8091\"\npairingSource: cache\n")
	require.NoError(t, os.WriteFile(filepath.Join(adminDir, "bridge.yaml"), settings, 0o644))
	t.Setenv("APP_HTTP_PORT", "9091")
	t.Setenv("PAIRING_SOURCE", "miniserver")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "9091", cfg.AppHTTPPort)
	require.Equal(t, PairingSourceMiniserver, cfg.PairingSource)
}

func TestLoadRejectsBadPairingSource(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_ADMIN_DIR", t.TempDir())
	t.Setenv("PAIRING_SOURCE", "carrier-pigeon")

	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "PAIRING_SOURCE")
}

func TestLoadRejectsMalformedSettingsFile(t *testing.T) {
	clearEnv(t)
	adminDir := t.TempDir()
	t.Setenv("CONFIG_ADMIN_DIR", adminDir)
	require.NoError(t, os.WriteFile(filepath.Join(adminDir, "bridge.yaml"), []byte("{not yaml"), 0o644))

	_, err := Load()
	require.Error(t, err)
}

func TestProviderOptionsFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_ADMIN_DIR", t.TempDir())
	t.Setenv("MEDIA_PROVIDER_TOKEN", "abc123")
	t.Setenv("MEDIA_PROVIDER_BASE_URL", "http://ma.local:8095")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "abc123", cfg.ProviderOptions["token"])
	require.Equal(t, "http://ma.local:8095", cfg.ProviderOptions["base_url"])
}

func TestMacID(t *testing.T) {
	require.Equal(t, "504F94FF1BB3", Config{AudioServerMAC: "50:4F:94:FF:1B:B3"}.MacID())
	require.Equal(t, "504F94FF1BB3", Config{AudioServerMAC: "50-4f-94-ff-1b-b3"}.MacID())
}
