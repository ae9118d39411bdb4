package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// PairingSource selects how the bridge seeds its MiniServer pairing state.
type PairingSource string

const (
	// PairingSourceCache reads the last persisted music cache and never
	// contacts the MiniServer on its own.
	PairingSourceCache PairingSource = "cache"
	// PairingSourceMiniserver actively fetches the music configuration from
	// the MiniServer on startup using Basic auth.
	PairingSourceMiniserver PairingSource = "miniserver"
)

// Config holds the base bridge configuration.
type Config struct {
	AppHTTPPort     string
	MsHTTPPort      string
	AudioServerIP   string
	AudioServerMAC  string
	AdminDir        string
	SQLiteDBPath    string
	MediaProvider   string
	ProviderOptions map[string]string
	PairingSource   PairingSource

	LogFile         string
	LogMaxBytes     int64
	ConsoleLogLevel string
	FileLogLevel    string

	BackendTimeoutMs int
	HeartbeatSpec    string
}

// fileSettings mirrors the optional bridge.yaml in the admin dir.
// Environment variables take precedence over every field.
type fileSettings struct {
	AppHTTPPort      string `yaml:"appHttpPort"`
	MsHTTPPort       string `yaml:"msHttpPort"`
	AudioServerIP    string `yaml:"audioserverIp"`
	AudioServerMAC   string `yaml:"audioserverMac"`
	SQLiteDBPath     string `yaml:"sqliteDbPath"`
	MediaProvider    string `yaml:"mediaProvider"`
	PairingSource    string `yaml:"pairingSource"`
	LogFile          string `yaml:"logFile"`
	LogMaxBytes      int64  `yaml:"logMaxBytes"`
	ConsoleLogLevel  string `yaml:"consoleLogLevel"`
	FileLogLevel     string `yaml:"fileLogLevel"`
	BackendTimeoutMs int    `yaml:"backendTimeoutMs"`
}

const providerOptionPrefix = "MEDIA_PROVIDER_"

// Load reads configuration from the optional bridge.yaml and environment
// variables, with environment taking precedence.
func Load() (Config, error) {
	adminDir := envString("CONFIG_ADMIN_DIR", "./data")

	var file fileSettings
	settingsPath := filepath.Join(adminDir, "bridge.yaml")
	if raw, err := os.ReadFile(settingsPath); err == nil {
		if err := yaml.Unmarshal(raw, &file); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", settingsPath, err)
		}
	}

	cfg := Config{
		AppHTTPPort:      envString("APP_HTTP_PORT", fallback(file.AppHTTPPort, "7091")),
		MsHTTPPort:       envString("MS_HTTP_PORT", fallback(file.MsHTTPPort, "7095")),
		AudioServerIP:    envString("AUDIOSERVER_IP", file.AudioServerIP),
		AudioServerMAC:   envString("AUDIOSERVER_MAC", fallback(file.AudioServerMAC, "50:4F:94:FF:1B:B3")),
		AdminDir:         adminDir,
		SQLiteDBPath:     envString("SQLITE_DB_PATH", fallback(file.SQLiteDBPath, filepath.Join(adminDir, "bridge.db"))),
		MediaProvider:    envString("MEDIA_PROVIDER", file.MediaProvider),
		ProviderOptions:  providerOptionsFromEnv(),
		PairingSource:    PairingSource(envString("PAIRING_SOURCE", fallback(file.PairingSource, string(PairingSourceCache)))),
		LogFile:          envString("AUDIOSERVER_LOG_FILE", file.LogFile),
		LogMaxBytes:      envInt64("AUDIOSERVER_LOG_MAX_BYTES", fallbackInt64(file.LogMaxBytes, 10*1024*1024)),
		ConsoleLogLevel:  envString("AUDIOSERVER_CONSOLE_LOG_LEVEL", fallback(file.ConsoleLogLevel, "info")),
		FileLogLevel:     envString("AUDIOSERVER_FILE_LOG_LEVEL", fallback(file.FileLogLevel, "debug")),
		BackendTimeoutMs: envInt("BACKEND_TIMEOUT_MS", fallbackInt(file.BackendTimeoutMs, 5000)),
		HeartbeatSpec:    envString("HEARTBEAT_SPEC", "@every 1m"),
	}

	switch cfg.PairingSource {
	case PairingSourceCache, PairingSourceMiniserver:
	default:
		return Config{}, fmt.Errorf("PAIRING_SOURCE must be %q or %q, got %q",
			PairingSourceCache, PairingSourceMiniserver, cfg.PairingSource)
	}

	return cfg, nil
}

// MacID returns the canonical AudioServer MAC: upper-case hex, no separators.
func (c Config) MacID() string {
	mac := strings.ToUpper(c.AudioServerMAC)
	mac = strings.ReplaceAll(mac, ":", "")
	return strings.ReplaceAll(mac, "-", "")
}

// providerOptionsFromEnv collects MEDIA_PROVIDER_<KEY> variables into a map
// keyed by the lower-cased suffix.
func providerOptionsFromEnv() map[string]string {
	options := map[string]string{}
	for _, entry := range os.Environ() {
		if !strings.HasPrefix(entry, providerOptionPrefix) {
			continue
		}
		kv := strings.SplitN(strings.TrimPrefix(entry, providerOptionPrefix), "=", 2)
		if len(kv) != 2 || kv[0] == "" {
			continue
		}
		options[strings.ToLower(kv[0])] = kv[1]
	}
	return options
}

func fallback(val, def string) string {
	if val == "" {
		return def
	}
	return val
}

func fallbackInt(val, def int) int {
	if val == 0 {
		return def
	}
	return val
}

func fallbackInt64(val, def int64) int64 {
	if val == 0 {
		return def
	}
	return val
}

func envString(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func envInt(key string, def int) int {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return parsed
}

func envInt64(key string, def int64) int64 {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	parsed, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}
