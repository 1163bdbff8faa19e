// Package config holds process-wide settings loaded from the environment,
// following the teacher's config/settings.go convention: package-level vars
// populated once at init(), with .env loading (joho/godotenv) layered under
// viper env-binding so flags > env > .env > defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var (
	// AppVersion is the daemon's own version string, bumped on release.
	AppVersion = "v0.1.0"

	// Upstream credentials. Required; see Validate().
	TelegramAPIID   string
	TelegramAPIHash string

	// DataDir roots the on-disk layout (spec.md §6): data.db, one
	// cache_<accountID>.db per account, daemon.pid, fixtures/.
	DataDir string

	// Record/replay harness mode (spec.md §4.8 / §6).
	APIRecord   bool
	APIReplay   bool
	FixturesDir string

	// Daemon loop tuning (spec.md §4.7).
	TickInterval          = 1
	HealthCheckEveryTicks = 10
	CleanupEveryTicks     = 300
	CleanupAgeSeconds     = 24 * 60 * 60
	ShutdownTimeoutSecs   = 30

	// Sync worker tuning (spec.md §4.5).
	BatchSize = 100

	// Reconnect backoff defaults (spec.md §4.6).
	ReconnectInitialDelaySecs = 5
	ReconnectMaxDelaySecs     = 5 * 60
	ReconnectMultiplier       = 2.0
	ReconnectMaxAttempts      = 10

	// Optional distributed status fan-out (internal/statusbus), enrichment
	// over spec.md using the teacher's valkey client.
	ValkeyEnabled   = false
	ValkeyAddress   = "127.0.0.1:6379"
	ValkeyPassword  string
	ValkeyDB        = 0
	ValkeyKeyPrefix = "tgcli"
)

func init() {
	_ = godotenv.Load()

	home, _ := os.UserHomeDir()
	DataDir = strings.TrimSpace(os.Getenv("TELEGRAM_CLI_DATA_DIR"))
	if DataDir == "" {
		DataDir = filepath.Join(home, ".telegram-cli")
	}

	viper.AutomaticEnv()
	bindEnv("telegram_api_id", "TELEGRAM_API_ID")
	bindEnv("telegram_api_hash", "TELEGRAM_API_HASH")
	bindEnv("telegram_api_record", "TELEGRAM_API_RECORD")
	bindEnv("telegram_api_replay", "TELEGRAM_API_REPLAY")
	bindEnv("telegram_api_fixtures_dir", "TELEGRAM_API_FIXTURES_DIR")
	bindEnv("valkey_enabled", "VALKEY_ENABLED")
	bindEnv("valkey_address", "VALKEY_ADDRESS")
	bindEnv("valkey_password", "VALKEY_PASSWORD")
	bindEnv("valkey_db", "VALKEY_DB")
	bindEnv("valkey_key_prefix", "VALKEY_KEY_PREFIX")

	TelegramAPIID = viper.GetString("telegram_api_id")
	TelegramAPIHash = viper.GetString("telegram_api_hash")
	APIRecord = viper.GetBool("telegram_api_record")
	APIReplay = viper.GetBool("telegram_api_replay")

	FixturesDir = strings.TrimSpace(viper.GetString("telegram_api_fixtures_dir"))
	if FixturesDir == "" {
		FixturesDir = filepath.Join(DataDir, "fixtures", "telegram")
	}

	if viper.IsSet("valkey_enabled") {
		ValkeyEnabled = viper.GetBool("valkey_enabled")
	}
	if v := viper.GetString("valkey_address"); v != "" {
		ValkeyAddress = v
	}
	if v := viper.GetString("valkey_password"); v != "" {
		ValkeyPassword = v
	}
	if viper.IsSet("valkey_db") {
		ValkeyDB = viper.GetInt("valkey_db")
	}
	if v := viper.GetString("valkey_key_prefix"); v != "" {
		ValkeyKeyPrefix = v
	}
}

func bindEnv(key, env string) {
	if err := viper.BindEnv(key, env); err != nil {
		logrus.WithError(err).Warnf("[CONFIG] failed to bind env %s", env)
	}
}

// Validate checks the required upstream credentials are present. Called at
// daemon startup before anything touches the store or RemoteClient.
func Validate() error {
	return validation.Errors{
		"TELEGRAM_API_ID":   validation.Validate(TelegramAPIID, validation.Required),
		"TELEGRAM_API_HASH": validation.Validate(TelegramAPIHash, validation.Required),
	}.Filter()
}

// DataPath joins a relative path under DataDir — the same layout-rooting
// convention as the teacher's PathStorages-relative helpers.
func DataPath(parts ...string) string {
	return filepath.Join(append([]string{DataDir}, parts...)...)
}

// EnsureDataDir creates DataDir if missing.
func EnsureDataDir() error {
	if err := os.MkdirAll(DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return nil
}

// EnvInt reads an optional integer override, falling back to def on absence
// or parse failure — mirrors the teacher's small env-parsing helpers.
func EnvInt(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
