// Package config loads server settings from flags, environment variables
// (prefix LICENSURE_) and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"licensure/internal/application/filters"
	"licensure/internal/domain/flow"
)

// EnvPrefix prefixes every environment variable the server reads.
const EnvPrefix = "LICENSURE"

// Scope selects where filter slots live.
type Scope string

const (
	// ScopeDurable keeps slots in SQLite behind a long-lived visitor cookie.
	ScopeDurable Scope = "durable"
	// ScopeSession keeps slots in memory behind a browser-session cookie.
	ScopeSession Scope = "session"
)

// Setting keys. Environment names are the upper-cased key with the prefix,
// e.g. storage_scope is LICENSURE_STORAGE_SCOPE.
const (
	KeyAddr          = "addr"
	KeyEnv           = "env"
	KeyDBPath        = "db_path"
	KeyStorageScope  = "storage_scope"
	KeyBackClear     = "back_clear"
	KeySlot          = "slot"
	KeyLegacySlot    = "legacy_slot"
	KeyCSRFKey       = "csrf_key"
	KeyLogLevel      = "log_level"
	KeyStaticDir     = "static_dir"
	KeySlotTTL       = "slot_ttl"
	KeyPurgeInterval = "purge_interval"
)

var (
	ErrUnknownScope    = errors.New("storage_scope must be 'durable' or 'session'")
	ErrUnknownLogLevel = errors.New("log_level must be debug, info, warn or error")
	ErrEmptySlot       = errors.New("slot must not be empty")
	ErrBadInterval     = errors.New("slot_ttl and purge_interval must be positive")
)

// Config is the resolved server configuration.
type Config struct {
	Addr          string
	Env           string
	DBPath        string
	StorageScope  Scope
	BackClear     flow.ClearConvention
	Slot          string
	LegacySlot    string
	CSRFKey       string
	LogLevel      string
	StaticDir     string
	SlotTTL       time.Duration
	PurgeInterval time.Duration
}

// SetDefaults registers defaults and environment binding on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyAddr, ":8080")
	v.SetDefault(KeyEnv, "development")
	v.SetDefault(KeyDBPath, "licensure.db")
	v.SetDefault(KeyStorageScope, string(ScopeDurable))
	v.SetDefault(KeyBackClear, string(flow.ClearLeaving))
	v.SetDefault(KeySlot, filters.DefaultSlot)
	v.SetDefault(KeyLegacySlot, filters.DefaultLegacySlot)
	v.SetDefault(KeyCSRFKey, "")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyStaticDir, "static")
	v.SetDefault(KeySlotTTL, 365*24*time.Hour)
	v.SetDefault(KeyPurgeInterval, time.Hour)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()
}

// Load resolves a Config from v.
// PRE: SetDefaults has been called on v
// POST: Returns a validated Config, or the first validation error
func Load(v *viper.Viper) (Config, error) {
	conv, err := flow.ParseClearConvention(v.GetString(KeyBackClear))
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Addr:          v.GetString(KeyAddr),
		Env:           v.GetString(KeyEnv),
		DBPath:        v.GetString(KeyDBPath),
		StorageScope:  Scope(strings.ToLower(strings.TrimSpace(v.GetString(KeyStorageScope)))),
		BackClear:     conv,
		Slot:          strings.TrimSpace(v.GetString(KeySlot)),
		LegacySlot:    strings.TrimSpace(v.GetString(KeyLegacySlot)),
		CSRFKey:       v.GetString(KeyCSRFKey),
		LogLevel:      strings.ToLower(strings.TrimSpace(v.GetString(KeyLogLevel))),
		StaticDir:     v.GetString(KeyStaticDir),
		SlotTTL:       v.GetDuration(KeySlotTTL),
		PurgeInterval: v.GetDuration(KeyPurgeInterval),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks enumerations and intervals.
func (c Config) Validate() error {
	switch c.StorageScope {
	case ScopeDurable, ScopeSession:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownScope, c.StorageScope)
	}
	if _, err := flow.ParseClearConvention(string(c.BackClear)); err != nil {
		return err
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Slot == "" {
		return ErrEmptySlot
	}
	if c.StorageScope == ScopeDurable && (c.SlotTTL <= 0 || c.PurgeInterval <= 0) {
		return ErrBadInterval
	}
	return nil
}

// Production reports whether the server runs in production.
func (c Config) Production() bool {
	return c.Env == "production"
}

// SlogLevel returns the configured log level.
func (c Config) SlogLevel() slog.Level {
	l, _ := parseLevel(c.LogLevel)
	return l
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("%w: %q", ErrUnknownLogLevel, s)
}
