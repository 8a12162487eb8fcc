package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/Alcumus/awe-library/internal/dataservice"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App   ApplicationConfig `yaml:"app"`
	Store StoreConfig       `yaml:"store"`
	Cache CacheConfig       `yaml:"cache"`
	Sync  SyncConfig        `yaml:"sync"`
	Auth  AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	if err := c.Sync.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// StoreConfig holds the local key-value store configuration: the change
// logs, the send queue, and draft contexts live here.
type StoreConfig struct {
	Path   string `yaml:"path"`
	Prefix string `yaml:"prefix"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// CacheConfig holds the document cache configuration.
type CacheConfig struct {
	Path string `yaml:"path"`

	// MemoTTLMS bounds how long a hydrated document is served without
	// re-reading the cache, in milliseconds.
	MemoTTLMS int `yaml:"memo_ttl_ms"`
}

// MemoTTL returns the retrieval memo lifetime.
func (c *CacheConfig) MemoTTL() time.Duration {
	return time.Duration(c.MemoTTLMS) * time.Millisecond
}

// Validate validates the cache configuration.
func (c *CacheConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.MemoTTLMS, validation.Min(0)),
	)
}

// SyncConfig holds the remote sync endpoint configuration. An empty URL
// means a purely local deployment: changes queue up and drafts stay local.
type SyncConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`

	// Mode selects the read preference: "local-first" or "server-preferred".
	Mode string `yaml:"mode"`

	// ProbeIntervalMS is the connectivity probe period in milliseconds;
	// zero disables probing (the monitor stays online).
	ProbeIntervalMS int `yaml:"probe_interval_ms"`

	// SendWaitMS is the send queue debounce window in milliseconds.
	SendWaitMS int `yaml:"send_wait_ms"`

	// SaveWaitMS is the draft save debounce window in milliseconds.
	SaveWaitMS int `yaml:"save_wait_ms"`
}

// ReadMode returns the configured dataservice read mode.
func (c *SyncConfig) ReadMode() dataservice.Mode {
	if c.Mode == string(dataservice.ModeServerPreferred) {
		return dataservice.ModeServerPreferred
	}
	return dataservice.ModeLocalFirst
}

// ProbeInterval returns the connectivity probe period.
func (c *SyncConfig) ProbeInterval() time.Duration {
	return time.Duration(c.ProbeIntervalMS) * time.Millisecond
}

// SendWait returns the send queue debounce window.
func (c *SyncConfig) SendWait() time.Duration {
	return time.Duration(c.SendWaitMS) * time.Millisecond
}

// SaveWait returns the draft save debounce window.
func (c *SyncConfig) SaveWait() time.Duration {
	return time.Duration(c.SaveWaitMS) * time.Millisecond
}

// Validate validates the sync configuration.
func (c *SyncConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = string(dataservice.ModeLocalFirst)
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required,
			validation.In(string(dataservice.ModeLocalFirst), string(dataservice.ModeServerPreferred))),
		validation.Field(&c.ProbeIntervalMS, validation.Min(0)),
		validation.Field(&c.SendWaitMS, validation.Min(0)),
		validation.Field(&c.SaveWaitMS, validation.Min(0)),
	)
}

// AuthConfig holds API authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Store: StoreConfig{
			Path: "./awe-store.db",
		},
		Cache: CacheConfig{
			Path:      "./awe-cache.db",
			MemoTTLMS: 2000,
		},
		Sync: SyncConfig{
			Mode:            string(dataservice.ModeLocalFirst),
			ProbeIntervalMS: 15000,
			SendWaitMS:      300,
			SaveWaitMS:      300,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
