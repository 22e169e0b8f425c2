package internal

import (
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/synaptic-algos/ST-KnowledgeVault/internal/roadmap"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App    ApplicationConfig `yaml:"app"`
	Vault  VaultConfig       `yaml:"vault"`
	SQLite SQLiteConfig      `yaml:"sqlite"`
	Auth   AuthConfig        `yaml:"auth"`
	Watch  WatchConfig       `yaml:"watch"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Vault.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Watch.Validate(); err != nil {
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

// VaultConfig locates the knowledge vault and the documents the sync
// engine reads inside it. All paths except Path are vault-relative.
type VaultConfig struct {
	Path         string `yaml:"path"`
	EpicsDir     string `yaml:"epics_dir"`
	EpicPattern  string `yaml:"epic_pattern"`
	DocumentName string `yaml:"document_name"`
	Roadmap      string `yaml:"roadmap"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.EpicsDir, validation.Required),
		validation.Field(&c.EpicPattern, validation.Required, validation.By(validPattern)),
		validation.Field(&c.DocumentName, validation.Required),
		validation.Field(&c.Roadmap, validation.Required),
	)
}

// RoadmapOptions returns the regenerator layout for this vault.
func (c *VaultConfig) RoadmapOptions() roadmap.Options {
	return roadmap.Options{
		EpicsDir:     c.EpicsDir,
		EpicPattern:  c.EpicPattern,
		DocumentName: c.DocumentName,
		Roadmap:      c.Roadmap,
	}
}

func validPattern(v any) error {
	p, _ := v.(string)
	if _, err := path.Match(p, ""); err != nil {
		return fmt.Errorf("invalid glob %q", p)
	}
	return nil
}

// SQLiteConfig holds the document index configuration. An empty Path
// disables the index; a relative Path is resolved against the vault root.
// Record enables the propagation ledger.
type SQLiteConfig struct {
	Path   string `yaml:"path"`
	Record bool   `yaml:"record"`
}

// Enabled reports whether the document index should be opened.
func (c *SQLiteConfig) Enabled() bool {
	return c.Path != ""
}

// IndexPath returns the index file location, or "" when the index is
// disabled.
func (c *Config) IndexPath() string {
	p := c.SQLite.Path
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Vault.Path, p)
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	if c.Record && c.Path == "" {
		return fmt.Errorf("sqlite: record is set but path is empty")
	}
	return nil
}

// WatchConfig tunes serve --watch.
type WatchConfig struct {
	// RegenerateDelay is the quiet period after the last epic change before
	// the roadmap is regenerated.
	RegenerateDelay time.Duration `yaml:"regenerate_delay"`
	// EventThrottle bounds how often vault.changed is sent to SSE clients.
	EventThrottle time.Duration `yaml:"event_throttle"`
}

// Validate validates the watch configuration.
func (c *WatchConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.RegenerateDelay, validation.Min(time.Duration(0))),
		validation.Field(&c.EventThrottle, validation.Min(time.Duration(0))),
	)
}

// AuthConfig holds authentication configuration.
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
		Vault: VaultConfig{
			Path:         ".",
			EpicsDir:     "EPICS",
			EpicPattern:  "EPIC-*",
			DocumentName: "README.md",
			Roadmap:      "ROADMAP.md",
		},
		SQLite: SQLiteConfig{
			Path: ".vaultsync.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Watch: WatchConfig{
			RegenerateDelay: time.Second,
			EventThrottle:   2 * time.Second,
		},
	}
}
