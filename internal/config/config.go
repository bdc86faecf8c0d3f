package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gookit/validate"
	"github.com/spf13/viper"
)

// Config is the root configuration for tat, stored in ~/.tat/config.json.
// The file supports single-line // comments for documentation purposes.
// Every key can be overridden from the environment with the TAT_ prefix,
// e.g. TAT_STORE_DRIVER=sqlite or TAT_SERVER_URL.
type Config struct {
	Store StoreConfig `mapstructure:"store"`
	// Timezone is the IANA zone defining calendar days. Empty = local time.
	Timezone string       `mapstructure:"timezone"`
	Server   ServerConfig `mapstructure:"server"`
	Log      LogConfig    `mapstructure:"log"`
}

// StoreConfig selects the document store backend.
type StoreConfig struct {
	// Driver is one of file, sqlite or memory.
	Driver string `mapstructure:"driver" validate:"required|in:file,sqlite,memory"`
	// Path is the data directory (file) or database file (sqlite). Empty
	// selects the default location under ~/.tat.
	Path string `mapstructure:"path"`
}

// ServerConfig holds settings for `tat serve` and for talking to a server.
type ServerConfig struct {
	Listen string `mapstructure:"listen" validate:"required"`
	// URL of a tat server. When set, the CLI clocks in and out remotely.
	URL       string        `mapstructure:"url" validate:"fullUrl"`
	JWTSecret string        `mapstructure:"jwt_secret" validate:"minLen:16"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"required|in:debug,info,warn,error"`
}

const (
	DefaultDriver   = "file"
	DefaultListen   = "127.0.0.1:8080"
	DefaultTokenTTL = 12 * time.Hour
	DefaultLogLevel = "warn"
	envPrefix       = "TAT"
)

// Drivers lists the accepted store drivers.
var Drivers = []string{"file", "sqlite", "memory"}

// defaultConfig returns a Config pre-filled with sensible defaults.
func defaultConfig() Config {
	return Config{
		Store:  StoreConfig{Driver: DefaultDriver},
		Server: ServerConfig{Listen: DefaultListen, TokenTTL: DefaultTokenTTL},
		Log:    LogConfig{Level: DefaultLogLevel},
	}
}

// configTemplate is the annotated config written on first run.
// Lines whose trimmed content starts with // are stripped before JSON parsing,
// allowing human-readable documentation inside the file.
const configTemplate = `// tat configuration – ~/.tat/config.json
//
// All settings are optional; the built-in defaults shown below work out of
// the box on a single machine. Environment variables prefixed with TAT_
// override any value, e.g. TAT_STORE_DRIVER=sqlite.
{
  // ── Shift ledger storage ─────────────────────────────────────────────────
  "store": {
    // Backend holding the ledger documents.
    // • "file"   – one JSON file per document under ~/.tat/data (default)
    // • "sqlite" – a single database file, ~/.tat/tat.db
    // • "memory" – nothing is persisted (useful for trying things out)
    "driver": "file",

    // Data directory or database file. Empty = default location.
    "path": ""
  },

  // IANA timezone defining when a day starts, e.g. "Europe/Berlin".
  // Leave empty to use the local timezone of this machine.
  "timezone": "",

  // ── HTTP API ─────────────────────────────────────────────────────────────
  "server": {
    // Address served by: tat serve
    "listen": "127.0.0.1:8080",

    // URL of a tat server. When set, in/out/status talk to that server
    // instead of the local store, e.g. "http://timeclock.local:8080".
    "url": "",

    // Secret signing the access tokens issued by tat serve (16+ characters).
    // Required for tat serve; leave empty on clients.
    "jwt_secret": "",

    // Lifetime of issued access tokens, e.g. "12h".
    "token_ttl": "12h"
  },

  "log": {
    // One of debug, info, warn, error. --verbose forces debug.
    "level": "warn"
  }
}
`

// Dir returns ~/.tat.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".tat"), nil
}

// FilePath returns the path to ~/.tat/config.json.
func FilePath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// stripLineComments removes lines whose leading non-whitespace content starts
// with //. Only full-line comments are handled; inline comments are not stripped.
func stripLineComments(data []byte) []byte {
	var out []byte
	for _, line := range bytes.Split(data, []byte("\n")) {
		if bytes.HasPrefix(bytes.TrimLeft(line, " \t"), []byte("//")) {
			continue
		}
		out = append(out, line...)
		out = append(out, '\n')
	}
	return out
}

// Load reads ~/.tat/config.json, creating it with annotated defaults on first
// run.
func Load() (Config, error) {
	path, err := FilePath()
	if err != nil {
		return defaultConfig(), err
	}
	return LoadFile(path)
}

// LoadFile reads the config at path. A missing file is created from the
// annotated template and the defaults are returned.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		// First run: write the annotated template so users can discover options.
		if writeErr := writeDefault(path); writeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not create config file %s: %v\n", path, writeErr)
		}
		data = []byte(configTemplate)
	} else if err != nil {
		return defaultConfig(), fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return defaultConfig(), fmt.Errorf("config file %s: %w\nTip: delete the file to regenerate defaults", path, err)
	}
	return cfg, nil
}

// Parse decodes a commented JSON config, applies TAT_ environment overrides
// and validates the result. Keys missing from data keep their defaults.
func Parse(data []byte) (Config, error) {
	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, defaultConfig())

	if err := v.ReadConfig(bytes.NewReader(stripLineComments(data))); err != nil {
		return Config{}, fmt.Errorf("parsing: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to decode into config struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every key so that AutomaticEnv can override keys the
// file leaves out.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("timezone", d.Timezone)
	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.url", d.Server.URL)
	v.SetDefault("server.jwt_secret", d.Server.JWTSecret)
	v.SetDefault("server.token_ttl", d.Server.TokenTTL)
	v.SetDefault("log.level", d.Log.Level)
}

// Validate checks field constraints and that Timezone names a known zone.
func (c *Config) Validate() error {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))

	v := validate.Struct(c)
	if !v.Validate() {
		return fmt.Errorf("invalid config: %w", v.Errors)
	}
	if c.Server.TokenTTL <= 0 {
		return errors.New("invalid config: server.token_ttl must be positive")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Location returns the timezone defining calendar days.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// RemoteMode reports whether the CLI should talk to a server.
func (c Config) RemoteMode() bool {
	return c.Server.URL != ""
}

// writeDefault creates the config directory and writes the annotated default
// config template.
func writeDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(configTemplate), 0o600); err != nil {
		return fmt.Errorf("writing default config: %w", err)
	}
	return nil
}
