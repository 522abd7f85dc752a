package shared

import (
	_ "embed"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Credentials CredentialsConfig `toml:"credentials"`
	Database    DatabaseConfig    `toml:"database"`
	Server      ServerConfig      `toml:"server"`
	Sweeper     SweeperConfig     `toml:"sweeper"`
	Log         LogConfig         `toml:"log"`
}

// CredentialsConfig contains service-specific credentials.
type CredentialsConfig struct {
	Spotify SpotifyConfig `toml:"spotify"`
}

// SpotifyConfig contains Spotify OAuth client settings and endpoints.
type SpotifyConfig struct {
	ClientID     string        `toml:"client_id"`
	ClientSecret string        `toml:"client_secret"`
	RedirectURI  string        `toml:"redirect_uri"`
	Scopes       []string      `toml:"scopes"`
	AuthURL      string        `toml:"auth_url"`
	TokenURL     string        `toml:"token_url"`
	APIBaseURL   string        `toml:"api_base_url"`
	Timeout      time.Duration `toml:"timeout"` // bounds every upstream call
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains HTTP server and cookie session settings.
type ServerConfig struct {
	Host            string        `toml:"host"`
	Port            int           `toml:"port"`
	SessionSecret   string        `toml:"session_secret"`
	SessionName     string        `toml:"session_name"`
	SessionMaxAge   time.Duration `toml:"session_max_age"`
	CookieSecure    bool          `toml:"cookie_secure"`
	RateLimit       float64       `toml:"rate_limit"` // requests per second on /api/auth/*, 0 disables
	RateBurst       int           `toml:"rate_burst"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// SweeperConfig controls the expired session sweeper.
type SweeperConfig struct {
	Interval time.Duration `toml:"interval"`
}

// LogConfig controls logger verbosity.
type LogConfig struct {
	Level string `toml:"level"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Keys missing from the file keep the values of [DefaultConfig].
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrInvalidConfig, err)
	}

	return config, nil
}

// LoadConfigOrDefault loads path when it exists and falls back to [DefaultConfig] otherwise.
// Environment overrides are applied in both cases.
func LoadConfigOrDefault(path string) (*Config, error) {
	config := DefaultConfig()
	if _, err := os.Stat(path); err == nil {
		if config, err = LoadConfig(path); err != nil {
			return nil, err
		}
	}

	config.ApplyEnv(os.LookupEnv)
	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overrides configuration with environment variables.
//
// Recognized: SPOTIFY_CLIENT_ID, SPOTIFY_CLIENT_SECRET, SPOTIFY_REDIRECT_URI, DATABASE_PATH,
// SESSION_SECRET and PORT.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	set("SPOTIFY_CLIENT_ID", &c.Credentials.Spotify.ClientID)
	set("SPOTIFY_CLIENT_SECRET", &c.Credentials.Spotify.ClientSecret)
	set("SPOTIFY_REDIRECT_URI", &c.Credentials.Spotify.RedirectURI)
	set("DATABASE_PATH", &c.Database.Path)
	set("SESSION_SECRET", &c.Server.SessionSecret)

	if v, ok := lookup("PORT"); ok {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
}

// Validate checks the settings required to serve the auth API.
func (c *Config) Validate() error {
	var errs []error

	spotify := c.Credentials.Spotify
	if spotify.ClientID == "" || spotify.ClientSecret == "" {
		errs = append(errs, fmt.Errorf("%w: spotify client_id and client_secret are required", ErrMissingCredentials))
	}
	if spotify.RedirectURI == "" {
		errs = append(errs, fmt.Errorf("%w: spotify redirect_uri is required", ErrInvalidConfig))
	}
	if spotify.TokenURL == "" || spotify.AuthURL == "" {
		errs = append(errs, fmt.Errorf("%w: spotify auth_url and token_url are required", ErrInvalidConfig))
	}
	if len(c.Server.SessionSecret) < 32 {
		errs = append(errs, fmt.Errorf("%w: server session_secret must be at least 32 bytes", ErrInvalidConfig))
	}
	if c.Database.Path == "" {
		errs = append(errs, fmt.Errorf("%w: database path is required", ErrInvalidConfig))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("%w: server port %d out of range", ErrInvalidConfig, c.Server.Port))
	}

	return errors.Join(errs...)
}

// LogLevel parses the configured level, defaulting to info.
func (c *Config) LogLevel() log.Level {
	level, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return log.InfoLevel
	}
	return level
}
