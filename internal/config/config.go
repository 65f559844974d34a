// Package config loads ~/.campuschat/config.toml and applies CAMPUSCHAT_*
// environment overrides on top of it.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// Config represents the global ~/.campuschat/config.toml.
type Config struct {
	DefaultAccount string          `toml:"default_account" env:"CAMPUSCHAT_ACCOUNT"`
	Server         ServerConfig    `toml:"server"`
	Reconnect      ReconnectConfig `toml:"reconnect"`
	Rooms          RoomsConfig     `toml:"rooms"`
}

// ServerConfig names the chat backend endpoints.
type ServerConfig struct {
	TokenURL     string `toml:"token_url"     env:"CAMPUSCHAT_SERVER_TOKEN_URL"`
	TransportURL string `toml:"transport_url" env:"CAMPUSCHAT_SERVER_TRANSPORT_URL"`
	APIURL       string `toml:"api_url"       env:"CAMPUSCHAT_SERVER_API_URL"`
	// Credential is the bearer used for the token endpoint and the REST API.
	Credential string `toml:"credential" env:"CAMPUSCHAT_SERVER_CREDENTIAL"`
}

type ReconnectConfig struct {
	MaxRetries int           `toml:"max_retries" env:"CAMPUSCHAT_RECONNECT_MAX_RETRIES"`
	BaseDelay  time.Duration `toml:"base_delay"  env:"CAMPUSCHAT_RECONNECT_BASE_DELAY"`
}

type RoomsConfig struct {
	IdleTimeout time.Duration `toml:"idle_timeout" env:"CAMPUSCHAT_ROOMS_IDLE_TIMEOUT"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		DefaultAccount: "main",
		Server: ServerConfig{
			TokenURL:     "http://localhost:8000/api/websocket/token",
			TransportURL: "ws://localhost:8765",
			APIURL:       "http://localhost:8000",
		},
		Reconnect: ReconnectConfig{
			MaxRetries: 3,
			BaseDelay:  2 * time.Second,
		},
		Rooms: RoomsConfig{
			IdleTimeout: 30 * time.Minute,
		},
	}
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Resolve layers the defaults, the file at path when it exists and the
// environment, in that order.
func Resolve(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
