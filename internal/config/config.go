package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Backend configures how the client reaches the remote document store.
// An empty URL selects the in-process local store.
type Backend struct {
	URL string `toml:"url"`
	// TokenSecret signs and verifies dev-provider identity tokens.
	TokenSecret string `toml:"token_secret"`
}

// Account is the identity the dev provider signs in as on start. An empty
// email means the daemon starts signed out.
type Account struct {
	Email       string `toml:"email"`
	DisplayName string `toml:"display_name"`
	PhotoURL    string `toml:"photo_url"`
}

// Config represents the global ~/.perch/config.toml.
type Config struct {
	DefaultProfile string  `toml:"default_profile"`
	Backend        Backend `toml:"backend"`
	Account        Account `toml:"account"`
}

// Load reads config from the given path. Returns zero config and error if
// file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
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
