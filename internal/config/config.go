package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// SessionID is the fixed key under which the single deployment session and
// its credential blob are persisted. One deployment manages exactly one
// protocol session.
const SessionID = "default_session"

// Config represents the daemon configuration loaded from config.toml.
type Config struct {
	DataDir   string    `toml:"data_dir"`
	BotName   string    `toml:"bot_name"`
	LogLevel  string    `toml:"log_level"`
	Reconnect Reconnect `toml:"reconnect"`
}

// Reconnect tunes the backoff applied between reconnect attempts after a
// transient disconnect.
type Reconnect struct {
	InitialDelay time.Duration `toml:"initial_delay"`
	MaxDelay     time.Duration `toml:"max_delay"`
	Multiplier   float64       `toml:"multiplier"`
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		DataDir:  filepath.Join(home, ".wamd"),
		BotName:  "wamd",
		LogLevel: "info",
		Reconnect: Reconnect{
			InitialDelay: time.Second,
			MaxDelay:     time.Minute,
			Multiplier:   2,
		},
	}
}

// Load reads config from the given path, filling unset fields with defaults.
// A missing file is not an error: the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Reconnect.InitialDelay <= 0 {
		cfg.Reconnect.InitialDelay = time.Second
	}
	if cfg.Reconnect.MaxDelay < cfg.Reconnect.InitialDelay {
		cfg.Reconnect.MaxDelay = time.Minute
	}
	if cfg.Reconnect.Multiplier < 1 {
		cfg.Reconnect.Multiplier = 2
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

// AppDBPath returns the path of the daemon-owned records database.
func (c *Config) AppDBPath() string {
	return filepath.Join(c.DataDir, "wamd.db")
}

// ProtocolDBPath returns the path of the whatsmeow device store database.
func (c *Config) ProtocolDBPath() string {
	return filepath.Join(c.DataDir, "session.db")
}

// LogDir returns the daemon log directory.
func (c *Config) LogDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// LogPath returns the daemon log file path.
func (c *Config) LogPath() string {
	return filepath.Join(c.LogDir(), "wamd.log")
}

// LockDir returns the directory holding the deployment lock file.
func (c *Config) LockDir() string {
	return c.DataDir
}

// EnsureDirs creates the data directory tree with owner-only permissions.
func (c *Config) EnsureDirs() error {
	for _, d := range []string{c.DataDir, c.LogDir()} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
