package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/convivencia/phidiasync/internal/filex"
	"github.com/convivencia/phidiasync/internal/timex"
)

// Config holds runtime settings for syncctl.
type Config struct {
	ServerURL string         `toml:"server_url"`
	Timeout   timex.Duration `toml:"timeout"`
	Username  string         `toml:"username,omitempty"`
	Token     string         `toml:"token,omitempty"`
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://127.0.0.1:8080"
	c.Timeout = timex.Duration{Duration: 15 * time.Second}
}

// LoggedIn reports whether a session token is stored.
func (c *Config) LoggedIn() bool {
	return c.Token != ""
}

// ClearSession forgets the stored token.
func (c *Config) ClearSession() {
	c.Token = ""
}

// DefaultPath returns ~/.config/phidiasync/syncctl.toml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	return filepath.Join(home, ".config", "phidiasync", "syncctl.toml"), nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from r on top of the defaults.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if _, err := toml.NewDecoder(r).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.ServerURL = strings.TrimRight(strings.TrimSpace(cfg.ServerURL), "/")
	return cfg, nil
}

// Write encodes cfg to w.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// Load reads the config at path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg := &Config{}
		cfg.LoadDefaults()
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path with owner-only permissions; the file may hold a
// session token.
func Save(path string, cfg *Config) error {
	var b strings.Builder
	m := &Manager{}
	if err := m.Write(&b, cfg); err != nil {
		return err
	}
	if err := filex.WriteFilePrivate(path, []byte(b.String())); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}
