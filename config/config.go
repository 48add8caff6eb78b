// Package config handles domquery daemon configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level domquery configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Browser BrowserConfig `yaml:"browser"`
	Audit   AuditConfig   `yaml:"audit"`
	Wait    WaitConfig    `yaml:"wait"`
	Pages   []PageConfig  `yaml:"pages"`
}

// ServerConfig controls the HTTP surface.
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// BrowserConfig controls snapshot capture through a live browser.
type BrowserConfig struct {
	Remote          string        `yaml:"remote"` // CDP websocket URL, empty = launch
	Stealth         string        `yaml:"stealth"` // on | off
	NavigateTimeout time.Duration `yaml:"navigate_timeout"`
}

// AuditConfig controls the SQLite query log.
type AuditConfig struct {
	Path      string        `yaml:"path"` // empty disables the log
	Retention time.Duration `yaml:"retention"`
}

// WaitConfig bounds wait operations.
type WaitConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	MaxTimeout     time.Duration `yaml:"max_timeout"`
}

// PageConfig defines a page to capture and mirror at startup.
type PageConfig struct {
	ID  string `yaml:"id"`
	URL string `yaml:"url"`
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills zero values with production defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8750"
	}
	if c.Server.RequestTimeout <= 0 {
		c.Server.RequestTimeout = 60 * time.Second
	}
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "on"
	}
	if c.Browser.NavigateTimeout <= 0 {
		c.Browser.NavigateTimeout = 30 * time.Second
	}
	if c.Audit.Retention <= 0 {
		c.Audit.Retention = 7 * 24 * time.Hour
	}
	if c.Wait.DefaultTimeout <= 0 {
		c.Wait.DefaultTimeout = 30 * time.Second
	}
	if c.Wait.MaxTimeout <= 0 {
		c.Wait.MaxTimeout = 5 * time.Minute
	}
}

func (c *Config) validate() error {
	for i, p := range c.Pages {
		if p.URL == "" {
			return fmt.Errorf("config: pages[%d]: empty url", i)
		}
	}
	if c.Wait.DefaultTimeout > c.Wait.MaxTimeout {
		return fmt.Errorf("config: wait.default_timeout %s exceeds wait.max_timeout %s",
			c.Wait.DefaultTimeout, c.Wait.MaxTimeout)
	}
	return nil
}
