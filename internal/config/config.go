// Package config holds the cdrwatch configuration: portal
// credentials, browser launch settings, fetch timeouts and the static
// extension directory. Loaded from YAML with env overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all cdrwatch configuration.
type Config struct {
	Portal  PortalConfig  `yaml:"portal"`
	Browser BrowserConfig `yaml:"browser"`
	Fetch   FetchConfig   `yaml:"fetch"`
	Logging LoggingConfig `yaml:"logging"`

	// Static extension -> operator display name table.
	Extensions map[string]string `yaml:"extensions"`
}

// PortalConfig identifies the operator portal and its credentials.
type PortalConfig struct {
	URL        string `yaml:"url"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	ReportPath string `yaml:"report_path"`

	// Path segments that mark a successful post-login landing page.
	AuthenticatedPaths []string `yaml:"authenticated_paths"`
}

// BrowserConfig configures the automated Chromium instance.
type BrowserConfig struct {
	ChromiumPath   string `yaml:"chromium_path"`
	Headless       bool   `yaml:"headless"`
	ViewportWidth  int    `yaml:"viewport_width"`
	ViewportHeight int    `yaml:"viewport_height"`
}

// FetchConfig holds timeouts and TTLs for the acquisition pipeline.
type FetchConfig struct {
	SessionTTL      time.Duration `yaml:"session_ttl"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	NavigateTimeout time.Duration `yaml:"navigate_timeout"`
	EvalTimeout     time.Duration `yaml:"eval_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`

	// The portal renders menus and results asynchronously; SettleDelay
	// is waited after submits and menu clicks. Zero in tests.
	SettleDelay time.Duration `yaml:"settle_delay"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Portal: PortalConfig{
			ReportPath:         "/relatorioLigacoes/data",
			AuthenticatedPaths: []string{"dashboard", "customer"},
		},
		Browser: BrowserConfig{
			ChromiumPath:   "/snap/bin/chromium",
			Headless:       true,
			ViewportWidth:  1920,
			ViewportHeight: 1080,
		},
		Fetch: FetchConfig{
			SessionTTL:      30 * time.Minute,
			CacheTTL:        5 * time.Minute,
			NavigateTimeout: 30 * time.Second,
			EvalTimeout:     60 * time.Second,
			RequestTimeout:  30 * time.Second,
			SettleDelay:     2 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Extensions: map[string]string{},
	}
}

// Load reads the configuration file, fills defaults for omitted
// fields and applies environment overrides. A missing file yields the
// defaults with env overrides applied.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// applyEnvOverrides lets the environment win over the file, matching
// the variables the deployment already exports.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CDR_PABX_URL"); v != "" {
		c.Portal.URL = v
	}
	if v := os.Getenv("CDR_PABX_USER"); v != "" {
		c.Portal.Username = v
	}
	if v := os.Getenv("CDR_PABX_PASS"); v != "" {
		c.Portal.Password = v
	}
	if v := os.Getenv("CHROMIUM_PATH"); v != "" {
		c.Browser.ChromiumPath = v
	}
}

// Configured reports whether the portal credentials are complete.
func (c *Config) Configured() bool {
	return c.Portal.URL != "" && c.Portal.Username != "" && c.Portal.Password != ""
}
