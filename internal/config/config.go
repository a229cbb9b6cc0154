package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models inktrail.yml.
type Config struct {
	Service struct {
		Name      string `yaml:"name"`
		PublicURL string `yaml:"public_url"`
	} `yaml:"service"`
	Verification VerificationPolicy `yaml:"verification"`
	Session      SessionPolicy      `yaml:"session"`
	Defaults     Presentation       `yaml:"defaults"`
	Admins       []string           `yaml:"admins"`
}

// VerificationPolicy bounds public PIN verification attempts.
type VerificationPolicy struct {
	MaxAttempts    int `yaml:"max_attempts"`
	LockoutMinutes int `yaml:"lockout_minutes"`
}

// SessionPolicy governs token lifetimes and cookie names.
type SessionPolicy struct {
	JWTSecret          string `yaml:"jwt_secret"`
	AccessTTLMinutes   int    `yaml:"access_ttl_minutes"`
	RefreshTTLHours    int    `yaml:"refresh_ttl_hours"`
	AccessCookieName   string `yaml:"access_cookie_name"`
	RefreshCookieName  string `yaml:"refresh_cookie_name"`
	RefreshGraceMillis int    `yaml:"refresh_grace_millis"`
}

// Presentation is the single defaults table consulted wherever a record is
// normalized for display.
type Presentation struct {
	SignerName  string `yaml:"signer_name"`
	SignerEmail string `yaml:"signer_email"`
	Method      string `yaml:"method"`
	IPAddress   string `yaml:"ip_address"`
}

func (p VerificationPolicy) Lockout() time.Duration {
	return time.Duration(p.LockoutMinutes) * time.Minute
}

func (p SessionPolicy) AccessTTL() time.Duration {
	return time.Duration(p.AccessTTLMinutes) * time.Minute
}

func (p SessionPolicy) RefreshTTL() time.Duration {
	return time.Duration(p.RefreshTTLHours) * time.Hour
}

func (p SessionPolicy) RefreshGrace() time.Duration {
	return time.Duration(p.RefreshGraceMillis) * time.Millisecond
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Service.Name == "" {
		return fmt.Errorf("config.service.name is required")
	}
	if c.Verification.MaxAttempts <= 0 {
		return fmt.Errorf("config.verification.max_attempts must be positive")
	}
	if c.Verification.LockoutMinutes <= 0 {
		return fmt.Errorf("config.verification.lockout_minutes must be positive")
	}
	if c.Session.AccessTTLMinutes <= 0 {
		return fmt.Errorf("config.session.access_ttl_minutes must be positive")
	}
	if c.Session.RefreshTTLHours <= 0 {
		return fmt.Errorf("config.session.refresh_ttl_hours must be positive")
	}
	if c.Session.AccessCookieName == "" || c.Session.RefreshCookieName == "" {
		return fmt.Errorf("config.session cookie names are required")
	}
	if c.Defaults.Method == "" {
		return fmt.Errorf("config.defaults.method is required")
	}
	if c.Defaults.IPAddress == "" {
		return fmt.Errorf("config.defaults.ip_address is required")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "inktrail.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate with ink init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default("inktrail"), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a service name.
func Default(name string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, name))).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault(name string) string {
	return fmt.Sprintf(defaultTemplate, name)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `service:
  name: %s
  public_url: http://127.0.0.1:8080

verification:
  max_attempts: 3
  lockout_minutes: 30

session:
  jwt_secret: ""
  access_ttl_minutes: 15
  refresh_ttl_hours: 168
  access_cookie_name: ink_access
  refresh_cookie_name: ink_refresh
  refresh_grace_millis: 2000

defaults:
  signer_name: "Unknown signer"
  signer_email: "unknown@example.com"
  method: canvas
  ip_address: "-"

admins: []
`
