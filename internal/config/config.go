package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"trackline/internal/domain"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config models trackline.yml.
type Config struct {
	Store struct {
		Driver   string `yaml:"driver" json:"driver"`
		Postgres struct {
			DSN      string `yaml:"dsn" json:"dsn,omitempty"`
			MaxConns int32  `yaml:"max_conns" json:"max_conns,omitempty"`
		} `yaml:"postgres" json:"postgres"`
	} `yaml:"store" json:"store"`
	Initiatives struct {
		Types []string `yaml:"types" json:"types"`
	} `yaml:"initiatives" json:"initiatives"`
	Capture struct {
		Interval string `yaml:"interval" json:"interval"`
	} `yaml:"capture" json:"capture"`
	Server struct {
		Addr           string   `yaml:"addr" json:"addr"`
		BasePath       string   `yaml:"base_path" json:"base_path"`
		AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins,omitempty"`
	} `yaml:"server" json:"server"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with tl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional falls back to Default when the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverSQLite, DriverMemory:
	case DriverPostgres:
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("config.store.postgres.dsn is required for driver postgres")
		}
	default:
		return fmt.Errorf("config.store.driver must be one of sqlite, postgres, memory (got %q)", c.Store.Driver)
	}
	if len(c.Initiatives.Types) == 0 {
		return fmt.Errorf("config.initiatives.types is required")
	}
	for _, typ := range c.Initiatives.Types {
		if typ == "" {
			return fmt.Errorf("config.initiatives.types contains an empty type")
		}
	}
	if _, err := c.CaptureInterval(); err != nil {
		return err
	}
	return nil
}

// CaptureInterval parses capture.interval.
func (c *Config) CaptureInterval() (time.Duration, error) {
	d, err := time.ParseDuration(c.Capture.Interval)
	if err != nil {
		return 0, fmt.Errorf("invalid config.capture.interval %q: %w", c.Capture.Interval, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config.capture.interval must be positive")
	}
	return d, nil
}

// AllowsType reports whether typ is a configured initiative type.
func (c *Config) AllowsType(typ string) bool {
	for _, t := range c.Initiatives.Types {
		if t == typ {
			return true
		}
	}
	return false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "trackline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing from
// data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

var defaultTemplate = fmt.Sprintf(`store:
  driver: sqlite
  postgres:
    dsn: ""
    max_conns: 5

initiatives:
  types: [%s, %s]

capture:
  # capture is idempotent per day; a short interval retries failures sooner
  interval: 1h

server:
  addr: 127.0.0.1:8080
  base_path: /v0
  allowed_origins: ["http://localhost:3000"]
`, domain.TypeProject, domain.TypeCR)
