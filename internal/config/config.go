package config

import (
	"os"
	"time"

	"github.com/juju/errors"
	"gopkg.in/yaml.v2"

	"github.com/zinrai/ipam-staticip-go/internal/infrastructure/db"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Listen   string   `yaml:"listen"`
	Logging  string   `yaml:"logging"`
	Database Database `yaml:"database"`
	Retry    Retry    `yaml:"retry"`
}

type Database struct {
	Driver  string `yaml:"driver"`
	DSN     string `yaml:"dsn"`
	Migrate bool   `yaml:"migrate"`
}

// Retry bounds the re-runs of operations hitting serialization failures.
// Attempts of -1 retries without limit.
type Retry struct {
	Attempts int           `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
	MaxDelay time.Duration `yaml:"max_delay"`
}

func Default() Config {
	return Config{
		Listen:  ":8080",
		Logging: "<root>=INFO",
		Database: Database{
			Driver: DriverMemory,
		},
		Retry: Retry{
			Attempts: db.DefaultRetryAttempts,
			Delay:    db.DefaultRetryDelay,
			MaxDelay: db.DefaultRetryMaxDelay,
		},
	}
}

// Load reads the YAML file at path over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Annotatef(err, "reading config %s", path)
	}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return Config{}, errors.Annotatef(err, "parsing config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Trace(err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Listen == "" {
		return errors.NotValidf("empty listen address")
	}
	switch c.Database.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Database.DSN == "" {
			return errors.NotValidf("postgres driver without dsn")
		}
	default:
		return errors.NotValidf("database driver %q", c.Database.Driver)
	}
	if c.Retry.Attempts == 0 || c.Retry.Attempts < -1 {
		return errors.NotValidf("retry attempts %d", c.Retry.Attempts)
	}
	if c.Retry.Delay <= 0 {
		return errors.NotValidf("retry delay %s", c.Retry.Delay)
	}
	if c.Retry.MaxDelay < c.Retry.Delay {
		return errors.NotValidf("retry max_delay %s below delay %s", c.Retry.MaxDelay, c.Retry.Delay)
	}
	return nil
}

func (c Config) RetryPolicy() db.RetryPolicy {
	return db.RetryPolicy{
		Attempts: c.Retry.Attempts,
		Delay:    c.Retry.Delay,
		MaxDelay: c.Retry.MaxDelay,
	}
}
