package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPath overrides the config file path passed on the command line.
const EnvPath = "SHORTID_CONFIG"

// Config holds all configuration for the alias engine.
type Config struct {
	// Каталог с sid/, ids/ и next_alias.dat
	DataDir string `yaml:"data_dir"`

	// Первый алиас, который выдаёт локальный счётчик и identity-колонка
	FloorAlias uint32 `yaml:"floor_alias"`

	LogLevel   string        `yaml:"log_level"`
	RetryDelay time.Duration `yaml:"retry_delay"`

	// Database
	Database DatabaseConfig `yaml:"database"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	Table    string `yaml:"table"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// Default returns Config with sensible defaults.
func Default() Config {
	return Config{
		DataDir:    "data",
		FloorAlias: 0x100,
		LogLevel:   "info",
		RetryDelay: time.Second,
		Database: DatabaseConfig{
			Enabled:  false,
			Host:     "127.0.0.1",
			Port:     5432,
			User:     "shortid",
			Password: "shortid",
			DBName:   "shortid",
			SSLMode:  "disable",
			Table:    "short_ids",
		},
	}
}

// Load loads config from a YAML file.
// If the file doesn't exist, returns defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// Path returns the config path, preferring SHORTID_CONFIG when set.
func Path(flagValue string) string {
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	return flagValue
}

// Validate checks the fields the engine cannot work without.
func (c Config) Validate() error {
	var errs []error
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is empty"))
	}
	if c.FloorAlias == 0 {
		errs = append(errs, errors.New("floor_alias must be non-zero"))
	}
	if c.RetryDelay < 0 {
		errs = append(errs, fmt.Errorf("retry_delay %s is negative", c.RetryDelay))
	}

	if db := c.Database; db.Enabled {
		if db.Host == "" {
			errs = append(errs, errors.New("database.host is empty"))
		}
		if db.User == "" {
			errs = append(errs, errors.New("database.user is empty"))
		}
		if db.DBName == "" {
			errs = append(errs, errors.New("database.dbname is empty"))
		}
		if db.Table == "" {
			errs = append(errs, errors.New("database.table is empty"))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
