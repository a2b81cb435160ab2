package cli

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	maxWalkDepth = 25
)

// Config represents the caravan configuration from caravan.yaml.
type Config struct {
	// Database configuration
	Database DatabaseConfig `mapstructure:"database"`

	// Per-command configuration
	Migrate MigrateConfig `mapstructure:"migrate"`
	Doctor  DoctorConfig  `mapstructure:"doctor"`
}

// DatabaseConfig holds document store connection settings.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

// MigrateConfig holds runner settings.
type MigrateConfig struct {
	LedgerCollection string        `mapstructure:"ledger_collection"`
	LockCollection   string        `mapstructure:"lock_collection"`
	Lease            time.Duration `mapstructure:"lease"`
	Heartbeat        time.Duration `mapstructure:"heartbeat"`
	DryRun           bool          `mapstructure:"dry_run"`
}

// DoctorConfig holds doctor command settings.
type DoctorConfig struct {
	Verbose bool `mapstructure:"verbose"`
}

// LoadConfig discovers and loads configuration with proper precedence:
// flags > env > config file > defaults.
//
// Returns the loaded config, the path to the config file (empty if none found),
// and any error encountered.
func LoadConfig(explicitConfigPath string) (*Config, string, error) {
	v := viper.New()

	// 1. Set defaults first (lowest precedence)
	setDefaults(v)

	// 2. Set up environment variable binding
	v.SetEnvPrefix("CARAVAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 3. Find and load config file
	configPath, err := findConfigFile(explicitConfigPath)
	if err != nil {
		return nil, "", err
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, configPath, fmt.Errorf("reading config file: %w", err)
		}
	}

	// 4. Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, configPath, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, configPath, nil
}

func setDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 27017)
	v.SetDefault("database.name", "")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")

	// Migrate defaults
	v.SetDefault("migrate.ledger_collection", "schema_migrations")
	v.SetDefault("migrate.lock_collection", "migration_locks")
	v.SetDefault("migrate.lease", "30s")
	v.SetDefault("migrate.heartbeat", "10s")
	v.SetDefault("migrate.dry_run", false)

	// Doctor defaults
	v.SetDefault("doctor.verbose", false)
}

// findConfigFile finds the config file to use.
// If explicitPath is provided, it validates the file exists.
// Otherwise, it walks up from cwd looking for caravan.yaml or caravan.yml,
// stopping at a .git directory or after maxWalkDepth levels.
func findConfigFile(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicitPath)
		}
		return explicitPath, nil
	}

	// Auto-discovery: walk up to .git or maxWalkDepth
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting cwd: %w", err)
	}

	dir := cwd
	for i := 0; i < maxWalkDepth; i++ {
		// Try caravan.yaml then caravan.yml
		for _, name := range []string{"caravan.yaml", "caravan.yml"} {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}

		// Check for repo boundary (.git file or directory)
		gitPath := filepath.Join(dir, ".git")
		if _, err := os.Stat(gitPath); err == nil {
			break // Stop at repo root
		}

		// Move up
		parent := filepath.Dir(dir)
		if parent == dir {
			break // Reached filesystem root
		}
		dir = parent
	}

	return "", nil // No config found, use defaults
}

// DSN returns the document store connection string.
// If database.url is set, it's returned directly.
// Otherwise, builds a mongodb:// URL from discrete fields.
func (c *Config) DSN() (string, error) {
	db := c.Database

	if db.URL != "" {
		return db.URL, nil
	}

	if db.Host == "" {
		return "", fmt.Errorf("database.host is required when database.url is not set")
	}

	u := &url.URL{
		Scheme: "mongodb",
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
	}

	if db.User != "" {
		if db.Password != "" {
			u.User = url.UserPassword(db.User, db.Password)
		} else {
			u.User = url.User(db.User)
		}
	}

	return u.String(), nil
}

// DatabaseName resolves the database the runner operates on: database.name
// when set, otherwise the path component of database.url.
func (c *Config) DatabaseName() (string, error) {
	if c.Database.Name != "" {
		return c.Database.Name, nil
	}

	if c.Database.URL != "" {
		u, err := url.Parse(c.Database.URL)
		if err != nil {
			return "", fmt.Errorf("parsing database.url: %w", err)
		}
		if name := strings.TrimPrefix(u.Path, "/"); name != "" {
			return name, nil
		}
	}

	return "", fmt.Errorf("database.name is required (or include a database in database.url)")
}
