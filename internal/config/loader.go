package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/rpattn/bulkimport/internal/db"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. BULKIMPORT_LIMITS_MAX_ROWS.
const EnvPrefix = "BULKIMPORT"

// Store drivers.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Cache invalidation drivers.
const (
	InvalidatorNotify = "notify"
	InvalidatorLog    = "log"
	InvalidatorNone   = "none"
)

// Config is the full runtime configuration of the import service and CLI.
type Config struct {
	Database db.Config
	Store    StoreConfig
	Server   ServerConfig
	Limits   LimitsConfig
	Security SecurityConfig
	Suggest  SuggestConfig
	Metrics  MetricsConfig
	Cache    CacheConfig
}

type StoreConfig struct {
	Driver    string
	SQLiteDSN string
}

type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

// LimitsConfig carries the resource ceilings enforced by the guard layer and
// the streaming pipeline.
type LimitsConfig struct {
	MaxFileBytes   int64
	MaxRows        int
	BatchSize      int
	ImportsPerHour int
}

type SecurityConfig struct {
	CSRFSecret string
	CSRFTTL    time.Duration
}

type SuggestConfig struct {
	BaseURL string
	Timeout time.Duration
}

type MetricsConfig struct {
	Enabled bool
}

type CacheConfig struct {
	Driver  string
	Channel string
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Database: db.DefaultConfig(),
		Store: StoreConfig{
			Driver:    StorePostgres,
			SQLiteDSN: "file:bulkimport.db",
		},
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000"},
			ReadTimeout:    60 * time.Second,
			WriteTimeout:   120 * time.Second,
			IdleTimeout:    60 * time.Second,
		},
		Limits: LimitsConfig{
			MaxFileBytes:   10 << 20,
			MaxRows:        10000,
			BatchSize:      500,
			ImportsPerHour: 10,
		},
		Security: SecurityConfig{
			CSRFTTL: 2 * time.Hour,
		},
		Suggest: SuggestConfig{
			Timeout: 20 * time.Second,
		},
		Metrics: MetricsConfig{Enabled: true},
		Cache: CacheConfig{
			Driver:  InvalidatorNotify,
			Channel: "inventory_invalidate",
		},
	}
}

// Load reads config.yaml from configPath (optional) and applies environment
// overrides on top of the defaults.
func Load(configPath string) (Config, error) {
	defaults := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, defaults)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		log.Printf("[config] no config.yaml found, using defaults and env vars")
	} else {
		log.Printf("[config] loaded %s", v.ConfigFileUsed())
	}

	cfg := Config{
		Database: db.Config{
			Host:     v.GetString("database.host"),
			Port:     v.GetInt("database.port"),
			User:     v.GetString("database.user"),
			Password: v.GetString("database.password"),
			DBName:   v.GetString("database.dbname"),
			SSLMode:  v.GetString("database.sslmode"),

			MaxConns:         v.GetInt32("database.max_conns"),
			MinConns:         v.GetInt32("database.min_conns"),
			MaxConnLifetime:  v.GetDuration("database.max_conn_lifetime"),
			StatementTimeout: v.GetDuration("database.statement_timeout"),
		},
		Store: StoreConfig{
			Driver:    strings.ToLower(strings.TrimSpace(v.GetString("store.driver"))),
			SQLiteDSN: v.GetString("store.sqlite_dsn"),
		},
		Server: ServerConfig{
			Addr:           v.GetString("server.addr"),
			AllowedOrigins: v.GetStringSlice("server.allowed_origins"),
			ReadTimeout:    v.GetDuration("server.read_timeout"),
			WriteTimeout:   v.GetDuration("server.write_timeout"),
			IdleTimeout:    v.GetDuration("server.idle_timeout"),
		},
		Limits: LimitsConfig{
			MaxFileBytes:   v.GetInt64("limits.max_file_bytes"),
			MaxRows:        v.GetInt("limits.max_rows"),
			BatchSize:      v.GetInt("limits.batch_size"),
			ImportsPerHour: v.GetInt("limits.imports_per_hour"),
		},
		Security: SecurityConfig{
			CSRFSecret: v.GetString("security.csrf_secret"),
			CSRFTTL:    v.GetDuration("security.csrf_ttl"),
		},
		Suggest: SuggestConfig{
			BaseURL: v.GetString("suggest.base_url"),
			Timeout: v.GetDuration("suggest.timeout"),
		},
		Metrics: MetricsConfig{Enabled: v.GetBool("metrics.enabled")},
		Cache: CacheConfig{
			Driver:  strings.ToLower(strings.TrimSpace(v.GetString("cache.driver"))),
			Channel: v.GetString("cache.channel"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDBConfig returns only the database section.
func LoadDBConfig(configPath string) (db.Config, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return db.Config{}, err
	}
	return cfg.Database, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("database.host", d.Database.Host)
	v.SetDefault("database.port", d.Database.Port)
	v.SetDefault("database.user", d.Database.User)
	v.SetDefault("database.password", d.Database.Password)
	v.SetDefault("database.dbname", d.Database.DBName)
	v.SetDefault("database.sslmode", d.Database.SSLMode)
	v.SetDefault("database.max_conns", d.Database.MaxConns)
	v.SetDefault("database.min_conns", d.Database.MinConns)
	v.SetDefault("database.max_conn_lifetime", d.Database.MaxConnLifetime)
	v.SetDefault("database.statement_timeout", d.Database.StatementTimeout)
	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.sqlite_dsn", d.Store.SQLiteDSN)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("limits.max_file_bytes", d.Limits.MaxFileBytes)
	v.SetDefault("limits.max_rows", d.Limits.MaxRows)
	v.SetDefault("limits.batch_size", d.Limits.BatchSize)
	v.SetDefault("limits.imports_per_hour", d.Limits.ImportsPerHour)
	v.SetDefault("security.csrf_secret", d.Security.CSRFSecret)
	v.SetDefault("security.csrf_ttl", d.Security.CSRFTTL)
	v.SetDefault("suggest.base_url", d.Suggest.BaseURL)
	v.SetDefault("suggest.timeout", d.Suggest.Timeout)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("cache.driver", d.Cache.Driver)
	v.SetDefault("cache.channel", d.Cache.Channel)
}

// Validate rejects configurations the service cannot run with.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case StorePostgres, StoreSQLite:
	default:
		return fmt.Errorf("store.driver must be %q or %q, got %q", StorePostgres, StoreSQLite, c.Store.Driver)
	}
	if c.Store.Driver == StoreSQLite && strings.TrimSpace(c.Store.SQLiteDSN) == "" {
		return fmt.Errorf("store.sqlite_dsn is required for the sqlite driver")
	}
	switch c.Cache.Driver {
	case InvalidatorNotify, InvalidatorLog, InvalidatorNone:
	default:
		return fmt.Errorf("cache.driver must be one of notify, log, none; got %q", c.Cache.Driver)
	}
	if c.Limits.MaxFileBytes <= 0 {
		return fmt.Errorf("limits.max_file_bytes must be positive")
	}
	if c.Limits.MaxRows <= 0 {
		return fmt.Errorf("limits.max_rows must be positive")
	}
	if c.Limits.BatchSize <= 0 {
		return fmt.Errorf("limits.batch_size must be positive")
	}
	if c.Limits.ImportsPerHour <= 0 {
		return fmt.Errorf("limits.imports_per_hour must be positive")
	}
	if c.Security.CSRFTTL <= 0 {
		return fmt.Errorf("security.csrf_ttl must be positive")
	}
	if c.Security.CSRFSecret != "" && len(c.Security.CSRFSecret) < 16 {
		return fmt.Errorf("security.csrf_secret must be at least 16 characters")
	}
	return nil
}
