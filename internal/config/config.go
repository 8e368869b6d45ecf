// Package config loads the server configuration from defaults, an optional
// file, DSP_ environment variables and command line flags, in increasing
// order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"dsp/store"
)

const DefaultEnvPrefix = "DSP"

// Config is the full server configuration.
type Config struct {
	Log           LogConfig  `json:"log"            mapstructure:"log"`
	HTTP          HTTPConfig `json:"http"           mapstructure:"http"`
	Auth          AuthConfig `json:"auth"           mapstructure:"auth"`
	DB            DBConfig   `json:"db"             mapstructure:"db"`
	ResourcesFile string     `json:"resources_file" mapstructure:"resources_file"`
}

type LogConfig struct {
	Level  string `json:"level"  mapstructure:"level"`
	Format string `json:"format" mapstructure:"format"`
}

type HTTPConfig struct {
	Addr         string `json:"addr"           mapstructure:"addr"`
	GzipMinSize  int    `json:"gzip_min_size"  mapstructure:"gzip_min_size"`
	MaxRecords   int    `json:"max_records"    mapstructure:"max_records"`
	DefaultLimit int    `json:"default_limit"  mapstructure:"default_limit"`
	MaxBodySize  int64  `json:"max_body_size"  mapstructure:"max_body_size"`
	Metrics      bool   `json:"metrics"        mapstructure:"metrics"`
}

type AuthConfig struct {
	Disabled  bool          `json:"disabled"   mapstructure:"disabled"`
	JWTSecret string        `json:"-"          mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `json:"token_ttl"  mapstructure:"token_ttl"`

	// OpenResources are readable and writable by any session; their row
	// filters still apply.
	OpenResources []string `json:"open_resources" mapstructure:"open_resources"`
}

type DBConfig struct {
	Driver       string        `json:"driver"         mapstructure:"driver"`
	Host         string        `json:"host"           mapstructure:"host"`
	Port         int           `json:"port"           mapstructure:"port"`
	User         string        `json:"user"           mapstructure:"user"`
	Password     string        `json:"-"              mapstructure:"password"`
	Name         string        `json:"name"           mapstructure:"name"`
	Path         string        `json:"path"           mapstructure:"path"`
	SSLMode      string        `json:"sslmode"        mapstructure:"sslmode"`
	MaxOpenConns int           `json:"max_open_conns" mapstructure:"max_open_conns"`
	QueryTimeout time.Duration `json:"query_timeout"  mapstructure:"query_timeout"`
}

var defaults = map[string]any{
	"log.level":           "info",
	"log.format":          "console",
	"http.addr":           ":8080",
	"http.gzip_min_size":  1024,
	"http.max_records":    1000,
	"http.default_limit":  0,
	"http.max_body_size":  10 << 20,
	"http.metrics":        true,
	"auth.disabled":       false,
	"auth.jwt_secret":     "",
	"auth.token_ttl":      "24h",
	"auth.open_resources": "custom_setting",
	"db.driver":           "sqlite",
	"db.host":             "localhost",
	"db.port":             0,
	"db.user":             "",
	"db.password":         "",
	"db.name":             "",
	"db.path":             "dsp.db",
	"db.sslmode":          "disable",
	"db.max_open_conns":   0,
	"db.query_timeout":    "30s",
	"resources_file":      "",
}

// New returns a viper instance with defaults and environment binding. Every
// key is registered so that DSP_DB_HOST style variables are seen by
// Unmarshal.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(DefaultEnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
		_ = v.BindEnv(key)
	}
	return v
}

// Load reads the configuration. file may be empty; flags may be nil. Flag
// names are the configuration keys, e.g. "http.addr".
func Load(v *viper.Viper, file string, flags *pflag.FlagSet) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read configuration file: %w", err)
		}
	}
	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			if _, known := defaults[f.Name]; known && bindErr == nil {
				bindErr = v.BindPFlag(f.Name, f)
			}
		})
		if bindErr != nil {
			return nil, bindErr
		}
	}

	decodeHooks := mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)

	config := &Config{}
	if err := v.Unmarshal(config, viper.DecodeHook(decodeHooks)); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the values that can not be checked by decoding.
func (c *Config) Validate() error {
	switch c.Log.Format {
	case "console", "json":
	default:
		return store.NewConfigErrorForField("log.format", c.Log.Format, "must be console or json")
	}
	if c.HTTP.MaxRecords < 0 || c.HTTP.DefaultLimit < 0 {
		return store.NewConfigError("record limits can not be negative")
	}
	if !c.Auth.Disabled {
		if c.Auth.JWTSecret == "" {
			return store.NewConfigErrorForField("auth.jwt_secret", "", "a secret is required unless auth.disabled is set")
		}
		if c.Auth.TokenTTL <= 0 {
			return store.NewConfigErrorForField("auth.token_ttl", c.Auth.TokenTTL, "must be positive")
		}
	}
	storeConfig := store.NewConfig(c.StoreOptions()...)
	return storeConfig.Validate()
}

// StoreOptions converts the db section into store options.
func (c *Config) StoreOptions() []store.Option {
	db := c.DB
	var extra []store.Option
	if db.Host != "" {
		extra = append(extra, store.WithHost(db.Host))
	}
	if db.Port > 0 {
		extra = append(extra, store.WithPort(db.Port))
	}
	if db.MaxOpenConns > 0 {
		extra = append(extra, store.WithMaxOpenConns(db.MaxOpenConns))
	}
	if db.QueryTimeout > 0 {
		extra = append(extra, store.WithQueryTimeout(db.QueryTimeout))
	}

	switch db.Driver {
	case "memory":
		return store.MemoryOptions()
	case "sqlite", "sqlite3":
		return store.SQLiteOptions(db.Path, extra...)
	case "mysql":
		return store.MySQLOptions(db.Name, db.User, db.Password, extra...)
	case "postgres", "postgresql", "pgx":
		extra = append(extra, store.WithSSL(db.SSLMode))
		opts := store.PostgreSQLOptions(db.Name, db.User, db.Password, extra...)
		return append(opts, store.WithType(db.Driver))
	}
	return []store.Option{store.WithType(db.Driver)}
}

// IsMemory reports whether the configured backend is the in-memory store.
func (c *Config) IsMemory() bool {
	return c.DB.Driver == "memory"
}

// Pagination returns the collection read limits.
func (c *Config) Pagination() store.PaginationConfig {
	return store.PaginationConfig{DefaultLimit: c.HTTP.DefaultLimit, MaxLimit: c.HTTP.MaxRecords}
}
