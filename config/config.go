package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Defaults
const (
	DefaultBackend      = "redis"
	DefaultRedisAddress = "localhost:6379"
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
	DefaultHTTPAddress  = ":8080"
	DefaultStaticPrefix = "/static/"
	DefaultStaticDir    = "static"
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "text"
)

// Config is the top-level application configuration.
type Config struct {
	Backend  string         `yaml:"backend" toml:"backend"`
	Redis    RedisConfig    `yaml:"redis" toml:"redis"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	HTTP     HTTPConfig     `yaml:"http" toml:"http"`
	Log      LogConfig      `yaml:"log" toml:"log"`
}

// RedisConfig holds the client-wide connection settings. Timeouts apply to
// every facade call; the facade itself adds none.
type RedisConfig struct {
	Address      string        `yaml:"address" toml:"address"`
	Password     string        `yaml:"password" toml:"password"`
	DB           int           `yaml:"db" toml:"db"`
	PoolSize     int           `yaml:"pool_size" toml:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout" toml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" toml:"write_timeout"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn" toml:"dsn"`
}

// HTTPConfig configures the HTTP surface. StaticPrefix is served from
// StaticDir.
type HTTPConfig struct {
	Address      string `yaml:"address" toml:"address"`
	StaticDir    string `yaml:"static_dir" toml:"static_dir"`
	StaticPrefix string `yaml:"static_prefix" toml:"static_prefix"`
}

type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML or TOML file, chosen by extension. ${VAR} references are
// expanded from the environment before decoding. An empty path returns the
// defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Backend == "" {
		c.Backend = DefaultBackend
	}
	if c.Redis.Address == "" {
		c.Redis.Address = DefaultRedisAddress
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = DefaultDialTimeout
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = DefaultReadTimeout
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = DefaultWriteTimeout
	}
	if c.HTTP.Address == "" {
		c.HTTP.Address = DefaultHTTPAddress
	}
	if c.HTTP.StaticPrefix == "" {
		c.HTTP.StaticPrefix = DefaultStaticPrefix
	}
	if c.HTTP.StaticDir == "" {
		c.HTTP.StaticDir = DefaultStaticDir
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Backend {
	case "redis", "memory":
	case "database":
		if c.Database.DSN == "" {
			return fmt.Errorf("config: database backend requires database.dsn")
		}
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("config: redis.db must not be negative")
	}
	if c.Redis.PoolSize < 0 {
		return fmt.Errorf("config: redis.pool_size must not be negative")
	}
	if !strings.HasPrefix(c.HTTP.StaticPrefix, "/") || !strings.HasSuffix(c.HTTP.StaticPrefix, "/") {
		return fmt.Errorf("config: http.static_prefix must start and end with /")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: log.format must be text or json")
	}
	return nil
}
