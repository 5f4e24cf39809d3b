package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is stripped from environment overrides: WFA_DATABASE_URL sets database.url.
const EnvPrefix = "WFA_"

// DefaultPath is the optional YAML file layered between defaults and environment.
const DefaultPath = "configs/config.yaml"

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Security  SecurityConfig  `koanf:"security"`
	Upload    UploadConfig    `koanf:"upload"`
	Export    ExportConfig    `koanf:"export"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Bootstrap BootstrapConfig `koanf:"bootstrap"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	// Driver is either "postgres" or "sqlite"
	Driver          string        `koanf:"driver"`
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	// Empty URL disables the report cache and keeps sessions in memory
	URL      string        `koanf:"url"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	CacheTTL time.Duration `koanf:"cache_ttl"`
}

type SecurityConfig struct {
	JWTSecret   string          `koanf:"jwt_secret"`
	TokenExpiry time.Duration   `koanf:"token_expiry"`
	BcryptCost  int             `koanf:"bcrypt_cost"`
	RateLimit   RateLimitConfig `koanf:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `koanf:"requests_per_second"`
	BurstSize         int `koanf:"burst_size"`
}

type UploadConfig struct {
	MaxBytes int64 `koanf:"max_bytes"`
	MaxRows  int   `koanf:"max_rows"`
}

type ExportConfig struct {
	Title           string `koanf:"title"`
	ArchiveBucket   string `koanf:"archive_bucket"`
	ArchiveRegion   string `koanf:"archive_region"`
	ArchiveEndpoint string `koanf:"archive_endpoint"`
	ArchivePrefix   string `koanf:"archive_prefix"`
}

type TelemetryConfig struct {
	Enabled      bool    `koanf:"enabled"`
	ServiceName  string  `koanf:"service_name"`
	OTLPEndpoint string  `koanf:"otlp_endpoint"`
	SamplingRate float64 `koanf:"sampling_rate"`
}

type BootstrapConfig struct {
	ManagerUsername string `koanf:"manager_username"`
	ManagerPassword string `koanf:"manager_password"`
}

// Defaults returns the baseline configuration every other source overrides.
func Defaults() *Config {
	return &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			URL:             "file:workforce.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			CacheTTL: 10 * time.Minute,
		},
		Security: SecurityConfig{
			TokenExpiry: 12 * time.Hour,
			BcryptCost:  12,
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 5,
				BurstSize:         10,
			},
		},
		Upload: UploadConfig{
			MaxBytes: 20 << 20,
			MaxRows:  200000,
		},
		Export: ExportConfig{
			Title:         "Call Center KPI Report",
			ArchiveRegion: "us-east-1",
			ArchivePrefix: "exports",
		},
		Telemetry: TelemetryConfig{
			ServiceName:  "wfa-api",
			OTLPEndpoint: "localhost:4317",
			SamplingRate: 1.0,
		},
	}
}

// Load reads defaults, then configs/config.yaml when present, then WFA_ environment variables.
func Load() (*Config, error) {
	return LoadFile(DefaultPath)
}

// LoadFile is Load with an explicit YAML path
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

var sections = map[string]bool{
	"server":    true,
	"database":  true,
	"redis":     true,
	"security":  true,
	"upload":    true,
	"export":    true,
	"telemetry": true,
	"bootstrap": true,
}

// envKey maps WFA_SECURITY_RATE_LIMIT_BURST_SIZE to security.rate_limit.burst_size.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))

	section, rest, ok := strings.Cut(key, "_")
	if !ok || !sections[section] {
		return key
	}

	if section == "security" && strings.HasPrefix(rest, "rate_limit_") {
		return "security.rate_limit." + strings.TrimPrefix(rest, "rate_limit_")
	}

	return section + "." + rest
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var problems []string

	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		problems = append(problems, fmt.Sprintf("database.driver must be postgres or sqlite, got %q", c.Database.Driver))
	}
	if c.Database.URL == "" {
		problems = append(problems, "database.url is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port out of range: %d", c.Server.Port))
	}
	if c.Security.TokenExpiry <= 0 {
		problems = append(problems, "security.token_expiry must be positive")
	}
	if c.Security.BcryptCost < 4 || c.Security.BcryptCost > 31 {
		problems = append(problems, fmt.Sprintf("security.bcrypt_cost must be between 4 and 31, got %d", c.Security.BcryptCost))
	}
	if c.Environment == "production" && len(c.Security.JWTSecret) < 32 {
		problems = append(problems, "security.jwt_secret must be at least 32 characters in production")
	}
	if c.Upload.MaxBytes <= 0 {
		problems = append(problems, "upload.max_bytes must be positive")
	}
	if c.Upload.MaxRows <= 0 {
		problems = append(problems, "upload.max_rows must be positive")
	}
	if c.Telemetry.SamplingRate < 0 || c.Telemetry.SamplingRate > 1 {
		problems = append(problems, "telemetry.sampling_rate must be within [0, 1]")
	}
	if (c.Bootstrap.ManagerUsername == "") != (c.Bootstrap.ManagerPassword == "") {
		problems = append(problems, "bootstrap.manager_username and bootstrap.manager_password must be set together")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
