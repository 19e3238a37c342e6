package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	AppName string
	Env     string
	Host    string
	Port    int

	DBDriver    string
	DatabaseURL string
	SQLitePath  string

	JWTSecret          string
	AccessTokenMinutes int

	CORSOrigins []string
	Debug       bool

	// RedisURL enables the cross-instance relay when set.
	RedisURL     string
	RedisChannel string

	WSSendBuffer        int
	WSHandshakeTimeout  time.Duration
	WSCommandTimeout    time.Duration
	WSCommandsPerSecond int
	WSMaxFrameBytes     int64

	MessagesPageSize    int
	MessagesMaxPageSize int
}

// Load reads configuration from defaults, an optional config file and the
// environment, in increasing order of precedence. Keys match the environment
// variable names (HTTP_PORT, JWT_SECRET, ...); config files use the same
// names in any case.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	dbURL := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(v.GetString("POSTGRES_USER"), v.GetString("POSTGRES_PASSWORD")),
		Host:     fmt.Sprintf("%s:%s", v.GetString("POSTGRES_HOST"), v.GetString("POSTGRES_PORT")),
		Path:     v.GetString("POSTGRES_DB"),
		RawQuery: "sslmode=" + v.GetString("POSTGRES_SSLMODE"),
	}

	cfg := &Config{
		AppName: v.GetString("APP_NAME"),
		Env:     v.GetString("APP_ENV"),
		Host:    v.GetString("HTTP_HOST"),
		Port:    v.GetInt("HTTP_PORT"),

		DBDriver:    strings.ToLower(strings.TrimSpace(v.GetString("DB_DRIVER"))),
		DatabaseURL: dbURL.String(),
		SQLitePath:  v.GetString("SQLITE_PATH"),

		JWTSecret:          v.GetString("JWT_SECRET"),
		AccessTokenMinutes: v.GetInt("ACCESS_TOKEN_EXPIRE_MINUTES"),

		CORSOrigins: splitList(v.GetString("CORS_ORIGINS")),
		Debug:       v.GetBool("DEBUG"),

		RedisURL:     v.GetString("REDIS_URL"),
		RedisChannel: v.GetString("REDIS_CHANNEL"),

		WSSendBuffer:        v.GetInt("WS_SEND_BUFFER"),
		WSHandshakeTimeout:  v.GetDuration("WS_HANDSHAKE_TIMEOUT"),
		WSCommandTimeout:    v.GetDuration("WS_COMMAND_TIMEOUT"),
		WSCommandsPerSecond: v.GetInt("WS_COMMANDS_PER_SECOND"),
		WSMaxFrameBytes:     v.GetInt64("WS_MAX_FRAME_BYTES"),

		MessagesPageSize:    v.GetInt("MESSAGES_PAGE_SIZE"),
		MessagesMaxPageSize: v.GetInt("MESSAGES_MAX_PAGE_SIZE"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_NAME", "winechat")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("HTTP_HOST", "0.0.0.0")
	v.SetDefault("HTTP_PORT", 8000)

	v.SetDefault("DB_DRIVER", DriverSQLite)
	v.SetDefault("SQLITE_PATH", "file:winechat.db?_pragma=busy_timeout(5000)")
	v.SetDefault("POSTGRES_HOST", "localhost")
	v.SetDefault("POSTGRES_PORT", "5432")
	v.SetDefault("POSTGRES_USER", "postgres")
	v.SetDefault("POSTGRES_PASSWORD", "postgres")
	v.SetDefault("POSTGRES_DB", "winechat")
	v.SetDefault("POSTGRES_SSLMODE", "disable")

	v.SetDefault("ACCESS_TOKEN_EXPIRE_MINUTES", 60*24)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000,http://localhost:5173")
	v.SetDefault("DEBUG", false)

	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_CHANNEL", "chat:rooms")

	v.SetDefault("WS_SEND_BUFFER", 256)
	v.SetDefault("WS_HANDSHAKE_TIMEOUT", 10*time.Second)
	v.SetDefault("WS_COMMAND_TIMEOUT", 15*time.Second)
	v.SetDefault("WS_COMMANDS_PER_SECOND", 20)
	v.SetDefault("WS_MAX_FRAME_BYTES", 64<<10)

	v.SetDefault("MESSAGES_PAGE_SIZE", 50)
	v.SetDefault("MESSAGES_MAX_PAGE_SIZE", 100)
}

func (c *Config) validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	switch c.DBDriver {
	case DriverSQLite, DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.DBDriver))
	}
	if c.AccessTokenMinutes <= 0 {
		errs = append(errs, errors.New("ACCESS_TOKEN_EXPIRE_MINUTES must be positive"))
	}
	if c.MessagesMaxPageSize <= 0 || c.MessagesPageSize <= 0 || c.MessagesPageSize > c.MessagesMaxPageSize {
		errs = append(errs, errors.New("MESSAGES_PAGE_SIZE must be positive and not exceed MESSAGES_MAX_PAGE_SIZE"))
	}
	return errors.Join(errs...)
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AccessTokenTTL is the lifetime of issued bearer tokens.
func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenMinutes) * time.Minute
}

func splitList(s string) []string {
	var res []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			res = append(res, p)
		}
	}
	return res
}
