package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	IdP       IdPConfig
	User      UserConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Host string
	Port int
	Env  string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
}

type JWTConfig struct {
	Secret string
}

// IdPConfig holds the connection settings for the external identity
// provider's admin API and token endpoint.
type IdPConfig struct {
	BaseURL           string
	Realm             string
	AdminClientID     string
	AdminClientSecret string
	TimeoutSeconds    int
}

type UserConfig struct {
	DefaultRole string
}

type RateLimitConfig struct {
	Requests      int
	WindowSeconds int
}

func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

func (i *IdPConfig) TokenURL() string {
	return fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", i.BaseURL, i.Realm)
}

func (i *IdPConfig) AdminURL() string {
	return fmt.Sprintf("%s/admin/realms/%s", i.BaseURL, i.Realm)
}

func (i *IdPConfig) Timeout() time.Duration {
	if i.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(i.TimeoutSeconds) * time.Second
}

func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func (s *ServerConfig) IsDevelopment() bool {
	return s.Env == "development"
}

func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8082)
	v.SetDefault("SERVER_ENV", "development")
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", 5432)
	v.SetDefault("DATABASE_USER", "userservice")
	v.SetDefault("DATABASE_PASSWORD", "userservice_secret")
	v.SetDefault("DATABASE_NAME", "userservice")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("JWT_SECRET", "change-me-in-production")
	v.SetDefault("IDP_BASE_URL", "http://localhost:8180")
	v.SetDefault("IDP_REALM", "iot-platform")
	v.SetDefault("IDP_ADMIN_CLIENT_ID", "user-service-admin")
	v.SetDefault("IDP_ADMIN_CLIENT_SECRET", "")
	v.SetDefault("IDP_TIMEOUT_SECONDS", 10)
	v.SetDefault("USER_DEFAULT_ROLE", "viewer")
	v.SetDefault("RATE_LIMIT_REQUESTS", 100)
	v.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 60)

	// Load from .env file if present
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	// Override with environment variables
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg := &Config{
		Server: ServerConfig{
			Host: v.GetString("SERVER_HOST"),
			Port: v.GetInt("SERVER_PORT"),
			Env:  v.GetString("SERVER_ENV"),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DATABASE_HOST"),
			Port:     v.GetInt("DATABASE_PORT"),
			User:     v.GetString("DATABASE_USER"),
			Password: v.GetString("DATABASE_PASSWORD"),
			Name:     v.GetString("DATABASE_NAME"),
			SSLMode:  v.GetString("DATABASE_SSLMODE"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetInt("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("JWT_SECRET"),
		},
		IdP: IdPConfig{
			BaseURL:           strings.TrimRight(v.GetString("IDP_BASE_URL"), "/"),
			Realm:             v.GetString("IDP_REALM"),
			AdminClientID:     v.GetString("IDP_ADMIN_CLIENT_ID"),
			AdminClientSecret: v.GetString("IDP_ADMIN_CLIENT_SECRET"),
			TimeoutSeconds:    v.GetInt("IDP_TIMEOUT_SECONDS"),
		},
		User: UserConfig{
			DefaultRole: v.GetString("USER_DEFAULT_ROLE"),
		},
		RateLimit: RateLimitConfig{
			Requests:      v.GetInt("RATE_LIMIT_REQUESTS"),
			WindowSeconds: v.GetInt("RATE_LIMIT_WINDOW_SECONDS"),
		},
	}

	return cfg, nil
}
