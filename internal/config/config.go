package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for the gateway
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Database   DatabaseConfig   `toml:"database"`
	Redis      RedisConfig      `toml:"redis"`
	Attendance AttendanceConfig `toml:"attendance"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	ReadTimeout  int    `toml:"read_timeout"`
	WriteTimeout int    `toml:"write_timeout"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"ssl_mode"`
	MaxConns int32  `toml:"max_conns"`
}

// RedisConfig holds the shared key/value store configuration
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// AttendanceConfig holds the protocol parameters
type AttendanceConfig struct {
	MinPoolSize           int `toml:"min_pool_size"`
	MaxRounds             int `toml:"max_rounds"`
	MaxAttempts           int `toml:"max_attempts"`
	TOTPStepSeconds       int `toml:"totp_step_seconds"`
	TOTPSkewSteps         int `toml:"totp_skew_steps"`
	QRTTLSeconds          int `toml:"qr_ttl_seconds"`
	SessionKeyTTLHours    int `toml:"session_key_ttl_hours"`
	EnrollCooldownHours   int `toml:"enroll_cooldown_hours"`
	MaxEnrollmentsPerDay  int `toml:"max_enrollments_per_day"`
}

// Load loads configuration from TOML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.SetDefaults()

	return &config, nil
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// DatabaseURL returns the PostgreSQL connection URL
func (c *DatabaseConfig) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// SetDefaults sets default values for config
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30
	}
	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.User == "" {
		c.Database.User = "postgres"
	}
	if c.Database.Database == "" {
		c.Database.Database = "presencegate"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = 10
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Attendance.MinPoolSize == 0 {
		c.Attendance.MinPoolSize = 10
	}
	if c.Attendance.MaxRounds == 0 {
		c.Attendance.MaxRounds = 4
	}
	if c.Attendance.MaxAttempts == 0 {
		c.Attendance.MaxAttempts = 3
	}
	if c.Attendance.TOTPStepSeconds == 0 {
		c.Attendance.TOTPStepSeconds = 30
	}
	if c.Attendance.TOTPSkewSteps == 0 {
		c.Attendance.TOTPSkewSteps = 1
	}
	if c.Attendance.QRTTLSeconds == 0 {
		c.Attendance.QRTTLSeconds = 90
	}
	if c.Attendance.SessionKeyTTLHours == 0 {
		c.Attendance.SessionKeyTTLHours = 8
	}
	if c.Attendance.EnrollCooldownHours == 0 {
		c.Attendance.EnrollCooldownHours = 24
	}
	if c.Attendance.MaxEnrollmentsPerDay == 0 {
		c.Attendance.MaxEnrollmentsPerDay = 3
	}
}
