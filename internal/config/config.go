package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the application configuration
type Config struct {
	Server        ServerConfig        `json:"server"`
	Database      DatabaseConfig      `json:"database"`
	Security      SecurityConfig      `json:"security"`
	Logging       LoggingConfig       `json:"logging"`
	Scheduler     SchedulerConfig     `json:"scheduler"`
	Notifications NotificationsConfig `json:"notifications"`
	Audit         AuditConfig         `json:"audit"`
	Assignment    AssignmentConfig    `json:"assignment"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	// Driver is "postgres" or "memory".
	Driver         string        `json:"driver"`
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	User           string        `json:"user"`
	Password       string        `json:"password"`
	DBName         string        `json:"db_name"`
	SSLMode        string        `json:"ssl_mode"`
	MaxConnections int           `json:"max_connections"`
	MaxIdleConns   int           `json:"max_idle_conns"`
	MaxLifetime    time.Duration `json:"max_lifetime"`
	MigrationsPath string        `json:"migrations_path"`
}

type SecurityConfig struct {
	JWTSecret string        `json:"jwt_secret"`
	JWTIssuer string        `json:"jwt_issuer"`
	TokenTTL  time.Duration `json:"token_ttl"`
}

type LoggingConfig struct {
	Level       string `json:"level"`
	Environment string `json:"environment"`
}

// SchedulerConfig holds the cron specs of the automation jobs. Specs use
// the standard five-field format.
type SchedulerConfig struct {
	Timezone           string `json:"timezone"`
	EffectiveSpec      string `json:"effective_spec"`
	ObsolescenceSpec   string `json:"obsolescence_spec"`
	PeriodicReviewSpec string `json:"periodic_review_spec"`
	OverdueSpec        string `json:"overdue_spec"`
	MaxConcurrent      int    `json:"max_concurrent"`
}

type NotificationsConfig struct {
	AWSRegion        string        `json:"aws_region"`
	SESSender        string        `json:"ses_sender"`
	SNSTopicARN      string        `json:"sns_topic_arn"`
	DispatchInterval time.Duration `json:"dispatch_interval"`
	MaxAttempts      int           `json:"max_attempts"`
	RetryBackoff     time.Duration `json:"retry_backoff"`
	BatchSize        int           `json:"batch_size"`
}

// AuditConfig configures the search mirror; empty addresses disable it.
type AuditConfig struct {
	ElasticAddresses []string `json:"elastic_addresses"`
	ElasticUsername  string   `json:"elastic_username"`
	ElasticPassword  string   `json:"elastic_password"`
	ElasticIndex     string   `json:"elastic_index"`
}

type AssignmentConfig struct {
	ReviewLowMax     int `json:"review_low_max"`
	ReviewNormalMax  int `json:"review_normal_max"`
	ReviewCapacity   int `json:"review_capacity"`
	ApprovalLowMax   int `json:"approval_low_max"`
	ApprovalNormal   int `json:"approval_normal_max"`
	ApprovalCapacity int `json:"approval_capacity"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:         "postgres",
			Host:           "localhost",
			Port:           5432,
			User:           os.Getenv("USER"),
			DBName:         "edms",
			SSLMode:        "disable",
			MaxConnections: 20,
			MaxIdleConns:   5,
			MaxLifetime:    30 * time.Minute,
			MigrationsPath: "migrations",
		},
		Security: SecurityConfig{
			JWTIssuer: "edms",
			TokenTTL:  8 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:       "info",
			Environment: "development",
		},
		Scheduler: SchedulerConfig{
			Timezone:           "UTC",
			EffectiveSpec:      "5 0 * * *",
			ObsolescenceSpec:   "15 0 * * *",
			PeriodicReviewSpec: "30 0 * * *",
			OverdueSpec:        "0 8 * * *",
			MaxConcurrent:      4,
		},
		Notifications: NotificationsConfig{
			AWSRegion:        "us-east-1",
			DispatchInterval: 30 * time.Second,
			MaxAttempts:      5,
			RetryBackoff:     time.Minute,
			BatchSize:        50,
		},
		Audit: AuditConfig{
			ElasticIndex: "edms-audit",
		},
		Assignment: AssignmentConfig{
			ReviewLowMax:     3,
			ReviewNormalMax:  7,
			ReviewCapacity:   10,
			ApprovalLowMax:   2,
			ApprovalNormal:   4,
			ApprovalCapacity: 6,
		},
	}
}

// LoadConfig loads configuration from file and environment variables.
// A .env file in the working directory is read first when present.
func LoadConfig(configPath string) (*Config, error) {
	_ = godotenv.Load()

	config := Default()

	// Load from file if exists
	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Override with environment variables
	if err := overrideWithEnv(config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func overrideWithEnv(config *Config) error {
	setString(&config.Server.Host, "SERVER_HOST")
	if err := setInt(&config.Server.Port, "SERVER_PORT"); err != nil {
		return err
	}

	setString(&config.Database.Driver, "DATABASE_DRIVER")
	setString(&config.Database.Host, "DATABASE_HOST")
	if err := setInt(&config.Database.Port, "DATABASE_PORT"); err != nil {
		return err
	}
	setString(&config.Database.User, "DATABASE_USER")
	setString(&config.Database.Password, "DATABASE_PASSWORD")
	setString(&config.Database.DBName, "DATABASE_DBNAME")
	setString(&config.Database.SSLMode, "DATABASE_SSLMODE")
	setString(&config.Database.MigrationsPath, "DATABASE_MIGRATIONS_PATH")

	setString(&config.Security.JWTSecret, "JWT_SECRET")
	setString(&config.Security.JWTIssuer, "JWT_ISSUER")

	setString(&config.Logging.Level, "LOG_LEVEL")
	setString(&config.Logging.Environment, "APP_ENV")

	setString(&config.Scheduler.Timezone, "SCHEDULER_TIMEZONE")
	if err := setInt(&config.Scheduler.MaxConcurrent, "SCHEDULER_MAX_CONCURRENT"); err != nil {
		return err
	}

	setString(&config.Notifications.AWSRegion, "AWS_REGION")
	setString(&config.Notifications.SESSender, "SES_SENDER")
	setString(&config.Notifications.SNSTopicARN, "SNS_TOPIC_ARN")
	if err := setDuration(&config.Notifications.DispatchInterval, "NOTIFICATION_DISPATCH_INTERVAL"); err != nil {
		return err
	}
	if err := setInt(&config.Notifications.MaxAttempts, "NOTIFICATION_MAX_ATTEMPTS"); err != nil {
		return err
	}

	if addrs := os.Getenv("ELASTICSEARCH_ADDRESSES"); addrs != "" {
		config.Audit.ElasticAddresses = strings.Split(addrs, ",")
	}
	setString(&config.Audit.ElasticUsername, "ELASTICSEARCH_USERNAME")
	setString(&config.Audit.ElasticPassword, "ELASTICSEARCH_PASSWORD")
	setString(&config.Audit.ElasticIndex, "ELASTICSEARCH_AUDIT_INDEX")
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}

// Validate checks values the services cannot start without.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("invalid scheduler timezone: %w", err)
	}
	if c.Assignment.ReviewLowMax > c.Assignment.ReviewNormalMax ||
		c.Assignment.ApprovalLowMax > c.Assignment.ApprovalNormal {
		return fmt.Errorf("assignment workload thresholds must be ascending")
	}
	return nil
}

// GetDatabaseURL returns the database connection string
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
