package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const minSecretLength = 32

// Config holds all runtime configuration, loaded once at process start.
type Config struct {
	Environment string

	Server        ServerConfig
	JWT           JWTConfig
	OTP           OTPConfig
	Scylla        ScyllaConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Clickhouse    ClickhouseConfig
	Elasticsearch ElasticsearchConfig
	SMS           SMSConfig
	Logging       LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// JWTConfig carries the two independent signing secrets. Access and
// refresh secrets must never share an env var.
type JWTConfig struct {
	AccessSecret   string
	RefreshSecret  string
	AccessExpires  time.Duration
	RefreshExpires time.Duration
}

type OTPConfig struct {
	CodeTTL         time.Duration
	RequestWindow   time.Duration
	MaxAttempts     int
	ExposeCode      bool
	RefreshTokenTTL time.Duration
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type KafkaConfig struct {
	Brokers    []string
	EventTopic string
}

type ClickhouseConfig struct {
	URL      string
	Database string
	Username string
	Password string
}

type ElasticsearchConfig struct {
	URL      string
	Username string
	Password string
	Index    string
}

type SMSConfig struct {
	APIKey string
	Sender string
}

type LoggingConfig struct {
	Level  string
	Format string
}

var loaded *Config

// LoadConfig reads the environment (optionally seeded from .env) and
// validates the parts the process must not start without.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: GetEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:         GetEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		JWT: JWTConfig{
			AccessSecret:   os.Getenv("JWT_ACCESS_SECRET"),
			RefreshSecret:  os.Getenv("JWT_REFRESH_SECRET"),
			AccessExpires:  getEnvDuration("JWT_ACCESS_EXPIRES_IN", 15*time.Minute),
			RefreshExpires: getEnvDuration("JWT_REFRESH_EXPIRES_IN", 7*24*time.Hour),
		},
		OTP: OTPConfig{
			CodeTTL:         getEnvDuration("OTP_CODE_TTL", 2*time.Minute),
			RequestWindow:   getEnvDuration("OTP_REQUEST_WINDOW", time.Minute),
			MaxAttempts:     getEnvInt("OTP_MAX_ATTEMPTS", 1),
			ExposeCode:      getEnvBool("OTP_EXPOSE_CODE", false),
			RefreshTokenTTL: getEnvDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		},
		Scylla: ScyllaConfig{
			Nodes:    splitList(GetEnv("SCYLLA_NODES", "127.0.0.1:9042")),
			Keyspace: GetEnv("SCYLLA_KEYSPACE", "phone_auth"),
			Username: os.Getenv("SCYLLA_USERNAME"),
			Password: os.Getenv("SCYLLA_PASSWORD"),
		},
		Redis: RedisConfig{
			URL:      GetEnv("REDIS_URL", "redis://127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
		},
		Kafka: KafkaConfig{
			Brokers:    splitList(GetEnv("KAFKA_BROKERS", "127.0.0.1:9092")),
			EventTopic: GetEnv("KAFKA_EVENT_TOPIC", "auth-events"),
		},
		Clickhouse: ClickhouseConfig{
			URL:      GetEnv("CLICKHOUSE_URL", "http://127.0.0.1:8123"),
			Database: GetEnv("CLICKHOUSE_DATABASE", "auth_audit"),
			Username: GetEnv("CLICKHOUSE_USERNAME", "default"),
			Password: os.Getenv("CLICKHOUSE_PASSWORD"),
		},
		Elasticsearch: ElasticsearchConfig{
			URL:      GetEnv("ELASTICSEARCH_URL", "http://127.0.0.1:9200"),
			Username: os.Getenv("ELASTICSEARCH_USERNAME"),
			Password: os.Getenv("ELASTICSEARCH_PASSWORD"),
			Index:    GetEnv("ELASTICSEARCH_LOGIN_INDEX", "login-events"),
		},
		SMS: SMSConfig{
			APIKey: os.Getenv("KAVENEGAR_API_KEY"),
			Sender: os.Getenv("KAVENEGAR_SENDER"),
		},
		Logging: LoggingConfig{
			Level:  GetEnv("LOG_LEVEL", "info"),
			Format: GetEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	loaded = cfg
	return cfg, nil
}

func (c *Config) validate() error {
	if err := validateSecret("JWT_ACCESS_SECRET", c.JWT.AccessSecret); err != nil {
		return err
	}
	if err := validateSecret("JWT_REFRESH_SECRET", c.JWT.RefreshSecret); err != nil {
		return err
	}
	if c.JWT.AccessSecret == c.JWT.RefreshSecret {
		return fmt.Errorf("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must be independent")
	}
	if c.OTP.MaxAttempts < 1 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS must be at least 1, got %d", c.OTP.MaxAttempts)
	}
	if c.OTP.ExposeCode && c.IsProduction() {
		return fmt.Errorf("OTP_EXPOSE_CODE must not be enabled in production")
	}
	return nil
}

func validateSecret(name, value string) error {
	if len(value) < minSecretLength {
		return fmt.Errorf("%s is missing or too short (min %d chars)", name, minSecretLength)
	}
	return nil
}

// Get returns the last loaded configuration.
func Get() *Config {
	return loaded
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GetEnv returns the env var value or a default when unset.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
