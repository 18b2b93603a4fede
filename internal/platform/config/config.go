// Package config loads application configuration from a YAML file and
// environment variables. Priority: ENV > YAML > defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the root application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Retention RetentionConfig `yaml:"retention"`
	Auth      AuthConfig      `yaml:"auth"`
	Log       LogConfig       `yaml:"log"`

	// Entities declares the monitored entity types. YAML only; an empty
	// list falls back to a single generic "documents" entity.
	Entities []EntityConfig `yaml:"entities"`
}

// EntityConfig declares one monitored entity type.
type EntityConfig struct {
	Name              string   `yaml:"name"`
	IDField           string   `yaml:"id_field"`
	IdentifyingFields []string `yaml:"identifying_fields"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"             env:"SERVER_ADDR"             env-default:":8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout"     env:"SERVER_READ_TIMEOUT"     env-default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout"    env:"SERVER_WRITE_TIMEOUT"    env-default:"30s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"     env:"SERVER_IDLE_TIMEOUT"     env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// DatabaseConfig holds PostgreSQL connection settings. An empty DSN selects
// the in-memory stores.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"               env:"DATABASE_DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns"    env:"DATABASE_MAX_OPEN_CONNS"    env-default:"25"`
	MaxIdleConns    int           `yaml:"max_idle_conns"    env:"DATABASE_MAX_IDLE_CONNS"    env-default:"5"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME" env-default:"1h"`
	Migrate         bool          `yaml:"migrate"           env:"DATABASE_MIGRATE"           env-default:"true"`
}

// RedisConfig holds Redis connection settings. An empty URL selects the
// in-process lock manager.
type RedisConfig struct {
	URL          string        `yaml:"url"            env:"REDIS_URL"`
	PoolSize     int           `yaml:"pool_size"      env:"REDIS_POOL_SIZE"      env-default:"10"`
	MinIdleConns int           `yaml:"min_idle_conns" env:"REDIS_MIN_IDLE_CONNS" env-default:"2"`
	DialTimeout  time.Duration `yaml:"dial_timeout"   env:"REDIS_DIAL_TIMEOUT"   env-default:"5s"`
	ReadTimeout  time.Duration `yaml:"read_timeout"   env:"REDIS_READ_TIMEOUT"   env-default:"3s"`
	WriteTimeout time.Duration `yaml:"write_timeout"  env:"REDIS_WRITE_TIMEOUT"  env-default:"3s"`
}

// KafkaConfig holds audit event streaming settings. No brokers disables the
// outbox relay.
type KafkaConfig struct {
	Brokers       []string      `yaml:"brokers"        env:"KAFKA_BROKERS"`
	Topic         string        `yaml:"topic"          env:"KAFKA_TOPIC"          env-default:"chronicle.audit-records"`
	RelayInterval time.Duration `yaml:"relay_interval" env:"KAFKA_RELAY_INTERVAL" env-default:"5s"`
	RelayBatch    int           `yaml:"relay_batch"    env:"KAFKA_RELAY_BATCH"    env-default:"100"`
}

// RetentionConfig tunes the retention sweeper.
type RetentionConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval" env:"RETENTION_SWEEP_INTERVAL" env-default:"1h"`
	SweepBudget   time.Duration `yaml:"sweep_budget"   env:"RETENTION_SWEEP_BUDGET"   env-default:"10m"`
	BatchSize     int           `yaml:"batch_size"     env:"RETENTION_BATCH_SIZE"     env-default:"200"`
	Concurrency   int           `yaml:"concurrency"    env:"RETENTION_CONCURRENCY"    env-default:"4"`
	LockTTL       time.Duration `yaml:"lock_ttl"       env:"RETENTION_LOCK_TTL"       env-default:"10m"`
}

// AuthConfig holds authentication settings. AdminTokenHash is the bcrypt
// hash of the token admin endpoints require.
type AuthConfig struct {
	JWTSigningKey  string `yaml:"jwt_signing_key"  env:"AUTH_JWT_SIGNING_KEY"  env-default:"dev-secret-key-change-in-production"`
	AdminTokenHash string `yaml:"admin_token_hash" env:"AUTH_ADMIN_TOKEN_HASH"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}

// Load reads configuration. The YAML file path comes from CONFIG_PATH
// (fallback "./config.yaml"); a missing default file means ENV + defaults
// only, a missing explicit file is an error.
func Load() (*Config, error) {
	var cfg Config

	path := os.Getenv("CONFIG_PATH")
	explicitPath := path != ""
	if !explicitPath {
		path = "./config.yaml"
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if explicitPath {
		return nil, fmt.Errorf("config: file %s: %w", path, err)
	} else {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("config: read env: %w", err)
		}
	}

	return &cfg, nil
}
