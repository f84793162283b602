package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	StorageDriverMySQL  = "mysql"
	StorageDriverMemory = "memory"

	NotifyDriverPubSub = "pubsub"
	NotifyDriverLog    = "log"

	// UniqueScopeActive limits the (project, worker) uniqueness to pending and
	// accepted invitations. UniqueScopeGlobal keeps the pair unique forever.
	UniqueScopeActive = "active"
	UniqueScopeGlobal = "global"
)

type Config struct {
	Port   string `env:"API_PORT" envDefault:"8080"`
	GoEnv  string `env:"GO_ENV"`
	Secret string `env:"API_SECRET"`

	CorsAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	DB      DatabaseConfig
	Storage StorageConfig
	Redis   RedisConfig
	PubSub  PubSubConfig

	InvitationTTLHours    int    `env:"INVITATION_TTL_HOURS" envDefault:"168"`
	InvitationUniqueScope string `env:"INVITATION_UNIQUE_SCOPE" envDefault:"active"`
	ExpirySweepSeconds    int    `env:"EXPIRY_SWEEP_INTERVAL_SECONDS" envDefault:"300"`
	NotifyDriver          string `env:"NOTIFY_DRIVER" envDefault:"log"`
	IdentitySeedFile      string `env:"IDENTITY_SEED_FILE"`
	IdentityCacheSeconds  int    `env:"IDENTITY_CACHE_TTL_SECONDS" envDefault:"300"`
	SkipMigrations        bool   `env:"SKIP_MIGRATIONS"`
}

type DatabaseConfig struct {
	User            string `env:"DB_USER"`
	Password        string `env:"DB_PASSWORD"`
	Host            string `env:"DB_HOST" envDefault:"127.0.0.1"`
	Port            string `env:"DB_PORT" envDefault:"3306"`
	Name            string `env:"DB_NAME" envDefault:"dispatch"`
	MaxOpenConns    int    `env:"DB_MAX_OPEN_CONNS" envDefault:"50"`
	MaxIdleConns    int    `env:"DB_MAX_IDLE_CONNS" envDefault:"25"`
	ConnMaxLifetime int    `env:"DB_CONN_MAX_LIFETIME_SECONDS" envDefault:"300"`
	ConnMaxIdleTime int    `env:"DB_CONN_MAX_IDLE_TIME_SECONDS" envDefault:"60"`
	MaxConnAttempts int    `env:"DB_MAX_CONNECT_ATTEMPTS" envDefault:"0"`
}

type StorageConfig struct {
	Driver     string `env:"STORAGE_DRIVER" envDefault:"mysql"`
	TimeoutMs  int    `env:"STORAGE_TIMEOUT_MS" envDefault:"3000"`
	MaxRetries int    `env:"STORAGE_MAX_RETRIES" envDefault:"3"`
}

type RedisConfig struct {
	Address  string `env:"REDIS_ADDRESS"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

type PubSubConfig struct {
	ProjectID       string `env:"PUBSUB_PROJECT_ID"`
	Topic           string `env:"PUBSUB_TOPIC" envDefault:"dispatch-lifecycle-events"`
	CredentialsJSON string `env:"PUBSUB_CREDENTIALS_JSON"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load reads .env (when present) and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case StorageDriverMySQL, StorageDriverMemory:
	default:
		return fmt.Errorf("STORAGE_DRIVER must be %q or %q, got %q", StorageDriverMySQL, StorageDriverMemory, c.Storage.Driver)
	}
	switch c.NotifyDriver {
	case NotifyDriverPubSub, NotifyDriverLog:
	default:
		return fmt.Errorf("NOTIFY_DRIVER must be %q or %q, got %q", NotifyDriverPubSub, NotifyDriverLog, c.NotifyDriver)
	}
	switch c.InvitationUniqueScope {
	case UniqueScopeActive, UniqueScopeGlobal:
	default:
		return fmt.Errorf("INVITATION_UNIQUE_SCOPE must be %q or %q, got %q", UniqueScopeActive, UniqueScopeGlobal, c.InvitationUniqueScope)
	}
	if c.InvitationTTLHours <= 0 {
		return fmt.Errorf("INVITATION_TTL_HOURS must be positive")
	}
	if c.ExpirySweepSeconds <= 0 {
		return fmt.Errorf("EXPIRY_SWEEP_INTERVAL_SECONDS must be positive")
	}
	if c.Storage.TimeoutMs <= 0 {
		return fmt.Errorf("STORAGE_TIMEOUT_MS must be positive")
	}
	if c.Storage.MaxRetries < 0 {
		return fmt.Errorf("STORAGE_MAX_RETRIES must not be negative")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.GoEnv == "production"
}

func (c *Config) InvitationTTL() time.Duration {
	return time.Duration(c.InvitationTTLHours) * time.Hour
}

func (c *Config) StorageTimeout() time.Duration {
	return time.Duration(c.Storage.TimeoutMs) * time.Millisecond
}

func (c *Config) ExpirySweepInterval() time.Duration {
	return time.Duration(c.ExpirySweepSeconds) * time.Second
}

func (c *Config) IdentityCacheTTL() time.Duration {
	return time.Duration(c.IdentityCacheSeconds) * time.Second
}
