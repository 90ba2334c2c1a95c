package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv   string `env:"APP_ENV" envDefault:"development"`
	Port     string `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	SentryDSN string `env:"SENTRY_DSN"`

	RunMigrations bool `env:"RUN_MIGRATIONS_ON_STARTUP" envDefault:"true"`

	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`

	Database    Database `envPrefix:"DB_"`
	Token       Token
	Login       Login `envPrefix:"LOGIN_"`
	Maintenance Maintenance
	Telegram    Telegram `envPrefix:"TELEGRAM_"`
	Storage     Storage  `envPrefix:"MINIO_"`

	VerificationTTL time.Duration `env:"VERIFICATION_TTL" envDefault:"300s"`

	AdminUsername string `env:"ADMIN_USERNAME"`
	AdminPassword string `env:"ADMIN_PASSWORD"`
}

type Database struct {
	MaxOpenConns    int           `env:"MAX_OPEN_CONNS" envDefault:"10"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"30m"`
	ConnMaxIdleTime time.Duration `env:"CONN_MAX_IDLE_TIME" envDefault:"10m"`
}

type Token struct {
	Secret        string        `env:"JWT_SECRET,required,notEmpty"`
	Algorithm     string        `env:"JWT_ALGORITHM" envDefault:"HS256"`
	AccessTTL     time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"20m"`
	EnforceExpiry bool          `env:"ENFORCE_TOKEN_EXPIRY" envDefault:"true"`
	CookieName    string        `env:"ACCESS_TOKEN_COOKIE" envDefault:"users_access_token"`
	CookieSecure  bool          `env:"COOKIE_SECURE" envDefault:"false"`
}

type Login struct {
	MaxAttempts     int           `env:"MAX_ATTEMPTS" envDefault:"5"`
	LockDuration    time.Duration `env:"LOCK_DURATION" envDefault:"15m"`
	RateLimitMax    int           `env:"RATE_LIMIT_MAX" envDefault:"10"`
	RateLimitWindow time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"60s"`
}

type Maintenance struct {
	CronSecret            string        `env:"CRON_SECRET"`
	LoginAttemptRetention time.Duration `env:"LOGIN_ATTEMPT_RETENTION" envDefault:"720h"`
	CleanupBatchSize      int           `env:"CLEANUP_BATCH_SIZE" envDefault:"500"`
}

type Telegram struct {
	BotToken    string `env:"BOT_TOKEN"`
	PollUpdates bool   `env:"POLL_UPDATES" envDefault:"false"`
}

type Storage struct {
	Endpoint    string        `env:"ENDPOINT"`
	AccessKey   string        `env:"ACCESS_KEY"`
	SecretKey   string        `env:"SECRET_KEY"`
	Bucket      string        `env:"BUCKET" envDefault:"order-photos"`
	UseSSL      bool          `env:"USE_SSL" envDefault:"false"`
	PhotoURLTTL time.Duration `env:"PHOTO_URL_TTL" envDefault:"15m"`
}

type Options struct {
	LoadDotEnv bool
}

// Load reads the process environment (and .env when asked) into a Config.
func Load(options Options) (*Config, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToUpper(c.Token.Algorithm) {
	case "HS256", "HS384", "HS512":
		c.Token.Algorithm = strings.ToUpper(c.Token.Algorithm)
	default:
		return fmt.Errorf("unsupported JWT_ALGORITHM: %s", c.Token.Algorithm)
	}
	if c.Token.AccessTTL <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_TTL must be positive")
	}
	if c.VerificationTTL <= 0 {
		return fmt.Errorf("VERIFICATION_TTL must be positive")
	}

	c.AdminUsername = strings.TrimSpace(strings.ToLower(c.AdminUsername))
	c.AdminPassword = strings.TrimSpace(c.AdminPassword)
	if (c.AdminUsername == "") != (c.AdminPassword == "") {
		return fmt.Errorf("ADMIN_USERNAME and ADMIN_PASSWORD are required together")
	}

	return nil
}

// StorageEnabled reports whether object storage for order photos is configured.
func (c *Config) StorageEnabled() bool {
	return c.Storage.Endpoint != "" && c.Storage.AccessKey != "" && c.Storage.SecretKey != ""
}
