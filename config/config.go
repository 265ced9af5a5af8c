package config

import (
	"errors"
	"fmt"
	"time"

	"location-api/middleware/ratelimit/domain"

	"github.com/caarlos0/env/v11"
)

// Config é a configuração do binário cmd/api, lida do ambiente no startup.
type Config struct {
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`

	RateLimitEnabled       bool          `env:"RATE_LIMIT_ENABLED"         envDefault:"true"`
	RateLimitPerMinute     int           `env:"RATE_LIMIT_PER_MINUTE"      envDefault:"60"`
	AuthRateLimitPerMinute int           `env:"AUTH_RATE_LIMIT_PER_MINUTE" envDefault:"10"`
	RateLimitFailOpen      bool          `env:"RATE_LIMIT_FAIL_OPEN"       envDefault:"false"`
	RateLimitStrict        bool          `env:"RATE_LIMIT_STRICT"          envDefault:"false"`
	RateLimitPrefix        string        `env:"RATE_LIMIT_PREFIX"          envDefault:"rate_limit:"`
	RateJanitorEvery       time.Duration `env:"RATE_JANITOR_EVERY"         envDefault:"1m"`
	TrustXFF               bool          `env:"TRUST_XFF"                  envDefault:"false"`
	RateKeyHeader          string        `env:"RATE_KEY_HEADER"`

	RateStatsEnabled   bool          `env:"RATE_STATS_ENABLED"    envDefault:"false"`
	RateStatsPrefix    string        `env:"RATE_STATS_PREFIX"     envDefault:"ratelimit:stats"`
	RateStatsTTL       time.Duration `env:"RATE_STATS_TTL"        envDefault:"24h"`
	RateStatsTrackKeys bool          `env:"RATE_STATS_TRACK_KEYS" envDefault:"false"`

	CacheTTL    time.Duration `env:"CACHE_TTL"    envDefault:"5m"`
	CachePrefix string        `env:"CACHE_PREFIX" envDefault:"cache:"`

	RedisURL     string        `env:"REDIS_URL"`
	RedisTimeout time.Duration `env:"REDIS_TIMEOUT" envDefault:"2s"`

	// AdminToken vazio deixa as rotas /admin abertas (só atrás do rate limit estrito).
	AdminToken string `env:"ADMIN_TOKEN"`
}

// Load lê e valida a configuração.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.ListenAddr == "" {
		return errors.New("LISTEN_ADDR is required")
	}
	if c.RateLimitPerMinute <= 0 {
		return errors.New("RATE_LIMIT_PER_MINUTE must be > 0")
	}
	if c.AuthRateLimitPerMinute <= 0 {
		return errors.New("AUTH_RATE_LIMIT_PER_MINUTE must be > 0")
	}
	if c.CacheTTL < 0 {
		return errors.New("CACHE_TTL must be >= 0")
	}
	if c.RedisTimeout <= 0 {
		return errors.New("REDIS_TIMEOUT must be > 0")
	}
	if c.RateJanitorEvery < 0 {
		return errors.New("RATE_JANITOR_EVERY must be >= 0")
	}
	return nil
}

// DefaultPolicy é o limite das rotas comuns.
func (c Config) DefaultPolicy() domain.Policy { return domain.PerMinute(c.RateLimitPerMinute) }

// AuthPolicy é o limite mais estrito das rotas sensíveis.
func (c Config) AuthPolicy() domain.Policy { return domain.PerMinute(c.AuthRateLimitPerMinute) }
