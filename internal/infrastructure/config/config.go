package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-envconfig"
)

const (
	StoreMemory   = "memory"
	StoreMongo    = "mongo"
	StorePostgres = "postgres"

	LimiterMemory = "memory"
	LimiterRedis  = "redis"

	HasherBcrypt   = "bcrypt"
	HasherArgon2id = "argon2id"

	MailLog  = "log"
	MailSMTP = "smtp"
)

const minSecretLength = 32

type Config struct {
	Port     string `env:"PORT,      default=8080"`
	Env      string `env:"ENV,       default=development"`
	LogLevel string `env:"LOG_LEVEL, default=info"`

	// TrustedProxies lists CIDRs of reverse proxies whose X-Forwarded-For
	// header names the client. Empty means clients connect directly.
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	Token    TokenConfig
	Reset    ResetConfig
	Backends BackendConfig
	Hashing  HashingConfig
	Mail     MailConfig

	Mongo    MongoConfig
	Redis    RedisConfig
	Postgres PostgresConfig
}

type TokenConfig struct {
	Secret string        `env:"JWT_SECRET, required"`
	Issuer string        `env:"JWT_ISSUER, default=gigmarket-identity"`
	TTL    time.Duration `env:"TOKEN_TTL,  default=168h"`
}

type ResetConfig struct {
	TTL            time.Duration `env:"RESET_TTL,             default=15m"`
	ConcealUnknown bool          `env:"RESET_CONCEAL_UNKNOWN, default=false"`
}

type BackendConfig struct {
	Store     string `env:"STORE_DRIVER,       default=mongo"`
	RateLimit string `env:"RATE_LIMIT_BACKEND, default=memory"`
}

type HashingConfig struct {
	Algorithm   string `env:"PASSWORD_HASHER,  default=bcrypt"`
	BcryptCost  int    `env:"BCRYPT_COST,      default=12"`
	Concurrency int    `env:"HASH_CONCURRENCY, default=4"`
}

type MailConfig struct {
	Driver       string        `env:"MAIL_DRIVER,        default=log"`
	From         string        `env:"MAIL_FROM,          default=no-reply@gigmarket.local"`
	ResetURL     string        `env:"RESET_URL,          default=http://localhost:3000/reset-password"`
	Workers      int           `env:"MAIL_WORKERS,       default=4"`
	Rate         float64       `env:"MAIL_RATE,          default=10"`
	DrainTimeout time.Duration `env:"MAIL_DRAIN_TIMEOUT, default=10s"`

	SMTP SMTPConfig `env:", prefix=SMTP_"`
}

type SMTPConfig struct {
	Host     string `env:"HOST"`
	Port     int    `env:"PORT, default=587"`
	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD"`
}

type MongoConfig struct {
	URI         string `env:"MONGO_URI,           default=mongodb://localhost:27017"`
	Database    string `env:"MONGO_DB,            default=gigmarket_identity"`
	MaxPoolSize uint64 `env:"MONGO_MAX_POOL_SIZE, default=50"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR,      default=localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB,        default=0"`
	PoolSize int    `env:"REDIS_POOL_SIZE, default=20"`
}

type PostgresConfig struct {
	DSN string `env:"POSTGRES_DSN"`
}

// IsProduction reports whether ENV names a production deployment.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// TrustedProxyNets parses TrustedProxies. A bare address is taken as a single host.
func (c *Config) TrustedProxyNets() ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(c.TrustedProxies))
	for _, raw := range c.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "/") {
			ip := net.ParseIP(raw)
			if ip == nil {
				return nil, fmt.Errorf("TRUSTED_PROXIES: invalid address %q", raw)
			}
			bits := 128
			if ip.To4() != nil {
				ip, bits = ip.To4(), 32
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(raw)
		if err != nil {
			return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
		}
		nets = append(nets, n)
	}
	return nets, nil
}

// Validate checks cross-field rules envconfig cannot express.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Token.Secret) < minSecretLength {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d bytes", minSecretLength))
	}
	if c.Token.TTL <= 0 {
		errs = append(errs, errors.New("TOKEN_TTL must be positive"))
	}
	if c.Reset.TTL <= 0 {
		errs = append(errs, errors.New("RESET_TTL must be positive"))
	}
	if _, err := c.TrustedProxyNets(); err != nil {
		errs = append(errs, err)
	}

	switch c.Backends.Store {
	case StoreMemory, StoreMongo:
	case StorePostgres:
		if c.Postgres.DSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required when STORE_DRIVER=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.Backends.Store))
	}

	switch c.Backends.RateLimit {
	case LimiterMemory, LimiterRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown RATE_LIMIT_BACKEND %q", c.Backends.RateLimit))
	}

	switch c.Hashing.Algorithm {
	case HasherBcrypt, HasherArgon2id:
	default:
		errs = append(errs, fmt.Errorf("unknown PASSWORD_HASHER %q", c.Hashing.Algorithm))
	}
	if c.Hashing.Concurrency <= 0 {
		errs = append(errs, errors.New("HASH_CONCURRENCY must be positive"))
	}

	switch c.Mail.Driver {
	case MailLog:
	case MailSMTP:
		if c.Mail.SMTP.Host == "" {
			errs = append(errs, errors.New("SMTP_HOST is required when MAIL_DRIVER=smtp"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown MAIL_DRIVER %q", c.Mail.Driver))
	}

	return errors.Join(errs...)
}

// Load reads configuration from environment variables using go-envconfig.
func Load(logger zerolog.Logger) *Config {
	cfg, err := LoadFrom(context.Background(), envconfig.OsLookuper())
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load configuration")
		panic(err)
	}
	return cfg
}

// LoadFrom reads and validates configuration from the given lookuper.
func LoadFrom(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
