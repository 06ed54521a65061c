package app

import (
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
)

const (
	defaultAddr      = "0.0.0.0:8080"
	defaultClientURL = "http://localhost:3000"
)

// Config holds the complete application configuration, loadable from
// environment variables (SHOP_ prefix), flags, YAML config files or a local
// .env file.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (SHOP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	ClientURL   string `usage:"Storefront base URL used in email links (SHOP_CLIENT_URL or CLIENT_URL, default http://localhost:3000)" flag:"client-url"`
	Auth        AuthConfig
	Stripe      StripeConfig
	SMTP        SMTPConfig
	Kafka       KafkaConfig
	Outbox      OutboxConfig
	RateLimit   RateLimitConfig
	AuthLimit   AuthLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// AuthConfig controls session tokens and password hashing.
type AuthConfig struct {
	JWTSecret  string        `usage:"HMAC secret for session tokens (SHOP_AUTH_JWT_SECRET)" flag:"jwt-secret"`
	TokenTTL   time.Duration `default:"720h" usage:"Session token lifetime"`
	BcryptCost int           `default:"10" usage:"bcrypt cost for password hashes"`
}

// StripeConfig configures the payment processor.
type StripeConfig struct {
	SecretKey string        `usage:"Stripe secret key (SHOP_STRIPE_SECRET_KEY)"`
	Currency  string        `default:"usd" usage:"ISO currency code for payment intents"`
	Timeout   time.Duration `default:"10s" usage:"Timeout for each payment processor call"`
	BaseURL   string        `usage:"Override the Stripe API endpoint, e.g. stripe-mock"`
}

// SMTPConfig configures the email notification sink. An empty Host
// disables email delivery.
type SMTPConfig struct {
	Host     string `usage:"SMTP server host"`
	Port     int    `default:"587" usage:"SMTP server port"`
	Username string `usage:"SMTP username"`
	Password string `usage:"SMTP password"`
	From     string `default:"LaScentlo <no-reply@lascentlo.com>" usage:"Sender address"`
}

// KafkaConfig configures the event publishing sink. Empty Brokers disables
// it.
type KafkaConfig struct {
	Brokers string `usage:"Comma-separated Kafka broker addresses"`
	Topic   string `default:"lascentlo.events" usage:"Topic lifecycle events are published to"`
}

// OutboxConfig controls notification delivery.
type OutboxConfig struct {
	Interval     time.Duration `default:"2s" usage:"How often the relay polls the outbox"`
	BatchSize    int           `default:"50" usage:"Events claimed per poll"`
	MaxAttempts  int           `default:"10" usage:"Delivery attempts before an event is parked"`
	Lease        time.Duration `default:"1m" usage:"How long a claimed event is hidden from other relays"`
	Embedded     bool          `default:"true" usage:"Run the relay inside the API server"`
	BacklogLimit int64         `default:"1000" usage:"Pending events above which readiness fails"`
}

// RateLimitConfig controls a per-client token bucket limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// AuthLimitConfig is the stricter per-client limiter applied to the
// credential endpoints under /api/auth.
type AuthLimitConfig struct {
	Max    int           `default:"10" usage:"Max auth requests per window"`
	Window time.Duration `default:"1m" usage:"Auth rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads .env, then configuration from environment variables and
// YAML config files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrap(err, "load .env")
	}

	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "SHOP",
		Files:     []string{"config.yaml", "/etc/lascentlo/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided variables with standard names
// (DATABASE_URL, PORT, JWT_SECRET, STRIPE_SECRET_KEY, CLIENT_URL) onto the
// SHOP_ ones.
func (c *Config) applyPlatformDefaults() {
	fallback := func(dst *string, env string) {
		if *dst == "" {
			*dst = os.Getenv(env)
		}
	}
	fallback(&c.DatabaseURL, "DATABASE_URL")
	fallback(&c.Auth.JWTSecret, "JWT_SECRET")
	fallback(&c.Stripe.SecretKey, "STRIPE_SECRET_KEY")
	fallback(&c.ClientURL, "CLIENT_URL")
	if c.ClientURL == "" {
		c.ClientURL = defaultClientURL
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
	c.ClientURL = strings.TrimRight(c.ClientURL, "/")
}

// validate checks what every process needs.
func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set SHOP_DATABASE_URL or DATABASE_URL")
	}
	return nil
}

// validateAPI checks the secrets only the API server uses.
func (c *Config) validateAPI() error {
	switch {
	case c.Auth.JWTSecret == "":
		return errors.New("jwt secret is required: set SHOP_AUTH_JWT_SECRET or JWT_SECRET")
	case c.Stripe.SecretKey == "":
		return errors.New("stripe secret key is required: set SHOP_STRIPE_SECRET_KEY or STRIPE_SECRET_KEY")
	}
	return nil
}
