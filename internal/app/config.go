package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (SHOP_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (SHOP_DATABASE_URL or DATABASE_URL); empty runs the in-memory store" flag:"database-url"`
	Currency    string `default:"USD" usage:"Settlement currency for all checkouts"`
	TokenPepper string `usage:"HMAC pepper for shopper token hashing (SHOP_TOKEN_PEPPER)" flag:"token-pepper"`
	Gateway     GatewayConfig
	Webhook     WebhookConfig
	Checkout    CheckoutConfig
	Notify      NotifyConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// GatewayConfig points at the external payment provider.
type GatewayConfig struct {
	BaseURL string        `usage:"Payment gateway base URL" flag:"gateway-base-url"`
	APIKey  string        `usage:"Payment gateway API key (SHOP_GATEWAY_APIKEY)" flag:"gateway-api-key"`
	Timeout time.Duration `default:"5s" usage:"Per-call gateway timeout"`
}

// WebhookConfig controls inbound gateway event verification.
type WebhookConfig struct {
	Secret string `usage:"Shared secret for webhook HMAC signatures (SHOP_WEBHOOK_SECRET)" flag:"webhook-secret"`
}

// CheckoutConfig tunes the pipeline's timing.
type CheckoutConfig struct {
	HoldWindow       time.Duration `default:"15m" usage:"How long reserved stock waits for payment" flag:"hold-window"`
	ExpiryInterval   time.Duration `default:"30s" usage:"Expiry sweep interval" flag:"expiry-interval"`
	RecoveryInterval time.Duration `default:"1m"  usage:"Paid-attempt recovery sweep interval" flag:"recovery-interval"`
}

// NotifyConfig controls order confirmation delivery.
type NotifyConfig struct {
	SMTPAddr     string        `usage:"SMTP relay address (host:port); empty disables email" flag:"smtp-addr"`
	SMTPUsername string        `usage:"SMTP auth username" flag:"smtp-username"`
	SMTPPassword string        `usage:"SMTP auth password (SHOP_NOTIFY_SMTPPASSWORD)" flag:"smtp-password"`
	From         string        `default:"orders@localhost" usage:"Confirmation sender address"`
	QueueSize    int           `default:"256" usage:"Confirmation queue capacity" flag:"notify-queue"`
	MaxAttempts  int           `default:"5"   usage:"Delivery attempts per confirmation" flag:"notify-attempts"`
	RetryBase    time.Duration `default:"2s"  usage:"First retry delay, doubled per attempt" flag:"notify-retry-base"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
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

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "SHOP",
		Files:     []string{"config.yaml", "/etc/storefront/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.TokenPepper == "" {
		return nil, errors.New("token pepper is required: set SHOP_TOKEN_PEPPER")
	}
	if cfg.Webhook.Secret == "" {
		return nil, errors.New("webhook secret is required: set SHOP_WEBHOOK_SECRET")
	}
	if cfg.Gateway.BaseURL == "" {
		return nil, errors.New("gateway base URL is required: set SHOP_GATEWAY_BASEURL")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's SHOP_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
