package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Config captures runtime configuration values used by the backend service.
type Config struct {
	// ServerAddress is the host:port pair the HTTP server listens on. Defaults to ":18111".
	ServerAddress string

	// DatabaseURL is the Postgres DSN used by database/sql.
	DatabaseURL string

	// StripeSecretKey authenticates outbound Stripe API calls (checkout sessions).
	StripeSecretKey string

	// StripeWebhookSecret is the shared secret used to verify webhook signatures.
	// When empty, the webhook endpoint rejects every delivery.
	StripeWebhookSecret string

	// SignatureTolerance bounds how old a signed webhook timestamp may be
	// before the delivery is rejected as a possible replay. Defaults to 5 minutes.
	SignatureTolerance time.Duration
}

const (
	defaultServerAddress      = ":18111"
	defaultSignatureTolerance = 5 * time.Minute

	envServerAddress       = "BACKEND_ADDR"
	envDatabaseURL         = "DATABASE_URL"
	envStripeSecretKey     = "STRIPE_SECRET_KEY"
	envStripeWebhookSecret = "STRIPE_WEBHOOK_SECRET"
	envSignatureTolerance  = "STRIPE_SIGNATURE_TOLERANCE_SECONDS"
)

// Load reads configuration from environment variables, applies defaults, and returns
// a Config structure. Required values return an error when missing.
func Load() (Config, error) {
	cfg := Config{
		ServerAddress:       firstNonEmpty(os.Getenv(envServerAddress), defaultServerAddress),
		DatabaseURL:         os.Getenv(envDatabaseURL),
		StripeSecretKey:     os.Getenv(envStripeSecretKey),
		StripeWebhookSecret: os.Getenv(envStripeWebhookSecret),
		SignatureTolerance:  defaultSignatureTolerance,
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("%s is required", envDatabaseURL)
	}

	dsn, err := normalizeDatabaseURL(cfg.DatabaseURL)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", envDatabaseURL, err)
	}
	cfg.DatabaseURL = dsn

	if value := os.Getenv(envSignatureTolerance); value != "" {
		seconds, err := strconv.Atoi(value)
		if err != nil || seconds <= 0 {
			return Config{}, fmt.Errorf("invalid %s: %q", envSignatureTolerance, value)
		}
		cfg.SignatureTolerance = time.Duration(seconds) * time.Second
	}

	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// normalizeDatabaseURL validates the DSN parses and defaults sslmode=require
// when the caller did not specify one.
func normalizeDatabaseURL(raw string) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", err
	}

	if parsed.Scheme != "postgres" && parsed.Scheme != "postgresql" {
		return "", fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("missing host")
	}

	q := parsed.Query()
	if q.Get("sslmode") == "" {
		q.Set("sslmode", "require")
	}
	parsed.RawQuery = q.Encode()

	return parsed.String(), nil
}
