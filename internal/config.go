package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the process configuration, loaded from environment variables
// (optionally via a .env file for local development).
type Config struct {
	Env         string `mapstructure:"ENV" validate:"required,oneof=dev test prod"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	Port        uint16 `mapstructure:"PORT" validate:"required"`
	DatabaseURL string `mapstructure:"DATABASE_URL" validate:"required"`

	// WebhookToken authenticates inbound Kill Bill push notifications.
	WebhookToken string `mapstructure:"WEBHOOK_TOKEN" validate:"required"`

	Killbill KillbillConfig `mapstructure:",squash"`
	NATS     NATSConfig     `mapstructure:",squash"`
	FX       FXConfig       `mapstructure:",squash"`
}

// KillbillConfig is the operator-level Kill Bill connection. Merchant
// accounts may override any of these per merchant.
type KillbillConfig struct {
	URL       string        `mapstructure:"KILLBILL_URL" validate:"required,url"`
	Username  string        `mapstructure:"KILLBILL_USERNAME" validate:"required"`
	Password  string        `mapstructure:"KILLBILL_PASSWORD" validate:"required"`
	APIKey    string        `mapstructure:"KILLBILL_API_KEY" validate:"required"`
	APISecret string        `mapstructure:"KILLBILL_API_SECRET" validate:"required"`
	CreatedBy string        `mapstructure:"KILLBILL_CREATED_BY"`
	Timeout   time.Duration `mapstructure:"KILLBILL_TIMEOUT"`
}

// NATSConfig is the JetStream connection for webhook event fan-out and
// dunning timers.
type NATSConfig struct {
	URL    string `mapstructure:"NATS_URL" validate:"required"`
	Stream string `mapstructure:"NATS_STREAM"`
}

// FXConfig holds the static FX rate table for gross-mode pricing, as
// comma-separated "from:to=rate" entries, e.g. "usd:eur=0.92,usd:jpy=150".
type FXConfig struct {
	Rates string `mapstructure:"FX_RATES"`
}

// ParseFXRates expands the FX_RATES entries into the rate-source map.
// Malformed entries are skipped rather than failing startup.
func (c FXConfig) ParseFXRates() map[string]float64 {
	rates := make(map[string]float64)
	for _, entry := range strings.Split(c.Rates, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		pair, rate, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		from, to, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		var value float64
		if _, err := fmt.Sscanf(rate, "%g", &value); err != nil || value <= 0 {
			continue
		}
		rates[strings.ToLower(from)+"/"+strings.ToLower(to)] = value
	}
	return rates
}

// configKeys lists every environment variable viper should bind. Viper only
// reads variables it has been told about when unmarshalling from env.
var configKeys = []string{
	"ENV", "LOG_LEVEL", "PORT", "DATABASE_URL", "WEBHOOK_TOKEN",
	"KILLBILL_URL", "KILLBILL_USERNAME", "KILLBILL_PASSWORD",
	"KILLBILL_API_KEY", "KILLBILL_API_SECRET", "KILLBILL_CREATED_BY",
	"KILLBILL_TIMEOUT",
	"NATS_URL", "NATS_STREAM",
	"FX_RATES",
}

// NewConfig loads and validates process configuration.
func NewConfig() (*Config, error) {
	// Try to load .env from current directory, then walk up to find it (max 2 levels)
	if err := godotenv.Load(); err != nil {
		dir, _ := os.Getwd()
		for i := 0; i < 2; i++ {
			dir = filepath.Join(dir, "..")
			if err := godotenv.Load(filepath.Join(dir, ".env")); err == nil {
				break
			}
		}
	}

	v := viper.New()
	v.AutomaticEnv()
	for _, key := range configKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	v.SetDefault("ENV", "dev")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PORT", 8080)
	v.SetDefault("KILLBILL_CREATED_BY", "crowdchurn-billing")
	v.SetDefault("KILLBILL_TIMEOUT", "30s")
	v.SetDefault("NATS_STREAM", "BILLING")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}
