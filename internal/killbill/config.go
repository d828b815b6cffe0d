package killbill

import (
	"time"

	"github.com/crowdchurn/billing/internal/domain"
)

// ClientConfig contains the connection details for one Kill Bill tenant.
//
// A config value is resolved per merchant account and passed into the client
// at construction. There is no process-wide client state, so gateways for
// different merchant accounts can be used concurrently.
type ClientConfig struct {
	// BaseURL is the Kill Bill instance URL (e.g. https://killbill.example.com).
	// Required: a missing URL is a configuration error, never retried.
	BaseURL string

	// Username and Password authenticate against the Kill Bill server.
	Username string
	Password string

	// APIKey and APISecret select the Kill Bill tenant.
	APIKey    string
	APISecret string

	// CreatedBy, Reason and Comment form the audit triple Kill Bill requires
	// on every mutation.
	CreatedBy string
	Reason    string
	Comment   string

	// Timeout is the per-request HTTP timeout. Default: 30s.
	Timeout time.Duration
}

// Validate checks that required configuration is present.
func (c *ClientConfig) Validate() error {
	if c.BaseURL == "" {
		return domain.Config("killbill.config", "Kill Bill instance URL not configured")
	}
	return nil
}

// ResolveClientConfig merges a merchant account's Kill Bill credentials with
// the operator-level fallback config. Any credential the merchant account
// leaves empty comes from the fallback (which is itself loaded from the
// environment).
func ResolveClientConfig(account *domain.MerchantAccount, fallback ClientConfig) ClientConfig {
	cfg := fallback
	if account == nil {
		return cfg
	}
	if account.KillbillInstanceURL != "" {
		cfg.BaseURL = account.KillbillInstanceURL
	}
	if account.KillbillUsername != "" {
		cfg.Username = account.KillbillUsername
	}
	if account.KillbillPassword != "" {
		cfg.Password = account.KillbillPassword
	}
	if account.KillbillAPIKey != "" {
		cfg.APIKey = account.KillbillAPIKey
	}
	if account.KillbillAPISecret != "" {
		cfg.APISecret = account.KillbillAPISecret
	}
	return cfg
}
