package killbill

import (
	"context"
)

// Gateway defines the operations this service needs from the Kill Bill
// server. It is a thin transport boundary: every method is one blocking
// network round-trip, cancellable through its context, with retries left to
// the job layer.
//
// Creation operations are idempotent under retry: they look up by
// deterministic external key before creating.
type Gateway interface {
	// GetAccountByExternalKey looks up an account. Returns ErrNotFound when
	// the key has never been registered.
	GetAccountByExternalKey(ctx context.Context, externalKey string) (*Account, error)

	// GetAccountByID looks up an account by Kill Bill id, the form inbound
	// notifications identify accounts by. Returns ErrNotFound when absent.
	GetAccountByID(ctx context.Context, accountID string) (*Account, error)

	// CreateAccount registers a new billing account. The account currency is
	// fixed at creation and never changes afterwards.
	CreateAccount(ctx context.Context, account Account) (*Account, error)

	// GetOrCreateAccount resolves the account for the external key, creating
	// it with the given template on ErrNotFound. Never creates duplicates
	// for the same key.
	GetOrCreateAccount(ctx context.Context, account Account) (string, error)

	// CreateSubscription starts a subscription on the given plan.
	CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*Subscription, error)

	// GetSubscriptionByExternalKey looks up a subscription by its external
	// correlation key. Returns ErrNotFound when absent.
	GetSubscriptionByExternalKey(ctx context.Context, externalKey string) (*Subscription, error)

	// GetSubscriptionByID looks up a subscription by Kill Bill id.
	GetSubscriptionByID(ctx context.Context, subscriptionID string) (*Subscription, error)

	// CancelSubscription ends the subscription under the given policy.
	CancelSubscription(ctx context.Context, externalKey string, policy CancelPolicy) (*Subscription, error)

	// PauseSubscription blocks entitlement and billing on the subscription's
	// account. Account-level scope: all subscriptions under the account are
	// paused together.
	PauseSubscription(ctx context.Context, externalKey string) (*Subscription, error)

	// ResumeSubscription lifts the account-level blocks.
	ResumeSubscription(ctx context.Context, externalKey string) (*Subscription, error)

	// ChangePlan moves the subscription to a new plan.
	ChangePlan(ctx context.Context, params ChangePlanParams) (*Subscription, error)

	// GetInvoice fetches an invoice, optionally with line items.
	GetInvoice(ctx context.Context, invoiceID string, withItems bool) (*Invoice, error)

	// GetAccountInvoices lists an account's invoices with line items.
	GetAccountInvoices(ctx context.Context, accountID string) ([]Invoice, error)

	// TriggerInvoice generates an invoice for the account at target date.
	TriggerInvoice(ctx context.Context, accountID string, targetDate string) (*Invoice, error)

	// PayInvoice attempts payment of an invoice's outstanding balance with
	// an optional explicit payment method.
	PayInvoice(ctx context.Context, invoiceID string, paymentMethodID string) (*Payment, error)

	// VoidInvoice voids an unpaid invoice.
	VoidInvoice(ctx context.Context, invoiceID string) error

	// AddCredit applies an account credit against an invoice.
	AddCredit(ctx context.Context, credit Credit) (*Credit, error)

	// GetInvoicePayments lists payments attempted against an invoice.
	GetInvoicePayments(ctx context.Context, invoiceID string) ([]Payment, error)

	// AddPaymentMethod registers a payment method on an account.
	AddPaymentMethod(ctx context.Context, method PaymentMethod) (*PaymentMethod, error)

	// UploadCatalog uploads a tenant catalog XML document. Stable plan names
	// make repeated uploads idempotent upserts.
	UploadCatalog(ctx context.Context, catalogXML []byte) error

	// GetCatalogPlans downloads the current tenant catalog and extracts its
	// plans. Returns an empty slice when no catalog has been uploaded.
	GetCatalogPlans(ctx context.Context) ([]CatalogPlan, error)
}

// CreateSubscriptionParams contains parameters for creating a subscription.
type CreateSubscriptionParams struct {
	// AccountID is the Kill Bill account to attach the subscription to.
	AccountID string

	// PlanName is the catalog plan, e.g. "premium_newsletter-monthly".
	PlanName string

	// ExternalKey is the internal subscription's correlation key.
	ExternalKey string
}

// ChangePlanParams contains parameters for a plan change.
type ChangePlanParams struct {
	// ExternalKey identifies the subscription to move.
	ExternalKey string

	// NewPlanName is the target plan, parsed into product and billing period
	// for the change request.
	NewPlanName string

	// Immediate selects the IMMEDIATE change policy; otherwise END_OF_TERM.
	Immediate bool
}
