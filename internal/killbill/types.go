package killbill

import (
	"time"
)

// Subscription lifecycle states reported by (or derived from) Kill Bill.
const (
	SubscriptionStateActive    = "ACTIVE"
	SubscriptionStateCancelled = "CANCELLED"
	SubscriptionStateBlocked   = "BLOCKED"
	SubscriptionStatePending   = "PENDING"
)

// Invoice statuses.
const (
	InvoiceStatusDraft     = "DRAFT"
	InvoiceStatusCommitted = "COMMITTED"
	InvoiceStatusVoid      = "VOID"
)

// Payment transaction statuses.
const (
	PaymentStatusSuccess = "SUCCESS"
	PaymentStatusPending = "PENDING"
	PaymentStatusFailed  = "PAYMENT_FAILURE"
)

// Cancellation policies.
type CancelPolicy string

const (
	CancelPolicyImmediate CancelPolicy = "IMMEDIATE"
	CancelPolicyEndOfTerm CancelPolicy = "END_OF_TERM"
)

// Account is a Kill Bill billing account.
type Account struct {
	AccountID   string `json:"accountId,omitempty"`
	ExternalKey string `json:"externalKey"`
	Name        string `json:"name,omitempty"`
	Email       string `json:"email,omitempty"`
	Currency    string `json:"currency,omitempty"`
	TimeZone    string `json:"timeZone,omitempty"`
}

// Subscription is a Kill Bill subscription (entitlement).
type Subscription struct {
	SubscriptionID     string `json:"subscriptionId,omitempty"`
	AccountID          string `json:"accountId"`
	BundleID           string `json:"bundleId,omitempty"`
	ExternalKey        string `json:"externalKey,omitempty"`
	StartDate          string `json:"startDate,omitempty"`
	ChargedThroughDate string `json:"chargedThroughDate,omitempty"`
	CancelledDate      string `json:"cancelledDate,omitempty"`
	PlanName           string `json:"planName,omitempty"`
	ProductName        string `json:"productName,omitempty"`
	BillingPeriod      string `json:"billingPeriod,omitempty"`
	PhaseType          string `json:"phaseType,omitempty"`
	PriceList          string `json:"priceList,omitempty"`
	State              string `json:"state,omitempty"`
}

// EffectiveState derives the state this service acts on. A cancelled date
// always wins, a future start date means PENDING, and an absent reported
// state defaults to ACTIVE.
func (s *Subscription) EffectiveState(now time.Time) string {
	if s.CancelledDate != "" {
		return SubscriptionStateCancelled
	}
	if start, ok := parseKillbillTime(s.StartDate); ok && start.After(now) {
		return SubscriptionStatePending
	}
	if s.State != "" {
		return s.State
	}
	return SubscriptionStateActive
}

// NextBillingDate returns the charged-through date, when known.
func (s *Subscription) NextBillingDate() (time.Time, bool) {
	return parseKillbillTime(s.ChargedThroughDate)
}

// Invoice is a Kill Bill invoice with optional line items.
type Invoice struct {
	InvoiceID     string        `json:"invoiceId"`
	AccountID     string        `json:"accountId"`
	InvoiceNumber string        `json:"invoiceNumber,omitempty"`
	InvoiceDate   string        `json:"invoiceDate,omitempty"`
	TargetDate    string        `json:"targetDate,omitempty"`
	Currency      string        `json:"currency,omitempty"`
	Status        string        `json:"status,omitempty"`
	Amount        float64       `json:"amount"`
	Balance       float64       `json:"balance"`
	CreditAdj     float64       `json:"creditAdj,omitempty"`
	RefundAdj     float64       `json:"refundAdj,omitempty"`
	Items         []InvoiceItem `json:"items,omitempty"`
}

// AmountCents converts the invoice amount to cents.
func (i *Invoice) AmountCents() int64 {
	return toCents(i.Amount)
}

// BalanceCents converts the outstanding balance to cents.
func (i *Invoice) BalanceCents() int64 {
	return toCents(i.Balance)
}

// Paid reports whether the invoice is settled: committed with no balance.
func (i *Invoice) Paid() bool {
	return i.BalanceCents() <= 0 && i.Status == InvoiceStatusCommitted
}

// Committed reports whether the invoice has been finalized.
func (i *Invoice) Committed() bool {
	return i.Status == InvoiceStatusCommitted
}

// Draft reports whether the invoice is still a draft.
func (i *Invoice) Draft() bool {
	return i.Status == InvoiceStatusDraft
}

// Voided reports whether the invoice has been voided.
func (i *Invoice) Voided() bool {
	return i.Status == InvoiceStatusVoid
}

// SubscriptionItem returns the first line item carrying a subscription id.
// Recurring invoices always have one; account-level adjustments may not.
func (i *Invoice) SubscriptionItem() (InvoiceItem, bool) {
	for _, item := range i.Items {
		if item.SubscriptionID != "" {
			return item, true
		}
	}
	return InvoiceItem{}, false
}

// InvoiceItem is one line on an invoice.
type InvoiceItem struct {
	InvoiceItemID  string  `json:"invoiceItemId"`
	InvoiceID      string  `json:"invoiceId"`
	AccountID      string  `json:"accountId"`
	SubscriptionID string  `json:"subscriptionId,omitempty"`
	PlanName       string  `json:"planName,omitempty"`
	PhaseName      string  `json:"phaseName,omitempty"`
	ItemType       string  `json:"itemType,omitempty"`
	Description    string  `json:"description,omitempty"`
	StartDate      string  `json:"startDate,omitempty"`
	EndDate        string  `json:"endDate,omitempty"`
	Amount         float64 `json:"amount"`
	Currency       string  `json:"currency,omitempty"`
}

// AmountCents converts the item amount to cents.
func (i *InvoiceItem) AmountCents() int64 {
	return toCents(i.Amount)
}

// Payment is a Kill Bill payment with its transaction history.
type Payment struct {
	PaymentID          string               `json:"paymentId"`
	AccountID          string               `json:"accountId"`
	PaymentNumber      string               `json:"paymentNumber,omitempty"`
	PaymentExternalKey string               `json:"paymentExternalKey,omitempty"`
	AuthAmount         float64              `json:"authAmount,omitempty"`
	CapturedAmount     float64              `json:"capturedAmount,omitempty"`
	PurchasedAmount    float64              `json:"purchasedAmount"`
	RefundedAmount     float64              `json:"refundedAmount"`
	CreditedAmount     float64              `json:"creditedAmount,omitempty"`
	Currency           string               `json:"currency,omitempty"`
	PaymentMethodID    string               `json:"paymentMethodId,omitempty"`
	Transactions       []PaymentTransaction `json:"transactions,omitempty"`
}

// PaymentTransaction is one attempt within a payment.
type PaymentTransaction struct {
	TransactionID   string  `json:"transactionId"`
	TransactionType string  `json:"transactionType,omitempty"`
	Status          string  `json:"status,omitempty"`
	Amount          float64 `json:"amount"`
	Currency        string  `json:"currency,omitempty"`
	EffectiveDate   string  `json:"effectiveDate,omitempty"`
}

// AmountCents converts the purchased amount to cents.
func (p *Payment) AmountCents() int64 {
	return toCents(p.PurchasedAmount)
}

// RefundedAmountCents converts the refunded amount to cents.
func (p *Payment) RefundedAmountCents() int64 {
	return toCents(p.RefundedAmount)
}

// Status derives the payment status from the last transaction. A payment
// with no transactions is treated as failed.
func (p *Payment) Status() string {
	if len(p.Transactions) == 0 {
		return PaymentStatusFailed
	}
	last := p.Transactions[len(p.Transactions)-1]
	if last.Status == "" {
		return PaymentStatusPending
	}
	return last.Status
}

// Successful reports whether the last transaction succeeded.
func (p *Payment) Successful() bool {
	return p.Status() == PaymentStatusSuccess
}

// FullyRefunded reports whether refunds cover the purchased amount.
func (p *Payment) FullyRefunded() bool {
	return p.RefundedAmountCents() >= p.AmountCents()
}

// TransactionID returns the last transaction's id, if any.
func (p *Payment) TransactionID() string {
	if len(p.Transactions) == 0 {
		return ""
	}
	return p.Transactions[len(p.Transactions)-1].TransactionID
}

// BlockingState toggles entitlement/billing blocks on an account. Pause and
// resume are implemented with account-level blocking states, which blocks
// every subscription under the account.
type BlockingState struct {
	StateName          string `json:"stateName"`
	Service            string `json:"service"`
	IsBlockChange      bool   `json:"isBlockChange"`
	IsBlockEntitlement bool   `json:"isBlockEntitlement"`
	IsBlockBilling     bool   `json:"isBlockBilling"`
}

// BlockingService is the service name under which this application writes
// blocking states.
const BlockingService = "crowdchurn-subscription"

// PauseBlockingState blocks entitlement and billing.
func PauseBlockingState() BlockingState {
	return BlockingState{
		StateName:          "PAUSED",
		Service:            BlockingService,
		IsBlockEntitlement: true,
		IsBlockBilling:     true,
	}
}

// ResumeBlockingState lifts all blocks.
func ResumeBlockingState() BlockingState {
	return BlockingState{
		StateName: "ACTIVE",
		Service:   BlockingService,
	}
}

// PaymentMethod registers a payment method plugin on an account.
type PaymentMethod struct {
	PaymentMethodID string            `json:"paymentMethodId,omitempty"`
	AccountID       string            `json:"accountId"`
	PluginName      string            `json:"pluginName"`
	IsDefault       bool              `json:"isDefault"`
	PluginInfo      map[string]string `json:"pluginInfo,omitempty"`
}

// ExternalPaymentPlugin is Kill Bill's built-in out-of-band payment plugin.
const ExternalPaymentPlugin = "__EXTERNAL_PAYMENT__"

// Credit applies an account credit against an invoice.
type Credit struct {
	CreditID     string  `json:"creditId,omitempty"`
	AccountID    string  `json:"accountId"`
	InvoiceID    string  `json:"invoiceId,omitempty"`
	CreditAmount float64 `json:"creditAmount"`
	Description  string  `json:"description,omitempty"`
}

// CatalogPlan is a plan extracted from a downloaded tenant catalog version.
type CatalogPlan struct {
	Name          string `json:"name"`
	Product       string `json:"product"`
	BillingPeriod string `json:"billingPeriod"`
}

func toCents(amount float64) int64 {
	if amount >= 0 {
		return int64(amount*100 + 0.5)
	}
	return int64(amount*100 - 0.5)
}

// killbillTimeLayouts covers the formats the server emits for dates: bare
// dates on invoices, full timestamps on events.
var killbillTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02",
}

func parseKillbillTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range killbillTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseTime parses a Kill Bill date or timestamp string.
func ParseTime(s string) (time.Time, bool) {
	return parseKillbillTime(s)
}
