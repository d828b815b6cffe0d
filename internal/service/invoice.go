package service

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/crowdchurn/billing/internal/domain"
	"github.com/crowdchurn/billing/internal/killbill"
)

// ChargeProcessorKillbill tags purchases charged through Kill Bill.
const ChargeProcessorKillbill = "killbill"

// InvoiceProcessor turns Kill Bill invoice and payment events into purchase
// records and dunning actions. Purchases are keyed by invoice id, so each
// billing cycle settles exactly one purchase no matter how many times its
// events are delivered.
type InvoiceProcessor struct {
	gateways      GatewayProvider
	subscriptions domain.SubscriptionStore
	purchases     domain.PurchaseStore
	products      domain.ProductStore
	notifier      domain.Notifier
	dunning       domain.DunningScheduler
	logger        zerolog.Logger
	now           func() time.Time
}

// NewInvoiceProcessor creates an invoice processor.
func NewInvoiceProcessor(
	gateways GatewayProvider,
	subscriptions domain.SubscriptionStore,
	purchases domain.PurchaseStore,
	products domain.ProductStore,
	notifier domain.Notifier,
	dunning domain.DunningScheduler,
	logger zerolog.Logger,
) *InvoiceProcessor {
	return &InvoiceProcessor{
		gateways:      gateways,
		subscriptions: subscriptions,
		purchases:     purchases,
		products:      products,
		notifier:      notifier,
		dunning:       dunning,
		logger:        logger.With().Str("component", "invoice").Logger(),
		now:           time.Now,
	}
}

// WithClock fixes the processor's clock. Used by tests.
func (p *InvoiceProcessor) WithClock(now func() time.Time) *InvoiceProcessor {
	p.now = now
	return p
}

// resolveSubscription finds the internal subscription an invoice belongs to,
// via the subscription id on the invoice's line items.
func (p *InvoiceProcessor) resolveSubscription(ctx context.Context, gateway killbill.Gateway, invoice *killbill.Invoice) (*domain.Subscription, error) {
	item, ok := invoice.SubscriptionItem()
	if !ok {
		return nil, domain.NotFound("invoice.resolve", "subscription line item", invoice.InvoiceID)
	}
	remote, err := gateway.GetSubscriptionByID(ctx, item.SubscriptionID)
	if err != nil {
		return nil, err
	}
	return p.subscriptions.GetByExternalID(ctx, remote.ExternalKey)
}

// ProcessInvoiceNotification handles INVOICE_CREATION / INVOICE_NOTIFICATION
// and INVOICE_PAYMENT_SUCCESS. The invoice itself is the source of truth: a
// paid invoice settles its purchase regardless of which event type arrived
// first, and re-delivery converges to the same state.
func (p *InvoiceProcessor) ProcessInvoiceNotification(ctx context.Context, event *domain.BillingEvent) error {
	sub, err := p.subscriptionForEvent(ctx, event)
	if err != nil {
		return err
	}
	gateway, err := p.gateways.GatewayForProduct(ctx, sub.ProductID)
	if err != nil {
		return err
	}

	invoice, err := gateway.GetInvoice(ctx, event.ObjectID, true)
	if err != nil {
		return err
	}
	if invoice.Draft() || invoice.Voided() {
		p.logger.Debug().Str("invoice_id", invoice.InvoiceID).Str("status", invoice.Status).Msg("skipping non-final invoice")
		return nil
	}
	if invoice.AmountCents() == 0 {
		// Trial-phase invoices bill zero; nothing to settle.
		return nil
	}

	purchase, err := p.purchases.FindByTransactionID(ctx, sub.ID, invoice.InvoiceID)
	if domain.IsCode(err, domain.ENOTFOUND) {
		purchase = &domain.Purchase{
			SubscriptionID:         sub.ID,
			ProductID:              sub.ProductID,
			ProcessorTransactionID: invoice.InvoiceID,
			ChargeProcessorID:      ChargeProcessorKillbill,
			PriceCents:             invoice.AmountCents(),
			Currency:               invoice.Currency,
			State:                  domain.PurchaseStateInProgress,
		}
		if err := p.purchases.Create(ctx, purchase); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if !invoice.Paid() {
		// A committed invoice with an outstanding balance means the charge
		// did not go through; nudge the subscriber. Best effort only.
		if invoice.Committed() && sub.Alive() {
			if err := p.notifier.SubscriptionCardDeclined(ctx, sub.ID); err != nil {
				p.logger.Error().Err(err).Str("subscription_id", sub.ID.String()).Msg("failed to enqueue decline notification")
			}
		}
		return nil
	}

	settled, err := p.purchases.MarkSuccessful(ctx, purchase.ID, p.now())
	if err != nil {
		return err
	}
	if !settled {
		p.logger.Debug().Str("invoice_id", invoice.InvoiceID).Msg("purchase already settled")
		return nil
	}

	p.logger.Info().
		Str("subscription_id", sub.ID.String()).
		Str("invoice_id", invoice.InvoiceID).
		Int64("amount_cents", invoice.AmountCents()).
		Str("currency", invoice.Currency).
		Msg("purchase settled")

	// A successful charge on a failed subscription means the payment issue
	// is resolved.
	if sub.FailedAt != nil {
		applied, err := p.subscriptions.Resubscribe(ctx, sub.ID)
		if err != nil {
			return err
		}
		if applied {
			if err := p.notifier.SubscriptionRestarted(ctx, sub.ID, domain.ResubscriptionReasonPaymentIssueResolved); err != nil {
				p.logger.Error().Err(err).Str("subscription_id", sub.ID.String()).Msg("failed to enqueue restart notification")
			}
		}
	}
	return nil
}

// HandleInvoicePaymentFailed handles INVOICE_PAYMENT_FAILED: notify the
// subscriber and start the dunning timers. The subscriber keeps their
// entitlement for the full dunning window.
func (p *InvoiceProcessor) HandleInvoicePaymentFailed(ctx context.Context, event *domain.BillingEvent) error {
	sub, err := p.subscriptionForEvent(ctx, event)
	if err != nil {
		return err
	}
	if !sub.Alive() {
		p.logger.Debug().Str("subscription_id", sub.ID.String()).Msg("payment failure for dead subscription ignored")
		return nil
	}

	if err := p.notifier.SubscriptionCardDeclined(ctx, sub.ID); err != nil {
		return err
	}

	reminderIn := domain.AllowedTimeBeforeFailAndUnsubscribe - domain.ChargeDeclinedReminderLeadTime
	if err := p.dunning.ScheduleChargeDeclinedReminder(ctx, sub.ID, reminderIn); err != nil {
		return err
	}
	if err := p.dunning.ScheduleUnsubscribeAndFail(ctx, sub.ID, domain.AllowedTimeBeforeFailAndUnsubscribe); err != nil {
		return err
	}

	p.logger.Info().
		Str("subscription_id", sub.ID.String()).
		Str("invoice_id", event.ObjectID).
		Msg("payment declined, dunning started")
	return nil
}

// subscriptionForEvent resolves the subscription for an invoice event. The
// notification identifies its account, and the account's external key embeds
// the owning user's external id; the user's alive subscription is the one
// being billed. Fetching the invoice line items is the last resort for
// events that carry nothing but the invoice id.
func (p *InvoiceProcessor) subscriptionForEvent(ctx context.Context, event *domain.BillingEvent) (*domain.Subscription, error) {
	if event.ExternalKey != "" {
		if sub, err := p.subscriptions.GetByExternalID(ctx, event.ExternalKey); err == nil {
			return sub, nil
		}
		// The event's external key was the account's, not the
		// subscription's.
		if userID, ok := domain.UserExternalIDFromAccountKey(event.ExternalKey); ok {
			if sub, err := p.subscriptions.FindAliveByUserExternalID(ctx, userID); err == nil {
				return sub, nil
			}
		}
	}

	if sub, err := p.subscriptions.FindByProcessorTransactionID(ctx, event.ObjectID); err == nil {
		return sub, nil
	}

	gateway, err := p.gateways.GatewayForProduct(ctx, uuid.Nil)
	if err != nil {
		return nil, err
	}

	if event.AccountID != "" {
		account, err := gateway.GetAccountByID(ctx, event.AccountID)
		if err != nil && !killbill.IsNotFound(err) {
			return nil, err
		}
		if err == nil {
			if userID, ok := domain.UserExternalIDFromAccountKey(account.ExternalKey); ok {
				if sub, err := p.subscriptions.FindAliveByUserExternalID(ctx, userID); err == nil {
					return sub, nil
				}
			}
		}
	}

	invoice, err := gateway.GetInvoice(ctx, event.ObjectID, true)
	if err != nil {
		return nil, err
	}
	return p.resolveSubscription(ctx, gateway, invoice)
}

// RetryInvoicePayment retries payment of a specific invoice. A settled
// invoice is a no-op, not an error, so retry jobs are idempotent.
func (p *InvoiceProcessor) RetryInvoicePayment(ctx context.Context, subscriptionID uuid.UUID, invoiceID string) error {
	sub, err := p.subscriptions.GetByID(ctx, subscriptionID)
	if err != nil {
		return err
	}
	gateway, err := p.gateways.GatewayForProduct(ctx, sub.ProductID)
	if err != nil {
		return err
	}

	invoice, err := gateway.GetInvoice(ctx, invoiceID, false)
	if err != nil {
		return err
	}
	if invoice.BalanceCents() <= 0 {
		p.logger.Debug().Str("invoice_id", invoiceID).Msg("invoice already settled, retry skipped")
		return nil
	}

	payment, err := gateway.PayInvoice(ctx, invoiceID, "")
	if err != nil {
		return err
	}
	if !payment.Successful() {
		return domain.Errorf(domain.EPAYMENT, "invoice.retry", "payment attempt failed for invoice %s", invoiceID)
	}
	return nil
}

// RetryNewestUnpaidInvoice finds the subscription's newest unpaid invoice
// and retries it. Used when a subscriber fixes their payment method.
func (p *InvoiceProcessor) RetryNewestUnpaidInvoice(ctx context.Context, subscriptionID uuid.UUID) error {
	sub, err := p.subscriptions.GetByID(ctx, subscriptionID)
	if err != nil {
		return err
	}
	gateway, err := p.gateways.GatewayForProduct(ctx, sub.ProductID)
	if err != nil {
		return err
	}

	account, err := gateway.GetAccountByExternalKey(ctx, sub.AccountExternalKey())
	if err != nil {
		return err
	}
	invoices, err := gateway.GetAccountInvoices(ctx, account.AccountID)
	if err != nil {
		return err
	}

	var unpaid []killbill.Invoice
	for _, invoice := range invoices {
		if invoice.Committed() && invoice.BalanceCents() > 0 {
			unpaid = append(unpaid, invoice)
		}
	}
	if len(unpaid) == 0 {
		return nil
	}
	sort.Slice(unpaid, func(i, j int) bool {
		return unpaid[i].InvoiceDate > unpaid[j].InvoiceDate
	})

	return p.RetryInvoicePayment(ctx, subscriptionID, unpaid[0].InvoiceID)
}

// CreateInvoiceForSubscription triggers immediate invoice generation for the
// subscription's account.
func (p *InvoiceProcessor) CreateInvoiceForSubscription(ctx context.Context, subscriptionID uuid.UUID) (*killbill.Invoice, error) {
	sub, err := p.subscriptions.GetByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	gateway, err := p.gateways.GatewayForProduct(ctx, sub.ProductID)
	if err != nil {
		return nil, err
	}
	account, err := gateway.GetAccountByExternalKey(ctx, sub.AccountExternalKey())
	if err != nil {
		return nil, err
	}
	return gateway.TriggerInvoice(ctx, account.AccountID, p.now().Format("2006-01-02"))
}

// VoidInvoice voids an unpaid invoice for the subscription.
func (p *InvoiceProcessor) VoidInvoice(ctx context.Context, subscriptionID uuid.UUID, invoiceID string) error {
	sub, err := p.subscriptions.GetByID(ctx, subscriptionID)
	if err != nil {
		return err
	}
	gateway, err := p.gateways.GatewayForProduct(ctx, sub.ProductID)
	if err != nil {
		return err
	}
	return gateway.VoidInvoice(ctx, invoiceID)
}

// AddCreditToInvoice applies an account credit against an invoice, e.g. a
// goodwill adjustment.
func (p *InvoiceProcessor) AddCreditToInvoice(ctx context.Context, subscriptionID uuid.UUID, invoiceID string, amount float64, description string) error {
	sub, err := p.subscriptions.GetByID(ctx, subscriptionID)
	if err != nil {
		return err
	}
	gateway, err := p.gateways.GatewayForProduct(ctx, sub.ProductID)
	if err != nil {
		return err
	}
	account, err := gateway.GetAccountByExternalKey(ctx, sub.AccountExternalKey())
	if err != nil {
		return err
	}
	_, err = gateway.AddCredit(ctx, killbill.Credit{
		AccountID:    account.AccountID,
		InvoiceID:    invoiceID,
		CreditAmount: amount,
		Description:  description,
	})
	return err
}

// GetInvoicePayments lists payment attempts for an invoice.
func (p *InvoiceProcessor) GetInvoicePayments(ctx context.Context, subscriptionID uuid.UUID, invoiceID string) ([]killbill.Payment, error) {
	sub, err := p.subscriptions.GetByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	gateway, err := p.gateways.GatewayForProduct(ctx, sub.ProductID)
	if err != nil {
		return nil, err
	}
	return gateway.GetInvoicePayments(ctx, invoiceID)
}

// FailAfterDunning marks the subscription failed once the dunning window has
// lapsed with the invoice still unpaid. The unpaid check makes the scheduled
// job safe to fire even after the subscriber recovered.
func (p *InvoiceProcessor) FailAfterDunning(ctx context.Context, subscriptionID uuid.UUID) error {
	sub, err := p.subscriptions.GetByID(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if !sub.Alive() {
		return nil
	}
	gateway, err := p.gateways.GatewayForProduct(ctx, sub.ProductID)
	if err != nil {
		return err
	}

	account, err := gateway.GetAccountByExternalKey(ctx, sub.AccountExternalKey())
	if err == nil {
		invoices, err := gateway.GetAccountInvoices(ctx, account.AccountID)
		if err != nil {
			return err
		}
		stillUnpaid := false
		for _, invoice := range invoices {
			if invoice.Committed() && invoice.BalanceCents() > 0 {
				stillUnpaid = true
				break
			}
		}
		if !stillUnpaid {
			p.logger.Info().Str("subscription_id", sub.ID.String()).Msg("dunning resolved before deadline")
			return nil
		}
	} else if !killbill.IsNotFound(err) {
		return err
	}

	if _, err := gateway.CancelSubscription(ctx, sub.ExternalID, killbill.CancelPolicyImmediate); err != nil && !killbill.IsNotFound(err) {
		return err
	}
	_, err = p.subscriptions.Fail(ctx, sub.ID, p.now())
	if err != nil {
		return err
	}
	p.logger.Info().Str("subscription_id", sub.ID.String()).Msg("subscription failed after dunning window")
	return nil
}
