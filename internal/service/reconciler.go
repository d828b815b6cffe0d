package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/crowdchurn/billing/internal/domain"
	"github.com/crowdchurn/billing/internal/killbill"
)

// DefaultAccountCurrency applies when neither the subscription nor the
// product specify one.
const DefaultAccountCurrency = "USD"

// Reconciler keeps internal subscription state and Kill Bill state
// converged. Outbound operations push local intent to Kill Bill; inbound
// handlers apply Kill Bill lifecycle events to local state.
//
// Every local mutation is a compare-and-set, so both directions tolerate
// duplicate and out-of-order delivery.
type Reconciler struct {
	gateways      GatewayProvider
	subscriptions domain.SubscriptionStore
	products      domain.ProductStore
	notifier      domain.Notifier
	logger        zerolog.Logger
	now           func() time.Time
}

// NewReconciler creates a subscription reconciler.
func NewReconciler(
	gateways GatewayProvider,
	subscriptions domain.SubscriptionStore,
	products domain.ProductStore,
	notifier domain.Notifier,
	logger zerolog.Logger,
) *Reconciler {
	return &Reconciler{
		gateways:      gateways,
		subscriptions: subscriptions,
		products:      products,
		notifier:      notifier,
		logger:        logger.With().Str("component", "reconciler").Logger(),
		now:           time.Now,
	}
}

// WithClock fixes the reconciler's clock. Used by tests.
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// AccountCurrency picks the currency the billing account is created with:
// the subscription's billing currency, then the product currency, then USD.
// The choice is permanent; Kill Bill accounts never change currency.
func AccountCurrency(sub *domain.Subscription, product *domain.Product) string {
	if sub.BillingCurrency != "" {
		return strings.ToUpper(sub.BillingCurrency)
	}
	if product.Currency != "" {
		return strings.ToUpper(product.Currency)
	}
	return DefaultAccountCurrency
}

func (r *Reconciler) load(ctx context.Context, subscriptionID uuid.UUID) (*domain.Subscription, *domain.Product, killbill.Gateway, error) {
	sub, err := r.subscriptions.GetByID(ctx, subscriptionID)
	if err != nil {
		return nil, nil, nil, err
	}
	product, err := r.products.GetByID(ctx, sub.ProductID)
	if err != nil {
		return nil, nil, nil, err
	}
	gateway, err := r.gateways.GatewayForProduct(ctx, product.ID)
	if err != nil {
		return nil, nil, nil, err
	}
	return sub, product, gateway, nil
}

// EnsureAccount resolves or creates the Kill Bill account for the
// subscription and returns its id.
func (r *Reconciler) EnsureAccount(ctx context.Context, subscriptionID uuid.UUID) (string, error) {
	sub, product, gateway, err := r.load(ctx, subscriptionID)
	if err != nil {
		return "", err
	}
	return gateway.GetOrCreateAccount(ctx, killbill.Account{
		ExternalKey: sub.AccountExternalKey(),
		Name:        sub.FullName,
		Email:       sub.Email,
		Currency:    AccountCurrency(sub, product),
	})
}

// CreateSubscription registers the subscription in Kill Bill on the plan
// derived from the product and recurrence. Safe to retry: the account lookup
// is get-or-create and Kill Bill upserts on the subscription external key.
func (r *Reconciler) CreateSubscription(ctx context.Context, subscriptionID uuid.UUID) (*killbill.Subscription, error) {
	sub, product, gateway, err := r.load(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	currency := AccountCurrency(sub, product)
	accountID, err := gateway.GetOrCreateAccount(ctx, killbill.Account{
		ExternalKey: sub.AccountExternalKey(),
		Name:        sub.FullName,
		Email:       sub.Email,
		Currency:    currency,
	})
	if err != nil {
		return nil, err
	}

	// The account currency is fixed in Kill Bill; pin it on our row so later
	// price resolution quotes the same currency.
	if sub.BillingCurrency == "" {
		if _, err := r.subscriptions.UpdateBillingCurrency(ctx, sub.ID, currency); err != nil {
			return nil, err
		}
	}
	if product.FreeTrialDurationInDays > 0 && sub.FreeTrialEndsAt == nil {
		trialEnd := r.now().Add(time.Duration(product.FreeTrialDurationInDays) * 24 * time.Hour)
		if _, err := r.subscriptions.SetFreeTrialEnd(ctx, sub.ID, trialEnd); err != nil {
			return nil, err
		}
	}

	created, err := gateway.CreateSubscription(ctx, killbill.CreateSubscriptionParams{
		AccountID:   accountID,
		PlanName:    product.PlanName(sub.Recurrence),
		ExternalKey: sub.ExternalID,
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info().
		Str("subscription_id", sub.ID.String()).
		Str("killbill_subscription_id", created.SubscriptionID).
		Str("plan", created.PlanName).
		Msg("created killbill subscription")
	return created, nil
}

// CancelSubscription cancels in Kill Bill and applies the matching local
// transition: immediate cancels take effect now, end-of-term cancels are
// recorded as pending until their effective date.
func (r *Reconciler) CancelSubscription(ctx context.Context, subscriptionID uuid.UUID, immediate bool) error {
	sub, _, gateway, err := r.load(ctx, subscriptionID)
	if err != nil {
		return err
	}

	policy := killbill.CancelPolicyEndOfTerm
	if immediate {
		policy = killbill.CancelPolicyImmediate
	}

	cancelled, err := gateway.CancelSubscription(ctx, sub.ExternalID, policy)
	if err != nil {
		return err
	}

	now := r.now()
	if immediate {
		_, err = r.subscriptions.CancelNow(ctx, sub.ID, now)
		return err
	}

	effectiveAt := now
	if ctd, ok := cancelled.NextBillingDate(); ok {
		effectiveAt = ctd
	} else if at, ok := killbill.ParseTime(cancelled.CancelledDate); ok {
		effectiveAt = at
	}
	_, err = r.subscriptions.ScheduleCancel(ctx, sub.ID, effectiveAt)
	return err
}

// PauseSubscription blocks billing and entitlement in Kill Bill. Local state
// is untouched: a paused subscription is still alive.
func (r *Reconciler) PauseSubscription(ctx context.Context, subscriptionID uuid.UUID) error {
	sub, _, gateway, err := r.load(ctx, subscriptionID)
	if err != nil {
		return err
	}
	_, err = gateway.PauseSubscription(ctx, sub.ExternalID)
	return err
}

// ResumeSubscription lifts the pause blocks in Kill Bill.
func (r *Reconciler) ResumeSubscription(ctx context.Context, subscriptionID uuid.UUID) error {
	sub, _, gateway, err := r.load(ctx, subscriptionID)
	if err != nil {
		return err
	}
	_, err = gateway.ResumeSubscription(ctx, sub.ExternalID)
	return err
}

// ChangePlan moves the Kill Bill subscription to the plan for a new
// recurrence on the same product.
func (r *Reconciler) ChangePlan(ctx context.Context, subscriptionID uuid.UUID, newRecurrence domain.Recurrence, immediate bool) error {
	sub, product, gateway, err := r.load(ctx, subscriptionID)
	if err != nil {
		return err
	}
	_, err = gateway.ChangePlan(ctx, killbill.ChangePlanParams{
		ExternalKey: sub.ExternalID,
		NewPlanName: product.PlanName(newRecurrence),
		Immediate:   immediate,
	})
	return err
}

// AddPaymentMethod registers a payment method on the subscription's account
// and makes it the default for future charges. The account is created first
// if the subscription was never registered.
func (r *Reconciler) AddPaymentMethod(ctx context.Context, subscriptionID uuid.UUID, pluginName string, pluginInfo map[string]string) (*killbill.PaymentMethod, error) {
	sub, product, gateway, err := r.load(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	accountID, err := gateway.GetOrCreateAccount(ctx, killbill.Account{
		ExternalKey: sub.AccountExternalKey(),
		Name:        sub.FullName,
		Email:       sub.Email,
		Currency:    AccountCurrency(sub, product),
	})
	if err != nil {
		return nil, err
	}

	method, err := gateway.AddPaymentMethod(ctx, killbill.PaymentMethod{
		AccountID:  accountID,
		PluginName: pluginName,
		IsDefault:  true,
		PluginInfo: pluginInfo,
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info().
		Str("subscription_id", sub.ID.String()).
		Str("plugin", pluginName).
		Msg("payment method registered")
	return method, nil
}

// HandleCancelEvent applies a SUBSCRIPTION_CANCEL notification. An effective
// date in the past (or absent) cancels immediately; a future one is recorded
// as a pending end-of-term cancellation.
func (r *Reconciler) HandleCancelEvent(ctx context.Context, event *domain.BillingEvent) error {
	sub, err := r.subscriptions.GetByExternalID(ctx, event.ExternalKey)
	if err != nil {
		return err
	}

	now := r.now()
	effectiveAt, ok := killbill.ParseTime(event.EffectiveDate)
	if !ok || !effectiveAt.After(now) {
		applied, err := r.subscriptions.CancelNow(ctx, sub.ID, now)
		if err != nil {
			return err
		}
		if !applied {
			r.logger.Debug().Str("subscription_id", sub.ID.String()).Msg("cancel already applied")
		}
		return nil
	}

	_, err = r.subscriptions.ScheduleCancel(ctx, sub.ID, effectiveAt)
	return err
}

// HandleUncancelEvent applies a SUBSCRIPTION_UNCANCEL notification. Only a
// cancelled or failed subscription can restart; the restart notification
// tells the subscriber their payment issue is resolved.
func (r *Reconciler) HandleUncancelEvent(ctx context.Context, event *domain.BillingEvent) error {
	sub, err := r.subscriptions.GetByExternalID(ctx, event.ExternalKey)
	if err != nil {
		return err
	}

	if sub.Alive() && sub.PendingCancellationAt == nil {
		r.logger.Debug().Str("subscription_id", sub.ID.String()).Msg("uncancel for alive subscription ignored")
		return nil
	}
	wasTerminal := !sub.Alive()

	applied, err := r.subscriptions.Resubscribe(ctx, sub.ID)
	if err != nil {
		return err
	}
	if !applied || !wasTerminal {
		// Clearing a pending end-of-term cancel is silent; only a restart
		// from a terminal state notifies the subscriber.
		return nil
	}

	if err := r.notifier.SubscriptionRestarted(ctx, sub.ID, domain.ResubscriptionReasonPaymentIssueResolved); err != nil {
		r.logger.Error().Err(err).Str("subscription_id", sub.ID.String()).Msg("failed to enqueue restart notification")
	}
	return nil
}

// HandleChangeEvent applies a SUBSCRIPTION_CHANGE notification by syncing
// local state against the authoritative Kill Bill subscription.
func (r *Reconciler) HandleChangeEvent(ctx context.Context, event *domain.BillingEvent) error {
	r.logger.Info().
		Str("external_key", event.ExternalKey).
		Str("new_plan", event.NewPlan).
		Msg("subscription plan changed")
	return r.syncByExternalKey(ctx, event.ExternalKey)
}

// HandlePhaseEvent applies a SUBSCRIPTION_PHASE notification (e.g. trial to
// evergreen). The phase itself lives in Kill Bill; locally this is a sync.
func (r *Reconciler) HandlePhaseEvent(ctx context.Context, event *domain.BillingEvent) error {
	r.logger.Info().
		Str("external_key", event.ExternalKey).
		Str("new_phase", event.NewPhase).
		Msg("subscription entered new phase")
	return r.syncByExternalKey(ctx, event.ExternalKey)
}

func (r *Reconciler) syncByExternalKey(ctx context.Context, externalKey string) error {
	sub, err := r.subscriptions.GetByExternalID(ctx, externalKey)
	if err != nil {
		return err
	}
	return r.SyncWithKillbill(ctx, sub.ID)
}

// SyncWithKillbill converges local lifecycle state to the authoritative
// Kill Bill subscription. A subscription missing remotely is deactivated
// locally rather than erroring.
func (r *Reconciler) SyncWithKillbill(ctx context.Context, subscriptionID uuid.UUID) error {
	sub, _, gateway, err := r.load(ctx, subscriptionID)
	if err != nil {
		return err
	}

	remote, err := gateway.GetSubscriptionByExternalKey(ctx, sub.ExternalID)
	if err != nil {
		if killbill.IsNotFound(err) {
			_, err := r.subscriptions.Deactivate(ctx, sub.ID, r.now())
			return err
		}
		return err
	}

	now := r.now()
	switch remote.EffectiveState(now) {
	case killbill.SubscriptionStateCancelled:
		if at, ok := killbill.ParseTime(remote.CancelledDate); ok && at.After(now) {
			_, err = r.subscriptions.ScheduleCancel(ctx, sub.ID, at)
		} else {
			_, err = r.subscriptions.CancelNow(ctx, sub.ID, now)
		}
		return err
	case killbill.SubscriptionStateBlocked:
		if sub.DeactivatedAt == nil {
			_, err = r.subscriptions.Deactivate(ctx, sub.ID, now)
		}
		return err
	case killbill.SubscriptionStateActive:
		if !sub.Alive() {
			applied, err := r.subscriptions.Resubscribe(ctx, sub.ID)
			if err != nil {
				return err
			}
			if applied {
				r.logger.Info().Str("subscription_id", sub.ID.String()).Msg("subscription restored from killbill state")
			}
		}
		return nil
	default:
		return nil
	}
}
