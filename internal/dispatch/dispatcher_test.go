package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crowdchurn/billing/internal/domain"
	"github.com/crowdchurn/billing/internal/killbill"
	"github.com/crowdchurn/billing/internal/telemetry"
)

type mockSubscriptionHandler struct {
	calls []string
	err   error
}

func (m *mockSubscriptionHandler) record(name string) error {
	m.calls = append(m.calls, name)
	return m.err
}

func (m *mockSubscriptionHandler) HandleCancelEvent(ctx context.Context, event *domain.BillingEvent) error {
	return m.record("cancel")
}

func (m *mockSubscriptionHandler) HandleUncancelEvent(ctx context.Context, event *domain.BillingEvent) error {
	return m.record("uncancel")
}

func (m *mockSubscriptionHandler) HandleChangeEvent(ctx context.Context, event *domain.BillingEvent) error {
	return m.record("change")
}

func (m *mockSubscriptionHandler) HandlePhaseEvent(ctx context.Context, event *domain.BillingEvent) error {
	return m.record("phase")
}

type mockInvoiceHandler struct {
	calls []string
	err   error
}

func (m *mockInvoiceHandler) ProcessInvoiceNotification(ctx context.Context, event *domain.BillingEvent) error {
	m.calls = append(m.calls, "notification:"+event.EventType)
	return m.err
}

func (m *mockInvoiceHandler) HandleInvoicePaymentFailed(ctx context.Context, event *domain.BillingEvent) error {
	m.calls = append(m.calls, "payment_failed")
	return m.err
}

type mockPaymentHandler struct {
	calls []string
}

func (m *mockPaymentHandler) HandlePaymentEvent(ctx context.Context, event *domain.BillingEvent) error {
	m.calls = append(m.calls, event.EventType)
	return nil
}

type memEventStore struct {
	seen map[string]bool
	err  error
}

func newMemEventStore() *memEventStore {
	return &memEventStore{seen: make(map[string]bool)}
}

func (s *memEventStore) Seen(ctx context.Context, eventType, objectID string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.seen[eventType+"/"+objectID], nil
}

func (s *memEventStore) MarkProcessed(ctx context.Context, eventType, objectID string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	key := eventType + "/" + objectID
	if s.seen[key] {
		return true, nil
	}
	s.seen[key] = true
	return false, nil
}

type dispatchFixture struct {
	dispatcher    *Dispatcher
	subscriptions *mockSubscriptionHandler
	invoices      *mockInvoiceHandler
	payments      *mockPaymentHandler
	events        *memEventStore
}

func newDispatchFixture(t *testing.T) *dispatchFixture {
	t.Helper()
	f := &dispatchFixture{
		subscriptions: &mockSubscriptionHandler{},
		invoices:      &mockInvoiceHandler{},
		payments:      &mockPaymentHandler{},
		events:        newMemEventStore(),
	}
	f.dispatcher = NewDispatcher(
		f.subscriptions,
		f.invoices,
		f.payments,
		f.events,
		telemetry.NewMetrics("test", prometheus.NewRegistry()),
		zerolog.Nop(),
	)
	return f
}

func event(eventType, objectID string) *domain.BillingEvent {
	return &domain.BillingEvent{EventType: eventType, ObjectID: objectID}
}

func TestDispatch_SubscriptionEventsRouteToHandlers(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()

	require.NoError(t, f.dispatcher.Dispatch(ctx, event(domain.EventSubscriptionCancel, "obj-1")))
	require.NoError(t, f.dispatcher.Dispatch(ctx, event(domain.EventSubscriptionUncancel, "obj-2")))
	require.NoError(t, f.dispatcher.Dispatch(ctx, event(domain.EventSubscriptionChange, "obj-3")))
	require.NoError(t, f.dispatcher.Dispatch(ctx, event(domain.EventSubscriptionPhase, "obj-4")))

	assert.Equal(t, []string{"cancel", "uncancel", "change", "phase"}, f.subscriptions.calls)
	assert.Empty(t, f.invoices.calls)
}

func TestDispatch_CreationIsAcknowledgedWithoutHandler(t *testing.T) {
	f := newDispatchFixture(t)

	err := f.dispatcher.Dispatch(context.Background(), event(domain.EventSubscriptionCreation, "obj-1"))

	require.NoError(t, err)
	assert.Empty(t, f.subscriptions.calls)
}

func TestDispatch_InvoiceEventsShareTheNotificationPath(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()

	require.NoError(t, f.dispatcher.Dispatch(ctx, event(domain.EventInvoiceCreation, "inv-1")))
	require.NoError(t, f.dispatcher.Dispatch(ctx, event(domain.EventInvoicePaymentSuccess, "inv-2")))
	require.NoError(t, f.dispatcher.Dispatch(ctx, event(domain.EventInvoicePaymentFailed, "inv-3")))

	assert.Equal(t, []string{
		"notification:INVOICE_CREATION",
		"notification:INVOICE_PAYMENT_SUCCESS",
		"payment_failed",
	}, f.invoices.calls)
}

func TestDispatch_PaymentEventsGoToPaymentHandler(t *testing.T) {
	f := newDispatchFixture(t)

	err := f.dispatcher.Dispatch(context.Background(), event(domain.EventPaymentRefund, "pay-1"))

	require.NoError(t, err)
	assert.Equal(t, []string{"PAYMENT_REFUND"}, f.payments.calls)
}

func TestDispatch_NoPaymentHandlerDropsPaymentEvents(t *testing.T) {
	f := newDispatchFixture(t)
	f.dispatcher.payments = nil

	err := f.dispatcher.Dispatch(context.Background(), event(domain.EventPaymentChargeback, "pay-1"))

	require.NoError(t, err)
}

func TestDispatch_UnknownEventTypeIsDroppedSilently(t *testing.T) {
	f := newDispatchFixture(t)

	err := f.dispatcher.Dispatch(context.Background(), event("TENANT_CONFIG_CHANGE", "obj-1"))

	require.NoError(t, err)
	assert.Empty(t, f.subscriptions.calls)
	assert.Empty(t, f.invoices.calls)
	// Unclassified events never reach the dedupe ledger.
	assert.Empty(t, f.events.seen)
}

func TestDispatch_DuplicateDeliveryIsSkipped(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()
	ev := event(domain.EventSubscriptionCancel, "obj-1")

	require.NoError(t, f.dispatcher.Dispatch(ctx, ev))
	require.NoError(t, f.dispatcher.Dispatch(ctx, ev))

	assert.Equal(t, []string{"cancel"}, f.subscriptions.calls)
}

func TestDispatch_SameObjectDifferentTypeIsNotADuplicate(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()

	require.NoError(t, f.dispatcher.Dispatch(ctx, event(domain.EventSubscriptionCancel, "obj-1")))
	require.NoError(t, f.dispatcher.Dispatch(ctx, event(domain.EventSubscriptionUncancel, "obj-1")))

	assert.Equal(t, []string{"cancel", "uncancel"}, f.subscriptions.calls)
}

func TestDispatch_LedgerFailureIsRetryable(t *testing.T) {
	f := newDispatchFixture(t)
	f.events.err = errors.New("connection refused")

	err := f.dispatcher.Dispatch(context.Background(), event(domain.EventSubscriptionCancel, "obj-1"))

	require.Error(t, err)
	assert.True(t, domain.Retryable(err))
	assert.Empty(t, f.subscriptions.calls)
}

func TestDispatch_UntrackedSubscriptionIsDropped(t *testing.T) {
	f := newDispatchFixture(t)
	f.invoices.err = domain.NotFound("subscription.get", "subscription", "ext-9")

	err := f.dispatcher.Dispatch(context.Background(), event(domain.EventInvoiceNotification, "inv-1"))

	require.NoError(t, err)
	// The drop is terminal, so the event still enters the ledger.
	assert.True(t, f.events.seen[domain.EventInvoiceNotification+"/inv-1"])
}

func TestDispatch_FailedDeliveryIsNotMarkedProcessed(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()
	ev := event(domain.EventSubscriptionCancel, "obj-1")

	f.subscriptions.err = &killbill.APIError{StatusCode: 503, Message: "service unavailable"}
	err := f.dispatcher.Dispatch(ctx, ev)
	require.Error(t, err)
	assert.True(t, domain.Retryable(err), "gateway outage must surface as retryable")
	assert.Empty(t, f.events.seen, "failed delivery must not enter the dedupe ledger")

	// The outage clears and the broker redelivers the same event.
	f.subscriptions.err = nil
	require.NoError(t, f.dispatcher.Dispatch(ctx, ev))
	assert.Equal(t, []string{"cancel", "cancel"}, f.subscriptions.calls)

	// Only now is a further delivery a duplicate.
	require.NoError(t, f.dispatcher.Dispatch(ctx, ev))
	assert.Equal(t, []string{"cancel", "cancel"}, f.subscriptions.calls)
}

func TestDispatch_HandlerErrorPropagates(t *testing.T) {
	f := newDispatchFixture(t)
	f.invoices.err = domain.Transient(errors.New("502"), "killbill.get_invoice", "gateway unavailable")

	err := f.dispatcher.Dispatch(context.Background(), event(domain.EventInvoiceNotification, "inv-1"))

	require.Error(t, err)
	assert.True(t, domain.Retryable(err))
}
