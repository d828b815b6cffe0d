package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crowdchurn/billing/internal/domain"
	"github.com/crowdchurn/billing/internal/killbill"
)

type invoiceFixture struct {
	processor *InvoiceProcessor
	gw        *killbill.MockGateway
	subs      *memSubscriptionStore
	purchases *memPurchaseStore
	notifier  *recordingNotifier
	dunning   *recordingDunning
	sub       *domain.Subscription
	product   *domain.Product
}

func newInvoiceFixture(t *testing.T) *invoiceFixture {
	t.Helper()
	product := testProduct()
	sub := testSubscription(product.ID)
	gw := killbill.NewMockGateway()
	subs := newMemSubscriptionStore(sub)
	purchases := newMemPurchaseStore()
	notifier := &recordingNotifier{}
	dunning := newRecordingDunning()

	processor := NewInvoiceProcessor(
		&StaticGatewayProvider{Gateway: gw},
		subs,
		purchases,
		newMemProductStore(product),
		notifier,
		dunning,
		zerolog.Nop(),
	).WithClock(fixedClock)

	return &invoiceFixture{
		processor: processor,
		gw:        gw,
		subs:      subs,
		purchases: purchases,
		notifier:  notifier,
		dunning:   dunning,
		sub:       sub,
		product:   product,
	}
}

func (f *invoiceFixture) addInvoice(id string, balance float64, status string) *killbill.Invoice {
	invoice := &killbill.Invoice{
		InvoiceID:   id,
		AccountID:   "acc-1",
		InvoiceDate: "2025-06-15",
		Currency:    "USD",
		Status:      status,
		Amount:      10,
		Balance:     balance,
		Items: []killbill.InvoiceItem{{
			InvoiceItemID:  "item-" + id,
			InvoiceID:      id,
			SubscriptionID: "kb-sub-1",
			ItemType:       "RECURRING",
			Amount:         10,
			Currency:       "USD",
		}},
	}
	f.gw.Invoices[id] = invoice
	return invoice
}

func TestInvoiceProcessor_PaidInvoiceSettlesPurchase(t *testing.T) {
	f := newInvoiceFixture(t)
	f.addInvoice("inv-1", 0, killbill.InvoiceStatusCommitted)

	event := &domain.BillingEvent{
		EventType:   domain.EventInvoicePaymentSuccess,
		ObjectID:    "inv-1",
		ExternalKey: f.sub.ExternalID,
	}
	require.NoError(t, f.processor.ProcessInvoiceNotification(context.Background(), event))

	purchase, err := f.purchases.FindByTransactionID(context.Background(), f.sub.ID, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PurchaseStateSuccessful, purchase.State)
	assert.Equal(t, int64(1000), purchase.PriceCents)
	assert.Equal(t, ChargeProcessorKillbill, purchase.ChargeProcessorID)
	require.NotNil(t, purchase.SucceededAt)
}

func TestInvoiceProcessor_DuplicateDeliveryIsIdempotent(t *testing.T) {
	f := newInvoiceFixture(t)
	f.addInvoice("inv-1", 0, killbill.InvoiceStatusCommitted)

	event := &domain.BillingEvent{
		EventType:   domain.EventInvoicePaymentSuccess,
		ObjectID:    "inv-1",
		ExternalKey: f.sub.ExternalID,
	}
	require.NoError(t, f.processor.ProcessInvoiceNotification(context.Background(), event))
	first, _ := f.purchases.FindByTransactionID(context.Background(), f.sub.ID, "inv-1")

	require.NoError(t, f.processor.ProcessInvoiceNotification(context.Background(), event))
	second, _ := f.purchases.FindByTransactionID(context.Background(), f.sub.ID, "inv-1")

	assert.Equal(t, first.ID, second.ID, "re-delivery must not create a second purchase")
	assert.True(t, first.SucceededAt.Equal(*second.SucceededAt))
	assert.Len(t, f.purchases.purchases, 1)
}

func TestInvoiceProcessor_UnpaidInvoiceStaysInProgress(t *testing.T) {
	f := newInvoiceFixture(t)
	f.addInvoice("inv-2", 10, killbill.InvoiceStatusCommitted)

	event := &domain.BillingEvent{
		EventType:   domain.EventInvoiceCreation,
		ObjectID:    "inv-2",
		ExternalKey: f.sub.ExternalID,
	}
	require.NoError(t, f.processor.ProcessInvoiceNotification(context.Background(), event))

	purchase, err := f.purchases.FindByTransactionID(context.Background(), f.sub.ID, "inv-2")
	require.NoError(t, err)
	assert.Equal(t, domain.PurchaseStateInProgress, purchase.State)
	assert.Equal(t, []uuid.UUID{f.sub.ID}, f.notifier.declined, "outstanding committed invoice nudges the subscriber")
}

func TestInvoiceProcessor_DraftInvoiceSkipped(t *testing.T) {
	f := newInvoiceFixture(t)
	f.addInvoice("inv-3", 10, killbill.InvoiceStatusDraft)

	event := &domain.BillingEvent{
		EventType:   domain.EventInvoiceCreation,
		ObjectID:    "inv-3",
		ExternalKey: f.sub.ExternalID,
	}
	require.NoError(t, f.processor.ProcessInvoiceNotification(context.Background(), event))

	_, err := f.purchases.FindByTransactionID(context.Background(), f.sub.ID, "inv-3")
	assert.True(t, domain.IsCode(err, domain.ENOTFOUND))
}

func TestInvoiceProcessor_ZeroAmountTrialInvoiceSkipped(t *testing.T) {
	f := newInvoiceFixture(t)
	invoice := f.addInvoice("inv-trial", 0, killbill.InvoiceStatusCommitted)
	invoice.Amount = 0
	invoice.Items[0].Amount = 0

	event := &domain.BillingEvent{
		EventType:   domain.EventInvoiceCreation,
		ObjectID:    "inv-trial",
		ExternalKey: f.sub.ExternalID,
	}
	require.NoError(t, f.processor.ProcessInvoiceNotification(context.Background(), event))

	_, err := f.purchases.FindByTransactionID(context.Background(), f.sub.ID, "inv-trial")
	assert.True(t, domain.IsCode(err, domain.ENOTFOUND))
}

func TestInvoiceProcessor_PaymentResolvesFailedSubscription(t *testing.T) {
	f := newInvoiceFixture(t)
	failedAt := testNow.Add(-48 * time.Hour)
	f.subs.subs[f.sub.ID].FailedAt = &failedAt
	f.addInvoice("inv-4", 0, killbill.InvoiceStatusCommitted)

	event := &domain.BillingEvent{
		EventType:   domain.EventInvoicePaymentSuccess,
		ObjectID:    "inv-4",
		ExternalKey: f.sub.ExternalID,
	}
	require.NoError(t, f.processor.ProcessInvoiceNotification(context.Background(), event))

	got, _ := f.subs.GetByID(context.Background(), f.sub.ID)
	assert.True(t, got.Alive())
	require.Len(t, f.notifier.restarted, 1)
	assert.Equal(t, domain.ResubscriptionReasonPaymentIssueResolved, f.notifier.reasons[0])
}

func TestInvoiceProcessor_PaymentFailedStartsDunning(t *testing.T) {
	f := newInvoiceFixture(t)

	event := &domain.BillingEvent{
		EventType:   domain.EventInvoicePaymentFailed,
		ObjectID:    "inv-5",
		ExternalKey: f.sub.ExternalID,
	}
	require.NoError(t, f.processor.HandleInvoicePaymentFailed(context.Background(), event))

	assert.Equal(t, []uuid.UUID{f.sub.ID}, f.notifier.declined)
	assert.Equal(t, domain.AllowedTimeBeforeFailAndUnsubscribe, f.dunning.unsubscribe[f.sub.ID])
	assert.Equal(t,
		domain.AllowedTimeBeforeFailAndUnsubscribe-domain.ChargeDeclinedReminderLeadTime,
		f.dunning.reminders[f.sub.ID])
}

func TestInvoiceProcessor_AccountExternalKeyResolvesSubscription(t *testing.T) {
	f := newInvoiceFixture(t)
	f.subs.subs[f.sub.ID].UserExternalID = "user-42"

	// The notification carries the account's external key, not the
	// subscription's. The user's alive subscription is the one billed.
	event := &domain.BillingEvent{
		EventType:   domain.EventInvoicePaymentFailed,
		ObjectID:    "inv-20",
		ExternalKey: f.subs.subs[f.sub.ID].AccountExternalKey(),
	}
	require.NoError(t, f.processor.HandleInvoicePaymentFailed(context.Background(), event))

	assert.Equal(t, []uuid.UUID{f.sub.ID}, f.notifier.declined)
	assert.Empty(t, f.gw.CallLog, "resolution through the account key needs no gateway round-trip")
}

func TestInvoiceProcessor_AccountIDResolvesSubscription(t *testing.T) {
	f := newInvoiceFixture(t)
	f.subs.subs[f.sub.ID].UserExternalID = "user-42"
	f.gw.Accounts["crowdchurn_user-42"] = &killbill.Account{
		AccountID:   "acc-42",
		ExternalKey: "crowdchurn_user-42",
	}

	// No external key at all; the account id on the event is the only
	// handle, looked up through the gateway.
	event := &domain.BillingEvent{
		EventType: domain.EventInvoicePaymentFailed,
		ObjectID:  "inv-21",
		AccountID: "acc-42",
	}
	require.NoError(t, f.processor.HandleInvoicePaymentFailed(context.Background(), event))

	assert.Equal(t, []uuid.UUID{f.sub.ID}, f.notifier.declined)
	assert.Contains(t, f.gw.CallLog, "GetAccountByID(acc-42)")
	assert.NotContains(t, f.gw.CallLog, "GetInvoice(inv-21, true)")
}

func TestInvoiceProcessor_PaymentFailedForDeadSubscriptionIgnored(t *testing.T) {
	f := newInvoiceFixture(t)
	cancelled := testNow.Add(-time.Hour)
	f.subs.subs[f.sub.ID].CancelledAt = &cancelled

	event := &domain.BillingEvent{
		EventType:   domain.EventInvoicePaymentFailed,
		ObjectID:    "inv-6",
		ExternalKey: f.sub.ExternalID,
	}
	require.NoError(t, f.processor.HandleInvoicePaymentFailed(context.Background(), event))
	assert.Empty(t, f.notifier.declined)
	assert.Empty(t, f.dunning.unsubscribe)
}

func TestInvoiceProcessor_RetryInvoicePayment_SettledIsNoop(t *testing.T) {
	f := newInvoiceFixture(t)
	f.addInvoice("inv-7", 0, killbill.InvoiceStatusCommitted)

	require.NoError(t, f.processor.RetryInvoicePayment(context.Background(), f.sub.ID, "inv-7"))
	assert.NotContains(t, f.gw.CallLog, "PayInvoice(inv-7)")
}

func TestInvoiceProcessor_RetryInvoicePayment_PaysOutstanding(t *testing.T) {
	f := newInvoiceFixture(t)
	f.addInvoice("inv-8", 10, killbill.InvoiceStatusCommitted)

	require.NoError(t, f.processor.RetryInvoicePayment(context.Background(), f.sub.ID, "inv-8"))
	assert.Contains(t, f.gw.CallLog, "PayInvoice(inv-8)")
	assert.Zero(t, f.gw.Invoices["inv-8"].Balance)
}

func TestInvoiceProcessor_RetryNewestUnpaidInvoice(t *testing.T) {
	f := newInvoiceFixture(t)
	f.gw.Accounts[f.sub.AccountExternalKey()] = &killbill.Account{AccountID: "acc-1", ExternalKey: f.sub.AccountExternalKey()}

	older := f.addInvoice("inv-old", 10, killbill.InvoiceStatusCommitted)
	older.InvoiceDate = "2025-05-15"
	f.addInvoice("inv-new", 10, killbill.InvoiceStatusCommitted)
	paid := f.addInvoice("inv-paid", 0, killbill.InvoiceStatusCommitted)
	paid.InvoiceDate = "2025-06-20"

	require.NoError(t, f.processor.RetryNewestUnpaidInvoice(context.Background(), f.sub.ID))
	assert.Contains(t, f.gw.CallLog, "PayInvoice(inv-new)")
	assert.NotContains(t, f.gw.CallLog, "PayInvoice(inv-old)")
}

func TestInvoiceProcessor_FailAfterDunning_UnpaidFails(t *testing.T) {
	f := newInvoiceFixture(t)
	f.gw.Accounts[f.sub.AccountExternalKey()] = &killbill.Account{AccountID: "acc-1", ExternalKey: f.sub.AccountExternalKey()}
	f.gw.Subscriptions[f.sub.ExternalID] = &killbill.Subscription{SubscriptionID: "kb-sub-1", ExternalKey: f.sub.ExternalID}
	f.addInvoice("inv-9", 10, killbill.InvoiceStatusCommitted)

	require.NoError(t, f.processor.FailAfterDunning(context.Background(), f.sub.ID))

	got, _ := f.subs.GetByID(context.Background(), f.sub.ID)
	require.NotNil(t, got.FailedAt)
	assert.Contains(t, f.gw.CallLog, "CancelSubscription("+f.sub.ExternalID+", IMMEDIATE)")
}

func TestInvoiceProcessor_FailAfterDunning_RecoveredIsNoop(t *testing.T) {
	f := newInvoiceFixture(t)
	f.gw.Accounts[f.sub.AccountExternalKey()] = &killbill.Account{AccountID: "acc-1", ExternalKey: f.sub.AccountExternalKey()}
	f.addInvoice("inv-10", 0, killbill.InvoiceStatusCommitted)

	require.NoError(t, f.processor.FailAfterDunning(context.Background(), f.sub.ID))

	got, _ := f.subs.GetByID(context.Background(), f.sub.ID)
	assert.Nil(t, got.FailedAt)
}
