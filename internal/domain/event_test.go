package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBillingEvent_Category(t *testing.T) {
	subscription := []string{
		EventSubscriptionCreation, EventSubscriptionPhase, EventSubscriptionChange,
		EventSubscriptionCancel, EventSubscriptionUncancel, EventSubscriptionBCDChange,
	}
	for _, eventType := range subscription {
		e := BillingEvent{EventType: eventType}
		assert.Equal(t, EventCategorySubscription, e.Category(), eventType)
	}

	invoice := []string{
		EventInvoiceCreation, EventInvoiceAdjustment, EventInvoiceNotification,
		EventInvoicePaymentSuccess, EventInvoicePaymentFailed,
	}
	for _, eventType := range invoice {
		e := BillingEvent{EventType: eventType}
		assert.Equal(t, EventCategoryInvoice, e.Category(), eventType)
	}

	payment := []string{
		EventPaymentSuccess, EventPaymentFailed, EventPaymentRefund, EventPaymentChargeback,
	}
	for _, eventType := range payment {
		e := BillingEvent{EventType: eventType}
		assert.Equal(t, EventCategoryPayment, e.Category(), eventType)
	}
}

func TestBillingEvent_UnknownTypeIsUnclassified(t *testing.T) {
	e := BillingEvent{EventType: "TENANT_CONFIG_CHANGE"}
	assert.Equal(t, EventCategoryUnclassified, e.Category())

	e = BillingEvent{}
	assert.Equal(t, EventCategoryUnclassified, e.Category())
}

func TestEventCategory_String(t *testing.T) {
	assert.Equal(t, "subscription", EventCategorySubscription.String())
	assert.Equal(t, "invoice", EventCategoryInvoice.String())
	assert.Equal(t, "payment", EventCategoryPayment.String())
	assert.Equal(t, "unclassified", EventCategoryUnclassified.String())
}

func TestBillingEvent_DecodesKillbillPayload(t *testing.T) {
	payload := `{
		"eventType": "INVOICE_PAYMENT_SUCCESS",
		"objectId": "5b7a5f2d-7b12-41c7-9f4e-cf1d7d9c6a10",
		"objectType": "INVOICE",
		"accountId": "0e9cfb49-2a89-4ae5-b59b-2e9d8cbeef11",
		"metaData": "{\"retries\":0}"
	}`

	var e BillingEvent
	require.NoError(t, json.Unmarshal([]byte(payload), &e))
	assert.Equal(t, EventInvoicePaymentSuccess, e.EventType)
	assert.Equal(t, "5b7a5f2d-7b12-41c7-9f4e-cf1d7d9c6a10", e.ObjectID)
	assert.Equal(t, EventCategoryInvoice, e.Category())
}
