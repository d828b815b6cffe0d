package domain

import "context"

// BillingEvent is an inbound Kill Bill push notification. Delivery is
// at-least-once: the same event can arrive twice and events for one
// subscription can arrive out of order.
type BillingEvent struct {
	EventType     string `json:"eventType" validate:"required"`
	ObjectID      string `json:"objectId"`
	ObjectType    string `json:"objectType"`
	AccountID     string `json:"accountId"`
	ExternalKey   string `json:"externalKey"`
	EffectiveDate string `json:"effectiveDate"` // RFC 3339
	NewPlan       string `json:"newPlan"`
	NewPhase      string `json:"newPhase"`
	MetaData      string `json:"metaData"`
}

// EventCategory is the closed classification of inbound event types.
type EventCategory int

const (
	EventCategoryUnclassified EventCategory = iota
	EventCategorySubscription
	EventCategoryInvoice
	EventCategoryPayment
)

func (c EventCategory) String() string {
	switch c {
	case EventCategorySubscription:
		return "subscription"
	case EventCategoryInvoice:
		return "invoice"
	case EventCategoryPayment:
		return "payment"
	default:
		return "unclassified"
	}
}

// Subscription lifecycle event types emitted by Kill Bill.
const (
	EventSubscriptionCreation  = "SUBSCRIPTION_CREATION"
	EventSubscriptionPhase     = "SUBSCRIPTION_PHASE"
	EventSubscriptionChange    = "SUBSCRIPTION_CHANGE"
	EventSubscriptionCancel    = "SUBSCRIPTION_CANCEL"
	EventSubscriptionUncancel  = "SUBSCRIPTION_UNCANCEL"
	EventSubscriptionBCDChange = "SUBSCRIPTION_BCD_CHANGE"
)

// Invoice event types.
const (
	EventInvoiceCreation       = "INVOICE_CREATION"
	EventInvoiceAdjustment     = "INVOICE_ADJUSTMENT"
	EventInvoiceNotification   = "INVOICE_NOTIFICATION"
	EventInvoicePaymentSuccess = "INVOICE_PAYMENT_SUCCESS"
	EventInvoicePaymentFailed  = "INVOICE_PAYMENT_FAILED"
)

// Payment event types.
const (
	EventPaymentSuccess    = "PAYMENT_SUCCESS"
	EventPaymentFailed     = "PAYMENT_FAILED"
	EventPaymentRefund     = "PAYMENT_REFUND"
	EventPaymentChargeback = "PAYMENT_CHARGEBACK"
)

var eventCategories = map[string]EventCategory{
	EventSubscriptionCreation:  EventCategorySubscription,
	EventSubscriptionPhase:     EventCategorySubscription,
	EventSubscriptionChange:    EventCategorySubscription,
	EventSubscriptionCancel:    EventCategorySubscription,
	EventSubscriptionUncancel:  EventCategorySubscription,
	EventSubscriptionBCDChange: EventCategorySubscription,

	EventInvoiceCreation:       EventCategoryInvoice,
	EventInvoiceAdjustment:     EventCategoryInvoice,
	EventInvoiceNotification:   EventCategoryInvoice,
	EventInvoicePaymentSuccess: EventCategoryInvoice,
	EventInvoicePaymentFailed:  EventCategoryInvoice,

	EventPaymentSuccess:    EventCategoryPayment,
	EventPaymentFailed:     EventCategoryPayment,
	EventPaymentRefund:     EventCategoryPayment,
	EventPaymentChargeback: EventCategoryPayment,
}

// Category classifies the event into one of the three disjoint sets.
// Unknown types map to EventCategoryUnclassified; they are logged and
// dropped by the dispatcher, never treated as errors.
func (e *BillingEvent) Category() EventCategory {
	return eventCategories[e.EventType]
}

// EventStore is the processed-event dedupe ledger, guarding against
// duplicate webhook delivery ahead of the per-row state guards. An event is
// marked only once its handlers have finished, so a failed delivery stays
// unmarked and redelivery runs the handlers again.
type EventStore interface {
	// Seen reports whether the (type, object) pair has been processed.
	Seen(ctx context.Context, eventType, objectID string) (bool, error)

	// MarkProcessed records the (type, object) pair and reports whether it
	// was already present. Safe under concurrent delivery of the same event.
	MarkProcessed(ctx context.Context, eventType, objectID string) (alreadyProcessed bool, err error)
}
