package killbill

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// MockGateway is a mock Kill Bill gateway for testing.
// Simulates account, subscription and invoice flows without a server.
type MockGateway struct {
	// GetAccountByExternalKeyFunc allows customizing account lookup behavior
	GetAccountByExternalKeyFunc func(ctx context.Context, externalKey string) (*Account, error)

	// GetAccountByIDFunc allows customizing account lookup by id
	GetAccountByIDFunc func(ctx context.Context, accountID string) (*Account, error)

	// CreateAccountFunc allows customizing account creation behavior
	CreateAccountFunc func(ctx context.Context, account Account) (*Account, error)

	// CreateSubscriptionFunc allows customizing subscription creation behavior
	CreateSubscriptionFunc func(ctx context.Context, params CreateSubscriptionParams) (*Subscription, error)

	// GetSubscriptionByExternalKeyFunc allows customizing subscription lookup behavior
	GetSubscriptionByExternalKeyFunc func(ctx context.Context, externalKey string) (*Subscription, error)

	// GetSubscriptionByIDFunc allows customizing subscription lookup behavior
	GetSubscriptionByIDFunc func(ctx context.Context, subscriptionID string) (*Subscription, error)

	// CancelSubscriptionFunc allows customizing cancellation behavior
	CancelSubscriptionFunc func(ctx context.Context, externalKey string, policy CancelPolicy) (*Subscription, error)

	// PauseSubscriptionFunc allows customizing pause behavior
	PauseSubscriptionFunc func(ctx context.Context, externalKey string) (*Subscription, error)

	// ResumeSubscriptionFunc allows customizing resume behavior
	ResumeSubscriptionFunc func(ctx context.Context, externalKey string) (*Subscription, error)

	// ChangePlanFunc allows customizing plan change behavior
	ChangePlanFunc func(ctx context.Context, params ChangePlanParams) (*Subscription, error)

	// GetInvoiceFunc allows customizing invoice retrieval behavior
	GetInvoiceFunc func(ctx context.Context, invoiceID string, withItems bool) (*Invoice, error)

	// GetAccountInvoicesFunc allows customizing account invoice listing behavior
	GetAccountInvoicesFunc func(ctx context.Context, accountID string) ([]Invoice, error)

	// TriggerInvoiceFunc allows customizing invoice generation behavior
	TriggerInvoiceFunc func(ctx context.Context, accountID string, targetDate string) (*Invoice, error)

	// PayInvoiceFunc allows customizing invoice payment behavior
	PayInvoiceFunc func(ctx context.Context, invoiceID string, paymentMethodID string) (*Payment, error)

	// VoidInvoiceFunc allows customizing invoice voiding behavior
	VoidInvoiceFunc func(ctx context.Context, invoiceID string) error

	// AddCreditFunc allows customizing credit behavior
	AddCreditFunc func(ctx context.Context, credit Credit) (*Credit, error)

	// GetInvoicePaymentsFunc allows customizing invoice payment listing behavior
	GetInvoicePaymentsFunc func(ctx context.Context, invoiceID string) ([]Payment, error)

	// AddPaymentMethodFunc allows customizing payment method behavior
	AddPaymentMethodFunc func(ctx context.Context, method PaymentMethod) (*PaymentMethod, error)

	// UploadCatalogFunc allows customizing catalog upload behavior
	UploadCatalogFunc func(ctx context.Context, catalogXML []byte) error

	// GetCatalogPlansFunc allows customizing catalog download behavior
	GetCatalogPlansFunc func(ctx context.Context) ([]CatalogPlan, error)

	// Accounts stores created accounts by external key for retrieval
	Accounts map[string]*Account

	// Subscriptions stores created subscriptions by external key for retrieval
	Subscriptions map[string]*Subscription

	// Invoices stores invoices by id for retrieval
	Invoices map[string]*Invoice

	// UploadedCatalogs stores every catalog document uploaded
	UploadedCatalogs [][]byte

	// CallLog tracks method calls for test assertions
	CallLog []string
}

var _ Gateway = (*MockGateway)(nil)

// NewMockGateway creates a new mock Kill Bill gateway.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		Accounts:      make(map[string]*Account),
		Subscriptions: make(map[string]*Subscription),
		Invoices:      make(map[string]*Invoice),
		CallLog:       []string{},
	}
}

// GetAccountByExternalKey looks up a stored mock account.
func (m *MockGateway) GetAccountByExternalKey(ctx context.Context, externalKey string) (*Account, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("GetAccountByExternalKey(%s)", externalKey))

	if m.GetAccountByExternalKeyFunc != nil {
		return m.GetAccountByExternalKeyFunc(ctx, externalKey)
	}

	account, ok := m.Accounts[externalKey]
	if !ok {
		return nil, ErrNotFound
	}
	return account, nil
}

// GetAccountByID scans stored mock accounts for a matching id.
func (m *MockGateway) GetAccountByID(ctx context.Context, accountID string) (*Account, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("GetAccountByID(%s)", accountID))

	if m.GetAccountByIDFunc != nil {
		return m.GetAccountByIDFunc(ctx, accountID)
	}

	for _, account := range m.Accounts {
		if account.AccountID == accountID {
			return account, nil
		}
	}
	return nil, ErrNotFound
}

// CreateAccount creates a mock account.
func (m *MockGateway) CreateAccount(ctx context.Context, account Account) (*Account, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("CreateAccount(%s, %s)", account.ExternalKey, account.Currency))

	if m.CreateAccountFunc != nil {
		return m.CreateAccountFunc(ctx, account)
	}

	created := account
	created.AccountID = uuid.New().String()
	m.Accounts[account.ExternalKey] = &created
	return &created, nil
}

// GetOrCreateAccount resolves or creates a mock account.
func (m *MockGateway) GetOrCreateAccount(ctx context.Context, account Account) (string, error) {
	existing, err := m.GetAccountByExternalKey(ctx, account.ExternalKey)
	if err == nil {
		return existing.AccountID, nil
	}
	if !IsNotFound(err) {
		return "", err
	}
	created, err := m.CreateAccount(ctx, account)
	if err != nil {
		return "", err
	}
	return created.AccountID, nil
}

// CreateSubscription creates a mock subscription in ACTIVE state.
func (m *MockGateway) CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*Subscription, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("CreateSubscription(%s, %s)", params.ExternalKey, params.PlanName))

	if m.CreateSubscriptionFunc != nil {
		return m.CreateSubscriptionFunc(ctx, params)
	}

	sub := &Subscription{
		SubscriptionID: uuid.New().String(),
		AccountID:      params.AccountID,
		ExternalKey:    params.ExternalKey,
		PlanName:       params.PlanName,
		State:          SubscriptionStateActive,
	}
	m.Subscriptions[params.ExternalKey] = sub
	return sub, nil
}

// GetSubscriptionByExternalKey looks up a stored mock subscription.
func (m *MockGateway) GetSubscriptionByExternalKey(ctx context.Context, externalKey string) (*Subscription, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("GetSubscriptionByExternalKey(%s)", externalKey))

	if m.GetSubscriptionByExternalKeyFunc != nil {
		return m.GetSubscriptionByExternalKeyFunc(ctx, externalKey)
	}

	sub, ok := m.Subscriptions[externalKey]
	if !ok {
		return nil, ErrNotFound
	}
	return sub, nil
}

// GetSubscriptionByID looks up a stored mock subscription by id.
func (m *MockGateway) GetSubscriptionByID(ctx context.Context, subscriptionID string) (*Subscription, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("GetSubscriptionByID(%s)", subscriptionID))

	if m.GetSubscriptionByIDFunc != nil {
		return m.GetSubscriptionByIDFunc(ctx, subscriptionID)
	}

	for _, sub := range m.Subscriptions {
		if sub.SubscriptionID == subscriptionID {
			return sub, nil
		}
	}
	return nil, ErrNotFound
}

// CancelSubscription marks a stored mock subscription cancelled.
func (m *MockGateway) CancelSubscription(ctx context.Context, externalKey string, policy CancelPolicy) (*Subscription, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("CancelSubscription(%s, %s)", externalKey, policy))

	if m.CancelSubscriptionFunc != nil {
		return m.CancelSubscriptionFunc(ctx, externalKey, policy)
	}

	sub, ok := m.Subscriptions[externalKey]
	if !ok {
		return nil, ErrNotFound
	}
	sub.State = SubscriptionStateCancelled
	sub.CancelledDate = "2025-01-01"
	return sub, nil
}

// PauseSubscription marks a stored mock subscription blocked.
func (m *MockGateway) PauseSubscription(ctx context.Context, externalKey string) (*Subscription, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("PauseSubscription(%s)", externalKey))

	if m.PauseSubscriptionFunc != nil {
		return m.PauseSubscriptionFunc(ctx, externalKey)
	}

	sub, ok := m.Subscriptions[externalKey]
	if !ok {
		return nil, ErrNotFound
	}
	sub.State = SubscriptionStateBlocked
	return sub, nil
}

// ResumeSubscription marks a stored mock subscription active.
func (m *MockGateway) ResumeSubscription(ctx context.Context, externalKey string) (*Subscription, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("ResumeSubscription(%s)", externalKey))

	if m.ResumeSubscriptionFunc != nil {
		return m.ResumeSubscriptionFunc(ctx, externalKey)
	}

	sub, ok := m.Subscriptions[externalKey]
	if !ok {
		return nil, ErrNotFound
	}
	sub.State = SubscriptionStateActive
	return sub, nil
}

// ChangePlan moves a stored mock subscription to a new plan.
func (m *MockGateway) ChangePlan(ctx context.Context, params ChangePlanParams) (*Subscription, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("ChangePlan(%s, %s)", params.ExternalKey, params.NewPlanName))

	if m.ChangePlanFunc != nil {
		return m.ChangePlanFunc(ctx, params)
	}

	sub, ok := m.Subscriptions[params.ExternalKey]
	if !ok {
		return nil, ErrNotFound
	}
	sub.PlanName = params.NewPlanName
	return sub, nil
}

// GetInvoice looks up a stored mock invoice.
func (m *MockGateway) GetInvoice(ctx context.Context, invoiceID string, withItems bool) (*Invoice, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("GetInvoice(%s, %t)", invoiceID, withItems))

	if m.GetInvoiceFunc != nil {
		return m.GetInvoiceFunc(ctx, invoiceID, withItems)
	}

	invoice, ok := m.Invoices[invoiceID]
	if !ok {
		return nil, ErrNotFound
	}
	return invoice, nil
}

// GetAccountInvoices lists stored mock invoices for an account.
func (m *MockGateway) GetAccountInvoices(ctx context.Context, accountID string) ([]Invoice, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("GetAccountInvoices(%s)", accountID))

	if m.GetAccountInvoicesFunc != nil {
		return m.GetAccountInvoicesFunc(ctx, accountID)
	}

	var invoices []Invoice
	for _, invoice := range m.Invoices {
		if invoice.AccountID == accountID {
			invoices = append(invoices, *invoice)
		}
	}
	return invoices, nil
}

// TriggerInvoice creates an empty committed mock invoice.
func (m *MockGateway) TriggerInvoice(ctx context.Context, accountID string, targetDate string) (*Invoice, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("TriggerInvoice(%s, %s)", accountID, targetDate))

	if m.TriggerInvoiceFunc != nil {
		return m.TriggerInvoiceFunc(ctx, accountID, targetDate)
	}

	invoice := &Invoice{
		InvoiceID:  uuid.New().String(),
		AccountID:  accountID,
		TargetDate: targetDate,
		Status:     InvoiceStatusCommitted,
	}
	m.Invoices[invoice.InvoiceID] = invoice
	return invoice, nil
}

// PayInvoice settles a stored mock invoice with a successful payment.
func (m *MockGateway) PayInvoice(ctx context.Context, invoiceID string, paymentMethodID string) (*Payment, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("PayInvoice(%s)", invoiceID))

	if m.PayInvoiceFunc != nil {
		return m.PayInvoiceFunc(ctx, invoiceID, paymentMethodID)
	}

	invoice, ok := m.Invoices[invoiceID]
	if !ok {
		return nil, ErrNotFound
	}
	payment := &Payment{
		PaymentID:       uuid.New().String(),
		AccountID:       invoice.AccountID,
		PurchasedAmount: invoice.Balance,
		Currency:        invoice.Currency,
		Transactions: []PaymentTransaction{{
			TransactionID:   uuid.New().String(),
			TransactionType: "PURCHASE",
			Status:          PaymentStatusSuccess,
			Amount:          invoice.Balance,
			Currency:        invoice.Currency,
		}},
	}
	invoice.Balance = 0
	return payment, nil
}

// VoidInvoice voids a stored mock invoice.
func (m *MockGateway) VoidInvoice(ctx context.Context, invoiceID string) error {
	m.CallLog = append(m.CallLog, fmt.Sprintf("VoidInvoice(%s)", invoiceID))

	if m.VoidInvoiceFunc != nil {
		return m.VoidInvoiceFunc(ctx, invoiceID)
	}

	invoice, ok := m.Invoices[invoiceID]
	if !ok {
		return ErrNotFound
	}
	invoice.Status = InvoiceStatusVoid
	return nil
}

// AddCredit applies a mock credit against a stored invoice.
func (m *MockGateway) AddCredit(ctx context.Context, credit Credit) (*Credit, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("AddCredit(%s, %v)", credit.InvoiceID, credit.CreditAmount))

	if m.AddCreditFunc != nil {
		return m.AddCreditFunc(ctx, credit)
	}

	created := credit
	created.CreditID = uuid.New().String()
	if invoice, ok := m.Invoices[credit.InvoiceID]; ok {
		invoice.Balance -= credit.CreditAmount
		invoice.CreditAdj += credit.CreditAmount
	}
	return &created, nil
}

// GetInvoicePayments lists mock payments for an invoice.
func (m *MockGateway) GetInvoicePayments(ctx context.Context, invoiceID string) ([]Payment, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("GetInvoicePayments(%s)", invoiceID))

	if m.GetInvoicePaymentsFunc != nil {
		return m.GetInvoicePaymentsFunc(ctx, invoiceID)
	}
	return nil, nil
}

// AddPaymentMethod registers a mock payment method.
func (m *MockGateway) AddPaymentMethod(ctx context.Context, method PaymentMethod) (*PaymentMethod, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("AddPaymentMethod(%s, %s)", method.AccountID, method.PluginName))

	if m.AddPaymentMethodFunc != nil {
		return m.AddPaymentMethodFunc(ctx, method)
	}

	created := method
	created.PaymentMethodID = uuid.New().String()
	return &created, nil
}

// UploadCatalog records an uploaded catalog document.
func (m *MockGateway) UploadCatalog(ctx context.Context, catalogXML []byte) error {
	m.CallLog = append(m.CallLog, fmt.Sprintf("UploadCatalog(%d bytes)", len(catalogXML)))

	if m.UploadCatalogFunc != nil {
		return m.UploadCatalogFunc(ctx, catalogXML)
	}

	m.UploadedCatalogs = append(m.UploadedCatalogs, catalogXML)
	return nil
}

// GetCatalogPlans lists plans for the stored mock subscriptions.
func (m *MockGateway) GetCatalogPlans(ctx context.Context) ([]CatalogPlan, error) {
	m.CallLog = append(m.CallLog, "GetCatalogPlans()")

	if m.GetCatalogPlansFunc != nil {
		return m.GetCatalogPlansFunc(ctx)
	}
	return nil, nil
}
