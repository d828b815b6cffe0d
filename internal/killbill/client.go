package killbill

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/crowdchurn/billing/internal/domain"
)

const defaultTimeout = 30 * time.Second

// Client is the HTTP implementation of Gateway. One Client speaks to one
// Kill Bill instance; multi-merchant deployments construct one Client per
// merchant from its resolved ClientConfig.
type Client struct {
	cfg    ClientConfig
	http   *http.Client
	logger zerolog.Logger
}

var _ Gateway = (*Client)(nil)

// NewClient validates the configuration and returns a connected client.
// Fails fast on a missing instance URL rather than erroring on first use.
func NewClient(cfg ClientConfig, logger zerolog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "killbill").Logger(),
	}, nil
}

// request describes one round-trip to the server.
type request struct {
	method string
	path   string
	query  url.Values
	body   any
	rawXML []byte
	// audit marks mutating calls that carry X-Killbill-CreatedBy headers.
	audit bool
}

// do executes the request and decodes a JSON response into out, when out is
// non-nil. A 201 with an empty body and a Location header is followed with a
// GET so callers always receive the created resource.
func (c *Client) do(ctx context.Context, req request, out any) error {
	httpReq, err := c.newRequest(ctx, req)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return &APIError{Message: fmt.Sprintf("%s %s: %v", req.method, req.path, err), Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("method", req.method).
		Str("path", req.path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("killbill request")

	if resp.StatusCode >= 400 {
		return c.errorFromResponse(req, resp)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return &APIError{Message: fmt.Sprintf("%s %s: reading response: %v", req.method, req.path, err), Err: err}
	}

	if len(bytes.TrimSpace(payload)) == 0 {
		if loc := resp.Header.Get("Location"); loc != "" {
			return c.follow(ctx, loc, out)
		}
		return nil
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("%s %s: decoding response: %v", req.method, req.path, err),
			Err:        err,
		}
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, req request) (*http.Request, error) {
	u := strings.TrimRight(c.cfg.BaseURL, "/") + req.path
	if len(req.query) > 0 {
		u += "?" + req.query.Encode()
	}

	var body io.Reader
	contentType := ""
	switch {
	case req.rawXML != nil:
		body = bytes.NewReader(req.rawXML)
		contentType = "text/xml"
	case req.body != nil:
		encoded, err := json.Marshal(req.body)
		if err != nil {
			return nil, domain.Internal(err, "killbill.request", "encoding request body")
		}
		body = bytes.NewReader(encoded)
		contentType = "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, u, body)
	if err != nil {
		return nil, domain.Internal(err, "killbill.request", "building request")
	}

	httpReq.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	httpReq.Header.Set("X-Killbill-ApiKey", c.cfg.APIKey)
	httpReq.Header.Set("X-Killbill-ApiSecret", c.cfg.APISecret)
	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if req.audit {
		httpReq.Header.Set("X-Killbill-CreatedBy", c.cfg.CreatedBy)
		if c.cfg.Reason != "" {
			httpReq.Header.Set("X-Killbill-Reason", c.cfg.Reason)
		}
		if c.cfg.Comment != "" {
			httpReq.Header.Set("X-Killbill-Comment", c.cfg.Comment)
		}
	}
	return httpReq, nil
}

// follow fetches the resource named by a Location header. Kill Bill returns
// absolute URLs; relative ones are resolved against the instance base.
func (c *Client) follow(ctx context.Context, location string, out any) error {
	path := location
	if u, err := url.Parse(location); err == nil && u.IsAbs() {
		path = u.Path
		if u.RawQuery != "" {
			path += "?" + u.RawQuery
		}
	}
	return c.do(ctx, request{method: http.MethodGet, path: path}, out)
}

func (c *Client) errorFromResponse(req request, resp *http.Response) error {
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", req.method, req.path, ErrNotFound)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s %s: %w", req.method, req.path, ErrUnauthorized)
	}

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Message:    fmt.Sprintf("%s %s returned %d", req.method, req.path, resp.StatusCode),
	}
	var billingErr struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(payload, &billingErr) == nil && billingErr.Message != "" {
		apiErr.Message = billingErr.Message
		apiErr.Code = billingErr.Code
	}
	return apiErr
}

// GetAccountByExternalKey looks up an account by external key.
func (c *Client) GetAccountByExternalKey(ctx context.Context, externalKey string) (*Account, error) {
	var account Account
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/1.0/kb/accounts",
		query:  url.Values{"externalKey": {externalKey}},
	}, &account)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// GetAccountByID looks up an account by Kill Bill id.
func (c *Client) GetAccountByID(ctx context.Context, accountID string) (*Account, error) {
	var account Account
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/1.0/kb/accounts/" + accountID,
	}, &account)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// CreateAccount registers a new billing account.
func (c *Client) CreateAccount(ctx context.Context, account Account) (*Account, error) {
	var created Account
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/1.0/kb/accounts",
		body:   account,
		audit:  true,
	}, &created)
	if err != nil {
		return nil, err
	}
	if created.AccountID == "" {
		// Older server versions return 201 with no Location; re-fetch by key.
		fetched, err := c.GetAccountByExternalKey(ctx, account.ExternalKey)
		if err != nil {
			return nil, err
		}
		return fetched, nil
	}
	return &created, nil
}

// GetOrCreateAccount resolves or creates the account for the given template
// and returns its id. Lookup happens first so retried creations never produce
// duplicate accounts for one external key.
func (c *Client) GetOrCreateAccount(ctx context.Context, account Account) (string, error) {
	existing, err := c.GetAccountByExternalKey(ctx, account.ExternalKey)
	if err == nil {
		return existing.AccountID, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", err
	}

	created, err := c.CreateAccount(ctx, account)
	if err != nil {
		return "", err
	}
	c.logger.Info().
		Str("external_key", account.ExternalKey).
		Str("account_id", created.AccountID).
		Str("currency", account.Currency).
		Msg("created billing account")
	return created.AccountID, nil
}

// CreateSubscription starts a subscription on the given plan.
func (c *Client) CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*Subscription, error) {
	body := Subscription{
		AccountID:   params.AccountID,
		ExternalKey: params.ExternalKey,
		PlanName:    params.PlanName,
	}
	var created Subscription
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/1.0/kb/subscriptions",
		body:   body,
		audit:  true,
	}, &created)
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// GetSubscriptionByExternalKey looks up a subscription by external key.
func (c *Client) GetSubscriptionByExternalKey(ctx context.Context, externalKey string) (*Subscription, error) {
	var sub Subscription
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/1.0/kb/subscriptions",
		query:  url.Values{"externalKey": {externalKey}},
	}, &sub)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetSubscriptionByID looks up a subscription by id.
func (c *Client) GetSubscriptionByID(ctx context.Context, subscriptionID string) (*Subscription, error) {
	var sub Subscription
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/1.0/kb/subscriptions/" + subscriptionID,
	}, &sub)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// CancelSubscription ends the subscription under the given policy and
// returns its refreshed state.
func (c *Client) CancelSubscription(ctx context.Context, externalKey string, policy CancelPolicy) (*Subscription, error) {
	sub, err := c.GetSubscriptionByExternalKey(ctx, externalKey)
	if err != nil {
		return nil, err
	}
	err = c.do(ctx, request{
		method: http.MethodDelete,
		path:   "/1.0/kb/subscriptions/" + sub.SubscriptionID,
		query: url.Values{
			"entitlementPolicy": {string(policy)},
			"billingPolicy":     {string(policy)},
		},
		audit: true,
	}, nil)
	if err != nil {
		return nil, err
	}
	return c.GetSubscriptionByID(ctx, sub.SubscriptionID)
}

// PauseSubscription writes a PAUSED blocking state on the subscription's
// account.
func (c *Client) PauseSubscription(ctx context.Context, externalKey string) (*Subscription, error) {
	return c.blockAccount(ctx, externalKey, PauseBlockingState())
}

// ResumeSubscription lifts the account-level blocks.
func (c *Client) ResumeSubscription(ctx context.Context, externalKey string) (*Subscription, error) {
	return c.blockAccount(ctx, externalKey, ResumeBlockingState())
}

func (c *Client) blockAccount(ctx context.Context, externalKey string, state BlockingState) (*Subscription, error) {
	sub, err := c.GetSubscriptionByExternalKey(ctx, externalKey)
	if err != nil {
		return nil, err
	}
	err = c.do(ctx, request{
		method: http.MethodPost,
		path:   "/1.0/kb/accounts/" + sub.AccountID + "/block",
		body:   state,
		audit:  true,
	}, nil)
	if err != nil {
		return nil, err
	}
	c.logger.Info().
		Str("external_key", externalKey).
		Str("account_id", sub.AccountID).
		Str("state", state.StateName).
		Msg("updated account blocking state")
	return sub, nil
}

// ChangePlan moves the subscription to a new plan.
func (c *Client) ChangePlan(ctx context.Context, params ChangePlanParams) (*Subscription, error) {
	sub, err := c.GetSubscriptionByExternalKey(ctx, params.ExternalKey)
	if err != nil {
		return nil, err
	}
	policy := CancelPolicyEndOfTerm
	if params.Immediate {
		policy = CancelPolicyImmediate
	}
	err = c.do(ctx, request{
		method: http.MethodPut,
		path:   "/1.0/kb/subscriptions/" + sub.SubscriptionID,
		query:  url.Values{"billingPolicy": {string(policy)}},
		body:   Subscription{PlanName: params.NewPlanName},
		audit:  true,
	}, nil)
	if err != nil {
		return nil, err
	}
	return c.GetSubscriptionByID(ctx, sub.SubscriptionID)
}

// GetInvoice fetches an invoice, optionally with line items.
func (c *Client) GetInvoice(ctx context.Context, invoiceID string, withItems bool) (*Invoice, error) {
	query := url.Values{}
	if withItems {
		query.Set("withItems", "true")
	}
	var invoice Invoice
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/1.0/kb/invoices/" + invoiceID,
		query:  query,
	}, &invoice)
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

// GetAccountInvoices lists an account's invoices with line items.
func (c *Client) GetAccountInvoices(ctx context.Context, accountID string) ([]Invoice, error) {
	var invoices []Invoice
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/1.0/kb/accounts/" + accountID + "/invoices",
		query:  url.Values{"withItems": {"true"}},
	}, &invoices)
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

// TriggerInvoice generates an invoice for the account at target date.
func (c *Client) TriggerInvoice(ctx context.Context, accountID string, targetDate string) (*Invoice, error) {
	query := url.Values{"accountId": {accountID}}
	if targetDate != "" {
		query.Set("targetDate", targetDate)
	}
	var invoice Invoice
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/1.0/kb/invoices",
		query:  query,
		audit:  true,
	}, &invoice)
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

// PayInvoice attempts payment of the invoice's outstanding balance.
func (c *Client) PayInvoice(ctx context.Context, invoiceID string, paymentMethodID string) (*Payment, error) {
	invoice, err := c.GetInvoice(ctx, invoiceID, false)
	if err != nil {
		return nil, err
	}
	body := Payment{
		AccountID:       invoice.AccountID,
		PurchasedAmount: invoice.Balance,
		PaymentMethodID: paymentMethodID,
	}
	var payment Payment
	err = c.do(ctx, request{
		method: http.MethodPost,
		path:   "/1.0/kb/invoices/" + invoiceID + "/payments",
		body:   body,
		audit:  true,
	}, &payment)
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// VoidInvoice voids an unpaid invoice.
func (c *Client) VoidInvoice(ctx context.Context, invoiceID string) error {
	return c.do(ctx, request{
		method: http.MethodDelete,
		path:   "/1.0/kb/invoices/" + invoiceID,
		audit:  true,
	}, nil)
}

// AddCredit applies an account credit against an invoice.
func (c *Client) AddCredit(ctx context.Context, credit Credit) (*Credit, error) {
	// The credits endpoint accepts and returns a list.
	var created []Credit
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/1.0/kb/credits",
		body:   []Credit{credit},
		audit:  true,
	}, &created)
	if err != nil {
		return nil, err
	}
	if len(created) == 0 {
		return &credit, nil
	}
	return &created[0], nil
}

// GetInvoicePayments lists payments attempted against an invoice.
func (c *Client) GetInvoicePayments(ctx context.Context, invoiceID string) ([]Payment, error) {
	var payments []Payment
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/1.0/kb/invoices/" + invoiceID + "/payments",
		query:  url.Values{"withAttempts": {"true"}},
	}, &payments)
	if err != nil {
		return nil, err
	}
	return payments, nil
}

// AddPaymentMethod registers a payment method on an account.
func (c *Client) AddPaymentMethod(ctx context.Context, method PaymentMethod) (*PaymentMethod, error) {
	query := url.Values{}
	if method.IsDefault {
		query.Set("isDefault", "true")
	}
	var created PaymentMethod
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/1.0/kb/accounts/" + method.AccountID + "/paymentMethods",
		query:  query,
		body:   method,
		audit:  true,
	}, &created)
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// UploadCatalog uploads a tenant catalog XML document.
func (c *Client) UploadCatalog(ctx context.Context, catalogXML []byte) error {
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/1.0/kb/catalog/xml",
		rawXML: catalogXML,
		audit:  true,
	}, nil)
	if err != nil {
		return err
	}
	c.logger.Info().Int("bytes", len(catalogXML)).Msg("uploaded tenant catalog")
	return nil
}

// GetCatalogPlans downloads the current tenant catalog and extracts its
// plans.
func (c *Client) GetCatalogPlans(ctx context.Context) ([]CatalogPlan, error) {
	// The JSON catalog endpoint returns one entry per catalog version.
	var versions []struct {
		Products []struct {
			Name  string `json:"name"`
			Plans []struct {
				Name          string `json:"name"`
				BillingPeriod string `json:"billingPeriod"`
			} `json:"plans"`
		} `json:"products"`
	}
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/1.0/kb/catalog",
	}, &versions)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if len(versions) == 0 {
		return nil, nil
	}

	latest := versions[len(versions)-1]
	var plans []CatalogPlan
	for _, product := range latest.Products {
		for _, plan := range product.Plans {
			plans = append(plans, CatalogPlan{
				Name:          plan.Name,
				Product:       product.Name,
				BillingPeriod: plan.BillingPeriod,
			})
		}
	}
	return plans, nil
}
