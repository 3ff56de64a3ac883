package gateway

import (
	"context"
	"net/http"
	"net/url"

	"sahelpay-go/pkg/capability"
	"sahelpay-go/pkg/operation"
	"sahelpay-go/pkg/poller"
)

// PaymentRequest collects money from a customer. Amount is in minor units.
//
// Either OrderID or IdempotencyKey must be set: the create call is only safe
// to retry under a stable key. OrderID is also stored as the
// operation.CorrelationKey metadata entry so webhooks can be matched back to
// the order.
type PaymentRequest struct {
	Amount          int64                    `json:"amount" validate:"gt=0"`
	Currency        string                   `json:"currency,omitempty" validate:"omitempty,len=3"`
	Provider        capability.PaymentMethod `json:"provider" validate:"required"`
	CustomerPhone   string                   `json:"customer_phone" validate:"required,e164"`
	CustomerName    string                   `json:"customer_name,omitempty"`
	CustomerEmail   string                   `json:"customer_email,omitempty" validate:"omitempty,email"`
	Country         string                   `json:"country,omitempty" validate:"omitempty,len=2"`
	Description     string                   `json:"-"`
	CallbackURL     string                   `json:"-" validate:"omitempty,url"`
	ReturnURL       string                   `json:"return_url,omitempty" validate:"omitempty,url"`
	SuccessURL      string                   `json:"success_url,omitempty" validate:"omitempty,url"`
	CancelURL       string                   `json:"cancel_url,omitempty" validate:"omitempty,url"`
	ClientReference string                   `json:"client_reference,omitempty"`
	HostedCheckout  *bool                    `json:"hosted_checkout,omitempty"`
	Metadata        map[string]any           `json:"-"`
	OrderID         string                   `json:"-"`
	IdempotencyKey  string                   `json:"-"`
}

type paymentBody struct {
	PaymentRequest
	PaymentMethod string         `json:"payment_method,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Payment is a created payment: its snapshot plus where to send the customer.
type Payment struct {
	operation.Snapshot
	CheckoutURL string
	RedirectURL string
	USSDCode    string
}

type paymentData struct {
	operation.Payload
	CheckoutURL string `json:"checkout_url"`
	RedirectURL string `json:"redirect_url"`
	USSDCode    string `json:"ussd_code"`
}

func (c *Client) CreatePayment(ctx context.Context, req PaymentRequest) (*Payment, error) {
	if err := c.checkStruct(req); err != nil {
		return nil, err
	}
	if err := requireCapability(req.Provider, capability.Payments); err != nil {
		return nil, err
	}
	if capability.IsCard(req.Provider) {
		if req.CustomerName == "" {
			return nil, &ValidationError{Field: "customer_name", Code: "VALIDATION_ERROR", Message: "is required for card payments"}
		}
		if req.CustomerEmail == "" {
			return nil, &ValidationError{Field: "customer_email", Code: "VALIDATION_ERROR", Message: "is required for card payments"}
		}
	}

	key := req.IdempotencyKey
	if key == "" && req.OrderID != "" {
		key = c.IdempotencyKey(req.OrderID)
	}
	if key == "" {
		return nil, &ValidationError{Field: "order_id", Code: "VALIDATION_ERROR", Message: "an order id or idempotency key is required"}
	}

	body := paymentBody{PaymentRequest: req, Metadata: paymentMetadata(req)}
	if body.Currency == "" {
		body.Currency = "XOF"
	}
	if capability.IsCard(req.Provider) {
		body.PaymentMethod = string(capability.Card)
	}

	var data paymentData
	if _, err := c.do(ctx, http.MethodPost, "/v1/payments", key, body, &data); err != nil {
		return nil, err
	}
	snapshot, err := data.Snapshot(operation.KindPayment)
	if err != nil {
		return nil, &APIError{StatusCode: http.StatusOK, Code: "INVALID_RESPONSE", Message: err.Error()}
	}

	// The create response does not always echo the request.
	if snapshot.Provider == "" {
		snapshot.Provider = string(req.Provider)
	}
	if snapshot.CounterpartyPhone == "" {
		snapshot.CounterpartyPhone = req.CustomerPhone
	}
	if snapshot.Metadata == nil {
		snapshot.Metadata = body.Metadata
	}

	c.logger.InfoContext(ctx, "Payment created", "paymentId", snapshot.ID, "provider", snapshot.Provider, "status", snapshot.Status)
	return &Payment{
		Snapshot:    snapshot,
		CheckoutURL: data.CheckoutURL,
		RedirectURL: data.RedirectURL,
		USSDCode:    data.USSDCode,
	}, nil
}

func paymentMetadata(req PaymentRequest) map[string]any {
	md := make(map[string]any, len(req.Metadata)+3)
	for k, v := range req.Metadata {
		md[k] = v
	}
	if req.OrderID != "" {
		md[operation.CorrelationKey] = req.OrderID
	}
	if _, ok := md["description"]; !ok && req.Description != "" {
		md["description"] = req.Description
	}
	if _, ok := md["callback_url"]; !ok && req.CallbackURL != "" {
		md["callback_url"] = req.CallbackURL
	}
	if len(md) == 0 {
		return nil
	}
	return md
}

// PaymentStatus queries the Gateway for the current status of a payment.
func (c *Client) PaymentStatus(ctx context.Context, paymentID string) (*operation.Snapshot, error) {
	if paymentID == "" {
		return nil, &ValidationError{Field: "id", Code: "VALIDATION_ERROR", Message: "is required"}
	}
	var data operation.Payload
	found, err := c.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID)+"/status", "", nil, &data)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &APIError{StatusCode: http.StatusOK, Code: "EMPTY_RESPONSE", Message: "status response carried no data"}
	}
	return toSnapshot(data, operation.KindPayment)
}

// SearchPayment looks a payment up by the merchant's client reference. It
// returns nil, nil when nothing matches.
func (c *Client) SearchPayment(ctx context.Context, clientReference string) (*operation.Snapshot, error) {
	q := url.Values{"client_reference": {clientReference}}
	var data operation.Payload
	found, err := c.do(ctx, http.MethodGet, "/v1/payments/search?"+q.Encode(), "", nil, &data)
	if err != nil || !found {
		return nil, err
	}
	return toSnapshot(data, operation.KindPayment)
}

// PollPayment waits for the payment to reach a terminal status. Only
// retryable failures are retried; see poller.Poll for the timing contract.
func (c *Client) PollPayment(ctx context.Context, paymentID string, opts ...poller.Option) (*operation.Snapshot, error) {
	return poller.Poll(ctx, paymentID, func(ctx context.Context) (*operation.Snapshot, error) {
		return c.PaymentStatus(ctx, paymentID)
	}, append([]poller.Option{poller.RetryIf(IsRetryable)}, opts...)...)
}

func toSnapshot(p operation.Payload, kind operation.Kind) (*operation.Snapshot, error) {
	s, err := p.Snapshot(kind)
	if err != nil {
		return nil, &APIError{StatusCode: http.StatusOK, Code: "INVALID_RESPONSE", Message: err.Error()}
	}
	return &s, nil
}
