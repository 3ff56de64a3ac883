package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"sahelpay-go/pkg/capability"
	"sahelpay-go/pkg/operation"
	"sahelpay-go/pkg/poller"
)

type PayoutType string

const (
	PayoutMerchantWithdrawal PayoutType = "MERCHANT_WITHDRAWAL"
	PayoutSupplierPayment    PayoutType = "SUPPLIER_PAYMENT"
	PayoutSalary             PayoutType = "SALARY"
	PayoutRefund             PayoutType = "REFUND"
	PayoutOther              PayoutType = "OTHER"
)

// PayoutRequest sends money to a mobile-money wallet. Amount is in minor
// units and must fall within the client's payout limits.
type PayoutRequest struct {
	Amount         int64                    `json:"amount"`
	Provider       capability.PaymentMethod `json:"provider" validate:"required"`
	RecipientPhone string                   `json:"recipient_phone" validate:"required,e164"`
	RecipientName  string                   `json:"recipient_name,omitempty"`
	Description    string                   `json:"description,omitempty"`
	Type           PayoutType               `json:"type,omitempty"`
	Metadata       map[string]any           `json:"metadata,omitempty"`
	OrderID        string                   `json:"-"`
	IdempotencyKey string                   `json:"idempotency_key,omitempty"`
}

func (c *Client) CreatePayout(ctx context.Context, req PayoutRequest) (*operation.Snapshot, error) {
	if req.Amount < c.payoutMin {
		return nil, &ValidationError{Field: "amount", Code: "INVALID_AMOUNT", Message: fmt.Sprintf("minimum payout is %d", c.payoutMin)}
	}
	if req.Amount > c.payoutMax {
		return nil, &ValidationError{Field: "amount", Code: "INVALID_AMOUNT", Message: fmt.Sprintf("maximum payout is %d", c.payoutMax)}
	}
	if err := c.checkStruct(req); err != nil {
		return nil, err
	}
	if err := requireCapability(req.Provider, capability.Payouts); err != nil {
		return nil, err
	}

	if req.IdempotencyKey == "" && req.OrderID != "" {
		req.IdempotencyKey = c.IdempotencyKey(req.OrderID)
	}
	if req.IdempotencyKey == "" {
		return nil, &ValidationError{Field: "order_id", Code: "VALIDATION_ERROR", Message: "an order id or idempotency key is required"}
	}
	if req.Type == "" {
		req.Type = PayoutOther
	}
	if req.OrderID != "" {
		md := make(map[string]any, len(req.Metadata)+1)
		for k, v := range req.Metadata {
			md[k] = v
		}
		md[operation.CorrelationKey] = req.OrderID
		req.Metadata = md
	}

	var data operation.Payload
	if _, err := c.do(ctx, http.MethodPost, "/v1/payouts", req.IdempotencyKey, req, &data); err != nil {
		return nil, err
	}
	snapshot, err := toSnapshot(data, operation.KindPayout)
	if err != nil {
		return nil, err
	}
	if snapshot.CounterpartyPhone == "" {
		snapshot.CounterpartyPhone = req.RecipientPhone
	}

	c.logger.InfoContext(ctx, "Payout created", "payoutId", snapshot.ID, "provider", req.Provider, "status", snapshot.Status)
	return snapshot, nil
}

// GetPayout fetches a payout by its Gateway reference.
func (c *Client) GetPayout(ctx context.Context, reference string) (*operation.Snapshot, error) {
	return c.payoutCall(ctx, http.MethodGet, reference)
}

// CancelPayout asks the Gateway to cancel a payout that has not been sent
// yet. The returned snapshot reflects whatever status the Gateway settled on.
func (c *Client) CancelPayout(ctx context.Context, reference string) (*operation.Snapshot, error) {
	return c.payoutCall(ctx, http.MethodDelete, reference)
}

func (c *Client) payoutCall(ctx context.Context, method, reference string) (*operation.Snapshot, error) {
	if reference == "" {
		return nil, &ValidationError{Field: "reference", Code: "VALIDATION_ERROR", Message: "is required"}
	}
	var data operation.Payload
	found, err := c.do(ctx, method, "/v1/payouts/"+url.PathEscape(reference), "", nil, &data)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &APIError{StatusCode: http.StatusOK, Code: "EMPTY_RESPONSE", Message: "payout response carried no data"}
	}
	return toSnapshot(data, operation.KindPayout)
}

func (c *Client) PollPayout(ctx context.Context, reference string, opts ...poller.Option) (*operation.Snapshot, error) {
	return poller.Poll(ctx, reference, func(ctx context.Context) (*operation.Snapshot, error) {
		return c.GetPayout(ctx, reference)
	}, append([]poller.Option{poller.RetryIf(IsRetryable)}, opts...)...)
}
