package gateway

import (
	"context"
	"net/http"
	"strconv"

	"sahelpay-go/pkg/operation"
)

type RefundRequest struct {
	PaymentID      string `json:"payment_id" validate:"required"`
	Amount         int64  `json:"amount" validate:"gt=0"`
	Reason         string `json:"reason,omitempty"`
	RefundFees     bool   `json:"refund_fees"`
	IdempotencyKey string `json:"-"`
}

// CreateRefund refunds all or part of a payment. Without an explicit key the
// refund is keyed on the payment id and amount, so a retried call for the
// same refund is deduplicated by the Gateway.
func (c *Client) CreateRefund(ctx context.Context, req RefundRequest) (*operation.Snapshot, error) {
	if err := c.checkStruct(req); err != nil {
		return nil, err
	}

	key := req.IdempotencyKey
	if key == "" {
		key = refundKey(c.appName, req.PaymentID, req.Amount)
	}

	var data operation.Payload
	if _, err := c.do(ctx, http.MethodPost, "/v1/refunds", key, req, &data); err != nil {
		return nil, err
	}
	snapshot, err := toSnapshot(data, operation.KindRefund)
	if err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "Refund created", "refundId", snapshot.ID, "paymentId", req.PaymentID, "status", snapshot.Status)
	return snapshot, nil
}

func refundKey(app, paymentID string, amount int64) string {
	return app + "-refund-" + paymentID + "-" + strconv.FormatInt(amount, 10)
}
