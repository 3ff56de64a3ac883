package gateway

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/h2non/gock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sahelpay-go/pkg/capability"
	"sahelpay-go/pkg/operation"
	"sahelpay-go/pkg/poller"
)

const testURL = "http://gateway.test"

func newTestClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	c, err := New("sk_test_123", append([]Option{WithBaseURL(testURL)}, opts...)...)
	require.NoError(t, err)
	return c
}

func paymentReply(status string) map[string]any {
	data := map[string]any{
		"id":             "pay_1",
		"amount":         5000,
		"currency":       "XOF",
		"provider":       "ORANGE_MONEY",
		"customer_phone": "+22370000000",
		"checkout_url":   "https://pay.sahelpay.ml/c/pay_1",
		"metadata":       map[string]any{"app_order_id": "42"},
	}
	if status != "" {
		data["status"] = status
	}
	return map[string]any{"success": true, "data": data}
}

func validPayment() PaymentRequest {
	return PaymentRequest{
		Amount:        5000,
		Provider:      capability.OrangeMoney,
		CustomerPhone: "+22370000000",
		OrderID:       "42",
	}
}

func TestIdempotencyKey(t *testing.T) {
	assert.Equal(t, "app-order-42", IdempotencyKey("app", "42"))
	assert.Equal(t, IdempotencyKey("shop", "A-7"), IdempotencyKey("shop", "A-7"))
}

func TestNew(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)

	c, err := New("sk_test_123", WithEnvironment(Sandbox))
	require.NoError(t, err)
	assert.Equal(t, SandboxURL, c.BaseURL())

	c, err = New("sk_live_123")
	require.NoError(t, err)
	assert.Equal(t, ProductionURL, c.BaseURL())

	_, err = New("sk_test_123", WithPayoutLimits(10, 1))
	assert.Error(t, err)
}

func TestWithTimeout_LeavesCallerClientUntouched(t *testing.T) {
	shared := &http.Client{}

	c, err := New("sk_test_123", WithHTTPClient(shared), WithTimeout(5*time.Second))
	require.NoError(t, err)

	assert.Zero(t, shared.Timeout)
	assert.Equal(t, 5*time.Second, c.httpClient.Timeout)
	assert.NotSame(t, shared, c.httpClient)
}

func TestCreatePayment_SameOrderSameKey(t *testing.T) {
	defer gock.Off()

	gock.New(testURL).
		Post("/v1/payments").
		MatchHeader("Idempotency-Key", "^app-order-42$").
		MatchHeader("Authorization", "^Bearer sk_test_123$").
		MatchHeader("User-Agent", "^SahelPay-Go/").
		Times(2).
		Reply(201).
		JSON(paymentReply("PENDING"))

	c := newTestClient(t)
	first, err := c.CreatePayment(context.Background(), validPayment())
	require.NoError(t, err)
	second, err := c.CreatePayment(context.Background(), validPayment())
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, operation.StatusPending, first.Status)
	assert.Equal(t, int64(5000), first.Amount)
	assert.Equal(t, "https://pay.sahelpay.ml/c/pay_1", first.CheckoutURL)
	orderID, ok := first.CorrelationID()
	assert.True(t, ok)
	assert.Equal(t, "42", orderID)
	assert.True(t, gock.IsDone())
}

func TestCreatePayment_MissingStatusIsPending(t *testing.T) {
	defer gock.Off()

	gock.New(testURL).
		Post("/v1/payments").
		Reply(201).
		JSON(paymentReply(""))

	payment, err := newTestClient(t).CreatePayment(context.Background(), validPayment())
	require.NoError(t, err)
	assert.Equal(t, operation.StatusPending, payment.Status)
	assert.Equal(t, operation.KindPayment, payment.Kind)
}

func TestLocalValidation_SendsNothing(t *testing.T) {
	tests := []struct {
		name  string
		call  func(c *Client) error
		field string
	}{
		{
			name: "invalid phone",
			call: func(c *Client) error {
				req := validPayment()
				req.CustomerPhone = "70000000"
				_, err := c.CreatePayment(context.Background(), req)
				return err
			},
			field: "customer_phone",
		},
		{
			name: "zero amount",
			call: func(c *Client) error {
				req := validPayment()
				req.Amount = 0
				_, err := c.CreatePayment(context.Background(), req)
				return err
			},
			field: "amount",
		},
		{
			name: "card without email",
			call: func(c *Client) error {
				req := validPayment()
				req.Provider = capability.Visa
				req.CustomerName = "Awa Traore"
				_, err := c.CreatePayment(context.Background(), req)
				return err
			},
			field: "customer_email",
		},
		{
			name: "no idempotency key",
			call: func(c *Client) error {
				req := validPayment()
				req.OrderID = ""
				_, err := c.CreatePayment(context.Background(), req)
				return err
			},
			field: "order_id",
		},
		{
			name: "unknown provider",
			call: func(c *Client) error {
				req := validPayment()
				req.Provider = "PAYPAL"
				_, err := c.CreatePayment(context.Background(), req)
				return err
			},
			field: "provider",
		},
		{
			name: "payout below minimum",
			call: func(c *Client) error {
				_, err := c.CreatePayout(context.Background(), PayoutRequest{
					Amount: 99, Provider: capability.Wave, RecipientPhone: "+22370000000", OrderID: "1",
				})
				return err
			},
			field: "amount",
		},
		{
			name: "payout above maximum",
			call: func(c *Client) error {
				_, err := c.CreatePayout(context.Background(), PayoutRequest{
					Amount: 5_000_001, Provider: capability.Wave, RecipientPhone: "+22370000000", OrderID: "1",
				})
				return err
			},
			field: "amount",
		},
		{
			name: "refund without payment",
			call: func(c *Client) error {
				_, err := c.CreateRefund(context.Background(), RefundRequest{Amount: 100})
				return err
			},
			field: "payment_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer gock.Off()
			gock.Intercept()

			err := tt.call(newTestClient(t))

			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
			assert.Zero(t, vErr.StatusCode)
			assert.False(t, gock.HasUnmatchedRequest())
		})
	}
}

func TestCreatePayout_UnsupportedCapabilitySendsNothing(t *testing.T) {
	defer gock.Off()
	gock.Intercept()

	_, err := newTestClient(t).CreatePayout(context.Background(), PayoutRequest{
		Amount: 1000, Provider: capability.Card, RecipientPhone: "+22370000000", OrderID: "9",
	})

	var capErr *capability.Error
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, capability.Payouts, capErr.Capability)
	assert.False(t, gock.HasUnmatchedRequest())
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		mock      func()
		check     func(t *testing.T, err error)
		retryable bool
	}{
		{
			name: "unauthorized",
			mock: func() {
				gock.New(testURL).Get("/v1/payments/pay_1/status").
					Reply(401).JSON(map[string]any{"error": map[string]any{"code": "INVALID_API_KEY", "message": "bad key"}})
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrAuthentication)
			},
		},
		{
			name: "bad request",
			mock: func() {
				gock.New(testURL).Get("/v1/payments/pay_1/status").
					Reply(400).JSON(map[string]any{"error": map[string]any{"code": "INVALID_ID", "message": "bad id", "field": "id"}})
			},
			check: func(t *testing.T, err error) {
				var vErr *ValidationError
				require.ErrorAs(t, err, &vErr)
				assert.Equal(t, "INVALID_ID", vErr.Code)
				assert.Equal(t, http.StatusBadRequest, vErr.StatusCode)
			},
		},
		{
			name: "unprocessable",
			mock: func() {
				gock.New(testURL).Get("/v1/payments/pay_1/status").Reply(422).BodyString("not json")
			},
			check: func(t *testing.T, err error) {
				var vErr *ValidationError
				require.ErrorAs(t, err, &vErr)
				assert.Equal(t, "API_ERROR", vErr.Code)
			},
		},
		{
			name: "not found",
			mock: func() {
				gock.New(testURL).Get("/v1/payments/pay_1/status").
					Reply(404).JSON(map[string]any{"error": map[string]any{"code": "NOT_FOUND", "message": "no such payment"}})
			},
			check: func(t *testing.T, err error) {
				var apiErr *APIError
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, "NOT_FOUND", apiErr.Code)
				assert.NotErrorIs(t, err, ErrAuthentication)
			},
		},
		{
			name: "server error",
			mock: func() {
				gock.New(testURL).Get("/v1/payments/pay_1/status").Reply(503)
			},
			check: func(t *testing.T, err error) {
				var apiErr *APIError
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
			},
			retryable: true,
		},
		{
			name: "network failure",
			mock: func() {
				gock.New(testURL).Get("/v1/payments/pay_1/status").ReplyError(errors.New("connection reset by peer"))
			},
			check: func(t *testing.T, err error) {
				var netErr *NetworkError
				require.ErrorAs(t, err, &netErr)
				assert.Contains(t, err.Error(), "connection reset by peer")
			},
			retryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer gock.Off()
			tt.mock()

			_, err := newTestClient(t).PaymentStatus(context.Background(), "pay_1")
			require.Error(t, err)
			tt.check(t, err)
			assert.Equal(t, tt.retryable, IsRetryable(err))
			assert.True(t, gock.IsDone())
		})
	}
}

func TestSearchPayment(t *testing.T) {
	defer gock.Off()

	gock.New(testURL).
		Get("/v1/payments/search").
		MatchParam("client_reference", "^INV-1$").
		Reply(200).
		JSON(paymentReply("SUCCESS"))
	gock.New(testURL).
		Get("/v1/payments/search").
		MatchParam("client_reference", "^INV-2$").
		Reply(200).
		JSON(map[string]any{"success": true, "data": nil})

	c := newTestClient(t)
	found, err := c.SearchPayment(context.Background(), "INV-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, operation.StatusSuccess, found.Status)

	missing, err := c.SearchPayment(context.Background(), "INV-2")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPollPayment(t *testing.T) {
	defer gock.Off()

	gock.New(testURL).Get("/v1/payments/pay_1/status").Times(2).Reply(200).JSON(paymentReply("PENDING"))
	gock.New(testURL).Get("/v1/payments/pay_1/status").Reply(503)
	gock.New(testURL).Get("/v1/payments/pay_1/status").Reply(200).JSON(paymentReply("SUCCESS"))

	var seen []operation.Status
	snapshot, err := newTestClient(t).PollPayment(context.Background(), "pay_1",
		poller.WithInterval(time.Millisecond),
		poller.WithTimeout(time.Second),
		poller.OnStatus(func(s operation.Status, _ *operation.Snapshot) { seen = append(seen, s) }))

	require.NoError(t, err)
	assert.Equal(t, operation.StatusSuccess, snapshot.Status)
	assert.Equal(t, []operation.Status{operation.StatusPending, operation.StatusPending, operation.StatusSuccess}, seen)
	assert.True(t, gock.IsDone())
}

func TestPollPayment_StopsOnAuthenticationError(t *testing.T) {
	defer gock.Off()

	gock.New(testURL).Get("/v1/payments/pay_1/status").Reply(401)

	_, err := newTestClient(t).PollPayment(context.Background(), "pay_1",
		poller.WithInterval(time.Millisecond), poller.WithTimeout(time.Second))

	assert.ErrorIs(t, err, ErrAuthentication)
	assert.NotErrorIs(t, err, poller.ErrTimeout)
	assert.True(t, gock.IsDone())
}

func TestPayoutLifecycle(t *testing.T) {
	defer gock.Off()

	payout := func(status string) map[string]any {
		return map[string]any{"success": true, "data": map[string]any{
			"id": "po_1", "reference": "PO-REF-1", "amount": 25000, "currency": "XOF",
			"provider": "WAVE", "recipient_phone": "+22376000000", "status": status,
		}}
	}

	gock.New(testURL).
		Post("/v1/payouts").
		MatchHeader("Idempotency-Key", "^shop-order-77$").
		Reply(201).
		JSON(payout("PENDING"))
	gock.New(testURL).Get("/v1/payouts/PO-REF-1").Reply(200).JSON(payout("PROCESSING"))
	gock.New(testURL).Delete("/v1/payouts/PO-REF-1").Reply(200).JSON(payout("CANCELLED"))

	c := newTestClient(t, WithAppName("shop"))
	created, err := c.CreatePayout(context.Background(), PayoutRequest{
		Amount: 25000, Provider: capability.Wave, RecipientPhone: "+22376000000", OrderID: "77",
	})
	require.NoError(t, err)
	assert.Equal(t, operation.KindPayout, created.Kind)
	assert.Equal(t, operation.StatusPending, created.Status)

	current, err := c.GetPayout(context.Background(), "PO-REF-1")
	require.NoError(t, err)
	assert.Equal(t, operation.StatusProcessing, current.Status)

	cancelled, err := c.CancelPayout(context.Background(), "PO-REF-1")
	require.NoError(t, err)
	assert.True(t, cancelled.IsTerminal())
	assert.True(t, gock.IsDone())
}

func TestCreateRefund(t *testing.T) {
	defer gock.Off()

	gock.New(testURL).
		Post("/v1/refunds").
		MatchHeader("Idempotency-Key", "^app-refund-pay_1-2000$").
		Reply(201).
		JSON(map[string]any{"success": true, "data": map[string]any{
			"id": "rf_1", "amount": 2000, "currency": "XOF", "status": "PENDING",
		}})

	refund, err := newTestClient(t).CreateRefund(context.Background(), RefundRequest{PaymentID: "pay_1", Amount: 2000})
	require.NoError(t, err)
	assert.Equal(t, operation.KindRefund, refund.Kind)
	assert.Equal(t, "rf_1", refund.ID)
	assert.True(t, gock.IsDone())
}
