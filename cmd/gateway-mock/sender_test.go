package main

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/h2non/gock"
	"github.com/stretchr/testify/assert"

	"sahelpay-go/pkg/operation"
	"sahelpay-go/pkg/webhook"
)

func TestSender_Send(t *testing.T) {
	tests := []struct {
		name           string
		mockResponse   func()
		expectedError  bool
		expectedErrMsg string
	}{
		{
			name: "Success",
			mockResponse: func() {
				gock.New("http://merchant.test").
					Post("/webhooks/sahelpay").
					MatchHeader(webhook.SignatureHeader, `^t=\d+,v1=[0-9a-f]{64}$`).
					Reply(200).
					JSON(map[string]bool{"received": true})
			},
		},
		{
			name: "Rejected",
			mockResponse: func() {
				gock.New("http://merchant.test").
					Post("/webhooks/sahelpay").
					Reply(401).
					JSON(map[string]string{"error": "invalid signature"})
			},
			expectedError:  true,
			expectedErrMsg: "401",
		},
		{
			name: "Timeout",
			mockResponse: func() {
				gock.New("http://merchant.test").
					Post("/webhooks/sahelpay").
					Reply(200).
					Delay(500 * time.Millisecond)
			},
			expectedError:  true,
			expectedErrMsg: "Client.Timeout exceeded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer gock.Off()
			tt.mockResponse()

			sender := NewSender("http://merchant.test/webhooks/sahelpay", "whsec_test", 100*time.Millisecond,
				slog.New(slog.NewTextHandler(io.Discard, nil)))

			err := sender.Send(context.Background(), operation.KindPayment, operation.Payload{
				ID:     "pay_1",
				Amount: "5000",
				Status: string(operation.StatusSuccess),
			})
			if tt.expectedError {
				assert.Error(t, err)
				if tt.expectedErrMsg != "" {
					assert.Contains(t, err.Error(), tt.expectedErrMsg)
				}
			} else {
				assert.NoError(t, err)
			}
			assert.True(t, gock.IsDone())
		})
	}
}

func TestEventType(t *testing.T) {
	assert.Equal(t, webhook.EventPaymentSuccess, eventType(operation.KindPayment, operation.StatusSuccess))
	assert.Equal(t, webhook.EventPayoutProcessing, eventType(operation.KindPayout, operation.StatusProcessing))
	assert.Equal(t, webhook.EventRefundCompleted, eventType(operation.KindRefund, operation.StatusCompleted))
	assert.True(t, eventType(operation.KindPayout, operation.StatusCancelled).Known())
}
