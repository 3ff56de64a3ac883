package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"sahelpay-go/pkg/operation"
	"sahelpay-go/pkg/webhook"
)

const webhookVersion = "2024-01"

// Sender delivers signed webhooks to the merchant endpoint.
type Sender struct {
	client *http.Client
	url    string
	secret string
	logger *slog.Logger
}

func NewSender(url, secret string, timeout time.Duration, logger *slog.Logger) *Sender {
	return &Sender{
		client: &http.Client{Timeout: timeout},
		url:    url,
		secret: secret,
		logger: logger,
	}
}

// eventType names the event for an operation that reached status, e.g.
// payment.success or payout.completed.
func eventType(kind operation.Kind, status operation.Status) webhook.EventType {
	return webhook.EventType(string(kind) + "." + strings.ToLower(string(status)))
}

func (s *Sender) Send(ctx context.Context, kind operation.Kind, p operation.Payload) error {
	if s.url == "" {
		return nil
	}

	body, err := json.Marshal(map[string]any{
		"event":     eventType(kind, operation.Status(p.Status)),
		"version":   webhookVersion,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data":      p,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(webhook.SignatureHeader, webhook.Sign(body, s.secret, time.Now()))

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error sending webhook", "operationId", p.ID, "error", err)
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 400 {
		s.logger.WarnContext(ctx, "Webhook rejected", "operationId", p.ID, "status", resp.Status, "body", string(respBody))
		return fmt.Errorf("error response: %s", resp.Status)
	}

	s.logger.InfoContext(ctx, "Webhook delivered", "operationId", p.ID, "status", p.Status)
	return nil
}
