// Package gateway is the HTTP client for the SahelPay Gateway: it creates
// payments, payouts and refunds, queries their status and polls them to a
// terminal state.
package gateway

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

	"github.com/go-playground/validator/v10"
)

const Version = "1.0.0"

type Environment string

const (
	Production Environment = "production"
	Sandbox    Environment = "sandbox"
)

const (
	ProductionURL = "https://api.sahelpay.ml"
	SandboxURL    = "https://sandbox.sahelpay.ml"

	DefaultTimeout   = 30 * time.Second
	DefaultAppName   = "app"
	DefaultPayoutMin = int64(100)
	DefaultPayoutMax = int64(5_000_000)

	idempotencyHeader = "Idempotency-Key"
	maxResponseBytes  = 1 << 20
)

type Client struct {
	secretKey  string
	baseURL    string
	appName    string
	httpClient *http.Client
	logger     *slog.Logger
	validate   *validator.Validate
	payoutMin  int64
	payoutMax  int64
}

type Option func(*Client)

func WithEnvironment(env Environment) Option {
	return func(c *Client) {
		if env == Sandbox {
			c.baseURL = SandboxURL
		} else {
			c.baseURL = ProductionURL
		}
	}
}

func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		hc := *c.httpClient
		hc.Timeout = d
		c.httpClient = &hc
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithAppName sets the prefix of keys derived by IdempotencyKey.
func WithAppName(name string) Option {
	return func(c *Client) { c.appName = name }
}

func WithPayoutLimits(minAmount, maxAmount int64) Option {
	return func(c *Client) {
		c.payoutMin = minAmount
		c.payoutMax = maxAmount
	}
}

func New(secretKey string, opts ...Option) (*Client, error) {
	if secretKey == "" {
		return nil, fmt.Errorf("gateway: secret key is required")
	}

	c := &Client{
		secretKey:  secretKey,
		baseURL:    ProductionURL,
		appName:    DefaultAppName,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     slog.Default(),
		validate:   newValidator(),
		payoutMin:  DefaultPayoutMin,
		payoutMax:  DefaultPayoutMax,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.payoutMin > c.payoutMax {
		return nil, fmt.Errorf("gateway: payout minimum %d exceeds maximum %d", c.payoutMin, c.payoutMax)
	}
	return c, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// IdempotencyKey derives the create-call key from the merchant's order id.
// The same order always yields the same key, so a retried create cannot
// produce a second operation.
func IdempotencyKey(app, orderID string) string {
	return fmt.Sprintf("%s-order-%s", app, orderID)
}

func (c *Client) IdempotencyKey(orderID string) string {
	return IdempotencyKey(c.appName, orderID)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Field   string `json:"field"`
	} `json:"error"`
}

// do sends one request and decodes the `data` member of the response into
// out. A null or absent `data` leaves out untouched and returns found=false.
func (c *Client) do(ctx context.Context, method, path, idempotencyKey string, body, out any) (bool, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return false, fmt.Errorf("gateway: encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return false, fmt.Errorf("gateway: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "SahelPay-Go/"+Version)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set(idempotencyHeader, idempotencyKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "Gateway request failed", "method", method, "path", path, "error", err)
		return false, &NetworkError{Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return false, &NetworkError{Method: method, Path: path, Err: err}
	}

	c.logger.DebugContext(ctx, "Gateway request completed",
		"method", method, "path", path, "status", resp.StatusCode, "duration", time.Since(start))

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, responseError(resp, env, decodeErr)
	}
	if decodeErr != nil {
		return false, &APIError{StatusCode: resp.StatusCode, Code: "INVALID_RESPONSE", Message: decodeErr.Error()}
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return false, nil
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return false, &APIError{StatusCode: resp.StatusCode, Code: "INVALID_RESPONSE", Message: err.Error()}
		}
	}
	return true, nil
}

func responseError(resp *http.Response, env envelope, decodeErr error) error {
	code, message, field := "API_ERROR", http.StatusText(resp.StatusCode), ""
	if decodeErr == nil && env.Error != nil {
		if env.Error.Code != "" {
			code = env.Error.Code
		}
		if env.Error.Message != "" {
			message = env.Error.Message
		}
		field = env.Error.Field
	}

	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return &ValidationError{Field: field, Code: code, Message: message, StatusCode: resp.StatusCode}
	default:
		return &APIError{StatusCode: resp.StatusCode, Code: code, Message: message}
	}
}
