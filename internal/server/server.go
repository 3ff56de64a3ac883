package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"sahelpay-go/internal/config"
	"sahelpay-go/internal/db"
	"sahelpay-go/internal/event"
	"sahelpay-go/internal/logcontext"
	"sahelpay-go/internal/logging"
	"sahelpay-go/internal/message"
	"sahelpay-go/pkg/operation"
	"sahelpay-go/pkg/webhook"
)

const defaultMaxBodyBytes = 1 << 20

var (
	webhookAcceptedCounter     = metrics.GetOrCreateCounter(`webhook_requests_total{result="accepted"}`)
	webhookUnauthorizedCounter = metrics.GetOrCreateCounter(`webhook_requests_total{result="unauthorized"}`)
	webhookMalformedCounter    = metrics.GetOrCreateCounter(`webhook_requests_total{result="malformed"}`)
	webhookFailedCounter       = metrics.GetOrCreateCounter(`webhook_requests_total{result="failed"}`)

	returnPublishedCounter = metrics.GetOrCreateCounter(`return_requests_total{result="poll_requested"}`)
	returnTerminalCounter  = metrics.GetOrCreateCounter(`return_requests_total{result="terminal"}`)
	returnFailedCounter    = metrics.GetOrCreateCounter(`return_requests_total{result="failed"}`)
)

type EventProcessor interface {
	ProcessEvent(ctx context.Context, ev *webhook.Event) (event.Result, error)
}

type PollRequestPublisher interface {
	PublishPollRequest(ctx context.Context, req message.PollRequest) error
}

type OperationReader interface {
	GetByID(ctx context.Context, id string) (*db.OperationEntity, error)
}

type Server struct {
	processor  EventProcessor
	publisher  PollRequestPublisher
	operations OperationReader
	secret     string
	verifyOpts []webhook.VerifyOption
	maxBody    int64
	logger     *slog.Logger
}

func New(processor EventProcessor, publisher PollRequestPublisher, operations OperationReader, cfg config.Webhook, logger *slog.Logger) *Server {
	var opts []webhook.VerifyOption
	if cfg.ToleranceSeconds > 0 {
		opts = append(opts, webhook.WithTolerance(time.Duration(cfg.ToleranceSeconds)*time.Second))
	}
	if cfg.AllowLegacySignatures {
		opts = append(opts, webhook.WithLegacySignatures())
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}

	return &Server{
		processor:  processor,
		publisher:  publisher,
		operations: operations,
		secret:     cfg.Secret,
		verifyOpts: opts,
		maxBody:    maxBody,
		logger:     logger,
	}
}

func (s *Server) Routes(metricsHandler http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /liveness", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("GET /metrics", metricsHandler)
	mux.HandleFunc("POST /webhooks/sahelpay", s.handleWebhook)
	mux.HandleFunc("GET /payments/return", s.handleReturn)
	mux.HandleFunc("GET /operations/{id}", s.handleGetOperation)
	return mux
}

// handleWebhook answers 2xx only once the event is durably applied, skipped
// or recorded as an anomaly. Anything else makes the Gateway redeliver.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := logcontext.AppendCtx(r.Context(), slog.String("requestId", uuid.New().String()))

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		s.logger.WarnContext(ctx, "Error reading webhook body", "error", err)
		webhookMalformedCounter.Inc()
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}

	ev, err := webhook.VerifyAndParse(body, r.Header.Get(webhook.SignatureHeader), s.secret, s.verifyOpts...)
	if err != nil {
		var verr *webhook.VerificationError
		if errors.As(err, &verr) {
			s.logger.WarnContext(ctx, "Rejected webhook signature", "error", err)
			webhookUnauthorizedCounter.Inc()
			writeError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
		s.logger.WarnContext(ctx, "Malformed webhook", "error", err, "payload", maskedPayload(body))
		webhookMalformedCounter.Inc()
		writeError(w, http.StatusBadRequest, "malformed event")
		return
	}

	result, err := s.processor.ProcessEvent(ctx, ev)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error processing webhook", "operationId", ev.OperationID(), "error", err)
		webhookFailedCounter.Inc()
		writeError(w, http.StatusInternalServerError, "processing failed")
		return
	}

	webhookAcceptedCounter.Inc()
	writeJSON(w, http.StatusOK, map[string]any{
		"received": true,
		"decision": result.Decision.String(),
	})
}

// handleReturn serves the customer redirect after checkout. The redirect
// itself proves nothing, so unless the stored status is already terminal a
// status query is requested and the customer sees PENDING.
func (s *Server) handleReturn(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	kind := operation.Kind(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = operation.KindPayment
	}
	if kind != operation.KindPayment && kind != operation.KindPayout {
		writeError(w, http.StatusBadRequest, "unsupported kind")
		return
	}
	ctx := logcontext.AppendCtx(r.Context(), slog.String("operationId", id))

	stored, err := s.operations.GetByID(ctx, id)
	switch {
	case err == nil && stored.Status != nil && operation.Status(*stored.Status).IsTerminal():
		returnTerminalCounter.Inc()
		writeJSON(w, http.StatusOK, map[string]any{"operationId": id, "status": *stored.Status})
		return
	case err != nil && !errors.Is(err, db.ErrNotFound):
		s.logger.ErrorContext(ctx, "Error reading operation", "error", err)
		returnFailedCounter.Inc()
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	err = s.publisher.PublishPollRequest(ctx, message.PollRequest{
		ID:          uuid.New(),
		OperationID: id,
		Kind:        string(kind),
		RequestedAt: time.Now(),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Error requesting status poll", "error", err)
		returnFailedCounter.Inc()
		writeError(w, http.StatusInternalServerError, "poll request failed")
		return
	}

	returnPublishedCounter.Inc()
	writeJSON(w, http.StatusAccepted, map[string]any{"operationId": id, "status": operation.StatusPending})
}

var maskedPhoneFields = []string{"customer_phone", "recipient_phone"}

// maskedPayload renders a rejected body for logs with phone numbers masked.
// Bodies that are not a JSON object are logged as received.
func maskedPayload(body []byte) string {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return string(body)
	}
	data, ok := doc["data"].(map[string]any)
	if !ok {
		return string(body)
	}
	for _, field := range maskedPhoneFields {
		if phone, ok := data[field].(string); ok {
			data[field] = logging.MaskPhone(phone)
		}
	}
	masked, err := json.Marshal(doc)
	if err != nil {
		return string(body)
	}
	return string(masked)
}

func (s *Server) handleGetOperation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	stored, err := s.operations.GetByID(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "operation not found")
		return
	}
	if err != nil {
		s.logger.ErrorContext(r.Context(), "Error reading operation", "operationId", id, "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	resp := map[string]any{
		"id":        stored.ID,
		"kind":      stored.Kind,
		"status":    stored.Status,
		"amount":    stored.Amount,
		"currency":  stored.Currency,
		"updatedAt": stored.UpdatedAt,
	}
	if stored.OrderID != nil {
		resp["orderId"] = *stored.OrderID
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
