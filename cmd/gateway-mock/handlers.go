package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"sahelpay-go/pkg/operation"
)

var (
	errNotFound       = errors.New("operation not found")
	errAlreadySettled = errors.New("operation already settled")
)

type envelope struct {
	Success bool        `json:"success"`
	Data    any         `json:"data"`
	Error   *errorReply `json:"error,omitempty"`
}

type errorReply struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type createRequest struct {
	Amount          json.Number    `json:"amount"`
	Currency        string         `json:"currency"`
	Provider        string         `json:"provider"`
	CustomerPhone   string         `json:"customer_phone"`
	RecipientPhone  string         `json:"recipient_phone"`
	ClientReference string         `json:"client_reference"`
	Metadata        map[string]any `json:"metadata"`
	IdempotencyKey  string         `json:"idempotency_key"`
	PaymentID       string         `json:"payment_id"`
}

type paymentReply struct {
	operation.Payload
	CheckoutURL string `json:"checkout_url,omitempty"`
}

type api struct {
	cfg    *ParsedConfig
	store  *store
	sender *Sender
	logger *slog.Logger
}

func newRouter(a *api) *mux.Router {
	r := mux.NewRouter()
	r.Use(loggingMiddleware(a.logger))

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(authMiddleware(a.cfg.Auth.SecretKey))
	v1.HandleFunc("/payments", a.createPayment).Methods(http.MethodPost)
	v1.HandleFunc("/payments/search", a.searchPayment).Methods(http.MethodGet)
	v1.HandleFunc("/payments/{id}/status", a.paymentStatus).Methods(http.MethodGet)
	v1.HandleFunc("/payouts", a.createPayout).Methods(http.MethodPost)
	v1.HandleFunc("/payouts/{reference}", a.getPayout).Methods(http.MethodGet)
	v1.HandleFunc("/payouts/{reference}", a.cancelPayout).Methods(http.MethodDelete)
	v1.HandleFunc("/refunds", a.createRefund).Methods(http.MethodPost)
	return r
}

// decodeCreate reads a create body and the idempotency key, writing the error
// reply itself when either is unusable.
func (a *api) decodeCreate(w http.ResponseWriter, r *http.Request) (*createRequest, string, bool) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", err.Error(), "")
		return nil, "", false
	}
	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		key = req.IdempotencyKey
	}
	if key == "" {
		writeError(w, http.StatusBadRequest, "MISSING_IDEMPOTENCY_KEY", "Idempotency-Key header is required", "")
		return nil, "", false
	}
	amount, err := operation.MinorUnits(req.Amount)
	if err != nil || amount <= 0 {
		writeError(w, http.StatusUnprocessableEntity, "INVALID_AMOUNT", "amount must be a positive whole number", "amount")
		return nil, "", false
	}
	return &req, key, true
}

func (a *api) createPayment(w http.ResponseWriter, r *http.Request) {
	req, key, ok := a.decodeCreate(w, r)
	if !ok {
		return
	}

	p, created := a.store.create(operation.KindPayment, key, req.ClientReference, operation.Payload{
		Amount:        req.Amount,
		Currency:      req.Currency,
		Provider:      req.Provider,
		CustomerPhone: req.CustomerPhone,
		Metadata:      req.Metadata,
	})
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	writeData(w, status, paymentReply{Payload: p, CheckoutURL: "https://checkout.sahelpay.test/" + p.ID})
}

func (a *api) paymentStatus(w http.ResponseWriter, r *http.Request) {
	a.advance(r.Context(), w, mux.Vars(r)["id"], operation.KindPayment, a.cfg.PaymentResult)
}

func (a *api) searchPayment(w http.ResponseWriter, r *http.Request) {
	p, ok := a.store.findByClientReference(r.URL.Query().Get("client_reference"))
	if !ok {
		writeData(w, http.StatusOK, nil)
		return
	}
	writeData(w, http.StatusOK, p)
}

func (a *api) createPayout(w http.ResponseWriter, r *http.Request) {
	req, key, ok := a.decodeCreate(w, r)
	if !ok {
		return
	}

	p, created := a.store.create(operation.KindPayout, key, "", operation.Payload{
		Amount:         req.Amount,
		Currency:       req.Currency,
		Provider:       req.Provider,
		RecipientPhone: req.RecipientPhone,
		Metadata:       req.Metadata,
	})
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	writeData(w, status, p)
}

func (a *api) getPayout(w http.ResponseWriter, r *http.Request) {
	a.advance(r.Context(), w, mux.Vars(r)["reference"], operation.KindPayout, a.cfg.PayoutResult)
}

func (a *api) cancelPayout(w http.ResponseWriter, r *http.Request) {
	p, err := a.store.setStatus(mux.Vars(r)["reference"], operation.StatusCancelled)
	switch {
	case errors.Is(err, errNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), "")
		return
	case errors.Is(err, errAlreadySettled):
		writeError(w, http.StatusConflict, "PAYOUT_NOT_CANCELLABLE", err.Error(), "")
		return
	}
	a.notify(r.Context(), operation.KindPayout, p)
	writeData(w, http.StatusOK, p)
}

// createRefund settles the refund immediately and reports it by webhook.
func (a *api) createRefund(w http.ResponseWriter, r *http.Request) {
	req, key, ok := a.decodeCreate(w, r)
	if !ok {
		return
	}

	payment, kind, found := a.store.get(req.PaymentID)
	if !found || kind != operation.KindPayment {
		writeError(w, http.StatusNotFound, "PAYMENT_NOT_FOUND", "payment not found", "payment_id")
		return
	}
	if !operation.Status(payment.Status).IsSuccessful() {
		writeError(w, http.StatusUnprocessableEntity, "PAYMENT_NOT_REFUNDABLE", "only successful payments can be refunded", "payment_id")
		return
	}
	amount, _ := operation.MinorUnits(req.Amount)
	if amount > amountOf(payment) {
		writeError(w, http.StatusUnprocessableEntity, "INVALID_AMOUNT", "refund exceeds payment amount", "amount")
		return
	}

	p, created := a.store.create(operation.KindRefund, key, "", operation.Payload{
		Amount:   jsonAmount(amount),
		Currency: payment.Currency,
		Metadata: map[string]any{"payment_id": req.PaymentID},
	})
	if created {
		if settled, err := a.store.setStatus(p.ID, operation.StatusCompleted); err == nil {
			a.notify(r.Context(), operation.KindRefund, settled)
		}
		writeData(w, http.StatusCreated, p)
		return
	}
	writeData(w, http.StatusOK, p)
}

func (a *api) advance(ctx context.Context, w http.ResponseWriter, id string, kind operation.Kind, result operation.Status) {
	p, changed, ok := a.store.query(id, a.cfg.Settlement.AfterQueries, result)
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", errNotFound.Error(), "")
		return
	}
	if changed {
		a.notify(ctx, kind, p)
	}
	writeData(w, http.StatusOK, p)
}

// notify sends the webhook in the background; the API reply does not wait
// for the merchant.
func (a *api) notify(ctx context.Context, kind operation.Kind, p operation.Payload) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		_ = a.sender.Send(ctx, kind, p)
	}()
}

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, code, msg, field string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Error: &errorReply{Code: code, Message: msg, Field: field}})
}
