package event

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"sahelpay-go/internal/db"
	"sahelpay-go/internal/logcontext"
	"sahelpay-go/internal/message"
	"sahelpay-go/pkg/idempotency"
	"sahelpay-go/pkg/operation"
	"sahelpay-go/pkg/webhook"
)

var (
	decisionProcessCounter = metrics.GetOrCreateCounter(`operation_decisions_total{decision="process"}`)
	decisionSkipCounter    = metrics.GetOrCreateCounter(`operation_decisions_total{decision="skip"}`)
	decisionAnomalyCounter = metrics.GetOrCreateCounter(`operation_decisions_total{decision="anomaly"}`)
	ignoredEventCounter    = metrics.GetOrCreateCounter(`operation_events_ignored_total`)
)

// Store runs fn while holding the lock on one operation record.
type Store interface {
	WithOperationLock(ctx context.Context, id, kind string, fn func(db.LockedOperation) error) error
}

type Result struct {
	Decision idempotency.Decision
	Previous operation.Status
	Status   operation.Status
	// Changed is false when the observation did not move the operation,
	// e.g. a repeated PENDING or a PENDING after PROCESSING.
	Changed bool
	// Ignored is set for event types this service does not act on.
	Ignored bool
}

type Processor struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewProcessor(store Store, logger *slog.Logger) *Processor {
	return &Processor{store: store, logger: logger, now: time.Now}
}

// ProcessEvent applies a verified webhook event. Unknown event types are
// acknowledged without touching state.
func (p *Processor) ProcessEvent(ctx context.Context, ev *webhook.Event) (Result, error) {
	ctx = logcontext.AppendCtx(ctx, slog.String("eventType", string(ev.Type)))

	if !ev.Known() {
		p.logger.WarnContext(ctx, "Ignoring unknown event type", "operationId", ev.OperationID())
		ignoredEventCounter.Inc()
		return Result{Decision: idempotency.Skip, Status: ev.Status(), Ignored: true}, nil
	}

	snapshot := ev.Payload
	return p.apply(ctx, &snapshot, operation.SourceWebhook, string(ev.Type))
}

// ApplySnapshot applies a status observed by querying the Gateway.
func (p *Processor) ApplySnapshot(ctx context.Context, snapshot *operation.Snapshot, src operation.Source) (Result, error) {
	return p.apply(ctx, snapshot, src, "")
}

func (p *Processor) apply(ctx context.Context, snapshot *operation.Snapshot, src operation.Source, eventType string) (Result, error) {
	if !src.HasAuthority() {
		return Result{}, errors.Wrapf(operation.ErrNoTransitionAuthority, "apply %s from %s", snapshot.ID, src)
	}
	if snapshot.ID == "" {
		return Result{}, errors.New("snapshot has no operation id")
	}

	ctx = logcontext.AppendCtx(ctx, slog.String("operationId", snapshot.ID))

	var result Result
	err := p.store.WithOperationLock(ctx, snapshot.ID, string(snapshot.Kind), func(op db.LockedOperation) error {
		current := op.Record()

		var prior *idempotency.Record
		if current != nil {
			prior = &idempotency.Record{OperationID: current.ID, Status: operation.Status(*current.Status)}
			result.Previous = prior.Status
		}

		result.Decision = idempotency.EvaluateStatus(snapshot.Status, prior)
		switch result.Decision {
		case idempotency.Skip:
			result.Status = result.Previous
			return nil
		case idempotency.Anomaly:
			result.Status = result.Previous
			return p.recordAnomaly(ctx, op, snapshot, prior, src, eventType)
		}

		next, err := operation.Apply(result.Previous, snapshot.Status, src)
		if err != nil {
			return err
		}
		result.Status = next
		if current != nil && next == result.Previous {
			return nil
		}

		result.Changed = true
		if err := op.Save(ctx, toEntity(snapshot, next, src)); err != nil {
			return err
		}
		return p.enqueueStatusChanged(ctx, op, snapshot, result.Previous, next, src, eventType)
	})
	if err != nil {
		return Result{}, err
	}

	switch result.Decision {
	case idempotency.Process:
		decisionProcessCounter.Inc()
		p.logger.InfoContext(ctx, "Operation status applied",
			"previous", result.Previous, "status", result.Status, "changed", result.Changed, "source", src)
	case idempotency.Skip:
		decisionSkipCounter.Inc()
		p.logger.InfoContext(ctx, "Duplicate terminal status skipped", "status", result.Status, "source", src)
	case idempotency.Anomaly:
		decisionAnomalyCounter.Inc()
		p.logger.ErrorContext(ctx, "Conflicting terminal status refused",
			"stored", result.Previous, "incoming", snapshot.Status, "source", src)
	}
	return result, nil
}

func (p *Processor) recordAnomaly(ctx context.Context, op db.LockedOperation, snapshot *operation.Snapshot,
	prior *idempotency.Record, src operation.Source, eventType string) error {
	now := p.now()

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return errors.Wrap(err, "marshal anomaly snapshot")
	}
	payloadStr := string(payload)

	anomaly := &db.AnomalyEntity{
		ID:             uuid.New(),
		OperationID:    snapshot.ID,
		StoredStatus:   string(prior.Status),
		IncomingStatus: string(snapshot.Status),
		Source:         string(src),
		Payload:        &payloadStr,
		CreatedAt:      now,
	}
	if eventType != "" {
		anomaly.EventType = &eventType
	}
	if err := op.RecordAnomaly(ctx, anomaly); err != nil {
		return err
	}

	return enqueue(ctx, op, snapshot.ID, message.TypeAnomaly, now, message.Anomaly{
		ID:             anomaly.ID,
		OperationID:    snapshot.ID,
		StoredStatus:   anomaly.StoredStatus,
		IncomingStatus: anomaly.IncomingStatus,
		Source:         anomaly.Source,
		EventType:      eventType,
		OccurredAt:     now,
	})
}

func (p *Processor) enqueueStatusChanged(ctx context.Context, op db.LockedOperation, snapshot *operation.Snapshot,
	previous, next operation.Status, src operation.Source, eventType string) error {
	now := p.now()
	orderID, _ := snapshot.CorrelationID()

	return enqueue(ctx, op, snapshot.ID, message.TypeStatusChanged, now, message.StatusChanged{
		ID:             uuid.New(),
		OperationID:    snapshot.ID,
		Kind:           string(snapshot.Kind),
		OrderID:        orderID,
		PreviousStatus: string(previous),
		Status:         string(next),
		Source:         string(src),
		EventType:      eventType,
		Amount:         snapshot.Amount,
		Currency:       snapshot.Currency,
		OccurredAt:     now,
	})
}

func enqueue(ctx context.Context, op db.LockedOperation, operationID, msgType string, now time.Time, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrapf(err, "marshal %s", msgType)
	}
	return op.Enqueue(ctx, &db.OutboxMessageEntity{
		ID:          uuid.New(),
		OperationID: operationID,
		Type:        msgType,
		Payload:     string(payload),
		CreatedAt:   now,
		UpdatedAt:   now,
		ScheduledAt: &now,
	})
}

func toEntity(s *operation.Snapshot, status operation.Status, src operation.Source) *db.OperationEntity {
	statusStr := string(status)
	srcStr := string(src)
	entity := &db.OperationEntity{
		ID:          s.ID,
		Kind:        string(s.Kind),
		Status:      &statusStr,
		Amount:      s.Amount,
		Currency:    s.Currency,
		ProviderRef: s.ProviderRef,
		Source:      &srcStr,
	}
	if s.Provider != "" {
		provider := s.Provider
		entity.Provider = &provider
	}
	if orderID, ok := s.CorrelationID(); ok {
		entity.OrderID = &orderID
	}
	if raw, err := json.Marshal(s); err == nil {
		snapshot := string(raw)
		entity.Snapshot = &snapshot
	}
	return entity
}
