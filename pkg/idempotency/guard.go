// Package idempotency decides whether an observed operation status should be
// applied, ignored as a duplicate, or escalated as a conflict.
package idempotency

import (
	"context"

	"sahelpay-go/pkg/operation"
	"sahelpay-go/pkg/webhook"
)

type Decision int

const (
	// Process means the record is absent or non-terminal: apply the event.
	Process Decision = iota
	// Skip means the same terminal status was already recorded.
	Skip
	// Anomaly means a different terminal status was already recorded. The
	// stored record must not be overwritten; surface it to an operator and
	// still acknowledge the delivery so the Gateway stops retrying.
	Anomaly
)

func (d Decision) String() string {
	switch d {
	case Process:
		return "process"
	case Skip:
		return "skip"
	case Anomaly:
		return "anomaly"
	}
	return "unknown"
}

// Record is the merchant-owned state for one operation id.
type Record struct {
	OperationID string
	Status      operation.Status
}

func (r *Record) IsTerminal() bool {
	return r != nil && r.Status.IsTerminal()
}

// Evaluate decides what to do with event given the prior record, which is
// nil when the merchant has never seen the operation.
func Evaluate(event webhook.Event, prior *Record) Decision {
	return EvaluateStatus(event.Status(), prior)
}

func EvaluateStatus(incoming operation.Status, prior *Record) Decision {
	if !prior.IsTerminal() {
		return Process
	}
	if prior.Status == incoming {
		return Skip
	}
	return Anomaly
}

// Store is implemented by the merchant's persistence. WithRecordLock must
// run fn as a critical section keyed by operationID: the record handed to fn
// cannot change until fn returns, and the record fn returns (if non-nil)
// replaces it atomically. Concurrent or duplicate deliveries for the same id
// are only safe under that guarantee.
type Store interface {
	WithRecordLock(ctx context.Context, operationID string, fn func(prior *Record) (*Record, error)) error
}
