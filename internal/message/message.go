package message

import (
	"time"

	"github.com/google/uuid"
)

const (
	TypeStatusChanged = "operation.status_changed"
	TypeAnomaly       = "operation.anomaly"
	TypePollRequest   = "operation.poll_requested"

	// HeaderType carries one of the Type constants on every Kafka message.
	HeaderType = "type"
)

// StatusChanged is published once per applied status transition.
type StatusChanged struct {
	ID             uuid.UUID `json:"id"`
	OperationID    string    `json:"operationId"`
	Kind           string    `json:"kind"`
	OrderID        string    `json:"orderId,omitempty"`
	PreviousStatus string    `json:"previousStatus,omitempty"`
	Status         string    `json:"status"`
	Source         string    `json:"source"`
	EventType      string    `json:"eventType,omitempty"`
	Amount         int64     `json:"amount"`
	Currency       string    `json:"currency"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// Anomaly reports a terminal-status conflict that was not applied.
type Anomaly struct {
	ID             uuid.UUID `json:"id"`
	OperationID    string    `json:"operationId"`
	StoredStatus   string    `json:"storedStatus"`
	IncomingStatus string    `json:"incomingStatus"`
	Source         string    `json:"source"`
	EventType      string    `json:"eventType,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// PollRequest asks the poll worker to query the Gateway for an operation.
type PollRequest struct {
	ID          uuid.UUID `json:"id"`
	OperationID string    `json:"operationId"`
	Kind        string    `json:"kind"`
	RequestedAt time.Time `json:"requestedAt"`
}
