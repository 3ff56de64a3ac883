package db

import (
	"time"

	"github.com/google/uuid"
)

// OperationEntity is the merchant-side record of one Gateway operation.
// Status is nil while the row is only a lock placeholder.
type OperationEntity struct {
	ID          string
	Kind        string
	Status      *string
	Amount      int64
	Currency    string
	Provider    *string
	ProviderRef *string
	OrderID     *string
	Snapshot    *string
	Source      *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AnomalyEntity is a terminal-status conflict that was refused.
type AnomalyEntity struct {
	ID             uuid.UUID
	OperationID    string
	StoredStatus   string
	IncomingStatus string
	Source         string
	EventType      *string
	Payload        *string
	CreatedAt      time.Time
}

type OutboxMessageEntity struct {
	ID              uuid.UUID
	OperationID     string
	Type            string
	Payload         string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ScheduledAt     *time.Time
	PublishedAt     *time.Time
	PublishAttempts int
	Error           *string
}
