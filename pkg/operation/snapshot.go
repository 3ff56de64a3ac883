package operation

import (
	"time"
)

// CorrelationKey is the metadata entry carrying the merchant's own order id.
const CorrelationKey = "app_order_id"

// Snapshot is a read-only copy of one operation as the Gateway saw it at a
// point in time. Amount is in minor currency units.
type Snapshot struct {
	ID                string
	Kind              Kind
	Amount            int64
	Currency          string
	Status            Status
	Provider          string
	ProviderRef       *string
	CounterpartyPhone string
	Metadata          map[string]any
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (s Snapshot) IsTerminal() bool {
	return s.Status.IsTerminal()
}

// CorrelationID returns metadata.app_order_id when present. A missing id is
// the caller's matching problem, not a malformed snapshot.
func (s Snapshot) CorrelationID() (string, bool) {
	if s.Metadata == nil {
		return "", false
	}
	v, ok := s.Metadata[CorrelationKey]
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
