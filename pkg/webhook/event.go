package webhook

import (
	"encoding/json"
	"strings"
	"time"

	"sahelpay-go/pkg/operation"
)

type EventType string

const (
	EventPaymentPending   EventType = "payment.pending"
	EventPaymentSuccess   EventType = "payment.success"
	EventPaymentFailed    EventType = "payment.failed"
	EventPaymentCancelled EventType = "payment.cancelled"
	EventPaymentExpired   EventType = "payment.expired"
	EventPayoutProcessing EventType = "payout.processing"
	EventPayoutCompleted  EventType = "payout.completed"
	EventPayoutFailed     EventType = "payout.failed"
	EventPayoutCancelled  EventType = "payout.cancelled"
	EventRefundCompleted  EventType = "refund.completed"
	EventRefundFailed     EventType = "refund.failed"
)

var knownEvents = map[EventType]operation.Status{
	EventPaymentPending:   operation.StatusPending,
	EventPaymentSuccess:   operation.StatusSuccess,
	EventPaymentFailed:    operation.StatusFailed,
	EventPaymentCancelled: operation.StatusCancelled,
	EventPaymentExpired:   operation.StatusExpired,
	EventPayoutProcessing: operation.StatusProcessing,
	EventPayoutCompleted:  operation.StatusCompleted,
	EventPayoutFailed:     operation.StatusFailed,
	EventPayoutCancelled:  operation.StatusCancelled,
	EventRefundCompleted:  operation.StatusCompleted,
	EventRefundFailed:     operation.StatusFailed,
}

// Known reports whether t is one of the event types this SDK version models.
func (t EventType) Known() bool {
	_, ok := knownEvents[t]
	return ok
}

// Kind infers the operation kind from the event prefix.
func (t EventType) Kind() operation.Kind {
	switch {
	case strings.HasPrefix(string(t), "payout."):
		return operation.KindPayout
	case strings.HasPrefix(string(t), "refund."):
		return operation.KindRefund
	}
	return operation.KindPayment
}

// impliedStatus is the status an event type stands for when the payload
// itself carries none.
func (t EventType) impliedStatus() (operation.Status, bool) {
	s, ok := knownEvents[t]
	return s, ok
}

// Event is a parsed webhook delivery. It is built once by Parse and never
// modified.
type Event struct {
	Type      EventType
	Version   string
	EmittedAt time.Time
	Payload   operation.Snapshot
	// Raw is the delivered body, kept so event types unknown to this version
	// can still be handled by the caller.
	Raw json.RawMessage
}

func (e Event) Known() bool {
	return e.Type.Known()
}

func (e Event) OperationID() string {
	return e.Payload.ID
}

func (e Event) Status() operation.Status {
	return e.Payload.Status
}
