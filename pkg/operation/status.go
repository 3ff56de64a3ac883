// Package operation holds the Gateway's view of a payment or payout and the
// lifecycle rules every SDK call and webhook event must agree on.
package operation

import (
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	KindPayment Kind = "payment"
	KindPayout  Kind = "payout"
	KindRefund  Kind = "refund"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusSuccess    Status = "SUCCESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
	StatusExpired    Status = "EXPIRED"
)

var ErrUnknownStatus = errors.New("unknown operation status")

// ParseStatus accepts the Gateway spelling in any case.
func ParseStatus(s string) (Status, error) {
	status := Status(strings.ToUpper(strings.TrimSpace(s)))
	switch status {
	case StatusPending, StatusProcessing, StatusSuccess, StatusCompleted,
		StatusFailed, StatusCancelled, StatusExpired:
		return status, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

// IsTerminal reports whether no further transition may leave s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusCompleted, StatusFailed, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// IsSuccessful is true for SUCCESS (payments) and COMPLETED (payouts).
func (s Status) IsSuccessful() bool {
	return s == StatusSuccess || s == StatusCompleted
}

func (s Status) String() string {
	return string(s)
}
