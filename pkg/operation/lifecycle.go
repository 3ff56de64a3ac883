package operation

import (
	"errors"
	"fmt"
)

// Source identifies where a status observation came from.
type Source string

const (
	SourceWebhook     Source = "webhook"
	SourceStatusQuery Source = "status_query"
	// SourceRedirect is a return-URL hit. It may trigger a poll or render a
	// waiting page but never moves an operation.
	SourceRedirect Source = "redirect"
)

var (
	ErrNoTransitionAuthority = errors.New("source has no transition authority")
	ErrTerminalConflict      = errors.New("operation already in a different terminal status")
	ErrInvalidTransition     = errors.New("invalid status transition")
)

// HasAuthority reports whether observations from src may advance state.
func (src Source) HasAuthority() bool {
	return src == SourceWebhook || src == SourceStatusQuery
}

// Apply returns the status an operation ends up in after observing incoming
// from src while in current. Terminal statuses are absorbing: the returned
// status is always current once current is terminal, and a differing incoming
// status is reported as ErrTerminalConflict. PROCESSING never regresses to
// PENDING; such late deliveries keep current without error.
//
// An empty current means the operation is not known yet.
func Apply(current, incoming Status, src Source) (Status, error) {
	if !src.HasAuthority() {
		return current, fmt.Errorf("%w: %s", ErrNoTransitionAuthority, src)
	}
	if _, err := ParseStatus(string(incoming)); err != nil {
		return current, err
	}
	if current == "" {
		return incoming, nil
	}
	if current.IsTerminal() {
		if current == incoming {
			return current, nil
		}
		return current, fmt.Errorf("%w: %s -> %s", ErrTerminalConflict, current, incoming)
	}
	if current == StatusProcessing && incoming == StatusPending {
		return current, nil
	}
	if !CanTransition(current, incoming) {
		return current, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, incoming)
	}
	return incoming, nil
}

// CanTransition reports whether the edge from -> to exists in the lifecycle:
// PENDING -> PROCESSING -> terminal, with PROCESSING optional. Self edges on
// non-terminal statuses are allowed so repeated observations are harmless.
func CanTransition(from, to Status) bool {
	if from.IsTerminal() {
		return false
	}
	switch from {
	case StatusPending:
		return to == StatusPending || to == StatusProcessing || to.IsTerminal()
	case StatusProcessing:
		return to == StatusProcessing || to.IsTerminal()
	}
	return false
}

// SuccessStatus is the terminal success spelling used for k.
func (k Kind) SuccessStatus() Status {
	if k == KindPayout || k == KindRefund {
		return StatusCompleted
	}
	return StatusSuccess
}
