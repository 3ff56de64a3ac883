// Package poller waits for an operation to reach a terminal status by
// querying the Gateway on a bounded exponential backoff.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sahelpay-go/pkg/operation"
)

const (
	DefaultInterval    = 2 * time.Second
	DefaultMaxInterval = 10 * time.Second
	DefaultTimeout     = 120 * time.Second
	DefaultMultiplier  = 1.5
)

// ErrTimeout means the outcome is unknown, not that the operation failed.
var ErrTimeout = errors.New("poll timed out before a terminal status")

type TimeoutError struct {
	OperationID string
	Elapsed     time.Duration
	Checks      int
	LastStatus  operation.Status
	LastErr     error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("poll %s: timed out after %s and %d checks", e.OperationID, e.Elapsed.Round(time.Millisecond), e.Checks)
	if e.LastStatus != "" {
		msg += ", last status " + string(e.LastStatus)
	}
	if e.LastErr != nil {
		msg += ", last error: " + e.LastErr.Error()
	}
	return msg
}

func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}

// CheckFunc fetches the current snapshot of the polled operation.
type CheckFunc func(ctx context.Context) (*operation.Snapshot, error)

type config struct {
	interval    time.Duration
	maxInterval time.Duration
	timeout     time.Duration
	multiplier  float64
	onStatus    func(operation.Status, *operation.Snapshot)
	onError     func(error)
	retryIf     func(error) bool
}

type Option func(*config)

func WithInterval(d time.Duration) Option {
	return func(c *config) { c.interval = d }
}

func WithMaxInterval(d time.Duration) Option {
	return func(c *config) { c.maxInterval = d }
}

func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

func WithMultiplier(m float64) Option {
	return func(c *config) { c.multiplier = m }
}

// OnStatus is called after every successful check, terminal or not, in order.
func OnStatus(fn func(operation.Status, *operation.Snapshot)) Option {
	return func(c *config) { c.onStatus = fn }
}

// OnError is called for every failed check that will be retried.
func OnError(fn func(error)) Option {
	return func(c *config) { c.onError = fn }
}

// RetryIf decides whether a failed check is retried. Errors it rejects end
// the poll immediately. By default every error is retried until the deadline.
func RetryIf(fn func(error) bool) Option {
	return func(c *config) { c.retryIf = fn }
}

// Poll calls check until it reports a terminal status or the timeout budget,
// shared between successful and failed checks, is spent.
//
// Cancelling ctx abandons the poll cooperatively: a check already in flight
// runs to completion, the next one is never scheduled, and ctx.Err() is
// returned.
func Poll(ctx context.Context, operationID string, check CheckFunc, opts ...Option) (*operation.Snapshot, error) {
	c := config{
		interval:    DefaultInterval,
		maxInterval: DefaultMaxInterval,
		timeout:     DefaultTimeout,
		multiplier:  DefaultMultiplier,
		retryIf:     func(error) bool { return true },
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.multiplier < 1 {
		c.multiplier = 1
	}

	start := time.Now()
	deadline := start.Add(c.timeout)
	delay := c.interval

	var (
		checks     int
		lastStatus operation.Status
		lastErr    error
	)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		snapshot, err := check(context.WithoutCancel(ctx))
		checks++
		switch {
		case err != nil:
			if !c.retryIf(err) {
				return nil, fmt.Errorf("poll %s: %w", operationID, err)
			}
			lastErr = err
			if c.onError != nil {
				c.onError(err)
			}
		case snapshot == nil:
			lastErr = errors.New("status check returned no snapshot")
		default:
			lastStatus, lastErr = snapshot.Status, nil
			if c.onStatus != nil {
				c.onStatus(snapshot.Status, snapshot)
			}
			if snapshot.Status.IsTerminal() {
				return snapshot, nil
			}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, &TimeoutError{
				OperationID: operationID,
				Elapsed:     time.Since(start),
				Checks:      checks,
				LastStatus:  lastStatus,
				LastErr:     lastErr,
			}
		}

		wait := delay
		if wait > remaining {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}

		delay = time.Duration(float64(delay) * c.multiplier)
		if delay > c.maxInterval {
			delay = c.maxInterval
		}
	}
}

// Schedule returns the first n sleep durations Poll would use with opts,
// ignoring the timeout budget.
func Schedule(n int, opts ...Option) []time.Duration {
	c := config{interval: DefaultInterval, maxInterval: DefaultMaxInterval, multiplier: DefaultMultiplier}
	for _, opt := range opts {
		opt(&c)
	}
	out := make([]time.Duration, 0, n)
	delay := c.interval
	for i := 0; i < n; i++ {
		out = append(out, delay)
		delay = time.Duration(float64(delay) * c.multiplier)
		if delay > c.maxInterval {
			delay = c.maxInterval
		}
	}
	return out
}
