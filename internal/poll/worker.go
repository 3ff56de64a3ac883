package poll

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/pkg/errors"

	"sahelpay-go/internal/config"
	"sahelpay-go/internal/event"
	"sahelpay-go/internal/lock"
	"sahelpay-go/internal/logcontext"
	"sahelpay-go/internal/message"
	"sahelpay-go/pkg/operation"
	"sahelpay-go/pkg/poller"
)

var (
	pollTerminalCounter    = metrics.GetOrCreateCounter(`poll_total{result="terminal"}`)
	pollTimeoutCounter     = metrics.GetOrCreateCounter(`poll_total{result="timeout"}`)
	pollErrorCounter       = metrics.GetOrCreateCounter(`poll_total{result="error"}`)
	pollAlreadyRunCounter  = metrics.GetOrCreateCounter(`poll_total{result="already_running"}`)
	pollUnsupportedCounter = metrics.GetOrCreateCounter(`poll_total{result="unsupported_kind"}`)

	pollDurationHistogram = metrics.GetOrCreateHistogram(`poll_duration_milliseconds`)
)

var ErrUnsupportedKind = errors.New("operation kind has no status endpoint")

// Gateway is the part of gateway.Client the worker polls through.
type Gateway interface {
	PollPayment(ctx context.Context, paymentID string, opts ...poller.Option) (*operation.Snapshot, error)
	PollPayout(ctx context.Context, reference string, opts ...poller.Option) (*operation.Snapshot, error)
}

type Applier interface {
	ApplySnapshot(ctx context.Context, snapshot *operation.Snapshot, src operation.Source) (event.Result, error)
}

type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (lock.Lease, error)
}

// Worker handles poll requests. At most one poll per operation runs across
// all instances, and at most parallelism polls run in this process.
type Worker struct {
	gateway Gateway
	applier Applier
	locker  Locker
	sem     chan struct{}
	wg      sync.WaitGroup
	options []poller.Option
	lockTTL time.Duration
	logger  *slog.Logger
}

func NewWorker(gateway Gateway, applier Applier, locker Locker, cfg config.Poller, logger *slog.Logger) *Worker {
	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = 100
	}

	var options []poller.Option
	timeout := poller.DefaultTimeout
	if cfg.IntervalMs > 0 {
		options = append(options, poller.WithInterval(time.Duration(cfg.IntervalMs)*time.Millisecond))
	}
	if cfg.MaxIntervalMs > 0 {
		options = append(options, poller.WithMaxInterval(time.Duration(cfg.MaxIntervalMs)*time.Millisecond))
	}
	if cfg.TimeoutMs > 0 {
		timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
		options = append(options, poller.WithTimeout(timeout))
	}
	if cfg.Multiplier > 0 {
		options = append(options, poller.WithMultiplier(cfg.Multiplier))
	}

	return &Worker{
		gateway: gateway,
		applier: applier,
		locker:  locker,
		sem:     make(chan struct{}, parallelism),
		options: options,
		// the last check may start right at the deadline
		lockTTL: timeout + 30*time.Second,
		logger:  logger,
	}
}

// Handle starts polling in the background and returns once a slot is free.
func (w *Worker) Handle(ctx context.Context, req message.PollRequest) error {
	select {
	case w.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }()

		if err := w.poll(ctx, req); err != nil {
			w.logger.ErrorContext(ctx, "Error polling operation", "error", err)
		}
	}()
	return nil
}

// Wait blocks until every started poll has returned.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) poll(ctx context.Context, req message.PollRequest) error {
	ctx = logcontext.AppendCtx(ctx, slog.String("operationId", req.OperationID))
	startTime := time.Now()
	defer func() {
		pollDurationHistogram.Update(float64(time.Since(startTime).Milliseconds()))
	}()

	pollFn, err := w.pollerFor(operation.Kind(req.Kind))
	if err != nil {
		pollUnsupportedCounter.Inc()
		return errors.Wrapf(err, "kind %q", req.Kind)
	}

	lease, err := w.locker.Acquire(ctx, "poll:"+req.OperationID, w.lockTTL)
	if err != nil {
		pollErrorCounter.Inc()
		return err
	}
	if lease == nil {
		w.logger.InfoContext(ctx, "Poll already running elsewhere")
		pollAlreadyRunCounter.Inc()
		return nil
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			w.logger.WarnContext(ctx, "Error releasing poll lock", "error", err)
		}
	}()

	var last operation.Status
	onStatus := poller.OnStatus(func(status operation.Status, snapshot *operation.Snapshot) {
		if status == last {
			return
		}
		last = status
		if _, err := w.applier.ApplySnapshot(context.WithoutCancel(ctx), snapshot, operation.SourceStatusQuery); err != nil {
			w.logger.ErrorContext(ctx, "Error applying polled status", "status", status, "error", err)
		}
	})
	onError := poller.OnError(func(err error) {
		w.logger.WarnContext(ctx, "Status check failed, retrying", "error", err)
	})

	opts := make([]poller.Option, 0, len(w.options)+2)
	opts = append(opts, w.options...)
	snapshot, err := pollFn(ctx, req.OperationID, append(opts, onStatus, onError)...)
	switch {
	case errors.Is(err, poller.ErrTimeout):
		w.logger.WarnContext(ctx, "Poll timed out, outcome unknown", "lastStatus", last, "error", err)
		pollTimeoutCounter.Inc()
		return nil
	case err != nil:
		pollErrorCounter.Inc()
		return err
	}

	w.logger.InfoContext(ctx, "Poll reached terminal status", "status", snapshot.Status)
	pollTerminalCounter.Inc()
	return nil
}

type pollFunc func(ctx context.Context, id string, opts ...poller.Option) (*operation.Snapshot, error)

func (w *Worker) pollerFor(kind operation.Kind) (pollFunc, error) {
	switch kind {
	case operation.KindPayment:
		return w.gateway.PollPayment, nil
	case operation.KindPayout:
		return w.gateway.PollPayout, nil
	default:
		return nil, ErrUnsupportedKind
	}
}
