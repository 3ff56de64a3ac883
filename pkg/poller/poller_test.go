package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sahelpay-go/pkg/operation"
)

func sequence(statuses ...operation.Status) CheckFunc {
	var i int32 = -1
	return func(ctx context.Context) (*operation.Snapshot, error) {
		n := int(atomic.AddInt32(&i, 1))
		if n >= len(statuses) {
			n = len(statuses) - 1
		}
		return &operation.Snapshot{ID: "pay_1", Status: statuses[n]}, nil
	}
}

func TestPoll_SuccessPath(t *testing.T) {
	var seen []operation.Status
	snapshot, err := Poll(context.Background(), "pay_1",
		sequence(operation.StatusPending, operation.StatusPending, operation.StatusSuccess),
		WithInterval(5*time.Millisecond),
		WithTimeout(time.Second),
		OnStatus(func(s operation.Status, _ *operation.Snapshot) { seen = append(seen, s) }),
	)

	require.NoError(t, err)
	assert.Equal(t, operation.StatusSuccess, snapshot.Status)
	assert.Equal(t, []operation.Status{operation.StatusPending, operation.StatusPending, operation.StatusSuccess}, seen)
}

func TestPoll_FailedIsTerminalNotTimeout(t *testing.T) {
	snapshot, err := Poll(context.Background(), "pay_1",
		sequence(operation.StatusProcessing, operation.StatusFailed),
		WithInterval(time.Millisecond), WithTimeout(time.Second))

	require.NoError(t, err)
	assert.Equal(t, operation.StatusFailed, snapshot.Status)
}

func TestPoll_TimesOutWhenAlwaysPending(t *testing.T) {
	timeout := 60 * time.Millisecond
	interval := 10 * time.Millisecond

	start := time.Now()
	_, err := Poll(context.Background(), "pay_1", sequence(operation.StatusPending),
		WithInterval(interval), WithTimeout(timeout))
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)

	var terr *TimeoutError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, operation.StatusPending, terr.LastStatus)
	assert.GreaterOrEqual(t, terr.Checks, 2)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+interval+200*time.Millisecond)
}

func TestPoll_NetworkErrorsShareTheDeadline(t *testing.T) {
	var calls int32
	failing := func(ctx context.Context) (*operation.Snapshot, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("connection refused")
	}

	var reported int32
	_, err := Poll(context.Background(), "pay_1", failing,
		WithInterval(5*time.Millisecond), WithTimeout(50*time.Millisecond),
		OnError(func(error) { atomic.AddInt32(&reported, 1) }))

	var terr *TimeoutError
	require.ErrorAs(t, err, &terr)
	assert.EqualError(t, terr.LastErr, "connection refused")
	assert.Equal(t, atomic.LoadInt32(&calls), atomic.LoadInt32(&reported))
	assert.Greater(t, atomic.LoadInt32(&calls), int32(1))
}

func TestPoll_RecoversAfterTransientErrors(t *testing.T) {
	var calls int32
	check := func(ctx context.Context) (*operation.Snapshot, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return nil, errors.New("timeout")
		}
		return &operation.Snapshot{ID: "po_1", Status: operation.StatusCompleted}, nil
	}

	snapshot, err := Poll(context.Background(), "po_1", check,
		WithInterval(time.Millisecond), WithTimeout(time.Second))
	require.NoError(t, err)
	assert.Equal(t, operation.StatusCompleted, snapshot.Status)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestPoll_PermanentErrorStopsImmediately(t *testing.T) {
	permanent := errors.New("unauthorized")
	var calls int32
	check := func(ctx context.Context) (*operation.Snapshot, error) {
		atomic.AddInt32(&calls, 1)
		return nil, permanent
	}

	_, err := Poll(context.Background(), "pay_1", check,
		WithInterval(time.Millisecond), WithTimeout(time.Second),
		RetryIf(func(err error) bool { return !errors.Is(err, permanent) }))

	assert.ErrorIs(t, err, permanent)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestPoll_CancellationSkipsNextCheck(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int32
	var inFlightCtxErr error
	check := func(checkCtx context.Context) (*operation.Snapshot, error) {
		atomic.AddInt32(&calls, 1)
		cancel()
		inFlightCtxErr = checkCtx.Err()
		return &operation.Snapshot{ID: "pay_1", Status: operation.StatusPending}, nil
	}

	_, err := Poll(ctx, "pay_1", check, WithInterval(time.Hour), WithTimeout(2*time.Hour))
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, inFlightCtxErr)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestPoll_ConcurrentIndependentPolls(t *testing.T) {
	var wg sync.WaitGroup
	results := make([]operation.Status, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snapshot, err := Poll(context.Background(), "op", sequence(operation.StatusPending, operation.StatusExpired),
				WithInterval(time.Millisecond), WithTimeout(time.Second))
			if err == nil {
				results[i] = snapshot.Status
			}
		}(i)
	}
	wg.Wait()

	for _, s := range results {
		assert.Equal(t, operation.StatusExpired, s)
	}
}

func TestSchedule(t *testing.T) {
	got := Schedule(7)
	expected := []time.Duration{
		2 * time.Second,
		3 * time.Second,
		4500 * time.Millisecond,
		6750 * time.Millisecond,
		10 * time.Second,
		10 * time.Second,
		10 * time.Second,
	}
	assert.Equal(t, expected, got)
}
