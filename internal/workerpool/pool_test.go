package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_RunsSubmittedTasks(t *testing.T) {
	p := New(2, 4, nil, nil, nil)
	defer p.Stop()

	var ran int32
	done := make(chan struct{})
	require.NoError(t, p.Submit(Task{Path: "a.txt", Run: func(ctx context.Context) error {
		atomic.AddInt32(&ran, 1)
		close(done)
		return nil
	}}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
}

func TestPool_CancelStopsInFlightTask(t *testing.T) {
	p := New(1, 4, nil, nil, nil)
	defer p.Stop()

	started := make(chan struct{})
	cancelled := make(chan struct{})
	require.NoError(t, p.Submit(Task{Path: "a.txt", Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}}))

	<-started
	p.Cancel("a.txt")

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("task was not cancelled")
	}
}

func TestPool_SubmitAfterStopReturnsError(t *testing.T) {
	p := New(1, 1, nil, nil, nil)
	p.Stop()

	err := p.Submit(Task{Path: "a.txt", Run: func(ctx context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrPoolStopped)
}

func TestRetryNetworkErrors_RetriesRetryableThenSucceeds(t *testing.T) {
	origMin, origMax := retryMin, retryMax
	retryMin, retryMax = time.Millisecond, 5*time.Millisecond
	t.Cleanup(func() { retryMin, retryMax = origMin, origMax })

	attempts := 0
	err := RetryNetworkErrors(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return Retryable(errors.New("connection reset"))
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryNetworkErrors_PermanentErrorReturnsImmediately(t *testing.T) {
	attempts := 0
	permanent := errors.New("409 conflict")
	err := RetryNetworkErrors(context.Background(), func() error {
		attempts++
		return permanent
	})
	assert.Equal(t, permanent, err)
	assert.Equal(t, 1, attempts)
}

type fakeNetCheck struct{ online atomic.Bool }

func (f *fakeNetCheck) Online() bool { return f.online.Load() }

func TestWaitForNetwork_ReturnsOnceOnline(t *testing.T) {
	nc := &fakeNetCheck{}
	done := make(chan error, 1)
	go func() { done <- waitForNetwork(context.Background(), nc) }()

	time.Sleep(10 * time.Millisecond)
	nc.online.Store(true)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("waitForNetwork did not return after coming online")
	}
}
