package fallback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithFallback_EmptyRejects(t *testing.T) {
	w := New[int](nil)

	err := w.CallAll(context.Background(), func(context.Context, int) error { return nil })
	assert.ErrorIs(t, err, ErrRejected)
}

func TestWithFallback_SingleEndpointSucceeds(t *testing.T) {
	w := New[int](nil).With(1)

	called := false
	err := w.CallAll(context.Background(), func(_ context.Context, v int) error {
		called = true
		assert.Equal(t, 1, v)
		return nil
	})

	require.NoError(t, err)
	assert.True(t, called)
}

func TestWithFallback_FallsBackAfterPrincipalFails(t *testing.T) {
	w := New[int](nil).With(1).With(2)

	err := w.CallAll(context.Background(), func(_ context.Context, v int) error {
		if v == 1 {
			return errors.New("boom")
		}
		return nil
	})

	require.NoError(t, err)
}

func TestWithFallback_OpensBreakerAfterThreeFailures(t *testing.T) {
	w := New[int](nil).With(1)

	for i := 0; i < failureThreshold; i++ {
		err := w.CallAll(context.Background(), func(context.Context, int) error { return errors.New("boom") })
		assert.Error(t, err)
	}

	err := w.CallAll(context.Background(), func(context.Context, int) error {
		t.Fatal("breaker should have rejected the call before invoking it")
		return nil
	})
	assert.ErrorIs(t, err, ErrRejected)
}

func TestWithFallback_RecoversAfterBackoff(t *testing.T) {
	b := newBreaker()
	b.backoff = time.Millisecond

	for i := 0; i < failureThreshold; i++ {
		b.recordFailure()
	}
	assert.False(t, b.permitted())

	time.Sleep(5 * time.Millisecond)
	assert.True(t, b.permitted(), "breaker should allow a half-open probe after backoff elapses")

	b.recordSuccess()
	assert.True(t, b.permitted())
}

func TestWithFallback_ApplicationErrorDoesNotTripBreaker(t *testing.T) {
	errNotFound := errors.New("not found")
	isFailure := func(client int, err error) bool { return !errors.Is(err, errNotFound) }

	w := New[int](isFailure).With(1)

	for i := 0; i < failureThreshold+1; i++ {
		err := w.CallAll(context.Background(), func(context.Context, int) error { return errNotFound })
		assert.ErrorIs(t, err, errNotFound)
	}

	called := false
	err := w.CallAll(context.Background(), func(context.Context, int) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called, "breaker must still be closed since errNotFound is not a health signal")
}
