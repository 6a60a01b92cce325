// Package fallback implements a circuit-breakered, ordered multi-endpoint
// client wrapper. It is used everywhere this service talks to something
// outside its own process: chain RPC endpoints, price providers, swap
// providers.
package fallback

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrRejected is returned when every endpoint's breaker is open.
var ErrRejected = errors.New("fallback: all endpoints rejected the call")

const (
	failureThreshold  = 3
	minBackoff        = 10 * time.Second
	maxBackoff        = 60 * time.Second
)

type state int

const (
	closed state = iota
	open
	halfOpen
)

// breaker is a per-endpoint circuit breaker: closed allows calls through,
// open rejects them until backoff elapses, halfOpen lets calls through
// until the next recorded success closes it or the next recorded
// failure reopens it with a doubled backoff.
type breaker struct {
	mu sync.Mutex

	state               state
	consecutiveFailures int
	backoff             time.Duration
	openedAt            time.Time
}

func newBreaker() *breaker {
	return &breaker{state: closed, backoff: minBackoff}
}

// permitted reports whether a call may proceed right now, transitioning
// open -> halfOpen once the backoff window has elapsed.
func (b *breaker) permitted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case closed:
		return true
	case halfOpen:
		return true
	case open:
		if time.Since(b.openedAt) >= b.backoff {
			b.state = halfOpen
			return true
		}
		return false
	}
	return false
}

func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = closed
	b.consecutiveFailures = 0
	b.backoff = minBackoff
}

func (b *breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == halfOpen {
		// Probe failed: double the backoff, stay open.
		b.backoff *= 2
		if b.backoff > maxBackoff {
			b.backoff = maxBackoff
		}
		b.state = open
		b.openedAt = time.Now()
		return
	}

	b.consecutiveFailures++
	if b.consecutiveFailures >= failureThreshold {
		b.state = open
		b.openedAt = time.Now()
	}
}

// FailurePredicate lets a client distinguish "this error means the
// endpoint is unhealthy" from "this error is a legitimate application
// response" (e.g. an HTTP 400 shouldn't trip the breaker the same way a
// connection timeout does).
type FailurePredicate[T any] func(client T, err error) bool

// Endpoint pairs a client instance with its breaker.
type endpoint[T any] struct {
	client  T
	breaker *breaker
}

// WithFallback holds an ordered list of endpoints of the same client
// type and races through them in order on each call, skipping any whose
// breaker currently rejects calls.
type WithFallback[T any] struct {
	endpoints []endpoint[T]
	isFailure FailurePredicate[T]
}

// New builds an empty fallback wrapper. isFailure may be nil, in which
// case every non-nil error trips the breaker.
func New[T any](isFailure FailurePredicate[T]) *WithFallback[T] {
	if isFailure == nil {
		isFailure = func(T, error) bool { return true }
	}
	return &WithFallback[T]{isFailure: isFailure}
}

// With appends another endpoint, in fallback priority order: the first
// added is the principal, subsequent ones are tried only if earlier ones
// are rejected or fail.
func (w *WithFallback[T]) With(client T) *WithFallback[T] {
	w.endpoints = append(w.endpoints, endpoint[T]{client: client, breaker: newBreaker()})
	return w
}

// CallAll tries each endpoint in order until one succeeds, returning
// ErrRejected if none are permitted or all calls fail.
func (w *WithFallback[T]) CallAll(ctx context.Context, f func(context.Context, T) error) error {
	attempted := false

	for _, ep := range w.endpoints {
		if !ep.breaker.permitted() {
			continue
		}
		attempted = true

		err := f(ctx, ep.client)
		if err == nil {
			ep.breaker.recordSuccess()
			return nil
		}

		if w.isFailure(ep.client, err) {
			ep.breaker.recordFailure()
		} else {
			// Application-level error: don't punish the endpoint, but
			// surface it to the caller immediately since retrying
			// another endpoint would just repeat the same rejection.
			return err
		}
	}

	if !attempted {
		return ErrRejected
	}
	return ErrRejected
}
