// Package service provides the supervisor pattern used to run every
// background loop in this process (balance monitor, tx-status watcher,
// rebalancer, availability gauge): a Service is created, run, and
// restarted automatically 5 seconds after it returns an error.
package service

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Service is a long-running background loop sharing a common Context
// type C across instances. Run should not return except on an
// unrecoverable error, in which case the Manager restarts it.
type Service[C any] interface {
	Run(ctx context.Context, c C) error
}

// Manager spawns Services against a shared context value and restarts
// them on failure.
type Manager[C any] struct {
	context C
}

func NewManager[C any](context C) *Manager[C] {
	return &Manager[C]{context: context}
}

// Spawn launches name in its own goroutine, looping: run, log error,
// sleep 5s, run again. It returns immediately; the caller supplies ctx
// for graceful shutdown.
func (m *Manager[C]) Spawn(ctx context.Context, name string, svc Service[C]) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			log.Printf("[%s] starting service", name)
			if err := svc.Run(ctx, m.context); err != nil {
				log.Printf("[%s] service terminated with error %v - restarting in 5sec", name, err)

				select {
				case <-ctx.Done():
					return
				case <-time.After(5 * time.Second):
				}
			}
		}
	}()
}

// SpawnConditional is a convenience wrapper mirroring the teacher's
// spawn_conditional: only starts the service if enabled is true.
func (m *Manager[C]) SpawnConditional(ctx context.Context, name string, svc Service[C], enabled bool) {
	if enabled {
		m.Spawn(ctx, name, svc)
	}
}

// Error is a generic service-level error, matching the loosely-typed
// string error used across every background loop in this package.
type Error struct {
	msg string
}

func NewError(format string, args ...any) *Error {
	return &Error{msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string { return e.msg }
