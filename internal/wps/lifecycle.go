// SPDX-License-Identifier: MPL-2.0

package wps

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

const (
	// StateCreated means Start has not been called.
	StateCreated State = iota
	// StateStarting means the listener is being set up.
	StateStarting
	// StateRunning means requests are being served.
	StateRunning
	// StateStopping means Stop is draining requests and jobs.
	StateStopping
	// StateStopped is terminal.
	StateStopped
	// StateFailed is terminal; LastError holds the cause.
	StateFailed
)

type (
	// State is the lifecycle state of a Server.
	State int32

	// lifecycle is the single-use state machine behind Server.
	lifecycle struct {
		state atomic.Int32

		mu      sync.Mutex
		lastErr error

		wg        sync.WaitGroup
		startedCh chan struct{}
		errCh     chan error
	}
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateStopped || s == StateFailed
}

func newLifecycle() *lifecycle {
	l := &lifecycle{
		startedCh: make(chan struct{}),
		errCh:     make(chan error, 1),
	}
	l.state.Store(int32(StateCreated))
	return l
}

func (l *lifecycle) current() State {
	return State(l.state.Load())
}

// starting moves Created to Starting. A cancelled ctx fails the server
// before anything is set up.
func (l *lifecycle) starting(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		err = fmt.Errorf("context cancelled before start: %w", err)
		l.fail(err)
		return err
	}
	if !l.state.CompareAndSwap(int32(StateCreated), int32(StateStarting)) {
		return fmt.Errorf("cannot start server in state %s", l.current())
	}
	return nil
}

func (l *lifecycle) running() {
	if l.state.CompareAndSwap(int32(StateStarting), int32(StateRunning)) {
		close(l.startedCh)
	}
}

func (l *lifecycle) fail(err error) {
	l.mu.Lock()
	l.lastErr = err
	l.mu.Unlock()
	l.state.Store(int32(StateFailed))
	l.report(err)
}

// stopping reports whether the caller owns the shutdown.
func (l *lifecycle) stopping() bool {
	for {
		cur := l.current()
		switch cur {
		case StateCreated:
			if l.state.CompareAndSwap(int32(cur), int32(StateStopped)) {
				return false
			}
		case StateStarting, StateRunning:
			if l.state.CompareAndSwap(int32(cur), int32(StateStopping)) {
				return true
			}
		default:
			return false
		}
	}
}

func (l *lifecycle) stopped() {
	l.state.Store(int32(StateStopped))
}

// report delivers err without blocking; later errors are dropped.
func (l *lifecycle) report(err error) {
	select {
	case l.errCh <- err:
	default:
	}
}

func (l *lifecycle) err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}
