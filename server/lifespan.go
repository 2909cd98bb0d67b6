package server

import (
	"context"
	"sync/atomic"
)

type LifespanState int32

const (
	AwaitingStartup LifespanState = iota
	AwaitingShutdown
	Stopped
)

func (s LifespanState) String() string {
	switch s {
	case AwaitingStartup:
		return "awaiting_startup"
	case AwaitingShutdown:
		return "awaiting_shutdown"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Lifespan runs the process startup/shutdown handshake. It never services
// http traffic.
type Lifespan struct {
	// OnStartup and OnShutdown run before the matching acknowledgement is
	// sent. A hook error ends the handshake.
	OnStartup  func(ctx context.Context) error
	OnShutdown func(ctx context.Context) error

	state atomic.Int32
}

func (l *Lifespan) State() LifespanState {
	return LifespanState(l.state.Load())
}

// Run pulls lifespan events from t until shutdown has been acknowledged.
func (l *Lifespan) Run(ctx context.Context, t Transport) error {
	for {
		ev, err := t.Receive(ctx)
		if err != nil {
			return err
		}

		state := l.State()
		switch {
		case ev.Type == EventStartup && state == AwaitingStartup:
			if l.OnStartup != nil {
				if err := l.OnStartup(ctx); err != nil {
					return err
				}
			}
			if err := t.Send(ctx, StartupComplete()); err != nil {
				return err
			}
			l.state.Store(int32(AwaitingShutdown))

		case ev.Type == EventShutdown && state == AwaitingShutdown:
			if l.OnShutdown != nil {
				if err := l.OnShutdown(ctx); err != nil {
					return err
				}
			}
			if err := t.Send(ctx, ShutdownComplete()); err != nil {
				return err
			}
			l.state.Store(int32(Stopped))
			return nil

		default:
			return violation("lifespan", "event %q in state %s", ev.Type, state)
		}
	}
}
