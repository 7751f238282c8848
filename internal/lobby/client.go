package lobby

import (
	"context"

	"github.com/DoyleJ11/anomaly-detection/internal/engine"
)

// Request/reply helpers over the inbox. Each blocks until the lobby loop has
// handled the message, ctx ends, or the lobby shuts down.

func (l *Lobby) Acquire(ctx context.Context, clientID string) error {
	reply := make(chan error, 1)
	if err := l.Send(ctx, Acquire{ClientID: clientID, Reply: reply}); err != nil {
		return err
	}
	return l.await(ctx, reply)
}

func (l *Lobby) Publish(ctx context.Context, clientID string, payload []byte, events []engine.Event) error {
	reply := make(chan error, 1)
	if err := l.Send(ctx, Publish{ClientID: clientID, Payload: payload, Events: events, Reply: reply}); err != nil {
		return err
	}
	return l.await(ctx, reply)
}

func (l *Lobby) Ban(ctx context.Context, clientID string) error {
	reply := make(chan error, 1)
	if err := l.Send(ctx, Ban{ClientID: clientID, Reply: reply}); err != nil {
		return err
	}
	return l.await(ctx, reply)
}

func (l *Lobby) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := l.Send(ctx, GetState{Reply: reply}); err != nil {
		return View{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-l.ctx.Done():
		select {
		case v := <-reply:
			return v, nil
		default:
			return View{}, ErrClosed
		}
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

func (l *Lobby) await(ctx context.Context, reply <-chan error) error {
	select {
	case err := <-reply:
		return err
	case <-l.ctx.Done():
		// the loop may have answered just before stopping
		select {
		case err := <-reply:
			return err
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}
