package participant

import (
	"context"

	"github.com/DoyleJ11/anomaly-detection/internal/engine"
)

// The entry points below are what input adapters call. Each waits for the
// loop to finish handling the request.

func (p *Participant) SubmitAnswer(ctx context.Context, claimsAnomaly bool) error {
	reply := make(chan error, 1)
	return p.call(ctx, SubmitAnswer{ClaimsAnomaly: claimsAnomaly, At: p.now(), Reply: reply}, reply)
}

func (p *Participant) StartGame(ctx context.Context, stageIndex int) error {
	reply := make(chan error, 1)
	return p.call(ctx, StartGame{StageIndex: stageIndex, Reply: reply}, reply)
}

func (p *Participant) ResetGame(ctx context.Context) error {
	reply := make(chan error, 1)
	return p.call(ctx, ResetGame{Reply: reply}, reply)
}

func (p *Participant) View(ctx context.Context) (engine.View, error) {
	reply := make(chan engine.View, 1)
	if err := p.send(ctx, GetView{Reply: reply}); err != nil {
		return engine.View{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-p.ctx.Done():
		return engine.View{}, ErrStopped
	case <-ctx.Done():
		return engine.View{}, ctx.Err()
	}
}

// Stop leaves the session and ends the loop.
func (p *Participant) Stop() {
	select {
	case p.inbox <- Shutdown{}:
	case <-p.ctx.Done():
	}
}

func (p *Participant) call(ctx context.Context, msg Msg, reply <-chan error) error {
	if err := p.send(ctx, msg); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-p.ctx.Done():
		select {
		case err := <-reply:
			return err
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Participant) send(ctx context.Context, msg Msg) error {
	select {
	case p.inbox <- msg:
		return nil
	case <-p.ctx.Done():
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
