package ws

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/DoyleJ11/anomaly-detection/internal/engine"
	"github.com/DoyleJ11/anomaly-detection/pkg/types"
)

// presenter queues presentation calls for the connection's writer goroutine.
// A full queue drops the message rather than stall the participant loop.
type presenter struct {
	out      chan types.ServerMessage
	disabled atomic.Bool
	log      *zap.Logger
}

func newPresenter(size int, log *zap.Logger) *presenter {
	return &presenter{out: make(chan types.ServerMessage, size), log: log}
}

func (p *presenter) send(msg types.ServerMessage) {
	select {
	case p.out <- msg:
	default:
		p.log.Warn("client queue full, dropping message", zap.String("type", msg.Type))
	}
}

func (p *presenter) notify(n string) {
	p.send(types.ServerMessage{Type: types.MsgNotify, Notification: n})
}

func (p *presenter) NotifyGameStarted()   { p.notify(types.NotifyGameStarted) }
func (p *presenter) NotifyCorrectAnswer() { p.notify(types.NotifyCorrectAnswer) }
func (p *presenter) NotifyWrongAnswer()   { p.notify(types.NotifyWrongAnswer) }
func (p *presenter) NotifyStageCleared()  { p.notify(types.NotifyStageCleared) }

func (p *presenter) TeleportTo(target string) {
	p.send(types.ServerMessage{Type: types.MsgTeleport, Target: target})
}

func (p *presenter) PlayBGM(track engine.Track) {
	if track == engine.TrackNone {
		return
	}
	p.send(types.ServerMessage{Type: types.MsgBgm, Track: string(track)})
}

func (p *presenter) Show(v engine.View) {
	snap := toSnapshot(v)
	p.send(types.ServerMessage{Type: types.MsgView, View: &snap})
}

func (p *presenter) DisableInput() {
	if p.disabled.Swap(true) {
		return
	}
	p.send(types.ServerMessage{Type: types.MsgInputDisabled})
}

func (p *presenter) inputDisabled() bool { return p.disabled.Load() }

func toSnapshot(v engine.View) types.ViewSnapshot {
	stages := make([]types.StageSnapshot, len(v.Stages))
	for i, st := range v.Stages {
		stages[i] = types.StageSnapshot{
			Name:    st.Name,
			Active:  st.Active,
			Variant: int(st.Variant),
			Markers: append([]bool(nil), st.Markers...),
			Cleared: st.Cleared,
		}
	}
	return types.ViewSnapshot{
		Phase:        string(v.Phase),
		ActiveStage:  int(v.ActiveStage),
		SuccessCount: int(v.SuccessCount),
		Stages:       stages,
		Banned:       v.Banned,
	}
}
