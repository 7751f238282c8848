// Package participant runs one player's side of a session: it gates input,
// evaluates answers when it needs to write, and projects every replicated
// record into the presentation layer.
package participant

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/anomaly-detection/internal/engine"
	"github.com/DoyleJ11/anomaly-detection/internal/lobby"
	"github.com/DoyleJ11/anomaly-detection/internal/picker"
	"github.com/DoyleJ11/anomaly-detection/internal/ratelimit"
	"github.com/DoyleJ11/anomaly-detection/internal/replica"
)

var ErrStopped = errors.New("participant stopped")

// Presenter receives fire-and-forget notifications. Implementations must
// not block; they are called from the participant loop.
type Presenter interface {
	NotifyGameStarted()
	NotifyCorrectAnswer()
	NotifyWrongAnswer()
	NotifyStageCleared()
	TeleportTo(target string)
	PlayBGM(track engine.Track)
	Show(view engine.View)
	DisableInput()
}

type Msg interface{ isParticipantMsg() }

// SubmitAnswer reports an answer pressed at At. Reply (buffered) receives
// nil when the press was committed or ignored by the cooldown.
type SubmitAnswer struct {
	ClaimsAnomaly bool
	At            time.Time
	Reply         chan error
}

func (SubmitAnswer) isParticipantMsg() {}

type StartGame struct {
	StageIndex int
	Reply      chan error
}

func (StartGame) isParticipantMsg() {}

type ResetGame struct {
	Reply chan error
}

func (ResetGame) isParticipantMsg() {}

type GetView struct {
	Reply chan engine.View
}

func (GetView) isParticipantMsg() {}

type Shutdown struct{}

func (Shutdown) isParticipantMsg() {}

type Config struct {
	Actor  string
	Stages []engine.StageConfig
	Policy ratelimit.Policy
	// Seed for the variant picker; zero seeds from the clock.
	Seed int64
	// Now stamps presses sent through SubmitAnswer. Defaults to time.Now.
	Now func() time.Time
}

const updatesBuffer = 32

// leaveTimeout bounds the Leave sent to the lobby on shutdown.
const leaveTimeout = time.Second

type Participant struct {
	actor   string
	now     func() time.Time
	stages  []engine.StageConfig
	engine  *engine.Engine
	picker  *picker.Picker
	limiter *ratelimit.Limiter
	coord   *replica.Coordinator
	present Presenter
	lobby   *lobby.Lobby
	inbox   chan Msg
	updates chan lobby.Snapshot
	state   engine.State
	banned  bool
	view    engine.View
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// New joins lb as cfg.Actor and starts the participant loop.
func New(parent context.Context, lb *lobby.Lobby, cfg Config, present Presenter, log *zap.Logger) (*Participant, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	ctx, cancel := context.WithCancel(parent)

	pk := picker.New(cfg.Seed)
	p := &Participant{
		actor:   cfg.Actor,
		now:     cfg.Now,
		stages:  cfg.Stages,
		engine:  engine.New(cfg.Stages, pk),
		picker:  pk,
		limiter: ratelimit.New(cfg.Policy),
		present: present,
		lobby:   lb,
		inbox:   make(chan Msg, 16),
		updates: make(chan lobby.Snapshot, updatesBuffer),
		state:   engine.NewSessionState(),
		view:    engine.Project(engine.NewSessionState(), cfg.Stages, false),
		log:     log.With(zap.String("session", lb.Code()), zap.String("actor", cfg.Actor)),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	p.coord = replica.New(cfg.Actor, lb, p.apply, p.log)

	if err := lb.Send(ctx, lobby.Join{ClientID: cfg.Actor, Outbox: p.updates}); err != nil {
		cancel()
		return nil, err
	}

	go p.loop()
	return p, nil
}

func (p *Participant) Inbox() chan<- Msg { return p.inbox }

// Done is closed once the loop has exited and left the lobby.
func (p *Participant) Done() <-chan struct{} { return p.done }

func (p *Participant) loop() {
	defer close(p.done)
	defer p.leave()

	for {
		select {
		case <-p.ctx.Done():
			return

		case snap, ok := <-p.updates:
			if !ok {
				p.log.Warn("lobby closed the replication channel")
				p.cancel()
				return
			}
			p.receive(snap)

		case m := <-p.inbox:
			// Apply anything already replicated first so answers are judged
			// against the newest record, our own last commit included.
			if !p.drainUpdates() {
				return
			}

			switch msg := m.(type) {
			case SubmitAnswer:
				reply(msg.Reply, p.submitAnswer(msg))

			case StartGame:
				reply(msg.Reply, p.mutate(engine.Command{Type: engine.CmdStartGame, StageIndex: msg.StageIndex}))

			case ResetGame:
				reply(msg.Reply, p.mutate(engine.Command{Type: engine.CmdReset}))

			case GetView:
				msg.Reply <- p.view

			case Shutdown:
				p.cancel()
				return
			}
		}
	}
}

func (p *Participant) drainUpdates() bool {
	for {
		select {
		case snap, ok := <-p.updates:
			if !ok {
				p.log.Warn("lobby closed the replication channel")
				p.cancel()
				return false
			}
			p.receive(snap)
		default:
			return true
		}
	}
}

func (p *Participant) leave() {
	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()
	if err := p.lobby.Send(ctx, lobby.Leave{ClientID: p.actor, Outbox: p.updates}); err != nil && !errors.Is(err, lobby.ErrClosed) {
		p.log.Debug("leave not delivered", zap.Error(err))
	}
}

func (p *Participant) submitAnswer(msg SubmitAnswer) error {
	if p.banned {
		p.present.DisableInput()
		return engine.ErrActorBanned
	}

	d := p.limiter.Record(p.actor, msg.At)
	if !d.Accepted {
		p.log.Debug("answer ignored during cooldown")
		return nil
	}
	if d.FlagForBan {
		p.banActor()
		return engine.ErrActorBanned
	}

	return p.mutate(engine.Command{Type: engine.CmdSubmitAnswer, ClaimsAnomaly: msg.ClaimsAnomaly})
}

// mutate evaluates cmd against the last replicated record and commits the
// result. The record itself only changes when the commit comes back through
// receive.
func (p *Participant) mutate(cmd engine.Command) error {
	if p.banned && cmd.Type == engine.CmdReset {
		p.present.DisableInput()
		return engine.ErrActorBanned
	}
	cmd.Banned = p.banned

	events, next, err := p.engine.Apply(p.state, cmd)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrActorBanned):
			p.present.DisableInput()
		case errors.Is(err, engine.ErrStageOutOfRange):
			p.log.Warn("start rejected", zap.Int("stage", cmd.StageIndex), zap.Int("stages", len(p.stages)))
		default:
			p.log.Debug("command rejected", zap.String("cmd", string(cmd.Type)), zap.Error(err))
		}
		return err
	}

	if err := p.coord.Commit(p.ctx, next, events); err != nil {
		p.log.Warn("commit dropped", zap.String("cmd", string(cmd.Type)), zap.Error(err))
		return err
	}
	return nil
}

func (p *Participant) banActor() {
	p.log.Info("rapid input detected, banning")
	p.banned = true
	p.present.DisableInput()
	p.present.TeleportTo(engine.DestBan)
	if err := p.coord.Ban(p.ctx); err != nil {
		// The local ban stands even if it could not be replicated.
		p.log.Warn("ban not replicated", zap.Error(err))
	}
}

func (p *Participant) receive(snap lobby.Snapshot) {
	// Undecodable deliveries are logged by the coordinator and skipped.
	_ = p.coord.Receive(snap)
}

// apply is the on-receive handler. It runs for every delivery on every
// participant, owner included.
func (p *Participant) apply(d replica.Delivery) {
	wasBanned := p.banned
	p.banned = p.banned || d.Banned
	p.state = d.State
	if d.State.StageIndex >= 0 {
		p.picker.Observe(int(d.State.StageIndex), d.State.VariantIndex)
	}

	prevPhase := p.view.Phase
	p.view = engine.Project(p.state, p.stages, p.banned)

	if p.banned {
		if !wasBanned {
			p.present.DisableInput()
		}
		p.present.TeleportTo(p.view.Teleport)
		p.present.Show(p.view)
		return
	}

	for _, evt := range d.Events {
		switch evt.Type {
		case engine.EvtGameStarted:
			p.present.NotifyGameStarted()
		case engine.EvtCorrectAnswer:
			p.present.NotifyCorrectAnswer()
		case engine.EvtWrongAnswer:
			p.present.NotifyWrongAnswer()
		}
	}
	if p.view.Phase == engine.PhaseCompleted && prevPhase != engine.PhaseCompleted {
		p.present.NotifyStageCleared()
	}

	p.present.Show(p.view)
	p.present.TeleportTo(p.view.Teleport)
	p.present.PlayBGM(p.view.BGM)
}

func reply(ch chan error, err error) {
	if ch != nil {
		ch <- err
	}
}
