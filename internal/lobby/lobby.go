package lobby

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/anomaly-detection/internal/engine"
	"github.com/DoyleJ11/anomaly-detection/internal/wire"
)

var ErrClosed = errors.New("lobby closed")
var ErrBanned = errors.New("publisher is banned")

type Msg interface{ isLobbyMsg() }

type Join struct {
	ClientID string
	Outbox   chan Snapshot // where this client wants to receive snapshots
}

func (Join) isLobbyMsg() {}

// Leave removes ClientID. A non-nil Outbox only removes the registration
// made with that channel, so a stale connection cannot evict its successor.
type Leave struct {
	ClientID string
	Outbox   chan Snapshot
}

func (Leave) isLobbyMsg() {}

// Acquire hands the write lease to ClientID. Reply receives nil once granted.
type Acquire struct {
	ClientID string
	Reply    chan error
}

func (Acquire) isLobbyMsg() {}

// Publish replaces the session record. The publisher takes the lease first
// if it does not already hold it, so the last publish wins.
type Publish struct {
	ClientID string
	Payload  []byte
	Events   []engine.Event
	Reply    chan error
}

func (Publish) isLobbyMsg() {}

// Ban sets the permanent banned flag for ClientID and replicates it.
type Ban struct {
	ClientID string
	Reply    chan error
}

func (Ban) isLobbyMsg() {}

type Shutdown struct{}

func (Shutdown) isLobbyMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

// Snapshot is one replicated delivery. Payload is the wire record with the
// banned bit computed for the recipient.
type Snapshot struct {
	Version int
	Owner   string
	Payload []byte
	Events  []engine.Event
}

type View struct {
	Version    int
	NumClients int
	Owner      string
	State      engine.State
	Banned     []string
}

// Commit is handed to the Recorder after a publish has been applied.
type Commit struct {
	Code    string
	Version int
	Owner   string
	State   engine.State
	Events  []engine.Event
}

// Recorder persists what the lobby replicates. Failures never roll back a commit.
type Recorder interface {
	RecordCommit(ctx context.Context, c Commit) error
	RecordBan(ctx context.Context, code, clientID string) error
}

type Option func(*Lobby)

func WithRecorder(r Recorder) Option { return func(l *Lobby) { l.recorder = r } }

func WithLogger(log *zap.Logger) Option { return func(l *Lobby) { l.log = log } }

// WithBanned restores bans recorded for an earlier run of the session.
func WithBanned(clientIDs ...string) Option {
	return func(l *Lobby) {
		for _, id := range clientIDs {
			l.banned[id] = true
		}
	}
}

const recordTimeout = 2 * time.Second

// Lobby is the replication substrate for one session: a single goroutine that
// serializes lease grants and publishes, and fans every change out to all
// joined participants, the publisher included.
type Lobby struct {
	code     string
	inbox    chan Msg
	state    engine.State
	version  int
	owner    string
	banned   map[string]bool
	clients  map[string]chan Snapshot
	recorder Recorder
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewLobby(parent context.Context, code string, opts ...Option) *Lobby {
	ctx, cancel := context.WithCancel(parent)

	l := &Lobby{
		code:    code,
		inbox:   make(chan Msg, 64), // Small buffer
		state:   engine.NewSessionState(),
		banned:  make(map[string]bool),
		clients: make(map[string]chan Snapshot),
		log:     zap.NewNop(),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.With(zap.String("session", code))

	go l.loop()
	return l
}

func (l *Lobby) Code() string { return l.code }

func (l *Lobby) loop() {
	defer func() {
		for id, ch := range l.clients {
			close(ch) // Tell client no more snapshots
			delete(l.clients, id)
		}
	}()

	for {
		select {
		case <-l.ctx.Done():
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case Join:
				// Register client + send current snapshot immediately.
				// A rejoin replaces the old connection.
				if old, ok := l.clients[msg.ClientID]; ok && old != msg.Outbox {
					close(old)
				}
				l.clients[msg.ClientID] = msg.Outbox
				l.send(msg.ClientID, msg.Outbox, l.snapshot(msg.ClientID, nil))

			case Leave:
				if cur, ok := l.clients[msg.ClientID]; !ok || (msg.Outbox != nil && cur != msg.Outbox) {
					break
				}
				delete(l.clients, msg.ClientID)
				if l.owner == msg.ClientID {
					l.owner = ""
				}

			case Acquire:
				l.grant(msg.ClientID)
				reply(msg.Reply, nil)

			case Publish:
				reply(msg.Reply, l.publish(msg))

			case Ban:
				l.ban(msg.ClientID)
				reply(msg.Reply, nil)

			case GetState:
				banned := make([]string, 0, len(l.banned))
				for id := range l.banned {
					banned = append(banned, id)
				}
				sort.Strings(banned)
				msg.Reply <- View{
					Version:    l.version,
					NumClients: len(l.clients),
					Owner:      l.owner,
					State:      l.state,
					Banned:     banned,
				}

			case Shutdown:
				l.cancel()
				return
			}
		}
	}
}

func (l *Lobby) grant(clientID string) {
	if l.owner == clientID {
		return
	}
	l.log.Debug("lease transferred", zap.String("from", l.owner), zap.String("to", clientID))
	l.owner = clientID
}

func (l *Lobby) publish(msg Publish) error {
	if l.banned[msg.ClientID] {
		return ErrBanned
	}
	rec, err := wire.Decode(msg.Payload)
	if err != nil {
		return err
	}

	l.grant(msg.ClientID)
	l.state = rec.State
	l.version++
	l.broadcast(msg.Events)

	if l.recorder != nil {
		ctx, cancel := context.WithTimeout(l.ctx, recordTimeout)
		err := l.recorder.RecordCommit(ctx, Commit{
			Code:    l.code,
			Version: l.version,
			Owner:   l.owner,
			State:   l.state,
			Events:  msg.Events,
		})
		cancel()
		if err != nil {
			l.log.Warn("record commit failed", zap.Int("version", l.version), zap.Error(err))
		}
	}
	return nil
}

func (l *Lobby) ban(clientID string) {
	if l.banned[clientID] {
		return
	}
	l.banned[clientID] = true
	if l.owner == clientID {
		l.owner = ""
	}
	l.version++
	l.log.Info("participant banned", zap.String("actor", clientID))
	l.broadcast(nil)

	if l.recorder != nil {
		ctx, cancel := context.WithTimeout(l.ctx, recordTimeout)
		if err := l.recorder.RecordBan(ctx, l.code, clientID); err != nil {
			l.log.Warn("record ban failed", zap.String("actor", clientID), zap.Error(err))
		}
		cancel()
	}
}

func (l *Lobby) snapshot(clientID string, events []engine.Event) Snapshot {
	// l.state was validated on the way in, so encoding cannot fail.
	payload, _ := wire.Encode(l.state, l.banned[clientID])
	return Snapshot{Version: l.version, Owner: l.owner, Payload: payload, Events: events}
}

func (l *Lobby) broadcast(events []engine.Event) {
	for id, ch := range l.clients {
		l.send(id, ch, l.snapshot(id, events))
	}
}

func (l *Lobby) send(id string, ch chan Snapshot, snap Snapshot) {
	select {
	case ch <- snap:
		//ok
	default:
		// Client is slow/full - drop them.
		l.log.Warn("dropping slow participant", zap.String("actor", id))
		close(ch)
		delete(l.clients, id)
		if l.owner == id {
			l.owner = ""
		}
	}
}

func reply(ch chan error, err error) {
	if ch != nil {
		ch <- err
	}
}

// Expose the inbox so tests or WS layer can send messages.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

// Done is closed once the lobby stops accepting messages.
func (l *Lobby) Done() <-chan struct{} { return l.ctx.Done() }

// Send delivers msg unless ctx ends or the lobby is gone first.
func (l *Lobby) Send(ctx context.Context, msg Msg) error {
	select {
	case l.inbox <- msg:
		return nil
	case <-l.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
