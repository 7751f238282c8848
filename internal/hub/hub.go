package hub

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/anomaly-detection/internal/lobby"
)

type HubMsg interface{ isHubMsg() }

type CreateLobby struct {
	Code  string
	Reply chan *lobby.Lobby
}

type GetLobby struct {
	Code  string
	Reply chan *lobby.Lobby
}

type EnsureLobby struct {
	Code  string
	Reply chan *lobby.Lobby
}

type RemoveLobby struct {
	Code string
}

type ListLobbies struct {
	Reply chan []string
}

type Hub struct {
	inbox    chan HubMsg
	lobbies  map[string]*lobby.Lobby
	recorder lobby.Recorder
	bans     BanSource
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

type ShutdownHub struct{}

func (CreateLobby) isHubMsg() {}
func (GetLobby) isHubMsg()    {}
func (EnsureLobby) isHubMsg() {}
func (RemoveLobby) isHubMsg() {}
func (ListLobbies) isHubMsg() {}
func (ShutdownHub) isHubMsg() {}

type Option func(*Hub)

// WithRecorder makes every lobby created by the hub persist through r.
func WithRecorder(r lobby.Recorder) Option { return func(h *Hub) { h.recorder = r } }

// BanSource returns the actors already banned in a session. *store.Store implements it.
type BanSource interface {
	Banned(ctx context.Context, code string) ([]string, error)
}

// WithBanSource restores recorded bans into every lobby the hub creates.
func WithBanSource(b BanSource) Option { return func(h *Hub) { h.bans = b } }

const loadTimeout = 2 * time.Second

func WithLogger(log *zap.Logger) Option { return func(h *Hub) { h.log = log } }

func NewHub(parent context.Context, opts ...Option) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		lobbies: make(map[string]*lobby.Lobby),
		log:     zap.NewNop(),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(h)
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) Done() <-chan struct{} { return h.ctx.Done() }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateLobby, EnsureLobby:
				code, reply := lobbyRequest(msg)
				if lb := h.live(code); lb != nil {
					reply <- lb
					break
				}
				reply <- h.create(code)

			case GetLobby:
				msg.Reply <- h.live(msg.Code) // May be nil

			case RemoveLobby:
				if lb := h.lobbies[msg.Code]; lb != nil {
					_ = lb.Send(h.ctx, lobby.Shutdown{})
					delete(h.lobbies, msg.Code)
				}

			case ListLobbies:
				codes := make([]string, 0, len(h.lobbies))
				for code := range h.lobbies {
					if h.live(code) != nil {
						codes = append(codes, code)
					}
				}
				sort.Strings(codes)
				msg.Reply <- codes

			case ShutdownHub:
				for _, lb := range h.lobbies {
					_ = lb.Send(h.ctx, lobby.Shutdown{})
				}
				clear(h.lobbies)
				h.cancel()
			}
		}
	}
}

func lobbyRequest(m HubMsg) (string, chan *lobby.Lobby) {
	switch msg := m.(type) {
	case CreateLobby:
		return msg.Code, msg.Reply
	case EnsureLobby:
		return msg.Code, msg.Reply
	}
	return "", nil
}

func (h *Hub) create(code string) *lobby.Lobby {
	opts := []lobby.Option{lobby.WithLogger(h.log)}
	if h.recorder != nil {
		opts = append(opts, lobby.WithRecorder(h.recorder))
	}
	if h.bans != nil {
		ctx, cancel := context.WithTimeout(h.ctx, loadTimeout)
		banned, err := h.bans.Banned(ctx, code)
		cancel()
		if err != nil {
			h.log.Warn("restore bans failed", zap.String("session", code), zap.Error(err))
		} else if len(banned) > 0 {
			opts = append(opts, lobby.WithBanned(banned...))
		}
	}
	lb := lobby.NewLobby(h.ctx, code, opts...)
	h.lobbies[code] = lb
	h.log.Info("session created", zap.String("session", code))
	return lb
}

// live returns the lobby for code, forgetting it if it has shut down.
func (h *Hub) live(code string) *lobby.Lobby {
	lb := h.lobbies[code]
	if lb == nil {
		return nil
	}
	select {
	case <-lb.Done():
		delete(h.lobbies, code)
		return nil
	default:
		return lb
	}
}
