package hub

import (
	"context"

	"github.com/DoyleJ11/anomaly-detection/internal/lobby"
)

// Get returns the live lobby for code, or nil when there is none or the
// hub has stopped.
func (h *Hub) Get(ctx context.Context, code string) *lobby.Lobby {
	return h.request(ctx, func(reply chan *lobby.Lobby) HubMsg {
		return GetLobby{Code: code, Reply: reply}
	})
}

// Ensure returns the lobby for code, creating it if needed.
func (h *Hub) Ensure(ctx context.Context, code string) *lobby.Lobby {
	return h.request(ctx, func(reply chan *lobby.Lobby) HubMsg {
		return EnsureLobby{Code: code, Reply: reply}
	})
}

func (h *Hub) request(ctx context.Context, msg func(chan *lobby.Lobby) HubMsg) *lobby.Lobby {
	reply := make(chan *lobby.Lobby, 1)
	select {
	case h.inbox <- msg(reply):
	case <-h.ctx.Done():
		return nil
	case <-ctx.Done():
		return nil
	}
	select {
	case lb := <-reply:
		return lb
	case <-h.ctx.Done():
		return nil
	case <-ctx.Done():
		return nil
	}
}

// Shutdown stops every lobby and the hub. It returns at once if the hub is
// already gone.
func (h *Hub) Shutdown() {
	select {
	case h.inbox <- ShutdownHub{}:
	case <-h.ctx.Done():
	}
}
