package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/anomaly-detection/internal/hub"
	"github.com/DoyleJ11/anomaly-detection/internal/ws"
)

type Deps struct {
	Hub *hub.Hub
	WS  ws.Settings
	// History is optional; the history route is only mounted when set.
	History HistorySource
	// Codes is optional; when set, new session codes avoid recorded ones.
	Codes CodeChecker
	Log     *zap.Logger
}

func SetupRoutes(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	r := chi.NewRouter()

	// Public routes
	r.Post("/sessions", CreateSession(d.Hub, d.Codes, d.Log))
	r.Get("/sessions/{code}", GetSession(d.Hub, d.WS.Stages))
	if d.History != nil {
		r.Get("/sessions/{code}/history", SessionHistory(d.History, d.Log))
	}
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(d.Hub, d.WS, d.Log))
	return r
}
