package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/DoyleJ11/anomaly-detection/internal/engine"
	"github.com/DoyleJ11/anomaly-detection/internal/hub"
	"github.com/DoyleJ11/anomaly-detection/internal/participant"
	"github.com/DoyleJ11/anomaly-detection/internal/ratelimit"
	"github.com/DoyleJ11/anomaly-detection/internal/replica"
	"github.com/DoyleJ11/anomaly-detection/pkg/types"
)

// Settings configure the participant created for each connection.
type Settings struct {
	Stages []engine.StageConfig
	Policy ratelimit.Policy
	Seed   int64
	// OriginPatterns loosens the websocket origin check, e.g. for local development.
	OriginPatterns []string
}

const (
	writeTimeout = 3 * time.Second
	readTimeout  = 5 * time.Minute
	queueSize    = 64
)

func Handler(h *hub.Hub, settings Settings, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}

		// The player id is the actor identity for bans; clients keep it across
		// reconnects. A missing one is issued and announced in Welcome.
		actor := r.URL.Query().Get("player")
		if actor == "" {
			actor = uuid.NewString()
		}
		playerID, err := uuid.Parse(actor)
		if err != nil {
			http.Error(w, "invalid player", http.StatusBadRequest)
			return
		}
		actor = playerID.String()

		lb := h.Get(r.Context(), code)
		if lb == nil {
			http.Error(w, "lobby not found", http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: settings.OriginPatterns,
		})
		if err != nil {
			log.Debug("websocket accept failed", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		clog := log.With(zap.String("session", code), zap.String("actor", actor))
		pres := newPresenter(queueSize, clog)
		pres.send(types.ServerMessage{Type: types.MsgWelcome, Actor: actor})

		seed := settings.Seed
		if seed != 0 {
			// distinct but reproducible streams per player
			seed += int64(playerID.ID())
		}
		p, err := participant.New(r.Context(), lb, participant.Config{
			Actor:  actor,
			Stages: settings.Stages,
			Policy: settings.Policy,
			Seed:   seed,
		}, pres, clog)
		if err != nil {
			conn.Close(websocket.StatusTryAgainLater, "session unavailable")
			return
		}
		defer p.Stop()

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for {
				select {
				case <-writeCtx.Done():
					return
				case <-p.Done():
					conn.Close(websocket.StatusGoingAway, "session closed")
					return
				case msg := <-pres.out:
					ctx, cancel := context.WithTimeout(writeCtx, writeTimeout)
					err := wsjson.Write(ctx, conn, msg)
					cancel()
					if err != nil {
						clog.Debug("write failed", zap.Error(err))
						return
					}
				}
			}
		}()

		// Reader loop
		for {
			ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
			_, data, err := conn.Read(ctx)
			cancel()
			if err != nil {
				// Treat clean close/going-away as normal:
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				clog.Debug("read failed", zap.Error(err))
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				pres.send(types.ServerMessage{Type: types.MsgError, Error: "bad json"})
				continue
			}

			if err := dispatch(r.Context(), p, pres, cm); err != nil {
				pres.send(types.ServerMessage{Type: types.MsgError, Error: describe(err)})
			}
		}
	}
}

var (
	errUnknownType   = errors.New("unknown type")
	errInputDisabled = errors.New("input disabled")
)

func dispatch(ctx context.Context, p *participant.Participant, pres *presenter, cm types.ClientMessage) error {
	switch cm.Type {
	case types.MsgSubmitAnswer:
		if pres.inputDisabled() {
			return errInputDisabled
		}
		return ignoreBan(p.SubmitAnswer(ctx, cm.ClaimsAnomaly))
	case types.MsgStartGame:
		if pres.inputDisabled() {
			return errInputDisabled
		}
		return ignoreBan(p.StartGame(ctx, cm.StageIndex))
	case types.MsgResetGame:
		if pres.inputDisabled() {
			return errInputDisabled
		}
		return ignoreBan(p.ResetGame(ctx))
	default:
		return errUnknownType
	}
}

// A ban is reported to the client through InputDisabled, not as an error.
func ignoreBan(err error) error {
	if errors.Is(err, engine.ErrActorBanned) {
		return nil
	}
	return err
}

func describe(err error) string {
	switch {
	case errors.Is(err, replica.ErrUnavailable), errors.Is(err, participant.ErrStopped):
		return "action did not take effect"
	default:
		return err.Error()
	}
}
