package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/anomaly-detection/internal/engine"
	"github.com/DoyleJ11/anomaly-detection/internal/hub"
	"github.com/DoyleJ11/anomaly-detection/internal/store"
	"github.com/DoyleJ11/anomaly-detection/pkg/types"
)

const requestTimeout = 2 * time.Second

func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, 6)
	for i := 0; i < 6; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// CodeChecker reports codes used by earlier runs. *store.Store implements it.
type CodeChecker interface {
	CodeTaken(ctx context.Context, code string) (bool, error)
}

// CreateSession picks a code unused by live sessions and, when codes is
// set, by recorded ones.
func CreateSession(h *hub.Hub, codes CodeChecker, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		var code string
		for {
			c, err := GenerateCode()
			if err != nil {
				http.Error(w, "failed to generate code", http.StatusInternalServerError)
				return
			}
			taken := h.Get(ctx, c) != nil
			if !taken && codes != nil {
				taken, err = codes.CodeTaken(ctx, c)
				if err != nil {
					log.Warn("code lookup failed", zap.String("session", c), zap.Error(err))
					http.Error(w, "failed to create session", http.StatusServiceUnavailable)
					return
				}
			}
			if !taken {
				code = c
				break
			}
			log.Debug("collision on code, regenerating", zap.String("session", c))
		}

		if h.Ensure(ctx, code) == nil {
			http.Error(w, "failed to create session", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusCreated, struct {
			Code string `json:"code"`
		}{Code: code})
	}
}

func GetSession(h *hub.Hub, stages []engine.StageConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		lb := h.Get(ctx, code)
		if lb == nil {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		v, err := lb.View(ctx)
		if err != nil {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}

		banned := v.Banned
		if banned == nil {
			banned = []string{}
		}
		writeJSON(w, http.StatusOK, types.SessionInfo{
			Code:         code,
			Version:      v.Version,
			Owner:        v.Owner,
			Participants: v.NumClients,
			SuccessCount: int(v.State.SuccessCount),
			StageIndex:   int(v.State.StageIndex),
			VariantIndex: int(v.State.VariantIndex),
			Phase:        string(engine.DerivePhase(v.State, stages)),
			Banned:       banned,
		})
	}
}

// HistorySource is implemented by *store.Store.
type HistorySource interface {
	History(ctx context.Context, code string) ([]store.SessionCommit, error)
}

func SessionHistory(src HistorySource, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		rows, err := src.History(ctx, code)
		if err != nil {
			log.Warn("history lookup failed", zap.String("session", code), zap.Error(err))
			http.Error(w, "history unavailable", http.StatusServiceUnavailable)
			return
		}
		if len(rows) == 0 {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}

		out := make([]types.CommitRecord, 0, len(rows))
		for _, row := range rows {
			var events []struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(row.Events, &events); err != nil {
				log.Warn("undecodable commit events", zap.String("session", code), zap.Int("version", row.Version), zap.Error(err))
			}
			names := make([]string, len(events))
			for i, e := range events {
				names[i] = e.Type
			}
			out = append(out, types.CommitRecord{
				Version:      row.Version,
				Owner:        row.Owner,
				SuccessCount: int(row.SuccessCount),
				StageIndex:   int(row.StageIndex),
				VariantIndex: int(row.VariantIndex),
				Events:       names,
				At:           row.CreatedAt,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
