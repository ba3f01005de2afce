package handler

import (
	"context"
	"net/http"
	"time"
)

// Pinger reports whether a dependency is reachable. *sqlite.DB satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// GameHandler serves the health check and the placeholder game endpoints.
// The game itself runs entirely in the browser.
type GameHandler struct {
	db Pinger
}

// NewGameHandler creates a GameHandler. db may be nil, in which case the
// health check does not report on the database.
func NewGameHandler(db Pinger) *GameHandler {
	return &GameHandler{db: db}
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
}

// HandleHealth answers GET /api/health. It always returns 200 so a load
// balancer keeps routing while the database recovers; the "database" field
// says whether it is reachable.
func (h *GameHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "Backend is running!"}
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		resp.Database = "ok"
		if err := h.db.Ping(ctx); err != nil {
			resp.Database = "unavailable"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleGameStatus answers GET /api/game/status.
func (h *GameHandler) HandleGameStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"game": "pong", "status": "ready"})
}

// HandleScore answers GET /api/pong/score. Scores are not persisted, so
// this is always 0-0.
func (h *GameHandler) HandleScore(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"player1": 0, "player2": 0})
}
