package handler_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGameHandler(t *testing.T) {
	env := newTestEnv(t)

	t.Run("health reports the database", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/api/health", nil)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
		assert.JSONEq(t, `{"status":"Backend is running!","database":"ok"}`, rr.Body.String())
	})

	t.Run("health reports an unavailable database", func(t *testing.T) {
		broken := newTestEnv(t)
		broken.db.Close()

		rr := broken.do(t, http.MethodGet, "/api/health", nil)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"status":"Backend is running!","database":"unavailable"}`, rr.Body.String())
	})

	t.Run("game status", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/api/game/status", nil)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"game":"pong","status":"ready"}`, rr.Body.String())
	})

	t.Run("score", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/api/pong/score", nil)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"player1":0,"player2":0}`, rr.Body.String())
	})
}
