package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/mcbot/internal/bridge"
	"github.com/MrSnakeDoc/mcbot/internal/httpserver/deps"
)

type sessionsResponse struct {
	Bridges []bridge.Session `json:"bridges"`
	Pending []bridge.Pending `json:"pending"`
}

// Sessions lists live bridges and deferred activations. Read only.
func Sessions(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := sessionsResponse{
			Bridges: []bridge.Session{},
			Pending: []bridge.Pending{},
		}
		if d.Sessions != nil {
			resp.Bridges = append(resp.Bridges, d.Sessions.Sessions()...)
		}
		if d.Pending != nil {
			resp.Pending = append(resp.Pending, d.Pending.Snapshot()...)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
