package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/mcbot/internal/httpserver/deps"
	"github.com/MrSnakeDoc/mcbot/internal/httpserver/handlers"
)

func init() { Register(registerSessions) }

func registerSessions(r chi.Router, d deps.Deps) {
	r.Get("/sessions", handlers.Sessions(d))
}
