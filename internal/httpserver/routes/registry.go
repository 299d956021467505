package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/mcbot/internal/httpserver/deps"
	"github.com/MrSnakeDoc/mcbot/internal/httpserver/mw"
)

type (
	Registrar  func(r chi.Router, d deps.Deps)
	Middleware = func(http.Handler) http.Handler
)

type entry struct {
	reg Registrar
	mws []Middleware
}

var registry []entry

// Register a registrar with optional per-route middlewares.
func Register(reg Registrar, mws ...Middleware) {
	registry = append(registry, entry{reg: reg, mws: mws})
}

// RegisterAll mounts every registered route behind the CIDR allow-list.
// Called once from httpserver.New().
func RegisterAll(r chi.Router, d deps.Deps) {
	guarded := r.With(mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger))
	for _, e := range registry {
		if len(e.mws) == 0 {
			e.reg(guarded, d)
			continue
		}
		e.reg(guarded.With(e.mws...), d)
	}
}
