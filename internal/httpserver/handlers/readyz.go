package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/mcbot/internal/httpserver/deps"
	"github.com/MrSnakeDoc/mcbot/internal/logger"
)

const redisCheckTimeout = time.Second

type readyzResponse struct {
	Ready  bool              `json:"ready"`
	Checks map[string]string `json:"checks"`
}

// Readyz reports ready once the transport has polled and redis, when
// configured, answers a ping.
func Readyz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := readyzResponse{Ready: true, Checks: map[string]string{}}

		if d.Transport != nil && d.Transport.Polled() {
			resp.Checks["transport"] = "ok"
		} else {
			resp.Ready = false
			resp.Checks["transport"] = "not polled yet"
		}

		if d.Redis != nil {
			ctx, cancel := context.WithTimeout(r.Context(), redisCheckTimeout)
			err := d.Redis.Ping(ctx)
			cancel()
			if err != nil {
				d.Logger.Warn("readyz: redis ping failed", logger.Error(err))
				resp.Ready = false
				resp.Checks["redis"] = err.Error()
			} else {
				resp.Checks["redis"] = "ok"
			}
		}

		status := http.StatusOK
		if !resp.Ready {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	}
}
