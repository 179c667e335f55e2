package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/marketstream/internal/registry"
	"github.com/rickgao/marketstream/internal/router"
	"github.com/rickgao/marketstream/internal/transport"
	"github.com/rickgao/marketstream/internal/version"
)

// healthHandler reports registry, connection, router and database state.
func healthHandler(hub *registry.Hub, ws *transport.Handler, rt *router.Router, pool *pgxpool.Pool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Version    string         `json:"version"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Version:    version.String(),
			Components: make(map[string]any),
		}

		// Check database
		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["postgres"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["postgres"] = "connected"
			}
		}

		stats := hub.Stats()
		health.Components["registry"] = map[string]any{
			"clients":   stats.Clients,
			"handles":   stats.Handles,
			"published": stats.Published,
			"delivered": stats.Delivered,
			"dropped":   stats.Dropped,
		}
		health.Components["connections"] = ws.Active()

		rs := rt.Stats()
		health.Components["router"] = map[string]any{
			"received":     rs.MessagesReceived,
			"routed":       rs.MessagesRouted,
			"parse_errors": rs.ParseErrors,
			"unknown":      rs.UnknownMessages,
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})
}
