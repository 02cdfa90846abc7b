package handler

import (
	"net/http"
	"time"

	"github.com/eventflow/realtime/internal/observability"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type RouterConfig struct {
	ServiceName       string
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// NewRouter mounts the presence query API under /api and the websocket endpoint at /ws.
// A nil ws handler leaves /ws unmounted.
func NewRouter(presenceH *PresenceHandler, ws http.Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(observability.MetricsMiddleware(cfg.ServiceName))
	r.Use(Recovery())

	r.Route("/api/presence", func(p chi.Router) {
		if cfg.RateLimitRequests > 0 {
			p.Use(RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		}
		p.Get("/", presenceH.GetBulkPresence)
		p.Get("/online", presenceH.GetOnlineUsers)
		p.Get("/online/count", presenceH.GetOnlineCount)
		p.Get("/{userID}", presenceH.GetPresence)
	})

	if ws != nil {
		r.Handle("/ws", ws)
	}

	return otelhttp.NewHandler(r, cfg.ServiceName)
}
