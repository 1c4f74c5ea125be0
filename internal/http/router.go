package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/blaue-tonne-service/internal/observability"
)

// RouterConfig holds the knobs of the lookup routes.
type RouterConfig struct {
	Landkreis      string
	RequestTimeout time.Duration
	// Limiter guards the lookup routes only. Nil disables rate limiting.
	Limiter *rate.Limiter
}

// NewRouter wires /health, /metrics and the lookup routes for the configured Landkreis.
// Any other Landkreis in the path falls through to a JSON 404.
func NewRouter(h *Handler, cfg RouterConfig, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.NotFoundHandler = CorrelationIDMiddleware(logger)(http.HandlerFunc(NotFound))

	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	lookups := router.PathPrefix("/" + cfg.Landkreis).Subrouter()
	lookups.Use(RateLimitMiddleware(cfg.Limiter))
	if cfg.RequestTimeout > 0 {
		lookups.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}
	lookups.HandleFunc("", h.GetDates).Methods(http.MethodGet)
	lookups.HandleFunc("/ics", h.GetICS).Methods(http.MethodGet)

	return router
}
