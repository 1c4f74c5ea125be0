package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/blaue-tonne-service/internal/calendar"
	"github.com/kjstillabower/blaue-tonne-service/internal/client"
	"github.com/kjstillabower/blaue-tonne-service/internal/lifecycle"
	"github.com/kjstillabower/blaue-tonne-service/internal/models"
	"github.com/kjstillabower/blaue-tonne-service/internal/observability"
	"github.com/kjstillabower/blaue-tonne-service/internal/pdftable"
	"github.com/kjstillabower/blaue-tonne-service/internal/schedule"
	"github.com/kjstillabower/blaue-tonne-service/internal/traffic"
	"github.com/kjstillabower/blaue-tonne-service/internal/validation"
)

// ScheduleProvider looks up collection dates for one Landkreis.
type ScheduleProvider interface {
	GetDates(ctx context.Context, district string) (models.Schedule, error)
	Landkreis() string
	LoadedPlans() int
}

// HealthConfig holds thresholds for the health handler.
type HealthConfig struct {
	DegradedWindow   time.Duration
	DegradedErrorPct int
	StartTime        time.Time
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
}

// Options bounds the district query parameter.
type Options struct {
	DistrictMinLength int
	DistrictMaxLength int
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	schedules        ScheduleProvider
	healthConfig     *HealthConfig
	logger           *zap.Logger
	opts             Options
	now              func() time.Time
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(schedules ScheduleProvider, healthConfig *HealthConfig, logger *zap.Logger, opts Options) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		schedules:    schedules,
		healthConfig: healthConfig,
		logger:       logger,
		opts:         opts,
		now:          time.Now,
	}
}

// GetDates handles GET /{landkreis}?district=X.
func (h *Handler) GetDates(w http.ResponseWriter, r *http.Request) {
	result, ok := h.lookup(w, r)
	if !ok {
		return
	}
	setCacheHeader(w, result.Cached)
	writeJSON(w, http.StatusOK, result.Dates)
}

// GetICS handles GET /{landkreis}/ics?district=X.
func (h *Handler) GetICS(w http.ResponseWriter, r *http.Request) {
	result, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := calendar.WriteICS(&buf, result, h.now()); err != nil {
		writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "Unable to render calendar")
		return
	}
	setCacheHeader(w, result.Cached)
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+result.Landkreis+`.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// lookup validates the district parameter and resolves it. On failure the error
// response is already written and ok is false.
func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (result models.Schedule, ok bool) {
	values, present := r.URL.Query()["district"]
	if !present || len(values) == 0 || values[0] == "" {
		writeError(w, r, http.StatusUnprocessableEntity, "MISSING_DISTRICT", "district query parameter is required")
		return result, false
	}
	district, err := validation.ValidateDistrict(values[0], h.opts.DistrictMinLength, h.opts.DistrictMaxLength)
	if err != nil {
		if errors.Is(err, validation.ErrDistrictEmpty) {
			writeError(w, r, http.StatusUnprocessableEntity, "MISSING_DISTRICT", "district query parameter is required")
			return result, false
		}
		writeError(w, r, http.StatusBadRequest, "INVALID_DISTRICT", err.Error())
		return result, false
	}

	result, err = h.schedules.GetDates(r.Context(), district)
	if err != nil {
		if errors.Is(err, schedule.ErrDistrictNotFound) {
			traffic.RecordSuccess()
			writeDistrictNotFound(w, r)
			return result, false
		}
		traffic.RecordError()
		writeServiceError(w, r, err)
		return result, false
	}
	traffic.RecordSuccess()
	return result, true
}

func setCacheHeader(w http.ResponseWriter, cached bool) {
	if cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"planSource": "healthy"}
	if result.status == "degraded" {
		checks["planSource"] = "unhealthy"
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	resp := map[string]interface{}{
		"status":       result.status,
		"service":      observability.ServiceName,
		"version":      "dev",
		"landkreis":    h.schedules.Landkreis(),
		"plans_loaded": h.schedules.LoadedPlans(),
		"checks":       checks,
		"timestamp":    h.now().UTC().Format(time.RFC3339),
	}
	if since := lifecycle.ShutdownStarted(); !since.IsZero() {
		resp["draining_since"] = since.UTC().Format(time.RFC3339)
	}
	if h.healthConfig != nil && !h.healthConfig.StartTime.IsZero() {
		resp["uptime"] = h.now().Sub(h.healthConfig.StartTime).Round(time.Second).String()
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates conditions in priority order: shutting-down > degraded > healthy.
func (h *Handler) computeHealthStatus() healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.healthConfig != nil && h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		errs, total := traffic.ErrorRate(h.healthConfig.DegradedWindow)
		if total > 0 {
			pct := float64(errs) * 100 / float64(total)
			if pct >= float64(h.healthConfig.DegradedErrorPct) {
				return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
			}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// NotFound answers unknown routes, including a Landkreis other than the configured one.
func NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, "NOT_FOUND", "Unknown route")
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}

// writeDistrictNotFound adds a top-level "detail" to the error envelope; existing
// clients of the collection-date endpoint read the message from there.
func writeDistrictNotFound(w http.ResponseWriter, r *http.Request) {
	const message = "District not found"
	writeJSON(w, http.StatusNotFound, map[string]interface{}{
		"detail": message,
		"error": map[string]string{
			"code":      "DISTRICT_NOT_FOUND",
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}

// writeServiceError maps a lookup failure to 502 when the configured plan is not a
// usable PDF and to 503 for everything else on the fetch path.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if logger := observability.LoggerFromContext(r.Context()); logger != nil {
		logger.Debug("lookup error", zap.Error(err))
	}
	if isInvalidPlan(err) {
		writeError(w, r, http.StatusBadGateway, "INVALID_PLAN", invalidPlanMessage(err))
		return
	}
	writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch collection plan")
}

func isInvalidPlan(err error) bool {
	return errors.Is(err, client.ErrNotPDFURL) ||
		errors.Is(err, client.ErrNotPDFContent) ||
		errors.Is(err, pdftable.ErrInvalidPDF) ||
		errors.Is(err, pdftable.ErrPageOutOfRange)
}

func invalidPlanMessage(err error) string {
	switch {
	case errors.Is(err, client.ErrNotPDFURL):
		return client.ErrNotPDFURL.Error()
	case errors.Is(err, client.ErrNotPDFContent):
		return client.ErrNotPDFContent.Error()
	default:
		return "Collection plan could not be read"
	}
}
