package httpadapter

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/kirillkom/lostfound-matcher/internal/core/domain"
	"github.com/kirillkom/lostfound-matcher/internal/core/ports"
	"github.com/kirillkom/lostfound-matcher/internal/observability/metrics"
)

const (
	defaultService      = "api"
	defaultSearchLimit  = 10
	defaultMaxInFlight  = 64
	defaultQueueWait    = 250 * time.Millisecond
	maxRequestBodyBytes = 1 << 20
)

type Options struct {
	Service        string
	DefaultLimit   int
	RateLimitRPS   float64
	RateLimitBurst int
	MaxInFlight    int
	QueueWait      time.Duration
	// Empty leaves the admin endpoints open.
	AdminToken string
	// Breakers reports circuit breaker state per operation for /healthz.
	Breakers func() map[string]string
}

type Router struct {
	search     ports.SearchService
	selections ports.SelectionLogger
	models     ports.ModelAdmin
	metrics    *metrics.HTTPServerMetrics
	opts       Options
}

func NewRouter(
	search ports.SearchService,
	selections ports.SelectionLogger,
	models ports.ModelAdmin,
	httpMetrics *metrics.HTTPServerMetrics,
	opts Options,
) *Router {
	if opts.Service == "" {
		opts.Service = defaultService
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = defaultSearchLimit
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = defaultMaxInFlight
	}
	if opts.QueueWait <= 0 {
		opts.QueueWait = defaultQueueWait
	}
	return &Router{
		search:     search,
		selections: selections,
		models:     models,
		metrics:    httpMetrics,
		opts:       opts,
	}
}

func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(accessLogMiddleware)

	r.Get("/healthz", rt.healthz)
	if rt.metrics != nil {
		r.Method(http.MethodGet, "/metrics", rt.metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		if rt.opts.RateLimitRPS > 0 {
			burst := rt.opts.RateLimitBurst
			if burst <= 0 {
				burst = 1
			}
			r.Use(rateLimitMiddleware(rate.NewLimiter(rate.Limit(rt.opts.RateLimitRPS), burst)))
		}
		r.Use(func(next http.Handler) http.Handler {
			return backpressureMiddleware(next, rt.opts.MaxInFlight, rt.opts.QueueWait)
		})
		r.Post("/search", rt.handleSearch)
		r.Post("/log-selection", rt.handleLogSelection)
	})

	r.Group(func(r chi.Router) {
		r.Use(rt.adminAuthMiddleware)
		r.Get("/admin/model", rt.handleModelInfo)
		r.Post("/admin/model/reload", rt.handleModelReload)
	})

	if rt.metrics == nil {
		return r
	}
	return rt.metrics.Middleware(rt.opts.Service, r)
}

// healthz stays 200 while a dependency breaker is open: search still answers
// from the fallback paths.
func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	if rt.opts.Breakers == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	breakers := rt.opts.Breakers()
	status := "ok"
	for _, state := range breakers {
		if state == "open" {
			status = "degraded"
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status, "breakers": breakers})
}

type searchRequest struct {
	Text      string `json:"text"`
	Category  string `json:"category"`
	Limit     int    `json:"limit"`
	SessionID string `json:"session_id"`
}

func (rt *Router) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Limit <= 0 {
		req.Limit = rt.opts.DefaultLimit
	}

	start := time.Now()
	resp, err := rt.search.Search(r.Context(), domain.SearchRequest{
		Text:      req.Text,
		Category:  strings.TrimSpace(req.Category),
		Limit:     req.Limit,
		SessionID: strings.TrimSpace(req.SessionID),
	})
	if err != nil {
		status := mapErrorToHTTPStatus(err)
		if status >= http.StatusInternalServerError {
			slog.Error("search_failed", "request_id", requestIDFromContext(r.Context()), "error", err)
		}
		writeError(w, status, err)
		return
	}

	if rt.metrics != nil {
		modelVersion := ""
		if len(resp.Matches) > 0 {
			modelVersion = resp.Matches[0].ModelVersion
		}
		rt.metrics.RecordSearch(rt.opts.Service, string(resp.Variant), modelVersion, resp.Legacy, resp.CandidatePoolSize, time.Since(start))
	}
	writeJSON(w, http.StatusOK, resp)
}

type logSelectionRequest struct {
	ImpressionID    string `json:"impression_id"`
	QueryID         string `json:"query_id"`
	LostItemRaw     string `json:"lost_item_raw"`
	SelectedFoundID string `json:"selected_found_id"`
	SelectedRank    int    `json:"selected_rank"`
}

type logSelectionResponse struct {
	Status string `json:"status"`
	Logged bool   `json:"logged"`
}

func (rt *Router) handleLogSelection(w http.ResponseWriter, r *http.Request) {
	var req logSelectionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.ImpressionID = strings.TrimSpace(req.ImpressionID)
	req.SelectedFoundID = strings.TrimSpace(req.SelectedFoundID)
	if req.ImpressionID == "" || req.SelectedFoundID == "" {
		writeError(w, http.StatusBadRequest, errors.New("impression_id and selected_found_id are required"))
		return
	}

	logged := rt.selections.LogSelection(r.Context(), domain.Selection{
		ImpressionID:    req.ImpressionID,
		QueryID:         strings.TrimSpace(req.QueryID),
		RawText:         req.LostItemRaw,
		SelectedFoundID: req.SelectedFoundID,
		SelectedRank:    req.SelectedRank,
	})
	if rt.metrics != nil {
		rt.metrics.RecordSelection(rt.opts.Service, logged)
	}

	resp := logSelectionResponse{Status: "ok", Logged: logged}
	if !logged {
		resp.Status = "skipped"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (rt *Router) handleModelInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, rt.models.Info())
}

func (rt *Router) handleModelReload(w http.ResponseWriter, r *http.Request) {
	err := rt.models.Reload(r.Context())
	if rt.metrics != nil {
		rt.metrics.RecordModelReload(rt.opts.Service, err)
	}
	if err != nil {
		slog.Warn("model_reload_failed", "request_id", requestIDFromContext(r.Context()), "error", err)
		writeError(w, mapErrorToHTTPStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rt.models.Info())
}

func (rt *Router) adminAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rt.opts.AdminToken == "" || isAuthorizedBearerHeader(r.Header.Get("Authorization"), rt.opts.AdminToken) {
			next.ServeHTTP(w, r)
			return
		}
		writeError(w, http.StatusUnauthorized, errors.New("unauthorized"))
	})
}

func isAuthorizedBearerHeader(headerValue, expectedToken string) bool {
	headerValue = strings.TrimSpace(headerValue)
	if headerValue == "" || expectedToken == "" {
		return false
	}
	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(headerValue, bearerPrefix) {
		return false
	}
	token := strings.TrimSpace(strings.TrimPrefix(headerValue, bearerPrefix))
	return token == expectedToken
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return errors.New("invalid json")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": errorMessage(status, err)})
}
