// Package web provides the public JSON API: metered conversion, key
// management, usage reporting, billing and payment webhooks.
package web

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vivek1240/docling-api/adapters/metrics"
	"github.com/vivek1240/docling-api/app"
	"github.com/vivek1240/docling-api/ports"
)

// Webhook payloads are signed over the raw body; cap reads to keep a
// hostile sender from buffering unbounded data.
const maxWebhookBytes = 1 << 20 // 1MB

const maxRequestBytes = 10 << 20 // 10MB

// File uploads carry whole documents, so they get a larger cap than JSON
// request bodies.
const maxUploadBytes = 100 << 20 // 100MB

// Handler provides the API endpoints.
type Handler struct {
	gateway    *app.GatewayService
	keys       *app.KeyService
	billing    *app.BillingService
	reconciler *app.ReconcilerService
	backend    ports.Backend
	collector  *metrics.Collector
	adminToken string
	logger     zerolog.Logger
	startTime  time.Time
}

// Deps contains dependencies for the API handler.
type Deps struct {
	Gateway    *app.GatewayService
	Keys       *app.KeyService
	Billing    *app.BillingService
	Reconciler *app.ReconcilerService
	Backend    ports.Backend
	Collector  *metrics.Collector
	AdminToken string
	Logger     zerolog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		gateway:    deps.Gateway,
		keys:       deps.Keys,
		billing:    deps.Billing,
		reconciler: deps.Reconciler,
		backend:    deps.Backend,
		collector:  deps.Collector,
		adminToken: deps.AdminToken,
		logger:     deps.Logger,
		startTime:  time.Now(),
	}
}

// Router returns the API router.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.instrument)

	// Unauthenticated surface.
	r.Get("/health", h.Health)
	if h.collector != nil {
		r.Handle("/metrics", promhttp.Handler())
	}
	r.Post("/webhooks/stripe", h.StripeWebhook)

	r.Route("/v1", func(r chi.Router) {
		// Metered conversion, authenticated per request inside the gateway.
		r.Post("/convert/source", h.ConvertSource)
		r.Post("/convert/file", h.ConvertFile)

		// Key-holder surface.
		r.Get("/usage", h.Usage)
		r.Get("/billing/packages", h.Packages)
		r.Post("/billing/checkout", h.Checkout)
		r.Post("/billing/portal", h.Portal)

		// Admin surface.
		r.Group(func(r chi.Router) {
			r.Use(h.adminOnly)
			r.Post("/keys", h.CreateKey)
			r.Get("/keys", h.ListKeys)
			r.Get("/keys/{keyID}", h.GetKey)
			r.Delete("/keys/{keyID}", h.DeactivateKey)
		})
	})

	return r
}

// instrument records request counts and latency per endpoint.
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.collector == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		h.collector.RequestsInFlight.Inc()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		h.collector.RequestsInFlight.Dec()
		endpoint := r.Method + " " + routePattern(r)
		h.collector.RequestsTotal.WithLabelValues(endpoint, strconv.Itoa(ww.Status())).Inc()
		h.collector.RequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// adminOnly guards key management behind the configured admin token.
func (h *Handler) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.adminToken == "" {
			writeError(w, http.StatusForbidden, "admin_disabled", "Admin API is not configured")
			return
		}
		token := bearerToken(r)
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the token from the Authorization header, falling
// back to X-Api-Key.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.Header.Get("X-Api-Key")
}

// Health reports service and backend status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	backendStatus := "ok"
	if h.backend != nil {
		if err := h.backend.HealthCheck(r.Context()); err != nil {
			backendStatus = "unreachable"
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"backend":        backendStatus,
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	body := io.LimitReader(r.Body, maxRequestBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Request body is not valid JSON")
		return false
	}
	return true
}

func parseIntQuery(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return n
}
