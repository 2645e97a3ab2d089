// Package httptransport is the thin HTTP layer. Handlers delegate to domain
// services without embedding business logic so transport concerns remain
// isolated.
package httptransport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tremho/inverse-y/internal/platform/metrics"
	"github.com/tremho/inverse-y/internal/platform/middleware"
	"github.com/tremho/inverse-y/internal/rotation"
	"github.com/tremho/inverse-y/internal/session"
	"github.com/tremho/inverse-y/internal/sso"
	"github.com/tremho/inverse-y/internal/sso/slot"
	"github.com/tremho/inverse-y/internal/sso/ticket"
	"github.com/tremho/inverse-y/internal/user"
	dErrors "github.com/tremho/inverse-y/pkg/domain-errors"
)

// Handler holds the domain services the endpoints delegate to.
type Handler struct {
	coordinator *sso.Coordinator
	tickets     *ticket.Authority
	slots       *slot.Store
	sessions    *session.Store
	users       *user.Registry
	rotator     *rotation.Rotator
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

func NewHandler(
	coordinator *sso.Coordinator,
	tickets *ticket.Authority,
	slots *slot.Store,
	sessions *session.Store,
	users *user.Registry,
	rotator *rotation.Rotator,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Handler {
	return &Handler{
		coordinator: coordinator,
		tickets:     tickets,
		slots:       slots,
		sessions:    sessions,
		users:       users,
		rotator:     rotator,
		logger:      logger,
		metrics:     m,
	}
}

// NewRouter wires all public endpoints. The session-facing routes run behind
// identifier rotation; the out-of-band completion leg and metrics do not.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(h.logger))
	r.Use(middleware.Logger(h.logger))

	// The handshake endpoints can hold a request for close to twenty
	// seconds, so they get their own per-client cap.
	throttle := middleware.NewThrottle(30, time.Minute)

	r.Group(func(r chi.Router) {
		r.Use(SessionRotation(h.rotator))
		r.With(throttle.Limit).Post("/login/begin", h.handleLoginBegin)
		r.With(throttle.Limit).Post("/login/finish", h.handleLoginFinish)
		r.Post("/logout", h.handleLogout)
		r.Get("/session", h.handleSessionInfo)
	})

	r.With(throttle.Limit).Post("/sso/complete", h.handleSSOComplete)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError centralizes domain error translation to HTTP responses. Only the
// domain code and message cross the boundary; internals stay in the logs.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := dErrors.CodeInternal
	message := "internal error"
	var de dErrors.DomainError
	if errors.As(err, &de) {
		status = dErrors.ToHTTPStatus(de.Code)
		code = de.Code
		message = de.Message
	}
	writeJSON(w, status, map[string]string{
		"error":   string(code),
		"message": message,
	})
}
