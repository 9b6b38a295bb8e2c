// Package httpapi is the HTTP transport of the auth core.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/logging"
	"github.com/dmitrijs2005/gophauth/internal/server/guard"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
	"github.com/dmitrijs2005/gophauth/internal/server/response"
	"github.com/dmitrijs2005/gophauth/internal/server/services"
	"github.com/gorilla/mux"
)

// SessionService is the part of *services.UserService the handlers call.
type SessionService interface {
	Register(ctx context.Context, in services.RegisterInput) (*models.PublicUser, error)
	Login(ctx context.Context, in services.LoginInput) (*services.Session, error)
	Refresh(ctx context.Context, refreshToken string) (*services.TokenPair, error)
	Logout(ctx context.Context, userID string) error
	Profile(ctx context.Context, userID string) (*models.PublicUser, error)
}

type Authenticator interface {
	Authenticate(ctx context.Context, c guard.Credentials) (*models.PublicUser, error)
}

type Options struct {
	SecureCookies  bool
	RequestTimeout time.Duration
	MaxUploadBytes int64
	// Metrics, when set, is served on /metrics.
	Metrics http.Handler
}

type Handler struct {
	sessions SessionService
	guard    Authenticator
	logger   logging.Logger
	opts     Options
}

func NewHandler(sessions SessionService, g Authenticator, logger logging.Logger, opts Options) *Handler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 5 << 20
	}
	return &Handler{sessions: sessions, guard: g, logger: logger, opts: opts}
}

// Router wires routes and middleware. Recovery is the outermost layer.
func (h *Handler) Router() http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(h.notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(h.methodNotAllowed)

	r.HandleFunc("/healthz", h.Healthz).Methods(http.MethodGet)
	if h.opts.Metrics != nil {
		r.Handle("/metrics", h.opts.Metrics).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api/v1/users").Subrouter()
	api.Use(h.timeout)
	api.HandleFunc("/register", h.Register).Methods(http.MethodPost)
	api.HandleFunc("/login", h.Login).Methods(http.MethodPost)
	api.HandleFunc("/refresh-token", h.RefreshToken).Methods(http.MethodPost)

	protected := api.PathPrefix("").Subrouter()
	protected.Use(h.authenticate)
	protected.HandleFunc("/logout", h.Logout).Methods(http.MethodPost)
	protected.HandleFunc("/me", h.Me).Methods(http.MethodGet)

	return h.recovery(h.logRequests(r))
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, response.Success(http.StatusOK, "ok", nil))
}

func (h *Handler) notFound(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, response.Failure(http.StatusNotFound, "route not found"))
}

func (h *Handler) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, response.Failure(http.StatusMethodNotAllowed, "method not allowed"))
}

func (h *Handler) write(w http.ResponseWriter, r *http.Request, env response.Envelope) {
	if err := response.Write(w, env); err != nil {
		h.logger.Warn(r.Context(), "write response", "error", err)
	}
}

// fail logs internal failures with their cause and answers with the envelope.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	env := response.FromError(err)
	if env.StatusCode >= http.StatusInternalServerError {
		h.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	h.write(w, r, env)
}
