package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"syscall"

	"github.com/go-playground/validator/v10"

	"scriptoscuola/internal/app"
	"scriptoscuola/internal/ratelimit"
	"scriptoscuola/internal/util"
	"scriptoscuola/pkg/domain"
	"scriptoscuola/pkg/store"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App

	// AuthLimiter throttles the credential endpoints per client IP.
	// A nil limiter disables throttling, which tests rely on.
	AuthLimiter *ratelimit.FixedWindowLimiter

	TrustedProxies *util.TrustedProxies
	FrontendOrigin string
}

// Server exposes the HTTP API of the copy-tracking backend.
type Server struct {
	app         *app.App
	authLimiter *ratelimit.FixedWindowLimiter
	trusted     *util.TrustedProxies
	origin      string
	mux         *http.ServeMux
	validate    *validator.Validate
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:         cfg.App,
		authLimiter: cfg.AuthLimiter,
		trusted:     cfg.TrustedProxies,
		origin:      cfg.FrontendOrigin,
		mux:         http.NewServeMux(),
		validate:    newValidator(),
	}
	s.routes()
	return s
}

// Router returns the configured handler with the middleware chain applied.
func (s *Server) Router() http.Handler {
	var h http.Handler = s.mux
	h = util.WithCORS(s.origin, h)
	h = util.WithSecurityHeaders(h)
	h = util.WithRequestLog("scriptoscuola", h)
	h = util.WithRequestID(h)
	return h
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("/api/auth/setup-scuola", s.handleSetupScuola)
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.mux.HandleFunc("/api/auth/logout", s.handleLogout)
	s.mux.HandleFunc("/api/auth/refresh", s.handleRefresh)

	// docenti
	s.mux.Handle("/api/docenti", s.authenticated(s.handleListDocenti))
	s.mux.Handle("/api/docenti/new-docente", s.adminOnly(s.handleCreateDocente))
	s.mux.Handle("/api/docenti/update-docente/", s.adminOnly(s.handleUpdateDocente))
	s.mux.Handle("/api/docenti/delete-docente/", s.adminOnly(s.handleDeleteDocente))

	// utenti
	s.mux.Handle("/api/utenti", s.adminOnly(s.handleListUtenti))
	s.mux.Handle("/api/utenti/export", s.adminOnly(s.handleExportUtenti))
	s.mux.Handle("/api/utenti/new-utente", s.adminOnly(s.handleCreateUtente))
	s.mux.Handle("/api/utenti/update-utente/", s.adminOnly(s.handleUpdateUtente))
	s.mux.Handle("/api/utenti/delete-utente/", s.adminOnly(s.handleDeleteUtente))

	// registrazioni copie
	s.mux.Handle("/api/registrazioni-copie", s.adminOnly(s.handleListRegistrazioni))
	s.mux.Handle("/api/registrazioni-copie/new-registrazione", s.authenticated(s.handleCreateRegistrazione))
	s.mux.Handle("/api/registrazioni-copie/delete-registrazione/", s.adminOnly(s.handleDeleteRegistrazione))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.Utente, *store.ScopedStore)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		utente, err := s.app.UserFromToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, utente, s.app.Scoped(utente.IstitutoID))
	})
}

func (s *Server) adminOnly(next authHandler) http.Handler {
	return s.authenticated(func(w http.ResponseWriter, r *http.Request, utente domain.Utente, sc *store.ScopedStore) {
		if utente.Ruolo != domain.RuoloAdmin {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r, utente, sc)
	})
}

// allowAuth applies per-IP throttling to the credential endpoints.
func (s *Server) allowAuth(r *http.Request) bool {
	if s.authLimiter == nil {
		return true
	}
	return s.authLimiter.Allow(util.ClientIP(r, s.trusted))
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

// pathID extracts the trailing numeric id from paths like
// /api/docenti/update-docente/42.
func pathID(r *http.Request, prefix string) (uint, bool) {
	raw := strings.TrimPrefix(r.URL.Path, prefix)
	if raw == "" || strings.Contains(raw, "/") {
		return 0, false
	}
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// pathUserID extracts the trailing uuid from user paths.
func pathUserID(r *http.Request, prefix string) (string, bool) {
	raw := strings.TrimPrefix(r.URL.Path, prefix)
	if raw == "" || strings.Contains(raw, "/") {
		return "", false
	}
	return raw, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// newValidator reports field names from json tags so validation errors match
// the request payload the client sent.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (s *Server) valid(w http.ResponseWriter, req any) bool {
	err := s.validate.Struct(req)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		writeError(w, http.StatusBadRequest, "invalid request")
		return false
	}
	details := make([]fieldError, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, fieldError{Field: fe.Field(), Message: validationMessage(fe)})
	}
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error":   "validation failed",
		"details": details,
	})
	return false
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "len":
		return "must be exactly " + fe.Param() + " characters"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return "is invalid"
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps storage and business errors onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrDocenteNotFound),
		errors.Is(err, store.ErrUtenteNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrLimiteCopieSuperato),
		errors.Is(err, store.ErrEmailTaken),
		errors.Is(err, store.ErrUsernameTaken),
		errors.Is(err, store.ErrEmailRequired),
		errors.Is(err, store.ErrUsernameRequired),
		errors.Is(err, store.ErrCodiceIstitutoTaken),
		errors.Is(err, app.ErrLastAdmin):
		writeError(w, http.StatusBadRequest, err.Error())
	case isDBUnavailable(err):
		util.LoggerFromContext(r.Context()).Error("database unavailable", "error", err)
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
	default:
		util.LoggerFromContext(r.Context()).Error("internal error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func isDBUnavailable(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, context.DeadlineExceeded)
}
