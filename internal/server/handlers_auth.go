package server

import (
	"errors"
	"net/http"

	"scriptoscuola/internal/app"
	"scriptoscuola/pkg/domain"
)

type setupIstituto struct {
	Nome           string `json:"nome" validate:"required"`
	CodiceIstituto string `json:"codiceIstituto" validate:"required,len=10"`
}

type setupUtente struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type setupScuolaRequest struct {
	Istituto setupIstituto `json:"istituto"`
	Utente   setupUtente   `json:"utente"`
}

type setupScuolaResponse struct {
	Istituto domain.Istituto `json:"istituto"`
	Admin    domain.Utente   `json:"admin"`
}

type loginRequest struct {
	Identifier string `json:"identifier" validate:"required"`
	Password   string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type tokenResponse struct {
	Token        string        `json:"token"`
	RefreshToken string        `json:"refreshToken"`
	Utente       domain.Utente `json:"utente"`
}

func (s *Server) handleSetupScuola(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowAuth(r) {
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}
	var req setupScuolaRequest
	if !decodeJSON(w, r, &req) || !s.valid(w, &req) {
		return
	}
	istituto, admin, err := s.app.SetupScuola(req.Istituto.Nome, req.Istituto.CodiceIstituto, req.Utente.Email, req.Utente.Password)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, setupScuolaResponse{Istituto: istituto, Admin: admin})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowAuth(r) {
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}
	var req loginRequest
	if !decodeJSON(w, r, &req) || !s.valid(w, &req) {
		return
	}
	utente, access, refresh, err := s.app.Login(req.Identifier, req.Password)
	if err != nil {
		if errors.Is(err, app.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: access, RefreshToken: refresh, Utente: utente})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowAuth(r) {
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}
	var req refreshRequest
	if !decodeJSON(w, r, &req) || !s.valid(w, &req) {
		return
	}
	utente, access, refresh, err := s.app.Refresh(req.RefreshToken)
	if err != nil {
		if errors.Is(err, app.ErrInvalidRefreshToken) {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: access, RefreshToken: refresh, Utente: utente})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req logoutRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.app.Logout(req.RefreshToken); err != nil {
		writeStoreError(w, r, err)
		return
	}
	// Always 200: revoking an unknown token is a successful no-op.
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}
