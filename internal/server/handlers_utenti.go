package server

import (
	"net/http"
	"strconv"

	"scriptoscuola/pkg/domain"
	"scriptoscuola/pkg/store"
)

type newUtenteRequest struct {
	Ruolo    string  `json:"ruolo" validate:"required,oneof=admin collaboratore"`
	Email    *string `json:"email" validate:"omitempty,email"`
	Username *string `json:"username"`
	Password string  `json:"password" validate:"required,min=8"`
}

type updateUtenteRequest struct {
	Ruolo    *string `json:"ruolo" validate:"omitempty,oneof=admin collaboratore"`
	Email    *string `json:"email" validate:"omitempty,email"`
	Username *string `json:"username"`
	Password *string `json:"password" validate:"omitempty,min=8"`
}

func (s *Server) handleListUtenti(w http.ResponseWriter, r *http.Request, _ domain.Utente, sc *store.ScopedStore) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	params := r.URL.Query()
	q := store.UtentiQuery{
		Username:  params.Get("username"),
		Email:     params.Get("email"),
		Ruolo:     domain.Ruolo(params.Get("ruolo")),
		SortField: store.UtentiSortField(params.Get("sortField")),
		SortOrder: parseSortOrder(params.Get("sortOrder")),
	}
	q.Page, q.PageSize = parsePageParams(params.Get("page"), params.Get("pageSize"))

	res, err := sc.Utenti().List(q)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleExportUtenti(w http.ResponseWriter, r *http.Request, _ domain.Utente, sc *store.ScopedStore) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	data, err := s.app.ExportUtentiCSV(sc)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="utenti.csv"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleCreateUtente(w http.ResponseWriter, r *http.Request, _ domain.Utente, sc *store.ScopedStore) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req newUtenteRequest
	if !decodeJSON(w, r, &req) || !s.valid(w, &req) {
		return
	}
	utente, err := sc.Utenti().Create(store.NewUtente{
		Ruolo:    domain.Ruolo(req.Ruolo),
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, utente)
}

func (s *Server) handleUpdateUtente(w http.ResponseWriter, r *http.Request, _ domain.Utente, sc *store.ScopedStore) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	id, ok := pathUserID(r, "/api/utenti/update-utente/")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid utente id")
		return
	}
	var req updateUtenteRequest
	if !decodeJSON(w, r, &req) || !s.valid(w, &req) {
		return
	}
	var ruolo *domain.Ruolo
	if req.Ruolo != nil {
		v := domain.Ruolo(*req.Ruolo)
		ruolo = &v
	}
	utente, err := sc.Utenti().Update(id, store.UpdateUtente{
		Ruolo:    ruolo,
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, utente)
}

func (s *Server) handleDeleteUtente(w http.ResponseWriter, r *http.Request, _ domain.Utente, sc *store.ScopedStore) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	id, ok := pathUserID(r, "/api/utenti/delete-utente/")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid utente id")
		return
	}
	if err := s.app.DeleteUtente(sc, id); err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "utente deleted"})
}
