package server

import (
	"net/http"
	"strconv"
	"strings"

	"scriptoscuola/pkg/domain"
	"scriptoscuola/pkg/store"
)

type newDocenteRequest struct {
	Nome        string `json:"nome" validate:"required"`
	Cognome     string `json:"cognome" validate:"required"`
	LimiteCopie int    `json:"limiteCopie" validate:"gte=0"`
}

type updateDocenteRequest struct {
	Nome        *string `json:"nome"`
	Cognome     *string `json:"cognome"`
	LimiteCopie *int    `json:"limiteCopie" validate:"omitempty,gte=0"`
}

func (s *Server) handleListDocenti(w http.ResponseWriter, r *http.Request, _ domain.Utente, sc *store.ScopedStore) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	params := r.URL.Query()
	q := store.DocentiQuery{
		Nome:      params.Get("nome"),
		Cognome:   params.Get("cognome"),
		SortField: store.DocentiSortField(params.Get("sortField")),
		SortOrder: parseSortOrder(params.Get("sortOrder")),
	}
	q.Page, q.PageSize = parsePageParams(params.Get("page"), params.Get("pageSize"))

	res, err := sc.Docenti().List(q)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCreateDocente(w http.ResponseWriter, r *http.Request, _ domain.Utente, sc *store.ScopedStore) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req newDocenteRequest
	if !decodeJSON(w, r, &req) || !s.valid(w, &req) {
		return
	}
	docente, err := sc.Docenti().Create(store.NewDocente{
		Nome:        strings.TrimSpace(req.Nome),
		Cognome:     strings.TrimSpace(req.Cognome),
		LimiteCopie: req.LimiteCopie,
	})
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, docente)
}

func (s *Server) handleUpdateDocente(w http.ResponseWriter, r *http.Request, _ domain.Utente, sc *store.ScopedStore) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	id, ok := pathID(r, "/api/docenti/update-docente/")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid docente id")
		return
	}
	var req updateDocenteRequest
	if !decodeJSON(w, r, &req) || !s.valid(w, &req) {
		return
	}
	docente, err := sc.Docenti().Update(id, store.UpdateDocente{
		Nome:        req.Nome,
		Cognome:     req.Cognome,
		LimiteCopie: req.LimiteCopie,
	})
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, docente)
}

func (s *Server) handleDeleteDocente(w http.ResponseWriter, r *http.Request, _ domain.Utente, sc *store.ScopedStore) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	id, ok := pathID(r, "/api/docenti/delete-docente/")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid docente id")
		return
	}
	if err := sc.Docenti().Delete(id); err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "docente deleted"})
}

func parsePageParams(rawPage, rawPageSize string) (int, int) {
	page, _ := strconv.Atoi(rawPage)
	pageSize, _ := strconv.Atoi(rawPageSize)
	return page, pageSize
}

// parseSortOrder keeps an absent parameter distinct from an explicit "asc",
// since some listings default to newest-first only when no order was asked.
func parseSortOrder(raw string) domain.SortOrder {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(domain.SortDesc):
		return domain.SortDesc
	case string(domain.SortAsc):
		return domain.SortAsc
	default:
		return ""
	}
}
