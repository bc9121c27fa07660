package server

import (
	"net/http"
	"strconv"

	"scriptoscuola/pkg/domain"
	"scriptoscuola/pkg/store"
)

type newRegistrazioneRequest struct {
	DocenteID       uint    `json:"docenteId" validate:"required"`
	CopieEffettuate int     `json:"copieEffettuate" validate:"required,gt=0"`
	Note            *string `json:"note"`
}

func (s *Server) handleListRegistrazioni(w http.ResponseWriter, r *http.Request, _ domain.Utente, sc *store.ScopedStore) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	params := r.URL.Query()
	docenteID, _ := strconv.ParseUint(params.Get("docenteId"), 10, 32)
	q := store.RegistrazioniQuery{
		DocenteID: uint(docenteID),
		UtenteID:  params.Get("utenteId"),
		SortField: store.RegistrazioniSortField(params.Get("sortField")),
		SortOrder: parseSortOrder(params.Get("sortOrder")),
	}
	q.Page, q.PageSize = parsePageParams(params.Get("page"), params.Get("pageSize"))

	res, err := sc.Registrazioni().List(q)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Registrations are attributed to the authenticated caller, never to a
// client-supplied user id.
func (s *Server) handleCreateRegistrazione(w http.ResponseWriter, r *http.Request, caller domain.Utente, sc *store.ScopedStore) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req newRegistrazioneRequest
	if !decodeJSON(w, r, &req) || !s.valid(w, &req) {
		return
	}
	registrazione, err := sc.Registrazioni().Create(store.NewRegistrazione{
		DocenteID:       req.DocenteID,
		UtenteID:        &caller.ID,
		CopieEffettuate: req.CopieEffettuate,
		Note:            req.Note,
	})
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, registrazione)
}

func (s *Server) handleDeleteRegistrazione(w http.ResponseWriter, r *http.Request, _ domain.Utente, sc *store.ScopedStore) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	id, ok := pathID(r, "/api/registrazioni-copie/delete-registrazione/")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid registrazione id")
		return
	}
	if err := sc.Registrazioni().Delete(id); err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "registrazione deleted"})
}
