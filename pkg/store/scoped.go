package store

import (
	"gorm.io/gorm"

	"scriptoscuola/pkg/domain"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ScopedStore exposes CRUD sub-stores whose every query is filtered to one
// institute. The institute id is captured once, at construction, so calling
// code cannot leak cross-tenant rows by forgetting a filter.
type ScopedStore struct {
	db         *gorm.DB
	istitutoID uint
}

// IstitutoID returns the institute this store is bound to.
func (s *ScopedStore) IstitutoID() uint { return s.istitutoID }

// Docenti returns the teacher sub-store.
func (s *ScopedStore) Docenti() *DocentiStore {
	return &DocentiStore{db: s.db, istitutoID: s.istitutoID}
}

// Utenti returns the user sub-store.
func (s *ScopedStore) Utenti() *UtentiStore {
	return &UtentiStore{db: s.db, istitutoID: s.istitutoID}
}

// Registrazioni returns the copy-registration sub-store.
func (s *ScopedStore) Registrazioni() *RegistrazioniStore {
	return &RegistrazioniStore{db: s.db, istitutoID: s.istitutoID}
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

func orderDirection(order domain.SortOrder) string {
	if order == domain.SortDesc {
		return "DESC"
	}
	return "ASC"
}
