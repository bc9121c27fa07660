package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"scriptoscuola/pkg/domain"
)

// RegistrazioniStore manages copy registrations of one institute.
type RegistrazioniStore struct {
	db         *gorm.DB
	istitutoID uint
}

var registrazioniSortColumns = map[RegistrazioniSortField]string{
	RegistrazioniSortDocente:   "docente_id",
	RegistrazioniSortUtente:    "utente_id",
	RegistrazioniSortCreatedAt: "created_at",
}

// List returns one page of registrations with the pagination envelope.
func (s *RegistrazioniStore) List(q RegistrazioniQuery) (domain.Paginated[domain.RegistrazioneCopie], error) {
	var out domain.Paginated[domain.RegistrazioneCopie]
	page, pageSize := normalizePage(q.Page, q.PageSize)

	var totalItems int64
	if err := s.applyFilters(s.db.Model(&RegistrazioneCopieModel{}), q).Count(&totalItems).Error; err != nil {
		return out, fmt.Errorf("count registrazioni: %w", err)
	}

	sortColumn, ok := registrazioniSortColumns[q.SortField]
	order := orderDirection(q.SortOrder)
	if !ok {
		// Newest first when no explicit ordering was requested.
		sortColumn = "created_at"
		if q.SortOrder == "" {
			order = "DESC"
		}
	}
	var models []RegistrazioneCopieModel
	err := s.applyFilters(s.db, q).
		Order(sortColumn + " " + order).
		Order("id ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return out, fmt.Errorf("query registrazioni: %w", err)
	}

	items := make([]domain.RegistrazioneCopie, 0, len(models))
	for _, m := range models {
		items = append(items, registrazioneFromModel(m))
	}
	out.Items = items
	out.Pagination = domain.NewPagination(page, pageSize, totalItems)
	return out, nil
}

func (s *RegistrazioniStore) applyFilters(db *gorm.DB, q RegistrazioniQuery) *gorm.DB {
	db = db.Where("istituto_id = ?", s.istitutoID)
	if q.DocenteID != 0 {
		db = db.Where("docente_id = ?", q.DocenteID)
	}
	if q.UtenteID != "" {
		db = db.Where("utente_id = ?", q.UtenteID)
	}
	return db
}

// Create records copies for a teacher. The referenced teacher and user must
// exist in this institute, and the copy-limit guard must pass; guard and
// insert share one transaction so the check and the write see the same state.
func (s *RegistrazioniStore) Create(data NewRegistrazione) (domain.RegistrazioneCopie, error) {
	var m RegistrazioneCopieModel
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if data.UtenteID != nil {
			var count int64
			err := tx.Model(&UtenteModel{}).
				Where("id = ? AND istituto_id = ?", *data.UtenteID, s.istitutoID).
				Count(&count).Error
			if err != nil {
				return fmt.Errorf("check utente: %w", err)
			}
			if count == 0 {
				return ErrUtenteNotFound
			}
		}

		docenti := &DocentiStore{db: tx, istitutoID: s.istitutoID}
		if err := docenti.CheckLimiteCopie(tx, data.DocenteID, data.CopieEffettuate); err != nil {
			return err
		}

		now := time.Now().UTC()
		m = RegistrazioneCopieModel{
			DocenteID:       data.DocenteID,
			UtenteID:        data.UtenteID,
			IstitutoID:      s.istitutoID,
			CopieEffettuate: data.CopieEffettuate,
			Note:            data.Note,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := tx.Create(&m).Error; err != nil {
			return fmt.Errorf("insert registrazione: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.RegistrazioneCopie{}, err
	}
	return registrazioneFromModel(m), nil
}

// Get returns a single registration of this institute.
func (s *RegistrazioniStore) Get(id uint) (domain.RegistrazioneCopie, error) {
	var m RegistrazioneCopieModel
	err := s.db.Where("id = ? AND istituto_id = ?", id, s.istitutoID).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.RegistrazioneCopie{}, ErrNotFound
		}
		return domain.RegistrazioneCopie{}, err
	}
	return registrazioneFromModel(m), nil
}

// Delete removes a registration of this institute.
func (s *RegistrazioniStore) Delete(id uint) error {
	res := s.db.Where("id = ? AND istituto_id = ?", id, s.istitutoID).Delete(&RegistrazioneCopieModel{})
	if res.Error != nil {
		return fmt.Errorf("delete registrazione: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
