package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"scriptoscuola/pkg/domain"
)

// DocentiStore manages teachers of one institute.
type DocentiStore struct {
	db         *gorm.DB
	istitutoID uint
}

// docenteConCopieRow is the scan target for the listing join.
type docenteConCopieRow struct {
	ID              uint
	Nome            string
	Cognome         string
	LimiteCopie     int
	IstitutoID      uint
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CopieEffettuate int
}

var docentiSortColumns = map[DocentiSortField]string{
	DocentiSortNome:            "docenti.nome",
	DocentiSortCognome:         "docenti.cognome",
	DocentiSortLimiteCopie:     "docenti.limite_copie",
	DocentiSortCopieEffettuate: "COALESCE(reg.totale, 0)",
	DocentiSortCopieRimanenti:  "(docenti.limite_copie - COALESCE(reg.totale, 0))",
}

// List returns one page of teachers with their cumulative registered copies
// and remaining quota, plus the pagination envelope computed from a separate
// count over the same filters.
func (s *DocentiStore) List(q DocentiQuery) (domain.Paginated[domain.DocenteConCopie], error) {
	var out domain.Paginated[domain.DocenteConCopie]
	page, pageSize := normalizePage(q.Page, q.PageSize)

	var totalItems int64
	if err := s.applyFilters(s.db.Model(&DocenteModel{}), q, false).Count(&totalItems).Error; err != nil {
		return out, fmt.Errorf("count docenti: %w", err)
	}

	sub := s.db.Model(&RegistrazioneCopieModel{}).
		Select("docente_id, SUM(copie_effettuate) AS totale").
		Group("docente_id")
	sortColumn, ok := docentiSortColumns[q.SortField]
	if !ok {
		sortColumn = docentiSortColumns[DocentiSortCognome]
	}

	var rows []docenteConCopieRow
	query := s.db.Model(&DocenteModel{}).
		Select("docenti.*, COALESCE(reg.totale, 0) AS copie_effettuate").
		Joins("LEFT JOIN (?) reg ON reg.docente_id = docenti.id", sub)
	query = s.applyFilters(query, q, true).
		Order(sortColumn + " " + orderDirection(q.SortOrder)).
		Order("docenti.id ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize)
	if err := query.Scan(&rows).Error; err != nil {
		return out, fmt.Errorf("query docenti: %w", err)
	}

	items := make([]domain.DocenteConCopie, 0, len(rows))
	for _, r := range rows {
		rimanenti := r.LimiteCopie - r.CopieEffettuate
		if rimanenti < 0 {
			rimanenti = 0
		}
		items = append(items, domain.DocenteConCopie{
			Docente: domain.Docente{
				ID:          r.ID,
				Nome:        r.Nome,
				Cognome:     r.Cognome,
				LimiteCopie: r.LimiteCopie,
				IstitutoID:  r.IstitutoID,
				CreatedAt:   r.CreatedAt,
				UpdatedAt:   r.UpdatedAt,
			},
			CopieEffettuate: r.CopieEffettuate,
			CopieRimanenti:  rimanenti,
		})
	}
	out.Items = items
	out.Pagination = domain.NewPagination(page, pageSize, totalItems)
	return out, nil
}

func (s *DocentiStore) applyFilters(db *gorm.DB, q DocentiQuery, qualified bool) *gorm.DB {
	prefix := ""
	if qualified {
		prefix = "docenti."
	}
	db = db.Where(prefix+"istituto_id = ?", s.istitutoID)
	if nome := strings.TrimSpace(q.Nome); nome != "" {
		db = db.Where("LOWER("+prefix+"nome) LIKE ?", "%"+strings.ToLower(nome)+"%")
	}
	if cognome := strings.TrimSpace(q.Cognome); cognome != "" {
		db = db.Where("LOWER("+prefix+"cognome) LIKE ?", "%"+strings.ToLower(cognome)+"%")
	}
	return db
}

// Get returns a single teacher of this institute.
func (s *DocentiStore) Get(id uint) (domain.Docente, error) {
	var m DocenteModel
	err := s.db.Where("id = ? AND istituto_id = ?", id, s.istitutoID).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Docente{}, ErrDocenteNotFound
		}
		return domain.Docente{}, err
	}
	return docenteFromModel(m), nil
}

// Create inserts a teacher under this institute.
func (s *DocentiStore) Create(data NewDocente) (domain.Docente, error) {
	now := time.Now().UTC()
	m := DocenteModel{
		Nome:        strings.TrimSpace(data.Nome),
		Cognome:     strings.TrimSpace(data.Cognome),
		LimiteCopie: data.LimiteCopie,
		IstitutoID:  s.istitutoID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.Create(&m).Error; err != nil {
		return domain.Docente{}, fmt.Errorf("insert docente: %w", err)
	}
	if m.ID == 0 {
		return domain.Docente{}, errors.New("insert docente returned no row")
	}
	return docenteFromModel(m), nil
}

// Update applies a partial update to a teacher of this institute. A zero
// match means the id does not exist under this institute.
func (s *DocentiStore) Update(id uint, data UpdateDocente) (domain.Docente, error) {
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if data.Nome != nil {
		updates["nome"] = strings.TrimSpace(*data.Nome)
	}
	if data.Cognome != nil {
		updates["cognome"] = strings.TrimSpace(*data.Cognome)
	}
	if data.LimiteCopie != nil {
		updates["limite_copie"] = *data.LimiteCopie
	}
	res := s.db.Model(&DocenteModel{}).
		Where("id = ? AND istituto_id = ?", id, s.istitutoID).
		Updates(updates)
	if res.Error != nil {
		return domain.Docente{}, fmt.Errorf("update docente: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.Docente{}, ErrDocenteNotFound
	}
	return s.Get(id)
}

// Delete removes a teacher of this institute.
func (s *DocentiStore) Delete(id uint) error {
	res := s.db.Where("id = ? AND istituto_id = ?", id, s.istitutoID).Delete(&DocenteModel{})
	if res.Error != nil {
		return fmt.Errorf("delete docente: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrDocenteNotFound
	}
	return nil
}

// CheckLimiteCopie is the copy-limit guard: it locks the teacher row, sums the
// copies already registered and rejects nuoveCopie when the total would exceed
// the quota. Run it inside the same transaction as the insert it protects.
func (s *DocentiStore) CheckLimiteCopie(tx *gorm.DB, docenteID uint, nuoveCopie int) error {
	if tx == nil {
		tx = s.db
	}
	doc, err := s.lockDocente(tx, docenteID)
	if err != nil {
		return err
	}
	totale, err := s.sumCopieEffettuate(tx, docenteID)
	if err != nil {
		return err
	}
	if totale+int64(nuoveCopie) > int64(doc.LimiteCopie) {
		return ErrLimiteCopieSuperato
	}
	return nil
}

// lockDocente reads the teacher row under FOR UPDATE so concurrent
// registrations for the same teacher serialize on the check-then-insert
// sequence. SQLite has no row locks; its single-writer model covers the race.
func (s *DocentiStore) lockDocente(tx *gorm.DB, docenteID uint) (DocenteModel, error) {
	var m DocenteModel
	query := tx.Where("id = ? AND istituto_id = ?", docenteID, s.istitutoID)
	if tx.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := query.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return DocenteModel{}, ErrDocenteNotFound
		}
		return DocenteModel{}, fmt.Errorf("lock docente: %w", err)
	}
	return m, nil
}

func (s *DocentiStore) sumCopieEffettuate(tx *gorm.DB, docenteID uint) (int64, error) {
	var totale int64
	err := tx.Model(&RegistrazioneCopieModel{}).
		Where("docente_id = ? AND istituto_id = ?", docenteID, s.istitutoID).
		Select("COALESCE(SUM(copie_effettuate), 0)").
		Scan(&totale).Error
	if err != nil {
		return 0, fmt.Errorf("sum copie effettuate: %w", err)
	}
	return totale, nil
}
