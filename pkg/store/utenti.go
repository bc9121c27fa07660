package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"scriptoscuola/pkg/auth"
	"scriptoscuola/pkg/domain"
)

// UtentiStore manages accounts of one institute.
type UtentiStore struct {
	db         *gorm.DB
	istitutoID uint
}

var utentiSortColumns = map[UtentiSortField]string{
	UtentiSortUsername: "username",
	UtentiSortEmail:    "email",
	UtentiSortRuolo:    "ruolo",
}

// List returns one page of users with the pagination envelope.
func (s *UtentiStore) List(q UtentiQuery) (domain.Paginated[domain.Utente], error) {
	var out domain.Paginated[domain.Utente]
	page, pageSize := normalizePage(q.Page, q.PageSize)

	var totalItems int64
	if err := s.applyFilters(s.db.Model(&UtenteModel{}), q).Count(&totalItems).Error; err != nil {
		return out, fmt.Errorf("count utenti: %w", err)
	}

	sortColumn, ok := utentiSortColumns[q.SortField]
	if !ok {
		sortColumn = "created_at"
	}
	var models []UtenteModel
	err := s.applyFilters(s.db, q).
		Order(sortColumn + " " + orderDirection(q.SortOrder)).
		Order("id ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return out, fmt.Errorf("query utenti: %w", err)
	}

	items := make([]domain.Utente, 0, len(models))
	for _, m := range models {
		items = append(items, utenteFromModel(m))
	}
	out.Items = items
	out.Pagination = domain.NewPagination(page, pageSize, totalItems)
	return out, nil
}

func (s *UtentiStore) applyFilters(db *gorm.DB, q UtentiQuery) *gorm.DB {
	db = db.Where("istituto_id = ?", s.istitutoID)
	if username := strings.TrimSpace(q.Username); username != "" {
		db = db.Where("LOWER(username) LIKE ?", "%"+strings.ToLower(username)+"%")
	}
	if email := strings.TrimSpace(q.Email); email != "" {
		db = db.Where("LOWER(email) LIKE ?", "%"+strings.ToLower(email)+"%")
	}
	if q.Ruolo != "" {
		db = db.Where("ruolo = ?", string(q.Ruolo))
	}
	return db
}

// Get returns a single user of this institute.
func (s *UtentiStore) Get(id string) (domain.Utente, error) {
	var m UtenteModel
	err := s.db.Where("id = ? AND istituto_id = ?", id, s.istitutoID).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Utente{}, ErrUtenteNotFound
		}
		return domain.Utente{}, err
	}
	return utenteFromModel(m), nil
}

// CountAdmins counts admin accounts of this institute, for the last-admin
// delete guard.
func (s *UtentiStore) CountAdmins() (int64, error) {
	var count int64
	err := s.db.Model(&UtenteModel{}).
		Where("istituto_id = ? AND ruolo = ?", s.istitutoID, string(domain.RuoloAdmin)).
		Count(&count).Error
	return count, err
}

// Create inserts a user under this institute. Admins are identified by a
// globally unique email, collaborators by a globally unique username; exactly
// one identifier is stored, the other stays null.
func (s *UtentiStore) Create(data NewUtente) (domain.Utente, error) {
	var m UtenteModel
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var email, username *string
		switch data.Ruolo {
		case domain.RuoloAdmin:
			if data.Email == nil || strings.TrimSpace(*data.Email) == "" {
				return ErrEmailRequired
			}
			v := normalizeIdentifier(*data.Email)
			if err := s.checkEmailFree(tx, v, ""); err != nil {
				return err
			}
			email = &v
		case domain.RuoloCollaboratore:
			if data.Username == nil || strings.TrimSpace(*data.Username) == "" {
				return ErrUsernameRequired
			}
			v := normalizeIdentifier(*data.Username)
			if err := s.checkUsernameFree(tx, v, ""); err != nil {
				return err
			}
			username = &v
		default:
			return fmt.Errorf("unknown ruolo %q", data.Ruolo)
		}

		hash, err := auth.HashPassword(data.Password)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		now := time.Now().UTC()
		m = UtenteModel{
			ID:           uuid.NewString(),
			IstitutoID:   s.istitutoID,
			Ruolo:        string(data.Ruolo),
			Email:        email,
			Username:     username,
			PasswordHash: hash,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.Create(&m).Error; err != nil {
			return fmt.Errorf("insert utente: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Utente{}, err
	}
	return utenteFromModel(m), nil
}

// Update applies a partial update to a user of this institute. Switching
// ruolo requires the identifier matching the new role and clears the opposite
// one; the password is re-hashed only when a new one is supplied.
func (s *UtentiStore) Update(id string, data UpdateUtente) (domain.Utente, error) {
	var m UtenteModel
	err := s.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Where("id = ? AND istituto_id = ?", id, s.istitutoID).First(&m).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUtenteNotFound
			}
			return err
		}

		ruolo := domain.Ruolo(m.Ruolo)
		if data.Ruolo != nil {
			ruolo = *data.Ruolo
		}
		switch ruolo {
		case domain.RuoloAdmin:
			email := m.Email
			if data.Email != nil && strings.TrimSpace(*data.Email) != "" {
				v := normalizeIdentifier(*data.Email)
				email = &v
			}
			if email == nil {
				return ErrEmailRequired
			}
			if err := s.checkEmailFree(tx, *email, m.ID); err != nil {
				return err
			}
			m.Email = email
			m.Username = nil
		case domain.RuoloCollaboratore:
			username := m.Username
			if data.Username != nil && strings.TrimSpace(*data.Username) != "" {
				v := normalizeIdentifier(*data.Username)
				username = &v
			}
			if username == nil {
				return ErrUsernameRequired
			}
			if err := s.checkUsernameFree(tx, *username, m.ID); err != nil {
				return err
			}
			m.Username = username
			m.Email = nil
		default:
			return fmt.Errorf("unknown ruolo %q", ruolo)
		}
		m.Ruolo = string(ruolo)

		if data.Password != nil && *data.Password != "" {
			hash, err := auth.HashPassword(*data.Password)
			if err != nil {
				return fmt.Errorf("hash password: %w", err)
			}
			m.PasswordHash = hash
		}
		m.UpdatedAt = time.Now().UTC()
		// Save writes every column, so a cleared identifier really goes to null.
		if err := tx.Save(&m).Error; err != nil {
			return fmt.Errorf("update utente: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Utente{}, err
	}
	return utenteFromModel(m), nil
}

// Delete removes a user of this institute.
func (s *UtentiStore) Delete(id string) error {
	res := s.db.Where("id = ? AND istituto_id = ?", id, s.istitutoID).Delete(&UtenteModel{})
	if res.Error != nil {
		return fmt.Errorf("delete utente: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrUtenteNotFound
	}
	return nil
}

// Identifier uniqueness is global, not per-institute: login resolves an
// email/username without knowing the institute.
func (s *UtentiStore) checkEmailFree(tx *gorm.DB, email, excludeID string) error {
	query := tx.Model(&UtenteModel{}).
		Where("ruolo = ? AND email = ?", string(domain.RuoloAdmin), email)
	if excludeID != "" {
		query = query.Where("id <> ?", excludeID)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return fmt.Errorf("check email uniqueness: %w", err)
	}
	if count > 0 {
		return ErrEmailTaken
	}
	return nil
}

func (s *UtentiStore) checkUsernameFree(tx *gorm.DB, username, excludeID string) error {
	query := tx.Model(&UtenteModel{}).
		Where("ruolo = ? AND username = ?", string(domain.RuoloCollaboratore), username)
	if excludeID != "" {
		query = query.Where("id <> ?", excludeID)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return fmt.Errorf("check username uniqueness: %w", err)
	}
	if count > 0 {
		return ErrUsernameTaken
	}
	return nil
}
