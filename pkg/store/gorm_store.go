package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"scriptoscuola/pkg/auth"
	"scriptoscuola/pkg/domain"
)

// GormStore owns the database handle. Tenant-facing operations are only
// reachable through Scoped; the raw handle never leaves this package.
type GormStore struct {
	db *gorm.DB
}

// Open connects to Postgres.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return db, nil
}

// New wraps an open handle and runs auto-migrations.
func New(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(
		&IstitutoModel{},
		&UtenteModel{},
		&DocenteModel{},
		&RegistrazioneCopieModel{},
		&RefreshTokenModel{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// Ping reports database reachability for health checks.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Scoped returns a store whose every operation is filtered to one institute.
func (s *GormStore) Scoped(istitutoID uint) *ScopedStore {
	return &ScopedStore{db: s.db, istitutoID: istitutoID}
}

// RefreshTokens returns the refresh-token store.
func (s *GormStore) RefreshTokens() *RefreshTokenStore {
	return &RefreshTokenStore{db: s.db}
}

// SetupScuola creates an institute together with its first admin in one
// transaction. Fails when the institute code or the admin email is taken.
func (s *GormStore) SetupScuola(nome, codiceIstituto, adminEmail, password string) (domain.Istituto, domain.Utente, error) {
	codiceIstituto = strings.ToUpper(strings.TrimSpace(codiceIstituto))
	adminEmail = normalizeIdentifier(adminEmail)

	var (
		istituto IstitutoModel
		admin    UtenteModel
	)
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&IstitutoModel{}).
			Where("codice_istituto = ?", codiceIstituto).
			Count(&count).Error; err != nil {
			return fmt.Errorf("check codice istituto: %w", err)
		}
		if count > 0 {
			return ErrCodiceIstitutoTaken
		}
		if err := tx.Model(&UtenteModel{}).
			Where("ruolo = ? AND email = ?", string(domain.RuoloAdmin), adminEmail).
			Count(&count).Error; err != nil {
			return fmt.Errorf("check admin email: %w", err)
		}
		if count > 0 {
			return ErrEmailTaken
		}

		now := time.Now().UTC()
		istituto = IstitutoModel{
			Nome:           strings.TrimSpace(nome),
			CodiceIstituto: codiceIstituto,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.Create(&istituto).Error; err != nil {
			return fmt.Errorf("insert istituto: %w", err)
		}

		hash, err := auth.HashPassword(password)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		admin = UtenteModel{
			ID:           uuid.NewString(),
			IstitutoID:   istituto.ID,
			Ruolo:        string(domain.RuoloAdmin),
			Email:        &adminEmail,
			PasswordHash: hash,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.Create(&admin).Error; err != nil {
			return fmt.Errorf("insert admin: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Istituto{}, domain.Utente{}, err
	}
	return istitutoFromModel(istituto), utenteFromModel(admin), nil
}

// GetUtenteByID resolves a user globally. Used by the auth middleware to
// confirm a token still refers to an existing account.
func (s *GormStore) GetUtenteByID(id string) (domain.Utente, error) {
	var m UtenteModel
	if err := s.db.First(&m, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Utente{}, ErrUtenteNotFound
		}
		return domain.Utente{}, err
	}
	return utenteFromModel(m), nil
}

// GetAdminByEmail resolves an admin for login. Email lookup is global: an
// email identifies at most one admin across all institutes.
func (s *GormStore) GetAdminByEmail(email string) (domain.Utente, error) {
	var m UtenteModel
	err := s.db.
		Where("ruolo = ? AND email = ?", string(domain.RuoloAdmin), normalizeIdentifier(email)).
		First(&m).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Utente{}, ErrUtenteNotFound
		}
		return domain.Utente{}, err
	}
	return utenteFromModel(m), nil
}

// GetCollaboratoreByUsername resolves a collaborator for login.
func (s *GormStore) GetCollaboratoreByUsername(username string) (domain.Utente, error) {
	var m UtenteModel
	err := s.db.
		Where("ruolo = ? AND username = ?", string(domain.RuoloCollaboratore), normalizeIdentifier(username)).
		First(&m).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Utente{}, ErrUtenteNotFound
		}
		return domain.Utente{}, err
	}
	return utenteFromModel(m), nil
}

func normalizeIdentifier(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
