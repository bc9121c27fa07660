package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"scriptoscuola/pkg/auth"
	"scriptoscuola/pkg/domain"
	"scriptoscuola/pkg/store"
)

const defaultRefreshTTL = 7 * 24 * time.Hour

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL string
	DB          *gorm.DB // optional injection, used by tests
	Tokens      *auth.TokenIssuer
	RefreshTTL  time.Duration
}

// App is the core application service wiring together storage and auth logic.
type App struct {
	store      *store.GormStore
	tokens     *auth.TokenIssuer
	refreshTTL time.Duration
}

// New constructs the application with database storage and token issuance.
func New(cfg Config) (*App, error) {
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token issuer required")
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = defaultRefreshTTL
	}

	db := cfg.DB
	if db == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		db, err = store.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	dataStore, err := store.New(db)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	return &App{
		store:      dataStore,
		tokens:     cfg.Tokens,
		refreshTTL: cfg.RefreshTTL,
	}, nil
}

// Ping reports database reachability.
func (a *App) Ping(ctx context.Context) error {
	return a.store.Ping(ctx)
}

// Scoped returns the tenant-scoped store for an institute.
func (a *App) Scoped(istitutoID uint) *store.ScopedStore {
	return a.store.Scoped(istitutoID)
}

// SetupScuola creates an institute and its first admin in one transaction.
func (a *App) SetupScuola(nome, codiceIstituto, adminEmail, password string) (domain.Istituto, domain.Utente, error) {
	return a.store.SetupScuola(nome, codiceIstituto, adminEmail, password)
}

// Login verifies credentials and issues an access/refresh token pair. An
// identifier containing "@" is treated as an admin email, anything else as a
// collaborator username.
func (a *App) Login(identifier, password string) (domain.Utente, string, string, error) {
	identifier = strings.TrimSpace(identifier)

	var (
		utente domain.Utente
		err    error
	)
	if strings.Contains(identifier, "@") {
		utente, err = a.store.GetAdminByEmail(identifier)
	} else {
		utente, err = a.store.GetCollaboratoreByUsername(identifier)
	}
	if err != nil {
		if errors.Is(err, store.ErrUtenteNotFound) {
			return domain.Utente{}, "", "", ErrInvalidCredentials
		}
		return domain.Utente{}, "", "", fmt.Errorf("fetch utente: %w", err)
	}
	if !auth.CheckPassword(password, utente.PasswordHash) {
		return domain.Utente{}, "", "", ErrInvalidCredentials
	}
	return a.issueTokens(utente)
}

func (a *App) issueTokens(utente domain.Utente) (domain.Utente, string, string, error) {
	accessToken, err := a.tokens.Issue(utente)
	if err != nil {
		return domain.Utente{}, "", "", err
	}
	refreshToken, err := a.store.RefreshTokens().NewToken(utente.ID, a.refreshTTL)
	if err != nil {
		return domain.Utente{}, "", "", err
	}
	return utente, accessToken, refreshToken, nil
}

// Refresh rotates the refresh token and issues a new token pair. The
// presented token is revoked in the same transaction that stores its
// replacement, so each refresh token is usable exactly once.
func (a *App) Refresh(token string) (domain.Utente, string, string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Utente{}, "", "", ErrInvalidRefreshToken
	}
	userID, newToken, err := a.store.RefreshTokens().Rotate(token, a.refreshTTL)
	if err != nil {
		if errors.Is(err, store.ErrInvalidRefreshToken) {
			return domain.Utente{}, "", "", ErrInvalidRefreshToken
		}
		return domain.Utente{}, "", "", fmt.Errorf("rotate refresh token: %w", err)
	}
	utente, err := a.store.GetUtenteByID(userID)
	if err != nil {
		if errors.Is(err, store.ErrUtenteNotFound) {
			// Account deleted since the token was issued.
			_ = a.store.RefreshTokens().Revoke(newToken)
			return domain.Utente{}, "", "", ErrInvalidRefreshToken
		}
		return domain.Utente{}, "", "", fmt.Errorf("fetch utente: %w", err)
	}
	accessToken, err := a.tokens.Issue(utente)
	if err != nil {
		_ = a.store.RefreshTokens().Revoke(newToken)
		return domain.Utente{}, "", "", err
	}
	return utente, accessToken, newToken, nil
}

// Logout revokes a refresh token. Unknown tokens are treated as success so
// the operation stays idempotent.
func (a *App) Logout(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	return a.store.RefreshTokens().Revoke(token)
}

// UserFromToken verifies an access token and re-confirms the referenced user
// still exists, so tokens never outlive an account deletion.
func (a *App) UserFromToken(tokenString string) (domain.Utente, error) {
	claims, err := a.tokens.Verify(tokenString)
	if err != nil {
		return domain.Utente{}, err
	}
	utente, err := a.store.GetUtenteByID(claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrUtenteNotFound) {
			return domain.Utente{}, auth.ErrInvalidToken
		}
		return domain.Utente{}, fmt.Errorf("fetch utente: %w", err)
	}
	return utente, nil
}

// DeleteUtente removes a user after the last-admin guard: an institute must
// always retain at least one admin account.
func (a *App) DeleteUtente(sc *store.ScopedStore, id string) error {
	target, err := sc.Utenti().Get(id)
	if err != nil {
		return err
	}
	if target.Ruolo == domain.RuoloAdmin {
		admins, err := sc.Utenti().CountAdmins()
		if err != nil {
			return fmt.Errorf("count admins: %w", err)
		}
		if admins <= 1 {
			return ErrLastAdmin
		}
	}
	if err := sc.Utenti().Delete(id); err != nil {
		return err
	}
	return a.store.RefreshTokens().RevokeAllForUser(id)
}

// ExportUtentiCSV renders every user of the institute as CSV.
func (a *App) ExportUtentiCSV(sc *store.ScopedStore) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"id", "ruolo", "email", "username", "createdAt"}); err != nil {
		return nil, err
	}
	for page := 1; ; page++ {
		res, err := sc.Utenti().List(store.UtentiQuery{Page: page, PageSize: store.MaxPageSize})
		if err != nil {
			return nil, fmt.Errorf("list utenti: %w", err)
		}
		for _, u := range res.Items {
			record := []string{u.ID, string(u.Ruolo), "", "", u.CreatedAt.UTC().Format(time.RFC3339)}
			if u.Email != nil {
				record[2] = *u.Email
			}
			if u.Username != nil {
				record[3] = *u.Username
			}
			if err := w.Write(record); err != nil {
				return nil, err
			}
		}
		if !res.HasNextPage {
			break
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
