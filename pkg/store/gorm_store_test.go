package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"scriptoscuola/pkg/auth"
	"scriptoscuola/pkg/domain"
)

// newTestStore opens an in-memory SQLite database. The pool is pinned to a
// single connection because each SQLite memory connection is its own database.
func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	s, err := New(db)
	require.NoError(t, err)
	return s
}

func seedScuola(t *testing.T, s *GormStore, codice, adminEmail string) (domain.Istituto, domain.Utente) {
	t.Helper()
	istituto, admin, err := s.SetupScuola("Istituto "+codice, codice, adminEmail, "password123")
	require.NoError(t, err)
	return istituto, admin
}

func TestSetupScuola(t *testing.T) {
	s := newTestStore(t)

	istituto, admin, err := s.SetupScuola("Liceo Fermi", "rmps12345x", "Admin@Fermi.it", "password123")
	require.NoError(t, err)
	require.Equal(t, "RMPS12345X", istituto.CodiceIstituto)
	require.Equal(t, domain.RuoloAdmin, admin.Ruolo)
	require.NotNil(t, admin.Email)
	require.Equal(t, "admin@fermi.it", *admin.Email)
	require.Nil(t, admin.Username)
	require.Equal(t, istituto.ID, admin.IstitutoID)
	require.True(t, auth.CheckPassword("password123", admin.PasswordHash))
}

func TestSetupScuolaRejectsDuplicateCodice(t *testing.T) {
	s := newTestStore(t)
	seedScuola(t, s, "RMPS12345X", "a@fermi.it")

	_, _, err := s.SetupScuola("Altro", "rmps12345x", "b@altro.it", "password123")
	require.ErrorIs(t, err, ErrCodiceIstitutoTaken)
}

func TestSetupScuolaRejectsDuplicateAdminEmail(t *testing.T) {
	s := newTestStore(t)
	seedScuola(t, s, "RMPS12345X", "a@fermi.it")

	_, _, err := s.SetupScuola("Altro", "MIPS98765Z", "A@Fermi.IT", "password123")
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestGlobalLookups(t *testing.T) {
	s := newTestStore(t)
	istituto, admin := seedScuola(t, s, "RMPS12345X", "a@fermi.it")

	username := "marco"
	collab, err := s.Scoped(istituto.ID).Utenti().Create(NewUtente{
		Ruolo:    domain.RuoloCollaboratore,
		Username: &username,
		Password: "password123",
	})
	require.NoError(t, err)

	got, err := s.GetAdminByEmail("  A@FERMI.IT ")
	require.NoError(t, err)
	require.Equal(t, admin.ID, got.ID)

	got, err = s.GetCollaboratoreByUsername("Marco")
	require.NoError(t, err)
	require.Equal(t, collab.ID, got.ID)

	// An admin email never resolves through the collaborator lookup.
	_, err = s.GetCollaboratoreByUsername("a@fermi.it")
	require.ErrorIs(t, err, ErrUtenteNotFound)

	got, err = s.GetUtenteByID(collab.ID)
	require.NoError(t, err)
	require.Equal(t, collab.ID, got.ID)

	_, err = s.GetUtenteByID("missing-id")
	require.ErrorIs(t, err, ErrUtenteNotFound)
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Ping(context.Background()))
}
