package store

import (
	"errors"

	"scriptoscuola/pkg/domain"
)

var (
	// ErrNotFound indicates the row does not exist under the caller's institute.
	// Cross-tenant ids deliberately surface as not-found.
	ErrNotFound        = errors.New("record not found")
	ErrDocenteNotFound = errors.New("docente not found")
	ErrUtenteNotFound  = errors.New("utente not found")

	ErrEmailTaken          = errors.New("a user with this email already exists")
	ErrUsernameTaken       = errors.New("a user with this username already exists")
	ErrEmailRequired       = errors.New("an admin account requires an email")
	ErrUsernameRequired    = errors.New("a collaborator account requires a username")
	ErrCodiceIstitutoTaken = errors.New("an institute with this code already exists")

	// ErrLimiteCopieSuperato is returned by the copy-limit guard when the new
	// registration would push the teacher past their quota.
	ErrLimiteCopieSuperato = errors.New("copy limit exceeded for this docente")

	// ErrInvalidRefreshToken indicates a refresh token that is unknown, expired
	// or already revoked.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
)

// Sort fields accepted by the docenti listing. copieEffettuate and
// copieRimanenti order by the derived aggregate columns.
type DocentiSortField string

const (
	DocentiSortNome            DocentiSortField = "nome"
	DocentiSortCognome         DocentiSortField = "cognome"
	DocentiSortLimiteCopie     DocentiSortField = "limiteCopie"
	DocentiSortCopieEffettuate DocentiSortField = "copieEffettuate"
	DocentiSortCopieRimanenti  DocentiSortField = "copieRimanenti"
)

type UtentiSortField string

const (
	UtentiSortUsername UtentiSortField = "username"
	UtentiSortEmail    UtentiSortField = "email"
	UtentiSortRuolo    UtentiSortField = "ruolo"
)

type RegistrazioniSortField string

const (
	RegistrazioniSortDocente   RegistrazioniSortField = "docenteId"
	RegistrazioniSortUtente    RegistrazioniSortField = "utenteId"
	RegistrazioniSortCreatedAt RegistrazioniSortField = "createdAt"
)

// DocentiQuery filters and orders the docenti listing. Nome and Cognome are
// case-insensitive partial matches.
type DocentiQuery struct {
	Page      int
	PageSize  int
	Nome      string
	Cognome   string
	SortField DocentiSortField
	SortOrder domain.SortOrder
}

type UtentiQuery struct {
	Page      int
	PageSize  int
	Username  string
	Email     string
	Ruolo     domain.Ruolo
	SortField UtentiSortField
	SortOrder domain.SortOrder
}

type RegistrazioniQuery struct {
	Page      int
	PageSize  int
	DocenteID uint
	UtenteID  string
	SortField RegistrazioniSortField
	SortOrder domain.SortOrder
}

// NewDocente contains the fields needed to create a teacher.
type NewDocente struct {
	Nome        string
	Cognome     string
	LimiteCopie int
}

// UpdateDocente carries a partial update; nil fields are left untouched.
type UpdateDocente struct {
	Nome        *string
	Cognome     *string
	LimiteCopie *int
}

// NewUtente contains the fields needed to create a user. Exactly one of
// Email/Username must be set, matching Ruolo.
type NewUtente struct {
	Ruolo    domain.Ruolo
	Email    *string
	Username *string
	Password string
}

// UpdateUtente carries a partial update; a Ruolo switch requires the matching
// identifier and clears the opposite one.
type UpdateUtente struct {
	Ruolo    *domain.Ruolo
	Email    *string
	Username *string
	Password *string
}

// NewRegistrazione contains the fields needed to record copies for a teacher.
type NewRegistrazione struct {
	DocenteID       uint
	UtenteID        *string
	CopieEffettuate int
	Note            *string
}
