package domain

import "time"

// Ruolo identifies the kind of account a user holds within an institute.
type Ruolo string

const (
	RuoloAdmin         Ruolo = "admin"
	RuoloCollaboratore Ruolo = "collaboratore"
)

// SortOrder is the direction of a list ordering.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// Istituto is a tenant: the unit of data isolation. Every other entity
// belongs, directly or transitively, to exactly one institute.
type Istituto struct {
	ID             uint      `json:"id"`
	Nome           string    `json:"nome"`
	CodiceIstituto string    `json:"codiceIstituto"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Utente is an account scoped to an institute. Exactly one of Email or
// Username is set, determined by Ruolo: admins authenticate by email,
// collaborators by username.
type Utente struct {
	ID           string    `json:"id"`
	IstitutoID   uint      `json:"istitutoId"`
	Ruolo        Ruolo     `json:"ruolo"`
	Email        *string   `json:"email,omitempty"`
	Username     *string   `json:"username,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Identifier returns the field the user authenticates with.
func (u Utente) Identifier() string {
	if u.Ruolo == RuoloAdmin && u.Email != nil {
		return *u.Email
	}
	if u.Username != nil {
		return *u.Username
	}
	return ""
}

// Docente is a person with a photocopy quota, owned by one institute.
type Docente struct {
	ID          uint      `json:"id"`
	Nome        string    `json:"nome"`
	Cognome     string    `json:"cognome"`
	LimiteCopie int       `json:"limiteCopie"`
	IstitutoID  uint      `json:"istitutoId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// DocenteConCopie is a Docente with its cumulative registered copies and the
// derived remaining quota.
type DocenteConCopie struct {
	Docente
	CopieEffettuate int `json:"copieEffettuate"`
	CopieRimanenti  int `json:"copieRimanenti"`
}

// RegistrazioneCopie records one event of copies made for a teacher,
// optionally attributed to the user who registered it.
type RegistrazioneCopie struct {
	ID              uint      `json:"id"`
	DocenteID       uint      `json:"docenteId"`
	UtenteID        *string   `json:"utenteId,omitempty"`
	IstitutoID      uint      `json:"istitutoId"`
	CopieEffettuate int       `json:"copieEffettuate"`
	Note            *string   `json:"note,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Pagination is the envelope returned alongside every paginated listing.
type Pagination struct {
	Page            int   `json:"page"`
	PageSize        int   `json:"pageSize"`
	TotalItems      int64 `json:"totalItems"`
	TotalPages      int   `json:"totalPages"`
	HasNextPage     bool  `json:"hasNextPage"`
	HasPreviousPage bool  `json:"hasPreviousPage"`
}

// NewPagination computes the envelope for a page over totalItems rows.
// TotalPages is never below 1, even for an empty result set.
func NewPagination(page, pageSize int, totalItems int64) Pagination {
	totalPages := int((totalItems + int64(pageSize) - 1) / int64(pageSize))
	if totalPages < 1 {
		totalPages = 1
	}
	return Pagination{
		Page:            page,
		PageSize:        pageSize,
		TotalItems:      totalItems,
		TotalPages:      totalPages,
		HasNextPage:     page < totalPages,
		HasPreviousPage: page > 1,
	}
}

// Paginated bundles one page of items with its envelope.
type Paginated[T any] struct {
	Items []T `json:"items"`
	Pagination
}
