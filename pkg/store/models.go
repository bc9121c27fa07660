package store

import (
	"time"

	"scriptoscuola/pkg/domain"
)

// GORM models used for persistence.
type IstitutoModel struct {
	ID             uint      `gorm:"primaryKey"`
	Nome           string    `gorm:"not null"`
	CodiceIstituto string    `gorm:"size:10;uniqueIndex;not null"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (IstitutoModel) TableName() string { return "istituti" }

type UtenteModel struct {
	ID           string         `gorm:"primaryKey;size:36"`
	IstitutoID   uint           `gorm:"not null;index"`
	Istituto     *IstitutoModel `gorm:"foreignKey:IstitutoID;constraint:OnDelete:CASCADE"`
	Ruolo        string         `gorm:"not null;index"`
	Email        *string        `gorm:"index"`
	Username     *string        `gorm:"index"`
	PasswordHash string         `gorm:"not null"`
	CreatedAt    time.Time      `gorm:"not null"`
	UpdatedAt    time.Time      `gorm:"not null"`
}

func (UtenteModel) TableName() string { return "utenti" }

type DocenteModel struct {
	ID          uint           `gorm:"primaryKey"`
	Nome        string         `gorm:"not null"`
	Cognome     string         `gorm:"not null"`
	LimiteCopie int            `gorm:"not null;default:0"`
	IstitutoID  uint           `gorm:"not null;index"`
	Istituto    *IstitutoModel `gorm:"foreignKey:IstitutoID;constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time      `gorm:"not null"`
	UpdatedAt   time.Time      `gorm:"not null"`
}

func (DocenteModel) TableName() string { return "docenti" }

type RegistrazioneCopieModel struct {
	ID              uint           `gorm:"primaryKey"`
	DocenteID       uint           `gorm:"not null;index"`
	Docente         *DocenteModel  `gorm:"foreignKey:DocenteID;constraint:OnDelete:CASCADE"`
	UtenteID        *string        `gorm:"size:36;index"`
	Utente          *UtenteModel   `gorm:"foreignKey:UtenteID;constraint:OnDelete:SET NULL"`
	IstitutoID      uint           `gorm:"not null;index"`
	Istituto        *IstitutoModel `gorm:"foreignKey:IstitutoID;constraint:OnDelete:CASCADE"`
	CopieEffettuate int            `gorm:"not null"`
	Note            *string
	CreatedAt       time.Time `gorm:"not null;index"`
	UpdatedAt       time.Time `gorm:"not null"`
}

func (RegistrazioneCopieModel) TableName() string { return "registrazioni_copie" }

type RefreshTokenModel struct {
	ID        uint         `gorm:"primaryKey"`
	Token     string       `gorm:"size:64;uniqueIndex;not null"`
	UserID    string       `gorm:"size:36;not null;index"`
	Utente    *UtenteModel `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	ExpiresAt time.Time    `gorm:"not null;index"`
	RevokedAt *time.Time
	CreatedAt time.Time `gorm:"not null"`
}

func (RefreshTokenModel) TableName() string { return "refresh_tokens" }

func istitutoFromModel(m IstitutoModel) domain.Istituto {
	return domain.Istituto{
		ID:             m.ID,
		Nome:           m.Nome,
		CodiceIstituto: m.CodiceIstituto,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func utenteFromModel(m UtenteModel) domain.Utente {
	return domain.Utente{
		ID:           m.ID,
		IstitutoID:   m.IstitutoID,
		Ruolo:        domain.Ruolo(m.Ruolo),
		Email:        m.Email,
		Username:     m.Username,
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func docenteFromModel(m DocenteModel) domain.Docente {
	return domain.Docente{
		ID:          m.ID,
		Nome:        m.Nome,
		Cognome:     m.Cognome,
		LimiteCopie: m.LimiteCopie,
		IstitutoID:  m.IstitutoID,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func registrazioneFromModel(m RegistrazioneCopieModel) domain.RegistrazioneCopie {
	return domain.RegistrazioneCopie{
		ID:              m.ID,
		DocenteID:       m.DocenteID,
		UtenteID:        m.UtenteID,
		IstitutoID:      m.IstitutoID,
		CopieEffettuate: m.CopieEffettuate,
		Note:            m.Note,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}
