package store

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// RefreshTokenStore persists single-use refresh tokens. A token moves from
// active to revoked exactly once: on logout or on rotation. Expiry is a
// query-time exclusion, not a state change.
type RefreshTokenStore struct {
	db *gorm.DB
}

// NewToken issues and stores a fresh token for a user.
func (s *RefreshTokenStore) NewToken(userID string, ttl time.Duration) (string, error) {
	token, err := generateRefreshToken()
	if err != nil {
		return "", err
	}
	m := RefreshTokenModel{
		Token:     token,
		UserID:    userID,
		ExpiresAt: time.Now().UTC().Add(ttl),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.Create(&m).Error; err != nil {
		return "", fmt.Errorf("insert refresh token: %w", err)
	}
	return token, nil
}

// Rotate revokes the presented token and issues a replacement in the same
// transaction; a refresh token is valid for exactly one refresh.
func (s *RefreshTokenStore) Rotate(token string, ttl time.Duration) (string, string, error) {
	var (
		userID   string
		newToken string
	)
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var m RefreshTokenModel
		err := tx.
			Where("token = ? AND revoked_at IS NULL AND expires_at > ?", token, time.Now().UTC()).
			First(&m).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInvalidRefreshToken
			}
			return fmt.Errorf("lookup refresh token: %w", err)
		}
		userID = m.UserID

		now := time.Now().UTC()
		res := tx.Model(&RefreshTokenModel{}).
			Where("id = ? AND revoked_at IS NULL", m.ID).
			Update("revoked_at", now)
		if res.Error != nil {
			return fmt.Errorf("revoke refresh token: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			// Lost the race against a concurrent rotation of the same token.
			return ErrInvalidRefreshToken
		}

		newToken, err = generateRefreshToken()
		if err != nil {
			return err
		}
		next := RefreshTokenModel{
			Token:     newToken,
			UserID:    m.UserID,
			ExpiresAt: now.Add(ttl),
			CreatedAt: now,
		}
		if err := tx.Create(&next).Error; err != nil {
			return fmt.Errorf("insert rotated refresh token: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", "", err
	}
	return userID, newToken, nil
}

// Revoke marks a token revoked. Unknown or already-revoked tokens are a no-op
// so logout stays idempotent.
func (s *RefreshTokenStore) Revoke(token string) error {
	err := s.db.Model(&RefreshTokenModel{}).
		Where("token = ? AND revoked_at IS NULL", token).
		Update("revoked_at", time.Now().UTC()).Error
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeAllForUser revokes every active token of a user, for password changes
// and account deletion.
func (s *RefreshTokenStore) RevokeAllForUser(userID string) error {
	err := s.db.Model(&RefreshTokenModel{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", time.Now().UTC()).Error
	if err != nil {
		return fmt.Errorf("revoke user refresh tokens: %w", err)
	}
	return nil
}

func generateRefreshToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
