package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/d9705996/rollcall/internal/model"
	"gorm.io/gorm"
)

// ErrRefreshTokenInvalid is returned when a refresh token is unknown,
// revoked or expired.
var ErrRefreshTokenInvalid = errors.New("refresh token is invalid")

// RefreshStore keeps the hashed refresh tokens of signed-in users.
type RefreshStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRefreshStore returns a store over db. now defaults to time.Now.
func NewRefreshStore(db *gorm.DB, now func() time.Time) *RefreshStore {
	if now == nil {
		now = time.Now
	}
	return &RefreshStore{db: db, now: now}
}

// WithTx returns a store that works inside tx.
func (s *RefreshStore) WithTx(tx *gorm.DB) *RefreshStore {
	return &RefreshStore{db: tx, now: s.now}
}

// IssueRefreshToken stores a new token for userID valid for ttl and returns
// its raw value.
func (s *RefreshStore) IssueRefreshToken(ctx context.Context, userID string, ttl time.Duration) (string, error) {
	return issueRefresh(s.db.WithContext(ctx), userID, s.now().Add(ttl))
}

func issueRefresh(db *gorm.DB, userID string, expires time.Time) (string, error) {
	raw, hash, err := NewOpaqueToken()
	if err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	rt := &model.RefreshToken{UserID: userID, TokenHash: hash, ExpiresAt: expires}
	if err := db.Create(rt).Error; err != nil {
		return "", fmt.Errorf("store refresh token: %w", err)
	}
	return raw, nil
}

// RotateRefreshToken spends rawToken and issues its successor, valid for
// ttl. A token can be spent once: of two concurrent rotations of the same
// token exactly one succeeds.
func (s *RefreshStore) RotateRefreshToken(ctx context.Context, rawToken string, ttl time.Duration) (token, userID string, err error) {
	now := s.now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rt model.RefreshToken
		if err := tx.Where("token_hash = ?", HashOpaqueToken(rawToken)).First(&rt).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: unknown", ErrRefreshTokenInvalid)
			}
			return fmt.Errorf("find refresh token: %w", err)
		}
		if !now.Before(rt.ExpiresAt) {
			return fmt.Errorf("%w: expired", ErrRefreshTokenInvalid)
		}

		res := tx.Model(&model.RefreshToken{}).
			Where("id = ? AND revoked_at IS NULL", rt.ID).
			Update("revoked_at", now)
		if res.Error != nil {
			return fmt.Errorf("revoke refresh token: %w", res.Error)
		}
		if res.RowsAffected != 1 {
			return fmt.Errorf("%w: revoked", ErrRefreshTokenInvalid)
		}

		next, err := issueRefresh(tx, rt.UserID, now.Add(ttl))
		if err != nil {
			return err
		}
		token, userID = next, rt.UserID
		return nil
	})
	if err != nil {
		return "", "", err
	}
	return token, userID, nil
}

// RevokeRefreshToken marks rawToken as revoked. Unknown tokens are ignored.
func (s *RefreshStore) RevokeRefreshToken(ctx context.Context, rawToken string) error {
	return s.db.WithContext(ctx).Model(&model.RefreshToken{}).
		Where("token_hash = ? AND revoked_at IS NULL", HashOpaqueToken(rawToken)).
		Update("revoked_at", s.now()).Error
}

// RevokeAll revokes every live refresh token of userID, signing the user
// out everywhere, and returns how many were revoked.
func (s *RefreshStore) RevokeAll(ctx context.Context, userID string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.RefreshToken{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", s.now())
	if res.Error != nil {
		return 0, fmt.Errorf("revoke refresh tokens: %w", res.Error)
	}
	return res.RowsAffected, nil
}
