package account

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/d9705996/rollcall/internal/auth"
	"github.com/d9705996/rollcall/internal/model"
	"gorm.io/gorm"
)

// RequestPasswordReset issues a reset token for the active account with
// email and hands it to the Notifier. Unknown addresses are ignored so the
// caller cannot learn which emails are registered.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return fieldError("email", "missing_field", "email is required")
	}
	u, err := s.activeUser(ctx, "email = ?", email)
	if errors.Is(err, ErrNotFound) {
		s.log.Debug("password reset for unknown email")
		return nil
	}
	if err != nil {
		return err
	}

	raw, hash, err := auth.NewOpaqueToken()
	if err != nil {
		return err
	}
	rt := &model.PasswordResetToken{
		UserID:    u.ID,
		TokenHash: hash,
		ExpiresAt: s.opts.Now().Add(s.opts.ResetTTL),
	}
	if err := s.db.WithContext(ctx).Create(rt).Error; err != nil {
		return fmt.Errorf("insert reset token: %w", err)
	}

	notice := ResetNotice{Email: u.Email, Name: u.Name, Token: raw, ExpiresAt: rt.ExpiresAt}
	if err := s.opts.Notifier.NotifyPasswordReset(ctx, notice); err != nil {
		return fmt.Errorf("deliver reset token: %w", err)
	}
	recordEvent(ctx, "reset_requested")
	s.log.Info("password reset requested", "user_id", u.ID)
	return nil
}

// PasswordReset is the input of ResetPassword.
type PasswordReset struct {
	Token    string
	Password string
	Confirm  string
}

// ResetPassword spends a reset token, sets the new password and signs the
// account out everywhere by revoking its refresh tokens.
func (s *Service) ResetPassword(ctx context.Context, in PasswordReset) error {
	if in.Token == "" {
		return fieldError("token", "missing_field", "token is required")
	}
	if err := s.checkPassword(in.Password, in.Confirm); err != nil {
		return err
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return err
	}

	var userID string
	var revoked int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.opts.Now()
		var rt model.PasswordResetToken
		err := tx.Where("token_hash = ?", auth.HashOpaqueToken(in.Token)).First(&rt).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrResetTokenInvalid
		}
		if err != nil {
			return fmt.Errorf("load reset token: %w", err)
		}
		if !now.Before(rt.ExpiresAt) {
			return ErrResetTokenInvalid
		}

		// A concurrent reset with the same token loses here.
		res := tx.Model(&model.PasswordResetToken{}).
			Where("id = ? AND used_at IS NULL", rt.ID).
			Update("used_at", now)
		if res.Error != nil {
			return fmt.Errorf("spend reset token: %w", res.Error)
		}
		if res.RowsAffected != 1 {
			return ErrResetTokenInvalid
		}

		res = tx.Model(&model.User{}).
			Where("id = ? AND deactivated_at IS NULL", rt.UserID).
			Update("password_hash", hash)
		if res.Error != nil {
			return fmt.Errorf("update password: %w", res.Error)
		}
		if res.RowsAffected != 1 {
			return ErrResetTokenInvalid
		}

		revoked, err = s.refresh.WithTx(tx).RevokeAll(ctx, rt.UserID)
		if err != nil {
			return err
		}
		userID = rt.UserID
		return nil
	})
	if err != nil {
		return err
	}
	recordEvent(ctx, "password_reset")
	s.log.Info("password reset", "user_id", userID, "sessions_revoked", revoked)
	return nil
}
