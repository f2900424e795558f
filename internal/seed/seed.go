// Package seed creates a default admin teacher on first boot when the users
// table is empty.
package seed

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/d9705996/rollcall/internal/account"
	"github.com/d9705996/rollcall/internal/model"
	"gorm.io/gorm"
)

// AdminOptions configures the seed admin user.
type AdminOptions struct {
	Email    string
	Name     string    // greeting name; defaults to "Teacher"
	Password string    // if empty, a random password is generated
	Out      io.Writer // receives a generated password; defaults to os.Stdout
}

// EnsureAdmin creates a seed admin user if no users exist.
// A generated password is written to opts.Out exactly once.
// The function is idempotent; it is safe to call on every startup.
func EnsureAdmin(ctx context.Context, db *gorm.DB, opts AdminOptions, log *slog.Logger) error {
	var count int64
	if err := db.WithContext(ctx).Model(&model.User{}).Count(&count).Error; err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if count > 0 {
		log.Info("seed admin already exists")
		return nil
	}

	password := opts.Password
	if password == "" {
		var err error
		password, err = generatePassword()
		if err != nil {
			return fmt.Errorf("generate seed password: %w", err)
		}
		out := opts.Out
		if out == nil {
			out = os.Stdout
		}
		fmt.Fprintf(out, "[rollcall] seed admin password: %s\n", password)
	}

	hash, err := account.HashPassword(password)
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	name := opts.Name
	if name == "" {
		name = "Teacher"
	}
	u := &model.User{
		Email:        strings.ToLower(strings.TrimSpace(opts.Email)),
		Name:         name,
		PasswordHash: hash,
		Roles:        model.StringSlice{"Admin"},
	}
	if err := db.WithContext(ctx).Create(u).Error; err != nil {
		return fmt.Errorf("insert seed admin: %w", err)
	}

	log.Info("seed admin created", "email", opts.Email)
	return nil
}

func generatePassword() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
