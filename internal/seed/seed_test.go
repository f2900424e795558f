package seed_test

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/d9705996/rollcall/internal/config"
	"github.com/d9705996/rollcall/internal/db"
	"github.com/d9705996/rollcall/internal/model"
	"github.com/d9705996/rollcall/internal/seed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

func newNullLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	gormDB, _, err := db.New(context.Background(), &config.DBConfig{
		Driver: "sqlite",
		File:   filepath.Join(t.TempDir(), "seed.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(gormDB) })
	return gormDB
}

func TestEnsureAdmin_SuppliedPassword(t *testing.T) {
	gormDB := openDB(t)
	var out bytes.Buffer
	err := seed.EnsureAdmin(context.Background(), gormDB, seed.AdminOptions{
		Email:    "custom@example.com",
		Name:     "Teacher Anna",
		Password: "my-supplied-password",
		Out:      &out,
	}, newNullLogger())
	require.NoError(t, err)
	assert.Empty(t, out.String(), "a supplied password is never printed")

	var u model.User
	require.NoError(t, gormDB.First(&u, "email = ?", "custom@example.com").Error)
	assert.Equal(t, "Teacher Anna", u.Name)
	assert.Equal(t, model.StringSlice{"Admin"}, u.Roles)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("my-supplied-password")))
}

func TestEnsureAdmin_GeneratedPassword(t *testing.T) {
	gormDB := openDB(t)
	var out bytes.Buffer
	require.NoError(t, seed.EnsureAdmin(context.Background(), gormDB, seed.AdminOptions{
		Email: "admin@rollcall.local",
		Out:   &out,
	}, newNullLogger()))

	line := strings.TrimSpace(out.String())
	require.True(t, strings.HasPrefix(line, "[rollcall] seed admin password: "))
	password := strings.TrimPrefix(line, "[rollcall] seed admin password: ")
	assert.Len(t, password, 32)

	var u model.User
	require.NoError(t, gormDB.First(&u).Error)
	assert.Equal(t, "Teacher", u.Name)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)))
}

func TestEnsureAdmin_Idempotent(t *testing.T) {
	gormDB := openDB(t)
	opts := seed.AdminOptions{Email: "admin@rollcall.local", Password: "pw", Out: &bytes.Buffer{}}
	require.NoError(t, seed.EnsureAdmin(context.Background(), gormDB, opts, newNullLogger()))
	require.NoError(t, seed.EnsureAdmin(context.Background(), gormDB, opts, newNullLogger()))

	var count int64
	require.NoError(t, gormDB.Model(&model.User{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
