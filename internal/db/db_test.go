package db_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/d9705996/rollcall/internal/config"
	"github.com/d9705996/rollcall/internal/db"
	"github.com/d9705996/rollcall/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_SQLiteMigratesSchema(t *testing.T) {
	ctx := context.Background()
	gormDB, pool, err := db.New(ctx, &config.DBConfig{
		Driver: "sqlite",
		File:   filepath.Join(t.TempDir(), "rollcall.db"),
	})
	require.NoError(t, err)
	assert.Nil(t, pool, "sqlite never returns a pgx pool")
	t.Cleanup(func() { _ = db.Close(gormDB) })

	for _, m := range model.All() {
		assert.True(t, gormDB.Migrator().HasTable(m), "%T table", m)
	}

	school := &model.School{Name: "Riverside Primary", Slug: "riverside"}
	require.NoError(t, gormDB.Create(school).Error)
	assert.NotEmpty(t, school.ID)

	u := &model.User{Email: "ana@example.com", Name: "Ana", SchoolID: &school.ID, Roles: model.StringSlice{"Teacher"}}
	require.NoError(t, gormDB.Create(u).Error)

	var got model.User
	require.NoError(t, gormDB.First(&got, "email = ?", "ana@example.com").Error)
	assert.Equal(t, model.StringSlice{"Teacher"}, got.Roles)
	assert.Equal(t, school.ID, *got.SchoolID)
}

func TestPinger(t *testing.T) {
	gormDB, _, err := db.New(context.Background(), &config.DBConfig{
		Driver: "sqlite",
		File:   filepath.Join(t.TempDir(), "ping.db"),
	})
	require.NoError(t, err)

	p := db.NewPinger(gormDB)
	require.NoError(t, p.Ping(context.Background()))

	require.NoError(t, db.Close(gormDB))
	assert.Error(t, p.Ping(context.Background()))
}

func TestNew_EmailIsUnique(t *testing.T) {
	gormDB, _, err := db.New(context.Background(), &config.DBConfig{
		Driver: "sqlite",
		File:   filepath.Join(t.TempDir(), "dup.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(gormDB) })

	require.NoError(t, gormDB.Create(&model.User{Email: "ana@example.com"}).Error)
	err = gormDB.Create(&model.User{Email: "ana@example.com"}).Error
	require.Error(t, err)
}

func TestNew_PostgresMaxConnsOutOfRange(t *testing.T) {
	_, _, err := db.New(context.Background(), &config.DBConfig{
		Driver:   "postgres",
		DSN:      "postgres://localhost/rollcall",
		MaxConns: 0,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_MAX_CONNS")
}

func TestNew_PostgresBadDSN(t *testing.T) {
	_, _, err := db.New(context.Background(), &config.DBConfig{
		Driver: "postgres",
		DSN:    "::not a dsn::",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse db dsn")
}
