// Package db opens the account database and keeps its schema current.
//
// SQLite (pure Go, a single file) is the default and is migrated with
// GORM's AutoMigrate from model.All. PostgreSQL is migrated with the
// embedded SQL files and additionally yields a pgx pool for River.
package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"math"

	"github.com/d9705996/rollcall/internal/config"
	"github.com/d9705996/rollcall/internal/model"
	"github.com/glebarez/sqlite"
	"github.com/golang-migrate/migrate/v4"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// sqlitePragmas run on every new SQLite database handle. WAL lets banner
// reads continue while sign-ins write refresh tokens; the busy timeout
// covers the remaining writer contention.
var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA foreign_keys=ON",
	"PRAGMA busy_timeout=5000",
}

// gormConfig is shared by both drivers. Errors are translated so unique
// violations surface as gorm.ErrDuplicatedKey.
func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	}
}

// New opens the database selected by cfg.Driver and migrates it. The pool
// is non-nil only for postgres.
func New(ctx context.Context, cfg *config.DBConfig) (*gorm.DB, *pgxpool.Pool, error) {
	if cfg.Driver == "postgres" {
		return openPostgres(ctx, cfg)
	}
	gormDB, err := openSQLite(cfg.File)
	return gormDB, nil, err
}

func openSQLite(file string) (*gorm.DB, error) {
	gormDB, err := gorm.Open(sqlite.Open(file), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", file, err)
	}
	for _, pragma := range sqlitePragmas {
		if err := gormDB.Exec(pragma).Error; err != nil {
			_ = Close(gormDB)
			return nil, fmt.Errorf("sqlite %q: %w", pragma, err)
		}
	}
	if err := gormDB.AutoMigrate(model.All()...); err != nil {
		_ = Close(gormDB)
		return nil, fmt.Errorf("sqlite automigrate: %w", err)
	}
	return gormDB, nil
}

func openPostgres(ctx context.Context, cfg *config.DBConfig) (*gorm.DB, *pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("parse db dsn: %w", err)
	}
	if cfg.MaxConns <= 0 || cfg.MaxConns > math.MaxInt32 {
		return nil, nil, fmt.Errorf("DB_MAX_CONNS %d out of range (1..%d)", cfg.MaxConns, math.MaxInt32)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	// The schema must exist before River or GORM touch it.
	if err := migratePostgres(poolCfg); err != nil {
		return nil, nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: stdlib.OpenDBFromPool(pool)}), gormConfig())
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("open gorm/postgres: %w", err)
	}
	return gormDB, pool, nil
}

// migratePostgres applies the embedded migrations over a short-lived
// connection of its own.
func migratePostgres(poolCfg *pgxpool.Config) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migration source: %w", err)
	}
	sqlDB := stdlib.OpenDB(*poolCfg.ConnConfig)
	defer func() { _ = sqlDB.Close() }()

	driver, err := migratepostgres.WithInstance(sqlDB, &migratepostgres.Config{})
	if err != nil {
		return fmt.Errorf("postgres migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Close releases the connection pool behind db.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// Pinger reports database reachability to the readiness probe.
type Pinger struct {
	db *gorm.DB
}

// NewPinger returns a Pinger for db.
func NewPinger(db *gorm.DB) *Pinger {
	return &Pinger{db: db}
}

// Ping checks database connectivity.
func (p *Pinger) Ping(ctx context.Context) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}
