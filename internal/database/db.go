package database

import (
	"fmt"

	"github.com/Almanaei/cmsvs-sub000/internal/config"
	"github.com/Almanaei/cmsvs-sub000/internal/model"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// NewConnection initializes a new connection pool using GORM. The steady
// pool stays at DBPoolSize idle connections and may grow by DBMaxOverflow
// under load; DBPoolTimeout bounds the dial, and connections are recycled
// after DBPoolRecycle so stale sockets are never reused after a database
// restart.
func NewConnection(cfg *config.Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s connect_timeout=%d", cfg.DatabaseURL, int(cfg.DBPoolTimeout.Seconds()))
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.DBPoolSize + cfg.DBMaxOverflow)
	sqlDB.SetMaxIdleConns(cfg.DBPoolSize)
	sqlDB.SetConnMaxLifetime(cfg.DBPoolRecycle)

	// Pre-ping: fail fast on an unreachable database instead of on first query.
	if err := sqlDB.Ping(); err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate auto-migrates every model the application persists.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.User{},
		&model.Request{},
		&model.File{},
		&model.Activity{},
		&model.Achievement{},
		&model.UserAchievement{},
		&model.UserStats{},
		&model.Competition{},
		&model.CompetitionParticipant{},
	)
}
