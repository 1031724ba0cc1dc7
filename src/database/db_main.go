package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"traderobot/src/database/migrations"
	"traderobot/src/model"
)

// MainDB is the read/write connection holding the trade book snapshot and exceptions.
var MainDB *gorm.DB

func dialector(cfg Config) (gorm.Dialector, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case DriverPostgres:
		return postgres.Open(cfg.DatabaseURLMain), nil
	case DriverSQLite, "":
		return sqlite.Open(cfg.DatabaseURLMain), nil
	default:
		return nil, fmt.Errorf("unsupported DATABASE_DRIVER %q", cfg.Driver)
	}
}

// Open connects with cfg, runs schema and data migrations and returns the handle.
func Open(cfg Config) (*gorm.DB, error) {
	d, err := dialector(cfg)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(d, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.LogLevel(cfg.GormLogLevel)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get DB from GORM: %w", err)
	}
	if cfg.Driver == DriverPostgres {
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetMaxIdleConns(10)
	} else {
		// sqlite allows a single writer
		sqlDB.SetMaxOpenConns(1)
	}
	sqlDB.SetConnMaxLifetime(1 * time.Hour)

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates the schema and applies pending data migrations.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.Trade{},
		&model.Exception{},
		&migrations.DataMigration{},
	); err != nil {
		return fmt.Errorf("failed to run migrations on MainDB: %w", err)
	}
	if err := migrations.Run(db); err != nil {
		return fmt.Errorf("failed to run data migrations on MainDB: %w", err)
	}
	return nil
}

// InitMainDB opens MainDB from the environment. With ENABLE_DB=false it leaves MainDB nil
// and the service runs without crash recovery.
func InitMainDB() error {
	cfg := GetConfig()
	if !cfg.EnableDB {
		logrus.Warn("[database] persistence disabled, trades will not survive a restart")
		return nil
	}
	db, err := Open(cfg)
	if err != nil {
		return err
	}
	MainDB = db
	logrus.WithField("driver", cfg.Driver).Info("[database] MainDB connection established")
	return nil
}
