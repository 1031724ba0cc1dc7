package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"traderobot/src/database"
	"traderobot/src/model"
)

// ExceptionRepository handles persistence of captured exceptions.
type ExceptionRepository struct {
	db *gorm.DB
}

// NewExceptionRepository creates a new repository instance on MainDB.
func NewExceptionRepository() *ExceptionRepository {
	return &ExceptionRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *ExceptionRepository) WithDB(db *gorm.DB) *ExceptionRepository {
	return &ExceptionRepository{db: db}
}

// Create persists a new exception in the database.
func (r *ExceptionRepository) Create(
	ctx context.Context,
	exc *model.Exception,
) error {

	logger.WithFields(map[string]interface{}{
		"module":   exc.Module,
		"method":   exc.Method,
		"kind":     exc.Kind,
		"level":    exc.Level,
		"token":    exc.Token,
		"trade_id": exc.TradeID,
	}).Debug("Persisting system exception")

	return r.db.WithContext(ctx).Create(exc).Error
}
