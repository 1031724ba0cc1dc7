package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"traderobot/src/database"
	"traderobot/src/model"
)

const saveBatchSize = 200

// TradeRepository persists the trade book snapshot used for crash recovery.
type TradeRepository struct {
	db *gorm.DB
}

func NewTradeRepository() *TradeRepository {
	return &TradeRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *TradeRepository) WithDB(db *gorm.DB) *TradeRepository {
	logger.WithField("component", "TradeRepository").
		Debug("Creating TradeRepository with custom DB instance")

	return &TradeRepository{db: db}
}

// SaveTrades upserts trades by ID.
func (r *TradeRepository) SaveTrades(ctx context.Context, trades []model.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		CreateInBatches(&trades, saveBatchSize).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "TradeRepository",
			"op":     "SaveTrades",
			"trades": len(trades),
		}).WithError(err).Error("Failed to save trades")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":   "TradeRepository",
		"op":     "SaveTrades",
		"trades": len(trades),
	}).Debug("Trades saved")
	return nil
}

// LoadAll returns every persisted trade in creation order.
func (r *TradeRepository) LoadAll(ctx context.Context) ([]model.Trade, error) {
	var trades []model.Trade
	if err := r.db.WithContext(ctx).Order("seq ASC").Find(&trades).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "TradeRepository",
			"op":   "LoadAll",
		}).WithError(err).Error("Failed to load trades")
		return nil, err
	}
	return trades, nil
}

// FindOpen returns the pending and running trades in creation order.
func (r *TradeRepository) FindOpen(ctx context.Context) ([]model.Trade, error) {
	var trades []model.Trade
	err := r.db.WithContext(ctx).
		Where("trade_status IN ?", []model.TradeStatus{model.TradeStatusPending, model.TradeStatusRunning}).
		Order("seq ASC").
		Find(&trades).Error
	if err != nil {
		return nil, err
	}
	return trades, nil
}
