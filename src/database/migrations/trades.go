package migrations

import (
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"traderobot/src/model"
)

var openStatuses = []model.TradeStatus{model.TradeStatusPending, model.TradeStatusRunning}

// backfillTradeDefaultStopLoss gives open rows saved without a stop-loss the default threshold.
func backfillTradeDefaultStopLoss(db *gorm.DB) error {
	return db.Model(&model.Trade{}).
		Where("stop_loss IS NULL OR stop_loss <= 0").
		Where("trade_status IN ?", openStatuses).
		Update("stop_loss", model.DefaultStopLoss).Error
}

// backfillTradeOriginalStopLoss seeds the trailing reference for rows written before it existed.
func backfillTradeOriginalStopLoss(db *gorm.DB) error {
	return db.Model(&model.Trade{}).
		Where("original_stop_loss IS NULL OR original_stop_loss <= 0").
		Update("original_stop_loss", gorm.Expr("stop_loss")).Error
}

var canonicalTrailModes = []model.TrailMode{model.TrailNone, model.TrailPercent, model.TrailCost, model.TrailAbsolute}

// normalizeLegacyTrailModes maps the old front-end values ("50%", "75%", "800", ...) onto a
// canonical mode plus trail_level. Values that no longer parse stop trailing.
func normalizeLegacyTrailModes(db *gorm.DB) error {
	if err := db.Model(&model.Trade{}).
		Where("trail_mode IS NULL OR trail_mode = ''").
		Update("trail_mode", model.TrailNone).Error; err != nil {
		return err
	}

	var legacy []model.Trade
	if err := db.Select("id", "trail_mode").
		Where("trail_mode NOT IN ?", canonicalTrailModes).
		Find(&legacy).Error; err != nil {
		return err
	}
	for _, t := range legacy {
		mode, level, err := model.ParseTrailMode(string(t.TrailMode))
		if err != nil {
			logger.WithField("trade_id", t.ID).WithError(err).Warn("legacy trail mode dropped")
			mode, level = model.TrailNone, decimal.Zero
		}
		if err := db.Model(&model.Trade{}).
			Where("id = ?", t.ID).
			Updates(map[string]interface{}{"trail_mode": mode, "trail_level": level}).Error; err != nil {
			return err
		}
	}
	return nil
}
