package trades

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"

	"traderobot/src/model"
)

type Config struct {
	DefaultStopLoss   float64       `envconfig:"TRADE_DEFAULT_STOP_LOSS" default:"800"`
	TrailFirstStep    float64       `envconfig:"TRADE_TRAIL_FIRST_STEP" default:"0.5"`
	TrailSecondStep   float64       `envconfig:"TRADE_TRAIL_SECOND_STEP" default:"0.75"`
	CloseOrderTimeout time.Duration `envconfig:"TRADE_CLOSE_ORDER_TIMEOUT" default:"10s"`
	PersistDebounce   time.Duration `envconfig:"PERSIST_DEBOUNCE" default:"1s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

func (c Config) defaultStopLoss() decimal.Decimal {
	if c.DefaultStopLoss <= 0 {
		return model.DefaultStopLoss
	}
	return decimal.NewFromFloat(c.DefaultStopLoss).Round(2)
}
