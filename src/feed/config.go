package feed

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	MarketURL string `envconfig:"FEED_MARKET_URL" default:"wss://smartapisocket.angelone.in/smart-stream"`
	OrderURL  string `envconfig:"FEED_ORDER_URL" default:"wss://tns.angelone.in/smart-order-update"`

	APIKey     string `envconfig:"ANGEL_ONE_API_KEY"`
	ClientCode string `envconfig:"ANGEL_ONE_USERNAME"`

	ReconnectDelay          time.Duration `envconfig:"FEED_RECONNECT_DELAY" default:"10s"`
	ReconnectEscalatedDelay time.Duration `envconfig:"FEED_RECONNECT_ESCALATED_DELAY" default:"15s"`
	PingInterval            time.Duration `envconfig:"FEED_PING_INTERVAL" default:"30s"`
	HandshakeTimeout        time.Duration `envconfig:"FEED_HANDSHAKE_TIMEOUT" default:"10s"`
	SubscribeMode           int           `envconfig:"FEED_SUBSCRIBE_MODE" default:"1"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
