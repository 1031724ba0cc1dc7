package relay

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Debounce      time.Duration `envconfig:"RELAY_DEBOUNCE" default:"200ms"`
	AccessKeyHash string        `envconfig:"RELAY_ACCESS_KEY_HASH" default:""`
	SendBuffer    int           `envconfig:"RELAY_SEND_BUFFER" default:"256"`
	WriteTimeout  time.Duration `envconfig:"RELAY_WRITE_TIMEOUT" default:"10s"`
	PingInterval  time.Duration `envconfig:"RELAY_PING_INTERVAL" default:"25s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
