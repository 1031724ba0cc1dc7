package relay

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	LoginRetryDelay        time.Duration `envconfig:"SESSION_LOGIN_RETRY_DELAY" default:"15s"`
	SessionRefreshInterval time.Duration `envconfig:"SESSION_REFRESH_INTERVAL" default:"6h"`
	ShutdownTimeout        time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
