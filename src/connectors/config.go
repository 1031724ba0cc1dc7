package connectors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	AngelOneAPIKey     string        `envconfig:"ANGEL_ONE_API_KEY"`
	AngelOneUsername   string        `envconfig:"ANGEL_ONE_USERNAME"`
	AngelOnePin        string        `envconfig:"ANGEL_ONE_PIN"`
	AngelOneTOTPSecret string        `envconfig:"ANGEL_ONE_TOTP_SECRET"`
	AngelOneBaseURL    string        `envconfig:"ANGEL_ONE_BASE_URL" default:"https://apiconnect.angelone.in"`
	RequestTimeout     time.Duration `envconfig:"ANGEL_ONE_REQUEST_TIMEOUT" default:"15s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
