package database

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	EnableDB        bool   `envconfig:"ENABLE_DB" default:"true"`
	Driver          string `envconfig:"DATABASE_DRIVER" default:"sqlite"` // "sqlite" or "postgres"
	DatabaseURLMain string `envconfig:"DATABASE_URL_MAIN" default:"traderobot.db"`
	GormLogLevel    int    `envconfig:"GORM_LOG_LEVEL" default:"2"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
