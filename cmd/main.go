package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"traderobot/cmd/relay"
	"traderobot/src/auth"
	"traderobot/src/database"
	"traderobot/src/model"
	"traderobot/src/repository"
)

var Version string

func main() {
	app := cli.NewApp()
	app.Name = "traderobot"
	app.Usage = "Live feed relay and stop-loss engine"
	app.Version = Version
	app.Before = func(*cli.Context) error {
		// a missing .env is fine, the environment may already be set
		_ = godotenv.Load()
		return nil
	}

	app.Commands = []cli.Command{
		relayCMD,
		keyHashCMD,
		tradesCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	relayCMD = cli.Command{
		Name:        "relay",
		Usage:       "run the feed relay",
		Action:      relayAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Connect to the venue feeds, track trades and serve consumers`,
	}
	keyHashCMD = cli.Command{
		Name:        "keyhash",
		Usage:       "hash a consumer access key",
		Action:      keyHashAction,
		ArgsUsage:   "<key>",
		Description: `Print the bcrypt hash to put in RELAY_ACCESS_KEY_HASH`,
	}
	tradesCMD = cli.Command{
		Name:   "trades",
		Usage:  "print the persisted trade book",
		Action: tradesAction,
		Flags: []cli.Flag{
			cli.BoolFlag{Name: "open", Usage: "only pending and running trades"},
		},
		Description: `Dump persisted trades as JSON`,
	}
)

func relayAction(_ *cli.Context) error {

	logrus.Info("Starting relay CMD")
	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	svc := &relay.Service{
		Log: logrus.WithField("cmd", "relay"),
		DB:  database.MainDB,
	}
	if err := svc.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}

	return nil
}

func keyHashAction(c *cli.Context) error {
	hash, err := auth.HashKey(c.Args().First())
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

func tradesAction(c *cli.Context) error {
	if err := database.InitMainDB(); err != nil {
		return err
	}
	if database.MainDB == nil {
		return errors.New("persistence is disabled (ENABLE_DB=false)")
	}

	repo := repository.NewTradeRepository()
	var (
		trades []model.Trade
		err    error
	)
	if c.Bool("open") {
		trades, err = repo.FindOpen(context.Background())
	} else {
		trades, err = repo.LoadAll(context.Background())
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(trades)
}
