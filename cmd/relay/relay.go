package relay

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"traderobot/src/apperr"
	"traderobot/src/auth"
	"traderobot/src/clock"
	"traderobot/src/connectors"
	"traderobot/src/events"
	"traderobot/src/exception"
	"traderobot/src/feed"
	eventrelay "traderobot/src/relay"
	"traderobot/src/repository"
	"traderobot/src/server"
	"traderobot/src/session"
	"traderobot/src/subscription"
	"traderobot/src/trades"
)

// Service wires the feed, multiplexer, trade registry and consumer relay into one process.
type Service struct {
	Log *logrus.Entry
	// DB is optional; without it trades are not persisted and exceptions are only logged.
	DB *gorm.DB
}

func (s *Service) Start() error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	return s.Run(ctx)
}

func (s *Service) Run(ctx context.Context) error {
	log := s.Log
	if log == nil {
		log = logrus.WithField("cmd", "relay")
	}
	cfg := GetConfig()
	clk := clock.Real()
	bus := events.NewBus()

	api := connectors.NewSmartAPIClient(connectors.GetConfig(), nil)
	holder := session.NewHolder(api)
	api.SetTokenSource(holder)
	expired := make(chan struct{}, 1)
	api.OnSessionExpired(func() {
		select {
		case expired <- struct{}{}:
		default:
		}
	})

	connector := feed.NewConnector(feed.GetConfig(), nil, clk, holder, bus, log.WithField("component", "feed"))
	holder.OnChange(connector.SessionChanged)

	mux := subscription.New(connector, log.WithField("component", "subscription"))
	connector.SetSubscriptionSource(mux)

	var (
		capturer  = exception.NewCapturer(nil)
		tradeRepo *repository.TradeRepository
	)
	if s.DB != nil {
		capturer = exception.NewCapturer((&repository.ExceptionRepository{}).WithDB(s.DB))
		tradeRepo = (&repository.TradeRepository{}).WithDB(s.DB)
	}

	tradesCfg := trades.GetConfig()
	registry := trades.NewRegistry(tradesCfg, api, mux, bus, clk, capturer, log.WithField("component", "trades"))
	mux.SetRunningChecker(registry)

	relayCfg := eventrelay.GetConfig()
	hub := eventrelay.NewHub(relayCfg, mux, registry, connector, clk, log.WithField("component", "relay"))

	bus.Subscribe(registry)
	bus.Subscribe(hub)

	var persister *trades.Persister
	if tradeRepo != nil {
		saved, err := tradeRepo.LoadAll(ctx)
		if err != nil {
			return err
		}
		registry.Restore(saved)
		persister = trades.NewPersister(tradeRepo, clk, tradesCfg.PersistDebounce, log.WithField("component", "persister"))
		bus.Subscribe(persister)
	}

	router := server.NewRouter(server.Deps{
		Trades:   registry,
		Relay:    hub,
		Verifier: auth.NewKeyVerifier(relayCfg.AccessKeyHash),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx, server.GetConfig().Port, router)
	})
	g.Go(func() error {
		return runSession(gctx, cfg, holder, connector, expired, log)
	})
	err := g.Wait()

	log.Info("stopping relay")
	connector.Close()
	hub.Close()
	registry.Wait()
	if persister != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if ferr := persister.Flush(flushCtx); ferr != nil {
			log.WithError(ferr).Error("final trade flush failed")
		}
	}
	return err
}

// runSession logs in, opens the feed and keeps the session fresh until ctx ends.
// A rejected order with a session error code forces an early re-login.
// Only configuration errors stop the process.
func runSession(ctx context.Context, cfg *Config, holder *session.Holder, connector *feed.Connector, expired <-chan struct{}, log *logrus.Entry) error {
	for {
		_, err := holder.Refresh(ctx)
		if err == nil {
			break
		}
		if apperr.IsFatal(err) {
			log.WithError(err).Error("cannot start session")
			return err
		}
		log.WithError(err).Warnf("login failed, retrying in %s", cfg.LoginRetryDelay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(cfg.LoginRetryDelay):
		}
	}

	if err := connector.Connect(ctx); err != nil {
		if apperr.IsFatal(err) {
			return err
		}
		log.WithError(err).Warn("feed not connected yet, reconnect scheduled")
	}

	ticker := time.NewTicker(cfg.SessionRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := holder.Refresh(ctx); err != nil {
				log.WithError(err).Warn("session refresh failed")
			}
		case <-expired:
			log.Warn("session expired, logging in again")
			if _, err := holder.Refresh(ctx); err != nil {
				log.WithError(err).Warn("session re-login failed")
			}
		}
	}
}
