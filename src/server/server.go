package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	logger "github.com/sirupsen/logrus"

	"traderobot/src/auth"
	"traderobot/src/handler"
	"traderobot/src/metrics"
	"traderobot/src/model"
)

// TradeBook is the registry surface exposed over HTTP.
type TradeBook interface {
	Trades() []model.Trade
	TradesForToken(token string) []model.Trade
	OpenTrade(req model.OpenTradeRequest) (*model.Trade, error)
	UpdateTrade(token string, upd model.TradeUpdate) (*model.Trade, error)
}

type Deps struct {
	Trades   TradeBook
	Relay    http.Handler
	Verifier *auth.KeyVerifier
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	// === Global Middleware ===
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error(" \"/health error")
		}
	})
	r.Handle("/metrics", metrics.Handler())

	// Consumer routes
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireConsumer(d.Verifier))
		if d.Relay != nil {
			r.Handle("/ws", d.Relay)
		}
		if d.Trades != nil {
			r.Get("/api/trades", handler.ListTradesHandler(d.Trades))
			r.Post("/api/trades", handler.OpenTradeHandler(d.Trades))
			r.Patch("/api/trades/{token}", handler.UpdateTradeHandler(d.Trades))
		}
	})
	return r
}

// Run serves h on port until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, port string, h http.Handler) error {
	addr := ":" + port
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Shutdown error")
		return err
	}
	return nil
}
