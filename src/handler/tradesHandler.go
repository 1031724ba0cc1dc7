package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"traderobot/src/apperr"
	"traderobot/src/auth"
	"traderobot/src/model"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"
)

type tradeLister interface {
	Trades() []model.Trade
	TradesForToken(token string) []model.Trade
}

type tradeOpener interface {
	OpenTrade(req model.OpenTradeRequest) (*model.Trade, error)
}

type tradeEditor interface {
	UpdateTrade(token string, upd model.TradeUpdate) (*model.Trade, error)
}

type listResponse struct {
	Success bool          `json:"success"`
	Count   int           `json:"count"`
	Data    []model.Trade `json:"data"`
}

type itemResponse struct {
	Success bool         `json:"success"`
	Data    *model.Trade `json:"data,omitempty"`
	Message string       `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.WithError(err).Error("failed to encode trade response")
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrUnknownInstrument):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ListTradesHandler returns the trade book in creation order.
// Optional filters: token, status.
func ListTradesHandler(src tradeLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.GetConsumerFromContext(r.Context()); !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		token := strings.TrimSpace(r.URL.Query().Get("token"))
		status := model.TradeStatus(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status"))))

		book := src.Trades
		if token != "" {
			book = func() []model.Trade { return src.TradesForToken(token) }
		}

		trades := make([]model.Trade, 0)
		for _, t := range book() {
			if status != "" && t.TradeStatus != status {
				continue
			}
			trades = append(trades, t)
		}

		writeJSON(w, http.StatusOK, listResponse{Success: true, Count: len(trades), Data: trades})
	}
}

// OpenTradeHandler registers a BUY that was just placed with the venue.
func OpenTradeHandler(opener tradeOpener) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.GetConsumerFromContext(r.Context()); !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var req model.OpenTradeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, itemResponse{Message: "invalid request body"})
			return
		}

		trade, err := opener.OpenTrade(req)
		if err != nil {
			writeJSON(w, statusFor(err), itemResponse{Message: err.Error()})
			return
		}
		writeJSON(w, http.StatusCreated, itemResponse{Success: true, Data: trade})
	}
}

// UpdateTradeHandler applies a manual edit to the open trade on {token}.
func UpdateTradeHandler(editor tradeEditor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.GetConsumerFromContext(r.Context()); !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var upd model.TradeUpdate
		if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
			writeJSON(w, http.StatusBadRequest, itemResponse{Message: "invalid request body"})
			return
		}

		trade, err := editor.UpdateTrade(chi.URLParam(r, "token"), upd)
		if err != nil {
			logger.WithField("token", chi.URLParam(r, "token")).WithError(err).Warn("trade update rejected")
			writeJSON(w, statusFor(err), itemResponse{Message: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, itemResponse{Success: true, Data: trade})
	}
}
