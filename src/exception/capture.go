package exception

import (
	"context"
	"encoding/json"
	"errors"
	"runtime/debug"
	"time"

	logger "github.com/sirupsen/logrus"

	"traderobot/src/apperr"
	"traderobot/src/model"
)

const (
	LevelWarning = "warning"
	LevelError   = "error"
)

// Store persists captured exceptions.
type Store interface {
	Create(ctx context.Context, exc *model.Exception) error
}

// Correlation carries the keys used to line an exception up with the tick, order and trade streams.
type Correlation struct {
	Token   string
	TradeID string
	OrderID string
	Extra   map[string]interface{}
}

// Capturer logs recoverable failures and, when a store is configured, persists them.
// A nil *Capturer only logs.
type Capturer struct {
	store Store
	now   func() time.Time
}

func NewCapturer(store Store) *Capturer {
	return &Capturer{store: store, now: time.Now}
}

// Kind classifies err against the application error taxonomy.
func Kind(err error) string {
	switch {
	case errors.Is(err, apperr.ErrMissingCredentials), errors.Is(err, apperr.ErrConfiguration):
		return "fatal_config"
	case errors.Is(err, apperr.ErrConnect), errors.Is(err, apperr.ErrNotConnected):
		return "transient_connection"
	case errors.Is(err, apperr.ErrMalformedMessage):
		return "malformed_message"
	case errors.Is(err, apperr.ErrUnknownInstrument):
		return "unknown_instrument"
	case errors.Is(err, apperr.ErrOrderSubmission):
		return "order_submission"
	case errors.Is(err, apperr.ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, apperr.ErrAuthenticationFailed):
		return "authentication"
	default:
		return "internal"
	}
}

func (c *Capturer) Capture(ctx context.Context, module, method, level string, err error, corr Correlation) {
	if err == nil {
		return
	}

	var ctxJSON string
	if corr.Extra != nil {
		if b, e := json.Marshal(corr.Extra); e == nil {
			ctxJSON = string(b)
		}
	}

	kind := Kind(err)
	logger.WithFields(map[string]interface{}{
		"module":   module,
		"method":   method,
		"level":    level,
		"kind":     kind,
		"token":    corr.Token,
		"trade_id": corr.TradeID,
		"order_id": corr.OrderID,
	}).WithError(err).Error("System exception captured")

	if c == nil || c.store == nil {
		return
	}

	exc := &model.Exception{
		Module:    module,
		Method:    method,
		Kind:      kind,
		Message:   err.Error(),
		Stack:     string(debug.Stack()),
		Level:     level,
		Token:     corr.Token,
		TradeID:   corr.TradeID,
		OrderID:   corr.OrderID,
		Context:   ctxJSON,
		CreatedAt: c.now(),
	}
	if e := c.store.Create(ctx, exc); e != nil {
		logger.WithError(e).Error("Failed to persist exception")
	}
}
