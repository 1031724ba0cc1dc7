package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"

	"traderobot/src/apperr"
	"traderobot/src/clock"
	"traderobot/src/events"
	"traderobot/src/metrics"
	"traderobot/src/model"
	"traderobot/src/session"
)

// TokenSource is read every time a channel dials, never captured ahead of time.
type TokenSource interface {
	Tokens() session.Tokens
	Active() bool
}

// SubscriptionSource lists the interests to restore after the market channel reconnects.
type SubscriptionSource interface {
	Subscriptions() []model.Subscription
}

// Connector owns the market-data and order-status channels to the venue.
type Connector struct {
	cfg    Config
	dialer Dialer
	clock  clock.Clock
	tokens TokenSource
	pub    events.Publisher
	log    *logger.Entry

	market *channel
	order  *channel

	mu      sync.RWMutex
	subs    SubscriptionSource
	lifeCtx context.Context
	cancel  context.CancelFunc

	statusMu   sync.Mutex
	lastStatus *model.FeedStatus
}

func NewConnector(cfg Config, dialer Dialer, clk clock.Clock, tokens TokenSource, pub events.Publisher, log *logger.Entry) *Connector {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}
	if clk == nil {
		clk = clock.Real()
	}
	if dialer == nil {
		dialer = WebsocketDialer{HandshakeTimeout: cfg.HandshakeTimeout}
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connector{
		cfg:     cfg,
		dialer:  dialer,
		clock:   clk,
		tokens:  tokens,
		pub:     pub,
		log:     log,
		lifeCtx: ctx,
		cancel:  cancel,
	}

	c.market = &channel{
		name:        channelMarket,
		url:         cfg.MarketURL,
		headers:     c.marketHeaders,
		owner:       c,
		log:         log.WithField("channel", channelMarket),
		handle:      c.handleMarket,
		onConnected: c.resubscribe,
	}
	c.order = &channel{
		name:    channelOrder,
		url:     cfg.OrderURL,
		headers: orderHeaders,
		owner:   c,
		log:     log.WithField("channel", channelOrder),
		handle:  c.handleOrder,
	}
	return c
}

// SetSubscriptionSource attaches the multiplexer whose interests are replayed on reconnect.
func (c *Connector) SetSubscriptionSource(src SubscriptionSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = src
}

func (c *Connector) ctx() context.Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lifeCtx
}

func (c *Connector) marketHeaders(t session.Tokens) http.Header {
	h := http.Header{}
	h.Set("Authorization", t.SessionToken)
	h.Set("x-api-key", c.cfg.APIKey)
	h.Set("x-client-code", c.cfg.ClientCode)
	h.Set("x-feed-token", t.StreamToken)
	return h
}

func orderHeaders(t session.Tokens) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+t.SessionToken)
	return h
}

// Connect opens both channels. Missing tokens are fatal and never retried; a transport
// failure on either channel schedules that channel's reconnect and is reported as ErrConnect.
func (c *Connector) Connect(ctx context.Context) error {
	if !c.tokens.Tokens().Complete() {
		return fmt.Errorf("feed connect: %w", apperr.ErrMissingCredentials)
	}

	var errs []error
	for _, ch := range []*channel{c.market, c.order} {
		if err := ch.open(ctx); err != nil {
			if errors.Is(err, apperr.ErrMissingCredentials) {
				return err
			}
			ch.log.WithError(err).Errorf("feed connect failed, retrying in %s", c.cfg.ReconnectDelay)
			ch.scheduleReconnect(c.cfg.ReconnectDelay)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close stops both channels and any pending timers.
func (c *Connector) Close() {
	c.cancel()
	c.market.close()
	c.order.close()
	c.publishStatus()
}

// Subscribe asks the venue for market data on token. It is a logged no-op unless
// the market channel is Connected; the interest is replayed on the next connect.
func (c *Connector) Subscribe(token, exchange string) error {
	return c.sendInterest(actionSubscribe, token, exchange)
}

func (c *Connector) Unsubscribe(token, exchange string) error {
	return c.sendInterest(actionUnsubscribe, token, exchange)
}

func (c *Connector) sendInterest(action int, token, exchange string) error {
	log := c.market.log.WithFields(map[string]interface{}{
		"token":    token,
		"exchange": exchange,
		"action":   action,
	})
	if c.market.State() != model.ConnConnected {
		log.Warn("market channel not connected, skipping interest change")
		return apperr.ErrNotConnected
	}
	payload, err := encodeSubscription(action, c.cfg.SubscribeMode, []model.Subscription{{Token: token, Exchange: exchange}})
	if err != nil {
		return err
	}
	if err := c.market.write(websocket.TextMessage, payload); err != nil {
		log.WithError(err).Error("interest change failed")
		return err
	}
	log.Info("interest change sent")
	return nil
}

func (c *Connector) resubscribe() {
	c.mu.RLock()
	src := c.subs
	c.mu.RUnlock()
	if src == nil {
		return
	}
	subs := src.Subscriptions()
	if len(subs) == 0 {
		return
	}
	payload, err := encodeSubscription(actionSubscribe, c.cfg.SubscribeMode, subs)
	if err != nil {
		c.market.log.WithError(err).Error("failed to encode resubscribe")
		return
	}
	if err := c.market.write(websocket.TextMessage, payload); err != nil {
		c.market.log.WithError(err).Error("resubscribe failed")
		return
	}
	c.market.log.WithField("tokens", len(subs)).Info("resubscribed after connect")
}

func (c *Connector) handleMarket(data []byte) {
	tick, err := decodeTick(data, c.clock.Now())
	if err != nil {
		c.dropped(channelMarket, err, data)
		return
	}
	metrics.FeedMessages.WithLabelValues(channelMarket, "tick").Inc()
	c.pub.Publish(events.TickEvent{Tick: tick})
}

func (c *Connector) handleOrder(data []byte) {
	order, err := decodeOrderEvent(data, c.clock.Now())
	if err != nil {
		c.dropped(channelOrder, err, data)
		return
	}
	metrics.FeedMessages.WithLabelValues(channelOrder, "order").Inc()
	c.log.WithFields(map[string]interface{}{
		"order_id": order.OrderID,
		"token":    order.SymbolToken,
		"status":   order.Status,
	}).Info("order update received")
	c.pub.Publish(events.OrderUpdateEvent{Order: order})
}

func (c *Connector) dropped(channel string, err error, data []byte) {
	if errors.Is(err, errNoPayload) {
		metrics.FeedMessages.WithLabelValues(channel, "control").Inc()
		return
	}
	metrics.FeedMessages.WithLabelValues(channel, "malformed").Inc()
	sample := data
	if len(sample) > 256 {
		sample = sample[:256]
	}
	c.log.WithFields(map[string]interface{}{
		"channel": channel,
		"payload": string(sample),
	}).WithError(err).Warn("discarding venue message")
}

// Status is the current connectivity snapshot.
func (c *Connector) Status() model.FeedStatus {
	market := c.market.State()
	return model.FeedStatus{
		IsFeedConnected: market == model.ConnConnected,
		IsSessionActive: c.tokens.Active(),
		Market:          market,
		Order:           c.order.State(),
	}
}

// publishStatus emits ConnectivityChanged when the snapshot differs from the last one sent.
func (c *Connector) publishStatus() {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	status := c.Status()
	if c.lastStatus != nil && *c.lastStatus == status {
		return
	}
	c.lastStatus = &status

	c.log.WithFields(map[string]interface{}{
		"feed_connected": status.IsFeedConnected,
		"session_active": status.IsSessionActive,
		"market":         status.Market.String(),
		"order":          status.Order.String(),
	}).Info("feed status")
	c.pub.Publish(events.ConnectivityChanged{Status: status})
}

// SessionChanged re-publishes status after the session holder toggles.
func (c *Connector) SessionChanged(bool) {
	c.publishStatus()
}
