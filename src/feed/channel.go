package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"

	"traderobot/src/apperr"
	"traderobot/src/clock"
	"traderobot/src/metrics"
	"traderobot/src/model"
	"traderobot/src/session"
)

const (
	channelMarket = "market"
	channelOrder  = "order"
)

// channel is one duplex connection with its own state machine:
// Disconnected -> Connecting -> Connected, Connected -> Degraded on a failed write,
// Connected|Degraded -> Disconnected on close, which schedules a reconnect.
type channel struct {
	name    string
	url     string
	headers func(session.Tokens) http.Header
	// handle processes one inbound frame.
	handle func(data []byte)
	// onConnected runs after every successful connect, outside the lock.
	onConnected func()

	owner *Connector
	log   *logger.Entry

	mu       sync.Mutex
	state    model.ConnState
	conn     Conn
	gen      uint64
	timer    clock.Timer
	pinger   clock.Timer
	shutdown bool

	writeMu sync.Mutex
}

func (c *channel) State() model.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// setState must be called with mu held.
func (c *channel) setState(s model.ConnState) bool {
	if c.state == s {
		return false
	}
	c.state = s
	metrics.FeedState.WithLabelValues(c.name).Set(float64(s))
	return true
}

// open dials the channel with the tokens currently held by the session.
// It is a no-op when the channel is already Connected or Connecting.
func (c *channel) open(ctx context.Context) error {
	c.mu.Lock()
	if c.shutdown || c.state == model.ConnConnected || c.state == model.ConnConnecting {
		c.mu.Unlock()
		return nil
	}
	c.gen++
	gen := c.gen
	c.setState(model.ConnConnecting)
	c.mu.Unlock()
	c.owner.publishStatus()

	tokens := c.owner.tokens.Tokens()
	if !tokens.Complete() {
		c.fail(gen)
		return fmt.Errorf("%s channel: %w", c.name, apperr.ErrMissingCredentials)
	}

	conn, err := c.owner.dialer.Dial(ctx, c.url, c.headers(tokens))
	if err != nil {
		c.fail(gen)
		return fmt.Errorf("%s channel: %w: %v", c.name, apperr.ErrConnect, err)
	}

	c.mu.Lock()
	if gen != c.gen || c.shutdown {
		c.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	c.conn = conn
	c.setState(model.ConnConnected)
	c.mu.Unlock()

	c.log.Info("feed channel connected")
	c.owner.publishStatus()

	go c.readLoop(conn, gen)
	c.schedulePing(gen)
	if c.onConnected != nil {
		c.onConnected()
	}
	return nil
}

func (c *channel) fail(gen uint64) {
	c.mu.Lock()
	changed := false
	if gen == c.gen {
		changed = c.setState(model.ConnDisconnected)
	}
	c.mu.Unlock()
	if changed {
		c.owner.publishStatus()
	}
}

func (c *channel) readLoop(conn Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.closed(gen, err)
			return
		}
		c.handle(data)
	}
}

// closed handles a transport close or protocol error for connection generation gen.
// Stale generations are ignored so a late read error cannot tear down a newer connection.
func (c *channel) closed(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.gen || (c.state != model.ConnConnected && c.state != model.ConnDegraded) {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.conn = nil
	c.setState(model.ConnDisconnected)
	if c.pinger != nil {
		c.pinger.Stop()
		c.pinger = nil
	}
	shutdown := c.shutdown
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	c.owner.publishStatus()
	if shutdown {
		return
	}

	c.log.WithError(cause).Warnf("feed channel closed, retrying in %s", c.owner.cfg.ReconnectDelay)
	c.scheduleReconnect(c.owner.cfg.ReconnectDelay)
}

// scheduleReconnect replaces any pending reconnect timer, so at most one is outstanding.
func (c *channel) scheduleReconnect(delay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shutdown {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = c.owner.clock.AfterFunc(delay, c.reconnect)
	metrics.FeedReconnects.WithLabelValues(c.name).Inc()
}

func (c *channel) reconnect() {
	c.mu.Lock()
	c.timer = nil
	skip := c.shutdown || c.state == model.ConnConnected
	c.mu.Unlock()
	if skip {
		return
	}

	c.log.Info("reconnecting feed channel")
	if err := c.open(c.owner.ctx()); err != nil {
		delay := c.owner.cfg.ReconnectEscalatedDelay
		c.log.WithError(err).Errorf("feed reconnect failed, retrying in %s", delay)
		c.scheduleReconnect(delay)
	}
}

func (c *channel) schedulePing(gen uint64) {
	interval := c.owner.cfg.PingInterval
	if interval <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.state != model.ConnConnected {
		return
	}
	c.pinger = c.owner.clock.AfterFunc(interval, func() {
		if err := c.write(websocket.TextMessage, pingPayload); err != nil {
			return
		}
		c.schedulePing(gen)
	})
}

// write sends one frame on the live connection. A failed write marks the channel
// Degraded and closes the transport so the read loop drives the reconnect.
func (c *channel) write(messageType int, data []byte) error {
	c.mu.Lock()
	conn := c.conn
	gen := c.gen
	connected := c.state == model.ConnConnected
	c.mu.Unlock()
	if conn == nil || !connected {
		return fmt.Errorf("%s channel: %w", c.name, apperr.ErrNotConnected)
	}

	c.writeMu.Lock()
	err := conn.WriteMessage(messageType, data)
	c.writeMu.Unlock()
	if err == nil {
		return nil
	}

	c.mu.Lock()
	degraded := gen == c.gen && c.setState(model.ConnDegraded)
	c.mu.Unlock()
	if degraded {
		c.log.WithError(err).Warn("feed channel write failed, marking degraded")
		c.owner.publishStatus()
		_ = conn.Close()
	}
	return fmt.Errorf("%s channel write: %w", c.name, errors.Join(apperr.ErrNotConnected, err))
}

func (c *channel) close() {
	c.mu.Lock()
	c.shutdown = true
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.pinger != nil {
		c.pinger.Stop()
		c.pinger = nil
	}
	conn := c.conn
	c.conn = nil
	c.setState(model.ConnDisconnected)
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// pendingReconnect reports whether a reconnect timer is outstanding.
func (c *channel) pendingReconnect() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timer != nil
}
