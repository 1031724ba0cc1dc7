package feed

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traderobot/src/apperr"
	"traderobot/src/clock"
	"traderobot/src/events"
	"traderobot/src/model"
	"traderobot/src/session"
)

type fakeConn struct {
	in        chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	writes   []string
	writeErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), done: make(chan struct{})}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case <-f.done:
		return 0, nil, errors.New("use of closed connection")
	default:
	}
	select {
	case data := <-f.in:
		return websocket.TextMessage, data, nil
	case <-f.done:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, string(data))
	return nil
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

func (f *fakeConn) Writes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

type dialRecord struct {
	url    string
	header http.Header
}

type fakeDialer struct {
	mu    sync.Mutex
	dials []dialRecord
	conns map[string][]*fakeConn
	fail  bool
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: map[string][]*fakeConn{}}
}

func (d *fakeDialer) Dial(_ context.Context, url string, header http.Header) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials = append(d.dials, dialRecord{url: url, header: header.Clone()})
	if d.fail {
		return nil, errors.New("connection refused")
	}
	conn := newFakeConn()
	d.conns[url] = append(d.conns[url], conn)
	return conn, nil
}

func (d *fakeDialer) setFail(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = v
}

func (d *fakeDialer) dialCount(url string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, r := range d.dials {
		if r.url == url {
			n++
		}
	}
	return n
}

func (d *fakeDialer) lastDial(url string) dialRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.dials) - 1; i >= 0; i-- {
		if d.dials[i].url == url {
			return d.dials[i]
		}
	}
	return dialRecord{}
}

func (d *fakeDialer) latest(url string) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	conns := d.conns[url]
	if len(conns) == 0 {
		return nil
	}
	return conns[len(conns)-1]
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) ticks() []model.Tick {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Tick
	for _, e := range r.events {
		if t, ok := e.(events.TickEvent); ok {
			out = append(out, t.Tick)
		}
	}
	return out
}

func (r *recorder) orders() []model.OrderEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.OrderEvent
	for _, e := range r.events {
		if o, ok := e.(events.OrderUpdateEvent); ok {
			out = append(out, o.Order)
		}
	}
	return out
}

func (r *recorder) lastStatus() (model.FeedStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if s, ok := r.events[i].(events.ConnectivityChanged); ok {
			return s.Status, true
		}
	}
	return model.FeedStatus{}, false
}

type staticSubs []model.Subscription

func (s staticSubs) Subscriptions() []model.Subscription { return s }

const (
	marketURL = "wss://feed.test/market"
	orderURL  = "wss://feed.test/order"
)

func testConfig() Config {
	return Config{
		MarketURL:               marketURL,
		OrderURL:                orderURL,
		APIKey:                  "api-key",
		ClientCode:              "C123",
		ReconnectDelay:          10 * time.Second,
		ReconnectEscalatedDelay: 15 * time.Second,
		SubscribeMode:           1,
	}
}

type harness struct {
	conn   *Connector
	dialer *fakeDialer
	clock  *clock.Fake
	rec    *recorder
	holder *session.Holder
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		dialer: newFakeDialer(),
		clock:  clock.NewFake(time.Date(2025, 1, 2, 9, 15, 0, 0, time.UTC)),
		rec:    &recorder{},
		holder: session.NewHolder(nil),
	}
	h.holder.Set(session.Tokens{SessionToken: "jwt-1", StreamToken: "feed-1"})
	h.conn = NewConnector(cfg, h.dialer, h.clock, h.holder, h.rec, nil)
	t.Cleanup(h.conn.Close)
	return h
}

func TestConnectMissingCredentials(t *testing.T) {
	h := newHarness(t, testConfig())
	h.holder.Set(session.Tokens{SessionToken: "jwt-only"})

	err := h.conn.Connect(context.Background())
	require.ErrorIs(t, err, apperr.ErrMissingCredentials)
	assert.True(t, apperr.IsFatal(err))
	assert.Equal(t, 0, h.dialer.dialCount(marketURL))
	assert.Equal(t, 0, h.clock.Pending(), "missing credentials must not be retried")
}

func TestConnectOpensBothChannels(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.conn.Connect(context.Background()))

	status := h.conn.Status()
	assert.True(t, status.IsFeedConnected)
	assert.True(t, status.IsSessionActive)
	assert.Equal(t, model.ConnConnected, status.Order)

	published, ok := h.rec.lastStatus()
	require.True(t, ok)
	assert.Equal(t, status, published)

	market := h.dialer.lastDial(marketURL)
	assert.Equal(t, "jwt-1", market.header.Get("Authorization"))
	assert.Equal(t, "feed-1", market.header.Get("x-feed-token"))
	assert.Equal(t, "C123", market.header.Get("x-client-code"))
	assert.Equal(t, "Bearer jwt-1", h.dialer.lastDial(orderURL).header.Get("Authorization"))

	// already connected: no second dial
	require.NoError(t, h.conn.Connect(context.Background()))
	assert.Equal(t, 1, h.dialer.dialCount(marketURL))
}

func TestConnectTransportFailureSchedulesReconnect(t *testing.T) {
	h := newHarness(t, testConfig())
	h.dialer.setFail(true)

	err := h.conn.Connect(context.Background())
	require.ErrorIs(t, err, apperr.ErrConnect)
	assert.False(t, apperr.IsFatal(err))
	assert.True(t, h.conn.market.pendingReconnect())
	assert.True(t, h.conn.order.pendingReconnect())
	assert.Equal(t, 2, h.clock.Pending())
}

func TestReconnectSingleTimerPerChannel(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.conn.Connect(context.Background()))

	h.dialer.latest(marketURL).Close()
	require.Eventually(t, h.conn.market.pendingReconnect, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.clock.Pending())

	// a second close report for the same connection must not add a timer
	h.conn.market.mu.Lock()
	gen := h.conn.market.gen
	h.conn.market.mu.Unlock()
	h.conn.market.closed(gen, errors.New("late close"))
	h.conn.market.scheduleReconnect(10 * time.Second)
	assert.Equal(t, 1, h.clock.Pending())

	status, _ := h.rec.lastStatus()
	assert.False(t, status.IsFeedConnected)
	assert.Equal(t, model.ConnConnected, status.Order)
}

func TestReconnectEscalatesAndReadsFreshTokens(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.conn.Connect(context.Background()))

	h.dialer.setFail(true)
	h.dialer.latest(marketURL).Close()
	require.Eventually(t, h.conn.market.pendingReconnect, time.Second, 5*time.Millisecond)

	h.clock.Advance(10 * time.Second)
	assert.Equal(t, 2, h.dialer.dialCount(marketURL))
	assert.Equal(t, 1, h.clock.Pending(), "failed reconnect schedules exactly one retry")

	// escalated delay: nothing happens at +10s
	h.clock.Advance(10 * time.Second)
	assert.Equal(t, 2, h.dialer.dialCount(marketURL))

	h.holder.Set(session.Tokens{SessionToken: "jwt-2", StreamToken: "feed-2"})
	h.dialer.setFail(false)
	h.clock.Advance(5 * time.Second)
	assert.Equal(t, 3, h.dialer.dialCount(marketURL))
	assert.Equal(t, "jwt-2", h.dialer.lastDial(marketURL).header.Get("Authorization"))
	assert.Equal(t, model.ConnConnected, h.conn.market.State())
	assert.Equal(t, 0, h.clock.Pending())
}

func TestReconnectIsNoopWhenConnected(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.conn.Connect(context.Background()))

	h.conn.market.reconnect()
	assert.Equal(t, 1, h.dialer.dialCount(marketURL))
}

func TestSubscribeRequiresConnectedChannel(t *testing.T) {
	h := newHarness(t, testConfig())
	assert.ErrorIs(t, h.conn.Subscribe("116750", "NFO"), apperr.ErrNotConnected)

	require.NoError(t, h.conn.Connect(context.Background()))
	require.NoError(t, h.conn.Subscribe("116750", "NFO"))
	require.NoError(t, h.conn.Unsubscribe("116750", "NFO"))

	writes := h.dialer.latest(marketURL).Writes()
	require.Len(t, writes, 2)
	assert.Contains(t, writes[0], `"action":1`)
	assert.Contains(t, writes[0], `{"exchangeType":2,"tokens":["116750"]}`)
	assert.Contains(t, writes[1], `"action":0`)
}

func TestResubscribeAfterConnect(t *testing.T) {
	h := newHarness(t, testConfig())
	h.conn.SetSubscriptionSource(staticSubs{
		{Token: "3045", Exchange: "NSE"},
		{Token: "116750", Exchange: "NFO"},
	})
	require.NoError(t, h.conn.Connect(context.Background()))

	writes := h.dialer.latest(marketURL).Writes()
	require.Len(t, writes, 1)
	assert.Contains(t, writes[0], `{"exchangeType":1,"tokens":["3045"]}`)
	assert.Contains(t, writes[0], `{"exchangeType":2,"tokens":["116750"]}`)
}

func TestMarketFramesPublishTicks(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.conn.Connect(context.Background()))

	conn := h.dialer.latest(marketURL)
	conn.in <- []byte("pong")
	conn.in <- []byte("{not json")
	conn.in <- []byte(`{"correlationID":"abc","action":1}`)
	conn.in <- []byte(`{"token":"116750","exchange_type":2,"last_traded_price":19750}`)

	require.Eventually(t, func() bool { return len(h.rec.ticks()) == 1 }, time.Second, 5*time.Millisecond)
	tick := h.rec.ticks()[0]
	assert.Equal(t, "116750", tick.Token)
	assert.Equal(t, "19750", tick.RawPrice)
}

func TestOrderFramesPublishOrderEvents(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.conn.Connect(context.Background()))

	conn := h.dialer.latest(orderURL)
	conn.in <- []byte(`{"user-id":"C123","status-code":"200","order-status":"AB00","error-message":"","orderData":{}}`)
	conn.in <- []byte(`{"status-code":"401","order-status":"","error-message":"Invalid token"}`)
	conn.in <- []byte(`{"status-code":"200","order-status":"AB05","orderData":{"orderid":"1001","symboltoken":"116750","tradingsymbol":"NIFTY","transactiontype":"BUY","orderstatus":"complete","averageprice":197.5,"quantity":"1"}}`)

	require.Eventually(t, func() bool { return len(h.rec.orders()) == 1 }, time.Second, 5*time.Millisecond)
	order := h.rec.orders()[0]
	assert.Equal(t, "1001", order.OrderID)
	assert.Equal(t, model.OrderStatusComplete, order.Status)
	assert.Equal(t, "197.5", order.AveragePrice.String())
	assert.Equal(t, int64(1), order.Quantity)
}

func TestWriteFailureDegradesThenReconnects(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.conn.Connect(context.Background()))

	conn := h.dialer.latest(marketURL)
	conn.mu.Lock()
	conn.writeErr = errors.New("broken pipe")
	conn.mu.Unlock()

	err := h.conn.Subscribe("116750", "NFO")
	require.ErrorIs(t, err, apperr.ErrNotConnected)
	require.Eventually(t, h.conn.market.pendingReconnect, time.Second, 5*time.Millisecond)
	assert.Equal(t, model.ConnDisconnected, h.conn.market.State())
}

func TestPingWhileConnected(t *testing.T) {
	cfg := testConfig()
	cfg.PingInterval = 30 * time.Second
	h := newHarness(t, cfg)
	require.NoError(t, h.conn.Connect(context.Background()))

	h.clock.Advance(30 * time.Second)
	h.clock.Advance(30 * time.Second)

	var pings int
	for _, w := range h.dialer.latest(orderURL).Writes() {
		if strings.TrimSpace(w) == "ping" {
			pings++
		}
	}
	assert.Equal(t, 2, pings)
}

func TestSessionChangePublishesStatus(t *testing.T) {
	h := newHarness(t, testConfig())
	h.holder.OnChange(h.conn.SessionChanged)
	require.NoError(t, h.conn.Connect(context.Background()))

	h.holder.SetActive(false)

	status, ok := h.rec.lastStatus()
	require.True(t, ok)
	assert.True(t, status.IsFeedConnected)
	assert.False(t, status.IsSessionActive)
}
