package relay

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"

	"traderobot/src/auth"
	"traderobot/src/clock"
	"traderobot/src/events"
	"traderobot/src/metrics"
	"traderobot/src/model"
)

// Interest is the multiplexer side used by consumer sessions.
type Interest interface {
	AddInterest(token, exchange, requester string) error
	RemoveInterest(token, requester string) error
	RemoveRequester(requester string)
}

// TradeEditor applies consumer edits to open trades.
type TradeEditor interface {
	UpdateTrade(token string, upd model.TradeUpdate) (*model.Trade, error)
}

// StatusSource reports the current connectivity snapshot.
type StatusSource interface {
	Status() model.FeedStatus
}

// tickPayload is the consumer view of a tick, carrying both the raw venue price and the LTP.
type tickPayload struct {
	Token           string    `json:"token"`
	ExchangeType    int       `json:"exchange_type"`
	LastTradedPrice string    `json:"last_traded_price"`
	LTP             string    `json:"ltp,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Hub fans events out to consumer sessions. Ticks, order updates and trade updates go to
// the sessions subscribed to their token; feed status goes to everyone.
type Hub struct {
	cfg       Config
	interest  Interest
	trades    TradeEditor
	status    StatusSource
	debouncer *Debouncer
	upgrader  websocket.Upgrader
	log       *logger.Entry

	mu         sync.RWMutex
	sessions   map[string]*Session
	rooms      map[string]map[string]*Session
	lastStatus model.FeedStatus
}

func NewHub(cfg Config, interest Interest, trades TradeEditor, status StatusSource, clk clock.Clock, log *logger.Entry) *Hub {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	h := &Hub{
		cfg:      cfg,
		interest: interest,
		trades:   trades,
		status:   status,
		log:      log,
		sessions: map[string]*Session{},
		rooms:    map[string]map[string]*Session{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	h.debouncer = NewDebouncer(clk, cfg.Debounce, h.emitTrade)
	return h
}

// Handle is subscribed to the event bus. It never blocks on a consumer.
func (h *Hub) Handle(e events.Event) {
	switch ev := e.(type) {
	case events.TickEvent:
		p := tickPayload{
			Token:           ev.Tick.Token,
			ExchangeType:    ev.Tick.ExchangeType,
			LastTradedPrice: ev.Tick.RawPrice,
			Timestamp:       ev.Tick.Timestamp,
		}
		if ltp, ok := ev.Tick.Price(); ok {
			p.LTP = ltp.StringFixed(2)
		}
		h.toRoom(ev.Token(), ev.Name(), p)
	case events.OrderUpdateEvent:
		h.toRoom(ev.Token(), ev.Name(), ev.Order)
	case events.ConnectivityChanged:
		h.mu.Lock()
		h.lastStatus = ev.Status
		h.mu.Unlock()
		h.broadcast(ev.Name(), ev.Status)
	case events.TradeMutated:
		h.debouncer.Push(ev.Trade)
	}
}

func (h *Hub) emitTrade(t model.Trade) {
	h.toRoom(t.SymbolToken, events.NameTradeUpdated, t)
}

func (h *Hub) currentStatus() model.FeedStatus {
	if h.status != nil {
		return h.status.Status()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastStatus
}

func (h *Hub) toRoom(token, event string, data interface{}) {
	frame, err := encode(event, data)
	if err != nil {
		h.log.WithFields(map[string]interface{}{"event": event, "token": token}).WithError(err).Error("failed to encode event")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.rooms[token] {
		s.enqueue(frame)
	}
}

func (h *Hub) broadcast(event string, data interface{}) {
	frame, err := encode(event, data)
	if err != nil {
		h.log.WithField("event", event).WithError(err).Error("failed to encode event")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.sessions {
		s.enqueue(frame)
	}
}

func (h *Hub) register(s *Session) {
	h.mu.Lock()
	h.sessions[s.id] = s
	n := len(h.sessions)
	h.mu.Unlock()
	metrics.RelaySessions.Set(float64(n))
}

// unregister removes s from every room and releases its token interest.
func (h *Hub) unregister(s *Session) {
	h.mu.Lock()
	if _, ok := h.sessions[s.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, s.id)
	for token, room := range h.rooms {
		delete(room, s.id)
		if len(room) == 0 {
			delete(h.rooms, token)
		}
	}
	n := len(h.sessions)
	h.mu.Unlock()
	metrics.RelaySessions.Set(float64(n))

	if h.interest != nil {
		h.interest.RemoveRequester(s.requester)
	}
	s.log.Info("consumer disconnected")
}

func (h *Hub) join(s *Session, token string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[token]
	if room == nil {
		room = map[string]*Session{}
		h.rooms[token] = room
	}
	room[s.id] = s
}

func (h *Hub) leave(s *Session, token string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if room := h.rooms[token]; room != nil {
		delete(room, s.id)
		if len(room) == 0 {
			delete(h.rooms, token)
		}
	}
}

// Sessions returns the number of connected consumers.
func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// ServeHTTP upgrades a consumer connection and serves it until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()
	if c, ok := auth.GetConsumerFromContext(r.Context()); ok && c != nil {
		id = c.ID
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithField("remote", r.RemoteAddr).WithError(err).Warn("websocket upgrade failed")
		return
	}

	s := newSession(h, id, conn)
	h.register(s)
	s.log.WithField("remote", r.RemoteAddr).Info("consumer connected")
	s.sendStatus()

	go s.writePump()
	s.readPump()

	s.close()
	h.unregister(s)
}

// Close flushes pending trade updates and disconnects every consumer.
func (h *Hub) Close() {
	h.debouncer.Flush()
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()
	for _, s := range sessions {
		s.close()
	}
}
