package events

import (
	"sync"

	"traderobot/src/model"
)

// Event names as seen by downstream consumers.
const (
	NameTick         = "tick"
	NameOrderUpdate  = "orderUpdate"
	NameFeedStatus   = "feedStatus"
	NameTradeUpdated = "tradeUpdated"
)

// Event is the closed set of messages flowing from the core to its consumers.
// Only the types in this package implement it.
type Event interface {
	Name() string
	// Token scopes delivery; empty means broadcast.
	Token() string
	isEvent()
}

// TickEvent carries a price update together with its normalized LTP.
type TickEvent struct {
	Tick model.Tick
}

func (TickEvent) Name() string    { return NameTick }
func (e TickEvent) Token() string { return e.Tick.Token }
func (TickEvent) isEvent()        {}

// OrderUpdateEvent carries a validated order-status update.
type OrderUpdateEvent struct {
	Order model.OrderEvent
}

func (OrderUpdateEvent) Name() string { return NameOrderUpdate }
func (e OrderUpdateEvent) Token() string {
	if e.Order.SymbolToken != "" {
		return e.Order.SymbolToken
	}
	return e.Order.TradingSymbol
}
func (OrderUpdateEvent) isEvent() {}

// ConnectivityChanged is emitted on any feed channel transition or session change.
type ConnectivityChanged struct {
	Status model.FeedStatus
}

func (ConnectivityChanged) Name() string  { return NameFeedStatus }
func (ConnectivityChanged) Token() string { return "" }
func (ConnectivityChanged) isEvent()      {}

// TradeMutated carries a full copy of a trade after any mutation.
type TradeMutated struct {
	Trade model.Trade
}

func (TradeMutated) Name() string    { return NameTradeUpdated }
func (e TradeMutated) Token() string { return e.Trade.SymbolToken }
func (TradeMutated) isEvent()        {}

// Handler consumes events. Handlers run on the publisher's goroutine and must not block.
type Handler interface {
	Handle(Event)
}

// HandlerFunc adapts a plain func to Handler.
type HandlerFunc func(Event)

func (f HandlerFunc) Handle(e Event) { f(e) }

// Publisher is the write side of the bus handed to producers.
type Publisher interface {
	Publish(Event)
}

// Bus delivers each published event to every subscribed handler in subscription order.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Subscribe(h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

func (b *Bus) Publish(e Event) {
	if e == nil {
		return
	}
	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()
	for _, h := range handlers {
		h.Handle(e)
	}
}
