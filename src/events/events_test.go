package events

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"traderobot/src/model"
)

func TestBusDeliversInSubscriptionOrder(t *testing.T) {
	bus := NewBus()
	var got []string
	bus.Subscribe(HandlerFunc(func(e Event) { got = append(got, "registry:"+e.Name()) }))
	bus.Subscribe(HandlerFunc(func(e Event) { got = append(got, "relay:"+e.Name()) }))

	bus.Publish(TickEvent{Tick: model.Tick{Token: "3045", RawPrice: "19750"}})

	assert.Equal(t, []string{"registry:tick", "relay:tick"}, got)
}

func TestEventScopes(t *testing.T) {
	assert.Equal(t, "3045", TickEvent{Tick: model.Tick{Token: "3045"}}.Token())
	assert.Equal(t, "", ConnectivityChanged{}.Token())
	assert.Equal(t, "SBIN-EQ", OrderUpdateEvent{Order: model.OrderEvent{TradingSymbol: "SBIN-EQ"}}.Token())
	assert.Equal(t, "3045", OrderUpdateEvent{Order: model.OrderEvent{SymbolToken: "3045", TradingSymbol: "SBIN-EQ"}}.Token())
	assert.Equal(t, "116750", TradeMutated{Trade: model.Trade{SymbolToken: "116750"}}.Token())
}
