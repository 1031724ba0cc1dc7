package relay

import (
	"encoding/json"

	"traderobot/src/model"
)

// Consumer commands.
const (
	ActionSubscribe     = "subscribe"
	ActionUnsubscribe   = "unsubscribe"
	ActionUpdateTrade   = "updateTrade"
	ActionGetFeedStatus = "getFeedStatus"
)

const eventError = "error"

// Envelope is every frame sent to a consumer.
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Command is every frame accepted from a consumer.
type Command struct {
	Action   string            `json:"action"`
	Token    string            `json:"token"`
	Exchange string            `json:"exchange,omitempty"`
	Updates  model.TradeUpdate `json:"updates"`
}

type errorPayload struct {
	Action  string `json:"action,omitempty"`
	Token   string `json:"token,omitempty"`
	Message string `json:"message"`
}

func encode(event string, data interface{}) ([]byte, error) {
	return json.Marshal(Envelope{Event: event, Data: data})
}
