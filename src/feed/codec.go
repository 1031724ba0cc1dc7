package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"traderobot/src/apperr"
	"traderobot/src/model"
)

const (
	actionUnsubscribe = 0
	actionSubscribe   = 1

	orderStatusOK  = "200"
	orderAckStatus = "AB00"
)

// errNoPayload marks well-formed control messages (acks, keepalives) that carry no event.
var errNoPayload = errors.New("message carries no event")

var pingPayload = []byte("ping")

func isKeepalive(data []byte) bool {
	s := bytes.ToLower(bytes.TrimSpace(data))
	return bytes.Equal(s, []byte("pong")) || bytes.Equal(s, pingPayload)
}

func firstOf(doc gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if r := doc.Get(p); r.Exists() && r.String() != "" {
			return r
		}
	}
	return gjson.Result{}
}

// decodeTick reads a market-data frame. Frames without both a token and a price are skipped.
func decodeTick(data []byte, now time.Time) (model.Tick, error) {
	if isKeepalive(data) {
		return model.Tick{}, errNoPayload
	}
	if !gjson.ValidBytes(data) {
		return model.Tick{}, fmt.Errorf("%w: market frame is not json", apperr.ErrMalformedMessage)
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return model.Tick{}, fmt.Errorf("%w: market frame is not an object", apperr.ErrMalformedMessage)
	}

	token := firstOf(doc, "token", "tk")
	price := firstOf(doc, "last_traded_price", "ltp", "lp")
	if !token.Exists() || !price.Exists() {
		return model.Tick{}, errNoPayload
	}

	tick := model.Tick{
		Token:        token.String(),
		ExchangeType: int(firstOf(doc, "exchange_type", "e").Int()),
		RawPrice:     price.String(),
		Timestamp:    now,
	}
	if ts := firstOf(doc, "exchange_timestamp", "ft"); ts.Exists() && ts.Int() > 0 {
		tick.Timestamp = time.UnixMilli(ts.Int())
	}
	return tick, nil
}

// decodeOrderEvent validates an order-status frame and maps it onto an OrderEvent.
func decodeOrderEvent(data []byte, now time.Time) (model.OrderEvent, error) {
	if isKeepalive(data) {
		return model.OrderEvent{}, errNoPayload
	}
	if !gjson.ValidBytes(data) {
		return model.OrderEvent{}, fmt.Errorf("%w: order frame is not json", apperr.ErrMalformedMessage)
	}
	doc := gjson.ParseBytes(data)

	if code := doc.Get("status-code").String(); code != orderStatusOK {
		return model.OrderEvent{}, fmt.Errorf("%w: order status-code %q: %s",
			apperr.ErrMalformedMessage, code, doc.Get("error-message").String())
	}

	venueCode := doc.Get("order-status").String()
	if venueCode == orderAckStatus {
		return model.OrderEvent{}, errNoPayload
	}

	order := doc.Get("orderData")
	if !order.IsObject() || order.Get("orderid").String() == "" {
		return model.OrderEvent{}, fmt.Errorf("%w: order frame without orderData", apperr.ErrMalformedMessage)
	}

	avg, err := decimal.NewFromString(firstOf(order, "averageprice", "price").String())
	if err != nil {
		avg = decimal.Zero
	}
	qty := firstOf(order, "filledshares", "quantity").Int()
	if qty <= 0 {
		qty = order.Get("quantity").Int()
	}

	return model.OrderEvent{
		OrderID:         order.Get("orderid").String(),
		SymbolToken:     order.Get("symboltoken").String(),
		TradingSymbol:   order.Get("tradingsymbol").String(),
		Exchange:        order.Get("exchange").String(),
		TransactionType: order.Get("transactiontype").String(),
		VenueStatusCode: venueCode,
		Status:          model.NormalizeOrderStatus(venueCode, order.Get("orderstatus").String()),
		StatusText:      order.Get("orderstatus").String(),
		Quantity:        qty,
		AveragePrice:    model.Money(avg),
		Timestamp:       now,
	}, nil
}

type tokenList struct {
	ExchangeType int      `json:"exchangeType"`
	Tokens       []string `json:"tokens"`
}

type subscribeParams struct {
	Mode      int         `json:"mode"`
	TokenList []tokenList `json:"tokenList"`
}

type subscribeRequest struct {
	CorrelationID string          `json:"correlationID"`
	Action        int             `json:"action"`
	Params        subscribeParams `json:"params"`
}

// encodeSubscription builds one interest-change request, grouping tokens by exchange type.
func encodeSubscription(action, mode int, subs []model.Subscription) ([]byte, error) {
	if len(subs) == 0 {
		return nil, fmt.Errorf("%w: empty token list", apperr.ErrInvalidRequest)
	}
	grouped := map[int][]string{}
	for _, s := range subs {
		et := model.ExchangeType(s.Exchange)
		grouped[et] = append(grouped[et], s.Token)
	}
	types := make([]int, 0, len(grouped))
	for et := range grouped {
		types = append(types, et)
	}
	sort.Ints(types)

	req := subscribeRequest{
		CorrelationID: uuid.NewString()[:10],
		Action:        action,
		Params:        subscribeParams{Mode: mode},
	}
	for _, et := range types {
		req.Params.TokenList = append(req.Params.TokenList, tokenList{ExchangeType: et, Tokens: grouped[et]})
	}
	return json.Marshal(req)
}
