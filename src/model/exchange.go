package model

import "strings"

// DefaultExchange is the segment assumed for trades that do not name one.
const DefaultExchange = "NFO"

var exchangeTypes = map[string]int{
	"NSE": 1,
	"NFO": 2,
	"BSE": 3,
	"BFO": 4,
	"MCX": 5,
}

// ExchangeType maps an exchange segment onto the venue's numeric stream id (NSE when unknown).
func ExchangeType(exchange string) int {
	if t, ok := exchangeTypes[strings.ToUpper(strings.TrimSpace(exchange))]; ok {
		return t
	}
	return 1
}
