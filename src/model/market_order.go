package model

// Order defaults applied when a trade does not carry its own.
const (
	DefaultProductType = "INTRADAY"
	DefaultVariety     = "NORMAL"
	DefaultDuration    = "DAY"
	OrderTypeMarket    = "MARKET"
)

// MarketOrder is what the registry asks the order placement side to submit.
type MarketOrder struct {
	SymbolToken   string
	TradingSymbol string
	Exchange      string
	Quantity      int64
	Side          string
	ProductType   string
	Variety       string
	Duration      string
}

// CloseOrderFor builds the market SELL that flattens t.
func CloseOrderFor(t Trade) MarketOrder {
	o := MarketOrder{
		SymbolToken:   t.SymbolToken,
		TradingSymbol: t.TradingSymbol,
		Exchange:      t.Exchange,
		Quantity:      t.Quantity,
		Side:          SideSell,
		ProductType:   t.ProductType,
		Variety:       DefaultVariety,
		Duration:      DefaultDuration,
	}
	if o.Exchange == "" {
		o.Exchange = DefaultExchange
	}
	if o.ProductType == "" {
		o.ProductType = DefaultProductType
	}
	return o
}

// Subscription is one desired market-data interest.
type Subscription struct {
	Token    string `json:"token"`
	Exchange string `json:"exchange"`
}
