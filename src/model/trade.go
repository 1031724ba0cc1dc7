package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type TradeStatus string

const (
	TradeStatusPending   TradeStatus = "pending"
	TradeStatusRunning   TradeStatus = "running"
	TradeStatusClosed    TradeStatus = "closed"
	TradeStatusCancelled TradeStatus = "cancelled"
	TradeStatusRejected  TradeStatus = "rejected"
)

// IsTerminal reports whether no further transition may leave this status.
func (s TradeStatus) IsTerminal() bool {
	switch s {
	case TradeStatusClosed, TradeStatusCancelled, TradeStatusRejected:
		return true
	default:
		return false
	}
}

type TrailMode string

const (
	TrailNone     TrailMode = "none"
	TrailPercent  TrailMode = "percent"
	TrailCost     TrailMode = "cost"
	TrailAbsolute TrailMode = "absolute"
)

// DefaultTrailPercent is the share of the original stop-loss a bare "percent" trail gives up.
var DefaultTrailPercent = decimal.NewFromFloat(0.5)

var hundred = decimal.NewFromInt(100)

// ParseTrailMode accepts the canonical names plus the legacy front-end values.
// "50%" and "75%" are percent trails with level 0.5 and 0.75. A bare amount such
// as "800" is an absolute trail at that level.
func ParseTrailMode(raw string) (TrailMode, decimal.Decimal, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch s {
	case "", string(TrailNone):
		return TrailNone, decimal.Zero, nil
	case string(TrailPercent):
		return TrailPercent, DefaultTrailPercent, nil
	case string(TrailCost):
		return TrailCost, decimal.Zero, nil
	case string(TrailAbsolute):
		return TrailAbsolute, decimal.Zero, nil
	}
	if pct, ok := strings.CutSuffix(s, "%"); ok {
		n, err := decimal.NewFromString(strings.TrimSpace(pct))
		if err != nil || !n.IsPositive() || !n.LessThan(hundred) {
			return "", decimal.Zero, fmt.Errorf("unknown trail mode %q", raw)
		}
		return TrailPercent, n.Div(hundred), nil
	}
	level, err := decimal.NewFromString(s)
	if err != nil || !level.IsPositive() {
		return "", decimal.Zero, fmt.Errorf("unknown trail mode %q", raw)
	}
	return TrailAbsolute, level, nil
}

const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// DefaultStopLoss is the loss threshold applied when a trade does not carry one.
var DefaultStopLoss = decimal.NewFromInt(800)

// Trade is one open or closed position tracked against the live feed.
type Trade struct {
	ID  string `gorm:"primaryKey;size:36" json:"id"`
	Seq int64  `gorm:"index;not null" json:"seq"`

	SymbolToken   string `gorm:"size:32;index;not null" json:"symboltoken"`
	TradingSymbol string `gorm:"size:64;not null" json:"tradingsymbol"`
	Exchange      string `gorm:"size:10;not null;default:NFO" json:"exchange"`
	ProductType   string `gorm:"size:20" json:"producttype"`
	Variety       string `gorm:"size:20" json:"variety"`
	Duration      string `gorm:"size:10" json:"duration"`

	OrderID         *string `gorm:"size:40;index" json:"orderid"`
	ExitOrderID     *string `gorm:"size:40" json:"exit_order_id,omitempty"`
	TransactionType string  `gorm:"size:4" json:"transactiontype"`

	Quantity        int64           `json:"quantity"`
	BuyPrice        decimal.Decimal `gorm:"type:numeric(18,2)" json:"buy_price"`
	SellPrice       decimal.Decimal `gorm:"type:numeric(18,2)" json:"sell_price"`
	LastTradedPrice decimal.Decimal `gorm:"type:numeric(18,2)" json:"last_traded_price"`
	ProfitLoss      decimal.Decimal `gorm:"type:numeric(18,2)" json:"profit_loss"`
	HighestProfit   decimal.Decimal `gorm:"type:numeric(18,2)" json:"highest_profit"`

	StopLoss         decimal.Decimal     `gorm:"type:numeric(18,2)" json:"stop_loss"`
	OriginalStopLoss decimal.Decimal     `gorm:"type:numeric(18,2)" json:"original_stop_loss"`
	TrailMode        TrailMode           `gorm:"size:10;not null;default:none" json:"trail"`
	TrailLevel       decimal.Decimal     `gorm:"type:numeric(18,2)" json:"trail_level"`
	TrailStage       int                 `json:"trail_stage"`
	LimitSellPrice   decimal.NullDecimal `gorm:"type:numeric(18,2)" json:"limit_sell_price"`

	TradeStatus TradeStatus `gorm:"size:20;not null;default:pending;index" json:"trade_status"`
	// OrderStatus is the last venue status seen for either leg, kept verbatim.
	OrderStatus string `gorm:"size:20" json:"order_status,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName pins the table used for the trade book snapshot.
func (Trade) TableName() string {
	return "trades"
}

// IsRunning reports whether the trade is an open position driven by ticks.
func (t *Trade) IsRunning() bool {
	return t.TradeStatus == TradeStatusRunning
}

// Clone returns a deep copy safe to hand out of the registry.
func (t Trade) Clone() Trade {
	out := t
	if t.OrderID != nil {
		id := *t.OrderID
		out.OrderID = &id
	}
	if t.ExitOrderID != nil {
		id := *t.ExitOrderID
		out.ExitOrderID = &id
	}
	return out
}

// Money rounds to the 2-decimal fixed point used for every monetary field.
func Money(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// OpenTradeRequest carries what the order-placement side knows about a freshly placed BUY.
type OpenTradeRequest struct {
	SymbolToken    string           `json:"symboltoken"`
	TradingSymbol  string           `json:"tradingsymbol"`
	Exchange       string           `json:"exchange"`
	OrderID        string           `json:"orderid"`
	ProductType    string           `json:"producttype"`
	Variety        string           `json:"variety"`
	Duration       string           `json:"duration"`
	Quantity       int64            `json:"quantity"`
	StopLoss       *decimal.Decimal `json:"stop_loss"`
	Trail          string           `json:"trail"`
	LimitSellPrice *decimal.Decimal `json:"limit_sell_price"`
}

// TradeUpdate is a partial manual edit requested by a consumer. Nil fields are untouched.
type TradeUpdate struct {
	StopLoss       *decimal.Decimal `json:"stop_loss"`
	Trail          *string          `json:"trail"`
	LimitSellPrice *decimal.Decimal `json:"limit_sell_price"`
}

// IsEmpty reports whether the update changes nothing.
func (u TradeUpdate) IsEmpty() bool {
	return u.StopLoss == nil && u.Trail == nil && u.LimitSellPrice == nil
}
