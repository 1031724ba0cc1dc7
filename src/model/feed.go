package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var priceScale = decimal.NewFromInt(100)

// ValidToken reports whether token can be put on the wire as a subscription key.
// Whitespace, '|' and ',' are separators in the venue's token lists.
func ValidToken(token string) bool {
	return token != "" && !strings.ContainsAny(token, " \t\r\n|,")
}

// Tick is a single price update for a token. RawPrice is in venue units (paise).
type Tick struct {
	Token        string    `json:"token"`
	ExchangeType int       `json:"exchange_type"`
	RawPrice     string    `json:"last_traded_price"`
	Timestamp    time.Time `json:"timestamp"`
}

// Price normalizes RawPrice to rupees. ok is false for non-numeric or non-positive values.
func (t Tick) Price() (decimal.Decimal, bool) {
	raw, err := decimal.NewFromString(strings.TrimSpace(t.RawPrice))
	if err != nil {
		return decimal.Zero, false
	}
	ltp := raw.Div(priceScale)
	if !ltp.IsPositive() {
		return decimal.Zero, false
	}
	return Money(ltp), true
}

type OrderStatus string

const (
	OrderStatusOpen           OrderStatus = "open"
	OrderStatusPending        OrderStatus = "pending"
	OrderStatusTriggerPending OrderStatus = "trigger pending"
	OrderStatusModified       OrderStatus = "modified"
	OrderStatusComplete       OrderStatus = "complete"
	OrderStatusCancelled      OrderStatus = "cancelled"
	OrderStatusRejected       OrderStatus = "rejected"
	OrderStatusUnknown        OrderStatus = "unknown"
)

// IsTerminal reports whether the order can no longer change.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusComplete || s == OrderStatusCancelled || s == OrderStatusRejected
}

// venueStatusCodes maps SmartAPI order-update codes onto domain statuses.
// AB00 is the connection acknowledgement and carries no order.
var venueStatusCodes = map[string]OrderStatus{
	"AB01": OrderStatusOpen,
	"AB02": OrderStatusCancelled,
	"AB03": OrderStatusRejected,
	"AB04": OrderStatusModified,
	"AB05": OrderStatusComplete,
	"AB06": OrderStatusPending,
	"AB07": OrderStatusCancelled,
	"AB08": OrderStatusModified,
	"AB09": OrderStatusPending,
	"AB10": OrderStatusTriggerPending,
	"AB11": OrderStatusPending,
}

// NormalizeOrderStatus resolves the domain status from the venue code, falling back to
// the textual status carried in the order payload.
func NormalizeOrderStatus(venueCode, text string) OrderStatus {
	if s, ok := venueStatusCodes[strings.ToUpper(strings.TrimSpace(venueCode))]; ok {
		return s
	}
	t := strings.ToLower(strings.TrimSpace(text))
	switch {
	case t == "complete":
		return OrderStatusComplete
	case t == "cancelled" || t == "canceled":
		return OrderStatusCancelled
	case t == "rejected":
		return OrderStatusRejected
	case t == "open":
		return OrderStatusOpen
	case t == "modified":
		return OrderStatusModified
	case t == "trigger pending":
		return OrderStatusTriggerPending
	case strings.Contains(t, "pending"):
		return OrderStatusPending
	default:
		return OrderStatusUnknown
	}
}

// OrderEvent is a validated order-status update from the order channel.
type OrderEvent struct {
	OrderID         string          `json:"orderid"`
	SymbolToken     string          `json:"symboltoken"`
	TradingSymbol   string          `json:"tradingsymbol"`
	Exchange        string          `json:"exchange"`
	TransactionType string          `json:"transactiontype"`
	VenueStatusCode string          `json:"order_status_code"`
	Status          OrderStatus     `json:"status"`
	StatusText      string          `json:"orderstatus"`
	Quantity        int64           `json:"quantity"`
	AveragePrice    decimal.Decimal `json:"averageprice"`
	Timestamp       time.Time       `json:"timestamp"`
}

// ConnState is the lifecycle state of one feed channel.
type ConnState int

const (
	ConnDisconnected ConnState = iota
	ConnConnecting
	ConnConnected
	ConnDegraded
)

func (s ConnState) String() string {
	switch s {
	case ConnDisconnected:
		return "disconnected"
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

func (s ConnState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// FeedStatus is the connectivity snapshot pushed to consumers.
type FeedStatus struct {
	IsFeedConnected bool      `json:"isFeedConnected"`
	IsSessionActive bool      `json:"isSessionActive"`
	Market          ConnState `json:"market"`
	Order           ConnState `json:"order"`
}
