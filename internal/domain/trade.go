package domain

import "time"

// TradeDateLayout is the calendar-day key used by the trade log and the
// day-trade checks.
const TradeDateLayout = "2006-01-02"

// TradeRecord is one executed trade, appended to the trade log and
// synced to the history store. Records are append-only and pruned after
// the retention window.
type TradeRecord struct {
	ID          string      `json:"id"`
	Timestamp   time.Time   `json:"timestamp"`
	Date        string      `json:"date"` // TradeDateLayout, local time
	AccountID   string      `json:"account_id"`
	AccountType AccountType `json:"account_type"`
	Symbol      string      `json:"symbol"`
	Action      SignalType  `json:"action"`
	Quantity    float64     `json:"quantity"` // shares, or dollars for fractional orders
	Price       float64     `json:"price"`
	OrderID     string      `json:"order_id"`
	Strategy    string      `json:"strategy"`
	Fractional  bool        `json:"fractional"`
}

// TradeSource identifies which channel reported a normalized trade.
type TradeSource string

const (
	SourceOrderHistory TradeSource = "order_history"
	SourceActivity     TradeSource = "activity"
	SourceLocal        TradeSource = "local_log"
)

// NormalizedTrade is a broker-reported fill reduced to the fields the
// day-trade reconciler needs. Order-history entries and account
// activities are both normalized into this shape.
type NormalizedTrade struct {
	Symbol    string      `json:"symbol"`
	Action    SignalType  `json:"action"`
	Quantity  float64     `json:"quantity"`
	Price     float64     `json:"price"`
	Timestamp time.Time   `json:"timestamp"`
	OrderID   string      `json:"order_id,omitempty"`
	Source    TradeSource `json:"source"`
}

// SameFill reports whether two normalized trades describe the same fill
// reported through different broker channels: same symbol and action,
// quantity within 0.001 and price within 0.01.
func (t NormalizedTrade) SameFill(other NormalizedTrade) bool {
	if t.Symbol != other.Symbol || t.Action != other.Action {
		return false
	}
	return abs(t.Quantity-other.Quantity) < 0.001 && abs(t.Price-other.Price) < 0.01
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
