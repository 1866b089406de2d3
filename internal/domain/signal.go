package domain

import "time"

// SignalType indicates the direction of a trading signal.
type SignalType string

const (
	SignalBuy  SignalType = "BUY"
	SignalSell SignalType = "SELL"
)

// Valid reports whether the signal type is one the pipeline accepts.
// Anything else (including "SHORT") is rejected by the rule validator.
func (t SignalType) Valid() bool {
	return t == SignalBuy || t == SignalSell
}

// Metadata keys a strategy may set to flag behavior the rule validator
// or sizer must account for.
const (
	MetaRequiresShorting = "requires_shorting"
	MetaIsDayTrade       = "is_day_trade"
	MetaGapSize          = "gap_size"
)

// TradingSignal is emitted by a strategy to request order execution.
// A signal is immutable once generated; the only mutation the pipeline
// performs is annotating PositionInfo and TargetAccount after sizing.
type TradingSignal struct {
	Symbol     string         `json:"symbol"`
	Type       SignalType     `json:"type"`
	Price      float64        `json:"price"`      // positive limit price from the strategy
	Confidence float64        `json:"confidence"` // 0..1
	Strategy   string         `json:"strategy"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"` // strategy-specific context, e.g. gap size

	// Annotated by the pipeline once sized; zero until then.
	PositionInfo  *PositionSize `json:"-"`
	TargetAccount string        `json:"-"`
}

// MetaBool reads a boolean metadata flag, treating missing or
// non-boolean values as false.
func (s TradingSignal) MetaBool(key string) bool {
	if s.Metadata == nil {
		return false
	}
	v, ok := s.Metadata[key].(bool)
	return ok && v
}

// MetaFloat reads a numeric metadata value, returning 0 when absent.
func (s TradingSignal) MetaFloat(key string) float64 {
	if s.Metadata == nil {
		return 0
	}
	switch v := s.Metadata[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}
