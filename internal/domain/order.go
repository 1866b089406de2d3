package domain

// OrderType is the broker order type used for submissions.
type OrderType string

const (
	OrderLimit  OrderType = "LMT"
	OrderMarket OrderType = "MKT"
)

// TimeInForce controls how long a submitted order stays working.
type TimeInForce string

const (
	TIFDay TimeInForce = "DAY"
	TIFGTC TimeInForce = "GTC"
)

// OrderRequest is one order submission to the broker. Quantity is a
// share count for whole-share orders and a dollar amount for fractional
// orders (Fractional set).
type OrderRequest struct {
	Symbol        string
	Price         float64
	Action        SignalType
	OrderType     OrderType
	TimeInForce   TimeInForce
	Quantity      float64
	Fractional    bool
	ExtendedHours bool
}

// OrderResult is the broker's parsed response to a submission. The
// broker client folds the several raw success shapes into this one
// struct; ErrorMessage carries the broker's message on failure.
type OrderResult struct {
	Success      bool
	OrderID      string
	ErrorMessage string
}

// ExecutionResult is the executor's terminal outcome for one signal.
// Execution errors never escape the executor boundary; they are
// converted into Executed=false plus a reason here.
type ExecutionResult struct {
	Executed bool
	Reason   string
	Attempts int
	Record   *TradeRecord
}
