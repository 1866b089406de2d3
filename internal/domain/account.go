package domain

// AccountType categorizes a brokerage account.
type AccountType string

const (
	AccountCash   AccountType = "CASH"
	AccountMargin AccountType = "MARGIN"
	AccountIRA    AccountType = "IRA"
)

// DayTradesUnlimited is the sentinel for accounts without a day-trade
// counter (cash accounts trading settled funds).
const DayTradesUnlimited = -1

// Position is a single holding inside an account snapshot.
type Position struct {
	Symbol        string
	Quantity      float64
	CostPrice     float64
	CurrentPrice  float64
	MarketValue   float64
	UnrealizedPnL float64
}

// AccountSnapshot is the point-in-time state of one brokerage account.
// Snapshots are replaced wholesale after every successful trade and at
// the start of each run, never patched incrementally. Note that the
// broker does not guarantee SettledFunds <= NetLiquidation.
type AccountSnapshot struct {
	AccountID         string
	AccountType       AccountType
	NetLiquidation    float64 // total equity
	SettledFunds      float64 // spendable cash
	Positions         []Position
	DayTradesRemaining int // DayTradesUnlimited when not tracked
	PDTStatus         bool
}

// Holds reports whether the account currently has a position in symbol.
func (a AccountSnapshot) Holds(symbol string) bool {
	return a.FindPosition(symbol) != nil
}

// FindPosition returns the position for symbol, or nil when the account
// does not hold it.
func (a AccountSnapshot) FindPosition(symbol string) *Position {
	for i := range a.Positions {
		if a.Positions[i].Symbol == symbol {
			return &a.Positions[i]
		}
	}
	return nil
}
