package webull

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/mwhitfield/tradepilot/internal/broker"
	"github.com/mwhitfield/tradepilot/internal/domain"
)

// flexFloat decodes broker numeric fields that arrive as either a JSON
// number or a quoted string ("123.45").
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// apiAccountRef is one entry in the account discovery list.
type apiAccountRef struct {
	SecAccountID json.Number `json:"secAccountId"`
	BrokerName   string      `json:"brokerName"`
	AccountType  string      `json:"accountType"`
	Status       string      `json:"status"`
}

func (a apiAccountRef) toAccountRef() broker.AccountRef {
	return broker.AccountRef{
		AccountID: a.SecAccountID.String(),
		Type:      normalizeAccountType(a.AccountType),
		Status:    a.Status,
	}
}

func normalizeAccountType(s string) domain.AccountType {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CASH":
		return domain.AccountCash
	case "MARGIN", "MRGN":
		return domain.AccountMargin
	case "IRA", "TRADITIONAL IRA", "ROTH IRA":
		return domain.AccountIRA
	default:
		return domain.AccountType(strings.ToUpper(strings.TrimSpace(s)))
	}
}

// apiAccountDetail is the balance + positions payload for one account.
// Balances arrive as a list of typed entries; settled funds fall back
// to the plain cash balance when the broker omits them.
type apiAccountDetail struct {
	AccountType   string `json:"accountType"`
	NetLiquidation flexFloat `json:"netLiquidation"`
	AccountMembers []struct {
		Key   string    `json:"key"`
		Value flexFloat `json:"value"`
	} `json:"accountMembers"`
	Positions []apiPosition `json:"positions"`
	PDT       bool          `json:"pdt"`
	// Remaining day trades; -1 means unlimited (margin above equity floor).
	DayTradesRemaining *int `json:"remainTradeTimes"`
}

type apiPosition struct {
	Ticker struct {
		Symbol string `json:"symbol"`
	} `json:"ticker"`
	Position      flexFloat `json:"position"`
	CostPrice     flexFloat `json:"costPrice"`
	LastPrice     flexFloat `json:"lastPrice"`
	MarketValue   flexFloat `json:"marketValue"`
	UnrealizedPnL flexFloat `json:"unrealizedProfitLoss"`
}

func (d apiAccountDetail) toSnapshot(accountID string) domain.AccountSnapshot {
	snap := domain.AccountSnapshot{
		AccountID:      accountID,
		AccountType:    normalizeAccountType(d.AccountType),
		NetLiquidation: float64(d.NetLiquidation),
		PDTStatus:      d.PDT,
	}

	var cashBalance float64
	settledSeen := false
	for _, m := range d.AccountMembers {
		switch m.Key {
		case "settledFunds":
			snap.SettledFunds = float64(m.Value)
			settledSeen = true
		case "cashBalance":
			cashBalance = float64(m.Value)
		case "netLiquidationValue":
			if snap.NetLiquidation == 0 {
				snap.NetLiquidation = float64(m.Value)
			}
		}
	}
	if !settledSeen {
		snap.SettledFunds = cashBalance
	}

	if d.DayTradesRemaining != nil {
		snap.DayTradesRemaining = *d.DayTradesRemaining
	} else {
		snap.DayTradesRemaining = domain.DayTradesUnlimited
	}

	snap.Positions = make([]domain.Position, 0, len(d.Positions))
	for _, p := range d.Positions {
		snap.Positions = append(snap.Positions, domain.Position{
			Symbol:        p.Ticker.Symbol,
			Quantity:      float64(p.Position),
			CostPrice:     float64(p.CostPrice),
			CurrentPrice:  float64(p.LastPrice),
			MarketValue:   float64(p.MarketValue),
			UnrealizedPnL: float64(p.UnrealizedPnL),
		})
	}
	return snap
}

// apiOrder is one row of the order history endpoint.
type apiOrder struct {
	Ticker struct {
		Symbol string `json:"symbol"`
	} `json:"ticker"`
	Action        string    `json:"action"`
	Status        string    `json:"status"`
	FilledQty     flexFloat `json:"filledQuantity"`
	TotalQty      flexFloat `json:"totalQuantity"`
	AvgFilledPrice flexFloat `json:"avgFilledPrice"`
	// Epoch milliseconds.
	CreateTime int64 `json:"createTime0"`
	FilledTime int64 `json:"filledTime0"`
	// Human-readable fallbacks, format varies by API version.
	CreateTimeStr string `json:"createTime"`
	FilledTimeStr string `json:"filledTime"`
}

func (o apiOrder) toOrder() broker.Order {
	qty := float64(o.FilledQty)
	if qty == 0 {
		qty = float64(o.TotalQty)
	}
	return broker.Order{
		Symbol:   o.Ticker.Symbol,
		Action:   normalizeAction(o.Action),
		Status:   o.Status,
		Quantity: qty,
		AvgPrice: float64(o.AvgFilledPrice),
		PlacedAt: parseBrokerTime(o.CreateTime, o.CreateTimeStr),
		FilledAt: parseBrokerTime(o.FilledTime, o.FilledTimeStr),
	}
}

// apiActivity is one row of the account activities endpoint.
type apiActivity struct {
	Type     string    `json:"type"`
	Symbol   string    `json:"symbol"`
	Action   string    `json:"action"`
	Quantity flexFloat `json:"quantity"`
	Price    flexFloat `json:"price"`
	Date     string    `json:"date"`
	Time     int64     `json:"time0"`
}

func (a apiActivity) toActivity() broker.Activity {
	return broker.Activity{
		Type:     strings.ToLower(a.Type),
		Symbol:   a.Symbol,
		Action:   normalizeAction(a.Action),
		Quantity: float64(a.Quantity),
		Price:    float64(a.Price),
		Date:     parseBrokerTime(a.Time, a.Date),
	}
}

func normalizeAction(s string) domain.SignalType {
	if strings.EqualFold(strings.TrimSpace(s), "SELL") {
		return domain.SignalSell
	}
	return domain.SignalBuy
}

// brokerTimeLayouts lists every timestamp format observed across broker
// API versions, tried in order.
var brokerTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.000-0700",
	time.RFC3339,
	"01/02/2006 15:04:05 EST",
	"2006-01-02",
}

// parseBrokerTime prefers the epoch-milliseconds field and falls back
// to parsing the string form. Zero time when neither is usable.
func parseBrokerTime(millis int64, s string) time.Time {
	if millis > 0 {
		return time.UnixMilli(millis)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range brokerTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t
		}
	}
	return time.Time{}
}

// parseOrderResponse folds the broker's several success shapes into one
// OrderResult. Observed shapes:
//
//	{"success": true, "orderId": 123}
//	{"data": {"orderId": 123}}
//	{"orderId": 123}
//
// Anything else is a failure; msg/message carries the reason.
func parseOrderResponse(body []byte) domain.OrderResult {
	var resp struct {
		Success *bool       `json:"success"`
		OrderID json.Number `json:"orderId"`
		Data    *struct {
			OrderID json.Number `json:"orderId"`
		} `json:"data"`
		Msg     string `json:"msg"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderResult{ErrorMessage: "unparseable order response: " + truncate(body, 128)}
	}

	orderID := resp.OrderID.String()
	if orderID == "" && resp.Data != nil {
		orderID = resp.Data.OrderID.String()
	}

	switch {
	case resp.Success != nil && *resp.Success:
		return domain.OrderResult{Success: true, OrderID: orderID}
	case resp.Success != nil && !*resp.Success:
		return domain.OrderResult{ErrorMessage: firstNonEmpty(resp.Msg, resp.Message, "order rejected")}
	case orderID != "":
		return domain.OrderResult{Success: true, OrderID: orderID}
	default:
		return domain.OrderResult{ErrorMessage: firstNonEmpty(resp.Msg, resp.Message, "order response missing orderId")}
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
