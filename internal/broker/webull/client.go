// Package webull implements broker.Client against the Webull REST API.
package webull

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/mwhitfield/tradepilot/internal/broker"
	"github.com/mwhitfield/tradepilot/internal/domain"
)

// Credentials holds the login material for a Webull session. TradingPIN
// is exchanged for a short-lived trade token before order submission.
type Credentials struct {
	Username   string
	Password   string
	TradingPIN string
	DeviceID   string
}

// Client is the Webull REST client. It is safe for concurrent use; the
// session token is guarded by mu.
type Client struct {
	baseURL    string
	tradeURL   string
	httpClient *http.Client
	creds      Credentials

	mu          sync.Mutex
	accessToken string
	tradeToken  string
	tokenExpiry time.Time
}

var _ broker.Client = (*Client)(nil)

// NewClient creates a Webull REST client. baseURL is the user API root
// and tradeURL the trade API root; timeout bounds every request.
func NewClient(baseURL, tradeURL string, creds Credentials, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:  baseURL,
		tradeURL: tradeURL,
		creds:    creds,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Ping verifies the session by fetching the account list. A 401/419
// from the broker surfaces as domain.ErrSessionExpired.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.doRequest(ctx, http.MethodGet, c.baseURL+"/account/getSecAccountList/v5", nil)
	if err != nil {
		return fmt.Errorf("webull: ping: %w", err)
	}
	return nil
}

// Reauthenticate performs a fresh login and trade-token exchange,
// replacing the current session.
func (c *Client) Reauthenticate(ctx context.Context) error {
	body := map[string]any{
		"account":     c.creds.Username,
		"pwd":         c.creds.Password,
		"deviceId":    c.creds.DeviceID,
		"accountType": 2,
		"regionId":    1,
	}
	respBody, err := c.doRequest(ctx, http.MethodPost, c.baseURL+"/passport/login/v5/account", body)
	if err != nil {
		return fmt.Errorf("webull: login: %w", err)
	}

	var login struct {
		AccessToken string `json:"accessToken"`
		TokenExpire string `json:"tokenExpireTime"`
	}
	if err := json.Unmarshal(respBody, &login); err != nil {
		return fmt.Errorf("webull: decode login response: %w", err)
	}
	if login.AccessToken == "" {
		return fmt.Errorf("webull: login: %w", domain.ErrUnauthorized)
	}

	c.mu.Lock()
	c.accessToken = login.AccessToken
	c.tokenExpiry = parseTokenExpiry(login.TokenExpire)
	c.mu.Unlock()

	return c.refreshTradeToken(ctx)
}

// refreshTradeToken exchanges the trading PIN for a trade token, which
// Webull requires on order endpoints.
func (c *Client) refreshTradeToken(ctx context.Context) error {
	body := map[string]any{"pwd": c.creds.TradingPIN}
	respBody, err := c.doRequest(ctx, http.MethodPost, c.tradeURL+"/login", body)
	if err != nil {
		return fmt.Errorf("webull: trade token: %w", err)
	}

	var resp struct {
		TradeToken string `json:"tradeToken"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return fmt.Errorf("webull: decode trade token response: %w", err)
	}
	if resp.TradeToken == "" {
		return fmt.Errorf("webull: trade token: %w", domain.ErrUnauthorized)
	}

	c.mu.Lock()
	c.tradeToken = resp.TradeToken
	c.mu.Unlock()
	return nil
}

// Accounts lists brokerage accounts visible to the session.
func (c *Client) Accounts(ctx context.Context) ([]broker.AccountRef, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, c.baseURL+"/account/getSecAccountList/v5", nil)
	if err != nil {
		return nil, fmt.Errorf("webull: list accounts: %w", err)
	}

	var resp struct {
		Data []apiAccountRef `json:"data"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("webull: decode account list: %w", err)
	}

	refs := make([]broker.AccountRef, 0, len(resp.Data))
	for i := range resp.Data {
		refs = append(refs, resp.Data[i].toAccountRef())
	}
	return refs, nil
}

// AccountSnapshot loads balances and open positions for one account.
func (c *Client) AccountSnapshot(ctx context.Context, accountID string) (domain.AccountSnapshot, error) {
	url := fmt.Sprintf("%s/v3/home/%s", c.tradeURL, accountID)
	respBody, err := c.doRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.AccountSnapshot{}, fmt.Errorf("webull: account snapshot %s: %w", accountID, err)
	}

	var detail apiAccountDetail
	if err := json.Unmarshal(respBody, &detail); err != nil {
		return domain.AccountSnapshot{}, fmt.Errorf("webull: decode account snapshot: %w", err)
	}

	return detail.toSnapshot(accountID), nil
}

// OrderHistory returns recent orders for one account, newest first.
func (c *Client) OrderHistory(ctx context.Context, accountID, status string, count int) ([]broker.Order, error) {
	if count <= 0 {
		count = 100
	}
	url := fmt.Sprintf("%s/v2/option/list?secAccountId=%s&startTime=1970-01-01&dateType=ORDER&pageSize=%d&status=%s",
		c.tradeURL, accountID, count, status)
	respBody, err := c.doRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("webull: order history %s: %w", accountID, err)
	}

	var raw []apiOrder
	if err := json.Unmarshal(respBody, &raw); err != nil {
		// Some deployments wrap the list in a data envelope.
		var wrapped struct {
			Data []apiOrder `json:"data"`
		}
		if err2 := json.Unmarshal(respBody, &wrapped); err2 != nil {
			return nil, fmt.Errorf("webull: decode order history: %w", err)
		}
		raw = wrapped.Data
	}

	orders := make([]broker.Order, 0, len(raw))
	for i := range raw {
		orders = append(orders, raw[i].toOrder())
	}
	return orders, nil
}

// Activities returns one page of account activity records.
func (c *Client) Activities(ctx context.Context, accountID string, pageIndex, pageSize int) ([]broker.Activity, error) {
	if pageSize <= 0 {
		pageSize = 50
	}
	url := fmt.Sprintf("%s/v2/funds/%s/activities?pageIndex=%d&pageSize=%d",
		c.tradeURL, accountID, pageIndex, pageSize)
	respBody, err := c.doRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("webull: activities %s: %w", accountID, err)
	}

	var resp struct {
		Items []apiActivity `json:"items"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("webull: decode activities: %w", err)
	}

	acts := make([]broker.Activity, 0, len(resp.Items))
	for i := range resp.Items {
		acts = append(acts, resp.Items[i].toActivity())
	}
	return acts, nil
}

// SubmitOrder places an order on the given account. The broker's
// several success shapes are folded into one OrderResult; a rejection
// is returned as a populated result, not an error.
func (c *Client) SubmitOrder(ctx context.Context, accountID string, req domain.OrderRequest) (domain.OrderResult, error) {
	payload := map[string]any{
		"action":                    string(req.Action),
		"tickerSymbol":              req.Symbol,
		"orderType":                 string(req.OrderType),
		"timeInForce":               string(req.TimeInForce),
		"outsideRegularTradingHour": req.ExtendedHours,
		"serialId":                  fmt.Sprintf("%d", time.Now().UnixNano()),
	}
	if req.OrderType == domain.OrderLimit {
		payload["lmtPrice"] = req.Price
	}
	if req.Fractional {
		// Fractional orders are denominated in dollars.
		payload["quantity"] = req.Quantity
		payload["assetType"] = "fractionalStock"
	} else {
		payload["quantity"] = int(req.Quantity)
	}

	url := fmt.Sprintf("%s/order/%s/placeStockOrder", c.tradeURL, accountID)
	respBody, err := c.doRequest(ctx, http.MethodPost, url, payload)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("webull: submit order %s %s: %w", req.Action, req.Symbol, err)
	}

	return parseOrderResponse(respBody), nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doRequest builds, sends, and reads an HTTP request with session
// headers. It returns the raw response body.
func (c *Client) doRequest(ctx context.Context, method, url string, body any) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("did", c.creds.DeviceID)

	c.mu.Lock()
	if c.accessToken != "" {
		req.Header.Set("access_token", c.accessToken)
	}
	if c.tradeToken != "" {
		req.Header.Set("t_token", c.tradeToken)
	}
	c.mu.Unlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkHTTPStatus maps broker HTTP status codes onto domain sentinels.
func checkHTTPStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == 419:
		return domain.ErrSessionExpired
	case status == http.StatusForbidden:
		return domain.ErrUnauthorized
	case status == http.StatusTooManyRequests:
		return domain.ErrRateLimited
	default:
		return fmt.Errorf("HTTP %d: %s", status, truncate(body, 256))
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

func parseTokenExpiry(s string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05.000+0000"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	// Unknown format: assume a day, re-auth sorts it out.
	return time.Now().Add(24 * time.Hour)
}
