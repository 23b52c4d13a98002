package valr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/netzerhq/settler/internal/domain"
)

// DefaultBaseURL is the production VALR API root.
const DefaultBaseURL = "https://api.valr.com"

// fillPollInterval and fillPollAttempts bound how long PlaceMarketBuy waits
// for a market order to report as filled.
const (
	fillPollInterval = 500 * time.Millisecond
	fillPollAttempts = 20
)

// Client is the REST client for the VALR exchange API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       *Auth
}

// NewClient creates a VALR REST client. baseURL falls back to the production
// endpoint when empty.
func NewClient(baseURL string, auth *Auth) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		auth: auth,
	}
}

// PlaceMarketBuy submits a market buy spending quoteAmount of the fiat leg,
// then polls the order status until the venue reports the fill. Market
// orders execute immediately or not at all, so the poll loop is short.
func (c *Client) PlaceMarketBuy(ctx context.Context, pair string, quoteAmount decimal.Decimal) (domain.OrderResult, error) {
	reqBody := apiOrderRequest{
		Pair:            pair,
		Side:            "BUY",
		QuoteAmount:     quoteAmount.String(),
		CustomerOrderID: uuid.NewString(),
	}

	respBody, err := c.do(ctx, http.MethodPost, "/v1/orders/market", reqBody)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("valr: place market buy: %w", err)
	}

	var placed apiOrderResponse
	if err := json.Unmarshal(respBody, &placed); err != nil {
		return domain.OrderResult{}, fmt.Errorf("valr: decode order response: %w", err)
	}

	summary, err := c.waitForFill(ctx, pair, placed.ID)
	if err != nil {
		return domain.OrderResult{}, err
	}

	result, err := summary.toOrderResult()
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("valr: order %s: %w", placed.ID, err)
	}
	return result, nil
}

// waitForFill polls the order status endpoint until the order reaches a
// terminal state.
func (c *Client) waitForFill(ctx context.Context, pair, orderID string) (apiOrderSummary, error) {
	path := fmt.Sprintf("/v1/orders/%s/orderid/%s", pair, orderID)

	for attempt := 0; attempt < fillPollAttempts; attempt++ {
		respBody, err := c.do(ctx, http.MethodGet, path, nil)
		if err != nil {
			return apiOrderSummary{}, fmt.Errorf("valr: poll order %s: %w", orderID, err)
		}

		var summary apiOrderSummary
		if err := json.Unmarshal(respBody, &summary); err != nil {
			return apiOrderSummary{}, fmt.Errorf("valr: decode order summary: %w", err)
		}

		switch summary.OrderStatusType {
		case "Filled":
			return summary, nil
		case "Failed", "Cancelled":
			return apiOrderSummary{}, fmt.Errorf("valr: order %s %s: %w",
				orderID, summary.OrderStatusType, domain.ErrUpstream)
		}

		timer := time.NewTimer(fillPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return apiOrderSummary{}, fmt.Errorf("valr: poll order %s: %w", orderID, ctx.Err())
		case <-timer.C:
		}
	}

	return apiOrderSummary{}, fmt.Errorf("valr: order %s did not fill in time: %w", orderID, domain.ErrUpstream)
}

// InitiateWithdrawal asks the venue to send amount of asset to the custodial
// wallet address and returns the venue withdrawal id.
func (c *Client) InitiateWithdrawal(ctx context.Context, req domain.WithdrawalRequest) (string, error) {
	path := fmt.Sprintf("/v1/wallet/crypto/%s/withdraw", req.Asset)

	respBody, err := c.do(ctx, http.MethodPost, path, apiWithdrawRequest{
		Amount:  req.Amount.String(),
		Address: req.Address,
	})
	if err != nil {
		return "", fmt.Errorf("valr: initiate withdrawal: %w", err)
	}

	var resp apiWithdrawResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("valr: decode withdrawal response: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("valr: withdrawal response missing id: %w", domain.ErrUpstream)
	}
	return resp.ID, nil
}

// Balances returns the account balances for all assets.
func (c *Client) Balances(ctx context.Context) ([]domain.AssetBalance, error) {
	respBody, err := c.do(ctx, http.MethodGet, "/v1/account/balances", nil)
	if err != nil {
		return nil, fmt.Errorf("valr: get balances: %w", err)
	}

	var apiBalances []apiBalance
	if err := json.Unmarshal(respBody, &apiBalances); err != nil {
		return nil, fmt.Errorf("valr: decode balances: %w", err)
	}

	balances := make([]domain.AssetBalance, 0, len(apiBalances))
	for _, b := range apiBalances {
		bal, err := b.toAssetBalance()
		if err != nil {
			return nil, fmt.Errorf("valr: balance %s: %w", b.Currency, err)
		}
		balances = append(balances, bal)
	}
	return balances, nil
}

// do builds, signs, sends and reads an HTTP request against the VALR API.
// It returns the raw response body.
func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	for k, v := range c.auth.Headers(method, path, bodyStr) {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
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

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("HTTP %d: %s: %w", statusCode, string(body), domain.ErrRateLimited)
	default:
		return fmt.Errorf("HTTP %d: %s: %w", statusCode, string(body), domain.ErrUpstream)
	}
}

// Compile-time interface checks.
var (
	_ domain.OrderExecutor       = (*Client)(nil)
	_ domain.WithdrawalInitiator = (*Client)(nil)
	_ domain.BalanceReader       = (*Client)(nil)
)
