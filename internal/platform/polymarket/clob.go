package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dbontempi/arbot/internal/crypto"
	"github.com/dbontempi/arbot/internal/domain"
)

const zeroAddress = "0x0000000000000000000000000000000000000000"

// ClobClient is the REST client for the Polymarket CLOB (Central Limit
// Order Book) API. It submits signed orders, polls their status, and reads
// the wallet's collateral balance.
type ClobClient struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer
	hmacAuth   *crypto.HMACAuth
}

// NewClobClient creates a new CLOB REST client.
//
// baseURL is the CLOB API root, e.g. "https://clob.polymarket.com".
// signer is the EIP-712 signer for order signatures and auth messages.
// hmac is the HMAC authenticator for API requests; pass nil and call
// DeriveAPIKey to obtain one from the signer.
func NewClobClient(baseURL string, signer *crypto.Signer, hmac *crypto.HMACAuth) *ClobClient {
	return &ClobClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		signer:   signer,
		hmacAuth: hmac,
	}
}

// SubmitOrder signs and posts a marketable limit buy for the leg's outcome
// token. shares is the whole number of outcome tokens to buy at leg.Price.
// The returned order reflects the venue's immediate acknowledgement; an
// order reported as matched is already filled, anything else must be polled
// via OrderStatus.
func (c *ClobClient) SubmitOrder(ctx context.Context, leg domain.Leg, shares int64) (domain.GatewayOrder, error) {
	if shares <= 0 {
		return domain.GatewayOrder{}, fmt.Errorf("polymarket/clob: %w: shares=%d", domain.ErrInvalidOrder, shares)
	}
	if leg.Price <= 0 || leg.Price >= 1 {
		return domain.GatewayOrder{}, fmt.Errorf("polymarket/clob: %w: price=%.4f", domain.ErrInvalidOrder, leg.Price)
	}
	if leg.TokenID == "" {
		return domain.GatewayOrder{}, fmt.Errorf("polymarket/clob: %w: missing token id for %s", domain.ErrInvalidOrder, leg.MarketID)
	}

	address := c.signer.Address().Hex()

	// Amounts are expressed in base units (6 decimals). For a buy the maker
	// amount is the USDC offered and the taker amount is the outcome tokens
	// received.
	makerAmount := big.NewInt(int64(math.Round(leg.Price * float64(shares) * 1e6)))
	takerAmount := new(big.Int).Mul(big.NewInt(shares), big.NewInt(1_000_000))

	payload := crypto.OrderPayload{
		Salt:          strconv.FormatInt(time.Now().UnixNano(), 10),
		Maker:         address,
		Signer:        address,
		Taker:         zeroAddress,
		TokenID:       leg.TokenID,
		MakerAmount:   makerAmount.String(),
		TakerAmount:   takerAmount.String(),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          0, // BUY
		SignatureType: 0, // EOA
	}

	signature, err := c.signer.SignOrder(payload)
	if err != nil {
		return domain.GatewayOrder{}, fmt.Errorf("polymarket/clob: %w: %w", domain.ErrSigningFailed, err)
	}

	body := map[string]any{
		"order": map[string]any{
			"salt":          payload.Salt,
			"maker":         payload.Maker,
			"signer":        payload.Signer,
			"taker":         payload.Taker,
			"tokenID":       payload.TokenID,
			"makerAmount":   payload.MakerAmount,
			"takerAmount":   payload.TakerAmount,
			"expiration":    payload.Expiration,
			"nonce":         payload.Nonce,
			"feeRateBps":    payload.FeeRateBps,
			"side":          "BUY",
			"signatureType": payload.SignatureType,
			"signature":     signature,
		},
		"owner":     address,
		"orderType": "GTC",
	}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodPost, "/order", body)
	if err != nil {
		return domain.GatewayOrder{}, fmt.Errorf("polymarket/clob: submit order: %w", err)
	}

	var apiResult APIOrderResult
	if err := json.Unmarshal(respBody, &apiResult); err != nil {
		return domain.GatewayOrder{}, fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}
	if !apiResult.Success {
		return domain.GatewayOrder{}, fmt.Errorf("polymarket/clob: order rejected: %s", apiResult.ErrorMsg)
	}

	ack := domain.GatewayOrder{
		OrderID: apiResult.OrderID,
		State:   domain.GatewayOpen,
	}
	if apiResult.Status == "matched" {
		ack.State = domain.GatewayFilled
		ack.FilledShares = float64(shares)
		ack.FilledPrice = leg.Price
	}

	return ack, nil
}

// OrderStatus returns the venue's current view of an order.
func (c *ClobClient) OrderStatus(ctx context.Context, orderID string) (domain.GatewayOrder, error) {
	path := fmt.Sprintf("/order/%s", url.PathEscape(orderID))

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return domain.GatewayOrder{}, fmt.Errorf("polymarket/clob: order status %s: %w", orderID, err)
	}

	var apiOrder APIOpenOrder
	if err := json.Unmarshal(respBody, &apiOrder); err != nil {
		return domain.GatewayOrder{}, fmt.Errorf("polymarket/clob: decode order: %w", err)
	}

	return apiOrder.ToGatewayOrder(), nil
}

// PortfolioValue returns the wallet's USDC collateral balance in dollars.
func (c *ClobClient) PortfolioValue(ctx context.Context) (float64, error) {
	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodGet, "/balance-allowance?asset_type=COLLATERAL", nil)
	if err != nil {
		return 0, fmt.Errorf("polymarket/clob: get balance: %w", err)
	}

	var result struct {
		Balance string `json:"balance"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return 0, fmt.Errorf("polymarket/clob: decode balance: %w", err)
	}

	balance, err := strconv.ParseFloat(result.Balance, 64)
	if err != nil {
		return 0, fmt.Errorf("polymarket/clob: parse balance %q: %w", result.Balance, err)
	}

	// Balance is reported in USDC base units (6 decimals).
	return balance / 1e6, nil
}

// CancelAll cancels all open orders for the authenticated wallet.
func (c *ClobClient) CancelAll(ctx context.Context) error {
	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodDelete, "/cancel-all", nil)
	if err != nil {
		return fmt.Errorf("polymarket/clob: cancel all: %w", err)
	}

	var result struct {
		Success  bool   `json:"success"`
		ErrorMsg string `json:"errorMsg"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("polymarket/clob: decode cancel-all response: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("polymarket/clob: cancel-all failed: %s", result.ErrorMsg)
	}

	return nil
}

// DeriveAPIKey performs the CLOB auth flow to obtain an HMAC API key. It
// signs a ClobAuth EIP-712 message and sends it with L1 headers to the
// derive-api-key endpoint. Per Polymarket docs, L1 requires POLY_ADDRESS,
// POLY_SIGNATURE, POLY_TIMESTAMP, POLY_NONCE. On success it populates the
// client's hmacAuth field.
func (c *ClobClient) DeriveAPIKey(ctx context.Context) error {
	address := c.signer.Address().Hex()
	timestamp := time.Now().Unix()
	nonce := int64(0)

	sig, err := c.signer.SignAuthMessage(address, timestamp, nonce)
	if err != nil {
		return fmt.Errorf("polymarket/clob: sign auth message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/derive-api-key", nil)
	if err != nil {
		return fmt.Errorf("polymarket/clob: create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", address)
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", fmt.Sprintf("%d", timestamp))
	req.Header.Set("POLY_NONCE", fmt.Sprintf("%d", nonce))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("polymarket/clob: auth request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("polymarket/clob: read auth response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("polymarket/clob: auth failed (HTTP %d): %s", resp.StatusCode, string(respBody))
	}

	var authResp struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal(respBody, &authResp); err != nil {
		return fmt.Errorf("polymarket/clob: decode auth response: %w", err)
	}

	c.hmacAuth = &crypto.HMACAuth{
		Key:        authResp.APIKey,
		Secret:     authResp.Secret,
		Passphrase: authResp.Passphrase,
	}

	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doAuthenticatedRequest builds, signs (HMAC), sends, and reads an HTTP
// request against the CLOB API. It returns the raw response body.
func (c *ClobClient) doAuthenticatedRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
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

	// Apply HMAC authentication headers.
	if c.hmacAuth != nil {
		address := c.signer.Address().Hex()
		headers := c.hmacAuth.L2Headers(address, method, path, bodyStr)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
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
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
