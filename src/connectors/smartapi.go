// REST CLIENT FOR ANGEL ONE SMARTAPI
// LOGIN (TOTP) + ORDER PLACEMENT
package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pquerna/otp/totp"
	logger "github.com/sirupsen/logrus"

	"traderobot/src/apperr"
	"traderobot/src/model"
	"traderobot/src/session"
)

// -----------------------------
// CONFIG
// -----------------------------
const (
	defaultRetryAttempts   = 3
	defaultRetryBaseDelay  = 500 * time.Millisecond
	defaultRetryMaxBackoff = 4 * time.Second

	loginPath      = "/rest/auth/angelbroking/user/v1/loginByPassword"
	placeOrderPath = "/rest/secure/angelbroking/order/v1/placeOrder"
)

// -----------------------------
// API RESPONSE WRAPPER
// -----------------------------
type APIResponse struct {
	Status    bool            `json:"status"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"errorcode"`
	Data      json.RawMessage `json:"data"`
}

type loginData struct {
	JWTToken     string `json:"jwtToken"`
	RefreshToken string `json:"refreshToken"`
	FeedToken    string `json:"feedToken"`
}

type orderData struct {
	Script        string `json:"script"`
	OrderID       string `json:"orderid"`
	UniqueOrderID string `json:"uniqueorderid"`
}

// TokenSource hands out the current session tokens for authenticated calls.
type TokenSource interface {
	Tokens() session.Tokens
}

// -----------------------------
// A) CLIENT
// -----------------------------
type SmartAPIClient struct {
	apiKey     string
	clientCode string
	pin        string
	totpSecret string
	baseURL    string

	// http retries transient failures; orders never retries so a timed out
	// placement cannot be submitted twice.
	http   *resty.Client
	orders *resty.Client

	tokens TokenSource
	now    func() time.Time

	onSessionExpired func()
}

func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}

	if r == nil {
		return false
	}

	code := r.StatusCode()

	if code >= 500 && code <= 599 {
		return true
	}
	if code == 429 {
		return true
	}
	if code == 408 {
		return true
	}
	return false
}

func NewSmartAPIClient(cfg Config, tokens TokenSource) *SmartAPIClient {
	baseURL := cfg.AngelOneBaseURL
	if baseURL == "" {
		baseURL = "https://apiconnect.angelone.in"
		logger.Warnf("No base URL provided, using default: %s", baseURL)
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(defaultRetryAttempts - 1).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableResp)

	orderClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout)

	return &SmartAPIClient{
		apiKey:     cfg.AngelOneAPIKey,
		clientCode: cfg.AngelOneUsername,
		pin:        cfg.AngelOnePin,
		totpSecret: cfg.AngelOneTOTPSecret,
		baseURL:    baseURL,
		http:       httpClient,
		orders:     orderClient,
		tokens:     tokens,
		now:        time.Now,
	}
}

// SetTokenSource attaches the holder used for authenticated calls.
func (c *SmartAPIClient) SetTokenSource(tokens TokenSource) {
	c.tokens = tokens
}

// OnSessionExpired registers fn to run when an authenticated call is rejected
// with a session error code. fn must not block.
func (c *SmartAPIClient) OnSessionExpired(fn func()) {
	c.onSessionExpired = fn
}

func (c *SmartAPIClient) headers(req *resty.Request) *resty.Request {
	return req.
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("X-UserType", "USER").
		SetHeader("X-SourceID", "WEB").
		SetHeader("X-ClientLocalIP", "127.0.0.1").
		SetHeader("X-ClientPublicIP", "127.0.0.1").
		SetHeader("X-MACAddress", "00:00:00:00:00:00").
		SetHeader("X-PrivateKey", c.apiKey)
}

func decodeResponse(resp *resty.Response) (*APIResponse, error) {
	raw := resp.Body()
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode(), string(raw))
	}

	var apiResp APIResponse
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return nil, err
	}
	if !apiResp.Status {
		return &apiResp, fmt.Errorf("API error %s (%s): %s", apiResp.ErrorCode, GetErrorMsg(apiResp.ErrorCode), apiResp.Message)
	}
	return &apiResp, nil
}

// -----------------------------
// B) AUTH
// -----------------------------

// Login exchanges client code, PIN and a fresh TOTP for the session token pair.
func (c *SmartAPIClient) Login(ctx context.Context) (session.Tokens, error) {
	if c.apiKey == "" || c.clientCode == "" || c.pin == "" || c.totpSecret == "" {
		return session.Tokens{}, fmt.Errorf("angel one credentials not configured: %w", apperr.ErrConfiguration)
	}

	code, err := totpCode(c.totpSecret, c.now())
	if err != nil {
		return session.Tokens{}, fmt.Errorf("%w: %v", apperr.ErrConfiguration, err)
	}

	resp, err := c.headers(c.http.R().SetContext(ctx)).
		SetBody(map[string]string{
			"clientcode": c.clientCode,
			"password":   c.pin,
			"totp":       code,
		}).
		Post(loginPath)
	if err != nil {
		return session.Tokens{}, fmt.Errorf("%w: %v", apperr.ErrAuthenticationFailed, err)
	}

	apiResp, err := decodeResponse(resp)
	if err != nil {
		return session.Tokens{}, fmt.Errorf("%w: %v", apperr.ErrAuthenticationFailed, err)
	}

	var data loginData
	if err := json.Unmarshal(apiResp.Data, &data); err != nil {
		return session.Tokens{}, fmt.Errorf("%w: decode login data: %v", apperr.ErrAuthenticationFailed, err)
	}

	logger.WithField("client_code", c.clientCode).Info("angel one login succeeded")
	return session.Tokens{
		SessionToken: data.JWTToken,
		StreamToken:  data.FeedToken,
		RefreshToken: data.RefreshToken,
	}, nil
}

// totpCode returns the 6 digit, 30s step SHA1 code the venue expects for a base32 secret.
func totpCode(secret string, at time.Time) (string, error) {
	code, err := totp.GenerateCode(strings.ReplaceAll(secret, " ", ""), at)
	if err != nil {
		return "", fmt.Errorf("invalid totp secret: %w", err)
	}
	return code, nil
}

// -----------------------------
// C) TRADING
// -----------------------------

// PlaceMarketOrder submits a MARKET order and returns the broker order id.
func (c *SmartAPIClient) PlaceMarketOrder(ctx context.Context, order model.MarketOrder) (string, error) {
	if c.tokens == nil || c.tokens.Tokens().SessionToken == "" {
		return "", fmt.Errorf("%w: no active session", apperr.ErrOrderSubmission)
	}
	if order.SymbolToken == "" || order.TradingSymbol == "" || order.Quantity <= 0 {
		return "", fmt.Errorf("%w: incomplete order for token %q", apperr.ErrInvalidRequest, order.SymbolToken)
	}

	body := map[string]string{
		"variety":         orDefault(order.Variety, model.DefaultVariety),
		"tradingsymbol":   order.TradingSymbol,
		"symboltoken":     order.SymbolToken,
		"transactiontype": strings.ToUpper(order.Side),
		"exchange":        orDefault(order.Exchange, model.DefaultExchange),
		"ordertype":       model.OrderTypeMarket,
		"producttype":     orDefault(order.ProductType, model.DefaultProductType),
		"duration":        orDefault(order.Duration, model.DefaultDuration),
		"quantity":        strconv.FormatInt(order.Quantity, 10),
	}

	resp, err := c.headers(c.orders.R().SetContext(ctx)).
		SetAuthToken(c.tokens.Tokens().SessionToken).
		SetBody(body).
		Post(placeOrderPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrOrderSubmission, err)
	}

	apiResp, err := decodeResponse(resp)
	if err != nil {
		if apiResp != nil && IsSessionError(apiResp.ErrorCode) && c.onSessionExpired != nil {
			c.onSessionExpired()
		}
		return "", fmt.Errorf("%w: %v", apperr.ErrOrderSubmission, err)
	}

	var data orderData
	if err := json.Unmarshal(apiResp.Data, &data); err != nil || data.OrderID == "" {
		return "", fmt.Errorf("%w: missing order id in response", apperr.ErrOrderSubmission)
	}

	logger.WithFields(map[string]interface{}{
		"token":    order.SymbolToken,
		"symbol":   order.TradingSymbol,
		"side":     body["transactiontype"],
		"quantity": order.Quantity,
		"order_id": data.OrderID,
	}).Info("market order placed")
	return data.OrderID, nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
