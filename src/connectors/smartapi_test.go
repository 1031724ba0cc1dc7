package connectors

// Test index:
//  1. TestIsRetryableResp verifies retry decisions for various response codes and errors.
//  2. TestTOTPCode checks the RFC 6238 reference vectors.
//  3. TestLogin posts credentials with a fresh TOTP and decodes the token pair.
//  4. TestLoginRejected maps an API failure onto ErrAuthenticationFailed.
//  5. TestLoginMissingCredentials fails before any request is sent.
//  6. TestPlaceMarketOrder sends an authenticated MARKET order and returns the order id.
//  7. TestPlaceMarketOrderNoRetry ensures a 5xx on placement is not resubmitted.
//  8. TestPlaceMarketOrderNoSession refuses to submit without a session token.
//  9. TestPlaceMarketOrderSessionExpired fires the expiry hook on AG8002.
// 10. TestGetErrorMsg maps known and unknown SmartAPI codes.

import (
	"context"
	"encoding/base32"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traderobot/src/apperr"
	"traderobot/src/model"
	"traderobot/src/session"
)

type assertError struct{}

func (assertError) Error() string { return "err" }

func fakeResponse(status int) *resty.Response {
	return &resty.Response{RawResponse: &http.Response{StatusCode: status}}
}

type staticTokens session.Tokens

func (s staticTokens) Tokens() session.Tokens { return session.Tokens(s) }

var rfcSecret = base32.StdEncoding.EncodeToString([]byte("12345678901234567890"))

func newTestSmartAPI(baseURL string, tokens TokenSource) *SmartAPIClient {
	c := NewSmartAPIClient(Config{
		AngelOneAPIKey:     "api-key",
		AngelOneUsername:   "C123",
		AngelOnePin:        "4321",
		AngelOneTOTPSecret: rfcSecret,
		AngelOneBaseURL:    baseURL,
		RequestTimeout:     2 * time.Second,
	}, tokens)
	c.http.SetRetryWaitTime(time.Millisecond).SetRetryMaxWaitTime(time.Millisecond)
	c.now = func() time.Time { return time.Unix(59, 0) }
	return c
}

func TestIsRetryableResp(t *testing.T) {
	cases := []struct {
		name string
		resp *resty.Response
		err  error
		want bool
	}{
		{name: "error present", err: assertError{}, want: true},
		{name: "server error", resp: fakeResponse(502), want: true},
		{name: "too many requests", resp: fakeResponse(429), want: true},
		{name: "timeout", resp: fakeResponse(408), want: true},
		{name: "ok response", resp: fakeResponse(200), want: false},
		{name: "bad request", resp: fakeResponse(400), want: false},
		{name: "nil resp", want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := isRetryableResp(tc.resp, tc.err)
			if got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestTOTPCode(t *testing.T) {
	cases := map[int64]string{
		59:         "287082",
		1111111109: "081804",
		1234567890: "005924",
	}
	for unix, want := range cases {
		got, err := totpCode(rfcSecret, time.Unix(unix, 0))
		require.NoError(t, err)
		assert.Equal(t, want, got, "t=%d", unix)
	}

	_, err := totpCode("not base32 !!", time.Unix(59, 0))
	assert.Error(t, err)
}

func TestLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != loginPath || r.Method != http.MethodPost {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		assert.Equal(t, "api-key", r.Header.Get("X-PrivateKey"))
		assert.Equal(t, "USER", r.Header.Get("X-UserType"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "C123", body["clientcode"])
		assert.Equal(t, "4321", body["password"])
		assert.Equal(t, "287082", body["totp"])

		_, _ = w.Write([]byte(`{"status":true,"message":"SUCCESS","errorcode":"","data":{"jwtToken":"jwt-abc","refreshToken":"ref","feedToken":"feed-xyz"}}`))
	}))
	defer srv.Close()

	tokens, err := newTestSmartAPI(srv.URL, nil).Login(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "jwt-abc", tokens.SessionToken)
	assert.Equal(t, "feed-xyz", tokens.StreamToken)
	assert.Equal(t, "ref", tokens.RefreshToken)
}

func TestLoginRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":false,"message":"Invalid totp","errorcode":"AB1050","data":null}`))
	}))
	defer srv.Close()

	_, err := newTestSmartAPI(srv.URL, nil).Login(context.Background())
	assert.ErrorIs(t, err, apperr.ErrAuthenticationFailed)
}

func TestLoginMissingCredentials(t *testing.T) {
	c := NewSmartAPIClient(Config{AngelOneBaseURL: "http://127.0.0.1:1"}, nil)
	_, err := c.Login(context.Background())
	assert.ErrorIs(t, err, apperr.ErrConfiguration)
}

func TestPlaceMarketOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != placeOrderPath {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		assert.Equal(t, "Bearer jwt-live", r.Header.Get("Authorization"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "SELL", body["transactiontype"])
		assert.Equal(t, "MARKET", body["ordertype"])
		assert.Equal(t, "NORMAL", body["variety"])
		assert.Equal(t, "INTRADAY", body["producttype"])
		assert.Equal(t, "DAY", body["duration"])
		assert.Equal(t, "NFO", body["exchange"])
		assert.Equal(t, "25", body["quantity"])

		_, _ = w.Write([]byte(`{"status":true,"message":"SUCCESS","errorcode":"","data":{"script":"NIFTY","orderid":"250101000000123","uniqueorderid":"u-1"}}`))
	}))
	defer srv.Close()

	c := newTestSmartAPI(srv.URL, staticTokens{SessionToken: "jwt-live", StreamToken: "feed"})
	id, err := c.PlaceMarketOrder(context.Background(), model.MarketOrder{
		SymbolToken:   "116750",
		TradingSymbol: "NIFTY25JAN24000CE",
		Quantity:      25,
		Side:          "sell",
	})
	require.NoError(t, err)
	assert.Equal(t, "250101000000123", id)
}

func TestPlaceMarketOrderNoRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestSmartAPI(srv.URL, staticTokens{SessionToken: "jwt", StreamToken: "feed"})
	_, err := c.PlaceMarketOrder(context.Background(), model.MarketOrder{
		SymbolToken: "116750", TradingSymbol: "X", Quantity: 1, Side: model.SideSell,
	})
	assert.ErrorIs(t, err, apperr.ErrOrderSubmission)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestPlaceMarketOrderNoSession(t *testing.T) {
	c := newTestSmartAPI("http://127.0.0.1:1", staticTokens{})
	_, err := c.PlaceMarketOrder(context.Background(), model.MarketOrder{SymbolToken: "1", TradingSymbol: "X", Quantity: 1})
	assert.ErrorIs(t, err, apperr.ErrOrderSubmission)
}

func TestPlaceMarketOrderSessionExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":false,"message":"Token Expired","errorcode":"AG8002","data":null}`))
	}))
	defer srv.Close()

	var expired int32
	c := newTestSmartAPI(srv.URL, staticTokens{SessionToken: "jwt", StreamToken: "feed"})
	c.OnSessionExpired(func() { atomic.AddInt32(&expired, 1) })

	_, err := c.PlaceMarketOrder(context.Background(), model.MarketOrder{
		SymbolToken: "116750", TradingSymbol: "X", Quantity: 1, Side: model.SideSell,
	})
	assert.ErrorIs(t, err, apperr.ErrOrderSubmission)
	assert.Contains(t, err.Error(), "Token Expired")
	assert.Equal(t, int32(1), atomic.LoadInt32(&expired))
}

func TestGetErrorMsg(t *testing.T) {
	assert.Equal(t, "Invalid Token", GetErrorMsg("AG8001"))
	assert.Equal(t, "UNKNOWN_SMARTAPI_ERROR_ZZ9999", GetErrorMsg("ZZ9999"))
	assert.True(t, IsSessionError("AB1010"))
	assert.False(t, IsSessionError("AB1009"))
}
