package swap

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "VoiceSwap/internal/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewHTTPClient(Config{BaseURL: server.URL, APIKey: "secret"})
	require.NoError(t, err)
	return client
}

func TestGetQuote(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/quote", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req QuoteRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "USDC", req.TokenIn)
		assert.True(t, req.AmountIn.Equal(decimal.NewFromInt(100)))

		_, _ = w.Write([]byte(`{"quoteId":"q-1","tokenOut":{"amount":"0.031","symbol":"ETH"},"gasFeeUsd":"0.04"}`))
	})

	quote, err := client.GetQuote(t.Context(), QuoteRequest{TokenIn: "USDC", TokenOut: "ETH", AmountIn: decimal.NewFromInt(100)})
	require.NoError(t, err)
	assert.Equal(t, "q-1", quote.QuoteID)
	assert.Equal(t, "ETH", quote.TokenOut.Symbol)
	assert.Equal(t, "0.031", quote.TokenOut.Amount.String())
	assert.Equal(t, "USDC", quote.TokenIn.Symbol)
}

func TestPaymentRequiredFromHeaders(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Payment-Price", "0.01")
		w.Header().Set("X-Payment-Network", "base")
		w.Header().Set("X-Payment-Asset", "USDC")
		w.Header().Set("X-Payment-Pay-To", "0xabc")
		w.WriteHeader(http.StatusPaymentRequired)
	})

	_, err := client.GetQuote(t.Context(), QuoteRequest{TokenIn: "USDC", TokenOut: "ETH", AmountIn: decimal.NewFromInt(1)})
	require.Error(t, err)
	assert.Equal(t, CodePaymentRequired, xerrors.CodeOf(err))

	req, ok := PaymentRequirementOf(err)
	require.True(t, ok)
	assert.Equal(t, PaymentRequirement{Price: "0.01", Network: "base", Asset: "USDC", PayTo: "0xabc"}, req)
}

func TestPaymentRequiredFromEncodedHeader(t *testing.T) {
	payload := `{"accepts":[{"maxAmountRequired":"0.02","network":"base-sepolia","asset":"USDC","payTo":"0xdef"}]}`
	header := http.Header{}
	header.Set("X-Payment-Required", base64.StdEncoding.EncodeToString([]byte(payload)))

	req, ok := ParsePaymentRequirement(header)
	require.True(t, ok)
	assert.Equal(t, "0.02", req.Price)
	assert.Equal(t, "base-sepolia", req.Network)

	_, ok = ParsePaymentRequirement(http.Header{})
	assert.False(t, ok)
}

func TestInsufficientGasTankBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":"INSUFFICIENT_GAS_TANK","message":"gas tank empty","swaps_remaining":0}}`))
	})

	_, err := client.GetQuote(t.Context(), QuoteRequest{TokenIn: "USDC", TokenOut: "ETH", AmountIn: decimal.NewFromInt(1)})
	require.Error(t, err)
	assert.Equal(t, CodeInsufficientGasTank, xerrors.CodeOf(err))
	remaining, ok := SwapsRemainingOf(err)
	require.True(t, ok)
	assert.Equal(t, 0, remaining)
	assert.Equal(t, "gas tank empty", xerrors.MessageOf(err))
}

func TestGenericBackendError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":{"code":"ROUTER_DOWN","message":"router unavailable"}}`))
	})

	_, err := client.ExecuteSwap(t.Context(), ExecuteRequest{TokenIn: "USDC", TokenOut: "ETH", AmountIn: decimal.NewFromInt(1)})
	require.Error(t, err)
	assert.Equal(t, CodeBackendFailure, xerrors.CodeOf(err))
	assert.Equal(t, "router unavailable", xerrors.MessageOf(err))
	assert.True(t, xerrors.RetryableError(err))
}

func TestExecuteCarriesSessionSignature(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req ExecuteRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "0xsig", req.SessionSignature)
		_, _ = w.Write([]byte(`{"status":"submitted","txHash":"0xhash"}`))
	})

	result, err := client.ExecuteSwap(t.Context(), ExecuteRequest{TokenIn: "USDC", TokenOut: "ETH", AmountIn: decimal.NewFromInt(1), SessionSignature: "0xsig"})
	require.NoError(t, err)
	assert.Equal(t, ExecutionSubmitted, result.Status)
	assert.Equal(t, "0xhash", result.TxHash)
}

func TestGetStatusNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "", r.URL.Query().Get("txHash"))
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.GetStatus(t.Context(), "")
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeNotFound, xerrors.CodeOf(err))
}

func TestNotFoundOutsideStatusIsBackendFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"NO_POOL","message":"no pool for this pair"}}`))
	})

	_, err := client.GetQuote(t.Context(), QuoteRequest{TokenIn: "USDC", TokenOut: "ETH", AmountIn: decimal.NewFromInt(1)})
	require.Error(t, err)
	assert.Equal(t, CodeBackendFailure, xerrors.CodeOf(err))
	assert.Equal(t, "no pool for this pair", xerrors.MessageOf(err))

	_, err = client.ExecuteSwap(t.Context(), ExecuteRequest{TokenIn: "USDC", TokenOut: "ETH", AmountIn: decimal.NewFromInt(1)})
	require.Error(t, err)
	assert.NotEqual(t, xerrors.CodeNotFound, xerrors.CodeOf(err))
}

func TestGetStatusByHash(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "0xabc", r.URL.Query().Get("txHash"))
		_, _ = w.Write([]byte(`{"status":"confirmed","txHash":"0xabc","blockNumber":12}`))
	})

	status, err := client.GetStatus(t.Context(), "0xabc")
	require.NoError(t, err)
	assert.Equal(t, TxConfirmed, status.Status)
	assert.True(t, status.Status.Terminal())
	assert.EqualValues(t, 12, status.BlockNumber)
}

func TestRouteRequiresCalldata(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"to":"0x1"}`))
	})

	_, err := client.GetRoute(t.Context(), RouteRequest{TokenIn: "USDC", TokenOut: "ETH", AmountIn: decimal.NewFromInt(1)})
	require.Error(t, err)
	assert.Equal(t, CodeBackendFailure, xerrors.CodeOf(err))
}
