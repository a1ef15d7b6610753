package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"escrowd/core/events"
	"escrowd/escrow"
	"escrowd/ledger"
	"escrowd/pricing"
	"escrowd/storage"
)

const testToken = "test-rpc-token"

var (
	rpcOwner = addressWithFill(0xAA)
	rpcBuyer = addressWithFill(0xB1)
)

func addressWithFill(b byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = b
	}
	return addr
}

func hexAddress(addr [20]byte) string {
	return fmt.Sprintf("0x%x", addr[:])
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	t.Setenv("ESCROWD_RPC_TOKEN", testToken)

	db := storage.NewMemDB()
	engine := escrow.NewEngine()
	engine.SetState(escrow.NewStore(db))
	engine.SetLedger(ledger.NewLedger(db))
	// Unit price at eight decimals keeps native and reference values equal.
	source := pricing.NewStaticSource(big.NewInt(100_000_000), 8)
	engine.SetConverter(pricing.NewConverter(source, "token", "usd"))
	recorder := events.NewRecorder(0)
	engine.SetEmitter(recorder)
	_, err := engine.Initialize(rpcOwner, "laptop-sale")
	require.NoError(t, err)

	return NewServer(engine, recorder)
}

type rpcEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

func call(t *testing.T, server *Server, method string, params interface{}, token string) (int, rpcEnvelope) {
	t.Helper()
	payload := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		payload["params"] = []interface{}{params}
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(body))
	req.RemoteAddr = "203.0.113.7:51000"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	envelope := rpcEnvelope{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return rec.Code, envelope
}

func depositFiveTokens(t *testing.T, server *Server) {
	t.Helper()
	status, resp := call(t, server, "escrow_deposit", depositParams{
		From:   hexAddress(rpcBuyer),
		Amount: "5000000000000000000",
	}, testToken)
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, resp.Error)
}

func TestServerDepositAndGet(t *testing.T) {
	server := newTestServer(t)
	depositFiveTokens(t, server)

	status, resp := call(t, server, "escrow_get", nil, "")
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, resp.Error)

	var result EscrowResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Equal(t, "deposited", result.Status)
	require.Equal(t, "5000000000000000000", result.Balance)
	require.NotNil(t, result.Buyer)
	require.Equal(t, hexAddress(rpcBuyer), *result.Buyer)
}

func TestServerBalanceWithoutAuth(t *testing.T) {
	server := newTestServer(t)
	depositFiveTokens(t, server)

	status, resp := call(t, server, "escrow_balance", nil, "")
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, resp.Error)

	var result BalanceResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Equal(t, "5000000000000000000", result.Balance)
}

func TestServerInsufficientDepositCode(t *testing.T) {
	server := newTestServer(t)

	status, resp := call(t, server, "escrow_deposit", depositParams{
		From:   hexAddress(rpcBuyer),
		Amount: "1000",
	}, testToken)
	require.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeInsufficientDeposit, resp.Error.Code)
}

func TestServerInvalidStateCode(t *testing.T) {
	server := newTestServer(t)

	status, resp := call(t, server, "escrow_withdraw", callerParams{
		Caller: hexAddress(rpcOwner),
	}, testToken)
	require.Equal(t, http.StatusConflict, status)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeInvalidState, resp.Error.Code)
}

func TestServerMutatingMethodsRequireAuth(t *testing.T) {
	server := newTestServer(t)

	status, resp := call(t, server, "escrow_deposit", depositParams{
		From:   hexAddress(rpcBuyer),
		Amount: "5000000000000000000",
	}, "")
	require.Equal(t, http.StatusUnauthorized, status)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	status, resp = call(t, server, "escrow_deposit", depositParams{
		From:   hexAddress(rpcBuyer),
		Amount: "5000000000000000000",
	}, "wrong-token")
	require.Equal(t, http.StatusUnauthorized, status)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeUnauthorized, resp.Error.Code)
}

func TestServerMethodNotFound(t *testing.T) {
	server := newTestServer(t)

	status, resp := call(t, server, "escrow_unknown", nil, "")
	require.Equal(t, http.StatusNotFound, status)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestServerInvalidJSON(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	envelope := rpcEnvelope{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Error)
	require.Equal(t, codeParseError, envelope.Error.Code)
}

func TestServerEchoesStringID(t *testing.T) {
	server := newTestServer(t)

	body := []byte(`{"jsonrpc":"2.0","id":"req-42","method":"escrow_balance"}`)
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	envelope := rpcEnvelope{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.Nil(t, envelope.Error)
	require.JSONEq(t, `"req-42"`, string(envelope.ID))
}

func TestServerInvalidAddressParam(t *testing.T) {
	server := newTestServer(t)

	status, resp := call(t, server, "escrow_deposit", depositParams{
		From:   "0x1234",
		Amount: "5000000000000000000",
	}, testToken)
	require.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestServerListEvents(t *testing.T) {
	server := newTestServer(t)
	depositFiveTokens(t, server)

	status, resp := call(t, server, "escrow_listEvents", listEventsParams{Limit: 10}, "")
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, resp.Error)

	var results []EventResult
	require.NoError(t, json.Unmarshal(resp.Result, &results))
	require.Len(t, results, 1)
	require.Equal(t, escrow.EventTypeDeposited, results[0].Type)
	require.Equal(t, "5000000000000000000", results[0].Attributes["amount"])
}

func TestServerFullCycleOverRPC(t *testing.T) {
	server := newTestServer(t)

	status, resp := call(t, server, "escrow_setAsset", setAssetParams{
		Caller:      hexAddress(rpcOwner),
		Name:        "laptop",
		Description: "second hand, good condition",
		Price:       "5000000000000000000",
	}, testToken)
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, resp.Error)

	depositFiveTokens(t, server)

	status, resp = call(t, server, "escrow_confirmDelivery", callerParams{Caller: hexAddress(rpcOwner)}, testToken)
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, resp.Error)

	status, resp = call(t, server, "escrow_withdraw", callerParams{Caller: hexAddress(rpcOwner)}, testToken)
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, resp.Error)

	status, resp = call(t, server, "escrow_get", nil, "")
	require.Equal(t, http.StatusOK, status)
	var result EscrowResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Equal(t, "created", result.Status)
	require.Nil(t, result.Buyer)
	require.Equal(t, "0", result.Balance)
}

func TestServerRateLimitsMutatingCalls(t *testing.T) {
	server := newTestServer(t)

	limited := false
	for i := 0; i <= opsBurst; i++ {
		status, resp := call(t, server, "escrow_confirmDelivery", callerParams{Caller: hexAddress(rpcOwner)}, testToken)
		if status == http.StatusTooManyRequests {
			require.NotNil(t, resp.Error)
			require.Equal(t, codeRateLimited, resp.Error.Code)
			limited = true
			break
		}
	}
	require.True(t, limited)
}
