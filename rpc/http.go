package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"escrowd/core/events"
	"escrowd/escrow"
	"escrowd/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	opsPerMinute    = 30
	opsBurst        = 10
)

// Server exposes the escrow engine over JSON-RPC 2.0. A single mutex
// serializes mutating operations so exactly one engine operation runs at a
// time; the engine itself carries no lock so transfer callbacks may re-enter
// it synchronously and be rejected by the state guards.
type Server struct {
	engine   *escrow.Engine
	recorder *events.Recorder
	metrics  *observability.EscrowMetrics

	opMu sync.Mutex

	mu        sync.Mutex
	visitors  map[string]*rate.Limiter
	authToken string
}

// NewServer wires the RPC surface for the engine. The bearer token for
// mutating methods is read from ESCROWD_RPC_TOKEN.
func NewServer(engine *escrow.Engine, recorder *events.Recorder) *Server {
	return &Server{
		engine:    engine,
		recorder:  recorder,
		metrics:   observability.Metrics(),
		visitors:  make(map[string]*rate.Limiter),
		authToken: strings.TrimSpace(os.Getenv("ESCROWD_RPC_TOKEN")),
	}
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      json.RawMessage   `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, rpcErr *RPCError) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: rpcErr})
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

// ServeHTTP implements http.Handler, routing JSON-RPC methods to handlers.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() { _ = reader.Close() }()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, &RPCError{Code: codeInvalidRequest, Message: message, Data: err.Error()})
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, &RPCError{Code: codeInvalidRequest, Message: "request body required"})
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, &RPCError{Code: codeParseError, Message: "invalid JSON payload", Data: err.Error()})
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, &RPCError{Code: codeInvalidRequest, Message: "unsupported jsonrpc version", Data: req.JSONRPC})
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, &RPCError{Code: codeInvalidRequest, Message: "method required"})
		return
	}

	switch req.Method {
	case "escrow_get":
		s.handleGet(w, req)
	case "escrow_balance":
		s.handleBalance(w, req)
	case "escrow_listEvents":
		s.handleListEvents(w, req)
	case "escrow_setAsset":
		s.handleMutating(w, r, req, "setAsset", s.runSetAsset)
	case "escrow_deposit":
		s.handleMutating(w, r, req, "deposit", s.runDeposit)
	case "escrow_confirmDelivery":
		s.handleMutating(w, r, req, "confirmDelivery", s.runConfirmDelivery)
	case "escrow_refund":
		s.handleMutating(w, r, req, "refund", s.runRefund)
	case "escrow_dispute":
		s.handleMutating(w, r, req, "dispute", s.runDispute)
	case "escrow_withdraw":
		s.handleMutating(w, r, req, "withdraw", s.runWithdraw)
	default:
		writeError(w, http.StatusNotFound, req.ID, &RPCError{Code: codeMethodNotFound, Message: fmt.Sprintf("unknown method %s", req.Method)})
	}
}

// --- read methods ---

type AssetResult struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       string `json:"price"`
}

type EscrowResult struct {
	ID      string      `json:"id"`
	Owner   string      `json:"owner"`
	Buyer   *string     `json:"buyer,omitempty"`
	CycleID string      `json:"cycleId"`
	Status  string      `json:"status"`
	Asset   AssetResult `json:"asset"`
	Balance string      `json:"balance"`
}

func (s *Server) handleGet(w http.ResponseWriter, req *RPCRequest) {
	esc, err := s.engine.Escrow()
	if err != nil {
		status, rpcErr := mapEngineError(err)
		writeError(w, status, req.ID, rpcErr)
		return
	}
	balance, err := s.engine.Balance()
	if err != nil {
		status, rpcErr := mapEngineError(err)
		writeError(w, status, req.ID, rpcErr)
		return
	}
	result := EscrowResult{
		ID:      hex.EncodeToString(esc.ID[:]),
		Owner:   "0x" + hex.EncodeToString(esc.Owner[:]),
		CycleID: esc.CycleID.String(),
		Status:  esc.Status.String(),
		Asset: AssetResult{
			Name:        esc.Asset.Name,
			Description: esc.Asset.Description,
			Price:       esc.Asset.Price.String(),
		},
		Balance: balance.String(),
	}
	if esc.Buyer != nil {
		buyer := "0x" + hex.EncodeToString(esc.Buyer[:])
		result.Buyer = &buyer
	}
	writeResult(w, req.ID, result)
}

type BalanceResult struct {
	Balance string `json:"balance"`
}

func (s *Server) handleBalance(w http.ResponseWriter, req *RPCRequest) {
	balance, err := s.engine.Balance()
	if err != nil {
		status, rpcErr := mapEngineError(err)
		writeError(w, status, req.ID, rpcErr)
		return
	}
	writeResult(w, req.ID, BalanceResult{Balance: balance.String()})
}

type listEventsParams struct {
	Limit int `json:"limit,omitempty"`
}

type EventResult struct {
	Sequence   int64             `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

func (s *Server) handleListEvents(w http.ResponseWriter, req *RPCRequest) {
	params := listEventsParams{}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params[0], &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, &RPCError{Code: codeInvalidParams, Message: "invalid parameter object", Data: err.Error()})
			return
		}
	}
	recorded := s.recorder.List(params.Limit)
	results := make([]EventResult, 0, len(recorded))
	for _, entry := range recorded {
		result := EventResult{Sequence: entry.Sequence, Type: entry.Event.EventType()}
		if evt, ok := entry.Event.(*escrow.Event); ok {
			result.Attributes = evt.Attributes
		}
		results = append(results, result)
	}
	writeResult(w, req.ID, results)
}

// --- mutating methods ---

func (s *Server) handleMutating(w http.ResponseWriter, r *http.Request, req *RPCRequest, op string, run func(*RPCRequest) error) {
	if rpcErr := s.requireAuth(r); rpcErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, rpcErr)
		return
	}
	source := clientSource(r)
	if !s.allowSource(source) {
		writeError(w, http.StatusTooManyRequests, req.ID, &RPCError{Code: codeRateLimited, Message: "operation rate limit exceeded", Data: source})
		return
	}

	s.opMu.Lock()
	started := time.Now()
	err := run(req)
	elapsed := time.Since(started)
	balance, balanceErr := s.engine.Balance()
	s.opMu.Unlock()

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.metrics.ObserveOperation(op, outcome, elapsed)
	if balanceErr == nil {
		held, _ := new(big.Float).SetInt(balance).Float64()
		s.metrics.SetHeldBalance(held)
	}

	if err != nil {
		var paramErr *paramError
		if errors.As(err, &paramErr) {
			writeError(w, http.StatusBadRequest, req.ID, &RPCError{Code: codeInvalidParams, Message: paramErr.Error()})
			return
		}
		status, rpcErr := mapEngineError(err)
		writeError(w, status, req.ID, rpcErr)
		return
	}
	writeResult(w, req.ID, "ok")
}

type paramError struct {
	msg string
}

func (e *paramError) Error() string { return e.msg }

func paramErrorf(format string, args ...interface{}) error {
	return &paramError{msg: fmt.Sprintf(format, args...)}
}

func singleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return paramErrorf("parameter object required")
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return paramErrorf("invalid parameter object: %v", err)
	}
	return nil
}

func parseAddress(value string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, paramErrorf("invalid address %q", value)
	}
	if len(raw) != 20 {
		return addr, paramErrorf("address must be 20 bytes, got %d", len(raw))
	}
	copy(addr[:], raw)
	return addr, nil
}

func parseAmount(value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok {
		return nil, paramErrorf("invalid amount %q", value)
	}
	return amount, nil
}

type setAssetParams struct {
	Caller      string `json:"caller"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       string `json:"price"`
}

func (s *Server) runSetAsset(req *RPCRequest) error {
	var params setAssetParams
	if err := singleParam(req, &params); err != nil {
		return err
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return err
	}
	price := big.NewInt(0)
	if strings.TrimSpace(params.Price) != "" {
		if price, err = parseAmount(params.Price); err != nil {
			return err
		}
	}
	return s.engine.SetAsset(caller, params.Name, params.Description, price)
}

type depositParams struct {
	From   string `json:"from"`
	Amount string `json:"amount"`
}

func (s *Server) runDeposit(req *RPCRequest) error {
	var params depositParams
	if err := singleParam(req, &params); err != nil {
		return err
	}
	from, err := parseAddress(params.From)
	if err != nil {
		return err
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		return err
	}
	return s.engine.Deposit(from, amount)
}

type callerParams struct {
	Caller string `json:"caller"`
}

func (s *Server) runCallerOp(req *RPCRequest, op func([20]byte) error) error {
	var params callerParams
	if err := singleParam(req, &params); err != nil {
		return err
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return err
	}
	return op(caller)
}

func (s *Server) runConfirmDelivery(req *RPCRequest) error {
	return s.runCallerOp(req, s.engine.ConfirmDelivery)
}

func (s *Server) runRefund(req *RPCRequest) error {
	return s.runCallerOp(req, s.engine.Refund)
}

func (s *Server) runDispute(req *RPCRequest) error {
	return s.runCallerOp(req, s.engine.RaiseDispute)
}

func (s *Server) runWithdraw(req *RPCRequest) error {
	return s.runCallerOp(req, s.engine.Withdraw)
}

// --- auth and rate limiting ---

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

func (s *Server) allowSource(source string) bool {
	if source == "" {
		source = "unknown"
	}
	s.mu.Lock()
	limiter, ok := s.visitors[source]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(opsPerMinute)/60.0, opsBurst)
		s.visitors[source] = limiter
	}
	s.mu.Unlock()
	return limiter.Allow()
}

func clientSource(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			candidate := strings.TrimSpace(parts[0])
			if candidate != "" {
				return candidate
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
