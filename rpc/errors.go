package rpc

import (
	"errors"
	"net/http"

	"escrowd/escrow"
	"escrowd/pricing"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020

	codeNotAuthorized       = -32030
	codeInvalidState        = -32031
	codeInsufficientDeposit = -32032
	codeBuyerAlreadySet     = -32033
	codeTransferFailed      = -32034
	codeInvalidPrice        = -32035
	codeDepositFailed       = -32036
)

// RPCError is the JSON-RPC error object returned to callers.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// mapEngineError translates escrow engine failures into stable JSON-RPC
// error codes with the diagnostic fields riding in data.
func mapEngineError(err error) (int, *RPCError) {
	var notAuthorized *escrow.NotAuthorizedError
	if errors.As(err, &notAuthorized) {
		return http.StatusForbidden, &RPCError{
			Code:    codeNotAuthorized,
			Message: notAuthorized.Error(),
			Data:    map[string]string{"requiredRole": notAuthorized.Role},
		}
	}
	var invalidState *escrow.InvalidStateError
	if errors.As(err, &invalidState) {
		expected := make([]string, len(invalidState.Expected))
		for i, s := range invalidState.Expected {
			expected[i] = s.String()
		}
		return http.StatusConflict, &RPCError{
			Code:    codeInvalidState,
			Message: invalidState.Error(),
			Data: map[string]interface{}{
				"current":  invalidState.Current.String(),
				"expected": expected,
			},
		}
	}
	var insufficient *escrow.InsufficientDepositError
	if errors.As(err, &insufficient) {
		return http.StatusBadRequest, &RPCError{
			Code:    codeInsufficientDeposit,
			Message: insufficient.Error(),
			Data: map[string]string{
				"value":   insufficient.Value.String(),
				"minimum": insufficient.Minimum.String(),
			},
		}
	}
	var alreadySet *escrow.BuyerAlreadySetError
	if errors.As(err, &alreadySet) {
		return http.StatusConflict, &RPCError{Code: codeBuyerAlreadySet, Message: alreadySet.Error()}
	}
	var failed *escrow.TransferFailedError
	if errors.As(err, &failed) {
		return http.StatusBadGateway, &RPCError{Code: codeTransferFailed, Message: failed.Error()}
	}
	var custody *escrow.DepositFailedError
	if errors.As(err, &custody) {
		return http.StatusBadGateway, &RPCError{Code: codeDepositFailed, Message: custody.Error()}
	}
	if errors.Is(err, pricing.ErrInvalidPrice) || errors.Is(err, pricing.ErrStaleQuote) {
		return http.StatusBadGateway, &RPCError{Code: codeInvalidPrice, Message: err.Error()}
	}
	return http.StatusInternalServerError, &RPCError{Code: codeServerError, Message: err.Error()}
}
