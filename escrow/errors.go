package escrow

import (
	"fmt"
	"math/big"
	"strings"
)

// NotAuthorizedError reports a caller that does not hold the role an
// operation requires. Authorization is always checked before status so
// unauthorized callers learn nothing about the current state.
type NotAuthorizedError struct {
	Role string
}

func (e *NotAuthorizedError) Error() string {
	return fmt.Sprintf("escrow: caller is not the %s", e.Role)
}

// InvalidStateError reports an operation attempted outside its allowed
// status set.
type InvalidStateError struct {
	Current  Status
	Expected []Status
}

func (e *InvalidStateError) Error() string {
	names := make([]string, len(e.Expected))
	for i, s := range e.Expected {
		names[i] = s.String()
	}
	return fmt.Sprintf("escrow: status is %s, operation requires %s", e.Current, strings.Join(names, " or "))
}

// InsufficientDepositError reports a deposit whose reference-currency value
// fell below the minimum threshold. Both values use 18-decimal fixed point.
type InsufficientDepositError struct {
	Value   *big.Int
	Minimum *big.Int
}

func (e *InsufficientDepositError) Error() string {
	return fmt.Sprintf("escrow: deposit value %s below minimum %s", e.Value, e.Minimum)
}

// BuyerAlreadySetError reports a deposit attempted while the cycle already
// has a recorded buyer.
type BuyerAlreadySetError struct {
	Buyer [20]byte
}

func (e *BuyerAlreadySetError) Error() string {
	return "escrow: buyer already set for this cycle"
}

// TransferFailedError reports a native-currency payout that could not be
// delivered. The triggering operation is fully rolled back before this error
// surfaces.
type TransferFailedError struct {
	Cause error
}

func (e *TransferFailedError) Error() string {
	return fmt.Sprintf("escrow: funds transfer failed: %v", e.Cause)
}

func (e *TransferFailedError) Unwrap() error { return e.Cause }

// DepositFailedError reports a deposit whose funds could not be taken into
// custody. The staged status change is fully rolled back before this error
// surfaces, so the engine never records a deposit it does not hold.
type DepositFailedError struct {
	Cause error
}

func (e *DepositFailedError) Error() string {
	return fmt.Sprintf("escrow: deposit custody failed: %v", e.Cause)
}

func (e *DepositFailedError) Unwrap() error { return e.Cause }
