package escrow

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"escrowd/core/events"
)

var (
	errNilState       = errors.New("escrow engine: state not configured")
	errNilLedger      = errors.New("escrow engine: ledger not configured")
	errNilConverter   = errors.New("escrow engine: price converter not configured")
	errEscrowNotFound = errors.New("escrow engine: escrow not found")
)

// DefaultMinimumDeposit is the reference-currency deposit threshold in
// 18-decimal fixed point: five reference units.
var DefaultMinimumDeposit = new(big.Int).Mul(big.NewInt(5), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

type engineState interface {
	EscrowPut(*Escrow) error
	EscrowGet(id [32]byte) (*Escrow, bool, error)
}

type engineLedger interface {
	Credit(addr [20]byte, amount *big.Int) error
	Transfer(from, to [20]byte, amount *big.Int) error
	Balance(addr [20]byte) (*big.Int, error)
}

type referenceConverter interface {
	ToReferenceValue(nativeAmount *big.Int) (*big.Int, error)
}

// Engine owns the escrow state machine. Every mutating operation checks the
// caller's role first, then the current status, stages its changes on a
// clone, and commits the staged snapshot before any funds move. A failed
// transfer restores the previous snapshot so no partial effect is ever
// observable. The engine carries no lock: callers serialize operations, and
// reentrant calls made during a transfer are rejected by the status guards
// because the staged status is already committed when the transfer starts.
type Engine struct {
	id         [32]byte
	state      engineState
	ledger     engineLedger
	converter  referenceConverter
	emitter    events.Emitter
	minDeposit *big.Int
}

// NewEngine creates an engine with a no-op emitter and the default minimum
// deposit threshold. State, ledger and converter are wired via setters.
func NewEngine() *Engine {
	return &Engine{
		emitter:    events.NoopEmitter{},
		minDeposit: new(big.Int).Set(DefaultMinimumDeposit),
	}
}

// SetState configures the snapshot store used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger configures the account book that holds and moves native funds.
func (e *Engine) SetLedger(ledger engineLedger) { e.ledger = ledger }

// SetConverter configures the price conversion adapter consulted on deposit.
func (e *Engine) SetConverter(converter referenceConverter) { e.converter = converter }

// SetMinimumDeposit overrides the reference-currency deposit threshold.
// Passing nil restores the default.
func (e *Engine) SetMinimumDeposit(min *big.Int) {
	if min == nil {
		e.minDeposit = new(big.Int).Set(DefaultMinimumDeposit)
		return
	}
	e.minDeposit = new(big.Int).Set(min)
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op
// implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt *Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// Initialize binds the engine to the escrow instance for owner and label,
// creating and persisting a fresh one when no snapshot exists. Rebinding to
// an existing snapshot with a different owner is rejected.
func (e *Engine) Initialize(owner [20]byte, label string) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	fresh, err := NewEscrow(owner, label)
	if err != nil {
		return nil, err
	}
	existing, ok, err := e.state.EscrowGet(fresh.ID)
	if err != nil {
		return nil, err
	}
	if ok {
		if existing.Owner != owner {
			return nil, fmt.Errorf("escrow engine: instance %x owned by another party", fresh.ID)
		}
		e.id = existing.ID
		return existing.Clone(), nil
	}
	if err := e.state.EscrowPut(fresh); err != nil {
		return nil, err
	}
	e.id = fresh.ID
	return fresh.Clone(), nil
}

func (e *Engine) loadEscrow() (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	esc, ok, err := e.state.EscrowGet(e.id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errEscrowNotFound
	}
	return esc, nil
}

// Escrow returns a snapshot of the current instance state.
func (e *Engine) Escrow() (*Escrow, error) {
	esc, err := e.loadEscrow()
	if err != nil {
		return nil, err
	}
	return esc.Clone(), nil
}

// Balance reports the funds currently held for this instance. The value is
// always read from the ledger vault, never tracked separately, so it cannot
// drift from the real custodied amount.
func (e *Engine) Balance() (*big.Int, error) {
	if e == nil || e.ledger == nil {
		return nil, errNilLedger
	}
	esc, err := e.loadEscrow()
	if err != nil {
		return nil, err
	}
	return e.ledger.Balance(esc.VaultAddress())
}

func requireStatus(current Status, allowed ...Status) error {
	for _, s := range allowed {
		if current == s {
			return nil
		}
	}
	return &InvalidStateError{Current: current, Expected: allowed}
}

// SetAsset overwrites the asset record. Only the owner may call it and only
// while no transaction is active. Calling it while the previous cycle ended
// in a refund relists the asset: status returns to Created, the buyer slot
// opens and a new cycle identifier is assigned.
func (e *Engine) SetAsset(caller [20]byte, name, description string, price *big.Int) error {
	esc, err := e.loadEscrow()
	if err != nil {
		return err
	}
	if caller != esc.Owner {
		return &NotAuthorizedError{Role: "owner"}
	}
	if err := requireStatus(esc.Status, StatusCreated, StatusRefunded); err != nil {
		return err
	}
	if price != nil && price.Sign() < 0 {
		return fmt.Errorf("escrow: asset price must be non-negative")
	}
	staged := esc.Clone()
	staged.Asset = Asset{Name: name, Description: description, Price: cloneBigInt(price)}
	if staged.Status == StatusRefunded {
		staged.Status = StatusCreated
		staged.Buyer = nil
		staged.CycleID = uuid.New()
	}
	if err := e.state.EscrowPut(staged); err != nil {
		return err
	}
	e.emit(NewAssetSetEvent(staged))
	return nil
}

// Deposit validates and accepts a buyer's payment. The native amount is
// converted to an 18-decimal reference value using a fresh price quote and
// must meet the minimum threshold. The first successful depositor becomes
// the buyer for the cycle. On any failure no custody is taken and no state
// changes.
func (e *Engine) Deposit(caller [20]byte, amount *big.Int) error {
	if e == nil || e.ledger == nil {
		return errNilLedger
	}
	if e.converter == nil {
		return errNilConverter
	}
	esc, err := e.loadEscrow()
	if err != nil {
		return err
	}
	if err := requireStatus(esc.Status, StatusCreated); err != nil {
		return err
	}
	if esc.Buyer != nil {
		return &BuyerAlreadySetError{Buyer: *esc.Buyer}
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("escrow: deposit amount must be positive")
	}
	value, err := e.converter.ToReferenceValue(amount)
	if err != nil {
		return err
	}
	if value.Cmp(e.minDeposit) < 0 {
		return &InsufficientDepositError{Value: value, Minimum: cloneBigInt(e.minDeposit)}
	}
	buyer := caller
	staged := esc.Clone()
	staged.Buyer = &buyer
	staged.Status = StatusDeposited
	// Status is committed before custody is taken so a reentrant call made
	// while the funds move observes the new status and is rejected.
	if err := e.state.EscrowPut(staged); err != nil {
		return err
	}
	if err := e.ledger.Credit(esc.VaultAddress(), amount); err != nil {
		if restoreErr := e.state.EscrowPut(esc); restoreErr != nil {
			return fmt.Errorf("escrow engine: deposit custody failed (%v) and snapshot restore failed: %w", err, restoreErr)
		}
		return &DepositFailedError{Cause: err}
	}
	e.emit(NewDepositedEvent(staged, amount, value))
	return nil
}

// Receive handles native value that arrives without an operation selected.
// It is treated identically to an explicit deposit of the received amount.
func (e *Engine) Receive(from [20]byte, amount *big.Int) error {
	return e.Deposit(from, amount)
}

// ConfirmDelivery records that the owner handed over the asset.
func (e *Engine) ConfirmDelivery(caller [20]byte) error {
	esc, err := e.loadEscrow()
	if err != nil {
		return err
	}
	if caller != esc.Owner {
		return &NotAuthorizedError{Role: "owner"}
	}
	if err := requireStatus(esc.Status, StatusDeposited); err != nil {
		return err
	}
	staged := esc.Clone()
	staged.Status = StatusDelivered
	if err := e.state.EscrowPut(staged); err != nil {
		return err
	}
	e.emit(NewDeliveryConfirmedEvent(staged))
	return nil
}

// Refund pays the entire held balance back to the buyer. The buyer stays
// recorded on the Refunded snapshot; the cycle opens again when the owner
// relists via SetAsset.
func (e *Engine) Refund(caller [20]byte) error {
	esc, err := e.loadEscrow()
	if err != nil {
		return err
	}
	if esc.Buyer == nil || caller != *esc.Buyer {
		return &NotAuthorizedError{Role: "buyer"}
	}
	if err := requireStatus(esc.Status, StatusDeposited); err != nil {
		return err
	}
	staged := esc.Clone()
	staged.Status = StatusRefunded
	return e.payout(esc, staged, *esc.Buyer, NewRefundedEvent)
}

// RaiseDispute flags the escrow for out-of-band arbitration. Either party
// may raise it while funds are held. Disputed is absorbing: no operation
// transitions out of it.
func (e *Engine) RaiseDispute(caller [20]byte) error {
	esc, err := e.loadEscrow()
	if err != nil {
		return err
	}
	if caller != esc.Owner && (esc.Buyer == nil || caller != *esc.Buyer) {
		return &NotAuthorizedError{Role: "owner or buyer"}
	}
	if err := requireStatus(esc.Status, StatusDeposited, StatusDelivered); err != nil {
		return err
	}
	staged := esc.Clone()
	staged.Status = StatusDisputed
	if err := e.state.EscrowPut(staged); err != nil {
		return err
	}
	e.emit(NewDisputedEvent(staged, caller))
	return nil
}

// Withdraw pays the entire held balance to the owner and starts a new cycle:
// the buyer slot opens, a fresh cycle identifier is assigned and the asset
// record is intentionally kept so the owner can relist without re-entering it.
func (e *Engine) Withdraw(caller [20]byte) error {
	esc, err := e.loadEscrow()
	if err != nil {
		return err
	}
	if caller != esc.Owner {
		return &NotAuthorizedError{Role: "owner"}
	}
	if err := requireStatus(esc.Status, StatusDelivered); err != nil {
		return err
	}
	staged := esc.Clone()
	staged.Status = StatusCreated
	staged.Buyer = nil
	staged.CycleID = uuid.New()
	return e.payout(esc, staged, esc.Owner, NewWithdrawnEvent)
}

// payout commits the staged snapshot, transfers the full held balance to the
// recipient and emits the event built from the pre-operation snapshot (which
// still names the settled cycle and buyer). A failed transfer restores the
// previous snapshot and surfaces TransferFailed.
func (e *Engine) payout(prev, staged *Escrow, recipient [20]byte, eventFn func(*Escrow, *big.Int) *Event) error {
	if e.ledger == nil {
		return errNilLedger
	}
	vault := prev.VaultAddress()
	amount, err := e.ledger.Balance(vault)
	if err != nil {
		return err
	}
	if err := e.state.EscrowPut(staged); err != nil {
		return err
	}
	if err := e.ledger.Transfer(vault, recipient, amount); err != nil {
		return e.rollback(prev, err)
	}
	e.emit(eventFn(prev, amount))
	return nil
}

// rollback restores the pre-operation snapshot after a failed transfer.
func (e *Engine) rollback(prev *Escrow, cause error) error {
	if restoreErr := e.state.EscrowPut(prev); restoreErr != nil {
		return fmt.Errorf("escrow engine: transfer failed (%v) and snapshot restore failed: %w", cause, restoreErr)
	}
	return &TransferFailedError{Cause: cause}
}
