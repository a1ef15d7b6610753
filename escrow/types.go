package escrow

import (
	"fmt"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// Status represents the lifecycle states of a two-party escrow instance.
type Status uint8

const (
	StatusCreated Status = iota
	StatusDeposited
	StatusDelivered
	StatusRefunded
	StatusDisputed
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusDeposited, StatusDelivered, StatusRefunded, StatusDisputed:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusDeposited:
		return "deposited"
	case StatusDelivered:
		return "delivered"
	case StatusRefunded:
		return "refunded"
	case StatusDisputed:
		return "disputed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Asset describes what is being escrowed. The record carries no invariants of
// its own beyond being overwritable only while no transaction is active.
type Asset struct {
	Name        string
	Description string
	Price       *big.Int
}

// Clone returns a deep copy of the asset record.
func (a Asset) Clone() Asset {
	clone := Asset{Name: a.Name, Description: a.Description}
	if a.Price != nil {
		clone.Price = new(big.Int).Set(a.Price)
	}
	return clone
}

// Escrow captures the full state of a single escrow instance. The owner is
// fixed at construction; the buyer is recorded by the first successful
// deposit of each cycle and cleared when the cycle resets. CycleID identifies
// the current buyer/asset pairing across events and logs.
type Escrow struct {
	ID      [32]byte
	Owner   [20]byte
	Buyer   *[20]byte
	CycleID uuid.UUID
	Status  Status
	Asset   Asset
}

// NewEscrow constructs an escrow instance for the owner. The identifier is
// the keccak256 hash of the owner address and a caller-supplied label so that
// two instances run by the same owner remain distinguishable.
func NewEscrow(owner [20]byte, label string) (*Escrow, error) {
	trimmed := strings.TrimSpace(label)
	if trimmed == "" {
		return nil, fmt.Errorf("escrow: instance label required")
	}
	id := ethcrypto.Keccak256Hash(owner[:], []byte(trimmed))
	return &Escrow{
		ID:      id,
		Owner:   owner,
		Status:  StatusCreated,
		CycleID: uuid.New(),
		Asset:   Asset{Price: big.NewInt(0)},
	}, nil
}

// VaultAddress derives the ledger account that holds this instance's funds.
// The first twenty bytes of the instance identifier keep the mapping
// deterministic without extra storage.
func (e *Escrow) VaultAddress() [20]byte {
	var addr [20]byte
	copy(addr[:], e.ID[:20])
	return addr
}

// Clone returns a deep copy of the escrow so callers can safely mutate the
// copy without affecting the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Asset = e.Asset.Clone()
	if e.Buyer != nil {
		buyer := *e.Buyer
		clone.Buyer = &buyer
	}
	return &clone
}

// Sanitize validates and normalises the supplied escrow, returning a cloned
// instance with a non-nil asset price. The original value is not mutated.
func Sanitize(e *Escrow) (*Escrow, error) {
	if e == nil {
		return nil, fmt.Errorf("nil escrow")
	}
	clone := e.Clone()
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("invalid escrow status: %d", clone.Status)
	}
	if clone.Asset.Price == nil {
		clone.Asset.Price = big.NewInt(0)
	}
	if clone.Asset.Price.Sign() < 0 {
		return nil, fmt.Errorf("asset price must be non-negative")
	}
	return clone, nil
}
