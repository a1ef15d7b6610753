// Package ledger keeps the native-currency account book for the escrow
// service. Balances are arbitrary-precision integers persisted through the
// storage.Database abstraction, one record per address.
package ledger

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"escrowd/storage"
)

var (
	// ErrInsufficientFunds is returned when a debit would take an account
	// below zero.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	errNilDatabase  = errors.New("ledger: database not configured")
	errNegativeAmnt = errors.New("ledger: negative amount")
)

const accountKeyPrefix = "ledger/account/"

type accountRecord struct {
	Balance string `json:"balance"`
}

// Ledger is a durable account book. All mutating methods persist before
// returning so a restart never observes a partially applied movement.
type Ledger struct {
	db storage.Database
}

// NewLedger wraps the supplied database in an account book.
func NewLedger(db storage.Database) *Ledger {
	return &Ledger{db: db}
}

func accountKey(addr [20]byte) []byte {
	return []byte(accountKeyPrefix + hex.EncodeToString(addr[:]))
}

func (l *Ledger) load(addr [20]byte) (*big.Int, error) {
	if l == nil || l.db == nil {
		return nil, errNilDatabase
	}
	raw, err := l.db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	var rec accountRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("ledger: corrupt account record: %w", err)
	}
	balance, ok := new(big.Int).SetString(rec.Balance, 10)
	if !ok {
		return nil, fmt.Errorf("ledger: corrupt account balance %q", rec.Balance)
	}
	return balance, nil
}

func (l *Ledger) store(addr [20]byte, balance *big.Int) error {
	raw, err := json.Marshal(accountRecord{Balance: balance.String()})
	if err != nil {
		return err
	}
	return l.db.Put(accountKey(addr), raw)
}

// Balance reports the current funds held by the address. Unknown addresses
// hold zero.
func (l *Ledger) Balance(addr [20]byte) (*big.Int, error) {
	return l.load(addr)
}

// Credit adds amount to the address balance. Used when native value arrives
// from outside the book (an incoming deposit payment).
func (l *Ledger) Credit(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return errNegativeAmnt
	}
	balance, err := l.load(addr)
	if err != nil {
		return err
	}
	return l.store(addr, new(big.Int).Add(balance, amount))
}

// Transfer moves amount between two accounts, failing without any mutation
// when the source balance is short.
func (l *Ledger) Transfer(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return errNegativeAmnt
	}
	fromBalance, err := l.load(from)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	toBalance, err := l.load(to)
	if err != nil {
		return err
	}
	if err := l.store(from, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	if err := l.store(to, new(big.Int).Add(toBalance, amount)); err != nil {
		// Restore the source so the book never loses value on a partial write.
		if restoreErr := l.store(from, fromBalance); restoreErr != nil {
			return fmt.Errorf("ledger: transfer failed (%v) and source restore failed: %w", err, restoreErr)
		}
		return err
	}
	return nil
}
