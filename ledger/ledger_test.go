package ledger

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"escrowd/storage"
)

func testAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func TestCreditAndBalance(t *testing.T) {
	l := NewLedger(storage.NewMemDB())
	addr := testAddress(0x01)

	if err := l.Credit(addr, big.NewInt(150)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := l.Credit(addr, big.NewInt(50)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	balance, err := l.Balance(addr)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("expected 200, got %s", balance)
	}
}

func TestUnknownAccountHoldsZero(t *testing.T) {
	l := NewLedger(storage.NewMemDB())
	balance, err := l.Balance(testAddress(0xEE))
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Sign() != 0 {
		t.Fatalf("expected zero balance, got %s", balance)
	}
}

func TestTransferMovesFunds(t *testing.T) {
	l := NewLedger(storage.NewMemDB())
	from := testAddress(0x01)
	to := testAddress(0x02)

	if err := l.Credit(from, big.NewInt(100)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := l.Transfer(from, to, big.NewInt(60)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	fromBalance, _ := l.Balance(from)
	toBalance, _ := l.Balance(to)
	if fromBalance.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("expected source 40, got %s", fromBalance)
	}
	if toBalance.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("expected destination 60, got %s", toBalance)
	}
}

func TestTransferInsufficientFunds(t *testing.T) {
	l := NewLedger(storage.NewMemDB())
	from := testAddress(0x01)
	to := testAddress(0x02)

	if err := l.Credit(from, big.NewInt(10)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	err := l.Transfer(from, to, big.NewInt(11))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	fromBalance, _ := l.Balance(from)
	if fromBalance.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("balance mutated on failed transfer: %s", fromBalance)
	}
}

func TestNegativeAmountsRejected(t *testing.T) {
	l := NewLedger(storage.NewMemDB())
	addr := testAddress(0x01)
	if err := l.Credit(addr, big.NewInt(-1)); err == nil {
		t.Fatal("expected error for negative credit")
	}
	if err := l.Transfer(addr, testAddress(0x02), big.NewInt(-1)); err == nil {
		t.Fatal("expected error for negative transfer")
	}
}

func TestBalancesSurviveReopen(t *testing.T) {
	db := storage.NewMemDB()
	addr := testAddress(0x07)

	first := NewLedger(db)
	if err := first.Credit(addr, big.NewInt(777)); err != nil {
		t.Fatalf("credit: %v", err)
	}

	second := NewLedger(db)
	balance, err := second.Balance(addr)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(777)) != 0 {
		t.Fatalf("expected 777 after reopen, got %s", balance)
	}
}
