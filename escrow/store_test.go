package escrow

import (
	"math/big"
	"testing"

	"escrowd/storage"
)

func TestStoreRoundTrip(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	esc, err := NewEscrow(testOwner, "listing-1")
	if err != nil {
		t.Fatalf("new escrow: %v", err)
	}
	buyer := testBuyer
	esc.Buyer = &buyer
	esc.Status = StatusDeposited
	esc.Asset = Asset{Name: "Laptop", Description: "Used, good condition", Price: big.NewInt(500)}

	if err := store.EscrowPut(esc); err != nil {
		t.Fatalf("put: %v", err)
	}
	loaded, ok, err := store.EscrowGet(esc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatal("stored escrow not found")
	}
	if loaded.ID != esc.ID || loaded.Owner != esc.Owner {
		t.Fatal("identity fields did not round trip")
	}
	if loaded.Status != StatusDeposited {
		t.Fatalf("status = %s", loaded.Status)
	}
	if loaded.Buyer == nil || *loaded.Buyer != testBuyer {
		t.Fatal("buyer did not round trip")
	}
	if loaded.CycleID != esc.CycleID {
		t.Fatal("cycle identifier did not round trip")
	}
	if loaded.Asset.Name != "Laptop" || loaded.Asset.Price.Int64() != 500 {
		t.Fatal("asset record did not round trip")
	}
}

func TestStoreMissingEscrow(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	var id [32]byte
	_, ok, err := store.EscrowGet(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatal("expected not found")
	}
}

func TestStoreRejectsInvalidSnapshot(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	esc, _ := NewEscrow(testOwner, "listing-1")
	esc.Status = Status(9)
	if err := store.EscrowPut(esc); err == nil {
		t.Fatal("expected error for invalid status")
	}
}

func TestStoreWithoutBuyer(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	esc, _ := NewEscrow(testOwner, "listing-1")
	if err := store.EscrowPut(esc); err != nil {
		t.Fatalf("put: %v", err)
	}
	loaded, ok, err := store.EscrowGet(esc.ID)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if loaded.Buyer != nil {
		t.Fatal("buyer should be nil")
	}
}
