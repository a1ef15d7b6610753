package escrow

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"escrowd/storage"
)

const escrowKeyPrefix = "escrow/instance/"

// Store persists escrow snapshots through the storage.Database abstraction.
// It implements the engine's state dependency.
type Store struct {
	db storage.Database
}

// NewStore wraps the supplied database.
func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

type escrowRecord struct {
	ID      string      `json:"id"`
	Owner   string      `json:"owner"`
	Buyer   string      `json:"buyer,omitempty"`
	CycleID string      `json:"cycleId"`
	Status  uint8       `json:"status"`
	Asset   assetRecord `json:"asset"`
}

type assetRecord struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       string `json:"price"`
}

func escrowKey(id [32]byte) []byte {
	return []byte(escrowKeyPrefix + hex.EncodeToString(id[:]))
}

// EscrowPut stores a sanitized snapshot of the escrow.
func (s *Store) EscrowPut(e *Escrow) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("escrow store: database not configured")
	}
	sanitized, err := Sanitize(e)
	if err != nil {
		return err
	}
	rec := escrowRecord{
		ID:      hex.EncodeToString(sanitized.ID[:]),
		Owner:   hex.EncodeToString(sanitized.Owner[:]),
		CycleID: sanitized.CycleID.String(),
		Status:  uint8(sanitized.Status),
		Asset: assetRecord{
			Name:        sanitized.Asset.Name,
			Description: sanitized.Asset.Description,
			Price:       sanitized.Asset.Price.String(),
		},
	}
	if sanitized.Buyer != nil {
		rec.Buyer = hex.EncodeToString(sanitized.Buyer[:])
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Put(escrowKey(sanitized.ID), raw)
}

// EscrowGet loads the stored snapshot for the identifier. The boolean is
// false when no snapshot exists yet.
func (s *Store) EscrowGet(id [32]byte) (*Escrow, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, fmt.Errorf("escrow store: database not configured")
	}
	raw, err := s.db.Get(escrowKey(id))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var rec escrowRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false, fmt.Errorf("escrow store: corrupt record: %w", err)
	}
	esc := &Escrow{Status: Status(rec.Status)}
	if err := decodeFixedHex(rec.ID, esc.ID[:]); err != nil {
		return nil, false, fmt.Errorf("escrow store: corrupt id: %w", err)
	}
	if err := decodeFixedHex(rec.Owner, esc.Owner[:]); err != nil {
		return nil, false, fmt.Errorf("escrow store: corrupt owner: %w", err)
	}
	if rec.Buyer != "" {
		var buyer [20]byte
		if err := decodeFixedHex(rec.Buyer, buyer[:]); err != nil {
			return nil, false, fmt.Errorf("escrow store: corrupt buyer: %w", err)
		}
		esc.Buyer = &buyer
	}
	cycleID, err := uuid.Parse(rec.CycleID)
	if err != nil {
		return nil, false, fmt.Errorf("escrow store: corrupt cycle id: %w", err)
	}
	esc.CycleID = cycleID
	price, ok := new(big.Int).SetString(rec.Asset.Price, 10)
	if !ok {
		return nil, false, fmt.Errorf("escrow store: corrupt asset price %q", rec.Asset.Price)
	}
	esc.Asset = Asset{Name: rec.Asset.Name, Description: rec.Asset.Description, Price: price}
	if !esc.Status.Valid() {
		return nil, false, fmt.Errorf("escrow store: corrupt status %d", rec.Status)
	}
	return esc, true, nil
}

func decodeFixedHex(value string, dst []byte) error {
	raw, err := hex.DecodeString(value)
	if err != nil {
		return err
	}
	if len(raw) != len(dst) {
		return fmt.Errorf("expected %d bytes, got %d", len(dst), len(raw))
	}
	copy(dst, raw)
	return nil
}
