package escrow

import (
	"encoding/hex"
	"math/big"
)

const (
	EventTypeAssetSet          = "escrow.asset_set"
	EventTypeDeposited         = "escrow.deposited"
	EventTypeDeliveryConfirmed = "escrow.delivery_confirmed"
	EventTypeRefunded          = "escrow.refunded"
	EventTypeDisputed          = "escrow.disputed"
	EventTypeWithdrawn         = "escrow.withdrawn"
)

// Event is the canonical payload emitted after every successful mutating
// operation. Attributes are flat strings so downstream consumers never parse
// nested structures.
type Event struct {
	Type       string
	Attributes map[string]string
}

// EventType implements the events.Event interface.
func (e *Event) EventType() string {
	if e == nil {
		return ""
	}
	return e.Type
}

func baseAttributes(e *Escrow) map[string]string {
	attrs := make(map[string]string)
	if e == nil {
		return attrs
	}
	attrs["id"] = hex.EncodeToString(e.ID[:])
	attrs["owner"] = hex.EncodeToString(e.Owner[:])
	attrs["cycleId"] = e.CycleID.String()
	if e.Buyer != nil {
		attrs["buyer"] = hex.EncodeToString(e.Buyer[:])
	}
	return attrs
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// NewAssetSetEvent returns the payload emitted when the owner overwrites the
// asset record.
func NewAssetSetEvent(e *Escrow) *Event {
	attrs := baseAttributes(e)
	if e != nil {
		attrs["name"] = e.Asset.Name
		attrs["description"] = e.Asset.Description
		attrs["price"] = amountString(e.Asset.Price)
	}
	return &Event{Type: EventTypeAssetSet, Attributes: attrs}
}

// NewDepositedEvent returns the payload emitted when a deposit is accepted.
// The amount is the native value taken into custody; the value is its
// reference-currency equivalent at acceptance time.
func NewDepositedEvent(e *Escrow, amount, value *big.Int) *Event {
	attrs := baseAttributes(e)
	attrs["amount"] = amountString(amount)
	attrs["value"] = amountString(value)
	return &Event{Type: EventTypeDeposited, Attributes: attrs}
}

// NewDeliveryConfirmedEvent returns the payload emitted when the owner
// confirms delivery.
func NewDeliveryConfirmedEvent(e *Escrow) *Event {
	return &Event{Type: EventTypeDeliveryConfirmed, Attributes: baseAttributes(e)}
}

// NewRefundedEvent returns the payload emitted when the held balance is paid
// back to the buyer.
func NewRefundedEvent(e *Escrow, amount *big.Int) *Event {
	attrs := baseAttributes(e)
	attrs["amount"] = amountString(amount)
	return &Event{Type: EventTypeRefunded, Attributes: attrs}
}

// NewDisputedEvent returns the payload emitted when either party raises a
// dispute. The initiator identity rides along for the arbitration consumer.
func NewDisputedEvent(e *Escrow, initiator [20]byte) *Event {
	attrs := baseAttributes(e)
	attrs["initiator"] = hex.EncodeToString(initiator[:])
	return &Event{Type: EventTypeDisputed, Attributes: attrs}
}

// NewWithdrawnEvent returns the payload emitted when the held balance is paid
// to the owner. The snapshot passed in is the pre-reset one so the settled
// cycle and buyer are preserved in the attributes.
func NewWithdrawnEvent(e *Escrow, amount *big.Int) *Event {
	attrs := baseAttributes(e)
	attrs["amount"] = amountString(amount)
	return &Event{Type: EventTypeWithdrawn, Attributes: attrs}
}
