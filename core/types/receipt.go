package types

import (
	"github.com/ethereum/go-ethereum/common"

	"loyaltypay/crypto"
)

// ReceiptStatus reports the execution outcome of a transaction.
type ReceiptStatus string

const (
	ReceiptStatusSuccess ReceiptStatus = "success"
	ReceiptStatusFailed  ReceiptStatus = "failed"
)

// TokenTransfer is a single balance movement observed while executing a
// transaction.
type TokenTransfer struct {
	From   crypto.Address `json:"from"`
	To     crypto.Address `json:"to"`
	Mint   crypto.Address `json:"mint"`
	Amount uint64         `json:"amount"`
}

// Receipt records the execution of a transaction in a slot. Failed
// transactions keep their receipt but none of their state changes.
type Receipt struct {
	TxHash     common.Hash     `json:"txHash"`
	Slot       uint64          `json:"slot"`
	Type       TxType          `json:"type"`
	Signer     crypto.Address  `json:"signer"`
	Status     ReceiptStatus   `json:"status"`
	ErrorCode  string          `json:"errorCode,omitempty"`
	Error      string          `json:"error,omitempty"`
	Events     []Event         `json:"events,omitempty"`
	Transfers  []TokenTransfer `json:"transfers,omitempty"`
	References []common.Hash   `json:"references,omitempty"`
}

// Succeeded reports whether the transaction committed.
func (r *Receipt) Succeeded() bool {
	return r != nil && r.Status == ReceiptStatusSuccess
}

// EventsOfType returns the events with the given type in emission order.
func (r *Receipt) EventsOfType(eventType string) []Event {
	if r == nil {
		return nil
	}
	var out []Event
	for _, evt := range r.Events {
		if evt.Type == eventType {
			out = append(out, evt)
		}
	}
	return out
}

// TxRecord couples a transaction with its receipt for lookups.
type TxRecord struct {
	Transaction *Transaction `json:"transaction"`
	Receipt     *Receipt     `json:"receipt"`
}
