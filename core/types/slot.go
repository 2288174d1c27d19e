package types

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// SlotHeader commits one applied transaction. The ledger applies exactly one
// transaction per slot, so the header links the transaction to the state root
// it produced.
type SlotHeader struct {
	Slot       uint64      `json:"slot"`
	Timestamp  uint64      `json:"timestamp"`
	ParentRoot common.Hash `json:"parentRoot"`
	StateRoot  common.Hash `json:"stateRoot"`
	TxHash     common.Hash `json:"txHash"`
}

// Hash returns the keccak256 hash of the RLP-encoded header.
func (h *SlotHeader) Hash() (common.Hash, error) {
	encoded, err := rlp.EncodeToBytes(h)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(encoded), nil
}
