package types

import (
	"github.com/ethereum/go-ethereum/common"

	"loyaltypay/crypto"
)

// TransferPayload moves Amount units of Mint from the signer to To. References
// tag the transfer so an off-ledger watcher can locate it.
type TransferPayload struct {
	To         crypto.Address `json:"to"`
	Mint       crypto.Address `json:"mint"`
	Amount     uint64         `json:"amount"`
	References []common.Hash  `json:"references"`
}

// CreateHoldingPayload opens a holding for Owner; the signer pays.
type CreateHoldingPayload struct {
	Owner crypto.Address `json:"owner"`
	Mint  crypto.Address `json:"mint"`
}

// ProcessPaymentPayload settles a loyalty payment. A zero Reference selects the
// direct mode signed by the customer; a non-zero Reference points at an already
// committed tagged transfer and must be signed by the merchant.
type ProcessPaymentPayload struct {
	Customer  crypto.Address `json:"customer"`
	Merchant  crypto.Address `json:"merchant"`
	Mint      crypto.Address `json:"mint"`
	Amount    uint64         `json:"amount"`
	Reference common.Hash    `json:"reference"`
}

// CloseLoyaltyCardPayload deletes the record for the pair.
type CloseLoyaltyCardPayload struct {
	Customer crypto.Address `json:"customer"`
	Merchant crypto.Address `json:"merchant"`
}

// Creator is a verified or unverified co-creator listed in token metadata.
type Creator struct {
	Address  crypto.Address `json:"address"`
	Verified bool           `json:"verified"`
	Share    uint8          `json:"share"`
}

// MetadataFields are the mutable descriptive fields of a reward token.
type MetadataFields struct {
	Name                 string    `json:"name"`
	Symbol               string    `json:"symbol"`
	URI                  string    `json:"uri"`
	SellerFeeBasisPoints uint16    `json:"sellerFeeBasisPoints"`
	Creators             []Creator `json:"creators"`
}

// MintRewardTokenPayload asks the ledger to mint the pair's reward token.
// The signer must be the merchant.
type MintRewardTokenPayload struct {
	Customer crypto.Address `json:"customer"`
	Merchant crypto.Address `json:"merchant"`
	Metadata MetadataFields `json:"metadata"`
}

// UpdateRewardMetadataPayload overwrites the metadata of Mint. The signer must
// be the metadata update authority.
type UpdateRewardMetadataPayload struct {
	Mint     crypto.Address `json:"mint"`
	Metadata MetadataFields `json:"metadata"`
}

// ReferencedPayment is the on-ledger trace of a reference-tagged transfer.
type ReferencedPayment struct {
	TxHash common.Hash    `json:"txHash"`
	Payer  crypto.Address `json:"payer"`
	To     crypto.Address `json:"to"`
	Mint   crypto.Address `json:"mint"`
	Amount uint64         `json:"amount"`
}
