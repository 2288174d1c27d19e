package loyalty

import (
	"github.com/ethereum/go-ethereum/common"

	"loyaltypay/core/types"
	"loyaltypay/crypto"
)

// SettleRequest is the input of a processPayment instruction. A zero
// Reference settles directly from the customer's holding; otherwise the
// payment was already transferred with the reference tag and the merchant
// signs the settlement.
type SettleRequest struct {
	Signer    crypto.Address
	Customer  crypto.Address
	Merchant  crypto.Address
	Mint      crypto.Address
	Amount    uint64
	Reference common.Hash
}

// Detected reports whether the request settles a reference-tagged transfer.
func (r SettleRequest) Detected() bool {
	return r.Reference != (common.Hash{})
}

// RewardActionKind is the reward follow-up a settlement requires.
type RewardActionKind uint8

const (
	RewardActionNone RewardActionKind = iota
	RewardActionMint
	RewardActionRetier
)

func (k RewardActionKind) String() string {
	switch k {
	case RewardActionMint:
		return "mint"
	case RewardActionRetier:
		return "retier"
	default:
		return "none"
	}
}

// ParseRewardActionKind is the inverse of String.
func ParseRewardActionKind(s string) RewardActionKind {
	switch s {
	case "mint":
		return RewardActionMint
	case "retier":
		return RewardActionRetier
	default:
		return RewardActionNone
	}
}

// RewardAction tells the off-ledger lifecycle manager what to do after a
// settlement commits. Tier is the classification of the post-payment points.
type RewardAction struct {
	Kind RewardActionKind `json:"kind"`
	Tier Tier             `json:"tier"`
}

// SettlementResult describes a committed settlement.
type SettlementResult struct {
	RecordAddress  crypto.Address
	Record         *Record
	Created        bool
	PriorPoints    uint64
	NewPoints      uint64
	MerchantAmount uint64
	RefundAmount   uint64
	PriorTier      Tier
	NewTier        Tier
	Reward         RewardAction
}

// CloseRequest is the input of a closeLoyaltyCard instruction.
type CloseRequest struct {
	Signer   crypto.Address
	Customer crypto.Address
	Merchant crypto.Address
}

// MintRewardRequest is the input of a mintRewardToken instruction.
type MintRewardRequest struct {
	Signer   crypto.Address
	Customer crypto.Address
	Merchant crypto.Address
	Metadata types.MetadataFields
}

func (k RewardActionKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *RewardActionKind) UnmarshalText(text []byte) error {
	*k = ParseRewardActionKind(string(text))
	return nil
}
