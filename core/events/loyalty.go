package events

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"loyaltypay/core/types"
	"loyaltypay/crypto"
)

const (
	// TypeLoyaltyRecordCreated is emitted when the first payment between a
	// customer and a merchant opens their record.
	TypeLoyaltyRecordCreated = "loyalty.record.created"
	// TypeLoyaltyPaymentSettled is emitted for every settled payment.
	TypeLoyaltyPaymentSettled = "loyalty.payment.settled"
	// TypeLoyaltyRewardLinked is emitted when the reward token address is
	// written to the record.
	TypeLoyaltyRewardLinked = "loyalty.reward.linked"
	// TypeLoyaltyRecordClosed is emitted when a record is deleted and its
	// deposit released.
	TypeLoyaltyRecordClosed = "loyalty.record.closed"
)

type LoyaltyRecordCreated struct {
	Record           crypto.Address
	Customer         crypto.Address
	Merchant         crypto.Address
	Threshold        uint64
	RefundPercentage uint8
	Deposit          uint64
}

func (LoyaltyRecordCreated) EventType() string { return TypeLoyaltyRecordCreated }

func (e LoyaltyRecordCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeLoyaltyRecordCreated,
		Attributes: map[string]string{
			"record":           e.Record.String(),
			"customer":         e.Customer.String(),
			"merchant":         e.Merchant.String(),
			"threshold":        strconv.FormatUint(e.Threshold, 10),
			"refundPercentage": strconv.FormatUint(uint64(e.RefundPercentage), 10),
			"deposit":          strconv.FormatUint(e.Deposit, 10),
		},
	}
}

// LoyaltyPaymentSettled captures the routing outcome of a settlement and the
// reward follow-up it requires. RewardAction is "none", "mint" or "retier".
type LoyaltyPaymentSettled struct {
	Customer       crypto.Address
	Merchant       crypto.Address
	Mint           crypto.Address
	Amount         uint64
	MerchantAmount uint64
	RefundAmount   uint64
	PriorPoints    uint64
	NewPoints      uint64
	PriorTier      string
	NewTier        string
	RewardAction   string
	Reference      common.Hash
}

func (LoyaltyPaymentSettled) EventType() string { return TypeLoyaltyPaymentSettled }

func (e LoyaltyPaymentSettled) Event() *types.Event {
	attrs := map[string]string{
		"customer":       e.Customer.String(),
		"merchant":       e.Merchant.String(),
		"mint":           e.Mint.String(),
		"amount":         strconv.FormatUint(e.Amount, 10),
		"merchantAmount": strconv.FormatUint(e.MerchantAmount, 10),
		"refundAmount":   strconv.FormatUint(e.RefundAmount, 10),
		"priorPoints":    strconv.FormatUint(e.PriorPoints, 10),
		"newPoints":      strconv.FormatUint(e.NewPoints, 10),
		"priorTier":      e.PriorTier,
		"newTier":        e.NewTier,
		"rewardAction":   e.RewardAction,
	}
	if e.Reference != (common.Hash{}) {
		attrs["reference"] = e.Reference.Hex()
	}
	return &types.Event{Type: TypeLoyaltyPaymentSettled, Attributes: attrs}
}

type LoyaltyRewardLinked struct {
	Record   crypto.Address
	Customer crypto.Address
	Merchant crypto.Address
	Token    crypto.Address
}

func (LoyaltyRewardLinked) EventType() string { return TypeLoyaltyRewardLinked }

func (e LoyaltyRewardLinked) Event() *types.Event {
	return &types.Event{
		Type: TypeLoyaltyRewardLinked,
		Attributes: map[string]string{
			"record":   e.Record.String(),
			"customer": e.Customer.String(),
			"merchant": e.Merchant.String(),
			"token":    e.Token.String(),
		},
	}
}

type LoyaltyRecordClosed struct {
	Record    crypto.Address
	Customer  crypto.Address
	Merchant  crypto.Address
	Authority crypto.Address
	Released  uint64
}

func (LoyaltyRecordClosed) EventType() string { return TypeLoyaltyRecordClosed }

func (e LoyaltyRecordClosed) Event() *types.Event {
	return &types.Event{
		Type: TypeLoyaltyRecordClosed,
		Attributes: map[string]string{
			"record":    e.Record.String(),
			"customer":  e.Customer.String(),
			"merchant":  e.Merchant.String(),
			"authority": e.Authority.String(),
			"released":  strconv.FormatUint(e.Released, 10),
		},
	}
}
