package loyalty

import (
	"loyaltypay/core/events"
	"loyaltypay/crypto"
)

func newRecordCreatedEvent(addr crypto.Address, record *Record, deposit uint64) events.LoyaltyRecordCreated {
	return events.LoyaltyRecordCreated{
		Record:           addr,
		Customer:         record.Customer,
		Merchant:         record.Merchant,
		Threshold:        record.Threshold,
		RefundPercentage: record.RefundPercentage,
		Deposit:          deposit,
	}
}

func newPaymentSettledEvent(req SettleRequest, result *SettlementResult) events.LoyaltyPaymentSettled {
	return events.LoyaltyPaymentSettled{
		Customer:       req.Customer,
		Merchant:       req.Merchant,
		Mint:           req.Mint,
		Amount:         req.Amount,
		MerchantAmount: result.MerchantAmount,
		RefundAmount:   result.RefundAmount,
		PriorPoints:    result.PriorPoints,
		NewPoints:      result.NewPoints,
		PriorTier:      result.PriorTier.String(),
		NewTier:        result.NewTier.String(),
		RewardAction:   result.Reward.Kind.String(),
		Reference:      req.Reference,
	}
}

func newRewardLinkedEvent(addr crypto.Address, record *Record) events.LoyaltyRewardLinked {
	return events.LoyaltyRewardLinked{
		Record:   addr,
		Customer: record.Customer,
		Merchant: record.Merchant,
		Token:    record.RewardTokenAddress,
	}
}

func newRecordClosedEvent(addr crypto.Address, record *Record, authority crypto.Address, released uint64) events.LoyaltyRecordClosed {
	return events.LoyaltyRecordClosed{
		Record:    addr,
		Customer:  record.Customer,
		Merchant:  record.Merchant,
		Authority: authority,
		Released:  released,
	}
}
