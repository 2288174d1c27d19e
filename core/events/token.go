package events

import (
	"strconv"

	"loyaltypay/core/types"
	"loyaltypay/crypto"
)

const (
	// TypeTokenTransfer is emitted for every token balance movement.
	TypeTokenTransfer = "token.transfer"
	// TypeTokenMinted is emitted when new units of a mint are issued.
	TypeTokenMinted = "token.minted"
	// TypeTokenHoldingCreated is emitted when a holding account is opened.
	TypeTokenHoldingCreated = "token.holding.created"
	// TypeTokenAuthorityRevoked is emitted when a mint authority is dropped,
	// fixing the supply.
	TypeTokenAuthorityRevoked = "token.authority.revoked"
	// TypeTokenMetadataUpdated is emitted when metadata is created or
	// overwritten.
	TypeTokenMetadataUpdated = "token.metadata.updated"
)

type TokenTransfer struct {
	From   crypto.Address
	To     crypto.Address
	Mint   crypto.Address
	Amount uint64
}

func (TokenTransfer) EventType() string { return TypeTokenTransfer }

func (e TokenTransfer) Event() *types.Event {
	return &types.Event{
		Type: TypeTokenTransfer,
		Attributes: map[string]string{
			"from":   e.From.String(),
			"to":     e.To.String(),
			"mint":   e.Mint.String(),
			"amount": strconv.FormatUint(e.Amount, 10),
		},
	}
}

type TokenMinted struct {
	Mint   crypto.Address
	To     crypto.Address
	Amount uint64
	Supply uint64
}

func (TokenMinted) EventType() string { return TypeTokenMinted }

func (e TokenMinted) Event() *types.Event {
	return &types.Event{
		Type: TypeTokenMinted,
		Attributes: map[string]string{
			"mint":   e.Mint.String(),
			"to":     e.To.String(),
			"amount": strconv.FormatUint(e.Amount, 10),
			"supply": strconv.FormatUint(e.Supply, 10),
		},
	}
}

type TokenHoldingCreated struct {
	Owner   crypto.Address
	Mint    crypto.Address
	Holding crypto.Address
}

func (TokenHoldingCreated) EventType() string { return TypeTokenHoldingCreated }

func (e TokenHoldingCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeTokenHoldingCreated,
		Attributes: map[string]string{
			"owner":   e.Owner.String(),
			"mint":    e.Mint.String(),
			"holding": e.Holding.String(),
		},
	}
}

type TokenAuthorityRevoked struct {
	Mint   crypto.Address
	Caller crypto.Address
}

func (TokenAuthorityRevoked) EventType() string { return TypeTokenAuthorityRevoked }

func (e TokenAuthorityRevoked) Event() *types.Event {
	return &types.Event{
		Type: TypeTokenAuthorityRevoked,
		Attributes: map[string]string{
			"mint":   e.Mint.String(),
			"caller": e.Caller.String(),
		},
	}
}

type TokenMetadataUpdated struct {
	Mint    crypto.Address
	Name    string
	URI     string
	Created bool
}

func (TokenMetadataUpdated) EventType() string { return TypeTokenMetadataUpdated }

func (e TokenMetadataUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeTokenMetadataUpdated,
		Attributes: map[string]string{
			"mint":    e.Mint.String(),
			"name":    e.Name,
			"uri":     e.URI,
			"created": strconv.FormatBool(e.Created),
		},
	}
}
