package rpc

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"loyaltypay/core/types"
	"loyaltypay/crypto"
	"loyaltypay/native/loyalty"
	"loyaltypay/native/token"
)

// LocalClient serves LedgerAPI from a ledger in the same process.
type LocalClient struct {
	ledger Ledger
}

func NewLocalClient(ledger Ledger) *LocalClient {
	return &LocalClient{ledger: ledger}
}

func (c *LocalClient) ChainID(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return c.ledger.ChainID(), nil
}

func (c *LocalClient) SendTransaction(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.ledger.SubmitTransaction(tx)
}

func (c *LocalClient) GetTransaction(ctx context.Context, hash common.Hash) (*types.TxRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.ledger.GetTransaction(hash)
}

func (c *LocalClient) Head(ctx context.Context) (types.SlotHeader, error) {
	if err := ctx.Err(); err != nil {
		return types.SlotHeader{}, err
	}
	return c.ledger.Head(), nil
}

func (c *LocalClient) GetSlot(ctx context.Context, slot uint64) (*types.SlotHeader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.ledger.GetSlot(slot)
}

func (c *LocalClient) FindReference(ctx context.Context, ref common.Hash) ([]types.ReferencedPayment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.ledger.FindReference(ref)
}

func (c *LocalClient) GetAccount(ctx context.Context, addr crypto.Address) (*types.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.ledger.Account(addr)
}

func (c *LocalClient) GetHolding(ctx context.Context, owner, mint crypto.Address) (*token.Holding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.ledger.Holding(owner, mint)
}

func (c *LocalClient) GetRecord(ctx context.Context, customer, merchant crypto.Address) (*loyalty.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.ledger.Record(customer, merchant)
}

func (c *LocalClient) GetMint(ctx context.Context, mint crypto.Address) (*token.Mint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.ledger.Mint(mint)
}

func (c *LocalClient) GetMetadata(ctx context.Context, mint crypto.Address) (*token.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.ledger.Metadata(mint)
}
