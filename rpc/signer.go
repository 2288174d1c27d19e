package rpc

import (
	"context"
	"fmt"
	"sync"

	"loyaltypay/core/types"
	"loyaltypay/crypto"
)

// Signer builds, signs and submits transactions for a single key. Submits are
// serialised so nonces are assigned in order.
type Signer struct {
	api LedgerAPI
	key *crypto.PrivateKey

	mu      sync.Mutex
	chainID uint64
}

func NewSigner(api LedgerAPI, key *crypto.PrivateKey) *Signer {
	if api == nil || key == nil {
		panic("rpc: signer requires a ledger client and a key")
	}
	return &Signer{api: api, key: key}
}

// Address returns the signing address.
func (s *Signer) Address() crypto.Address {
	return s.key.Address()
}

func (s *Signer) loadChainID(ctx context.Context) (uint64, error) {
	if s.chainID != 0 {
		return s.chainID, nil
	}
	id, err := s.api.ChainID(ctx)
	if err != nil {
		return 0, err
	}
	s.chainID = id
	return id, nil
}

// Build returns a signed transaction carrying payload at the signer's next
// nonce. It does not submit it.
func (s *Signer) Build(ctx context.Context, txType types.TxType, payload interface{}) (*types.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.build(ctx, txType, payload)
}

func (s *Signer) build(ctx context.Context, txType types.TxType, payload interface{}) (*types.Transaction, error) {
	chainID, err := s.loadChainID(ctx)
	if err != nil {
		return nil, err
	}
	account, err := s.api.GetAccount(ctx, s.key.Address())
	if err != nil {
		return nil, fmt.Errorf("load signer account: %w", err)
	}
	tx, err := types.NewTransaction(chainID, txType, account.Nonce, payload)
	if err != nil {
		return nil, err
	}
	if err := tx.Sign(s.key.PrivateKey); err != nil {
		return nil, fmt.Errorf("sign %s: %w", txType, err)
	}
	return tx, nil
}

// Submit builds, signs and sends a transaction, returning its receipt.
func (s *Signer) Submit(ctx context.Context, txType types.TxType, payload interface{}) (*types.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.build(ctx, txType, payload)
	if err != nil {
		return nil, err
	}
	return s.api.SendTransaction(ctx, tx)
}
