package state

import (
	"errors"

	"loyaltypay/crypto"
	"loyaltypay/native/token"
)

var errNegativeBalance = errors.New("state: negative balance")

func (m *Manager) TokenMint(addr crypto.Address) (*token.Mint, bool, error) {
	mint := new(token.Mint)
	ok, err := m.KVGet(prefixed(tokenMintPrefix, addr[:]), mint)
	if err != nil || !ok {
		return nil, false, err
	}
	return mint, true, nil
}

func (m *Manager) PutTokenMint(addr crypto.Address, mint *token.Mint) error {
	return m.KVPut(prefixed(tokenMintPrefix, addr[:]), mint)
}

func (m *Manager) TokenHolding(owner, mint crypto.Address) (*token.Holding, bool, error) {
	holding := new(token.Holding)
	addr := token.HoldingAddress(owner, mint)
	ok, err := m.KVGet(prefixed(tokenHoldingPrefix, addr[:]), holding)
	if err != nil || !ok {
		return nil, false, err
	}
	return holding, true, nil
}

func (m *Manager) PutTokenHolding(holding *token.Holding) error {
	addr := holding.Address()
	return m.KVPut(prefixed(tokenHoldingPrefix, addr[:]), holding)
}

func (m *Manager) TokenMetadata(mint crypto.Address) (*token.Metadata, bool, error) {
	meta := new(token.Metadata)
	addr := token.MetadataAddress(mint)
	ok, err := m.KVGet(prefixed(tokenMetadataPrefix, addr[:]), meta)
	if err != nil || !ok {
		return nil, false, err
	}
	return meta, true, nil
}

func (m *Manager) PutTokenMetadata(meta *token.Metadata) error {
	addr := token.MetadataAddress(meta.Mint)
	return m.KVPut(prefixed(tokenMetadataPrefix, addr[:]), meta)
}
