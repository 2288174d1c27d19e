package state

import (
	"math/big"

	"loyaltypay/core/types"
	"loyaltypay/crypto"
)

// GetAccount returns the account at addr, or an empty account when absent.
func (m *Manager) GetAccount(addr crypto.Address) (*types.Account, error) {
	account := new(types.Account)
	ok, err := m.KVGet(AccountKey(addr), account)
	if err != nil {
		return nil, err
	}
	if !ok {
		return types.NewAccount(), nil
	}
	if account.Balance == nil {
		account.Balance = big.NewInt(0)
	}
	return account, nil
}

// PutAccount stores the account. Empty accounts are removed from state.
func (m *Manager) PutAccount(addr crypto.Address, account *types.Account) error {
	if account.IsEmpty() {
		return m.KVDelete(AccountKey(addr))
	}
	stored := account.Copy()
	if stored.Balance.Sign() < 0 {
		return errNegativeBalance
	}
	return m.KVPut(AccountKey(addr), stored)
}
