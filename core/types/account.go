package types

import "math/big"

// Account holds the base-currency balance and replay nonce for an address.
// Program-derived accounts such as loyalty records carry only the reserved
// deposit in Balance.
type Account struct {
	Nonce   uint64   `json:"nonce"`
	Balance *big.Int `json:"balance"`
}

// NewAccount returns an empty account with a zero balance.
func NewAccount() *Account {
	return &Account{Balance: big.NewInt(0)}
}

// Copy returns a deep copy of the account.
func (a *Account) Copy() *Account {
	if a == nil {
		return NewAccount()
	}
	out := &Account{Nonce: a.Nonce, Balance: big.NewInt(0)}
	if a.Balance != nil {
		out.Balance.Set(a.Balance)
	}
	return out
}

// IsEmpty reports whether the account carries no nonce and no balance.
func (a *Account) IsEmpty() bool {
	return a == nil || (a.Nonce == 0 && (a.Balance == nil || a.Balance.Sign() == 0))
}
