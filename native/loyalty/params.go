package loyalty

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"loyaltypay/crypto"
)

const (
	// DefaultThreshold is the points milestone assigned to new records.
	DefaultThreshold = 100
	// DefaultRefundPercentage is the refund share applied once the milestone
	// is reached.
	DefaultRefundPercentage = 15
	// DefaultDepositPerByte prices the base-currency deposit reserved for a
	// record account.
	DefaultDepositPerByte = 10
	// AccountOverhead is the storage overhead charged on top of the record
	// layout when computing the deposit.
	AccountOverhead = 128
)

// ClosureAuthority selects which party may close a record.
type ClosureAuthority string

const (
	ClosureByCustomer ClosureAuthority = "customer"
	ClosureByMerchant ClosureAuthority = "merchant"
	ClosureByEither   ClosureAuthority = "either"
)

// ParseClosureAuthority normalises a configured closure authority. An empty
// value selects the customer.
func ParseClosureAuthority(s string) (ClosureAuthority, error) {
	switch ClosureAuthority(strings.ToLower(strings.TrimSpace(s))) {
	case "", ClosureByCustomer:
		return ClosureByCustomer, nil
	case ClosureByMerchant:
		return ClosureByMerchant, nil
	case ClosureByEither:
		return ClosureByEither, nil
	default:
		return "", fmt.Errorf("%w: closure authority %q", ErrInvalidParams, s)
	}
}

// Permits reports whether signer may close the record.
func (a ClosureAuthority) Permits(record *Record, signer crypto.Address) bool {
	if record == nil {
		return false
	}
	switch a {
	case ClosureByMerchant:
		return signer == record.Merchant
	case ClosureByEither:
		return signer == record.Merchant || signer == record.Customer
	default:
		return signer == record.Customer
	}
}

// Params configures the settlement program.
type Params struct {
	DefaultThreshold        uint64
	DefaultRefundPercentage uint8
	ClosureAuthority        ClosureAuthority
	DepositPerByte          uint64
}

// DefaultParams returns the stock configuration.
func DefaultParams() Params {
	return Params{
		DefaultThreshold:        DefaultThreshold,
		DefaultRefundPercentage: DefaultRefundPercentage,
		ClosureAuthority:        ClosureByCustomer,
		DepositPerByte:          DefaultDepositPerByte,
	}
}

// Validate checks the parameter ranges.
func (p Params) Validate() error {
	if p.DefaultThreshold == 0 {
		return fmt.Errorf("%w: threshold must be positive", ErrInvalidParams)
	}
	if p.DefaultRefundPercentage > 100 {
		return fmt.Errorf("%w: refund percentage %d exceeds 100", ErrInvalidParams, p.DefaultRefundPercentage)
	}
	if p.DepositPerByte == 0 {
		return fmt.Errorf("%w: deposit per byte must be positive", ErrInvalidParams)
	}
	if _, err := ParseClosureAuthority(string(p.ClosureAuthority)); err != nil {
		return err
	}
	if _, overflow := p.recordDeposit(); overflow {
		return fmt.Errorf("%w: deposit per byte too large", ErrInvalidParams)
	}
	return nil
}

// RecordDeposit is the base-currency amount reserved when a record is opened
// and released on closure.
func (p Params) RecordDeposit() uint64 {
	deposit, _ := p.recordDeposit()
	return deposit
}

func (p Params) recordDeposit() (uint64, bool) {
	size := uint256.NewInt(RecordSize + AccountOverhead)
	deposit, overflow := new(uint256.Int).MulOverflow(size, uint256.NewInt(p.DepositPerByte))
	if overflow || !deposit.IsUint64() {
		return 0, true
	}
	return deposit.Uint64(), false
}

// RefundAmount returns floor(amount*percentage/100) without intermediate
// overflow.
func RefundAmount(amount uint64, percentage uint8) uint64 {
	if percentage == 0 || amount == 0 {
		return 0
	}
	product := new(uint256.Int).Mul(uint256.NewInt(amount), uint256.NewInt(uint64(percentage)))
	return product.Div(product, uint256.NewInt(100)).Uint64()
}
