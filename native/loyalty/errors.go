package loyalty

import "errors"

var (
	ErrNilState             = errors.New("loyalty: state not configured")
	ErrArithmeticOverflow   = errors.New("loyalty: arithmetic overflow")
	ErrUnauthorizedSigner   = errors.New("loyalty: unauthorized signer")
	ErrRecordNotFound       = errors.New("loyalty: record not found")
	ErrInvalidAmount        = errors.New("loyalty: amount must be positive")
	ErrSelfPayment          = errors.New("loyalty: customer and merchant must differ")
	ErrPaymentTokenMismatch = errors.New("loyalty: payment token must be a fungible mint")
	ErrPaymentNotFound      = errors.New("loyalty: referenced payment not found")
	ErrReferenceConsumed    = errors.New("loyalty: payment reference already settled")
	ErrInsufficientDeposit  = errors.New("loyalty: insufficient balance for record deposit")
	ErrInvalidParams        = errors.New("loyalty: invalid params")
	ErrInvalidRecord        = errors.New("loyalty: invalid record encoding")
)
