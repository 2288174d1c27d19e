package token

import "errors"

var (
	ErrNilState             = errors.New("token: state not configured")
	ErrMintExists           = errors.New("token: mint already exists")
	ErrMintNotFound         = errors.New("token: mint not found")
	ErrInvalidMint          = errors.New("token: invalid mint")
	ErrHoldingNotFound      = errors.New("token: holding not found")
	ErrInvalidAmount        = errors.New("token: amount must be positive")
	ErrInsufficientFunds    = errors.New("token: insufficient funds")
	ErrSelfTransfer         = errors.New("token: sender and recipient are the same holding")
	ErrSupplyOverflow       = errors.New("token: supply overflow")
	ErrSupplyFixed          = errors.New("token: non-fungible supply is fixed at one")
	ErrUnauthorized         = errors.New("token: unauthorized")
	ErrMintAuthorityRevoked = errors.New("token: mint authority revoked")
	ErrMetadataExists       = errors.New("token: metadata already exists")
	ErrMetadataNotFound     = errors.New("token: metadata not found")
	ErrMetadataImmutable    = errors.New("token: metadata is immutable")
	ErrInvalidMetadata      = errors.New("token: invalid metadata")
)
