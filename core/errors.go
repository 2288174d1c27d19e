package core

import (
	"errors"
	"fmt"

	"loyaltypay/core/types"
	"loyaltypay/native/loyalty"
	"loyaltypay/native/token"
)

var (
	ErrChainIDMismatch     = errors.New("ledger: chain id mismatch")
	ErrNonceMismatch       = errors.New("ledger: nonce mismatch")
	ErrUnknownTxType       = errors.New("ledger: unknown transaction type")
	ErrTooManyReferences   = errors.New("ledger: too many references")
	ErrTransactionNotFound = errors.New("ledger: transaction not found")
	ErrSlotNotFound        = errors.New("ledger: slot not found")
	ErrGenesisRequired     = errors.New("ledger: genesis required for empty database")
	ErrExecutionFailed     = errors.New("ledger: execution failed")
)

// errorCodes maps the program sentinels onto the stable codes stored in
// receipts. The codes survive the RPC boundary so clients can match failures
// with errors.Is against the original sentinel.
var errorCodes = []struct {
	code string
	err  error
}{
	{"ARITHMETIC_OVERFLOW", loyalty.ErrArithmeticOverflow},
	{"UNAUTHORIZED_SIGNER", loyalty.ErrUnauthorizedSigner},
	{"RECORD_NOT_FOUND", loyalty.ErrRecordNotFound},
	{"INVALID_AMOUNT", loyalty.ErrInvalidAmount},
	{"SELF_PAYMENT", loyalty.ErrSelfPayment},
	{"PAYMENT_TOKEN_MISMATCH", loyalty.ErrPaymentTokenMismatch},
	{"PAYMENT_NOT_FOUND", loyalty.ErrPaymentNotFound},
	{"REFERENCE_CONSUMED", loyalty.ErrReferenceConsumed},
	{"INSUFFICIENT_DEPOSIT", loyalty.ErrInsufficientDeposit},
	{"MINT_NOT_FOUND", token.ErrMintNotFound},
	{"MINT_EXISTS", token.ErrMintExists},
	{"HOLDING_NOT_FOUND", token.ErrHoldingNotFound},
	{"TOKEN_INVALID_AMOUNT", token.ErrInvalidAmount},
	{"INSUFFICIENT_FUNDS", token.ErrInsufficientFunds},
	{"SELF_TRANSFER", token.ErrSelfTransfer},
	{"SUPPLY_OVERFLOW", token.ErrSupplyOverflow},
	{"SUPPLY_FIXED", token.ErrSupplyFixed},
	{"TOKEN_UNAUTHORIZED", token.ErrUnauthorized},
	{"MINT_AUTHORITY_REVOKED", token.ErrMintAuthorityRevoked},
	{"METADATA_NOT_FOUND", token.ErrMetadataNotFound},
	{"METADATA_IMMUTABLE", token.ErrMetadataImmutable},
	{"INVALID_METADATA", token.ErrInvalidMetadata},
	{"TOO_MANY_REFERENCES", ErrTooManyReferences},
	{"TRANSACTION_NOT_FOUND", ErrTransactionNotFound},
	{"SLOT_NOT_FOUND", ErrSlotNotFound},
	{"CHAIN_ID_MISMATCH", ErrChainIDMismatch},
	{"NONCE_MISMATCH", ErrNonceMismatch},
	{"UNKNOWN_TX_TYPE", ErrUnknownTxType},
	{"MISSING_SIGNATURE", types.ErrMissingSignature},
	{"INVALID_SIGNATURE", types.ErrInvalidSignature},
}

// CodeForError returns the receipt code for err, or "EXECUTION_FAILED" when
// the error is not a known program failure.
func CodeForError(err error) string {
	for _, entry := range errorCodes {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return "EXECUTION_FAILED"
}

// ErrorForCode is the inverse of CodeForError. Unknown codes map to
// ErrExecutionFailed with ok set to false.
func ErrorForCode(code string) (err error, ok bool) {
	for _, entry := range errorCodes {
		if entry.code == code {
			return entry.err, true
		}
	}
	return ErrExecutionFailed, false
}

// ReceiptError converts a failed receipt back into an error wrapping the
// original sentinel. Successful receipts yield nil.
func ReceiptError(receipt *types.Receipt) error {
	if receipt == nil || receipt.Succeeded() {
		return nil
	}
	sentinel, _ := ErrorForCode(receipt.ErrorCode)
	if receipt.Error == "" || receipt.Error == sentinel.Error() {
		return fmt.Errorf("tx %s: %w", receipt.TxHash.Hex(), sentinel)
	}
	return fmt.Errorf("tx %s: %w (%s)", receipt.TxHash.Hex(), sentinel, receipt.Error)
}
