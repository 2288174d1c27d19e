package state

import "loyaltypay/crypto"

var (
	accountPrefix        = []byte("account/")
	tokenMintPrefix      = []byte("token/mint/")
	tokenHoldingPrefix   = []byte("token/holding/")
	tokenMetadataPrefix  = []byte("token/metadata/")
	loyaltyRecordPrefix  = []byte("loyalty/record/")
	referencePrefix      = []byte("payments/reference/")
	referenceSpentPrefix = []byte("payments/consumed/")
)

func prefixed(prefix []byte, parts ...[]byte) []byte {
	size := len(prefix)
	for _, p := range parts {
		size += len(p)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, prefix...)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return buf
}

// AccountKey returns the raw key of an account before hashing.
func AccountKey(addr crypto.Address) []byte {
	return prefixed(accountPrefix, addr[:])
}

// LoyaltyRecordKey returns the raw key of a loyalty record before hashing.
func LoyaltyRecordKey(addr crypto.Address) []byte {
	return prefixed(loyaltyRecordPrefix, addr[:])
}
