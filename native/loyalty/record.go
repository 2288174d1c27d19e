package loyalty

import (
	"encoding/binary"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"loyaltypay/crypto"
)

const (
	recordSeed = "loyalty"
	mintSeed   = "mint"

	// DiscriminatorLength is the size of the account type tag that prefixes
	// every encoded record.
	DiscriminatorLength = 8
	// RecordSize is the encoded size of a record including the discriminator.
	RecordSize = DiscriminatorLength + crypto.AddressLength*3 + 8 + 8 + 1
)

// ProgramID namespaces every address derived by the loyalty program.
var ProgramID = crypto.DeriveAddress([]byte("loyaltypay/loyalty/v1"))

// RecordDiscriminator tags encoded loyalty records.
var RecordDiscriminator = func() [DiscriminatorLength]byte {
	var out [DiscriminatorLength]byte
	copy(out[:], ethcrypto.Keccak256([]byte("account:LoyaltyRecord")))
	return out
}()

// Record is the per (customer, merchant) loyalty account.
type Record struct {
	Merchant           crypto.Address `json:"merchant"`
	Customer           crypto.Address `json:"customer"`
	LoyaltyPoints      uint64         `json:"loyaltyPoints"`
	Threshold          uint64         `json:"threshold"`
	RefundPercentage   uint8          `json:"refundPercentage"`
	RewardTokenAddress crypto.Address `json:"rewardTokenAddress"`
}

// Clone returns a copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	return &out
}

// Tier classifies the record's current points.
func (r *Record) Tier() Tier {
	return Classify(r.LoyaltyPoints, r.Threshold)
}

// HasRewardToken reports whether the reward token has been linked.
func (r *Record) HasRewardToken() bool {
	return r != nil && !r.RewardTokenAddress.IsZero()
}

// DeriveRecordAddress returns the deterministic record address for the pair.
func DeriveRecordAddress(customer, merchant crypto.Address) crypto.Address {
	return crypto.DeriveAddress([]byte(recordSeed), customer[:], merchant[:], ProgramID[:])
}

// DeriveMintAddress returns the deterministic reward token mint for the pair.
func DeriveMintAddress(customer, merchant crypto.Address) crypto.Address {
	return crypto.DeriveAddress([]byte(mintSeed), customer[:], merchant[:], ProgramID[:])
}

// EncodeRecord serialises the record into its fixed layout:
// discriminator | merchant | customer | points (LE) | threshold (LE) | refund | reward.
func EncodeRecord(r *Record) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: nil record", ErrInvalidRecord)
	}
	if r.RefundPercentage > 100 {
		return nil, fmt.Errorf("%w: refund percentage %d", ErrInvalidRecord, r.RefundPercentage)
	}
	buf := make([]byte, RecordSize)
	offset := copy(buf, RecordDiscriminator[:])
	offset += copy(buf[offset:], r.Merchant[:])
	offset += copy(buf[offset:], r.Customer[:])
	binary.LittleEndian.PutUint64(buf[offset:], r.LoyaltyPoints)
	offset += 8
	binary.LittleEndian.PutUint64(buf[offset:], r.Threshold)
	offset += 8
	buf[offset] = r.RefundPercentage
	offset++
	copy(buf[offset:], r.RewardTokenAddress[:])
	return buf, nil
}

// DecodeRecord parses the fixed layout produced by EncodeRecord.
func DecodeRecord(data []byte) (*Record, error) {
	if len(data) != RecordSize {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidRecord, len(data))
	}
	var disc [DiscriminatorLength]byte
	copy(disc[:], data[:DiscriminatorLength])
	if disc != RecordDiscriminator {
		return nil, fmt.Errorf("%w: discriminator mismatch", ErrInvalidRecord)
	}
	r := new(Record)
	offset := DiscriminatorLength
	offset += copy(r.Merchant[:], data[offset:])
	offset += copy(r.Customer[:], data[offset:])
	r.LoyaltyPoints = binary.LittleEndian.Uint64(data[offset:])
	offset += 8
	r.Threshold = binary.LittleEndian.Uint64(data[offset:])
	offset += 8
	r.RefundPercentage = data[offset]
	offset++
	copy(r.RewardTokenAddress[:], data[offset:])
	if r.RefundPercentage > 100 {
		return nil, fmt.Errorf("%w: refund percentage %d", ErrInvalidRecord, r.RefundPercentage)
	}
	return r, nil
}
