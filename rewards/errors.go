package rewards

import "errors"

var (
	// ErrMetadataParse is returned when a metadata document cannot be decoded
	// even after normalization and repair. Settlement is not affected.
	ErrMetadataParse = errors.New("rewards: metadata parse error")
	// ErrTierURIMissing is returned when the URI store has no entry for a tier.
	ErrTierURIMissing = errors.New("rewards: no metadata uri for tier")
	ErrFetchFailed    = errors.New("rewards: metadata fetch failed")
	// ErrRewardTokenMissing is returned when a follow-up needs a reward token
	// the record does not link yet.
	ErrRewardTokenMissing = errors.New("rewards: record has no reward token")
)
