package loyalty

import (
	"errors"
	"math"
	"sort"
	"testing"
)

func TestClassifyBoundaries(t *testing.T) {
	cases := []struct {
		points uint64
		want   Tier
	}{
		{0, TierCommon},
		{32, TierCommon},
		{33, TierRare},
		{65, TierRare},
		{66, TierEpic},
		{99, TierEpic},
		{100, TierLegendary},
		{math.MaxUint64, TierLegendary},
	}
	for _, tc := range cases {
		if got := Classify(tc.points, 100); got != tc.want {
			t.Fatalf("Classify(%d, 100) = %s want %s", tc.points, got, tc.want)
		}
	}
}

func TestClassifyMonotonic(t *testing.T) {
	for _, threshold := range []uint64{0, 1, 2, 3, 7, 100, 101, 1_000_000, math.MaxUint64} {
		points := []uint64{0, 1, 2, threshold / 3, threshold/3 + 1, 2 * (threshold / 3), threshold, math.MaxUint64}
		if threshold > 0 {
			points = append(points, threshold-1)
		}
		sort.Slice(points, func(i, j int) bool { return points[i] < points[j] })
		prev := Classify(points[0], threshold)
		for _, p := range points[1:] {
			got := Classify(p, threshold)
			if got < prev {
				t.Fatalf("threshold %d: tier dropped at %d (%s < %s)", threshold, p, got, prev)
			}
			prev = got
		}
		if Classify(math.MaxUint64, threshold) != TierLegendary {
			t.Fatalf("threshold %d: max points must be legendary", threshold)
		}
	}
}

func TestClassifyLargeThresholdMatchesDefinition(t *testing.T) {
	threshold := uint64(math.MaxUint64 - 1)
	third := threshold / 3
	if Classify(third-1, threshold) != TierCommon || Classify(third, threshold) != TierRare {
		t.Fatalf("first boundary mismatch")
	}
	// 2*threshold/3 computed exactly for a threshold that would overflow 2*threshold.
	twoThirds := uint64(12297829382473034409)
	if Classify(twoThirds-1, threshold) != TierRare || Classify(twoThirds, threshold) != TierEpic {
		t.Fatalf("second boundary mismatch")
	}
}

func TestParseTier(t *testing.T) {
	for _, tier := range Tiers {
		parsed, err := ParseTier(tier.String())
		if err != nil || parsed != tier {
			t.Fatalf("parse %s: %v", tier, err)
		}
	}
	if tier, err := ParseTier(" legendary "); err != nil || tier != TierLegendary {
		t.Fatalf("case-insensitive parse failed: %v", err)
	}
	if _, err := ParseTier("mythic"); err == nil {
		t.Fatalf("expected unknown tier error")
	}
}

func TestRecordEncoding(t *testing.T) {
	rec := &Record{
		Merchant:           newTestAddress(0xEE),
		Customer:           newTestAddress(0xCC),
		LoyaltyPoints:      101,
		Threshold:          100,
		RefundPercentage:   15,
		RewardTokenAddress: newTestAddress(0x42),
	}
	encoded, err := EncodeRecord(rec)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(encoded) != RecordSize || RecordSize != 121 {
		t.Fatalf("unexpected size %d", len(encoded))
	}
	if encoded[DiscriminatorLength] != 0xEE || encoded[DiscriminatorLength+32] != 0xCC {
		t.Fatalf("merchant must precede customer in the layout")
	}
	if encoded[DiscriminatorLength+64] != 101 {
		t.Fatalf("points must be little endian")
	}
	decoded, err := DecodeRecord(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if *decoded != *rec {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}

	encoded[0] ^= 0xff
	if _, err := DecodeRecord(encoded); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("expected discriminator error, got %v", err)
	}
	if _, err := DecodeRecord(encoded[:10]); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("expected length error, got %v", err)
	}
	rec.RefundPercentage = 101
	if _, err := EncodeRecord(rec); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("expected refund range error, got %v", err)
	}
}

func TestDerivedAddressesDiffer(t *testing.T) {
	c, m := newTestAddress(1), newTestAddress(2)
	if DeriveRecordAddress(c, m) == DeriveRecordAddress(m, c) {
		t.Fatalf("record address must depend on role order")
	}
	if DeriveRecordAddress(c, m) == DeriveMintAddress(c, m) {
		t.Fatalf("record and mint addresses must differ")
	}
}

func TestRefundAmount(t *testing.T) {
	cases := []struct {
		amount uint64
		pct    uint8
		want   uint64
	}{
		{10, 15, 1},
		{10_000_000, 15, 1_500_000},
		{6, 15, 0},
		{100, 0, 0},
		{100, 100, 100},
		{math.MaxUint64, 100, math.MaxUint64},
		{math.MaxUint64, 15, 2767011611056432742},
	}
	for _, tc := range cases {
		if got := RefundAmount(tc.amount, tc.pct); got != tc.want {
			t.Fatalf("RefundAmount(%d, %d) = %d want %d", tc.amount, tc.pct, got, tc.want)
		}
	}
}

func TestParamsValidate(t *testing.T) {
	p := DefaultParams()
	if err := p.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if p.RecordDeposit() != (RecordSize+AccountOverhead)*DefaultDepositPerByte {
		t.Fatalf("unexpected deposit %d", p.RecordDeposit())
	}
	bad := p
	bad.DefaultRefundPercentage = 101
	if err := bad.Validate(); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected invalid params, got %v", err)
	}
	bad = p
	bad.ClosureAuthority = "auditor"
	if err := bad.Validate(); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected invalid closure authority, got %v", err)
	}
	bad = p
	bad.DepositPerByte = math.MaxUint64
	if err := bad.Validate(); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected deposit overflow, got %v", err)
	}
}
