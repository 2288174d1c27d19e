package token_test

import (
	"errors"
	"strings"
	"testing"

	"loyaltypay/core/types"
	"loyaltypay/native/loyalty"
	"loyaltypay/native/token"
	"loyaltypay/rewards"
)

func TestRewardTierNamesFitMetadataLimits(t *testing.T) {
	for _, tier := range loyalty.Tiers {
		fields := types.MetadataFields{
			Name:   rewards.NameForTier(tier),
			Symbol: loyalty.DefaultRewardSymbol,
			URI:    "https://metadata.loyaltypay.example/tiers/" + strings.ToLower(tier.String()) + ".json",
		}
		if err := token.ValidateMetadataFields(fields); err != nil {
			t.Fatalf("tier %s: %v", tier, err)
		}
	}
}

func TestMetadataNameLimit(t *testing.T) {
	fields := types.MetadataFields{Name: strings.Repeat("n", token.MaxNameLength), URI: "https://m.example/a.json"}
	if err := token.ValidateMetadataFields(fields); err != nil {
		t.Fatalf("name at limit rejected: %v", err)
	}
	fields.Name += "n"
	if err := token.ValidateMetadataFields(fields); !errors.Is(err, token.ErrInvalidMetadata) {
		t.Fatalf("expected ErrInvalidMetadata, got %v", err)
	}
}
