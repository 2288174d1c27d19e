package rewards

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"loyaltypay/native/loyalty"
)

// URIStore maps each tier to the URI of its metadata document.
type URIStore struct {
	uris map[loyalty.Tier]string
}

type uriStoreFile struct {
	Tiers map[string]string `yaml:"tiers"`
}

// NewURIStore validates that every tier has a URI.
func NewURIStore(uris map[loyalty.Tier]string) (*URIStore, error) {
	store := &URIStore{uris: make(map[loyalty.Tier]string, len(loyalty.Tiers))}
	for tier, uri := range uris {
		if !tier.Valid() {
			return nil, fmt.Errorf("rewards: unknown tier %d", tier)
		}
		store.uris[tier] = strings.TrimSpace(uri)
	}
	for _, tier := range loyalty.Tiers {
		if store.uris[tier] == "" {
			return nil, fmt.Errorf("%w: %s", ErrTierURIMissing, tier)
		}
	}
	return store, nil
}

// LoadURIStore reads a YAML file of the form
//
//	tiers:
//	  Common: https://.../common.json
//	  Rare: https://.../rare.json
func LoadURIStore(path string) (*URIStore, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rewards: read uri store: %w", err)
	}
	return ParseURIStore(raw)
}

func ParseURIStore(raw []byte) (*URIStore, error) {
	var file uriStoreFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("rewards: decode uri store: %w", err)
	}
	uris := make(map[loyalty.Tier]string, len(file.Tiers))
	for name, uri := range file.Tiers {
		tier, err := loyalty.ParseTier(name)
		if err != nil {
			return nil, fmt.Errorf("rewards: uri store: %w", err)
		}
		uris[tier] = uri
	}
	return NewURIStore(uris)
}

// URI returns the metadata URI for tier.
func (s *URIStore) URI(tier loyalty.Tier) (string, error) {
	if s == nil {
		return "", fmt.Errorf("%w: %s", ErrTierURIMissing, tier)
	}
	uri, ok := s.uris[tier]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrTierURIMissing, tier)
	}
	return uri, nil
}

// TierForURI is the reverse lookup used when reconciling on-ledger metadata.
func (s *URIStore) TierForURI(uri string) (loyalty.Tier, bool) {
	if s == nil {
		return 0, false
	}
	uri = strings.TrimSpace(uri)
	for _, tier := range loyalty.Tiers {
		if s.uris[tier] == uri {
			return tier, true
		}
	}
	return 0, false
}
