package token

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"loyaltypay/core/types"
	"loyaltypay/crypto"
)

const (
	MaxNameLength        = 64
	MaxSymbolLength      = 10
	MaxURILength         = 200
	MaxCreators          = 5
	MaxSellerFeeBasisPts = 10_000
	nonFungibleDecimals  = 0
	nonFungibleMaxSupply = 1
	holdingSeed          = "holding"
	metadataSeed         = "metadata"
)

// Mint describes a token kind. Non-fungible mints have zero decimals and a
// supply capped at one unit.
type Mint struct {
	Symbol           string         `json:"symbol"`
	Decimals         uint8          `json:"decimals"`
	Supply           uint64         `json:"supply"`
	MintAuthority    crypto.Address `json:"mintAuthority"`
	AuthorityRevoked bool           `json:"authorityRevoked"`
	NonFungible      bool           `json:"nonFungible"`
}

// Clone returns a copy of the mint.
func (m *Mint) Clone() *Mint {
	if m == nil {
		return nil
	}
	out := *m
	return &out
}

// Validate checks the static properties of a mint descriptor.
func (m *Mint) Validate() error {
	if m == nil {
		return ErrInvalidMint
	}
	symbol := strings.TrimSpace(m.Symbol)
	if symbol == "" || utf8.RuneCountInString(symbol) > MaxSymbolLength {
		return fmt.Errorf("%w: symbol %q", ErrInvalidMint, m.Symbol)
	}
	if m.NonFungible && m.Decimals != nonFungibleDecimals {
		return fmt.Errorf("%w: non-fungible mint must have zero decimals", ErrInvalidMint)
	}
	if m.NonFungible && m.Supply > nonFungibleMaxSupply {
		return ErrSupplyFixed
	}
	return nil
}

// Holding is an owner's balance of a single mint.
type Holding struct {
	Owner  crypto.Address `json:"owner"`
	Mint   crypto.Address `json:"mint"`
	Amount uint64         `json:"amount"`
}

// Address returns the derived address of the holding.
func (h *Holding) Address() crypto.Address {
	return HoldingAddress(h.Owner, h.Mint)
}

// Clone returns a copy of the holding.
func (h *Holding) Clone() *Holding {
	if h == nil {
		return nil
	}
	out := *h
	return &out
}

// HoldingAddress derives the canonical holding address for (owner, mint).
func HoldingAddress(owner, mint crypto.Address) crypto.Address {
	return crypto.DeriveAddress([]byte(holdingSeed), owner[:], mint[:])
}

// MetadataAddress derives the metadata account address for a mint.
func MetadataAddress(mint crypto.Address) crypto.Address {
	return crypto.DeriveAddress([]byte(metadataSeed), mint[:])
}

// Metadata is the on-ledger descriptor of a (typically non-fungible) mint.
// URI points at the off-ledger JSON document.
type Metadata struct {
	Mint                 crypto.Address  `json:"mint"`
	UpdateAuthority      crypto.Address  `json:"updateAuthority"`
	Name                 string          `json:"name"`
	Symbol               string          `json:"symbol"`
	URI                  string          `json:"uri"`
	SellerFeeBasisPoints uint16          `json:"sellerFeeBasisPoints"`
	Creators             []types.Creator `json:"creators"`
	IsMutable            bool            `json:"isMutable"`
}

// Clone returns a deep copy of the metadata.
func (m *Metadata) Clone() *Metadata {
	if m == nil {
		return nil
	}
	out := *m
	if len(m.Creators) > 0 {
		out.Creators = append([]types.Creator(nil), m.Creators...)
	}
	return &out
}

// Fields returns the mutable descriptive fields.
func (m *Metadata) Fields() types.MetadataFields {
	if m == nil {
		return types.MetadataFields{}
	}
	return types.MetadataFields{
		Name:                 m.Name,
		Symbol:               m.Symbol,
		URI:                  m.URI,
		SellerFeeBasisPoints: m.SellerFeeBasisPoints,
		Creators:             append([]types.Creator(nil), m.Creators...),
	}
}

func (m *Metadata) apply(fields types.MetadataFields) {
	m.Name = strings.TrimSpace(fields.Name)
	m.Symbol = strings.TrimSpace(fields.Symbol)
	m.URI = strings.TrimSpace(fields.URI)
	m.SellerFeeBasisPoints = fields.SellerFeeBasisPoints
	m.Creators = append([]types.Creator(nil), fields.Creators...)
}

// ValidateMetadataFields enforces the size limits of the metadata account.
func ValidateMetadataFields(fields types.MetadataFields) error {
	name := strings.TrimSpace(fields.Name)
	if name == "" || utf8.RuneCountInString(name) > MaxNameLength {
		return fmt.Errorf("%w: name length", ErrInvalidMetadata)
	}
	if utf8.RuneCountInString(strings.TrimSpace(fields.Symbol)) > MaxSymbolLength {
		return fmt.Errorf("%w: symbol length", ErrInvalidMetadata)
	}
	uri := strings.TrimSpace(fields.URI)
	if uri == "" || len(uri) > MaxURILength {
		return fmt.Errorf("%w: uri length", ErrInvalidMetadata)
	}
	if fields.SellerFeeBasisPoints > MaxSellerFeeBasisPts {
		return fmt.Errorf("%w: seller fee %d exceeds %d", ErrInvalidMetadata, fields.SellerFeeBasisPoints, MaxSellerFeeBasisPts)
	}
	if len(fields.Creators) > MaxCreators {
		return fmt.Errorf("%w: too many creators", ErrInvalidMetadata)
	}
	if len(fields.Creators) > 0 {
		total := 0
		seen := make(map[crypto.Address]struct{}, len(fields.Creators))
		for _, creator := range fields.Creators {
			if _, dup := seen[creator.Address]; dup {
				return fmt.Errorf("%w: duplicate creator %s", ErrInvalidMetadata, creator.Address)
			}
			seen[creator.Address] = struct{}{}
			total += int(creator.Share)
		}
		if total != 100 {
			return fmt.Errorf("%w: creator shares sum to %d", ErrInvalidMetadata, total)
		}
	}
	return nil
}
