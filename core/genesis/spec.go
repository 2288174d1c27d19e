package genesis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"
	"time"

	"loyaltypay/core/state"
	"loyaltypay/crypto"
	"loyaltypay/native/token"
)

// GenesisSpec describes the initial ledger state: payment tokens, base
// currency balances and pre-funded token holdings.
type GenesisSpec struct {
	GenesisTime string                       `json:"genesisTime"`
	ChainID     uint64                       `json:"chainId"`
	Tokens      []TokenSpec                  `json:"tokens"`
	Alloc       map[string]string            `json:"alloc"`    // addr -> base balance
	Holdings    map[string]map[string]uint64 `json:"holdings"` // addr -> symbol -> amount

	genesisTimestamp time.Time
}

// TokenSpec registers a fungible payment token.
type TokenSpec struct {
	Symbol        string `json:"symbol"`
	Decimals      uint8  `json:"decimals"`
	MintAuthority string `json:"mintAuthority"`
}

// TokenAddress derives the mint address used for a genesis token symbol.
func TokenAddress(symbol string) crypto.Address {
	return crypto.DeriveAddress([]byte("token"), []byte(strings.ToUpper(strings.TrimSpace(symbol))))
}

// LoadGenesisSpec reads and validates the JSON spec at path.
func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	return ParseGenesisSpec(raw)
}

// ParseGenesisSpec decodes a JSON spec, rejecting unknown fields.
func ParseGenesisSpec(raw []byte) (*GenesisSpec, error) {
	var spec GenesisSpec
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode genesis spec: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// Validate checks the spec for internal consistency.
func (s *GenesisSpec) Validate() error {
	if s == nil {
		return fmt.Errorf("genesis spec must not be nil")
	}
	if s.ChainID == 0 {
		return fmt.Errorf("genesis: chainId must be positive")
	}
	if strings.TrimSpace(s.GenesisTime) != "" {
		ts, err := time.Parse(time.RFC3339, strings.TrimSpace(s.GenesisTime))
		if err != nil {
			return fmt.Errorf("genesis: genesisTime: %w", err)
		}
		s.genesisTimestamp = ts.UTC()
	}
	symbols := make(map[string]struct{}, len(s.Tokens))
	for i, tok := range s.Tokens {
		symbol := strings.ToUpper(strings.TrimSpace(tok.Symbol))
		if symbol == "" {
			return fmt.Errorf("genesis: tokens[%d]: symbol required", i)
		}
		if _, dup := symbols[symbol]; dup {
			return fmt.Errorf("genesis: duplicate token %s", symbol)
		}
		symbols[symbol] = struct{}{}
		if _, err := crypto.DecodeAddress(tok.MintAuthority); err != nil {
			return fmt.Errorf("genesis: token %s mintAuthority: %w", symbol, err)
		}
	}
	for addr, amount := range s.Alloc {
		if _, err := crypto.DecodeAddress(addr); err != nil {
			return fmt.Errorf("genesis: alloc %q: %w", addr, err)
		}
		if _, err := parseAmount(amount); err != nil {
			return fmt.Errorf("genesis: alloc %q: %w", addr, err)
		}
	}
	for addr, holdings := range s.Holdings {
		if _, err := crypto.DecodeAddress(addr); err != nil {
			return fmt.Errorf("genesis: holdings %q: %w", addr, err)
		}
		for symbol := range holdings {
			if _, ok := symbols[strings.ToUpper(strings.TrimSpace(symbol))]; !ok {
				return fmt.Errorf("genesis: holdings %q: unknown token %s", addr, symbol)
			}
		}
	}
	return nil
}

// GenesisTimestamp returns the parsed genesis time, or the zero time.
func (s *GenesisSpec) GenesisTimestamp() time.Time {
	return s.genesisTimestamp
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	return amount, nil
}

// Apply writes the spec into state using the token program for mints and
// holdings. Iteration is sorted so the resulting root is deterministic.
func (s *GenesisSpec) Apply(manager *state.Manager) error {
	tokens := token.NewEngine()
	tokens.SetState(manager)

	for _, tok := range s.Tokens {
		authority, _ := crypto.DecodeAddress(tok.MintAuthority)
		desc := &token.Mint{Symbol: tok.Symbol, Decimals: tok.Decimals, MintAuthority: authority}
		if err := tokens.CreateMint(TokenAddress(tok.Symbol), desc); err != nil {
			return fmt.Errorf("genesis: token %s: %w", tok.Symbol, err)
		}
	}

	allocAddrs := make([]string, 0, len(s.Alloc))
	for addr := range s.Alloc {
		allocAddrs = append(allocAddrs, addr)
	}
	sort.Strings(allocAddrs)
	for _, addrStr := range allocAddrs {
		addr, _ := crypto.DecodeAddress(addrStr)
		amount, _ := parseAmount(s.Alloc[addrStr])
		account, err := manager.GetAccount(addr)
		if err != nil {
			return err
		}
		account.Balance.Add(account.Balance, amount)
		if err := manager.PutAccount(addr, account); err != nil {
			return err
		}
	}

	holderAddrs := make([]string, 0, len(s.Holdings))
	for addr := range s.Holdings {
		holderAddrs = append(holderAddrs, addr)
	}
	sort.Strings(holderAddrs)
	for _, addrStr := range holderAddrs {
		owner, _ := crypto.DecodeAddress(addrStr)
		symbols := make([]string, 0, len(s.Holdings[addrStr]))
		for symbol := range s.Holdings[addrStr] {
			symbols = append(symbols, symbol)
		}
		sort.Strings(symbols)
		for _, symbol := range symbols {
			mintAddr := TokenAddress(symbol)
			if _, _, err := tokens.CreateHolding(owner, mintAddr); err != nil {
				return fmt.Errorf("genesis: holding %s/%s: %w", addrStr, symbol, err)
			}
			amount := s.Holdings[addrStr][symbol]
			if amount == 0 {
				continue
			}
			desc, err := tokens.Mint(mintAddr)
			if err != nil {
				return err
			}
			if err := tokens.MintTo(mintAddr, owner, desc.MintAuthority, amount); err != nil {
				return fmt.Errorf("genesis: fund %s/%s: %w", addrStr, symbol, err)
			}
		}
	}
	return nil
}
