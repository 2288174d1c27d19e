package token

import (
	"fmt"
	"math"
	"strings"

	"loyaltypay/core/events"
	"loyaltypay/core/types"
	"loyaltypay/crypto"
)

type engineState interface {
	TokenMint(addr crypto.Address) (*Mint, bool, error)
	PutTokenMint(addr crypto.Address, mint *Mint) error
	TokenHolding(owner, mint crypto.Address) (*Holding, bool, error)
	PutTokenHolding(holding *Holding) error
	TokenMetadata(mint crypto.Address) (*Metadata, bool, error)
	PutTokenMetadata(meta *Metadata) error
}

// Engine implements the fungible and non-fungible token instructions the
// loyalty program relies on: mints, holdings, transfers and metadata.
type Engine struct {
	state   engineState
	emitter events.Emitter
}

func NewEngine() *Engine {
	return &Engine{emitter: events.NoopEmitter{}}
}

func (e *Engine) SetState(state engineState) { e.state = state }

func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	return nil
}

// CreateMint registers a new mint at addr.
func (e *Engine) CreateMint(addr crypto.Address, mint *Mint) error {
	if err := e.ready(); err != nil {
		return err
	}
	if addr.IsZero() {
		return fmt.Errorf("%w: zero address", ErrInvalidMint)
	}
	if err := mint.Validate(); err != nil {
		return err
	}
	if _, exists, err := e.state.TokenMint(addr); err != nil {
		return err
	} else if exists {
		return ErrMintExists
	}
	stored := mint.Clone()
	stored.Symbol = strings.ToUpper(strings.TrimSpace(stored.Symbol))
	return e.state.PutTokenMint(addr, stored)
}

// Mint returns the mint descriptor stored at addr.
func (e *Engine) Mint(addr crypto.Address) (*Mint, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	mint, ok, err := e.state.TokenMint(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrMintNotFound
	}
	return mint, nil
}

// MintExists reports whether a mint has been created at addr.
func (e *Engine) MintExists(addr crypto.Address) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	_, ok, err := e.state.TokenMint(addr)
	return ok, err
}

// CreateHolding opens the holding for (owner, mint) if it does not exist yet.
// The boolean result reports whether a new holding was created.
func (e *Engine) CreateHolding(owner, mint crypto.Address) (*Holding, bool, error) {
	if err := e.ready(); err != nil {
		return nil, false, err
	}
	if _, err := e.Mint(mint); err != nil {
		return nil, false, err
	}
	existing, ok, err := e.state.TokenHolding(owner, mint)
	if err != nil {
		return nil, false, err
	}
	if ok {
		return existing, false, nil
	}
	holding := &Holding{Owner: owner, Mint: mint}
	if err := e.state.PutTokenHolding(holding); err != nil {
		return nil, false, err
	}
	e.emit(events.TokenHoldingCreated{Owner: owner, Mint: mint, Holding: holding.Address()})
	return holding.Clone(), true, nil
}

// Holding returns the holding for (owner, mint).
func (e *Engine) Holding(owner, mint crypto.Address) (*Holding, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	holding, ok, err := e.state.TokenHolding(owner, mint)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: owner %s mint %s", ErrHoldingNotFound, owner, mint)
	}
	return holding, nil
}

// Transfer moves amount units of mint between two existing holdings.
func (e *Engine) Transfer(from, to, mint crypto.Address, amount uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if amount == 0 {
		return ErrInvalidAmount
	}
	if from == to {
		return ErrSelfTransfer
	}
	if _, err := e.Mint(mint); err != nil {
		return err
	}
	src, err := e.Holding(from, mint)
	if err != nil {
		return err
	}
	dst, err := e.Holding(to, mint)
	if err != nil {
		return err
	}
	if src.Amount < amount {
		return fmt.Errorf("%w: have %d need %d", ErrInsufficientFunds, src.Amount, amount)
	}
	if dst.Amount > math.MaxUint64-amount {
		return ErrSupplyOverflow
	}
	src.Amount -= amount
	dst.Amount += amount
	if err := e.state.PutTokenHolding(src); err != nil {
		return err
	}
	if err := e.state.PutTokenHolding(dst); err != nil {
		return err
	}
	e.emit(events.TokenTransfer{From: from, To: to, Mint: mint, Amount: amount})
	return nil
}

// MintTo issues amount new units of mint into the holding owned by to. The
// caller must be the mint authority and the authority must not be revoked.
func (e *Engine) MintTo(mint, to, authority crypto.Address, amount uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if amount == 0 {
		return ErrInvalidAmount
	}
	desc, err := e.Mint(mint)
	if err != nil {
		return err
	}
	if desc.AuthorityRevoked {
		return ErrMintAuthorityRevoked
	}
	if desc.MintAuthority != authority {
		return ErrUnauthorized
	}
	if desc.Supply > math.MaxUint64-amount {
		return ErrSupplyOverflow
	}
	if desc.NonFungible && desc.Supply+amount > nonFungibleMaxSupply {
		return ErrSupplyFixed
	}
	holding, err := e.Holding(to, mint)
	if err != nil {
		return err
	}
	desc.Supply += amount
	holding.Amount += amount
	if err := e.state.PutTokenMint(mint, desc); err != nil {
		return err
	}
	if err := e.state.PutTokenHolding(holding); err != nil {
		return err
	}
	e.emit(events.TokenMinted{Mint: mint, To: to, Amount: amount, Supply: desc.Supply})
	return nil
}

// RevokeMintAuthority permanently disables further issuance.
func (e *Engine) RevokeMintAuthority(mint, authority crypto.Address) error {
	if err := e.ready(); err != nil {
		return err
	}
	desc, err := e.Mint(mint)
	if err != nil {
		return err
	}
	if desc.AuthorityRevoked {
		return nil
	}
	if desc.MintAuthority != authority {
		return ErrUnauthorized
	}
	desc.AuthorityRevoked = true
	desc.MintAuthority = crypto.ZeroAddress
	if err := e.state.PutTokenMint(mint, desc); err != nil {
		return err
	}
	e.emit(events.TokenAuthorityRevoked{Mint: mint, Caller: authority})
	return nil
}

// CreateMetadata attaches metadata to mint. Only the mint authority may
// create metadata, and only once.
func (e *Engine) CreateMetadata(mint, authority, updateAuthority crypto.Address, fields types.MetadataFields, mutable bool) (*Metadata, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	desc, err := e.Mint(mint)
	if err != nil {
		return nil, err
	}
	if desc.AuthorityRevoked || desc.MintAuthority != authority {
		return nil, ErrUnauthorized
	}
	if _, exists, err := e.state.TokenMetadata(mint); err != nil {
		return nil, err
	} else if exists {
		return nil, ErrMetadataExists
	}
	if err := ValidateMetadataFields(fields); err != nil {
		return nil, err
	}
	meta := &Metadata{Mint: mint, UpdateAuthority: updateAuthority, IsMutable: mutable}
	meta.apply(fields)
	if err := e.state.PutTokenMetadata(meta); err != nil {
		return nil, err
	}
	e.emit(events.TokenMetadataUpdated{Mint: mint, Name: meta.Name, URI: meta.URI, Created: true})
	return meta.Clone(), nil
}

// UpdateMetadata overwrites the descriptive fields of mint's metadata.
func (e *Engine) UpdateMetadata(mint, authority crypto.Address, fields types.MetadataFields) (*Metadata, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	meta, err := e.Metadata(mint)
	if err != nil {
		return nil, err
	}
	if meta.UpdateAuthority != authority {
		return nil, ErrUnauthorized
	}
	if !meta.IsMutable {
		return nil, ErrMetadataImmutable
	}
	if err := ValidateMetadataFields(fields); err != nil {
		return nil, err
	}
	meta.apply(fields)
	if err := e.state.PutTokenMetadata(meta); err != nil {
		return nil, err
	}
	e.emit(events.TokenMetadataUpdated{Mint: mint, Name: meta.Name, URI: meta.URI})
	return meta.Clone(), nil
}

// Metadata returns the metadata attached to mint.
func (e *Engine) Metadata(mint crypto.Address) (*Metadata, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	meta, ok, err := e.state.TokenMetadata(mint)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrMetadataNotFound
	}
	return meta, nil
}
