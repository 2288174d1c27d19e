package loyalty

import (
	"errors"
	"fmt"
	"math/big"
	"math/bits"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"loyaltypay/core/events"
	"loyaltypay/core/types"
	"loyaltypay/crypto"
	"loyaltypay/native/token"
)

// DefaultRewardSymbol is used for reward mints when the metadata carries no
// symbol.
const DefaultRewardSymbol = "BAGUETTE"

type engineState interface {
	LoyaltyRecord(addr crypto.Address) (*Record, bool, error)
	PutLoyaltyRecord(addr crypto.Address, record *Record) error
	DeleteLoyaltyRecord(addr crypto.Address) error
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, account *types.Account) error
	ReferencedPayments(ref common.Hash) ([]types.ReferencedPayment, error)
	ReferenceConsumed(ref common.Hash) (bool, error)
	MarkReferenceConsumed(ref common.Hash) error
}

type tokenProgram interface {
	Mint(addr crypto.Address) (*token.Mint, error)
	MintExists(addr crypto.Address) (bool, error)
	CreateMint(addr crypto.Address, mint *token.Mint) error
	CreateHolding(owner, mint crypto.Address) (*token.Holding, bool, error)
	Transfer(from, to, mint crypto.Address, amount uint64) error
	MintTo(mint, to, authority crypto.Address, amount uint64) error
	RevokeMintAuthority(mint, authority crypto.Address) error
	CreateMetadata(mint, authority, updateAuthority crypto.Address, fields types.MetadataFields, mutable bool) (*token.Metadata, error)
}

// Engine executes the loyalty instructions: settlement, closure and the
// reward token mint follow-up.
type Engine struct {
	state   engineState
	tokens  tokenProgram
	emitter events.Emitter
	params  Params
}

func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		params:  DefaultParams(),
	}
}

func (e *Engine) SetState(state engineState) { e.state = state }

func (e *Engine) SetTokenProgram(tokens tokenProgram) { e.tokens = tokens }

func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetParams replaces the program parameters after validating them.
func (e *Engine) SetParams(params Params) error {
	if err := params.Validate(); err != nil {
		return err
	}
	closure, _ := ParseClosureAuthority(string(params.ClosureAuthority))
	params.ClosureAuthority = closure
	e.params = params
	return nil
}

// Params returns the active parameters.
func (e *Engine) Params() Params { return e.params }

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil || e.tokens == nil {
		return ErrNilState
	}
	return nil
}

// Record returns the record for the pair or ErrRecordNotFound.
func (e *Engine) Record(customer, merchant crypto.Address) (*Record, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	record, ok, err := e.state.LoyaltyRecord(DeriveRecordAddress(customer, merchant))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrRecordNotFound
	}
	return record, nil
}

// Settle executes a processPayment instruction. All validation happens before
// the first write so a failed settlement leaves no trace even without the
// ledger's rollback.
func (e *Engine) Settle(req SettleRequest) (*SettlementResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if req.Amount == 0 {
		return nil, ErrInvalidAmount
	}
	if req.Customer == req.Merchant {
		return nil, ErrSelfPayment
	}
	if req.Detected() {
		if req.Signer != req.Merchant {
			return nil, fmt.Errorf("%w: detected settlement must be signed by the merchant", ErrUnauthorizedSigner)
		}
	} else if req.Signer != req.Customer {
		return nil, fmt.Errorf("%w: direct settlement must be signed by the customer", ErrUnauthorizedSigner)
	}
	paymentMint, err := e.tokens.Mint(req.Mint)
	if err != nil {
		return nil, err
	}
	if paymentMint.NonFungible {
		return nil, ErrPaymentTokenMismatch
	}

	addr := DeriveRecordAddress(req.Customer, req.Merchant)
	record, exists, err := e.state.LoyaltyRecord(addr)
	if err != nil {
		return nil, err
	}
	deposit := uint64(0)
	if exists {
		if record.Customer != req.Customer || record.Merchant != req.Merchant {
			return nil, fmt.Errorf("%w: record roles do not match", ErrUnauthorizedSigner)
		}
	} else {
		record = &Record{
			Merchant:         req.Merchant,
			Customer:         req.Customer,
			Threshold:        e.params.DefaultThreshold,
			RefundPercentage: e.params.DefaultRefundPercentage,
		}
		deposit = e.params.RecordDeposit()
	}

	prior := record.LoyaltyPoints
	next, carry := bits.Add64(prior, req.Amount, 0)
	if carry != 0 {
		return nil, ErrArithmeticOverflow
	}

	refund := uint64(0)
	if prior >= record.Threshold {
		refund = RefundAmount(req.Amount, record.RefundPercentage)
	}
	result := &SettlementResult{
		RecordAddress:  addr,
		Created:        !exists,
		PriorPoints:    prior,
		NewPoints:      next,
		MerchantAmount: req.Amount - refund,
		RefundAmount:   refund,
		PriorTier:      Classify(prior, record.Threshold),
		NewTier:        Classify(next, record.Threshold),
	}
	switch {
	case !record.HasRewardToken():
		result.Reward = RewardAction{Kind: RewardActionMint, Tier: result.NewTier}
	case result.PriorTier != result.NewTier:
		result.Reward = RewardAction{Kind: RewardActionRetier, Tier: result.NewTier}
	default:
		result.Reward = RewardAction{Kind: RewardActionNone, Tier: result.NewTier}
	}

	if req.Detected() {
		if err := e.verifyReferencedPayment(req); err != nil {
			return nil, err
		}
	}
	var customerAccount *types.Account
	if !exists {
		customerAccount, err = e.state.GetAccount(req.Customer)
		if err != nil {
			return nil, err
		}
		if customerAccount.Balance == nil || customerAccount.Balance.Cmp(new(big.Int).SetUint64(deposit)) < 0 {
			return nil, fmt.Errorf("%w: need %d", ErrInsufficientDeposit, deposit)
		}
	}

	// Funds first; the token program performs its own balance checks.
	if req.Detected() {
		if refund > 0 {
			if err := e.tokens.Transfer(req.Merchant, req.Customer, req.Mint, refund); err != nil {
				return nil, err
			}
		}
		if err := e.state.MarkReferenceConsumed(req.Reference); err != nil {
			return nil, err
		}
	} else if result.MerchantAmount > 0 {
		if err := e.tokens.Transfer(req.Customer, req.Merchant, req.Mint, result.MerchantAmount); err != nil {
			return nil, err
		}
	}

	if !exists {
		if err := e.reserveDeposit(addr, req.Customer, customerAccount, deposit); err != nil {
			return nil, err
		}
		e.emit(newRecordCreatedEvent(addr, record, deposit))
	}
	record.LoyaltyPoints = next
	if err := e.state.PutLoyaltyRecord(addr, record); err != nil {
		return nil, err
	}
	result.Record = record.Clone()
	e.emit(newPaymentSettledEvent(req, result))
	return result, nil
}

func (e *Engine) verifyReferencedPayment(req SettleRequest) error {
	consumed, err := e.state.ReferenceConsumed(req.Reference)
	if err != nil {
		return err
	}
	if consumed {
		return ErrReferenceConsumed
	}
	payments, err := e.state.ReferencedPayments(req.Reference)
	if err != nil {
		return err
	}
	for _, payment := range payments {
		if payment.Payer == req.Customer && payment.To == req.Merchant &&
			payment.Mint == req.Mint && payment.Amount == req.Amount {
			return nil
		}
	}
	return fmt.Errorf("%w: reference %s", ErrPaymentNotFound, req.Reference.Hex())
}

func (e *Engine) reserveDeposit(recordAddr, customer crypto.Address, customerAccount *types.Account, deposit uint64) error {
	if deposit == 0 {
		return nil
	}
	amount := new(big.Int).SetUint64(deposit)
	customerAccount = customerAccount.Copy()
	customerAccount.Balance.Sub(customerAccount.Balance, amount)
	if err := e.state.PutAccount(customer, customerAccount); err != nil {
		return err
	}
	recordAccount, err := e.state.GetAccount(recordAddr)
	if err != nil {
		return err
	}
	recordAccount = recordAccount.Copy()
	recordAccount.Balance.Add(recordAccount.Balance, amount)
	return e.state.PutAccount(recordAddr, recordAccount)
}

// Close executes a closeLoyaltyCard instruction: the record is deleted and
// its reserved deposit credited to the customer.
func (e *Engine) Close(req CloseRequest) error {
	if err := e.ready(); err != nil {
		return err
	}
	addr := DeriveRecordAddress(req.Customer, req.Merchant)
	record, ok, err := e.state.LoyaltyRecord(addr)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRecordNotFound
	}
	if !e.params.ClosureAuthority.Permits(record, req.Signer) {
		return fmt.Errorf("%w: closure requires the %s", ErrUnauthorizedSigner, e.params.ClosureAuthority)
	}
	recordAccount, err := e.state.GetAccount(addr)
	if err != nil {
		return err
	}
	released := big.NewInt(0)
	if recordAccount.Balance != nil {
		released.Set(recordAccount.Balance)
	}
	if released.Sign() > 0 {
		customerAccount, err := e.state.GetAccount(record.Customer)
		if err != nil {
			return err
		}
		customerAccount = customerAccount.Copy()
		customerAccount.Balance.Add(customerAccount.Balance, released)
		if err := e.state.PutAccount(record.Customer, customerAccount); err != nil {
			return err
		}
		if err := e.state.PutAccount(addr, types.NewAccount()); err != nil {
			return err
		}
	}
	if err := e.state.DeleteLoyaltyRecord(addr); err != nil {
		return err
	}
	e.emit(newRecordClosedEvent(addr, record, req.Signer, released.Uint64()))
	return nil
}

// MintRewardToken creates the pair's reward token, hands the single unit to
// the customer and links it to the record. Calling it again once the record is
// linked returns the existing address without touching state.
func (e *Engine) MintRewardToken(req MintRewardRequest) (crypto.Address, error) {
	if err := e.ready(); err != nil {
		return crypto.Address{}, err
	}
	if req.Signer != req.Merchant {
		return crypto.Address{}, fmt.Errorf("%w: reward mint must be signed by the merchant", ErrUnauthorizedSigner)
	}
	addr := DeriveRecordAddress(req.Customer, req.Merchant)
	record, ok, err := e.state.LoyaltyRecord(addr)
	if err != nil {
		return crypto.Address{}, err
	}
	if !ok {
		return crypto.Address{}, ErrRecordNotFound
	}
	if record.HasRewardToken() {
		return record.RewardTokenAddress, nil
	}
	if err := token.ValidateMetadataFields(req.Metadata); err != nil {
		return crypto.Address{}, err
	}

	mintAddr := DeriveMintAddress(req.Customer, req.Merchant)
	exists, err := e.tokens.MintExists(mintAddr)
	if err != nil {
		return crypto.Address{}, err
	}
	if !exists {
		symbol := strings.TrimSpace(req.Metadata.Symbol)
		if symbol == "" {
			symbol = DefaultRewardSymbol
		}
		desc := &token.Mint{Symbol: symbol, NonFungible: true, MintAuthority: req.Merchant}
		if err := e.tokens.CreateMint(mintAddr, desc); err != nil {
			return crypto.Address{}, err
		}
	}
	if _, _, err := e.tokens.CreateHolding(req.Customer, mintAddr); err != nil {
		return crypto.Address{}, err
	}
	desc, err := e.tokens.Mint(mintAddr)
	if err != nil {
		return crypto.Address{}, err
	}
	if desc.Supply == 0 {
		if err := e.tokens.MintTo(mintAddr, req.Customer, req.Merchant, 1); err != nil {
			return crypto.Address{}, err
		}
	}
	if !desc.AuthorityRevoked {
		_, err := e.tokens.CreateMetadata(mintAddr, req.Merchant, req.Merchant, req.Metadata, true)
		if err != nil && !errors.Is(err, token.ErrMetadataExists) {
			return crypto.Address{}, err
		}
		if err := e.tokens.RevokeMintAuthority(mintAddr, req.Merchant); err != nil {
			return crypto.Address{}, err
		}
	}

	record.RewardTokenAddress = mintAddr
	if err := e.state.PutLoyaltyRecord(addr, record); err != nil {
		return crypto.Address{}, err
	}
	e.emit(newRewardLinkedEvent(addr, record))
	return mintAddr, nil
}
