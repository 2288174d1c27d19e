package core

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"loyaltypay/core/events"
	"loyaltypay/core/genesis"
	"loyaltypay/core/types"
	"loyaltypay/crypto"
	"loyaltypay/native/loyalty"
	"loyaltypay/native/token"
	"loyaltypay/storage"
)

const testChainID = 7

type ledgerHarness struct {
	ledger   *Ledger
	customer *crypto.PrivateKey
	merchant *crypto.PrivateKey
	issuer   *crypto.PrivateKey
	usdc     crypto.Address
}

func newTestGenesis(t *testing.T, customer, merchant, issuer crypto.Address) *genesis.GenesisSpec {
	t.Helper()
	spec := &genesis.GenesisSpec{
		GenesisTime: "2024-01-01T00:00:00Z",
		ChainID:     testChainID,
		Tokens:      []genesis.TokenSpec{{Symbol: "USDC", Decimals: 6, MintAuthority: issuer.String()}},
		Alloc: map[string]string{
			customer.String(): "1000000",
			merchant.String(): "1000000",
		},
		Holdings: map[string]map[string]uint64{
			customer.String(): {"USDC": 1_000_000_000},
			merchant.String(): {"USDC": 0},
		},
	}
	require.NoError(t, spec.Validate())
	return spec
}

func newLedgerHarness(t *testing.T, params loyalty.Params) *ledgerHarness {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	return newLedgerHarnessWithDB(t, db, params)
}

func newLedgerHarnessWithDB(t *testing.T, db storage.Database, params loyalty.Params) *ledgerHarness {
	t.Helper()
	h := &ledgerHarness{}
	var err error
	h.customer, err = crypto.GeneratePrivateKey()
	require.NoError(t, err)
	h.merchant, err = crypto.GeneratePrivateKey()
	require.NoError(t, err)
	h.issuer, err = crypto.GeneratePrivateKey()
	require.NoError(t, err)
	spec := newTestGenesis(t, h.customer.Address(), h.merchant.Address(), h.issuer.Address())
	h.ledger, err = NewLedger(db, spec, params, WithClock(func() time.Time { return time.Unix(1_700_000_000, 0) }))
	require.NoError(t, err)
	h.usdc = genesis.TokenAddress("USDC")
	return h
}

func (h *ledgerHarness) send(t *testing.T, key *crypto.PrivateKey, txType types.TxType, payload interface{}) *types.Receipt {
	t.Helper()
	account, err := h.ledger.Account(key.Address())
	require.NoError(t, err)
	tx, err := types.NewTransaction(testChainID, txType, account.Nonce, payload)
	require.NoError(t, err)
	require.NoError(t, tx.Sign(key.PrivateKey))
	receipt, err := h.ledger.SubmitTransaction(tx)
	require.NoError(t, err)
	return receipt
}

func (h *ledgerHarness) pay(t *testing.T, amount uint64) *types.Receipt {
	t.Helper()
	return h.send(t, h.customer, types.TxTypeProcessPayment, &types.ProcessPaymentPayload{
		Customer: h.customer.Address(),
		Merchant: h.merchant.Address(),
		Mint:     h.usdc,
		Amount:   amount,
	})
}

func (h *ledgerHarness) balance(t *testing.T, owner crypto.Address) uint64 {
	t.Helper()
	holding, err := h.ledger.Holding(owner, h.usdc)
	require.NoError(t, err)
	return holding.Amount
}

func TestLedgerDirectSettlementScenario(t *testing.T) {
	h := newLedgerHarness(t, loyalty.DefaultParams())
	merchant := h.merchant.Address()

	r := h.pay(t, 50)
	require.True(t, r.Succeeded(), r.Error)
	settled := r.EventsOfType(events.TypeLoyaltyPaymentSettled)
	require.Len(t, settled, 1)
	require.Equal(t, "mint", settled[0].Attributes["rewardAction"])
	require.Len(t, r.EventsOfType(events.TypeLoyaltyRecordCreated), 1)
	require.Equal(t, uint64(50), h.balance(t, merchant))

	r = h.pay(t, 51)
	require.True(t, r.Succeeded(), r.Error)
	require.Equal(t, uint64(101), h.balance(t, merchant))

	r = h.pay(t, 10)
	require.True(t, r.Succeeded(), r.Error)
	require.Equal(t, uint64(110), h.balance(t, merchant))
	require.Len(t, r.Transfers, 1)
	require.Equal(t, uint64(9), r.Transfers[0].Amount)

	record, err := h.ledger.Record(h.customer.Address(), merchant)
	require.NoError(t, err)
	require.Equal(t, uint64(111), record.LoyaltyPoints)
	require.Equal(t, loyalty.TierLegendary, record.Tier())
	require.Equal(t, uint64(3), h.ledger.Head().Slot)
}

func TestLedgerFailedTransactionRollsBack(t *testing.T) {
	h := newLedgerHarness(t, loyalty.DefaultParams())
	before := h.ledger.Head()
	customerBefore, err := h.ledger.Account(h.customer.Address())
	require.NoError(t, err)

	r := h.pay(t, 2_000_000_000)
	require.False(t, r.Succeeded())
	require.Equal(t, "INSUFFICIENT_FUNDS", r.ErrorCode)
	require.True(t, errors.Is(ReceiptError(r), token.ErrInsufficientFunds))
	require.Empty(t, r.Events)

	require.Equal(t, before, h.ledger.Head())
	customerAfter, err := h.ledger.Account(h.customer.Address())
	require.NoError(t, err)
	require.Equal(t, customerBefore.Nonce, customerAfter.Nonce)
	require.Zero(t, customerBefore.Balance.Cmp(customerAfter.Balance))
	_, err = h.ledger.Record(h.customer.Address(), h.merchant.Address())
	require.ErrorIs(t, err, loyalty.ErrRecordNotFound)

	stored, err := h.ledger.GetTransaction(r.TxHash)
	require.NoError(t, err)
	require.Equal(t, types.ReceiptStatusFailed, stored.Receipt.Status)
}

func TestLedgerAdmissionChecks(t *testing.T) {
	h := newLedgerHarness(t, loyalty.DefaultParams())
	payload := &types.ProcessPaymentPayload{Customer: h.customer.Address(), Merchant: h.merchant.Address(), Mint: h.usdc, Amount: 1}

	tx, err := types.NewTransaction(testChainID+1, types.TxTypeProcessPayment, 0, payload)
	require.NoError(t, err)
	require.NoError(t, tx.Sign(h.customer.PrivateKey))
	_, err = h.ledger.SubmitTransaction(tx)
	require.ErrorIs(t, err, ErrChainIDMismatch)

	tx, err = types.NewTransaction(testChainID, types.TxTypeProcessPayment, 5, payload)
	require.NoError(t, err)
	require.NoError(t, tx.Sign(h.customer.PrivateKey))
	_, err = h.ledger.SubmitTransaction(tx)
	require.ErrorIs(t, err, ErrNonceMismatch)

	tx, err = types.NewTransaction(testChainID, types.TxTypeProcessPayment, 0, payload)
	require.NoError(t, err)
	_, err = h.ledger.SubmitTransaction(tx)
	require.ErrorIs(t, err, types.ErrMissingSignature)
}

func TestLedgerDetectedSettlement(t *testing.T) {
	h := newLedgerHarness(t, loyalty.DefaultParams())
	customer, merchant := h.customer.Address(), h.merchant.Address()
	ref := common.HexToHash("0xfeed")

	// Bring the pair past the threshold so the detected payment is refunded.
	require.True(t, h.pay(t, 100).Succeeded())

	transfer := h.send(t, h.customer, types.TxTypeTransfer, &types.TransferPayload{
		To: merchant, Mint: h.usdc, Amount: 10_000_000, References: []common.Hash{ref},
	})
	require.True(t, transfer.Succeeded(), transfer.Error)
	require.Equal(t, []common.Hash{ref}, transfer.References)

	payments, err := h.ledger.FindReference(ref)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	require.Equal(t, transfer.TxHash, payments[0].TxHash)
	require.Equal(t, customer, payments[0].Payer)

	customerBefore := h.balance(t, customer)
	settle := &types.ProcessPaymentPayload{Customer: customer, Merchant: merchant, Mint: h.usdc, Amount: 10_000_000, Reference: ref}

	wrongSigner := h.send(t, h.customer, types.TxTypeProcessPayment, settle)
	require.False(t, wrongSigner.Succeeded())
	require.Equal(t, "UNAUTHORIZED_SIGNER", wrongSigner.ErrorCode)

	r := h.send(t, h.merchant, types.TxTypeProcessPayment, settle)
	require.True(t, r.Succeeded(), r.Error)
	require.Equal(t, customerBefore+1_500_000, h.balance(t, customer))
	require.Equal(t, uint64(100+8_500_000), h.balance(t, merchant))

	consumed, err := h.ledger.ReferenceConsumed(ref)
	require.NoError(t, err)
	require.True(t, consumed)

	replay := h.send(t, h.merchant, types.TxTypeProcessPayment, settle)
	require.False(t, replay.Succeeded())
	require.ErrorIs(t, ReceiptError(replay), loyalty.ErrReferenceConsumed)

	unknown := *settle
	unknown.Reference = common.HexToHash("0xbeef")
	missing := h.send(t, h.merchant, types.TxTypeProcessPayment, &unknown)
	require.ErrorIs(t, ReceiptError(missing), loyalty.ErrPaymentNotFound)
}

func TestLedgerRewardTokenLifecycle(t *testing.T) {
	h := newLedgerHarness(t, loyalty.DefaultParams())
	customer, merchant := h.customer.Address(), h.merchant.Address()
	require.True(t, h.pay(t, 20).Succeeded())

	fields := types.MetadataFields{
		Name:                 "Loyalty Card NFT",
		URI:                  "https://rewards.example/common.json",
		SellerFeeBasisPoints: 500,
		Creators:             []types.Creator{{Address: merchant, Verified: true, Share: 100}},
	}
	mintPayload := &types.MintRewardTokenPayload{Customer: customer, Merchant: merchant, Metadata: fields}

	denied := h.send(t, h.customer, types.TxTypeMintRewardToken, mintPayload)
	require.ErrorIs(t, ReceiptError(denied), loyalty.ErrUnauthorizedSigner)

	r := h.send(t, h.merchant, types.TxTypeMintRewardToken, mintPayload)
	require.True(t, r.Succeeded(), r.Error)
	rewardMint := loyalty.DeriveMintAddress(customer, merchant)

	record, err := h.ledger.Record(customer, merchant)
	require.NoError(t, err)
	require.Equal(t, rewardMint, record.RewardTokenAddress)

	desc, err := h.ledger.Mint(rewardMint)
	require.NoError(t, err)
	require.Equal(t, uint64(1), desc.Supply)
	require.True(t, desc.AuthorityRevoked)
	require.Equal(t, loyalty.DefaultRewardSymbol, desc.Symbol)
	holding, err := h.ledger.Holding(customer, rewardMint)
	require.NoError(t, err)
	require.Equal(t, uint64(1), holding.Amount)

	again := h.send(t, h.merchant, types.TxTypeMintRewardToken, mintPayload)
	require.True(t, again.Succeeded())
	desc, err = h.ledger.Mint(rewardMint)
	require.NoError(t, err)
	require.Equal(t, uint64(1), desc.Supply)

	fields.URI = "https://rewards.example/rare.json"
	update := &types.UpdateRewardMetadataPayload{Mint: rewardMint, Metadata: fields}
	require.ErrorIs(t, ReceiptError(h.send(t, h.customer, types.TxTypeUpdateRewardMetadata, update)), token.ErrUnauthorized)
	require.True(t, h.send(t, h.merchant, types.TxTypeUpdateRewardMetadata, update).Succeeded())

	meta, err := h.ledger.Metadata(rewardMint)
	require.NoError(t, err)
	require.Equal(t, fields.URI, meta.URI)
	require.Equal(t, uint16(500), meta.SellerFeeBasisPoints)
}

func TestLedgerCloseReleasesDeposit(t *testing.T) {
	h := newLedgerHarness(t, loyalty.DefaultParams())
	customer, merchant := h.customer.Address(), h.merchant.Address()
	start, err := h.ledger.Account(customer)
	require.NoError(t, err)

	require.True(t, h.pay(t, 5).Succeeded())
	afterOpen, err := h.ledger.Account(customer)
	require.NoError(t, err)
	deposit := new(big.Int).SetUint64(h.ledger.Params().RecordDeposit())
	require.Zero(t, new(big.Int).Sub(start.Balance, deposit).Cmp(afterOpen.Balance))

	closePayload := &types.CloseLoyaltyCardPayload{Customer: customer, Merchant: merchant}
	require.ErrorIs(t, ReceiptError(h.send(t, h.merchant, types.TxTypeCloseLoyaltyCard, closePayload)), loyalty.ErrUnauthorizedSigner)

	r := h.send(t, h.customer, types.TxTypeCloseLoyaltyCard, closePayload)
	require.True(t, r.Succeeded(), r.Error)
	afterClose, err := h.ledger.Account(customer)
	require.NoError(t, err)
	require.Equal(t, 1, afterClose.Balance.Cmp(afterOpen.Balance))
	require.Zero(t, start.Balance.Cmp(afterClose.Balance))

	_, err = h.ledger.Record(customer, merchant)
	require.ErrorIs(t, err, loyalty.ErrRecordNotFound)
	require.ErrorIs(t, ReceiptError(h.send(t, h.customer, types.TxTypeCloseLoyaltyCard, closePayload)), loyalty.ErrRecordNotFound)
}

func TestLedgerReopensFromLevelDB(t *testing.T) {
	dir := t.TempDir()
	db, err := storage.NewLevelDB(dir)
	require.NoError(t, err)
	h := newLedgerHarnessWithDB(t, db, loyalty.DefaultParams())
	require.True(t, h.pay(t, 42).Succeeded())
	head := h.ledger.Head()
	db.Close()

	db, err = storage.NewLevelDB(dir)
	require.NoError(t, err)
	defer db.Close()
	reopened, err := NewLedger(db, nil, loyalty.DefaultParams())
	require.NoError(t, err)
	require.Equal(t, head, reopened.Head())
	require.Equal(t, uint64(testChainID), reopened.ChainID())

	record, err := reopened.Record(h.customer.Address(), h.merchant.Address())
	require.NoError(t, err)
	require.Equal(t, uint64(42), record.LoyaltyPoints)

	slot, err := reopened.GetSlot(head.Slot)
	require.NoError(t, err)
	require.Equal(t, head.StateRoot, slot.StateRoot)
}

func TestNewLedgerRequiresGenesis(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	_, err := NewLedger(db, nil, loyalty.DefaultParams())
	require.ErrorIs(t, err, ErrGenesisRequired)
}
