package rewards

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"loyaltypay/core"
	"loyaltypay/core/genesis"
	"loyaltypay/core/types"
	"loyaltypay/crypto"
	"loyaltypay/native/loyalty"
	"loyaltypay/native/token"
	"loyaltypay/rpc"
	"loyaltypay/storage"
)

type staticDocuments map[string]*Document

func (s staticDocuments) Fetch(_ context.Context, uri string) (*Document, error) {
	doc, ok := s[uri]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFetchFailed, uri)
	}
	return doc, nil
}

type managerFixture struct {
	api      *rpc.LocalClient
	manager  *Manager
	customer *rpc.Signer
	merchant crypto.Address
	usdc     crypto.Address
	uris     *URIStore
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()
	customerKey, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	merchantKey, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	spec := &genesis.GenesisSpec{
		ChainID: 5,
		Tokens:  []genesis.TokenSpec{{Symbol: "USDC", Decimals: 6, MintAuthority: merchantKey.Address().String()}},
		Alloc: map[string]string{
			customerKey.Address().String(): "100000",
			merchantKey.Address().String(): "100000",
		},
		Holdings: map[string]map[string]uint64{
			customerKey.Address().String(): {"USDC": 10_000},
			merchantKey.Address().String(): {"USDC": 0},
		},
	}
	require.NoError(t, spec.Validate())
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	ledger, err := core.NewLedger(db, spec, loyalty.DefaultParams())
	require.NoError(t, err)

	uris := map[loyalty.Tier]string{}
	docs := staticDocuments{}
	for _, tier := range loyalty.Tiers {
		uri := "https://meta.example/" + tier.String() + ".json"
		uris[tier] = uri
		docs[uri] = &Document{
			Name:       NameForTier(tier),
			Symbol:     "IGNORED",
			Attributes: []Attribute{{TraitType: TierTraitType, Value: tier.String()}},
		}
	}
	store, err := NewURIStore(uris)
	require.NoError(t, err)

	api := rpc.NewLocalClient(ledger)
	return &managerFixture{
		api:      api,
		manager:  NewManager(api, merchantKey, store, docs, WithMintDefaults("", 250, nil)),
		customer: rpc.NewSigner(api, customerKey),
		merchant: merchantKey.Address(),
		usdc:     genesis.TokenAddress("USDC"),
		uris:     store,
	}
}

func (f *managerFixture) pay(t *testing.T, amount uint64) loyalty.RewardAction {
	t.Helper()
	receipt, err := f.customer.Submit(context.Background(), types.TxTypeProcessPayment, &types.ProcessPaymentPayload{
		Customer: f.customer.Address(), Merchant: f.merchant, Mint: f.usdc, Amount: amount,
	})
	require.NoError(t, err)
	require.NoError(t, core.ReceiptError(receipt))
	action, ok := ActionFromReceipt(receipt)
	require.True(t, ok)
	return action
}

func (f *managerFixture) merchantNonce(t *testing.T) uint64 {
	t.Helper()
	account, err := f.api.GetAccount(context.Background(), f.merchant)
	require.NoError(t, err)
	return account.Nonce
}

func TestManagerLifecycle(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	customer := f.customer.Address()

	has, err := f.manager.HasRewardToken(ctx, customer)
	require.NoError(t, err)
	require.False(t, has)

	action := f.pay(t, 50)
	require.Equal(t, loyalty.RewardAction{Kind: loyalty.RewardActionMint, Tier: loyalty.TierRare}, action)
	require.NoError(t, f.manager.Apply(ctx, customer, action))

	record, err := f.api.GetRecord(ctx, customer, f.merchant)
	require.NoError(t, err)
	require.Equal(t, loyalty.DeriveMintAddress(customer, f.merchant), record.RewardTokenAddress)
	meta, err := f.api.GetMetadata(ctx, record.RewardTokenAddress)
	require.NoError(t, err)
	rareURI, _ := f.uris.URI(loyalty.TierRare)
	require.Equal(t, rareURI, meta.URI)
	require.Equal(t, CardName, meta.Name)
	require.Equal(t, loyalty.DefaultRewardSymbol, meta.Symbol)
	require.Equal(t, uint16(250), meta.SellerFeeBasisPoints)

	// Replaying the follow-up submits nothing.
	nonce := f.merchantNonce(t)
	require.NoError(t, f.manager.Apply(ctx, customer, action))
	require.Equal(t, nonce, f.merchantNonce(t))

	action = f.pay(t, 51)
	require.Equal(t, loyalty.RewardAction{Kind: loyalty.RewardActionRetier, Tier: loyalty.TierLegendary}, action)
	require.NoError(t, f.manager.Apply(ctx, customer, action))
	meta, err = f.api.GetMetadata(ctx, record.RewardTokenAddress)
	require.NoError(t, err)
	require.Equal(t, UnlockedCardName, meta.Name)
	require.Equal(t, loyalty.DefaultRewardSymbol, meta.Symbol)
	require.Equal(t, uint16(250), meta.SellerFeeBasisPoints)

	nonce = f.merchantNonce(t)
	require.NoError(t, f.manager.Reconcile(ctx, customer))
	require.Equal(t, nonce, f.merchantNonce(t))

	has, err = f.manager.HasRewardToken(ctx, customer)
	require.NoError(t, err)
	require.True(t, has)

	view, err := f.manager.Describe(ctx, customer)
	require.NoError(t, err)
	require.Equal(t, loyalty.TierLegendary, view.Tier)
	tier, ok := view.Document.RewardTier()
	require.True(t, ok)
	require.Equal(t, loyalty.TierLegendary, tier)
}

func TestManagerReconcileRecoversMissedFollowup(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	customer := f.customer.Address()

	action := f.pay(t, 70)
	require.Equal(t, loyalty.TierEpic, action.Tier)

	err := f.manager.Apply(ctx, customer, loyalty.RewardAction{Kind: loyalty.RewardActionRetier, Tier: loyalty.TierEpic})
	require.ErrorIs(t, err, ErrRewardTokenMissing)

	require.NoError(t, f.manager.Reconcile(ctx, customer))
	record, err := f.api.GetRecord(ctx, customer, f.merchant)
	require.NoError(t, err)
	require.True(t, record.HasRewardToken())
	meta, err := f.api.GetMetadata(ctx, record.RewardTokenAddress)
	require.NoError(t, err)
	epicURI, _ := f.uris.URI(loyalty.TierEpic)
	require.Equal(t, epicURI, meta.URI)
}

func TestManagerRequiresRecord(t *testing.T) {
	f := newManagerFixture(t)
	_, err := f.manager.EnsureRewardToken(context.Background(), f.customer.Address())
	require.ErrorIs(t, err, loyalty.ErrRecordNotFound)

	view, err := f.manager.Describe(context.Background(), f.customer.Address())
	require.ErrorIs(t, err, loyalty.ErrRecordNotFound)
	require.Nil(t, view)
}

func TestActionFromReceiptWithoutSettlement(t *testing.T) {
	_, ok := ActionFromReceipt(&types.Receipt{})
	require.False(t, ok)
}

func TestManagerRetiersRelinkedTokenAfterReopen(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	customer := f.customer.Address()

	require.NoError(t, f.manager.Apply(ctx, customer, f.pay(t, 50)))
	receipt, err := f.customer.Submit(ctx, types.TxTypeCloseLoyaltyCard, &types.CloseLoyaltyCardPayload{
		Customer: customer, Merchant: f.merchant,
	})
	require.NoError(t, err)
	require.NoError(t, core.ReceiptError(receipt))

	action := f.pay(t, 5)
	require.Equal(t, loyalty.RewardAction{Kind: loyalty.RewardActionMint, Tier: loyalty.TierCommon}, action)
	stale, err := f.manager.NeedsReconcile(ctx, customer)
	require.NoError(t, err)
	require.True(t, stale)

	require.NoError(t, f.manager.Apply(ctx, customer, action))
	record, err := f.api.GetRecord(ctx, customer, f.merchant)
	require.NoError(t, err)
	require.Equal(t, loyalty.DeriveMintAddress(customer, f.merchant), record.RewardTokenAddress)
	meta, err := f.api.GetMetadata(ctx, record.RewardTokenAddress)
	require.NoError(t, err)
	commonURI, _ := f.uris.URI(loyalty.TierCommon)
	require.Equal(t, commonURI, meta.URI)
}

func TestManagerNeedsReconcile(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	customer := f.customer.Address()

	_, err := f.manager.NeedsReconcile(ctx, customer)
	require.ErrorIs(t, err, loyalty.ErrRecordNotFound)

	f.pay(t, 40)
	stale, err := f.manager.NeedsReconcile(ctx, customer)
	require.NoError(t, err)
	require.True(t, stale)

	require.NoError(t, f.manager.Reconcile(ctx, customer))
	stale, err = f.manager.NeedsReconcile(ctx, customer)
	require.NoError(t, err)
	require.False(t, stale)

	f.pay(t, 30)
	stale, err = f.manager.NeedsReconcile(ctx, customer)
	require.NoError(t, err)
	require.True(t, stale)
}

func TestTierDocumentsFitMetadataLimits(t *testing.T) {
	f := newManagerFixture(t)
	for _, tier := range loyalty.Tiers {
		fields, err := f.manager.fieldsFor(context.Background(), tier, f.manager.defaults)
		require.NoError(t, err)
		require.NoError(t, token.ValidateMetadataFields(fields), "tier %s", tier)
	}
}

func TestWithSignerRequiresMerchantKey(t *testing.T) {
	f := newManagerFixture(t)
	stranger, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	merchantKey, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	require.Panics(t, func() {
		NewManager(f.api, merchantKey, f.uris, staticDocuments{}, WithSigner(rpc.NewSigner(f.api, stranger)))
	})
	require.NotPanics(t, func() {
		NewManager(f.api, merchantKey, f.uris, staticDocuments{}, WithSigner(rpc.NewSigner(f.api, merchantKey)))
	})
}
