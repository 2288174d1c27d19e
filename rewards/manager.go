package rewards

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"loyaltypay/core"
	"loyaltypay/core/events"
	"loyaltypay/core/types"
	"loyaltypay/crypto"
	"loyaltypay/native/loyalty"
	"loyaltypay/native/token"
	"loyaltypay/observability"
	"loyaltypay/rpc"
)

const (
	CardName         = "Loyalty Card NFT"
	UnlockedCardName = "Loyalty Card NFT - Unlocked Discount"
)

// NameForTier returns the conventional token name for tier.
func NameForTier(tier loyalty.Tier) string {
	if tier == loyalty.TierLegendary {
		return UnlockedCardName
	}
	return CardName
}

// Manager runs the off-ledger reward follow-ups for a single merchant: it
// mints the customer's reward token on first settlement and rewrites its
// metadata when the tier changes. Every operation is idempotent.
type Manager struct {
	api      rpc.LedgerAPI
	signer   *rpc.Signer
	merchant crypto.Address
	uris     *URIStore
	docs     DocumentSource
	defaults types.MetadataFields
	logger   *slog.Logger
	tracer   trace.Tracer
}

// ManagerOption customises a Manager.
type ManagerOption func(*Manager)

func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMintDefaults sets the symbol, seller fee and creators used for new
// reward tokens.
func WithMintDefaults(symbol string, sellerFeeBasisPoints uint16, creators []types.Creator) ManagerOption {
	return func(m *Manager) {
		if s := strings.TrimSpace(symbol); s != "" {
			m.defaults.Symbol = s
		}
		m.defaults.SellerFeeBasisPoints = sellerFeeBasisPoints
		m.defaults.Creators = append([]types.Creator(nil), creators...)
	}
}

// WithSigner submits through signer instead of a signer private to the
// manager. The signer must hold the merchant key; sharing it with other
// components that submit for the merchant keeps their nonces in order.
func WithSigner(signer *rpc.Signer) ManagerOption {
	return func(m *Manager) {
		if signer != nil {
			m.signer = signer
		}
	}
}

// NewManager builds a manager signing with the merchant key.
func NewManager(api rpc.LedgerAPI, merchant *crypto.PrivateKey, uris *URIStore, docs DocumentSource, opts ...ManagerOption) *Manager {
	if api == nil || merchant == nil || uris == nil || docs == nil {
		panic("rewards: manager requires a ledger client, merchant key, uri store and document source")
	}
	m := &Manager{
		api:      api,
		signer:   rpc.NewSigner(api, merchant),
		merchant: merchant.Address(),
		uris:     uris,
		docs:     docs,
		defaults: types.MetadataFields{Symbol: loyalty.DefaultRewardSymbol},
		logger:   slog.Default(),
		tracer:   otel.Tracer("loyaltypay/rewards"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.signer.Address() != m.merchant {
		panic("rewards: signer does not hold the merchant key")
	}
	return m
}

// Merchant returns the merchant the manager acts for.
func (m *Manager) Merchant() crypto.Address { return m.merchant }

// EnsureRewardToken mints the customer's reward token with the Common tier
// metadata unless the record already links one, and returns its address.
func (m *Manager) EnsureRewardToken(ctx context.Context, customer crypto.Address) (crypto.Address, error) {
	ctx, span := m.tracer.Start(ctx, "rewards.ensure_reward_token",
		trace.WithAttributes(attribute.String("customer", customer.String())))
	defer span.End()

	record, err := m.api.GetRecord(ctx, customer, m.merchant)
	if err != nil {
		return crypto.Address{}, traceErr(span, err)
	}
	if record.HasRewardToken() {
		span.SetStatus(codes.Ok, "already linked")
		return record.RewardTokenAddress, nil
	}
	fields, err := m.fieldsFor(ctx, loyalty.TierCommon, m.defaults)
	if err != nil {
		return crypto.Address{}, traceErr(span, err)
	}
	receipt, err := m.signer.Submit(ctx, types.TxTypeMintRewardToken, &types.MintRewardTokenPayload{
		Customer: customer,
		Merchant: m.merchant,
		Metadata: fields,
	})
	if err != nil {
		return crypto.Address{}, traceErr(span, fmt.Errorf("rewards: submit mint: %w", err))
	}
	if err := core.ReceiptError(receipt); err != nil {
		return crypto.Address{}, traceErr(span, fmt.Errorf("rewards: mint: %w", err))
	}
	addr := loyalty.DeriveMintAddress(customer, m.merchant)
	span.SetAttributes(attribute.String("token", addr.String()))
	span.SetStatus(codes.Ok, "minted")
	m.logger.Info("reward token minted",
		slog.String("customer", customer.String()),
		slog.String("token", addr.String()),
		slog.String("tx", receipt.TxHash.Hex()))
	return addr, nil
}

// RetierRewardToken points the token's metadata at the document for tier.
// Only the name and URI change; symbol, seller fee and creators are kept.
func (m *Manager) RetierRewardToken(ctx context.Context, tokenAddr crypto.Address, tier loyalty.Tier) error {
	ctx, span := m.tracer.Start(ctx, "rewards.retier_reward_token",
		trace.WithAttributes(
			attribute.String("token", tokenAddr.String()),
			attribute.String("tier", tier.String())))
	defer span.End()

	current, err := m.api.GetMetadata(ctx, tokenAddr)
	if err != nil {
		return traceErr(span, err)
	}
	base := types.MetadataFields{
		Symbol:               current.Symbol,
		SellerFeeBasisPoints: current.SellerFeeBasisPoints,
		Creators:             current.Creators,
	}
	fields, err := m.fieldsFor(ctx, tier, base)
	if err != nil {
		return traceErr(span, err)
	}
	if current.Name == fields.Name && current.URI == fields.URI {
		span.SetStatus(codes.Ok, "unchanged")
		return nil
	}
	receipt, err := m.signer.Submit(ctx, types.TxTypeUpdateRewardMetadata, &types.UpdateRewardMetadataPayload{
		Mint:     tokenAddr,
		Metadata: fields,
	})
	if err != nil {
		return traceErr(span, fmt.Errorf("rewards: submit metadata update: %w", err))
	}
	if err := core.ReceiptError(receipt); err != nil {
		return traceErr(span, fmt.Errorf("rewards: metadata update: %w", err))
	}
	span.SetStatus(codes.Ok, "retiered")
	m.logger.Info("reward token retiered",
		slog.String("token", tokenAddr.String()),
		slog.String("tier", tier.String()),
		slog.String("tx", receipt.TxHash.Hex()))
	return nil
}

// fieldsFor resolves the tier document and overlays its name and URI on base.
func (m *Manager) fieldsFor(ctx context.Context, tier loyalty.Tier, base types.MetadataFields) (types.MetadataFields, error) {
	uri, err := m.uris.URI(tier)
	if err != nil {
		return types.MetadataFields{}, err
	}
	doc, err := m.docs.Fetch(ctx, uri)
	if err != nil {
		return types.MetadataFields{}, err
	}
	fields := base
	fields.URI = uri
	fields.Name = strings.TrimSpace(doc.Name)
	if fields.Name == "" {
		fields.Name = NameForTier(tier)
	}
	if strings.TrimSpace(fields.Symbol) == "" {
		fields.Symbol = strings.TrimSpace(doc.Symbol)
	}
	return fields, nil
}

// Apply executes the follow-up a settlement asked for. A mint brings the
// token straight to the classified tier, including a token relinked to a
// reopened record that still carries metadata from before the closure.
func (m *Manager) Apply(ctx context.Context, customer crypto.Address, action loyalty.RewardAction) error {
	kind := action.Kind.String()
	var err error
	switch action.Kind {
	case loyalty.RewardActionNone:
		return nil
	case loyalty.RewardActionMint:
		var addr crypto.Address
		addr, err = m.EnsureRewardToken(ctx, customer)
		if err == nil {
			err = m.RetierRewardToken(ctx, addr, action.Tier)
		}
	case loyalty.RewardActionRetier:
		var record *loyalty.Record
		record, err = m.api.GetRecord(ctx, customer, m.merchant)
		if err == nil {
			if !record.HasRewardToken() {
				err = fmt.Errorf("%w: customer %s", ErrRewardTokenMissing, customer)
			} else {
				err = m.RetierRewardToken(ctx, record.RewardTokenAddress, action.Tier)
			}
		}
	default:
		err = fmt.Errorf("rewards: unknown reward action %d", action.Kind)
	}
	if err != nil {
		observability.Rewards().RecordFollowup(kind, "error")
		m.logger.Warn("reward follow-up failed",
			slog.String("customer", customer.String()),
			slog.String("action", kind),
			slog.Any("error", err))
		return err
	}
	observability.Rewards().RecordFollowup(kind, "ok")
	return nil
}

// Reconcile makes the customer's reward token match the record: the token is
// minted when missing and its metadata rewritten when the tier is stale.
func (m *Manager) Reconcile(ctx context.Context, customer crypto.Address) error {
	ctx, span := m.tracer.Start(ctx, "rewards.reconcile",
		trace.WithAttributes(attribute.String("customer", customer.String())))
	defer span.End()

	record, err := m.api.GetRecord(ctx, customer, m.merchant)
	if err != nil {
		return traceErr(span, err)
	}
	addr, err := m.EnsureRewardToken(ctx, customer)
	if err != nil {
		observability.Rewards().RecordFollowup("reconcile", "error")
		return traceErr(span, err)
	}
	if err := m.RetierRewardToken(ctx, addr, record.Tier()); err != nil {
		observability.Rewards().RecordFollowup("reconcile", "error")
		return traceErr(span, err)
	}
	observability.Rewards().RecordFollowup("reconcile", "ok")
	span.SetStatus(codes.Ok, "reconciled")
	return nil
}

// NeedsReconcile reports whether the customer's reward token is missing or
// carries metadata for a tier other than the record's.
func (m *Manager) NeedsReconcile(ctx context.Context, customer crypto.Address) (bool, error) {
	record, err := m.api.GetRecord(ctx, customer, m.merchant)
	if err != nil {
		return false, err
	}
	if !record.HasRewardToken() {
		return true, nil
	}
	meta, err := m.api.GetMetadata(ctx, record.RewardTokenAddress)
	if errors.Is(err, token.ErrMetadataNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	tier, ok := m.uris.TierForURI(meta.URI)
	return !ok || tier != record.Tier(), nil
}

// HasRewardToken reports whether the customer holds the merchant's reward
// token.
func (m *Manager) HasRewardToken(ctx context.Context, customer crypto.Address) (bool, error) {
	record, err := m.api.GetRecord(ctx, customer, m.merchant)
	if errors.Is(err, loyalty.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !record.HasRewardToken() {
		return false, nil
	}
	holding, err := m.api.GetHolding(ctx, customer, record.RewardTokenAddress)
	if errors.Is(err, token.ErrHoldingNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return holding.Amount > 0, nil
}

// CardView is a customer's loyalty card as shown to the customer.
type CardView struct {
	Record   *loyalty.Record `json:"record"`
	Tier     loyalty.Tier    `json:"tier"`
	Token    *token.Metadata `json:"token,omitempty"`
	Document *Document       `json:"document,omitempty"`
}

// Describe returns the customer's record with its token metadata and decoded
// tier document. A document that cannot be fetched or parsed is left out and
// the error returned alongside the partial view.
func (m *Manager) Describe(ctx context.Context, customer crypto.Address) (*CardView, error) {
	record, err := m.api.GetRecord(ctx, customer, m.merchant)
	if err != nil {
		return nil, err
	}
	view := &CardView{Record: record, Tier: record.Tier()}
	if !record.HasRewardToken() {
		return view, nil
	}
	meta, err := m.api.GetMetadata(ctx, record.RewardTokenAddress)
	if err != nil {
		return view, err
	}
	view.Token = meta
	doc, err := m.docs.Fetch(ctx, meta.URI)
	if err != nil {
		return view, err
	}
	view.Document = doc
	return view, nil
}

// ActionFromReceipt extracts the reward follow-up from a settlement receipt.
func ActionFromReceipt(receipt *types.Receipt) (loyalty.RewardAction, bool) {
	settled := receipt.EventsOfType(events.TypeLoyaltyPaymentSettled)
	if len(settled) == 0 {
		return loyalty.RewardAction{}, false
	}
	attrs := settled[len(settled)-1].Attributes
	action := loyalty.RewardAction{Kind: loyalty.ParseRewardActionKind(attrs["rewardAction"])}
	tier, err := loyalty.ParseTier(attrs["newTier"])
	if err != nil {
		return loyalty.RewardAction{}, false
	}
	action.Tier = tier
	return action, true
}

func traceErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
