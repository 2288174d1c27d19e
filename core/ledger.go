package core

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"loyaltypay/core/events"
	"loyaltypay/core/genesis"
	"loyaltypay/core/state"
	"loyaltypay/core/types"
	"loyaltypay/crypto"
	"loyaltypay/native/loyalty"
	"loyaltypay/native/token"
	"loyaltypay/storage"
	"loyaltypay/storage/trie"
)

// MaxTransferReferences bounds the reference tags carried by one transfer.
const MaxTransferReferences = 4

var (
	headKey    = []byte("ledger/head")
	chainIDKey = []byte("ledger/chainid")
	txPrefix   = []byte("ledger/tx/")
	slotPrefix = []byte("ledger/slot/")
)

// Ledger is the host ledger the loyalty program runs on. It applies exactly
// one transaction per slot: the transaction either commits a new state root
// or is rolled back to the previous root with a failed receipt.
type Ledger struct {
	mu      sync.Mutex
	db      storage.Database
	trie    *trie.Trie
	state   *state.Manager
	tokens  *token.Engine
	loyalty *loyalty.Engine
	buffer  *events.Buffer
	chainID uint64
	head    types.SlotHeader
	logger  *slog.Logger
	nowFn   func() time.Time
}

// Option customises a Ledger at construction.
type Option func(*Ledger)

// WithLogger sets the logger used for commit and rollback diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithClock overrides the slot timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.nowFn = now
		}
	}
}

// NewLedger opens the ledger stored in db. An empty database is initialised
// from spec; a populated one must match the spec's chain id when a spec is
// supplied.
func NewLedger(db storage.Database, spec *genesis.GenesisSpec, params loyalty.Params, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		db:     db,
		buffer: &events.Buffer{},
		logger: slog.Default(),
		nowFn:  time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	head, found, err := l.loadHead()
	if err != nil {
		return nil, err
	}
	var root []byte
	if found {
		root = head.StateRoot.Bytes()
	}
	tr, err := trie.NewTrie(db, root)
	if err != nil {
		return nil, fmt.Errorf("open state trie: %w", err)
	}
	l.trie = tr
	l.state = state.NewManager(tr)

	l.tokens = token.NewEngine()
	l.tokens.SetState(l.state)
	l.tokens.SetEmitter(l.buffer)
	l.loyalty = loyalty.NewEngine()
	l.loyalty.SetState(l.state)
	l.loyalty.SetTokenProgram(l.tokens)
	l.loyalty.SetEmitter(l.buffer)
	if err := l.loyalty.SetParams(params); err != nil {
		return nil, err
	}

	if found {
		l.head = *head
		raw, err := db.Get(chainIDKey)
		if err != nil {
			return nil, fmt.Errorf("load chain id: %w", err)
		}
		l.chainID = binary.BigEndian.Uint64(raw)
		if spec != nil && spec.ChainID != l.chainID {
			return nil, fmt.Errorf("%w: stored %d, genesis %d", ErrChainIDMismatch, l.chainID, spec.ChainID)
		}
		return l, nil
	}
	if spec == nil {
		return nil, ErrGenesisRequired
	}
	if err := l.applyGenesis(spec); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Ledger) applyGenesis(spec *genesis.GenesisSpec) error {
	if err := spec.Apply(l.state); err != nil {
		return err
	}
	root, err := l.trie.Commit(common.Hash{}, 0)
	if err != nil {
		return fmt.Errorf("commit genesis: %w", err)
	}
	ts := spec.GenesisTimestamp()
	if ts.IsZero() {
		ts = l.nowFn()
	}
	header := types.SlotHeader{Slot: 0, Timestamp: uint64(ts.Unix()), StateRoot: root}
	var chainID [8]byte
	binary.BigEndian.PutUint64(chainID[:], spec.ChainID)
	if err := l.db.Put(chainIDKey, chainID[:]); err != nil {
		return err
	}
	if err := l.storeHeader(header); err != nil {
		return err
	}
	l.chainID = spec.ChainID
	l.head = header
	l.logger.Info("ledger genesis applied",
		slog.Uint64("chain_id", spec.ChainID),
		slog.String("state_root", root.Hex()))
	return nil
}

func (l *Ledger) loadHead() (*types.SlotHeader, bool, error) {
	raw, err := l.db.Get(headKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var head types.SlotHeader
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, false, fmt.Errorf("decode ledger head: %w", err)
	}
	return &head, true, nil
}

func slotKey(slot uint64) []byte {
	key := make([]byte, len(slotPrefix)+8)
	copy(key, slotPrefix)
	binary.BigEndian.PutUint64(key[len(slotPrefix):], slot)
	return key
}

func txKey(hash common.Hash) []byte {
	return append(append([]byte(nil), txPrefix...), hash.Bytes()...)
}

func (l *Ledger) storeHeader(header types.SlotHeader) error {
	encoded, err := json.Marshal(header)
	if err != nil {
		return err
	}
	if err := l.db.Put(slotKey(header.Slot), encoded); err != nil {
		return err
	}
	return l.db.Put(headKey, encoded)
}

func (l *Ledger) storeTxRecord(tx *types.Transaction, receipt *types.Receipt) error {
	encoded, err := json.Marshal(&types.TxRecord{Transaction: tx, Receipt: receipt})
	if err != nil {
		return err
	}
	return l.db.Put(txKey(receipt.TxHash), encoded)
}

// ChainID returns the chain identifier transactions must carry.
func (l *Ledger) ChainID() uint64 { return l.chainID }

// Params returns the active loyalty program parameters.
func (l *Ledger) Params() loyalty.Params { return l.loyalty.Params() }

// Head returns the latest committed slot header.
func (l *Ledger) Head() types.SlotHeader {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.head
}

// SubmitTransaction validates and applies tx in a fresh slot. Admission
// failures (chain id, signature, nonce, unknown type) return an error and
// leave no trace. Execution failures are rolled back and reported through a
// failed receipt, which is also persisted for lookups.
func (l *Ledger) SubmitTransaction(tx *types.Transaction) (*types.Receipt, error) {
	if tx == nil {
		return nil, fmt.Errorf("ledger: nil transaction")
	}
	if tx.ChainID != l.chainID {
		return nil, fmt.Errorf("%w: got %d want %d", ErrChainIDMismatch, tx.ChainID, l.chainID)
	}
	if !tx.Type.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTxType, tx.Type)
	}
	signer, err := tx.From()
	if err != nil {
		return nil, err
	}
	hash, err := tx.Hash()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	account, err := l.state.GetAccount(signer)
	if err != nil {
		return nil, err
	}
	if tx.Nonce != account.Nonce {
		return nil, fmt.Errorf("%w: got %d want %d", ErrNonceMismatch, tx.Nonce, account.Nonce)
	}

	slot := l.head.Slot + 1
	receipt := &types.Receipt{TxHash: hash, Slot: slot, Type: tx.Type, Signer: signer}
	l.buffer.Reset()
	defer l.buffer.Reset()

	if execErr := l.execute(tx, hash, signer, receipt); execErr != nil {
		return l.fail(tx, receipt, execErr)
	}

	// The nonce is re-read because the instruction may have touched the
	// signer's base balance.
	account, err = l.state.GetAccount(signer)
	if err != nil {
		return l.fail(tx, receipt, err)
	}
	account = account.Copy()
	account.Nonce++
	if err := l.state.PutAccount(signer, account); err != nil {
		return l.fail(tx, receipt, err)
	}

	parent := l.trie.Root()
	root, err := l.trie.Commit(parent, slot)
	if err != nil {
		if rbErr := l.trie.Reset(parent); rbErr != nil {
			return nil, fmt.Errorf("commit slot %d: %v (rollback failed: %w)", slot, err, rbErr)
		}
		return nil, fmt.Errorf("commit slot %d: %w", slot, err)
	}
	header := types.SlotHeader{
		Slot:       slot,
		Timestamp:  uint64(l.nowFn().Unix()),
		ParentRoot: parent,
		StateRoot:  root,
		TxHash:     hash,
	}
	receipt.Status = types.ReceiptStatusSuccess
	receipt.Events = l.buffer.Render()
	receipt.Transfers = collectTransfers(l.buffer.Events())
	if err := l.storeTxRecord(tx, receipt); err != nil {
		return nil, err
	}
	if err := l.storeHeader(header); err != nil {
		return nil, err
	}
	l.head = header
	l.logger.Debug("slot committed",
		slog.Uint64("slot", slot),
		slog.String("tx", hash.Hex()),
		slog.String("type", tx.Type.String()),
		slog.String("state_root", root.Hex()))
	return receipt, nil
}

func (l *Ledger) fail(tx *types.Transaction, receipt *types.Receipt, execErr error) (*types.Receipt, error) {
	if err := l.trie.Reset(l.trie.Root()); err != nil {
		return nil, fmt.Errorf("rollback after %v: %w", execErr, err)
	}
	receipt.Status = types.ReceiptStatusFailed
	receipt.ErrorCode = CodeForError(execErr)
	receipt.Error = execErr.Error()
	receipt.Events = nil
	receipt.Transfers = nil
	receipt.References = nil
	if err := l.storeTxRecord(tx, receipt); err != nil {
		return nil, err
	}
	l.logger.Info("transaction rolled back",
		slog.String("tx", receipt.TxHash.Hex()),
		slog.String("type", tx.Type.String()),
		slog.String("code", receipt.ErrorCode),
		slog.String("error", execErr.Error()))
	return receipt, nil
}

func (l *Ledger) execute(tx *types.Transaction, hash common.Hash, signer crypto.Address, receipt *types.Receipt) error {
	switch tx.Type {
	case types.TxTypeTransfer:
		var payload types.TransferPayload
		if err := tx.DecodePayload(&payload); err != nil {
			return err
		}
		if len(payload.References) > MaxTransferReferences {
			return ErrTooManyReferences
		}
		if err := l.tokens.Transfer(signer, payload.To, payload.Mint, payload.Amount); err != nil {
			return err
		}
		for _, ref := range payload.References {
			payment := types.ReferencedPayment{
				TxHash: hash,
				Payer:  signer,
				To:     payload.To,
				Mint:   payload.Mint,
				Amount: payload.Amount,
			}
			if err := l.state.AppendReferencedPayment(ref, payment); err != nil {
				return err
			}
		}
		receipt.References = payload.References
		return nil

	case types.TxTypeCreateHolding:
		var payload types.CreateHoldingPayload
		if err := tx.DecodePayload(&payload); err != nil {
			return err
		}
		_, _, err := l.tokens.CreateHolding(payload.Owner, payload.Mint)
		return err

	case types.TxTypeProcessPayment:
		var payload types.ProcessPaymentPayload
		if err := tx.DecodePayload(&payload); err != nil {
			return err
		}
		_, err := l.loyalty.Settle(loyalty.SettleRequest{
			Signer:    signer,
			Customer:  payload.Customer,
			Merchant:  payload.Merchant,
			Mint:      payload.Mint,
			Amount:    payload.Amount,
			Reference: payload.Reference,
		})
		return err

	case types.TxTypeCloseLoyaltyCard:
		var payload types.CloseLoyaltyCardPayload
		if err := tx.DecodePayload(&payload); err != nil {
			return err
		}
		return l.loyalty.Close(loyalty.CloseRequest{Signer: signer, Customer: payload.Customer, Merchant: payload.Merchant})

	case types.TxTypeMintRewardToken:
		var payload types.MintRewardTokenPayload
		if err := tx.DecodePayload(&payload); err != nil {
			return err
		}
		_, err := l.loyalty.MintRewardToken(loyalty.MintRewardRequest{
			Signer:   signer,
			Customer: payload.Customer,
			Merchant: payload.Merchant,
			Metadata: payload.Metadata,
		})
		return err

	case types.TxTypeUpdateRewardMetadata:
		var payload types.UpdateRewardMetadataPayload
		if err := tx.DecodePayload(&payload); err != nil {
			return err
		}
		_, err := l.tokens.UpdateMetadata(payload.Mint, signer, payload.Metadata)
		return err
	}
	return fmt.Errorf("%w: %s", ErrUnknownTxType, tx.Type)
}

func collectTransfers(evts []events.Event) []types.TokenTransfer {
	var out []types.TokenTransfer
	for _, evt := range evts {
		transfer, ok := evt.(events.TokenTransfer)
		if !ok {
			continue
		}
		out = append(out, types.TokenTransfer{
			From:   transfer.From,
			To:     transfer.To,
			Mint:   transfer.Mint,
			Amount: transfer.Amount,
		})
	}
	return out
}

// GetTransaction returns the stored transaction and receipt for hash.
func (l *Ledger) GetTransaction(hash common.Hash) (*types.TxRecord, error) {
	raw, err := l.db.Get(txKey(hash))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	var record types.TxRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("decode tx %s: %w", hash.Hex(), err)
	}
	return &record, nil
}

// GetSlot returns the header committed at slot.
func (l *Ledger) GetSlot(slot uint64) (*types.SlotHeader, error) {
	raw, err := l.db.Get(slotKey(slot))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrSlotNotFound, slot)
	}
	if err != nil {
		return nil, err
	}
	var header types.SlotHeader
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, err
	}
	return &header, nil
}

// FindReference lists the committed transfers tagged with ref, oldest first.
func (l *Ledger) FindReference(ref common.Hash) ([]types.ReferencedPayment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.ReferencedPayments(ref)
}

// ReferenceConsumed reports whether a settlement already used ref.
func (l *Ledger) ReferenceConsumed(ref common.Hash) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.ReferenceConsumed(ref)
}

// Account returns the base-currency account at addr.
func (l *Ledger) Account(addr crypto.Address) (*types.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.GetAccount(addr)
}

// Holding returns owner's holding of mint.
func (l *Ledger) Holding(owner, mint crypto.Address) (*token.Holding, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tokens.Holding(owner, mint)
}

// Mint returns the mint descriptor at addr.
func (l *Ledger) Mint(addr crypto.Address) (*token.Mint, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tokens.Mint(addr)
}

// Metadata returns the metadata account of mint.
func (l *Ledger) Metadata(mint crypto.Address) (*token.Metadata, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tokens.Metadata(mint)
}

// Record returns the loyalty record of the pair.
func (l *Ledger) Record(customer, merchant crypto.Address) (*loyalty.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loyalty.Record(customer, merchant)
}
