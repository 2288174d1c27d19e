package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"loyaltypay/core"
	"loyaltypay/core/events"
	"loyaltypay/core/types"
	"loyaltypay/crypto"
	"loyaltypay/native/loyalty"
	"loyaltypay/payments"
	"loyaltypay/rewards"
	"loyaltypay/rpc"
)

const (
	slotCursor = "slots"
	// maxSlotsPerRun bounds one FollowSlots pass.
	maxSlotsPerRun = 500
	// detectedRetryAfter keeps the reconciler away from settlements that
	// detection is still submitting.
	detectedRetryAfter = time.Minute
)

// Processor drives each session through detection, settlement and the
// reward follow-up, and follows direct settlements made outside sessions.
type Processor struct {
	store       *SQLiteStore
	api         rpc.LedgerAPI
	signer      *rpc.Signer
	coordinator *payments.Coordinator
	rewards     *rewards.Manager
	timeout     time.Duration
	logger      *slog.Logger
	now         func() time.Time

	wg sync.WaitGroup
}

// ProcessorConfig bundles the processor dependencies.
type ProcessorConfig struct {
	Store *SQLiteStore
	API   rpc.LedgerAPI
	// Signer must be the signer the rewards manager submits through.
	Signer      *rpc.Signer
	Coordinator *payments.Coordinator
	Rewards     *rewards.Manager
	Timeout     time.Duration
	Logger      *slog.Logger
}

func NewProcessor(cfg ProcessorConfig) *Processor {
	if cfg.Store == nil || cfg.API == nil || cfg.Signer == nil || cfg.Coordinator == nil || cfg.Rewards == nil {
		panic("processor requires store, ledger client, signer, coordinator and rewards manager")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = payments.DefaultTimeout
	}
	return &Processor{
		store:       cfg.Store,
		api:         cfg.API,
		signer:      cfg.Signer,
		coordinator: cfg.Coordinator,
		rewards:     cfg.Rewards,
		timeout:     timeout,
		logger:      logger,
		now:         time.Now,
	}
}

// Track starts detection for sess in the background.
func (p *Processor) Track(ctx context.Context, sess Session) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.detect(ctx, sess); err != nil && ctx.Err() == nil {
			p.logger.Warn("session processing failed",
				slog.String("reference", sess.Reference),
				slog.Any("error", err))
		}
	}()
}

// Wait blocks until every tracked session has finished.
func (p *Processor) Wait() { p.wg.Wait() }

func (p *Processor) detect(ctx context.Context, sess Session) error {
	req, err := payments.ParseURL(sess.URI)
	if err != nil {
		return p.fail(ctx, sess, err)
	}
	payer, detection, err := p.coordinator.AwaitPayment(ctx, req, p.timeout)
	switch {
	case errors.Is(err, payments.ErrPaymentNotDetected):
		sess.Status = StatusExpired
		sess.Error = err.Error()
		return p.save(ctx, sess)
	case err != nil:
		// Cancelled sessions stay pending and are resumed on restart.
		return err
	}
	sess.Status = StatusDetected
	sess.Payer = payer.String()
	sess.TransferTx = detection.TxHash.Hex()
	if err := p.save(ctx, sess); err != nil {
		return err
	}
	return p.Settle(ctx, sess.Reference)
}

// Settle submits the detected settlement for reference and applies the
// reward follow-up. A session already settled is left untouched.
func (p *Processor) Settle(ctx context.Context, reference string) error {
	sess, err := p.store.GetSession(ctx, reference)
	if err != nil {
		return err
	}
	if sess.Status != StatusDetected {
		return nil
	}
	payer, err := crypto.DecodeAddress(sess.Payer)
	if err != nil {
		return p.fail(ctx, *sess, fmt.Errorf("decode payer: %w", err))
	}
	mint, err := crypto.DecodeAddress(sess.Token)
	if err != nil {
		return p.fail(ctx, *sess, fmt.Errorf("decode token: %w", err))
	}
	receipt, err := p.signer.Submit(ctx, types.TxTypeProcessPayment, &types.ProcessPaymentPayload{
		Customer:  payer,
		Merchant:  p.signer.Address(),
		Mint:      mint,
		Amount:    sess.Amount,
		Reference: common.HexToHash(sess.Reference),
	})
	if err != nil {
		// Transport failures leave the session detected for the reconciler.
		return fmt.Errorf("submit settlement: %w", err)
	}
	if err := core.ReceiptError(receipt); err != nil {
		if errors.Is(err, loyalty.ErrReferenceConsumed) {
			sess.Status = StatusRewardPending
			return p.save(ctx, *sess)
		}
		return p.fail(ctx, *sess, err)
	}
	sess.SettlementTx = receipt.TxHash.Hex()
	sess.Status = StatusRewardPending
	action, ok := rewards.ActionFromReceipt(receipt)
	if ok {
		sess.RewardAction = action.Kind.String()
		sess.RewardTier = action.Tier.String()
	}
	if err := p.save(ctx, *sess); err != nil {
		return err
	}
	p.logger.Info("payment settled",
		slog.String("reference", sess.Reference),
		slog.String("tx", sess.SettlementTx),
		slog.String("reward_action", sess.RewardAction))

	if err := p.rewards.Apply(ctx, payer, action); err != nil {
		sess.Error = err.Error()
		return p.save(ctx, *sess)
	}
	sess.Status = StatusSettled
	sess.Error = ""
	return p.save(ctx, *sess)
}

// Resume restarts detection for pending sessions and settlement for detected
// ones. Called once at startup.
func (p *Processor) Resume(ctx context.Context) error {
	pending, err := p.store.SessionsByStatus(ctx, StatusPending)
	if err != nil {
		return err
	}
	for _, sess := range pending {
		p.Track(ctx, sess)
	}
	detected, err := p.store.SessionsByStatus(ctx, StatusDetected)
	if err != nil {
		return err
	}
	for _, sess := range detected {
		if err := p.Settle(ctx, sess.Reference); err != nil {
			p.logger.Warn("resume settlement failed",
				slog.String("reference", sess.Reference),
				slog.Any("error", err))
		}
	}
	return nil
}

// ReconcilePending retries settlements left detected by a failed submission
// and reward follow-ups for settled payments whose follow-up failed. It
// returns the number of sessions brought to settled.
func (p *Processor) ReconcilePending(ctx context.Context) (int, error) {
	detected, err := p.store.SessionsByStatus(ctx, StatusDetected)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, sess := range detected {
		if p.now().Sub(sess.UpdatedAt) < detectedRetryAfter {
			continue
		}
		if err := p.Settle(ctx, sess.Reference); err != nil {
			p.logger.Warn("settlement retry failed",
				slog.String("reference", sess.Reference),
				slog.Any("error", err))
			continue
		}
		if updated, err := p.store.GetSession(ctx, sess.Reference); err == nil && updated.Status == StatusSettled {
			done++
		}
	}

	sessions, err := p.store.SessionsByStatus(ctx, StatusRewardPending)
	if err != nil {
		return done, err
	}
	for _, sess := range sessions {
		payer, err := crypto.DecodeAddress(sess.Payer)
		if err != nil {
			continue
		}
		if err := p.rewards.Reconcile(ctx, payer); err != nil {
			p.logger.Warn("reward reconcile failed",
				slog.String("reference", sess.Reference),
				slog.Any("error", err))
			continue
		}
		sess.Status = StatusSettled
		sess.Error = ""
		if err := p.save(ctx, sess); err != nil {
			return done, err
		}
		done++
	}
	return done, nil
}

// FollowSlots scans the slots committed since the previous pass for direct
// settlements with the merchant, which no session tracks, and reconciles each
// paying customer's reward token. Customers whose follow-up fails are queued
// for ReconcileFollowups. It returns the number of tokens brought in line.
func (p *Processor) FollowSlots(ctx context.Context) (int, error) {
	cursor, err := p.store.Cursor(ctx, slotCursor)
	if err != nil {
		return 0, err
	}
	head, err := p.api.Head(ctx)
	if err != nil {
		return 0, err
	}
	if head.Slot <= cursor {
		return 0, nil
	}
	last := head.Slot
	if last-cursor > maxSlotsPerRun {
		last = cursor + maxSlotsPerRun
	}

	merchant := p.signer.Address()
	seen := make(map[crypto.Address]uint64)
	var customers []crypto.Address
	for slot := cursor + 1; slot <= last; slot++ {
		header, err := p.api.GetSlot(ctx, slot)
		if err != nil {
			return 0, fmt.Errorf("slot %d: %w", slot, err)
		}
		record, err := p.api.GetTransaction(ctx, header.TxHash)
		if err != nil {
			return 0, fmt.Errorf("slot %d tx %s: %w", slot, header.TxHash.Hex(), err)
		}
		customer, ok := directSettlement(record.Receipt, merchant)
		if !ok {
			continue
		}
		if _, dup := seen[customer]; !dup {
			customers = append(customers, customer)
		}
		seen[customer] = slot
	}

	done := 0
	for _, customer := range customers {
		stale, err := p.rewards.NeedsReconcile(ctx, customer)
		if errors.Is(err, loyalty.ErrRecordNotFound) {
			continue
		}
		if err == nil && !stale {
			continue
		}
		if err == nil {
			err = p.rewards.Reconcile(ctx, customer)
		}
		if err != nil {
			if qErr := p.queueFollowup(ctx, customer, seen[customer], err); qErr != nil {
				return done, qErr
			}
			continue
		}
		done++
	}
	if err := p.store.SetCursor(ctx, slotCursor, last); err != nil {
		return done, err
	}
	return done, nil
}

// directSettlement returns the customer of a successful settlement with
// merchant that carries no payment reference.
func directSettlement(receipt *types.Receipt, merchant crypto.Address) (crypto.Address, bool) {
	if receipt == nil || !receipt.Succeeded() || receipt.Type != types.TxTypeProcessPayment {
		return crypto.Address{}, false
	}
	for _, evt := range receipt.EventsOfType(events.TypeLoyaltyPaymentSettled) {
		if evt.Attributes["merchant"] != merchant.String() || evt.Attributes["reference"] != "" {
			continue
		}
		customer, err := crypto.DecodeAddress(evt.Attributes["customer"])
		if err != nil {
			return crypto.Address{}, false
		}
		return customer, true
	}
	return crypto.Address{}, false
}

func (p *Processor) queueFollowup(ctx context.Context, customer crypto.Address, slot uint64, cause error) error {
	p.logger.Warn("reward follow-up queued",
		slog.String("customer", customer.String()),
		slog.Uint64("slot", slot),
		slog.Any("error", cause))
	now := p.now().UTC()
	return p.store.UpsertFollowup(ctx, Followup{
		Customer:  customer.String(),
		Slot:      slot,
		Error:     cause.Error(),
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// ReconcileFollowups retries the queued follow-ups. Customers whose record
// has been closed since are dropped from the queue.
func (p *Processor) ReconcileFollowups(ctx context.Context) (int, error) {
	queued, err := p.store.Followups(ctx)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, f := range queued {
		customer, err := crypto.DecodeAddress(f.Customer)
		if err != nil {
			if err := p.store.DeleteFollowup(ctx, f.Customer); err != nil {
				return done, err
			}
			continue
		}
		recErr := p.rewards.Reconcile(ctx, customer)
		if recErr != nil && !errors.Is(recErr, loyalty.ErrRecordNotFound) {
			f.Error = recErr.Error()
			f.UpdatedAt = p.now().UTC()
			if err := p.store.UpsertFollowup(ctx, f); err != nil {
				return done, err
			}
			continue
		}
		if err := p.store.DeleteFollowup(ctx, f.Customer); err != nil {
			return done, err
		}
		if recErr == nil {
			done++
		}
	}
	return done, nil
}

// RunReconciler runs one reconciliation pass every interval until ctx ends.
func (p *Processor) RunReconciler(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.reconcileOnce(ctx)
		}
	}
}

func (p *Processor) reconcileOnce(ctx context.Context) {
	passes := []struct {
		name string
		run  func(context.Context) (int, error)
	}{
		{"sessions", p.ReconcilePending},
		{"slots", p.FollowSlots},
		{"followups", p.ReconcileFollowups},
	}
	for _, pass := range passes {
		n, err := pass.run(ctx)
		if err != nil {
			p.logger.Warn("reconciler pass failed", slog.String("pass", pass.name), slog.Any("error", err))
			continue
		}
		if n > 0 {
			p.logger.Info("reconciled reward follow-ups", slog.String("pass", pass.name), slog.Int("count", n))
		}
	}
}

func (p *Processor) fail(ctx context.Context, sess Session, cause error) error {
	sess.Status = StatusFailed
	sess.Error = cause.Error()
	if err := p.save(ctx, sess); err != nil {
		return err
	}
	return cause
}

func (p *Processor) save(ctx context.Context, sess Session) error {
	sess.UpdatedAt = p.now().UTC()
	return p.store.UpdateSession(ctx, sess)
}
