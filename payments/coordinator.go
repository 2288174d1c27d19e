package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"loyaltypay/core/types"
	"loyaltypay/crypto"
	"loyaltypay/observability"
)

const (
	MinPollInterval     = time.Second
	MaxPollInterval     = 5 * time.Second
	DefaultPollInterval = MaxPollInterval
	DefaultTimeout      = 60 * time.Second
)

var (
	// ErrPaymentNotDetected is returned when no valid payment carrying the
	// reference was observed before the timeout. Retry with a fresh reference.
	ErrPaymentNotDetected = errors.New("payments: payment not detected")
	// ErrReferenceReused is returned when a reference has already been awaited.
	ErrReferenceReused = errors.New("payments: reference already awaited")
)

// State is a detection lifecycle step.
type State int

const (
	StateIdle State = iota
	StatePolling
	StateDetected
	StateValidated
	StateResolved
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateDetected:
		return "detected"
	case StateValidated:
		return "validated"
	case StateResolved:
		return "resolved"
	case StateTimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// LedgerReader is the read surface the coordinator polls.
type LedgerReader interface {
	FindReference(ctx context.Context, ref common.Hash) ([]types.ReferencedPayment, error)
	GetTransaction(ctx context.Context, hash common.Hash) (*types.TxRecord, error)
}

// Detection describes a validated payment.
type Detection struct {
	Reference common.Hash    `json:"reference"`
	Payer     crypto.Address `json:"payer"`
	TxHash    common.Hash    `json:"txHash"`
	Slot      uint64         `json:"slot"`
	Amount    uint64         `json:"amount"`
}

// StateHook observes state transitions for a reference.
type StateHook func(ref common.Hash, state State)

// Coordinator waits for reference-tagged transfers to land on the ledger.
type Coordinator struct {
	ledger   LedgerReader
	interval time.Duration
	hook     StateHook
	logger   *slog.Logger
	tracer   trace.Tracer

	mu   sync.Mutex
	used map[common.Hash]struct{}

	now func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithPollInterval sets the polling interval, clamped to [1s, 5s].
func WithPollInterval(d time.Duration) Option {
	return func(c *Coordinator) { c.interval = clampInterval(d) }
}

func WithStateHook(hook StateHook) Option {
	return func(c *Coordinator) { c.hook = hook }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCoordinator constructs a coordinator polling the supplied ledger.
func NewCoordinator(ledger LedgerReader, opts ...Option) *Coordinator {
	if ledger == nil {
		panic("payments: ledger reader required")
	}
	c := &Coordinator{
		ledger:   ledger,
		interval: DefaultPollInterval,
		logger:   slog.Default(),
		tracer:   otel.Tracer("loyaltypay/payments"),
		used:     make(map[common.Hash]struct{}),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func clampInterval(d time.Duration) time.Duration {
	switch {
	case d < MinPollInterval:
		return MinPollInterval
	case d > MaxPollInterval:
		return MaxPollInterval
	default:
		return d
	}
}

// Seen reports whether the reference has already been awaited.
func (c *Coordinator) Seen(ref common.Hash) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.used[ref]
	return ok
}

func (c *Coordinator) claim(ref common.Hash) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.used[ref]; ok {
		return false
	}
	c.used[ref] = struct{}{}
	return true
}

func (c *Coordinator) transition(ref common.Hash, state State) {
	if c.hook != nil {
		c.hook(ref, state)
	}
}

// AwaitPayment polls for a payment matching req until one validates, the
// timeout elapses or ctx is cancelled. A non-positive timeout uses
// DefaultTimeout. Each reference can be awaited once.
func (c *Coordinator) AwaitPayment(ctx context.Context, req PaymentRequest, timeout time.Duration) (crypto.Address, *Detection, error) {
	if err := req.Validate(); err != nil {
		return crypto.Address{}, nil, err
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if !c.claim(req.Reference) {
		return crypto.Address{}, nil, fmt.Errorf("%w: %s", ErrReferenceReused, req.Reference.Hex())
	}

	start := c.now()
	ctx, span := c.tracer.Start(ctx, "payments.await_payment",
		trace.WithAttributes(
			attribute.String("reference", req.Reference.Hex()),
			attribute.String("recipient", req.Recipient.String()),
			attribute.Int64("amount", int64(req.Amount)),
		))
	defer span.End()

	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c.transition(req.Reference, StateIdle)
	c.transition(req.Reference, StatePolling)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		detection, err := c.poll(pollCtx, req)
		if err != nil && pollCtx.Err() == nil {
			c.logger.Debug("payment lookup failed",
				slog.String("reference", req.Reference.Hex()),
				slog.Any("error", err))
		}
		if detection != nil {
			c.transition(req.Reference, StateResolved)
			span.SetAttributes(
				attribute.String("payer", detection.Payer.String()),
				attribute.String("tx", detection.TxHash.Hex()))
			span.SetStatus(codes.Ok, "payment detected")
			observability.Detection().Observe("resolved", c.now().Sub(start))
			c.logger.Info("payment detected",
				slog.String("reference", req.Reference.Hex()),
				slog.String("tx", detection.TxHash.Hex()),
				slog.String("payer", detection.Payer.String()))
			return detection.Payer, detection, nil
		}
		select {
		case <-pollCtx.Done():
			if err := ctx.Err(); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				observability.Detection().Observe("cancelled", c.now().Sub(start))
				return crypto.Address{}, nil, err
			}
			c.transition(req.Reference, StateTimedOut)
			err := fmt.Errorf("%w: reference %s after %s", ErrPaymentNotDetected, req.Reference.Hex(), timeout)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			observability.Detection().Observe("timed_out", c.now().Sub(start))
			return crypto.Address{}, nil, err
		case <-ticker.C:
		}
	}
}

// poll returns the first candidate that validates against req. Candidates
// that fail validation are ignored.
func (c *Coordinator) poll(ctx context.Context, req PaymentRequest) (*Detection, error) {
	candidates, err := c.ledger.FindReference(ctx, req.Reference)
	if err != nil {
		return nil, err
	}
	for _, candidate := range candidates {
		c.transition(req.Reference, StateDetected)
		if candidate.To != req.Recipient || candidate.Mint != req.Token || candidate.Amount != req.Amount {
			c.logger.Debug("payment candidate mismatch",
				slog.String("reference", req.Reference.Hex()),
				slog.String("tx", candidate.TxHash.Hex()))
			continue
		}
		record, err := c.ledger.GetTransaction(ctx, candidate.TxHash)
		if err != nil {
			return nil, err
		}
		if !validRecord(record, req) {
			continue
		}
		c.transition(req.Reference, StateValidated)
		return &Detection{
			Reference: req.Reference,
			Payer:     record.Receipt.Signer,
			TxHash:    candidate.TxHash,
			Slot:      record.Receipt.Slot,
			Amount:    candidate.Amount,
		}, nil
	}
	return nil, nil
}

func validRecord(record *types.TxRecord, req PaymentRequest) bool {
	if record == nil || record.Transaction == nil || !record.Receipt.Succeeded() {
		return false
	}
	if record.Transaction.Type != types.TxTypeTransfer {
		return false
	}
	var payload types.TransferPayload
	if err := record.Transaction.DecodePayload(&payload); err != nil {
		return false
	}
	if payload.To != req.Recipient || payload.Mint != req.Token || payload.Amount != req.Amount {
		return false
	}
	for _, ref := range payload.References {
		if ref == req.Reference {
			return true
		}
	}
	return false
}
