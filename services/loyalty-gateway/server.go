package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"loyaltypay/core/types"
	"loyaltypay/crypto"
	"loyaltypay/native/loyalty"
	"loyaltypay/payments"
	"loyaltypay/rewards"
	"loyaltypay/rpc"
)

const (
	maxRequestBody     = 64 << 10
	transactionLabel   = "Loyalty Pay"
	transactionMessage = "Loyalty Pay - Process Payment"
)

// Server exposes the merchant-facing loyalty payment API.
type Server struct {
	api       rpc.LedgerAPI
	store     *SQLiteStore
	processor *Processor
	rewards   *rewards.Manager
	merchant  crypto.Address
	token     crypto.Address
	label     string
	message   string
	icon      string
	limiter   *RateLimiter
	logger    *slog.Logger
	nowFn     func() time.Time

	// detection outlives the request that created the session.
	detectCtx context.Context

	router http.Handler
}

// ServerConfig bundles the server dependencies.
type ServerConfig struct {
	API       rpc.LedgerAPI
	Store     *SQLiteStore
	Processor *Processor
	Rewards   *rewards.Manager
	Token     crypto.Address
	Label     string
	Message   string
	Icon      string
	Limiter   *RateLimiter
	Logger    *slog.Logger
	// DetectContext bounds background detection started by API calls.
	DetectContext context.Context
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.API == nil || cfg.Store == nil || cfg.Processor == nil || cfg.Rewards == nil {
		panic("server requires ledger client, store, processor and rewards manager")
	}
	if cfg.Token.IsZero() {
		panic("server requires a payment token")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	detectCtx := cfg.DetectContext
	if detectCtx == nil {
		detectCtx = context.Background()
	}
	s := &Server{
		api:       cfg.API,
		store:     cfg.Store,
		processor: cfg.Processor,
		rewards:   cfg.Rewards,
		merchant:  cfg.Rewards.Merchant(),
		token:     cfg.Token,
		label:     cfg.Label,
		message:   cfg.Message,
		icon:      cfg.Icon,
		limiter:   cfg.Limiter,
		logger:    logger,
		nowFn:     time.Now,
		detectCtx: detectCtx,
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "loyalty-gateway")
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(withRequestID)
	r.Use(chimw.Recoverer)
	r.Use(withMetrics)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		if s.limiter != nil {
			api.Use(s.limiter.Middleware)
		}
		api.Post("/payments", s.CreatePayment)
		api.Get("/payments/{reference}", s.GetPayment)
		api.Get("/transaction-requests", s.DescribeTransactionRequest)
		api.Post("/transaction-requests", s.CreateTransactionRequest)
		api.Get("/customers/{customer}", s.GetCustomer)
		api.Post("/customers/{customer}/reconcile", s.ReconcileCustomer)
	})
	return r
}

// CreatePaymentRequest is accepted by POST /v1/payments. Token defaults to
// the configured payment token.
type CreatePaymentRequest struct {
	Amount  uint64 `json:"amount"`
	Token   string `json:"token,omitempty"`
	Label   string `json:"label,omitempty"`
	Message string `json:"message,omitempty"`
}

func (s *Server) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tokenAddr := s.token
	if strings.TrimSpace(req.Token) != "" {
		parsed, err := crypto.DecodeAddress(req.Token)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid token: %v", err))
			return
		}
		tokenAddr = parsed
	}
	reference, err := payments.NewReference()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	payReq := payments.PaymentRequest{
		Recipient: s.merchant,
		Amount:    req.Amount,
		Token:     tokenAddr,
		Reference: reference,
		Label:     firstNonEmpty(req.Label, s.label),
		Message:   firstNonEmpty(req.Message, s.message),
	}
	uri, err := payments.EncodeURL(payReq)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	now := s.nowFn().UTC()
	sess := Session{
		Reference: reference.Hex(),
		Merchant:  s.merchant.String(),
		Amount:    req.Amount,
		Token:     tokenAddr.String(),
		Label:     payReq.Label,
		Message:   payReq.Message,
		URI:       uri,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertSession(r.Context(), sess); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.processor.Track(s.detectCtx, sess)
	s.logger.Info("payment session created",
		slog.String("reference", sess.Reference),
		slog.String("request_id", requestID(r.Context())))
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) GetPayment(w http.ResponseWriter, r *http.Request) {
	reference := strings.TrimSpace(chi.URLParam(r, "reference"))
	sess, err := s.store.GetSession(r.Context(), common.HexToHash(reference).Hex())
	if errors.Is(err, ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "payment not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// DescribeTransactionRequest returns the label and icon wallets display
// before requesting a transaction.
func (s *Server) DescribeTransactionRequest(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"label":   transactionLabel,
		"icon":    s.icon,
		"message": transactionMessage,
	})
}

// TransactionRequest is accepted by POST /v1/transaction-requests.
type TransactionRequest struct {
	Account string `json:"account"`
	Amount  uint64 `json:"amount"`
}

// TransactionResponse carries an unsigned direct settlement for the wallet.
type TransactionResponse struct {
	Transaction *types.Transaction `json:"transaction"`
	Message     string             `json:"message"`
}

// CreateTransactionRequest builds an unsigned direct processPayment
// transaction paying the merchant from account.
func (s *Server) CreateTransactionRequest(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	customer, err := crypto.DecodeAddress(req.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid account: %v", err))
		return
	}
	if req.Amount == 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}
	if customer == s.merchant {
		writeError(w, http.StatusBadRequest, loyalty.ErrSelfPayment.Error())
		return
	}
	chainID, err := s.api.ChainID(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	account, err := s.api.GetAccount(r.Context(), customer)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	tx, err := types.NewTransaction(chainID, types.TxTypeProcessPayment, account.Nonce, &types.ProcessPaymentPayload{
		Customer: customer,
		Merchant: s.merchant,
		Mint:     s.token,
		Amount:   req.Amount,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, TransactionResponse{Transaction: tx, Message: transactionMessage})
}

func (s *Server) GetCustomer(w http.ResponseWriter, r *http.Request) {
	customer, ok := s.customerParam(w, r)
	if !ok {
		return
	}
	view, err := s.rewards.Describe(r.Context(), customer)
	if errors.Is(err, loyalty.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "loyalty record not found")
		return
	}
	if err != nil && view == nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if err != nil {
		s.logger.Warn("customer view incomplete",
			slog.String("customer", customer.String()),
			slog.Any("error", err))
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) ReconcileCustomer(w http.ResponseWriter, r *http.Request) {
	customer, ok := s.customerParam(w, r)
	if !ok {
		return
	}
	err := s.rewards.Reconcile(r.Context(), customer)
	if errors.Is(err, loyalty.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "loyalty record not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	view, err := s.rewards.Describe(r.Context(), customer)
	if err != nil && view == nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) customerParam(w http.ResponseWriter, r *http.Request) (crypto.Address, bool) {
	customer, err := crypto.DecodeAddress(chi.URLParam(r, "customer"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid customer: %v", err))
		return crypto.Address{}, false
	}
	return customer, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, out interface{}) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid JSON payload: %w", err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
