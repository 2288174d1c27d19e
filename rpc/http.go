package rpc

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"loyaltypay/core"
	"loyaltypay/core/types"
	"loyaltypay/crypto"
	"loyaltypay/native/loyalty"
	"loyaltypay/native/token"
	"loyaltypay/observability"
)

const (
	defaultMaxRequestBytes = 1 << 20 // 1 MiB
	limiterIdleTTL         = 15 * time.Minute
)

// Ledger is the node surface served over JSON-RPC.
type Ledger interface {
	ChainID() uint64
	Head() types.SlotHeader
	SubmitTransaction(tx *types.Transaction) (*types.Receipt, error)
	GetTransaction(hash common.Hash) (*types.TxRecord, error)
	GetSlot(slot uint64) (*types.SlotHeader, error)
	FindReference(ref common.Hash) ([]types.ReferencedPayment, error)
	Account(addr crypto.Address) (*types.Account, error)
	Holding(owner, mint crypto.Address) (*token.Holding, error)
	Mint(addr crypto.Address) (*token.Mint, error)
	Metadata(mint crypto.Address) (*token.Metadata, error)
	Record(customer, merchant crypto.Address) (*loyalty.Record, error)
}

// ServerConfig tunes the JSON-RPC server.
type ServerConfig struct {
	// AuthToken protects ledger_sendTransaction with a bearer token. An
	// empty token leaves writes open, which is only suitable for local
	// development.
	AuthToken string
	// TxRateLimit bounds transactions per second per client source. Zero
	// disables limiting.
	TxRateLimit float64
	TxBurst     int
	// MaxRequestBytes bounds the request body. Zero selects 1 MiB.
	MaxRequestBytes int64
	// TrustProxyHeaders makes X-Forwarded-For the rate limit key.
	TrustProxyHeaders bool
	// Zero timeouts select the package defaults.
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
}

type sourceLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Server exposes a Ledger over JSON-RPC 2.0 on net/http.
type Server struct {
	ledger Ledger
	cfg    ServerConfig
	logger *slog.Logger

	mu       sync.Mutex
	limiters map[string]*sourceLimiter

	serverMu   sync.Mutex
	httpServer *http.Server
}

func NewServer(ledger Ledger, cfg ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = defaultMaxRequestBytes
	}
	if cfg.TxBurst <= 0 {
		cfg.TxBurst = 1
	}
	cfg.AuthToken = strings.TrimSpace(cfg.AuthToken)
	return &Server{
		ledger:   ledger,
		cfg:      cfg,
		logger:   logger,
		limiters: make(map[string]*sourceLimiter),
	}
}

// Handler returns the instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(http.HandlerFunc(s.handle), "loyaltypay.rpc")
}

// Serve accepts connections on listener until Shutdown is called.
func (s *Server) Serve(listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: orDefault(s.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       orDefault(s.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      orDefault(s.cfg.WriteTimeout, 30*time.Second),
		IdleTimeout:       orDefault(s.cfg.IdleTimeout, 60*time.Second),
	}
	s.serverMu.Lock()
	s.httpServer = srv
	s.serverMu.Unlock()
	s.logger.Info("json-rpc server listening", slog.String("addr", listener.Addr().String()))
	return srv.Serve(listener)
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// Shutdown gracefully stops a server started with Serve.
func (s *Server) Shutdown(ctx context.Context) error {
	s.serverMu.Lock()
	srv := s.httpServer
	s.serverMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	raw, err := json.Marshal(result)
	if err != nil {
		writeError(w, http.StatusInternalServerError, id, codeServerError, "failed to encode result", err.Error())
		return
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: raw}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeLedgerError maps ledger failures onto JSON-RPC errors, attaching the
// ledger error code so clients can recover the sentinel.
func writeLedgerError(w http.ResponseWriter, id interface{}, err error) {
	code := core.CodeForError(err)
	switch {
	case errors.Is(err, core.ErrTransactionNotFound),
		errors.Is(err, core.ErrSlotNotFound),
		errors.Is(err, loyalty.ErrRecordNotFound),
		errors.Is(err, token.ErrMintNotFound),
		errors.Is(err, token.ErrHoldingNotFound),
		errors.Is(err, token.ErrMetadataNotFound):
		writeError(w, http.StatusNotFound, id, codeNotFound, err.Error(), code)
	case errors.Is(err, core.ErrChainIDMismatch),
		errors.Is(err, core.ErrNonceMismatch),
		errors.Is(err, core.ErrUnknownTxType),
		errors.Is(err, types.ErrMissingSignature),
		errors.Is(err, types.ErrInvalidSignature):
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, err.Error(), code)
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, err.Error(), nil)
	}
}

func decodeParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected exactly one parameter object")
	}
	dec := json.NewDecoder(bytes.NewReader(req.Params[0]))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, nil, codeInvalidRequest, "JSON-RPC requires POST", nil)
		return
	}
	reader := http.MaxBytesReader(w, r.Body, s.cfg.MaxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", s.cfg.MaxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	start := time.Now()
	defer func() {
		observability.RPC().Observe(req.Method, time.Since(start))
	}()

	switch req.Method {
	case "ledger_chainId":
		writeResult(w, req.ID, ChainInfo{ChainID: s.ledger.ChainID(), Head: s.ledger.Head()})
	case "ledger_sendTransaction":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleSendTransaction(w, r, req)
	case "ledger_getTransaction":
		s.handleGetTransaction(w, req)
	case "ledger_getSlot":
		s.handleGetSlot(w, req)
	case "ledger_findReference":
		s.handleFindReference(w, req)
	case "ledger_getAccount":
		s.handleGetAccount(w, req)
	case "ledger_getHolding":
		s.handleGetHolding(w, req)
	case "loyalty_getRecord":
		s.handleGetRecord(w, req)
	case "token_getMint":
		s.handleGetMint(w, req)
	case "token_getMetadata":
		s.handleGetMetadata(w, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
	}
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.cfg.AuthToken == "" {
		return nil
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	tok := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if tok == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(tok), []byte(s.cfg.AuthToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

func (s *Server) allowSource(source string, now time.Time) bool {
	if s.cfg.TxRateLimit <= 0 {
		return true
	}
	if source == "" {
		source = "unknown"
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, entry := range s.limiters {
		if now.Sub(entry.lastSeen) > limiterIdleTTL {
			delete(s.limiters, key)
		}
	}
	entry, ok := s.limiters[source]
	if !ok {
		entry = &sourceLimiter{limiter: rate.NewLimiter(rate.Limit(s.cfg.TxRateLimit), s.cfg.TxBurst)}
		s.limiters[source] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (s *Server) clientSource(r *http.Request) string {
	if s.cfg.TrustProxyHeaders {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			candidate := strings.TrimSpace(strings.Split(forwarded, ",")[0])
			if candidate != "" {
				return candidate
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) handleSendTransaction(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "transaction parameter required", nil)
		return
	}
	var tx types.Transaction
	if err := json.Unmarshal(req.Params[0], &tx); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid transaction format", err.Error())
		return
	}
	source := s.clientSource(r)
	if !s.allowSource(source, time.Now()) {
		writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "transaction rate limit exceeded", source)
		return
	}
	receipt, err := s.ledger.SubmitTransaction(&tx)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	observability.Ledger().RecordReceipt(receipt)
	writeResult(w, req.ID, receipt)
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, req *RPCRequest) {
	var params hashParams
	if err := decodeParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	record, err := s.ledger.GetTransaction(params.Hash)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, record)
}

func (s *Server) handleGetSlot(w http.ResponseWriter, req *RPCRequest) {
	var params slotParams
	if err := decodeParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	header, err := s.ledger.GetSlot(params.Slot)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, header)
}

func (s *Server) handleFindReference(w http.ResponseWriter, req *RPCRequest) {
	var params referenceParams
	if err := decodeParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	payments, err := s.ledger.FindReference(params.Reference)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	if payments == nil {
		payments = []types.ReferencedPayment{}
	}
	writeResult(w, req.ID, payments)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, req *RPCRequest) {
	var params addressParams
	if err := decodeParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	account, err := s.ledger.Account(params.Address)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, AccountResult{Address: params.Address, Nonce: account.Nonce, Balance: account.Balance.String()})
}

func (s *Server) handleGetHolding(w http.ResponseWriter, req *RPCRequest) {
	var params holdingParams
	if err := decodeParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	holding, err := s.ledger.Holding(params.Owner, params.Mint)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, holding)
}

func (s *Server) handleGetRecord(w http.ResponseWriter, req *RPCRequest) {
	var params recordParams
	if err := decodeParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	record, err := s.ledger.Record(params.Customer, params.Merchant)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, RecordResult{
		Address: loyalty.DeriveRecordAddress(params.Customer, params.Merchant),
		Tier:    record.Tier(),
		Record:  *record,
	})
}

func (s *Server) handleGetMint(w http.ResponseWriter, req *RPCRequest) {
	var params mintParams
	if err := decodeParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	mint, err := s.ledger.Mint(params.Mint)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, mint)
}

func (s *Server) handleGetMetadata(w http.ResponseWriter, req *RPCRequest) {
	var params mintParams
	if err := decodeParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	meta, err := s.ledger.Metadata(params.Mint)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, meta)
}
