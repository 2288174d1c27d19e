package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"loyaltypay/core"
	"loyaltypay/core/types"
	"loyaltypay/crypto"
	"loyaltypay/native/loyalty"
	"loyaltypay/native/token"
)

// LedgerAPI is the context-aware ledger surface used by the off-ledger
// orchestrators. Client talks to a remote node; LocalClient wraps an
// in-process ledger.
type LedgerAPI interface {
	ChainID(ctx context.Context) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
	GetTransaction(ctx context.Context, hash common.Hash) (*types.TxRecord, error)
	Head(ctx context.Context) (types.SlotHeader, error)
	GetSlot(ctx context.Context, slot uint64) (*types.SlotHeader, error)
	FindReference(ctx context.Context, ref common.Hash) ([]types.ReferencedPayment, error)
	GetAccount(ctx context.Context, addr crypto.Address) (*types.Account, error)
	GetHolding(ctx context.Context, owner, mint crypto.Address) (*token.Holding, error)
	GetRecord(ctx context.Context, customer, merchant crypto.Address) (*loyalty.Record, error)
	GetMint(ctx context.Context, mint crypto.Address) (*token.Mint, error)
	GetMetadata(ctx context.Context, mint crypto.Address) (*token.Metadata, error)
}

var (
	_ LedgerAPI = (*Client)(nil)
	_ LedgerAPI = (*LocalClient)(nil)
)

// Client is a JSON-RPC client for a loyaltypay node.
type Client struct {
	endpoint   string
	authToken  string
	httpClient *http.Client
	nextID     atomic.Uint64
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithAuthToken sets the bearer token sent with write calls.
func WithAuthToken(tok string) ClientOption {
	return func(c *Client) { c.authToken = strings.TrimSpace(tok) }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func NewClient(endpoint string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint: strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		httpClient: &http.Client{
			Timeout:   15 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) call(ctx context.Context, method string, param interface{}, out interface{}) error {
	var params []json.RawMessage
	if param != nil {
		raw, err := json.Marshal(param)
		if err != nil {
			return fmt.Errorf("rpc %s: encode params: %w", method, err)
		}
		params = []json.RawMessage{raw}
	}
	body, err := json.Marshal(RPCRequest{
		JSONRPC: jsonRPCVersion,
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	})
	if err != nil {
		return fmt.Errorf("rpc %s: encode request: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("rpc %s: %w", method, err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("rpc %s: read response: %w", method, err)
	}
	var decoded RPCResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("rpc %s: decode response (status %d): %w", method, resp.StatusCode, err)
	}
	if decoded.Error != nil {
		return remoteError(method, decoded.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(decoded.Result, out); err != nil {
		return fmt.Errorf("rpc %s: decode result: %w", method, err)
	}
	return nil
}

// remoteError restores the ledger sentinel carried in the error data so
// callers can keep using errors.Is across the RPC boundary.
func remoteError(method string, rpcErr *RPCError) error {
	if code, ok := rpcErr.Data.(string); ok {
		if sentinel, known := core.ErrorForCode(code); known {
			return fmt.Errorf("rpc %s: %w: %s", method, sentinel, rpcErr.Message)
		}
	}
	return fmt.Errorf("rpc %s: %w", method, rpcErr)
}

func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	var info ChainInfo
	if err := c.call(ctx, "ledger_chainId", nil, &info); err != nil {
		return 0, err
	}
	return info.ChainID, nil
}

// SendTransaction submits a signed transaction and returns its receipt. A
// failed receipt is not an error; use core.ReceiptError to inspect it.
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	var receipt types.Receipt
	if err := c.call(ctx, "ledger_sendTransaction", tx, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (c *Client) GetTransaction(ctx context.Context, hash common.Hash) (*types.TxRecord, error) {
	var record types.TxRecord
	if err := c.call(ctx, "ledger_getTransaction", hashParams{Hash: hash}, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Head returns the latest committed slot header.
func (c *Client) Head(ctx context.Context) (types.SlotHeader, error) {
	var info ChainInfo
	if err := c.call(ctx, "ledger_chainId", nil, &info); err != nil {
		return types.SlotHeader{}, err
	}
	return info.Head, nil
}

func (c *Client) GetSlot(ctx context.Context, slot uint64) (*types.SlotHeader, error) {
	var header types.SlotHeader
	if err := c.call(ctx, "ledger_getSlot", slotParams{Slot: slot}, &header); err != nil {
		return nil, err
	}
	return &header, nil
}

func (c *Client) FindReference(ctx context.Context, ref common.Hash) ([]types.ReferencedPayment, error) {
	var payments []types.ReferencedPayment
	if err := c.call(ctx, "ledger_findReference", referenceParams{Reference: ref}, &payments); err != nil {
		return nil, err
	}
	return payments, nil
}

func (c *Client) GetAccount(ctx context.Context, addr crypto.Address) (*types.Account, error) {
	var result AccountResult
	if err := c.call(ctx, "ledger_getAccount", addressParams{Address: addr}, &result); err != nil {
		return nil, err
	}
	balance, ok := new(big.Int).SetString(result.Balance, 10)
	if !ok {
		return nil, fmt.Errorf("rpc ledger_getAccount: invalid balance %q", result.Balance)
	}
	return &types.Account{Nonce: result.Nonce, Balance: balance}, nil
}

func (c *Client) GetHolding(ctx context.Context, owner, mint crypto.Address) (*token.Holding, error) {
	var holding token.Holding
	if err := c.call(ctx, "ledger_getHolding", holdingParams{Owner: owner, Mint: mint}, &holding); err != nil {
		return nil, err
	}
	return &holding, nil
}

func (c *Client) GetRecord(ctx context.Context, customer, merchant crypto.Address) (*loyalty.Record, error) {
	var result RecordResult
	if err := c.call(ctx, "loyalty_getRecord", recordParams{Customer: customer, Merchant: merchant}, &result); err != nil {
		return nil, err
	}
	record := result.Record
	return &record, nil
}

func (c *Client) GetMint(ctx context.Context, mint crypto.Address) (*token.Mint, error) {
	var desc token.Mint
	if err := c.call(ctx, "token_getMint", mintParams{Mint: mint}, &desc); err != nil {
		return nil, err
	}
	return &desc, nil
}

func (c *Client) GetMetadata(ctx context.Context, mint crypto.Address) (*token.Metadata, error) {
	var meta token.Metadata
	if err := c.call(ctx, "token_getMetadata", mintParams{Mint: mint}, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}
