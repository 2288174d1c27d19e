package rpc

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"

	"loyaltypay/core/types"
	"loyaltypay/crypto"
	"loyaltypay/native/loyalty"
)

const jsonRPCVersion = "2.0"

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeNotFound       = -32004
	codeRateLimited    = -32020
)

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the JSON-RPC error object. Data carries the ledger error code
// (see core.CodeForError) when the failure maps onto a known sentinel.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return e.Message
}

// ChainInfo is returned by ledger_chainId.
type ChainInfo struct {
	ChainID uint64           `json:"chainId"`
	Head    types.SlotHeader `json:"head"`
}

// AccountResult is the base-currency view of an address.
type AccountResult struct {
	Address crypto.Address `json:"address"`
	Nonce   uint64         `json:"nonce"`
	Balance string         `json:"balance"`
}

// RecordResult is a loyalty record together with its derived address and
// current tier.
type RecordResult struct {
	Address crypto.Address `json:"address"`
	Tier    loyalty.Tier   `json:"tier"`
	loyalty.Record
}

type hashParams struct {
	Hash common.Hash `json:"hash"`
}

type slotParams struct {
	Slot uint64 `json:"slot"`
}

type referenceParams struct {
	Reference common.Hash `json:"reference"`
}

type addressParams struct {
	Address crypto.Address `json:"address"`
}

type holdingParams struct {
	Owner crypto.Address `json:"owner"`
	Mint  crypto.Address `json:"mint"`
}

type recordParams struct {
	Customer crypto.Address `json:"customer"`
	Merchant crypto.Address `json:"merchant"`
}

type mintParams struct {
	Mint crypto.Address `json:"mint"`
}
