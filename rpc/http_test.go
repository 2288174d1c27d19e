package rpc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"loyaltypay/core"
	"loyaltypay/core/genesis"
	"loyaltypay/core/types"
	"loyaltypay/crypto"
	"loyaltypay/native/loyalty"
	"loyaltypay/native/token"
	"loyaltypay/storage"
)

type rpcFixture struct {
	ledger   *core.Ledger
	customer *crypto.PrivateKey
	merchant *crypto.PrivateKey
	usdc     crypto.Address
}

func newRPCFixture(t *testing.T) *rpcFixture {
	t.Helper()
	customer, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	merchant, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	spec := &genesis.GenesisSpec{
		ChainID: 11,
		Tokens:  []genesis.TokenSpec{{Symbol: "USDC", Decimals: 6, MintAuthority: merchant.Address().String()}},
		Alloc:   map[string]string{customer.Address().String(): "100000"},
		Holdings: map[string]map[string]uint64{
			customer.Address().String(): {"USDC": 1_000},
			merchant.Address().String(): {"USDC": 0},
		},
	}
	require.NoError(t, spec.Validate())
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	ledger, err := core.NewLedger(db, spec, loyalty.DefaultParams())
	require.NoError(t, err)
	return &rpcFixture{ledger: ledger, customer: customer, merchant: merchant, usdc: genesis.TokenAddress("USDC")}
}

func newRPCServer(t *testing.T, ledger Ledger, cfg ServerConfig) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewServer(ledger, cfg, nil).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestClientRoundTrip(t *testing.T) {
	f := newRPCFixture(t)
	srv := newRPCServer(t, f.ledger, ServerConfig{AuthToken: "secret"})
	client := NewClient(srv.URL, WithAuthToken("secret"))
	ctx := context.Background()

	chainID, err := client.ChainID(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(11), chainID)

	signer := NewSigner(client, f.customer)
	ref := common.HexToHash("0xabc")
	receipt, err := signer.Submit(ctx, types.TxTypeTransfer, &types.TransferPayload{
		To: f.merchant.Address(), Mint: f.usdc, Amount: 25, References: []common.Hash{ref},
	})
	require.NoError(t, err)
	require.True(t, receipt.Succeeded(), receipt.Error)

	payments, err := client.FindReference(ctx, ref)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	require.Equal(t, receipt.TxHash, payments[0].TxHash)

	record, err := client.GetTransaction(ctx, receipt.TxHash)
	require.NoError(t, err)
	require.Equal(t, types.TxTypeTransfer, record.Transaction.Type)
	require.Equal(t, f.customer.Address(), record.Receipt.Signer)

	holding, err := client.GetHolding(ctx, f.merchant.Address(), f.usdc)
	require.NoError(t, err)
	require.Equal(t, uint64(25), holding.Amount)

	account, err := client.GetAccount(ctx, f.customer.Address())
	require.NoError(t, err)
	require.Equal(t, uint64(1), account.Nonce)
	require.Equal(t, "100000", account.Balance.String())

	mint, err := client.GetMint(ctx, f.usdc)
	require.NoError(t, err)
	require.Equal(t, "USDC", mint.Symbol)

	empty, err := client.FindReference(ctx, common.HexToHash("0x01"))
	require.NoError(t, err)
	require.Empty(t, empty)

	head, err := client.Head(ctx)
	require.NoError(t, err)
	require.Equal(t, receipt.Slot, head.Slot)
	header, err := client.GetSlot(ctx, head.Slot)
	require.NoError(t, err)
	require.Equal(t, receipt.TxHash, header.TxHash)
	_, err = client.GetSlot(ctx, head.Slot+1)
	require.ErrorIs(t, err, core.ErrSlotNotFound)
}

func TestClientRestoresSentinels(t *testing.T) {
	f := newRPCFixture(t)
	srv := newRPCServer(t, f.ledger, ServerConfig{})
	client := NewClient(srv.URL)
	ctx := context.Background()

	_, err := client.GetRecord(ctx, f.customer.Address(), f.merchant.Address())
	require.ErrorIs(t, err, loyalty.ErrRecordNotFound)

	_, err = client.GetMetadata(ctx, f.usdc)
	require.ErrorIs(t, err, token.ErrMetadataNotFound)

	_, err = client.GetTransaction(ctx, common.HexToHash("0x02"))
	require.ErrorIs(t, err, core.ErrTransactionNotFound)

	tx, err := types.NewTransaction(11, types.TxTypeCreateHolding, 9, &types.CreateHoldingPayload{Owner: f.customer.Address(), Mint: f.usdc})
	require.NoError(t, err)
	require.NoError(t, tx.Sign(f.customer.PrivateKey))
	_, err = client.SendTransaction(ctx, tx)
	require.ErrorIs(t, err, core.ErrNonceMismatch)
}

func TestRecordResultCarriesTier(t *testing.T) {
	f := newRPCFixture(t)
	srv := newRPCServer(t, f.ledger, ServerConfig{})
	client := NewClient(srv.URL)
	ctx := context.Background()

	receipt, err := NewSigner(client, f.customer).Submit(ctx, types.TxTypeProcessPayment, &types.ProcessPaymentPayload{
		Customer: f.customer.Address(), Merchant: f.merchant.Address(), Mint: f.usdc, Amount: 40,
	})
	require.NoError(t, err)
	require.NoError(t, core.ReceiptError(receipt))

	record, err := client.GetRecord(ctx, f.customer.Address(), f.merchant.Address())
	require.NoError(t, err)
	require.Equal(t, uint64(40), record.LoyaltyPoints)
	require.Equal(t, loyalty.TierRare, record.Tier())
}

func TestSendTransactionRequiresAuth(t *testing.T) {
	f := newRPCFixture(t)
	srv := newRPCServer(t, f.ledger, ServerConfig{AuthToken: "secret"})
	ctx := context.Background()

	_, err := NewSigner(NewClient(srv.URL), f.customer).Submit(ctx, types.TxTypeCreateHolding,
		&types.CreateHoldingPayload{Owner: f.customer.Address(), Mint: f.usdc})
	var rpcErr *RPCError
	require.True(t, errors.As(err, &rpcErr), "expected RPCError, got %v", err)
	require.Equal(t, codeUnauthorized, rpcErr.Code)

	_, err = NewSigner(NewClient(srv.URL, WithAuthToken("wrong")), f.customer).Submit(ctx, types.TxTypeCreateHolding,
		&types.CreateHoldingPayload{Owner: f.customer.Address(), Mint: f.usdc})
	require.True(t, errors.As(err, &rpcErr))
	require.Equal(t, "invalid RPC credentials", rpcErr.Message)
}

func TestSendTransactionRateLimited(t *testing.T) {
	f := newRPCFixture(t)
	srv := newRPCServer(t, f.ledger, ServerConfig{TxRateLimit: 0.001, TxBurst: 1})
	signer := NewSigner(NewClient(srv.URL), f.customer)
	ctx := context.Background()
	payload := &types.CreateHoldingPayload{Owner: f.customer.Address(), Mint: f.usdc}

	_, err := signer.Submit(ctx, types.TxTypeCreateHolding, payload)
	require.NoError(t, err)
	_, err = signer.Submit(ctx, types.TxTypeCreateHolding, payload)
	var rpcErr *RPCError
	require.True(t, errors.As(err, &rpcErr), "expected RPCError, got %v", err)
	require.Equal(t, codeRateLimited, rpcErr.Code)
}

func TestHandleRejectsMalformedRequests(t *testing.T) {
	f := newRPCFixture(t)
	srv := newRPCServer(t, f.ledger, ServerConfig{})

	cases := []struct {
		name   string
		method string
		body   string
		status int
	}{
		{"get", http.MethodGet, "", http.StatusMethodNotAllowed},
		{"empty", http.MethodPost, "", http.StatusBadRequest},
		{"bad json", http.MethodPost, "{", http.StatusBadRequest},
		{"unknown method", http.MethodPost, `{"jsonrpc":"2.0","method":"nope","id":1}`, http.StatusNotFound},
		{"bad params", http.MethodPost, `{"jsonrpc":"2.0","method":"ledger_getAccount","params":[{"address":"zz"}],"id":1}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := http.NewRequest(tc.method, srv.URL, strings.NewReader(tc.body))
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestLocalClientHonoursContext(t *testing.T) {
	f := newRPCFixture(t)
	client := NewLocalClient(f.ledger)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.GetAccount(ctx, f.customer.Address())
	require.ErrorIs(t, err, context.Canceled)

	id, err := client.ChainID(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(11), id)
}
