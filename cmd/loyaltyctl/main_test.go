package main

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"loyaltypay/core"
	"loyaltypay/core/genesis"
	"loyaltypay/crypto"
	"loyaltypay/native/loyalty"
	"loyaltypay/payments"
	"loyaltypay/rpc"
	"loyaltypay/storage"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	root.SetArgs(args)
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	err := root.Execute()
	return out.String(), err
}

func TestKeygenAndAddress(t *testing.T) {
	t.Setenv(defaultPassEnv, "correct horse")
	path := filepath.Join(t.TempDir(), "key.json")

	out, err := execute(t, "keygen", "--keystore", path)
	require.NoError(t, err)
	generated := bytes.TrimSpace([]byte(out))

	out, err = execute(t, "address", "--keystore", path)
	require.NoError(t, err)
	require.Equal(t, string(generated), string(bytes.TrimSpace([]byte(out))))

	_, err = execute(t, "keygen", "--keystore", path)
	require.Error(t, err)
	_, err = execute(t, "keygen", "--keystore", path, "--force")
	require.NoError(t, err)
}

func TestURICommand(t *testing.T) {
	ref, err := payments.NewReference()
	require.NoError(t, err)
	req := payments.PaymentRequest{
		Recipient: crypto.DeriveAddress([]byte("merchant")),
		Amount:    2500,
		Token:     genesis.TokenAddress("USDC"),
		Reference: ref,
		Label:     "Corner Bakery",
	}
	uri, err := payments.EncodeURL(req)
	require.NoError(t, err)

	out, err := execute(t, "uri", uri)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	require.Equal(t, req.Recipient.String(), decoded["recipient"])
	require.Equal(t, ref.Hex(), decoded["reference"])
	require.Equal(t, float64(2500), decoded["amount"])
	require.Equal(t, "Corner Bakery", decoded["label"])

	_, err = execute(t, "uri", "https://example.com")
	require.Error(t, err)
}

func TestPaymentCommandsAgainstNode(t *testing.T) {
	customer, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	merchant, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	spec := &genesis.GenesisSpec{
		ChainID: 13,
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
	srv := httptest.NewServer(rpc.NewServer(ledger, rpc.ServerConfig{}, nil).Handler())
	t.Cleanup(srv.Close)

	t.Setenv(defaultPassEnv, "pw")
	keystore := filepath.Join(t.TempDir(), "customer.json")
	require.NoError(t, crypto.SaveToKeystore(keystore, customer, "pw"))
	usdc := genesis.TokenAddress("USDC").String()
	base := []string{"--rpc", srv.URL, "--keystore", keystore}

	_, err = execute(t, append([]string{"pay", "--merchant", merchant.Address().String(), "--mint", usdc, "--amount", "40"}, base...)...)
	require.NoError(t, err)

	ref, err := payments.NewReference()
	require.NoError(t, err)
	uri, err := payments.EncodeURL(payments.PaymentRequest{
		Recipient: merchant.Address(), Amount: 25, Token: genesis.TokenAddress("USDC"), Reference: ref,
	})
	require.NoError(t, err)
	_, err = execute(t, append([]string{"transfer", uri}, base...)...)
	require.NoError(t, err)
	found, err := ledger.FindReference(ref)
	require.NoError(t, err)
	require.Len(t, found, 1)

	recordArgs := []string{"record", "--rpc", srv.URL, "--customer", customer.Address().String(), "--merchant", merchant.Address().String()}
	out, err := execute(t, recordArgs...)
	require.NoError(t, err)
	var shown struct {
		Record struct {
			LoyaltyPoints uint64 `json:"loyaltyPoints"`
		} `json:"record"`
		Tier string `json:"tier"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	require.Equal(t, uint64(40), shown.Record.LoyaltyPoints)
	require.Equal(t, loyalty.TierRare.String(), shown.Tier)

	_, err = execute(t, append([]string{"pay", "--merchant", merchant.Address().String(), "--mint", usdc, "--amount", "0"}, base...)...)
	require.Error(t, err)

	_, err = execute(t, append([]string{"close", "--merchant", merchant.Address().String()}, base...)...)
	require.NoError(t, err)
	_, err = execute(t, recordArgs...)
	require.Error(t, err)
}
