package state

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"loyaltypay/core/types"
	"loyaltypay/crypto"
	"loyaltypay/native/loyalty"
	"loyaltypay/native/token"
	"loyaltypay/storage"
	"loyaltypay/storage/trie"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	tr, err := trie.NewTrie(db, nil)
	if err != nil {
		t.Fatalf("new trie: %v", err)
	}
	return NewManager(tr)
}

func TestAccountRoundTrip(t *testing.T) {
	mgr := newTestManager(t)
	addr := crypto.DeriveAddress([]byte("alice"))

	acc, err := mgr.GetAccount(addr)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if acc.Balance.Sign() != 0 || acc.Nonce != 0 {
		t.Fatalf("expected empty account, got %+v", acc)
	}
	if err := mgr.PutAccount(addr, &types.Account{Nonce: 2, Balance: big.NewInt(500)}); err != nil {
		t.Fatalf("put: %v", err)
	}
	acc, err = mgr.GetAccount(addr)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if acc.Nonce != 2 || acc.Balance.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("unexpected account %+v", acc)
	}
	if err := mgr.PutAccount(addr, &types.Account{Balance: big.NewInt(-1), Nonce: 1}); err == nil {
		t.Fatalf("expected negative balance error")
	}
}

func TestLoyaltyRecordStoredInFixedLayout(t *testing.T) {
	mgr := newTestManager(t)
	customer := crypto.DeriveAddress([]byte("customer"))
	merchant := crypto.DeriveAddress([]byte("merchant"))
	addr := loyalty.DeriveRecordAddress(customer, merchant)

	if _, ok, err := mgr.LoyaltyRecord(addr); err != nil || ok {
		t.Fatalf("expected missing record, ok=%v err=%v", ok, err)
	}
	rec := &loyalty.Record{Merchant: merchant, Customer: customer, LoyaltyPoints: 42, Threshold: 100, RefundPercentage: 15}
	if err := mgr.PutLoyaltyRecord(addr, rec); err != nil {
		t.Fatalf("put: %v", err)
	}
	raw, err := mgr.trie.Get(kvKey(LoyaltyRecordKey(addr)))
	if err != nil {
		t.Fatalf("raw get: %v", err)
	}
	if len(raw) != loyalty.RecordSize {
		t.Fatalf("stored record has %d bytes", len(raw))
	}
	got, ok, err := mgr.LoyaltyRecord(addr)
	if err != nil || !ok || *got != *rec {
		t.Fatalf("unexpected record %+v ok=%v err=%v", got, ok, err)
	}
	if err := mgr.DeleteLoyaltyRecord(addr); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := mgr.LoyaltyRecord(addr); ok {
		t.Fatalf("record should be gone")
	}
}

func TestTokenStateRoundTrip(t *testing.T) {
	mgr := newTestManager(t)
	mintAddr := crypto.DeriveAddress([]byte("mint"))
	owner := crypto.DeriveAddress([]byte("owner"))

	mint := &token.Mint{Symbol: "USDC", Decimals: 6, Supply: 10, MintAuthority: owner}
	if err := mgr.PutTokenMint(mintAddr, mint); err != nil {
		t.Fatalf("put mint: %v", err)
	}
	gotMint, ok, err := mgr.TokenMint(mintAddr)
	if err != nil || !ok || *gotMint != *mint {
		t.Fatalf("unexpected mint %+v", gotMint)
	}
	if err := mgr.PutTokenHolding(&token.Holding{Owner: owner, Mint: mintAddr, Amount: 10}); err != nil {
		t.Fatalf("put holding: %v", err)
	}
	holding, ok, err := mgr.TokenHolding(owner, mintAddr)
	if err != nil || !ok || holding.Amount != 10 {
		t.Fatalf("unexpected holding %+v", holding)
	}
	meta := &token.Metadata{
		Mint: mintAddr, UpdateAuthority: owner, Name: "Loyalty Card NFT", URI: "https://example.com/c.json",
		SellerFeeBasisPoints: 500, Creators: []types.Creator{{Address: owner, Verified: true, Share: 100}}, IsMutable: true,
	}
	if err := mgr.PutTokenMetadata(meta); err != nil {
		t.Fatalf("put metadata: %v", err)
	}
	gotMeta, ok, err := mgr.TokenMetadata(mintAddr)
	if err != nil || !ok {
		t.Fatalf("metadata missing: %v", err)
	}
	if gotMeta.Name != meta.Name || gotMeta.Creators[0].Share != 100 || !gotMeta.IsMutable {
		t.Fatalf("unexpected metadata %+v", gotMeta)
	}
}

func TestReferenceTracking(t *testing.T) {
	mgr := newTestManager(t)
	ref := common.HexToHash("0x1234")
	payments, err := mgr.ReferencedPayments(ref)
	if err != nil || len(payments) != 0 {
		t.Fatalf("expected no payments, got %v %v", payments, err)
	}
	payment := types.ReferencedPayment{TxHash: common.HexToHash("0x01"), Amount: 7}
	if err := mgr.AppendReferencedPayment(ref, payment); err != nil {
		t.Fatalf("append: %v", err)
	}
	payments, err = mgr.ReferencedPayments(ref)
	if err != nil || len(payments) != 1 || payments[0] != payment {
		t.Fatalf("unexpected payments %v %v", payments, err)
	}
	if consumed, _ := mgr.ReferenceConsumed(ref); consumed {
		t.Fatalf("reference should not be consumed yet")
	}
	if err := mgr.MarkReferenceConsumed(ref); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if consumed, _ := mgr.ReferenceConsumed(ref); !consumed {
		t.Fatalf("reference should be consumed")
	}
}

func TestKVAppendDeduplicates(t *testing.T) {
	mgr := newTestManager(t)
	key := []byte("index")
	for _, v := range [][]byte{{1}, {2}, {1}} {
		if err := mgr.KVAppend(key, v); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	var list [][]byte
	if err := mgr.KVGetList(key, &list); err != nil {
		t.Fatalf("get list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(list))
	}
}
