package crypto

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
)

func TestAddressRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := key.Address()
	if addr.IsZero() {
		t.Fatalf("expected non-zero address")
	}
	encoded := addr.String()
	if encoded[:3] != AddressPrefix+"1" {
		t.Fatalf("unexpected prefix in %s", encoded)
	}
	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != addr {
		t.Fatalf("round trip mismatch: %x != %x", decoded, addr)
	}
	fromHex, err := DecodeAddress("0x" + addr.Hex())
	if err != nil {
		t.Fatalf("decode hex: %v", err)
	}
	if fromHex != addr {
		t.Fatalf("hex round trip mismatch")
	}
}

func TestAddressJSON(t *testing.T) {
	addr := DeriveAddress([]byte("merchant"))
	payload, err := json.Marshal(struct {
		Owner Address `json:"owner"`
	}{Owner: addr})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out struct {
		Owner Address `json:"owner"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Owner != addr {
		t.Fatalf("json round trip mismatch")
	}
}

func TestDecodeAddressRejectsShortHex(t *testing.T) {
	if _, err := DecodeAddress("abcd"); !errors.Is(err, errInvalidAddressLength) {
		t.Fatalf("expected length error, got %v", err)
	}
}

func TestDeriveAddressDeterministic(t *testing.T) {
	a := DeriveAddress([]byte("loyalty"), []byte{1}, []byte{2})
	b := DeriveAddress([]byte("loyalty"), []byte{1}, []byte{2})
	c := DeriveAddress([]byte("loyalty"), []byte{2}, []byte{1})
	if a != b {
		t.Fatalf("derivation not deterministic")
	}
	if a == c {
		t.Fatalf("seed order must matter")
	}
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "keys", "merchant.json")
	if err := SaveToKeystore(path, key, "secret"); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadFromKeystore(path, "secret")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Address() != key.Address() {
		t.Fatalf("loaded key mismatch")
	}
	if _, err := LoadFromKeystore(path, "wrong"); err == nil {
		t.Fatalf("expected wrong passphrase to fail")
	}
	t.Setenv("LOYALTYPAY_TEST_PASS", "")
	if _, err := LoadFromKeystoreEnv(path, "LOYALTYPAY_TEST_PASS"); !errors.Is(err, ErrPassphraseUnset) {
		t.Fatalf("expected passphrase error, got %v", err)
	}
}
