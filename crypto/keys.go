package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix is the human-readable part used when rendering addresses.
const AddressPrefix = "lp"

// AddressLength is the size of every ledger address in bytes.
const AddressLength = 32

var (
	errInvalidAddressLength = errors.New("crypto: address must be 32 bytes")
	errUnexpectedPrefix     = errors.New("crypto: unexpected address prefix")
)

// Address identifies an account on the ledger. Key-backed addresses are the
// keccak256 hash of the uncompressed public key; program-derived addresses are
// produced by hashing a seed list.
type Address [AddressLength]byte

// ZeroAddress is the unset address.
var ZeroAddress Address

// BytesToAddress copies b into an Address. It panics when the length is wrong.
func BytesToAddress(b []byte) Address {
	if len(b) != AddressLength {
		panic("address must be 32 bytes long")
	}
	var addr Address
	copy(addr[:], b)
	return addr
}

// DeriveAddress hashes the supplied seeds into a deterministic address.
func DeriveAddress(seeds ...[]byte) Address {
	var addr Address
	copy(addr[:], crypto.Keccak256(seeds...))
	return addr
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool { return a == ZeroAddress }

func (a Address) Bytes() []byte {
	out := make([]byte, AddressLength)
	copy(out, a[:])
	return out
}

func (a Address) Hex() string { return hex.EncodeToString(a[:]) }

func (a Address) String() string {
	conv, err := bech32.ConvertBits(a[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(AddressPrefix, conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// MarshalText renders the address in bech32 form.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText accepts the bech32 form or a 64 character hex string.
func (a *Address) UnmarshalText(text []byte) error {
	decoded, err := DecodeAddress(string(text))
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}

// DecodeAddress parses a bech32 encoded address. Hex encoded addresses are
// accepted as well since operator tooling frequently passes raw hashes.
func DecodeAddress(addrStr string) (Address, error) {
	trimmed := strings.TrimSpace(addrStr)
	if trimmed == "" {
		return Address{}, fmt.Errorf("crypto: empty address")
	}
	if raw, err := hex.DecodeString(strings.TrimPrefix(trimmed, "0x")); err == nil {
		if len(raw) != AddressLength {
			return Address{}, errInvalidAddressLength
		}
		return BytesToAddress(raw), nil
	}
	prefix, decoded, err := bech32.Decode(trimmed)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	if prefix != AddressPrefix {
		return Address{}, fmt.Errorf("%w: %q", errUnexpectedPrefix, prefix)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	if len(conv) != AddressLength {
		return Address{}, errInvalidAddressLength
	}
	return BytesToAddress(conv), nil
}

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

// Address is shorthand for PubKey().Address().
func (k *PrivateKey) Address() Address {
	return k.PubKey().Address()
}

func (k *PublicKey) Address() Address {
	return PubkeyToAddress(k.PublicKey)
}

// PubkeyToAddress derives the ledger address owned by the public key.
func PubkeyToAddress(pub *ecdsa.PublicKey) Address {
	uncompressed := crypto.FromECDSAPub(pub)
	return DeriveAddress(uncompressed[1:])
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// PrivateKeyFromHex parses a hex encoded secp256k1 key.
func PrivateKeyFromHex(s string) (*PrivateKey, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: decode key: %w", err)
	}
	return PrivateKeyFromBytes(raw)
}
