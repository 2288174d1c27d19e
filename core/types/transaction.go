package types

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"loyaltypay/crypto"
)

// TxType defines the instruction carried by a transaction.
type TxType byte

const (
	TxTypeTransfer             TxType = 0x01 // Token transfer, optionally reference-tagged
	TxTypeCreateHolding        TxType = 0x02 // Create an owner's holding for a mint
	TxTypeProcessPayment       TxType = 0x10 // Loyalty settlement
	TxTypeCloseLoyaltyCard     TxType = 0x11 // Loyalty record closure
	TxTypeMintRewardToken      TxType = 0x12 // Reward token follow-up
	TxTypeUpdateRewardMetadata TxType = 0x13 // Reward token retier
)

var txTypeNames = map[TxType]string{
	TxTypeTransfer:             "transfer",
	TxTypeCreateHolding:        "createHolding",
	TxTypeProcessPayment:       "processPayment",
	TxTypeCloseLoyaltyCard:     "closeLoyaltyCard",
	TxTypeMintRewardToken:      "mintRewardToken",
	TxTypeUpdateRewardMetadata: "updateRewardMetadata",
}

func (t TxType) String() string {
	if name, ok := txTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(0x%02x)", byte(t))
}

// Valid reports whether the ledger knows how to execute the type.
func (t TxType) Valid() bool {
	_, ok := txTypeNames[t]
	return ok
}

var (
	ErrMissingSignature = errors.New("types: transaction not signed")
	ErrInvalidSignature = errors.New("types: invalid signature")
)

// Transaction is a signed ledger instruction. Payload holds the RLP encoding
// of the instruction-specific payload struct (see payloads.go).
type Transaction struct {
	ChainID uint64        `json:"chainId"`
	Type    TxType        `json:"type"`
	Nonce   uint64        `json:"nonce"`
	Payload hexutil.Bytes `json:"payload"`

	R *big.Int `json:"r"`
	S *big.Int `json:"s"`
	V *big.Int `json:"v"`

	from *crypto.Address
}

// NewTransaction encodes payload and returns an unsigned transaction.
func NewTransaction(chainID uint64, txType TxType, nonce uint64, payload interface{}) (*Transaction, error) {
	encoded, err := rlp.EncodeToBytes(payload)
	if err != nil {
		return nil, fmt.Errorf("types: encode %s payload: %w", txType, err)
	}
	return &Transaction{ChainID: chainID, Type: txType, Nonce: nonce, Payload: encoded}, nil
}

// DecodePayload decodes the transaction payload into out.
func (tx *Transaction) DecodePayload(out interface{}) error {
	if err := rlp.DecodeBytes(tx.Payload, out); err != nil {
		return fmt.Errorf("types: decode %s payload: %w", tx.Type, err)
	}
	return nil
}

// Hash is the keccak256 hash of the unsigned transaction fields.
func (tx *Transaction) Hash() (common.Hash, error) {
	txData := struct {
		ChainID uint64
		Type    TxType
		Nonce   uint64
		Payload []byte
	}{tx.ChainID, tx.Type, tx.Nonce, tx.Payload}

	encoded, err := rlp.EncodeToBytes(&txData)
	if err != nil {
		return common.Hash{}, err
	}
	return ethcrypto.Keccak256Hash(encoded), nil
}

// Sign signs the transaction hash with key.
func (tx *Transaction) Sign(key *ecdsa.PrivateKey) error {
	hash, err := tx.Hash()
	if err != nil {
		return err
	}
	sig, err := ethcrypto.Sign(hash.Bytes(), key)
	if err != nil {
		return err
	}
	tx.R = new(big.Int).SetBytes(sig[:32])
	tx.S = new(big.Int).SetBytes(sig[32:64])
	tx.V = new(big.Int).SetBytes([]byte{sig[64] + 27})
	tx.from = nil
	return nil
}

// From recovers the signer address.
func (tx *Transaction) From() (crypto.Address, error) {
	if tx.from != nil {
		return *tx.from, nil
	}
	if tx.R == nil || tx.S == nil || tx.V == nil {
		return crypto.Address{}, ErrMissingSignature
	}
	if tx.R.BitLen() > 256 || tx.S.BitLen() > 256 || !tx.V.IsUint64() || tx.V.Uint64() < 27 || tx.V.Uint64() > 28 {
		return crypto.Address{}, ErrInvalidSignature
	}
	hash, err := tx.Hash()
	if err != nil {
		return crypto.Address{}, err
	}
	sig := make([]byte, 65)
	tx.R.FillBytes(sig[:32])
	tx.S.FillBytes(sig[32:64])
	sig[64] = byte(tx.V.Uint64() - 27)
	pubKey, err := ethcrypto.SigToPub(hash.Bytes(), sig)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	addr := crypto.PubkeyToAddress(pubKey)
	tx.from = &addr
	return addr, nil
}
