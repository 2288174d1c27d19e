package payments

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"loyaltypay/crypto"
)

// URIScheme prefixes payment request URIs.
const URIScheme = "loyaltypay"

var (
	ErrInvalidRequest = errors.New("payments: invalid payment request")
	ErrInvalidURI     = errors.New("payments: invalid payment URI")
)

// PaymentRequest asks a wallet to transfer Amount base units of Token to
// Recipient tagged with Reference. Label and Message are shown to the payer.
type PaymentRequest struct {
	Recipient crypto.Address `json:"recipient"`
	Amount    uint64         `json:"amount"`
	Token     crypto.Address `json:"token"`
	Reference common.Hash    `json:"reference"`
	Label     string         `json:"label,omitempty"`
	Message   string         `json:"message,omitempty"`
}

// NewReference returns a fresh random reference.
func NewReference() (common.Hash, error) {
	var ref common.Hash
	if _, err := rand.Read(ref[:]); err != nil {
		return common.Hash{}, fmt.Errorf("payments: generate reference: %w", err)
	}
	return ref, nil
}

// Validate checks that the request can be paid and detected.
func (r PaymentRequest) Validate() error {
	switch {
	case r.Recipient.IsZero():
		return fmt.Errorf("%w: recipient required", ErrInvalidRequest)
	case r.Token.IsZero():
		return fmt.Errorf("%w: token required", ErrInvalidRequest)
	case r.Amount == 0:
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	case r.Reference == (common.Hash{}):
		return fmt.Errorf("%w: reference required", ErrInvalidRequest)
	}
	return nil
}

// EncodeURL renders the request as
// loyaltypay:<recipient>?amount=..&token=..&reference=..&label=..&message=..
// Amounts are integer base units of the token.
func EncodeURL(req PaymentRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	query := url.Values{}
	query.Set("amount", strconv.FormatUint(req.Amount, 10))
	query.Set("token", req.Token.String())
	query.Set("reference", req.Reference.Hex())
	if label := strings.TrimSpace(req.Label); label != "" {
		query.Set("label", label)
	}
	if message := strings.TrimSpace(req.Message); message != "" {
		query.Set("message", message)
	}
	u := url.URL{Scheme: URIScheme, Opaque: req.Recipient.String(), RawQuery: query.Encode()}
	return u.String(), nil
}

// ParseURL is the inverse of EncodeURL.
func ParseURL(raw string) (PaymentRequest, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return PaymentRequest{}, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}
	if u.Scheme != URIScheme {
		return PaymentRequest{}, fmt.Errorf("%w: scheme %q", ErrInvalidURI, u.Scheme)
	}
	var req PaymentRequest
	if req.Recipient, err = crypto.DecodeAddress(u.Opaque); err != nil {
		return PaymentRequest{}, fmt.Errorf("%w: recipient: %v", ErrInvalidURI, err)
	}
	query := u.Query()
	if req.Amount, err = strconv.ParseUint(query.Get("amount"), 10, 64); err != nil {
		return PaymentRequest{}, fmt.Errorf("%w: amount: %v", ErrInvalidURI, err)
	}
	if req.Token, err = crypto.DecodeAddress(query.Get("token")); err != nil {
		return PaymentRequest{}, fmt.Errorf("%w: token: %v", ErrInvalidURI, err)
	}
	if req.Reference, err = decodeReference(query.Get("reference")); err != nil {
		return PaymentRequest{}, err
	}
	req.Label = query.Get("label")
	req.Message = query.Get("message")
	if err := req.Validate(); err != nil {
		return PaymentRequest{}, err
	}
	return req, nil
}

func decodeReference(raw string) (common.Hash, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "0x") && !strings.HasPrefix(raw, "0X") {
		raw = "0x" + raw
	}
	b, err := hexutil.Decode(raw)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: reference: %v", ErrInvalidURI, err)
	}
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: reference must be %d bytes", ErrInvalidURI, common.HashLength)
	}
	return common.BytesToHash(b), nil
}
