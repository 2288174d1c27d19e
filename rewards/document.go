package rewards

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"loyaltypay/native/loyalty"
	"loyaltypay/observability"
)

// TierTraitType is the attribute trait carrying the reward tier.
const TierTraitType = "Reward Tier"

const (
	pathStrict     = "strict"
	pathNormalized = "normalized"
	pathRepaired   = "repaired"
	pathFailed     = "failed"
)

// Document is an off-ledger reward metadata document.
type Document struct {
	Name        string      `json:"name"`
	Symbol      string      `json:"symbol,omitempty"`
	Description string      `json:"description,omitempty"`
	Image       string      `json:"image,omitempty"`
	Attributes  []Attribute `json:"attributes,omitempty"`
	Properties  Properties  `json:"properties,omitempty"`
}

type Attribute struct {
	TraitType string      `json:"trait_type"`
	Value     interface{} `json:"value"`
}

type Properties struct {
	Files    []File `json:"files,omitempty"`
	Category string `json:"category,omitempty"`
}

type File struct {
	URI  string `json:"uri"`
	Type string `json:"type,omitempty"`
}

// RewardTier returns the tier named by the "Reward Tier" attribute. Tier
// names are matched without regard to case.
func (d *Document) RewardTier() (loyalty.Tier, bool) {
	if d == nil {
		return 0, false
	}
	for _, attr := range d.Attributes {
		if !strings.EqualFold(strings.TrimSpace(attr.TraitType), TierTraitType) {
			continue
		}
		value, ok := attr.Value.(string)
		if !ok {
			return 0, false
		}
		tier, err := loyalty.ParseTier(value)
		if err != nil {
			return 0, false
		}
		return tier, true
	}
	return 0, false
}

var errDocumentUnnamed = errors.New("document has no name")

var (
	quoteReplacer = strings.NewReplacer(
		"`", `"`,
		"'", `"`,
		"“", `"`,
		"”", `"`,
		"‘", `"`,
		"’", `"`,
	)
	// Matches an unquoted property label at the start of an object member.
	bareLabel = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)\s*:`)
)

// NormalizeDocument rewrites the loose JSON that hand-edited metadata files
// tend to contain: decorative, backtick and single quotes become double quotes
// and bare property labels get quoted.
func NormalizeDocument(raw string) string {
	out := quoteReplacer.Replace(raw)
	return bareLabel.ReplaceAllString(out, `$1"$2":`)
}

// DecodeDocument parses a metadata document. Strict JSON is tried first,
// then the normalized form, then a generic JSON repair of the normalized
// form. Anything still unreadable yields ErrMetadataParse wrapped with source.
func DecodeDocument(raw []byte, source string) (*Document, error) {
	metrics := observability.Rewards()
	if doc, err := decodeStrict(raw); err == nil {
		metrics.RecordDocument(pathStrict)
		return doc, nil
	}
	normalized := NormalizeDocument(string(raw))
	if doc, err := decodeStrict([]byte(normalized)); err == nil {
		metrics.RecordDocument(pathNormalized)
		return doc, nil
	}
	repaired, err := jsonrepair.JSONRepair(normalized)
	if err == nil {
		doc, decodeErr := decodeStrict([]byte(repaired))
		if decodeErr == nil {
			metrics.RecordDocument(pathRepaired)
			return doc, nil
		}
		err = decodeErr
	}
	metrics.RecordDocument(pathFailed)
	return nil, fmt.Errorf("%w: %s: %v", ErrMetadataParse, source, err)
}

func decodeStrict(raw []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if strings.TrimSpace(doc.Name) == "" {
		return nil, errDocumentUnnamed
	}
	return &doc, nil
}
