// Package domain holds the typed identifiers and value objects shared by every
// bounded context. Parse* functions are the trust boundary: anything arriving
// from a transport must go through them before reaching a service.
package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "trustcore/pkg/domain-errors"
)

const maxIdentifierLength = 128

// AccountID identifies a protocol participant: stakers, attestors, asset
// owners, buyers and sellers all share the same identity space.
type AccountID string

// AssetID identifies a real-world asset across verification, tokenization,
// settlement and protection.
type AssetID string

// AssetType keys verification policies (e.g. "real_estate", "commodity").
type AssetType string

// SettlementID identifies an escrow. Generated server-side.
type SettlementID uuid.UUID

func (a AccountID) String() string { return string(a) }
func (a AccountID) IsNil() bool    { return a == "" }

func (a AssetID) String() string { return string(a) }
func (a AssetID) IsNil() bool    { return a == "" }

func (t AssetType) String() string { return string(t) }
func (t AssetType) IsNil() bool    { return t == "" }

func (s SettlementID) String() string { return uuid.UUID(s).String() }
func (s SettlementID) IsNil() bool    { return uuid.UUID(s) == uuid.Nil }

// NewSettlementID returns a fresh random settlement id.
func NewSettlementID() SettlementID {
	return SettlementID(uuid.New())
}

// ParseAccountID validates an externally supplied account identifier.
func ParseAccountID(s string) (AccountID, error) {
	v, err := parseIdentifier("account id", s)
	return AccountID(v), err
}

// ParseAssetID validates an externally supplied asset identifier.
func ParseAssetID(s string) (AssetID, error) {
	v, err := parseIdentifier("asset id", s)
	return AssetID(v), err
}

// ParseAssetType validates an asset type key.
func ParseAssetType(s string) (AssetType, error) {
	v, err := parseIdentifier("asset type", s)
	return AssetType(v), err
}

// ParseSettlementID parses a UUID settlement id, rejecting the nil UUID.
func ParseSettlementID(s string) (SettlementID, error) {
	if s == "" {
		return SettlementID{}, dErrors.New(dErrors.CodeInvalidInput, "settlement id cannot be empty")
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return SettlementID{}, dErrors.New(dErrors.CodeInvalidInput, "invalid settlement id")
	}
	if parsed == uuid.Nil {
		return SettlementID{}, dErrors.New(dErrors.CodeInvalidInput, "settlement id cannot be nil")
	}
	return SettlementID(parsed), nil
}

func parseIdentifier(kind, s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, kind+" cannot be empty")
	}
	if len(s) > maxIdentifierLength {
		return "", dErrors.New(dErrors.CodeInvalidInput, kind+" is too long")
	}
	for _, r := range s {
		if !isIdentifierRune(r) {
			return "", dErrors.New(dErrors.CodeInvalidInput, kind+" contains invalid characters")
		}
	}
	return s, nil
}

func isIdentifierRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-', r == '_', r == '.', r == ':':
		return true
	}
	return false
}
