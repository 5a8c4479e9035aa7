package escrow

import (
	"math/big"
	"strings"
	"unicode"
)

// Config is the singleton module configuration: the administrator identity
// authorised to change it, and the settlement denomination accepted by
// Approve.
type Config struct {
	Admin string `json:"admin"`
	Denom string `json:"denom"`
}

// Clone returns a copy of the config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// Order is the capability exposed by records that carry an expiry. Escrow is
// the single implementer today; future record kinds only need to provide
// their expiry timestamp to participate in the same checks.
type Order interface {
	ExpiresAt() int64
}

// IsExpired reports whether the order's expiry has passed at the given unix
// timestamp. The boundary itself counts as expired.
func IsExpired(o Order, now int64) bool {
	return o.ExpiresAt() <= now
}

// Escrow captures a deposited item awaiting settlement: the depositing
// source, the paying recipient, the asked price and the expiry deadline. The
// record is immutable between creation and deletion; settlement deletes it.
type Escrow struct {
	Source     string   `json:"source"`
	Recipient  string   `json:"recipient"`
	Price      *big.Int `json:"price"`
	Deadline   int64    `json:"expires_at"`
	Collection string   `json:"collection"`
	TokenID    string   `json:"token_id"`
}

// ExpiresAt implements the Order capability.
func (e *Escrow) ExpiresAt() int64 { return e.Deadline }

// Clone returns a deep copy of the escrow object so callers can safely mutate
// the copy without affecting the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Price != nil {
		clone.Price = new(big.Int).Set(e.Price)
	} else {
		clone.Price = big.NewInt(0)
	}
	return &clone
}

// SanitizeEscrow validates the supplied escrow definition and returns a
// cloned instance with a non-nil price field. The function does not mutate
// the original value.
func SanitizeEscrow(e *Escrow) (*Escrow, error) {
	if e == nil {
		return nil, ErrNoEscrow
	}
	clone := e.Clone()
	if err := validateIdentity(clone.Source); err != nil {
		return nil, err
	}
	if err := validateIdentity(clone.Recipient); err != nil {
		return nil, err
	}
	if err := validateIdentity(clone.Collection); err != nil {
		return nil, err
	}
	if clone.TokenID == "" {
		return nil, ErrInvalidIdentity
	}
	if clone.Price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	return clone, nil
}

// Coin is a single unit of attached payment.
type Coin struct {
	Denom  string   `json:"denom"`
	Amount *big.Int `json:"amount"`
}

// CollectionOffset is the compound pagination cursor used by the source and
// recipient indices, disambiguating token-id ties across collections.
type CollectionOffset struct {
	Collection string `json:"collection"`
	TokenID    string `json:"token_id"`
}

// maxIdentifierLen bounds every identifier that becomes a length-prefixed
// key segment. The persisted keys carry a two-byte length prefix, so a longer
// segment would wrap the prefix and alias another key. Token ids are stored
// as the raw key tail and need no bound.
const maxIdentifierLen = 1<<16 - 1

// validateIdentity enforces the well-formedness the core owns: identities
// must be non-empty printable strings without surrounding whitespace, short
// enough for the key codec's length prefix. Full address validation belongs
// to the host.
func validateIdentity(id string) error {
	if id == "" || len(id) > maxIdentifierLen || strings.TrimSpace(id) != id {
		return ErrInvalidIdentity
	}
	for _, r := range id {
		if !unicode.IsPrint(r) {
			return ErrInvalidIdentity
		}
	}
	return nil
}
