// Package matching implements the exact (stage 1) and tolerant (stage 2)
// reconciliation matchers. Matchers are pure: they read a candidate pool and
// a consumed-id set and return new pairs without touching storage.
package matching

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/clearledger/reconcile/internal/domain/ledger"
)

// Consumed tracks ledger entry ids already bound into a MatchedPair. The
// same set is threaded through every pass so no entry is matched twice.
type Consumed struct {
	External map[int64]bool
	Internal map[int64]bool
}

// NewConsumed returns an empty consumed set.
func NewConsumed() *Consumed {
	return &Consumed{
		External: make(map[int64]bool),
		Internal: make(map[int64]bool),
	}
}

// ConsumedFromPairs seeds a consumed set from existing pairs.
func ConsumedFromPairs(pairs []ledger.MatchedPair) *Consumed {
	c := NewConsumed()
	for _, p := range pairs {
		c.External[p.External.ID] = true
		c.Internal[p.Internal.ID] = true
	}
	return c
}

func (c *Consumed) take(ext ledger.ExternalEntry, in ledger.InternalEntry) {
	c.External[ext.ID] = true
	c.Internal[in.ID] = true
}

// clientKey normalizes a client identifier for key building. Numeric ids
// lose leading zeros so the processor's "0123" meets the bank's 123.
func clientKey(s string) string {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return strconv.FormatInt(n, 10)
	}
	return s
}

func internalClientKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

// amountKey rounds to the 2-decimal display precision both exports share.
func amountKey(d decimal.Decimal) string {
	return d.StringFixed(2)
}
