package matching

import "github.com/clearledger/reconcile/internal/domain/ledger"

// Policy selects the stage-2 behavior for an entity and carries the shared
// matching options. Entities flagged Tolerant run the widened A/B/C passes;
// everything else runs the standard three-strategy variant.
type Policy struct {
	// Tolerant selects the widened pass set for this entity.
	Tolerant bool

	// TolerantWindow is the date window in days for the tolerant passes.
	TolerantWindow int

	// StandardWindow is the date window in days for the standard
	// date+amount strategy.
	StandardWindow int

	// StrictCurrency names the currency that demands a same-currency
	// counterpart (its conversion is handled manually downstream).
	StrictCurrency string

	// BillingEntity is the name the bank export uses for this entity's
	// books. Internal rows with a different name belong to a sibling.
	BillingEntity string
}

// DefaultTolerantWindow and DefaultStandardWindow are the windows the
// reconciliation team signed off on.
const (
	DefaultTolerantWindow = 5
	DefaultStandardWindow = 2
)

// currencyOK applies the strict-currency guard: an external entry in the
// strict currency only pairs with an internal entry in the same currency.
// Entries in any other currency pair freely.
func (p Policy) currencyOK(ext ledger.ExternalEntry, in ledger.InternalEntry) bool {
	extCur := ledger.NormalizeCurrency(ext.Currency)
	if extCur != ledger.NormalizeCurrency(p.StrictCurrency) {
		return true
	}
	return ledger.NormalizeCurrency(in.Currency) == extCur
}

// ownBooks reports whether an internal row belongs to this entity's books.
func (p Policy) ownBooks(in ledger.InternalEntry) bool {
	return in.BillingEntity == p.BillingEntity
}
