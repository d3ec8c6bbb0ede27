// Package classify implements stage 3: sorting external entries that
// survived both matchers into explainable buckets.
package classify

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/clearledger/reconcile/internal/domain/ledger"
)

// Classification reasons.
const (
	ReasonRefund      = "refund"
	ReasonFee         = "processor fee"
	ReasonCrossEntity = "cross-entity payout"
)

// amountEpsilon is the cent-level slack for the cross-entity and near-match
// rules.
var amountEpsilon = decimal.NewFromFloat(0.01)

// nearMatchWindow is the date window in days for the near-match rule.
const nearMatchWindow = 2

// Classified is an external entry with the rule that claimed it.
type Classified struct {
	Entry  ledger.ExternalEntry `json:"entry"`
	Reason string               `json:"reason"`
}

// NearMatch records an almost-pair: same client, same amount, a couple of
// days apart. These get eyeballed by a human.
type NearMatch struct {
	Entry      ledger.ExternalEntry `json:"entry"`
	InternalID int64                `json:"internal_id"`
	DayDiff    int                  `json:"day_diff"`
}

// Result holds the five disjoint stage-3 buckets plus the raw unmatched
// internal entries, which are reported without classification.
type Result struct {
	Fees              []Classified
	Refunds           []Classified
	CrossEntity       []Classified
	NearMatches       []NearMatch
	Residual          []ledger.ExternalEntry
	UnmatchedInternal []ledger.InternalEntry
}

// Totals sums a bucket's amounts for reporting.
func Totals(entries []Classified) decimal.Decimal {
	sum := decimal.Zero
	for _, c := range entries {
		sum = sum.Add(c.Entry.Amount)
	}
	return sum
}

// Classify applies the ordered rules to each unmatched external entry, first
// rule wins: refund, fee, cross-entity, near-match, residual. allInternals
// is the whole job's bank export: cross-entity looks at sibling books, and
// the near-match rule scans the full cashbook, consumed rows included, so a
// payment whose counterpart already matched still surfaces for review.
// unmatchedInternal is this entity's leftover, passed through untouched.
func Classify(unmatchedExternal []ledger.ExternalEntry, allInternals []ledger.InternalEntry, unmatchedInternal []ledger.InternalEntry, billingEntity string) *Result {
	res := &Result{UnmatchedInternal: unmatchedInternal}

	siblings := make([]indexed, 0)
	book := make([]indexed, 0, len(allInternals))
	for _, in := range allInternals {
		ix, ok := newIndexed(in)
		if !ok {
			continue
		}
		book = append(book, ix)
		if in.BillingEntity != billingEntity {
			siblings = append(siblings, ix)
		}
	}

	for _, ext := range unmatchedExternal {
		switch {
		case isRefund(ext):
			res.Refunds = append(res.Refunds, Classified{Entry: ext, Reason: ReasonRefund})
		case ext.ClientID == ledger.FeeClientID:
			res.Fees = append(res.Fees, Classified{Entry: ext, Reason: ReasonFee})
		default:
			if hit := crossEntityHit(ext, siblings); hit != nil {
				res.CrossEntity = append(res.CrossEntity, Classified{Entry: ext, Reason: ReasonCrossEntity})
				continue
			}
			if nm := nearMatchHit(ext, book); nm != nil {
				res.NearMatches = append(res.NearMatches, *nm)
				continue
			}
			res.Residual = append(res.Residual, ext)
		}
	}
	return res
}

func isRefund(e ledger.ExternalEntry) bool {
	return e.Amount.IsNegative() || e.Kind == ledger.KindRefund || e.Kind == ledger.KindFailureRefund
}

type indexed struct {
	entry ledger.InternalEntry
	date  string
}

func newIndexed(in ledger.InternalEntry) (indexed, bool) {
	d, err := ledger.ParseWireDate(in.PaymentDate)
	if err != nil {
		return indexed{}, false
	}
	return indexed{entry: in, date: ledger.FormatWireDate(d)}, true
}

func crossEntityHit(ext ledger.ExternalEntry, siblings []indexed) *ledger.InternalEntry {
	extDate, err := ledger.ParseWireDate(ext.Created)
	if err != nil {
		return nil
	}
	want := ledger.FormatWireDate(extDate)
	for _, s := range siblings {
		if s.date != want {
			continue
		}
		if ext.Amount.Sub(s.entry.Amount).Abs().LessThan(amountEpsilon) {
			return &s.entry
		}
	}
	return nil
}

func nearMatchHit(ext ledger.ExternalEntry, book []indexed) *NearMatch {
	extDate, err := ledger.ParseWireDate(ext.Created)
	if err != nil {
		return nil
	}
	client := ext.ClientID
	for _, o := range book {
		if intKey(o.entry.ClientID) != normalizeClient(client) {
			continue
		}
		if !ext.Amount.Sub(o.entry.Amount).Abs().LessThan(amountEpsilon) {
			continue
		}
		d, _ := ledger.ParseWireDate(o.entry.PaymentDate)
		diff := ledger.DayDiff(extDate, d)
		if diff > nearMatchWindow {
			continue
		}
		return &NearMatch{Entry: ext, InternalID: o.entry.ID, DayDiff: diff}
	}
	return nil
}

func normalizeClient(s string) string {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return strconv.FormatInt(n, 10)
	}
	return s
}

func intKey(id int64) string {
	return strconv.FormatInt(id, 10)
}
