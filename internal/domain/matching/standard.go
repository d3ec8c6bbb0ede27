package matching

import (
	"time"

	"github.com/clearledger/reconcile/internal/domain/ledger"
)

// Standard stage-2 method tags.
const (
	MethodDateAmount   = "date_amount"
	MethodClientAmount = "client_amount"
	MethodCrossEntity  = "cross_entity"
)

// MatchStandard is the stage-2 variant for entities without the tolerant
// flag. Per external entry it tries three strategies in order and takes the
// first success:
//
//  1. date within the standard window + amount, this entity's books
//  2. client + amount ignoring date, this entity's books
//  3. date + amount on a sibling entity's books (cross-entity)
//
// internals is the whole job's bank export; the policy's billing entity
// separates own rows from sibling rows.
func MatchStandard(scope ledger.Scope, externals []ledger.ExternalEntry, internals []ledger.InternalEntry, consumed *Consumed, p Policy) *Stage2Result {
	window := p.StandardWindow
	if window <= 0 {
		window = DefaultStandardWindow
	}

	var own, sibling []candidate
	for _, in := range internals {
		if consumed.Internal[in.ID] {
			continue
		}
		d, err := ledger.ParseWireDate(in.PaymentDate)
		if err != nil {
			continue
		}
		c := candidate{entry: in, date: ledger.DateOnly(d)}
		if p.ownBooks(in) {
			own = append(own, c)
		} else {
			sibling = append(sibling, c)
		}
	}

	res := &Stage2Result{}
	for _, ext := range pendingExternals(externals, consumed) {
		extDate, dateErr := ledger.ParseWireDate(ext.Created)

		var hit *candidate
		var method string
		if dateErr == nil {
			hit = findDateAmount(own, consumed, p, ext, extDate, window)
			method = MethodDateAmount
		}
		if hit == nil {
			hit = findClientAmount(own, consumed, p, ext)
			method = MethodClientAmount
		}
		if hit == nil && dateErr == nil {
			hit = findDateAmount(sibling, consumed, p, ext, extDate, window)
			method = MethodCrossEntity
		}
		if hit == nil {
			continue
		}
		res.Pairs = append(res.Pairs, ledger.MatchedPair{
			Scope:    scope,
			Stage:    2,
			Method:   method,
			External: ext,
			Internal: hit.entry,
		})
		consumed.take(ext, hit.entry)
	}

	res.UnmatchedExternal = UnconsumedExternal(externals, consumed)
	for _, in := range internals {
		if !consumed.Internal[in.ID] && p.ownBooks(in) {
			res.UnmatchedInternal = append(res.UnmatchedInternal, in)
		}
	}
	return res
}

func findDateAmount(cands []candidate, consumed *Consumed, p Policy, ext ledger.ExternalEntry, extDate time.Time, window int) *candidate {
	for i := range cands {
		c := &cands[i]
		if consumed.Internal[c.entry.ID] || !p.currencyOK(ext, c.entry) {
			continue
		}
		if !c.entry.Amount.Round(2).Equal(ext.Amount.Round(2)) {
			continue
		}
		if ledger.DayDiff(extDate, c.date) > window {
			continue
		}
		return c
	}
	return nil
}

func findClientAmount(cands []candidate, consumed *Consumed, p Policy, ext ledger.ExternalEntry) *candidate {
	key := clientKey(ext.ClientID)
	for i := range cands {
		c := &cands[i]
		if consumed.Internal[c.entry.ID] || !p.currencyOK(ext, c.entry) {
			continue
		}
		if internalClientKey(c.entry.ClientID) != key {
			continue
		}
		if !c.entry.Amount.Round(2).Equal(ext.Amount.Round(2)) {
			continue
		}
		return c
	}
	return nil
}
