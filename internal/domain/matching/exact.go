package matching

import (
	"time"

	"github.com/clearledger/reconcile/internal/domain/ledger"
)

// MethodExact tags stage-1 pairs.
const MethodExact = "exact"

// Stage1Result is the exact matcher's output for one scope.
type Stage1Result struct {
	Pairs             []ledger.MatchedPair
	UnmatchedExternal []ledger.ExternalEntry
	UnmatchedInternal []ledger.InternalEntry
	OutOfCutoff       []ledger.InternalEntry
	CutoffDate        time.Time
}

type exactKey struct {
	client   string
	date     string
	amount   string
	currency string
}

// CutoffDate is the latest date among external entries that are not
// processor cost rows. Internal entries after it have not settled yet and
// are excluded from matching.
func CutoffDate(externals []ledger.ExternalEntry) (time.Time, error) {
	var latest time.Time
	found := false
	for _, e := range externals {
		if e.IsFeeLike() {
			continue
		}
		d, err := ledger.ParseWireDate(e.Created)
		if err != nil {
			continue
		}
		d = ledger.DateOnly(d)
		if !found || d.After(latest) {
			latest = d
			found = true
		}
	}
	if !found {
		return time.Time{}, ledger.ErrNoActualTransactions
	}
	return latest, nil
}

// MatchExact pairs records that agree on client, date, amount and currency.
// Payment-failure refunds never match here. Leftover internal entries split
// into unmatched (within cutoff) and out-of-cutoff.
func MatchExact(scope ledger.Scope, externals []ledger.ExternalEntry, internals []ledger.InternalEntry, consumed *Consumed) (*Stage1Result, error) {
	cutoff, err := CutoffDate(externals)
	if err != nil {
		return nil, err
	}

	// Bucketed lookup keeps this linear in the record count.
	index := make(map[exactKey][]int, len(internals))
	for i, in := range internals {
		if consumed.Internal[in.ID] {
			continue
		}
		d, err := ledger.ParseWireDate(in.PaymentDate)
		if err != nil {
			continue
		}
		k := exactKey{
			client:   internalClientKey(in.ClientID),
			date:     ledger.FormatWireDate(d),
			amount:   amountKey(in.Amount),
			currency: ledger.NormalizeCurrency(in.Currency),
		}
		index[k] = append(index[k], i)
	}

	res := &Stage1Result{CutoffDate: cutoff}

	for _, ext := range externals {
		if consumed.External[ext.ID] {
			continue
		}
		if ext.Kind == ledger.KindFailureRefund {
			res.UnmatchedExternal = append(res.UnmatchedExternal, ext)
			continue
		}
		d, err := ledger.ParseWireDate(ext.Created)
		if err != nil {
			res.UnmatchedExternal = append(res.UnmatchedExternal, ext)
			continue
		}
		k := exactKey{
			client:   clientKey(ext.ClientID),
			date:     ledger.FormatWireDate(d),
			amount:   amountKey(ext.Amount),
			currency: ledger.NormalizeCurrency(ext.Currency),
		}
		bucket := index[k]
		matched := false
		for len(bucket) > 0 {
			in := internals[bucket[0]]
			bucket = bucket[1:]
			if consumed.Internal[in.ID] {
				continue
			}
			res.Pairs = append(res.Pairs, ledger.MatchedPair{
				Scope:    scope,
				Stage:    1,
				Method:   MethodExact,
				External: ext,
				Internal: in,
			})
			consumed.take(ext, in)
			matched = true
			break
		}
		index[k] = bucket
		if !matched {
			res.UnmatchedExternal = append(res.UnmatchedExternal, ext)
		}
	}

	for _, in := range internals {
		if consumed.Internal[in.ID] {
			continue
		}
		d, err := ledger.ParseWireDate(in.PaymentDate)
		if err == nil && ledger.DateOnly(d).After(cutoff) {
			res.OutOfCutoff = append(res.OutOfCutoff, in)
			continue
		}
		res.UnmatchedInternal = append(res.UnmatchedInternal, in)
	}

	return res, nil
}

// PartitionInternal recomputes the unmatched / out-of-cutoff split over
// entries not yet consumed. Used when stage 1 re-runs over stored pairs.
func PartitionInternal(internals []ledger.InternalEntry, consumed *Consumed, cutoff time.Time) (unmatched, outOfCutoff []ledger.InternalEntry) {
	for _, in := range internals {
		if consumed.Internal[in.ID] {
			continue
		}
		d, err := ledger.ParseWireDate(in.PaymentDate)
		if err == nil && ledger.DateOnly(d).After(cutoff) {
			outOfCutoff = append(outOfCutoff, in)
			continue
		}
		unmatched = append(unmatched, in)
	}
	return unmatched, outOfCutoff
}

// UnconsumedExternal filters externals down to entries not yet in a pair.
func UnconsumedExternal(externals []ledger.ExternalEntry, consumed *Consumed) []ledger.ExternalEntry {
	var out []ledger.ExternalEntry
	for _, e := range externals {
		if !consumed.External[e.ID] {
			out = append(out, e)
		}
	}
	return out
}
