package matching

import (
	"fmt"
	"time"

	"github.com/clearledger/reconcile/internal/domain/ledger"
)

// Stage2Result is the tolerant matcher's output: pairs found by the looser
// passes plus whatever is still unmatched on either side.
type Stage2Result struct {
	Pairs             []ledger.MatchedPair
	UnmatchedExternal []ledger.ExternalEntry
	UnmatchedInternal []ledger.InternalEntry
}

// candidate is an internal entry with its date parsed once up front.
type candidate struct {
	entry ledger.InternalEntry
	date  time.Time
}

// MatchTolerant runs the widened pass sequence for flagged entities:
//
//	A: description-derived client + amount, date within the window
//	B: primary client + amount, same window
//	C: amount + date, probing offsets 0, +1, -1, ... out to the window
//
// Each pass consumes a candidate at most once. Within a bucket the first
// not-yet-consumed candidate in input order wins; pass C's offset order
// guarantees the smallest date distance is preferred.
func MatchTolerant(scope ledger.Scope, externals []ledger.ExternalEntry, internals []ledger.InternalEntry, consumed *Consumed, p Policy) *Stage2Result {
	window := p.TolerantWindow
	if window <= 0 {
		window = DefaultTolerantWindow
	}

	cands := tolerantCandidates(internals, consumed, p)
	res := &Stage2Result{}

	// Pass A: secondary client id from the description.
	byClientAmount := indexByClientAmount(cands, consumed)
	for _, ext := range pendingExternals(externals, consumed) {
		if ext.DescClientID == "" {
			continue
		}
		key := clientKey(ext.DescClientID) + "|" + amountKey(ext.Amount)
		res.matchWindowed(scope, ext, byClientAmount[key], consumed, p, window, "desc_client_amount")
	}

	// Pass B: primary client id.
	byClientAmount = indexByClientAmount(cands, consumed)
	for _, ext := range pendingExternals(externals, consumed) {
		key := clientKey(ext.ClientID) + "|" + amountKey(ext.Amount)
		res.matchWindowed(scope, ext, byClientAmount[key], consumed, p, window, "client_amount")
	}

	// Pass C: amount + date only, smallest offset first.
	byDateAmount := make(map[string][]candidate, len(cands))
	for _, c := range cands {
		if consumed.Internal[c.entry.ID] {
			continue
		}
		key := ledger.FormatWireDate(c.date) + "|" + amountKey(c.entry.Amount)
		byDateAmount[key] = append(byDateAmount[key], c)
	}
	for _, ext := range pendingExternals(externals, consumed) {
		extDate, err := ledger.ParseWireDate(ext.Created)
		if err != nil {
			continue
		}
	offsets:
		for _, off := range offsetOrder(window) {
			d := ledger.DateOnly(extDate).AddDate(0, 0, off)
			key := ledger.FormatWireDate(d) + "|" + amountKey(ext.Amount)
			for _, c := range byDateAmount[key] {
				if consumed.Internal[c.entry.ID] || !p.currencyOK(ext, c.entry) {
					continue
				}
				abs := off
				if abs < 0 {
					abs = -abs
				}
				res.Pairs = append(res.Pairs, ledger.MatchedPair{
					Scope:    scope,
					Stage:    2,
					Method:   fmt.Sprintf("date_amount_only_±%dd", abs),
					External: ext,
					Internal: c.entry,
				})
				consumed.take(ext, c.entry)
				break offsets
			}
		}
	}

	res.UnmatchedExternal = UnconsumedExternal(externals, consumed)
	// Report over the raw input, not the candidate slice: rows whose date
	// never parsed sat out the passes but are still unmatched.
	for _, in := range internals {
		if !consumed.Internal[in.ID] && p.ownBooks(in) {
			res.UnmatchedInternal = append(res.UnmatchedInternal, in)
		}
	}
	return res
}

// matchWindowed takes the first unconsumed bucket candidate whose date is
// within the window and passes the currency guard.
func (r *Stage2Result) matchWindowed(scope ledger.Scope, ext ledger.ExternalEntry, bucket []candidate, consumed *Consumed, p Policy, window int, method string) {
	extDate, err := ledger.ParseWireDate(ext.Created)
	if err != nil {
		return
	}
	for _, c := range bucket {
		if consumed.Internal[c.entry.ID] || !p.currencyOK(ext, c.entry) {
			continue
		}
		diff := ledger.DayDiff(extDate, c.date)
		if diff > window {
			continue
		}
		r.Pairs = append(r.Pairs, ledger.MatchedPair{
			Scope:    scope,
			Stage:    2,
			Method:   fmt.Sprintf("%s_±%dd", method, diff),
			External: ext,
			Internal: c.entry,
		})
		consumed.take(ext, c.entry)
		return
	}
}

// tolerantCandidates filters to this entity's unconsumed internal rows with
// parseable dates. Rows whose date cannot be parsed sit out every pass but
// still land in the unmatched report.
func tolerantCandidates(internals []ledger.InternalEntry, consumed *Consumed, p Policy) []candidate {
	out := make([]candidate, 0, len(internals))
	for _, in := range internals {
		if consumed.Internal[in.ID] || !p.ownBooks(in) {
			continue
		}
		d, err := ledger.ParseWireDate(in.PaymentDate)
		if err != nil {
			continue
		}
		out = append(out, candidate{entry: in, date: ledger.DateOnly(d)})
	}
	return out
}

func indexByClientAmount(cands []candidate, consumed *Consumed) map[string][]candidate {
	idx := make(map[string][]candidate, len(cands))
	for _, c := range cands {
		if consumed.Internal[c.entry.ID] {
			continue
		}
		key := internalClientKey(c.entry.ClientID) + "|" + amountKey(c.entry.Amount)
		idx[key] = append(idx[key], c)
	}
	return idx
}

// pendingExternals lists unconsumed externals eligible for stage 2.
// Payment-failure refunds stay out of every pass.
func pendingExternals(externals []ledger.ExternalEntry, consumed *Consumed) []ledger.ExternalEntry {
	var out []ledger.ExternalEntry
	for _, e := range externals {
		if consumed.External[e.ID] || e.Kind == ledger.KindFailureRefund {
			continue
		}
		out = append(out, e)
	}
	return out
}

// offsetOrder yields 0, +1, -1, +2, -2 ... ±window.
func offsetOrder(window int) []int {
	out := make([]int, 0, 2*window+1)
	out = append(out, 0)
	for d := 1; d <= window; d++ {
		out = append(out, d, -d)
	}
	return out
}
