// Package allocation carves externally-declared installment commitments out
// of a client's matched amounts. The reduction is proportional across the
// client's rows and must conserve the client's total exactly.
package allocation

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/clearledger/reconcile/internal/domain/ledger"
)

// verifyEpsilon is the tolerance the conservation check reports against.
// The decimal arithmetic keeps the books exact; the epsilon only guards the
// 2-decimal display rounding of stored amounts.
var verifyEpsilon = decimal.NewFromFloat(0.01)

// UnmatchedCommitment is a commitment that could not be applied, with why.
type UnmatchedCommitment struct {
	ClientID string          `json:"client_id"`
	Amount   decimal.Decimal `json:"amount"`
	Reason   string          `json:"reason"`
}

// ClientAllocation is the per-client breakdown of an applied commitment.
type ClientAllocation struct {
	ClientID     string          `json:"client_id"`
	Received     decimal.Decimal `json:"received"`
	Installment  decimal.Decimal `json:"installment"`
	Remaining    decimal.Decimal `json:"remaining"`
	RowCount     int             `json:"row_count"`
	Insufficient bool            `json:"insufficient"`
}

// Report is the engine's output for one batch of commitments.
type Report struct {
	BatchID            string                `json:"batch_id"`
	MatchedCount       int                   `json:"matched_count"`
	Unmatched          []UnmatchedCommitment `json:"unmatched"`
	Allocations        []ClientAllocation    `json:"allocations"`
	InstallmentRows    []ledger.WorkingRow   `json:"installment_rows"`
	VerificationPassed bool                  `json:"verification_passed"`
}

// SumCommitments collapses duplicate commitments for the same client,
// preserving first-seen client order.
func SumCommitments(commitments []ledger.AllocationCommitment) ([]string, map[string]decimal.Decimal) {
	order := make([]string, 0, len(commitments))
	sums := make(map[string]decimal.Decimal, len(commitments))
	for _, c := range commitments {
		key := normalizeClient(c.ClientID)
		if _, seen := sums[key]; !seen {
			order = append(order, key)
			sums[key] = decimal.Zero
		}
		sums[key] = sums[key].Add(c.Amount)
	}
	return order, sums
}

// Apply reduces each committed client's payment rows proportionally and
// emits one installment row per client for the full commitment. rows is
// modified in place; the returned report carries the new installment rows.
//
// Per client: each row loses row/total * commitment rounded to cents, and
// the last row absorbs the rounding remainder so the reductions sum to the
// commitment exactly. A commitment larger than the client's current total
// still applies and may drive rows negative; the report flags it. A client
// whose commitments sum to zero or less is skipped outright.
func Apply(scope ledger.Scope, rows []ledger.WorkingRow, commitments []ledger.AllocationCommitment, batchID string, asOf time.Time) *Report {
	report := &Report{BatchID: batchID, VerificationPassed: true}

	byClient := make(map[string][]int)
	for i, r := range rows {
		if r.Kind != ledger.RowKindPayment {
			continue
		}
		key := normalizeClient(r.ClientID)
		byClient[key] = append(byClient[key], i)
	}

	order, sums := SumCommitments(commitments)
	for _, client := range order {
		commitment := sums[client]
		// Non-positive sums carve out nothing; they never touch the rows.
		if !commitment.IsPositive() {
			continue
		}
		idxs := byClient[client]
		if len(idxs) == 0 {
			report.Unmatched = append(report.Unmatched, UnmatchedCommitment{
				ClientID: client, Amount: commitment, Reason: ledger.ReasonNotFound,
			})
			continue
		}

		total := decimal.Zero
		for _, i := range idxs {
			total = total.Add(rows[i].Amount)
		}
		if total.IsZero() {
			report.Unmatched = append(report.Unmatched, UnmatchedCommitment{
				ClientID: client, Amount: commitment, Reason: ledger.ReasonZeroAmount,
			})
			continue
		}

		applied := decimal.Zero
		for n, i := range idxs {
			var reduction decimal.Decimal
			if n == len(idxs)-1 {
				reduction = commitment.Sub(applied)
			} else {
				reduction = rows[i].Amount.Div(total).Mul(commitment).Round(2)
			}
			rows[i].Amount = rows[i].Amount.Sub(reduction)
			applied = applied.Add(reduction)
		}

		remaining := total.Sub(commitment)
		report.InstallmentRows = append(report.InstallmentRows, ledger.WorkingRow{
			Scope:          scope,
			ClientID:       client,
			Date:           ledger.FormatWireDate(asOf),
			Amount:         commitment,
			OriginalAmount: commitment,
			Kind:           ledger.RowKindInstallment,
			Reference:      installmentReference(client, batchID),
		})
		report.Allocations = append(report.Allocations, ClientAllocation{
			ClientID:     client,
			Received:     total,
			Installment:  commitment,
			Remaining:    remaining,
			RowCount:     len(idxs),
			Insufficient: commitment.GreaterThan(total),
		})
		report.MatchedCount++

		// Conservation: reduced rows plus the installment equal the
		// original total.
		after := decimal.Zero
		for _, i := range idxs {
			after = after.Add(rows[i].Amount)
		}
		if after.Add(commitment).Sub(total).Abs().GreaterThan(verifyEpsilon) {
			report.VerificationPassed = false
		}
	}

	return report
}

func installmentReference(client, batchID string) string {
	return "INST-" + client + "-" + batchID
}

// MaterializeRows builds the allocation substrate from matched pairs.
// Refund rows (negative amounts) never participate in allocation.
func MaterializeRows(scope ledger.Scope, pairs []ledger.MatchedPair) []ledger.WorkingRow {
	rows := make([]ledger.WorkingRow, 0, len(pairs))
	for _, p := range pairs {
		if p.Internal.Amount.IsNegative() {
			continue
		}
		rows = append(rows, ledger.WorkingRow{
			Scope:          scope,
			ClientID:       strconv.FormatInt(p.Internal.ClientID, 10),
			InvoiceNumber:  p.Internal.InvoiceNumber,
			Date:           p.Internal.PaymentDate,
			Amount:         p.Internal.Amount,
			OriginalAmount: p.Internal.Amount,
			Kind:           ledger.RowKindPayment,
			SourcePairID:   p.ID,
		})
	}
	return rows
}

func normalizeClient(s string) string {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return strconv.FormatInt(n, 10)
	}
	return s
}
