package dto

import (
	"github.com/shopspring/decimal"

	"github.com/clearledger/reconcile/internal/domain/allocation"
	"github.com/clearledger/reconcile/internal/domain/classify"
	"github.com/clearledger/reconcile/internal/domain/journal"
	"github.com/clearledger/reconcile/internal/domain/ledger"
	"github.com/clearledger/reconcile/internal/domain/matching"
)

// Amounts render with 2-decimal display rounding; full precision stays in
// the store.
func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// PairResponse is one matched pair on the wire.
type PairResponse struct {
	ID             int64  `json:"id"`
	Stage          int    `json:"stage"`
	Method         string `json:"method"`
	ExternalID     int64  `json:"external_id"`
	InternalID     int64  `json:"internal_id"`
	ClientID       string `json:"client_id"`
	Date           string `json:"date"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	InvoiceNumber  string `json:"invoice_number"`
	BillingEntity  string `json:"billing_entity"`
	InternalAmount string `json:"internal_amount"`
}

func toPairResponse(p ledger.MatchedPair) PairResponse {
	return PairResponse{
		ID:             p.ID,
		Stage:          p.Stage,
		Method:         p.Method,
		ExternalID:     p.External.ID,
		InternalID:     p.Internal.ID,
		ClientID:       p.External.ClientID,
		Date:           p.External.Created,
		Amount:         money(p.External.Amount),
		Currency:       p.External.Currency,
		InvoiceNumber:  p.Internal.InvoiceNumber,
		BillingEntity:  p.Internal.BillingEntity,
		InternalAmount: money(p.Internal.Amount),
	}
}

// ExternalEntryResponse is one processor row on the wire.
type ExternalEntryResponse struct {
	ID       int64  `json:"id"`
	ClientID string `json:"client_id"`
	Kind     string `json:"kind"`
	Created  string `json:"created"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

func toExternalResponse(e ledger.ExternalEntry) ExternalEntryResponse {
	return ExternalEntryResponse{
		ID:       e.ID,
		ClientID: e.ClientID,
		Kind:     e.Kind,
		Created:  e.Created,
		Amount:   money(e.Amount),
		Currency: e.Currency,
	}
}

// InternalEntryResponse is one bank row on the wire.
type InternalEntryResponse struct {
	ID            int64  `json:"id"`
	ClientID      int64  `json:"client_id"`
	PaymentDate   string `json:"payment_date"`
	InvoiceNumber string `json:"invoice_number"`
	BillingEntity string `json:"billing_entity"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
}

func toInternalResponse(e ledger.InternalEntry) InternalEntryResponse {
	return InternalEntryResponse{
		ID:            e.ID,
		ClientID:      e.ClientID,
		PaymentDate:   e.PaymentDate,
		InvoiceNumber: e.InvoiceNumber,
		BillingEntity: e.BillingEntity,
		Amount:        money(e.Amount),
		Currency:      e.Currency,
	}
}

// Stage1Response is the exact matcher's output on the wire.
type Stage1Response struct {
	CutoffDate        string                  `json:"cutoff_date"`
	Pairs             []PairResponse          `json:"pairs"`
	UnmatchedExternal []ExternalEntryResponse `json:"unmatched_external"`
	UnmatchedInternal []InternalEntryResponse `json:"unmatched_internal"`
	OutOfCutoff       []InternalEntryResponse `json:"out_of_cutoff"`
}

// NewStage1Response converts a stage-1 result.
func NewStage1Response(res *matching.Stage1Result) Stage1Response {
	out := Stage1Response{
		CutoffDate:        ledger.FormatWireDate(res.CutoffDate),
		Pairs:             make([]PairResponse, 0, len(res.Pairs)),
		UnmatchedExternal: make([]ExternalEntryResponse, 0, len(res.UnmatchedExternal)),
		UnmatchedInternal: make([]InternalEntryResponse, 0, len(res.UnmatchedInternal)),
		OutOfCutoff:       make([]InternalEntryResponse, 0, len(res.OutOfCutoff)),
	}
	for _, p := range res.Pairs {
		out.Pairs = append(out.Pairs, toPairResponse(p))
	}
	for _, e := range res.UnmatchedExternal {
		out.UnmatchedExternal = append(out.UnmatchedExternal, toExternalResponse(e))
	}
	for _, e := range res.UnmatchedInternal {
		out.UnmatchedInternal = append(out.UnmatchedInternal, toInternalResponse(e))
	}
	for _, e := range res.OutOfCutoff {
		out.OutOfCutoff = append(out.OutOfCutoff, toInternalResponse(e))
	}
	return out
}

// Stage2Response is the tolerant/standard matcher's output on the wire.
type Stage2Response struct {
	Pairs             []PairResponse          `json:"pairs"`
	UnmatchedExternal []ExternalEntryResponse `json:"unmatched_external"`
	UnmatchedInternal []InternalEntryResponse `json:"unmatched_internal"`
}

// NewStage2Response converts a stage-2 result.
func NewStage2Response(res *matching.Stage2Result) Stage2Response {
	out := Stage2Response{
		Pairs:             make([]PairResponse, 0, len(res.Pairs)),
		UnmatchedExternal: make([]ExternalEntryResponse, 0, len(res.UnmatchedExternal)),
		UnmatchedInternal: make([]InternalEntryResponse, 0, len(res.UnmatchedInternal)),
	}
	for _, p := range res.Pairs {
		out.Pairs = append(out.Pairs, toPairResponse(p))
	}
	for _, e := range res.UnmatchedExternal {
		out.UnmatchedExternal = append(out.UnmatchedExternal, toExternalResponse(e))
	}
	for _, e := range res.UnmatchedInternal {
		out.UnmatchedInternal = append(out.UnmatchedInternal, toInternalResponse(e))
	}
	return out
}

// ClassifiedResponse is one classified entry with its bucket reason.
type ClassifiedResponse struct {
	Entry  ExternalEntryResponse `json:"entry"`
	Reason string                `json:"reason"`
}

// NearMatchResponse is an almost-pair for manual review.
type NearMatchResponse struct {
	Entry      ExternalEntryResponse `json:"entry"`
	InternalID int64                 `json:"internal_id"`
	DayDiff    int                   `json:"day_diff"`
}

// Stage3Response is the classifier's output on the wire, with per-bucket
// totals.
type Stage3Response struct {
	Fees              []ClassifiedResponse    `json:"fees"`
	Refunds           []ClassifiedResponse    `json:"refunds"`
	CrossEntity       []ClassifiedResponse    `json:"cross_entity"`
	NearMatches       []NearMatchResponse     `json:"near_matches"`
	Residual          []ExternalEntryResponse `json:"residual"`
	UnmatchedInternal []InternalEntryResponse `json:"unmatched_internal"`
	FeeTotal          string                  `json:"fee_total"`
	RefundTotal       string                  `json:"refund_total"`
}

// NewStage3Response converts a stage-3 result.
func NewStage3Response(res *classify.Result) Stage3Response {
	out := Stage3Response{
		Fees:              toClassifiedResponses(res.Fees),
		Refunds:           toClassifiedResponses(res.Refunds),
		CrossEntity:       toClassifiedResponses(res.CrossEntity),
		NearMatches:       make([]NearMatchResponse, 0, len(res.NearMatches)),
		Residual:          make([]ExternalEntryResponse, 0, len(res.Residual)),
		UnmatchedInternal: make([]InternalEntryResponse, 0, len(res.UnmatchedInternal)),
		FeeTotal:          money(classify.Totals(res.Fees)),
		RefundTotal:       money(classify.Totals(res.Refunds)),
	}
	for _, nm := range res.NearMatches {
		out.NearMatches = append(out.NearMatches, NearMatchResponse{
			Entry:      toExternalResponse(nm.Entry),
			InternalID: nm.InternalID,
			DayDiff:    nm.DayDiff,
		})
	}
	for _, e := range res.Residual {
		out.Residual = append(out.Residual, toExternalResponse(e))
	}
	for _, e := range res.UnmatchedInternal {
		out.UnmatchedInternal = append(out.UnmatchedInternal, toInternalResponse(e))
	}
	return out
}

func toClassifiedResponses(in []classify.Classified) []ClassifiedResponse {
	out := make([]ClassifiedResponse, 0, len(in))
	for _, c := range in {
		out = append(out, ClassifiedResponse{Entry: toExternalResponse(c.Entry), Reason: c.Reason})
	}
	return out
}

// AllocationResponse is the allocation engine's report on the wire.
type AllocationResponse struct {
	BatchID            string                        `json:"batch_id"`
	MatchedCount       int                           `json:"matched_count"`
	Unmatched          []UnmatchedCommitmentResponse `json:"unmatched_commitments"`
	Allocations        []ClientAllocationResponse    `json:"allocations"`
	VerificationPassed bool                          `json:"verification_passed"`
}

// UnmatchedCommitmentResponse reports a commitment that could not apply.
type UnmatchedCommitmentResponse struct {
	ClientID string `json:"client_id"`
	Amount   string `json:"amount"`
	Reason   string `json:"reason"`
}

// ClientAllocationResponse is the per-client allocation breakdown.
type ClientAllocationResponse struct {
	ClientID     string `json:"client_id"`
	Received     string `json:"received"`
	Installment  string `json:"installment"`
	Remaining    string `json:"remaining"`
	RowCount     int    `json:"row_count"`
	Insufficient bool   `json:"insufficient"`
}

// NewAllocationResponse converts an allocation report.
func NewAllocationResponse(r *allocation.Report) AllocationResponse {
	out := AllocationResponse{
		BatchID:            r.BatchID,
		MatchedCount:       r.MatchedCount,
		Unmatched:          make([]UnmatchedCommitmentResponse, 0, len(r.Unmatched)),
		Allocations:        make([]ClientAllocationResponse, 0, len(r.Allocations)),
		VerificationPassed: r.VerificationPassed,
	}
	for _, u := range r.Unmatched {
		out.Unmatched = append(out.Unmatched, UnmatchedCommitmentResponse{
			ClientID: u.ClientID, Amount: money(u.Amount), Reason: u.Reason,
		})
	}
	for _, a := range r.Allocations {
		out.Allocations = append(out.Allocations, ClientAllocationResponse{
			ClientID:     a.ClientID,
			Received:     money(a.Received),
			Installment:  money(a.Installment),
			Remaining:    money(a.Remaining),
			RowCount:     a.RowCount,
			Insufficient: a.Insufficient,
		})
	}
	return out
}

// JournalRowResponse is one journal line on the wire.
type JournalRowResponse struct {
	Date          string `json:"date"`
	ClientID      int64  `json:"client_id"`
	InvoiceNumber string `json:"invoice_number"`
	BillingEntity string `json:"billing_entity"`
	Currency      string `json:"currency"`
	Amount        string `json:"amount"`
	Account       string `json:"account"`
	Location      string `json:"location"`
	TransType     string `json:"transtype"`
	Memo          string `json:"memo"`
	InvoiceRef    string `json:"invoice_ref"`
	PaymentRef    string `json:"payment_ref"`
}

// RefundLineResponse is one side of the refunds double entry.
type RefundLineResponse struct {
	Date    string `json:"date"`
	Memo    string `json:"memo"`
	Entity  string `json:"entity"`
	Name    string `json:"name"`
	Account string `json:"account"`
	Dr      string `json:"dr"`
	Cr      string `json:"cr"`
}

// JournalsResponse maps journal name to rendered rows.
type JournalsResponse struct {
	CrossEntity   []JournalRowResponse `json:"cross_entity"`
	Refunds       []RefundLineResponse `json:"refunds"`
	ProofOfAmount []JournalRowResponse `json:"proof_of_amount"`
	Main          []JournalRowResponse `json:"main"`
}

// NewJournalsResponse converts a journal split.
func NewJournalsResponse(j *journal.Journals) JournalsResponse {
	out := JournalsResponse{
		CrossEntity:   toJournalRows(j.CrossEntity),
		ProofOfAmount: toJournalRows(j.ProofOfAmount),
		Main:          toJournalRows(j.Main),
		Refunds:       make([]RefundLineResponse, 0, len(j.Refunds)),
	}
	for _, l := range j.Refunds {
		out.Refunds = append(out.Refunds, RefundLineResponse{
			Date:    l.Date,
			Memo:    l.Memo,
			Entity:  l.Entity,
			Name:    l.Name,
			Account: l.Account,
			Dr:      money(l.Dr),
			Cr:      money(l.Cr),
		})
	}
	return out
}

func toJournalRows(rows []journal.Row) []JournalRowResponse {
	out := make([]JournalRowResponse, 0, len(rows))
	for _, r := range rows {
		out = append(out, JournalRowResponse{
			Date:          r.Date,
			ClientID:      r.ClientID,
			InvoiceNumber: r.InvoiceNumber,
			BillingEntity: r.BillingEntity,
			Currency:      r.Currency,
			Amount:        money(r.Amount),
			Account:       r.Account,
			Location:      r.Location,
			TransType:     r.TransType,
			Memo:          r.Memo,
			InvoiceRef:    r.InvoiceRef,
			PaymentRef:    r.PaymentRef,
		})
	}
	return out
}

// IngestResponse acknowledges an ingest batch.
type IngestResponse struct {
	Count int `json:"count"`
}

// FeeTotalsResponse summarizes processor cost rows.
type FeeTotalsResponse struct {
	Count int    `json:"count"`
	Total string `json:"total"`
}

// NewFeeTotalsResponse converts fee totals.
func NewFeeTotalsResponse(t ledger.FeeTotals) FeeTotalsResponse {
	return FeeTotalsResponse{Count: t.Count, Total: money(t.Total)}
}

// SummaryResponse is a stage summary on the wire.
type SummaryResponse struct {
	Stage             int    `json:"stage"`
	CutoffDate        string `json:"cutoff_date,omitempty"`
	MatchedCount      int    `json:"matched_count"`
	UnmatchedExternal int    `json:"unmatched_external"`
	UnmatchedInternal int    `json:"unmatched_internal"`
	OutOfCutoff       int    `json:"out_of_cutoff"`
	FeeCount          int    `json:"fee_count"`
	RefundCount       int    `json:"refund_count"`
	CrossEntityCount  int    `json:"cross_entity_count"`
	NearMatchCount    int    `json:"near_match_count"`
	ResidualCount     int    `json:"residual_count"`
}

// NewSummaryResponse converts a stored summary.
func NewSummaryResponse(s *ledger.Summary) SummaryResponse {
	return SummaryResponse{
		Stage:             s.Stage,
		CutoffDate:        s.CutoffDate,
		MatchedCount:      s.MatchedCount,
		UnmatchedExternal: s.UnmatchedExternal,
		UnmatchedInternal: s.UnmatchedInternal,
		OutOfCutoff:       s.OutOfCutoff,
		FeeCount:          s.FeeCount,
		RefundCount:       s.RefundCount,
		CrossEntityCount:  s.CrossEntityCount,
		NearMatchCount:    s.NearMatchCount,
		ResidualCount:     s.ResidualCount,
	}
}
