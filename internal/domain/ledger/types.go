// Package ledger defines the record types shared by the reconciliation
// stages, the allocation engine and the journal splitter. Ledger entries are
// immutable once ingested; only working rows (the allocation substrate) are
// ever rewritten.
package ledger

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Scope identifies one reconciliation run for one subsidiary.
type Scope struct {
	JobID    int64 `json:"job_id"`
	EntityID int64 `json:"entity_id"`
}

// Transaction kinds on the external (processor) side.
const (
	KindCharge        = "charge"
	KindRefund        = "refund"
	KindFee           = "fee"
	KindNetworkCost   = "network_cost"
	KindFailureRefund = "payment_failure_refund"
	KindOther         = "other"
)

// FeeClientID is the sentinel client identifier the processor uses for
// entries that carry no client, such as its own fees.
const FeeClientID = "0"

// ExternalEntry is one row of the payment-processor export.
type ExternalEntry struct {
	ID              int64           `json:"id"`
	ClientID        string          `json:"client_id"`
	DescClientID    string          `json:"desc_client_id"`
	Kind            string          `json:"kind"`
	Created         string          `json:"created"`
	Description     string          `json:"description"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	ConvertedAmount decimal.Decimal `json:"converted_amount"`
	Fees            decimal.Decimal `json:"fees"`
	Net             decimal.Decimal `json:"net"`
	ProcessorRef    string          `json:"processor_ref"`
}

// IsFeeLike reports whether the entry is a processor-side cost row rather
// than a client payment. Fee-like rows never move the cutoff date.
func (e ExternalEntry) IsFeeLike() bool {
	return e.Kind == KindFee || e.Kind == KindNetworkCost
}

// InternalEntry is one row of the bank/cashbook export.
type InternalEntry struct {
	ID            int64           `json:"id"`
	ClientID      int64           `json:"client_id"`
	PaymentDate   string          `json:"payment_date"`
	InvoiceNumber string          `json:"invoice_number"`
	BillingEntity string          `json:"billing_entity"`
	ARAccount     string          `json:"ar_account"`
	Currency      string          `json:"currency"`
	ExchangeRate  decimal.Decimal `json:"exchange_rate"`
	Amount        decimal.Decimal `json:"amount"`
	Account       string          `json:"account"`
	Location      string          `json:"location"`
	TransType     string          `json:"transtype"`
	Comment       string          `json:"comment"`
	CardReference string          `json:"card_reference"`
	Memo          string          `json:"memo"`
}

// MatchedPair joins one external and one internal entry. Both sides are
// copied in full so downstream consumers never re-join the source tables.
type MatchedPair struct {
	ID       int64         `json:"id"`
	Scope    Scope         `json:"scope"`
	Stage    int           `json:"stage"`
	Method   string        `json:"method"`
	External ExternalEntry `json:"external"`
	Internal InternalEntry `json:"internal"`
}

// Summary is the per-stage reconciliation metadata. One row per
// (job, entity, stage); re-running a stage never inserts a second one.
type Summary struct {
	ID                int64  `json:"id"`
	Scope             Scope  `json:"scope"`
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

// AllocationCommitment is one third-party installment commitment to carve
// out of a client's matched amounts. Commitments for the same client within
// a batch are summed before application.
type AllocationCommitment struct {
	ClientID string          `json:"client_id"`
	Amount   decimal.Decimal `json:"amount"`
	BatchID  string          `json:"batch_id"`
}

// Working row kinds.
const (
	RowKindPayment     = "payment"
	RowKindInstallment = "installment"
)

// WorkingRow is the allocation engine's substrate: a matched payment amount
// that installments reduce, or a synthetic installment row. OriginalAmount
// keeps the pre-allocation snapshot so a restore is always possible.
type WorkingRow struct {
	ID             int64           `json:"id"`
	Scope          Scope           `json:"scope"`
	ClientID       string          `json:"client_id"`
	InvoiceNumber  string          `json:"invoice_number"`
	Date           string          `json:"date"`
	Amount         decimal.Decimal `json:"amount"`
	OriginalAmount decimal.Decimal `json:"original_amount"`
	Kind           string          `json:"kind"`
	Reference      string          `json:"reference"`
	SourcePairID   int64           `json:"source_pair_id"`
}

// FeeTotals summarizes the processor's own cost rows for a scope.
type FeeTotals struct {
	Count int             `json:"count"`
	Total decimal.Decimal `json:"total"`
}

// FeeTotalsOf tallies the fee-like external entries.
func FeeTotalsOf(entries []ExternalEntry) FeeTotals {
	t := FeeTotals{Total: decimal.Zero}
	for _, e := range entries {
		if e.IsFeeLike() {
			t.Count++
			t.Total = t.Total.Add(e.Amount)
		}
	}
	return t
}

// NormalizeCurrency upper-cases and trims a currency code for key building.
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
