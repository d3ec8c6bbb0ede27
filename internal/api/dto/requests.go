package dto

import (
	"github.com/shopspring/decimal"

	"github.com/clearledger/reconcile/internal/domain/ledger"
)

// ExternalEntryRequest is one processor-export row in an ingest call.
// Dates arrive as dd/mm/yyyy, optionally with HH:MM.
type ExternalEntryRequest struct {
	ClientID        string          `json:"client_id" binding:"required"`
	DescClientID    string          `json:"desc_client_id"`
	Kind            string          `json:"kind" binding:"required"`
	Created         string          `json:"created" binding:"required"`
	Description     string          `json:"description"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency" binding:"required"`
	ConvertedAmount decimal.Decimal `json:"converted_amount"`
	Fees            decimal.Decimal `json:"fees"`
	Net             decimal.Decimal `json:"net"`
	ProcessorRef    string          `json:"processor_ref"`
}

// InternalEntryRequest is one bank-export row in an ingest call.
type InternalEntryRequest struct {
	ClientID      int64           `json:"client_id" binding:"required"`
	PaymentDate   string          `json:"payment_date" binding:"required"`
	InvoiceNumber string          `json:"invoice_number"`
	BillingEntity string          `json:"billing_entity" binding:"required"`
	ARAccount     string          `json:"ar_account"`
	Currency      string          `json:"currency" binding:"required"`
	ExchangeRate  decimal.Decimal `json:"exchange_rate"`
	Amount        decimal.Decimal `json:"amount"`
	Account       string          `json:"account"`
	Location      string          `json:"location"`
	TransType     string          `json:"transtype"`
	Comment       string          `json:"comment"`
	CardReference string          `json:"card_reference"`
	Memo          string          `json:"memo"`
}

// CommitmentRequest is one installment commitment in an allocation call.
type CommitmentRequest struct {
	ClientID string          `json:"client_id" binding:"required"`
	Amount   decimal.Decimal `json:"amount"`
}

// IngestExternalRequest wraps a processor export batch.
type IngestExternalRequest struct {
	Entries []ExternalEntryRequest `json:"entries" binding:"required"`
}

// IngestInternalRequest wraps a bank export batch.
type IngestInternalRequest struct {
	Entries []InternalEntryRequest `json:"entries" binding:"required"`
}

// AllocateRequest wraps an allocation batch.
type AllocateRequest struct {
	Commitments []CommitmentRequest `json:"commitments" binding:"required"`
}

// ToExternalEntries converts the request batch to domain entries.
func (r IngestExternalRequest) ToExternalEntries() []ledger.ExternalEntry {
	out := make([]ledger.ExternalEntry, 0, len(r.Entries))
	for _, e := range r.Entries {
		out = append(out, ledger.ExternalEntry{
			ClientID:        e.ClientID,
			DescClientID:    e.DescClientID,
			Kind:            e.Kind,
			Created:         e.Created,
			Description:     e.Description,
			Amount:          e.Amount,
			Currency:        e.Currency,
			ConvertedAmount: e.ConvertedAmount,
			Fees:            e.Fees,
			Net:             e.Net,
			ProcessorRef:    e.ProcessorRef,
		})
	}
	return out
}

// ToInternalEntries converts the request batch to domain entries.
func (r IngestInternalRequest) ToInternalEntries() []ledger.InternalEntry {
	out := make([]ledger.InternalEntry, 0, len(r.Entries))
	for _, e := range r.Entries {
		out = append(out, ledger.InternalEntry{
			ClientID:      e.ClientID,
			PaymentDate:   e.PaymentDate,
			InvoiceNumber: e.InvoiceNumber,
			BillingEntity: e.BillingEntity,
			ARAccount:     e.ARAccount,
			Currency:      e.Currency,
			ExchangeRate:  e.ExchangeRate,
			Amount:        e.Amount,
			Account:       e.Account,
			Location:      e.Location,
			TransType:     e.TransType,
			Comment:       e.Comment,
			CardReference: e.CardReference,
			Memo:          e.Memo,
		})
	}
	return out
}

// ToCommitments converts the request batch to domain commitments.
func (r AllocateRequest) ToCommitments(batchID string) []ledger.AllocationCommitment {
	out := make([]ledger.AllocationCommitment, 0, len(r.Commitments))
	for _, c := range r.Commitments {
		out = append(out, ledger.AllocationCommitment{
			ClientID: c.ClientID,
			Amount:   c.Amount,
			BatchID:  batchID,
		})
	}
	return out
}
