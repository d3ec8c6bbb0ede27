// Package journal partitions matched records into the four accounting
// journals the bookkeeping team posts from: cross-entity, refunds (in
// double-entry form), proof-of-amount and main.
package journal

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/clearledger/reconcile/internal/domain/ledger"
)

// Journal names, used as the keys of the split result.
const (
	NameCrossEntity   = "cross_entity"
	NameRefunds       = "refunds"
	NameProofOfAmount = "proof_of_amount"
	NameMain          = "main"
)

// Config carries the per-entity knobs the splitter needs.
type Config struct {
	// BillingEntity is the bank export's name for this entity's books.
	BillingEntity string

	// ProofMarker is the invoice substring routing a row to the
	// proof-of-amount journal. Matched case-insensitively.
	ProofMarker string

	// RefPrefix builds the synthetic invoice and payment references.
	RefPrefix string

	// ARAccount receives the refund debit lines.
	ARAccount string

	// BankAccount receives the aggregate refund credit line.
	BankAccount string
}

// Row is one journal line in the bank-ledger column order.
type Row struct {
	Date          string          `json:"date"`
	ClientID      int64           `json:"client_id"`
	InvoiceNumber string          `json:"invoice_number"`
	BillingEntity string          `json:"billing_entity"`
	Currency      string          `json:"currency"`
	Amount        decimal.Decimal `json:"amount"`
	Account       string          `json:"account"`
	Location      string          `json:"location"`
	TransType     string          `json:"transtype"`
	Memo          string          `json:"memo"`
	InvoiceRef    string          `json:"invoice_ref"`
	PaymentRef    string          `json:"payment_ref"`
}

// RefundLine is one side of the refunds double entry.
type RefundLine struct {
	Date    string          `json:"date"`
	Memo    string          `json:"memo"`
	Entity  string          `json:"entity"`
	Name    string          `json:"name"`
	Account string          `json:"account"`
	Dr      decimal.Decimal `json:"dr"`
	Cr      decimal.Decimal `json:"cr"`
}

// Journals is the disjoint split output. Every matched record lands in
// exactly one of the four.
type Journals struct {
	CrossEntity   []Row        `json:"cross_entity"`
	Refunds       []RefundLine `json:"refunds"`
	ProofOfAmount []Row        `json:"proof_of_amount"`
	Main          []Row        `json:"main"`
}

// Split partitions the pairs, evaluating the predicates in a fixed order
// per record: cross-entity, refund, proof-of-amount, main. Refunds render
// as one debit line each against the receivables account plus a single
// aggregate month-end credit line against the bank account.
func Split(pairs []ledger.MatchedPair, cfg Config) *Journals {
	out := &Journals{}
	marker := strings.ToUpper(cfg.ProofMarker)

	var refunds []ledger.MatchedPair
	for _, p := range pairs {
		in := p.Internal
		switch {
		case in.BillingEntity != cfg.BillingEntity:
			out.CrossEntity = append(out.CrossEntity, renderRow(p, cfg))
		case in.Amount.IsNegative():
			refunds = append(refunds, p)
		case marker != "" && strings.Contains(strings.ToUpper(in.InvoiceNumber), marker):
			out.ProofOfAmount = append(out.ProofOfAmount, renderRow(p, cfg))
		default:
			out.Main = append(out.Main, renderRow(p, cfg))
		}
	}

	out.Refunds = renderRefunds(refunds, cfg)
	return out
}

// renderRow fills a journal line from the internal side of a pair, with the
// synthetic references derived from the invoice number and payment date.
func renderRow(p ledger.MatchedPair, cfg Config) Row {
	in := p.Internal
	return Row{
		Date:          in.PaymentDate,
		ClientID:      in.ClientID,
		InvoiceNumber: in.InvoiceNumber,
		BillingEntity: in.BillingEntity,
		Currency:      in.Currency,
		Amount:        in.Amount,
		Account:       in.Account,
		Location:      in.Location,
		TransType:     in.TransType,
		Memo:          in.Memo,
		InvoiceRef:    InvoiceRef(cfg.RefPrefix, in.InvoiceNumber),
		PaymentRef:    PaymentRef(cfg.RefPrefix, in.InvoiceNumber, in.PaymentDate),
	}
}

// renderRefunds emits the double entry: a debit per refund, then one credit
// for the sum, dated at the end of the first refund's month. The debits
// always balance the credit.
func renderRefunds(refunds []ledger.MatchedPair, cfg Config) []RefundLine {
	if len(refunds) == 0 {
		return nil
	}

	lines := make([]RefundLine, 0, len(refunds)+1)
	total := decimal.Zero
	creditDate := ""
	for _, p := range refunds {
		in := p.Internal
		abs := in.Amount.Abs()
		total = total.Add(abs)
		if creditDate == "" {
			if d, err := ledger.ParseWireDate(in.PaymentDate); err == nil {
				creditDate = ledger.FormatWireDate(ledger.MonthEnd(d))
			}
		}
		lines = append(lines, RefundLine{
			Date:    in.PaymentDate,
			Memo:    refundMemo(in),
			Entity:  in.BillingEntity,
			Name:    clientName(in),
			Account: cfg.ARAccount,
			Dr:      abs,
		})
	}

	lines = append(lines, RefundLine{
		Date:    creditDate,
		Memo:    "Refunds for the month",
		Entity:  cfg.BillingEntity,
		Account: cfg.BankAccount,
		Cr:      total,
	})
	return lines
}

// InvoiceRef builds the synthetic invoice reference, e.g. "CPMT: INV-1".
func InvoiceRef(prefix, invoice string) string {
	return prefix + ": " + invoice
}

// PaymentRef builds the synthetic payment reference, e.g.
// "CPMT: INV-1-10/01/2024".
func PaymentRef(prefix, invoice, date string) string {
	return prefix + ": " + invoice + "-" + date
}

func refundMemo(in ledger.InternalEntry) string {
	if in.Memo != "" {
		return in.Memo
	}
	return "Refund " + in.InvoiceNumber
}

func clientName(in ledger.InternalEntry) string {
	if in.Comment != "" {
		return in.Comment
	}
	return strconv.FormatInt(in.ClientID, 10)
}
