package journal

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearledger/reconcile/internal/domain/ledger"
)

func splitConfig() Config {
	return Config{
		BillingEntity: "Acme Ltd",
		ProofMarker:   "POA",
		RefPrefix:     "CPMT",
		ARAccount:     "11010 Accounts Receivable : Trade Debtors",
		BankAccount:   "10010 Bank : Current Account",
	}
}

func pair(id int64, invoice, date string, amount float64, billingEntity string) ledger.MatchedPair {
	return ledger.MatchedPair{
		ID: id,
		Internal: ledger.InternalEntry{
			ID:            id * 100,
			ClientID:      123,
			InvoiceNumber: invoice,
			PaymentDate:   date,
			Amount:        decimal.NewFromFloat(amount),
			BillingEntity: billingEntity,
			Currency:      "USD",
		},
	}
}

func TestSplit_EveryPairLandsInExactlyOneJournal(t *testing.T) {
	pairs := []ledger.MatchedPair{
		pair(1, "INV-1", "10/01/2024", 50, "Acme Ltd"),
		pair(2, "INV-2", "11/01/2024", -20, "Acme Ltd"),
		pair(3, "INV-3-POA", "12/01/2024", 30, "Acme Ltd"),
		pair(4, "INV-4", "13/01/2024", 40, "Other GmbH"),
	}

	j := Split(pairs, splitConfig())

	assert.Len(t, j.Main, 1)
	assert.Len(t, j.ProofOfAmount, 1)
	assert.Len(t, j.CrossEntity, 1)
	// One debit plus the aggregate credit.
	assert.Len(t, j.Refunds, 2)
}

func TestSplit_CrossEntityWinsOverRefund(t *testing.T) {
	// A sibling-entity refund belongs to the cross-entity journal; the
	// predicates run in a fixed order.
	pairs := []ledger.MatchedPair{
		pair(1, "INV-1", "10/01/2024", -20, "Other GmbH"),
	}

	j := Split(pairs, splitConfig())

	assert.Len(t, j.CrossEntity, 1)
	assert.Empty(t, j.Refunds)
}

func TestSplit_ProofMarkerIsCaseInsensitive(t *testing.T) {
	pairs := []ledger.MatchedPair{
		pair(1, "inv-poa-9", "10/01/2024", 25, "Acme Ltd"),
	}

	j := Split(pairs, splitConfig())

	assert.Len(t, j.ProofOfAmount, 1)
	assert.Empty(t, j.Main)
}

func TestSplit_RefundDoubleEntryBalances(t *testing.T) {
	pairs := []ledger.MatchedPair{
		pair(1, "INV-1", "05/01/2024", -20, "Acme Ltd"),
		pair(2, "INV-2", "17/01/2024", -35.50, "Acme Ltd"),
	}
	cfg := splitConfig()

	j := Split(pairs, cfg)

	require.Len(t, j.Refunds, 3)
	drTotal := decimal.Zero
	for _, l := range j.Refunds[:2] {
		assert.Equal(t, cfg.ARAccount, l.Account)
		assert.True(t, l.Cr.IsZero())
		drTotal = drTotal.Add(l.Dr)
	}

	credit := j.Refunds[2]
	assert.Equal(t, cfg.BankAccount, credit.Account)
	assert.True(t, credit.Dr.IsZero())
	assert.True(t, credit.Cr.Equal(drTotal), "cr %s vs dr %s", credit.Cr, drTotal)
	// Month-end of the first refund's month.
	assert.Equal(t, "31/01/2024", credit.Date)
}

func TestSplit_SyntheticReferences(t *testing.T) {
	pairs := []ledger.MatchedPair{
		pair(1, "INV-7", "10/01/2024", 50, "Acme Ltd"),
	}

	j := Split(pairs, splitConfig())

	require.Len(t, j.Main, 1)
	assert.Equal(t, "CPMT: INV-7", j.Main[0].InvoiceRef)
	assert.Equal(t, "CPMT: INV-7-10/01/2024", j.Main[0].PaymentRef)
}

func TestSplit_EmptyInput(t *testing.T) {
	j := Split(nil, splitConfig())

	assert.Empty(t, j.Main)
	assert.Empty(t, j.Refunds)
	assert.Empty(t, j.ProofOfAmount)
	assert.Empty(t, j.CrossEntity)
}
