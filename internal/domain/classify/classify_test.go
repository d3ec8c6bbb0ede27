package classify

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearledger/reconcile/internal/domain/ledger"
)

const ownEntity = "Acme Ltd"

func ext(id int64, client, date string, amount float64, kind string) ledger.ExternalEntry {
	return ledger.ExternalEntry{
		ID:       id,
		ClientID: client,
		Created:  date,
		Amount:   decimal.NewFromFloat(amount),
		Currency: "USD",
		Kind:     kind,
	}
}

func intl(id, client int64, date string, amount float64, billingEntity string) ledger.InternalEntry {
	return ledger.InternalEntry{
		ID:            id,
		ClientID:      client,
		PaymentDate:   date,
		Amount:        decimal.NewFromFloat(amount),
		Currency:      "USD",
		BillingEntity: billingEntity,
	}
}

func TestClassify_RefundByAmountAndByKind(t *testing.T) {
	unmatched := []ledger.ExternalEntry{
		ext(1, "123", "10/01/2024", -25, ledger.KindCharge),
		ext(2, "124", "10/01/2024", 25, ledger.KindRefund),
		ext(3, "125", "10/01/2024", 25, ledger.KindFailureRefund),
	}

	res := Classify(unmatched, nil, nil, ownEntity)

	assert.Len(t, res.Refunds, 3)
	assert.Empty(t, res.Residual)
}

func TestClassify_RefundBeatsFeeSentinel(t *testing.T) {
	// A negative fee row classifies as refund: amount sign is rule one.
	unmatched := []ledger.ExternalEntry{
		ext(1, "0", "10/01/2024", -1.50, ledger.KindCharge),
	}

	res := Classify(unmatched, nil, nil, ownEntity)

	assert.Len(t, res.Refunds, 1)
	assert.Empty(t, res.Fees)
}

func TestClassify_FeeSentinel(t *testing.T) {
	unmatched := []ledger.ExternalEntry{
		ext(1, "0", "10/01/2024", 1.50, ledger.KindFee),
	}

	res := Classify(unmatched, nil, nil, ownEntity)

	require.Len(t, res.Fees, 1)
	assert.Equal(t, ReasonFee, res.Fees[0].Reason)
}

func TestClassify_CrossEntity(t *testing.T) {
	unmatched := []ledger.ExternalEntry{
		ext(1, "123", "10/01/2024", 50, ledger.KindCharge),
	}
	all := []ledger.InternalEntry{
		intl(100, 999, "10/01/2024", 50.005, "Other GmbH"),
	}

	res := Classify(unmatched, all, nil, ownEntity)

	require.Len(t, res.CrossEntity, 1)
	assert.Equal(t, ReasonCrossEntity, res.CrossEntity[0].Reason)
}

func TestClassify_NearMatchRecordsDayDiff(t *testing.T) {
	unmatched := []ledger.ExternalEntry{
		ext(1, "123", "10/01/2024", 50, ledger.KindCharge),
	}
	ownUnmatched := []ledger.InternalEntry{
		intl(100, 123, "12/01/2024", 50, ownEntity),
	}

	res := Classify(unmatched, ownUnmatched, ownUnmatched, ownEntity)

	require.Len(t, res.NearMatches, 1)
	assert.Equal(t, 2, res.NearMatches[0].DayDiff)
	assert.Equal(t, int64(100), res.NearMatches[0].InternalID)
}

func TestClassify_NearMatchScansWholeOwnBook(t *testing.T) {
	// The counterpart was already consumed by an earlier stage, so it is
	// absent from the unmatched pool. It still flags a near-match: the rule
	// reads the full cashbook, not only the leftovers.
	unmatched := []ledger.ExternalEntry{
		ext(1, "123", "10/01/2024", 50, ledger.KindCharge),
	}
	all := []ledger.InternalEntry{
		intl(100, 123, "11/01/2024", 50, ownEntity),
	}

	res := Classify(unmatched, all, nil, ownEntity)

	require.Len(t, res.NearMatches, 1)
	assert.Equal(t, int64(100), res.NearMatches[0].InternalID)
	assert.Equal(t, 1, res.NearMatches[0].DayDiff)
	assert.Empty(t, res.Residual)
}

func TestClassify_NearMatchWindowIsTwoDays(t *testing.T) {
	unmatched := []ledger.ExternalEntry{
		ext(1, "123", "10/01/2024", 50, ledger.KindCharge),
	}
	ownUnmatched := []ledger.InternalEntry{
		intl(100, 123, "13/01/2024", 50, ownEntity),
	}

	res := Classify(unmatched, ownUnmatched, ownUnmatched, ownEntity)

	assert.Empty(t, res.NearMatches)
	assert.Len(t, res.Residual, 1)
}

func TestClassify_Residual(t *testing.T) {
	unmatched := []ledger.ExternalEntry{
		ext(1, "123", "10/01/2024", 50, ledger.KindCharge),
	}

	res := Classify(unmatched, nil, nil, ownEntity)

	assert.Len(t, res.Residual, 1)
	assert.Empty(t, res.Fees)
	assert.Empty(t, res.Refunds)
}

func TestClassify_BucketsAreDisjoint(t *testing.T) {
	unmatched := []ledger.ExternalEntry{
		ext(1, "123", "10/01/2024", -25, ledger.KindCharge),
		ext(2, "0", "10/01/2024", 1.50, ledger.KindFee),
		ext(3, "125", "10/01/2024", 50, ledger.KindCharge),
		ext(4, "126", "10/01/2024", 70, ledger.KindCharge),
	}
	all := []ledger.InternalEntry{
		intl(100, 999, "10/01/2024", 50, "Other GmbH"),
		intl(101, 126, "11/01/2024", 70, ownEntity),
	}
	ownUnmatched := []ledger.InternalEntry{all[1]}

	res := Classify(unmatched, all, ownUnmatched, ownEntity)

	total := len(res.Fees) + len(res.Refunds) + len(res.CrossEntity) +
		len(res.NearMatches) + len(res.Residual)
	assert.Equal(t, len(unmatched), total)
	assert.Len(t, res.UnmatchedInternal, 1)
}

func TestTotals(t *testing.T) {
	bucket := []Classified{
		{Entry: ext(1, "1", "10/01/2024", 10.50, ledger.KindCharge)},
		{Entry: ext(2, "2", "10/01/2024", 4.50, ledger.KindCharge)},
	}

	assert.True(t, Totals(bucket).Equal(decimal.NewFromFloat(15)))
}
