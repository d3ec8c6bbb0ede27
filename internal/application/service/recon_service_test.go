package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearledger/reconcile/internal/domain/ledger"
	"github.com/clearledger/reconcile/internal/infrastructure/config"
	"github.com/clearledger/reconcile/internal/infrastructure/storage"
)

var svcScope = ledger.Scope{JobID: 1, EntityID: 1}

func testConfig() *config.Config {
	return &config.Config{
		Matching: config.MatchingConfig{
			StrictCurrency:     "AED",
			TolerantWindowDays: 5,
			StandardWindowDays: 2,
		},
		Journal: config.JournalConfig{
			ProofMarker:     "POA",
			ReferencePrefix: "CPMT",
			ARAccount:       "11010 Accounts Receivable : Trade Debtors",
			BankAccount:     "10010 Bank : Current Account",
		},
		Entities: []config.EntityConfig{
			{ID: 1, Name: "Acme", BillingEntity: "Acme Ltd", Tolerant: true},
			{ID: 2, Name: "Other", BillingEntity: "Other GmbH"},
		},
	}
}

func newTestService(t *testing.T) (*ReconService, *storage.MockRepository) {
	t.Helper()
	repo := storage.NewMockRepository()
	return NewReconService(repo, testConfig(), nil), repo
}

func seedScope(t *testing.T, svc *ReconService, externals []ledger.ExternalEntry, internals []ledger.InternalEntry) {
	t.Helper()
	ctx := context.Background()
	_, err := svc.IngestExternal(ctx, svcScope, externals)
	require.NoError(t, err)
	_, err = svc.IngestInternal(ctx, svcScope.JobID, internals)
	require.NoError(t, err)
}

func charge(client, date string, amount float64) ledger.ExternalEntry {
	return ledger.ExternalEntry{
		ClientID: client,
		Kind:     ledger.KindCharge,
		Created:  date,
		Amount:   decimal.NewFromFloat(amount),
		Currency: "USD",
	}
}

func bankRow(client int64, date string, amount float64) ledger.InternalEntry {
	return ledger.InternalEntry{
		ClientID:      client,
		PaymentDate:   date,
		Amount:        decimal.NewFromFloat(amount),
		Currency:      "USD",
		BillingEntity: "Acme Ltd",
		InvoiceNumber: "INV-1",
	}
}

func TestRunStage1_MatchesAndPersists(t *testing.T) {
	svc, repo := newTestService(t)
	seedScope(t, svc,
		[]ledger.ExternalEntry{charge("123", "10/01/2024", 50)},
		[]ledger.InternalEntry{bankRow(123, "10/01/2024", 50)},
	)

	res, err := svc.RunStage1(context.Background(), svcScope)

	require.NoError(t, err)
	require.Len(t, res.Pairs, 1)
	assert.Equal(t, "exact", res.Pairs[0].Method)
	assert.Empty(t, res.UnmatchedExternal)
	assert.Empty(t, res.UnmatchedInternal)

	stored, err := repo.LoadPairsByStage(svcScope, 1)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
	sum, err := repo.GetSummary(svcScope, 1)
	require.NoError(t, err)
	require.NotNil(t, sum)
	assert.Equal(t, 1, sum.MatchedCount)
	assert.Equal(t, "10/01/2024", sum.CutoffDate)
}

func TestRunStage1_IdempotentRerun(t *testing.T) {
	svc, repo := newTestService(t)
	seedScope(t, svc,
		[]ledger.ExternalEntry{charge("123", "10/01/2024", 50)},
		[]ledger.InternalEntry{bankRow(123, "10/01/2024", 50)},
	)
	ctx := context.Background()

	first, err := svc.RunStage1(ctx, svcScope)
	require.NoError(t, err)
	second, err := svc.RunStage1(ctx, svcScope)
	require.NoError(t, err)

	assert.Equal(t, len(first.Pairs), len(second.Pairs))
	stored, err := repo.LoadPairsByStage(svcScope, 1)
	require.NoError(t, err)
	assert.Len(t, stored, 1, "no duplicate pairs on re-run")
}

func TestRunStage1_NoInputData(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.RunStage1(context.Background(), svcScope)

	assert.ErrorIs(t, err, ledger.ErrNoInputData)
}

func TestRunStage1_UnknownEntity(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.RunStage1(context.Background(), ledger.Scope{JobID: 1, EntityID: 42})

	assert.ErrorIs(t, err, ledger.ErrUnknownEntity)
}

func TestRunStage2_TolerantPassB(t *testing.T) {
	svc, _ := newTestService(t)
	seedScope(t, svc,
		[]ledger.ExternalEntry{
			charge("200", "15/01/2024", 99), // anchors the cutoff
			charge("123", "10/01/2024", 50),
		},
		[]ledger.InternalEntry{
			bankRow(123, "12/01/2024", 50),
		},
	)
	ctx := context.Background()

	s1, err := svc.RunStage1(ctx, svcScope)
	require.NoError(t, err)
	assert.Empty(t, s1.Pairs)

	s2, err := svc.RunStage2(ctx, svcScope)
	require.NoError(t, err)
	require.Len(t, s2.Pairs, 1)
	assert.Equal(t, "client_amount_±2d", s2.Pairs[0].Method)
	assert.Len(t, s2.UnmatchedExternal, 1)
}

func TestRunStage2_StandardEntityUsesStrategies(t *testing.T) {
	repo := storage.NewMockRepository()
	svc := NewReconService(repo, testConfig(), nil)
	scope := ledger.Scope{JobID: 1, EntityID: 2}
	ctx := context.Background()

	_, err := svc.IngestExternal(ctx, scope, []ledger.ExternalEntry{
		charge("123", "10/01/2024", 50),
	})
	require.NoError(t, err)
	_, err = svc.IngestInternal(ctx, scope.JobID, []ledger.InternalEntry{
		{ClientID: 999, PaymentDate: "09/01/2024", Amount: decimal.NewFromFloat(50),
			Currency: "USD", BillingEntity: "Other GmbH"},
	})
	require.NoError(t, err)

	s2, err := svc.RunStage2(ctx, scope)
	require.NoError(t, err)
	require.Len(t, s2.Pairs, 1)
	assert.Equal(t, "date_amount", s2.Pairs[0].Method)
}

func TestRunStage3_ClassifiesResidue(t *testing.T) {
	svc, repo := newTestService(t)
	seedScope(t, svc,
		[]ledger.ExternalEntry{
			charge("123", "10/01/2024", 50),
			{ClientID: "124", Kind: ledger.KindRefund, Created: "10/01/2024",
				Amount: decimal.NewFromFloat(-25), Currency: "USD"},
			{ClientID: "0", Kind: ledger.KindFee, Created: "10/01/2024",
				Amount: decimal.NewFromFloat(1.50), Currency: "USD"},
		},
		[]ledger.InternalEntry{bankRow(123, "10/01/2024", 50)},
	)
	ctx := context.Background()

	_, err := svc.RunStage1(ctx, svcScope)
	require.NoError(t, err)
	_, err = svc.RunStage2(ctx, svcScope)
	require.NoError(t, err)

	res, err := svc.RunStage3(ctx, svcScope)
	require.NoError(t, err)
	assert.Len(t, res.Refunds, 1)
	assert.Len(t, res.Fees, 1)
	assert.Empty(t, res.Residual)

	sum, err := repo.GetSummary(svcScope, 3)
	require.NoError(t, err)
	require.NotNil(t, sum)
	assert.Equal(t, 1, sum.RefundCount)
	assert.Equal(t, 1, sum.FeeCount)

	// Re-run: no second summary, same buckets.
	res2, err := svc.RunStage3(ctx, svcScope)
	require.NoError(t, err)
	assert.Equal(t, len(res.Refunds), len(res2.Refunds))
}

func TestAllocate_EndToEnd(t *testing.T) {
	svc, repo := newTestService(t)
	seedScope(t, svc,
		[]ledger.ExternalEntry{
			charge("99", "10/01/2024", 30),
			charge("99", "11/01/2024", 70),
		},
		[]ledger.InternalEntry{
			bankRow(99, "10/01/2024", 30),
			bankRow(99, "11/01/2024", 70),
		},
	)
	ctx := context.Background()
	_, err := svc.RunStage1(ctx, svcScope)
	require.NoError(t, err)

	report, err := svc.Allocate(ctx, svcScope, []ledger.AllocationCommitment{
		{ClientID: "99", Amount: decimal.NewFromFloat(40)},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.MatchedCount)
	assert.True(t, report.VerificationPassed)

	rows, err := repo.LoadWorkingRows(svcScope)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	total := decimal.Zero
	for _, r := range rows {
		total = total.Add(r.Amount)
	}
	assert.True(t, total.Equal(decimal.NewFromFloat(100)), "total %s", total)
}

func TestAllocate_RerunGuardAndRestore(t *testing.T) {
	svc, _ := newTestService(t)
	seedScope(t, svc,
		[]ledger.ExternalEntry{charge("99", "10/01/2024", 100)},
		[]ledger.InternalEntry{bankRow(99, "10/01/2024", 100)},
	)
	ctx := context.Background()
	_, err := svc.RunStage1(ctx, svcScope)
	require.NoError(t, err)

	commitments := []ledger.AllocationCommitment{
		{ClientID: "99", Amount: decimal.NewFromFloat(40)},
	}
	_, err = svc.Allocate(ctx, svcScope, commitments)
	require.NoError(t, err)

	_, err = svc.Allocate(ctx, svcScope, commitments)
	assert.ErrorIs(t, err, ledger.ErrAlreadyProcessed)

	require.NoError(t, svc.RestoreAllocations(ctx, svcScope))

	report, err := svc.Allocate(ctx, svcScope, commitments)
	require.NoError(t, err)
	assert.Equal(t, 1, report.MatchedCount)
}

func TestAllocate_UnmatchedCommitmentReported(t *testing.T) {
	svc, _ := newTestService(t)
	seedScope(t, svc,
		[]ledger.ExternalEntry{charge("99", "10/01/2024", 100)},
		[]ledger.InternalEntry{bankRow(99, "10/01/2024", 100)},
	)
	ctx := context.Background()
	_, err := svc.RunStage1(ctx, svcScope)
	require.NoError(t, err)

	report, err := svc.Allocate(ctx, svcScope, []ledger.AllocationCommitment{
		{ClientID: "77", Amount: decimal.NewFromFloat(40)},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, report.MatchedCount)
	require.Len(t, report.Unmatched, 1)
	assert.Equal(t, "not found in database", report.Unmatched[0].Reason)
}

func TestSplitJournals(t *testing.T) {
	svc, _ := newTestService(t)
	seedScope(t, svc,
		[]ledger.ExternalEntry{charge("123", "10/01/2024", 50)},
		[]ledger.InternalEntry{bankRow(123, "10/01/2024", 50)},
	)
	ctx := context.Background()
	_, err := svc.RunStage1(ctx, svcScope)
	require.NoError(t, err)

	j, err := svc.SplitJournals(ctx, svcScope)
	require.NoError(t, err)
	require.Len(t, j.Main, 1)
	assert.Equal(t, "CPMT: INV-1", j.Main[0].InvoiceRef)
}

func TestDeleteFromStage_ForcesRematch(t *testing.T) {
	svc, repo := newTestService(t)
	seedScope(t, svc,
		[]ledger.ExternalEntry{charge("123", "10/01/2024", 50)},
		[]ledger.InternalEntry{bankRow(123, "10/01/2024", 50)},
	)
	ctx := context.Background()
	_, err := svc.RunStage1(ctx, svcScope)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteFromStage(ctx, svcScope, 1))

	pairs, err := repo.LoadPairs(svcScope)
	require.NoError(t, err)
	assert.Empty(t, pairs)

	res, err := svc.RunStage1(ctx, svcScope)
	require.NoError(t, err)
	assert.Len(t, res.Pairs, 1)
}

func TestDeleteFromStage_RejectsBadStage(t *testing.T) {
	svc, _ := newTestService(t)

	assert.Error(t, svc.DeleteFromStage(context.Background(), svcScope, 0))
	assert.Error(t, svc.DeleteFromStage(context.Background(), svcScope, 4))
}
