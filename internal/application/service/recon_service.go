// Package service orchestrates the reconciliation stages over the record
// store: it loads a scope, runs a stage as a pure function, and persists
// pairs plus summary in one transaction.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clearledger/reconcile/internal/domain/allocation"
	"github.com/clearledger/reconcile/internal/domain/classify"
	"github.com/clearledger/reconcile/internal/domain/journal"
	"github.com/clearledger/reconcile/internal/domain/ledger"
	"github.com/clearledger/reconcile/internal/domain/matching"
	"github.com/clearledger/reconcile/internal/infrastructure/config"
	"github.com/clearledger/reconcile/internal/infrastructure/storage"
)

// ReconService runs the matching stages, the allocation engine and the
// journal splitter for configured entities. Concurrent calls on the same
// scope serialize on a per-scope lock; the stages are not safe to run twice
// concurrently against the same consumption state.
type ReconService struct {
	repo   storage.Repository
	cfg    *config.Config
	logger *slog.Logger

	mu    sync.Mutex
	locks map[ledger.Scope]*sync.Mutex
}

// NewReconService creates a reconciliation service.
func NewReconService(repo storage.Repository, cfg *config.Config, logger *slog.Logger) *ReconService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconService{
		repo:   repo,
		cfg:    cfg,
		logger: logger,
		locks:  make(map[ledger.Scope]*sync.Mutex),
	}
}

func (s *ReconService) lockScope(scope ledger.Scope) func() {
	s.mu.Lock()
	l, ok := s.locks[scope]
	if !ok {
		l = &sync.Mutex{}
		s.locks[scope] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (s *ReconService) entity(scope ledger.Scope) (config.EntityConfig, error) {
	e, ok := s.cfg.Entity(scope.EntityID)
	if !ok {
		return config.EntityConfig{}, fmt.Errorf("entity %d: %w", scope.EntityID, ledger.ErrUnknownEntity)
	}
	return e, nil
}

func (s *ReconService) policy(e config.EntityConfig) matching.Policy {
	return matching.Policy{
		Tolerant:       e.Tolerant,
		TolerantWindow: s.cfg.Matching.TolerantWindowDays,
		StandardWindow: s.cfg.Matching.StandardWindowDays,
		StrictCurrency: s.cfg.Matching.StrictCurrency,
		BillingEntity:  e.BillingEntity,
	}
}

// IngestExternal stores a processor export batch for a scope.
func (s *ReconService) IngestExternal(ctx context.Context, scope ledger.Scope, entries []ledger.ExternalEntry) (int, error) {
	if len(entries) == 0 {
		return 0, ledger.ErrNoInputData
	}
	saved, err := s.repo.SaveExternalEntries(scope, entries)
	if err != nil {
		return 0, fmt.Errorf("ingest external entries: %w", err)
	}
	s.logger.InfoContext(ctx, "ingested external entries",
		"job", scope.JobID, "entity", scope.EntityID, "count", len(saved))
	return len(saved), nil
}

// IngestInternal stores a bank export batch for a job.
func (s *ReconService) IngestInternal(ctx context.Context, jobID int64, entries []ledger.InternalEntry) (int, error) {
	if len(entries) == 0 {
		return 0, ledger.ErrNoInputData
	}
	saved, err := s.repo.SaveInternalEntries(jobID, entries)
	if err != nil {
		return 0, fmt.Errorf("ingest internal entries: %w", err)
	}
	s.logger.InfoContext(ctx, "ingested internal entries", "job", jobID, "count", len(saved))
	return len(saved), nil
}

// loadScope pulls a scope's inputs plus any existing pairs.
func (s *ReconService) loadScope(scope ledger.Scope) ([]ledger.ExternalEntry, []ledger.InternalEntry, []ledger.MatchedPair, error) {
	externals, err := s.repo.LoadExternalEntries(scope)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load external entries: %w", err)
	}
	if len(externals) == 0 {
		return nil, nil, nil, ledger.ErrNoInputData
	}
	internals, err := s.repo.LoadInternalEntries(scope.JobID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load internal entries: %w", err)
	}
	if len(internals) == 0 {
		return nil, nil, nil, ledger.ErrNoInputData
	}
	pairs, err := s.repo.LoadPairs(scope)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load pairs: %w", err)
	}
	return externals, internals, pairs, nil
}

func ownEntries(internals []ledger.InternalEntry, billingEntity string) []ledger.InternalEntry {
	var out []ledger.InternalEntry
	for _, in := range internals {
		if in.BillingEntity == billingEntity {
			out = append(out, in)
		}
	}
	return out
}

// withinCutoff drops internal rows dated after the cutoff: they have not
// settled on the processor side and stay out of stages 2 and 3 entirely.
func withinCutoff(internals []ledger.InternalEntry, cutoff time.Time) []ledger.InternalEntry {
	var out []ledger.InternalEntry
	for _, in := range internals {
		if d, err := ledger.ParseWireDate(in.PaymentDate); err == nil && ledger.DateOnly(d).After(cutoff) {
			continue
		}
		out = append(out, in)
	}
	return out
}

// RunStage1 runs the exact matcher. Re-invoking a completed stage returns
// the stored pairs plus a freshly recomputed partition of the remaining
// entries instead of inserting duplicates.
func (s *ReconService) RunStage1(ctx context.Context, scope ledger.Scope) (*matching.Stage1Result, error) {
	unlock := s.lockScope(scope)
	defer unlock()

	entity, err := s.entity(scope)
	if err != nil {
		return nil, err
	}
	externals, internals, pairs, err := s.loadScope(scope)
	if err != nil {
		return nil, err
	}
	own := ownEntries(internals, entity.BillingEntity)

	if sum, err := s.repo.GetSummary(scope, 1); err != nil {
		return nil, err
	} else if sum != nil {
		stored, err := s.repo.LoadPairsByStage(scope, 1)
		if err != nil {
			return nil, err
		}
		consumed := matching.ConsumedFromPairs(pairs)
		cutoff, err := ledger.ParseWireDate(sum.CutoffDate)
		if err != nil {
			if cutoff, err = matching.CutoffDate(externals); err != nil {
				return nil, err
			}
		}
		unmatched, outOfCutoff := matching.PartitionInternal(own, consumed, cutoff)
		s.logger.InfoContext(ctx, "stage 1 already complete, returning stored pairs",
			"job", scope.JobID, "entity", scope.EntityID, "pairs", len(stored))
		return &matching.Stage1Result{
			Pairs:             stored,
			UnmatchedExternal: matching.UnconsumedExternal(externals, consumed),
			UnmatchedInternal: unmatched,
			OutOfCutoff:       outOfCutoff,
			CutoffDate:        cutoff,
		}, nil
	}

	consumed := matching.ConsumedFromPairs(pairs)
	res, err := matching.MatchExact(scope, externals, own, consumed)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	summary := ledger.Summary{
		Scope:             scope,
		Stage:             1,
		CutoffDate:        ledger.FormatWireDate(res.CutoffDate),
		MatchedCount:      len(res.Pairs),
		UnmatchedExternal: len(res.UnmatchedExternal),
		UnmatchedInternal: len(res.UnmatchedInternal),
		OutOfCutoff:       len(res.OutOfCutoff),
	}
	if err := s.repo.SaveStageResult(res.Pairs, summary); err != nil {
		return nil, fmt.Errorf("persist stage 1: %w", err)
	}
	s.logger.InfoContext(ctx, "stage 1 complete",
		"job", scope.JobID, "entity", scope.EntityID,
		"pairs", len(res.Pairs), "unmatched_external", len(res.UnmatchedExternal),
		"cutoff", summary.CutoffDate)
	return res, nil
}

// RunStage2 runs the tolerant or standard matcher over whatever stage 1
// left unmatched, per the entity's policy.
func (s *ReconService) RunStage2(ctx context.Context, scope ledger.Scope) (*matching.Stage2Result, error) {
	unlock := s.lockScope(scope)
	defer unlock()

	entity, err := s.entity(scope)
	if err != nil {
		return nil, err
	}
	externals, internals, pairs, err := s.loadScope(scope)
	if err != nil {
		return nil, err
	}
	policy := s.policy(entity)

	cutoff, err := matching.CutoffDate(externals)
	if err != nil {
		return nil, err
	}
	candidates := withinCutoff(internals, cutoff)

	if sum, err := s.repo.GetSummary(scope, 2); err != nil {
		return nil, err
	} else if sum != nil {
		stored, err := s.repo.LoadPairsByStage(scope, 2)
		if err != nil {
			return nil, err
		}
		consumed := matching.ConsumedFromPairs(pairs)
		res := &matching.Stage2Result{
			Pairs:             stored,
			UnmatchedExternal: matching.UnconsumedExternal(externals, consumed),
		}
		for _, in := range ownEntries(candidates, entity.BillingEntity) {
			if !consumed.Internal[in.ID] {
				res.UnmatchedInternal = append(res.UnmatchedInternal, in)
			}
		}
		s.logger.InfoContext(ctx, "stage 2 already complete, returning stored pairs",
			"job", scope.JobID, "entity", scope.EntityID, "pairs", len(stored))
		return res, nil
	}

	consumed := matching.ConsumedFromPairs(pairs)
	var res *matching.Stage2Result
	if policy.Tolerant {
		res = matching.MatchTolerant(scope, externals, candidates, consumed, policy)
	} else {
		res = matching.MatchStandard(scope, externals, candidates, consumed, policy)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	summary := ledger.Summary{
		Scope:             scope,
		Stage:             2,
		MatchedCount:      len(res.Pairs),
		UnmatchedExternal: len(res.UnmatchedExternal),
		UnmatchedInternal: len(res.UnmatchedInternal),
	}
	if err := s.repo.SaveStageResult(res.Pairs, summary); err != nil {
		return nil, fmt.Errorf("persist stage 2: %w", err)
	}
	s.logger.InfoContext(ctx, "stage 2 complete",
		"job", scope.JobID, "entity", scope.EntityID, "tolerant", policy.Tolerant,
		"pairs", len(res.Pairs), "unmatched_external", len(res.UnmatchedExternal))
	return res, nil
}

// RunStage3 classifies the entries still unmatched after both matchers.
// Classification is deterministic and consumes nothing, so a re-run only
// skips the summary insert.
func (s *ReconService) RunStage3(ctx context.Context, scope ledger.Scope) (*classify.Result, error) {
	unlock := s.lockScope(scope)
	defer unlock()

	entity, err := s.entity(scope)
	if err != nil {
		return nil, err
	}
	externals, internals, pairs, err := s.loadScope(scope)
	if err != nil {
		return nil, err
	}

	consumed := matching.ConsumedFromPairs(pairs)
	unmatchedExternal := matching.UnconsumedExternal(externals, consumed)
	cutoff, err := matching.CutoffDate(externals)
	if err != nil {
		return nil, err
	}
	var unmatchedInternal []ledger.InternalEntry
	for _, in := range ownEntries(withinCutoff(internals, cutoff), entity.BillingEntity) {
		if !consumed.Internal[in.ID] {
			unmatchedInternal = append(unmatchedInternal, in)
		}
	}

	res := classify.Classify(unmatchedExternal, internals, unmatchedInternal, entity.BillingEntity)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if sum, err := s.repo.GetSummary(scope, 3); err != nil {
		return nil, err
	} else if sum == nil {
		summary := ledger.Summary{
			Scope:             scope,
			Stage:             3,
			UnmatchedExternal: len(unmatchedExternal),
			UnmatchedInternal: len(unmatchedInternal),
			FeeCount:          len(res.Fees),
			RefundCount:       len(res.Refunds),
			CrossEntityCount:  len(res.CrossEntity),
			NearMatchCount:    len(res.NearMatches),
			ResidualCount:     len(res.Residual),
		}
		if err := s.repo.SaveStageResult(nil, summary); err != nil {
			return nil, fmt.Errorf("persist stage 3: %w", err)
		}
	}
	s.logger.InfoContext(ctx, "stage 3 complete",
		"job", scope.JobID, "entity", scope.EntityID,
		"fees", len(res.Fees), "refunds", len(res.Refunds),
		"cross_entity", len(res.CrossEntity), "near_matches", len(res.NearMatches),
		"residual", len(res.Residual))
	return res, nil
}

// FeeTotals reports the processor's own cost rows for a scope.
func (s *ReconService) FeeTotals(_ context.Context, scope ledger.Scope) (ledger.FeeTotals, error) {
	externals, err := s.repo.LoadExternalEntries(scope)
	if err != nil {
		return ledger.FeeTotals{}, err
	}
	return ledger.FeeTotalsOf(externals), nil
}

// Allocate applies a batch of installment commitments to the scope's
// matched amounts. Fails with ErrAlreadyProcessed when installments from a
// previous batch are still applied; RestoreAllocations clears them.
func (s *ReconService) Allocate(ctx context.Context, scope ledger.Scope, commitments []ledger.AllocationCommitment) (*allocation.Report, error) {
	unlock := s.lockScope(scope)
	defer unlock()

	if len(commitments) == 0 {
		return nil, ledger.ErrNoInputData
	}

	applied, err := s.repo.HasInstallments(scope)
	if err != nil {
		return nil, err
	}
	if applied {
		return nil, ledger.ErrAlreadyProcessed
	}

	rows, err := s.repo.LoadWorkingRows(scope)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		pairs, err := s.repo.LoadPairs(scope)
		if err != nil {
			return nil, err
		}
		if len(pairs) == 0 {
			return nil, ledger.ErrNoInputData
		}
		rows, err = s.repo.SaveWorkingRows(allocation.MaterializeRows(scope, pairs))
		if err != nil {
			return nil, fmt.Errorf("materialize working rows: %w", err)
		}
	}

	batchID := uuid.NewString()
	report := allocation.Apply(scope, rows, commitments, batchID, time.Now())
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := s.repo.ApplyAllocation(scope, rows, report.InstallmentRows); err != nil {
		return nil, fmt.Errorf("persist allocation: %w", err)
	}
	s.logger.InfoContext(ctx, "allocation applied",
		"job", scope.JobID, "entity", scope.EntityID, "batch", batchID,
		"matched", report.MatchedCount, "unmatched", len(report.Unmatched),
		"verified", report.VerificationPassed)
	return report, nil
}

// RestoreAllocations puts working rows back to their snapshot amounts and
// removes installment rows, so a corrected batch can be applied.
func (s *ReconService) RestoreAllocations(ctx context.Context, scope ledger.Scope) error {
	unlock := s.lockScope(scope)
	defer unlock()

	if err := s.repo.RestoreWorkingRows(scope); err != nil {
		return fmt.Errorf("restore working rows: %w", err)
	}
	s.logger.InfoContext(ctx, "allocation restored", "job", scope.JobID, "entity", scope.EntityID)
	return nil
}

// SplitJournals partitions the scope's matched records into the four
// output journals.
func (s *ReconService) SplitJournals(_ context.Context, scope ledger.Scope) (*journal.Journals, error) {
	entity, err := s.entity(scope)
	if err != nil {
		return nil, err
	}
	pairs, err := s.repo.LoadPairs(scope)
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, ledger.ErrNoInputData
	}
	cfg := journal.Config{
		BillingEntity: entity.BillingEntity,
		ProofMarker:   s.cfg.Journal.ProofMarker,
		RefPrefix:     s.cfg.Journal.ReferencePrefix,
		ARAccount:     s.cfg.Journal.ARAccount,
		BankAccount:   s.cfg.Journal.BankAccount,
	}
	return journal.Split(pairs, cfg), nil
}

// DeleteFromStage drops pairs and summaries for stage >= minStage, forcing
// a re-match from that stage. The allocation substrate goes with them.
func (s *ReconService) DeleteFromStage(ctx context.Context, scope ledger.Scope, minStage int) error {
	unlock := s.lockScope(scope)
	defer unlock()

	if minStage < 1 || minStage > 3 {
		return fmt.Errorf("stage must be 1, 2 or 3, got %d", minStage)
	}
	if err := s.repo.DeleteFromStage(scope, minStage); err != nil {
		return fmt.Errorf("delete from stage %d: %w", minStage, err)
	}
	s.logger.InfoContext(ctx, "stage results deleted",
		"job", scope.JobID, "entity", scope.EntityID, "from_stage", minStage)
	return nil
}

// Summary returns a stage's stored summary, nil when the stage never ran.
func (s *ReconService) Summary(_ context.Context, scope ledger.Scope, stage int) (*ledger.Summary, error) {
	return s.repo.GetSummary(scope, stage)
}
