package storage

import "github.com/clearledger/reconcile/internal/domain/ledger"

// LedgerStore holds the immutable ledger entries. External entries are
// scoped per (job, entity); the bank export is job-wide because it carries
// every subsidiary's rows in one file.
type LedgerStore interface {
	SaveExternalEntries(scope ledger.Scope, entries []ledger.ExternalEntry) ([]ledger.ExternalEntry, error)
	LoadExternalEntries(scope ledger.Scope) ([]ledger.ExternalEntry, error)
	SaveInternalEntries(jobID int64, entries []ledger.InternalEntry) ([]ledger.InternalEntry, error)
	LoadInternalEntries(jobID int64) ([]ledger.InternalEntry, error)
}

// PairStore holds the matched pairs and per-stage summaries. A stage's
// pairs and summary always persist in one transaction.
type PairStore interface {
	LoadPairs(scope ledger.Scope) ([]ledger.MatchedPair, error)
	LoadPairsByStage(scope ledger.Scope, stage int) ([]ledger.MatchedPair, error)
	SaveStageResult(pairs []ledger.MatchedPair, summary ledger.Summary) error
	GetSummary(scope ledger.Scope, stage int) (*ledger.Summary, error)
	DeleteFromStage(scope ledger.Scope, minStage int) error
}

// AllocationStore holds the working rows the allocation engine reduces.
// ApplyAllocation commits row updates and new installment rows atomically.
type AllocationStore interface {
	SaveWorkingRows(rows []ledger.WorkingRow) ([]ledger.WorkingRow, error)
	LoadWorkingRows(scope ledger.Scope) ([]ledger.WorkingRow, error)
	ApplyAllocation(scope ledger.Scope, updated, installments []ledger.WorkingRow) error
	HasInstallments(scope ledger.Scope) (bool, error)
	RestoreWorkingRows(scope ledger.Scope) error
	DeleteWorkingRows(scope ledger.Scope) error
}

// Repository is the full record store the reconciliation service runs on.
type Repository interface {
	LedgerStore
	PairStore
	AllocationStore
	Close() error
}
