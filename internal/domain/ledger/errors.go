package ledger

import "errors"

var (
	// ErrNoInputData means a required ledger collection is empty for the scope.
	ErrNoInputData = errors.New("no input data for scope")

	// ErrNoActualTransactions means the cutoff date cannot be computed
	// because no non-fee external entry has a parseable date.
	ErrNoActualTransactions = errors.New("no actual transactions to reconcile")

	// ErrAlreadyProcessed trips the re-run guard: the stage already has
	// results, or allocation was already applied to this scope.
	ErrAlreadyProcessed = errors.New("already processed")

	// ErrUnparseableDate marks a date field that fails every known format.
	ErrUnparseableDate = errors.New("unparseable date")

	// ErrUnknownEntity means the scope names an entity the configuration
	// does not define.
	ErrUnknownEntity = errors.New("unknown entity")
)

// Per-commitment allocation outcomes. Reported on the result, never fatal
// to the batch.
const (
	ReasonNotFound   = "not found in database"
	ReasonZeroAmount = "zero amount"
)
