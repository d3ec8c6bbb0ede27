// Package storage is the SQLite record store behind the reconciliation
// service: ledger entries, matched pairs, stage summaries and the
// allocation working rows.
package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/clearledger/reconcile/internal/domain/ledger"
)

// Storage provides SQLite database access for reconciliation records.
// It implements the Repository interface.
type Storage struct {
	db *sql.DB
}

// Compile-time check that Storage implements Repository
var _ Repository = (*Storage)(nil)

// NewStorage creates a new storage instance with SQLite database
func NewStorage(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable foreign key constraints (SQLite-specific)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Storage{db: db}

	if err := s.runMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// SaveExternalEntries inserts a processor export batch and returns the
// entries with their assigned ids.
func (s *Storage) SaveExternalEntries(scope ledger.Scope, entries []ledger.ExternalEntry) ([]ledger.ExternalEntry, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO external_entries
		(job_id, entity_id, client_id, desc_client_id, kind, created, description,
		 amount, currency, converted_amount, fees, net, processor_ref)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = stmt.Close() }()

	out := make([]ledger.ExternalEntry, 0, len(entries))
	for _, e := range entries {
		res, err := stmt.Exec(
			scope.JobID, scope.EntityID, e.ClientID, e.DescClientID, e.Kind,
			e.Created, e.Description, e.Amount.String(), e.Currency,
			e.ConvertedAmount.String(), e.Fees.String(), e.Net.String(), e.ProcessorRef,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert external entry: %w", err)
		}
		e.ID, _ = res.LastInsertId()
		out = append(out, e)
	}

	return out, tx.Commit()
}

// LoadExternalEntries returns the processor export for a scope in insert order.
func (s *Storage) LoadExternalEntries(scope ledger.Scope) ([]ledger.ExternalEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, client_id, desc_client_id, kind, created, description,
		       amount, currency, converted_amount, fees, net, processor_ref
		FROM external_entries
		WHERE job_id = ? AND entity_id = ?
		ORDER BY id
	`, scope.JobID, scope.EntityID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []ledger.ExternalEntry
	for rows.Next() {
		var e ledger.ExternalEntry
		var amount, converted, fees, net string
		if err := rows.Scan(
			&e.ID, &e.ClientID, &e.DescClientID, &e.Kind, &e.Created, &e.Description,
			&amount, &e.Currency, &converted, &fees, &net, &e.ProcessorRef,
		); err != nil {
			return nil, err
		}
		e.Amount = dec(amount)
		e.ConvertedAmount = dec(converted)
		e.Fees = dec(fees)
		e.Net = dec(net)
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveInternalEntries inserts a bank export batch. The export is job-wide:
// it carries every subsidiary's rows, distinguished by billing_entity.
func (s *Storage) SaveInternalEntries(jobID int64, entries []ledger.InternalEntry) ([]ledger.InternalEntry, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO internal_entries
		(job_id, client_id, payment_date, invoice_number, billing_entity,
		 ar_account, currency, exchange_rate, amount, account, location,
		 transtype, comment, card_reference, memo)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = stmt.Close() }()

	out := make([]ledger.InternalEntry, 0, len(entries))
	for _, e := range entries {
		res, err := stmt.Exec(
			jobID, e.ClientID, e.PaymentDate, e.InvoiceNumber, e.BillingEntity,
			e.ARAccount, e.Currency, e.ExchangeRate.String(), e.Amount.String(),
			e.Account, e.Location, e.TransType, e.Comment, e.CardReference, e.Memo,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert internal entry: %w", err)
		}
		e.ID, _ = res.LastInsertId()
		out = append(out, e)
	}

	return out, tx.Commit()
}

// LoadInternalEntries returns the whole job's bank export in insert order.
func (s *Storage) LoadInternalEntries(jobID int64) ([]ledger.InternalEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, client_id, payment_date, invoice_number, billing_entity,
		       ar_account, currency, exchange_rate, amount, account, location,
		       transtype, comment, card_reference, memo
		FROM internal_entries
		WHERE job_id = ?
		ORDER BY id
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []ledger.InternalEntry
	for rows.Next() {
		var e ledger.InternalEntry
		var rate, amount string
		if err := rows.Scan(
			&e.ID, &e.ClientID, &e.PaymentDate, &e.InvoiceNumber, &e.BillingEntity,
			&e.ARAccount, &e.Currency, &rate, &amount, &e.Account, &e.Location,
			&e.TransType, &e.Comment, &e.CardReference, &e.Memo,
		); err != nil {
			return nil, err
		}
		e.ExchangeRate = dec(rate)
		e.Amount = dec(amount)
		out = append(out, e)
	}
	return out, rows.Err()
}

// LoadPairs returns every matched pair in a scope, all stages.
func (s *Storage) LoadPairs(scope ledger.Scope) ([]ledger.MatchedPair, error) {
	return s.queryPairs(`
		SELECT `+pairColumns+`
		FROM matched_pairs
		WHERE job_id = ? AND entity_id = ?
		ORDER BY id
	`, scope.JobID, scope.EntityID)
}

// LoadPairsByStage returns the pairs one stage produced.
func (s *Storage) LoadPairsByStage(scope ledger.Scope, stage int) ([]ledger.MatchedPair, error) {
	return s.queryPairs(`
		SELECT `+pairColumns+`
		FROM matched_pairs
		WHERE job_id = ? AND entity_id = ? AND stage = ?
		ORDER BY id
	`, scope.JobID, scope.EntityID, stage)
}

const pairColumns = `id, job_id, entity_id, stage, method,
	ext_id, ext_client_id, ext_desc_client_id, ext_kind, ext_created,
	ext_description, ext_amount, ext_currency, ext_converted_amount,
	ext_fees, ext_net, ext_processor_ref,
	int_id, int_client_id, int_payment_date, int_invoice_number,
	int_billing_entity, int_ar_account, int_currency, int_exchange_rate,
	int_amount, int_account, int_location, int_transtype, int_comment,
	int_card_reference, int_memo`

func (s *Storage) queryPairs(query string, args ...any) ([]ledger.MatchedPair, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []ledger.MatchedPair
	for rows.Next() {
		var p ledger.MatchedPair
		var extAmount, extConverted, extFees, extNet string
		var intRate, intAmount string
		if err := rows.Scan(
			&p.ID, &p.Scope.JobID, &p.Scope.EntityID, &p.Stage, &p.Method,
			&p.External.ID, &p.External.ClientID, &p.External.DescClientID,
			&p.External.Kind, &p.External.Created, &p.External.Description,
			&extAmount, &p.External.Currency, &extConverted, &extFees, &extNet,
			&p.External.ProcessorRef,
			&p.Internal.ID, &p.Internal.ClientID, &p.Internal.PaymentDate,
			&p.Internal.InvoiceNumber, &p.Internal.BillingEntity,
			&p.Internal.ARAccount, &p.Internal.Currency, &intRate, &intAmount,
			&p.Internal.Account, &p.Internal.Location, &p.Internal.TransType,
			&p.Internal.Comment, &p.Internal.CardReference, &p.Internal.Memo,
		); err != nil {
			return nil, err
		}
		p.External.Amount = dec(extAmount)
		p.External.ConvertedAmount = dec(extConverted)
		p.External.Fees = dec(extFees)
		p.External.Net = dec(extNet)
		p.Internal.ExchangeRate = dec(intRate)
		p.Internal.Amount = dec(intAmount)
		out = append(out, p)
	}
	return out, rows.Err()
}

// SaveStageResult persists a stage's pairs and its summary in one
// transaction. Nothing commits if any insert fails, so a stage can always
// be retried cleanly.
func (s *Storage) SaveStageResult(pairs []ledger.MatchedPair, summary ledger.Summary) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO matched_pairs
		(job_id, entity_id, stage, method,
		 ext_id, ext_client_id, ext_desc_client_id, ext_kind, ext_created,
		 ext_description, ext_amount, ext_currency, ext_converted_amount,
		 ext_fees, ext_net, ext_processor_ref,
		 int_id, int_client_id, int_payment_date, int_invoice_number,
		 int_billing_entity, int_ar_account, int_currency, int_exchange_rate,
		 int_amount, int_account, int_location, int_transtype, int_comment,
		 int_card_reference, int_memo)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
		        ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, p := range pairs {
		_, err := stmt.Exec(
			p.Scope.JobID, p.Scope.EntityID, p.Stage, p.Method,
			p.External.ID, p.External.ClientID, p.External.DescClientID,
			p.External.Kind, p.External.Created, p.External.Description,
			p.External.Amount.String(), p.External.Currency,
			p.External.ConvertedAmount.String(), p.External.Fees.String(),
			p.External.Net.String(), p.External.ProcessorRef,
			p.Internal.ID, p.Internal.ClientID, p.Internal.PaymentDate,
			p.Internal.InvoiceNumber, p.Internal.BillingEntity,
			p.Internal.ARAccount, p.Internal.Currency,
			p.Internal.ExchangeRate.String(), p.Internal.Amount.String(),
			p.Internal.Account, p.Internal.Location, p.Internal.TransType,
			p.Internal.Comment, p.Internal.CardReference, p.Internal.Memo,
		)
		if err != nil {
			return fmt.Errorf("failed to insert matched pair: %w", err)
		}
	}

	_, err = tx.Exec(`
		INSERT INTO summaries
		(job_id, entity_id, stage, cutoff_date, matched_count,
		 unmatched_external, unmatched_internal, out_of_cutoff,
		 fee_count, refund_count, cross_entity_count, near_match_count,
		 residual_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		summary.Scope.JobID, summary.Scope.EntityID, summary.Stage,
		summary.CutoffDate, summary.MatchedCount, summary.UnmatchedExternal,
		summary.UnmatchedInternal, summary.OutOfCutoff, summary.FeeCount,
		summary.RefundCount, summary.CrossEntityCount, summary.NearMatchCount,
		summary.ResidualCount,
	)
	if err != nil {
		return fmt.Errorf("failed to insert summary: %w", err)
	}

	return tx.Commit()
}

// GetSummary returns a stage's summary, or nil if the stage never ran.
func (s *Storage) GetSummary(scope ledger.Scope, stage int) (*ledger.Summary, error) {
	row := s.db.QueryRow(`
		SELECT id, job_id, entity_id, stage, cutoff_date, matched_count,
		       unmatched_external, unmatched_internal, out_of_cutoff,
		       fee_count, refund_count, cross_entity_count, near_match_count,
		       residual_count
		FROM summaries
		WHERE job_id = ? AND entity_id = ? AND stage = ?
	`, scope.JobID, scope.EntityID, stage)

	var sum ledger.Summary
	err := row.Scan(
		&sum.ID, &sum.Scope.JobID, &sum.Scope.EntityID, &sum.Stage,
		&sum.CutoffDate, &sum.MatchedCount, &sum.UnmatchedExternal,
		&sum.UnmatchedInternal, &sum.OutOfCutoff, &sum.FeeCount,
		&sum.RefundCount, &sum.CrossEntityCount, &sum.NearMatchCount,
		&sum.ResidualCount,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sum, nil
}

// DeleteFromStage removes pairs and summaries for stage >= minStage in one
// transaction, forcing a re-match from that stage. Working rows derive from
// pairs, so they go too.
func (s *Storage) DeleteFromStage(scope ledger.Scope, minStage int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		DELETE FROM matched_pairs
		WHERE job_id = ? AND entity_id = ? AND stage >= ?
	`, scope.JobID, scope.EntityID, minStage); err != nil {
		return fmt.Errorf("failed to delete pairs: %w", err)
	}

	if _, err := tx.Exec(`
		DELETE FROM summaries
		WHERE job_id = ? AND entity_id = ? AND stage >= ?
	`, scope.JobID, scope.EntityID, minStage); err != nil {
		return fmt.Errorf("failed to delete summaries: %w", err)
	}

	if _, err := tx.Exec(`
		DELETE FROM working_rows
		WHERE job_id = ? AND entity_id = ?
	`, scope.JobID, scope.EntityID); err != nil {
		return fmt.Errorf("failed to delete working rows: %w", err)
	}

	return tx.Commit()
}

// SaveWorkingRows inserts working rows and returns them with ids assigned.
func (s *Storage) SaveWorkingRows(rows []ledger.WorkingRow) ([]ledger.WorkingRow, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	out, err := insertWorkingRows(tx, rows)
	if err != nil {
		return nil, err
	}
	return out, tx.Commit()
}

func insertWorkingRows(tx *sql.Tx, rows []ledger.WorkingRow) ([]ledger.WorkingRow, error) {
	stmt, err := tx.Prepare(`
		INSERT INTO working_rows
		(job_id, entity_id, client_id, invoice_number, date, amount,
		 original_amount, kind, reference, source_pair_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = stmt.Close() }()

	out := make([]ledger.WorkingRow, 0, len(rows))
	for _, r := range rows {
		res, err := stmt.Exec(
			r.Scope.JobID, r.Scope.EntityID, r.ClientID, r.InvoiceNumber,
			r.Date, r.Amount.String(), r.OriginalAmount.String(), r.Kind,
			r.Reference, r.SourcePairID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert working row: %w", err)
		}
		r.ID, _ = res.LastInsertId()
		out = append(out, r)
	}
	return out, nil
}

// LoadWorkingRows returns a scope's working rows in insert order.
func (s *Storage) LoadWorkingRows(scope ledger.Scope) ([]ledger.WorkingRow, error) {
	rows, err := s.db.Query(`
		SELECT id, job_id, entity_id, client_id, invoice_number, date,
		       amount, original_amount, kind, reference, source_pair_id
		FROM working_rows
		WHERE job_id = ? AND entity_id = ?
		ORDER BY id
	`, scope.JobID, scope.EntityID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []ledger.WorkingRow
	for rows.Next() {
		var r ledger.WorkingRow
		var amount, original string
		if err := rows.Scan(
			&r.ID, &r.Scope.JobID, &r.Scope.EntityID, &r.ClientID,
			&r.InvoiceNumber, &r.Date, &amount, &original, &r.Kind,
			&r.Reference, &r.SourcePairID,
		); err != nil {
			return nil, err
		}
		r.Amount = dec(amount)
		r.OriginalAmount = dec(original)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ApplyAllocation commits reduced row amounts and the new installment rows
// in one transaction.
func (s *Storage) ApplyAllocation(scope ledger.Scope, updated, installments []ledger.WorkingRow) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		UPDATE working_rows SET amount = ?
		WHERE id = ? AND job_id = ? AND entity_id = ?
	`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range updated {
		if _, err := stmt.Exec(r.Amount.String(), r.ID, scope.JobID, scope.EntityID); err != nil {
			return fmt.Errorf("failed to update working row %d: %w", r.ID, err)
		}
	}

	if _, err := insertWorkingRows(tx, installments); err != nil {
		return err
	}

	return tx.Commit()
}

// HasInstallments reports whether allocation already ran for the scope.
func (s *Storage) HasInstallments(scope ledger.Scope) (bool, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM working_rows
		WHERE job_id = ? AND entity_id = ? AND kind = ?
	`, scope.JobID, scope.EntityID, ledger.RowKindInstallment).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// RestoreWorkingRows puts every payment row back to its snapshot amount and
// drops the installment rows, so allocation can run again.
func (s *Storage) RestoreWorkingRows(scope ledger.Scope) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		UPDATE working_rows SET amount = original_amount
		WHERE job_id = ? AND entity_id = ? AND kind = ?
	`, scope.JobID, scope.EntityID, ledger.RowKindPayment); err != nil {
		return fmt.Errorf("failed to restore amounts: %w", err)
	}

	if _, err := tx.Exec(`
		DELETE FROM working_rows
		WHERE job_id = ? AND entity_id = ? AND kind = ?
	`, scope.JobID, scope.EntityID, ledger.RowKindInstallment); err != nil {
		return fmt.Errorf("failed to delete installment rows: %w", err)
	}

	return tx.Commit()
}

// DeleteWorkingRows drops the whole allocation substrate for a scope.
func (s *Storage) DeleteWorkingRows(scope ledger.Scope) error {
	_, err := s.db.Exec(`
		DELETE FROM working_rows WHERE job_id = ? AND entity_id = ?
	`, scope.JobID, scope.EntityID)
	return err
}
