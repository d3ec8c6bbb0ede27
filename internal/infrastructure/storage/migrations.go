package storage

import (
	"database/sql"
	"fmt"
)

// Migration represents a database schema migration
type Migration struct {
	Version int
	Name    string
	Up      func(*sql.Tx) error
}

// allMigrations defines all migrations in order
var allMigrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up:      migration001InitialSchema,
	},
	{
		Version: 2,
		Name:    "add_working_rows_table",
		Up:      migration002AddWorkingRowsTable,
	},
}

// runMigrations executes all pending migrations
func (s *Storage) runMigrations() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, migration := range allMigrations {
		if applied[migration.Version] {
			continue
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", migration.Version, err)
		}

		if err := migration.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", migration.Version, migration.Name, err)
		}

		_, err = tx.Exec(`
			INSERT INTO schema_migrations (version, name) VALUES (?, ?)
		`, migration.Version, migration.Name)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// ensureMigrationsTable creates the schema_migrations table
func (s *Storage) ensureMigrationsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	_, err := s.db.Exec(query)
	return err
}

// getAppliedMigrations returns a set of applied migration versions
func (s *Storage) getAppliedMigrations() (map[int]bool, error) {
	applied := make(map[int]bool)

	rows, err := s.db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}

	return applied, rows.Err()
}

// migration001InitialSchema creates the ledger, pair and summary tables.
// Amounts are stored as TEXT: the conservation checks need the decimal
// values back unchanged, and REAL would round them.
func migration001InitialSchema(db *sql.Tx) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS external_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id INTEGER NOT NULL,
			entity_id INTEGER NOT NULL,
			client_id TEXT NOT NULL,
			desc_client_id TEXT DEFAULT '',
			kind TEXT NOT NULL,
			created TEXT NOT NULL,
			description TEXT DEFAULT '',
			amount TEXT NOT NULL,
			currency TEXT NOT NULL,
			converted_amount TEXT DEFAULT '0',
			fees TEXT DEFAULT '0',
			net TEXT DEFAULT '0',
			processor_ref TEXT DEFAULT ''
		)`,

		`CREATE INDEX IF NOT EXISTS idx_external_entries_scope
		 ON external_entries(job_id, entity_id)`,

		`CREATE TABLE IF NOT EXISTS internal_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id INTEGER NOT NULL,
			client_id INTEGER NOT NULL,
			payment_date TEXT NOT NULL,
			invoice_number TEXT DEFAULT '',
			billing_entity TEXT NOT NULL,
			ar_account TEXT DEFAULT '',
			currency TEXT NOT NULL,
			exchange_rate TEXT DEFAULT '1',
			amount TEXT NOT NULL,
			account TEXT DEFAULT '',
			location TEXT DEFAULT '',
			transtype TEXT DEFAULT '',
			comment TEXT DEFAULT '',
			card_reference TEXT DEFAULT '',
			memo TEXT DEFAULT ''
		)`,

		`CREATE INDEX IF NOT EXISTS idx_internal_entries_job
		 ON internal_entries(job_id)`,

		`CREATE INDEX IF NOT EXISTS idx_internal_entries_billing
		 ON internal_entries(job_id, billing_entity)`,

		// Both sides denormalized so downstream readers never re-join.
		`CREATE TABLE IF NOT EXISTS matched_pairs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id INTEGER NOT NULL,
			entity_id INTEGER NOT NULL,
			stage INTEGER NOT NULL,
			method TEXT NOT NULL,
			ext_id INTEGER NOT NULL,
			ext_client_id TEXT NOT NULL,
			ext_desc_client_id TEXT DEFAULT '',
			ext_kind TEXT NOT NULL,
			ext_created TEXT NOT NULL,
			ext_description TEXT DEFAULT '',
			ext_amount TEXT NOT NULL,
			ext_currency TEXT NOT NULL,
			ext_converted_amount TEXT DEFAULT '0',
			ext_fees TEXT DEFAULT '0',
			ext_net TEXT DEFAULT '0',
			ext_processor_ref TEXT DEFAULT '',
			int_id INTEGER NOT NULL,
			int_client_id INTEGER NOT NULL,
			int_payment_date TEXT NOT NULL,
			int_invoice_number TEXT DEFAULT '',
			int_billing_entity TEXT NOT NULL,
			int_ar_account TEXT DEFAULT '',
			int_currency TEXT NOT NULL,
			int_exchange_rate TEXT DEFAULT '1',
			int_amount TEXT NOT NULL,
			int_account TEXT DEFAULT '',
			int_location TEXT DEFAULT '',
			int_transtype TEXT DEFAULT '',
			int_comment TEXT DEFAULT '',
			int_card_reference TEXT DEFAULT '',
			int_memo TEXT DEFAULT '',
			UNIQUE (job_id, entity_id, ext_id),
			UNIQUE (job_id, entity_id, int_id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_matched_pairs_scope
		 ON matched_pairs(job_id, entity_id, stage)`,

		`CREATE TABLE IF NOT EXISTS summaries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id INTEGER NOT NULL,
			entity_id INTEGER NOT NULL,
			stage INTEGER NOT NULL,
			cutoff_date TEXT DEFAULT '',
			matched_count INTEGER DEFAULT 0,
			unmatched_external INTEGER DEFAULT 0,
			unmatched_internal INTEGER DEFAULT 0,
			out_of_cutoff INTEGER DEFAULT 0,
			fee_count INTEGER DEFAULT 0,
			refund_count INTEGER DEFAULT 0,
			cross_entity_count INTEGER DEFAULT 0,
			near_match_count INTEGER DEFAULT 0,
			residual_count INTEGER DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (job_id, entity_id, stage)
		)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}

	return nil
}

// migration002AddWorkingRowsTable creates the allocation substrate.
// original_amount keeps the pre-allocation snapshot for restores.
func migration002AddWorkingRowsTable(db *sql.Tx) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS working_rows (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id INTEGER NOT NULL,
			entity_id INTEGER NOT NULL,
			client_id TEXT NOT NULL,
			invoice_number TEXT DEFAULT '',
			date TEXT DEFAULT '',
			amount TEXT NOT NULL,
			original_amount TEXT NOT NULL,
			kind TEXT NOT NULL,
			reference TEXT DEFAULT '',
			source_pair_id INTEGER DEFAULT 0
		)`,

		`CREATE INDEX IF NOT EXISTS idx_working_rows_scope
		 ON working_rows(job_id, entity_id)`,

		`CREATE INDEX IF NOT EXISTS idx_working_rows_client
		 ON working_rows(job_id, entity_id, client_id)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to create working rows table: %w", err)
		}
	}

	return nil
}
