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
		Name:    "initial_records",
		Up:      migration001InitialRecords,
	},
	{
		Version: 2,
		Name:    "add_match_links",
		Up:      migration002AddMatchLinks,
	},
	{
		Version: 3,
		Name:    "add_history_entries",
		Up:      migration003AddHistoryEntries,
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

		_, err = tx.Exec(`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`,
			migration.Version, migration.Name)
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

// migration001InitialRecords creates the deposits and sales tables.
func migration001InitialRecords(db *sql.Tx) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS deposits (
			id TEXT PRIMARY KEY,
			amount REAL NOT NULL,
			matched_total REAL NOT NULL DEFAULT 0,
			remaining_amount REAL NOT NULL DEFAULT 0,
			bank TEXT NOT NULL DEFAULT '',
			bank_key TEXT NOT NULL DEFAULT '',
			transaction_date TIMESTAMP,
			vendor_name TEXT NOT NULL DEFAULT '',
			store_name TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'open',
			candidate_sale_ids TEXT NOT NULL DEFAULT '[]',
			settled_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_deposits_date
		 ON deposits(transaction_date)`,

		`CREATE INDEX IF NOT EXISTS idx_deposits_status
		 ON deposits(status)`,

		`CREATE TABLE IF NOT EXISTS sales (
			id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL DEFAULT '',
			gross_payments REAL NOT NULL,
			matched_total REAL NOT NULL DEFAULT 0,
			remaining_amount REAL NOT NULL DEFAULT 0,
			payment_gateway TEXT NOT NULL DEFAULT '',
			bank_key TEXT NOT NULL DEFAULT '',
			sale_date TIMESTAMP,
			staff_member_name TEXT NOT NULL DEFAULT '',
			store_name TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			candidate_deposit_ids TEXT NOT NULL DEFAULT '[]',
			settled_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_sales_date
		 ON sales(sale_date)`,

		`CREATE INDEX IF NOT EXISTS idx_sales_status
		 ON sales(status)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}

	return nil
}

// migration002AddMatchLinks creates the settlement ledger. Links get
// their own identity so the two record sides can never drift apart:
// each side's link set is a view over this one table.
func migration002AddMatchLinks(db *sql.Tx) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS match_links (
			id TEXT PRIMARY KEY,
			deposit_id TEXT NOT NULL,
			sale_id TEXT NOT NULL,
			amount REAL NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (deposit_id) REFERENCES deposits(id),
			FOREIGN KEY (sale_id) REFERENCES sales(id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_match_links_deposit
		 ON match_links(deposit_id)`,

		`CREATE INDEX IF NOT EXISTS idx_match_links_sale
		 ON match_links(sale_id)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

// migration003AddHistoryEntries creates the append-only audit log.
func migration003AddHistoryEntries(db *sql.Tx) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS history_entries (
			id TEXT PRIMARY KEY,
			record_type TEXT NOT NULL,
			record_id TEXT NOT NULL,
			action TEXT NOT NULL,
			counterparty_id TEXT NOT NULL DEFAULT '',
			amount REAL NOT NULL DEFAULT 0,
			details TEXT NOT NULL DEFAULT '',
			actor TEXT NOT NULL DEFAULT 'SYSTEM',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_history_record
		 ON history_entries(record_type, record_id)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return err
		}
	}

	return nil
}
