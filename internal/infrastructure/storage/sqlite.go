package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jmorazan/reconcile-backend/internal/domain/reconcile"
)

// Storage provides SQLite database access for deposits, sales, match
// links and history. It implements the Repository interface.
type Storage struct {
	db *sql.DB

	// maxRetries bounds how often a conflicting transaction is re-run
	// from scratch before surfacing reconcile.ErrConflict.
	maxRetries int
}

// Compile-time check that Storage implements Repository
var _ Repository = (*Storage)(nil)

// querier is satisfied by both *sql.DB and *sql.Tx so reads can run
// inside or outside a transaction.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// NewStorage creates a new storage instance with SQLite database
func NewStorage(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// A single writer connection sidesteps SQLITE_BUSY between our own
	// connections; concurrent writers queue on the busy timeout instead.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	s := &Storage{db: db, maxRetries: 3}

	if err := s.runMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// SetMaxRetries overrides the conflict retry bound.
func (s *Storage) SetMaxRetries(n int) {
	if n > 0 {
		s.maxRetries = n
	}
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

const depositColumns = `id, amount, matched_total, remaining_amount, bank, bank_key,
	transaction_date, vendor_name, store_name, status, candidate_sale_ids, settled_at, created_at`

const saleColumns = `id, order_id, gross_payments, matched_total, remaining_amount,
	payment_gateway, bank_key, sale_date, staff_member_name, store_name, status,
	candidate_deposit_ids, settled_at, created_at`

// SaveDeposit inserts or replaces a deposit row.
func (s *Storage) SaveDeposit(dep *Deposit) error {
	return saveDeposit(s.db, dep)
}

func saveDeposit(q querier, dep *Deposit) error {
	candidatesJSON, _ := json.Marshal(idsOrEmpty(dep.CandidateSaleIDs))

	if dep.CreatedAt.IsZero() {
		dep.CreatedAt = time.Now().UTC()
	}

	query := `
	INSERT OR REPLACE INTO deposits
	(` + depositColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := q.Exec(query,
		dep.ID,
		dep.Amount,
		dep.MatchedTotal,
		dep.RemainingAmount,
		dep.Bank,
		dep.BankKey,
		dep.TransactionDate,
		dep.VendorName,
		dep.StoreName,
		dep.Status,
		string(candidatesJSON),
		nullableTime(dep.SettledAt),
		dep.CreatedAt,
	)

	return err
}

// GetDeposit retrieves a deposit by ID. Returns nil, nil when missing.
func (s *Storage) GetDeposit(id string) (*Deposit, error) {
	return getDeposit(s.db, id)
}

func getDeposit(q querier, id string) (*Deposit, error) {
	row := q.QueryRow(`SELECT `+depositColumns+` FROM deposits WHERE id = ?`, id)
	dep, err := scanDeposit(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return dep, err
}

func scanDeposit(row *sql.Row) (*Deposit, error) {
	dep := &Deposit{}
	var txDate, settledAt, createdAt sql.NullTime
	var candidatesJSON string

	err := row.Scan(
		&dep.ID,
		&dep.Amount,
		&dep.MatchedTotal,
		&dep.RemainingAmount,
		&dep.Bank,
		&dep.BankKey,
		&txDate,
		&dep.VendorName,
		&dep.StoreName,
		&dep.Status,
		&candidatesJSON,
		&settledAt,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	dep.TransactionDate = txDate.Time
	dep.CreatedAt = createdAt.Time
	if settledAt.Valid {
		t := settledAt.Time
		dep.SettledAt = &t
	}
	if candidatesJSON != "" {
		_ = json.Unmarshal([]byte(candidatesJSON), &dep.CandidateSaleIDs)
	}

	return dep, nil
}

// ListDeposits returns deposits matching the filters, newest first.
func (s *Storage) ListDeposits(f RecordFilters) ([]*Deposit, error) {
	query := `SELECT ` + depositColumns + ` FROM deposits`
	where, args := filterClause(f, "bank_key")
	query += where + ` ORDER BY transaction_date DESC LIMIT ? OFFSET ?`
	args = append(args, limitOrDefault(f.Limit), f.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var deposits []*Deposit
	for rows.Next() {
		dep, err := scanDepositRows(rows)
		if err != nil {
			return nil, err
		}
		deposits = append(deposits, dep)
	}

	return deposits, rows.Err()
}

func scanDepositRows(rows *sql.Rows) (*Deposit, error) {
	dep := &Deposit{}
	var txDate, settledAt, createdAt sql.NullTime
	var candidatesJSON string

	err := rows.Scan(
		&dep.ID, &dep.Amount, &dep.MatchedTotal, &dep.RemainingAmount,
		&dep.Bank, &dep.BankKey, &txDate, &dep.VendorName, &dep.StoreName,
		&dep.Status, &candidatesJSON, &settledAt, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	dep.TransactionDate = txDate.Time
	dep.CreatedAt = createdAt.Time
	if settledAt.Valid {
		t := settledAt.Time
		dep.SettledAt = &t
	}
	if candidatesJSON != "" {
		_ = json.Unmarshal([]byte(candidatesJSON), &dep.CandidateSaleIDs)
	}

	return dep, nil
}

// SetDepositCandidates replaces a deposit's suggestion list.
func (s *Storage) SetDepositCandidates(id string, saleIDs []string) error {
	candidatesJSON, _ := json.Marshal(idsOrEmpty(saleIDs))
	res, err := s.db.Exec(`UPDATE deposits SET candidate_sale_ids = ? WHERE id = ?`,
		string(candidatesJSON), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// SaveSale inserts or replaces a sale row.
func (s *Storage) SaveSale(sale *Sale) error {
	return saveSale(s.db, sale)
}

func saveSale(q querier, sale *Sale) error {
	candidatesJSON, _ := json.Marshal(idsOrEmpty(sale.CandidateDepositIDs))

	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	query := `
	INSERT OR REPLACE INTO sales
	(` + saleColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := q.Exec(query,
		sale.ID,
		sale.OrderID,
		sale.GrossPayments,
		sale.MatchedTotal,
		sale.RemainingAmount,
		sale.PaymentGateway,
		sale.BankKey,
		sale.SaleDate,
		sale.StaffMemberName,
		sale.StoreName,
		sale.Status,
		string(candidatesJSON),
		nullableTime(sale.SettledAt),
		sale.CreatedAt,
	)

	return err
}

// GetSale retrieves a sale by ID. Returns nil, nil when missing.
func (s *Storage) GetSale(id string) (*Sale, error) {
	return getSale(s.db, id)
}

func getSale(q querier, id string) (*Sale, error) {
	row := q.QueryRow(`SELECT `+saleColumns+` FROM sales WHERE id = ?`, id)
	sale, err := scanSale(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sale, err
}

func scanSale(row *sql.Row) (*Sale, error) {
	sale := &Sale{}
	var saleDate, settledAt, createdAt sql.NullTime
	var candidatesJSON string

	err := row.Scan(
		&sale.ID,
		&sale.OrderID,
		&sale.GrossPayments,
		&sale.MatchedTotal,
		&sale.RemainingAmount,
		&sale.PaymentGateway,
		&sale.BankKey,
		&saleDate,
		&sale.StaffMemberName,
		&sale.StoreName,
		&sale.Status,
		&candidatesJSON,
		&settledAt,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	sale.SaleDate = saleDate.Time
	sale.CreatedAt = createdAt.Time
	if settledAt.Valid {
		t := settledAt.Time
		sale.SettledAt = &t
	}
	if candidatesJSON != "" {
		_ = json.Unmarshal([]byte(candidatesJSON), &sale.CandidateDepositIDs)
	}

	return sale, nil
}

// ListSales returns sales matching the filters, newest first.
func (s *Storage) ListSales(f RecordFilters) ([]*Sale, error) {
	query := `SELECT ` + saleColumns + ` FROM sales`
	where, args := filterClause(f, "bank_key")
	query += where + ` ORDER BY sale_date DESC LIMIT ? OFFSET ?`
	args = append(args, limitOrDefault(f.Limit), f.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var sales []*Sale
	for rows.Next() {
		sale, err := scanSaleRows(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}

	return sales, rows.Err()
}

func scanSaleRows(rows *sql.Rows) (*Sale, error) {
	sale := &Sale{}
	var saleDate, settledAt, createdAt sql.NullTime
	var candidatesJSON string

	err := rows.Scan(
		&sale.ID, &sale.OrderID, &sale.GrossPayments, &sale.MatchedTotal,
		&sale.RemainingAmount, &sale.PaymentGateway, &sale.BankKey, &saleDate,
		&sale.StaffMemberName, &sale.StoreName, &sale.Status,
		&candidatesJSON, &settledAt, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	sale.SaleDate = saleDate.Time
	sale.CreatedAt = createdAt.Time
	if settledAt.Valid {
		t := settledAt.Time
		sale.SettledAt = &t
	}
	if candidatesJSON != "" {
		_ = json.Unmarshal([]byte(candidatesJSON), &sale.CandidateDepositIDs)
	}

	return sale, nil
}

// SetSaleCandidates replaces a sale's suggestion list.
func (s *Storage) SetSaleCandidates(id string, depositIDs []string) error {
	candidatesJSON, _ := json.Marshal(idsOrEmpty(depositIDs))
	res, err := s.db.Exec(`UPDATE sales SET candidate_deposit_ids = ? WHERE id = ?`,
		string(candidatesJSON), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// AnnotateSaleCandidate appends one deposit ID to a still-open sale's
// suggestion list and flags the sale for review. Settled sales and
// duplicate suggestions are left alone.
func (s *Storage) AnnotateSaleCandidate(saleID, depositID string, maxCandidates int) error {
	return s.withTx(context.Background(), func(tx *sql.Tx) error {
		sale, err := getSale(tx, saleID)
		if err != nil {
			return err
		}
		if sale == nil {
			return reconcile.ErrNotFound
		}
		if !reconcile.SaleOpen(sale.Status) {
			return nil
		}
		for _, id := range sale.CandidateDepositIDs {
			if id == depositID {
				return nil
			}
		}
		ids := append(sale.CandidateDepositIDs, depositID)
		if maxCandidates > 0 && len(ids) > maxCandidates {
			ids = ids[len(ids)-maxCandidates:]
		}
		candidatesJSON, _ := json.Marshal(ids)
		_, err = tx.Exec(`UPDATE sales SET candidate_deposit_ids = ?, status = ? WHERE id = ?`,
			string(candidatesJSON), reconcile.StatusPendingReview, saleID)
		return err
	})
}

// RemoveSaleCandidate drops one suggested deposit ID from a sale. Pure
// annotation edit: balances and status are untouched.
func (s *Storage) RemoveSaleCandidate(saleID, depositID string) error {
	return s.withTx(context.Background(), func(tx *sql.Tx) error {
		sale, err := getSale(tx, saleID)
		if err != nil {
			return err
		}
		if sale == nil {
			return reconcile.ErrNotFound
		}
		kept := make([]string, 0, len(sale.CandidateDepositIDs))
		for _, id := range sale.CandidateDepositIDs {
			if id != depositID {
				kept = append(kept, id)
			}
		}
		candidatesJSON, _ := json.Marshal(kept)
		_, err = tx.Exec(`UPDATE sales SET candidate_deposit_ids = ? WHERE id = ?`,
			string(candidatesJSON), saleID)
		return err
	})
}

// SaleCandidatesForDeposit returns open sales dated within ±dayWindow
// days of the deposit's transaction date. Unbounded on purpose: the
// scorer must see every qualifying candidate.
func (s *Storage) SaleCandidatesForDeposit(dep *Deposit, dayWindow int) ([]*Sale, error) {
	from, to := dateWindow(dep.TransactionDate, dayWindow)

	rows, err := s.db.Query(`
		SELECT `+saleColumns+` FROM sales
		WHERE sale_date >= ? AND sale_date <= ?
		  AND status IN ('pending', 'pending_review')
		ORDER BY sale_date DESC`,
		from, to)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var sales []*Sale
	for rows.Next() {
		sale, err := scanSaleRows(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}

	return sales, rows.Err()
}

// DepositCandidatesForSale returns open deposits dated within
// ±dayWindow days of the sale date.
func (s *Storage) DepositCandidatesForSale(sale *Sale, dayWindow int) ([]*Deposit, error) {
	from, to := dateWindow(sale.SaleDate, dayWindow)

	rows, err := s.db.Query(`
		SELECT `+depositColumns+` FROM deposits
		WHERE transaction_date >= ? AND transaction_date <= ?
		  AND status IN ('open', 'reserved', 'partial')
		ORDER BY transaction_date DESC`,
		from, to)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var deposits []*Deposit
	for rows.Next() {
		dep, err := scanDepositRows(rows)
		if err != nil {
			return nil, err
		}
		deposits = append(deposits, dep)
	}

	return deposits, rows.Err()
}

// LinksForDeposit returns the deposit's side of the settlement ledger.
func (s *Storage) LinksForDeposit(depositID string) ([]MatchLink, error) {
	return queryLinks(s.db, `deposit_id`, depositID)
}

// LinksForSale returns the sale's side of the settlement ledger.
func (s *Storage) LinksForSale(saleID string) ([]MatchLink, error) {
	return queryLinks(s.db, `sale_id`, saleID)
}

func queryLinks(q querier, column, id string) ([]MatchLink, error) {
	rows, err := q.Query(`
		SELECT id, deposit_id, sale_id, amount, created_at
		FROM match_links WHERE `+column+` = ?
		ORDER BY rowid ASC`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var links []MatchLink
	for rows.Next() {
		var link MatchLink
		var createdAt sql.NullTime
		if err := rows.Scan(&link.ID, &link.DepositID, &link.SaleID, &link.Amount, &createdAt); err != nil {
			return nil, err
		}
		link.CreatedAt = createdAt.Time
		links = append(links, link)
	}

	return links, rows.Err()
}

// HistoryFor returns a record's audit log in insertion order.
func (s *Storage) HistoryFor(recordType, recordID string) ([]HistoryEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, record_type, record_id, action, counterparty_id, amount, details, actor, created_at
		FROM history_entries
		WHERE record_type = ? AND record_id = ?
		ORDER BY rowid ASC`,
		recordType, recordID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var createdAt sql.NullTime
		err := rows.Scan(&e.ID, &e.RecordType, &e.RecordID, &e.Action,
			&e.CounterpartyID, &e.Amount, &e.Details, &e.Actor, &createdAt)
		if err != nil {
			return nil, err
		}
		e.CreatedAt = createdAt.Time
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- helpers ---

func filterClause(f RecordFilters, bankColumn string) (string, []any) {
	var conds []string
	var args []any
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	}
	if f.BankKey != "" {
		conds = append(conds, bankColumn+" = ?")
		args = append(args, f.BankKey)
	}
	if len(conds) == 0 {
		return "", nil
	}
	where := " WHERE " + conds[0]
	for _, c := range conds[1:] {
		where += " AND " + c
	}
	return where, args
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 50
	}
	return limit
}

func idsOrEmpty(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// dateWindow expands a date to [start-of-day − window, end-of-day + window].
func dateWindow(base time.Time, dayWindow int) (time.Time, time.Time) {
	day := time.Date(base.Year(), base.Month(), base.Day(), 0, 0, 0, 0, base.Location())
	from := day.AddDate(0, 0, -dayWindow)
	to := day.AddDate(0, 0, dayWindow+1).Add(-time.Nanosecond)
	return from, to
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return reconcile.ErrNotFound
	}
	return nil
}
