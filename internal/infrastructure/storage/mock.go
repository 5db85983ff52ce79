package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jmorazan/reconcile-backend/internal/domain/reconcile"
)

// MockRepository is an in-memory implementation of Repository for
// testing. It stores all data in maps and slices, making tests fast and
// isolated, and mirrors the sqlite transactor's clamp and skip
// semantics so engine tests exercise the real decision paths.
type MockRepository struct {
	deposits map[string]*Deposit
	sales    map[string]*Sale
	links    []MatchLink
	history  []HistoryEntry

	// Hooks for test assertions
	SaveDepositCalled  bool
	SaveSaleCalled     bool
	LastSavedDeposit   *Deposit
	LastSavedSale      *Sale
	SettleSaleCalled   bool
	SettleDepositCalls int

	// Error injection for testing error paths
	SaveDepositErr   error
	SaveSaleErr      error
	SettleSaleErr    error
	SettleDepositErr error
}

// NewMockRepository creates a new mock repository for testing
func NewMockRepository() *MockRepository {
	return &MockRepository{
		deposits: make(map[string]*Deposit),
		sales:    make(map[string]*Sale),
	}
}

// Compile-time check that MockRepository implements Repository
var _ Repository = (*MockRepository)(nil)

// Close does nothing for mock
func (m *MockRepository) Close() error {
	return nil
}

// SaveDeposit saves a deposit to the in-memory map
func (m *MockRepository) SaveDeposit(dep *Deposit) error {
	m.SaveDepositCalled = true
	m.LastSavedDeposit = dep
	if m.SaveDepositErr != nil {
		return m.SaveDepositErr
	}
	// Deep copy to avoid test mutations
	copied := *dep
	m.deposits[dep.ID] = &copied
	return nil
}

// GetDeposit retrieves a deposit from the in-memory map
func (m *MockRepository) GetDeposit(id string) (*Deposit, error) {
	dep, ok := m.deposits[id]
	if !ok {
		return nil, nil
	}
	copied := *dep
	return &copied, nil
}

// ListDeposits returns deposits matching the filters, newest first
func (m *MockRepository) ListDeposits(f RecordFilters) ([]*Deposit, error) {
	var matching []*Deposit
	for _, d := range m.deposits {
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		if f.BankKey != "" && d.BankKey != f.BankKey {
			continue
		}
		copied := *d
		matching = append(matching, &copied)
	}
	sort.Slice(matching, func(i, j int) bool {
		return matching[i].TransactionDate.After(matching[j].TransactionDate)
	})
	return paginate(matching, f.Limit, f.Offset), nil
}

// SetDepositCandidates replaces a deposit's suggestion list
func (m *MockRepository) SetDepositCandidates(id string, saleIDs []string) error {
	dep, ok := m.deposits[id]
	if !ok {
		return reconcile.ErrNotFound
	}
	dep.CandidateSaleIDs = append([]string(nil), saleIDs...)
	return nil
}

// SaveSale saves a sale to the in-memory map
func (m *MockRepository) SaveSale(sale *Sale) error {
	m.SaveSaleCalled = true
	m.LastSavedSale = sale
	if m.SaveSaleErr != nil {
		return m.SaveSaleErr
	}
	copied := *sale
	m.sales[sale.ID] = &copied
	return nil
}

// GetSale retrieves a sale from the in-memory map
func (m *MockRepository) GetSale(id string) (*Sale, error) {
	sale, ok := m.sales[id]
	if !ok {
		return nil, nil
	}
	copied := *sale
	return &copied, nil
}

// ListSales returns sales matching the filters, newest first
func (m *MockRepository) ListSales(f RecordFilters) ([]*Sale, error) {
	var matching []*Sale
	for _, s := range m.sales {
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		if f.BankKey != "" && s.BankKey != f.BankKey {
			continue
		}
		copied := *s
		matching = append(matching, &copied)
	}
	sort.Slice(matching, func(i, j int) bool {
		return matching[i].SaleDate.After(matching[j].SaleDate)
	})
	return paginate(matching, f.Limit, f.Offset), nil
}

// SetSaleCandidates replaces a sale's suggestion list
func (m *MockRepository) SetSaleCandidates(id string, depositIDs []string) error {
	sale, ok := m.sales[id]
	if !ok {
		return reconcile.ErrNotFound
	}
	sale.CandidateDepositIDs = append([]string(nil), depositIDs...)
	return nil
}

// AnnotateSaleCandidate appends one suggestion to a still-open sale
func (m *MockRepository) AnnotateSaleCandidate(saleID, depositID string, maxCandidates int) error {
	sale, ok := m.sales[saleID]
	if !ok {
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
	sale.CandidateDepositIDs = append(sale.CandidateDepositIDs, depositID)
	if maxCandidates > 0 && len(sale.CandidateDepositIDs) > maxCandidates {
		sale.CandidateDepositIDs = sale.CandidateDepositIDs[len(sale.CandidateDepositIDs)-maxCandidates:]
	}
	sale.Status = reconcile.StatusPendingReview
	return nil
}

// RemoveSaleCandidate drops one suggestion from a sale
func (m *MockRepository) RemoveSaleCandidate(saleID, depositID string) error {
	sale, ok := m.sales[saleID]
	if !ok {
		return reconcile.ErrNotFound
	}
	kept := make([]string, 0, len(sale.CandidateDepositIDs))
	for _, id := range sale.CandidateDepositIDs {
		if id != depositID {
			kept = append(kept, id)
		}
	}
	sale.CandidateDepositIDs = kept
	return nil
}

// SaleCandidatesForDeposit returns open sales within the date window
func (m *MockRepository) SaleCandidatesForDeposit(dep *Deposit, dayWindow int) ([]*Sale, error) {
	from, to := dateWindow(dep.TransactionDate, dayWindow)
	var result []*Sale
	for _, s := range m.sales {
		if !reconcile.SaleOpen(s.Status) {
			continue
		}
		if s.SaleDate.Before(from) || s.SaleDate.After(to) {
			continue
		}
		copied := *s
		result = append(result, &copied)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].SaleDate.After(result[j].SaleDate)
	})
	return result, nil
}

// DepositCandidatesForSale returns open deposits within the date window
func (m *MockRepository) DepositCandidatesForSale(sale *Sale, dayWindow int) ([]*Deposit, error) {
	from, to := dateWindow(sale.SaleDate, dayWindow)
	var result []*Deposit
	for _, d := range m.deposits {
		if !reconcile.DepositOpen(d.Status) {
			continue
		}
		if d.TransactionDate.Before(from) || d.TransactionDate.After(to) {
			continue
		}
		copied := *d
		result = append(result, &copied)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].TransactionDate.After(result[j].TransactionDate)
	})
	return result, nil
}

// LinksForDeposit returns the deposit's side of the ledger
func (m *MockRepository) LinksForDeposit(depositID string) ([]MatchLink, error) {
	var result []MatchLink
	for _, l := range m.links {
		if l.DepositID == depositID {
			result = append(result, l)
		}
	}
	return result, nil
}

// LinksForSale returns the sale's side of the ledger
func (m *MockRepository) LinksForSale(saleID string) ([]MatchLink, error) {
	var result []MatchLink
	for _, l := range m.links {
		if l.SaleID == saleID {
			result = append(result, l)
		}
	}
	return result, nil
}

// AppendHistory writes one standalone audit entry
func (m *MockRepository) AppendHistory(e HistoryEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Actor == "" {
		e.Actor = SystemActor
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	m.history = append(m.history, e)
	return nil
}

// HistoryFor returns a record's audit log in insertion order
func (m *MockRepository) HistoryFor(recordType, recordID string) ([]HistoryEntry, error) {
	var result []HistoryEntry
	for _, e := range m.history {
		if e.RecordType == recordType && e.RecordID == recordID {
			result = append(result, e)
		}
	}
	return result, nil
}

// SettleSale consumes deposit balances into a sale, with the same
// clamp and skip discipline as the sqlite transactor
func (m *MockRepository) SettleSale(_ context.Context, saleID string, picks []Pick, opts SettleOptions) (*SettleResult, error) {
	m.SettleSaleCalled = true
	if m.SettleSaleErr != nil {
		return nil, m.SettleSaleErr
	}

	sale, ok := m.sales[saleID]
	if !ok {
		return nil, fmt.Errorf("%w: sale %s", reconcile.ErrNotFound, saleID)
	}

	now := time.Now().UTC()
	remaining := reconcile.Remaining(sale.GrossPayments, sale.MatchedTotal)
	var applied []AppliedUse

	for _, p := range picks {
		if remaining <= reconcile.Epsilon {
			break
		}
		dep, ok := m.deposits[p.CounterpartyID]
		if !ok || reconcile.IsTerminal(dep.Status) {
			continue
		}
		depRem := reconcile.Remaining(dep.Amount, dep.MatchedTotal)
		use := clampUse(p.UseAmount, depRem, remaining)
		if use <= reconcile.Epsilon {
			continue
		}

		dep.MatchedTotal = reconcile.Round2(dep.MatchedTotal + use)
		dep.RemainingAmount = reconcile.Remaining(dep.Amount, dep.MatchedTotal)
		dep.Status = reconcile.DepositStatusAfter(dep.RemainingAmount, dep.MatchedTotal,
			dep.Status == reconcile.StatusReserved, opts.Manual)
		if dep.VendorName == "" {
			dep.VendorName = sale.StaffMemberName
		}
		if dep.StoreName == "" {
			dep.StoreName = sale.StoreName
		}
		if dep.RemainingAmount <= reconcile.Epsilon && dep.SettledAt == nil {
			t := now
			dep.SettledAt = &t
		}

		linkID := m.addLink(dep.ID, sale.ID, use, now)
		m.addHistory(RecordDeposit, dep.ID, settleAction(opts.Manual), sale.ID, use, opts, now)

		sale.MatchedTotal = reconcile.Round2(sale.MatchedTotal + use)
		remaining = reconcile.Remaining(sale.GrossPayments, sale.MatchedTotal)
		applied = append(applied, AppliedUse{LinkID: linkID, CounterpartyID: dep.ID, Amount: use})
	}

	if len(applied) > 0 {
		sale.RemainingAmount = remaining
		sale.Status = reconcile.SaleStatusAfter(remaining, sale.MatchedTotal, opts.Manual)
		sale.CandidateDepositIDs = []string{}
		if remaining <= reconcile.Epsilon && sale.SettledAt == nil {
			t := now
			sale.SettledAt = &t
		}
		for _, a := range applied {
			m.addHistory(RecordSale, sale.ID, settleAction(opts.Manual), a.CounterpartyID, a.Amount, opts, now)
		}
	}

	return &SettleResult{
		Applied:         applied,
		TargetStatus:    sale.Status,
		TargetMatched:   sale.MatchedTotal,
		TargetRemaining: remaining,
	}, nil
}

// SettleDeposit consumes sale balances into a deposit
func (m *MockRepository) SettleDeposit(_ context.Context, depositID string, picks []Pick, opts SettleOptions) (*SettleResult, error) {
	m.SettleDepositCalls++
	if m.SettleDepositErr != nil {
		return nil, m.SettleDepositErr
	}

	dep, ok := m.deposits[depositID]
	if !ok {
		return nil, fmt.Errorf("%w: deposit %s", reconcile.ErrNotFound, depositID)
	}
	if reconcile.IsTerminal(dep.Status) {
		return nil, fmt.Errorf("%w: deposit %s is %s",
			reconcile.ErrPreconditionFailed, depositID, dep.Status)
	}

	now := time.Now().UTC()
	remaining := reconcile.Remaining(dep.Amount, dep.MatchedTotal)
	var applied []AppliedUse

	for _, p := range picks {
		if remaining <= reconcile.Epsilon {
			break
		}
		sale, ok := m.sales[p.CounterpartyID]
		if !ok {
			continue
		}
		saleRem := reconcile.Remaining(sale.GrossPayments, sale.MatchedTotal)
		use := clampUse(p.UseAmount, saleRem, remaining)
		if use <= reconcile.Epsilon {
			continue
		}

		sale.MatchedTotal = reconcile.Round2(sale.MatchedTotal + use)
		sale.RemainingAmount = reconcile.Remaining(sale.GrossPayments, sale.MatchedTotal)
		sale.Status = reconcile.SaleStatusAfter(sale.RemainingAmount, sale.MatchedTotal, opts.Manual)
		sale.CandidateDepositIDs = []string{}
		if sale.RemainingAmount <= reconcile.Epsilon && sale.SettledAt == nil {
			t := now
			sale.SettledAt = &t
		}

		linkID := m.addLink(dep.ID, sale.ID, use, now)
		m.addHistory(RecordSale, sale.ID, settleAction(opts.Manual), dep.ID, use, opts, now)

		if dep.VendorName == "" {
			dep.VendorName = sale.StaffMemberName
		}
		if dep.StoreName == "" {
			dep.StoreName = sale.StoreName
		}

		dep.MatchedTotal = reconcile.Round2(dep.MatchedTotal + use)
		remaining = reconcile.Remaining(dep.Amount, dep.MatchedTotal)
		applied = append(applied, AppliedUse{LinkID: linkID, CounterpartyID: sale.ID, Amount: use})
	}

	if len(applied) > 0 {
		dep.RemainingAmount = remaining
		dep.Status = reconcile.DepositStatusAfter(remaining, dep.MatchedTotal,
			dep.Status == reconcile.StatusReserved, opts.Manual)
		dep.CandidateSaleIDs = []string{}
		if remaining <= reconcile.Epsilon && dep.SettledAt == nil {
			t := now
			dep.SettledAt = &t
		}
		for _, a := range applied {
			m.addHistory(RecordDeposit, dep.ID, settleAction(opts.Manual), a.CounterpartyID, a.Amount, opts, now)
		}
	}

	return &SettleResult{
		Applied:         applied,
		TargetStatus:    dep.Status,
		TargetMatched:   dep.MatchedTotal,
		TargetRemaining: remaining,
	}, nil
}

// RevertDeposit undoes every link of a terminal or partial deposit
func (m *MockRepository) RevertDeposit(_ context.Context, depositID, reason, actor string) error {
	dep, ok := m.deposits[depositID]
	if !ok {
		return fmt.Errorf("%w: deposit %s", reconcile.ErrNotFound, depositID)
	}
	if !reconcile.IsTerminal(dep.Status) && dep.Status != reconcile.StatusPartial {
		return fmt.Errorf("%w: deposit %s is %s, not terminal or partial",
			reconcile.ErrPreconditionFailed, depositID, dep.Status)
	}

	now := time.Now().UTC()
	opts := SettleOptions{Actor: actor, Comment: reason}

	kept := m.links[:0]
	for _, link := range m.links {
		if link.DepositID != depositID {
			kept = append(kept, link)
			continue
		}
		if sale, ok := m.sales[link.SaleID]; ok {
			sale.MatchedTotal = reconcile.Round2(sale.MatchedTotal - link.Amount)
			if sale.MatchedTotal < 0 {
				sale.MatchedTotal = 0
			}
			sale.RemainingAmount = reconcile.Remaining(sale.GrossPayments, sale.MatchedTotal)
			if sale.RemainingAmount > reconcile.Epsilon {
				sale.Status = reconcile.StatusPendingReview
				sale.SettledAt = nil
			}
			m.addHistory(RecordSale, sale.ID, ActionRevertMatch, depositID, link.Amount, opts, now)
		}
	}
	m.links = kept

	dep.Status = reconcile.StatusOpen
	dep.MatchedTotal = 0
	dep.RemainingAmount = reconcile.Round2(dep.Amount)
	dep.VendorName = ""
	dep.StoreName = ""
	dep.CandidateSaleIDs = []string{}
	dep.SettledAt = nil
	m.addHistory(RecordDeposit, depositID, ActionRevert, "", 0, opts, now)
	return nil
}

// RefundDeposit marks a non-terminal deposit refunded
func (m *MockRepository) RefundDeposit(_ context.Context, depositID, comment, actor string) error {
	dep, ok := m.deposits[depositID]
	if !ok {
		return fmt.Errorf("%w: deposit %s", reconcile.ErrNotFound, depositID)
	}
	if reconcile.IsTerminal(dep.Status) {
		return fmt.Errorf("%w: deposit %s already %s",
			reconcile.ErrPreconditionFailed, depositID, dep.Status)
	}

	now := time.Now().UTC()
	dep.Status = reconcile.StatusRefunded
	dep.SettledAt = &now
	m.addHistory(RecordDeposit, depositID, ActionRefund, "", 0,
		SettleOptions{Actor: actor, Comment: comment}, now)
	return nil
}

func (m *MockRepository) addLink(depositID, saleID string, amount float64, now time.Time) string {
	id := uuid.NewString()
	m.links = append(m.links, MatchLink{
		ID:        id,
		DepositID: depositID,
		SaleID:    saleID,
		Amount:    amount,
		CreatedAt: now,
	})
	return id
}

func (m *MockRepository) addHistory(recordType, recordID, action, counterpartyID string, amount float64, opts SettleOptions, now time.Time) {
	m.history = append(m.history, HistoryEntry{
		ID:             uuid.NewString(),
		RecordType:     recordType,
		RecordID:       recordID,
		Action:         action,
		CounterpartyID: counterpartyID,
		Amount:         amount,
		Details:        opts.Comment,
		Actor:          actorOrSystem(opts.Actor),
		CreatedAt:      now,
	})
}

// Helper methods for test setup

// AddDeposit adds a deposit directly (for test setup)
func (m *MockRepository) AddDeposit(dep *Deposit) {
	m.deposits[dep.ID] = dep
}

// AddSale adds a sale directly (for test setup)
func (m *MockRepository) AddSale(sale *Sale) {
	m.sales[sale.ID] = sale
}

// AllLinks returns every link in the ledger (for assertions)
func (m *MockRepository) AllLinks() []MatchLink {
	return append([]MatchLink(nil), m.links...)
}

// Reset clears all data and flags (for reuse between tests)
func (m *MockRepository) Reset() {
	m.deposits = make(map[string]*Deposit)
	m.sales = make(map[string]*Sale)
	m.links = nil
	m.history = nil
	m.SaveDepositCalled = false
	m.SaveSaleCalled = false
	m.LastSavedDeposit = nil
	m.LastSavedSale = nil
	m.SettleSaleCalled = false
	m.SettleDepositCalls = 0
	m.SaveDepositErr = nil
	m.SaveSaleErr = nil
	m.SettleSaleErr = nil
	m.SettleDepositErr = nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if limit <= 0 {
		limit = 50
	}
	if offset > len(items) {
		offset = len(items)
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
