package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmorazan/reconcile-backend/internal/domain/reconcile"
)

func createTempDB(t *testing.T) string {
	tmpFile, err := os.CreateTemp("", "test_*.db")
	require.NoError(t, err)
	tmpFile.Close()
	return tmpFile.Name()
}

func openTestStorage(t *testing.T) *Storage {
	tmpDB := createTempDB(t)
	t.Cleanup(func() { os.Remove(tmpDB) })

	store, err := NewStorage(tmpDB)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStorage_SaveAndGetDeposit(t *testing.T) {
	store := openTestStorage(t)

	date := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)
	dep := &Deposit{
		ID:              "dep-1",
		Amount:          500.00,
		RemainingAmount: 500.00,
		Bank:            "BAC CREDOMATIC",
		BankKey:         "BAC",
		TransactionDate: date,
		VendorName:      "Maria",
		StoreName:       "Centro",
		Status:          reconcile.StatusOpen,
	}

	err := store.SaveDeposit(dep)
	require.NoError(t, err)

	retrieved, err := store.GetDeposit("dep-1")
	require.NoError(t, err)
	require.NotNil(t, retrieved)

	assert.Equal(t, "dep-1", retrieved.ID)
	assert.Equal(t, 500.00, retrieved.Amount)
	assert.Equal(t, 0.0, retrieved.MatchedTotal)
	assert.Equal(t, 500.00, retrieved.RemainingAmount)
	assert.Equal(t, "BAC", retrieved.BankKey)
	assert.Equal(t, "Maria", retrieved.VendorName)
	assert.Equal(t, reconcile.StatusOpen, retrieved.Status)
	assert.True(t, retrieved.TransactionDate.Equal(date))
	assert.Nil(t, retrieved.SettledAt)
	assert.Empty(t, retrieved.CandidateSaleIDs)
	assert.False(t, retrieved.CreatedAt.IsZero())
}

func TestStorage_GetDeposit_NotFound(t *testing.T) {
	store := openTestStorage(t)

	dep, err := store.GetDeposit("missing")
	require.NoError(t, err)
	assert.Nil(t, dep)
}

func TestStorage_SaveAndGetSale(t *testing.T) {
	store := openTestStorage(t)

	date := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	sale := &Sale{
		ID:              "sale-1",
		OrderID:         "ORD-77",
		GrossPayments:   350.50,
		RemainingAmount: 350.50,
		PaymentGateway:  "Deposito BAC",
		BankKey:         "BAC",
		SaleDate:        date,
		StaffMemberName: "Maria",
		StoreName:       "Centro",
		Status:          reconcile.StatusPending,
	}

	require.NoError(t, store.SaveSale(sale))

	retrieved, err := store.GetSale("sale-1")
	require.NoError(t, err)
	require.NotNil(t, retrieved)

	assert.Equal(t, "ORD-77", retrieved.OrderID)
	assert.Equal(t, 350.50, retrieved.GrossPayments)
	assert.Equal(t, "BAC", retrieved.BankKey)
	assert.Equal(t, reconcile.StatusPending, retrieved.Status)
	assert.Empty(t, retrieved.CandidateDepositIDs)
}

func TestStorage_ListDeposits_Filters(t *testing.T) {
	store := openTestStorage(t)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	deposits := []*Deposit{
		{ID: "d1", Amount: 100, RemainingAmount: 100, BankKey: "BAC", TransactionDate: base, Status: reconcile.StatusOpen},
		{ID: "d2", Amount: 200, RemainingAmount: 200, BankKey: "FICOHSA", TransactionDate: base.AddDate(0, 0, 1), Status: reconcile.StatusOpen},
		{ID: "d3", Amount: 300, BankKey: "BAC", TransactionDate: base.AddDate(0, 0, 2), Status: reconcile.StatusSettled},
	}
	for _, d := range deposits {
		require.NoError(t, store.SaveDeposit(d))
	}

	all, err := store.ListDeposits(RecordFilters{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Newest first
	assert.Equal(t, "d3", all[0].ID)
	assert.Equal(t, "d1", all[2].ID)

	bac, err := store.ListDeposits(RecordFilters{BankKey: "BAC"})
	require.NoError(t, err)
	require.Len(t, bac, 2)

	open, err := store.ListDeposits(RecordFilters{Status: reconcile.StatusOpen, BankKey: "BAC"})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "d1", open[0].ID)

	paged, err := store.ListDeposits(RecordFilters{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, "d2", paged[0].ID)
}

func TestStorage_SetCandidates(t *testing.T) {
	store := openTestStorage(t)

	dep := &Deposit{ID: "d1", Amount: 100, RemainingAmount: 100, TransactionDate: time.Now(), Status: reconcile.StatusOpen}
	require.NoError(t, store.SaveDeposit(dep))

	require.NoError(t, store.SetDepositCandidates("d1", []string{"s1", "s2"}))

	retrieved, err := store.GetDeposit("d1")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, retrieved.CandidateSaleIDs)

	err = store.SetDepositCandidates("missing", []string{"s1"})
	assert.ErrorIs(t, err, reconcile.ErrNotFound)
}

func TestStorage_AnnotateSaleCandidate(t *testing.T) {
	store := openTestStorage(t)

	sale := &Sale{ID: "s1", GrossPayments: 100, RemainingAmount: 100, SaleDate: time.Now(), Status: reconcile.StatusPending}
	require.NoError(t, store.SaveSale(sale))

	require.NoError(t, store.AnnotateSaleCandidate("s1", "d1", 10))
	require.NoError(t, store.AnnotateSaleCandidate("s1", "d1", 10)) // duplicate is a no-op
	require.NoError(t, store.AnnotateSaleCandidate("s1", "d2", 10))

	retrieved, err := store.GetSale("s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"d1", "d2"}, retrieved.CandidateDepositIDs)
	assert.Equal(t, reconcile.StatusPendingReview, retrieved.Status)
}

func TestStorage_AnnotateSaleCandidate_BoundedList(t *testing.T) {
	store := openTestStorage(t)

	sale := &Sale{ID: "s1", GrossPayments: 100, RemainingAmount: 100, SaleDate: time.Now(), Status: reconcile.StatusPending}
	require.NoError(t, store.SaveSale(sale))

	require.NoError(t, store.AnnotateSaleCandidate("s1", "d1", 2))
	require.NoError(t, store.AnnotateSaleCandidate("s1", "d2", 2))
	require.NoError(t, store.AnnotateSaleCandidate("s1", "d3", 2))

	retrieved, err := store.GetSale("s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"d2", "d3"}, retrieved.CandidateDepositIDs)
}

func TestStorage_AnnotateSaleCandidate_SettledSaleUntouched(t *testing.T) {
	store := openTestStorage(t)

	sale := &Sale{ID: "s1", GrossPayments: 100, MatchedTotal: 100, SaleDate: time.Now(), Status: reconcile.StatusSettled}
	require.NoError(t, store.SaveSale(sale))

	require.NoError(t, store.AnnotateSaleCandidate("s1", "d1", 10))

	retrieved, err := store.GetSale("s1")
	require.NoError(t, err)
	assert.Empty(t, retrieved.CandidateDepositIDs)
	assert.Equal(t, reconcile.StatusSettled, retrieved.Status)
}

func TestStorage_RemoveSaleCandidate(t *testing.T) {
	store := openTestStorage(t)

	sale := &Sale{
		ID: "s1", GrossPayments: 100, RemainingAmount: 100, SaleDate: time.Now(),
		Status: reconcile.StatusPendingReview, CandidateDepositIDs: []string{"d1", "d2"},
	}
	require.NoError(t, store.SaveSale(sale))

	require.NoError(t, store.RemoveSaleCandidate("s1", "d1"))

	retrieved, err := store.GetSale("s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"d2"}, retrieved.CandidateDepositIDs)
	assert.Equal(t, reconcile.StatusPendingReview, retrieved.Status)
}

func TestStorage_CandidateWindows(t *testing.T) {
	store := openTestStorage(t)

	depDate := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	dep := &Deposit{ID: "d1", Amount: 100, RemainingAmount: 100, TransactionDate: depDate, Status: reconcile.StatusOpen}
	require.NoError(t, store.SaveDeposit(dep))

	sales := []*Sale{
		{ID: "same-day", GrossPayments: 100, RemainingAmount: 100, SaleDate: depDate.Add(-6 * time.Hour), Status: reconcile.StatusPending},
		{ID: "day-before", GrossPayments: 100, RemainingAmount: 100, SaleDate: depDate.AddDate(0, 0, -1), Status: reconcile.StatusPending},
		{ID: "day-after-late", GrossPayments: 100, RemainingAmount: 100, SaleDate: time.Date(2026, 3, 11, 23, 59, 0, 0, time.UTC), Status: reconcile.StatusPendingReview},
		{ID: "too-old", GrossPayments: 100, RemainingAmount: 100, SaleDate: depDate.AddDate(0, 0, -3), Status: reconcile.StatusPending},
		{ID: "settled", GrossPayments: 100, MatchedTotal: 100, SaleDate: depDate, Status: reconcile.StatusSettled},
	}
	for _, s := range sales {
		require.NoError(t, store.SaveSale(s))
	}

	candidates, err := store.SaleCandidatesForDeposit(dep, 1)
	require.NoError(t, err)

	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.ID)
	}
	assert.ElementsMatch(t, []string{"same-day", "day-before", "day-after-late"}, ids)
}

func TestStorage_DepositCandidatesForSale_OpenStatusesOnly(t *testing.T) {
	store := openTestStorage(t)

	saleDate := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	sale := &Sale{ID: "s1", GrossPayments: 100, RemainingAmount: 100, SaleDate: saleDate, Status: reconcile.StatusPending}
	require.NoError(t, store.SaveSale(sale))

	deposits := []*Deposit{
		{ID: "open", Amount: 100, RemainingAmount: 100, TransactionDate: saleDate, Status: reconcile.StatusOpen},
		{ID: "reserved", Amount: 100, RemainingAmount: 100, TransactionDate: saleDate, Status: reconcile.StatusReserved},
		{ID: "partial", Amount: 100, MatchedTotal: 40, RemainingAmount: 60, TransactionDate: saleDate, Status: reconcile.StatusPartial},
		{ID: "settled", Amount: 100, MatchedTotal: 100, TransactionDate: saleDate, Status: reconcile.StatusSettled},
		{ID: "refunded", Amount: 100, RemainingAmount: 100, TransactionDate: saleDate, Status: reconcile.StatusRefunded},
	}
	for _, d := range deposits {
		require.NoError(t, store.SaveDeposit(d))
	}

	candidates, err := store.DepositCandidatesForSale(sale, 1)
	require.NoError(t, err)

	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.ID)
	}
	assert.ElementsMatch(t, []string{"open", "reserved", "partial"}, ids)
}

func TestStorage_HistoryFor_InsertionOrder(t *testing.T) {
	store := openTestStorage(t)

	dep := &Deposit{ID: "d1", Amount: 100, RemainingAmount: 100, TransactionDate: time.Now(), Status: reconcile.StatusOpen}
	sale := &Sale{ID: "s1", GrossPayments: 60, RemainingAmount: 60, SaleDate: time.Now(), Status: reconcile.StatusPending}
	require.NoError(t, store.SaveDeposit(dep))
	require.NoError(t, store.SaveSale(sale))

	_, err := store.SettleDeposit(context.Background(), "d1", []Pick{{CounterpartyID: "s1"}}, SettleOptions{Manual: true, Actor: "ana"})
	require.NoError(t, err)

	entries, err := store.HistoryFor(RecordDeposit, "d1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ActionManualMatch, entries[0].Action)
	assert.Equal(t, "s1", entries[0].CounterpartyID)
	assert.Equal(t, 60.0, entries[0].Amount)
	assert.Equal(t, "ana", entries[0].Actor)
}
