package recon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmorazan/reconcile-backend/internal/domain/reconcile"
	"github.com/jmorazan/reconcile-backend/internal/infrastructure/storage"
)

var testDay = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestEngine() (*Engine, *storage.MockRepository) {
	repo := storage.NewMockRepository()
	return NewEngine(repo, reconcile.DefaultConfig(), nil), repo
}

func openDeposit(id string, amount float64) *storage.Deposit {
	return &storage.Deposit{
		ID:              id,
		Amount:          amount,
		RemainingAmount: amount,
		Bank:            "BAC CREDOMATIC",
		BankKey:         "BAC",
		TransactionDate: testDay,
		Status:          reconcile.StatusOpen,
	}
}

func pendingSale(id string, gross float64) *storage.Sale {
	return &storage.Sale{
		ID:              id,
		GrossPayments:   gross,
		RemainingAmount: gross,
		PaymentGateway:  "Deposito BAC",
		BankKey:         "BAC",
		SaleDate:        testDay.Add(-3 * time.Hour),
		Status:          reconcile.StatusPending,
	}
}

func TestOnSaleCreated_SingleExactMatch(t *testing.T) {
	engine, repo := newTestEngine()
	repo.AddDeposit(openDeposit("d1", 1000))

	sale := pendingSale("s1", 1000)
	require.NoError(t, engine.OnSaleCreated(context.Background(), sale))

	got, err := repo.GetSale("s1")
	require.NoError(t, err)
	assert.Equal(t, reconcile.StatusAutoSettled, got.Status)
	assert.Equal(t, 1000.0, got.MatchedTotal)

	dep, err := repo.GetDeposit("d1")
	require.NoError(t, err)
	assert.Equal(t, reconcile.StatusAutoSettled, dep.Status)

	links, err := repo.LinksForSale("s1")
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, 1000.0, links[0].Amount)
}

func TestOnSaleCreated_GreedyMultiMatch(t *testing.T) {
	engine, repo := newTestEngine()

	// Vendor and store agreement lift each pick above the multi bar.
	for id, amount := range map[string]float64{"d1": 300, "d2": 200} {
		dep := openDeposit(id, amount)
		dep.VendorName = "Maria"
		dep.StoreName = "Centro"
		repo.AddDeposit(dep)
	}

	sale := pendingSale("s1", 500)
	sale.StaffMemberName = "Maria"
	sale.StoreName = "Centro"
	require.NoError(t, engine.OnSaleCreated(context.Background(), sale))

	got, err := repo.GetSale("s1")
	require.NoError(t, err)
	assert.Equal(t, reconcile.StatusAutoSettled, got.Status)

	links, err := repo.LinksForSale("s1")
	require.NoError(t, err)
	require.Len(t, links, 2)
	var sum float64
	for _, l := range links {
		sum += l.Amount
	}
	assert.InDelta(t, 500.0, sum, 0.001)
}

func TestOnSaleCreated_WeakCombination_Parked(t *testing.T) {
	engine, repo := newTestEngine()

	// Same bank and day but no party signal: greedy average stays
	// below the multi threshold.
	repo.AddDeposit(openDeposit("d1", 300))
	repo.AddDeposit(openDeposit("d2", 200))

	sale := pendingSale("s1", 500)
	require.NoError(t, engine.OnSaleCreated(context.Background(), sale))

	got, err := repo.GetSale("s1")
	require.NoError(t, err)
	assert.Equal(t, reconcile.StatusPendingReview, got.Status)
	assert.Equal(t, 0.0, got.MatchedTotal)
	assert.ElementsMatch(t, []string{"d1", "d2"}, got.CandidateDepositIDs)

	// Deposits keep their full balances.
	for _, id := range []string{"d1", "d2"} {
		dep, err := repo.GetDeposit(id)
		require.NoError(t, err)
		assert.Equal(t, reconcile.StatusOpen, dep.Status, id)
	}

	entries, err := repo.HistoryFor(storage.RecordSale, "s1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, storage.ActionParked, entries[0].Action)
}

func TestOnSaleCreated_ReservedMismatch_Parked(t *testing.T) {
	engine, repo := newTestEngine()

	dep := openDeposit("d1", 480)
	dep.Status = reconcile.StatusReserved
	dep.VendorName = "Carlos"
	repo.AddDeposit(dep)

	sale := pendingSale("s1", 500)
	sale.StaffMemberName = "Maria"
	require.NoError(t, engine.OnSaleCreated(context.Background(), sale))

	got, err := repo.GetSale("s1")
	require.NoError(t, err)
	assert.Equal(t, reconcile.StatusPendingReview, got.Status)

	// The reserved deposit keeps its reservation untouched.
	kept, err := repo.GetDeposit("d1")
	require.NoError(t, err)
	assert.Equal(t, reconcile.StatusReserved, kept.Status)
	assert.Equal(t, 0.0, kept.MatchedTotal)
}

func TestOnSaleCreated_NoCandidates_StaysPending(t *testing.T) {
	engine, repo := newTestEngine()

	sale := pendingSale("s1", 500)
	require.NoError(t, engine.OnSaleCreated(context.Background(), sale))

	// Nothing to review yet, so the sale is not flagged for review.
	got, err := repo.GetSale("s1")
	require.NoError(t, err)
	assert.Equal(t, reconcile.StatusPending, got.Status)
	assert.Empty(t, got.CandidateDepositIDs)

	history, err := repo.HistoryFor(storage.RecordSale, "s1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestOnSaleCreated_InitializesDerivedFields(t *testing.T) {
	engine, repo := newTestEngine()

	sale := &storage.Sale{
		ID:             "s1",
		GrossPayments:  250,
		PaymentGateway: "deposito ficohsa",
		SaleDate:       testDay,
		// Caller-supplied balances are never trusted.
		MatchedTotal: 99,
	}
	require.NoError(t, engine.OnSaleCreated(context.Background(), sale))

	got, err := repo.GetSale("s1")
	require.NoError(t, err)
	assert.Equal(t, "FICOHSA", got.BankKey)
	assert.Equal(t, 0.0, got.MatchedTotal)
	assert.Equal(t, 250.0, got.RemainingAmount)
}

func TestOnSaleCreated_InvalidArgument(t *testing.T) {
	engine, _ := newTestEngine()

	err := engine.OnSaleCreated(context.Background(), &storage.Sale{ID: "", GrossPayments: 100})
	assert.ErrorIs(t, err, reconcile.ErrInvalidArgument)

	err = engine.OnSaleCreated(context.Background(), &storage.Sale{ID: "s1", GrossPayments: 0})
	assert.ErrorIs(t, err, reconcile.ErrInvalidArgument)
}

func TestOnDepositCreated_SingleExactMatch(t *testing.T) {
	engine, repo := newTestEngine()
	repo.AddSale(pendingSale("s1", 1000))

	dep := openDeposit("d1", 1000)
	require.NoError(t, engine.OnDepositCreated(context.Background(), dep))

	got, err := repo.GetDeposit("d1")
	require.NoError(t, err)
	assert.Equal(t, reconcile.StatusAutoSettled, got.Status)

	sale, err := repo.GetSale("s1")
	require.NoError(t, err)
	assert.Equal(t, reconcile.StatusAutoSettled, sale.Status)
	assert.Equal(t, 1, repo.SettleDepositCalls)
}

func TestOnDepositCreated_PartialAssist(t *testing.T) {
	engine, repo := newTestEngine()

	// Larger deposit, strong pairing via vendor: the deposit gives the
	// sale what it needs and keeps the rest.
	sale := pendingSale("s1", 500)
	sale.StaffMemberName = "Maria"
	repo.AddSale(sale)

	dep := openDeposit("d1", 800)
	dep.VendorName = "Maria"
	require.NoError(t, engine.OnDepositCreated(context.Background(), dep))

	got, err := repo.GetDeposit("d1")
	require.NoError(t, err)
	assert.Equal(t, reconcile.StatusPartial, got.Status)
	assert.Equal(t, 500.0, got.MatchedTotal)
	assert.Equal(t, 300.0, got.RemainingAmount)

	settled, err := repo.GetSale("s1")
	require.NoError(t, err)
	assert.Equal(t, reconcile.StatusAutoSettled, settled.Status)
}

func TestOnDepositCreated_Parked_FlagsCandidateSales(t *testing.T) {
	engine, repo := newTestEngine()

	repo.AddSale(pendingSale("s1", 500))

	// Bank and date agree but the amount is off and weak overall.
	dep := openDeposit("d1", 480)
	dep.Bank = "HSBC"
	dep.BankKey = ""
	require.NoError(t, engine.OnDepositCreated(context.Background(), dep))

	got, err := repo.GetDeposit("d1")
	require.NoError(t, err)
	assert.Equal(t, reconcile.StatusOpen, got.Status)
	assert.Equal(t, []string{"s1"}, got.CandidateSaleIDs)

	// The candidate sale is flagged for review with the deposit
	// appended, as the fan-out requires.
	sale, err := repo.GetSale("s1")
	require.NoError(t, err)
	assert.Equal(t, reconcile.StatusPendingReview, sale.Status)
	assert.Equal(t, []string{"d1"}, sale.CandidateDepositIDs)
}

func TestManualSettleSale_BypassesThresholds(t *testing.T) {
	engine, repo := newTestEngine()

	// Different bank, far date: automatic matching would never touch
	// this pair.
	dep := openDeposit("d1", 480)
	dep.Bank = "HSBC"
	dep.BankKey = "HSBC"
	repo.AddDeposit(dep)

	sale := pendingSale("s1", 500)
	sale.Status = reconcile.StatusPendingReview
	repo.AddSale(sale)

	result, err := engine.ManualSettleSale(context.Background(), "s1",
		[]PickInput{{CounterpartyID: "d1"}}, "ana", "verified by hand")
	require.NoError(t, err)
	require.Len(t, result.Applied, 1)
	assert.Equal(t, 480.0, result.Applied[0].Amount)
	assert.Equal(t, reconcile.StatusPartial, result.TargetStatus)
}

func TestManualSettleSale_Validation(t *testing.T) {
	engine, _ := newTestEngine()
	ctx := context.Background()

	_, err := engine.ManualSettleSale(ctx, "", []PickInput{{CounterpartyID: "d1"}}, "", "")
	assert.ErrorIs(t, err, reconcile.ErrInvalidArgument)

	_, err = engine.ManualSettleSale(ctx, "s1", nil, "", "")
	assert.ErrorIs(t, err, reconcile.ErrInvalidArgument)

	_, err = engine.ManualSettleSale(ctx, "s1", []PickInput{{CounterpartyID: ""}}, "", "")
	assert.ErrorIs(t, err, reconcile.ErrInvalidArgument)

	_, err = engine.ManualSettleSale(ctx, "s1", []PickInput{{CounterpartyID: "d1", UseAmount: -5}}, "", "")
	assert.ErrorIs(t, err, reconcile.ErrInvalidArgument)
}

func TestDiscardCandidate(t *testing.T) {
	engine, repo := newTestEngine()

	sale := pendingSale("s1", 500)
	sale.Status = reconcile.StatusPendingReview
	sale.CandidateDepositIDs = []string{"d1", "d2"}
	repo.AddSale(sale)

	require.NoError(t, engine.DiscardCandidate("s1", "d1"))

	got, err := repo.GetSale("s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"d2"}, got.CandidateDepositIDs)

	err = engine.DiscardCandidate("", "d1")
	assert.ErrorIs(t, err, reconcile.ErrInvalidArgument)
}

func TestRefundAndRevert_Validation(t *testing.T) {
	engine, _ := newTestEngine()

	assert.ErrorIs(t, engine.Refund(context.Background(), "", "", ""), reconcile.ErrInvalidArgument)
	assert.ErrorIs(t, engine.Revert(context.Background(), "", "", ""), reconcile.ErrInvalidArgument)
}

func TestCandidatesForSale_SortedByScoreThenAmount(t *testing.T) {
	engine, repo := newTestEngine()

	// Exact amount beats near amount; near beats distant.
	repo.AddDeposit(openDeposit("exact", 500))
	repo.AddDeposit(openDeposit("near", 497))
	repo.AddDeposit(openDeposit("helper", 100))

	sale := pendingSale("s1", 500)
	sale.Status = reconcile.StatusPendingReview
	repo.AddSale(sale)

	candidates, err := engine.CandidatesForSale("s1")
	require.NoError(t, err)
	require.Len(t, candidates, 3)
	assert.Equal(t, "exact", candidates[0].ID)
	assert.Equal(t, "near", candidates[1].ID)
	assert.Equal(t, "helper", candidates[2].ID)
	assert.Greater(t, candidates[0].Score, candidates[2].Score)
}

func TestCandidatesForSale_NotFound(t *testing.T) {
	engine, _ := newTestEngine()

	_, err := engine.CandidatesForSale("missing")
	assert.ErrorIs(t, err, reconcile.ErrNotFound)
}

func TestRematchAll_SettlesLateArrivals(t *testing.T) {
	engine, repo := newTestEngine()

	// The sale arrived first and parked; its deposit shows up later
	// without going through the creation hook.
	sale := pendingSale("s1", 1000)
	require.NoError(t, engine.OnSaleCreated(context.Background(), sale))

	got, err := repo.GetSale("s1")
	require.NoError(t, err)
	require.Equal(t, reconcile.StatusPending, got.Status)

	repo.AddDeposit(openDeposit("d1", 1000))

	result, err := engine.RematchAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.SalesExamined)
	assert.Equal(t, 1, result.SalesSettled)
	assert.Empty(t, result.Errors)

	settled, err := repo.GetSale("s1")
	require.NoError(t, err)
	assert.Equal(t, reconcile.StatusAutoSettled, settled.Status)
}

func TestManualSettleSale_RefundedDepositNotConsumed(t *testing.T) {
	engine, repo := newTestEngine()

	// Half-consumed, then refunded: the leftover 300 went back to the
	// bank and must stay out of reach for later settlements.
	dep := openDeposit("d1", 800)
	dep.MatchedTotal = 500
	dep.RemainingAmount = 300
	dep.Status = reconcile.StatusRefunded
	repo.AddDeposit(dep)

	repo.AddSale(pendingSale("s1", 300))

	result, err := engine.ManualSettleSale(context.Background(), "s1",
		[]PickInput{{CounterpartyID: "d1"}}, "ana", "")
	require.NoError(t, err)
	assert.Empty(t, result.Applied)

	got, err := repo.GetDeposit("d1")
	require.NoError(t, err)
	assert.Equal(t, reconcile.StatusRefunded, got.Status)
	assert.Equal(t, 500.0, got.MatchedTotal)
}

func TestManualSettleDeposit_RefundedTargetRejected(t *testing.T) {
	engine, repo := newTestEngine()

	dep := openDeposit("d1", 500)
	dep.Status = reconcile.StatusRefunded
	repo.AddDeposit(dep)
	repo.AddSale(pendingSale("s1", 500))

	_, err := engine.ManualSettleDeposit(context.Background(), "d1",
		[]PickInput{{CounterpartyID: "s1"}}, "ana", "")
	assert.ErrorIs(t, err, reconcile.ErrPreconditionFailed)
}
