package recon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmorazan/reconcile-backend/internal/domain/bank"
	"github.com/jmorazan/reconcile-backend/internal/domain/reconcile"
	"github.com/jmorazan/reconcile-backend/internal/infrastructure/storage"
)

// Engine runs the reconciliation lifecycle: it reacts to record
// creation with one automatic matching pass and carries the operator
// operations for everything the automatic pass could not decide.
type Engine struct {
	repo   storage.Repository
	cfg    reconcile.Config
	logger *slog.Logger
}

// NewEngine creates an engine on top of a repository.
func NewEngine(repo storage.Repository, cfg reconcile.Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		repo:   repo,
		cfg:    cfg,
		logger: logger.With("system", "recon"),
	}
}

// PickInput is an operator's chosen counterparty for a manual
// settlement. A zero UseAmount means "as much as fits".
type PickInput struct {
	CounterpartyID string  `json:"counterparty_id"`
	UseAmount      float64 `json:"use_amount"`
}

// OnDepositCreated normalizes and persists a new deposit, then runs one
// automatic matching pass against open sales.
func (e *Engine) OnDepositCreated(ctx context.Context, dep *storage.Deposit) error {
	if dep.ID == "" || dep.Amount <= 0 {
		return fmt.Errorf("%w: deposit needs an id and a positive amount", reconcile.ErrInvalidArgument)
	}

	if dep.BankKey == "" {
		dep.BankKey = bank.Normalize(dep.Bank)
	}
	dep.MatchedTotal = 0
	dep.RemainingAmount = reconcile.Round2(dep.Amount)
	if dep.Status == "" {
		dep.Status = reconcile.StatusOpen
	}

	if err := e.repo.SaveDeposit(dep); err != nil {
		return fmt.Errorf("failed to save deposit: %w", err)
	}

	e.logger.Debug("Deposit created",
		"deposit_id", dep.ID,
		"amount", dep.Amount,
		"bank_key", dep.BankKey,
		"status", dep.Status,
	)

	return e.matchDeposit(ctx, dep)
}

// OnSaleCreated normalizes and persists a new sale, then runs one
// automatic matching pass against open deposits.
func (e *Engine) OnSaleCreated(ctx context.Context, sale *storage.Sale) error {
	if sale.ID == "" || sale.GrossPayments <= 0 {
		return fmt.Errorf("%w: sale needs an id and positive gross payments", reconcile.ErrInvalidArgument)
	}

	if sale.BankKey == "" {
		sale.BankKey = bank.Normalize(sale.PaymentGateway)
	}
	sale.MatchedTotal = 0
	sale.RemainingAmount = reconcile.Round2(sale.GrossPayments)
	if sale.Status == "" {
		sale.Status = reconcile.StatusPending
	}

	if err := e.repo.SaveSale(sale); err != nil {
		return fmt.Errorf("failed to save sale: %w", err)
	}

	e.logger.Debug("Sale created",
		"sale_id", sale.ID,
		"gross_payments", sale.GrossPayments,
		"bank_key", sale.BankKey,
	)

	return e.matchSale(ctx, sale)
}

// matchSale tries to close a sale off nearby open deposits: exact
// single match first, then a greedy combination, else the sale is
// parked for review with its best candidates attached.
func (e *Engine) matchSale(ctx context.Context, sale *storage.Sale) error {
	deposits, err := e.repo.DepositCandidatesForSale(sale, e.cfg.DayWindow)
	if err != nil {
		return fmt.Errorf("failed to fetch deposit candidates: %w", err)
	}

	saleView := saleViewOf(sale)
	candidates := make([]reconcile.Candidate, 0, len(deposits))
	for _, d := range deposits {
		score := reconcile.Score(depositViewOf(d), saleView, e.cfg)
		candidates = append(candidates, reconcile.Candidate{
			ID:         d.ID,
			Remaining:  reconcile.Remaining(d.Amount, d.MatchedTotal),
			Score:      score,
			Reserved:   d.Status == reconcile.StatusReserved,
			VendorName: d.VendorName,
			StoreName:  d.StoreName,
		})
	}

	attr := reconcile.Attribution{VendorName: sale.StaffMemberName, StoreName: sale.StoreName}
	alloc := reconcile.Allocate(saleView.Remaining(), attr, candidates, e.cfg)
	if alloc == nil {
		return e.parkSale(sale, candidates)
	}

	picks := make([]storage.Pick, len(alloc.Picks))
	for i, p := range alloc.Picks {
		picks[i] = storage.Pick{CounterpartyID: p.CandidateID, UseAmount: p.Use}
	}

	result, err := e.repo.SettleSale(ctx, sale.ID, picks, storage.SettleOptions{})
	if err != nil {
		if errors.Is(err, reconcile.ErrConflict) {
			settleConflicts.Inc()
		}
		return fmt.Errorf("failed to settle sale %s: %w", sale.ID, err)
	}

	autoSettlements.WithLabelValues(alloc.Mode).Inc()
	e.logger.Info("Sale auto-settled",
		"sale_id", sale.ID,
		"mode", alloc.Mode,
		"picks", len(result.Applied),
		"avg_score", alloc.AvgScore,
	)
	return nil
}

// matchDeposit tries to place a new deposit against nearby open sales.
// An exact-amount best candidate settles outright; a best candidate
// that clears the threshold with a different amount still receives
// whatever fits, leaving one or both sides partial. Anything weaker
// parks the deposit and flags its candidate sales for review.
func (e *Engine) matchDeposit(ctx context.Context, dep *storage.Deposit) error {
	sales, err := e.repo.SaleCandidatesForDeposit(dep, e.cfg.DayWindow)
	if err != nil {
		return fmt.Errorf("failed to fetch sale candidates: %w", err)
	}
	if len(sales) == 0 {
		return nil
	}

	depView := depositViewOf(dep)
	scored := make([]scoredID, 0, len(sales))
	var bestSale *storage.Sale
	var bestScore float64
	for _, s := range sales {
		score := reconcile.Score(depView, saleViewOf(s), e.cfg)
		scored = append(scored, scoredID{id: s.ID, score: score})
		if bestSale == nil || score > bestScore {
			bestSale, bestScore = s, score
		}
	}

	if bestScore >= e.cfg.AutoSingle {
		depRemaining := depView.Remaining()
		saleRemaining := reconcile.Remaining(bestSale.GrossPayments, bestSale.MatchedTotal)

		if diffWithin(depRemaining, saleRemaining) {
			result, err := e.repo.SettleDeposit(ctx, dep.ID,
				[]storage.Pick{{CounterpartyID: bestSale.ID}}, storage.SettleOptions{})
			if err != nil {
				if errors.Is(err, reconcile.ErrConflict) {
					settleConflicts.Inc()
				}
				return fmt.Errorf("failed to settle deposit %s: %w", dep.ID, err)
			}
			autoSettlements.WithLabelValues(reconcile.ModeSingle).Inc()
			e.logger.Info("Deposit auto-settled",
				"deposit_id", dep.ID,
				"sale_id", bestSale.ID,
				"score", bestScore,
				"status", result.TargetStatus,
			)
			return nil
		}

		// Amounts differ but the pairing is strong: contribute what
		// fits to the sale and let both sides carry partial balances.
		result, err := e.repo.SettleSale(ctx, bestSale.ID,
			[]storage.Pick{{CounterpartyID: dep.ID}}, storage.SettleOptions{})
		if err != nil {
			if errors.Is(err, reconcile.ErrConflict) {
				settleConflicts.Inc()
			}
			return fmt.Errorf("failed to apply partial deposit %s: %w", dep.ID, err)
		}
		autoSettlements.WithLabelValues("assist").Inc()
		e.logger.Info("Deposit applied partially",
			"deposit_id", dep.ID,
			"sale_id", bestSale.ID,
			"score", bestScore,
			"sale_status", result.TargetStatus,
		)
		return nil
	}

	return e.parkDeposit(scored, dep)
}

type scoredID struct {
	id    string
	score float64
}

// parkSale leaves a sale for manual review with its strongest
// candidates attached. Review status is reserved for sales that have
// suggestions to review; with none the sale simply stays pending.
func (e *Engine) parkSale(sale *storage.Sale, candidates []reconcile.Candidate) error {
	ids := topCandidateIDs(candidates, e.cfg.MaxCandidates)

	status := reconcile.StatusPendingReview
	if len(ids) == 0 {
		status = reconcile.StatusPending
	}

	// Re-parking an already parked sale with the same suggestions is a
	// no-op, so batch rematch passes don't pile up history entries.
	if sale.Status == status && equalIDs(sale.CandidateDepositIDs, ids) {
		return nil
	}

	sale.Status = status
	sale.CandidateDepositIDs = ids
	if err := e.repo.SaveSale(sale); err != nil {
		return fmt.Errorf("failed to park sale %s: %w", sale.ID, err)
	}

	if err := e.repo.AppendHistory(storage.HistoryEntry{
		RecordType: storage.RecordSale,
		RecordID:   sale.ID,
		Action:     storage.ActionParked,
		Details:    fmt.Sprintf("no automatic match, %d candidates", len(ids)),
	}); err != nil {
		return fmt.Errorf("failed to record parking: %w", err)
	}

	parkedRecords.WithLabelValues(storage.RecordSale).Inc()
	e.logger.Info("Sale parked for review", "sale_id", sale.ID, "candidates", len(ids))
	return nil
}

// parkDeposit leaves a deposit open with its strongest candidate sales
// attached, and flags each of those sales for review in return.
func (e *Engine) parkDeposit(scored []scoredID, dep *storage.Deposit) error {
	sortScoredIDs(scored)
	ids := make([]string, 0, e.cfg.MaxCandidates)
	for _, c := range scored {
		if c.score <= 0 {
			continue
		}
		ids = append(ids, c.id)
		if len(ids) >= e.cfg.MaxCandidates {
			break
		}
	}
	if len(ids) == 0 {
		return nil
	}

	if equalIDs(dep.CandidateSaleIDs, ids) {
		return nil
	}

	if err := e.repo.SetDepositCandidates(dep.ID, ids); err != nil {
		return fmt.Errorf("failed to record deposit candidates: %w", err)
	}
	dep.CandidateSaleIDs = ids

	for _, saleID := range ids {
		if err := e.repo.AnnotateSaleCandidate(saleID, dep.ID, e.cfg.MaxCandidates); err != nil {
			return fmt.Errorf("failed to annotate sale %s: %w", saleID, err)
		}
	}

	if err := e.repo.AppendHistory(storage.HistoryEntry{
		RecordType: storage.RecordDeposit,
		RecordID:   dep.ID,
		Action:     storage.ActionParked,
		Details:    fmt.Sprintf("no automatic match, %d candidates", len(ids)),
	}); err != nil {
		return fmt.Errorf("failed to record parking: %w", err)
	}

	parkedRecords.WithLabelValues(storage.RecordDeposit).Inc()
	e.logger.Info("Deposit parked for review", "deposit_id", dep.ID, "candidates", len(ids))
	return nil
}

// ManualSettleSale applies operator-chosen picks to a sale, bypassing
// the automatic thresholds. Amounts are still clamped by the
// transactor.
func (e *Engine) ManualSettleSale(ctx context.Context, saleID string, picks []PickInput, actor, comment string) (*storage.SettleResult, error) {
	storagePicks, err := validatePicks(saleID, picks)
	if err != nil {
		return nil, err
	}

	result, err := e.repo.SettleSale(ctx, saleID, storagePicks,
		storage.SettleOptions{Manual: true, Actor: actor, Comment: comment})
	if err != nil {
		if errors.Is(err, reconcile.ErrConflict) {
			settleConflicts.Inc()
		}
		return nil, err
	}

	manualSettlements.Inc()
	e.logger.Info("Sale settled manually",
		"sale_id", saleID,
		"actor", actor,
		"picks", len(result.Applied),
		"status", result.TargetStatus,
	)
	return result, nil
}

// ManualSettleDeposit applies operator-chosen picks to a deposit.
func (e *Engine) ManualSettleDeposit(ctx context.Context, depositID string, picks []PickInput, actor, comment string) (*storage.SettleResult, error) {
	storagePicks, err := validatePicks(depositID, picks)
	if err != nil {
		return nil, err
	}

	result, err := e.repo.SettleDeposit(ctx, depositID, storagePicks,
		storage.SettleOptions{Manual: true, Actor: actor, Comment: comment})
	if err != nil {
		if errors.Is(err, reconcile.ErrConflict) {
			settleConflicts.Inc()
		}
		return nil, err
	}

	manualSettlements.Inc()
	e.logger.Info("Deposit settled manually",
		"deposit_id", depositID,
		"actor", actor,
		"picks", len(result.Applied),
		"status", result.TargetStatus,
	)
	return result, nil
}

// Refund marks a non-terminal deposit refunded.
func (e *Engine) Refund(ctx context.Context, depositID, comment, actor string) error {
	if depositID == "" {
		return fmt.Errorf("%w: deposit id required", reconcile.ErrInvalidArgument)
	}
	if err := e.repo.RefundDeposit(ctx, depositID, comment, actor); err != nil {
		return err
	}
	refunds.Inc()
	e.logger.Info("Deposit refunded", "deposit_id", depositID, "actor", actor)
	return nil
}

// Revert undoes all settlements of a deposit and reopens it.
func (e *Engine) Revert(ctx context.Context, depositID, reason, actor string) error {
	if depositID == "" {
		return fmt.Errorf("%w: deposit id required", reconcile.ErrInvalidArgument)
	}
	if err := e.repo.RevertDeposit(ctx, depositID, reason, actor); err != nil {
		return err
	}
	reversals.Inc()
	e.logger.Info("Deposit reverted", "deposit_id", depositID, "actor", actor, "reason", reason)
	return nil
}

// DiscardCandidate removes one suggested deposit from a sale's review
// list. Annotation only, balances are untouched.
func (e *Engine) DiscardCandidate(saleID, depositID string) error {
	if saleID == "" || depositID == "" {
		return fmt.Errorf("%w: sale id and deposit id required", reconcile.ErrInvalidArgument)
	}
	return e.repo.RemoveSaleCandidate(saleID, depositID)
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func validatePicks(targetID string, picks []PickInput) ([]storage.Pick, error) {
	if targetID == "" {
		return nil, fmt.Errorf("%w: target id required", reconcile.ErrInvalidArgument)
	}
	if len(picks) == 0 {
		return nil, fmt.Errorf("%w: at least one pick required", reconcile.ErrInvalidArgument)
	}

	out := make([]storage.Pick, len(picks))
	for i, p := range picks {
		if p.CounterpartyID == "" {
			return nil, fmt.Errorf("%w: pick %d has no counterparty id", reconcile.ErrInvalidArgument, i)
		}
		if p.UseAmount < 0 {
			return nil, fmt.Errorf("%w: pick %d has a negative amount", reconcile.ErrInvalidArgument, i)
		}
		out[i] = storage.Pick{CounterpartyID: p.CounterpartyID, UseAmount: p.UseAmount}
	}
	return out, nil
}

func depositViewOf(d *storage.Deposit) reconcile.DepositView {
	return reconcile.DepositView{
		BankKey:      d.BankKey,
		RawBank:      d.Bank,
		Date:         d.TransactionDate,
		Amount:       d.Amount,
		MatchedTotal: d.MatchedTotal,
		VendorName:   d.VendorName,
		StoreName:    d.StoreName,
		Reserved:     d.Status == reconcile.StatusReserved,
	}
}

func saleViewOf(s *storage.Sale) reconcile.SaleView {
	return reconcile.SaleView{
		BankKey:      s.BankKey,
		RawGateway:   s.PaymentGateway,
		Date:         s.SaleDate,
		Gross:        s.GrossPayments,
		MatchedTotal: s.MatchedTotal,
		StaffName:    s.StaffMemberName,
		StoreName:    s.StoreName,
	}
}

func diffWithin(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < reconcile.Epsilon
}
