package recon

import (
	"fmt"
	"sort"
	"time"

	"github.com/jmorazan/reconcile-backend/internal/domain/reconcile"
)

// ScoredCandidate is one counterparty suggestion for the review UI.
type ScoredCandidate struct {
	ID        string    `json:"id"`
	Score     float64   `json:"score"`
	Total     float64   `json:"total"`
	Remaining float64   `json:"remaining"`
	Date      time.Time `json:"date"`
	BankKey   string    `json:"bank_key"`
	Status    string    `json:"status"`
}

// CandidatesForSale returns scored deposit candidates for a sale,
// strongest first; ties break toward the closest remaining amount.
func (e *Engine) CandidatesForSale(saleID string) ([]ScoredCandidate, error) {
	sale, err := e.repo.GetSale(saleID)
	if err != nil {
		return nil, err
	}
	if sale == nil {
		return nil, fmt.Errorf("%w: sale %s", reconcile.ErrNotFound, saleID)
	}

	deposits, err := e.repo.DepositCandidatesForSale(sale, e.cfg.DayWindow)
	if err != nil {
		return nil, err
	}

	saleView := saleViewOf(sale)
	target := saleView.Remaining()
	out := make([]ScoredCandidate, 0, len(deposits))
	for _, d := range deposits {
		out = append(out, ScoredCandidate{
			ID:        d.ID,
			Score:     reconcile.Score(depositViewOf(d), saleView, e.cfg),
			Total:     d.Amount,
			Remaining: reconcile.Remaining(d.Amount, d.MatchedTotal),
			Date:      d.TransactionDate,
			BankKey:   d.BankKey,
			Status:    d.Status,
		})
	}
	sortScoredCandidates(out, target)
	return out, nil
}

// CandidatesForDeposit returns scored sale candidates for a deposit.
func (e *Engine) CandidatesForDeposit(depositID string) ([]ScoredCandidate, error) {
	dep, err := e.repo.GetDeposit(depositID)
	if err != nil {
		return nil, err
	}
	if dep == nil {
		return nil, fmt.Errorf("%w: deposit %s", reconcile.ErrNotFound, depositID)
	}

	sales, err := e.repo.SaleCandidatesForDeposit(dep, e.cfg.DayWindow)
	if err != nil {
		return nil, err
	}

	depView := depositViewOf(dep)
	target := depView.Remaining()
	out := make([]ScoredCandidate, 0, len(sales))
	for _, s := range sales {
		out = append(out, ScoredCandidate{
			ID:        s.ID,
			Score:     reconcile.Score(depView, saleViewOf(s), e.cfg),
			Total:     s.GrossPayments,
			Remaining: reconcile.Remaining(s.GrossPayments, s.MatchedTotal),
			Date:      s.SaleDate,
			BankKey:   s.BankKey,
			Status:    s.Status,
		})
	}
	sortScoredCandidates(out, target)
	return out, nil
}

func sortScoredCandidates(cands []ScoredCandidate, target float64) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		return amountDistance(cands[i].Remaining, target) < amountDistance(cands[j].Remaining, target)
	})
}

func amountDistance(a, b float64) float64 {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d
}

func sortScoredIDs(scored []scoredID) {
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
}

// topCandidateIDs keeps the strongest positive-score candidate IDs,
// bounded to max.
func topCandidateIDs(candidates []reconcile.Candidate, max int) []string {
	sorted := make([]reconcile.Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	ids := make([]string, 0, max)
	for _, c := range sorted {
		if c.Score <= 0 {
			continue
		}
		ids = append(ids, c.ID)
		if len(ids) >= max {
			break
		}
	}
	return ids
}
