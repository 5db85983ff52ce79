package reconcile

import "sort"

// Allocation modes.
const (
	ModeSingle = "single"
	ModeMulti  = "multi"
)

// Pick is one candidate chosen by the allocator together with the
// amount of its balance to consume.
type Pick struct {
	CandidateID string
	Use         float64
	Score       float64
}

// Allocation is a set of picks that fully closes a target amount.
type Allocation struct {
	Mode     string
	Picks    []Pick
	Total    float64
	AvgScore float64
}

// Allocate selects counterparties to close target. Two modes are tried
// in order:
//
//  1. single exact: the top-scored candidate clears AutoSingle and its
//     remaining balance equals the target within Epsilon;
//  2. greedy multi: candidates in score order each contribute
//     min(remaining, still needed), skipping reserved candidates pinned
//     to another party. Accepted only when the target is fully closed
//     and the mean pick score clears AutoMulti, a stricter bar since
//     spreading one obligation across counterparties risks more.
//
// Returns nil when neither mode succeeds; the caller parks the target
// for manual review.
func Allocate(target float64, attr Attribution, candidates []Candidate, cfg Config) *Allocation {
	if target <= Epsilon || len(candidates) == 0 {
		return nil
	}

	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	if best := sorted[0]; best.Score >= cfg.AutoSingle && diffWithin(best.Remaining, target, Epsilon) {
		return &Allocation{
			Mode:     ModeSingle,
			Picks:    []Pick{{CandidateID: best.ID, Use: target, Score: best.Score}},
			Total:    target,
			AvgScore: best.Score,
		}
	}

	need := target
	var picks []Pick
	var scoreSum float64
	for _, c := range sorted {
		if need <= Epsilon {
			break
		}
		if c.Remaining <= Epsilon || c.ConflictsWith(attr) {
			continue
		}
		use := c.Remaining
		if need < use {
			use = need
		}
		picks = append(picks, Pick{CandidateID: c.ID, Use: Round2(use), Score: c.Score})
		scoreSum += c.Score
		need = Round2(need - use)
	}

	if len(picks) == 0 || need > Epsilon {
		return nil
	}
	avg := scoreSum / float64(len(picks))
	if avg < cfg.AutoMulti {
		return nil
	}

	return &Allocation{
		Mode:     ModeMulti,
		Picks:    picks,
		Total:    Round2(target - need),
		AvgScore: avg,
	}
}

func diffWithin(a, b, tol float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < tol
}
