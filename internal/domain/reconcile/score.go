package reconcile

import (
	"math"
	"strings"

	"github.com/jmorazan/reconcile-backend/internal/domain/bank"
)

// Score computes the compatibility of one deposit against one sale.
// Always evaluated deposit→sale, always ≥ 0, and purely a function of
// its inputs. A signal whose data is absent contributes zero; only the
// reservation penalty and the exhausted-deposit guard subtract.
func Score(dep DepositView, sale SaleView, cfg Config) float64 {
	w := cfg.Weights
	score := 0.0

	// Bank channel.
	depBank, saleBank := dep.BankKey, sale.BankKey
	if depBank == "" {
		depBank = bank.Normalize(dep.RawBank)
	}
	if saleBank == "" {
		saleBank = bank.Normalize(sale.RawGateway)
	}
	switch {
	case depBank != "" && depBank != bank.Unknown && depBank == saleBank:
		score += w.BankExact
	case rawContains(dep.RawBank, sale.RawGateway):
		score += w.BankPartial
	}

	// Date proximity.
	switch d := DaysApart(dep.Date, sale.Date); {
	case d <= cfg.DayWindow:
		score += w.DateNear
	case d <= 3:
		score += w.DateFar
	}

	// Amount proximity on remaining balances, not original totals.
	depRem, saleRem := dep.Remaining(), sale.Remaining()
	switch diff := math.Abs(depRem - saleRem); {
	case diff < Epsilon:
		score += w.AmountExact
	case diff <= cfg.AmountNearBand:
		score += w.AmountNear
	case depRem > 0 && depRem < saleRem:
		score += w.AmountHelp
	}

	// Party and location.
	if bank.Similar(dep.VendorName, sale.StaffName) {
		score += w.VendorMatch
	}
	if bank.Similar(dep.StoreName, sale.StoreName) {
		score += w.StoreMatch
	}

	// Reservation is an assertion of exclusivity: disagreement pushes
	// the score down, it does not merely withhold the bonus.
	if dep.Reserved {
		score += w.ReservationBonus
		if dep.VendorName != "" && sale.StaffName != "" && !bank.Similar(dep.VendorName, sale.StaffName) {
			score -= w.ReservationPenalty
		}
		if dep.StoreName != "" && sale.StoreName != "" && !bank.Similar(dep.StoreName, sale.StoreName) {
			score -= w.ReservationPenalty
		}
	}

	// An exhausted deposit must never outrank a genuinely open one.
	if depRem <= Epsilon {
		score -= w.ExhaustedPenalty
	}

	return math.Max(0, score)
}

// rawContains reports whether either raw channel string contains the
// other after folding. Empty strings never match.
func rawContains(a, b string) bool {
	fa, fb := bank.Fold(a), bank.Fold(b)
	if fa == "" || fb == "" {
		return false
	}
	return strings.Contains(fa, fb) || strings.Contains(fb, fa)
}
