// Package reconcile holds the pure matching core: lifecycle statuses,
// balance arithmetic, the deposit/sale compatibility scorer and the
// allocation algorithm. Nothing in this package touches storage; every
// function is deterministic so decisions can be replayed.
package reconcile

import (
	"math"
	"time"

	"github.com/jmorazan/reconcile-backend/internal/domain/bank"
)

// Epsilon is the currency tolerance: balances within a cent are equal.
const Epsilon = 0.01

// Deposit lifecycle statuses.
const (
	StatusOpen        = "open"
	StatusReserved    = "reserved"
	StatusPartial     = "partial"
	StatusSettled     = "settled"
	StatusAutoSettled = "auto_settled"
	StatusRefunded    = "refunded"
)

// Sale lifecycle statuses. Partial and the terminal pair are shared
// with deposits.
const (
	StatusPending       = "pending"
	StatusPendingReview = "pending_review"
)

// IsTerminal reports whether a status admits no further settlement.
func IsTerminal(status string) bool {
	switch status {
	case StatusSettled, StatusAutoSettled, StatusRefunded:
		return true
	}
	return false
}

// DepositOpen reports whether a deposit in this status may still be
// consumed by settlements.
func DepositOpen(status string) bool {
	switch status {
	case StatusOpen, StatusReserved, StatusPartial, "":
		return true
	}
	return false
}

// SaleOpen reports whether a sale in this status still awaits deposits.
func SaleOpen(status string) bool {
	switch status {
	case StatusPending, StatusPendingReview, "":
		return true
	}
	return false
}

// Round2 rounds an amount to currency precision.
func Round2(amount float64) float64 {
	return math.Round(amount*100) / 100
}

// Remaining derives the outstanding balance. Never negative.
func Remaining(total, matched float64) float64 {
	return math.Max(0, Round2(total-matched))
}

// DepositStatusAfter recomputes a deposit's status from its balances.
// Status is a function of balance, never set independently of it.
func DepositStatusAfter(remaining, matched float64, reserved, manual bool) string {
	switch {
	case remaining <= Epsilon:
		if manual {
			return StatusSettled
		}
		return StatusAutoSettled
	case matched > Epsilon:
		return StatusPartial
	case reserved:
		return StatusReserved
	default:
		return StatusOpen
	}
}

// SaleStatusAfter recomputes a sale's status from its balances.
func SaleStatusAfter(remaining, matched float64, manual bool) string {
	switch {
	case remaining <= Epsilon:
		if manual {
			return StatusSettled
		}
		return StatusAutoSettled
	case matched > Epsilon:
		return StatusPartial
	default:
		return StatusPendingReview
	}
}

// DaysApart returns the whole-day distance between two dates. A zero
// time on either side means the date never parsed; such a pair is
// treated as infinitely far rather than failing the candidate batch.
func DaysApart(a, b time.Time) int {
	if a.IsZero() || b.IsZero() {
		return math.MaxInt32
	}
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return int(d.Hours() / 24)
}

// DepositView is the scorer's read-only view of a deposit.
type DepositView struct {
	BankKey      string
	RawBank      string
	Date         time.Time
	Amount       float64
	MatchedTotal float64
	VendorName   string
	StoreName    string
	Reserved     bool
}

// Remaining is the deposit's outstanding balance.
func (d DepositView) Remaining() float64 { return Remaining(d.Amount, d.MatchedTotal) }

// SaleView is the scorer's read-only view of a sale.
type SaleView struct {
	BankKey      string
	RawGateway   string
	Date         time.Time
	Gross        float64
	MatchedTotal float64
	StaffName    string
	StoreName    string
}

// Remaining is the sale's outstanding balance.
func (s SaleView) Remaining() float64 { return Remaining(s.Gross, s.MatchedTotal) }

// Attribution carries the party/location data of an allocation target,
// used to skip reserved candidates that belong to someone else.
type Attribution struct {
	VendorName string
	StoreName  string
}

// Candidate is one potential counterparty as seen by the allocator.
type Candidate struct {
	ID         string
	Remaining  float64
	Score      float64
	Reserved   bool
	VendorName string
	StoreName  string
}

// ConflictsWith reports whether a reserved candidate is pinned to a
// different party than the target. Missing attribution on either side
// is no signal and never conflicts.
func (c Candidate) ConflictsWith(attr Attribution) bool {
	if !c.Reserved {
		return false
	}
	if c.VendorName != "" && attr.VendorName != "" && !bank.Similar(c.VendorName, attr.VendorName) {
		return true
	}
	if c.StoreName != "" && attr.StoreName != "" && !bank.Similar(c.StoreName, attr.StoreName) {
		return true
	}
	return false
}
