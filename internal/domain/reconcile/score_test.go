package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var day = time.Date(2025, 7, 14, 0, 0, 0, 0, time.UTC)

func openDeposit(amount float64) DepositView {
	return DepositView{
		BankKey: "BAC",
		Date:    day,
		Amount:  amount,
	}
}

func pendingSale(gross float64) SaleView {
	return SaleView{
		BankKey: "BAC",
		Date:    day,
		Gross:   gross,
	}
}

func TestScore_SingleMatchExample(t *testing.T) {
	// Same bank, same day, exact remaining amount, no party data:
	// 40 bank + 20 date + 25 amount = 85, above the auto-single bar.
	cfg := DefaultConfig()
	score := Score(openDeposit(1000), pendingSale(1000), cfg)

	assert.Equal(t, 85.0, score)
	assert.GreaterOrEqual(t, score, cfg.AutoSingle)
}

func TestScore_Deterministic(t *testing.T) {
	cfg := DefaultConfig()
	dep := openDeposit(500)
	dep.VendorName = "María"
	sale := pendingSale(480)
	sale.StaffName = "maria"

	first := Score(dep, sale, cfg)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Score(dep, sale, cfg))
	}
}

func TestScore_DateProximityBands(t *testing.T) {
	cfg := DefaultConfig()
	sale := pendingSale(1000)

	near := openDeposit(1000)
	near.Date = day.Add(24 * time.Hour)

	far := openDeposit(1000)
	far.Date = day.Add(3 * 24 * time.Hour)

	beyond := openDeposit(1000)
	beyond.Date = day.Add(5 * 24 * time.Hour)

	assert.Equal(t, 85.0, Score(near, sale, cfg))   // 40+20+25
	assert.Equal(t, 75.0, Score(far, sale, cfg))    // 40+10+25
	assert.Equal(t, 65.0, Score(beyond, sale, cfg)) // 40+0+25
}

func TestScore_UnparsableDateIsNotEligible(t *testing.T) {
	// A zero date degrades that one candidate, it does not blow up.
	cfg := DefaultConfig()
	dep := openDeposit(1000)
	dep.Date = time.Time{}

	assert.Equal(t, 65.0, Score(dep, pendingSale(1000), cfg))
}

func TestScore_AmountUsesRemainingBalances(t *testing.T) {
	cfg := DefaultConfig()
	dep := openDeposit(1000)
	dep.MatchedTotal = 700 // remaining 300

	sale := pendingSale(800)
	sale.MatchedTotal = 500 // remaining 300

	// Exact on remainders even though totals differ wildly.
	assert.Equal(t, 85.0, Score(dep, sale, cfg))
}

func TestScore_UsablePartialScoresLow(t *testing.T) {
	cfg := DefaultConfig()
	dep := openDeposit(300)
	sale := pendingSale(1000)

	// 40 bank + 20 date + 10 partial
	assert.Equal(t, 70.0, Score(dep, sale, cfg))
}

func TestScore_PartyAndStore(t *testing.T) {
	cfg := DefaultConfig()
	dep := openDeposit(1000)
	dep.VendorName = "José Díaz"
	dep.StoreName = "Tienda Centro"

	sale := pendingSale(1000)
	sale.StaffName = "jose diaz"
	sale.StoreName = "TIENDA CENTRO"

	// 40+20+25 + 15 vendor + 15 store
	assert.Equal(t, 115.0, Score(dep, sale, cfg))
}

func TestScore_ReservedMismatchPenalized(t *testing.T) {
	cfg := DefaultConfig()
	dep := openDeposit(1000)
	dep.Reserved = true
	dep.VendorName = "A"

	sale := pendingSale(1000)
	sale.StaffName = "B"

	// 85 base +10 bonus -15 mismatch = 80; the reservation actively
	// pushes the score below the party-match alternative.
	assert.Equal(t, 80.0, Score(dep, sale, cfg))
}

func TestScore_ReservedMissingAttributionIsNoSignal(t *testing.T) {
	cfg := DefaultConfig()
	dep := openDeposit(1000)
	dep.Reserved = true
	dep.StoreName = "Tienda Centro"

	sale := pendingSale(1000) // no vendor, no store data

	// Bonus applies, no penalty: absence never penalizes.
	assert.Equal(t, 95.0, Score(dep, sale, cfg))
}

func TestScore_ExhaustedDepositSinks(t *testing.T) {
	cfg := DefaultConfig()
	dep := openDeposit(1000)
	dep.MatchedTotal = 1000

	sale := pendingSale(1000)

	// 40 bank + 20 date - 30 exhausted = 30; an exhausted deposit must
	// rank below any genuinely open one.
	assert.Equal(t, 30.0, Score(dep, sale, cfg))
}

func TestScore_NeverNegative(t *testing.T) {
	cfg := DefaultConfig()
	dep := DepositView{Date: time.Time{}, Amount: 100, MatchedTotal: 100, Reserved: true, VendorName: "A", StoreName: "X"}
	sale := SaleView{Date: day, Gross: 999, StaffName: "B", StoreName: "Y"}

	assert.GreaterOrEqual(t, Score(dep, sale, cfg), 0.0)
}

func TestScore_BankSubstring(t *testing.T) {
	cfg := DefaultConfig()
	dep := openDeposit(1000)
	dep.BankKey = ""
	dep.RawBank = "Transferencia Lafise Honduras"

	sale := pendingSale(1000)
	sale.BankKey = ""
	sale.RawGateway = "Lafise"

	// 20 partial bank + 20 date + 25 amount
	assert.Equal(t, 65.0, Score(dep, sale, cfg))
}
