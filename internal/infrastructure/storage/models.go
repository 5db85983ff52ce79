package storage

import "time"

// Record types used in history entries and link lookups.
const (
	RecordDeposit = "deposit"
	RecordSale    = "sale"
)

// History action kinds. Each entry carries only the fields that matter
// for its kind; the action tag tells consumers which ones to read.
const (
	ActionSettle      = "settle"       // automatic settlement leg
	ActionManualMatch = "manual_match" // operator-chosen settlement leg
	ActionRevert      = "revert"       // reversal target reset
	ActionRevertMatch = "revert_match" // reversal counterparty leg
	ActionRefund      = "refund"
	ActionParked      = "parked" // annotated for manual review
)

// Deposit is an incoming bank credit awaiting attribution to sales.
// Amount is immutable once created; MatchedTotal moves only inside the
// settlement and reversal transactors, and RemainingAmount is always
// re-derived from the two, never trusted from a caller.
type Deposit struct {
	ID              string     `json:"id"`
	Amount          float64    `json:"amount"`
	MatchedTotal    float64    `json:"matched_total"`
	RemainingAmount float64    `json:"remaining_amount"`
	Bank            string     `json:"bank"`
	BankKey         string     `json:"bank_key"`
	TransactionDate time.Time  `json:"transaction_date"`
	VendorName      string     `json:"vendor_name,omitempty"`
	StoreName       string     `json:"store_name,omitempty"`
	Status          string     `json:"status"`
	SettledAt       *time.Time `json:"settled_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`

	// Suggested sale IDs recorded when automatic matching gives up,
	// bounded by the configured maximum. Stored as JSON.
	CandidateSaleIDs []string `json:"candidate_sale_ids"`
}

// Sale is a point-of-sale transaction awaiting payment-settlement
// confirmation. GrossPayments is the immutable total.
type Sale struct {
	ID              string     `json:"id"`
	OrderID         string     `json:"order_id,omitempty"`
	GrossPayments   float64    `json:"gross_payments"`
	MatchedTotal    float64    `json:"matched_total"`
	RemainingAmount float64    `json:"remaining_amount"`
	PaymentGateway  string     `json:"payment_gateway"`
	BankKey         string     `json:"bank_key"`
	SaleDate        time.Time  `json:"sale_date"`
	StaffMemberName string     `json:"staff_member_name,omitempty"`
	StoreName       string     `json:"store_name,omitempty"`
	Status          string     `json:"status"`
	SettledAt       *time.Time `json:"settled_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`

	CandidateDepositIDs []string `json:"candidate_deposit_ids"`
}

// MatchLink records that a settlement consumed Amount of a deposit's
// balance against a sale. It is the single source of truth for both
// sides' link sets; summing a record's links always reproduces its
// matched total, which is what makes reversal exact.
type MatchLink struct {
	ID        string    `json:"id"`
	DepositID string    `json:"deposit_id"`
	SaleID    string    `json:"sale_id"`
	Amount    float64   `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

// HistoryEntry is one row of a record's append-only audit log.
type HistoryEntry struct {
	ID             string    `json:"id"`
	RecordType     string    `json:"record_type"`
	RecordID       string    `json:"record_id"`
	Action         string    `json:"action"`
	CounterpartyID string    `json:"counterparty_id,omitempty"`
	Amount         float64   `json:"amount,omitempty"`
	Details        string    `json:"details,omitempty"`
	Actor          string    `json:"actor"`
	CreatedAt      time.Time `json:"created_at"`
}
