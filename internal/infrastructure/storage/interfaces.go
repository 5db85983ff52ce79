package storage

import "context"

// Repository defines the complete storage interface. The engine and the
// API depend on this, never on the sqlite implementation, which keeps
// tests on the in-memory mock.
type Repository interface {
	DepositRepository
	SaleRepository
	CandidateRepository
	LinkRepository
	HistoryRepository
	Transactor
	Close() error
}

// DepositRepository handles deposit reads and non-balance writes.
// Balance fields are only ever mutated through the Transactor.
type DepositRepository interface {
	// SaveDeposit inserts or replaces a deposit.
	SaveDeposit(dep *Deposit) error

	// GetDeposit returns nil, nil when the deposit does not exist.
	GetDeposit(id string) (*Deposit, error)

	// ListDeposits returns deposits matching the filters, newest first.
	ListDeposits(f RecordFilters) ([]*Deposit, error)

	// SetDepositCandidates replaces a deposit's suggestion list.
	SetDepositCandidates(id string, saleIDs []string) error
}

// SaleRepository handles sale reads and non-balance writes.
type SaleRepository interface {
	SaveSale(sale *Sale) error

	// GetSale returns nil, nil when the sale does not exist.
	GetSale(id string) (*Sale, error)

	ListSales(f RecordFilters) ([]*Sale, error)

	// SetSaleCandidates replaces a sale's suggestion list.
	SetSaleCandidates(id string, depositIDs []string) error

	// AnnotateSaleCandidate appends one deposit ID to a still-open
	// sale's suggestion list and flags the sale for review. No-op for
	// settled sales and duplicate IDs.
	AnnotateSaleCandidate(saleID, depositID string, maxCandidates int) error

	// RemoveSaleCandidate drops one suggestion without touching
	// balances; a pure annotation edit.
	RemoveSaleCandidate(saleID, depositID string) error
}

// RecordFilters narrows list queries.
type RecordFilters struct {
	Status  string // empty = all
	BankKey string // empty = all
	Limit   int    // 0 = default 50
	Offset  int
}

// CandidateRepository fetches counterparty candidates inside a date
// window. Fetches are read-only, run outside any transaction, and are
// deliberately unbounded: scoring must see every qualifying candidate.
type CandidateRepository interface {
	// SaleCandidatesForDeposit returns open sales dated within
	// ±dayWindow days of the deposit's transaction date.
	SaleCandidatesForDeposit(dep *Deposit, dayWindow int) ([]*Sale, error)

	// DepositCandidatesForSale returns open deposits dated within
	// ±dayWindow days of the sale date.
	DepositCandidatesForSale(sale *Sale, dayWindow int) ([]*Deposit, error)
}

// LinkRepository reads the bidirectional settlement ledger.
type LinkRepository interface {
	LinksForDeposit(depositID string) ([]MatchLink, error)
	LinksForSale(saleID string) ([]MatchLink, error)
}

// HistoryRepository reads and extends a record's append-only audit log.
// Settlement and reversal write their own entries inside their
// transactions; AppendHistory exists for standalone annotations such as
// parking a record for review.
type HistoryRepository interface {
	HistoryFor(recordType, recordID string) ([]HistoryEntry, error)
	AppendHistory(e HistoryEntry) error
}

// Pick names one counterparty and how much of its balance to consume.
// A zero UseAmount means "as much as fits".
type Pick struct {
	CounterpartyID string
	UseAmount      float64
}

// SettleOptions qualify a settlement.
type SettleOptions struct {
	Manual  bool   // operator action: terminal status settled, not auto_settled
	Actor   string // recorded in history; empty means SYSTEM
	Comment string
}

// AppliedUse is one leg of a committed settlement.
type AppliedUse struct {
	LinkID         string  `json:"link_id"`
	CounterpartyID string  `json:"counterparty_id"`
	Amount         float64 `json:"amount"`
}

// SettleResult reports what a settlement transaction actually applied
// after clamping against true remaining balances.
type SettleResult struct {
	Applied         []AppliedUse `json:"applied"`
	TargetStatus    string       `json:"target_status"`
	TargetMatched   float64      `json:"target_matched"`
	TargetRemaining float64      `json:"target_remaining"`
}

// Transactor executes the balance-mutating operations. Every method is
// a single atomic transaction that re-reads all involved records at
// commit time; conflicting concurrent commits are retried from scratch
// a bounded number of times before surfacing reconcile.ErrConflict.
type Transactor interface {
	// SettleSale consumes deposit balances into a sale.
	SettleSale(ctx context.Context, saleID string, picks []Pick, opts SettleOptions) (*SettleResult, error)

	// SettleDeposit consumes sale balances into a deposit.
	SettleDeposit(ctx context.Context, depositID string, picks []Pick, opts SettleOptions) (*SettleResult, error)

	// RevertDeposit undoes every link of a terminal or partial deposit
	// and resets it to open.
	RevertDeposit(ctx context.Context, depositID, reason, actor string) error

	// RefundDeposit marks a non-terminal deposit refunded without
	// touching links or balances.
	RefundDeposit(ctx context.Context, depositID, comment, actor string) error
}
