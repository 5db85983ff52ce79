package dto

// CreateDepositRequest is the record creation hook payload for a bank
// deposit. Balances and status are derived server-side; only identity,
// amount, channel and optional attribution come from the caller.
type CreateDepositRequest struct {
	ID              string  `json:"id" binding:"required"`
	Amount          float64 `json:"amount" binding:"required"`
	Bank            string  `json:"bank"`
	TransactionDate string  `json:"transaction_date"`
	VendorName      string  `json:"vendor_name"`
	StoreName       string  `json:"store_name"`
	Reserved        bool    `json:"reserved"`
}

// CreateSaleRequest is the record creation hook payload for a
// point-of-sale transaction.
type CreateSaleRequest struct {
	ID              string  `json:"id" binding:"required"`
	OrderID         string  `json:"order_id"`
	GrossPayments   float64 `json:"gross_payments" binding:"required"`
	PaymentGateway  string  `json:"payment_gateway"`
	SaleDate        string  `json:"sale_date"`
	StaffMemberName string  `json:"staff_member_name"`
	StoreName       string  `json:"store_name"`
}

// PickRequest names one counterparty in a manual settlement. A zero or
// absent use_amount means "as much as fits".
type PickRequest struct {
	CounterpartyID string  `json:"counterparty_id" binding:"required"`
	UseAmount      float64 `json:"use_amount"`
}

// SettleRequest is the manual settlement payload.
type SettleRequest struct {
	Picks   []PickRequest `json:"picks" binding:"required"`
	Actor   string        `json:"actor"`
	Comment string        `json:"comment"`
}

// RefundRequest marks a deposit refunded.
type RefundRequest struct {
	Comment string `json:"comment"`
	Actor   string `json:"actor"`
}

// RevertRequest undoes a deposit's settlements.
type RevertRequest struct {
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

// ListParams are the shared query parameters for record listings.
type ListParams struct {
	Status  string `form:"status"`
	BankKey string `form:"bank_key"`
	Limit   int    `form:"limit,default=50"`
	Offset  int    `form:"offset"`
}
