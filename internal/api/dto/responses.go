package dto

import (
	"time"

	"github.com/jmorazan/reconcile-backend/internal/infrastructure/storage"
)

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// NewHealthResponse creates a healthy response with the current time.
func NewHealthResponse() HealthResponse {
	return HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// DepositResponse represents a deposit with its links and history.
type DepositResponse struct {
	*storage.Deposit
	Links   []storage.MatchLink    `json:"links,omitempty"`
	History []storage.HistoryEntry `json:"history,omitempty"`
}

// SaleResponse represents a sale with its links and history.
type SaleResponse struct {
	*storage.Sale
	Links   []storage.MatchLink    `json:"links,omitempty"`
	History []storage.HistoryEntry `json:"history,omitempty"`
}

// DepositListResponse is returned when listing deposits.
type DepositListResponse struct {
	Deposits []*storage.Deposit `json:"deposits"`
	Count    int                `json:"count"`
	Limit    int                `json:"limit"`
	Offset   int                `json:"offset"`
}

// SaleListResponse is returned when listing sales.
type SaleListResponse struct {
	Sales  []*storage.Sale `json:"sales"`
	Count  int             `json:"count"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}
