package recon

import (
	"context"
	"fmt"

	"github.com/jmorazan/reconcile-backend/internal/domain/reconcile"
	"github.com/jmorazan/reconcile-backend/internal/infrastructure/storage"
)

func listAll(status string) storage.RecordFilters {
	return storage.RecordFilters{Status: status, Limit: 10000}
}

// RematchResult summarizes one batch pass over unsettled records.
type RematchResult struct {
	SalesExamined    int
	SalesSettled     int
	DepositsExamined int
	DepositsSettled  int
	Errors           []error
}

// RematchAll re-runs the automatic matching pass over every unsettled
// sale and deposit. Creation hooks only fire once, so records that
// arrived before their counterparts never get a second look without
// this; the settlement clamp makes re-running safe.
func (e *Engine) RematchAll(ctx context.Context) (*RematchResult, error) {
	result := &RematchResult{}

	for _, status := range []string{reconcile.StatusPending, reconcile.StatusPendingReview} {
		sales, err := e.repo.ListSales(listAll(status))
		if err != nil {
			return nil, fmt.Errorf("failed to list %s sales: %w", status, err)
		}
		for _, sale := range sales {
			result.SalesExamined++
			if err := e.matchSale(ctx, sale); err != nil {
				result.Errors = append(result.Errors, fmt.Errorf("sale %s: %w", sale.ID, err))
				continue
			}
			refreshed, err := e.repo.GetSale(sale.ID)
			if err == nil && refreshed != nil && reconcile.IsTerminal(refreshed.Status) {
				result.SalesSettled++
			}
		}
	}

	for _, status := range []string{reconcile.StatusOpen, reconcile.StatusReserved} {
		deposits, err := e.repo.ListDeposits(listAll(status))
		if err != nil {
			return nil, fmt.Errorf("failed to list %s deposits: %w", status, err)
		}
		for _, dep := range deposits {
			result.DepositsExamined++
			if err := e.matchDeposit(ctx, dep); err != nil {
				result.Errors = append(result.Errors, fmt.Errorf("deposit %s: %w", dep.ID, err))
				continue
			}
			refreshed, err := e.repo.GetDeposit(dep.ID)
			if err == nil && refreshed != nil && reconcile.IsTerminal(refreshed.Status) {
				result.DepositsSettled++
			}
		}
	}

	e.logger.Info("Rematch pass complete",
		"sales_examined", result.SalesExamined,
		"sales_settled", result.SalesSettled,
		"deposits_examined", result.DepositsExamined,
		"deposits_settled", result.DepositsSettled,
		"errors", len(result.Errors),
	)
	return result, nil
}
