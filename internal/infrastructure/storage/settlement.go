package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/jmorazan/reconcile-backend/internal/domain/reconcile"
)

// SystemActor is recorded on history entries written by automatic
// matching rather than an operator.
const SystemActor = "SYSTEM"

// withTx runs fn inside a transaction, retrying the whole
// read-decide-write cycle from scratch when the commit loses against a
// concurrent writer. Retrying is safe because every balance decision
// inside fn re-reads and clamps against true remaining balances.
func (s *Storage) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}

		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			if isRetryable(err) {
				lastErr = err
				continue
			}
			return err
		}

		if err := tx.Commit(); err != nil {
			if isRetryable(err) {
				lastErr = err
				continue
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("%w: %v", reconcile.ErrConflict, lastErr)
}

func isRetryable(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked
	}
	return false
}

func actorOrSystem(actor string) string {
	if actor == "" {
		return SystemActor
	}
	return actor
}

func insertLink(tx *sql.Tx, depositID, saleID string, amount float64, now time.Time) (string, error) {
	id := uuid.NewString()
	_, err := tx.Exec(`
		INSERT INTO match_links (id, deposit_id, sale_id, amount, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		id, depositID, saleID, amount, now)
	return id, err
}

// AppendHistory writes one standalone audit entry outside any
// settlement transaction.
func (s *Storage) AppendHistory(e HistoryEntry) error {
	return insertHistory(s.db, e)
}

func insertHistory(q querier, e HistoryEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Actor == "" {
		e.Actor = SystemActor
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := q.Exec(`
		INSERT INTO history_entries
		(id, record_type, record_id, action, counterparty_id, amount, details, actor, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RecordType, e.RecordID, e.Action, e.CounterpartyID, e.Amount, e.Details, e.Actor, e.CreatedAt)
	return err
}

func settleAction(manual bool) string {
	if manual {
		return ActionManualMatch
	}
	return ActionSettle
}

// SettleSale atomically consumes deposit balances into a sale.
//
// Everything is re-read inside the transaction: pre-transaction
// snapshots (the scored candidate list, the operator's view) are only
// proposals. Each pick's use is clamped to
// min(requested, deposit true remaining, sale true remaining); clamped
// picks at or below the epsilon are skipped, as are deposits that
// vanished mid-flight or went terminal; later picks can still cover the
// gap. The clamp also makes a retried, already-applied allocation a
// no-op. A refunded deposit's leftover balance went back to the bank,
// so it never counts as matchable no matter what its arithmetic says.
func (s *Storage) SettleSale(ctx context.Context, saleID string, picks []Pick, opts SettleOptions) (*SettleResult, error) {
	var result *SettleResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		sale, err := getSale(tx, saleID)
		if err != nil {
			return err
		}
		if sale == nil {
			return fmt.Errorf("%w: sale %s", reconcile.ErrNotFound, saleID)
		}

		now := time.Now().UTC()
		actor := actorOrSystem(opts.Actor)
		matched := sale.MatchedTotal
		remaining := reconcile.Remaining(sale.GrossPayments, matched)
		var applied []AppliedUse

		for _, p := range picks {
			if remaining <= reconcile.Epsilon {
				break
			}

			dep, err := getDeposit(tx, p.CounterpartyID)
			if err != nil {
				return err
			}
			if dep == nil {
				continue // vanished mid-flight; later picks may cover the gap
			}
			if reconcile.IsTerminal(dep.Status) {
				continue // terminal stays terminal until an explicit revert
			}

			depRem := reconcile.Remaining(dep.Amount, dep.MatchedTotal)
			use := clampUse(p.UseAmount, depRem, remaining)
			if use <= reconcile.Epsilon {
				continue
			}

			newDepMatched := reconcile.Round2(dep.MatchedTotal + use)
			newDepRem := reconcile.Remaining(dep.Amount, newDepMatched)
			depStatus := reconcile.DepositStatusAfter(newDepRem, newDepMatched,
				dep.Status == reconcile.StatusReserved, opts.Manual)

			// Attribution flows from the sale onto the deposit only
			// when the deposit has none; existing attribution wins.
			vendorName := dep.VendorName
			if vendorName == "" {
				vendorName = sale.StaffMemberName
			}
			storeName := dep.StoreName
			if storeName == "" {
				storeName = sale.StoreName
			}

			var depSettledAt any
			if dep.SettledAt != nil {
				depSettledAt = *dep.SettledAt
			}
			if newDepRem <= reconcile.Epsilon && depSettledAt == nil {
				depSettledAt = now
			}

			_, err = tx.Exec(`
				UPDATE deposits
				SET matched_total = ?, remaining_amount = ?, status = ?,
				    vendor_name = ?, store_name = ?, settled_at = ?
				WHERE id = ?`,
				newDepMatched, newDepRem, depStatus, vendorName, storeName, depSettledAt, dep.ID)
			if err != nil {
				return err
			}

			linkID, err := insertLink(tx, dep.ID, sale.ID, use, now)
			if err != nil {
				return err
			}

			err = insertHistory(tx, HistoryEntry{
				RecordType:     RecordDeposit,
				RecordID:       dep.ID,
				Action:         settleAction(opts.Manual),
				CounterpartyID: sale.ID,
				Amount:         use,
				Details:        opts.Comment,
				Actor:          actor,
				CreatedAt:      now,
			})
			if err != nil {
				return err
			}

			matched = reconcile.Round2(matched + use)
			remaining = reconcile.Remaining(sale.GrossPayments, matched)
			applied = append(applied, AppliedUse{LinkID: linkID, CounterpartyID: dep.ID, Amount: use})
		}

		saleStatus := sale.Status
		var saleSettledAt any
		if sale.SettledAt != nil {
			saleSettledAt = *sale.SettledAt
		}
		if len(applied) > 0 {
			saleStatus = reconcile.SaleStatusAfter(remaining, matched, opts.Manual)
			if remaining <= reconcile.Epsilon && saleSettledAt == nil {
				saleSettledAt = now
			}

			_, err = tx.Exec(`
				UPDATE sales
				SET matched_total = ?, remaining_amount = ?, status = ?,
				    candidate_deposit_ids = '[]', settled_at = ?
				WHERE id = ?`,
				matched, remaining, saleStatus, saleSettledAt, sale.ID)
			if err != nil {
				return err
			}

			for _, a := range applied {
				err = insertHistory(tx, HistoryEntry{
					RecordType:     RecordSale,
					RecordID:       sale.ID,
					Action:         settleAction(opts.Manual),
					CounterpartyID: a.CounterpartyID,
					Amount:         a.Amount,
					Details:        opts.Comment,
					Actor:          actor,
					CreatedAt:      now,
				})
				if err != nil {
					return err
				}
			}
		}

		result = &SettleResult{
			Applied:         applied,
			TargetStatus:    saleStatus,
			TargetMatched:   matched,
			TargetRemaining: remaining,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SettleDeposit is the deposit-target mirror of SettleSale: an operator
// (or the automatic pipeline) closes a deposit against one or more
// sales. Same re-read, clamp and skip discipline.
func (s *Storage) SettleDeposit(ctx context.Context, depositID string, picks []Pick, opts SettleOptions) (*SettleResult, error) {
	var result *SettleResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		dep, err := getDeposit(tx, depositID)
		if err != nil {
			return err
		}
		if dep == nil {
			return fmt.Errorf("%w: deposit %s", reconcile.ErrNotFound, depositID)
		}
		if reconcile.IsTerminal(dep.Status) {
			return fmt.Errorf("%w: deposit %s is %s",
				reconcile.ErrPreconditionFailed, depositID, dep.Status)
		}

		now := time.Now().UTC()
		actor := actorOrSystem(opts.Actor)
		matched := dep.MatchedTotal
		remaining := reconcile.Remaining(dep.Amount, matched)
		var applied []AppliedUse

		// Attribution seen across consumed sales; propagated onto the
		// deposit only when consistent and the deposit has none.
		vendorName := dep.VendorName
		storeName := dep.StoreName

		for _, p := range picks {
			if remaining <= reconcile.Epsilon {
				break
			}

			sale, err := getSale(tx, p.CounterpartyID)
			if err != nil {
				return err
			}
			if sale == nil {
				continue
			}

			saleRem := reconcile.Remaining(sale.GrossPayments, sale.MatchedTotal)
			use := clampUse(p.UseAmount, saleRem, remaining)
			if use <= reconcile.Epsilon {
				continue
			}

			newSaleMatched := reconcile.Round2(sale.MatchedTotal + use)
			newSaleRem := reconcile.Remaining(sale.GrossPayments, newSaleMatched)
			saleStatus := reconcile.SaleStatusAfter(newSaleRem, newSaleMatched, opts.Manual)

			var saleSettledAt any
			if sale.SettledAt != nil {
				saleSettledAt = *sale.SettledAt
			}
			if newSaleRem <= reconcile.Epsilon && saleSettledAt == nil {
				saleSettledAt = now
			}

			_, err = tx.Exec(`
				UPDATE sales
				SET matched_total = ?, remaining_amount = ?, status = ?,
				    candidate_deposit_ids = '[]', settled_at = ?
				WHERE id = ?`,
				newSaleMatched, newSaleRem, saleStatus, saleSettledAt, sale.ID)
			if err != nil {
				return err
			}

			linkID, err := insertLink(tx, dep.ID, sale.ID, use, now)
			if err != nil {
				return err
			}

			err = insertHistory(tx, HistoryEntry{
				RecordType:     RecordSale,
				RecordID:       sale.ID,
				Action:         settleAction(opts.Manual),
				CounterpartyID: dep.ID,
				Amount:         use,
				Details:        opts.Comment,
				Actor:          actor,
				CreatedAt:      now,
			})
			if err != nil {
				return err
			}

			if vendorName == "" {
				vendorName = sale.StaffMemberName
			}
			if storeName == "" {
				storeName = sale.StoreName
			}

			matched = reconcile.Round2(matched + use)
			remaining = reconcile.Remaining(dep.Amount, matched)
			applied = append(applied, AppliedUse{LinkID: linkID, CounterpartyID: sale.ID, Amount: use})
		}

		depStatus := dep.Status
		if len(applied) > 0 {
			depStatus = reconcile.DepositStatusAfter(remaining, matched,
				dep.Status == reconcile.StatusReserved, opts.Manual)

			var depSettledAt any
			if dep.SettledAt != nil {
				depSettledAt = *dep.SettledAt
			}
			if remaining <= reconcile.Epsilon && depSettledAt == nil {
				depSettledAt = now
			}

			_, err = tx.Exec(`
				UPDATE deposits
				SET matched_total = ?, remaining_amount = ?, status = ?,
				    vendor_name = ?, store_name = ?, candidate_sale_ids = '[]', settled_at = ?
				WHERE id = ?`,
				matched, remaining, depStatus, vendorName, storeName, depSettledAt, dep.ID)
			if err != nil {
				return err
			}

			for _, a := range applied {
				err = insertHistory(tx, HistoryEntry{
					RecordType:     RecordDeposit,
					RecordID:       dep.ID,
					Action:         settleAction(opts.Manual),
					CounterpartyID: a.CounterpartyID,
					Amount:         a.Amount,
					Details:        opts.Comment,
					Actor:          actor,
					CreatedAt:      now,
				})
				if err != nil {
					return err
				}
			}
		}

		result = &SettleResult{
			Applied:         applied,
			TargetStatus:    depStatus,
			TargetMatched:   matched,
			TargetRemaining: remaining,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RevertDeposit is the exact structural inverse of settlement. The
// link ledger tells it precisely which sale gave what, so restoration
// needs no recomputation or search.
func (s *Storage) RevertDeposit(ctx context.Context, depositID, reason, actor string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		dep, err := getDeposit(tx, depositID)
		if err != nil {
			return err
		}
		if dep == nil {
			return fmt.Errorf("%w: deposit %s", reconcile.ErrNotFound, depositID)
		}
		if !reconcile.IsTerminal(dep.Status) && dep.Status != reconcile.StatusPartial {
			return fmt.Errorf("%w: deposit %s is %s, not terminal or partial",
				reconcile.ErrPreconditionFailed, depositID, dep.Status)
		}

		now := time.Now().UTC()
		who := actorOrSystem(actor)

		links, err := queryLinks(tx, `deposit_id`, depositID)
		if err != nil {
			return err
		}

		for _, link := range links {
			sale, err := getSale(tx, link.SaleID)
			if err != nil {
				return err
			}
			if sale != nil {
				newMatched := reconcile.Round2(sale.MatchedTotal - link.Amount)
				if newMatched < 0 {
					newMatched = 0
				}
				newRem := reconcile.Remaining(sale.GrossPayments, newMatched)

				// Freed balance always goes back to review, never
				// silently to a terminal state.
				status := sale.Status
				var settledAt any
				if sale.SettledAt != nil {
					settledAt = *sale.SettledAt
				}
				if newRem > reconcile.Epsilon {
					status = reconcile.StatusPendingReview
					settledAt = nil
				}

				_, err = tx.Exec(`
					UPDATE sales
					SET matched_total = ?, remaining_amount = ?, status = ?, settled_at = ?
					WHERE id = ?`,
					newMatched, newRem, status, settledAt, sale.ID)
				if err != nil {
					return err
				}

				err = insertHistory(tx, HistoryEntry{
					RecordType:     RecordSale,
					RecordID:       sale.ID,
					Action:         ActionRevertMatch,
					CounterpartyID: depositID,
					Amount:         link.Amount,
					Details:        reason,
					Actor:          who,
					CreatedAt:      now,
				})
				if err != nil {
					return err
				}
			}

			if _, err := tx.Exec(`DELETE FROM match_links WHERE id = ?`, link.ID); err != nil {
				return err
			}
		}

		// Reset the target: balances restored in full, propagated
		// attribution cleared, back to open.
		_, err = tx.Exec(`
			UPDATE deposits
			SET status = ?, matched_total = 0, remaining_amount = ?,
			    vendor_name = '', store_name = '', candidate_sale_ids = '[]', settled_at = NULL
			WHERE id = ?`,
			reconcile.StatusOpen, reconcile.Round2(dep.Amount), depositID)
		if err != nil {
			return err
		}

		return insertHistory(tx, HistoryEntry{
			RecordType: RecordDeposit,
			RecordID:   depositID,
			Action:     ActionRevert,
			Details:    reason,
			Actor:      who,
			CreatedAt:  now,
		})
	})
}

// RefundDeposit marks a non-terminal deposit refunded. No links are
// created or removed and balances stay as they are, so the link-sum
// invariant holds even for a partially matched deposit.
func (s *Storage) RefundDeposit(ctx context.Context, depositID, comment, actor string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		dep, err := getDeposit(tx, depositID)
		if err != nil {
			return err
		}
		if dep == nil {
			return fmt.Errorf("%w: deposit %s", reconcile.ErrNotFound, depositID)
		}
		if reconcile.IsTerminal(dep.Status) {
			return fmt.Errorf("%w: deposit %s already %s",
				reconcile.ErrPreconditionFailed, depositID, dep.Status)
		}

		now := time.Now().UTC()
		_, err = tx.Exec(`
			UPDATE deposits SET status = ?, settled_at = ? WHERE id = ?`,
			reconcile.StatusRefunded, now, depositID)
		if err != nil {
			return err
		}

		return insertHistory(tx, HistoryEntry{
			RecordType: RecordDeposit,
			RecordID:   depositID,
			Action:     ActionRefund,
			Details:    comment,
			Actor:      actorOrSystem(actor),
			CreatedAt:  now,
		})
	})
}

// clampUse bounds a requested amount by both sides' true remaining
// balances. A zero request means "as much as fits".
func clampUse(requested, counterpartyRemaining, targetRemaining float64) float64 {
	use := requested
	if use <= 0 {
		use = targetRemaining
	}
	if counterpartyRemaining < use {
		use = counterpartyRemaining
	}
	if targetRemaining < use {
		use = targetRemaining
	}
	return reconcile.Round2(use)
}
