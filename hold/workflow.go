package hold

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/warp/holdpay/auth"
	"github.com/warp/holdpay/generic"
)

// =============================================================================
// WITHDRAWAL WORKFLOW
// =============================================================================
//
// STATES:
//
//	pending ──approve──▶ approved (terminal, ledger records the withdrawal)
//	   │
//	   └─────reject────▶ rejected (terminal, no ledger change)
//
// A failed approval (StaleWithdrawalRequest) leaves the request pending.
//
// Every state change holds the employee lock and runs in one transaction,
// so the balance read that feeds a decision and the write that follows it
// cannot interleave with another request for the same employee.

// DefaultLockWait bounds how long a call waits for the employee lock.
const DefaultLockWait = 5 * time.Second

type Workflow struct {
	Store    generic.TxStore
	Ledger   *Ledger
	Locker   generic.Locker
	LockWait time.Duration
	Now      func() time.Time
	Logger   zerolog.Logger
}

func NewWorkflow(store generic.TxStore, ledger *Ledger, locker generic.Locker, logger zerolog.Logger) *Workflow {
	if locker == nil {
		locker = generic.NewKeyedMutex()
	}
	return &Workflow{
		Store:    store,
		Ledger:   ledger,
		Locker:   locker,
		LockWait: DefaultLockWait,
		Now:      func() time.Time { return time.Now().UTC() },
		Logger:   logger,
	}
}

// Request creates a pending withdrawal for the calling employee.
// Fails with *generic.InsufficientHoldBalanceError when amount exceeds the
// withdrawable balance, which already excludes other pending requests.
func (w *Workflow) Request(ctx context.Context, caller auth.Caller, employeeID generic.EmployeeID, amount decimal.Decimal) (*generic.WithdrawalRequest, error) {
	if err := auth.AssertRole(caller, employeeID, auth.AccessSelf); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: withdrawal amount must be positive, got %s", generic.ErrInvalidInput, amount)
	}
	if !amount.Equal(generic.Round2(amount)) {
		return nil, fmt.Errorf("%w: withdrawal amount %s has more than 2 decimal places", generic.ErrInvalidInput, amount)
	}

	var created generic.WithdrawalRequest
	err := w.withEmployee(ctx, employeeID, func(tx generic.Store) error {
		if _, err := tx.GetEmployee(ctx, employeeID); err != nil {
			return err
		}

		now := w.now()
		snap, err := snapshotFrom(ctx, tx, employeeID, now, "")
		if err != nil {
			return err
		}
		if amount.GreaterThan(snap.Withdrawable) {
			return &generic.InsufficientHoldBalanceError{
				EmployeeID:   employeeID,
				Withdrawable: snap.Withdrawable,
				Requested:    amount,
			}
		}

		created = generic.WithdrawalRequest{
			ID:          generic.RequestID(uuid.NewString()),
			EmployeeID:  employeeID,
			Amount:      amount,
			Status:      generic.WithdrawalPending,
			RequestedAt: now,
		}
		return tx.SaveRequest(ctx, created)
	})
	if err != nil {
		return nil, err
	}

	w.Logger.Info().
		Str("employee_id", string(employeeID)).
		Str("request_id", string(created.ID)).
		Str("amount", amount.StringFixed(2)).
		Msg("withdrawal requested")

	return &created, nil
}

// Approve moves a pending request to approved and records the withdrawal.
// The amount is re-validated against the balance at approval time; if it
// no longer fits, *generic.StaleWithdrawalRequestError is returned and the
// request stays pending.
func (w *Workflow) Approve(ctx context.Context, caller auth.Caller, requestID generic.RequestID, paymentMethod string) (*generic.WithdrawalRequest, error) {
	if err := auth.AssertRole(caller, "", auth.AccessAdmin); err != nil {
		return nil, err
	}
	if paymentMethod == "" {
		return nil, fmt.Errorf("%w: payment method is required", generic.ErrInvalidInput)
	}

	employeeID, err := w.employeeOf(ctx, requestID)
	if err != nil {
		return nil, err
	}

	var approved generic.WithdrawalRequest
	err = w.withEmployee(ctx, employeeID, func(tx generic.Store) error {
		req, err := pendingRequest(ctx, tx, requestID)
		if err != nil {
			return err
		}

		now := w.now()
		snap, err := snapshotFrom(ctx, tx, employeeID, now, req.ID)
		if err != nil {
			return err
		}
		if req.Amount.GreaterThan(snap.Withdrawable) {
			return &generic.StaleWithdrawalRequestError{
				RequestID:    req.ID,
				Withdrawable: snap.Withdrawable,
				Requested:    req.Amount,
			}
		}

		req.Status = generic.WithdrawalApproved
		req.DecidedAt = &now
		req.DecidedBy = caller.ID
		req.PaymentMethod = paymentMethod
		if err := tx.SaveRequest(ctx, *req); err != nil {
			return err
		}
		if err := w.Ledger.WithStore(tx).recordWithdrawal(ctx, *req, now); err != nil {
			return err
		}
		approved = *req
		return nil
	})
	if err != nil {
		return nil, err
	}

	w.Logger.Info().
		Str("employee_id", string(employeeID)).
		Str("request_id", string(requestID)).
		Str("amount", approved.Amount.StringFixed(2)).
		Str("payment_method", paymentMethod).
		Str("decided_by", caller.ID).
		Msg("withdrawal approved")

	return &approved, nil
}

// Reject moves a pending request to rejected. Rejecting a request that is
// already decided fails with *generic.RequestNotPendingError and changes
// nothing.
func (w *Workflow) Reject(ctx context.Context, caller auth.Caller, requestID generic.RequestID, reason string) (*generic.WithdrawalRequest, error) {
	if err := auth.AssertRole(caller, "", auth.AccessAdmin); err != nil {
		return nil, err
	}

	employeeID, err := w.employeeOf(ctx, requestID)
	if err != nil {
		return nil, err
	}

	var rejected generic.WithdrawalRequest
	err = w.withEmployee(ctx, employeeID, func(tx generic.Store) error {
		req, err := pendingRequest(ctx, tx, requestID)
		if err != nil {
			return err
		}

		now := w.now()
		req.Status = generic.WithdrawalRejected
		req.DecidedAt = &now
		req.DecidedBy = caller.ID
		req.RejectionReason = reason
		if err := tx.SaveRequest(ctx, *req); err != nil {
			return err
		}
		rejected = *req
		return nil
	})
	if err != nil {
		return nil, err
	}

	w.Logger.Info().
		Str("employee_id", string(employeeID)).
		Str("request_id", string(requestID)).
		Str("reason", reason).
		Str("decided_by", caller.ID).
		Msg("withdrawal rejected")

	return &rejected, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// ListByStatus returns every request in status, oldest first. Admin only.
func (w *Workflow) ListByStatus(ctx context.Context, caller auth.Caller, status generic.WithdrawalStatus) ([]generic.WithdrawalRequest, error) {
	if err := auth.AssertRole(caller, "", auth.AccessAdmin); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", generic.ErrInvalidInput, status)
	}
	return w.Store.ListRequestsByStatus(ctx, status)
}

// ListForEmployee returns the employee's own requests, oldest first.
func (w *Workflow) ListForEmployee(ctx context.Context, caller auth.Caller, employeeID generic.EmployeeID) ([]generic.WithdrawalRequest, error) {
	if err := auth.AssertRole(caller, employeeID, auth.AccessSelf, auth.AccessAdmin); err != nil {
		return nil, err
	}
	return w.Store.ListRequestsByEmployee(ctx, employeeID)
}

// Snapshot returns the hold account of employeeID. A zero asOf means now.
func (w *Workflow) Snapshot(ctx context.Context, caller auth.Caller, employeeID generic.EmployeeID, asOf time.Time) (generic.HoldSnapshot, error) {
	if err := auth.AssertRole(caller, employeeID, auth.AccessSelf, auth.AccessAdmin); err != nil {
		return generic.HoldSnapshot{}, err
	}
	if asOf.IsZero() {
		asOf = w.now()
	}

	var snap generic.HoldSnapshot
	err := w.Store.WithTx(ctx, func(tx generic.Store) error {
		if _, err := tx.GetEmployee(ctx, employeeID); err != nil {
			return err
		}
		var err error
		snap, err = snapshotFrom(ctx, tx, employeeID, asOf, "")
		return err
	})
	return snap, err
}

// Entries returns the employee's accrual log with maturity dates.
func (w *Workflow) Entries(ctx context.Context, caller auth.Caller, employeeID generic.EmployeeID) ([]generic.HoldAccrualEntry, error) {
	if err := auth.AssertRole(caller, employeeID, auth.AccessSelf, auth.AccessAdmin); err != nil {
		return nil, err
	}
	return w.Ledger.Entries(ctx, employeeID)
}

// =============================================================================
// HELPERS
// =============================================================================

func (w *Workflow) withEmployee(ctx context.Context, employeeID generic.EmployeeID, fn func(generic.Store) error) error {
	return generic.WithLock(ctx, w.Locker, generic.EmployeeLockKey(employeeID), w.LockWait, func() error {
		return w.Store.WithTx(ctx, fn)
	})
}

// employeeOf finds the lock key of a request. The employee of a request
// never changes, so reading it before taking the lock is safe.
func (w *Workflow) employeeOf(ctx context.Context, requestID generic.RequestID) (generic.EmployeeID, error) {
	req, err := w.Store.GetRequest(ctx, requestID)
	if err != nil {
		return "", err
	}
	return req.EmployeeID, nil
}

func pendingRequest(ctx context.Context, tx generic.Store, requestID generic.RequestID) (*generic.WithdrawalRequest, error) {
	req, err := tx.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != generic.WithdrawalPending {
		return nil, &generic.RequestNotPendingError{RequestID: req.ID, Status: req.Status}
	}
	return req, nil
}

func (w *Workflow) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now().UTC()
}
