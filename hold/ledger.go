/*
Package hold implements the hold ledger and the withdrawal workflow.

PURPOSE:
  A share of every paid salary is retained as "hold". Each payment appends
  one accrual entry which matures a fixed number of calendar months later.
  Matured funds can be claimed through withdrawal requests that an admin
  approves or rejects.

  The balance is never stored. It is always derived from the accrual log,
  the withdrawals recorded on approval and the pending requests:

    totalAccrued = Σ accrual.amount
    matured      = Σ accrual.amount where date(maturesAt) ≤ date(asOf)
    withdrawable = matured − lifetime withdrawn − Σ pending request amounts
    holdBalance  = totalAccrued − lifetime withdrawn

CRITICAL INVARIANTS:
  1. APPEND-ONLY: accruals and withdrawals are never edited or deleted
  2. ONE ACCRUAL PER (employee, accruedAt): the store rejects duplicates
  3. NO OVERDRAW: a request is only created when it fits in withdrawable,
     and that check runs under the employee lock in the same transaction
     as the insert

MATURITY:
  maturesAt = accruedAt + N calendar months, day clamped to the last day of
  the target month (Jan 31 -> Apr 30). Comparison is by calendar date, so
  an entry maturing 2024-04-30 is withdrawable on 2024-04-30 at any hour.

SEE ALSO:
  - workflow.go: Request/approve/reject state machine
  - generic/lock.go: Per-employee lock
*/
package hold

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/warp/holdpay/generic"
)

// DefaultMaturityMonths is how long an accrual is held before it can be withdrawn.
const DefaultMaturityMonths = 3

// =============================================================================
// LEDGER
// =============================================================================

// Ledger maintains the accrual log and answers balance queries.
type Ledger struct {
	Store          generic.Store
	MaturityMonths int
	Now            func() time.Time
	Logger         zerolog.Logger
}

func NewLedger(store generic.Store, logger zerolog.Logger) *Ledger {
	return &Ledger{
		Store:          store,
		MaturityMonths: DefaultMaturityMonths,
		Now:            func() time.Time { return time.Now().UTC() },
		Logger:         logger,
	}
}

// WithStore returns a copy of the ledger bound to s. Callers running inside
// TxStore.WithTx use it so ledger reads and writes join their transaction.
func (l *Ledger) WithStore(s generic.Store) *Ledger {
	c := *l
	c.Store = s
	return &c
}

// MaturityOf returns when an accrual made at accruedAt becomes withdrawable.
func (l *Ledger) MaturityOf(accruedAt time.Time) time.Time {
	months := l.MaturityMonths
	if months <= 0 {
		months = DefaultMaturityMonths
	}
	return generic.AddMonthsClamped(accruedAt, months)
}

// Accrue appends one accrual entry. referenceID names the salary record that
// produced it. A zero amount is recorded so every paid month has its entry.
func (l *Ledger) Accrue(ctx context.Context, employeeID generic.EmployeeID, amount decimal.Decimal, accruedAt time.Time, referenceID string) (*generic.HoldAccrualEntry, error) {
	if employeeID == "" {
		return nil, fmt.Errorf("%w: employee id is required", generic.ErrInvalidInput)
	}
	if amount.IsNegative() {
		return nil, fmt.Errorf("%w: accrual amount %s is negative", generic.ErrInvalidInput, amount)
	}
	if accruedAt.IsZero() {
		return nil, fmt.Errorf("%w: accrual date is required", generic.ErrInvalidInput)
	}

	entry := generic.HoldAccrualEntry{
		ID:          generic.EntryID(uuid.NewString()),
		EmployeeID:  employeeID,
		Amount:      amount,
		AccruedAt:   accruedAt,
		MaturesAt:   l.MaturityOf(accruedAt),
		ReferenceID: referenceID,
		CreatedAt:   l.now(),
	}

	if err := l.Store.AppendAccrual(ctx, entry); err != nil {
		if errors.Is(err, generic.ErrDuplicateAccrual) {
			l.Logger.Error().
				Bool("bug_signal", true).
				Str("employee_id", string(employeeID)).
				Time("accrued_at", accruedAt).
				Str("reference_id", referenceID).
				Msg("duplicate hold accrual rejected")
		}
		return nil, err
	}

	l.Logger.Info().
		Str("employee_id", string(employeeID)).
		Str("entry_id", string(entry.ID)).
		Str("amount", amount.StringFixed(2)).
		Time("matures_at", entry.MaturesAt).
		Msg("hold accrued")

	return &entry, nil
}

// Snapshot computes the hold account of employeeID as of asOf.
// When the ledger's store is transactional the three reads share one
// transaction.
func (l *Ledger) Snapshot(ctx context.Context, employeeID generic.EmployeeID, asOf time.Time) (generic.HoldSnapshot, error) {
	var snap generic.HoldSnapshot
	err := l.read(ctx, func(s generic.Store) error {
		var err error
		snap, err = snapshotFrom(ctx, s, employeeID, asOf, "")
		return err
	})
	return snap, err
}

// Entries returns the accrual log of employeeID, oldest first.
func (l *Ledger) Entries(ctx context.Context, employeeID generic.EmployeeID) ([]generic.HoldAccrualEntry, error) {
	return l.Store.LoadAccruals(ctx, employeeID)
}

// recordWithdrawal adds an approved request to the lifetime-withdrawn total.
// Only the workflow calls it, inside the approval transaction.
func (l *Ledger) recordWithdrawal(ctx context.Context, req generic.WithdrawalRequest, at time.Time) error {
	w := generic.Withdrawal{
		ID:          generic.EntryID(uuid.NewString()),
		EmployeeID:  req.EmployeeID,
		RequestID:   req.ID,
		Amount:      req.Amount,
		WithdrawnAt: at,
	}
	if err := l.Store.AppendWithdrawal(ctx, w); err != nil {
		return fmt.Errorf("failed to record withdrawal for %s: %w", req.ID, err)
	}
	return nil
}

func (l *Ledger) read(ctx context.Context, fn func(generic.Store) error) error {
	if ts, ok := l.Store.(generic.TxStore); ok {
		return ts.WithTx(ctx, fn)
	}
	return fn(l.Store)
}

func (l *Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now().UTC()
}

// =============================================================================
// SNAPSHOT COMPUTATION
// =============================================================================

// snapshotFrom loads everything a snapshot needs through s. Pending requests
// other than exclude count against withdrawable.
func snapshotFrom(ctx context.Context, s generic.Store, employeeID generic.EmployeeID, asOf time.Time, exclude generic.RequestID) (generic.HoldSnapshot, error) {
	entries, err := s.LoadAccruals(ctx, employeeID)
	if err != nil {
		return generic.HoldSnapshot{}, err
	}
	withdrawals, err := s.LoadWithdrawals(ctx, employeeID)
	if err != nil {
		return generic.HoldSnapshot{}, err
	}
	requests, err := s.ListRequestsByEmployee(ctx, employeeID)
	if err != nil {
		return generic.HoldSnapshot{}, err
	}
	return ComputeSnapshot(employeeID, asOf, entries, withdrawals, requests, exclude), nil
}

// ComputeSnapshot derives the hold account from its inputs. It is pure.
//
// Only events dated on or before asOf's calendar date count, so a snapshot
// of a past date sees the account as it stood at the end of that day. A
// request counts as pending if it was filed by then and was still undecided
// at the end of the day.
func ComputeSnapshot(
	employeeID generic.EmployeeID,
	asOf time.Time,
	entries []generic.HoldAccrualEntry,
	withdrawals []generic.Withdrawal,
	requests []generic.WithdrawalRequest,
	exclude generic.RequestID,
) generic.HoldSnapshot {
	snap := generic.HoldSnapshot{
		EmployeeID:        employeeID,
		AsOf:              asOf,
		TotalAccrued:      decimal.Zero,
		Matured:           decimal.Zero,
		LifetimeWithdrawn: decimal.Zero,
		Pending:           decimal.Zero,
	}

	for _, e := range entries {
		if !generic.OnOrBefore(e.AccruedAt, asOf) {
			continue
		}
		snap.TotalAccrued = snap.TotalAccrued.Add(e.Amount)
		if e.MaturedBy(asOf) {
			snap.Matured = snap.Matured.Add(e.Amount)
		}
	}
	for _, w := range withdrawals {
		if generic.OnOrBefore(w.WithdrawnAt, asOf) {
			snap.LifetimeWithdrawn = snap.LifetimeWithdrawn.Add(w.Amount)
		}
	}
	for _, r := range requests {
		if r.ID != exclude && pendingOn(r, asOf) {
			snap.Pending = snap.Pending.Add(r.Amount)
		}
	}

	snap.Withdrawable = snap.Matured.Sub(snap.LifetimeWithdrawn).Sub(snap.Pending)
	snap.HoldBalance = snap.TotalAccrued.Sub(snap.LifetimeWithdrawn)
	return snap
}

// pendingOn reports whether r was filed and still undecided at the end of
// asOf's calendar date.
func pendingOn(r generic.WithdrawalRequest, asOf time.Time) bool {
	if !generic.OnOrBefore(r.RequestedAt, asOf) {
		return false
	}
	if r.Status == generic.WithdrawalPending {
		return true
	}
	return r.DecidedAt != nil && !generic.OnOrBefore(*r.DecidedAt, asOf)
}
