/*
errors.go - Centralized error types for the hold engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every failure of the calculator, ledger and workflow is returned as one of
  these, never as a silent fallback or a guessed value.

ERROR CATEGORIES:
  1. Computation errors - InvalidSalaryComputation, InvalidInput
  2. Idempotency errors - AlreadyProcessed, DuplicateAccrual
  3. Balance errors     - InsufficientHoldBalance, StaleWithdrawalRequest
  4. Lookup errors      - NotFound
  5. Concurrency errors - LockTimeout

USAGE:
  if errors.Is(err, generic.ErrInsufficientHoldBalance) {
      var ih *generic.InsufficientHoldBalanceError
      errors.As(err, &ih) // ih.Withdrawable is the current withdrawable amount
  }

SEE ALSO:
  - api/errors.go: HTTP status mapping
*/
package generic

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidSalaryComputation is returned when a month would yield a
	// negative payable net. The month is not processed.
	ErrInvalidSalaryComputation = errors.New("invalid salary computation")

	// ErrAlreadyProcessed is returned when a paid record already exists for
	// (employee, month).
	ErrAlreadyProcessed = errors.New("salary already processed for month")

	// ErrDuplicateAccrual guards against accruing the same payment twice.
	// Should never surface in normal operation.
	ErrDuplicateAccrual = errors.New("duplicate hold accrual")

	// ErrDuplicateWithdrawal is returned when a request is paid out twice.
	ErrDuplicateWithdrawal = errors.New("duplicate withdrawal for request")

	// ErrInsufficientHoldBalance is returned when a withdrawal request exceeds
	// the withdrawable amount.
	ErrInsufficientHoldBalance = errors.New("insufficient hold balance")

	// ErrStaleWithdrawalRequest is returned when an approval is no longer
	// satisfiable. The request stays pending.
	ErrStaleWithdrawalRequest = errors.New("stale withdrawal request")

	// ErrRequestNotPending is returned when deciding a request that already
	// reached a terminal state.
	ErrRequestNotPending = errors.New("withdrawal request is not pending")

	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrEmployeeInactive = errors.New("employee is not active")
	ErrLockTimeout      = errors.New("timed out waiting for lock")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

type InvalidSalaryComputationError struct {
	EmployeeID EmployeeID
	Month      Month
	PayableNet decimal.Decimal
}

func (e *InvalidSalaryComputationError) Error() string {
	return fmt.Sprintf("invalid salary computation for %s %s: payable net %s is negative",
		e.EmployeeID, e.Month, e.PayableNet)
}

func (e *InvalidSalaryComputationError) Unwrap() error { return ErrInvalidSalaryComputation }

type InsufficientHoldBalanceError struct {
	EmployeeID   EmployeeID
	Withdrawable decimal.Decimal
	Requested    decimal.Decimal
}

func (e *InsufficientHoldBalanceError) Error() string {
	return fmt.Sprintf("insufficient hold balance: withdrawable %s, requested %s",
		e.Withdrawable, e.Requested)
}

func (e *InsufficientHoldBalanceError) Unwrap() error { return ErrInsufficientHoldBalance }

type StaleWithdrawalRequestError struct {
	RequestID    RequestID
	Withdrawable decimal.Decimal
	Requested    decimal.Decimal
}

func (e *StaleWithdrawalRequestError) Error() string {
	return fmt.Sprintf("withdrawal request %s no longer satisfiable: withdrawable %s, requested %s",
		e.RequestID, e.Withdrawable, e.Requested)
}

func (e *StaleWithdrawalRequestError) Unwrap() error { return ErrStaleWithdrawalRequest }

type RequestNotPendingError struct {
	RequestID RequestID
	Status    WithdrawalStatus
}

func (e *RequestNotPendingError) Error() string {
	return fmt.Sprintf("withdrawal request %s is %s, not pending", e.RequestID, e.Status)
}

func (e *RequestNotPendingError) Unwrap() error { return ErrRequestNotPending }

// NotFoundf wraps ErrNotFound with the missing resource.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input or
// a business rule the caller can act on.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidSalaryComputation) ||
		errors.Is(err, ErrInsufficientHoldBalance) ||
		errors.Is(err, ErrEmployeeInactive)
}

// IsConflict returns true if the error reflects state that changed under the
// caller (or was already changed by an earlier call).
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyProcessed) ||
		errors.Is(err, ErrDuplicateAccrual) ||
		errors.Is(err, ErrStaleWithdrawalRequest) ||
		errors.Is(err, ErrRequestNotPending)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockTimeout)
}
