/*
Package generic provides the core types of the payroll hold engine.

PURPOSE:
  This package contains the records shared by the salary calculator, the hold
  ledger, the withdrawal workflow and every storage backend. It holds no
  business rules beyond small invariants on the values themselves, so that
  payroll/, hold/ and store/ can depend on it without depending on each other.

KEY CONCEPTS IN THIS FILE (types.go):
  - SalaryStructure: basic salary, named allowances/deductions, hold percent
  - AttendanceSummary: unpaid leave and half days for one month
  - SalaryRecord: one computed (and possibly paid) month for one employee
  - HoldAccrualEntry: immutable contribution to the hold balance
  - WithdrawalRequest: employee claim against matured hold funds
  - HoldSnapshot: derived view of an employee's hold account

DESIGN PRINCIPLES:
  1. Precision: every amount is a decimal.Decimal, never a float
  2. Immutability: accruals and withdrawals are appended, never edited
  3. Type Safety: typed IDs prevent mixing employee and request IDs

SEE ALSO:
  - time.go: Month and calendar-month arithmetic
  - store.go: Persistence contracts
  - errors.go: Error taxonomy
*/
package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type RequestID string
type EntryID string

// =============================================================================
// MONEY HELPERS
// =============================================================================

var hundred = decimal.NewFromInt(100)

// Round2 rounds half-up to two decimal places. Amounts in this system are
// never negative when rounded, so half-away-from-zero is half-up.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Sum adds every value of a named amount map.
func Sum(m map[string]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range m {
		total = total.Add(v)
	}
	return total
}

// Percent returns d × pct / 100 without rounding.
func Percent(d, pct decimal.Decimal) decimal.Decimal {
	return d.Mul(pct).Div(hundred)
}

// MustParseDecimal parses a decimal literal and panics if it is malformed.
// Use it for constants only; request and storage input go through
// decimal.NewFromString and return the error.
func MustParseDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// =============================================================================
// EMPLOYEE DIRECTORY RECORDS
// =============================================================================

type EmploymentStatus string

const (
	EmploymentActive   EmploymentStatus = "active"
	EmploymentInactive EmploymentStatus = "inactive"
)

// SalaryStructure is owned by the employee record. It only changes through
// an administrative update and is read once per processing run.
type SalaryStructure struct {
	BasicSalary decimal.Decimal            `json:"basic_salary"`
	Allowances  map[string]decimal.Decimal `json:"allowances,omitempty"`
	Deductions  map[string]decimal.Decimal `json:"deductions,omitempty"`

	// HoldPercent overrides the configured default when set (0-100).
	HoldPercent *decimal.Decimal `json:"hold_percent,omitempty"`
}

type Employee struct {
	ID        EmployeeID
	Name      string
	Email     string
	Status    EmploymentStatus
	Salary    SalaryStructure
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AttendanceSummary is supplied by the attendance ledger. Read-only here.
type AttendanceSummary struct {
	EmployeeID       EmployeeID
	Month            Month
	UnpaidLeaveDays  int
	HalfDays         int
	TotalWorkingDays int
}

// =============================================================================
// SALARY RECORD
// =============================================================================

type SalaryStatus string

const (
	SalaryPending SalaryStatus = "pending"
	SalaryPaid    SalaryStatus = "paid"
)

// SalaryRecord is unique on (EmployeeID, Month). Once paid it is never
// recomputed.
type SalaryRecord struct {
	ID              string
	EmployeeID      EmployeeID
	Month           Month
	GrossSalary     decimal.Decimal
	FixedDeductions decimal.Decimal
	LeaveDeductions decimal.Decimal
	DailyRate       decimal.Decimal
	HoldPercent     decimal.Decimal
	HoldAmount      decimal.Decimal
	PayableNet      decimal.Decimal
	Status          SalaryStatus
	PaymentDate     *time.Time
	PaymentMode     string
	CreatedAt       time.Time
}

func (r SalaryRecord) IsPaid() bool { return r.Status == SalaryPaid }

// =============================================================================
// HOLD LEDGER RECORDS
// =============================================================================

// HoldAccrualEntry is one contribution to an employee's hold balance.
// Unique on (EmployeeID, AccruedAt). Immutable.
type HoldAccrualEntry struct {
	ID          EntryID
	EmployeeID  EmployeeID
	Amount      decimal.Decimal
	AccruedAt   time.Time
	MaturesAt   time.Time
	ReferenceID string // salary record that produced the accrual
	CreatedAt   time.Time
}

// MaturedBy reports whether the entry is withdrawable on asOf's calendar date.
func (e HoldAccrualEntry) MaturedBy(asOf time.Time) bool {
	return OnOrBefore(e.MaturesAt, asOf)
}

// Withdrawal is the ledger side of an approved request. Unique on RequestID.
type Withdrawal struct {
	ID          EntryID
	EmployeeID  EmployeeID
	RequestID   RequestID
	Amount      decimal.Decimal
	WithdrawnAt time.Time
}

// =============================================================================
// WITHDRAWAL REQUEST
// =============================================================================

type WithdrawalStatus string

const (
	WithdrawalPending  WithdrawalStatus = "pending"
	WithdrawalApproved WithdrawalStatus = "approved"
	WithdrawalRejected WithdrawalStatus = "rejected"
)

func (s WithdrawalStatus) Valid() bool {
	switch s {
	case WithdrawalPending, WithdrawalApproved, WithdrawalRejected:
		return true
	}
	return false
}

// Terminal states are never left.
func (s WithdrawalStatus) Terminal() bool {
	return s == WithdrawalApproved || s == WithdrawalRejected
}

type WithdrawalRequest struct {
	ID              RequestID
	EmployeeID      EmployeeID
	Amount          decimal.Decimal
	Status          WithdrawalStatus
	RequestedAt     time.Time
	DecidedAt       *time.Time
	DecidedBy       string
	PaymentMethod   string
	RejectionReason string
}

// =============================================================================
// HOLD SNAPSHOT - Computed view, never persisted
// =============================================================================

type HoldSnapshot struct {
	EmployeeID        EmployeeID
	AsOf              time.Time
	TotalAccrued      decimal.Decimal
	Matured           decimal.Decimal
	LifetimeWithdrawn decimal.Decimal
	Pending           decimal.Decimal
	Withdrawable      decimal.Decimal
	HoldBalance       decimal.Decimal
}
