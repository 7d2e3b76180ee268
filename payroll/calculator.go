/*
Package payroll computes monthly salaries and posts them to the hold ledger.

PURPOSE:
  Calculator is a pure function from (salary structure, month, attendance)
  to a salary breakdown. Processor orchestrates one month for one employee:
  it runs the calculator, persists the paid record and accrues the hold, all
  in one transaction.

FORMULAS (all amounts decimal, rounding is half-up to 2 places):
  grossSalary     = basicSalary + Σ allowances
  dailyRate       = basicSalary / calendar days in month
  leaveDeductions = round2(dailyRate × (unpaidLeaveDays + 0.5 × halfDays))
  fixedDeductions = Σ deductions
  holdAmount      = round2((gross − fixed − leave) × holdPercent / 100), floored at 0
  payableNet      = gross − fixed − leave − holdAmount

  A negative payableNet is an error (InvalidSalaryComputation), never a
  negative payout.

EXAMPLE:
  basic 30000, hra 3000, pf 1800, hold 10%, 30-day month, 2 unpaid days
  dailyRate 1000, leave 2000, gross 33000, hold 2920, payableNet 26280

SEE ALSO:
  - processor.go: Persistence and ledger posting
  - hold/ledger.go: Where hold amounts accrue
*/
package payroll

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/holdpay/generic"
)

// DefaultHoldPercent applies when a salary structure does not set its own.
var DefaultHoldPercent = decimal.NewFromInt(10)

var (
	half    = decimal.NewFromFloat(0.5)
	hundred = decimal.NewFromInt(100)
)

// Calculator turns a salary structure and an attendance summary into a
// pending salary record. It has no state beyond its configuration.
type Calculator struct {
	DefaultHoldPercent decimal.Decimal
}

func NewCalculator(defaultHoldPercent decimal.Decimal) *Calculator {
	return &Calculator{DefaultHoldPercent: defaultHoldPercent}
}

// HoldPercentFor returns the structure's hold percent, or the default.
func (c *Calculator) HoldPercentFor(s generic.SalaryStructure) decimal.Decimal {
	if s.HoldPercent != nil {
		return *s.HoldPercent
	}
	return c.DefaultHoldPercent
}

// Calculate produces a pending record for employeeID and month.
func (c *Calculator) Calculate(employeeID generic.EmployeeID, s generic.SalaryStructure, month generic.Month, a generic.AttendanceSummary) (generic.SalaryRecord, error) {
	if err := c.ValidateStructure(s); err != nil {
		return generic.SalaryRecord{}, err
	}
	if err := ValidateAttendance(a, month); err != nil {
		return generic.SalaryRecord{}, err
	}
	holdPercent := c.HoldPercentFor(s)

	gross := s.BasicSalary.Add(generic.Sum(s.Allowances))
	fixed := generic.Sum(s.Deductions)

	dailyRate := s.BasicSalary.Div(decimal.NewFromInt(int64(month.Days())))
	leaveDays := decimal.NewFromInt(int64(a.UnpaidLeaveDays)).
		Add(decimal.NewFromInt(int64(a.HalfDays)).Mul(half))
	leave := generic.Round2(dailyRate.Mul(leaveDays))

	base := gross.Sub(fixed).Sub(leave)
	hold := decimal.Zero
	if base.IsPositive() {
		hold = generic.Round2(base.Mul(holdPercent).Div(hundred))
	}

	net := base.Sub(hold)
	if net.IsNegative() {
		return generic.SalaryRecord{}, &generic.InvalidSalaryComputationError{
			EmployeeID: employeeID,
			Month:      month,
			PayableNet: net,
		}
	}

	return generic.SalaryRecord{
		EmployeeID:      employeeID,
		Month:           month,
		GrossSalary:     gross,
		FixedDeductions: fixed,
		LeaveDeductions: leave,
		DailyRate:       generic.Round2(dailyRate),
		HoldPercent:     holdPercent,
		HoldAmount:      hold,
		PayableNet:      net,
		Status:          generic.SalaryPending,
	}, nil
}

// ValidateStructure rejects negative amounts and hold percents outside 0-100.
func (c *Calculator) ValidateStructure(s generic.SalaryStructure) error {
	if s.BasicSalary.IsNegative() {
		return fmt.Errorf("%w: basic salary %s is negative", generic.ErrInvalidInput, s.BasicSalary)
	}
	for name, v := range s.Allowances {
		if v.IsNegative() {
			return fmt.Errorf("%w: allowance %q is negative", generic.ErrInvalidInput, name)
		}
	}
	for name, v := range s.Deductions {
		if v.IsNegative() {
			return fmt.Errorf("%w: deduction %q is negative", generic.ErrInvalidInput, name)
		}
	}
	pct := c.HoldPercentFor(s)
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return fmt.Errorf("%w: hold percent %s outside 0-100", generic.ErrInvalidInput, pct)
	}
	return nil
}

// ValidateAttendance rejects negative counts and a summary for another month.
func ValidateAttendance(a generic.AttendanceSummary, month generic.Month) error {
	if month.IsZero() {
		return fmt.Errorf("%w: month is required", generic.ErrInvalidInput)
	}
	if a.UnpaidLeaveDays < 0 || a.HalfDays < 0 || a.TotalWorkingDays < 0 {
		return fmt.Errorf("%w: attendance counts must not be negative", generic.ErrInvalidInput)
	}
	if !a.Month.IsZero() && a.Month != month {
		return fmt.Errorf("%w: attendance is for %s, not %s", generic.ErrInvalidInput, a.Month, month)
	}
	return nil
}
