package payroll

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/warp/holdpay/auth"
	"github.com/warp/holdpay/generic"
)

// Roster administers the local copy of the employee directory: employees,
// their salary structures and monthly attendance summaries.
type Roster struct {
	Store      generic.DirectoryStore
	Calculator *Calculator
	Logger     zerolog.Logger
}

func NewRoster(store generic.DirectoryStore, calc *Calculator, logger zerolog.Logger) *Roster {
	return &Roster{Store: store, Calculator: calc, Logger: logger}
}

// SaveEmployee creates or replaces an employee. Admin only.
func (r *Roster) SaveEmployee(ctx context.Context, caller auth.Caller, emp generic.Employee) (*generic.Employee, error) {
	if err := auth.AssertRole(caller, "", auth.AccessAdmin); err != nil {
		return nil, err
	}
	if emp.ID == "" || emp.Name == "" {
		return nil, fmt.Errorf("%w: employee id and name are required", generic.ErrInvalidInput)
	}
	switch emp.Status {
	case "":
		emp.Status = generic.EmploymentActive
	case generic.EmploymentActive, generic.EmploymentInactive:
	default:
		return nil, fmt.Errorf("%w: unknown employment status %q", generic.ErrInvalidInput, emp.Status)
	}
	if err := r.Calculator.ValidateStructure(emp.Salary); err != nil {
		return nil, err
	}

	if err := r.Store.SaveEmployee(ctx, emp); err != nil {
		return nil, err
	}
	r.Logger.Info().Str("employee_id", string(emp.ID)).Str("status", string(emp.Status)).Msg("employee saved")
	return r.Store.GetEmployee(ctx, emp.ID)
}

// GetEmployee returns an employee to themselves or an admin.
func (r *Roster) GetEmployee(ctx context.Context, caller auth.Caller, id generic.EmployeeID) (*generic.Employee, error) {
	if err := auth.AssertRole(caller, id, auth.AccessSelf, auth.AccessAdmin); err != nil {
		return nil, err
	}
	return r.Store.GetEmployee(ctx, id)
}

func (r *Roster) ListEmployees(ctx context.Context, caller auth.Caller) ([]generic.Employee, error) {
	if err := auth.AssertRole(caller, "", auth.AccessAdmin); err != nil {
		return nil, err
	}
	return r.Store.ListEmployees(ctx)
}

// RecordAttendance stores the attendance summary of one month. Admin only.
func (r *Roster) RecordAttendance(ctx context.Context, caller auth.Caller, a generic.AttendanceSummary) error {
	if err := auth.AssertRole(caller, "", auth.AccessAdmin); err != nil {
		return err
	}
	if err := ValidateAttendance(a, a.Month); err != nil {
		return err
	}
	if _, err := r.Store.GetEmployee(ctx, a.EmployeeID); err != nil {
		return err
	}
	if err := r.Store.SaveAttendance(ctx, a); err != nil {
		return err
	}
	r.Logger.Info().
		Str("employee_id", string(a.EmployeeID)).
		Str("month", a.Month.String()).
		Int("unpaid_leave_days", a.UnpaidLeaveDays).
		Int("half_days", a.HalfDays).
		Msg("attendance recorded")
	return nil
}
