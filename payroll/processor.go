package payroll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/warp/holdpay/auth"
	"github.com/warp/holdpay/generic"
	"github.com/warp/holdpay/hold"
	"github.com/warp/holdpay/payslip"
)

// =============================================================================
// DIRECTORY - Inputs owned by other systems
// =============================================================================

// Directory supplies the salary structure and attendance of an employee.
type Directory interface {
	GetSalaryStructure(ctx context.Context, id generic.EmployeeID) (generic.SalaryStructure, error)
	GetAttendanceSummary(ctx context.Context, id generic.EmployeeID, month generic.Month) (generic.AttendanceSummary, error)
}

// StoreDirectory reads directory data from the local store.
type StoreDirectory struct {
	Store generic.DirectoryStore
}

func (d StoreDirectory) GetSalaryStructure(ctx context.Context, id generic.EmployeeID) (generic.SalaryStructure, error) {
	emp, err := d.Store.GetEmployee(ctx, id)
	if err != nil {
		return generic.SalaryStructure{}, err
	}
	return emp.Salary, nil
}

// GetAttendanceSummary returns ErrNotFound when the month was never recorded.
func (d StoreDirectory) GetAttendanceSummary(ctx context.Context, id generic.EmployeeID, month generic.Month) (generic.AttendanceSummary, error) {
	a, err := d.Store.GetAttendance(ctx, id, month)
	if err != nil {
		return generic.AttendanceSummary{}, err
	}
	return *a, nil
}

// =============================================================================
// PROCESSOR
// =============================================================================

// ProcessResult is what one processed month produced.
type ProcessResult struct {
	Record  generic.SalaryRecord
	Accrual generic.HoldAccrualEntry
}

// Processor pays one month for one employee.
//
// The paid record and its hold accrual are written in one transaction while
// holding the employee lock, so a retry or a concurrent call for the same
// month sees the paid record and fails with ErrAlreadyProcessed.
type Processor struct {
	Store      generic.TxStore
	Directory  Directory
	Calculator *Calculator
	Ledger     *hold.Ledger
	Locker     generic.Locker
	LockWait   time.Duration
	Now        func() time.Time
	Logger     zerolog.Logger
}

func NewProcessor(store generic.TxStore, calc *Calculator, ledger *hold.Ledger, locker generic.Locker, logger zerolog.Logger) *Processor {
	if locker == nil {
		locker = generic.NewKeyedMutex()
	}
	return &Processor{
		Store:      store,
		Directory:  StoreDirectory{Store: store},
		Calculator: calc,
		Ledger:     ledger,
		Locker:     locker,
		LockWait:   hold.DefaultLockWait,
		Now:        func() time.Time { return time.Now().UTC() },
		Logger:     logger,
	}
}

// Process computes, persists as paid and accrues the hold for (employeeID, month).
func (p *Processor) Process(ctx context.Context, caller auth.Caller, employeeID generic.EmployeeID, month generic.Month, paymentMode string) (*ProcessResult, error) {
	if err := auth.AssertRole(caller, "", auth.AccessAdmin); err != nil {
		return nil, err
	}
	if month.IsZero() {
		return nil, fmt.Errorf("%w: month is required", generic.ErrInvalidInput)
	}
	if paymentMode == "" {
		return nil, fmt.Errorf("%w: payment mode is required", generic.ErrInvalidInput)
	}

	log := p.Logger.With().
		Str("employee_id", string(employeeID)).
		Str("month", month.String()).
		Logger()

	var result ProcessResult
	err := generic.WithLock(ctx, p.Locker, generic.EmployeeLockKey(employeeID), p.LockWait, func() error {
		emp, err := p.Store.GetEmployee(ctx, employeeID)
		if err != nil {
			return err
		}
		if emp.Status == generic.EmploymentInactive {
			return fmt.Errorf("%w: %s", generic.ErrEmployeeInactive, employeeID)
		}
		if err := p.ensureNotPaid(ctx, p.Store, employeeID, month); err != nil {
			return err
		}

		draft, err := p.calculate(ctx, employeeID, month)
		if err != nil {
			return err
		}

		return p.Store.WithTx(ctx, func(tx generic.Store) error {
			if err := p.ensureNotPaid(ctx, tx, employeeID, month); err != nil {
				return err
			}

			now := p.now()
			rec := draft
			rec.ID = uuid.NewString()
			rec.Status = generic.SalaryPaid
			rec.PaymentDate = &now
			rec.PaymentMode = paymentMode
			rec.CreatedAt = now
			if err := tx.SaveSalaryRecord(ctx, rec); err != nil {
				return err
			}

			entry, err := p.Ledger.WithStore(tx).Accrue(ctx, employeeID, rec.HoldAmount, now, rec.ID)
			if err != nil {
				return err
			}

			result = ProcessResult{Record: rec, Accrual: *entry}
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, generic.ErrAlreadyProcessed) {
			log.Info().Msg("salary already processed")
		}
		return nil, err
	}

	log.Info().
		Str("record_id", result.Record.ID).
		Str("payable_net", result.Record.PayableNet.StringFixed(2)).
		Str("hold_amount", result.Record.HoldAmount.StringFixed(2)).
		Str("payment_mode", paymentMode).
		Msg("salary processed")

	return &result, nil
}

// Preview runs the calculator only. Nothing is read from or written to the
// ledger.
func (p *Processor) Preview(ctx context.Context, caller auth.Caller, employeeID generic.EmployeeID, month generic.Month) (*generic.SalaryRecord, error) {
	if err := auth.AssertRole(caller, employeeID, auth.AccessSelf, auth.AccessAdmin); err != nil {
		return nil, err
	}
	rec, err := p.calculate(ctx, employeeID, month)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Records lists the employee's salary records, newest first.
func (p *Processor) Records(ctx context.Context, caller auth.Caller, employeeID generic.EmployeeID) ([]generic.SalaryRecord, error) {
	if err := auth.AssertRole(caller, employeeID, auth.AccessSelf, auth.AccessAdmin); err != nil {
		return nil, err
	}
	return p.Store.ListSalaryRecords(ctx, employeeID)
}

// Payslip renders the PDF payslip of a paid month.
func (p *Processor) Payslip(ctx context.Context, caller auth.Caller, employeeID generic.EmployeeID, month generic.Month) ([]byte, error) {
	if err := auth.AssertRole(caller, employeeID, auth.AccessSelf, auth.AccessAdmin); err != nil {
		return nil, err
	}
	emp, err := p.Store.GetEmployee(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	rec, err := p.Store.GetSalaryRecord(ctx, employeeID, month)
	if err != nil {
		return nil, err
	}
	return payslip.Render(*emp, *rec)
}

func (p *Processor) calculate(ctx context.Context, employeeID generic.EmployeeID, month generic.Month) (generic.SalaryRecord, error) {
	structure, err := p.Directory.GetSalaryStructure(ctx, employeeID)
	if err != nil {
		return generic.SalaryRecord{}, err
	}
	attendance, err := p.Directory.GetAttendanceSummary(ctx, employeeID, month)
	if err != nil {
		return generic.SalaryRecord{}, err
	}
	return p.Calculator.Calculate(employeeID, structure, month, attendance)
}

func (p *Processor) ensureNotPaid(ctx context.Context, s generic.SalaryStore, employeeID generic.EmployeeID, month generic.Month) error {
	existing, err := s.GetSalaryRecord(ctx, employeeID, month)
	if generic.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.IsPaid() {
		return fmt.Errorf("%w: %s %s", generic.ErrAlreadyProcessed, employeeID, month)
	}
	return nil
}

func (p *Processor) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now().UTC()
}
