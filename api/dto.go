/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Amounts are decimal.Decimal and marshal as JSON strings. Request bodies
  may send an amount as a string or a number.

TYPES:
  Employee:    EmployeeDTO, SaveEmployeeRequest, AttendanceRequest
  Salary:      SalaryRecordDTO, ProcessSalaryRequest, ProcessResponse
  Hold:        HoldSnapshotDTO, HoldEntryDTO
  Withdrawals: WithdrawalRequestDTO, CreateWithdrawalRequest,
               ApproveWithdrawalRequest, RejectWithdrawalRequest
  Scenarios:   ScenarioDTO, LoadScenarioRequest, LoadScenarioResponse

SEE ALSO:
  - handlers.go: Uses these types
  - errors.go: ErrorResponse
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/holdpay/generic"
)

// =============================================================================
// EMPLOYEES
// =============================================================================

type EmployeeDTO struct {
	ID        string                  `json:"id"`
	Name      string                  `json:"name"`
	Email     string                  `json:"email,omitempty"`
	Status    string                  `json:"status"`
	Salary    generic.SalaryStructure `json:"salary"`
	CreatedAt string                  `json:"created_at,omitempty"`
	UpdatedAt string                  `json:"updated_at,omitempty"`
}

// SaveEmployeeRequest creates or replaces an employee.
type SaveEmployeeRequest struct {
	ID     string                  `json:"id"`
	Name   string                  `json:"name"`
	Email  string                  `json:"email"`
	Status string                  `json:"status,omitempty"`
	Salary generic.SalaryStructure `json:"salary"`
}

// AttendanceRequest is the body of PUT /employees/{id}/attendance/{month}.
type AttendanceRequest struct {
	UnpaidLeaveDays  int `json:"unpaid_leave_days"`
	HalfDays         int `json:"half_days"`
	TotalWorkingDays int `json:"total_working_days,omitempty"`
}

func toEmployeeDTO(e generic.Employee) EmployeeDTO {
	return EmployeeDTO{
		ID:        string(e.ID),
		Name:      e.Name,
		Email:     e.Email,
		Status:    string(e.Status),
		Salary:    e.Salary,
		CreatedAt: formatTimestamp(e.CreatedAt),
		UpdatedAt: formatTimestamp(e.UpdatedAt),
	}
}

// =============================================================================
// SALARY
// =============================================================================

type SalaryRecordDTO struct {
	ID              string          `json:"id,omitempty"`
	EmployeeID      string          `json:"employee_id"`
	Month           generic.Month   `json:"month"`
	GrossSalary     decimal.Decimal `json:"gross_salary"`
	FixedDeductions decimal.Decimal `json:"fixed_deductions"`
	LeaveDeductions decimal.Decimal `json:"leave_deductions"`
	DailyRate       decimal.Decimal `json:"daily_rate"`
	HoldPercent     decimal.Decimal `json:"hold_percent"`
	HoldAmount      decimal.Decimal `json:"hold_amount"`
	PayableNet      decimal.Decimal `json:"payable_net"`
	Status          string          `json:"status"`
	PaymentDate     string          `json:"payment_date,omitempty"`
	PaymentMode     string          `json:"payment_mode,omitempty"`
}

type ProcessSalaryRequest struct {
	PaymentMode string `json:"payment_mode"`
}

type ProcessResponse struct {
	Record  SalaryRecordDTO `json:"record"`
	Accrual HoldEntryDTO    `json:"accrual"`
}

func toSalaryRecordDTO(r generic.SalaryRecord) SalaryRecordDTO {
	dto := SalaryRecordDTO{
		ID:              r.ID,
		EmployeeID:      string(r.EmployeeID),
		Month:           r.Month,
		GrossSalary:     r.GrossSalary,
		FixedDeductions: r.FixedDeductions,
		LeaveDeductions: r.LeaveDeductions,
		DailyRate:       r.DailyRate,
		HoldPercent:     r.HoldPercent,
		HoldAmount:      r.HoldAmount,
		PayableNet:      r.PayableNet,
		Status:          string(r.Status),
		PaymentMode:     r.PaymentMode,
	}
	if r.PaymentDate != nil {
		dto.PaymentDate = r.PaymentDate.Format(time.RFC3339)
	}
	return dto
}

// =============================================================================
// HOLD ACCOUNT
// =============================================================================

type HoldSnapshotDTO struct {
	EmployeeID        string          `json:"employee_id"`
	AsOf              string          `json:"as_of"`
	TotalAccrued      decimal.Decimal `json:"total_accrued"`
	Matured           decimal.Decimal `json:"matured"`
	LifetimeWithdrawn decimal.Decimal `json:"lifetime_withdrawn"`
	Pending           decimal.Decimal `json:"pending"`
	Withdrawable      decimal.Decimal `json:"withdrawable"`
	HoldBalance       decimal.Decimal `json:"hold_balance"`
}

type HoldEntryDTO struct {
	ID          string          `json:"id"`
	Amount      decimal.Decimal `json:"amount"`
	AccruedAt   string          `json:"accrued_at"`
	MaturesAt   string          `json:"matures_at"`
	Matured     bool            `json:"matured"`
	ReferenceID string          `json:"reference_id,omitempty"`
}

func toHoldSnapshotDTO(s generic.HoldSnapshot) HoldSnapshotDTO {
	return HoldSnapshotDTO{
		EmployeeID:        string(s.EmployeeID),
		AsOf:              s.AsOf.Format(time.RFC3339),
		TotalAccrued:      s.TotalAccrued,
		Matured:           s.Matured,
		LifetimeWithdrawn: s.LifetimeWithdrawn,
		Pending:           s.Pending,
		Withdrawable:      s.Withdrawable,
		HoldBalance:       s.HoldBalance,
	}
}

func toHoldEntryDTO(e generic.HoldAccrualEntry, asOf time.Time) HoldEntryDTO {
	return HoldEntryDTO{
		ID:          string(e.ID),
		Amount:      e.Amount,
		AccruedAt:   e.AccruedAt.Format(time.RFC3339),
		MaturesAt:   e.MaturesAt.Format(time.RFC3339),
		Matured:     e.MaturedBy(asOf),
		ReferenceID: e.ReferenceID,
	}
}

// =============================================================================
// WITHDRAWALS
// =============================================================================

type WithdrawalRequestDTO struct {
	ID              string          `json:"id"`
	EmployeeID      string          `json:"employee_id"`
	Amount          decimal.Decimal `json:"amount"`
	Status          string          `json:"status"`
	RequestedAt     string          `json:"requested_at"`
	DecidedAt       string          `json:"decided_at,omitempty"`
	DecidedBy       string          `json:"decided_by,omitempty"`
	PaymentMethod   string          `json:"payment_method,omitempty"`
	RejectionReason string          `json:"rejection_reason,omitempty"`
}

type CreateWithdrawalRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type ApproveWithdrawalRequest struct {
	PaymentMethod string `json:"payment_method"`
}

type RejectWithdrawalRequest struct {
	Reason string `json:"reason"`
}

func toWithdrawalRequestDTO(r generic.WithdrawalRequest) WithdrawalRequestDTO {
	dto := WithdrawalRequestDTO{
		ID:              string(r.ID),
		EmployeeID:      string(r.EmployeeID),
		Amount:          r.Amount,
		Status:          string(r.Status),
		RequestedAt:     r.RequestedAt.Format(time.RFC3339),
		DecidedBy:       r.DecidedBy,
		PaymentMethod:   r.PaymentMethod,
		RejectionReason: r.RejectionReason,
	}
	if r.DecidedAt != nil {
		dto.DecidedAt = r.DecidedAt.Format(time.RFC3339)
	}
	return dto
}

func toWithdrawalRequestDTOs(reqs []generic.WithdrawalRequest) []WithdrawalRequestDTO {
	dtos := make([]WithdrawalRequestDTO, len(reqs))
	for i, r := range reqs {
		dtos[i] = toWithdrawalRequestDTO(r)
	}
	return dtos
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// LoadScenarioResponse carries bearer tokens for the seeded users so the
// demo can be driven without an identity provider.
type LoadScenarioResponse struct {
	Scenario ScenarioDTO       `json:"scenario"`
	Tokens   map[string]string `json:"tokens"`
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
