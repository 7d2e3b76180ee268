/*
handlers.go - HTTP API handlers for the payroll hold service

PURPOSE:
  Exposes salary processing, the hold ledger and the withdrawal workflow via
  REST API. Handles HTTP request/response and JSON serialization, and
  delegates every decision to payroll/ and hold/.

ENDPOINTS:
  Employees:
    GET    /api/employees                               List employees (admin)
    POST   /api/employees                               Create or replace employee (admin)
    GET    /api/employees/{id}                          Get employee (self/admin)
    PUT    /api/employees/{id}/attendance/{month}       Record attendance (admin)

  Salary:
    GET    /api/employees/{id}/salary                   Salary records, newest first
    GET    /api/employees/{id}/salary/{month}/preview   Calculate without persisting
    POST   /api/employees/{id}/salary/{month}/process   Pay the month and accrue hold (admin)
    GET    /api/employees/{id}/salary/{month}/payslip   PDF payslip of a paid month

  Hold:
    GET    /api/employees/{id}/hold?as_of=YYYY-MM-DD    Hold snapshot
    GET    /api/employees/{id}/hold/entries             Accrual log
    GET    /api/employees/{id}/withdrawals              Employee's requests
    POST   /api/employees/{id}/withdrawals              Request a withdrawal (self)

  Withdrawal review (admin):
    GET    /api/withdrawals?status=pending              Requests by status
    POST   /api/withdrawals/{id}/approve                Approve and record payout
    POST   /api/withdrawals/{id}/reject                 Reject

AUTHENTICATION:
  Every /api route requires "Authorization: Bearer <jwt>". The caller is
  put on the request context by Authenticate and passed explicitly to the
  domain services, which do the role checks.

ERROR HANDLING:
  See errors.go. 400 is only used for bodies that are not valid JSON.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/warp/holdpay/auth"
	"github.com/warp/holdpay/generic"
	"github.com/warp/holdpay/hold"
	"github.com/warp/holdpay/payroll"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     generic.TxStore
	Roster    *payroll.Roster
	Processor *payroll.Processor
	Workflow  *hold.Workflow
	Tokens    *auth.Tokens
	Logger    zerolog.Logger

	// DevMode enables the scenario endpoints, which wipe the database.
	DevMode bool

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler over already-wired services.
func NewHandler(store generic.TxStore, roster *payroll.Roster, processor *payroll.Processor, workflow *hold.Workflow, tokens *auth.Tokens, logger zerolog.Logger) *Handler {
	return &Handler{
		Store:     store,
		Roster:    roster,
		Processor: processor,
		Workflow:  workflow,
		Tokens:    tokens,
		Logger:    logger,
	}
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

// Authenticate resolves the bearer token into an auth.Caller.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, "Missing bearer token", nil)
			return
		}
		caller, err := h.Tokens.Parse(strings.TrimSpace(token))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid bearer token", err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithCaller(r.Context(), caller)))
	})
}

func caller(r *http.Request) auth.Caller {
	return auth.FromContext(r.Context())
}

// =============================================================================
// HEALTH
// =============================================================================

type pinger interface {
	Ping(ctx context.Context) error
}

// Health reports whether the store is reachable.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// ListEmployees returns all employees.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Roster.ListEmployees(r.Context(), caller(r))
	if err != nil {
		writeDomainError(w, r, h.Logger, err)
		return
	}

	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = toEmployeeDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetEmployee returns a single employee.
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	emp, err := h.Roster.GetEmployee(r.Context(), caller(r), employeeParam(r))
	if err != nil {
		writeDomainError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(*emp))
}

// SaveEmployee creates or replaces an employee and its salary structure.
func (h *Handler) SaveEmployee(w http.ResponseWriter, r *http.Request) {
	var req SaveEmployeeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	emp, err := h.Roster.SaveEmployee(r.Context(), caller(r), generic.Employee{
		ID:     generic.EmployeeID(req.ID),
		Name:   req.Name,
		Email:  req.Email,
		Status: generic.EmploymentStatus(req.Status),
		Salary: req.Salary,
	})
	if err != nil {
		writeDomainError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(*emp))
}

// RecordAttendance stores the attendance summary for one month.
// PUT /api/employees/{id}/attendance/{month}
func (h *Handler) RecordAttendance(w http.ResponseWriter, r *http.Request) {
	month, err := monthParam(r)
	if err != nil {
		writeDomainError(w, r, h.Logger, err)
		return
	}
	var req AttendanceRequest
	if !decodeBody(w, r, &req) {
		return
	}

	summary := generic.AttendanceSummary{
		EmployeeID:       employeeParam(r),
		Month:            month,
		UnpaidLeaveDays:  req.UnpaidLeaveDays,
		HalfDays:         req.HalfDays,
		TotalWorkingDays: req.TotalWorkingDays,
	}
	if err := h.Roster.RecordAttendance(r.Context(), caller(r), summary); err != nil {
		writeDomainError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// =============================================================================
// SALARY HANDLERS
// =============================================================================

// ListSalaryRecords returns the employee's salary records, newest first.
func (h *Handler) ListSalaryRecords(w http.ResponseWriter, r *http.Request) {
	records, err := h.Processor.Records(r.Context(), caller(r), employeeParam(r))
	if err != nil {
		writeDomainError(w, r, h.Logger, err)
		return
	}

	dtos := make([]SalaryRecordDTO, len(records))
	for i, rec := range records {
		dtos[i] = toSalaryRecordDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// PreviewSalary calculates a month without persisting anything.
func (h *Handler) PreviewSalary(w http.ResponseWriter, r *http.Request) {
	month, err := monthParam(r)
	if err != nil {
		writeDomainError(w, r, h.Logger, err)
		return
	}
	rec, err := h.Processor.Preview(r.Context(), caller(r), employeeParam(r), month)
	if err != nil {
		writeDomainError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toSalaryRecordDTO(*rec))
}

// ProcessSalary pays a month and accrues its hold.
// POST /api/employees/{id}/salary/{month}/process
func (h *Handler) ProcessSalary(w http.ResponseWriter, r *http.Request) {
	month, err := monthParam(r)
	if err != nil {
		writeDomainError(w, r, h.Logger, err)
		return
	}
	var req ProcessSalaryRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.Processor.Process(r.Context(), caller(r), employeeParam(r), month, req.PaymentMode)
	if err != nil {
		writeDomainError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, ProcessResponse{
		Record:  toSalaryRecordDTO(result.Record),
		Accrual: toHoldEntryDTO(result.Accrual, result.Accrual.AccruedAt),
	})
}

// Payslip streams the PDF payslip of a paid month.
func (h *Handler) Payslip(w http.ResponseWriter, r *http.Request) {
	month, err := monthParam(r)
	if err != nil {
		writeDomainError(w, r, h.Logger, err)
		return
	}
	id := employeeParam(r)
	pdf, err := h.Processor.Payslip(r.Context(), caller(r), id, month)
	if err != nil {
		writeDomainError(w, r, h.Logger, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=payslip-%s-%s.pdf", id, month))
	w.WriteHeader(http.StatusOK)
	w.Write(pdf)
}

// =============================================================================
// HOLD HANDLERS
// =============================================================================

// GetHoldSnapshot returns the hold account, optionally as of a past date.
// GET /api/employees/{id}/hold?as_of=2024-07-30
func (h *Handler) GetHoldSnapshot(w http.ResponseWriter, r *http.Request) {
	var asOf time.Time
	if s := r.URL.Query().Get("as_of"); s != "" {
		d, err := time.Parse("2006-01-02", s)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "Invalid as_of format (use YYYY-MM-DD)", err)
			return
		}
		asOf = d
	}

	snap, err := h.Workflow.Snapshot(r.Context(), caller(r), employeeParam(r), asOf)
	if err != nil {
		writeDomainError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toHoldSnapshotDTO(snap))
}

// ListHoldEntries returns the accrual log with maturity dates.
func (h *Handler) ListHoldEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Workflow.Entries(r.Context(), caller(r), employeeParam(r))
	if err != nil {
		writeDomainError(w, r, h.Logger, err)
		return
	}

	now := time.Now().UTC()
	if h.Workflow.Now != nil {
		now = h.Workflow.Now()
	}
	dtos := make([]HoldEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toHoldEntryDTO(e, now)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// WITHDRAWAL HANDLERS
// =============================================================================

// ListEmployeeWithdrawals returns one employee's requests.
func (h *Handler) ListEmployeeWithdrawals(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.Workflow.ListForEmployee(r.Context(), caller(r), employeeParam(r))
	if err != nil {
		writeDomainError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toWithdrawalRequestDTOs(reqs))
}

// CreateWithdrawal requests a payout of matured hold funds.
// POST /api/employees/{id}/withdrawals
func (h *Handler) CreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req CreateWithdrawalRequest
	if !decodeBody(w, r, &req) {
		return
	}

	created, err := h.Workflow.Request(r.Context(), caller(r), employeeParam(r), req.Amount)
	if err != nil {
		writeDomainError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toWithdrawalRequestDTO(*created))
}

// ListWithdrawals returns requests by status, pending by default.
// GET /api/withdrawals?status=pending
func (h *Handler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	status := generic.WithdrawalStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = generic.WithdrawalPending
	}

	reqs, err := h.Workflow.ListByStatus(r.Context(), caller(r), status)
	if err != nil {
		writeDomainError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toWithdrawalRequestDTOs(reqs))
}

// ApproveWithdrawal approves a pending request and records the payout.
// POST /api/withdrawals/{id}/approve
func (h *Handler) ApproveWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req ApproveWithdrawalRequest
	if !decodeBody(w, r, &req) {
		return
	}

	approved, err := h.Workflow.Approve(r.Context(), caller(r), requestParam(r), req.PaymentMethod)
	if err != nil {
		writeDomainError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toWithdrawalRequestDTO(*approved))
}

// RejectWithdrawal rejects a pending request.
// POST /api/withdrawals/{id}/reject
func (h *Handler) RejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req RejectWithdrawalRequest
	if !decodeBody(w, r, &req) {
		return
	}

	rejected, err := h.Workflow.Reject(r.Context(), caller(r), requestParam(r), req.Reason)
	if err != nil {
		writeDomainError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toWithdrawalRequestDTO(*rejected))
}

// =============================================================================
// HELPERS
// =============================================================================

func employeeParam(r *http.Request) generic.EmployeeID {
	return generic.EmployeeID(chi.URLParam(r, "id"))
}

func requestParam(r *http.Request) generic.RequestID {
	return generic.RequestID(chi.URLParam(r, "id"))
}

func monthParam(r *http.Request) (generic.Month, error) {
	return generic.ParseMonth(chi.URLParam(r, "month"))
}

// decodeBody decodes a JSON body into v. An empty body leaves v zero so the
// domain validation reports the missing fields.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}
