/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for demos. Each scenario creates employees and attendance, pays
	past months through the real Processor and files withdrawal requests
	through the real Workflow, so every invariant holds on the seeded data.

AVAILABLE SCENARIOS:

	first-payroll:      One employee, last month's attendance, nothing paid yet
	matured-hold:       Six paid months, the oldest three matured
	pending-withdrawal: matured-hold plus one pending and one rejected request

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Save employees with salary structures
 3. Record attendance per month
 4. Process months with a clock set to each month's last day
 5. Optionally file withdrawal requests
 6. Issue demo bearer tokens for the admin and each employee

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "matured-hold"}

NOTE:

	Scenarios reset the database. The routes are only mounted in
	development.

SEE ALSO:
  - handlers.go: Handler wiring
  - server.go: Route mounting
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/holdpay/auth"
	"github.com/warp/holdpay/generic"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "first-payroll",
		Name:        "First Payroll",
		Description: "One employee with last month's attendance, ready to process",
	},
	{
		ID:          "matured-hold",
		Name:        "Matured Hold",
		Description: "Six paid months; holds older than three months are withdrawable",
	},
	{
		ID:          "pending-withdrawal",
		Name:        "Pending Withdrawal",
		Description: "Matured hold with a pending and a rejected withdrawal request",
	},
}

const (
	demoAdminID  = "admin-demo"
	demoTokenTTL = 24 * time.Hour
)

var demoAdmin = auth.Admin(demoAdminID)

type resetter interface {
	Reset(ctx context.Context) error
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if s, ok := findScenario(current); ok {
		writeJSON(w, http.StatusOK, s)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario wipes the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decodeBody(w, r, &req) {
		return
	}
	scenario, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	reset, ok := h.Store.(resetter)
	if !ok {
		writeError(w, http.StatusNotImplemented, "Store does not support reset", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := reset.Reset(ctx); err != nil {
		writeDomainError(w, r, h.Logger, err)
		return
	}
	h.currentScenario = ""

	var (
		employees []generic.EmployeeID
		err       error
	)
	switch scenario.ID {
	case "first-payroll":
		employees, err = h.loadFirstPayrollScenario(ctx)
	case "matured-hold":
		employees, err = h.loadMaturedHoldScenario(ctx)
	case "pending-withdrawal":
		employees, err = h.loadPendingWithdrawalScenario(ctx)
	}
	if err != nil {
		h.Logger.Error().Err(err).Str("scenario", scenario.ID).Msg("scenario load failed")
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	tokens, err := h.demoTokens(employees)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue demo tokens", err)
		return
	}

	h.currentScenario = scenario.ID
	h.Logger.Info().Str("scenario", scenario.ID).Int("employees", len(employees)).Msg("scenario loaded")
	writeJSON(w, http.StatusOK, LoadScenarioResponse{Scenario: scenario, Tokens: tokens})
}

func findScenario(id string) (ScenarioDTO, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return ScenarioDTO{}, false
}

func (h *Handler) demoTokens(employees []generic.EmployeeID) (map[string]string, error) {
	tokens := make(map[string]string, len(employees)+1)
	admin, err := h.Tokens.Issue(demoAdmin, demoTokenTTL)
	if err != nil {
		return nil, err
	}
	tokens[demoAdminID] = admin
	for _, id := range employees {
		tok, err := h.Tokens.Issue(auth.Employee(id), demoTokenTTL)
		if err != nil {
			return nil, err
		}
		tokens[string(id)] = tok
	}
	return tokens, nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadFirstPayrollScenario(ctx context.Context) ([]generic.EmployeeID, error) {
	emp := demoEmployee("emp-001", "Priya Raman", "30000", "10")
	if err := h.saveEmployee(ctx, emp); err != nil {
		return nil, err
	}

	lastMonth := monthsAgo(time.Now().UTC(), 1)
	if err := h.recordAttendance(ctx, emp.ID, lastMonth, 2, 0); err != nil {
		return nil, err
	}
	return []generic.EmployeeID{emp.ID}, nil
}

func (h *Handler) loadMaturedHoldScenario(ctx context.Context) ([]generic.EmployeeID, error) {
	emp := demoEmployee("emp-002", "Marco Bianchi", "42000", "10")
	if err := h.saveEmployee(ctx, emp); err != nil {
		return nil, err
	}

	inactive := demoEmployee("emp-003", "Dana Whitfield", "25000", "5")
	inactive.Status = generic.EmploymentInactive
	if err := h.saveEmployee(ctx, inactive); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for i := 6; i >= 1; i-- {
		month := monthsAgo(now, i)
		// One unpaid day every other month.
		if err := h.recordAttendance(ctx, emp.ID, month, i%2, 1); err != nil {
			return nil, err
		}
		if err := h.payMonth(ctx, emp.ID, month); err != nil {
			return nil, err
		}
	}
	return []generic.EmployeeID{emp.ID, inactive.ID}, nil
}

func (h *Handler) loadPendingWithdrawalScenario(ctx context.Context) ([]generic.EmployeeID, error) {
	employees, err := h.loadMaturedHoldScenario(ctx)
	if err != nil {
		return nil, err
	}
	id := employees[0]
	self := auth.Employee(id)

	rejected, err := h.Workflow.Request(ctx, self, id, decimal.NewFromInt(1500))
	if err != nil {
		return nil, err
	}
	if _, err := h.Workflow.Reject(ctx, demoAdmin, rejected.ID, "Requested before quarter close"); err != nil {
		return nil, err
	}
	if _, err := h.Workflow.Request(ctx, self, id, decimal.NewFromInt(2500)); err != nil {
		return nil, err
	}
	return employees, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func demoEmployee(id, name, basic, holdPercent string) generic.Employee {
	pct := generic.MustParseDecimal(holdPercent)
	basicSalary := generic.MustParseDecimal(basic)
	return generic.Employee{
		ID:    generic.EmployeeID(id),
		Name:  name,
		Email: fmt.Sprintf("%s@example.com", id),
		Salary: generic.SalaryStructure{
			BasicSalary: basicSalary,
			Allowances: map[string]decimal.Decimal{
				"hra":       generic.Round2(generic.Percent(basicSalary, decimal.NewFromInt(10))),
				"transport": decimal.NewFromInt(1200),
			},
			Deductions: map[string]decimal.Decimal{
				"pf": generic.Round2(generic.Percent(basicSalary, decimal.NewFromInt(6))),
			},
			HoldPercent: &pct,
		},
	}
}

func (h *Handler) saveEmployee(ctx context.Context, emp generic.Employee) error {
	_, err := h.Roster.SaveEmployee(ctx, demoAdmin, emp)
	return err
}

func (h *Handler) recordAttendance(ctx context.Context, id generic.EmployeeID, month generic.Month, unpaid, half int) error {
	return h.Roster.RecordAttendance(ctx, demoAdmin, generic.AttendanceSummary{
		EmployeeID:      id,
		Month:           month,
		UnpaidLeaveDays: unpaid,
		HalfDays:        half,
	})
}

// payMonth processes month as if it ran at noon on the month's last day.
func (h *Handler) payMonth(ctx context.Context, id generic.EmployeeID, month generic.Month) error {
	payDate := month.Start().AddDate(0, 1, -1).Add(12 * time.Hour)

	p := *h.Processor
	p.Now = func() time.Time { return payDate }
	_, err := p.Process(ctx, demoAdmin, id, month, "bank_transfer")
	return err
}

func monthsAgo(now time.Time, n int) generic.Month {
	return generic.MonthOf(generic.MonthOf(now).Start().AddDate(0, -n, 0))
}
