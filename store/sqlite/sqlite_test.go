package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/holdpay/generic"
	"github.com/warp/holdpay/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// =============================================================================
// DIRECTORY
// =============================================================================

func TestStore_EmployeeRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pct := dec("12.5")
	emp := generic.Employee{
		ID:     "e1",
		Name:   "Asha Rao",
		Email:  "asha@example.com",
		Status: generic.EmploymentActive,
		Salary: generic.SalaryStructure{
			BasicSalary: dec("30000"),
			Allowances:  map[string]decimal.Decimal{"hra": dec("3000")},
			Deductions:  map[string]decimal.Decimal{"pf": dec("1800")},
			HoldPercent: &pct,
		},
	}
	require.NoError(t, s.SaveEmployee(ctx, emp))

	got, err := s.GetEmployee(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "Asha Rao", got.Name)
	assert.True(t, dec("30000").Equal(got.Salary.BasicSalary))
	assert.True(t, dec("3000").Equal(got.Salary.Allowances["hra"]))
	require.NotNil(t, got.Salary.HoldPercent)
	assert.True(t, pct.Equal(*got.Salary.HoldPercent))
	assert.False(t, got.CreatedAt.IsZero())

	_, err = s.GetEmployee(ctx, "missing")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestStore_AttendanceUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	month := generic.NewMonth(2024, time.February)

	a := generic.AttendanceSummary{EmployeeID: "e1", Month: month, UnpaidLeaveDays: 1, TotalWorkingDays: 21}
	require.NoError(t, s.SaveAttendance(ctx, a))
	a.HalfDays = 2
	require.NoError(t, s.SaveAttendance(ctx, a))

	got, err := s.GetAttendance(ctx, "e1", month)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UnpaidLeaveDays)
	assert.Equal(t, 2, got.HalfDays)

	_, err = s.GetAttendance(ctx, "e1", generic.NewMonth(2024, time.March))
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

// =============================================================================
// SALARY RECORDS
// =============================================================================

func TestStore_SalaryRecord_PaidIsFinal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	month := generic.NewMonth(2024, time.January)
	paidAt := time.Date(2024, time.January, 31, 12, 0, 0, 0, time.UTC)

	rec := generic.SalaryRecord{
		ID: "r1", EmployeeID: "e1", Month: month,
		GrossSalary: dec("33000"), FixedDeductions: dec("1800"), LeaveDeductions: dec("0"),
		DailyRate: dec("967.74"), HoldPercent: dec("10"), HoldAmount: dec("2920"),
		PayableNet: dec("28280"), Status: generic.SalaryPending, CreatedAt: paidAt,
	}
	require.NoError(t, s.SaveSalaryRecord(ctx, rec))

	rec.ID = "r2"
	rec.Status = generic.SalaryPaid
	rec.PaymentDate = &paidAt
	rec.PaymentMode = "bank_transfer"
	require.NoError(t, s.SaveSalaryRecord(ctx, rec), "pending record may be replaced")

	rec.ID = "r3"
	assert.ErrorIs(t, s.SaveSalaryRecord(ctx, rec), generic.ErrAlreadyProcessed)

	got, err := s.GetSalaryRecord(ctx, "e1", month)
	require.NoError(t, err)
	assert.Equal(t, "r2", got.ID)
	assert.True(t, got.IsPaid())
	assert.True(t, dec("28280").Equal(got.PayableNet))
	require.NotNil(t, got.PaymentDate)
	assert.True(t, paidAt.Equal(*got.PaymentDate))
	assert.Equal(t, "bank_transfer", got.PaymentMode)
}

func TestStore_ListSalaryRecords_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, m := range []time.Month{time.January, time.March, time.February} {
		require.NoError(t, s.SaveSalaryRecord(ctx, generic.SalaryRecord{
			ID: string(rune('a' + i)), EmployeeID: "e1", Month: generic.NewMonth(2024, m),
			Status: generic.SalaryPaid,
		}))
	}

	records, err := s.ListSalaryRecords(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "2024-03", records[0].Month.String())
	assert.Equal(t, "2024-01", records[2].Month.String())
}

// =============================================================================
// LEDGER
// =============================================================================

func TestStore_AppendAccrual_UniqueOnEmployeeAndInstant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, time.January, 31, 9, 0, 0, 0, time.UTC)

	entry := generic.HoldAccrualEntry{
		ID: "a1", EmployeeID: "e1", Amount: dec("2920"),
		AccruedAt: at, MaturesAt: generic.AddMonthsClamped(at, 3), ReferenceID: "r1",
	}
	require.NoError(t, s.AppendAccrual(ctx, entry))

	entry.ID = "a2"
	assert.ErrorIs(t, s.AppendAccrual(ctx, entry), generic.ErrDuplicateAccrual)

	// Another employee may accrue at the same instant.
	entry.ID = "a3"
	entry.EmployeeID = "e2"
	assert.NoError(t, s.AppendAccrual(ctx, entry))

	entries, err := s.LoadAccruals(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, time.Date(2024, time.April, 30, 9, 0, 0, 0, time.UTC).Equal(entries[0].MaturesAt))
	assert.Equal(t, "r1", entries[0].ReferenceID)
}

func TestStore_AppendWithdrawal_OnePerRequest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	w := generic.Withdrawal{ID: "x1", EmployeeID: "e1", RequestID: "w1", Amount: dec("500"), WithdrawnAt: time.Now()}
	require.NoError(t, s.AppendWithdrawal(ctx, w))
	w.ID = "x2"
	assert.ErrorIs(t, s.AppendWithdrawal(ctx, w), generic.ErrDuplicateWithdrawal)

	withdrawals, err := s.LoadWithdrawals(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, withdrawals, 1)
	assert.True(t, dec("500").Equal(withdrawals[0].Amount))
}

// =============================================================================
// REQUESTS
// =============================================================================

func TestStore_Requests_StatusTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []generic.RequestID{"w1", "w2"} {
		require.NoError(t, s.SaveRequest(ctx, generic.WithdrawalRequest{
			ID: id, EmployeeID: "e1", Amount: dec("100"), Status: generic.WithdrawalPending,
			RequestedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	r, err := s.GetRequest(ctx, "w1")
	require.NoError(t, err)
	decided := base.Add(2 * time.Hour)
	r.Status = generic.WithdrawalApproved
	r.DecidedAt = &decided
	r.DecidedBy = "admin-1"
	r.PaymentMethod = "bank_transfer"
	require.NoError(t, s.SaveRequest(ctx, *r))

	pending, err := s.ListRequestsByStatus(ctx, generic.WithdrawalPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, generic.RequestID("w2"), pending[0].ID)

	all, err := s.ListRequestsByEmployee(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, generic.WithdrawalApproved, all[0].Status)
	assert.Equal(t, "admin-1", all[0].DecidedBy)
	require.NotNil(t, all[0].DecidedAt)
	assert.Nil(t, all[1].DecidedAt)
}

func TestStore_Requests_OldestFirstAcrossFractionalSeconds(t *testing.T) {
	// GIVEN: Two pending requests half a second and 512ms past the same second,
	//        the later one saved first
	// WHEN: Listing by status and by employee
	// THEN: Both lists are in requested_at order

	s := newTestStore(t)
	ctx := context.Background()
	older := time.Date(2024, time.May, 1, 10, 0, 0, 500_000_000, time.UTC)
	newer := time.Date(2024, time.May, 1, 10, 0, 0, 512_000_000, time.UTC)

	require.NoError(t, s.SaveRequest(ctx, generic.WithdrawalRequest{
		ID: "newer", EmployeeID: "e1", Amount: dec("10"), Status: generic.WithdrawalPending, RequestedAt: newer,
	}))
	require.NoError(t, s.SaveRequest(ctx, generic.WithdrawalRequest{
		ID: "older", EmployeeID: "e1", Amount: dec("10"), Status: generic.WithdrawalPending, RequestedAt: older,
	}))

	pending, err := s.ListRequestsByStatus(ctx, generic.WithdrawalPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, []generic.RequestID{"older", "newer"}, []generic.RequestID{pending[0].ID, pending[1].ID})
	assert.True(t, older.Equal(pending[0].RequestedAt))

	mine, err := s.ListRequestsByEmployee(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, generic.RequestID("older"), mine[0].ID)
}

func TestStore_LoadAccruals_OldestFirstAcrossFractionalSeconds(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	whole := time.Date(2024, time.January, 31, 9, 0, 1, 0, time.UTC)
	fraction := time.Date(2024, time.January, 31, 9, 0, 0, 900_000_000, time.UTC)

	for _, e := range []generic.HoldAccrualEntry{
		{ID: "a-whole", EmployeeID: "e1", Amount: dec("1"), AccruedAt: whole, MaturesAt: whole},
		{ID: "a-fraction", EmployeeID: "e1", Amount: dec("1"), AccruedAt: fraction, MaturesAt: fraction},
	} {
		require.NoError(t, s.AppendAccrual(ctx, e))
	}

	entries, err := s.LoadAccruals(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, generic.EntryID("a-fraction"), entries[0].ID)
	assert.Equal(t, generic.EntryID("a-whole"), entries[1].ID)
}

// =============================================================================
// CORRUPT ROWS
// =============================================================================

func TestStore_CorruptValuesFailTheRead(t *testing.T) {
	// GIVEN: Rows whose amount or maturity text no longer decodes
	// WHEN: Reading them back
	// THEN: The read fails instead of returning zero amounts or dates

	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, time.January, 31, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.AppendAccrual(ctx, generic.HoldAccrualEntry{
		ID: "a1", EmployeeID: "e1", Amount: dec("100"), AccruedAt: at, MaturesAt: generic.AddMonthsClamped(at, 3),
	}))
	require.NoError(t, s.Exec(ctx, "UPDATE hold_accruals SET matures_at = 'not-a-date' WHERE id = 'a1'"))
	_, err := s.LoadAccruals(ctx, "e1")
	assert.ErrorContains(t, err, "matures_at")

	require.NoError(t, s.SaveRequest(ctx, generic.WithdrawalRequest{
		ID: "w1", EmployeeID: "e1", Amount: dec("10"), Status: generic.WithdrawalPending, RequestedAt: at,
	}))
	require.NoError(t, s.Exec(ctx, "UPDATE withdrawal_requests SET amount = 'ten' WHERE id = 'w1'"))
	_, err = s.GetRequest(ctx, "w1")
	assert.ErrorContains(t, err, "amount")
	_, err = s.ListRequestsByEmployee(ctx, "e1")
	assert.Error(t, err)

	require.NoError(t, s.AppendWithdrawal(ctx, generic.Withdrawal{
		ID: "x1", EmployeeID: "e1", RequestID: "w0", Amount: dec("5"), WithdrawnAt: at,
	}))
	require.NoError(t, s.Exec(ctx, "UPDATE hold_withdrawals SET amount = '' WHERE id = 'x1'"))
	_, err = s.LoadWithdrawals(ctx, "e1")
	assert.Error(t, err)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestStore_WithTx_RollbackLeavesNoTrace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	month := generic.NewMonth(2024, time.January)
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx generic.Store) error {
		require.NoError(t, tx.SaveSalaryRecord(ctx, generic.SalaryRecord{
			ID: "r1", EmployeeID: "e1", Month: month, Status: generic.SalaryPaid,
		}))
		// Reads inside the transaction see its own writes.
		_, err := tx.GetSalaryRecord(ctx, "e1", month)
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetSalaryRecord(ctx, "e1", month)
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestStore_WithTx_Commits(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, time.January, 31, 0, 0, 0, 0, time.UTC)

	err := s.WithTx(ctx, func(tx generic.Store) error {
		return tx.AppendAccrual(ctx, generic.HoldAccrualEntry{
			ID: "a1", EmployeeID: "e1", Amount: dec("10"), AccruedAt: at, MaturesAt: at,
		})
	})
	require.NoError(t, err)

	entries, err := s.LoadAccruals(ctx, "e1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStore_Reset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveEmployee(ctx, generic.Employee{ID: "e1", Name: "A"}))
	require.NoError(t, s.Reset(ctx))

	employees, err := s.ListEmployees(ctx)
	require.NoError(t, err)
	assert.Empty(t, employees)
}
