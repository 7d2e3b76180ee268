/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements generic.TxStore using SQLite. The same schema works on
  PostgreSQL with minor dialect changes.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on hold_accruals or hold_withdrawals
  - UNIQUE(employee_id, accrued_at) on hold_accruals -> ErrDuplicateAccrual
  - UNIQUE(request_id) on hold_withdrawals -> ErrDuplicateWithdrawal
  - UNIQUE(employee_id, month) on salary_records; a paid row is never replaced

KEY TABLES:
  employees:           Directory records with the salary structure as JSON
  attendance:          Monthly attendance summaries
  salary_records:      One row per (employee, month)
  hold_accruals:       Immutable accrual log
  hold_withdrawals:    Immutable record of approved withdrawals
  withdrawal_requests: Request state machine

CONCURRENCY:
  Uses sync.RWMutex for thread-safety within a process, and BEGIN IMMEDIATE
  transactions so a second process cannot interleave a write between a
  read and the decision it feeds.

STORAGE FORMATS:
  Timestamps are fixed-width UTC text with nanoseconds, so they sort as
  text. Months are YYYY-MM, amounts are decimal strings. A value that does
  not decode fails the read.

USAGE:
  store, err := sqlite.New("./data/holdpay.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/holdpay/generic"
)

// Store implements generic.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: every pooled connection to ":memory:" would be a
	// separate empty database, and writes are serialized anyway.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		salary_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS attendance (
		employee_id TEXT NOT NULL,
		month TEXT NOT NULL,
		unpaid_leave_days INTEGER NOT NULL DEFAULT 0,
		half_days INTEGER NOT NULL DEFAULT 0,
		total_working_days INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (employee_id, month)
	);

	CREATE TABLE IF NOT EXISTS salary_records (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		month TEXT NOT NULL,
		gross_salary TEXT NOT NULL,
		fixed_deductions TEXT NOT NULL,
		leave_deductions TEXT NOT NULL,
		daily_rate TEXT NOT NULL,
		hold_percent TEXT NOT NULL,
		hold_amount TEXT NOT NULL,
		payable_net TEXT NOT NULL,
		status TEXT NOT NULL,
		payment_date TEXT,
		payment_mode TEXT,
		created_at TEXT NOT NULL,
		UNIQUE(employee_id, month)
	);

	-- Accrual log (append-only)
	CREATE TABLE IF NOT EXISTS hold_accruals (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		accrued_at TEXT NOT NULL,
		matures_at TEXT NOT NULL,
		reference_id TEXT,
		created_at TEXT NOT NULL,
		UNIQUE(employee_id, accrued_at)
	);

	CREATE INDEX IF NOT EXISTS idx_hold_accruals_employee
		ON hold_accruals(employee_id, accrued_at);

	-- Approved withdrawals (append-only)
	CREATE TABLE IF NOT EXISTS hold_withdrawals (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		request_id TEXT NOT NULL UNIQUE,
		amount TEXT NOT NULL,
		withdrawn_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_hold_withdrawals_employee
		ON hold_withdrawals(employee_id);

	CREATE TABLE IF NOT EXISTS withdrawal_requests (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		requested_at TEXT NOT NULL,
		decided_at TEXT,
		decided_by TEXT,
		payment_method TEXT,
		rejection_reason TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_withdrawal_requests_employee
		ON withdrawal_requests(employee_id);
	CREATE INDEX IF NOT EXISTS idx_withdrawal_requests_status
		ON withdrawal_requests(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LOCKED ACCESSORS (generic.Store interface)
// =============================================================================

func (s *Store) SaveEmployee(ctx context.Context, emp generic.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q().SaveEmployee(ctx, emp)
}

func (s *Store) GetEmployee(ctx context.Context, id generic.EmployeeID) (*generic.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q().GetEmployee(ctx, id)
}

func (s *Store) ListEmployees(ctx context.Context) ([]generic.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q().ListEmployees(ctx)
}

func (s *Store) SaveAttendance(ctx context.Context, a generic.AttendanceSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q().SaveAttendance(ctx, a)
}

func (s *Store) GetAttendance(ctx context.Context, id generic.EmployeeID, month generic.Month) (*generic.AttendanceSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q().GetAttendance(ctx, id, month)
}

func (s *Store) SaveSalaryRecord(ctx context.Context, r generic.SalaryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q().SaveSalaryRecord(ctx, r)
}

func (s *Store) GetSalaryRecord(ctx context.Context, id generic.EmployeeID, month generic.Month) (*generic.SalaryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q().GetSalaryRecord(ctx, id, month)
}

func (s *Store) ListSalaryRecords(ctx context.Context, id generic.EmployeeID) ([]generic.SalaryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q().ListSalaryRecords(ctx, id)
}

func (s *Store) AppendAccrual(ctx context.Context, e generic.HoldAccrualEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q().AppendAccrual(ctx, e)
}

func (s *Store) LoadAccruals(ctx context.Context, id generic.EmployeeID) ([]generic.HoldAccrualEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q().LoadAccruals(ctx, id)
}

func (s *Store) AppendWithdrawal(ctx context.Context, w generic.Withdrawal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q().AppendWithdrawal(ctx, w)
}

func (s *Store) LoadWithdrawals(ctx context.Context, id generic.EmployeeID) ([]generic.Withdrawal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q().LoadWithdrawals(ctx, id)
}

func (s *Store) SaveRequest(ctx context.Context, r generic.WithdrawalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q().SaveRequest(ctx, r)
}

func (s *Store) GetRequest(ctx context.Context, id generic.RequestID) (*generic.WithdrawalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q().GetRequest(ctx, id)
}

func (s *Store) ListRequestsByStatus(ctx context.Context, status generic.WithdrawalStatus) ([]generic.WithdrawalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q().ListRequestsByStatus(ctx, status)
}

func (s *Store) ListRequestsByEmployee(ctx context.Context, id generic.EmployeeID) ([]generic.WithdrawalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q().ListRequestsByEmployee(ctx, id)
}

func (s *Store) q() *queries { return &queries{db: s.db} }

// =============================================================================
// TRANSACTIONAL STORE (generic.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store generic.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{db: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// Reset drops all rows. Development only.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"withdrawal_requests", "hold_withdrawals", "hold_accruals", "salary_records", "attendance", "employees"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// QUERIES - Shared by the pooled connection and transactions
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements generic.Store on a *sql.DB or *sql.Tx. It does no
// locking of its own.
type queries struct {
	db querier
}

// -----------------------------------------------------------------------------
// Employees
// -----------------------------------------------------------------------------

func (q *queries) SaveEmployee(ctx context.Context, emp generic.Employee) error {
	salaryJSON, err := json.Marshal(emp.Salary)
	if err != nil {
		return fmt.Errorf("failed to encode salary structure: %w", err)
	}
	if emp.Status == "" {
		emp.Status = generic.EmploymentActive
	}

	query := `
		INSERT INTO employees (id, name, email, status, salary_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			status = excluded.status,
			salary_json = excluded.salary_json,
			updated_at = excluded.updated_at
	`

	now := time.Now()
	if emp.CreatedAt.IsZero() {
		emp.CreatedAt = now
	}
	_, err = q.db.ExecContext(ctx, query,
		emp.ID, emp.Name, nullString(emp.Email), emp.Status, string(salaryJSON),
		formatTime(emp.CreatedAt), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("failed to save employee: %w", err)
	}
	return nil
}

func (q *queries) GetEmployee(ctx context.Context, id generic.EmployeeID) (*generic.Employee, error) {
	row := q.db.QueryRowContext(ctx,
		"SELECT id, name, email, status, salary_json, created_at, updated_at FROM employees WHERE id = ?",
		id,
	)
	emp, err := scanEmployee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.NotFoundf("employee %s", id)
	}
	if err != nil {
		return nil, err
	}
	return &emp, nil
}

func (q *queries) ListEmployees(ctx context.Context) ([]generic.Employee, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT id, name, email, status, salary_json, created_at, updated_at FROM employees ORDER BY name",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query employees: %w", err)
	}
	defer rows.Close()

	var employees []generic.Employee
	for rows.Next() {
		emp, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		employees = append(employees, emp)
	}
	return employees, rows.Err()
}

func scanEmployee(row scanner) (generic.Employee, error) {
	var (
		emp                  generic.Employee
		email                sql.NullString
		salaryJSON           string
		createdAt, updatedAt string
	)
	if err := row.Scan(&emp.ID, &emp.Name, &email, &emp.Status, &salaryJSON, &createdAt, &updatedAt); err != nil {
		return emp, err
	}
	if err := json.Unmarshal([]byte(salaryJSON), &emp.Salary); err != nil {
		return emp, fmt.Errorf("failed to decode salary structure for %s: %w", emp.ID, err)
	}
	emp.Email = email.String

	d := decoder{table: "employees", id: string(emp.ID)}
	emp.CreatedAt = d.time("created_at", createdAt)
	emp.UpdatedAt = d.time("updated_at", updatedAt)
	return emp, d.err
}

// -----------------------------------------------------------------------------
// Attendance
// -----------------------------------------------------------------------------

func (q *queries) SaveAttendance(ctx context.Context, a generic.AttendanceSummary) error {
	query := `
		INSERT INTO attendance (employee_id, month, unpaid_leave_days, half_days, total_working_days)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(employee_id, month) DO UPDATE SET
			unpaid_leave_days = excluded.unpaid_leave_days,
			half_days = excluded.half_days,
			total_working_days = excluded.total_working_days
	`
	_, err := q.db.ExecContext(ctx, query,
		a.EmployeeID, a.Month.String(), a.UnpaidLeaveDays, a.HalfDays, a.TotalWorkingDays,
	)
	if err != nil {
		return fmt.Errorf("failed to save attendance: %w", err)
	}
	return nil
}

func (q *queries) GetAttendance(ctx context.Context, id generic.EmployeeID, month generic.Month) (*generic.AttendanceSummary, error) {
	a := generic.AttendanceSummary{EmployeeID: id, Month: month}
	err := q.db.QueryRowContext(ctx,
		`SELECT unpaid_leave_days, half_days, total_working_days
		 FROM attendance WHERE employee_id = ? AND month = ?`,
		id, month.String(),
	).Scan(&a.UnpaidLeaveDays, &a.HalfDays, &a.TotalWorkingDays)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.NotFoundf("attendance for %s %s", id, month)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attendance: %w", err)
	}
	return &a, nil
}

// -----------------------------------------------------------------------------
// Salary records
// -----------------------------------------------------------------------------

const salaryColumns = `id, employee_id, month, gross_salary, fixed_deductions, leave_deductions,
	daily_rate, hold_percent, hold_amount, payable_net, status, payment_date, payment_mode, created_at`

func (q *queries) SaveSalaryRecord(ctx context.Context, r generic.SalaryRecord) error {
	// A paid row never matches the WHERE clause, so the upsert touches
	// zero rows and the caller learns the month was already processed.
	query := `
		INSERT INTO salary_records (` + salaryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(employee_id, month) DO UPDATE SET
			id = excluded.id,
			gross_salary = excluded.gross_salary,
			fixed_deductions = excluded.fixed_deductions,
			leave_deductions = excluded.leave_deductions,
			daily_rate = excluded.daily_rate,
			hold_percent = excluded.hold_percent,
			hold_amount = excluded.hold_amount,
			payable_net = excluded.payable_net,
			status = excluded.status,
			payment_date = excluded.payment_date,
			payment_mode = excluded.payment_mode
		WHERE salary_records.status = 'pending'
	`

	res, err := q.db.ExecContext(ctx, query,
		r.ID, r.EmployeeID, r.Month.String(),
		r.GrossSalary.String(), r.FixedDeductions.String(), r.LeaveDeductions.String(),
		r.DailyRate.String(), r.HoldPercent.String(), r.HoldAmount.String(), r.PayableNet.String(),
		r.Status, nullTime(r.PaymentDate), nullString(r.PaymentMode), formatTime(r.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.ErrAlreadyProcessed
		}
		return fmt.Errorf("failed to save salary record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save salary record: %w", err)
	}
	if n == 0 {
		return generic.ErrAlreadyProcessed
	}
	return nil
}

func (q *queries) GetSalaryRecord(ctx context.Context, id generic.EmployeeID, month generic.Month) (*generic.SalaryRecord, error) {
	row := q.db.QueryRowContext(ctx,
		"SELECT "+salaryColumns+" FROM salary_records WHERE employee_id = ? AND month = ?",
		id, month.String(),
	)
	r, err := scanSalaryRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.NotFoundf("salary record for %s %s", id, month)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (q *queries) ListSalaryRecords(ctx context.Context, id generic.EmployeeID) ([]generic.SalaryRecord, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT "+salaryColumns+" FROM salary_records WHERE employee_id = ? ORDER BY month DESC",
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query salary records: %w", err)
	}
	defer rows.Close()

	var records []generic.SalaryRecord
	for rows.Next() {
		r, err := scanSalaryRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func scanSalaryRecord(row scanner) (generic.SalaryRecord, error) {
	var (
		r                               generic.SalaryRecord
		month                           string
		gross, fixed, leave, daily, pct string
		hold, net                       string
		paymentDate, paymentMode        sql.NullString
		createdAt                       string
	)
	err := row.Scan(&r.ID, &r.EmployeeID, &month, &gross, &fixed, &leave,
		&daily, &pct, &hold, &net, &r.Status, &paymentDate, &paymentMode, &createdAt)
	if err != nil {
		return r, err
	}

	r.Month, err = generic.ParseMonth(month)
	if err != nil {
		return r, err
	}

	d := decoder{table: "salary_records", id: r.ID}
	r.GrossSalary = d.amount("gross_salary", gross)
	r.FixedDeductions = d.amount("fixed_deductions", fixed)
	r.LeaveDeductions = d.amount("leave_deductions", leave)
	r.DailyRate = d.amount("daily_rate", daily)
	r.HoldPercent = d.amount("hold_percent", pct)
	r.HoldAmount = d.amount("hold_amount", hold)
	r.PayableNet = d.amount("payable_net", net)
	r.PaymentMode = paymentMode.String
	if paymentDate.Valid {
		t := d.time("payment_date", paymentDate.String)
		r.PaymentDate = &t
	}
	r.CreatedAt = d.time("created_at", createdAt)
	return r, d.err
}

// -----------------------------------------------------------------------------
// Hold ledger
// -----------------------------------------------------------------------------

func (q *queries) AppendAccrual(ctx context.Context, e generic.HoldAccrualEntry) error {
	query := `
		INSERT INTO hold_accruals (id, employee_id, amount, accrued_at, matures_at, reference_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.db.ExecContext(ctx, query,
		e.ID, e.EmployeeID, e.Amount.String(),
		formatTime(e.AccruedAt), formatTime(e.MaturesAt),
		nullString(e.ReferenceID), formatTime(e.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.ErrDuplicateAccrual
		}
		return fmt.Errorf("failed to append accrual: %w", err)
	}
	return nil
}

func (q *queries) LoadAccruals(ctx context.Context, id generic.EmployeeID) ([]generic.HoldAccrualEntry, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, employee_id, amount, accrued_at, matures_at, reference_id, created_at
		FROM hold_accruals
		WHERE employee_id = ?
		ORDER BY accrued_at ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query accruals: %w", err)
	}
	defer rows.Close()

	var entries []generic.HoldAccrualEntry
	for rows.Next() {
		var (
			e                            generic.HoldAccrualEntry
			amount, accruedAt, maturesAt string
			referenceID                  sql.NullString
			createdAt                    string
		)
		if err := rows.Scan(&e.ID, &e.EmployeeID, &amount, &accruedAt, &maturesAt, &referenceID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan accrual: %w", err)
		}
		d := decoder{table: "hold_accruals", id: string(e.ID)}
		e.Amount = d.amount("amount", amount)
		e.AccruedAt = d.time("accrued_at", accruedAt)
		e.MaturesAt = d.time("matures_at", maturesAt)
		e.ReferenceID = referenceID.String
		e.CreatedAt = d.time("created_at", createdAt)
		if d.err != nil {
			return nil, d.err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (q *queries) AppendWithdrawal(ctx context.Context, w generic.Withdrawal) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO hold_withdrawals (id, employee_id, request_id, amount, withdrawn_at)
		VALUES (?, ?, ?, ?, ?)
	`, w.ID, w.EmployeeID, w.RequestID, w.Amount.String(), formatTime(w.WithdrawnAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.ErrDuplicateWithdrawal
		}
		return fmt.Errorf("failed to append withdrawal: %w", err)
	}
	return nil
}

func (q *queries) LoadWithdrawals(ctx context.Context, id generic.EmployeeID) ([]generic.Withdrawal, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, employee_id, request_id, amount, withdrawn_at
		FROM hold_withdrawals
		WHERE employee_id = ?
		ORDER BY withdrawn_at ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query withdrawals: %w", err)
	}
	defer rows.Close()

	var withdrawals []generic.Withdrawal
	for rows.Next() {
		var (
			w                   generic.Withdrawal
			amount, withdrawnAt string
		)
		if err := rows.Scan(&w.ID, &w.EmployeeID, &w.RequestID, &amount, &withdrawnAt); err != nil {
			return nil, fmt.Errorf("failed to scan withdrawal: %w", err)
		}
		d := decoder{table: "hold_withdrawals", id: string(w.ID)}
		w.Amount = d.amount("amount", amount)
		w.WithdrawnAt = d.time("withdrawn_at", withdrawnAt)
		if d.err != nil {
			return nil, d.err
		}
		withdrawals = append(withdrawals, w)
	}
	return withdrawals, rows.Err()
}

// -----------------------------------------------------------------------------
// Withdrawal requests
// -----------------------------------------------------------------------------

const requestColumns = `id, employee_id, amount, status, requested_at, decided_at, decided_by,
	payment_method, rejection_reason`

func (q *queries) SaveRequest(ctx context.Context, r generic.WithdrawalRequest) error {
	query := `
		INSERT INTO withdrawal_requests (` + requestColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			decided_at = excluded.decided_at,
			decided_by = excluded.decided_by,
			payment_method = excluded.payment_method,
			rejection_reason = excluded.rejection_reason
	`
	_, err := q.db.ExecContext(ctx, query,
		r.ID, r.EmployeeID, r.Amount.String(), r.Status, formatTime(r.RequestedAt),
		nullTime(r.DecidedAt), nullString(r.DecidedBy),
		nullString(r.PaymentMethod), nullString(r.RejectionReason),
	)
	if err != nil {
		return fmt.Errorf("failed to save withdrawal request: %w", err)
	}
	return nil
}

func (q *queries) GetRequest(ctx context.Context, id generic.RequestID) (*generic.WithdrawalRequest, error) {
	row := q.db.QueryRowContext(ctx,
		"SELECT "+requestColumns+" FROM withdrawal_requests WHERE id = ?", id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.NotFoundf("withdrawal request %s", id)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (q *queries) ListRequestsByStatus(ctx context.Context, status generic.WithdrawalStatus) ([]generic.WithdrawalRequest, error) {
	return q.queryRequests(ctx,
		"SELECT "+requestColumns+" FROM withdrawal_requests WHERE status = ? ORDER BY requested_at ASC, rowid ASC",
		status)
}

func (q *queries) ListRequestsByEmployee(ctx context.Context, id generic.EmployeeID) ([]generic.WithdrawalRequest, error) {
	return q.queryRequests(ctx,
		"SELECT "+requestColumns+" FROM withdrawal_requests WHERE employee_id = ? ORDER BY requested_at ASC, rowid ASC",
		id)
}

func (q *queries) queryRequests(ctx context.Context, query string, args ...any) ([]generic.WithdrawalRequest, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query withdrawal requests: %w", err)
	}
	defer rows.Close()

	var requests []generic.WithdrawalRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

func scanRequest(row scanner) (generic.WithdrawalRequest, error) {
	var (
		r                              generic.WithdrawalRequest
		amount, requestedAt            string
		decidedAt, decidedBy           sql.NullString
		paymentMethod, rejectionReason sql.NullString
	)
	err := row.Scan(&r.ID, &r.EmployeeID, &amount, &r.Status, &requestedAt,
		&decidedAt, &decidedBy, &paymentMethod, &rejectionReason)
	if err != nil {
		return r, err
	}
	d := decoder{table: "withdrawal_requests", id: string(r.ID)}
	r.Amount = d.amount("amount", amount)
	r.RequestedAt = d.time("requested_at", requestedAt)
	if decidedAt.Valid {
		t := d.time("decided_at", decidedAt.String)
		r.DecidedAt = &t
	}
	r.DecidedBy = decidedBy.String
	r.PaymentMethod = paymentMethod.String
	r.RejectionReason = rejectionReason.String
	return r, d.err
}

// Helper functions

type scanner interface {
	Scan(dest ...any) error
}

// timeLayout is fixed width so that text order equals time order in
// ORDER BY clauses and UNIQUE constraints.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// decoder converts stored text columns of one row and keeps the first
// failure. A corrupt amount or timestamp is an error, never a zero value.
type decoder struct {
	table string
	id    string
	err   error
}

func (d *decoder) amount(column, s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil && d.err == nil {
		d.err = fmt.Errorf("corrupt %s.%s for %s: %w", d.table, column, d.id, err)
	}
	return v
}

// time accepts any RFC 3339 text, fixed width or not.
func (d *decoder) time(column, s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil && d.err == nil {
		d.err = fmt.Errorf("corrupt %s.%s for %s: %w", d.table, column, d.id, err)
	}
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ generic.TxStore = (*Store)(nil)
