/*
store.go - Persistence interface for the hold engine

PURPOSE:
  Defines the interface between the domain logic and the database.
  Different implementations can use SQLite or in-memory storage.

KEY INTERFACES:
  DirectoryStore: Employees and attendance summaries (external inputs)
  SalaryStore:    Monthly salary records
  LedgerStore:    Append-only accruals and withdrawals
  RequestStore:   Withdrawal requests
  TxStore:        Transactional operations (atomic multi-table writes)

APPEND-ONLY CONTRACT:
  Accruals and withdrawals have no Update or Delete. Uniqueness is enforced
  by the store itself:
  - AppendAccrual fails with ErrDuplicateAccrual on (employee, accrued_at)
  - SaveSalaryRecord fails with ErrAlreadyProcessed when the existing
    (employee, month) record is paid

ATOMICITY:
  Processing a month writes a salary record and an accrual. Approving a
  request writes the request and a withdrawal. Both happen inside WithTx so
  either every write lands or none do. Reads that feed a decision are made
  through the Store handed to fn, so they see the same point in time.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - generic/store/memory.go: In-memory for testing

SEE ALSO:
  - lock.go: Per-employee mutual exclusion across the read/decide/write span
*/
package generic

import "context"

// =============================================================================
// STORE - Interfaces for persistence
// =============================================================================

type DirectoryStore interface {
	// SaveEmployee creates or replaces an employee.
	SaveEmployee(ctx context.Context, emp Employee) error

	// GetEmployee returns ErrNotFound for unknown ids.
	GetEmployee(ctx context.Context, id EmployeeID) (*Employee, error)

	ListEmployees(ctx context.Context) ([]Employee, error)

	// SaveAttendance creates or replaces the summary for (employee, month).
	SaveAttendance(ctx context.Context, a AttendanceSummary) error

	// GetAttendance returns ErrNotFound when nothing was recorded.
	GetAttendance(ctx context.Context, id EmployeeID, month Month) (*AttendanceSummary, error)
}

type SalaryStore interface {
	// SaveSalaryRecord inserts the record, replacing a pending record for the
	// same (employee, month). Returns ErrAlreadyProcessed if a paid one exists.
	SaveSalaryRecord(ctx context.Context, r SalaryRecord) error

	// GetSalaryRecord returns ErrNotFound when the month has no record.
	GetSalaryRecord(ctx context.Context, id EmployeeID, month Month) (*SalaryRecord, error)

	// ListSalaryRecords returns records newest month first.
	ListSalaryRecords(ctx context.Context, id EmployeeID) ([]SalaryRecord, error)
}

type LedgerStore interface {
	// AppendAccrual returns ErrDuplicateAccrual on (employee, accrued_at).
	AppendAccrual(ctx context.Context, e HoldAccrualEntry) error

	// LoadAccruals returns entries ordered by AccruedAt.
	LoadAccruals(ctx context.Context, id EmployeeID) ([]HoldAccrualEntry, error)

	// AppendWithdrawal records an approved withdrawal. One per request.
	AppendWithdrawal(ctx context.Context, w Withdrawal) error

	LoadWithdrawals(ctx context.Context, id EmployeeID) ([]Withdrawal, error)
}

type RequestStore interface {
	// SaveRequest creates or updates a request.
	SaveRequest(ctx context.Context, r WithdrawalRequest) error

	// GetRequest returns ErrNotFound for unknown ids.
	GetRequest(ctx context.Context, id RequestID) (*WithdrawalRequest, error)

	// ListRequestsByStatus returns requests oldest first.
	ListRequestsByStatus(ctx context.Context, status WithdrawalStatus) ([]WithdrawalRequest, error)

	// ListRequestsByEmployee returns requests oldest first.
	ListRequestsByEmployee(ctx context.Context, id EmployeeID) ([]WithdrawalRequest, error)
}

// Store is everything the engine persists.
type Store interface {
	DirectoryStore
	SalaryStore
	LedgerStore
	RequestStore
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple writes
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
