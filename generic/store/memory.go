// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/holdpay/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	st *state
}

type state struct {
	employees   map[generic.EmployeeID]generic.Employee
	attendance  map[attendanceKey]generic.AttendanceSummary
	salaries    map[salaryKey]generic.SalaryRecord
	accruals    map[generic.EmployeeID][]generic.HoldAccrualEntry
	withdrawals map[generic.EmployeeID][]generic.Withdrawal
	requests    map[generic.RequestID]generic.WithdrawalRequest
	order       []generic.RequestID // request creation order
}

type attendanceKey struct {
	EmployeeID generic.EmployeeID
	Month      generic.Month
}

type salaryKey = attendanceKey

func newState() *state {
	return &state{
		employees:   make(map[generic.EmployeeID]generic.Employee),
		attendance:  make(map[attendanceKey]generic.AttendanceSummary),
		salaries:    make(map[salaryKey]generic.SalaryRecord),
		accruals:    make(map[generic.EmployeeID][]generic.HoldAccrualEntry),
		withdrawals: make(map[generic.EmployeeID][]generic.Withdrawal),
		requests:    make(map[generic.RequestID]generic.WithdrawalRequest),
	}
}

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

// =============================================================================
// LOCKED ACCESSORS
// =============================================================================

func (m *Memory) SaveEmployee(_ context.Context, emp generic.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.saveEmployee(emp)
}

func (m *Memory) GetEmployee(_ context.Context, id generic.EmployeeID) (*generic.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getEmployee(id)
}

func (m *Memory) ListEmployees(_ context.Context) ([]generic.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listEmployees(), nil
}

func (m *Memory) SaveAttendance(_ context.Context, a generic.AttendanceSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.attendance[attendanceKey{a.EmployeeID, a.Month}] = a
	return nil
}

func (m *Memory) GetAttendance(_ context.Context, id generic.EmployeeID, month generic.Month) (*generic.AttendanceSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getAttendance(id, month)
}

func (m *Memory) SaveSalaryRecord(_ context.Context, r generic.SalaryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.saveSalaryRecord(r)
}

func (m *Memory) GetSalaryRecord(_ context.Context, id generic.EmployeeID, month generic.Month) (*generic.SalaryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getSalaryRecord(id, month)
}

func (m *Memory) ListSalaryRecords(_ context.Context, id generic.EmployeeID) ([]generic.SalaryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listSalaryRecords(id), nil
}

func (m *Memory) AppendAccrual(_ context.Context, e generic.HoldAccrualEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.appendAccrual(e)
}

func (m *Memory) LoadAccruals(_ context.Context, id generic.EmployeeID) ([]generic.HoldAccrualEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]generic.HoldAccrualEntry(nil), m.st.accruals[id]...), nil
}

func (m *Memory) AppendWithdrawal(_ context.Context, w generic.Withdrawal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.appendWithdrawal(w)
}

func (m *Memory) LoadWithdrawals(_ context.Context, id generic.EmployeeID) ([]generic.Withdrawal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]generic.Withdrawal(nil), m.st.withdrawals[id]...), nil
}

func (m *Memory) SaveRequest(_ context.Context, r generic.WithdrawalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.saveRequest(r)
	return nil
}

func (m *Memory) GetRequest(_ context.Context, id generic.RequestID) (*generic.WithdrawalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getRequest(id)
}

func (m *Memory) ListRequestsByStatus(_ context.Context, status generic.WithdrawalStatus) ([]generic.WithdrawalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.filterRequests(func(r generic.WithdrawalRequest) bool { return r.Status == status }), nil
}

func (m *Memory) ListRequestsByEmployee(_ context.Context, id generic.EmployeeID) ([]generic.WithdrawalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.filterRequests(func(r generic.WithdrawalRequest) bool { return r.EmployeeID == id }), nil
}

// Reset drops all data. Development only.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = newState()
	return nil
}

// =============================================================================
// STATE OPERATIONS (caller holds the lock)
// =============================================================================

func (s *state) saveEmployee(emp generic.Employee) error {
	if existing, ok := s.employees[emp.ID]; ok && !existing.CreatedAt.IsZero() {
		emp.CreatedAt = existing.CreatedAt
	}
	s.employees[emp.ID] = emp
	return nil
}

func (s *state) getEmployee(id generic.EmployeeID) (*generic.Employee, error) {
	emp, ok := s.employees[id]
	if !ok {
		return nil, generic.NotFoundf("employee %s", id)
	}
	return &emp, nil
}

func (s *state) listEmployees() []generic.Employee {
	result := make([]generic.Employee, 0, len(s.employees))
	for _, e := range s.employees {
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

func (s *state) getAttendance(id generic.EmployeeID, month generic.Month) (*generic.AttendanceSummary, error) {
	a, ok := s.attendance[attendanceKey{id, month}]
	if !ok {
		return nil, generic.NotFoundf("attendance for %s %s", id, month)
	}
	return &a, nil
}

func (s *state) saveSalaryRecord(r generic.SalaryRecord) error {
	k := salaryKey{r.EmployeeID, r.Month}
	if existing, ok := s.salaries[k]; ok && existing.IsPaid() {
		return generic.ErrAlreadyProcessed
	}
	s.salaries[k] = r
	return nil
}

func (s *state) getSalaryRecord(id generic.EmployeeID, month generic.Month) (*generic.SalaryRecord, error) {
	r, ok := s.salaries[salaryKey{id, month}]
	if !ok {
		return nil, generic.NotFoundf("salary record for %s %s", id, month)
	}
	return &r, nil
}

func (s *state) listSalaryRecords(id generic.EmployeeID) []generic.SalaryRecord {
	var result []generic.SalaryRecord
	for k, r := range s.salaries {
		if k.EmployeeID == id {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[j].Month.Start().Before(result[i].Month.Start())
	})
	return result
}

func (s *state) appendAccrual(e generic.HoldAccrualEntry) error {
	entries := s.accruals[e.EmployeeID]
	for _, existing := range entries {
		if existing.AccruedAt.Equal(e.AccruedAt) {
			return generic.ErrDuplicateAccrual
		}
	}

	// Binary search for insertion point keeps entries ordered by AccruedAt
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].AccruedAt.After(e.AccruedAt)
	})
	entries = append(entries, generic.HoldAccrualEntry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = e
	s.accruals[e.EmployeeID] = entries
	return nil
}

func (s *state) appendWithdrawal(w generic.Withdrawal) error {
	for _, existing := range s.withdrawals[w.EmployeeID] {
		if existing.RequestID == w.RequestID {
			return generic.ErrDuplicateWithdrawal
		}
	}
	s.withdrawals[w.EmployeeID] = append(s.withdrawals[w.EmployeeID], w)
	return nil
}

func (s *state) saveRequest(r generic.WithdrawalRequest) {
	if _, ok := s.requests[r.ID]; !ok {
		s.order = append(s.order, r.ID)
	}
	s.requests[r.ID] = r
}

func (s *state) getRequest(id generic.RequestID) (*generic.WithdrawalRequest, error) {
	r, ok := s.requests[id]
	if !ok {
		return nil, generic.NotFoundf("withdrawal request %s", id)
	}
	return &r, nil
}

func (s *state) filterRequests(keep func(generic.WithdrawalRequest) bool) []generic.WithdrawalRequest {
	var result []generic.WithdrawalRequest
	for _, id := range s.order {
		if r := s.requests[id]; keep(r) {
			result = append(result, r)
		}
	}
	return result
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.employees {
		c.employees[k] = v
	}
	for k, v := range s.attendance {
		c.attendance[k] = v
	}
	for k, v := range s.salaries {
		c.salaries[k] = v
	}
	for k, v := range s.accruals {
		c.accruals[k] = append([]generic.HoldAccrualEntry(nil), v...)
	}
	for k, v := range s.withdrawals {
		c.withdrawals[k] = append([]generic.Withdrawal(nil), v...)
	}
	for k, v := range s.requests {
		c.requests[k] = v
	}
	c.order = append([]generic.RequestID(nil), s.order...)
	return c
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// Transactions are serialized by the store lock.
func (m *Memory) WithTx(_ context.Context, fn func(generic.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(&txView{st: m.st}); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

// txView is the Store handed to WithTx callbacks. The lock is already held.
type txView struct {
	st *state
}

func (tv *txView) SaveEmployee(_ context.Context, emp generic.Employee) error {
	return tv.st.saveEmployee(emp)
}

func (tv *txView) GetEmployee(_ context.Context, id generic.EmployeeID) (*generic.Employee, error) {
	return tv.st.getEmployee(id)
}

func (tv *txView) ListEmployees(_ context.Context) ([]generic.Employee, error) {
	return tv.st.listEmployees(), nil
}

func (tv *txView) SaveAttendance(_ context.Context, a generic.AttendanceSummary) error {
	tv.st.attendance[attendanceKey{a.EmployeeID, a.Month}] = a
	return nil
}

func (tv *txView) GetAttendance(_ context.Context, id generic.EmployeeID, month generic.Month) (*generic.AttendanceSummary, error) {
	return tv.st.getAttendance(id, month)
}

func (tv *txView) SaveSalaryRecord(_ context.Context, r generic.SalaryRecord) error {
	return tv.st.saveSalaryRecord(r)
}

func (tv *txView) GetSalaryRecord(_ context.Context, id generic.EmployeeID, month generic.Month) (*generic.SalaryRecord, error) {
	return tv.st.getSalaryRecord(id, month)
}

func (tv *txView) ListSalaryRecords(_ context.Context, id generic.EmployeeID) ([]generic.SalaryRecord, error) {
	return tv.st.listSalaryRecords(id), nil
}

func (tv *txView) AppendAccrual(_ context.Context, e generic.HoldAccrualEntry) error {
	return tv.st.appendAccrual(e)
}

func (tv *txView) LoadAccruals(_ context.Context, id generic.EmployeeID) ([]generic.HoldAccrualEntry, error) {
	return append([]generic.HoldAccrualEntry(nil), tv.st.accruals[id]...), nil
}

func (tv *txView) AppendWithdrawal(_ context.Context, w generic.Withdrawal) error {
	return tv.st.appendWithdrawal(w)
}

func (tv *txView) LoadWithdrawals(_ context.Context, id generic.EmployeeID) ([]generic.Withdrawal, error) {
	return append([]generic.Withdrawal(nil), tv.st.withdrawals[id]...), nil
}

func (tv *txView) SaveRequest(_ context.Context, r generic.WithdrawalRequest) error {
	tv.st.saveRequest(r)
	return nil
}

func (tv *txView) GetRequest(_ context.Context, id generic.RequestID) (*generic.WithdrawalRequest, error) {
	return tv.st.getRequest(id)
}

func (tv *txView) ListRequestsByStatus(_ context.Context, status generic.WithdrawalStatus) ([]generic.WithdrawalRequest, error) {
	return tv.st.filterRequests(func(r generic.WithdrawalRequest) bool { return r.Status == status }), nil
}

func (tv *txView) ListRequestsByEmployee(_ context.Context, id generic.EmployeeID) ([]generic.WithdrawalRequest, error) {
	return tv.st.filterRequests(func(r generic.WithdrawalRequest) bool { return r.EmployeeID == id }), nil
}

var _ generic.TxStore = (*Memory)(nil)
