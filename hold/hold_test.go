package hold_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/holdpay/auth"
	"github.com/warp/holdpay/generic"
	"github.com/warp/holdpay/generic/store"
	"github.com/warp/holdpay/hold"
	"github.com/warp/holdpay/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var admin = auth.Admin("admin-1")

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fixture struct {
	store    generic.TxStore
	ledger   *hold.Ledger
	workflow *hold.Workflow
	clock    *clock
}

func newFixture(t *testing.T, s generic.TxStore) *fixture {
	t.Helper()
	c := &clock{now: time.Date(2024, time.June, 15, 10, 0, 0, 0, time.UTC)}

	ledger := hold.NewLedger(s, zerolog.Nop())
	ledger.Now = c.Now
	wf := hold.NewWorkflow(s, ledger, generic.NewKeyedMutex(), zerolog.Nop())
	wf.Now = c.Now

	require.NoError(t, s.SaveEmployee(context.Background(), generic.Employee{
		ID: "e1", Name: "Asha", Status: generic.EmploymentActive,
	}))
	return &fixture{store: s, ledger: ledger, workflow: wf, clock: c}
}

func newMemoryFixture(t *testing.T) *fixture {
	return newFixture(t, store.NewMemory())
}

func newSQLiteFixture(t *testing.T) *fixture {
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return newFixture(t, s)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// fund accrues amount far enough in the past that it has matured.
func (f *fixture) fund(t *testing.T, amount string) {
	t.Helper()
	accruedAt := f.clock.Now().AddDate(-1, 0, 0)
	_, err := f.ledger.Accrue(context.Background(), "e1", dec(amount), accruedAt, "seed")
	require.NoError(t, err)
}

// =============================================================================
// LEDGER: ACCRUAL AND MATURITY
// =============================================================================

func TestLedger_Accrue_SetsClampedMaturity(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()

	entry, err := f.ledger.Accrue(ctx, "e1", dec("2920"), time.Date(2024, time.January, 31, 9, 30, 0, 0, time.UTC), "rec-1")
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, time.April, 30, 9, 30, 0, 0, time.UTC), entry.MaturesAt)
	assert.Equal(t, "rec-1", entry.ReferenceID)
}

func TestLedger_Accrue_DuplicateRejected(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	at := day(2024, time.January, 31)

	_, err := f.ledger.Accrue(ctx, "e1", dec("100"), at, "rec-1")
	require.NoError(t, err)

	_, err = f.ledger.Accrue(ctx, "e1", dec("100"), at, "rec-1")
	assert.ErrorIs(t, err, generic.ErrDuplicateAccrual)

	entries, err := f.ledger.Entries(ctx, "e1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLedger_Accrue_RejectsNegative(t *testing.T) {
	f := newMemoryFixture(t)
	_, err := f.ledger.Accrue(context.Background(), "e1", dec("-1"), day(2024, time.January, 31), "")
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
}

func TestLedger_Snapshot_MaturityBoundary(t *testing.T) {
	// GIVEN: An accrual that matures on 2024-04-30
	// WHEN: Taking snapshots on 04-29 and 04-30
	// THEN: It is withdrawable only from 04-30, regardless of time of day

	f := newMemoryFixture(t)
	ctx := context.Background()

	entry, err := f.ledger.Accrue(ctx, "e1", dec("1000"), time.Date(2024, time.January, 30, 18, 0, 0, 0, time.UTC), "rec-1")
	require.NoError(t, err)
	require.Equal(t, "2024-04-30", entry.MaturesAt.Format("2006-01-02"))

	before, err := f.ledger.Snapshot(ctx, "e1", time.Date(2024, time.April, 29, 23, 59, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, before.Withdrawable.IsZero())
	assert.True(t, dec("1000").Equal(before.TotalAccrued))
	assert.True(t, dec("1000").Equal(before.HoldBalance))

	on, err := f.ledger.Snapshot(ctx, "e1", time.Date(2024, time.April, 30, 0, 0, 1, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, dec("1000").Equal(on.Withdrawable))
	assert.True(t, dec("1000").Equal(on.Matured))
}

func TestComputeSnapshot(t *testing.T) {
	asOf := day(2024, time.June, 1)
	entries := []generic.HoldAccrualEntry{
		{Amount: dec("1000"), MaturesAt: day(2024, time.April, 30)},
		{Amount: dec("500"), MaturesAt: day(2024, time.June, 1)},
		{Amount: dec("700"), MaturesAt: day(2024, time.June, 2)},
	}
	withdrawals := []generic.Withdrawal{{Amount: dec("300")}}
	requests := []generic.WithdrawalRequest{
		{ID: "p1", Amount: dec("200"), Status: generic.WithdrawalPending},
		{ID: "p2", Amount: dec("100"), Status: generic.WithdrawalPending},
		{ID: "r1", Amount: dec("999"), Status: generic.WithdrawalRejected},
		{ID: "a1", Amount: dec("300"), Status: generic.WithdrawalApproved},
	}

	snap := hold.ComputeSnapshot("e1", asOf, entries, withdrawals, requests, "")
	assert.True(t, dec("2200").Equal(snap.TotalAccrued))
	assert.True(t, dec("1500").Equal(snap.Matured))
	assert.True(t, dec("300").Equal(snap.LifetimeWithdrawn))
	assert.True(t, dec("300").Equal(snap.Pending))
	assert.True(t, dec("900").Equal(snap.Withdrawable), "1500 - 300 - 300")
	assert.True(t, dec("1900").Equal(snap.HoldBalance))

	excluding := hold.ComputeSnapshot("e1", asOf, entries, withdrawals, requests, "p1")
	assert.True(t, dec("1100").Equal(excluding.Withdrawable))
}

func TestComputeSnapshot_PastDateIgnoresLaterEvents(t *testing.T) {
	// GIVEN: 1000 matured by March, withdrawn in full on June 10, and a
	//        request filed in May that was rejected on June 10
	// WHEN: Taking a snapshot as of May 31
	// THEN: The June withdrawal does not count, the May request is pending,
	//       and withdrawable is not negative

	entries := []generic.HoldAccrualEntry{
		{Amount: dec("1000"), AccruedAt: day(2023, time.December, 31), MaturesAt: day(2024, time.March, 31)},
		{Amount: dec("400"), AccruedAt: day(2024, time.June, 1), MaturesAt: day(2024, time.September, 1)},
	}
	decided := time.Date(2024, time.June, 10, 9, 0, 0, 0, time.UTC)
	withdrawals := []generic.Withdrawal{{Amount: dec("1000"), WithdrawnAt: decided}}
	requests := []generic.WithdrawalRequest{
		{ID: "a1", Amount: dec("1000"), Status: generic.WithdrawalApproved, RequestedAt: day(2024, time.June, 9), DecidedAt: &decided},
		{ID: "r1", Amount: dec("250"), Status: generic.WithdrawalRejected, RequestedAt: day(2024, time.May, 20), DecidedAt: &decided},
	}

	past := hold.ComputeSnapshot("e1", day(2024, time.May, 31), entries, withdrawals, requests, "")
	assert.True(t, dec("1000").Equal(past.TotalAccrued))
	assert.True(t, past.LifetimeWithdrawn.IsZero())
	assert.True(t, dec("250").Equal(past.Pending))
	assert.True(t, dec("750").Equal(past.Withdrawable))
	assert.False(t, past.Withdrawable.IsNegative())

	// The day of the decision sees the withdrawal and no pending request.
	onDecision := hold.ComputeSnapshot("e1", day(2024, time.June, 10), entries, withdrawals, requests, "")
	assert.True(t, dec("1000").Equal(onDecision.LifetimeWithdrawn))
	assert.True(t, onDecision.Pending.IsZero())
	assert.True(t, onDecision.Withdrawable.IsZero())
	assert.True(t, dec("400").Equal(onDecision.HoldBalance))
}

func TestLedger_Snapshot_PastDateAfterWithdrawal(t *testing.T) {
	// GIVEN: A funded account fully withdrawn today
	// WHEN: Asking for the snapshot of a month ago
	// THEN: Withdrawable is what was available then, never negative

	f := newMemoryFixture(t)
	ctx := context.Background()
	f.fund(t, "600")
	require.NoError(t, f.store.AppendWithdrawal(ctx, generic.Withdrawal{
		ID: "x1", EmployeeID: "e1", RequestID: "w1", Amount: dec("600"), WithdrawnAt: f.clock.Now(),
	}))

	now, err := f.ledger.Snapshot(ctx, "e1", f.clock.Now())
	require.NoError(t, err)
	assert.True(t, now.Withdrawable.IsZero())

	monthAgo, err := f.ledger.Snapshot(ctx, "e1", f.clock.Now().AddDate(0, -1, 0))
	require.NoError(t, err)
	assert.True(t, dec("600").Equal(monthAgo.Withdrawable))
	assert.True(t, monthAgo.LifetimeWithdrawn.IsZero())
}

// =============================================================================
// WORKFLOW: REQUEST
// =============================================================================

func TestWorkflow_Request_PendingCountsAgainstWithdrawable(t *testing.T) {
	// GIVEN: withdrawable=5000 and a pending request for 3000
	// WHEN: Requesting 2500, then 2000
	// THEN: 2500 fails with InsufficientHoldBalance, 2000 succeeds

	f := newMemoryFixture(t)
	ctx := context.Background()
	f.fund(t, "5000")
	self := auth.Employee("e1")

	_, err := f.workflow.Request(ctx, self, "e1", dec("3000"))
	require.NoError(t, err)

	_, err = f.workflow.Request(ctx, self, "e1", dec("2500"))
	require.ErrorIs(t, err, generic.ErrInsufficientHoldBalance)
	var ih *generic.InsufficientHoldBalanceError
	require.ErrorAs(t, err, &ih)
	assert.True(t, dec("2000").Equal(ih.Withdrawable))

	req, err := f.workflow.Request(ctx, self, "e1", dec("2000"))
	require.NoError(t, err)
	assert.Equal(t, generic.WithdrawalPending, req.Status)

	snap, err := f.workflow.Snapshot(ctx, self, "e1", time.Time{})
	require.NoError(t, err)
	assert.True(t, snap.Withdrawable.IsZero())
	assert.True(t, dec("5000").Equal(snap.Pending))
}

func TestWorkflow_Request_Validation(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	f.fund(t, "100")
	self := auth.Employee("e1")

	_, err := f.workflow.Request(ctx, self, "e1", decimal.Zero)
	assert.ErrorIs(t, err, generic.ErrInvalidInput)

	_, err = f.workflow.Request(ctx, self, "e1", dec("-5"))
	assert.ErrorIs(t, err, generic.ErrInvalidInput)

	_, err = f.workflow.Request(ctx, self, "e1", dec("1.001"))
	assert.ErrorIs(t, err, generic.ErrInvalidInput)

	_, err = f.workflow.Request(ctx, auth.Employee("ghost"), "ghost", dec("1"))
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestWorkflow_Request_OnlySelf(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	f.fund(t, "100")

	_, err := f.workflow.Request(ctx, auth.Employee("e2"), "e1", dec("10"))
	assert.ErrorIs(t, err, auth.ErrForbidden)

	_, err = f.workflow.Request(ctx, admin, "e1", dec("10"))
	assert.ErrorIs(t, err, auth.ErrForbidden)

	_, err = f.workflow.Request(ctx, auth.Caller{}, "e1", dec("10"))
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)
}

func TestWorkflow_Request_ImmatureFundsNotWithdrawable(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()

	_, err := f.ledger.Accrue(ctx, "e1", dec("1000"), f.clock.Now().AddDate(0, -1, 0), "rec")
	require.NoError(t, err)

	_, err = f.workflow.Request(ctx, auth.Employee("e1"), "e1", dec("1"))
	assert.ErrorIs(t, err, generic.ErrInsufficientHoldBalance)
}

// =============================================================================
// WORKFLOW: CONCURRENCY
// =============================================================================

func testConcurrentRequests(t *testing.T, f *fixture) {
	// GIVEN: withdrawable=1000
	// WHEN: N goroutines each request withdrawable/2 + 1
	// THEN: At most one succeeds and pending never exceeds withdrawable

	ctx := context.Background()
	f.fund(t, "1000")
	self := auth.Employee("e1")
	amount := dec("501")

	const n = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.workflow.Request(ctx, self, "e1", amount)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, generic.ErrInsufficientHoldBalance)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)

	snap, err := f.ledger.Snapshot(ctx, "e1", f.clock.Now())
	require.NoError(t, err)
	assert.True(t, snap.Pending.LessThanOrEqual(snap.Matured))
	assert.False(t, snap.Withdrawable.IsNegative())
}

func TestWorkflow_ConcurrentRequests_Memory(t *testing.T) {
	testConcurrentRequests(t, newMemoryFixture(t))
}

func TestWorkflow_ConcurrentRequests_SQLite(t *testing.T) {
	testConcurrentRequests(t, newSQLiteFixture(t))
}

// =============================================================================
// WORKFLOW: APPROVE / REJECT
// =============================================================================

func TestWorkflow_Approve_RecordsWithdrawal(t *testing.T) {
	f := newSQLiteFixture(t)
	ctx := context.Background()
	f.fund(t, "1000")

	req, err := f.workflow.Request(ctx, auth.Employee("e1"), "e1", dec("400"))
	require.NoError(t, err)

	approved, err := f.workflow.Approve(ctx, admin, req.ID, "bank_transfer")
	require.NoError(t, err)
	assert.Equal(t, generic.WithdrawalApproved, approved.Status)
	assert.Equal(t, "bank_transfer", approved.PaymentMethod)
	assert.Equal(t, "admin-1", approved.DecidedBy)
	require.NotNil(t, approved.DecidedAt)

	snap, err := f.ledger.Snapshot(ctx, "e1", f.clock.Now())
	require.NoError(t, err)
	assert.True(t, dec("400").Equal(snap.LifetimeWithdrawn))
	assert.True(t, snap.Pending.IsZero())
	assert.True(t, dec("600").Equal(snap.Withdrawable))
	assert.True(t, dec("600").Equal(snap.HoldBalance))

	// Approved is terminal.
	_, err = f.workflow.Approve(ctx, admin, req.ID, "bank_transfer")
	assert.ErrorIs(t, err, generic.ErrRequestNotPending)
	_, err = f.workflow.Reject(ctx, admin, req.ID, "too late")
	assert.ErrorIs(t, err, generic.ErrRequestNotPending)
}

func TestWorkflow_Approve_StaleLeavesPending(t *testing.T) {
	// GIVEN: A pending request for 800 out of 1000
	// WHEN: The balance drops underneath it and an admin approves
	// THEN: StaleWithdrawalRequest, request still pending, nothing recorded

	f := newMemoryFixture(t)
	ctx := context.Background()
	f.fund(t, "1000")

	req, err := f.workflow.Request(ctx, auth.Employee("e1"), "e1", dec("800"))
	require.NoError(t, err)

	// A withdrawal recorded by another process since the request was made.
	require.NoError(t, f.store.AppendWithdrawal(ctx, generic.Withdrawal{
		ID: "x-ext", EmployeeID: "e1", RequestID: "external", Amount: dec("500"), WithdrawnAt: f.clock.Now(),
	}))

	_, err = f.workflow.Approve(ctx, admin, req.ID, "cash")
	require.ErrorIs(t, err, generic.ErrStaleWithdrawalRequest)
	var stale *generic.StaleWithdrawalRequestError
	require.ErrorAs(t, err, &stale)
	assert.True(t, dec("500").Equal(stale.Withdrawable))

	got, err := f.store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, generic.WithdrawalPending, got.Status)
	assert.Nil(t, got.DecidedAt)

	withdrawals, err := f.store.LoadWithdrawals(ctx, "e1")
	require.NoError(t, err)
	assert.Len(t, withdrawals, 1, "only the external withdrawal")
}

func TestWorkflow_Approve_ExcludesOwnAmount(t *testing.T) {
	// A request for the full withdrawable amount must still be approvable.
	f := newMemoryFixture(t)
	ctx := context.Background()
	f.fund(t, "1000")

	req, err := f.workflow.Request(ctx, auth.Employee("e1"), "e1", dec("1000"))
	require.NoError(t, err)

	_, err = f.workflow.Approve(ctx, admin, req.ID, "cash")
	assert.NoError(t, err)
}

func TestWorkflow_Approve_Validation(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	f.fund(t, "1000")

	req, err := f.workflow.Request(ctx, auth.Employee("e1"), "e1", dec("100"))
	require.NoError(t, err)

	_, err = f.workflow.Approve(ctx, admin, req.ID, "")
	assert.ErrorIs(t, err, generic.ErrInvalidInput)

	_, err = f.workflow.Approve(ctx, auth.Employee("e1"), req.ID, "cash")
	assert.ErrorIs(t, err, auth.ErrForbidden)

	_, err = f.workflow.Approve(ctx, admin, "missing", "cash")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestWorkflow_RejectTwice(t *testing.T) {
	// GIVEN: A pending request
	// WHEN: Rejecting it twice
	// THEN: The second call fails and the first rejection is unchanged

	f := newSQLiteFixture(t)
	ctx := context.Background()
	f.fund(t, "1000")

	req, err := f.workflow.Request(ctx, auth.Employee("e1"), "e1", dec("300"))
	require.NoError(t, err)

	first, err := f.workflow.Reject(ctx, admin, req.ID, "not now")
	require.NoError(t, err)
	assert.Equal(t, generic.WithdrawalRejected, first.Status)

	f.clock.Set(f.clock.Now().Add(time.Hour))
	_, err = f.workflow.Reject(ctx, auth.Admin("admin-2"), req.ID, "again")
	require.ErrorIs(t, err, generic.ErrRequestNotPending)
	var notPending *generic.RequestNotPendingError
	require.ErrorAs(t, err, &notPending)
	assert.Equal(t, generic.WithdrawalRejected, notPending.Status)

	got, err := f.store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, "not now", got.RejectionReason)
	assert.Equal(t, "admin-1", got.DecidedBy)
	require.NotNil(t, got.DecidedAt)
	assert.True(t, first.DecidedAt.Equal(*got.DecidedAt))

	// Rejection frees the pending amount without touching the ledger.
	snap, err := f.ledger.Snapshot(ctx, "e1", f.clock.Now())
	require.NoError(t, err)
	assert.True(t, dec("1000").Equal(snap.Withdrawable))
	assert.True(t, snap.LifetimeWithdrawn.IsZero())
}

// =============================================================================
// WORKFLOW: LISTING
// =============================================================================

func TestWorkflow_ListByStatus(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	f.fund(t, "1000")
	self := auth.Employee("e1")

	r1, err := f.workflow.Request(ctx, self, "e1", dec("100"))
	require.NoError(t, err)
	r2, err := f.workflow.Request(ctx, self, "e1", dec("200"))
	require.NoError(t, err)
	_, err = f.workflow.Reject(ctx, admin, r1.ID, "")
	require.NoError(t, err)

	pending, err := f.workflow.ListByStatus(ctx, admin, generic.WithdrawalPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, r2.ID, pending[0].ID)

	rejected, err := f.workflow.ListByStatus(ctx, admin, generic.WithdrawalRejected)
	require.NoError(t, err)
	require.Len(t, rejected, 1)

	_, err = f.workflow.ListByStatus(ctx, self, generic.WithdrawalPending)
	assert.ErrorIs(t, err, auth.ErrForbidden)

	_, err = f.workflow.ListByStatus(ctx, admin, "bogus")
	assert.ErrorIs(t, err, generic.ErrInvalidInput)

	mine, err := f.workflow.ListForEmployee(ctx, self, "e1")
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	_, err = f.workflow.ListForEmployee(ctx, auth.Employee("e2"), "e1")
	assert.ErrorIs(t, err, auth.ErrForbidden)
}

func TestWorkflow_Snapshot_Access(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()

	_, err := f.workflow.Snapshot(ctx, auth.Employee("e1"), "e1", time.Time{})
	assert.NoError(t, err)
	_, err = f.workflow.Snapshot(ctx, admin, "e1", time.Time{})
	assert.NoError(t, err)
	_, err = f.workflow.Snapshot(ctx, auth.Employee("e2"), "e1", time.Time{})
	assert.ErrorIs(t, err, auth.ErrForbidden)
	_, err = f.workflow.Snapshot(ctx, admin, "ghost", time.Time{})
	assert.ErrorIs(t, err, generic.ErrNotFound)
}
