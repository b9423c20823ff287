package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/remote-lab-rental/internal/ledger"
	"github.com/iliyamo/remote-lab-rental/internal/model"
	"github.com/iliyamo/remote-lab-rental/internal/queue"
	"github.com/iliyamo/remote-lab-rental/internal/repository"
)

// fakeClock is a hand-driven wall clock for deterministic durations.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeSessions is an in-memory Store with the repository's semantics.
type fakeSessions struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: make(map[string]*model.Session)}
}

func (f *fakeSessions) Insert(ctx context.Context, s *model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	f.sessions[s.ID] = &cp
	return nil
}

func (f *fakeSessions) GetByID(ctx context.Context, id string) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSessions) OpenByUser(ctx context.Context, userID uint64) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.UserID == userID && s.EndTime == nil {
			cp := *s
			return &cp, nil
		}
	}
	return nil, repository.ErrSessionNotFound
}

func (f *fakeSessions) Close(ctx context.Context, id string, endTime time.Time, durationMinutes float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return repository.ErrSessionNotFound
	}
	if s.EndTime != nil {
		return repository.ErrSessionClosed
	}
	s.EndTime = &endTime
	s.DurationMinutes = &durationMinutes
	return nil
}

func (f *fakeSessions) UndebitedClosedByUser(ctx context.Context, userID uint64) ([]*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Session
	for _, s := range f.sessions {
		if s.UserID == userID && s.EndTime != nil && s.DebitedAt == nil {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeSessions) MarkDebited(ctx context.Context, ids []string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		if s, ok := f.sessions[id]; ok && s.DebitedAt == nil {
			ts := at
			s.DebitedAt = &ts
		}
	}
	return nil
}

// fakeServers serves a fixed catalogue.
type fakeServers struct {
	servers map[uint64]*model.LabServer
}

func (f *fakeServers) GetByID(ctx context.Context, id uint64) (*model.LabServer, error) {
	s, ok := f.servers[id]
	if !ok {
		return nil, repository.ErrServerNotFound
	}
	return s, nil
}

// fakeCache records projection saves and clears.
type fakeCache struct {
	mu          sync.Mutex
	projections map[uint64]repository.SessionProjection
}

func newFakeCache() *fakeCache {
	return &fakeCache{projections: make(map[uint64]repository.SessionProjection)}
}

func (f *fakeCache) Save(ctx context.Context, userID uint64, p repository.SessionProjection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.projections[userID] = p
	return nil
}

func (f *fakeCache) Clear(ctx context.Context, userID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.projections, userID)
	return nil
}

func (f *fakeCache) get(userID uint64) (repository.SessionProjection, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projections[userID]
	return p, ok
}

// recordingNotifier captures published events instead of hitting a broker.
type recordingNotifier struct {
	mu       sync.Mutex
	ended    []queue.SessionEndedEvent
	depleted []queue.BalanceDepletedEvent
}

func (n *recordingNotifier) SessionEnded(ctx context.Context, ev queue.SessionEndedEvent) {
	n.mu.Lock()
	n.ended = append(n.ended, ev)
	n.mu.Unlock()
}

func (n *recordingNotifier) BalanceDepleted(ctx context.Context, ev queue.BalanceDepletedEvent) {
	n.mu.Lock()
	n.depleted = append(n.depleted, ev)
	n.mu.Unlock()
}

// recordingAccess captures gate lifecycle notifications.
type recordingAccess struct {
	mu      sync.Mutex
	started []string
	ended   []uint64
}

func (a *recordingAccess) SessionStarted(userID uint64, sessionID string, startedAt time.Time) {
	a.mu.Lock()
	a.started = append(a.started, sessionID)
	a.mu.Unlock()
}

func (a *recordingAccess) SessionEnded(userID uint64) {
	a.mu.Lock()
	a.ended = append(a.ended, userID)
	a.mu.Unlock()
}

// ledgerStore is an in-memory ledger.Store; failNext forces the next
// Apply to fail.
type ledgerStore struct {
	mu       sync.Mutex
	balances map[uint64]float64
	entries  []model.TimeBalanceHistoryEntry
	failNext error
}

func newLedgerStore() *ledgerStore {
	return &ledgerStore{balances: make(map[uint64]float64)}
}

func (m *ledgerStore) GetOrCreate(ctx context.Context, userID uint64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[userID], nil
}

func (m *ledgerStore) Apply(ctx context.Context, userID uint64, fn func(current float64) (float64, model.TimeBalanceHistoryEntry, error)) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return 0, err
	}
	newBalance, entry, err := fn(m.balances[userID])
	if err != nil {
		return 0, err
	}
	m.balances[userID] = newBalance
	m.entries = append(m.entries, entry)
	return newBalance, nil
}

func (m *ledgerStore) History(ctx context.Context, userID uint64) ([]model.TimeBalanceHistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.TimeBalanceHistoryEntry, len(m.entries))
	copy(out, m.entries)
	return out, nil
}

func (m *ledgerStore) debitEntries() []model.TimeBalanceHistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.TimeBalanceHistoryEntry
	for _, e := range m.entries {
		if e.OperationType == model.OpSession || e.OperationType == model.OpDeduct {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	clock    *fakeClock
	sessions *fakeSessions
	store    *ledgerStore
	cache    *fakeCache
	notifier *recordingNotifier
	access   *recordingAccess
	ctrl     *Controller
}

// newFixture wires a controller over fakes.  The meter ticks on a long
// interval so wall time never drives the tests; expiry tests use their
// own interval.
func newFixture(t *testing.T, balanceHours float64) *fixture {
	t.Helper()
	f := &fixture{
		clock:    newFakeClock(),
		sessions: newFakeSessions(),
		store:    newLedgerStore(),
		cache:    newFakeCache(),
		notifier: &recordingNotifier{},
		access:   &recordingAccess{},
	}
	f.store.balances[1] = balanceHours
	f.ctrl = NewController(Config{
		Sessions: f.sessions,
		Servers: &fakeServers{servers: map[uint64]*model.LabServer{
			10: {ID: 10, Name: "lab-10", IsActive: true},
			11: {ID: 11, Name: "lab-11", IsActive: false},
		}},
		Ledger:       ledger.New(f.store),
		Cache:        f.cache,
		Notifier:     f.notifier,
		Access:       f.access,
		Now:          f.clock.Now,
		TickInterval: time.Hour,
	})
	return f
}

func TestController_StartRequiresBalance(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	_, err := f.ctrl.Start(ctx, 1, 10)
	assert.ErrorIs(t, err, ErrNoBalance)

	// The refusal happens before any row is created.
	_, err = f.sessions.OpenByUser(ctx, 1)
	assert.ErrorIs(t, err, repository.ErrSessionNotFound)
	assert.Nil(t, f.ctrl.Meter(1))
}

func TestController_StartChecksServer(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	_, err := f.ctrl.Start(ctx, 1, 999)
	assert.ErrorIs(t, err, repository.ErrServerNotFound)

	_, err = f.ctrl.Start(ctx, 1, 11)
	assert.ErrorIs(t, err, ErrServerInactive)
}

func TestController_StartOpensSessionAndMeter(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	sess, err := f.ctrl.Start(ctx, 1, 10)
	require.NoError(t, err)
	defer f.ctrl.stopMeter(1)

	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, uint64(1), sess.UserID)
	assert.Equal(t, uint64(10), sess.ServerID)
	assert.True(t, sess.Open())

	// The meter's budget is the balance captured at start.
	meter := f.ctrl.Meter(1)
	require.NotNil(t, meter)
	assert.Equal(t, 2*time.Hour, meter.Remaining())

	// Provisional projection and gate schedule follow the start.
	proj, ok := f.cache.get(1)
	require.True(t, ok)
	assert.Equal(t, sess.ID, proj.SessionID)
	assert.Equal(t, (2 * time.Hour).Seconds(), proj.BalanceSecondsAtStart)
	assert.Equal(t, []string{sess.ID}, f.access.started)
}

func TestController_StartRejectsSecondSession(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	_, err := f.ctrl.Start(ctx, 1, 10)
	require.NoError(t, err)
	defer f.ctrl.stopMeter(1)

	_, err = f.ctrl.Start(ctx, 1, 10)
	assert.ErrorIs(t, err, ErrSessionActive)
}

func TestController_PauseClosesWithoutDebit(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	sess, err := f.ctrl.Start(ctx, 1, 10)
	require.NoError(t, err)

	f.clock.Advance(30 * time.Minute)
	paused, err := f.ctrl.Pause(ctx, 1, sess.ID)
	require.NoError(t, err)

	require.NotNil(t, paused.EndTime)
	require.NotNil(t, paused.DurationMinutes)
	assert.Equal(t, 30.0, *paused.DurationMinutes)

	// Pause never touches the ledger; the deduction waits for End.
	balance, err := f.ctrl.ledger.GetBalance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2.0, balance)
	assert.Empty(t, f.store.debitEntries())

	// Meter, projection and verification schedule are torn down.
	assert.Nil(t, f.ctrl.Meter(1))
	_, ok := f.cache.get(1)
	assert.False(t, ok)
	assert.Equal(t, []uint64{1}, f.access.ended)
}

func TestController_PauseOwnershipAndState(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	sess, err := f.ctrl.Start(ctx, 1, 10)
	require.NoError(t, err)
	defer f.ctrl.stopMeter(1)

	_, err = f.ctrl.Pause(ctx, 2, sess.ID)
	assert.ErrorIs(t, err, ErrNotOwner)

	_, err = f.ctrl.Pause(ctx, 1, "no-such-session")
	assert.ErrorIs(t, err, repository.ErrSessionNotFound)

	_, err = f.ctrl.Pause(ctx, 1, sess.ID)
	require.NoError(t, err)
	_, err = f.ctrl.Pause(ctx, 1, sess.ID)
	assert.ErrorIs(t, err, repository.ErrSessionClosed)
}

func TestController_ResumeOpensNewRowWithReducedBudget(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	first, err := f.ctrl.Start(ctx, 1, 10)
	require.NoError(t, err)
	f.clock.Advance(30 * time.Minute)
	_, err = f.ctrl.Pause(ctx, 1, first.ID)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour) // paused time is free
	second, err := f.ctrl.Resume(ctx, 1, first.ID)
	require.NoError(t, err)
	defer f.ctrl.stopMeter(1)

	// A fresh row on the same server; the closed one stays closed.
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.ServerID, second.ServerID)
	assert.True(t, second.Open())

	// Budget is the balance minus the 30 undebited minutes.
	meter := f.ctrl.Meter(1)
	require.NotNil(t, meter)
	assert.Equal(t, 90*time.Minute, meter.Remaining())
}

func TestController_ResumeGuards(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	first, err := f.ctrl.Start(ctx, 1, 10)
	require.NoError(t, err)
	defer f.ctrl.stopMeter(1)

	// Resuming a still-open session is refused.
	_, err = f.ctrl.Resume(ctx, 1, first.ID)
	assert.ErrorIs(t, err, ErrSessionActive)

	// Only the owner may resume.
	_, err = f.ctrl.Resume(ctx, 2, first.ID)
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestController_ResumeRefusedWhenConsumedCoversBalance(t *testing.T) {
	f := newFixture(t, 0.5)
	ctx := context.Background()

	first, err := f.ctrl.Start(ctx, 1, 10)
	require.NoError(t, err)
	f.clock.Advance(30 * time.Minute)
	_, err = f.ctrl.Pause(ctx, 1, first.ID)
	require.NoError(t, err)

	// The paused interval already consumed the whole half hour.
	_, err = f.ctrl.Resume(ctx, 1, first.ID)
	assert.ErrorIs(t, err, ErrNoBalance)
}

func TestController_EndSweepsAllUndebitedIntervals(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	// 30 minutes, pause, resume, 15 minutes, end.
	first, err := f.ctrl.Start(ctx, 1, 10)
	require.NoError(t, err)
	f.clock.Advance(30 * time.Minute)
	_, err = f.ctrl.Pause(ctx, 1, first.ID)
	require.NoError(t, err)
	second, err := f.ctrl.Resume(ctx, 1, first.ID)
	require.NoError(t, err)
	f.clock.Advance(15 * time.Minute)

	ended, err := f.ctrl.End(ctx, 1, second.ID)
	require.NoError(t, err)
	assert.False(t, ended.Open())

	// One deduction covering both intervals: 45 minutes = 0.75 hours.
	debits := f.store.debitEntries()
	require.Len(t, debits, 1)
	assert.Equal(t, -0.75, debits[0].AmountHours)
	assert.Equal(t, model.OpSession, debits[0].OperationType)

	balance, err := f.ctrl.ledger.GetBalance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1.25, balance)

	// Both rows are marked debited so no later end can sweep them again.
	undebited, err := f.sessions.UndebitedClosedByUser(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, undebited)

	// The notification carries the swept totals and the fresh balance.
	require.Len(t, f.notifier.ended, 1)
	ev := f.notifier.ended[0]
	assert.Equal(t, second.ID, ev.SessionID)
	assert.Equal(t, 45.0, ev.DurationMinutes)
	assert.Equal(t, 0.75, ev.HoursDebited)
	assert.Equal(t, 1.25, ev.BalanceAfter)
	assert.Empty(t, f.notifier.depleted)
}

func TestController_EndIsIdempotent(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	sess, err := f.ctrl.Start(ctx, 1, 10)
	require.NoError(t, err)
	f.clock.Advance(time.Hour)
	_, err = f.ctrl.End(ctx, 1, sess.ID)
	require.NoError(t, err)

	// The second end finds nothing undebited and deducts nothing.
	again, err := f.ctrl.End(ctx, 1, sess.ID)
	require.NoError(t, err)
	assert.False(t, again.Open())
	assert.Len(t, f.store.debitEntries(), 1)
	assert.Len(t, f.notifier.ended, 1)

	balance, err := f.ctrl.ledger.GetBalance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1.0, balance)
}

func TestController_EndRefusesOldRowWhileAnotherIsActive(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	first, err := f.ctrl.Start(ctx, 1, 10)
	require.NoError(t, err)
	f.clock.Advance(10 * time.Minute)
	_, err = f.ctrl.Pause(ctx, 1, first.ID)
	require.NoError(t, err)
	_, err = f.ctrl.Resume(ctx, 1, first.ID)
	require.NoError(t, err)
	defer f.ctrl.stopMeter(1)

	// Ending the paused row would tear down the live meter.
	_, err = f.ctrl.End(ctx, 1, first.ID)
	assert.ErrorIs(t, err, ErrSessionActive)
	assert.NotNil(t, f.ctrl.Meter(1))
}

func TestController_EndLedgerFailureLeavesRowsClosed(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	sess, err := f.ctrl.Start(ctx, 1, 10)
	require.NoError(t, err)
	f.clock.Advance(time.Hour)

	f.store.failNext = errors.New("deadlock found when trying to get lock")
	_, err = f.ctrl.End(ctx, 1, sess.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLedgerWrite)

	// The time is spent: the row is closed but still undebited, so a
	// later end settles the accounting.
	undebited, err := f.sessions.UndebitedClosedByUser(ctx, 1)
	require.NoError(t, err)
	require.Len(t, undebited, 1)

	_, err = f.ctrl.End(ctx, 1, sess.ID)
	require.NoError(t, err)
	balance, err := f.ctrl.ledger.GetBalance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1.0, balance)
}

func TestController_DepletionNotified(t *testing.T) {
	f := newFixture(t, 0.5)
	ctx := context.Background()

	sess, err := f.ctrl.Start(ctx, 1, 10)
	require.NoError(t, err)

	// Consume the full half hour.
	f.clock.Advance(30 * time.Minute)
	_, err = f.ctrl.End(ctx, 1, sess.ID)
	require.NoError(t, err)

	balance, err := f.ctrl.ledger.GetBalance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0.0, balance)
	require.Len(t, f.notifier.depleted, 1)
	assert.Equal(t, sess.ID, f.notifier.depleted[0].SessionID)
}

func TestController_ExpiryEndsSessionAutomatically(t *testing.T) {
	f := newFixture(t, 0.5)
	// Short real ticks; the fake clock decides when the budget is gone.
	f.ctrl.tick = 5 * time.Millisecond
	ctx := context.Background()

	sess, err := f.ctrl.Start(ctx, 1, 10)
	require.NoError(t, err)

	f.clock.Advance(30 * time.Minute)

	// Wait for the expiry path to finish the whole end, debit included.
	deadline := time.Now().Add(2 * time.Second)
	for len(f.store.debitEntries()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	cur, err := f.sessions.GetByID(ctx, sess.ID)
	require.NoError(t, err)
	require.False(t, cur.Open(), "meter expiry should have ended the session")

	// The automatic end settles the ledger like a manual one.
	debits := f.store.debitEntries()
	require.Len(t, debits, 1)
	assert.Equal(t, -0.5, debits[0].AmountHours)
	assert.Nil(t, f.ctrl.Meter(1))
}
