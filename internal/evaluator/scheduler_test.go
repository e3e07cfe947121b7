package evaluator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/consil800/lonely-care-sub004/internal/clock"
	"github.com/consil800/lonely-care-sub004/internal/dispatcher"
	"github.com/consil800/lonely-care-sub004/internal/models"
	"github.com/consil800/lonely-care-sub004/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fixedThresholds struct{ cfg models.ThresholdConfig }

func (f fixedThresholds) Current() models.ThresholdConfig { return f.cfg }

type transition struct {
	userID   string
	old, new models.AlertLevel
	elapsed  time.Duration
}

type recordingValidator struct {
	mu          sync.Mutex
	transitions []transition
}

func (r *recordingValidator) ValidateStatusTransition(_ context.Context, userID string, old, new models.AlertLevel, elapsed time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, transition{userID, old, new, elapsed})
	return true
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []models.Notification
	err  error
}

func (r *recordingNotifier) Send(_ context.Context, n models.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, n)
	return nil
}

// flakyStore 对指定用户返回存储不可用
type flakyStore struct {
	*repository.MemoryPresenceStore
	failUser string
}

func (f *flakyStore) GetPresence(ctx context.Context, userID string) (*models.PresenceState, error) {
	if userID == f.failUser {
		return nil, repository.ErrStoreUnavailable
	}
	return f.MemoryPresenceStore.GetPresence(ctx, userID)
}

type fixture struct {
	store     *repository.MemoryPresenceStore
	clock     *clock.Fake
	validator *recordingValidator
	notifier  *recordingNotifier
	scheduler *Scheduler
}

func setupScheduler(t *testing.T, store repository.PresenceStore, mem *repository.MemoryPresenceStore) *fixture {
	t.Helper()
	clk := clock.NewFake(now)
	v := &recordingValidator{}
	n := &recordingNotifier{}
	d := dispatcher.NewDispatcher(dispatcher.DefaultOptions(), n, store, nil, clk, nil, zap.NewNop())
	s := NewScheduler(store, mem, fixedThresholds{models.DefaultThresholds()}, v, d, clk, nil, time.Second, zap.NewNop())
	return &fixture{store: mem, clock: clk, validator: v, notifier: n, scheduler: s}
}

func newFixture(t *testing.T) *fixture {
	mem := repository.NewMemoryPresenceStore()
	return setupScheduler(t, mem, mem)
}

func addHeartbeat(t *testing.T, store *repository.MemoryPresenceStore, userID string, at time.Time) {
	t.Helper()
	require.NoError(t, store.AppendHeartbeat(context.Background(),
		models.NewHeartbeatRecord(userID, at, 1, models.SourceTouch, "")))
}

func TestRunOnce_WarningDispatchedToAllObservers(t *testing.T) {
	f := newFixture(t)
	f.store.SetFriendLinks([]models.FriendLink{
		{ObserverID: "observer-1", FriendID: "elder-1", FriendName: "Kim"},
		{ObserverID: "observer-2", FriendID: "elder-1", FriendName: "Kim"},
	})
	addHeartbeat(t, f.store, "elder-1", now.Add(-1500*time.Minute))

	report, err := f.scheduler.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.People)
	assert.Equal(t, 1, report.Evaluated)
	assert.Equal(t, 1, report.Dispatched)
	assert.Equal(t, 1, report.Levels[models.AlertLevelWarning])
	require.Len(t, f.notifier.sent, 2)
	assert.Equal(t, "observer-1", f.notifier.sent[0].RecipientID)
	assert.Equal(t, "Kim has not responded for 25 hours.", f.notifier.sent[0].Body)

	logs := f.store.NotificationLogs()
	require.Len(t, logs, 2)
	assert.Equal(t, "observer-2", logs[1].RecipientID)
	assert.Equal(t, models.PriorityNormal, logs[1].Priority)
	assert.Equal(t, 25, logs[1].HoursSinceHeartbeat)

	state, err := f.store.GetPresence(context.Background(), "elder-1")
	require.NoError(t, err)
	assert.Equal(t, models.AlertLevelWarning, state.LastComputedLevel)
	assert.Equal(t, now, state.UpdatedAt)
}

func TestRunOnce_RepeatedTicksDeduplicatedByCooldown(t *testing.T) {
	f := newFixture(t)
	f.store.SetFriendLinks([]models.FriendLink{{ObserverID: "observer-1", FriendID: "elder-1", FriendName: "Kim"}})
	addHeartbeat(t, f.store, "elder-1", now.Add(-3000*time.Minute))

	_, err := f.scheduler.RunOnce(context.Background())
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)
	report, err := f.scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Suppressed)
	assert.Len(t, f.notifier.sent, 1)

	// 冷却结束后再次通知
	f.clock.Advance(3 * time.Minute)
	report, err = f.scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Dispatched)
	assert.Len(t, f.notifier.sent, 2)
}

func TestRunOnce_NoHeartbeatIsUnknownAndNotDispatched(t *testing.T) {
	f := newFixture(t)
	f.store.SetFriendLinks([]models.FriendLink{{ObserverID: "observer-1", FriendID: "elder-x", FriendName: "X"}})

	report, err := f.scheduler.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Levels[models.AlertLevelUnknown])
	assert.Equal(t, 0, report.Dispatched)
	assert.Empty(t, f.notifier.sent)

	state, err := f.store.GetPresence(context.Background(), "elder-x")
	require.NoError(t, err)
	assert.Equal(t, models.AlertLevelUnknown, state.LastComputedLevel)
	assert.Nil(t, state.LastHeartbeatAt)
}

func TestRunOnce_NormalNotDispatched(t *testing.T) {
	f := newFixture(t)
	f.store.SetFriendLinks([]models.FriendLink{{ObserverID: "observer-1", FriendID: "elder-1", FriendName: "Kim"}})
	addHeartbeat(t, f.store, "elder-1", now.Add(-time.Hour))

	report, err := f.scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Levels[models.AlertLevelNormal])
	assert.Empty(t, f.notifier.sent)
}

func TestRunOnce_LevelChangeValidatesTransition(t *testing.T) {
	f := newFixture(t)
	f.store.SetFriendLinks([]models.FriendLink{{ObserverID: "observer-1", FriendID: "elder-1", FriendName: "Kim"}})

	last := now.Add(-1500 * time.Minute)
	addHeartbeat(t, f.store, "elder-1", last)
	require.NoError(t, f.store.SavePresence(context.Background(), models.PresenceState{
		UserID:            "elder-1",
		LastHeartbeatAt:   &last,
		LastComputedLevel: models.AlertLevelNormal,
		UpdatedAt:         now.Add(-10 * time.Minute),
	}))

	report, err := f.scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Changed)

	require.Len(t, f.validator.transitions, 1)
	tr := f.validator.transitions[0]
	assert.Equal(t, models.AlertLevelNormal, tr.old)
	assert.Equal(t, models.AlertLevelWarning, tr.new)
	assert.Equal(t, 10*time.Minute, tr.elapsed)

	// 级别不变时不再检查
	f.clock.Advance(5 * time.Minute)
	report, err = f.scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Changed)
	assert.Len(t, f.validator.transitions, 1)
}

func TestRunOnce_StoreUnavailableSkipsPerson(t *testing.T) {
	mem := repository.NewMemoryPresenceStore()
	f := setupScheduler(t, &flakyStore{MemoryPresenceStore: mem, failUser: "elder-1"}, mem)
	f.store.SetFriendLinks([]models.FriendLink{
		{ObserverID: "observer-1", FriendID: "elder-1", FriendName: "Kim"},
		{ObserverID: "observer-1", FriendID: "elder-2", FriendName: "Lee"},
	})
	addHeartbeat(t, mem, "elder-1", now.Add(-5000*time.Minute))
	addHeartbeat(t, mem, "elder-2", now.Add(-5000*time.Minute))

	report, err := f.scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.Evaluated)
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "elder-2", f.notifier.sent[0].ObservedPersonID)
	assert.Equal(t, "Friend status emergency", f.notifier.sent[0].Title)
}

func TestRunOnce_DeliveryFailureRetriedNextTick(t *testing.T) {
	f := newFixture(t)
	f.store.SetFriendLinks([]models.FriendLink{{ObserverID: "observer-1", FriendID: "elder-1", FriendName: "Kim"}})
	addHeartbeat(t, f.store, "elder-1", now.Add(-1500*time.Minute))

	f.notifier.err = errors.New("gateway down")
	report, err := f.scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	f.notifier.err = nil
	report, err = f.scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Dispatched)
}

type recordingReporter struct {
	reports []models.EmergencyReport
}

func (r *recordingReporter) ReportEmergency(_ context.Context, report models.EmergencyReport) error {
	r.reports = append(r.reports, report)
	return nil
}

func TestRunOnce_EmergencyReportedWithContactDetails(t *testing.T) {
	mem := repository.NewMemoryPresenceStore()
	clk := clock.NewFake(now)
	reporter := &recordingReporter{}
	d := dispatcher.NewDispatcher(dispatcher.DefaultOptions(), &recordingNotifier{}, mem, reporter, clk, nil, zap.NewNop())
	s := NewScheduler(mem, mem, fixedThresholds{models.DefaultThresholds()}, &recordingValidator{}, d, clk, nil, time.Second, zap.NewNop())

	mem.SetFriendLinks([]models.FriendLink{{
		ObserverID: "observer-1", FriendID: "elder-1", FriendName: "Kim",
		FriendPhone: "010-1234-5678", FriendAddress: "Seoul",
	}})
	addHeartbeat(t, mem, "elder-1", now.Add(-73*time.Hour))

	_, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, reporter.reports, 1)
	assert.Equal(t, "elder-1", reporter.reports[0].PersonID)
	assert.Equal(t, "010-1234-5678", reporter.reports[0].Phone)
	assert.Equal(t, "Seoul", reporter.reports[0].Address)
	assert.Equal(t, 73, reporter.reports[0].HoursSinceHeartbeat)

	logs := mem.NotificationLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, models.PriorityUrgent, logs[0].Priority)
}

type failingDirectory struct{}

func (failingDirectory) ListActiveFriendLinks(context.Context) ([]models.FriendLink, error) {
	return nil, repository.ErrStoreUnavailable
}

func TestRunOnce_FriendDirectoryUnavailable(t *testing.T) {
	mem := repository.NewMemoryPresenceStore()
	clk := clock.NewFake(now)
	d := dispatcher.NewDispatcher(dispatcher.DefaultOptions(), &recordingNotifier{}, nil, nil, clk, nil, zap.NewNop())
	s := NewScheduler(mem, failingDirectory{}, fixedThresholds{models.DefaultThresholds()}, &recordingValidator{}, d, clk, nil, time.Second, zap.NewNop())

	_, err := s.RunOnce(context.Background())
	assert.True(t, errors.Is(err, repository.ErrStoreUnavailable))
}

func TestScheduler_StartStop(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.scheduler.Start(context.Background(), time.Hour))
	assert.Error(t, f.scheduler.Start(context.Background(), time.Hour))
	f.scheduler.Stop()
	// 重复停止无副作用
	f.scheduler.Stop()
}
