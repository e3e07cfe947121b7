package evaluator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/consil800/lonely-care-sub004/internal/clock"
	"github.com/consil800/lonely-care-sub004/internal/dispatcher"
	"github.com/consil800/lonely-care-sub004/internal/metrics"
	"github.com/consil800/lonely-care-sub004/internal/models"
	"github.com/consil800/lonely-care-sub004/internal/repository"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ThresholdReader 当前阈值
type ThresholdReader interface {
	Current() models.ThresholdConfig
}

// TransitionValidator 状态变化模式检查（只记录，不拦截）
type TransitionValidator interface {
	ValidateStatusTransition(ctx context.Context, userID string, oldLevel, newLevel models.AlertLevel, elapsed time.Duration) bool
}

// NotificationDispatcher 通知派发
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, req dispatcher.Request) (dispatcher.Result, error)
}

// TickReport 单次调度结果
type TickReport struct {
	StartedAt  time.Time                 `json:"started_at"`
	Duration   time.Duration             `json:"duration"`
	People     int                       `json:"people"`
	Evaluated  int                       `json:"evaluated"`
	Skipped    int                       `json:"skipped"`
	Changed    int                       `json:"changed"`
	Dispatched int                       `json:"dispatched"`
	Suppressed int                       `json:"suppressed"`
	Failed     int                       `json:"failed"`
	Levels     map[models.AlertLevel]int `json:"levels"`
}

// watchedPerson 被关注者及其观察者
type watchedPerson struct {
	id        string
	name      string
	phone     string
	address   string
	observers []string
}

// Scheduler 升级调度器：周期性重新计算每个被关注者的告警级别并请求派发
// 调度器本身不做去重，重复请求由派发器冷却处理
type Scheduler struct {
	store        repository.PresenceStore
	friends      repository.FriendDirectory
	thresholds   ThresholdReader
	validator    TransitionValidator
	dispatcher   NotificationDispatcher
	clock        clock.Clock
	metrics      *metrics.Metrics
	logger       *zap.Logger
	storeTimeout time.Duration

	runMu sync.Mutex

	cronMu sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

// NewScheduler 创建升级调度器
func NewScheduler(
	store repository.PresenceStore,
	friends repository.FriendDirectory,
	thresholds ThresholdReader,
	validator TransitionValidator,
	notificationDispatcher NotificationDispatcher,
	clk clock.Clock,
	m *metrics.Metrics,
	storeTimeout time.Duration,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		store:        store,
		friends:      friends,
		thresholds:   thresholds,
		validator:    validator,
		dispatcher:   notificationDispatcher,
		clock:        clk,
		metrics:      m,
		logger:       logger,
		storeTimeout: storeTimeout,
	}
}

// Start 按 interval 启动周期调度；上一次未结束时跳过本次
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) error {
	s.cronMu.Lock()
	defer s.cronMu.Unlock()

	if s.cron != nil {
		return errors.New("scheduler already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	logger := cronLogger{s.logger.Sugar()}
	c := cron.New(cron.WithChain(
		cron.Recover(logger),
		cron.SkipIfStillRunning(logger),
	))

	_, err := c.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		if _, err := s.RunOnce(runCtx); err != nil {
			s.logger.Warn("Escalation tick aborted", zap.Error(err))
		}
	})
	if err != nil {
		cancel()
		return fmt.Errorf("failed to schedule escalation tick: %w", err)
	}

	c.Start()
	s.cron = c
	s.cancel = cancel

	s.logger.Info("Escalation scheduler started",
		zap.Duration("interval", interval),
	)
	return nil
}

// Stop 停止调度并等待正在执行的调度结束
func (s *Scheduler) Stop() {
	s.cronMu.Lock()
	defer s.cronMu.Unlock()

	if s.cron == nil {
		return
	}
	s.cancel()
	<-s.cron.Stop().Done()
	s.cron = nil
	s.logger.Info("Escalation scheduler stopped")
}

// RunOnce 执行一次完整调度；手动触发与定时触发完全相同
func (s *Scheduler) RunOnce(ctx context.Context) (TickReport, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	now := s.clock.Now()
	start := time.Now()
	report := TickReport{
		StartedAt: now,
		Levels:    make(map[models.AlertLevel]int),
	}

	people, err := s.loadWatchedPeople(ctx)
	if err != nil {
		return report, err
	}
	report.People = len(people)

	thresholds := s.thresholds.Current()
	for _, person := range people {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		s.evaluatePerson(ctx, person, thresholds, now, &report)
	}

	report.Duration = time.Since(start)
	s.metrics.ObserveTick(report.Duration, report.Skipped, report.Levels)

	s.logger.Info("Escalation tick completed",
		zap.Int("people", report.People),
		zap.Int("evaluated", report.Evaluated),
		zap.Int("skipped", report.Skipped),
		zap.Int("dispatched", report.Dispatched),
		zap.Int("suppressed", report.Suppressed),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

// loadWatchedPeople 按被关注者分组，保持首次出现顺序
func (s *Scheduler) loadWatchedPeople(ctx context.Context) ([]*watchedPerson, error) {
	lctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	links, err := s.friends.ListActiveFriendLinks(lctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load friend links: %w", err)
	}

	index := make(map[string]*watchedPerson)
	var people []*watchedPerson
	for _, link := range links {
		p, ok := index[link.FriendID]
		if !ok {
			p = &watchedPerson{
				id:      link.FriendID,
				name:    link.FriendName,
				phone:   link.FriendPhone,
				address: link.FriendAddress,
			}
			index[link.FriendID] = p
			people = append(people, p)
		}
		p.observers = append(p.observers, link.ObserverID)
	}
	return people, nil
}

func (s *Scheduler) evaluatePerson(ctx context.Context, person *watchedPerson, thresholds models.ThresholdConfig, now time.Time, report *TickReport) {
	state, lastHeartbeatAt, err := s.readPresence(ctx, person.id)
	if err != nil {
		// 本轮跳过，下一轮重试
		report.Skipped++
		s.logger.Warn("Skipping watched person this tick",
			zap.String("person_id", person.id),
			zap.Error(err),
		)
		return
	}
	report.Evaluated++

	level, elapsed := ClassifyPresence(lastHeartbeatAt, now, thresholds)
	report.Levels[level]++

	previous := models.AlertLevelUnknown
	if state != nil {
		previous = state.LastComputedLevel
	}

	if state == nil || level != previous || !sameTime(state.LastHeartbeatAt, lastHeartbeatAt) {
		if level != previous {
			report.Changed++
			if state != nil && previous != models.AlertLevelUnknown {
				s.validator.ValidateStatusTransition(ctx, person.id, previous, level, now.Sub(state.UpdatedAt))
			}
		}
		s.savePresence(ctx, models.PresenceState{
			UserID:            person.id,
			LastHeartbeatAt:   lastHeartbeatAt,
			LastComputedLevel: level,
			UpdatedAt:         now,
		})
	}

	if !level.Actionable() {
		return
	}

	_, err = s.dispatcher.Dispatch(ctx, dispatcher.Request{
		PersonID:        person.id,
		PersonName:      person.name,
		PersonPhone:     person.phone,
		PersonAddress:   person.address,
		Level:           level,
		Elapsed:         elapsed,
		LastHeartbeatAt: lastHeartbeatAt,
		Observers:       person.observers,
	})
	switch {
	case err == nil:
		report.Dispatched++
	case errors.Is(err, dispatcher.ErrCooldownActive):
		report.Suppressed++
	default:
		report.Failed++
		s.logger.Warn("Dispatch failed, will retry next tick",
			zap.String("person_id", person.id),
			zap.String("level", string(level)),
			zap.Error(err),
		)
	}
}

// readPresence 读取在线状态与最近心跳；最近心跳取两者中较新的时间
func (s *Scheduler) readPresence(ctx context.Context, userID string) (*models.PresenceState, *time.Time, error) {
	rctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	state, err := s.store.GetPresence(rctx, userID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, nil, err
	}

	hb, err := s.store.GetLatestHeartbeat(rctx, userID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, nil, err
	}

	var last *time.Time
	if state != nil && state.LastHeartbeatAt != nil {
		t := *state.LastHeartbeatAt
		last = &t
	}
	if hb != nil && (last == nil || hb.Timestamp.After(*last)) {
		t := hb.Timestamp
		last = &t
	}
	return state, last, nil
}

func (s *Scheduler) savePresence(ctx context.Context, state models.PresenceState) {
	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	if err := s.store.SavePresence(sctx, state); err != nil {
		s.logger.Warn("Failed to save presence state",
			zap.String("user_id", state.UserID),
			zap.Error(err),
		)
	}
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// cronLogger 将 cron 日志转到 zap
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
