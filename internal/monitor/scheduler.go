// Package monitor runs per-account polling sessions that look for newly
// delivered verification codes.
package monitor

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/HerbHall/mailpulse/internal/event"
	"github.com/HerbHall/mailpulse/internal/gateway"
	"github.com/HerbHall/mailpulse/pkg/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrConfiguration is returned by Start for invalid input.
	ErrConfiguration = errors.New("invalid monitor configuration")
	// ErrClosed is returned by Start after Shutdown.
	ErrClosed = errors.New("scheduler is shut down")
)

// Status is a point-in-time view of the scheduler.
type Status struct {
	Sessions     []models.MonitorSession `json:"sessions"`
	QueueLength  int                     `json:"queue_length"`
	ActiveChecks int                     `json:"active_checks"`
}

// session is the scheduler-owned state behind a MonitorSession. At most one
// of timer, queued and running is set at any time.
type session struct {
	models.MonitorSession
	timer      *time.Timer
	queued     *job
	running    *job
	failStreak int
	seen       map[string]struct{}
}

// Scheduler owns every monitor session. A single mutex guards sessions,
// the job queue and the rate limiter; checks and event publication run
// outside it.
type Scheduler struct {
	mu       sync.Mutex
	cfg      MonitorConfig
	checker  Checker
	bus      event.Publisher
	sessions map[string]*session
	queue    jobQueue
	seq      uint64
	active   int
	limiter  *RateLimiter
	closed   bool
	now      func() time.Time
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler. bus may be nil when nobody listens.
func NewScheduler(cfg MonitorConfig, checker Checker, bus event.Publisher, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:      cfg,
		checker:  checker,
		bus:      bus,
		sessions: make(map[string]*session),
		limiter:  NewRateLimiter(cfg.RateWindow, cfg.RateMax),
		now:      time.Now,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Run starts the periodic sweep. It returns immediately; Shutdown stops it.
func (s *Scheduler) Run(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}

// Shutdown stops every session, cancels in-flight checks and waits for
// them and the sweep loop to return.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	s.closed = true
	var events []event.Event
	for _, sess := range s.sessions {
		events = append(events, s.stopLocked(sess, models.StopReasonShutdown))
	}
	s.mu.Unlock()

	s.publish(events)
	s.cancel()
	s.wg.Wait()
}

// Start begins monitoring accountID, replacing any existing session for
// it. Zero CheckInterval, Duration and MaxRetries take their defaults;
// negative values are rejected. The first check runs after CheckInterval.
func (s *Scheduler) Start(accountID string, settings models.SessionSettings) (models.MonitorSession, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return models.MonitorSession{}, fmt.Errorf("%w: account id is required", ErrConfiguration)
	}
	settings, err := normalizeSettings(settings)
	if err != nil {
		return models.MonitorSession{}, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return models.MonitorSession{}, ErrClosed
	}

	var events []event.Event
	if old, ok := s.sessions[accountID]; ok {
		events = append(events, s.stopLocked(old, models.StopReasonReplaced))
	}

	now := s.now()
	sess := &session{
		MonitorSession: models.MonitorSession{
			ID:        uuid.New().String(),
			AccountID: accountID,
			Settings:  settings,
			Status:    models.SessionActive,
			StartedAt: now,
		},
		seen: make(map[string]struct{}),
	}
	s.sessions[accountID] = sess
	s.scheduleLocked(sess, settings.CheckInterval)
	sessionsActive.Set(float64(len(s.sessions)))

	snap := sess.MonitorSession
	events = append(events, event.Event{
		Type:      event.TypeSessionStarted,
		AccountID: accountID,
		SessionID: sess.ID,
		Timestamp: now,
		Payload:   SessionStartedPayload{Settings: settings, StartedAt: now},
	})
	launch := s.drainLocked()
	s.mu.Unlock()

	s.logger.Info("monitor session started",
		zap.String("account_id", accountID),
		zap.String("session_id", snap.ID),
		zap.Duration("check_interval", settings.CheckInterval),
		zap.Duration("duration", settings.Duration),
	)
	s.publish(events)
	s.launch(launch)
	return snap, nil
}

// Stop ends the account's session. It reports whether a session existed;
// stopping an unknown account is a no-op.
func (s *Scheduler) Stop(accountID, reason string) bool {
	if reason == "" {
		reason = models.StopReasonManual
	}
	s.mu.Lock()
	sess, ok := s.sessions[accountID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	ev := s.stopLocked(sess, reason)
	launch := s.drainLocked()
	s.mu.Unlock()

	s.publish([]event.Event{ev})
	s.launch(launch)
	return true
}

// Status returns a snapshot of all sessions ordered by account.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions := make([]models.MonitorSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess.MonitorSession)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].AccountID < sessions[j].AccountID
	})
	return Status{
		Sessions:     sessions,
		QueueLength:  s.queue.Len(),
		ActiveChecks: s.active,
	}
}

// Session returns a snapshot of the account's active session.
func (s *Scheduler) Session(accountID string) (models.MonitorSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[accountID]
	if !ok {
		return models.MonitorSession{}, false
	}
	return sess.MonitorSession, true
}

// Sweep force-stops sessions older than the absolute timeout and purges
// stale rate limiter windows. Run calls it periodically.
func (s *Scheduler) Sweep() {
	s.mu.Lock()
	now := s.now()
	var events []event.Event
	for _, sess := range s.sessions {
		if now.Sub(sess.StartedAt) >= s.cfg.AbsoluteTimeout {
			events = append(events, s.stopLocked(sess, models.StopReasonTimeout))
		}
	}
	purged := s.limiter.Purge(now)
	launch := s.drainLocked()
	s.mu.Unlock()

	if len(events) > 0 || purged > 0 {
		s.logger.Debug("sweep complete",
			zap.Int("timed_out", len(events)),
			zap.Int("limiter_purged", purged),
		)
	}
	s.publish(events)
	s.launch(launch)
}

// wake runs one scheduling cycle for a session whose timer fired.
func (s *Scheduler) wake(accountID, sessionID string) {
	s.mu.Lock()
	sess, ok := s.sessions[accountID]
	if !ok || sess.ID != sessionID {
		s.mu.Unlock()
		return
	}
	sess.timer = nil

	now := s.now()
	var events []event.Event
	st := sess.Settings
	switch {
	case now.Sub(sess.StartedAt) >= st.Duration:
		events = append(events, s.stopLocked(sess, models.StopReasonDuration))
	case st.AutoStopOnNewCode && !sess.LastCodeAt.IsZero() && now.Sub(sess.LastCodeAt) >= s.cfg.CodeGrace:
		events = append(events, s.stopLocked(sess, models.StopReasonCodeDelivered))
	case !s.limiter.Allow(accountID, now):
		s.logger.Debug("check rate limited",
			zap.String("account_id", accountID),
			zap.Int("window_count", s.limiter.Count(accountID)),
		)
		s.scheduleLocked(sess, st.CheckInterval)
	default:
		s.seq++
		j := &job{
			accountID: accountID,
			sessionID: sess.ID,
			priority:  st.Priority,
			seq:       s.seq,
			since:     sess.StartedAt.Add(-s.cfg.CodeLookback),
		}
		heap.Push(&s.queue, j)
		sess.queued = j
		queueLength.Set(float64(s.queue.Len()))
	}
	launch := s.drainLocked()
	s.mu.Unlock()

	s.publish(events)
	s.launch(launch)
}

// drainLocked moves queued jobs into running slots while capacity allows
// and returns the jobs the caller must launch after unlocking.
func (s *Scheduler) drainLocked() []*job {
	var out []*job
	for s.active < s.cfg.MaxConcurrentChecks && s.queue.Len() > 0 && !s.closed {
		j := heap.Pop(&s.queue).(*job)
		sess, ok := s.sessions[j.accountID]
		if !ok || sess.ID != j.sessionID {
			continue
		}
		j.ctx, j.cancel = context.WithCancel(s.ctx)
		sess.queued = nil
		sess.running = j
		s.active++
		s.wg.Add(1)
		out = append(out, j)
	}
	queueLength.Set(float64(s.queue.Len()))
	return out
}

func (s *Scheduler) launch(jobs []*job) {
	for _, j := range jobs {
		go s.runCheck(j)
	}
}

// runCheck executes one check and applies its outcome.
func (s *Scheduler) runCheck(j *job) {
	defer s.wg.Done()
	defer j.cancel()

	cands, err := s.safeCheck(j)
	s.finish(j, cands, err)
}

// safeCheck isolates checker panics so one account cannot take down the
// process. A panic counts as a failed check.
func (s *Scheduler) safeCheck(j *job) (cands []models.CodeCandidate, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("check panicked",
				zap.String("account_id", j.accountID),
				zap.String("session_id", j.sessionID),
				zap.Any("panic", r),
			)
			err = fmt.Errorf("%w: check panicked: %v", gateway.ErrUnavailable, r)
		}
	}()
	return s.checker.Check(j.ctx, j.accountID, j.since)
}

func (s *Scheduler) finish(j *job, cands []models.CodeCandidate, err error) {
	s.mu.Lock()
	s.active--
	sess, ok := s.sessions[j.accountID]
	if !ok || sess.ID != j.sessionID || sess.running != j {
		// Stopped or replaced while in flight.
		launch := s.drainLocked()
		s.mu.Unlock()
		s.launch(launch)
		return
	}
	sess.running = nil

	now := s.now()
	sess.Counters.TotalChecks++
	sess.LastCheckAt = now
	var events []event.Event

	if err == nil {
		checksTotal.WithLabelValues("success").Inc()
		sess.Counters.SuccessfulChecks++
		sess.failStreak = 0

		newCodes := 0
		for _, c := range cands {
			key := c.Code + "|" + c.MessageID
			if _, dup := sess.seen[key]; dup {
				continue
			}
			sess.seen[key] = struct{}{}
			newCodes++
			sess.Counters.CodesFound++
			sess.LastCodeAt = now
			codesFound.Inc()
			events = append(events, event.Event{
				Type:      event.TypeCodeFound,
				AccountID: sess.AccountID,
				SessionID: sess.ID,
				Timestamp: now,
				Payload:   CodeFoundPayload{Candidate: c},
			})
		}
		events = append(events, event.Event{
			Type:      event.TypeMetricsUpdated,
			AccountID: sess.AccountID,
			SessionID: sess.ID,
			Timestamp: now,
			Payload: MetricsPayload{
				Counters:     sess.Counters,
				NewCodes:     newCodes,
				QueueLength:  s.queue.Len(),
				ActiveChecks: s.active,
			},
		})
		s.scheduleLocked(sess, sess.Settings.CheckInterval)
	} else {
		checksTotal.WithLabelValues("failure").Inc()
		sess.Counters.FailedChecks++
		sess.failStreak++

		retryAfter, _ := gateway.RetryAfter(err)
		events = append(events, event.Event{
			Type:      event.TypeCheckError,
			AccountID: sess.AccountID,
			SessionID: sess.ID,
			Timestamp: now,
			Payload: CheckErrorPayload{
				Error:        err.Error(),
				Retryable:    gateway.Retryable(err),
				RetryAfter:   retryAfter,
				FailedChecks: sess.Counters.FailedChecks,
			},
		})
		s.logger.Warn("check failed",
			zap.String("account_id", sess.AccountID),
			zap.String("session_id", sess.ID),
			zap.Int("failed_checks", sess.Counters.FailedChecks),
			zap.Error(err),
		)

		switch {
		case errors.Is(err, gateway.ErrAuth):
			events = append(events, s.stopLocked(sess, models.StopReasonReauth))
		case sess.Counters.FailedChecks >= sess.Settings.MaxRetries:
			events = append(events, s.stopLocked(sess, models.StopReasonFailures))
		default:
			s.scheduleLocked(sess, s.retryDelay(sess, err))
		}
	}

	launch := s.drainLocked()
	s.mu.Unlock()

	s.publish(events)
	s.launch(launch)
}

// retryDelay picks the wait before the next attempt after a failure.
func (s *Scheduler) retryDelay(sess *session, err error) time.Duration {
	d := sess.Settings.CheckInterval
	if s.cfg.RetryPolicy == RetryExponential && sess.failStreak > 1 {
		for i := 1; i < sess.failStreak && d < s.cfg.MaxBackoff; i++ {
			d *= 2
		}
		d = min(d, s.cfg.MaxBackoff)
	}
	if ra, ok := gateway.RetryAfter(err); ok && ra > d {
		d = ra
	}
	return d
}

// scheduleLocked arms the session's wake-up timer. The delay is capped at
// the time left in the session so the duration stop is not overshot.
func (s *Scheduler) scheduleLocked(sess *session, d time.Duration) {
	if left := sess.StartedAt.Add(sess.Settings.Duration).Sub(s.now()); left < d {
		d = max(left, 0)
	}
	accountID, sessionID := sess.AccountID, sess.ID
	sess.timer = time.AfterFunc(d, func() { s.wake(accountID, sessionID) })
}

// stopLocked removes a session and returns its session-stopped event.
func (s *Scheduler) stopLocked(sess *session, reason string) event.Event {
	if sess.timer != nil {
		sess.timer.Stop()
		sess.timer = nil
	}
	if sess.queued != nil {
		if sess.queued.index >= 0 {
			heap.Remove(&s.queue, sess.queued.index)
		}
		sess.queued = nil
		queueLength.Set(float64(s.queue.Len()))
	}
	// An in-flight check runs to completion and holds its slot until finish;
	// its result is dropped because the session is gone by then.
	sess.running = nil

	now := s.now()
	sess.Status = models.SessionStopped
	sess.StoppedAt = now
	sess.StopReason = reason
	delete(s.sessions, sess.AccountID)
	sessionsActive.Set(float64(len(s.sessions)))
	sessionsStopped.WithLabelValues(reason).Inc()

	s.logger.Info("monitor session stopped",
		zap.String("account_id", sess.AccountID),
		zap.String("session_id", sess.ID),
		zap.String("reason", reason),
		zap.Int("total_checks", sess.Counters.TotalChecks),
		zap.Int("codes_found", sess.Counters.CodesFound),
	)

	return event.Event{
		Type:      event.TypeSessionStopped,
		AccountID: sess.AccountID,
		SessionID: sess.ID,
		Timestamp: now,
		Payload: SessionStoppedPayload{
			Reason:   reason,
			Counters: sess.Counters,
			Elapsed:  now.Sub(sess.StartedAt),
		},
	}
}

func (s *Scheduler) publish(events []event.Event) {
	if s.bus == nil {
		return
	}
	for _, e := range events {
		s.bus.Publish(s.ctx, e)
	}
}

func normalizeSettings(st models.SessionSettings) (models.SessionSettings, error) {
	if st.CheckInterval < 0 || st.Duration < 0 || st.MaxRetries < 0 || st.Priority < 0 {
		return st, fmt.Errorf("%w: settings must not be negative", ErrConfiguration)
	}
	def := models.DefaultSessionSettings()
	if st.CheckInterval == 0 {
		st.CheckInterval = def.CheckInterval
	}
	if st.Duration == 0 {
		st.Duration = def.Duration
	}
	if st.MaxRetries == 0 {
		st.MaxRetries = def.MaxRetries
	}
	return st, nil
}
