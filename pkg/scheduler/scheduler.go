package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/taskmail/pkg/metrics"
)

const (
	DefaultInterval = time.Minute
	dateLayout      = "2006-01-02"
	clockLayout     = "15:04"
)

var ErrInvalidReviewTime = errors.New("invalid review time")

// ReviewScheduler checks the flag file on every tick and fires the trigger at
// most once per local day.
//
// By default a tick fires when the wall clock is at or past reviewTime and
// the review has not run today, so a process that was down at reviewTime
// catches up on its next tick. With exact-minute matching only a tick inside
// the reviewTime minute fires.
type ReviewScheduler struct {
	store       FlagStore
	trigger     Trigger
	log         *zap.SugaredLogger
	interval    time.Duration
	exactMinute bool
	now         func() time.Time

	mu sync.Mutex
}

type Option func(*ReviewScheduler)

func WithInterval(d time.Duration) Option {
	return func(s *ReviewScheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithExactMinute(exact bool) Option {
	return func(s *ReviewScheduler) {
		s.exactMinute = exact
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *ReviewScheduler) {
		if now != nil {
			s.now = now
		}
	}
}

func NewReviewScheduler(store FlagStore, trigger Trigger, log *zap.SugaredLogger, opts ...Option) *ReviewScheduler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &ReviewScheduler{
		store:    store,
		trigger:  trigger,
		log:      log.Named("review-scheduler"),
		interval: DefaultInterval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run ticks until ctx is done.
func (s *ReviewScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.log.Infow("Starting review scheduler", "interval", s.interval.String(), "exactMinute", s.exactMinute)
	s.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Infow("Review scheduler stopping (context done)")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *ReviewScheduler) runOnce(ctx context.Context) {
	if _, err := s.Tick(ctx, s.now()); err != nil {
		s.log.Warnw("Review tick failed", "error", err)
	}
}

// Tick evaluates the flags at now and fires the trigger when due. It reports
// whether the trigger fired. A failed trigger leaves lastRunDate untouched so
// a later tick retries.
func (s *ReviewScheduler) Tick(ctx context.Context, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	flags, err := s.store.Load()
	if err != nil {
		metrics.ReviewTriggers.WithLabelValues("flag_error").Inc()
		return false, err
	}
	if !flags.Enabled {
		s.log.Debugw("Review disabled, skipping tick")
		return false, nil
	}

	at, err := time.Parse(clockLayout, flags.ReviewTime)
	if err != nil {
		metrics.ReviewTriggers.WithLabelValues("invalid_time").Inc()
		return false, fmt.Errorf("%w %q: %v", ErrInvalidReviewTime, flags.ReviewTime, err)
	}

	today := now.Format(dateLayout)
	if flags.LastRunDate == today {
		return false, nil
	}

	due := time.Date(now.Year(), now.Month(), now.Day(), at.Hour(), at.Minute(), 0, 0, now.Location())
	if s.exactMinute {
		if now.Format(clockLayout) != due.Format(clockLayout) {
			return false, nil
		}
	} else if now.Before(due) {
		return false, nil
	}

	s.log.Infow("Firing task review",
		"date", today,
		"reviewTime", flags.ReviewTime,
		"lastRunDate", flags.LastRunDate,
		"late", now.Sub(due).Truncate(time.Second).String())
	if err := s.trigger.Fire(ctx, today); err != nil {
		metrics.ReviewTriggers.WithLabelValues("failure").Inc()
		s.log.Errorw("Task review trigger failed, will retry on next tick", "date", today, "error", err)
		return false, err
	}
	metrics.ReviewTriggers.WithLabelValues("success").Inc()

	flags.LastRunDate = today
	if err := s.store.Save(flags); err != nil {
		s.log.Errorw("Task review fired but last run date could not be saved", "date", today, "error", err)
		return true, err
	}
	return true, nil
}

// FireNow triggers the review for today's date without consulting or
// updating the flags.
func (s *ReviewScheduler) FireNow(ctx context.Context) error {
	today := s.now().Format(dateLayout)
	s.log.Infow("Firing task review on demand", "date", today)
	if err := s.trigger.Fire(ctx, today); err != nil {
		metrics.ReviewTriggers.WithLabelValues("failure").Inc()
		return err
	}
	metrics.ReviewTriggers.WithLabelValues("manual").Inc()
	return nil
}
