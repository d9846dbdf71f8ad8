package scheduler

import (
	"context"
	"fmt"
	"time"

	"booner/internal/logger"
)

var log = logger.For("scheduler")

// IntervalScheduler runs a task every Interval until its context ends. With
// Align set, runs land on wall-clock multiples of Interval plus Offset.
// A run that overruns the interval delays the next one; runs never overlap.
type IntervalScheduler struct {
	Name           string
	Interval       time.Duration
	Offset         time.Duration
	Align          bool
	RunImmediately bool

	nowFn func() time.Time
}

func NewIntervalScheduler(name string, interval time.Duration) *IntervalScheduler {
	return &IntervalScheduler{
		Name:           name,
		Interval:       interval,
		RunImmediately: true,
		nowFn:          time.Now,
	}
}

func (s *IntervalScheduler) Run(ctx context.Context, task func(ctx context.Context)) error {
	if s == nil || task == nil {
		return fmt.Errorf("scheduler: nil task")
	}
	if s.Interval <= 0 {
		return fmt.Errorf("scheduler %s: invalid interval=%s", s.Name, s.Interval)
	}
	if s.Offset < 0 {
		log.Warnf("%s: negative offset=%s, clamp to 0", s.Name, s.Offset)
		s.Offset = 0
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}
	log.Infof("%s: started interval=%s align=%v run_immediately=%v", s.Name, s.Interval, s.Align, s.RunImmediately)

	if s.RunImmediately {
		task(ctx)
	}
	for {
		wait := s.Interval
		if s.Align {
			_, wait = s.nextTimes(s.nowFn())
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Infof("%s: ctx done, exit", s.Name)
			return nil
		case <-timer.C:
		}
		task(ctx)
	}
}

func (s *IntervalScheduler) nextTimes(now time.Time) (wakeAt time.Time, wait time.Duration) {
	now = now.UTC()
	wakeAt = now.Truncate(s.Interval).Add(s.Offset)
	if !wakeAt.After(now) {
		wakeAt = wakeAt.Add(s.Interval)
	}
	return wakeAt, wakeAt.Sub(now)
}
