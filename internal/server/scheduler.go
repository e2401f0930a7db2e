package server

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/mohammad-safakhou/medwatch/internal/index"
	"github.com/mohammad-safakhou/medwatch/internal/pipeline"
)

// Scheduler fires ingestion runs on a fixed interval, or on a cron
// expression when one is configured. Overlapping triggers are skipped, not
// queued.
type Scheduler struct {
	Pipeline Runner
	Index    *index.Index
	Interval time.Duration
	Cron     string
	Stop     chan struct{}
	Ctx      context.Context // cancels in-flight runs on shutdown
	Logger   *log.Logger

	lastRun *time.Time
}

func (s *Scheduler) Start() {
	every := s.Interval
	if s.Cron != "" {
		// cron precision is a minute, so poll at that cadence
		every = time.Minute
	}
	if every <= 0 {
		every = 6 * time.Hour
	}
	ticker := time.NewTicker(every)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) tick() {
	if s.Cron != "" && !isDue(s.Cron, s.lastRun) {
		return
	}

	ctx := s.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	started := time.Now()
	snap, err := s.Pipeline.Run(ctx)
	if err != nil {
		if errors.Is(err, pipeline.ErrRunInProgress) {
			// the cron slot stays open so the next poll retries
			s.Logger.Printf("skipping scheduled run: previous run still in progress")
			return
		}
		s.lastRun = &started
		s.Logger.Printf("scheduled run failed: %v", err)
		return
	}
	s.lastRun = &started
	if s.Index != nil {
		if err := s.Index.Rebuild(snap); err != nil {
			s.Logger.Printf("index rebuild: %v", err)
		}
	}
}

// isDue determines whether a run with cronSpec should fire now given the
// last run time. Supports "@daily", "@hourly" and 5-field cron expressions;
// an invalid expression falls back to @daily.
func isDue(cronSpec string, last *time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "@daily":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			if last == nil {
				return true
			}
			return now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			return true
		}
		next := expr.Next(*last)
		return !next.After(now)
	}
}
