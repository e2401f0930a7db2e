package server

import (
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/mohammad-safakhou/medwatch/internal/pipeline"
)

func TestTickKeepsCronSlotWhenRunRejected(t *testing.T) {
	s := &Scheduler{
		Pipeline: stubRunner{err: pipeline.ErrRunInProgress},
		Cron:     "@hourly",
		Logger:   log.New(io.Discard, "", 0),
	}
	s.tick()
	if s.lastRun != nil {
		t.Fatal("a tick rejected by the run lock must not consume the schedule slot")
	}

	s.Pipeline = stubRunner{}
	s.tick()
	if s.lastRun == nil {
		t.Fatal("a completed run must consume the schedule slot")
	}
}

func TestTickFailedRunConsumesSlot(t *testing.T) {
	s := &Scheduler{
		Pipeline: stubRunner{err: errors.New("boom")},
		Cron:     "@hourly",
		Logger:   log.New(io.Discard, "", 0),
	}
	s.tick()
	if s.lastRun == nil {
		t.Fatal("a run that started and failed consumes the schedule slot")
	}
}

func TestIsDueNeverRan(t *testing.T) {
	if !isDue("@daily", nil) {
		t.Fatal("a schedule that never ran is due")
	}
	if !isDue("0 */6 * * *", nil) {
		t.Fatal("a cron schedule that never ran is due")
	}
}

func TestIsDueHourly(t *testing.T) {
	recent := time.Now().Add(-30 * time.Minute)
	if isDue("@hourly", &recent) {
		t.Fatal("ran 30m ago, not due")
	}
	old := time.Now().Add(-2 * time.Hour)
	if !isDue("@hourly", &old) {
		t.Fatal("ran 2h ago, due")
	}
}

func TestIsDueCronExpression(t *testing.T) {
	// every six hours
	old := time.Now().Add(-7 * time.Hour)
	if !isDue("0 */6 * * *", &old) {
		t.Fatal("ran 7h ago against a 6h cron, due")
	}
	recent := time.Now().Add(-time.Minute)
	if isDue("0 */6 * * *", &recent) {
		t.Fatal("ran a minute ago against a 6h cron, not due")
	}
}

func TestIsDueInvalidSpecFallsBackToDaily(t *testing.T) {
	recent := time.Now().Add(-time.Hour)
	if isDue("not a cron", &recent) {
		t.Fatal("invalid spec treats schedule as daily")
	}
	old := time.Now().Add(-25 * time.Hour)
	if !isDue("not a cron", &old) {
		t.Fatal("invalid spec ran 25h ago, due")
	}
}
