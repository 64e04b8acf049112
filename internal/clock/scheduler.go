package clock

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler runs periodic jobs against live wall-clock time using
// robfig/cron, the same scheduling library
// r3e-network-service_layer uses for its background jobs. Backtests
// don't use Scheduler at all — they drive periodic behavior directly
// off TestClock.AdvanceTo, matching the teacher's own preference for a
// simple ticker loop (internal/market/scanner.go) over a cron
// expression when a fixed interval is all that's needed. In live mode
// Scheduler accepts both calendar-aware cron specs (e.g. "every
// weekday at market open", spec §5) and fixed "@every" intervals; the
// kernel uses the latter for its periodic reconciliation pass.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// NewScheduler builds a Scheduler. Job panics are recovered and logged
// rather than crashing the process, matching the teacher's posture of
// never letting a single component's failure take down the whole
// engine (internal/engine/engine.go wraps every goroutine so one feed
// dying doesn't kill the others).
func NewScheduler(logger *slog.Logger) *Scheduler {
	recoverer := cron.Recover(cron.PrintfLogger(slogCronLogger{logger}))
	c := cron.New(cron.WithChain(recoverer))
	return &Scheduler{cron: c, logger: logger}
}

// AddJob schedules fn to run on the given cron spec, returning the
// entry id so callers can Remove it later.
func (s *Scheduler) AddJob(spec string, fn func()) (cron.EntryID, error) {
	return s.cron.AddFunc(spec, fn)
}

// Remove cancels a previously scheduled job.
func (s *Scheduler) Remove(id cron.EntryID) {
	s.cron.Remove(id)
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler, waiting for any running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

type slogCronLogger struct {
	logger *slog.Logger
}

func (l slogCronLogger) Printf(format string, args ...interface{}) {
	l.logger.Warn("scheduler job recovered from panic", "detail", fmt.Sprintf(format, args...))
}
