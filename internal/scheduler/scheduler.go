package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/Dan9191/telehealth-credits/internal/credits"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Sweeper runs the allocation sweep.
type Sweeper interface {
	AllocateAll(ctx context.Context) (credits.SweepSummary, error)
}

// Scheduler grants due allocations on a cron schedule.
type Scheduler struct {
	cron    *cron.Cron
	sweeper Sweeper
	log     *logrus.Logger
	timeout time.Duration
}

// New registers the sweep under spec. Overlapping runs are skipped.
func New(spec string, loc *time.Location, sweeper Sweeper, log *logrus.Logger) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	s := &Scheduler{sweeper: sweeper, log: log, timeout: 10 * time.Minute}
	logger := cronLogger{log}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := s.cron.AddFunc(spec, s.Run); err != nil {
		return nil, fmt.Errorf("invalid allocation schedule %q: %w", spec, err)
	}
	return s, nil
}

// Run performs one sweep.
func (s *Scheduler) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	summary, err := s.sweeper.AllocateAll(ctx)
	if err != nil {
		s.log.WithError(err).Error("Allocation sweep failed")
		return
	}
	if summary.Failed > 0 {
		s.log.WithField("failed", summary.Failed).Warn("Allocation sweep finished with failures")
	}
}

// Start begins running the schedule in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("Allocation scheduler started")
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("Allocation sweep still running at shutdown")
	}
}

// cronLogger sends cron's own messages through logrus. Routine scheduling
// chatter goes to debug.
type cronLogger struct {
	log *logrus.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(cronFields(keysAndValues)).Debug("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithFields(cronFields(keysAndValues)).WithError(err).Error("cron: " + msg)
}

func cronFields(keysAndValues []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
