package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"controlled-docs/edms-backend/internal/config"
)

// Job names.
const (
	JobEffective      = "effective-activation"
	JobObsolescence   = "obsolescence-activation"
	JobPeriodicReview = "periodic-review-trigger"
	JobOverdue        = "overdue-monitor"
)

// jobTimeout bounds one automation pass.
const jobTimeout = 30 * time.Minute

// Manager runs the automation jobs on their cron specs.
type Manager struct {
	cron    *cron.Cron
	jobs    map[string]cron.EntryID
	runner  *Runner
	logger  *zap.Logger
	mu      sync.RWMutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewManager registers every job of cfg. Passes of the same job never
// overlap: a tick that fires while the previous pass is still running is
// skipped.
func NewManager(runner *Runner, cfg config.SchedulerConfig, logger *zap.Logger) (*Manager, error) {
	logger = logger.Named("scheduler")
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid scheduler timezone %q: %w", cfg.Timezone, err)
	}
	cl := cronLogger{logger.Sugar()}
	m := &Manager{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		jobs:   make(map[string]cron.EntryID),
		runner: runner,
		logger: logger,
	}

	specs := []struct {
		name string
		spec string
		run  func(context.Context) (Report, error)
	}{
		{JobEffective, cfg.EffectiveSpec, runner.ActivateEffective},
		{JobObsolescence, cfg.ObsolescenceSpec, runner.ActivateObsolescence},
		{JobPeriodicReview, cfg.PeriodicReviewSpec, runner.TriggerPeriodicReviews},
		{JobOverdue, cfg.OverdueSpec, runner.NotifyOverdue},
	}
	for _, s := range specs {
		if s.spec == "" {
			logger.Info("Job disabled", zap.String("job", s.name))
			continue
		}
		if err := m.addJob(s.name, s.spec, s.run); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Manager) addJob(name, spec string, run func(context.Context) (Report, error)) error {
	if err := ValidateCronExpression(spec); err != nil {
		return fmt.Errorf("invalid cron spec for %s: %w", name, err)
	}
	entryID, err := m.cron.AddFunc(spec, func() {
		m.mu.RLock()
		base := m.ctx
		m.mu.RUnlock()
		if base == nil {
			return
		}
		ctx, cancel := context.WithTimeout(base, jobTimeout)
		defer cancel()
		m.execute(ctx, name, run)
	})
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}
	m.jobs[name] = entryID

	m.logger.Info("Added job",
		zap.String("job", name),
		zap.String("cron", spec))
	return nil
}

func (m *Manager) execute(ctx context.Context, name string, run func(context.Context) (Report, error)) {
	started := time.Now()
	report, err := run(ctx)
	if err != nil {
		m.logger.Error("Job failed",
			zap.String("job", name),
			zap.Error(err))
		return
	}
	level := m.logger.Info
	if report.Failed > 0 {
		level = m.logger.Warn
	}
	level("Job completed",
		zap.String("job", name),
		zap.Int("scanned", report.Scanned),
		zap.Int("applied", report.Applied),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", time.Since(started)))
}

// Start starts the cron loop. The manager stops when ctx is done or Stop is
// called.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	m.running = true
	m.ctx, m.cancel = context.WithCancel(ctx)
	done := m.ctx.Done()
	m.mu.Unlock()

	m.logger.Info("Starting scheduler", zap.Int("jobs", len(m.jobs)))
	m.cron.Start()

	go func() {
		<-done
		m.Stop()
	}()
	return nil
}

// Stop waits for running passes to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.ctx, m.cancel = nil, nil
	m.mu.Unlock()

	m.logger.Info("Stopping scheduler")
	done := m.cron.Stop()
	<-done.Done()
	cancel()
}

// RunNow executes one job immediately, outside its schedule.
func (m *Manager) RunNow(ctx context.Context, name string) (Report, error) {
	switch name {
	case JobEffective:
		return m.runner.ActivateEffective(ctx)
	case JobObsolescence:
		return m.runner.ActivateObsolescence(ctx)
	case JobPeriodicReview:
		return m.runner.TriggerPeriodicReviews(ctx)
	case JobOverdue:
		return m.runner.NotifyOverdue(ctx)
	}
	return Report{}, fmt.Errorf("unknown job %q", name)
}

// ActiveJobs returns the number of registered jobs.
func (m *Manager) ActiveJobs() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.jobs)
}

// JobStatus reports the next and previous run of a job.
func (m *Manager) JobStatus(name string) (*JobStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entryID, ok := m.jobs[name]
	if !ok {
		return nil, fmt.Errorf("job %q not found", name)
	}
	entry := m.cron.Entry(entryID)
	return &JobStatus{
		Job:     name,
		NextRun: entry.Next,
		PrevRun: entry.Prev,
	}, nil
}

// JobStatus represents the status of a scheduled job
type JobStatus struct {
	Job     string    `json:"job"`
	NextRun time.Time `json:"next_run"`
	PrevRun time.Time `json:"prev_run"`
}

// ValidateCronExpression accepts the standard five-field format.
func ValidateCronExpression(expr string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	_, err := parser.Parse(expr)
	return err
}

// cronLogger routes cron's own messages to zap.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
